// Package txbuilder turns a transfer (or batch of transfers) into an
// unsigned model.Transaction, per the closed method table of spec §4.D.
// These are pure functions: given arguments, produce a record; no network
// or database access.
package txbuilder

import (
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// contractABIs are built once, lazily, and reused for the process
// lifetime — the "process-wide read-only singleton" pattern spec §9
// recommends for ABI contract templates over pervasive dependency
// injection.
var (
	abiOnce    sync.Once
	erc20ABI   abi.ABI
	multiABI   abi.ABI
	lockABI    abi.ABI
	faucetABI  abi.ABI
)

const erc20ABIJSON = `[
{"name":"transfer","type":"function","inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
{"name":"approve","type":"function","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
{"name":"allowance","type":"function","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}],"stateMutability":"view"},
{"name":"balanceOf","type":"function","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}],"stateMutability":"view"}
]`

// golemTransferDirect/Indirect take unpacked (address[], uint256[]) pairs;
// the Packed variants take a single bytes32[] with recipient and amount
// bit-packed, matching the gas-optimised multi-transfer contract used by
// the original driver (spec §4.D).
const multiABIJSON = `[
{"name":"golemTransferDirect","type":"function","inputs":[{"name":"token","type":"address"},{"name":"recipients","type":"address[]"},{"name":"amounts","type":"uint256[]"}]},
{"name":"golemTransferIndirect","type":"function","inputs":[{"name":"token","type":"address"},{"name":"recipients","type":"address[]"},{"name":"amounts","type":"uint256[]"}]},
{"name":"golemTransferDirectPacked","type":"function","inputs":[{"name":"token","type":"address"},{"name":"packed","type":"bytes32[]"}]},
{"name":"golemTransferIndirectPacked","type":"function","inputs":[{"name":"token","type":"address"},{"name":"packed","type":"bytes32[]"}]}
]`

const lockABIJSON = `[
{"name":"deposit","type":"function","inputs":[{"name":"token","type":"address"},{"name":"amount","type":"uint256"},{"name":"spender","type":"address"},{"name":"validTo","type":"uint256"}]},
{"name":"withdraw","type":"function","inputs":[{"name":"depositId","type":"uint256"},{"name":"amount","type":"uint256"}]},
{"name":"withdrawAll","type":"function","inputs":[{"name":"depositId","type":"uint256"}]},
{"name":"createDeposit","type":"function","inputs":[{"name":"token","type":"address"},{"name":"amount","type":"uint256"},{"name":"spender","type":"address"},{"name":"validTo","type":"uint256"}]},
{"name":"closeDeposit","type":"function","inputs":[{"name":"depositId","type":"uint256"}]},
{"name":"terminateDeposit","type":"function","inputs":[{"name":"depositId","type":"uint256"}]},
{"name":"payoutSingle","type":"function","inputs":[{"name":"depositId","type":"uint256"},{"name":"recipient","type":"address"},{"name":"amount","type":"uint256"}]},
{"name":"payoutSingleInternal","type":"function","inputs":[{"name":"depositId","type":"uint256"},{"name":"recipient","type":"address"},{"name":"amount","type":"uint256"}]},
{"name":"payoutMultipleInternal","type":"function","inputs":[{"name":"depositId","type":"uint256"},{"name":"recipients","type":"address[]"},{"name":"amounts","type":"uint256[]"}]},
{"name":"freeAllocation","type":"function","inputs":[{"name":"allocationId","type":"uint256"}]},
{"name":"makeAllocation","type":"function","inputs":[{"name":"depositId","type":"uint256"},{"name":"spender","type":"address"},{"name":"amount","type":"uint256"},{"name":"validTo","type":"uint256"}]}
]`

const faucetABIJSON = `[
{"name":"create","type":"function","inputs":[{"name":"token","type":"address"},{"name":"amount","type":"uint256"}]}
]`

func abis() (erc20, multi, lock, faucet abi.ABI) {
	abiOnce.Do(func() {
		erc20ABI = mustParseABI(erc20ABIJSON)
		multiABI = mustParseABI(multiABIJSON)
		lockABI = mustParseABI(lockABIJSON)
		faucetABI = mustParseABI(faucetABIJSON)
	})
	return erc20ABI, multiABI, lockABI, faucetABI
}

func mustParseABI(j string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(j))
	if err != nil {
		panic("txbuilder: invalid embedded ABI: " + err.Error())
	}
	return parsed
}
