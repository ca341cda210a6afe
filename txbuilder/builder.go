package txbuilder

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"

	"github.com/golemfactory/evmpay/model"
)

// Recipient is one (address, amount) pair going into a multi-destination
// call.
type Recipient struct {
	Address common.Address
	Amount  *big.Int
}

func newTx(chain int64, method model.Method, from, to common.Address, value *big.Int, data []byte) *model.Transaction {
	v := "0"
	if value != nil {
		v = value.String()
	}
	return &model.Transaction{
		Chain:       chain,
		Method:      method,
		From:        from,
		To:          to,
		Value:       v,
		Data:        data,
		CreatedDate: time.Now(),
		Processing:  1,
		ChainStatus: model.ChainStatusUnknown,
	}
}

// BuildNativeTransfer builds the "transfer" method: a plain value
// transfer with empty call-data (spec §4.D).
func BuildNativeTransfer(chain int64, from, to common.Address, amount *big.Int) *model.Transaction {
	return newTx(chain, model.MethodTransfer, from, to, amount, nil)
}

// BuildERC20Transfer builds ERC20.transfer(to, amount) on token.
func BuildERC20Transfer(chain int64, from, token, to common.Address, amount *big.Int) (*model.Transaction, error) {
	erc20, _, _, _ := abis()
	data, err := erc20.Pack("transfer", to, amount)
	if err != nil {
		return nil, errors.Wrap(err, "txbuilder: pack ERC20.transfer")
	}
	return newTx(chain, model.MethodERC20Transfer, from, token, nil, data), nil
}

// BuildERC20Approve builds ERC20.approve(spender, MAX_UINT256) on token,
// per spec §4.F (the allowance manager always requests the maximum, the
// confirm_date gate is the real truth predicate — spec §9 open question).
func BuildERC20Approve(chain int64, from, token, spender common.Address, amount *big.Int) (*model.Transaction, error) {
	erc20, _, _, _ := abis()
	data, err := erc20.Pack("approve", spender, amount)
	if err != nil {
		return nil, errors.Wrap(err, "txbuilder: pack ERC20.approve")
	}
	return newTx(chain, model.MethodERC20Approve, from, token, nil, data), nil
}

// PackRecipients bit-packs (address, amount) pairs into bytes32 words:
// the top 160 bits hold the recipient address, the low 96 bits hold the
// amount (sufficient for any ERC-20 transfer that fits 2^96 base units,
// which covers every token this driver targets). PackRecipients and
// UnpackRecipients are the round-trip pair spec §8 tests.
func PackRecipients(recipients []Recipient) ([][32]byte, error) {
	out := make([][32]byte, len(recipients))
	max96 := new(big.Int).Lsh(big.NewInt(1), 96)
	for i, r := range recipients {
		if r.Amount.Cmp(max96) >= 0 {
			return nil, errors.Errorf("txbuilder: amount %s does not fit packed encoding", r.Amount)
		}
		var word [32]byte
		copy(word[0:20], r.Address.Bytes())
		amt := r.Amount.Bytes()
		copy(word[32-len(amt):], amt)
		out[i] = word
	}
	return out, nil
}

func UnpackRecipients(packed [][32]byte) []Recipient {
	out := make([]Recipient, len(packed))
	for i, word := range packed {
		var addr common.Address
		copy(addr[:], word[0:20])
		amt := new(big.Int).SetBytes(word[20:32])
		out[i] = Recipient{Address: addr, Amount: amt}
	}
	return out
}

// BuildMultiTransfer builds one of the four MULTI.golemTransfer* methods
// (spec §4.D): direct vs indirect chooses whether the contract pulls
// funds via allowance (direct) or the sender pushes first (indirect);
// packed chooses the bit-packed bytes32[] encoding.
func BuildMultiTransfer(chain int64, from, multiContract, token common.Address, recipients []Recipient, direct, packed bool) (*model.Transaction, error) {
	_, multi, _, _ := abis()

	var method model.Method
	var data []byte
	var err error

	switch {
	case direct && !packed:
		method = model.MethodMultiGolemTransferDirect
		data, err = multi.Pack("golemTransferDirect", token, addressesOf(recipients), amountsOf(recipients))
	case !direct && !packed:
		method = model.MethodMultiGolemTransferIndirect
		data, err = multi.Pack("golemTransferIndirect", token, addressesOf(recipients), amountsOf(recipients))
	case direct && packed:
		method = model.MethodMultiGolemTransferDirectPacked
		var words [][32]byte
		words, err = PackRecipients(recipients)
		if err == nil {
			data, err = multi.Pack("golemTransferDirectPacked", token, words)
		}
	default: // indirect && packed
		method = model.MethodMultiGolemTransferIndirectPacked
		var words [][32]byte
		words, err = PackRecipients(recipients)
		if err == nil {
			data, err = multi.Pack("golemTransferIndirectPacked", token, words)
		}
	}
	if err != nil {
		return nil, errors.Wrap(err, "txbuilder: pack multi-transfer")
	}
	return newTx(chain, method, from, multiContract, nil, data), nil
}

func addressesOf(rs []Recipient) []common.Address {
	out := make([]common.Address, len(rs))
	for i, r := range rs {
		out[i] = r.Address
	}
	return out
}

func amountsOf(rs []Recipient) []*big.Int {
	out := make([]*big.Int, len(rs))
	for i, r := range rs {
		out[i] = r.Amount
	}
	return out
}

// BuildFaucetCreate builds the test-net mint method.
func BuildFaucetCreate(chain int64, from, faucetContract, token common.Address, amount *big.Int) (*model.Transaction, error) {
	_, _, _, faucet := abis()
	data, err := faucet.Pack("create", token, amount)
	if err != nil {
		return nil, errors.Wrap(err, "txbuilder: pack FAUCET.create")
	}
	return newTx(chain, model.MethodFaucetCreate, from, faucetContract, nil, data), nil
}
