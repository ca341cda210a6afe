package txbuilder

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

// MaxUint256 is the amount the allowance manager requests on every
// ERC20.approve call (spec §4.F, §4.D).
var MaxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// PackERC20Allowance builds the call-data for the read-only
// allowance(owner, spender) selector, used by the allowance manager to
// check the on-chain value before deciding whether an approve tx is
// needed (spec §4.F).
func PackERC20Allowance(owner, spender common.Address) ([]byte, error) {
	erc20, _, _, _ := abis()
	data, err := erc20.Pack("allowance", owner, spender)
	return data, errors.Wrap(err, "txbuilder: pack ERC20.allowance")
}

// UnpackERC20Allowance decodes the result of an eth_call against
// allowance(owner, spender).
func UnpackERC20Allowance(data []byte) (*big.Int, error) {
	erc20, _, _, _ := abis()
	return unpackSingleUint256(erc20, "allowance", data)
}

// PackERC20BalanceOf builds the call-data for balanceOf(owner), used by
// the processor's NoToken stuck-event reporting (spec §4.G step 5).
func PackERC20BalanceOf(owner common.Address) ([]byte, error) {
	erc20, _, _, _ := abis()
	data, err := erc20.Pack("balanceOf", owner)
	return data, errors.Wrap(err, "txbuilder: pack ERC20.balanceOf")
}

func UnpackERC20BalanceOf(data []byte) (*big.Int, error) {
	erc20, _, _, _ := abis()
	return unpackSingleUint256(erc20, "balanceOf", data)
}

func unpackSingleUint256(a interface {
	Unpack(string, []byte) ([]interface{}, error)
}, method string, data []byte) (*big.Int, error) {
	out, err := a.Unpack(method, data)
	if err != nil {
		return nil, errors.Wrapf(err, "txbuilder: unpack %s", method)
	}
	if len(out) != 1 {
		return nil, errors.Errorf("txbuilder: unexpected %s return shape", method)
	}
	v, ok := out[0].(*big.Int)
	if !ok {
		return nil, errors.Errorf("txbuilder: %s did not return a uint256", method)
	}
	return v, nil
}
