package txbuilder

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"

	"github.com/golemfactory/evmpay/model"
)

// DepositArgs groups the deposit-lock contract's deposit()/createDeposit()
// parameters (spec §4.D "LOCK.deposit", "LOCK.createDeposit").
type DepositArgs struct {
	Token   common.Address
	Amount  *big.Int
	Spender common.Address
	ValidTo time.Time
}

func packLock(method string, args ...interface{}) ([]byte, error) {
	_, _, lock, _ := abis()
	data, err := lock.Pack(method, args...)
	return data, errors.Wrapf(err, "txbuilder: pack LOCK.%s", method)
}

func BuildLockDeposit(chain int64, from, lockContract common.Address, a DepositArgs) (*model.Transaction, error) {
	data, err := packLock("deposit", a.Token, a.Amount, a.Spender, big.NewInt(a.ValidTo.Unix()))
	if err != nil {
		return nil, err
	}
	return newTx(chain, model.MethodLockDeposit, from, lockContract, nil, data), nil
}

func BuildLockCreateDeposit(chain int64, from, lockContract common.Address, a DepositArgs) (*model.Transaction, error) {
	data, err := packLock("createDeposit", a.Token, a.Amount, a.Spender, big.NewInt(a.ValidTo.Unix()))
	if err != nil {
		return nil, err
	}
	return newTx(chain, model.MethodLockCreateDeposit, from, lockContract, nil, data), nil
}

func BuildLockWithdraw(chain int64, from, lockContract common.Address, depositID, amount *big.Int) (*model.Transaction, error) {
	data, err := packLock("withdraw", depositID, amount)
	if err != nil {
		return nil, err
	}
	return newTx(chain, model.MethodLockWithdraw, from, lockContract, nil, data), nil
}

func BuildLockWithdrawAll(chain int64, from, lockContract common.Address, depositID *big.Int) (*model.Transaction, error) {
	data, err := packLock("withdrawAll", depositID)
	if err != nil {
		return nil, err
	}
	return newTx(chain, model.MethodLockWithdrawAll, from, lockContract, nil, data), nil
}

// BuildLockCloseDeposit is emitted by the batcher when any transfer a
// deposit-scoped batch covers carries deposit_finish=true (spec §3,
// SPEC_FULL.md supplemented feature #5).
func BuildLockCloseDeposit(chain int64, from, lockContract common.Address, depositID *big.Int) (*model.Transaction, error) {
	data, err := packLock("closeDeposit", depositID)
	if err != nil {
		return nil, err
	}
	return newTx(chain, model.MethodLockCloseDeposit, from, lockContract, nil, data), nil
}

func BuildLockTerminateDeposit(chain int64, from, lockContract common.Address, depositID *big.Int) (*model.Transaction, error) {
	data, err := packLock("terminateDeposit", depositID)
	if err != nil {
		return nil, err
	}
	return newTx(chain, model.MethodLockTerminateDeposit, from, lockContract, nil, data), nil
}

func BuildLockPayoutSingle(chain int64, from, lockContract common.Address, depositID *big.Int, recipient common.Address, amount *big.Int) (*model.Transaction, error) {
	data, err := packLock("payoutSingle", depositID, recipient, amount)
	if err != nil {
		return nil, err
	}
	return newTx(chain, model.MethodLockPayoutSingle, from, lockContract, nil, data), nil
}

func BuildLockPayoutSingleInternal(chain int64, from, lockContract common.Address, depositID *big.Int, recipient common.Address, amount *big.Int) (*model.Transaction, error) {
	data, err := packLock("payoutSingleInternal", depositID, recipient, amount)
	if err != nil {
		return nil, err
	}
	return newTx(chain, model.MethodLockPayoutSingleInternal, from, lockContract, nil, data), nil
}

func BuildLockPayoutMultipleInternal(chain int64, from, lockContract common.Address, depositID *big.Int, recipients []Recipient) (*model.Transaction, error) {
	data, err := packLock("payoutMultipleInternal", depositID, addressesOf(recipients), amountsOf(recipients))
	if err != nil {
		return nil, err
	}
	return newTx(chain, model.MethodLockPayoutMultipleInternal, from, lockContract, nil, data), nil
}

func BuildLockFreeAllocation(chain int64, from, lockContract common.Address, allocationID *big.Int) (*model.Transaction, error) {
	data, err := packLock("freeAllocation", allocationID)
	if err != nil {
		return nil, err
	}
	return newTx(chain, model.MethodLockFreeAllocation, from, lockContract, nil, data), nil
}

func BuildLockMakeAllocation(chain int64, from, lockContract common.Address, depositID *big.Int, spender common.Address, amount *big.Int, validTo time.Time) (*model.Transaction, error) {
	data, err := packLock("makeAllocation", depositID, spender, amount, big.NewInt(validTo.Unix()))
	if err != nil {
		return nil, err
	}
	return newTx(chain, model.MethodLockMakeAllocation, from, lockContract, nil, data), nil
}
