package runtime

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"

	"github.com/golemfactory/evmpay/events"
	"github.com/golemfactory/evmpay/model"
	"github.com/golemfactory/evmpay/txbuilder"
)

// AddAccount starts the pipeline task for (sender, chain): a gather loop
// and a processing loop, sharing one lifetime (spec §4.I, §5). Calling it
// twice for the same pair is a no-op; restart recovery should call it for
// every account the caller cares about, since the processor itself
// resumes live transactions from their stored column state, not from any
// runtime-held memory.
func (r *Runtime) AddAccount(sender common.Address, chain int64) error {
	if _, ok := r.Config.Chain(chain); !ok {
		return errors.Errorf("runtime: chain %d is not configured", chain)
	}
	key := taskKey{Sender: sender, Chain: chain}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tasks[key]; exists {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	t := &task{cancel: cancel, wake: make(chan struct{}, 1), done: make(chan struct{})}
	r.tasks[key] = t

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		r.Processor.RunAccountChain(ctx, sender, chain)
	}()
	go func() {
		defer wg.Done()
		r.runGatherLoop(ctx, key, t.wake)
	}()
	go func() {
		wg.Wait()
		close(t.done)
	}()

	return nil
}

// Transfer inserts one queued transfer for (from, receiver) and nudges
// the (from, chain) gather loop, per the caller-facing command of spec
// §6. Every call wakes the gather loop through Notify, so the next gather
// runs at once whether or not deadline is set; deadline is only stored on
// the transfer row and the gather loop does not read it.
func (r *Runtime) Transfer(chain int64, from, receiver common.Address, txType model.TxType, token *common.Address, amount *big.Int, paymentID string, deadline *time.Time, depositID *string) (int64, error) {
	t := &model.Transfer{
		Chain: chain, TxType: txType, From: from, Receiver: receiver, Token: token,
		Amount: amount.String(), PaymentID: paymentID, Deadline: deadline, DepositID: depositID,
		CreatedAt: time.Now(),
	}
	id, err := r.Store.InsertTransfer(t)
	if err != nil {
		return 0, err
	}
	r.Notify(from, chain)
	return id, nil
}

// MintFaucetToken submits a FAUCET.create transaction for a testnet
// faucet contract (spec §4.D MethodFaucetCreate).
func (r *Runtime) MintFaucetToken(chain int64, from common.Address, amount *big.Int) (int64, error) {
	cc, ok := r.Config.Chain(chain)
	if !ok || cc.FaucetContractAddress == nil || cc.TokenAddress == nil {
		return 0, errors.Errorf("runtime: chain %d has no faucet configured", chain)
	}
	tx, err := txbuilder.BuildFaucetCreate(chain, from, *cc.FaucetContractAddress, *cc.TokenAddress, amount)
	if err != nil {
		return 0, err
	}
	return r.insertStandaloneTx(tx)
}

// Deposit submits a LOCK.deposit transaction funding a new time-locked
// allocation spender.
func (r *Runtime) Deposit(chain int64, from common.Address, args txbuilder.DepositArgs) (int64, error) {
	cc, ok := r.Config.Chain(chain)
	if !ok || cc.LockContractAddress == nil {
		return 0, errors.Errorf("runtime: chain %d has no deposit-lock contract configured", chain)
	}
	tx, err := txbuilder.BuildLockDeposit(chain, from, *cc.LockContractAddress, args)
	if err != nil {
		return 0, err
	}
	return r.insertStandaloneTx(tx)
}

// Withdraw submits a LOCK.withdraw (or, when amount is nil,
// LOCK.withdrawAll) transaction against an existing deposit.
func (r *Runtime) Withdraw(chain int64, from common.Address, depositID *big.Int, amount *big.Int) (int64, error) {
	cc, ok := r.Config.Chain(chain)
	if !ok || cc.LockContractAddress == nil {
		return 0, errors.Errorf("runtime: chain %d has no deposit-lock contract configured", chain)
	}
	var tx *model.Transaction
	var err error
	if amount == nil {
		tx, err = txbuilder.BuildLockWithdrawAll(chain, from, *cc.LockContractAddress, depositID)
	} else {
		tx, err = txbuilder.BuildLockWithdraw(chain, from, *cc.LockContractAddress, depositID, amount)
	}
	if err != nil {
		return 0, err
	}
	return r.insertStandaloneTx(tx)
}

// MakeAllocation submits a LOCK.makeAllocation transaction, granting
// spender a time-bounded claim against depositID.
func (r *Runtime) MakeAllocation(chain int64, from common.Address, depositID *big.Int, spender common.Address, amount *big.Int, validTo time.Time) (int64, error) {
	cc, ok := r.Config.Chain(chain)
	if !ok || cc.LockContractAddress == nil {
		return 0, errors.Errorf("runtime: chain %d has no deposit-lock contract configured", chain)
	}
	tx, err := txbuilder.BuildLockMakeAllocation(chain, from, *cc.LockContractAddress, depositID, spender, amount, validTo)
	if err != nil {
		return 0, err
	}
	return r.insertStandaloneTx(tx)
}

// CancelAllocation submits a LOCK.freeAllocation transaction, releasing
// an allocation back to its deposit before it's spent.
func (r *Runtime) CancelAllocation(chain int64, from common.Address, allocationID *big.Int) (int64, error) {
	cc, ok := r.Config.Chain(chain)
	if !ok || cc.LockContractAddress == nil {
		return 0, errors.Errorf("runtime: chain %d has no deposit-lock contract configured", chain)
	}
	tx, err := txbuilder.BuildLockFreeAllocation(chain, from, *cc.LockContractAddress, allocationID)
	if err != nil {
		return 0, err
	}
	return r.insertStandaloneTx(tx)
}

func (r *Runtime) insertStandaloneTx(tx *model.Transaction) (int64, error) {
	id, err := r.Store.InsertTx(tx)
	if err != nil {
		return 0, err
	}
	r.Notify(tx.From, tx.Chain)
	return id, nil
}

// VerifyTransaction is the read-only receipt probe of spec §4.I: it asks
// the chain directly rather than consulting the durable queue, so it
// still answers after the local row has been cleaned up by
// ConfirmTransaction.
func (r *Runtime) VerifyTransaction(ctx context.Context, chain int64, hash common.Hash) (*VerifyTransactionResult, error) {
	pool, ok := r.Pools[chain]
	if !ok {
		return nil, errors.Errorf("runtime: chain %d is not configured", chain)
	}
	receipt, err := pool.GetTransactionReceipt(ctx, hash)
	if err != nil {
		return nil, err
	}
	if receipt == nil {
		_, found, err := pool.GetTransactionByHash(ctx, hash)
		if err != nil {
			return nil, err
		}
		return &VerifyTransactionResult{Hash: hash, Pending: found}, nil
	}
	head, err := pool.BlockNumber(ctx)
	if err != nil {
		return nil, err
	}
	cc, _ := r.Config.Chain(chain)
	return &VerifyTransactionResult{
		Hash:          hash,
		Confirmed:     true,
		Success:       receipt.Status == 1,
		BlockNumber:   receipt.BlockNumber.Uint64(),
		Confirmations: head - receipt.BlockNumber.Uint64(),
		Final:         head >= receipt.BlockNumber.Uint64()+cc.ConfirmationBlocks,
	}, nil
}

// VerifyTransactionResult is the answer to a verify_transaction query.
type VerifyTransactionResult struct {
	Hash          common.Hash
	Pending       bool
	Confirmed     bool
	Success       bool
	BlockNumber   uint64
	Confirmations uint64
	Final         bool
}

// GetStatus returns the current de-duplicated status property set (spec
// §4.I, §3).
func (r *Runtime) GetStatus() []model.StatusProperty {
	return r.Aggregator.Snapshot()
}

// GetLastUnsentTx is an administrative rollback aid (SPEC_FULL.md
// supplemented feature #3): it surfaces the most recent transaction that
// never reached broadcast_date, for an operator deciding whether to
// intervene manually before the pipeline task would otherwise retry it.
func (r *Runtime) GetLastUnsentTx() (*model.Transaction, error) {
	return r.Store.GetLastUnsentTx()
}

// Subscribe returns the forwarded event stream (spec §6): every event
// the processor and allowance manager raise, with purely-internal
// bookkeeping events already suppressed by the aggregator.
func (r *Runtime) Subscribe() <-chan events.Event {
	return r.Aggregator.Subscribe()
}
