// Package processor implements the per-transaction state machine of spec
// §4.G: nonce assignment, fee/balance checks, signing, broadcast,
// confirmation tracking, and fee-bump replacement of stuck transactions.
package processor

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/golemfactory/evmpay/allowance"
	"github.com/golemfactory/evmpay/config"
	"github.com/golemfactory/evmpay/events"
	evmlog "github.com/golemfactory/evmpay/log"
	"github.com/golemfactory/evmpay/model"
	"github.com/golemfactory/evmpay/queue"
	"github.com/golemfactory/evmpay/rpcpool"
	"github.com/golemfactory/evmpay/signer"
	"github.com/golemfactory/evmpay/txbuilder"
)

var logger = evmlog.NewModuleLogger(evmlog.ModuleProcessor)

// Outcome is the result of driving one transaction through processOne —
// "unknown" means come back and re-enter the state machine later rather
// than a hard failure (spec §4.G).
type Outcome int

const (
	OutcomeUnknown Outcome = iota
	OutcomeConfirmed
	OutcomeFailed
	OutcomeReplaced
	OutcomeStuck
)

const getNextBatchLimit = 50

// Processor drives the state machine for every (account, chain) pipeline
// task; one Processor is shared across all of them (it holds no
// per-sender mutable state beyond the nonce cache and backoff tracker,
// both internally keyed by sender).
type Processor struct {
	Store     *queue.Store
	Pools     map[int64]*rpcpool.Pool
	Signer    signer.Signer
	Config    *config.EngineConfig
	Allowance *allowance.Manager
	Events    chan<- events.Event

	nonces  *nonceTracker
	waiters *stuckWaiter
}

func New(store *queue.Store, pools map[int64]*rpcpool.Pool, sgn signer.Signer, cfg *config.EngineConfig, alw *allowance.Manager, out chan<- events.Event) *Processor {
	return &Processor{
		Store: store, Pools: pools, Signer: sgn, Config: cfg, Allowance: alw, Events: out,
		nonces:  newNonceTracker(),
		waiters: newStuckWaiter(cfg.ProcessIntervalAfterNoFunds),
	}
}

// RunAccountChain is the task body spec §4.G assigns one per (account,
// chain): drain get_next_transactions_to_process to termination or
// "come back later" before sleeping.
func (p *Processor) RunAccountChain(ctx context.Context, sender common.Address, chain int64) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		txs, err := p.Store.GetNextTransactionsToProcess(sender, chain, getNextBatchLimit)
		if err != nil {
			logger.Error("failed to read next transactions", "sender", sender, "chain", chain, "err", err)
			p.sleep(ctx, p.Config.ProcessIntervalAfterError)
			continue
		}
		if len(txs) == 0 {
			p.sleep(ctx, p.Config.ProcessInterval)
			continue
		}

		last := OutcomeUnknown
		for _, tx := range txs {
			last = p.processOne(ctx, tx)
		}

		if last == OutcomeConfirmed {
			continue
		}
		p.sleep(ctx, p.Config.ProcessInterval)
	}
}

func (p *Processor) sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func (p *Processor) emit(e events.Event) {
	if p.Events == nil {
		return
	}
	select {
	case p.Events <- e:
	default:
		logger.Warn("event channel full, dropping event", "kind", e.Kind)
	}
}

// processOne drives tx through as many steps of the state machine as it
// can make progress on in one pass, persisting after each successful
// step so a crash resumes exactly where it left off (spec §7 "Crash
// recovery").
func (p *Processor) processOne(ctx context.Context, tx *model.Transaction) Outcome {
	chainCfg, ok := p.Config.Chain(tx.Chain)
	if !ok {
		p.emitInvalidChain(tx.Chain)
		return OutcomeUnknown
	}
	pool, ok := p.Pools[tx.Chain]
	if !ok {
		p.emitInvalidChain(tx.Chain)
		return OutcomeUnknown
	}

	if ok, reason := p.Signer.CanSign(tx.From); !ok {
		logger.Warn("signer cannot sign", "from", tx.From, "chain", tx.Chain, "reason", reason)
		p.emit(events.CantSignTx(tx.Chain, tx.From, tx))
		return p.fail(tx, "cannot sign: "+string(reason))
	}

	if tx.Nonce == nil {
		n, err := p.nonces.next(ctx, pool, tx.Chain, tx.From)
		if err != nil {
			logger.Warn("failed to assign nonce", "err", err)
			return OutcomeUnknown
		}
		tx.Nonce = &n
		if err := p.Store.UpdateTx(tx); err != nil {
			logger.Error("failed to persist nonce", "err", err)
			return OutcomeUnknown
		}
	}

	if tx.FirstProcessed == nil {
		now := time.Now()
		tx.FirstProcessed = &now
		if err := p.Store.UpdateTx(tx); err != nil {
			logger.Error("failed to persist first_processed", "err", err)
			return OutcomeUnknown
		}
	}

	if tx.OrigTxID == nil && tx.GasLimit == 0 {
		if outcome, done := p.checkGasAndBalance(ctx, pool, tx, chainCfg); done {
			return outcome
		}
	}

	if tx.SignedRawData == nil {
		if outcome, done := p.signTx(ctx, tx); done {
			return outcome
		}
	}

	if tx.BroadcastDate == nil {
		if outcome, done := p.broadcastTx(ctx, pool, tx); done {
			return outcome
		}
	}

	if outcome, done := p.checkReplacement(tx, chainCfg); done {
		return outcome
	}

	return p.driveConfirmation(ctx, pool, tx, chainCfg)
}

func (p *Processor) emitInvalidChain(chain int64) {
	p.emit(events.InvalidChainID(chain, "invalid chain id"))
}

func (p *Processor) fail(tx *model.Transaction, reason string) Outcome {
	tx.Error = &reason
	tx.Processing = 0
	if err := p.Store.UpdateTx(tx); err != nil {
		logger.Error("failed to persist tx failure", "tx", tx.ID, "err", err)
	}
	p.emit(events.TransactionFailed(tx.Chain, tx.From, tx, reason))
	return OutcomeFailed
}

// checkGasAndBalance implements spec §4.G step 5: estimate gas for a
// fresh, non-replacement transaction and verify the sender can cover
// value + gas_limit*max_fee_per_gas.
func (p *Processor) checkGasAndBalance(ctx context.Context, pool *rpcpool.Pool, tx *model.Transaction, cc config.ChainConfig) (Outcome, bool) {
	value, _ := new(big.Int).SetString(tx.Value, 10)
	if value == nil {
		value = big.NewInt(0)
	}

	estimate, err := pool.EstimateGas(ctx, tx.From, tx.To, value, tx.Data)
	if err != nil {
		switch {
		case isGasExceedsAllowance(err):
			return p.fail(tx, "gas required exceeds allowance"), true
		case tx.Method == model.MethodFaucetCreate && isFaucetExhausted(err):
			p.deleteWithDependents(tx)
			return OutcomeConfirmed, true // benign silent success, drained like a terminal
		case isTransferExceedsBalance(err):
			return p.stuckNoToken(ctx, pool, tx), true
		default:
			logger.Warn("gas estimate failed, will retry", "tx", tx.ID, "err", err)
			return OutcomeUnknown, true
		}
	}

	gasLimit := estimate + 20000
	if gasLimit < 21000 {
		gasLimit = 21000
	}
	tx.GasLimit = gasLimit
	if tx.MaxFeePerGas == "" {
		tx.MaxFeePerGas = weiFromGwei(configMaxFeeGwei(cc)).String()
	}
	if tx.PriorityFee == "" {
		tx.PriorityFee = weiFromGwei(configPriorityFeeGwei(cc)).String()
	}
	if err := p.Store.UpdateTx(tx); err != nil {
		logger.Error("failed to persist gas limit", "err", err)
		return OutcomeUnknown, true
	}

	maxFee, _ := new(big.Int).SetString(tx.MaxFeePerGas, 10)
	needed := new(big.Int).Mul(big.NewInt(int64(gasLimit)), maxFee)
	needed.Add(needed, value)
	balance, err := pool.GetBalance(ctx, tx.From, "latest")
	if err != nil {
		logger.Warn("failed to read balance, will retry", "tx", tx.ID, "err", err)
		return OutcomeUnknown, true
	}
	if balance.Cmp(needed) < 0 {
		return p.stuckNoGas(tx, balance, needed), true
	}
	p.waiters.clear(tx.Chain, tx.From, string(model.StuckNoGas))
	return OutcomeUnknown, false
}

// deleteWithDependents implements the FAUCET.create "Cannot acquire more
// funds" benign path (spec §4.G step 5): the transfers attached to tx
// return to the queue so the next gather cycle can decide what, if
// anything, to do with them, and the tx itself is discarded.
func (p *Processor) deleteWithDependents(tx *model.Transaction) {
	if err := p.Store.CleanupTransferTx(tx.ID); err != nil {
		logger.Error("failed to detach transfers from exhausted faucet tx", "tx", tx.ID, "err", err)
	}
	if err := p.Store.DeleteTx(tx.ID); err != nil {
		logger.Error("failed to delete exhausted faucet tx", "tx", tx.ID, "err", err)
	}
}

func (p *Processor) stuckNoToken(ctx context.Context, pool *rpcpool.Pool, tx *model.Transaction) Outcome {
	var balance *big.Int
	if tx.Method == model.MethodTransfer {
		b, err := pool.GetBalance(ctx, tx.From, "latest")
		if err == nil {
			balance = b
		}
	} else {
		data, err := txbuilder.PackERC20BalanceOf(tx.From)
		if err == nil {
			raw, err := pool.CallContract(ctx, tx.To, data, "latest")
			if err == nil {
				balance, _ = txbuilder.UnpackERC20BalanceOf(raw)
			}
		}
	}
	unpaid, _ := p.Store.GetUnpaidTransfers(tx.Chain, tx.From, tokenForTx(tx))
	needed := sumAmounts(unpaid)
	balanceStr := "0"
	if balance != nil {
		balanceStr = balance.String()
	}

	p.emit(events.TransactionStuckFunding(tx.Chain, tx.From, tx, model.StuckNoToken, balanceStr, needed.String()))
	p.waiters.clear(tx.Chain, tx.From, string(model.StuckNoGas))
	d := p.waiters.next(tx.Chain, tx.From, string(model.StuckNoToken))
	logger.Info("waiting for token balance", "chain", tx.Chain, "sender", tx.From, "wait", d)
	return OutcomeStuck
}

func (p *Processor) stuckNoGas(tx *model.Transaction, balance, needed *big.Int) Outcome {
	p.emit(events.TransactionStuckFunding(tx.Chain, tx.From, tx, model.StuckNoGas, balance.String(), needed.String()))
	d := p.waiters.next(tx.Chain, tx.From, string(model.StuckNoGas))
	logger.Info("waiting for gas balance", "chain", tx.Chain, "sender", tx.From, "balance", balance, "needed", needed, "wait", d)
	return OutcomeStuck
}

func (p *Processor) signTx(ctx context.Context, tx *model.Transaction) (Outcome, bool) {
	value, _ := new(big.Int).SetString(tx.Value, 10)
	maxFee, _ := new(big.Int).SetString(tx.MaxFeePerGas, 10)
	priority, _ := new(big.Int).SetString(tx.PriorityFee, 10)

	raw, hash, reason, err := p.Signer.Sign(ctx, tx.From, signer.UnsignedTx{
		ChainID: tx.Chain, Nonce: *tx.Nonce, To: tx.To, Value: value, Data: tx.Data,
		GasLimit: tx.GasLimit, MaxFeePerGas: maxFee, PriorityFee: priority,
	})
	if reason != signer.ReasonOK {
		p.emit(events.CantSignTx(tx.Chain, tx.From, tx))
		return p.fail(tx, "signer refused: "+string(reason)), true
	}
	if err != nil {
		logger.Warn("signing failed, will retry", "tx", tx.ID, "err", err)
		return OutcomeUnknown, true
	}

	now := time.Now()
	tx.SignedRawData = raw
	tx.TxHash = &hash
	tx.SignedDate = &now
	if err := p.Store.UpdateTx(tx); err != nil {
		logger.Error("failed to persist signed tx", "err", err)
		return OutcomeUnknown, true
	}
	return OutcomeUnknown, false
}

func (p *Processor) broadcastTx(ctx context.Context, pool *rpcpool.Pool, tx *model.Transaction) (Outcome, bool) {
	_, err := pool.SendRawTransaction(ctx, tx.SignedRawData)
	switch {
	case err == nil, isAlreadyKnown(err):
		now := time.Now()
		tx.BroadcastDate = &now
		tx.BroadcastCount++
		if err := p.Store.UpdateTx(tx); err != nil {
			logger.Error("failed to persist broadcast", "err", err)
			return OutcomeUnknown, true
		}
		return OutcomeUnknown, false
	case isInsufficientFunds(err):
		p.emit(events.TransactionStuck(tx.Chain, tx.From, tx, model.StuckNoGas))
		return OutcomeStuck, true
	case isTransferExceedsBalance(err):
		p.emit(events.TransactionStuck(tx.Chain, tx.From, tx, model.StuckNoToken))
		return OutcomeStuck, true
	case isInvalidSender(err):
		return p.fail(tx, "invalid sender: wrong chain id for signature"), true
	default:
		logger.Warn("broadcast failed, will retry", "tx", tx.ID, "err", err)
		return OutcomeUnknown, true
	}
}

// checkReplacement implements spec §4.G step 9: insert a fee-bumped
// sibling once the configured max fee is at least 10% above the stored
// one. If the priority fee has not crossed that threshold as well, the
// sibling gets stored*11/10+1 for it, capped at the new max fee.
func (p *Processor) checkReplacement(tx *model.Transaction, cc config.ChainConfig) (Outcome, bool) {
	storedMax, _ := new(big.Int).SetString(tx.MaxFeePerGas, 10)
	storedPriority, _ := new(big.Int).SetString(tx.PriorityFee, 10)
	configMax := weiFromGwei(configMaxFeeGwei(cc))
	configPriority := weiFromGwei(configPriorityFeeGwei(cc))

	maxBumped := isBumped10(storedMax, configMax)
	priorityBumped := isBumped10(storedPriority, configPriority)
	if !maxBumped {
		return OutcomeUnknown, false
	}

	newMax := configMax
	newPriority := configPriority
	if !priorityBumped {
		newPriority = bumpedPriorityFee(storedPriority, newMax)
	}

	sibling := &model.Transaction{
		Chain: tx.Chain, Method: tx.Method, From: tx.From, To: tx.To, Value: tx.Value, Data: tx.Data,
		GasLimit: tx.GasLimit, MaxFeePerGas: newMax.String(), PriorityFee: newPriority.String(),
		Nonce: tx.Nonce, CreatedDate: time.Now(), Processing: 1, ChainStatus: model.ChainStatusUnknown,
		OrigTxID: &tx.ID,
	}

	err := p.Store.WithTransaction(func(qtx queue.Tx) error {
		if _, err := p.Store.InsertTxTx(qtx, sibling); err != nil {
			return err
		}
		tx.Processing = 0
		return p.Store.UpdateTxTx(qtx, tx)
	})
	if err != nil {
		logger.Error("failed to insert replacement sibling", "tx", tx.ID, "err", err)
		return OutcomeUnknown, true
	}
	logger.Info("replaced stuck transaction with fee bump", "orig", tx.ID, "sibling", sibling.ID, "chain", tx.Chain)
	return OutcomeReplaced, true
}

// driveConfirmation implements spec §4.G step 8 (confirmation tracking),
// step 10 (resend on low pending nonce) and step 11 (stuck-on-gas-price
// timeout detection).
func (p *Processor) driveConfirmation(ctx context.Context, pool *rpcpool.Pool, tx *model.Transaction, cc config.ChainConfig) Outcome {
	latestNonce, err := pool.GetTransactionCount(ctx, tx.From, "latest")
	if err != nil {
		logger.Warn("failed to read latest nonce", "err", err)
		return OutcomeUnknown
	}

	if latestNonce > *tx.Nonce {
		if outcome, done := p.resolveConfirmation(ctx, pool, tx, cc); done {
			return outcome
		}
	}

	pendingNonce, err := pool.GetTransactionCount(ctx, tx.From, "pending")
	if err == nil {
		p.nonces.observe(tx.Chain, tx.From, pendingNonce)
		if pendingNonce <= *tx.Nonce && tx.BroadcastDate != nil {
			if _, err := pool.SendRawTransaction(ctx, tx.SignedRawData); err == nil || isAlreadyKnown(err) {
				tx.BroadcastCount++
				_ = p.Store.UpdateTx(tx)
			}
		}
	}

	p.checkStuckOnGasPrice(ctx, pool, tx, cc)
	return OutcomeUnknown
}

// resolveConfirmation walks the replacement chain looking for whichever
// sibling's hash actually got mined, per spec §4.G step 8.
func (p *Processor) resolveConfirmation(ctx context.Context, pool *rpcpool.Pool, tx *model.Transaction, cc config.ChainConfig) (Outcome, bool) {
	chain, err := p.Store.GetTransactionChain(tx.ID)
	if err != nil {
		logger.Warn("failed to load replacement chain", "tx", tx.ID, "err", err)
		return OutcomeUnknown, false
	}

	for _, candidate := range chain {
		if candidate.TxHash == nil {
			continue
		}
		receipt, err := pool.GetTransactionReceipt(ctx, *candidate.TxHash)
		if err != nil || receipt == nil {
			continue
		}
		head, err := pool.BlockNumber(ctx)
		if err != nil {
			return OutcomeUnknown, true
		}
		if head < receipt.BlockNumber.Uint64()+cc.ConfirmationBlocks {
			return OutcomeUnknown, true // not enough confirmations yet
		}
		return p.confirm(candidate, chain, receipt), true
	}

	// nonce consumed on-chain but no sibling's receipt is visible yet.
	return OutcomeUnknown, false
}

func (p *Processor) confirm(confirmed *model.Transaction, chain []*model.Transaction, receipt *types.Receipt) Outcome {
	var siblingIDs []int64
	for _, c := range chain {
		if c.ID != confirmed.ID {
			siblingIDs = append(siblingIDs, c.ID)
		}
	}

	now := time.Now()
	blockNum := receipt.BlockNumber.Uint64()
	gasUsed := receipt.GasUsed
	confirmed.ConfirmDate = &now
	confirmed.BlockNumber = &blockNum
	confirmed.GasUsed = &gasUsed
	confirmed.ChainStatus = model.ChainStatusReverted
	if receipt.Status == 1 {
		confirmed.ChainStatus = model.ChainStatusSuccess
	}
	if receipt.EffectiveGasPrice != nil {
		effPrice := receipt.EffectiveGasPrice.String()
		confirmed.EffectiveGasPrice = &effPrice
		fee := new(big.Int).Mul(new(big.Int).SetUint64(gasUsed), receipt.EffectiveGasPrice)
		feeStr := fee.String()
		confirmed.FeePaid = &feeStr
	}

	var transfers []*model.Transfer
	err := p.Store.WithTransaction(func(qtx queue.Tx) error {
		ts, err := p.Store.GetTransfersByTx(confirmed.ID)
		if err != nil {
			return err
		}
		for _, sid := range siblingIDs {
			more, err := p.Store.GetTransfersByTx(sid)
			if err != nil {
				return err
			}
			ts = append(ts, more...)
		}
		transfers = ts
		return p.Store.ConfirmTransaction(qtx, confirmed, siblingIDs)
	})
	if err != nil {
		logger.Error("failed to commit confirmation cleanup", "tx", confirmed.ID, "err", err)
		return OutcomeUnknown
	}

	p.distributeFeesAndFinish(confirmed, transfers)
	p.emit(events.TransactionConfirmed(confirmed.Chain, confirmed))
	if p.Allowance != nil && confirmed.Method == model.MethodERC20Approve {
		if err := p.Allowance.OnApproveConfirmed(confirmed); err != nil {
			logger.Error("failed to finalize allowance confirmation", "tx", confirmed.ID, "err", err)
		}
	}
	return OutcomeConfirmed
}

func (p *Processor) distributeFeesAndFinish(tx *model.Transaction, transfers []*model.Transfer) {
	if tx.FeePaid == nil || len(transfers) == 0 {
		return
	}
	fee, _ := new(big.Int).SetString(*tx.FeePaid, 10)
	shares := distributeFee(fee, len(transfers))
	now := time.Now()
	for i, t := range transfers {
		share := shares[i].String()
		t.FeePaid = &share
		t.PaidDate = &now
		t.TxID = &tx.ID
		if err := p.Store.UpdateTransfer(t); err != nil {
			logger.Error("failed to persist transfer settlement", "transfer", t.ID, "err", err)
			continue
		}
		p.emit(events.TransferFinished(tx.Chain, t, tx))
	}
}

// checkStuckOnGasPrice implements spec §4.G step 11.
func (p *Processor) checkStuckOnGasPrice(ctx context.Context, pool *rpcpool.Pool, tx *model.Transaction, cc config.ChainConfig) {
	if tx.FirstProcessed == nil || tx.BroadcastDate == nil {
		return
	}
	if time.Since(*tx.FirstProcessed) < cc.TransactionTimeout {
		return
	}
	block, err := pool.GetBlockByNumber(ctx, "latest")
	if err != nil || block.BaseFeePerGas == nil {
		return
	}
	storedMax, _ := new(big.Int).SetString(tx.MaxFeePerGas, 10)
	minPriority := weiFromGwei(big.NewFloat(cc.AssumedMinPriorityGwei))
	floor := new(big.Int).Add(block.BaseFeePerGas, minPriority)
	if floor.Cmp(storedMax) > 0 {
		if tx.FirstStuckDate == nil {
			now := time.Now()
			tx.FirstStuckDate = &now
			_ = p.Store.UpdateTx(tx)
		}
		p.emit(events.TransactionStuck(tx.Chain, tx.From, tx, model.StuckGasPriceLow))
	}
}

func tokenForTx(tx *model.Transaction) *common.Address {
	if tx.Method == model.MethodTransfer {
		return nil
	}
	to := tx.To
	return &to
}

func sumAmounts(transfers []*model.Transfer) *big.Int {
	sum := big.NewInt(0)
	for _, t := range transfers {
		amt, ok := new(big.Int).SetString(t.Amount, 10)
		if ok {
			sum.Add(sum, amt)
		}
	}
	return sum
}

func weiFromGwei(gwei *big.Float) *big.Int {
	wei := new(big.Float).Mul(gwei, big.NewFloat(1e9))
	out, _ := wei.Int(nil)
	return out
}

func configMaxFeeGwei(cc config.ChainConfig) *big.Float {
	if cc.MaxFeePerGasGwei == nil {
		return big.NewFloat(0)
	}
	return cc.MaxFeePerGasGwei
}

func configPriorityFeeGwei(cc config.ChainConfig) *big.Float {
	if cc.PriorityFeeGwei == nil {
		return big.NewFloat(0)
	}
	return cc.PriorityFeeGwei
}
