// Package allowance implements the allowance manager of spec §4.F:
// resolving a batcher AllowanceRequired signal into either "already
// sufficient" bookkeeping or a submitted ERC20.approve transaction.
package allowance

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"

	"github.com/golemfactory/evmpay/batcher"
	"github.com/golemfactory/evmpay/events"
	evmlog "github.com/golemfactory/evmpay/log"
	"github.com/golemfactory/evmpay/model"
	"github.com/golemfactory/evmpay/queue"
	"github.com/golemfactory/evmpay/rpcpool"
	"github.com/golemfactory/evmpay/signer"
	"github.com/golemfactory/evmpay/txbuilder"
)

var logger = evmlog.NewModuleLogger(evmlog.ModuleAllowance)

// maxUint256 and halfMaxUint256 back the "sufficient" predicate of spec
// §3: stored amount >= half of MAX_UINT256. Built once via holiman/uint256
// rather than re-deriving the comparison with math/big on every check.
var (
	maxUint256     = mustUint256FromBig(txbuilder.MaxUint256)
	halfMaxUint256 = new(uint256.Int).Rsh(maxUint256, 1)
)

func mustUint256FromBig(b *big.Int) *uint256.Int {
	v, overflow := uint256.FromBig(b)
	if overflow {
		panic("allowance: MaxUint256 does not fit uint256")
	}
	return v
}

// isSufficientAmount reports whether a decimal-string base-unit amount is
// at least half of MAX_UINT256, the threshold spec §3 defines for
// "sufficient" allowance.
func isSufficientAmount(decimal string) bool {
	b, ok := new(big.Int).SetString(decimal, 10)
	if !ok {
		return false
	}
	v, overflow := uint256.FromBig(b)
	if overflow {
		return true
	}
	return v.Cmp(halfMaxUint256) >= 0
}

// Checker implements batcher.AllowanceChecker against the durable queue,
// applying the confirm_date-is-sole-truth-predicate rule from spec §9's
// open question.
type Checker struct {
	Store *queue.Store
}

func (c *Checker) IsSufficient(chain int64, owner, token, spender common.Address) (bool, error) {
	a, err := c.Store.FindAllowance(chain, owner, token, spender)
	if err != nil {
		return false, err
	}
	if a == nil {
		return false, nil
	}
	return a.IsSufficient(isSufficientAmount), nil
}

// Manager resolves AllowanceRequired signals raised by the batcher,
// across every chain the runtime configures — one rpcpool.Pool per
// chain, keyed the same way the runtime keys its processor pools.
type Manager struct {
	Store  *queue.Store
	Pools  map[int64]*rpcpool.Pool
	Signer signer.Signer
	Events chan<- events.Event
}

// Ensure implements spec §4.F: look up (or create) the allowance row,
// check the on-chain current allowance, and either record sufficiency or
// submit an approve transaction. Returns true if an approve tx was
// inserted or an unconfirmed one is already pending (the caller should not
// re-run the batcher until it confirms).
func (m *Manager) Ensure(ctx context.Context, req *batcher.AllowanceRequired) (bool, error) {
	a, err := m.Store.FindAllowance(req.Chain, req.Owner, req.Token, req.Spender)
	if err != nil {
		return false, err
	}
	if a != nil && a.IsSufficient(isSufficientAmount) {
		return false, nil
	}

	onChain, err := m.readOnChainAllowance(ctx, req)
	if err != nil {
		return false, err
	}
	if onChain.Cmp(new(big.Int).Rsh(txbuilder.MaxUint256, 1)) >= 0 {
		now := time.Now()
		if a == nil {
			a = &model.Allowance{
				Chain: req.Chain, Owner: req.Owner, Token: req.Token, Spender: req.Spender,
				Amount: onChain.String(), ConfirmDate: &now, CreatedDate: now,
			}
			if _, err := m.Store.InsertAllowance(a); err != nil {
				return false, err
			}
		} else {
			a.Amount = onChain.String()
			a.ConfirmDate = &now
			if err := m.Store.UpdateAllowance(a); err != nil {
				return false, err
			}
		}
		return false, nil
	}

	if a != nil && a.ConfirmDate == nil && a.TxID != nil {
		// an unconfirmed approve is already in flight; spec §4.C "only
		// one unconfirmed allowance per tuple may exist" — don't submit
		// a second one.
		return true, nil
	}

	if ok, reason := m.Signer.CanSign(req.Owner); !ok {
		logger.Warn("cannot sign approve transaction", "owner", req.Owner, "reason", reason)
		m.emit(events.CantSignAllowance(req.Chain, req.Owner, a))
		return false, errors.Errorf("allowance: signer cannot sign for %s: %s", req.Owner, reason)
	}

	tx, err := txbuilder.BuildERC20Approve(req.Chain, req.Owner, req.Token, req.Spender, txbuilder.MaxUint256)
	if err != nil {
		return false, err
	}

	if a == nil {
		a = &model.Allowance{
			Chain: req.Chain, Owner: req.Owner, Token: req.Token, Spender: req.Spender,
			Amount: txbuilder.MaxUint256.String(), CreatedDate: time.Now(),
		}
	}

	err = m.Store.WithTransaction(func(qtx queue.Tx) error {
		txID, err := m.Store.InsertTxTx(qtx, tx)
		if err != nil {
			return err
		}
		a.TxID = &txID
		if a.ID == 0 {
			_, err = m.Store.InsertAllowanceTx(qtx, a)
			return err
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	if a.ID != 0 {
		if err := m.Store.UpdateAllowance(a); err != nil {
			return false, err
		}
	}

	logger.Info("submitted approve transaction", "owner", req.Owner, "token", req.Token, "spender", req.Spender, "chain", req.Chain, "tx", tx.ID)
	return true, nil
}

func (m *Manager) readOnChainAllowance(ctx context.Context, req *batcher.AllowanceRequired) (*big.Int, error) {
	data, err := txbuilder.PackERC20Allowance(req.Owner, req.Spender)
	if err != nil {
		return nil, err
	}
	pool, ok := m.Pools[req.Chain]
	if !ok {
		return nil, errors.Errorf("allowance: no rpc pool configured for chain %d", req.Chain)
	}
	raw, err := pool.CallContract(ctx, req.Token, data, "latest")
	if err != nil {
		return nil, errors.Wrap(err, "allowance: read on-chain allowance")
	}
	return txbuilder.UnpackERC20Allowance(raw)
}

func (m *Manager) emit(e events.Event) {
	if m.Events == nil {
		return
	}
	select {
	case m.Events <- e:
	default:
		logger.Warn("event channel full, dropping event", "kind", e.Kind)
	}
}

// OnApproveConfirmed is called by the processor when an ERC20.approve
// transaction it is tracking confirms (spec §4.F: "when it confirms, the
// aggregator emits ApproveFinished and the allowance row's confirm_date
// is set").
func (m *Manager) OnApproveConfirmed(tx *model.Transaction) error {
	a, err := m.Store.GetAllowanceByTx(tx.ID)
	if err != nil {
		return err
	}
	if a == nil {
		return nil
	}
	now := time.Now()
	a.ConfirmDate = &now
	a.FeePaid = tx.FeePaid
	if err := m.Store.UpdateAllowance(a); err != nil {
		return err
	}
	m.emit(events.ApproveFinished(tx.Chain, a))
	return nil
}

