package queue

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"

	"github.com/golemfactory/evmpay/model"
)

// InsertTransfer persists a new queued transfer and returns its assigned id.
func (s *Store) InsertTransfer(t *model.Transfer) (int64, error) {
	if err := s.db.Create(t).Error; err != nil {
		return 0, errors.Wrap(err, "queue: insert transfer")
	}
	return t.ID, nil
}

// UpdateTransfer persists the full row (used for marking failed, or
// setting fee_paid/paid_date on settlement).
func (s *Store) UpdateTransfer(t *model.Transfer) error {
	return errors.Wrap(s.db.Save(t).Error, "queue: update transfer")
}

// GetPendingTransfers returns all *queued* transfers for (sender, chain)
// in ascending id order, per the batcher's input contract (spec §4.E).
func (s *Store) GetPendingTransfers(sender common.Address, chain int64) ([]*model.Transfer, error) {
	var out []*model.Transfer
	err := s.db.
		Where("chain = ? AND `from` = ? AND tx_id IS NULL AND error IS NULL", chain, sender).
		Order("id ASC").
		Find(&out).Error
	return out, errors.Wrap(err, "queue: get pending transfers")
}

// GetTransfersByTx returns every transfer currently attached to tx.
func (s *Store) GetTransfersByTx(txID int64) ([]*model.Transfer, error) {
	var out []*model.Transfer
	err := s.db.Where("tx_id = ?", txID).Find(&out).Error
	return out, errors.Wrap(err, "queue: get transfers by tx")
}

// GetUnpaidTransfers returns every transfer for (chain, sender, token)
// that has not yet settled (tx_id set or not), used to compute the total
// amount a NoToken stuck event should report as "needed" (spec §4.G step 5).
func (s *Store) GetUnpaidTransfers(chain int64, sender common.Address, token *common.Address) ([]*model.Transfer, error) {
	q := s.db.Where("chain = ? AND `from` = ? AND fee_paid IS NULL AND error IS NULL", chain, sender)
	if token == nil {
		q = q.Where("token IS NULL")
	} else {
		q = q.Where("token = ?", *token)
	}
	var out []*model.Transfer
	err := q.Find(&out).Error
	return out, errors.Wrap(err, "queue: get unpaid transfers")
}

// RemapTransferTx bulk-updates every transfer pointing at any of oldTxIDs
// to point at newTxID, in one statement — used by replacement-chain
// confirmation cleanup (spec §3, §4.G step 8) and must always run inside
// the caller's transaction.
func (s *Store) RemapTransferTx(tx Tx, oldTxIDs []int64, newTxID int64) error {
	if len(oldTxIDs) == 0 {
		return nil
	}
	err := tx.db().Model(&model.Transfer{}).
		Where("tx_id IN (?)", oldTxIDs).
		Update("tx_id", newTxID).Error
	return errors.Wrap(err, "queue: remap transfer tx")
}

// CleanupTransferTx clears tx_id on every transfer attached to a
// cancelled/deleted tx that should return to the queued state (used by the
// processor when it discards an exhausted FAUCET.create tx, never by
// normal confirmation flow — a confirmed tx's transfers move to Done
// instead).
func (s *Store) CleanupTransferTx(txID int64) error {
	err := s.db.Model(&model.Transfer{}).
		Where("tx_id = ?", txID).
		Update("tx_id", nil).Error
	return errors.Wrap(err, "queue: cleanup transfer tx")
}

// MarkTransfersFailed sets error on every transfer in ids — used by the
// batcher's validation pass for malformed addresses (spec §4.E).
func (s *Store) MarkTransfersFailed(ids []int64, reason string) error {
	if len(ids) == 0 {
		return nil
	}
	err := s.db.Model(&model.Transfer{}).
		Where("id IN (?)", ids).
		Update("error", reason).Error
	return errors.Wrap(err, "queue: mark transfers failed")
}
