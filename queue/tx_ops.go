package queue

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"

	"github.com/golemfactory/evmpay/model"
)

// InsertTx persists a new transaction row and returns its id.
func (s *Store) InsertTx(t *model.Transaction) (int64, error) {
	if err := s.db.Create(t).Error; err != nil {
		return 0, errors.Wrap(err, "queue: insert tx")
	}
	return t.ID, nil
}

// InsertTxTx is InsertTx scoped to an existing transaction (used by the
// batcher's atomic "insert tx + attach transfers" unit, spec §4.E).
func (s *Store) InsertTxTx(tx Tx, t *model.Transaction) (int64, error) {
	if err := tx.db().Create(t).Error; err != nil {
		return 0, errors.Wrap(err, "queue: insert tx (txn)")
	}
	return t.ID, nil
}

// AttachTransfers sets tx_id on every transfer in transferIDs, scoped to
// an existing transaction.
func (s *Store) AttachTransfers(tx Tx, transferIDs []int64, txID int64) error {
	if len(transferIDs) == 0 {
		return nil
	}
	err := tx.db().Model(&model.Transfer{}).
		Where("id IN (?)", transferIDs).
		Update("tx_id", txID).Error
	return errors.Wrap(err, "queue: attach transfers")
}

func (s *Store) UpdateTx(t *model.Transaction) error {
	return errors.Wrap(s.db.Save(t).Error, "queue: update tx")
}

func (s *Store) UpdateTxTx(tx Tx, t *model.Transaction) error {
	return errors.Wrap(tx.db().Save(t).Error, "queue: update tx (txn)")
}

func (s *Store) DeleteTx(id int64) error {
	return errors.Wrap(s.db.Delete(&model.Transaction{}, "id = ?", id).Error, "queue: delete tx")
}

func (s *Store) GetTx(id int64) (*model.Transaction, error) {
	var t model.Transaction
	err := s.db.Where("id = ?", id).First(&t).Error
	if err != nil {
		return nil, errors.Wrap(err, "queue: get tx")
	}
	return &t, nil
}

// GetNextTransactionsToProcess returns live transactions for (sender,
// chain), ordered so every replacement chain yields its current tail
// first: ORDER BY orig_tx_id DESC, id ASC (spec §4.C). Databases differ in
// where a bare DESC puts NULLs, so the query sorts on "orig_tx_id IS NULL"
// first: rows with orig_tx_id set (replacement tails) come before every
// un-replaced row, whatever the database's default NULL placement.
func (s *Store) GetNextTransactionsToProcess(sender common.Address, chain int64, limit int) ([]*model.Transaction, error) {
	var out []*model.Transaction
	err := s.db.
		Where("chain = ? AND `from` = ? AND processing > 0", chain, sender).
		Order("orig_tx_id IS NULL ASC, orig_tx_id DESC, id ASC").
		Limit(limit).
		Find(&out).Error
	return out, errors.Wrap(err, "queue: get next transactions to process")
}

// GetTransactionChain walks orig_tx_id backward, returning every member of
// the replacement chain id belongs to, tail-first.
func (s *Store) GetTransactionChain(id int64) ([]*model.Transaction, error) {
	var chain []*model.Transaction
	cur, err := s.GetTx(id)
	if err != nil {
		return nil, err
	}
	chain = append(chain, cur)
	for cur.OrigTxID != nil {
		cur, err = s.GetTx(*cur.OrigTxID)
		if err != nil {
			return nil, err
		}
		chain = append(chain, cur)
	}
	return chain, nil
}

// GetLastUnsentTx returns the most recent transaction that never reached
// broadcast_date, for administrative rollback (spec §4.C, supplemented
// per SPEC_FULL.md).
func (s *Store) GetLastUnsentTx() (*model.Transaction, error) {
	var t model.Transaction
	err := s.db.Where("broadcast_date IS NULL").Order("id DESC").First(&t).Error
	if err != nil {
		return nil, errors.Wrap(err, "queue: get last unsent tx")
	}
	return &t, nil
}

// ConfirmTransaction is the single atomic unit backing spec §4.G step 8's
// confirmation cleanup: every transfer attached to any sibling is
// remapped to the confirmed tx, all siblings are deleted, and the
// confirmed row is updated to a terminal, un-chained state. Must be
// called inside WithTransaction.
func (s *Store) ConfirmTransaction(tx Tx, confirmed *model.Transaction, siblingIDs []int64) error {
	if err := s.RemapTransferTx(tx, siblingIDs, confirmed.ID); err != nil {
		return err
	}
	if len(siblingIDs) > 0 {
		if err := tx.db().Delete(&model.Transaction{}, "id IN (?)", siblingIDs).Error; err != nil {
			return errors.Wrap(err, "queue: delete sibling transactions")
		}
	}
	confirmed.OrigTxID = nil
	confirmed.Processing = 0
	return s.UpdateTxTx(tx, confirmed)
}
