package queue

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"

	"github.com/golemfactory/evmpay/model"
)

// FindAllowance looks up the (owner, token, spender, chain) row, if any.
func (s *Store) FindAllowance(chain int64, owner, token, spender common.Address) (*model.Allowance, error) {
	var a model.Allowance
	err := s.db.Where("chain = ? AND owner = ? AND token = ? AND spender = ?", chain, owner, token, spender).
		First(&a).Error
	if gorm_isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "queue: find allowance")
	}
	return &a, nil
}

func (s *Store) InsertAllowance(a *model.Allowance) (int64, error) {
	if err := s.db.Create(a).Error; err != nil {
		return 0, errors.Wrap(err, "queue: insert allowance")
	}
	return a.ID, nil
}

// InsertAllowanceTx is InsertAllowance scoped to an existing transaction,
// used when inserting an ERC20.approve tx and its allowance row
// atomically (spec §4.F).
func (s *Store) InsertAllowanceTx(tx Tx, a *model.Allowance) (int64, error) {
	if err := tx.db().Create(a).Error; err != nil {
		return 0, errors.Wrap(err, "queue: insert allowance (txn)")
	}
	return a.ID, nil
}

func (s *Store) UpdateAllowance(a *model.Allowance) error {
	return errors.Wrap(s.db.Save(a).Error, "queue: update allowance")
}

func (s *Store) GetAllowanceByTx(txID int64) (*model.Allowance, error) {
	var a model.Allowance
	err := s.db.Where("tx_id = ?", txID).First(&a).Error
	if gorm_isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "queue: get allowance by tx")
	}
	return &a, nil
}
