// Package queue is the durable transfer/transaction queue of spec §4.C:
// ACID storage with transactional multi-row updates over the persisted
// model entities (transfers, transactions, allowances, scan cursors).
// Backed by jinzhu/gorm, matching the teacher's dependency on
// gorm+go-sql-driver/mysql for relational persistence.
package queue

import (
	"github.com/jinzhu/gorm"
	_ "github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"

	evmlog "github.com/golemfactory/evmpay/log"
	"github.com/golemfactory/evmpay/model"
)

var logger = evmlog.NewModuleLogger(evmlog.ModuleQueue)

// Store wraps a *gorm.DB and exposes the queue contract of spec §4.C. All
// multi-row mutations below take an explicit transaction, per the
// isolation requirement that confirmation cleanup and batch insertion are
// each a single atomic unit.
type Store struct {
	db *gorm.DB
}

// Open connects to a MySQL-compatible DSN and migrates the schema. The
// DSN and driver selection belong to the out-of-scope CLI/config layer in
// production; Open is the seam it calls into.
func Open(dsn string) (*Store, error) {
	db, err := gorm.Open("mysql", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "queue: open database")
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// OpenWithDB wraps an already-open gorm handle and migrates the schema,
// for callers that manage the connection themselves.
func OpenWithDB(db *gorm.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	return s.db.AutoMigrate(
		&model.Transfer{},
		&model.Transaction{},
		&model.Allowance{},
		&model.ScanCursor{},
	).Error
}

func (s *Store) Close() error {
	return s.db.Close()
}

func gorm_isNotFound(err error) bool {
	return err == gorm.ErrRecordNotFound
}

// withTx runs fn inside a transaction, committing on nil error and rolling
// back otherwise — the shape every multi-row mutation in this package
// uses.
func (s *Store) withTx(fn func(tx *gorm.DB) error) error {
	tx := s.db.Begin()
	if tx.Error != nil {
		return errors.Wrap(tx.Error, "queue: begin transaction")
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit().Error; err != nil {
		return errors.Wrap(err, "queue: commit transaction")
	}
	return nil
}
