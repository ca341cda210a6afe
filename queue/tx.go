package queue

import "github.com/jinzhu/gorm"

// Tx is a handle to an in-flight transaction, passed to queue methods that
// must run as part of a larger atomic unit (batching, confirmation
// cleanup). It exists so call sites outside this package can still
// sequence several Store operations atomically without reaching into
// gorm directly.
type Tx struct{ tx *gorm.DB }

func (t Tx) db() *gorm.DB { return t.tx }

// WithTransaction runs fn with a Tx bound to a single database
// transaction, committing iff fn returns nil.
func (s *Store) WithTransaction(fn func(tx Tx) error) error {
	return s.withTx(func(gtx *gorm.DB) error {
		return fn(Tx{tx: gtx})
	})
}
