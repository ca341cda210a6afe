// Package model holds the six persisted entities of spec §3: Transfer,
// Transaction, Allowance, Endpoint, ScanCursor, and StatusProperty.
package model

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// TxType distinguishes a native gas transfer from a token transfer, per
// the caller-facing "transfer" command (spec §6).
type TxType int

const (
	TxTypeGas TxType = iota
	TxTypeToken
)

// Transfer represents a caller's intent to move amount of token from
// sender to receiver on chain (spec §3). Lifecycle is encoded entirely by
// which nullable columns are populated — there is no separate status enum,
// matching the teacher's preference for column-derived state over a
// redundant state field (see storage/database's liveness-by-presence
// convention).
type Transfer struct {
	ID            int64  `gorm:"primary_key"`
	PaymentID     string `gorm:"index"`
	Chain         int64  `gorm:"index"`
	TxType        TxType
	From          common.Address `gorm:"index"`
	Receiver      common.Address
	Token         *common.Address `gorm:"index"` // nil => native gas token
	Amount        string          // decimal string, base units
	DepositID     *string         `gorm:"index"`
	DepositFinish bool

	TxID     *int64 `gorm:"index"`
	FeePaid  *string
	PaidDate *time.Time
	Error    *string

	Deadline  *time.Time
	CreatedAt time.Time
}

// State reports the coarse lifecycle state implied by Transfer's nullable
// columns, per spec §3.
type TransferState int

const (
	TransferQueued TransferState = iota
	TransferProcessing
	TransferDone
	TransferFailed
)

func (t *Transfer) State() TransferState {
	switch {
	case t.Error != nil:
		return TransferFailed
	case t.FeePaid != nil && t.PaidDate != nil:
		return TransferDone
	case t.TxID != nil:
		return TransferProcessing
	default:
		return TransferQueued
	}
}

// IsTerminal reports whether this transfer has reached Done or Failed and
// must never transition again (spec §3 invariant).
func (t *Transfer) IsTerminal() bool {
	s := t.State()
	return s == TransferDone || s == TransferFailed
}
