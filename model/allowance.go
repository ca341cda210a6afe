package model

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Allowance is the tuple (owner, token, spender, chain) -> (amount, tx,
// confirm_date, fee_paid) from spec §3. Per the open question recorded in
// spec §9, the stored Amount is never trusted on its own: it may say
// MAX_UINT256 while the on-chain value is still zero, until confirmation
// lands, so "sufficient" always requires ConfirmDate != nil as well.
type Allowance struct {
	ID      int64 `gorm:"primary_key"`
	Chain   int64 `gorm:"index"`
	Owner   common.Address `gorm:"index"`
	Token   common.Address `gorm:"index"`
	Spender common.Address `gorm:"index"`

	Amount      string // decimal string, base units
	TxID        *int64 `gorm:"index"`
	ConfirmDate *time.Time
	FeePaid     *string

	CreatedDate time.Time
}

// IsSufficient implements the spec §3 invariant: confirmed and stored
// amount >= half of MAX_UINT256.
func (a *Allowance) IsSufficient(halfMax func(string) bool) bool {
	return a.ConfirmDate != nil && halfMax(a.Amount)
}
