package model

// ScanCursor is (chain, filter) -> (start_block, last_block), owned by the
// out-of-scope blockchain-history scanner. The core only needs the table
// to exist and its ids not to collide with the other tables (spec §3).
type ScanCursor struct {
	ID         int64 `gorm:"primary_key"`
	Chain      int64 `gorm:"index"`
	Filter     string
	StartBlock uint64
	LastBlock  uint64
}
