package model

import "github.com/ethereum/go-ethereum/common"

// StatusVariant is the tag half of a StatusProperty (spec §3).
type StatusVariant string

const (
	StatusInvalidChainID StatusVariant = "InvalidChainId"
	StatusCantSign       StatusVariant = "CantSign"
	StatusNoGas          StatusVariant = "NoGas"
	StatusNoToken        StatusVariant = "NoToken"
	StatusTxStuck        StatusVariant = "TxStuck"
	StatusWeb3RpcError   StatusVariant = "Web3RpcError"
)

// StuckReason is the closed set of reasons a live transaction can be
// stuck without being terminal (spec §4.G, §6).
type StuckReason string

const (
	StuckNoGas      StuckReason = "NoGas"
	StuckNoToken    StuckReason = "NoToken"
	StuckGasPriceLow StuckReason = "GasPriceLow"
)

// StatusProperty is a tagged value indicating a named systemic issue,
// keyed by (Variant, Chain, Address) for de-duplication (spec §3).
type StatusProperty struct {
	Variant StatusVariant
	Chain   int64
	Address common.Address

	Message string
	Missing string // decimal string, for NoGas/NoToken
	Balance string // decimal string, for NoGas/NoToken
}

// StatusKey is the de-duplication key the aggregator indexes properties by:
// same variant + same (chain, address) mutate in place rather than append.
type StatusKey struct {
	Variant StatusVariant
	Chain   int64
	Address common.Address
}

func (s StatusProperty) Key() StatusKey {
	return StatusKey{Variant: s.Variant, Chain: s.Chain, Address: s.Address}
}
