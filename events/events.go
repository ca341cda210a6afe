// Package events defines the caller-facing event stream variants of spec
// §6, plus the internal raw-event plumbing the status aggregator (4.H)
// consumes.
package events

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/golemfactory/evmpay/model"
)

// Kind discriminates an Event's payload, mirroring spec §6's variant list.
type Kind string

const (
	KindTransferFinished     Kind = "TransferFinished"
	KindApproveFinished      Kind = "ApproveFinished"
	KindTransactionConfirmed Kind = "TransactionConfirmed"
	KindTransactionFailed    Kind = "TransactionFailed"
	KindTransactionStuck     Kind = "TransactionStuck"
	KindCantSign             Kind = "CantSign"
	KindWeb3RpcMessage       Kind = "Web3RpcMessage"
	KindInvalidChainID       Kind = "InvalidChainId"
	KindStatusChanged        Kind = "StatusChanged"
)

// Event is delivered in order per (sender, chain) — the processor emits
// these from a single task per pair, so ordering within a pair is free;
// the aggregator must not reorder across its fan-in.
type Event struct {
	Kind  Kind
	Chain int64
	Addr  common.Address

	Transfer *model.Transfer
	Tx       *model.Transaction
	Allowance *model.Allowance

	FailReason string
	StuckReason model.StuckReason
	// Balance and Missing carry the decimal base-unit figures for a
	// NoGas/NoToken stuck event (spec §6), so the aggregator can surface
	// them on the resulting StatusProperty without re-querying the chain.
	Balance string
	Missing string

	RPCMessage string

	Properties []model.StatusProperty

	// Internal marks events that exist purely for the aggregator's
	// bookkeeping (e.g. raw RPC successes) and must be suppressed before
	// reaching external subscribers (spec §4.H "internal RPC-success raw
	// events are suppressed").
	Internal bool
}

func TransferFinished(chain int64, t *model.Transfer, tx *model.Transaction) Event {
	return Event{Kind: KindTransferFinished, Chain: chain, Transfer: t, Tx: tx}
}

func ApproveFinished(chain int64, a *model.Allowance) Event {
	return Event{Kind: KindApproveFinished, Chain: chain, Allowance: a}
}

func TransactionConfirmed(chain int64, tx *model.Transaction) Event {
	return Event{Kind: KindTransactionConfirmed, Chain: chain, Tx: tx}
}

func TransactionFailed(chain int64, addr common.Address, tx *model.Transaction, reason string) Event {
	return Event{Kind: KindTransactionFailed, Chain: chain, Addr: addr, Tx: tx, FailReason: reason}
}

func TransactionStuck(chain int64, addr common.Address, tx *model.Transaction, reason model.StuckReason) Event {
	return Event{Kind: KindTransactionStuck, Chain: chain, Addr: addr, Tx: tx, StuckReason: reason}
}

// TransactionStuckFunding is TransactionStuck for the NoGas/NoToken
// variants, which additionally carry the observed balance and the amount
// still needed (spec §3 StatusProperty, §6 TransactionStuck).
func TransactionStuckFunding(chain int64, addr common.Address, tx *model.Transaction, reason model.StuckReason, balance, missing string) Event {
	e := TransactionStuck(chain, addr, tx, reason)
	e.Balance = balance
	e.Missing = missing
	return e
}

func CantSignTx(chain int64, addr common.Address, tx *model.Transaction) Event {
	return Event{Kind: KindCantSign, Chain: chain, Addr: addr, Tx: tx}
}

func CantSignAllowance(chain int64, addr common.Address, a *model.Allowance) Event {
	return Event{Kind: KindCantSign, Chain: chain, Addr: addr, Allowance: a}
}

func Web3RpcMessage(chain int64, message string) Event {
	return Event{Kind: KindWeb3RpcMessage, Chain: chain, RPCMessage: message, Internal: true}
}

// InvalidChainID reports a chain configured on this driver but rejected by
// the RPC endpoint's own chain id (spec §3 StatusProperty InvalidChainId) —
// distinct from KindWeb3RpcMessage so the aggregator can surface it as its
// own closed-set status variant instead of a generic RPC error.
func InvalidChainID(chain int64, message string) Event {
	return Event{Kind: KindInvalidChainID, Chain: chain, RPCMessage: message}
}

func StatusChanged(props []model.StatusProperty) Event {
	return Event{Kind: KindStatusChanged, Properties: props}
}
