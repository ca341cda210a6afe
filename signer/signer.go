// Package signer defines the signing contract of spec §4.B: turning an
// unsigned transaction into a signed raw payload for a given sender
// address, plus a synchronous capability probe. The concrete signing
// algorithm (secp256k1 over the EIP-1559 tx form) is a pluggable
// implementation behind this interface — custody of keys is explicitly
// out of the core's scope (spec §1 Non-goals).
package signer

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// UnsignedTx is the minimal shape a Signer needs to produce a raw,
// signed EIP-1559 transaction; it mirrors the fields model.Transaction
// carries before signing.
type UnsignedTx struct {
	ChainID      int64
	Nonce        uint64
	To           common.Address
	Value        *big.Int
	Data         []byte
	GasLimit     uint64
	MaxFeePerGas *big.Int
	PriorityFee  *big.Int
}

// Reason distinguishes a signing refusal from a transport error — the
// processor treats the two very differently (spec §4.G step 2: CantSign
// vs. a retryable RPC failure).
type Reason string

const (
	ReasonOK             Reason = ""
	ReasonUnknownAddress Reason = "unknown_address"
	ReasonLocked         Reason = "locked"
	ReasonRefused        Reason = "refused"
)

// Signer is the contract every pipeline task depends on; it never touches
// the network or the queue.
type Signer interface {
	// CanSign is a synchronous capability probe used before doing any
	// other work for a transaction (spec §4.G step 2).
	CanSign(address common.Address) (ok bool, reason Reason)

	// Sign returns the raw signed transaction bytes and its hash, or a
	// Reason distinct from a transport error.
	Sign(ctx context.Context, address common.Address, tx UnsignedTx) (raw []byte, hash common.Hash, reason Reason, err error)
}

// SignError wraps a non-OK Reason so callers that want a plain error can
// get one without losing the Reason for classification.
type SignError struct {
	Reason Reason
}

func (e *SignError) Error() string { return "signer: " + string(e.Reason) }
