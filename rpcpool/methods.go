package rpcpool

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
)

// This file wraps every eth_* method the core needs (spec §4.A) behind a
// typed Go API, in the shape of the teacher's own client package
// (client/bridge_client.go), but routed through the pool's scoring and
// retry logic instead of a single persistent connection.

func (p *Pool) ChainID(ctx context.Context) (int64, error) {
	var hex string
	if err := p.Call(ctx, "eth_chainId", nil, &hex); err != nil {
		return 0, err
	}
	v, err := parseHexUint64(hex)
	return int64(v), err
}

func (p *Pool) BlockNumber(ctx context.Context) (uint64, error) {
	var hex string
	if err := p.Call(ctx, "eth_blockNumber", nil, &hex); err != nil {
		return 0, err
	}
	return parseHexUint64(hex)
}

func (p *Pool) GetBalance(ctx context.Context, addr common.Address, blockTag string) (*big.Int, error) {
	var hex string
	if err := p.Call(ctx, "eth_getBalance", []interface{}{addr, blockTag}, &hex); err != nil {
		return nil, err
	}
	return hexutil.DecodeBig(hex)
}

// CallContract performs an eth_call, returning the raw result bytes. Used
// by the processor's gas/cost estimation path and by ERC-20 balanceOf/
// allowance reads.
func (p *Pool) CallContract(ctx context.Context, to common.Address, data []byte, blockTag string) ([]byte, error) {
	msg := map[string]interface{}{"to": to, "data": hexutil.Encode(data)}
	var hex string
	if err := p.Call(ctx, "eth_call", []interface{}{msg, blockTag}, &hex); err != nil {
		return nil, err
	}
	return hexutil.Decode(hex)
}

// EstimateGas mirrors eth_estimateGas; errors returned here are passed
// through unmodified so the processor can pattern-match the provider's
// revert/OOF message text (spec §4.G step 5).
func (p *Pool) EstimateGas(ctx context.Context, from, to common.Address, value *big.Int, data []byte) (uint64, error) {
	msg := map[string]interface{}{"from": from, "to": to, "data": hexutil.Encode(data)}
	if value != nil {
		msg["value"] = hexutil.EncodeBig(value)
	}
	var hex string
	if err := p.Call(ctx, "eth_estimateGas", []interface{}{msg}, &hex); err != nil {
		return 0, err
	}
	return parseHexUint64(hex)
}

// GetTransactionCount reads the nonce at "latest" or "pending".
func (p *Pool) GetTransactionCount(ctx context.Context, addr common.Address, blockTag string) (uint64, error) {
	var hex string
	if err := p.Call(ctx, "eth_getTransactionCount", []interface{}{addr, blockTag}, &hex); err != nil {
		return 0, err
	}
	return parseHexUint64(hex)
}

func (p *Pool) SendRawTransaction(ctx context.Context, raw []byte) (common.Hash, error) {
	var hash common.Hash
	err := p.Call(ctx, "eth_sendRawTransaction", []interface{}{hexutil.Encode(raw)}, &hash)
	return hash, err
}

func (p *Pool) GetTransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	var r types.Receipt
	if err := p.Call(ctx, "eth_getTransactionReceipt", []interface{}{hash}, &r); err != nil {
		return nil, err
	}
	if r.TxHash == (common.Hash{}) {
		return nil, nil // not yet mined
	}
	return &r, nil
}

func (p *Pool) GetTransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error) {
	var raw map[string]interface{}
	if err := p.Call(ctx, "eth_getTransactionByHash", []interface{}{hash}, &raw); err != nil {
		return nil, false, err
	}
	if raw == nil {
		return nil, false, nil
	}
	pending := raw["blockNumber"] == nil
	return nil, pending, nil
}

type Block struct {
	Number       uint64
	Hash         common.Hash
	Timestamp    uint64
	BaseFeePerGas *big.Int
}

func (p *Pool) GetBlockByNumber(ctx context.Context, blockTag string) (*Block, error) {
	var raw struct {
		Number        string `json:"number"`
		Hash          common.Hash `json:"hash"`
		Timestamp     string `json:"timestamp"`
		BaseFeePerGas string `json:"baseFeePerGas"`
	}
	if err := p.Call(ctx, "eth_getBlockByNumber", []interface{}{blockTag, false}, &raw); err != nil {
		return nil, err
	}
	num, err := parseHexUint64(raw.Number)
	if err != nil {
		return nil, err
	}
	ts, err := parseHexUint64(raw.Timestamp)
	if err != nil {
		return nil, err
	}
	b := &Block{Number: num, Hash: raw.Hash, Timestamp: ts}
	if raw.BaseFeePerGas != "" {
		b.BaseFeePerGas, _ = hexutil.DecodeBig(raw.BaseFeePerGas)
	}
	return b, nil
}

type LogFilter struct {
	FromBlock uint64
	ToBlock   uint64
	Address   common.Address
	Topics    [][]common.Hash
}

func (p *Pool) GetLogs(ctx context.Context, f LogFilter) ([]types.Log, error) {
	q := map[string]interface{}{
		"fromBlock": hexutil.EncodeUint64(f.FromBlock),
		"toBlock":   hexutil.EncodeUint64(f.ToBlock),
		"address":   f.Address,
		"topics":    f.Topics,
	}
	var logs []types.Log
	err := p.Call(ctx, "eth_getLogs", []interface{}{q}, &logs)
	return logs, err
}
