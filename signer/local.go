package signer

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// LocalKeySigner is a reference Signer backed by in-memory private keys.
// It exists to make the core runnable end to end in tests and small
// deployments; production deployments inject their own Signer (e.g. one
// backed by an HSM or a remote keystore) behind the same interface.
type LocalKeySigner struct {
	mu   sync.RWMutex
	keys map[common.Address]*ecdsa.PrivateKey
}

func NewLocalKeySigner() *LocalKeySigner {
	return &LocalKeySigner{keys: map[common.Address]*ecdsa.PrivateKey{}}
}

// AddKey registers a private key for the address it derives to.
func (s *LocalKeySigner) AddKey(key *ecdsa.PrivateKey) common.Address {
	addr := crypto.PubkeyToAddress(key.PublicKey)
	s.mu.Lock()
	s.keys[addr] = key
	s.mu.Unlock()
	return addr
}

func (s *LocalKeySigner) CanSign(address common.Address) (bool, Reason) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.keys[address]; !ok {
		return false, ReasonUnknownAddress
	}
	return true, ReasonOK
}

func (s *LocalKeySigner) Sign(ctx context.Context, address common.Address, utx UnsignedTx) ([]byte, common.Hash, Reason, error) {
	s.mu.RLock()
	key, ok := s.keys[address]
	s.mu.RUnlock()
	if !ok {
		return nil, common.Hash{}, ReasonUnknownAddress, nil
	}

	value := utx.Value
	if value == nil {
		value = big.NewInt(0)
	}
	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   big.NewInt(utx.ChainID),
		Nonce:     utx.Nonce,
		GasTipCap: utx.PriorityFee,
		GasFeeCap: utx.MaxFeePerGas,
		Gas:       utx.GasLimit,
		To:        &utx.To,
		Value:     value,
		Data:      utx.Data,
	})

	signerImpl := types.NewLondonSigner(big.NewInt(utx.ChainID))
	signed, err := types.SignTx(tx, signerImpl, key)
	if err != nil {
		return nil, common.Hash{}, ReasonRefused, err
	}
	raw, err := signed.MarshalBinary()
	if err != nil {
		return nil, common.Hash{}, ReasonRefused, err
	}
	return raw, signed.Hash(), ReasonOK, nil
}
