package processor

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNonceTrackerCacheHitSkipsRPC(t *testing.T) {
	tr := newNonceTracker()
	addr := common.HexToAddress("0x1111111111111111111111111111111111111111")
	tr.observe(1, addr, 5)

	// next must serve this purely from cache without dereferencing pool,
	// since observe already seeded an entry for (chain, sender).
	n, err := tr.next(context.Background(), nil, 1, addr)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), n)

	n2, err := tr.next(context.Background(), nil, 1, addr)
	require.NoError(t, err)
	assert.Equal(t, uint64(6), n2, "each assignment must bump the cached nonce by one")
}

func TestNonceTrackerObserveNeverMovesBackwards(t *testing.T) {
	tr := newNonceTracker()
	addr := common.HexToAddress("0x2222222222222222222222222222222222222222")
	tr.observe(1, addr, 10)
	tr.observe(1, addr, 3) // stale observation must not regress the cache

	n, err := tr.next(context.Background(), nil, 1, addr)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), n)
}

func TestNonceTrackerTracksChainsIndependently(t *testing.T) {
	tr := newNonceTracker()
	addr := common.HexToAddress("0x3333333333333333333333333333333333333333")
	tr.observe(1, addr, 7)
	tr.observe(2, addr, 42)

	n1, err := tr.next(context.Background(), nil, 1, addr)
	require.NoError(t, err)
	n2, err := tr.next(context.Background(), nil, 2, addr)
	require.NoError(t, err)

	assert.Equal(t, uint64(7), n1)
	assert.Equal(t, uint64(42), n2)
}
