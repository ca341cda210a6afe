package processor

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	lru "github.com/hashicorp/golang-lru"

	"github.com/golemfactory/evmpay/rpcpool"
)

// nonceCacheSize bounds the number of (chain, sender) pairs tracked at
// once; a driver operating far more distinct senders than this evicts the
// coldest entries and simply re-reads the chain on the next assignment.
const nonceCacheSize = 4096

type nonceKey struct {
	chain  int64
	sender common.Address
}

// nonceTracker remembers the next nonce to assign per (sender, chain), so
// repeated calls to assignNonce within one gather cycle don't each round-
// trip to the RPC pool — only the first nonce for a sender in a session is
// read from the chain; subsequent ones are assigned locally and bumped
// on every assignment, mirroring the single-writer-per-sender guarantee
// spec §5 describes.
type nonceTracker struct {
	mu    sync.Mutex
	cache *lru.Cache
}

func newNonceTracker() *nonceTracker {
	c, err := lru.New(nonceCacheSize)
	if err != nil {
		panic("processor: failed to build nonce cache: " + err.Error())
	}
	return &nonceTracker{cache: c}
}

// next returns the nonce to assign to the next fresh transaction for
// (sender, chain), consulting the chain only the first time a sender is
// seen in this cache's lifetime.
func (t *nonceTracker) next(ctx context.Context, pool *rpcpool.Pool, chain int64, sender common.Address) (uint64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := nonceKey{chain: chain, sender: sender}
	if v, ok := t.cache.Get(key); ok {
		n := v.(uint64)
		t.cache.Add(key, n+1)
		return n, nil
	}

	n, err := pool.GetTransactionCount(ctx, sender, "latest")
	if err != nil {
		return 0, err
	}
	t.cache.Add(key, n+1)
	return n, nil
}

// observe folds in a nonce read from the chain (e.g. after a confirmation
// loop reads "pending") so the local tracker never drifts behind reality.
func (t *nonceTracker) observe(chain int64, sender common.Address, seen uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := nonceKey{chain: chain, sender: sender}
	if v, ok := t.cache.Get(key); ok {
		if v.(uint64) >= seen {
			return
		}
	}
	t.cache.Add(key, seen)
}
