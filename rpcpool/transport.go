package rpcpool

import (
	"context"
	"sync"

	gethrpc "github.com/ethereum/go-ethereum/rpc"
	"github.com/pkg/errors"
)

// clientCache lazily dials one *rpc.Client per endpoint URL and reuses it
// across calls — dialing is itself a suspension point and is only paid
// once per endpoint, not per call.
type clientCache struct {
	mu      sync.Mutex
	clients map[string]*gethrpc.Client
}

func newClientCache() *clientCache {
	return &clientCache{clients: map[string]*gethrpc.Client{}}
}

func (c *clientCache) get(ctx context.Context, url string) (*gethrpc.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cl, ok := c.clients[url]; ok {
		return cl, nil
	}
	cl, err := gethrpc.DialContext(ctx, url)
	if err != nil {
		return nil, errors.Wrapf(err, "rpcpool: dial %s", url)
	}
	c.clients[url] = cl
	return cl, nil
}

// doJSONRPCCall issues one JSON-RPC call against url using the shared
// client cache, the shape used throughout the teacher's own client
// package (client/bridge_client.go: ec.c.CallContext(ctx, &result,
// method, args...)).
func doJSONRPCCall(ctx context.Context, cache *clientCache, url, method string, params []interface{}, result interface{}) error {
	cl, err := cache.get(ctx, url)
	if err != nil {
		return err
	}
	if err := cl.CallContext(ctx, result, method, params...); err != nil {
		return errors.Wrapf(err, "rpcpool: call %s", method)
	}
	return nil
}
