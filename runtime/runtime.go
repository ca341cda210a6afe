// Package runtime implements spec §4.I: it supervises one pipeline task
// per (sender, chain) pair, owns the per-chain rpcpool.Pool instances,
// wires the batcher, allowance manager, processor and status aggregator
// together, and exposes the caller-facing command/query surface of §6.
package runtime

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	redis "github.com/go-redis/redis/v7"
	"github.com/pkg/errors"

	"github.com/golemfactory/evmpay/allowance"
	"github.com/golemfactory/evmpay/config"
	"github.com/golemfactory/evmpay/events"
	evmlog "github.com/golemfactory/evmpay/log"
	"github.com/golemfactory/evmpay/model"
	"github.com/golemfactory/evmpay/processor"
	"github.com/golemfactory/evmpay/queue"
	"github.com/golemfactory/evmpay/rpcpool"
	"github.com/golemfactory/evmpay/signer"
	"github.com/golemfactory/evmpay/status"
)

var logger = evmlog.NewModuleLogger(evmlog.ModuleRuntime)

type taskKey struct {
	Sender common.Address
	Chain  int64
}

// task is a running (sender, chain) pipeline: a gather loop and a
// processing loop share one lifetime, woken independently. wake lets
// Notify shorten the gather loop's next sleep per spec §5.
type task struct {
	cancel context.CancelFunc
	wake   chan struct{}
	done   chan struct{}
}

// Runtime is the process-wide supervisor. Construct one with New, then
// call AddAccount for every (sender, chain) pair that should be driven.
type Runtime struct {
	Config     *config.EngineConfig
	Store      *queue.Store
	Pools      map[int64]*rpcpool.Pool
	Signer     signer.Signer
	Allowance  *allowance.Manager
	Processor  *processor.Processor
	Aggregator *status.Aggregator

	mu    sync.Mutex
	tasks map[taskKey]*task
}

// Options bundles the external dependencies New needs beyond the engine
// config: the signer implementation, a durable queue handle already
// opened by the caller, and an optional Redis client for the rpcpool
// discovery cache (nil disables cross-restart discovery caching).
type Options struct {
	Store          *queue.Store
	Signer         signer.Signer
	DiscoveryCache *redis.Client
	ExternalEvents chan<- events.Event // optional in-process caller-facing sink
	Kafka          *KafkaEventSink     // optional durable fan-out of the event stream (SPEC_FULL.md DOMAIN STACK)
}

// New builds the full dependency graph: one rpcpool.Pool (and, where
// configured, one discoverer) per chain, the allowance manager, the
// transaction processor, and the status aggregator, then starts the
// aggregator's Run loop. It does not start any per-account pipeline
// tasks; call AddAccount for each (sender, chain) pair once accounts are
// known.
func New(cfg *config.EngineConfig, opts Options) (*Runtime, error) {
	if opts.Store == nil {
		return nil, errors.New("runtime: a queue store is required")
	}
	if opts.Signer == nil {
		return nil, errors.New("runtime: a signer is required")
	}

	pools := map[int64]*rpcpool.Pool{}
	for chainID, cc := range cfg.Chains {
		pool := rpcpool.NewPool(chainID)
		for _, url := range cc.RPCEndpoints {
			pool.AddEndpoint(staticEndpointParams(chainID, url))
		}
		pools[chainID] = pool

		var sources []string
		for _, s := range cc.DNSDiscoverySources {
			sources = append(sources, "dns:"+s)
		}
		for _, s := range cc.HTTPDiscoverySources {
			sources = append(sources, s)
		}
		if len(sources) > 0 {
			disc := rpcpool.NewDiscoverer(pool, cfg.ExternalDiscoveryInterval, sources, opts.DiscoveryCache)
			go disc.Run(context.Background())
		}
	}

	rawEvents := make(chan events.Event, 1024)
	agg := status.New(rawEvents, fanOutExternal(opts.ExternalEvents, opts.Kafka))

	alw := &allowance.Manager{Store: opts.Store, Pools: pools, Signer: opts.Signer, Events: rawEvents}
	proc := processor.New(opts.Store, pools, opts.Signer, cfg, alw, rawEvents)

	r := &Runtime{
		Config:     cfg,
		Store:      opts.Store,
		Pools:      pools,
		Signer:     opts.Signer,
		Allowance:  alw,
		Processor:  proc,
		Aggregator: agg,
		tasks:      map[taskKey]*task{},
	}

	go agg.Run(context.Background())
	go r.runVerifySweeps(context.Background())

	return r, nil
}

// staticEndpointParams fills in the same fixed timeouts the discovered-
// endpoint path uses (rpcpool/discovery.go), since ChainConfig only
// carries bare URLs for statically configured endpoints; an operator who
// needs per-endpoint tuning adds it through DNS/HTTP discovery instead.
func staticEndpointParams(chainID int64, url string) model.EndpointParams {
	return model.EndpointParams{
		ID:                   "static|" + url,
		URL:                  url,
		Name:                 url,
		ChainID:              chainID,
		VerifyIntervalSecs:   60,
		TimeoutMS:            5000,
		MaxHeadBehindSecs:    120,
		MaxConsecutiveErrors: 5,
	}
}

// fanOutExternal merges an optional in-process sink and an optional
// Kafka sink into the single external channel status.New expects. If
// neither is set, it returns nil (no external forwarding).
func fanOutExternal(external chan<- events.Event, kafka *KafkaEventSink) chan<- events.Event {
	if external == nil && kafka == nil {
		return nil
	}
	merged := make(chan events.Event, 1024)
	go func() {
		for e := range merged {
			if external != nil {
				select {
				case external <- e:
				default:
				}
			}
			if kafka != nil {
				kafka.publish(e)
			}
		}
	}()
	return merged
}

// runVerifySweeps periodically asks every pool to verify endpoints whose
// interval has elapsed (spec §4.A); a full sweep only runs eagerly from
// inside Pool.Call when no endpoint is currently allowed.
func (r *Runtime) runVerifySweeps(ctx context.Context) {
	t := time.NewTicker(30 * time.Second)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			for chainID, pool := range r.Pools {
				if err := pool.VerifyDue(ctx); err != nil {
					logger.Warn("endpoint verification sweep failed", "chain", chainID, "err", err)
				}
			}
		}
	}
}
