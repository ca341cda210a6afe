// Package rpcpool implements the self-scoring, self-healing JSON-RPC
// endpoint multiplexer of spec §4.A: one Pool per chain, picking the
// healthiest endpoint for each call, demoting failing ones, and
// periodically re-verifying the full set.
package rpcpool

import (
	"context"
	"math"
	"sync"
	"time"

	uuid "github.com/hashicorp/go-uuid"
	"github.com/pkg/errors"
	"go.uber.org/atomic"

	evmlog "github.com/golemfactory/evmpay/log"
	"github.com/golemfactory/evmpay/model"
)

// NewEndpointID generates a fresh endpoint id for a statically configured
// endpoint that didn't have one assigned by the config layer.
func NewEndpointID() string {
	id, err := uuid.GenerateUUID()
	if err != nil {
		return "endpoint-" + time.Now().UTC().Format(time.RFC3339Nano)
	}
	return id
}

var logger = evmlog.NewModuleLogger(evmlog.ModuleRPCPool)

// lastSuccessSlots is the size of the "most recently succeeded" deque used
// for the continuity bonus in scoring (spec §4.A).
const lastSuccessSlots = 4

// Pool multiplexes JSON-RPC calls for a single chain across many
// endpoints. Safe for concurrent use by every pipeline task for that
// chain.
type Pool struct {
	chainID int64

	mu        sync.RWMutex // guards endpoints map membership
	endpoints map[string]*model.EndpointInfo

	verifyMu  sync.Mutex // serializes full verification sweeps
	verifying atomic.Bool

	lastSuccessMu sync.Mutex
	lastSuccess   []string // front = most recently succeeded endpoint id

	clients *clientCache

	discovery *discoverer
}

// NewPool constructs an empty pool for chainID; endpoints are added with
// AddEndpoint (static config) or kept current by a discoverer (external
// sources).
func NewPool(chainID int64) *Pool {
	return &Pool{
		chainID:   chainID,
		endpoints: map[string]*model.EndpointInfo{},
		clients:   newClientCache(),
	}
}

// AddEndpoint registers a statically configured endpoint. Idempotent on
// ID — re-adding the same ID is a no-op so config reloads don't reset
// live scoring state.
func (p *Pool) AddEndpoint(params model.EndpointParams) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.endpoints[params.ID]; ok {
		return
	}
	p.endpoints[params.ID] = model.NewEndpointInfo(params)
}

// upsertFromDiscovery is called by the discoverer to add/refresh
// externally-sourced endpoints (spec §4.A "External discovery").
// Endpoints that disappeared from their source are soft-removed by
// removeStaleFromSource.
func (p *Pool) upsertFromDiscovery(params model.EndpointParams) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if existing, ok := p.endpoints[params.ID]; ok {
		existing.Params = params
		return
	}
	p.endpoints[params.ID] = model.NewEndpointInfo(params)
}

// removeStaleFromSource soft-removes (sets RemovedAt on) every endpoint
// from sourceID that is absent from stillPresent. The mark is set on the
// first refresh that misses the endpoint; no grace period is applied, and
// the discoverer's grace field is not consulted.
func (p *Pool) removeStaleFromSource(sourceID string, stillPresent map[string]bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := time.Now()
	for _, e := range p.endpoints {
		if e.Params.SourceID == nil || *e.Params.SourceID != sourceID {
			continue
		}
		if stillPresent[e.Params.ID] {
			continue
		}
		if e.RemovedAt.Load().IsZero() {
			e.RemovedAt.Store(now)
		}
	}
}

func (p *Pool) snapshot() []*model.EndpointInfo {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*model.EndpointInfo, 0, len(p.endpoints))
	for _, e := range p.endpoints {
		out = append(out, e)
	}
	return out
}

// score implements the formula in spec §4.A:
//   75*exp(-(P_critical + P_ms + P_head + P_errors)/2000) + bonus
// Endpoints with IsAllowed == false score 0.
func (p *Pool) score(e *model.EndpointInfo) float64 {
	if !e.IsAllowed.Load() {
		return 0
	}
	penalty := float64(e.PenaltyFromLastCriticalError.Load() +
		e.PenaltyFromMS.Load() +
		e.PenaltyFromHeadBehind.Load() +
		e.PenaltyFromErrors.Load())
	base := 75 * math.Exp(-penalty/2000)
	return base + p.continuityBonus(e.Params.ID)
}

func (p *Pool) continuityBonus(id string) float64 {
	p.lastSuccessMu.Lock()
	defer p.lastSuccessMu.Unlock()
	bonuses := [lastSuccessSlots]float64{10, 7, 5, 3}
	for i, sid := range p.lastSuccess {
		if i >= lastSuccessSlots {
			break
		}
		if sid == id {
			return bonuses[i]
		}
	}
	return 0
}

func (p *Pool) recordSuccess(id string) {
	p.lastSuccessMu.Lock()
	defer p.lastSuccessMu.Unlock()
	filtered := p.lastSuccess[:0]
	for _, sid := range p.lastSuccess {
		if sid != id {
			filtered = append(filtered, sid)
		}
	}
	p.lastSuccess = append([]string{id}, filtered...)
	if len(p.lastSuccess) > lastSuccessSlots {
		p.lastSuccess = p.lastSuccess[:lastSuccessSlots]
	}
}

// pickBest returns the allowed, live (non soft-removed) endpoint with the
// highest score, excluding any id in tried.
func (p *Pool) pickBest(tried map[string]bool) *model.EndpointInfo {
	var best *model.EndpointInfo
	var bestScore float64 = -1
	for _, e := range p.snapshot() {
		if tried[e.Params.ID] {
			continue
		}
		if !e.RemovedAt.Load().IsZero() {
			continue
		}
		sc := p.score(e)
		if sc <= 0 {
			continue
		}
		if sc > bestScore {
			bestScore = sc
			best = e
		}
	}
	return best
}

func (p *Pool) anyAllowed() bool {
	for _, e := range p.snapshot() {
		if e.IsAllowed.Load() && e.RemovedAt.Load().IsZero() {
			return true
		}
	}
	return false
}

// Call issues method against the best-scoring endpoint, retrying on the
// next-best endpoint on failure until every endpoint has been tried once
// (spec §4.A "on failure retries on the next-best endpoint"). If no
// endpoint is currently allowed, Call blocks on a full verification sweep
// first.
func (p *Pool) Call(ctx context.Context, method string, params []interface{}, result interface{}) error {
	if !p.anyAllowed() {
		if err := p.VerifyAll(ctx); err != nil {
			return err
		}
		if !p.anyAllowed() {
			return errors.Errorf("rpcpool: no allowed endpoint for chain %d", p.chainID)
		}
	} else if !p.verifying.Load() {
		// Not blocking: kick a background sweep for anything whose
		// interval has elapsed, and proceed with current scores.
		go func() {
			_ = p.VerifyDue(context.Background())
		}()
	}

	tried := map[string]bool{}
	var lastErr error
	for {
		ep := p.pickBest(tried)
		if ep == nil {
			if lastErr != nil {
				return lastErr
			}
			return errors.Errorf("rpcpool: all endpoints exhausted for chain %d method %s", p.chainID, method)
		}
		tried[ep.Params.ID] = true

		callCtx, cancel := context.WithTimeout(ctx, time.Duration(ep.Params.TimeoutMS)*time.Millisecond)
		err := doJSONRPCCall(callCtx, p.clients, ep.Params.URL, method, params, result)
		cancel()

		stats := ep.MethodStatsFor(method)
		if err != nil {
			stats.Error.Inc()
			ep.ErrorCount.Inc()
			consec := ep.ConsecutiveErrors.Inc()
			ep.PenaltyFromLastCriticalError.Add(10)
			if int(consec) >= ep.Params.MaxConsecutiveErrors && ep.Params.MaxConsecutiveErrors > 0 {
				ep.IsAllowed.Store(false)
			}
			lastErr = errors.Wrapf(err, "rpcpool: %s via %s", method, ep.Params.Name)
			logger.Warn("rpc call failed", "chain", p.chainID, "endpoint", ep.Params.Name, "method", method, "err", err)
			continue
		}
		stats.Success.Inc()
		ep.SuccessCount.Inc()
		ep.ConsecutiveErrors.Store(0)
		p.recordSuccess(ep.Params.ID)
		return nil
	}
}
