package rpcpool

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/golemfactory/evmpay/model"
)

// blockHeader is the subset of eth_getBlockByNumber's result this package
// needs.
type blockHeader struct {
	Number    string `json:"number"`
	Timestamp string `json:"timestamp"`
}

// VerifyDue verifies every endpoint whose LastVerified is older than its
// configured interval. Unlike VerifyAll, it does not serialize against the
// verify mutex held by a concurrent in-flight sweep — if one is already
// running, it's a no-op (spec §4.A: "Calls are never blocked on the sweep
// mutex").
func (p *Pool) VerifyDue(ctx context.Context) error {
	if !p.verifyMu.TryLock() {
		return nil
	}
	defer p.verifyMu.Unlock()
	return p.verifyLocked(ctx, false)
}

// VerifyAll forces verification of the full endpoint set and blocks until
// done — used when no endpoint is currently allowed.
func (p *Pool) VerifyAll(ctx context.Context) error {
	p.verifyMu.Lock()
	defer p.verifyMu.Unlock()
	return p.verifyLocked(ctx, true)
}

// verifyLocked runs one verification sweep and returns the combined
// error from every probe that failed for a reason worth surfacing to the
// caller (multierr.Append, rather than errgroup's first-error-wins,
// since a sweep across many independent endpoints should report every
// failure, not just whichever goroutine lost the race).
func (p *Pool) verifyLocked(ctx context.Context, force bool) error {
	p.verifying.Store(true)
	defer p.verifying.Store(false)

	eps := p.snapshot()
	g, gctx := errgroup.WithContext(ctx)
	now := time.Now()

	var errsMu sync.Mutex
	var errs error
	for _, e := range eps {
		e := e
		if !force && now.Sub(e.LastVerified.Load()) < time.Duration(e.Params.VerifyIntervalSecs)*time.Second {
			continue
		}
		g.Go(func() error {
			if err := p.verifyOne(gctx, e); err != nil {
				errsMu.Lock()
				errs = multierr.Append(errs, err)
				errsMu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return errs
}

// verifyOne runs a single verification probe and applies its result to
// the endpoint's live state, per spec §4.A. All three rolling penalties
// are reset at the start so they reflect only the latest probe. It
// returns a non-nil error when the probe itself failed for a reason
// worth surfacing in a sweep-level log line, even though a single failed
// endpoint never fails the sweep as a whole.
func (p *Pool) verifyOne(ctx context.Context, e *model.EndpointInfo) error {
	e.PenaltyFromMS.Store(0)
	e.PenaltyFromHeadBehind.Store(0)
	e.PenaltyFromErrors.Store(0)

	res := p.probe(ctx, e)
	e.LastVerified.Store(time.Now())
	e.LastVerifyKind.Store(int32(res.Kind))

	switch res.Kind {
	case model.VerifyOk:
		e.PenaltyFromMS.Add(res.ElapsedMS / 10)
		e.PenaltyFromHeadBehind.Add(res.HeadLagS)
		e.IsAllowed.Store(true)
		// halve the critical-error penalty on a clean probe so a
		// previously-flaky endpoint recovers gradually rather than
		// snapping straight back to full trust.
		e.PenaltyFromLastCriticalError.Store(e.PenaltyFromLastCriticalError.Load() / 2)
		return nil
	default:
		e.IsAllowed.Store(false)
		e.PenaltyFromLastCriticalError.Add(10)
		logger.Warn("endpoint verification failed", "endpoint", e.Params.Name, "kind", res.Kind, "msg", res.Message)
		return errors.Errorf("rpcpool: endpoint %s verification failed: %s", e.Params.Name, res.Message)
	}
}

func (p *Pool) probe(ctx context.Context, e *model.EndpointInfo) model.VerifyResult {
	start := time.Now()
	timeout := time.Duration(e.Params.TimeoutMS) * time.Millisecond
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var chainIDHex string
	if err := doJSONRPCCall(cctx, p.clients, e.Params.URL, "eth_chainId", nil, &chainIDHex); err != nil {
		if cctx.Err() != nil {
			return model.VerifyResult{Kind: model.VerifyUnreachable, Message: err.Error()}
		}
		return model.VerifyResult{Kind: model.VerifyOtherNetworkError, Message: err.Error()}
	}
	chainID, err := parseHexUint64(chainIDHex)
	if err != nil || int64(chainID) != p.chainID {
		return model.VerifyResult{Kind: model.VerifyWrongChainID, Message: chainIDHex}
	}

	var block blockHeader
	if err := doJSONRPCCall(cctx, p.clients, e.Params.URL, "eth_getBlockByNumber", []interface{}{"latest", false}, &block); err != nil {
		return model.VerifyResult{Kind: model.VerifyOtherNetworkError, Message: err.Error()}
	}
	if block.Number == "" {
		return model.VerifyResult{Kind: model.VerifyNoBlockInfo}
	}
	ts, err := parseHexUint64(block.Timestamp)
	if err != nil {
		return model.VerifyResult{Kind: model.VerifyNoBlockInfo}
	}
	blockTime := time.Unix(int64(ts), 0)
	lag := time.Since(blockTime)
	elapsed := time.Since(start)

	if int(lag.Seconds()) > e.Params.MaxHeadBehindSecs {
		return model.VerifyResult{
			Kind:      model.VerifyHeadBehind,
			BlockTime: blockTime,
			HeadLagS:  int64(lag.Seconds()),
			ElapsedMS: elapsed.Milliseconds(),
		}
	}
	return model.VerifyResult{
		Kind:      model.VerifyOk,
		HeadLagS:  int64(lag.Seconds()),
		ElapsedMS: elapsed.Milliseconds(),
	}
}
