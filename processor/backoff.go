package processor

import (
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum/common"

	"github.com/golemfactory/evmpay/config"
)

// stuckWaitKey identifies one funding-stuck condition: a given sender on a
// given chain is waiting on either NoGas or NoToken to clear. Each gets
// its own exponential backoff so an operator topping up gas doesn't reset
// an unrelated token top-up's schedule.
type stuckWaitKey struct {
	chain  int64
	sender common.Address
	reason string
}

// stuckWaiter tracks the exponential backoff described in spec §4.G step
//5 ("wait_start_s, multiplying by wait_mult each iteration up to
// wait_max_s") using cenkalti/backoff's ExponentialBackOff rather than
// hand-rolling the multiply-and-cap loop.
type stuckWaiter struct {
	mu    sync.Mutex
	cfg   config.BackoffConfig
	state map[stuckWaitKey]*backoff.ExponentialBackOff
}

func newStuckWaiter(cfg config.BackoffConfig) *stuckWaiter {
	return &stuckWaiter{cfg: cfg, state: map[stuckWaitKey]*backoff.ExponentialBackOff{}}
}

// next returns how long to sleep before retrying this (sender, chain,
// reason) again, advancing the backoff's internal state.
func (w *stuckWaiter) next(chain int64, sender common.Address, reason string) time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	key := stuckWaitKey{chain: chain, sender: sender, reason: reason}
	b, ok := w.state[key]
	if !ok {
		b = backoff.NewExponentialBackOff()
		b.InitialInterval = time.Duration(w.cfg.StartSecs) * time.Second
		b.MaxInterval = time.Duration(w.cfg.MaxSecs) * time.Second
		b.Multiplier = w.cfg.Multiplier
		b.RandomizationFactor = 0
		b.MaxElapsedTime = 0 // never give up; the condition clearing is what stops the wait
		b.Reset()            // start from InitialInterval, not the constructor's default
		w.state[key] = b
	}
	return b.NextBackOff()
}

// clear drops the backoff state for (sender, chain, reason) once the
// underlying condition resolves, so the next occurrence starts fresh at
// wait_start_s rather than continuing from wherever it left off.
func (w *stuckWaiter) clear(chain int64, sender common.Address, reason string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.state, stuckWaitKey{chain: chain, sender: sender, reason: reason})
}
