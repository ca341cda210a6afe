// Package status implements the single aggregator task of spec §4.H: it
// consumes the raw event channel, folds events into a de-duplicated set
// of model.StatusProperty, forwards raw events to external subscribers,
// and emits StatusChanged snapshots when the set actually changed.
package status

import (
	"context"
	"sync"

	set "gopkg.in/fatih/set.v0"

	"github.com/golemfactory/evmpay/events"
	evmlog "github.com/golemfactory/evmpay/log"
	"github.com/golemfactory/evmpay/model"
)

var logger = evmlog.NewModuleLogger(evmlog.ModuleStatus)

// Aggregator owns the canonical StatusProperty set. Safe for its Run loop
// to be the sole writer; Snapshot is safe to call concurrently from
// query handlers (spec §4.I get_status).
type Aggregator struct {
	in       <-chan events.Event
	broadcast chan events.Event
	external chan<- events.Event // optional external mpsc sink

	mu         sync.Mutex
	properties map[model.StatusKey]model.StatusProperty
	// chainsWithProperties tracks which chains currently own at least one
	// property, so TransferFinished's "clear every property keyed to that
	// chain" doesn't have to scan the full map on every settlement.
	chainsWithProperties *set.Set
}

// New builds an aggregator reading from in. external may be nil.
func New(in <-chan events.Event, external chan<- events.Event) *Aggregator {
	return &Aggregator{
		in:                   in,
		broadcast:            make(chan events.Event, 256),
		external:             external,
		properties:           map[model.StatusKey]model.StatusProperty{},
		chainsWithProperties: set.New(),
	}
}

// Subscribe returns a channel of forwarded raw events (internal events
// suppressed), for external observers that want the full event stream
// rather than just status snapshots.
func (a *Aggregator) Subscribe() <-chan events.Event { return a.broadcast }

// Snapshot returns the current property set (spec §4.I get_status).
func (a *Aggregator) Snapshot() []model.StatusProperty {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]model.StatusProperty, 0, len(a.properties))
	for _, p := range a.properties {
		out = append(out, p)
	}
	return out
}

// Run consumes events until ctx is cancelled or the input channel closes.
func (a *Aggregator) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-a.in:
			if !ok {
				return
			}
			a.handle(e)
		}
	}
}

func (a *Aggregator) handle(e events.Event) {
	if !e.Internal {
		a.forward(e)
	}

	switch e.Kind {
	case events.KindTransferFinished:
		a.clearChain(e.Chain)
	case events.KindCantSign:
		a.upsert(cantSignProperty(e))
	case events.KindTransactionStuck:
		a.upsert(stuckProperty(e))
	case events.KindWeb3RpcMessage:
		a.upsert(model.StatusProperty{Variant: model.StatusWeb3RpcError, Chain: e.Chain, Message: e.RPCMessage})
	case events.KindInvalidChainID:
		a.upsert(model.StatusProperty{Variant: model.StatusInvalidChainID, Chain: e.Chain, Message: e.RPCMessage})
	default:
		return
	}
}

// upsert mutates an existing property with the same (variant, chain,
// address) in place, no-ops if the payload is identical, or appends a new
// one — spec §4.H's update rule.
func (a *Aggregator) upsert(p model.StatusProperty) {
	a.mu.Lock()
	key := p.Key()
	existing, had := a.properties[key]
	changed := !had || existing != p
	if changed {
		a.properties[key] = p
		a.chainsWithProperties.Add(p.Chain)
	}
	a.mu.Unlock()
	if changed {
		a.emitStatusChanged()
	}
}

func (a *Aggregator) clearChain(chain int64) {
	a.mu.Lock()
	if !a.chainsWithProperties.Has(chain) {
		a.mu.Unlock()
		return
	}
	changed := false
	for k := range a.properties {
		if k.Chain == chain {
			delete(a.properties, k)
			changed = true
		}
	}
	a.chainsWithProperties.Remove(chain)
	a.mu.Unlock()
	if changed {
		a.emitStatusChanged()
	}
}

func (a *Aggregator) emitStatusChanged() {
	a.forward(events.StatusChanged(a.Snapshot()))
}

func (a *Aggregator) forward(e events.Event) {
	select {
	case a.broadcast <- e:
	default:
		logger.Warn("broadcast channel full, dropping event", "kind", e.Kind)
	}
	if a.external != nil {
		select {
		case a.external <- e:
		default:
			logger.Warn("external channel full, dropping event", "kind", e.Kind)
		}
	}
}

func cantSignProperty(e events.Event) model.StatusProperty {
	return model.StatusProperty{Variant: model.StatusCantSign, Chain: e.Chain, Address: e.Addr}
}

func stuckProperty(e events.Event) model.StatusProperty {
	switch e.StuckReason {
	case model.StuckNoGas:
		return model.StatusProperty{Variant: model.StatusNoGas, Chain: e.Chain, Address: e.Addr, Balance: e.Balance, Missing: e.Missing}
	case model.StuckNoToken:
		return model.StatusProperty{Variant: model.StatusNoToken, Chain: e.Chain, Address: e.Addr, Balance: e.Balance, Missing: e.Missing}
	default:
		return model.StatusProperty{Variant: model.StatusTxStuck, Chain: e.Chain, Address: e.Addr}
	}
}
