package status

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/golemfactory/evmpay/events"
	"github.com/golemfactory/evmpay/model"
)

// drainEvent reads the next event from ch and requires it to be of kind.
// The aggregator forwards every non-internal raw event before the
// StatusChanged it may cause, so tests drain both in that order.
func drainEvent(t *testing.T, ch <-chan events.Event, kind events.Kind) events.Event {
	t.Helper()
	select {
	case e := <-ch:
		require.Equal(t, kind, e.Kind)
		return e
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for %s", kind)
		return events.Event{}
	}
}

func drainStatusChanged(t *testing.T, ch <-chan events.Event) events.Event {
	t.Helper()
	return drainEvent(t, ch, events.KindStatusChanged)
}

func runAggregator(t *testing.T) (*Aggregator, chan events.Event, context.CancelFunc) {
	in := make(chan events.Event, 16)
	agg := New(in, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go agg.Run(ctx)
	t.Cleanup(cancel)
	return agg, in, cancel
}

func TestAggregatorUpsertsNewProperty(t *testing.T) {
	agg, in, _ := runAggregator(t)
	sub := agg.Subscribe()

	addr := common.HexToAddress("0x1111111111111111111111111111111111111111")
	in <- events.CantSignTx(1, addr, nil)

	drainEvent(t, sub, events.KindCantSign)
	drainStatusChanged(t, sub)
	props := agg.Snapshot()
	require.Len(t, props, 1)
	assert.Equal(t, model.StatusCantSign, props[0].Variant)
	assert.Equal(t, addr, props[0].Address)
}

func TestAggregatorDeduplicatesIdenticalEvent(t *testing.T) {
	agg, in, _ := runAggregator(t)
	sub := agg.Subscribe()

	addr := common.HexToAddress("0x2222222222222222222222222222222222222222")
	in <- events.CantSignTx(1, addr, nil)
	drainEvent(t, sub, events.KindCantSign)
	drainStatusChanged(t, sub)

	in <- events.CantSignTx(1, addr, nil) // identical payload: no second StatusChanged
	drainEvent(t, sub, events.KindCantSign)
	select {
	case e := <-sub:
		t.Fatalf("expected no StatusChanged for an identical property, got %v", e.Kind)
	case <-time.After(100 * time.Millisecond):
	}
	assert.Len(t, agg.Snapshot(), 1)
}

func TestAggregatorClearsPropertiesOnTransferFinished(t *testing.T) {
	agg, in, _ := runAggregator(t)
	sub := agg.Subscribe()

	addr := common.HexToAddress("0x3333333333333333333333333333333333333333")
	in <- events.CantSignTx(7, addr, nil)
	drainEvent(t, sub, events.KindCantSign)
	drainStatusChanged(t, sub)
	require.Len(t, agg.Snapshot(), 1)

	in <- events.TransferFinished(7, nil, nil)
	drainEvent(t, sub, events.KindTransferFinished)
	drainStatusChanged(t, sub)
	assert.Empty(t, agg.Snapshot())
}

func TestAggregatorInternalEventNotForwardedButStillUpdatesStatus(t *testing.T) {
	agg, in, _ := runAggregator(t)
	sub := agg.Subscribe()

	in <- events.Web3RpcMessage(1, "endpoint degraded")

	// Web3RpcMessage itself is internal and must not appear on sub, but it
	// does change the property set, so the resulting StatusChanged does.
	e := drainStatusChanged(t, sub)
	require.Len(t, e.Properties, 1)
	assert.Equal(t, model.StatusWeb3RpcError, e.Properties[0].Variant)
}

func TestAggregatorMapsInvalidChainIDToItsOwnVariant(t *testing.T) {
	agg, in, _ := runAggregator(t)
	sub := agg.Subscribe()

	in <- events.InvalidChainID(99, "rpc reported chain id 5, configured 99")

	drainEvent(t, sub, events.KindInvalidChainID)
	e := drainStatusChanged(t, sub)
	require.Len(t, e.Properties, 1)
	assert.Equal(t, model.StatusInvalidChainID, e.Properties[0].Variant)
	assert.Equal(t, int64(99), e.Properties[0].Chain)
}
