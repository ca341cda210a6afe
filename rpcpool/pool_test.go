package rpcpool

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/golemfactory/evmpay/model"
)

func newAllowedEndpoint(id string) *model.EndpointInfo {
	e := model.NewEndpointInfo(model.EndpointParams{ID: id, Name: id})
	e.IsAllowed.Store(true)
	return e
}

func TestScoreZeroWhenNotAllowed(t *testing.T) {
	p := NewPool(1)
	e := model.NewEndpointInfo(model.EndpointParams{ID: "a"})
	assert.Equal(t, float64(0), p.score(e))
}

func TestScoreDecaysWithPenalty(t *testing.T) {
	p := NewPool(1)
	clean := newAllowedEndpoint("clean")
	penalized := newAllowedEndpoint("penalized")
	penalized.PenaltyFromMS.Store(500)

	assert.Greater(t, p.score(clean), p.score(penalized))
}

func TestContinuityBonusFavorsMostRecentSuccess(t *testing.T) {
	p := NewPool(1)
	p.recordSuccess("b")
	p.recordSuccess("a") // most recent is now "a"

	assert.Equal(t, 10.0, p.continuityBonus("a"))
	assert.Equal(t, 7.0, p.continuityBonus("b"))
	assert.Equal(t, 0.0, p.continuityBonus("never-succeeded"))
}

func TestRecordSuccessCapsDequeAndDedupes(t *testing.T) {
	p := NewPool(1)
	p.recordSuccess("a")
	p.recordSuccess("a") // repeat success shouldn't duplicate the slot
	p.recordSuccess("b")
	p.recordSuccess("c")
	p.recordSuccess("d")
	p.recordSuccess("e") // pushes "a" out of the tracked window

	require.Len(t, p.lastSuccess, lastSuccessSlots)
	assert.Equal(t, []string{"e", "d", "c", "b"}, p.lastSuccess)
}

func TestPickBestSkipsTriedAndRemoved(t *testing.T) {
	p := NewPool(1)
	a := newAllowedEndpoint("a")
	b := newAllowedEndpoint("b")
	p.AddEndpoint(a.Params)
	p.AddEndpoint(b.Params)
	p.AddEndpoint(model.EndpointParams{ID: "c", Name: "c"})
	// AddEndpoint stores a fresh *model.EndpointInfo, so re-derive from the
	// pool's own map rather than reusing the locally constructed ones.
	for _, e := range p.snapshot() {
		e.IsAllowed.Store(true)
		if e.Params.ID == "c" {
			e.RemovedAt.Store(time.Now()) // soft-removed: never picked
		}
	}

	best := p.pickBest(map[string]bool{"a": true})
	require.NotNil(t, best)
	assert.Equal(t, "b", best.Params.ID)
}

func TestPickBestReturnsNilWhenNoneAllowed(t *testing.T) {
	p := NewPool(1)
	p.AddEndpoint(model.EndpointParams{ID: "a"})
	assert.Nil(t, p.pickBest(nil))
}

func TestAddEndpointIsIdempotentOnID(t *testing.T) {
	p := NewPool(1)
	p.AddEndpoint(model.EndpointParams{ID: "a", Name: "first"})
	p.recordSuccess("a")
	p.AddEndpoint(model.EndpointParams{ID: "a", Name: "second"})

	snap := p.snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, "first", snap[0].Params.Name, "re-adding the same ID must not reset live scoring state")
}
