package processor

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/golemfactory/evmpay/config"
)

func TestStuckWaiterEscalatesAndCapsAtMax(t *testing.T) {
	w := newStuckWaiter(config.BackoffConfig{StartSecs: 1, MaxSecs: 4, Multiplier: 2})
	addr := common.HexToAddress("0x1111111111111111111111111111111111111111")

	first := w.next(1, addr, "NoGas")
	second := w.next(1, addr, "NoGas")
	third := w.next(1, addr, "NoGas")
	fourth := w.next(1, addr, "NoGas")

	assert.Equal(t, time.Second, first)
	assert.Equal(t, 2*time.Second, second)
	assert.Equal(t, 4*time.Second, third)
	assert.Equal(t, 4*time.Second, fourth, "must stay capped at wait_max_s, not keep doubling")
}

func TestStuckWaiterTracksReasonsIndependently(t *testing.T) {
	w := newStuckWaiter(config.BackoffConfig{StartSecs: 1, MaxSecs: 100, Multiplier: 2})
	addr := common.HexToAddress("0x2222222222222222222222222222222222222222")

	w.next(1, addr, "NoGas")
	w.next(1, addr, "NoGas")
	tokenWait := w.next(1, addr, "NoToken")

	assert.Equal(t, time.Second, tokenWait, "a fresh reason on the same (chain, sender) starts at wait_start_s")
}

func TestStuckWaiterClearResetsState(t *testing.T) {
	w := newStuckWaiter(config.BackoffConfig{StartSecs: 1, MaxSecs: 100, Multiplier: 2})
	addr := common.HexToAddress("0x3333333333333333333333333333333333333333")

	w.next(1, addr, "NoGas")
	w.next(1, addr, "NoGas")
	w.clear(1, addr, "NoGas")

	require.Len(t, w.state, 0)
	again := w.next(1, addr, "NoGas")
	assert.Equal(t, time.Second, again)
}
