package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWallClockEmitsMonotonicTicks(t *testing.T) {
	wc := NewWallClock(5 * time.Millisecond)
	defer wc.Stop()

	var last Tick
	for i := 0; i < 3; i++ {
		select {
		case tick := <-wc.Ticks():
			require.Greater(t, uint64(tick), uint64(last))
			last = tick
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for tick")
		}
	}
}

func TestWallClockStopIsIdempotent(t *testing.T) {
	wc := NewWallClock(time.Millisecond)
	wc.Stop()
	require.NotPanics(t, wc.Stop)
}

func TestManualClockAdvanceDeliversExactSequence(t *testing.T) {
	mc := NewManualClock()
	defer mc.Stop()

	mc.Advance()
	mc.Advance()

	require.Equal(t, Tick(1), <-mc.Ticks())
	require.Equal(t, Tick(2), <-mc.Ticks())
}

func TestManualClockStopIsIdempotent(t *testing.T) {
	mc := NewManualClock()
	mc.Stop()
	require.NotPanics(t, mc.Stop)
}
