// Package clock is the funder's logical tick source (spec C10). Ticks are
// opaque units used only for retransmission and rekey scheduling; the
// funder core never reads wall-clock time directly, matching the teacher's
// clock/ticker submodule split between a time source and its consumers.
package clock

import "time"

// Tick is an opaque, monotonically increasing logical tick.
type Tick uint64

// Source streams Ticks until Stop is called.
type Source interface {
	Ticks() <-chan Tick
	Stop()
}

// WallClock is the default Source, driving ticks off a time.Ticker.
type WallClock struct {
	ticker *time.Ticker
	ch     chan Tick
	quit   chan struct{}
}

// NewWallClock starts a WallClock firing every interval.
func NewWallClock(interval time.Duration) *WallClock {
	wc := &WallClock{
		ticker: time.NewTicker(interval),
		ch:     make(chan Tick, 1),
		quit:   make(chan struct{}),
	}
	go wc.run()
	return wc
}

func (wc *WallClock) run() {
	var n Tick
	for {
		select {
		case <-wc.ticker.C:
			n++
			select {
			case wc.ch <- n:
			default:
				// Consumer is behind; drop the tick rather than block the
				// ticker goroutine. The next tick still advances.
			}
		case <-wc.quit:
			return
		}
	}
}

// Ticks implements Source.
func (wc *WallClock) Ticks() <-chan Tick { return wc.ch }

// Stop implements Source.
func (wc *WallClock) Stop() {
	wc.ticker.Stop()
	select {
	case <-wc.quit:
	default:
		close(wc.quit)
	}
}

// ManualClock is a test Source advanced explicitly by the caller.
type ManualClock struct {
	ch   chan Tick
	n    Tick
	quit chan struct{}
}

// NewManualClock creates a ManualClock with no ticks yet emitted.
func NewManualClock() *ManualClock {
	return &ManualClock{
		ch:   make(chan Tick, 64),
		quit: make(chan struct{}),
	}
}

// Advance emits one new tick.
func (mc *ManualClock) Advance() {
	mc.n++
	mc.ch <- mc.n
}

// Ticks implements Source.
func (mc *ManualClock) Ticks() <-chan Tick { return mc.ch }

// Stop implements Source.
func (mc *ManualClock) Stop() {
	select {
	case <-mc.quit:
	default:
		close(mc.quit)
	}
}
