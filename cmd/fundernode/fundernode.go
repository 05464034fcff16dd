package main

import (
	"fmt"
	"time"

	"github.com/tokennet/funder/clock"
	"github.com/tokennet/funder/fstore"
	"github.com/tokennet/funder/funder"
	"github.com/tokennet/funder/identity"
	"github.com/tokennet/funder/statefold"
)

// daemon wires C7's event loop to C10's ticker, C11's durable log, and a
// signer/nonces pair, and owns the single goroutine that feeds the loop
// (spec §5's single-actor requirement lives in funder.Loop; daemon is just
// its supervisor, the role server.go plays over htlcswitch.Switch).
type daemon struct {
	loop   *funder.Loop
	store  *fstore.Store
	clock  clock.Source
	signer *identity.Signer

	controlCh  chan funder.ControlEvent
	commCh     chan funder.FriendComm
	livenessCh chan funder.Liveness

	quit chan struct{}
	done chan struct{}
}

// newDaemon opens the mutation log at cfg.DataDir, replays it into a fresh
// funder.State, and loads (or creates) the node's identity key.
func newDaemon(cfg *config) (*daemon, error) {
	store, err := fstore.Open(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("fundernode: failed to open mutation log: %w", err)
	}

	priv, pub, err := loadOrCreateIdentity(cfg.ListenSelf)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("fundernode: failed to load identity: %w", err)
	}
	signer := identity.NewSigner(priv)

	state := funder.NewState(pub)

	batches, err := store.Load()
	if err != nil {
		store.Close()
		signer.Close()
		return nil, fmt.Errorf("fundernode: failed to replay mutation log: %w", err)
	}
	statefold.Replay(state, batches)

	interval, err := time.ParseDuration(cfg.TickInterval)
	if err != nil {
		store.Close()
		signer.Close()
		return nil, fmt.Errorf("fundernode: invalid tickinterval %q: %w", cfg.TickInterval, err)
	}

	loop := funder.New(state, store, signer, identity.NonceSource{})

	ndeLog.Infof("node identity %x", pub[:])
	ndeLog.Infof("replayed %d mutation batches from %s", len(batches), cfg.DataDir)

	return &daemon{
		loop:       loop,
		store:      store,
		clock:      clock.NewWallClock(interval),
		signer:     signer,
		controlCh:  make(chan funder.ControlEvent),
		commCh:     make(chan funder.FriendComm),
		livenessCh: make(chan funder.Liveness),
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
	}, nil
}

// Stop shuts the daemon's goroutine and its owned resources down in
// reverse acquisition order.
func (d *daemon) Stop() {
	close(d.quit)
	<-d.done
	d.clock.Stop()
	d.signer.Close()
	d.store.Close()
}

// Run drains control events, peer comms, liveness changes, and logical
// ticks into the event loop one at a time until Stop is called, logging
// every outgoing comm since the funder's own wire transport is an explicit
// Non-goal (spec §1) this daemon does not implement.
func (d *daemon) Run() {
	defer close(d.done)

	for {
		select {
		case ev := <-d.controlCh:
			b, outgoing, err := d.loop.HandleControl(ev)
			d.handleResult(b, outgoing, err)

		case fc := <-d.commCh:
			b, outgoing, err := d.loop.HandleFriendMessage(fc)
			d.handleResult(b, outgoing, err)

		case lv := <-d.livenessCh:
			outgoing, err := d.loop.HandleLiveness(lv)
			d.handleResult(nil, outgoing, err)
			ndeLog.Tracef("liveness %x online=%v processed", lv.Peer[:], lv.Online)

		case t := <-d.clock.Ticks():
			outgoing, err := d.loop.HandleTick(funder.Tick{})
			d.handleResult(nil, outgoing, err)
			ndeLog.Tracef("tick %d processed", t)

		case <-d.quit:
			return
		}
	}
}

func (d *daemon) handleResult(b funder.Batch, outgoing []funder.OutgoingComm, err error) {
	if err != nil {
		ndeLog.Errorf("event loop error: %v", err)
		return
	}
	for _, comm := range outgoing {
		ndeLog.Infof("would send to %x: %T", comm.Peer[:], comm.Message)
	}
}
