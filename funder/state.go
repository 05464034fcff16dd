// Package funder implements the primary event loop (spec C7): the single
// logical actor that owns every friend's channel state, the freeze guard,
// and the router's origin index, and serialises all mutation through one
// event-at-a-time loop. It is grounded on htlcswitch/switch.go's central
// dispatch loop (one goroutine, several fairly-selected input channels,
// mutate-then-forward per event) generalized from HTLC circuit switching to
// mutual-credit request routing, and on peer.go's control-message dispatch
// for the application-facing control surface.
package funder

import (
	"github.com/tokennet/funder/freezeguard"
	"github.com/tokennet/funder/friend"
	"github.com/tokennet/funder/identity"
	"github.com/tokennet/funder/router"
)

// State is FunderState (spec §3, §5): every friend record, the process-wide
// freeze guard, and the router's secondary index. Once the loop runs, it is
// touched only by Loop's handlers (HandleControl, HandleFriendMessage,
// HandleLiveness, HandleTick), which is what gives the funder its
// single-actor guarantee.
type State struct {
	Self    identity.PublicKey
	Friends map[identity.PublicKey]*friend.Friend
	Guard   *freezeguard.Guard
	Router  *router.Router
}

// NewState returns an empty node identified by self.
func NewState(self identity.PublicKey) *State {
	guard := freezeguard.New()
	return &State{
		Self:    self,
		Friends: make(map[identity.PublicKey]*friend.Friend),
		Guard:   guard,
		Router:  router.New(self, guard),
	}
}

// Snapshot is a read-only, shallow-copied view of the node's state, for
// diagnostics and the control surface's query side (SPEC_FULL EXP-4). It
// does not let a caller reach into live Friend records; each entry is
// copied by value.
type Snapshot struct {
	Self    identity.PublicKey
	Friends map[identity.PublicKey]FriendSnapshot
}

// FriendSnapshot is the externally visible subset of a Friend's state.
type FriendSnapshot struct {
	RemoteAddress string
	Status        friend.Status
	ChannelKind   friend.ChannelStatusKind
}

// Snapshot builds a read-only view of s for inspection without exposing
// the live Friend pointers the event loop still owns.
func (s *State) Snapshot() Snapshot {
	out := Snapshot{Self: s.Self, Friends: make(map[identity.PublicKey]FriendSnapshot, len(s.Friends))}
	for pk, f := range s.Friends {
		out.Friends[pk] = FriendSnapshot{
			RemoteAddress: f.RemoteAddress,
			Status:        f.Status,
			ChannelKind:   f.ChannelKind,
		}
	}
	return out
}
