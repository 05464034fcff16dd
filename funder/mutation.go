package funder

import (
	"github.com/tokennet/funder/creditline"
	"github.com/tokennet/funder/identity"
	"lukechampine.com/uint128"
)

// MutationKind tags a NodeMutation variant (spec §6 "persisted state
// layout: a single append-only log of NodeMutation records").
type MutationKind uint8

const (
	MutationAddFriend MutationKind = iota
	MutationRemoveFriend
	MutationSetFriendStatus
	MutationSetRemoteMaxDebt
	MutationSetRequestsStatus
	MutationSetFriendRelays
	MutationApplyMoveToken
	MutationEnterInconsistent
	MutationResolveInconsistent
)

// NodeMutation is one durable state change, the unit C11 persists and
// folds on start-up (spec §6).
type NodeMutation struct {
	Kind            MutationKind
	RemotePublicKey identity.PublicKey
	RemoteAddress   string
	Status          friendStatus
	MaxDebt         uint128.Uint128
	RequestsStatus  creditline.RequestsStatus
	EncodedMessage  []byte // wire.SignedMoveToken.Encode() for ApplyMoveToken, wire.EncodeInconsistencyError for EnterInconsistent, wire.EncodeResetState for ResolveInconsistent
}

// Batch is an ordered group of mutations the loop hands to persistence as
// one atomic unit per event (spec §4.7 "appended to a persistence batch,
// acknowledged by C11 before outgoing communications are released").
type Batch []NodeMutation
