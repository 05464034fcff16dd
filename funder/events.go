package funder

import (
	"github.com/tokennet/funder/creditline"
	"github.com/tokennet/funder/identity"
	"github.com/tokennet/funder/wire"
	"lukechampine.com/uint128"
)

// ControlEvent is the inbound application control surface (spec §6).
type ControlEvent interface{ isControlEvent() }

type AddFriend struct {
	RemotePublicKey identity.PublicKey
	RemoteAddress   string
}

type RemoveFriend struct{ RemotePublicKey identity.PublicKey }

type SetFriendStatus struct {
	RemotePublicKey identity.PublicKey
	Status          friendStatus
}

// friendStatus mirrors friend.Status without importing it into the event
// vocabulary as an implementation type, keeping the control surface stable
// if friend's internal representation changes.
type friendStatus = int

const (
	FriendStatusEnabled friendStatus = iota
	FriendStatusDisabled
)

type SetFriendRemoteMaxDebt struct {
	RemotePublicKey identity.PublicKey
	MaxDebt         uint128.Uint128
}

type SetRequestsStatus struct {
	RemotePublicKey identity.PublicKey
	Status          creditline.RequestsStatus
}

type SetFriendRelays struct {
	RemotePublicKey identity.PublicKey
	Relays          []wire.RelayAddress
}

type UserRequestSendFunds struct {
	Currency creditline.Currency
	Request  creditline.Request
	Route    []identity.PublicKey
}

type ReceiptAck struct{ RequestID creditline.Uid }

type ResetFriendChannel struct{ RemotePublicKey identity.PublicKey }

func (AddFriend) isControlEvent()              {}
func (RemoveFriend) isControlEvent()           {}
func (SetFriendStatus) isControlEvent()        {}
func (SetFriendRemoteMaxDebt) isControlEvent() {}
func (SetRequestsStatus) isControlEvent()      {}
func (SetFriendRelays) isControlEvent()        {}
func (UserRequestSendFunds) isControlEvent()   {}
func (ReceiptAck) isControlEvent()             {}
func (ResetFriendChannel) isControlEvent()     {}

// Liveness is a comm event reporting a transport-level connectivity change
// (spec §4.7 source 2), dispatched through Loop.HandleLiveness the same
// way FriendComm goes through HandleFriendMessage.
type Liveness struct {
	Peer   identity.PublicKey
	Online bool
}

// FriendComm carries one wire.FriendMessage received from peer.
type FriendComm struct {
	Peer    identity.PublicKey
	Message wire.FriendMessage
}

// Tick is the C10 logical clock event driving retransmission (spec §4.7
// source 3).
type Tick struct{}

// Outcome kind tags for ResponseReceived (spec §6 outbound control).
type ResponseOutcomeKind uint8

const (
	OutcomeSuccess ResponseOutcomeKind = iota
	OutcomeFailure
)

// ResponseReceived describes the resolution of a locally originated
// request. Loop does not produce it: for a request this node originated,
// routeSettlement returns neither an event nor an OutgoingComm.
type ResponseReceived struct {
	RequestID    creditline.Uid
	Kind         ResponseOutcomeKind
	Response     creditline.Response
	ReporterKey  identity.PublicKey
}

// ReportMutation wraps one NodeMutation of the persisted log (spec §6).
// Loop does not produce it; each handler returns its applied mutations to
// the caller as a Batch.
type ReportMutation struct {
	Mutation NodeMutation
}

// OutgoingComm is one message the loop wants delivered to peer via the
// transport (spec §4.7).
type OutgoingComm struct {
	Peer    identity.PublicKey
	Message wire.FriendMessage
}
