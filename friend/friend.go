// Package friend implements the per-peer friend record (spec C3): wanted
// configuration, the three pending-operation FIFO queues, channel status,
// and inconsistency bookkeeping. It is grounded on channeldb's link-node
// records and htlcswitch's per-link queue bookkeeping, generalized from a
// single on-chain channel per peer to an off-chain bilateral credit line
// that may also be mid-resolution after an inconsistency.
package friend

import (
	"github.com/tokennet/funder/creditline"
	"github.com/tokennet/funder/identity"
	"github.com/tokennet/funder/tokenchannel"
	"github.com/tokennet/funder/wire"
	"lukechampine.com/uint128"
)

// Status is whether the funder attempts to keep a live channel with this
// friend (spec §3).
type Status uint8

const (
	StatusEnabled Status = iota
	StatusDisabled
)

// ChannelStatusKind tags the Consistent|Inconsistent variant (spec §3).
type ChannelStatusKind uint8

const (
	ChannelConsistent ChannelStatusKind = iota
	ChannelInconsistent
)

// ResetSnapshot is one side's proposed reset state (spec §4.3).
type ResetSnapshot struct {
	ResetToken      identity.Signature
	BalanceForReset creditline.Int128
}

// InconsistencyRecord holds both sides' reset snapshots as they arrive
// (spec §4.3). A channel resets only once both are present and agree.
type InconsistencyRecord struct {
	Local  *ResetSnapshot
	Remote *ResetSnapshot
}

// PendingRequest is a Request queued against a specific currency, waiting
// to be forwarded or locally originated (spec §3 pending_requests /
// pending_user_requests).
type PendingRequest struct {
	Currency creditline.Currency
	Request  creditline.Request
}

// PendingResponse is a Response or Failure queued to travel back along a
// channel (spec §3 pending_responses).
type PendingResponse struct {
	Currency  creditline.Currency
	IsFailure bool
	Response  creditline.Response
	Failure   creditline.Failure
}

// Friend is the per-peer record (spec §3).
type Friend struct {
	RemotePublicKey identity.PublicKey
	RemoteAddress   string
	Relays          []wire.RelayAddress

	WantedRemoteMaxDebt       uint128.Uint128
	WantedLocalRequestsStatus creditline.RequestsStatus

	Status Status

	// Reachable mirrors the transport's last-reported liveness for this
	// peer (spec §4.7 source 2). It starts false until the transport
	// reports Online; going offline never tears down the channel.
	// HandleTick and trySendChannel do not read it, so retransmission
	// goes on while the peer is offline.
	Reachable bool

	ChannelKind   ChannelStatusKind
	Channel       *tokenchannel.TokenChannel
	Inconsistency *InconsistencyRecord

	PendingResponses    []PendingResponse
	PendingRequests     []PendingRequest
	PendingUserRequests []PendingRequest
}

// New creates a Friend in its default state: Enabled, Consistent, with a
// freshly initialised TokenChannel (spec §3 Lifecycle).
func New(localKey, remoteKey identity.PublicKey, remoteAddress string) *Friend {
	return &Friend{
		RemotePublicKey:           remoteKey,
		RemoteAddress:             remoteAddress,
		WantedLocalRequestsStatus: creditline.Open,
		Status:                    StatusEnabled,
		ChannelKind:               ChannelConsistent,
		Channel:                   tokenchannel.New(localKey, remoteKey),
	}
}

// EnqueueResponse appends to the tail of pending_responses.
func (f *Friend) EnqueueResponse(pr PendingResponse) {
	f.PendingResponses = append(f.PendingResponses, pr)
}

// EnqueueRequest appends to the tail of pending_requests (transit).
func (f *Friend) EnqueueRequest(pr PendingRequest) {
	f.PendingRequests = append(f.PendingRequests, pr)
}

// EnqueueUserRequest appends to the tail of pending_user_requests (locally
// originated).
func (f *Friend) EnqueueUserRequest(pr PendingRequest) {
	f.PendingUserRequests = append(f.PendingUserRequests, pr)
}

// PopResponse removes and returns the front of pending_responses.
func (f *Friend) PopResponse() (PendingResponse, bool) {
	if len(f.PendingResponses) == 0 {
		return PendingResponse{}, false
	}
	pr := f.PendingResponses[0]
	f.PendingResponses = f.PendingResponses[1:]
	return pr, true
}

// PopRequest removes and returns the front of pending_requests.
func (f *Friend) PopRequest() (PendingRequest, bool) {
	if len(f.PendingRequests) == 0 {
		return PendingRequest{}, false
	}
	pr := f.PendingRequests[0]
	f.PendingRequests = f.PendingRequests[1:]
	return pr, true
}

// PopUserRequest removes and returns the front of pending_user_requests.
func (f *Friend) PopUserRequest() (PendingRequest, bool) {
	if len(f.PendingUserRequests) == 0 {
		return PendingRequest{}, false
	}
	pr := f.PendingUserRequests[0]
	f.PendingUserRequests = f.PendingUserRequests[1:]
	return pr, true
}

// EnqueueResponseFront pushes pr back onto the head of pending_responses,
// used by the batcher to return a candidate that didn't fit this round.
func (f *Friend) EnqueueResponseFront(pr PendingResponse) {
	f.PendingResponses = append([]PendingResponse{pr}, f.PendingResponses...)
}

// EnqueueRequestFront pushes pr back onto the head of pending_requests.
func (f *Friend) EnqueueRequestFront(pr PendingRequest) {
	f.PendingRequests = append([]PendingRequest{pr}, f.PendingRequests...)
}

// EnqueueUserRequestFront pushes pr back onto the head of
// pending_user_requests.
func (f *Friend) EnqueueUserRequestFront(pr PendingRequest) {
	f.PendingUserRequests = append([]PendingRequest{pr}, f.PendingUserRequests...)
}

// EnterInconsistent transitions Consistent -> Inconsistent, discarding the
// live TokenChannel and recording our own reset snapshot (spec §4.3, §7
// ProtocolError).
func (f *Friend) EnterInconsistent(local ResetSnapshot) {
	f.ChannelKind = ChannelInconsistent
	f.Channel = nil
	if f.Inconsistency == nil {
		f.Inconsistency = &InconsistencyRecord{}
	}
	f.Inconsistency.Local = &local
}

// RecordRemoteSnapshot stores the peer's proposed reset snapshot once their
// InconsistencyError arrives.
func (f *Friend) RecordRemoteSnapshot(remote ResetSnapshot) {
	if f.Inconsistency == nil {
		f.Inconsistency = &InconsistencyRecord{}
	}
	f.Inconsistency.Remote = &remote
}

// snapshotsAgree reports whether both sides' reset snapshots describe the
// same balance from each one's own perspective: positive balance means
// "the peer owes us", so the two views must be additive inverses.
func snapshotsAgree(local, remote ResetSnapshot) bool {
	return local.BalanceForReset.Add(remote.BalanceForReset).IsZero()
}

// TryResolveInconsistency resets the channel once both snapshots are
// present and agree (spec §4.3, §7 "both sides converge to the same reset
// state regardless of message order"). It reports whether a reset
// happened.
func (f *Friend) TryResolveInconsistency(localKey identity.PublicKey, currency creditline.Currency) bool {
	if f.ChannelKind != ChannelInconsistent || f.Inconsistency == nil {
		return false
	}
	local, remote := f.Inconsistency.Local, f.Inconsistency.Remote
	if local == nil || remote == nil {
		return false
	}
	if !snapshotsAgree(*local, *remote) {
		return false
	}

	f.Channel = tokenchannel.NewFromReset(localKey, f.RemotePublicKey, currency, local.BalanceForReset)
	f.ChannelKind = ChannelConsistent
	f.Inconsistency = nil
	return true
}
