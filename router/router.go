// Package router implements request/response/failure routing (spec C6):
// locating a transit request's upstream origin, deciding whether to forward
// or locally fail an incoming request, and extending a failure's reporter
// signature chain as it travels back. It is grounded on htlcswitch's
// forwarding decision (resolve the next hop, check it's a live link, push
// onto its queue or manufacture a local failure) generalized from HTLC
// circuits to mutual-credit requests with an explicit freeze-guard check
// instead of a channel-capacity check.
package router

import (
	"github.com/tokennet/funder/creditline"
	"github.com/tokennet/funder/freezeguard"
	"github.com/tokennet/funder/friend"
	"github.com/tokennet/funder/identity"
)

// DecisionKind tags what Forward decided to do with a transit request.
type DecisionKind uint8

const (
	// DecisionForward means the request should be pushed onto the
	// downstream friend's pending_requests.
	DecisionForward DecisionKind = iota
	// DecisionDeliverLocally means this node is the route's destination;
	// the request is ours to answer, not forward.
	DecisionDeliverLocally
	// DecisionLocalFailure means a FailureSendFunds should be synthesised
	// and enqueued as a pending response on upstream (spec §4.6).
	DecisionLocalFailure
	// DecisionReject means self does not appear in route at all; the
	// request should never have reached here.
	DecisionReject
)

// Decision is Forward's outcome.
type Decision struct {
	Kind     DecisionKind
	NextHop  identity.PublicKey
	Prefix   freezeguard.PrefixKey
	Currency creditline.Currency
}

// Router ties together the freeze guard and the O(1) origin index that a
// single funder node maintains across all its friends (spec §4.5, §4.6).
type Router struct {
	Self  identity.PublicKey
	Guard *freezeguard.Guard
	Index *Index
}

// New returns a router for a node identified by self, sharing guard (the
// funder's process-wide freeze table).
func New(self identity.PublicKey, guard *freezeguard.Guard) *Router {
	return &Router{Self: self, Guard: guard, Index: NewIndex()}
}

// Forward decides how to route a RequestSendFunds operation that was just
// admitted into upstream's pending_remote_requests (spec §4.6). route is
// the full path from originator to destination; link is the upstream
// friend's advertised NetworkerFreezeLink for this request. On
// DecisionForward, Forward has already frozen the request's credit for
// every prefix ending at self and recorded its origin in Index; on any
// other outcome nothing is mutated.
func (r *Router) Forward(
	route []identity.PublicKey,
	upstream identity.PublicKey,
	currency creditline.Currency,
	req creditline.Request,
	friends map[identity.PublicKey]*friend.Friend,
	link freezeguard.FreezeLink,
) Decision {
	pos := PositionOf(route, r.Self)
	switch pos {
	case PositionDest:
		return Decision{Kind: DecisionDeliverLocally}
	case PositionNotInRoute:
		return Decision{Kind: DecisionReject}
	}

	selfIdx := indexOf(route, r.Self)
	nextHop := route[selfIdx+1]
	prefix := KeyForPrefixSlice(route[:selfIdx+1])

	downstream, known := friends[nextHop]
	if !known || downstream.Status != friend.StatusEnabled {
		log.Debugf("request %x: next hop unknown or disabled, failing locally", req.RequestID[:])
		return Decision{Kind: DecisionLocalFailure, Prefix: prefix}
	}

	amount := req.DestPayment.Add(req.Fee)
	if err := r.Guard.VerifyAndFreeze([]freezeguard.PrefixKey{prefix}, []freezeguard.FreezeLink{link}, amount); err != nil {
		log.Debugf("request %x: freeze verification failed: %v", req.RequestID[:], err)
		return Decision{Kind: DecisionLocalFailure, Prefix: prefix}
	}

	r.Index.Record(req.RequestID, OriginEntry{Upstream: upstream, Currency: currency, Prefix: prefix, Amount: amount})
	return Decision{Kind: DecisionForward, NextHop: nextHop, Prefix: prefix, Currency: currency}
}

// KeyForPrefixSlice is a convenience wrapper over freezeguard.KeyForPrefix
// for a route slice (rather than a pre-built []identity.PublicKey copy).
func KeyForPrefixSlice(route []identity.PublicKey) freezeguard.PrefixKey {
	return freezeguard.KeyForPrefix(route)
}

// ResolveOrigin answers find_request_origin: the upstream friend that owes
// us nothing further but to whom we owe a response, or false if id is not a
// transit request we are tracking (in which case we originated it
// ourselves and the response/failure belongs to the application, not
// another friend) (spec §4.6).
func (r *Router) ResolveOrigin(id creditline.Uid) (OriginEntry, bool) {
	return r.Index.Lookup(id)
}

// SettleOrigin releases id's frozen credit from the guard and forgets its
// origin once its response/failure has been relayed upstream.
func (r *Router) SettleOrigin(id creditline.Uid) {
	if entry, ok := r.Index.Lookup(id); ok {
		r.Guard.Release([]freezeguard.PrefixKey{entry.Prefix}, entry.Amount)
	}
	r.Index.Forget(id)
}

// AppendReporterHop returns a copy of fail with (nonce, sig) appended to
// its reporter chain, done by every intermediate hop before relaying a
// failure further upstream (spec §4.6, §6 failure signature buffer).
func AppendReporterHop(fail creditline.Failure, nonce identity.RandNonce, sig identity.Signature) creditline.Failure {
	hops := make([]creditline.ReporterHop, len(fail.ReporterNonceSig), len(fail.ReporterNonceSig)+1)
	copy(hops, fail.ReporterNonceSig)
	hops = append(hops, creditline.ReporterHop{RandNonce: nonce, Signature: sig})
	fail.ReporterNonceSig = hops
	return fail
}
