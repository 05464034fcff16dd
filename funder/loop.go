package funder

import (
	"fmt"

	"github.com/davecgh/go-spew/spew"
	"github.com/tokennet/funder/batch"
	"github.com/tokennet/funder/creditline"
	"github.com/tokennet/funder/freezeguard"
	"github.com/tokennet/funder/friend"
	"github.com/tokennet/funder/identity"
	"github.com/tokennet/funder/router"
	"github.com/tokennet/funder/tokenchannel"
	"github.com/tokennet/funder/wire"
)

// Persister is what C11 exposes to the loop: ordered, atomic mutation
// batches (spec §4.8).
type Persister interface {
	Persist(batch Batch) error
}

// Loop is the single logical actor described in spec §5: every public
// method here runs to completion before the next starts, and is the only
// code path allowed to mutate State.
type Loop struct {
	State   *State
	Persist Persister
	Signer  tokenchannel.Signer
	Nonces  tokenchannel.Nonces
}

// New builds a Loop over state, persisting through persist and signing
// through signer/nonces (spec §4.8 C8/C11).
func New(state *State, persist Persister, signer tokenchannel.Signer, nonces tokenchannel.Nonces) *Loop {
	return &Loop{State: state, Persist: persist, Signer: signer, Nonces: nonces}
}

func (l *Loop) persist(b Batch) error {
	if len(b) == 0 {
		return nil
	}
	if err := l.Persist.Persist(b); err != nil {
		return NewFatalError(fmt.Errorf("%w: %v", ErrPersistenceFailed, err))
	}
	return nil
}

func decodeRoute(raw [][]byte) []identity.PublicKey {
	out := make([]identity.PublicKey, len(raw))
	for i, b := range raw {
		var pk identity.PublicKey
		copy(pk[:], b)
		out[i] = pk
	}
	return out
}

// HandleControl processes one application control event (spec §4.7 source
// 1, §6 control surface).
func (l *Loop) HandleControl(ev ControlEvent) (Batch, []OutgoingComm, error) {
	log.Tracef("control event: %s", spew.Sdump(ev))

	switch e := ev.(type) {
	case AddFriend:
		if _, exists := l.State.Friends[e.RemotePublicKey]; exists {
			return nil, nil, fmt.Errorf("funder: friend %x already exists", e.RemotePublicKey[:])
		}
		l.State.Friends[e.RemotePublicKey] = friend.New(l.State.Self, e.RemotePublicKey, e.RemoteAddress)
		b := Batch{{Kind: MutationAddFriend, RemotePublicKey: e.RemotePublicKey, RemoteAddress: e.RemoteAddress}}
		if err := l.persist(b); err != nil {
			return nil, nil, err
		}
		return b, nil, nil

	case RemoveFriend:
		if _, ok := l.State.Friends[e.RemotePublicKey]; !ok {
			return nil, nil, fmt.Errorf("funder: unknown friend %x", e.RemotePublicKey[:])
		}
		delete(l.State.Friends, e.RemotePublicKey)
		b := Batch{{Kind: MutationRemoveFriend, RemotePublicKey: e.RemotePublicKey}}
		if err := l.persist(b); err != nil {
			return nil, nil, err
		}
		return b, nil, nil

	case SetFriendStatus:
		f, ok := l.State.Friends[e.RemotePublicKey]
		if !ok {
			return nil, nil, fmt.Errorf("funder: unknown friend %x", e.RemotePublicKey[:])
		}
		if e.Status == FriendStatusEnabled {
			f.Status = friend.StatusEnabled
		} else {
			f.Status = friend.StatusDisabled
		}
		b := Batch{{Kind: MutationSetFriendStatus, RemotePublicKey: e.RemotePublicKey, Status: e.Status}}
		if err := l.persist(b); err != nil {
			return nil, nil, err
		}
		return b, nil, nil

	case SetFriendRemoteMaxDebt:
		f, ok := l.State.Friends[e.RemotePublicKey]
		if !ok {
			return nil, nil, fmt.Errorf("funder: unknown friend %x", e.RemotePublicKey[:])
		}
		f.WantedRemoteMaxDebt = e.MaxDebt
		b := Batch{{Kind: MutationSetRemoteMaxDebt, RemotePublicKey: e.RemotePublicKey, MaxDebt: e.MaxDebt}}
		if err := l.persist(b); err != nil {
			return nil, nil, err
		}
		outgoing, err := l.trySendChannel(e.RemotePublicKey)
		return b, outgoing, err

	case SetRequestsStatus:
		f, ok := l.State.Friends[e.RemotePublicKey]
		if !ok {
			return nil, nil, fmt.Errorf("funder: unknown friend %x", e.RemotePublicKey[:])
		}
		f.WantedLocalRequestsStatus = e.Status
		b := Batch{{Kind: MutationSetRequestsStatus, RemotePublicKey: e.RemotePublicKey, RequestsStatus: e.Status}}
		if err := l.persist(b); err != nil {
			return nil, nil, err
		}
		outgoing, err := l.trySendChannel(e.RemotePublicKey)
		return b, outgoing, err

	case SetFriendRelays:
		f, ok := l.State.Friends[e.RemotePublicKey]
		if !ok {
			return nil, nil, fmt.Errorf("funder: unknown friend %x", e.RemotePublicKey[:])
		}
		f.Relays = e.Relays
		b := Batch{{Kind: MutationSetFriendRelays, RemotePublicKey: e.RemotePublicKey}}
		if err := l.persist(b); err != nil {
			return nil, nil, err
		}
		return b, nil, nil

	case UserRequestSendFunds:
		if len(e.Route) < 2 {
			return nil, nil, &RouteError{Err: fmt.Errorf("route must name at least source and destination")}
		}
		nextHop := e.Route[1]
		f, ok := l.State.Friends[nextHop]
		if !ok {
			return nil, nil, &RouteError{Err: fmt.Errorf("unknown next hop %x", nextHop[:])}
		}
		f.EnqueueUserRequest(friend.PendingRequest{Currency: e.Currency, Request: e.Request})
		outgoing, err := l.trySendChannel(nextHop)
		return nil, outgoing, err

	case ReceiptAck:
		return nil, nil, nil

	case ResetFriendChannel:
		f, ok := l.State.Friends[e.RemotePublicKey]
		if !ok {
			return nil, nil, fmt.Errorf("funder: unknown friend %x", e.RemotePublicKey[:])
		}
		return l.enterInconsistent(f, e.RemotePublicKey)
	}
	return nil, nil, fmt.Errorf("funder: unknown control event %T", ev)
}

// enterInconsistent derives our reset token before discarding the live
// channel and emits the InconsistencyError we owe the peer (spec §7).
func (l *Loop) enterInconsistent(f *friend.Friend, peer identity.PublicKey) (Batch, []OutgoingComm, error) {
	if f.ChannelKind != friend.ChannelConsistent || f.Channel == nil {
		return nil, nil, nil
	}

	resetSig, err := f.Channel.CalcResetToken(l.Signer)
	if err != nil {
		return nil, nil, NewFatalError(err)
	}
	balance := soleBalance(f.Channel)
	f.EnterInconsistent(friend.ResetSnapshot{ResetToken: resetSig, BalanceForReset: balance})

	icErr := wire.InconsistencyError{ResetToken: resetSig, BalanceForReset: balance}
	b := Batch{{Kind: MutationEnterInconsistent, RemotePublicKey: peer, EncodedMessage: wire.EncodeInconsistencyError(icErr)}}
	if err := l.persist(b); err != nil {
		return nil, nil, err
	}

	outgoing := []OutgoingComm{{Peer: peer, Message: icErr}}
	return b, outgoing, nil
}

// soleBalance returns the first currency's balance. SPEC_FULL's
// per-currency batching generalizes move-tokens to many currencies, but
// the wire-level InconsistencyError (spec §6) still carries a single i128,
// so multi-currency channels reset against their first currency; richer
// per-currency reset negotiation is out of scope (see DESIGN.md).
func soleBalance(tc *tokenchannel.TokenChannel) creditline.Int128 {
	for _, mc := range tc.MutualCredits {
		return mc.Balance
	}
	return creditline.ZeroInt128
}

// HandleFriendMessage processes one comm event from the transport (spec
// §4.7 source 2).
func (l *Loop) HandleFriendMessage(ev FriendComm) (Batch, []OutgoingComm, error) {
	f, ok := l.State.Friends[ev.Peer]
	if !ok {
		return nil, nil, &RouteError{Err: fmt.Errorf("message from unknown friend %x", ev.Peer[:])}
	}

	switch msg := ev.Message.(type) {
	case wire.MoveTokenRequest:
		return l.handleMoveToken(f, ev.Peer, msg)
	case wire.InconsistencyError:
		return l.handleInconsistencyError(f, ev.Peer, msg)
	case wire.KeepAlive:
		return nil, nil, nil
	default:
		return nil, nil, &ProtocolError{Err: fmt.Errorf("unrecognised friend message %T", msg)}
	}
}

// HandleLiveness processes a transport connectivity change (spec §4.7
// source 2). An unknown peer is ignored rather than treated as an error:
// the transport may report liveness for addresses the funder never added
// as a friend.
func (l *Loop) HandleLiveness(ev Liveness) ([]OutgoingComm, error) {
	f, ok := l.State.Friends[ev.Peer]
	if !ok {
		return nil, nil
	}
	f.Reachable = ev.Online
	if !ev.Online {
		return nil, nil
	}
	return l.trySendChannel(ev.Peer)
}

func (l *Loop) handleMoveToken(f *friend.Friend, peer identity.PublicKey, msg wire.MoveTokenRequest) (Batch, []OutgoingComm, error) {
	if f.ChannelKind != friend.ChannelConsistent || f.Channel == nil {
		return nil, nil, &ProtocolError{Err: fmt.Errorf("move token on inconsistent channel")}
	}

	out, err := f.Channel.ReceiveMoveToken(msg.MoveToken)
	if err != nil {
		resetSig, sigErr := f.Channel.CalcResetToken(l.Signer)
		if sigErr != nil {
			return nil, nil, NewFatalError(sigErr)
		}
		balance := soleBalance(f.Channel)
		f.EnterInconsistent(friend.ResetSnapshot{ResetToken: resetSig, BalanceForReset: balance})

		icErr := wire.InconsistencyError{ResetToken: resetSig, BalanceForReset: balance}
		b := Batch{{Kind: MutationEnterInconsistent, RemotePublicKey: peer, EncodedMessage: wire.EncodeInconsistencyError(icErr)}}
		if perr := l.persist(b); perr != nil {
			return nil, nil, perr
		}
		outgoing := []OutgoingComm{{Peer: peer, Message: icErr}}
		return b, outgoing, &ProtocolError{Err: err}
	}
	if out == nil {
		return nil, nil, nil // duplicate, P6
	}

	var outgoing []OutgoingComm
	for _, processed := range out.Processed {
		comm, err := l.reactToProcessed(f, peer, processed)
		if err != nil {
			return nil, outgoing, err
		}
		outgoing = append(outgoing, comm...)
	}

	b := Batch{{Kind: MutationApplyMoveToken, RemotePublicKey: peer, EncodedMessage: msg.MoveToken.Encode()}}
	if err := l.persist(b); err != nil {
		return nil, outgoing, err
	}

	sendOut, err := l.trySendChannel(peer)
	outgoing = append(outgoing, sendOut...)
	return b, outgoing, err
}

// reactToProcessed routes one processed operation to its next destination
// (spec §4.6).
func (l *Loop) reactToProcessed(upstream *friend.Friend, upstreamPeer identity.PublicKey, processed tokenchannel.ProcessedOp) ([]OutgoingComm, error) {
	switch processed.Op.Kind {
	case wire.OpRequestSendFunds:
		return l.routeIncomingRequest(upstream, upstreamPeer, processed.Currency, processed.Op.Request)
	case wire.OpResponseSendFunds:
		return l.routeSettlement(processed.Op.Response.RequestID, processed.Currency, processed.Pending, true, processed.Op.Response, creditline.Failure{})
	case wire.OpFailureSendFunds:
		return l.routeSettlement(processed.Op.Failure.RequestID, processed.Currency, processed.Pending, false, creditline.Response{}, processed.Op.Failure)
	}
	return nil, nil
}

func (l *Loop) routeIncomingRequest(upstream *friend.Friend, upstreamPeer identity.PublicKey, currency creditline.Currency, req creditline.Request) ([]OutgoingComm, error) {
	route := decodeRoute(req.Route)
	link := freezeguard.FreezeLink{SharedCredits: upstream.WantedRemoteMaxDebt, UsableRatio: freezeguard.RatioOne}
	decision := l.State.Router.Forward(route, upstreamPeer, currency, req, l.State.Friends, link)

	switch decision.Kind {
	case router.DecisionDeliverLocally:
		// We are the destination; the application answers asynchronously
		// through its own ResponseSendFunds/FailureSendFunds submission,
		// which is outside this funder's control surface (spec §1 draws
		// payment-application logic as an external collaborator).
		return nil, nil

	case router.DecisionForward:
		downstream := l.State.Friends[decision.NextHop]
		downstream.EnqueueRequest(friend.PendingRequest{Currency: currency, Request: req})
		return l.trySendChannel(decision.NextHop)

	case router.DecisionLocalFailure, router.DecisionReject:
		sig, err := l.Signer.RequestSignature(wire.FailureSignatureBuffer(currency, creditline.Failure{RequestID: req.RequestID, ReportingKey: l.State.Self}))
		if err != nil {
			return nil, NewFatalError(err)
		}
		fail := creditline.Failure{
			RequestID:        req.RequestID,
			ReportingKey:     l.State.Self,
			ReporterNonceSig: []creditline.ReporterHop{{Signature: sig}},
		}
		upstream.EnqueueResponse(friend.PendingResponse{Currency: currency, IsFailure: true, Failure: fail})
		return l.trySendChannel(upstreamPeer)
	}
	return nil, nil
}

// routeSettlement forwards a Response/Failure upstream, or surfaces it to
// the application if we originated the request ourselves (spec §4.6).
func (l *Loop) routeSettlement(id creditline.Uid, currency creditline.Currency, pending creditline.PendingTransaction, success bool, resp creditline.Response, fail creditline.Failure) ([]OutgoingComm, error) {
	origin, ok := l.State.Router.ResolveOrigin(id)
	l.State.Router.SettleOrigin(id)
	if !ok {
		// We originated this request; nothing is forwarded and no
		// ResponseReceived is produced (OutgoingComm is peer-to-peer
		// only).
		return nil, nil
	}

	upstream, known := l.State.Friends[origin.Upstream]
	if !known {
		return nil, nil
	}

	if !success {
		var nonce identity.RandNonce
		nonce, err := l.Nonces.NextNonce()
		if err != nil {
			return nil, NewFatalError(err)
		}
		sig, err := l.Signer.RequestSignature(wire.FailureSignatureBuffer(currency, fail))
		if err != nil {
			return nil, NewFatalError(err)
		}
		fail = router.AppendReporterHop(fail, nonce, sig)
	}

	upstream.EnqueueResponse(friend.PendingResponse{Currency: currency, IsFailure: !success, Response: resp, Failure: fail})
	return l.trySendChannel(origin.Upstream)
}

func (l *Loop) handleInconsistencyError(f *friend.Friend, peer identity.PublicKey, msg wire.InconsistencyError) (Batch, []OutgoingComm, error) {
	f.RecordRemoteSnapshot(friend.ResetSnapshot{ResetToken: msg.ResetToken, BalanceForReset: msg.BalanceForReset})

	if f.ChannelKind == friend.ChannelConsistent {
		// We haven't noticed the break yet; enter Inconsistent ourselves
		// before attempting resolution (spec §4.3, §7).
		b, outgoing, err := l.enterInconsistent(f, peer)
		if err != nil {
			return b, outgoing, err
		}
		resolved := f.TryResolveInconsistency(l.State.Self, "FND")
		if resolved {
			encoded := wire.EncodeResetState("FND", soleBalance(f.Channel))
			rb := Batch{{Kind: MutationResolveInconsistent, RemotePublicKey: peer, EncodedMessage: encoded}}
			if perr := l.persist(rb); perr != nil {
				return rb, outgoing, perr
			}
			return append(b, rb...), outgoing, nil
		}
		return b, outgoing, nil
	}

	if f.TryResolveInconsistency(l.State.Self, "FND") {
		encoded := wire.EncodeResetState("FND", soleBalance(f.Channel))
		b := Batch{{Kind: MutationResolveInconsistent, RemotePublicKey: peer, EncodedMessage: encoded}}
		if err := l.persist(b); err != nil {
			return nil, nil, err
		}
		return b, nil, nil
	}
	return nil, nil, nil
}

// HandleTick processes the C10 logical-clock event (spec §4.7 source 3).
func (l *Loop) HandleTick(_ Tick) ([]OutgoingComm, error) {
	var outgoing []OutgoingComm
	for peer, f := range l.State.Friends {
		if f.ChannelKind != friend.ChannelConsistent || f.Channel == nil {
			continue
		}
		if f.Channel.Direction == tokenchannel.DirOutgoing && f.Channel.Outgoing != nil && f.Channel.Outgoing.HasSent {
			// Retransmit with token_wanted latched true (spec §4.7). A
			// bootstrap channel that has never sent anything has nothing
			// to retransmit: it is legitimately waiting on the peer's
			// first move.
			f.Channel.Outgoing.TokenWanted = true
			outgoing = append(outgoing, OutgoingComm{
				Peer: peer,
				Message: wire.MoveTokenRequest{
					MoveToken:   f.Channel.Outgoing.LastSent,
					TokenWanted: true,
				},
			})
		}
	}
	return outgoing, nil
}

// trySendChannel implements spec §4.7's post-event hook: if we hold the
// incoming token, drain the batcher; if we hold the outgoing token and
// haven't nudged yet, do so now.
func (l *Loop) trySendChannel(peer identity.PublicKey) ([]OutgoingComm, error) {
	f, ok := l.State.Friends[peer]
	if !ok || f.ChannelKind != friend.ChannelConsistent || f.Channel == nil {
		return nil, nil
	}

	switch f.Channel.Direction {
	case tokenchannel.DirOutgoing:
		if f.Channel.Outgoing != nil && f.Channel.Outgoing.HasSent && !f.Channel.Outgoing.TokenWanted {
			f.Channel.Outgoing.TokenWanted = true
			return []OutgoingComm{{
				Peer: peer,
				Message: wire.MoveTokenRequest{
					MoveToken:   f.Channel.Outgoing.LastSent,
					TokenWanted: true,
				},
			}}, nil
		}
		// Bootstrap channel with nothing ever sent, or already nudged:
		// nothing to do until the peer's first move arrives.
		return nil, nil

	case tokenchannel.DirIncoming:
		builder, err := f.Channel.BeginOutgoing()
		if err != nil {
			return nil, err
		}
		if _, err := batch.Drain(builder, f, batch.DefaultMaxMoveTokenBytes); err != nil {
			return nil, err
		}
		signed, sent, err := builder.Done(l.Signer, l.Nonces, tokenchannel.SendModeEmptyNotAllowed, f.Relays, nil)
		if err != nil {
			return nil, NewFatalError(err)
		}
		if !sent {
			return nil, nil
		}
		return []OutgoingComm{{Peer: peer, Message: wire.MoveTokenRequest{MoveToken: *signed, TokenWanted: false}}}, nil
	}
	return nil, nil
}
