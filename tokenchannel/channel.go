// Package tokenchannel implements the bilateral token channel state machine
// (spec C2): direction (which side holds the token), chained-hash
// move-token construction and validation, and reset-token derivation. It
// is grounded on lnwallet/channel.go's commitment-chain state machine
// (one side's commitment transaction is always "ahead", mirrored here by
// one side always holding the token) and on elkrem/serdes.go's
// chained-hash linking idiom for old_token/new_token.
package tokenchannel

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/tokennet/funder/creditline"
	"github.com/tokennet/funder/identity"
	"github.com/tokennet/funder/wire"
)

// Direction is which side currently holds the token (spec §3 invariant 1).
type Direction uint8

const (
	// DirIncoming means the last move-token we processed was received
	// from the peer; we may now compose and send the next one.
	DirIncoming Direction = iota
	// DirOutgoing means we have sent the last move-token and are
	// waiting for it to come back.
	DirOutgoing
)

func (d Direction) String() string {
	if d == DirIncoming {
		return "incoming"
	}
	return "outgoing"
}

// ErrorKind classifies why a received move-token was rejected (spec §4.2).
type ErrorKind uint8

const (
	ErrKindBadSignature ErrorKind = iota
	ErrKindChainMismatch
	ErrKindBadInfoHash
	ErrKindOperationRejected
	ErrKindUnexpectedToken
)

// ReceiveMoveTokenError is returned when a received move-token cannot be
// applied; the caller (friend/funder) transitions channel_status to
// Inconsistent on any of these (spec §7 ProtocolError).
type ReceiveMoveTokenError struct {
	Kind ErrorKind
	Err  error
}

func (e *ReceiveMoveTokenError) Error() string {
	return fmt.Sprintf("tokenchannel: receive move token failed (%d): %v", e.Kind, e.Err)
}

func (e *ReceiveMoveTokenError) Unwrap() error { return e.Err }

// OutgoingState is the sent-but-not-yet-acknowledged move-token (spec §3
// OutgoingTc).
type OutgoingState struct {
	LastSent    wire.SignedMoveToken
	HasSent     bool
	TokenWanted bool
}

// ProcessedOp records one operation this receive absorbed, passed up to
// the friend/router/freezeguard layers to react to (spec §4.1, §4.6).
type ProcessedOp struct {
	Currency creditline.Currency
	Op       wire.Operation
	Pending  creditline.PendingTransaction
}

// ProcessOpsListOutput is what a successful receive yields (spec §4.2).
type ProcessOpsListOutput struct {
	Processed []ProcessedOp
}

// TokenChannel is the bilateral state for one channel (spec §3).
type TokenChannel struct {
	LocalKey  identity.PublicKey
	RemoteKey identity.PublicKey

	MutualCredits map[creditline.Currency]*creditline.MutualCredit

	Direction Direction
	Incoming  *wire.SignedMoveToken // last received signed move-token
	Outgoing  *OutgoingState
}

// initialDirection breaks the tie over which side starts holding the
// token: the lexicographically lower public key starts Outgoing. Both
// sides compute this identically without needing to communicate.
func initialDirection(local, remote identity.PublicKey) Direction {
	if bytes.Compare(local[:], remote[:]) < 0 {
		return DirOutgoing
	}
	return DirIncoming
}

// New creates the default channel state the first time either side
// references the friend (spec §3 Lifecycle).
func New(local, remote identity.PublicKey) *TokenChannel {
	dir := initialDirection(local, remote)
	tc := &TokenChannel{
		LocalKey:      local,
		RemoteKey:     remote,
		MutualCredits: make(map[creditline.Currency]*creditline.MutualCredit),
		Direction:     dir,
	}
	if dir == DirOutgoing {
		tc.Outgoing = &OutgoingState{}
	}
	return tc
}

// NewFromReset rebuilds a channel after both sides agreed on reset values
// (spec §3 Lifecycle, §4.3). balanceForReset becomes the balance of a
// freshly created ledger for currency.
func NewFromReset(local, remote identity.PublicKey, currency creditline.Currency, balanceForReset creditline.Int128) *TokenChannel {
	tc := New(local, remote)
	mc := tc.mutualCredit(currency)
	mc.Balance = balanceForReset
	return tc
}

func (tc *TokenChannel) mutualCredit(currency creditline.Currency) *creditline.MutualCredit {
	mc, ok := tc.MutualCredits[currency]
	if !ok {
		mc = creditline.NewMutualCredit(currency)
		tc.MutualCredits[currency] = mc
	}
	return mc
}

var (
	// ErrNotIncoming is returned by BeginOutgoing when the channel does
	// not currently hold the incoming token.
	ErrNotIncoming = errors.New("tokenchannel: cannot send, channel is not incoming")
)

// lastSentHash is the hash of the last move-token we sent, used as the
// chain-head value the next old_token must commit to (spec invariant 5).
func (tc *TokenChannel) lastSentHash() wire.HashResult {
	if tc.Outgoing == nil || !tc.Outgoing.HasSent {
		// No prior message: the chain head is the hash of a fixed
		// seed, giving both sides a deterministic starting point.
		return wire.Hash([]byte("funder-genesis"))
	}
	return wire.Hash(tc.Outgoing.LastSent.Encode())
}

// lastReceivedHash is the hash of the last move-token we received.
func (tc *TokenChannel) lastReceivedHash() wire.HashResult {
	if tc.Incoming == nil {
		return wire.Hash([]byte("funder-genesis"))
	}
	return wire.Hash(tc.Incoming.Encode())
}

// sameSignedMoveToken compares two signed move tokens for byte equality,
// used to detect a duplicate retransmission (spec §4.2, P6).
func sameSignedMoveToken(a, b wire.SignedMoveToken) bool {
	return bytes.Equal(a.Encode(), b.Encode())
}

// ReceiveMoveToken dispatches on direction (spec §4.2). A nil, nil return
// means the message was a harmless duplicate and no mutation occurred
// (P6). A non-nil ProcessOpsListOutput means the batch was accepted and
// direction flipped to Incoming.
func (tc *TokenChannel) ReceiveMoveToken(signed wire.SignedMoveToken) (*ProcessOpsListOutput, error) {
	switch tc.Direction {
	case DirOutgoing:
		if tc.Outgoing != nil && sameSignedMoveToken(signed, tc.Outgoing.LastSent) {
			log.Debugf("duplicate move token on outgoing channel, discarding")
			return nil, nil
		}

		expectedOld := tc.lastSentHash()
		if signed.OldToken != expectedOld {
			return nil, &ReceiveMoveTokenError{Kind: ErrKindChainMismatch,
				Err: fmt.Errorf("old_token does not match our last sent")}
		}

		if !identity.Verify(tc.RemoteKey, signed.SignatureBuffer(), signed.NewToken) {
			return nil, &ReceiveMoveTokenError{Kind: ErrKindBadSignature,
				Err: fmt.Errorf("bad signature over move token")}
		}

		if signed.InfoHash != signed.ComputeInfoHash() {
			return nil, &ReceiveMoveTokenError{Kind: ErrKindBadInfoHash,
				Err: fmt.Errorf("info_hash mismatch")}
		}

		out, err := tc.applyOperations(signed.CurrenciesOperations)
		if err != nil {
			return nil, &ReceiveMoveTokenError{Kind: ErrKindOperationRejected, Err: err}
		}

		tc.Incoming = &signed
		tc.Outgoing = nil
		tc.Direction = DirIncoming
		return out, nil

	case DirIncoming:
		if tc.Incoming != nil && sameSignedMoveToken(signed, *tc.Incoming) {
			log.Debugf("duplicate of last accepted move token, discarding")
			return nil, nil
		}
		// A remote-initiated reset never shows up here: it arrives as its
		// own InconsistencyError message, not a move-token whose new_token
		// happens to match our reset token (see DESIGN.md Open Question 4).
		return nil, &ReceiveMoveTokenError{Kind: ErrKindUnexpectedToken,
			Err: fmt.Errorf("we hold the token, peer should not be sending")}
	}
	return nil, fmt.Errorf("tokenchannel: unreachable direction %v", tc.Direction)
}

// applyOperations validates and applies every operation in order against
// the relevant currency's MutualCredit. Application is all-or-nothing: on
// the first rejection every speculative change made so far is rolled
// back (spec §4.1 "partial application is forbidden").
func (tc *TokenChannel) applyOperations(groups []wire.CurrencyOperations) (*ProcessOpsListOutput, error) {
	type snapshot struct {
		currency creditline.Currency
		mc       creditline.MutualCredit
	}
	var snaps []snapshot
	for _, g := range groups {
		mc := tc.mutualCredit(g.Currency)
		s := snapshot{currency: g.Currency, mc: *mc}
		// The struct copy shares the pending-request maps with mc; copy
		// them too so a rollback also undoes inserts and deletes.
		s.mc.PendingLocalRequests = make(map[creditline.Uid]creditline.PendingTransaction, len(mc.PendingLocalRequests))
		for k, v := range mc.PendingLocalRequests {
			s.mc.PendingLocalRequests[k] = v
		}
		s.mc.PendingRemoteRequests = make(map[creditline.Uid]creditline.PendingTransaction, len(mc.PendingRemoteRequests))
		for k, v := range mc.PendingRemoteRequests {
			s.mc.PendingRemoteRequests[k] = v
		}
		snaps = append(snaps, s)
	}
	rollback := func() {
		for _, s := range snaps {
			*tc.MutualCredits[s.currency] = s.mc
		}
	}

	out := &ProcessOpsListOutput{}
	for _, g := range groups {
		mc := tc.mutualCredit(g.Currency)
		for _, op := range g.Operations {
			processed, err := applyOneOperation(mc, tc.RemoteKey, g.Currency, op)
			if err != nil {
				rollback()
				return nil, err
			}
			out.Processed = append(out.Processed, processed)
		}
	}
	return out, nil
}

// errBadRoute, errBadResponseSig and errBadFailureChainSig classify the
// ways applyOneOperation can reject a settlement operation before it ever
// reaches the ledger.
var (
	errBadRoute           = errors.New("tokenchannel: request's route has no destination hop")
	errBadResponseSig     = errors.New("tokenchannel: bad destination signature over response")
	errBadFailureChainSig = errors.New("tokenchannel: bad reporter signature over failure chain")
)

// routeDestKey extracts the payment destination's public key, the last hop
// in a PendingTransaction's Route (spec §4.1 Request.route: source through
// destination, inclusive).
func routeDestKey(route [][]byte) (identity.PublicKey, error) {
	var pub identity.PublicKey
	if len(route) == 0 {
		return pub, errBadRoute
	}
	last := route[len(route)-1]
	if len(last) != len(pub) {
		return pub, errBadRoute
	}
	copy(pub[:], last)
	return pub, nil
}

// verifyFailureChainLink checks that remoteKey -- the peer this operation
// arrived from -- is the one who appended the chain's most recent
// (rand_nonce, signature) entry, signing over every entry that preceded it
// (spec §6 failure signature buffer: "each (rand_nonce, signature) of
// preceding reporters"). Each hop along the reporter chain performs this
// same check against its own immediate peer before forwarding, so by
// induction a chain that reaches us unbroken was validated link by link the
// whole way back to the reporter; an empty chain means remoteKey is itself
// the original reporter and there is no link yet to check.
func verifyFailureChainLink(remoteKey identity.PublicKey, currency creditline.Currency, fail creditline.Failure) bool {
	n := len(fail.ReporterNonceSig)
	if n == 0 {
		return true
	}
	last := fail.ReporterNonceSig[n-1]
	preceding := creditline.Failure{
		RequestID:        fail.RequestID,
		ReportingKey:     fail.ReportingKey,
		ReporterNonceSig: fail.ReporterNonceSig[:n-1],
	}
	buf := wire.FailureSignatureBuffer(currency, preceding)
	return identity.Verify(remoteKey, buf, identity.Signature(last.Signature))
}

func applyOneOperation(mc *creditline.MutualCredit, remoteKey identity.PublicKey, currency creditline.Currency, op wire.Operation) (ProcessedOp, error) {
	switch op.Kind {
	case wire.OpEnableRequests:
		mc.EnableRequests(creditline.OriginRemote)
	case wire.OpDisableRequests:
		mc.DisableRequests(creditline.OriginRemote)
	case wire.OpSetRemoteMaxDebt:
		mc.SetRemoteMaxDebt(creditline.OriginRemote, op.SetRemoteMaxDebt)
	case wire.OpRequestSendFunds:
		if err := mc.RequestSendFunds(creditline.OriginRemote, op.Request); err != nil {
			return ProcessedOp{}, err
		}
	case wire.OpResponseSendFunds:
		// The peer is settling a request we originated on this channel
		// (spec §4.1: "request_id must reside in pending_local_requests").
		// Peek the pending entry before settling: the signature buffer is
		// built over it, and ResponseSendFunds deletes it on success.
		pt, ok := mc.PendingLocalRequests[op.Response.RequestID]
		if !ok {
			return ProcessedOp{}, creditline.ErrRequestNotFound
		}
		destKey, err := routeDestKey(pt.Route)
		if err != nil {
			return ProcessedOp{}, err
		}
		buf := wire.ResponseSignatureBuffer(currency, op.Response, pt)
		if !identity.Verify(destKey, buf, identity.Signature(op.Response.Signature)) {
			return ProcessedOp{}, errBadResponseSig
		}
		pt, err = mc.ResponseSendFunds(op.Response)
		if err != nil {
			return ProcessedOp{}, err
		}
		return ProcessedOp{Currency: currency, Op: op, Pending: pt}, nil
	case wire.OpFailureSendFunds:
		if !verifyFailureChainLink(remoteKey, currency, op.Failure) {
			return ProcessedOp{}, errBadFailureChainSig
		}
		pt, err := mc.FailureSendFunds(op.Failure)
		if err != nil {
			return ProcessedOp{}, err
		}
		return ProcessedOp{Currency: currency, Op: op, Pending: pt}, nil
	default:
		return ProcessedOp{}, fmt.Errorf("tokenchannel: unknown operation kind %d", op.Kind)
	}
	return ProcessedOp{Currency: currency, Op: op}, nil
}
