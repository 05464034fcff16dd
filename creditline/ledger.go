// Package creditline implements the mutual-credit ledger (spec C1): a
// per-currency signed balance, debt caps, and the pending local/remote
// request tables that a token channel admits requests into and settles
// them out of. It is grounded on lnwallet/channel.go's HTLC add/settle/fail
// bookkeeping, generalized from a single BTC-denominated channel to a
// multi-currency mutual-credit line with no on-chain settlement.
package creditline

import (
	"errors"

	"lukechampine.com/uint128"
)

// Currency is a short ASCII tag identifying a mutual-credit unit.
type Currency string

// Uid is a 16-byte request identifier.
type Uid [16]byte

// RequestsStatus is whether a side currently accepts new requests.
type RequestsStatus uint8

const (
	// Open means new RequestSendFunds operations from that side are
	// accepted.
	Open RequestsStatus = iota
	// Closed means new RequestSendFunds operations from that side are
	// rejected.
	Closed
)

// RequestsStatusPair is the {local, remote} status pair spec §3 describes.
type RequestsStatusPair struct {
	Local  RequestsStatus
	Remote RequestsStatus
}

// Origin distinguishes operations we originated (Local) from operations
// the remote peer originated and we are absorbing on receive (Remote).
type Origin uint8

const (
	// OriginLocal marks an operation as one this node is about to send.
	OriginLocal Origin = iota
	// OriginRemote marks an operation as one just received from the peer.
	OriginRemote
)

// PendingTransaction is the snapshot frozen when a request is admitted
// (spec §3).
type PendingTransaction struct {
	RequestID        Uid
	Route            [][]byte // sequence of public keys, kept opaque here
	SrcHashedLock    [32]byte
	DestPayment      uint128.Uint128
	TotalDestPayment uint128.Uint128
	InvoiceID        [32]byte
	Fee              uint128.Uint128
}

// Request is the RequestSendFunds operation payload.
type Request struct {
	RequestID        Uid
	Route            [][]byte
	SrcHashedLock    [32]byte
	DestPayment      uint128.Uint128
	TotalDestPayment uint128.Uint128
	InvoiceID        [32]byte
	Fee              uint128.Uint128
}

// Response is the ResponseSendFunds operation payload.
type Response struct {
	RequestID    Uid
	RandNonce    [16]byte
	DestHashedLock [32]byte
	IsComplete   bool
	Signature    [64]byte
}

// Failure is the FailureSendFunds operation payload.
type Failure struct {
	RequestID        Uid
	ReportingKey     [32]byte
	ReporterNonceSig []ReporterHop
}

// ReporterHop is one (rand_nonce, signature) link in a failure's reporter
// chain (spec §6 failure signature buffer).
type ReporterHop struct {
	RandNonce [16]byte
	Signature [64]byte
}

var (
	// ErrDuplicateRequest means the Uid is already pending on this
	// channel.
	ErrDuplicateRequest = errors.New("creditline: duplicate request id")
	// ErrRequestsClosed means the relevant side's requests_status is
	// Closed.
	ErrRequestsClosed = errors.New("creditline: requests closed")
	// ErrDebtExceeded means admitting the request would violate spec
	// invariant 3.
	ErrDebtExceeded = errors.New("creditline: debt cap exceeded")
	// ErrRequestNotFound means a Response/Failure referenced a Uid not in
	// the pending table it settles (PendingLocalRequests, or
	// PendingRemoteRequests for SettleRemote).
	ErrRequestNotFound = errors.New("creditline: request id not pending")
)

// MutualCredit is the per-currency ledger for one token channel (spec §3).
type MutualCredit struct {
	Currency Currency

	Balance           Int128
	LocalMaxDebt      uint128.Uint128
	RemoteMaxDebt     uint128.Uint128
	LocalPendingDebt  uint128.Uint128
	RemotePendingDebt uint128.Uint128

	RequestsStatus RequestsStatusPair

	PendingLocalRequests  map[Uid]PendingTransaction
	PendingRemoteRequests map[Uid]PendingTransaction
}

// NewMutualCredit returns the default (zero-balance, zero-debt) ledger for
// currency, as created the first time either side references the friend.
func NewMutualCredit(currency Currency) *MutualCredit {
	return &MutualCredit{
		Currency:              currency,
		PendingLocalRequests:  make(map[Uid]PendingTransaction),
		PendingRemoteRequests: make(map[Uid]PendingTransaction),
	}
}

// EnableRequests flips the given side's requests_status to Open.
func (mc *MutualCredit) EnableRequests(origin Origin) {
	mc.setStatus(origin, Open)
}

// DisableRequests flips the given side's requests_status to Closed.
func (mc *MutualCredit) DisableRequests(origin Origin) {
	mc.setStatus(origin, Closed)
}

func (mc *MutualCredit) setStatus(origin Origin, status RequestsStatus) {
	if origin == OriginLocal {
		mc.RequestsStatus.Local = status
	} else {
		mc.RequestsStatus.Remote = status
	}
}

// SetRemoteMaxDebt applies a SetRemoteMaxDebt operation. When we originate
// it (OriginLocal), it declares how much debt we are willing to extend to
// the peer: our RemoteMaxDebt. When we receive it from the peer
// (OriginRemote), the peer is declaring how much debt they extend to us:
// our LocalMaxDebt.
func (mc *MutualCredit) SetRemoteMaxDebt(origin Origin, v uint128.Uint128) {
	if origin == OriginLocal {
		mc.RemoteMaxDebt = v
	} else {
		mc.LocalMaxDebt = v
	}
}

// checkInvariant3 reports whether the ledger currently satisfies spec
// invariant 3: balance + remote_pending_debt <= local_max_debt and
// -balance + local_pending_debt <= remote_max_debt.
func (mc *MutualCredit) checkInvariant3() bool {
	lhs1 := mc.Balance.Add(FromUint128(mc.RemotePendingDebt))
	if !lhs1.LessOrEqual(FromUint128(mc.LocalMaxDebt)) {
		return false
	}
	lhs2 := mc.Balance.Neg().Add(FromUint128(mc.LocalPendingDebt))
	return lhs2.LessOrEqual(FromUint128(mc.RemoteMaxDebt))
}

// RequestSendFunds validates and admits req, freezing dest_payment+fee into
// the appropriate pending-debt counter (spec §4.1). origin is OriginRemote
// when the peer is forwarding the request to us through this channel, and
// OriginLocal when we are the one forwarding/originating it onward.
func (mc *MutualCredit) RequestSendFunds(origin Origin, req Request) error {
	if _, ok := mc.PendingLocalRequests[req.RequestID]; ok {
		return ErrDuplicateRequest
	}
	if _, ok := mc.PendingRemoteRequests[req.RequestID]; ok {
		return ErrDuplicateRequest
	}

	status := mc.RequestsStatus.Remote
	if origin == OriginLocal {
		status = mc.RequestsStatus.Local
	}
	if status == Closed {
		return ErrRequestsClosed
	}

	freeze := req.DestPayment.Add(req.Fee)

	var (
		trialLocalPending  = mc.LocalPendingDebt
		trialRemotePending = mc.RemotePendingDebt
	)
	if origin == OriginLocal {
		trialLocalPending = trialLocalPending.Add(freeze)
	} else {
		trialRemotePending = trialRemotePending.Add(freeze)
	}

	trial := &MutualCredit{
		Balance:           mc.Balance,
		LocalMaxDebt:      mc.LocalMaxDebt,
		RemoteMaxDebt:     mc.RemoteMaxDebt,
		LocalPendingDebt:  trialLocalPending,
		RemotePendingDebt: trialRemotePending,
	}
	if !trial.checkInvariant3() {
		return ErrDebtExceeded
	}

	pt := PendingTransaction{
		RequestID:        req.RequestID,
		Route:            req.Route,
		SrcHashedLock:    req.SrcHashedLock,
		DestPayment:      req.DestPayment,
		TotalDestPayment: req.TotalDestPayment,
		InvoiceID:        req.InvoiceID,
		Fee:              req.Fee,
	}

	if origin == OriginLocal {
		mc.LocalPendingDebt = trialLocalPending
		mc.PendingLocalRequests[req.RequestID] = pt
	} else {
		mc.RemotePendingDebt = trialRemotePending
		mc.PendingRemoteRequests[req.RequestID] = pt
	}
	return nil
}

// ResponseSendFunds settles a previously admitted local request: the
// frozen credit moves into Balance in the direction owed, and the pending
// entry is removed (spec §4.1). Signature verification over the response
// buffer is the caller's responsibility (wire package owns buffer layout);
// this method assumes the caller already verified it.
func (mc *MutualCredit) ResponseSendFunds(resp Response) (PendingTransaction, error) {
	pt, ok := mc.PendingLocalRequests[resp.RequestID]
	if !ok {
		return PendingTransaction{}, ErrRequestNotFound
	}

	freeze := pt.DestPayment.Add(pt.Fee)
	mc.LocalPendingDebt = mc.LocalPendingDebt.Sub(freeze)
	// We paid freeze to our peer: peer owes us less (or we owe peer
	// more), so Balance (positive = peer owes us) decreases.
	mc.Balance = mc.Balance.Sub(FromUint128(freeze))

	delete(mc.PendingLocalRequests, resp.RequestID)
	return pt, nil
}

// FailureSendFunds releases frozen credit back and removes the pending
// local entry (spec §4.1). Reporter-chain signature verification is the
// caller's responsibility.
func (mc *MutualCredit) FailureSendFunds(fail Failure) (PendingTransaction, error) {
	pt, ok := mc.PendingLocalRequests[fail.RequestID]
	if !ok {
		return PendingTransaction{}, ErrRequestNotFound
	}

	freeze := pt.DestPayment.Add(pt.Fee)
	mc.LocalPendingDebt = mc.LocalPendingDebt.Sub(freeze)

	delete(mc.PendingLocalRequests, fail.RequestID)
	return pt, nil
}

// SettleRemote removes req.RequestID from PendingRemoteRequests and
// releases its freeze, used when the response/failure travels the other
// direction (the peer settles a request it admitted as remote on its
// side, mirrored here so our books agree).
func (mc *MutualCredit) SettleRemote(id Uid, applyBalance bool) (PendingTransaction, error) {
	pt, ok := mc.PendingRemoteRequests[id]
	if !ok {
		return PendingTransaction{}, ErrRequestNotFound
	}
	freeze := pt.DestPayment.Add(pt.Fee)
	mc.RemotePendingDebt = mc.RemotePendingDebt.Sub(freeze)
	if applyBalance {
		mc.Balance = mc.Balance.Add(FromUint128(freeze))
	}
	delete(mc.PendingRemoteRequests, id)
	return pt, nil
}
