package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/tokennet/funder/creditline"
	"github.com/tokennet/funder/identity"
	"lukechampine.com/uint128"
)

// MessageType tags the three friend message forms peers exchange (spec
// §6), the same role lnwire.MessageType plays for lnd's wire messages.
type MessageType uint8

const (
	MsgMoveTokenRequest MessageType = iota
	MsgInconsistencyError
	MsgKeepAlive
)

func (t MessageType) String() string {
	switch t {
	case MsgMoveTokenRequest:
		return "MoveTokenRequest"
	case MsgInconsistencyError:
		return "InconsistencyError"
	case MsgKeepAlive:
		return "KeepAlive"
	default:
		return fmt.Sprintf("unknown(%d)", t)
	}
}

// FriendMessage is the union of wire forms two channel peers exchange.
type FriendMessage interface {
	Type() MessageType
}

// MoveTokenRequest carries a batch and optionally nudges the recipient to
// hand the token back after processing (spec §6).
type MoveTokenRequest struct {
	MoveToken   SignedMoveToken
	TokenWanted bool
}

// Type implements FriendMessage.
func (MoveTokenRequest) Type() MessageType { return MsgMoveTokenRequest }

// InconsistencyError declares the channel broken and carries our proposed
// reset token (spec §6).
type InconsistencyError struct {
	ResetToken      identity.Signature
	BalanceForReset creditline.Int128
}

// Type implements FriendMessage.
func (InconsistencyError) Type() MessageType { return MsgInconsistencyError }

// KeepAlive is opaque to the funder; transport liveness owns its meaning.
type KeepAlive struct{}

// Type implements FriendMessage.
func (KeepAlive) Type() MessageType { return MsgKeepAlive }

// ResponseSignatureBuffer builds the buffer the destination signs over a
// ResponseSendFunds (spec §6):
//
//	hash("FUND_RESPONSE") || hash(request_id || rand_nonce) ||
//	src_hashed_lock || dest_hashed_lock || is_complete ||
//	dest_payment_be128 || total_dest_payment_be128 || invoice_id || currency
func ResponseSignatureBuffer(currency creditline.Currency, resp creditline.Response, pending creditline.PendingTransaction) []byte {
	tag := HashTag("FUND_RESPONSE")
	idNonce := Hash(Concat(resp.RequestID[:], resp.RandNonce[:]))

	isComplete := byte(0)
	if resp.IsComplete {
		isComplete = 1
	}

	return Concat(
		tag[:],
		idNonce[:],
		pending.SrcHashedLock[:],
		resp.DestHashedLock[:],
		[]byte{isComplete},
		be128(pending.DestPayment),
		be128(pending.TotalDestPayment),
		pending.InvoiceID[:],
		[]byte(currency),
	)
}

// FailureSignatureBuffer builds the buffer each reporter signs over a
// FailureSendFunds (spec §6):
//
//	hash("FUND_CANCEL") || request_id || reporting_public_key ||
//	each (rand_nonce, signature) of preceding reporters || currency
func FailureSignatureBuffer(currency creditline.Currency, fail creditline.Failure) []byte {
	tag := HashTag("FUND_CANCEL")

	parts := [][]byte{tag[:], fail.RequestID[:], fail.ReportingKey[:]}
	for _, hop := range fail.ReporterNonceSig {
		parts = append(parts, hop.RandNonce[:], hop.Signature[:])
	}
	parts = append(parts, []byte(currency))

	return Concat(parts...)
}

func be128(v uint128.Uint128) []byte {
	out := uint128ToBE(v)
	return out[:]
}

// EncodeInconsistencyError serializes msg for durable storage in a
// NodeMutation's EncodedMessage (funder.MutationEnterInconsistent), letting
// statefold.Replay reconstruct a friend's reset snapshot without re-running
// CalcResetToken.
func EncodeInconsistencyError(msg InconsistencyError) []byte {
	var buf bytes.Buffer
	buf.Write(msg.ResetToken[:])
	if msg.BalanceForReset.Negative() {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
	encodeUint128(&buf, msg.BalanceForReset.Magnitude())
	return buf.Bytes()
}

// DecodeInconsistencyError is the inverse of EncodeInconsistencyError.
func DecodeInconsistencyError(b []byte) (InconsistencyError, error) {
	r := bytes.NewReader(b)

	var resetToken identity.Signature
	if _, err := r.Read(resetToken[:]); err != nil {
		return InconsistencyError{}, fmt.Errorf("wire: short inconsistency reset token: %w", err)
	}

	sign, err := r.ReadByte()
	if err != nil {
		return InconsistencyError{}, fmt.Errorf("wire: missing inconsistency balance sign: %w", err)
	}

	mag, err := decodeUint128(r)
	if err != nil {
		return InconsistencyError{}, fmt.Errorf("wire: short inconsistency balance: %w", err)
	}

	return InconsistencyError{
		ResetToken:      resetToken,
		BalanceForReset: creditline.NewInt128(sign != 0, mag),
	}, nil
}

// EncodeResetState serializes the (currency, balance) pair a resolved
// channel reset onto, for durable storage in a NodeMutation's
// EncodedMessage (funder.MutationResolveInconsistent).
func EncodeResetState(currency creditline.Currency, balance creditline.Int128) []byte {
	var buf bytes.Buffer
	cur := []byte(currency)
	var l [4]byte
	binary.BigEndian.PutUint32(l[:], uint32(len(cur)))
	buf.Write(l[:])
	buf.Write(cur)
	if balance.Negative() {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
	encodeUint128(&buf, balance.Magnitude())
	return buf.Bytes()
}

// DecodeResetState is the inverse of EncodeResetState.
func DecodeResetState(b []byte) (creditline.Currency, creditline.Int128, error) {
	r := bytes.NewReader(b)

	var l [4]byte
	if _, err := r.Read(l[:]); err != nil {
		return "", creditline.Int128{}, fmt.Errorf("wire: short reset state currency length: %w", err)
	}
	cur := make([]byte, binary.BigEndian.Uint32(l[:]))
	if _, err := r.Read(cur); err != nil {
		return "", creditline.Int128{}, fmt.Errorf("wire: short reset state currency: %w", err)
	}

	sign, err := r.ReadByte()
	if err != nil {
		return "", creditline.Int128{}, fmt.Errorf("wire: missing reset state balance sign: %w", err)
	}
	mag, err := decodeUint128(r)
	if err != nil {
		return "", creditline.Int128{}, fmt.Errorf("wire: short reset state balance: %w", err)
	}

	return creditline.Currency(cur), creditline.NewInt128(sign != 0, mag), nil
}
