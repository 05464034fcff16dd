package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/tokennet/funder/creditline"
	"github.com/tokennet/funder/identity"
	"lukechampine.com/uint128"
)

// OpKind tags the variant an Operation carries.
type OpKind uint8

const (
	OpSetRemoteMaxDebt OpKind = iota
	OpEnableRequests
	OpDisableRequests
	OpRequestSendFunds
	OpResponseSendFunds
	OpFailureSendFunds
)

// Operation is one bilateral operation inside a currency's operations
// group within a move-token (spec §4.1).
type Operation struct {
	Kind             OpKind
	SetRemoteMaxDebt uint128.Uint128
	Request          creditline.Request
	Response         creditline.Response
	Failure          creditline.Failure
}

// CurrencyOperations groups every Operation touching one Currency within a
// single move-token, per spec §9 Open Question 2 / SPEC_FULL EXP-4: the
// canonical serialization groups by currency, so the batcher (package
// batch) must as well.
type CurrencyOperations struct {
	Currency   creditline.Currency
	Operations []Operation
}

// RelayAddress is an opaque transport address hint; the funder treats it
// as an uninterpreted byte blob (transport addressing is an external
// collaborator per spec §1).
type RelayAddress []byte

// UnsignedMoveToken is a move-token batch before its signature is affixed.
type UnsignedMoveToken struct {
	// OldToken commits to the SHA-512/256 of the previous signed
	// move-token on this channel (spec invariant 5, spec §3 HashResult).
	// The illustrative byte-layout in spec §6 labels this field 64
	// bytes; that conflicts with HashResult's own 32-byte definition in
	// spec §3 and with invariant 5's explicit "SHA-512/256 of the
	// previous one". This type resolves the conflict in favor of the
	// invariant: OldToken is a 32-byte HashResult, not a raw signature.
	OldToken             HashResult
	CurrenciesOperations []CurrencyOperations
	OptLocalRelays       []RelayAddress
	OptActiveCurrencies  []creditline.Currency
	InfoHash             HashResult
	RandNonce            [16]byte
}

// SignedMoveToken is a move-token batch together with the signature that
// commits the sender to it (spec §6).
type SignedMoveToken struct {
	UnsignedMoveToken
	NewToken identity.Signature
}

// writeUint32 appends a big-endian length prefix.
func writeUint32(buf *bytes.Buffer, n int) {
	var l [4]byte
	binary.BigEndian.PutUint32(l[:], uint32(n))
	buf.Write(l[:])
}

func readUint32(r *bytes.Reader) (uint32, error) {
	var l [4]byte
	if _, err := r.Read(l[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(l[:]), nil
}

func uint128ToBE(v uint128.Uint128) [16]byte {
	b := v.Big().Bytes()
	var padded [16]byte
	copy(padded[16-len(b):], b)
	return padded
}

func encodeUint128(buf *bytes.Buffer, v uint128.Uint128) {
	padded := uint128ToBE(v)
	buf.Write(padded[:])
}

func decodeUint128(r *bytes.Reader) (uint128.Uint128, error) {
	var b [16]byte
	if _, err := r.Read(b[:]); err != nil {
		return uint128.Uint128{}, err
	}
	return uint128.FromBytesBE(b[:]), nil
}

func encodeOperation(buf *bytes.Buffer, op Operation) {
	buf.WriteByte(byte(op.Kind))
	switch op.Kind {
	case OpSetRemoteMaxDebt:
		encodeUint128(buf, op.SetRemoteMaxDebt)
	case OpEnableRequests, OpDisableRequests:
		// No payload.
	case OpRequestSendFunds:
		req := op.Request
		buf.Write(req.RequestID[:])
		writeUint32(buf, len(req.Route))
		for _, hop := range req.Route {
			writeUint32(buf, len(hop))
			buf.Write(hop)
		}
		buf.Write(req.SrcHashedLock[:])
		encodeUint128(buf, req.DestPayment)
		encodeUint128(buf, req.TotalDestPayment)
		buf.Write(req.InvoiceID[:])
		encodeUint128(buf, req.Fee)
	case OpResponseSendFunds:
		resp := op.Response
		buf.Write(resp.RequestID[:])
		buf.Write(resp.RandNonce[:])
		buf.Write(resp.DestHashedLock[:])
		if resp.IsComplete {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
		buf.Write(resp.Signature[:])
	case OpFailureSendFunds:
		fail := op.Failure
		buf.Write(fail.RequestID[:])
		buf.Write(fail.ReportingKey[:])
		writeUint32(buf, len(fail.ReporterNonceSig))
		for _, hop := range fail.ReporterNonceSig {
			buf.Write(hop.RandNonce[:])
			buf.Write(hop.Signature[:])
		}
	}
}

func decodeOperation(r *bytes.Reader) (Operation, error) {
	kindByte, err := r.ReadByte()
	if err != nil {
		return Operation{}, err
	}
	kind := OpKind(kindByte)
	op := Operation{Kind: kind}
	switch kind {
	case OpSetRemoteMaxDebt:
		v, err := decodeUint128(r)
		if err != nil {
			return Operation{}, err
		}
		op.SetRemoteMaxDebt = v
	case OpEnableRequests, OpDisableRequests:
	case OpRequestSendFunds:
		var req creditline.Request
		if _, err := r.Read(req.RequestID[:]); err != nil {
			return Operation{}, err
		}
		nHops, err := readUint32(r)
		if err != nil {
			return Operation{}, err
		}
		req.Route = make([][]byte, nHops)
		for i := range req.Route {
			l, err := readUint32(r)
			if err != nil {
				return Operation{}, err
			}
			hop := make([]byte, l)
			if _, err := r.Read(hop); err != nil {
				return Operation{}, err
			}
			req.Route[i] = hop
		}
		if _, err := r.Read(req.SrcHashedLock[:]); err != nil {
			return Operation{}, err
		}
		if req.DestPayment, err = decodeUint128(r); err != nil {
			return Operation{}, err
		}
		if req.TotalDestPayment, err = decodeUint128(r); err != nil {
			return Operation{}, err
		}
		if _, err := r.Read(req.InvoiceID[:]); err != nil {
			return Operation{}, err
		}
		if req.Fee, err = decodeUint128(r); err != nil {
			return Operation{}, err
		}
		op.Request = req
	case OpResponseSendFunds:
		var resp creditline.Response
		if _, err := r.Read(resp.RequestID[:]); err != nil {
			return Operation{}, err
		}
		if _, err := r.Read(resp.RandNonce[:]); err != nil {
			return Operation{}, err
		}
		if _, err := r.Read(resp.DestHashedLock[:]); err != nil {
			return Operation{}, err
		}
		flag, err := r.ReadByte()
		if err != nil {
			return Operation{}, err
		}
		resp.IsComplete = flag == 1
		if _, err := r.Read(resp.Signature[:]); err != nil {
			return Operation{}, err
		}
		op.Response = resp
	case OpFailureSendFunds:
		var fail creditline.Failure
		if _, err := r.Read(fail.RequestID[:]); err != nil {
			return Operation{}, err
		}
		if _, err := r.Read(fail.ReportingKey[:]); err != nil {
			return Operation{}, err
		}
		n, err := readUint32(r)
		if err != nil {
			return Operation{}, err
		}
		fail.ReporterNonceSig = make([]creditline.ReporterHop, n)
		for i := range fail.ReporterNonceSig {
			if _, err := r.Read(fail.ReporterNonceSig[i].RandNonce[:]); err != nil {
				return Operation{}, err
			}
			if _, err := r.Read(fail.ReporterNonceSig[i].Signature[:]); err != nil {
				return Operation{}, err
			}
		}
		op.Failure = fail
	default:
		return Operation{}, fmt.Errorf("wire: unknown operation kind %d", kind)
	}
	return op, nil
}

// EncodePrefix serializes old_token || currencies_operations ||
// opt_local_relays || opt_active_currencies, the portion of the canonical
// layout that PrefixHash commits to.
func (m UnsignedMoveToken) EncodePrefix() []byte {
	var buf bytes.Buffer
	buf.Write(m.OldToken[:])

	writeUint32(&buf, len(m.CurrenciesOperations))
	for _, co := range m.CurrenciesOperations {
		writeUint32(&buf, len(co.Currency))
		buf.WriteString(string(co.Currency))
		writeUint32(&buf, len(co.Operations))
		for _, op := range co.Operations {
			encodeOperation(&buf, op)
		}
	}

	writeUint32(&buf, len(m.OptLocalRelays))
	for _, relay := range m.OptLocalRelays {
		writeUint32(&buf, len(relay))
		buf.Write(relay)
	}

	writeUint32(&buf, len(m.OptActiveCurrencies))
	for _, c := range m.OptActiveCurrencies {
		writeUint32(&buf, len(c))
		buf.WriteString(string(c))
	}

	return buf.Bytes()
}

// DecodePrefix is the inverse of EncodePrefix.
func DecodePrefix(b []byte) (UnsignedMoveToken, error) {
	var m UnsignedMoveToken
	r := bytes.NewReader(b)

	if _, err := r.Read(m.OldToken[:]); err != nil {
		return m, err
	}

	nCur, err := readUint32(r)
	if err != nil {
		return m, err
	}
	m.CurrenciesOperations = make([]CurrencyOperations, nCur)
	for i := range m.CurrenciesOperations {
		l, err := readUint32(r)
		if err != nil {
			return m, err
		}
		cb := make([]byte, l)
		if _, err := r.Read(cb); err != nil {
			return m, err
		}
		nOps, err := readUint32(r)
		if err != nil {
			return m, err
		}
		ops := make([]Operation, nOps)
		for j := range ops {
			op, err := decodeOperation(r)
			if err != nil {
				return m, err
			}
			ops[j] = op
		}
		m.CurrenciesOperations[i] = CurrencyOperations{
			Currency:   creditline.Currency(cb),
			Operations: ops,
		}
	}

	nRelay, err := readUint32(r)
	if err != nil {
		return m, err
	}
	m.OptLocalRelays = make([]RelayAddress, nRelay)
	for i := range m.OptLocalRelays {
		l, err := readUint32(r)
		if err != nil {
			return m, err
		}
		relay := make([]byte, l)
		if _, err := r.Read(relay); err != nil {
			return m, err
		}
		m.OptLocalRelays[i] = relay
	}

	nActive, err := readUint32(r)
	if err != nil {
		return m, err
	}
	m.OptActiveCurrencies = make([]creditline.Currency, nActive)
	for i := range m.OptActiveCurrencies {
		l, err := readUint32(r)
		if err != nil {
			return m, err
		}
		cb := make([]byte, l)
		if _, err := r.Read(cb); err != nil {
			return m, err
		}
		m.OptActiveCurrencies[i] = creditline.Currency(cb)
	}

	return m, nil
}

// PrefixHash is the hash of EncodePrefix(), the "prefix_hash" referenced by
// the signature buffer and by receive-path validation (spec §4.2, §6).
func (m UnsignedMoveToken) PrefixHash() HashResult {
	return Hash(m.EncodePrefix())
}

// ComputeInfoHash hashes the fields the move-token commits to out-of-band
// of the operations themselves (opt_local_relays/opt_active_currencies),
// matching the "info_hash" construction implied by spec §4.2 step 1.
func (m UnsignedMoveToken) ComputeInfoHash() HashResult {
	var buf bytes.Buffer
	for _, relay := range m.OptLocalRelays {
		buf.Write(relay)
	}
	for _, c := range m.OptActiveCurrencies {
		buf.WriteString(string(c))
	}
	return Hash(buf.Bytes())
}

// SignatureBuffer builds the buffer C8 is asked to sign over: spec §6,
// "hash(\"NEXT\") || prefix_hash || info_hash || rand_nonce".
func (m UnsignedMoveToken) SignatureBuffer() []byte {
	prefixHash := m.PrefixHash()
	nextTag := HashTag("NEXT")
	return Concat(nextTag[:], prefixHash[:], m.InfoHash[:], m.RandNonce[:])
}

// Encode serializes a full SignedMoveToken (prefix fields plus the trailing
// signature), used for persistence and for the MoveTokenRequest wire form.
func (sm SignedMoveToken) Encode() []byte {
	var buf bytes.Buffer
	buf.Write(sm.EncodePrefix())
	buf.Write(sm.InfoHash[:])
	buf.Write(sm.RandNonce[:])
	buf.Write(sm.NewToken[:])
	return buf.Bytes()
}

// DecodeSignedMoveToken is the inverse of SignedMoveToken.Encode. The
// prefix is variable length, so it is decoded with decodePrefixFromReader
// and the trailing fixed fields are read off the same reader afterward.
func DecodeSignedMoveToken(b []byte) (SignedMoveToken, error) {
	// EncodePrefix's own length fields make it self-delimiting, so we
	// can reuse a single bytes.Reader across the prefix and the trailing
	// fixed-width fields instead of re-deriving prefix length by hand.
	r := bytes.NewReader(b)
	prefix, err := decodePrefixFromReader(r)
	if err != nil {
		return SignedMoveToken{}, err
	}
	var sm SignedMoveToken
	sm.UnsignedMoveToken = prefix
	if _, err := r.Read(sm.InfoHash[:]); err != nil {
		return SignedMoveToken{}, err
	}
	if _, err := r.Read(sm.RandNonce[:]); err != nil {
		return SignedMoveToken{}, err
	}
	if _, err := r.Read(sm.NewToken[:]); err != nil {
		return SignedMoveToken{}, err
	}
	return sm, nil
}

func decodePrefixFromReader(r *bytes.Reader) (UnsignedMoveToken, error) {
	var m UnsignedMoveToken
	if _, err := r.Read(m.OldToken[:]); err != nil {
		return m, err
	}
	nCur, err := readUint32(r)
	if err != nil {
		return m, err
	}
	m.CurrenciesOperations = make([]CurrencyOperations, nCur)
	for i := range m.CurrenciesOperations {
		l, err := readUint32(r)
		if err != nil {
			return m, err
		}
		cb := make([]byte, l)
		if _, err := r.Read(cb); err != nil {
			return m, err
		}
		nOps, err := readUint32(r)
		if err != nil {
			return m, err
		}
		ops := make([]Operation, nOps)
		for j := range ops {
			op, err := decodeOperation(r)
			if err != nil {
				return m, err
			}
			ops[j] = op
		}
		m.CurrenciesOperations[i] = CurrencyOperations{
			Currency:   creditline.Currency(cb),
			Operations: ops,
		}
	}
	nRelay, err := readUint32(r)
	if err != nil {
		return m, err
	}
	m.OptLocalRelays = make([]RelayAddress, nRelay)
	for i := range m.OptLocalRelays {
		l, err := readUint32(r)
		if err != nil {
			return m, err
		}
		relay := make([]byte, l)
		if _, err := r.Read(relay); err != nil {
			return m, err
		}
		m.OptLocalRelays[i] = relay
	}
	nActive, err := readUint32(r)
	if err != nil {
		return m, err
	}
	m.OptActiveCurrencies = make([]creditline.Currency, nActive)
	for i := range m.OptActiveCurrencies {
		l, err := readUint32(r)
		if err != nil {
			return m, err
		}
		cb := make([]byte, l)
		if _, err := r.Read(cb); err != nil {
			return m, err
		}
		m.OptActiveCurrencies[i] = creditline.Currency(cb)
	}
	return m, nil
}

// ApproxBytesCount estimates the serialized size of the move-token if op
// were appended to currency's group, used by the batcher's byte budget
// (spec §4.4). It is approximate by design: exact accounting would require
// re-encoding the whole batch on every candidate, which the teacher's own
// switch.go forwarding loop avoids by estimating too.
func ApproxBytesCount(existing []CurrencyOperations, currency creditline.Currency, op Operation) int {
	base := 0
	for _, co := range existing {
		base += len(co.Currency) + 8
		for _, existingOp := range co.Operations {
			base += approxOpSize(existingOp)
		}
	}
	return base + approxOpSize(op) + len(currency) + 8
}

func approxOpSize(op Operation) int {
	switch op.Kind {
	case OpSetRemoteMaxDebt:
		return 17
	case OpEnableRequests, OpDisableRequests:
		return 1
	case OpRequestSendFunds:
		size := 1 + 16 + 4 + 32 + 16 + 16 + 32 + 16
		for _, hop := range op.Request.Route {
			size += 4 + len(hop)
		}
		return size
	case OpResponseSendFunds:
		return 1 + 16 + 16 + 32 + 1 + 64
	case OpFailureSendFunds:
		return 1 + 16 + 32 + 4 + len(op.Failure.ReporterNonceSig)*(16+64)
	default:
		return 1
	}
}
