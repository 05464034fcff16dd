package fstore

import (
	"bytes"
	"io"

	"github.com/tokennet/funder/creditline"
	"github.com/tokennet/funder/funder"
	"lukechampine.com/uint128"
)

// encodeBatch serializes a funder.Batch as a count-prefixed sequence of
// mutation records, mirroring wire/movetoken.go's length-prefixed binary
// codec idiom rather than a general-purpose serialization library: the
// mutation log and the wire protocol are the only two places in this
// module that cross a durability/transport boundary, so they share one
// hand-rolled convention instead of pulling in a second one.
func encodeBatch(b funder.Batch) ([]byte, error) {
	var buf bytes.Buffer

	var count [4]byte
	byteOrder.PutUint32(count[:], uint32(len(b)))
	buf.Write(count[:])

	for _, m := range b {
		if err := encodeMutation(&buf, m); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func decodeBatch(data []byte) (funder.Batch, error) {
	r := bytes.NewReader(data)

	var count [4]byte
	if _, err := io.ReadFull(r, count[:]); err != nil {
		return nil, err
	}
	n := byteOrder.Uint32(count[:])

	batch := make(funder.Batch, 0, n)
	for i := uint32(0); i < n; i++ {
		m, err := decodeMutation(r)
		if err != nil {
			return nil, err
		}
		batch = append(batch, m)
	}
	return batch, nil
}

func encodeMutation(buf *bytes.Buffer, m funder.NodeMutation) error {
	buf.WriteByte(byte(m.Kind))
	buf.Write(m.RemotePublicKey[:])

	writeString(buf, m.RemoteAddress)
	buf.WriteByte(byte(m.Status))
	buf.WriteByte(byte(m.RequestsStatus))
	writeUint128(buf, m.MaxDebt)
	writeBytes(buf, m.EncodedMessage)

	return nil
}

func decodeMutation(r *bytes.Reader) (funder.NodeMutation, error) {
	var m funder.NodeMutation

	kind, err := r.ReadByte()
	if err != nil {
		return m, err
	}
	m.Kind = funder.MutationKind(kind)

	if _, err := io.ReadFull(r, m.RemotePublicKey[:]); err != nil {
		return m, err
	}

	addr, err := readString(r)
	if err != nil {
		return m, err
	}
	m.RemoteAddress = addr

	status, err := r.ReadByte()
	if err != nil {
		return m, err
	}
	m.Status = int(status)

	rs, err := r.ReadByte()
	if err != nil {
		return m, err
	}
	m.RequestsStatus = creditline.RequestsStatus(rs)

	maxDebt, err := readUint128(r)
	if err != nil {
		return m, err
	}
	m.MaxDebt = maxDebt

	enc, err := readBytes(r)
	if err != nil {
		return m, err
	}
	m.EncodedMessage = enc

	return m, nil
}

func writeString(buf *bytes.Buffer, s string) {
	writeBytes(buf, []byte(s))
}

func readString(r *bytes.Reader) (string, error) {
	b, err := readBytes(r)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func writeBytes(buf *bytes.Buffer, b []byte) {
	var l [4]byte
	byteOrder.PutUint32(l[:], uint32(len(b)))
	buf.Write(l[:])
	buf.Write(b)
}

func readBytes(r *bytes.Reader) ([]byte, error) {
	var l [4]byte
	if _, err := io.ReadFull(r, l[:]); err != nil {
		return nil, err
	}
	n := byteOrder.Uint32(l[:])
	if n == 0 {
		return nil, nil
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}

func writeUint128(buf *bytes.Buffer, v uint128.Uint128) {
	big := v.Big().Bytes()
	var padded [16]byte
	copy(padded[16-len(big):], big)
	buf.Write(padded[:])
}

func readUint128(r *bytes.Reader) (uint128.Uint128, error) {
	var b [16]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return uint128.Uint128{}, err
	}
	return uint128.FromBytesBE(b[:]), nil
}
