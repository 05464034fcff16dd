package wire

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tokennet/funder/creditline"
	"lukechampine.com/uint128"
)

func sampleMoveToken() UnsignedMoveToken {
	req := creditline.Request{
		RequestID:   creditline.Uid{1, 2, 3},
		Route:       [][]byte{{0xAA}, {0xBB, 0xCC}},
		DestPayment: uint128.From64(500),
		Fee:         uint128.From64(5),
	}
	return UnsignedMoveToken{
		OldToken: Hash([]byte("seed")),
		CurrenciesOperations: []CurrencyOperations{
			{
				Currency: "FND",
				Operations: []Operation{
					{Kind: OpSetRemoteMaxDebt, SetRemoteMaxDebt: uint128.From64(1000)},
					{Kind: OpRequestSendFunds, Request: req},
				},
			},
		},
		OptLocalRelays:      []RelayAddress{[]byte("127.0.0.1:4000")},
		OptActiveCurrencies: []creditline.Currency{"FND"},
		RandNonce:           [16]byte{9, 9, 9},
	}
}

func TestSignedMoveTokenRoundTrip(t *testing.T) {
	unsigned := sampleMoveToken()
	unsigned.InfoHash = unsigned.ComputeInfoHash()

	signed := SignedMoveToken{
		UnsignedMoveToken: unsigned,
		NewToken:          [64]byte{1, 2, 3, 4},
	}

	encoded := signed.Encode()
	decoded, err := DecodeSignedMoveToken(encoded)
	require.NoError(t, err)
	require.Equal(t, signed, decoded)
}

func TestSignatureBufferIsCanonical(t *testing.T) {
	a := sampleMoveToken()
	b := sampleMoveToken()
	a.InfoHash = a.ComputeInfoHash()
	b.InfoHash = b.ComputeInfoHash()

	require.Equal(t, a.SignatureBuffer(), b.SignatureBuffer())

	b.RandNonce[0] ^= 0xFF
	require.NotEqual(t, a.SignatureBuffer(), b.SignatureBuffer())
}

func TestResponseSignatureBufferCanonical(t *testing.T) {
	pending := creditline.PendingTransaction{
		DestPayment:      uint128.From64(10),
		TotalDestPayment: uint128.From64(10),
	}
	resp := creditline.Response{RequestID: creditline.Uid{1}, RandNonce: [16]byte{2}}

	buf1 := ResponseSignatureBuffer("FND", resp, pending)
	buf2 := ResponseSignatureBuffer("FND", resp, pending)
	require.Equal(t, buf1, buf2)

	resp.IsComplete = true
	buf3 := ResponseSignatureBuffer("FND", resp, pending)
	require.NotEqual(t, buf1, buf3)
}
