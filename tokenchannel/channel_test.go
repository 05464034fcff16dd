package tokenchannel

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tokennet/funder/creditline"
	"github.com/tokennet/funder/identity"
	"github.com/tokennet/funder/wire"
	"lukechampine.com/uint128"
)

type testPeer struct {
	priv   *identity.Signer
	pub    identity.PublicKey
	nonces identity.NonceSource
}

func newTestPeer(t *testing.T) *testPeer {
	t.Helper()
	priv, pub, err := identity.GenerateKey()
	require.NoError(t, err)
	signer := identity.NewSigner(priv)
	t.Cleanup(signer.Close)
	return &testPeer{priv: signer, pub: pub}
}

func TestHandshakeSetsRemoteMaxDebt(t *testing.T) {
	a := newTestPeer(t)
	b := newTestPeer(t)

	tcA := New(a.pub, b.pub)
	tcB := New(b.pub, a.pub)
	require.NotEqual(t, tcA.Direction, tcB.Direction)

	// Whoever holds the incoming token sends first.
	var senderTC, receiverTC *TokenChannel
	var senderPeer *testPeer
	if tcA.Direction == DirIncoming {
		senderTC, receiverTC, senderPeer = tcA, tcB, a
	} else {
		senderTC, receiverTC, senderPeer = tcB, tcA, b
	}

	builder, err := senderTC.BeginOutgoing()
	require.NoError(t, err)
	ok, err := builder.TryAdd("FND", wire.Operation{
		Kind:             wire.OpSetRemoteMaxDebt,
		SetRemoteMaxDebt: uint128.From64(100),
	})
	require.NoError(t, err)
	require.True(t, ok)

	signed, sent, err := builder.Done(senderPeer.priv, senderPeer.nonces, SendModeEmptyNotAllowed, nil, nil)
	require.NoError(t, err)
	require.True(t, sent)
	require.Equal(t, uint128.From64(100), senderTC.MutualCredits["FND"].RemoteMaxDebt)

	out, err := receiverTC.ReceiveMoveToken(*signed)
	require.NoError(t, err)
	require.Len(t, out.Processed, 1)
	require.Equal(t, uint128.From64(100), receiverTC.MutualCredits["FND"].LocalMaxDebt)
	require.Equal(t, DirIncoming, receiverTC.Direction)
	require.Equal(t, DirOutgoing, senderTC.Direction)
}

func TestDuplicateReceiveIsNoop(t *testing.T) {
	a := newTestPeer(t)
	b := newTestPeer(t)

	tcA := New(a.pub, b.pub)
	tcB := New(b.pub, a.pub)

	var senderIsA bool
	var senderTC, receiverTC *TokenChannel
	var senderPeer *testPeer
	if tcA.Direction == DirIncoming {
		senderIsA = true
		senderTC, receiverTC, senderPeer = tcA, tcB, a
	} else {
		senderTC, receiverTC, senderPeer = tcB, tcA, b
	}

	builder, err := senderTC.BeginOutgoing()
	require.NoError(t, err)
	_, err = builder.TryAdd("FND", wire.Operation{Kind: wire.OpEnableRequests})
	require.NoError(t, err)
	signed, _, err := builder.Done(senderPeer.priv, senderPeer.nonces, SendModeEmptyNotAllowed, nil, nil)
	require.NoError(t, err)

	_, err = receiverTC.ReceiveMoveToken(*signed)
	require.NoError(t, err)

	// Redeliver the identical message to the channel that accepted it
	// (now DirIncoming): it is discarded as a duplicate, no mutation.
	out, err := receiverTC.ReceiveMoveToken(*signed)
	require.NoError(t, err)
	require.Nil(t, out)

	// A fresh pair of channels in the same roles still accepts a first
	// delivery normally.
	var senderTC2, receiverTC2 *TokenChannel
	if senderIsA {
		senderTC2, receiverTC2 = New(a.pub, b.pub), New(b.pub, a.pub)
	} else {
		senderTC2, receiverTC2 = New(b.pub, a.pub), New(a.pub, b.pub)
	}
	builder2, err := senderTC2.BeginOutgoing()
	require.NoError(t, err)
	_, err = builder2.TryAdd("FND", wire.Operation{Kind: wire.OpEnableRequests})
	require.NoError(t, err)
	signed2, _, err := builder2.Done(senderPeer.priv, senderPeer.nonces, SendModeEmptyNotAllowed, nil, nil)
	require.NoError(t, err)

	out2, err := receiverTC2.ReceiveMoveToken(*signed2)
	require.NoError(t, err)
	require.NotNil(t, out2)
}

func TestBadSignatureRejected(t *testing.T) {
	a := newTestPeer(t)
	b := newTestPeer(t)
	other := newTestPeer(t)

	tcA := New(a.pub, b.pub)
	tcB := New(b.pub, a.pub)

	var senderTC, receiverTC *TokenChannel
	if tcA.Direction == DirIncoming {
		senderTC, receiverTC = tcA, tcB
	} else {
		senderTC, receiverTC = tcB, tcA
	}

	builder, err := senderTC.BeginOutgoing()
	require.NoError(t, err)
	_, err = builder.TryAdd("FND", wire.Operation{Kind: wire.OpEnableRequests})
	require.NoError(t, err)
	// Sign with the wrong key.
	signed, _, err := builder.Done(other.priv, other.nonces, SendModeEmptyNotAllowed, nil, nil)
	require.NoError(t, err)

	_, err = receiverTC.ReceiveMoveToken(*signed)
	require.Error(t, err)
	var rmtErr *ReceiveMoveTokenError
	require.ErrorAs(t, err, &rmtErr)
	require.Equal(t, ErrKindBadSignature, rmtErr.Kind)
}

func TestRequestSendFundsFullRoundTrip(t *testing.T) {
	a := newTestPeer(t)
	b := newTestPeer(t)

	tcA := New(a.pub, b.pub)
	tcB := New(b.pub, a.pub)

	var senderTC, receiverTC *TokenChannel
	var senderPeer *testPeer
	if tcA.Direction == DirIncoming {
		senderTC, receiverTC, senderPeer = tcA, tcB, a
	} else {
		senderTC, receiverTC, senderPeer = tcB, tcA, b
	}
	receiverTC.mutualCredit("FND").RequestsStatus.Remote = creditline.Open
	receiverTC.mutualCredit("FND").LocalMaxDebt = uint128.From64(1000)
	// Invariant 3 on the sender's side: its local pending debt (10) must
	// fit within RemoteMaxDebt.
	senderTC.mutualCredit("FND").RemoteMaxDebt = uint128.From64(1000)

	builder, err := senderTC.BeginOutgoing()
	require.NoError(t, err)
	req := creditline.Request{RequestID: creditline.Uid{7}, DestPayment: uint128.From64(10)}
	ok, err := builder.TryAdd("FND", wire.Operation{Kind: wire.OpRequestSendFunds, Request: req})
	require.NoError(t, err)
	require.True(t, ok)

	signed, _, err := builder.Done(senderPeer.priv, senderPeer.nonces, SendModeEmptyNotAllowed, nil, nil)
	require.NoError(t, err)

	out, err := receiverTC.ReceiveMoveToken(*signed)
	require.NoError(t, err)
	require.Len(t, out.Processed, 1)
	_, ok = receiverTC.MutualCredits["FND"].PendingRemoteRequests[req.RequestID]
	require.True(t, ok)
}
