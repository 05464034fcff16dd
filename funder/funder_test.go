package funder

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tokennet/funder/creditline"
	"github.com/tokennet/funder/identity"
	"github.com/tokennet/funder/tokenchannel"
	"github.com/tokennet/funder/wire"
	"lukechampine.com/uint128"
)

// recordingPersister accumulates every batch handed to it, standing in for
// C11 in tests that don't need bbolt durability.
type recordingPersister struct {
	batches []Batch
}

func (p *recordingPersister) Persist(b Batch) error {
	p.batches = append(p.batches, b)
	return nil
}

type testNode struct {
	pub    identity.PublicKey
	signer *identity.Signer
	nonces identity.NonceSource
	loop   *Loop
	store  *recordingPersister
}

func newTestNode(t *testing.T) *testNode {
	t.Helper()
	priv, pub, err := identity.GenerateKey()
	require.NoError(t, err)
	signer := identity.NewSigner(priv)
	t.Cleanup(signer.Close)

	store := &recordingPersister{}
	state := NewState(pub)
	return &testNode{
		pub:    pub,
		signer: signer,
		store:  store,
		loop:   New(state, store, signer, identity.NonceSource{}),
	}
}

func TestHandleControlAddFriend(t *testing.T) {
	n := newTestNode(t)
	_, peerPub, err := identity.GenerateKey()
	require.NoError(t, err)

	b, outgoing, err := n.loop.HandleControl(AddFriend{RemotePublicKey: peerPub, RemoteAddress: "10.0.0.1:1"})
	require.NoError(t, err)
	require.Nil(t, outgoing)
	require.Len(t, b, 1)
	require.Equal(t, MutationAddFriend, b[0].Kind)
	require.Len(t, n.store.batches, 1)

	f, ok := n.loop.State.Friends[peerPub]
	require.True(t, ok)
	require.Equal(t, "10.0.0.1:1", f.RemoteAddress)
}

func TestHandleControlAddFriendRejectsDuplicate(t *testing.T) {
	n := newTestNode(t)
	_, peerPub, err := identity.GenerateKey()
	require.NoError(t, err)

	_, _, err = n.loop.HandleControl(AddFriend{RemotePublicKey: peerPub})
	require.NoError(t, err)

	_, _, err = n.loop.HandleControl(AddFriend{RemotePublicKey: peerPub})
	require.Error(t, err)
}

func TestHandleControlUnknownFriendErrors(t *testing.T) {
	n := newTestNode(t)
	_, peerPub, err := identity.GenerateKey()
	require.NoError(t, err)

	_, _, err = n.loop.HandleControl(SetFriendStatus{RemotePublicKey: peerPub, Status: FriendStatusDisabled})
	require.Error(t, err)
}

// inFlight pairs an OutgoingComm with the node that produced it, so
// deliverAll can tell the recipient which friend record to dispatch
// against without guessing.
type inFlight struct {
	from identity.PublicKey
	comm OutgoingComm
}

// deliverAll pumps messages between wired nodes until nobody produces any
// more, modelling synchronous delivery with no transport latency.
func deliverAll(t *testing.T, nodes map[identity.PublicKey]*testNode, from identity.PublicKey, outgoing []OutgoingComm) {
	t.Helper()
	queue := make([]inFlight, 0, len(outgoing))
	for _, o := range outgoing {
		queue = append(queue, inFlight{from: from, comm: o})
	}

	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]

		recipient, ok := nodes[next.comm.Peer]
		require.True(t, ok, "no test node registered for peer")

		_, more, err := recipient.loop.HandleFriendMessage(FriendComm{Peer: next.from, Message: next.comm.Message})
		require.NoError(t, err)
		for _, o := range more {
			queue = append(queue, inFlight{from: next.comm.Peer, comm: o})
		}
	}
}

// wireUp connects two test nodes as friends of each other (spec §3
// Lifecycle: each side independently adds the other). Direction is decided
// locally by both sides from the same key comparison, so no message
// exchange is needed before either side can send.
func wireUp(t *testing.T, a, b *testNode) {
	t.Helper()
	_, _, err := a.loop.HandleControl(AddFriend{RemotePublicKey: b.pub, RemoteAddress: "b"})
	require.NoError(t, err)
	_, _, err = b.loop.HandleControl(AddFriend{RemotePublicKey: a.pub, RemoteAddress: "a"})
	require.NoError(t, err)
}

func TestSingleHopPaymentReachesDestination(t *testing.T) {
	nodeA := newTestNode(t)
	nodeB := newTestNode(t)
	wireUp(t, nodeA, nodeB)

	// Direction is decided locally by key comparison; only the side
	// holding the incoming token can originate the first send, so pick it
	// as src regardless of which generated key landed where.
	src, dest := nodeA, nodeB
	if nodeA.loop.State.Friends[nodeB.pub].Channel.Direction != tokenchannel.DirIncoming {
		src, dest = nodeB, nodeA
	}

	nodes := map[identity.PublicKey]*testNode{src.pub: src, dest.pub: dest}

	// Establish a credit line each way so the 100-unit payment clears
	// invariant 3 on both sides of the hop; a real deployment would
	// exchange SetRemoteMaxDebt operations to reach this state.
	srcMC := creditline.NewMutualCredit("FND")
	srcMC.RemoteMaxDebt = uint128.From64(1000)
	src.loop.State.Friends[dest.pub].Channel.MutualCredits["FND"] = srcMC
	// Drain's first tier reconciles RemoteMaxDebt to WantedRemoteMaxDebt on
	// every call; without matching it here that reconciliation would emit a
	// SetRemoteMaxDebt(0) ahead of the payment in the same token and wipe
	// the credit line back out before the request tier ever runs.
	src.loop.State.Friends[dest.pub].WantedRemoteMaxDebt = uint128.From64(1000)

	destMC := creditline.NewMutualCredit("FND")
	destMC.LocalMaxDebt = uint128.From64(1000)
	dest.loop.State.Friends[src.pub].Channel.MutualCredits["FND"] = destMC

	reqID := creditline.Uid{9}
	req := creditline.Request{
		RequestID:   reqID,
		Route:       [][]byte{src.pub[:], dest.pub[:]},
		DestPayment: uint128.From64(100),
	}

	_, outgoing, err := src.loop.HandleControl(UserRequestSendFunds{
		Currency: "FND",
		Request:  req,
		Route:    []identity.PublicKey{src.pub, dest.pub},
	})
	require.NoError(t, err)
	require.NotEmpty(t, outgoing)

	deliverAll(t, nodes, src.pub, outgoing)

	// Destination is the route's final hop: Forward must have classified
	// the request DeliverLocally rather than trying to push it further, so
	// it sits unresolved on dest's side awaiting an application answer --
	// no panics, no spurious friend lookups.
	destFriend := dest.loop.State.Friends[src.pub]
	require.NotNil(t, destFriend)
	_, pending := destFriend.Channel.MutualCredits["FND"].PendingRemoteRequests[reqID]
	require.True(t, pending)
}

func TestResetFriendChannelEntersInconsistentAndEmitsError(t *testing.T) {
	n := newTestNode(t)
	_, peerPub, err := identity.GenerateKey()
	require.NoError(t, err)
	_, _, err = n.loop.HandleControl(AddFriend{RemotePublicKey: peerPub})
	require.NoError(t, err)

	b, outgoing, err := n.loop.HandleControl(ResetFriendChannel{RemotePublicKey: peerPub})
	require.NoError(t, err)
	require.Len(t, b, 1)
	require.Equal(t, MutationEnterInconsistent, b[0].Kind)
	require.Len(t, outgoing, 1)

	msg, ok := outgoing[0].Message.(wire.InconsistencyError)
	require.True(t, ok)
	require.NotZero(t, msg.ResetToken)

	f := n.loop.State.Friends[peerPub]
	require.Nil(t, f.Channel)
}

func TestHandleFriendMessageUnknownFriendErrors(t *testing.T) {
	n := newTestNode(t)
	_, strangerPub, err := identity.GenerateKey()
	require.NoError(t, err)

	_, _, err = n.loop.HandleFriendMessage(FriendComm{Peer: strangerPub, Message: wire.KeepAlive{}})
	require.Error(t, err)
}

func TestHandleTickRetransmitsOutgoingToken(t *testing.T) {
	nodeA := newTestNode(t)
	nodeB := newTestNode(t)
	wireUp(t, nodeA, nodeB)

	sender, receiver := nodeA, nodeB
	if nodeA.loop.State.Friends[nodeB.pub].Channel.Direction != tokenchannel.DirIncoming {
		sender, receiver = nodeB, nodeA
	}
	nodes := map[identity.PublicKey]*testNode{sender.pub: sender, receiver.pub: receiver}

	_, outgoing, err := sender.loop.HandleControl(SetFriendRemoteMaxDebt{
		RemotePublicKey: receiver.pub,
		MaxDebt:         uint128.From64(500),
	})
	require.NoError(t, err)
	require.NotEmpty(t, outgoing)
	deliverAll(t, nodes, sender.pub, outgoing)

	senderFriend := sender.loop.State.Friends[receiver.pub]
	require.Equal(t, tokenchannel.DirOutgoing, senderFriend.Channel.Direction)
	require.True(t, senderFriend.Channel.Outgoing.HasSent)
	require.False(t, senderFriend.Channel.Outgoing.TokenWanted)

	tickOut, err := sender.loop.HandleTick(Tick{})
	require.NoError(t, err)
	require.Len(t, tickOut, 1)
	require.True(t, senderFriend.Channel.Outgoing.TokenWanted)
}

func TestHandleLivenessUnknownPeerIsIgnored(t *testing.T) {
	n := newTestNode(t)
	_, strangerPub, err := identity.GenerateKey()
	require.NoError(t, err)

	outgoing, err := n.loop.HandleLiveness(Liveness{Peer: strangerPub, Online: true})
	require.NoError(t, err)
	require.Nil(t, outgoing)
}

func TestHandleLivenessOnlineRetriesOutgoingToken(t *testing.T) {
	nodeA := newTestNode(t)
	nodeB := newTestNode(t)
	wireUp(t, nodeA, nodeB)

	sender, receiver := nodeA, nodeB
	if nodeA.loop.State.Friends[nodeB.pub].Channel.Direction != tokenchannel.DirIncoming {
		sender, receiver = nodeB, nodeA
	}
	nodes := map[identity.PublicKey]*testNode{sender.pub: sender, receiver.pub: receiver}

	_, outgoing, err := sender.loop.HandleControl(SetFriendRemoteMaxDebt{
		RemotePublicKey: receiver.pub,
		MaxDebt:         uint128.From64(500),
	})
	require.NoError(t, err)
	deliverAll(t, nodes, sender.pub, outgoing)

	senderFriend := sender.loop.State.Friends[receiver.pub]
	require.False(t, senderFriend.Channel.Outgoing.TokenWanted)
	require.False(t, senderFriend.Reachable)

	liveOut, err := sender.loop.HandleLiveness(Liveness{Peer: receiver.pub, Online: true})
	require.NoError(t, err)
	require.Len(t, liveOut, 1)
	require.True(t, senderFriend.Reachable)
	require.True(t, senderFriend.Channel.Outgoing.TokenWanted)
}

func TestHandleLivenessOfflineMarksUnreachableWithoutOutgoing(t *testing.T) {
	nodeA := newTestNode(t)
	nodeB := newTestNode(t)
	wireUp(t, nodeA, nodeB)

	f := nodeA.loop.State.Friends[nodeB.pub]
	f.Reachable = true

	outgoing, err := nodeA.loop.HandleLiveness(Liveness{Peer: nodeB.pub, Online: false})
	require.NoError(t, err)
	require.Nil(t, outgoing)
	require.False(t, f.Reachable)
}
