package batch

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tokennet/funder/creditline"
	"github.com/tokennet/funder/friend"
	"github.com/tokennet/funder/identity"
	"github.com/tokennet/funder/tokenchannel"
	"github.com/tokennet/funder/wire"
	"lukechampine.com/uint128"
)

func newSendableFriend(t *testing.T, local, remote identity.PublicKey) (*tokenchannel.TokenChannel, *friend.Friend) {
	t.Helper()
	f := friend.New(local, remote, "")
	// Force the channel we're draining into Incoming state so BeginOutgoing
	// succeeds regardless of the key tie-break: direction depends only on
	// the key order, so swap the keys if it came out Outgoing.
	if f.Channel.Direction != tokenchannel.DirIncoming {
		f = friend.New(remote, local, "")
	}
	return f.Channel, f
}

func TestDrainPriorityOrder(t *testing.T) {
	_, localPub, err := identity.GenerateKey()
	require.NoError(t, err)
	_, remotePub, err := identity.GenerateKey()
	require.NoError(t, err)

	tc, f := newSendableFriend(t, localPub, remotePub)
	f.WantedRemoteMaxDebt = uint128.From64(500)
	// The max-debt tier only reconciles ledgers that already exist.
	tc.MutualCredits["FND"] = creditline.NewMutualCredit("FND")

	f.EnqueueUserRequest(friend.PendingRequest{Currency: "FND", Request: creditline.Request{RequestID: creditline.Uid{9}}})

	builder, err := tc.BeginOutgoing()
	require.NoError(t, err)

	plan, err := Drain(builder, f, DefaultMaxMoveTokenBytes)
	require.NoError(t, err)
	require.Equal(t, 1, plan.AdmittedMaxDebt)
	require.Equal(t, 1, plan.AdmittedUserRequests)
	require.True(t, builder.HasOperations())

	ops := builder.Snapshot()[0].Operations
	require.Len(t, ops, 2)
	require.Equal(t, wire.OpSetRemoteMaxDebt, ops[0].Kind)
	require.Equal(t, wire.OpRequestSendFunds, ops[1].Kind)
}

func TestDrainRespectsByteBudget(t *testing.T) {
	_, localPub, err := identity.GenerateKey()
	require.NoError(t, err)
	_, remotePub, err := identity.GenerateKey()
	require.NoError(t, err)

	tc, f := newSendableFriend(t, localPub, remotePub)
	for i := 0; i < 5; i++ {
		f.EnqueueUserRequest(friend.PendingRequest{
			Currency: "FND",
			Request:  creditline.Request{RequestID: creditline.Uid{byte(i + 1)}},
		})
	}

	builder, err := tc.BeginOutgoing()
	require.NoError(t, err)

	plan, err := Drain(builder, f, 120)
	require.NoError(t, err)
	require.Less(t, plan.AdmittedUserRequests, 5)
	require.NotEmpty(t, f.PendingUserRequests)
}
