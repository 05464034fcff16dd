package friend

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tokennet/funder/creditline"
	"github.com/tokennet/funder/identity"
)

func newTestKeys(t *testing.T) (identity.PublicKey, identity.PublicKey) {
	t.Helper()
	_, localPub, err := identity.GenerateKey()
	require.NoError(t, err)
	_, remotePub, err := identity.GenerateKey()
	require.NoError(t, err)
	return localPub, remotePub
}

func TestNewFriendDefaults(t *testing.T) {
	local, remote := newTestKeys(t)
	f := New(local, remote, "127.0.0.1:5555")
	require.Equal(t, StatusEnabled, f.Status)
	require.Equal(t, ChannelConsistent, f.ChannelKind)
	require.NotNil(t, f.Channel)
	require.Equal(t, creditline.Open, f.WantedLocalRequestsStatus)
}

func TestPendingQueuesAreFIFO(t *testing.T) {
	local, remote := newTestKeys(t)
	f := New(local, remote, "")

	f.EnqueueRequest(PendingRequest{Currency: "FND", Request: creditline.Request{RequestID: creditline.Uid{1}}})
	f.EnqueueRequest(PendingRequest{Currency: "FND", Request: creditline.Request{RequestID: creditline.Uid{2}}})

	first, ok := f.PopRequest()
	require.True(t, ok)
	require.Equal(t, creditline.Uid{1}, first.Request.RequestID)

	second, ok := f.PopRequest()
	require.True(t, ok)
	require.Equal(t, creditline.Uid{2}, second.Request.RequestID)

	_, ok = f.PopRequest()
	require.False(t, ok)
}

func TestInconsistencyResolvesOnAgreement(t *testing.T) {
	local, remote := newTestKeys(t)
	f := New(local, remote, "")

	f.EnterInconsistent(ResetSnapshot{BalanceForReset: creditline.FromInt64(50)})
	require.Equal(t, ChannelInconsistent, f.ChannelKind)
	require.Nil(t, f.Channel)

	// Disagreeing remote snapshot must not resolve.
	f.RecordRemoteSnapshot(ResetSnapshot{BalanceForReset: creditline.FromInt64(50)})
	require.False(t, f.TryResolveInconsistency(local, "FND"))
	require.Equal(t, ChannelInconsistent, f.ChannelKind)

	// Agreeing (additive-inverse) remote snapshot resolves the channel.
	f.RecordRemoteSnapshot(ResetSnapshot{BalanceForReset: creditline.FromInt64(-50)})
	require.True(t, f.TryResolveInconsistency(local, "FND"))
	require.Equal(t, ChannelConsistent, f.ChannelKind)
	require.NotNil(t, f.Channel)
	require.Equal(t, creditline.FromInt64(50), f.Channel.MutualCredits["FND"].Balance)
}

func TestTryResolveInconsistencyRequiresBothSnapshots(t *testing.T) {
	local, remote := newTestKeys(t)
	f := New(local, remote, "")
	f.EnterInconsistent(ResetSnapshot{BalanceForReset: creditline.FromInt64(1)})
	require.False(t, f.TryResolveInconsistency(local, "FND"))
}
