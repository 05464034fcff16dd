package statefold

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tokennet/funder/creditline"
	"github.com/tokennet/funder/funder"
	"github.com/tokennet/funder/identity"
	"lukechampine.com/uint128"
)

func TestReplayRebuildsFriendFromControlMutations(t *testing.T) {
	_, self, err := identity.GenerateKey()
	require.NoError(t, err)
	_, remote, err := identity.GenerateKey()
	require.NoError(t, err)

	state := funder.NewState(self)
	batches := []funder.Batch{
		{
			{
				Kind:            funder.MutationAddFriend,
				RemotePublicKey: remote,
				RemoteAddress:   "127.0.0.1:4321",
			},
		},
		{
			{
				Kind:            funder.MutationSetRemoteMaxDebt,
				RemotePublicKey: remote,
				MaxDebt:         uint128.From64(500),
			},
			{
				Kind:            funder.MutationSetRequestsStatus,
				RemotePublicKey: remote,
				RequestsStatus:  creditline.Closed,
			},
		},
	}

	Replay(state, batches)

	f, ok := state.Friends[remote]
	require.True(t, ok)
	require.Equal(t, "127.0.0.1:4321", f.RemoteAddress)
	require.Equal(t, uint128.From64(500), f.WantedRemoteMaxDebt)
	require.Equal(t, creditline.Closed, f.WantedLocalRequestsStatus)
}

func TestReplayRemoveFriendUndoesEarlierAdd(t *testing.T) {
	_, self, err := identity.GenerateKey()
	require.NoError(t, err)
	_, remote, err := identity.GenerateKey()
	require.NoError(t, err)

	state := funder.NewState(self)
	batches := []funder.Batch{
		{{Kind: funder.MutationAddFriend, RemotePublicKey: remote}},
		{{Kind: funder.MutationRemoveFriend, RemotePublicKey: remote}},
	}

	Replay(state, batches)

	_, ok := state.Friends[remote]
	require.False(t, ok)
}

func TestReplaySetFriendStatusIgnoredForUnknownFriend(t *testing.T) {
	_, self, err := identity.GenerateKey()
	require.NoError(t, err)
	_, remote, err := identity.GenerateKey()
	require.NoError(t, err)

	state := funder.NewState(self)
	batches := []funder.Batch{
		{{
			Kind:            funder.MutationSetFriendStatus,
			RemotePublicKey: remote,
			Status:          funder.FriendStatusDisabled,
		}},
	}

	require.NotPanics(t, func() { Replay(state, batches) })
	_, ok := state.Friends[remote]
	require.False(t, ok)
}
