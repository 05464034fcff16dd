package fstore

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tokennet/funder/funder"
	"lukechampine.com/uint128"
)

func TestPersistAndLoadRoundTrip(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, s.Close()) })

	var peer [32]byte
	peer[0] = 0xAB

	b1 := funder.Batch{{
		Kind:            funder.MutationAddFriend,
		RemotePublicKey: peer,
		RemoteAddress:   "10.0.0.1:1234",
	}}
	b2 := funder.Batch{{
		Kind:            funder.MutationSetRemoteMaxDebt,
		RemotePublicKey: peer,
		MaxDebt:         uint128.From64(500),
	}}

	require.NoError(t, s.Persist(b1))
	require.NoError(t, s.Persist(b2))

	loaded, err := s.Load()
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	require.Equal(t, b1, loaded[0])
	require.Equal(t, b2, loaded[1])
}

func TestPersistSkipsEmptyBatch(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, s.Close()) })

	require.NoError(t, s.Persist(nil))

	loaded, err := s.Load()
	require.NoError(t, err)
	require.Empty(t, loaded)
}

func TestLoadSurvivesReopen(t *testing.T) {
	dir := t.TempDir()

	s, err := Open(dir)
	require.NoError(t, err)

	var peer [32]byte
	peer[1] = 0xCD
	require.NoError(t, s.Persist(funder.Batch{{Kind: funder.MutationRemoveFriend, RemotePublicKey: peer}}))
	require.NoError(t, s.Close())

	s2, err := Open(dir)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, s2.Close()) })

	loaded, err := s2.Load()
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	require.Equal(t, funder.MutationRemoveFriend, loaded[0][0].Kind)
}

func TestWipeClearsLog(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, s.Close()) })

	var peer [32]byte
	require.NoError(t, s.Persist(funder.Batch{{Kind: funder.MutationAddFriend, RemotePublicKey: peer}}))

	require.NoError(t, s.Wipe())

	loaded, err := s.Load()
	require.NoError(t, err)
	require.Empty(t, loaded)
}
