package router

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tokennet/funder/creditline"
	"github.com/tokennet/funder/freezeguard"
	"github.com/tokennet/funder/friend"
	"github.com/tokennet/funder/identity"
	"lukechampine.com/uint128"
)

func genKey(t *testing.T) identity.PublicKey {
	t.Helper()
	_, pub, err := identity.GenerateKey()
	require.NoError(t, err)
	return pub
}

func TestPositionOf(t *testing.T) {
	a, b, c, d := genKey(t), genKey(t), genKey(t), genKey(t)
	route := []identity.PublicKey{a, b, c, d}

	require.Equal(t, PositionSource, PositionOf(route, a))
	require.Equal(t, PositionIntermediate, PositionOf(route, b))
	require.Equal(t, PositionIntermediate, PositionOf(route, c))
	require.Equal(t, PositionDest, PositionOf(route, d))
	require.Equal(t, PositionNotInRoute, PositionOf(route, genKey(t)))
}

func TestForwardDeliversLocallyAtDestination(t *testing.T) {
	a, b := genKey(t), genKey(t)
	route := []identity.PublicKey{a, b}

	r := New(b, freezeguard.New())
	d := r.Forward(route, a, "FND", creditline.Request{}, nil, freezeguard.FreezeLink{})
	require.Equal(t, DecisionDeliverLocally, d.Kind)
}

func TestForwardFailsLocallyWhenNextHopUnknown(t *testing.T) {
	a, b, c := genKey(t), genKey(t), genKey(t)
	route := []identity.PublicKey{a, b, c}

	r := New(b, freezeguard.New())
	req := creditline.Request{RequestID: creditline.Uid{1}, DestPayment: uint128.From64(10)}
	d := r.Forward(route, a, "FND", req, map[identity.PublicKey]*friend.Friend{}, freezeguard.FreezeLink{})
	require.Equal(t, DecisionLocalFailure, d.Kind)

	_, ok := r.ResolveOrigin(req.RequestID)
	require.False(t, ok)
}

func TestForwardSucceedsAndRecordsOrigin(t *testing.T) {
	a, b, c := genKey(t), genKey(t), genKey(t)
	route := []identity.PublicKey{a, b, c}

	downstream := friend.New(b, c, "")
	friends := map[identity.PublicKey]*friend.Friend{c: downstream}

	guard := freezeguard.New()
	r := New(b, guard)
	req := creditline.Request{RequestID: creditline.Uid{2}, DestPayment: uint128.From64(10)}
	link := freezeguard.FreezeLink{SharedCredits: uint128.From64(1000), UsableRatio: freezeguard.RatioOne}

	d := r.Forward(route, a, "FND", req, friends, link)
	require.Equal(t, DecisionForward, d.Kind)
	require.Equal(t, c, d.NextHop)

	origin, ok := r.ResolveOrigin(req.RequestID)
	require.True(t, ok)
	require.Equal(t, a, origin.Upstream)

	r.SettleOrigin(req.RequestID)
	_, ok = r.ResolveOrigin(req.RequestID)
	require.False(t, ok)
}

func TestForwardFailsWhenFreezeGuardRejects(t *testing.T) {
	a, b, c := genKey(t), genKey(t), genKey(t)
	route := []identity.PublicKey{a, b, c}
	downstream := friend.New(b, c, "")
	friends := map[identity.PublicKey]*friend.Friend{c: downstream}

	guard := freezeguard.New()
	r := New(b, guard)
	link := freezeguard.FreezeLink{SharedCredits: uint128.From64(5), UsableRatio: freezeguard.RatioOne}
	req := creditline.Request{RequestID: creditline.Uid{3}, DestPayment: uint128.From64(100)}

	d := r.Forward(route, a, "FND", req, friends, link)
	require.Equal(t, DecisionLocalFailure, d.Kind)
}

func TestAppendReporterHopPreservesPriorHops(t *testing.T) {
	fail := creditline.Failure{RequestID: creditline.Uid{4}}
	fail = AppendReporterHop(fail, identity.RandNonce{1}, identity.Signature{2})
	require.Len(t, fail.ReporterNonceSig, 1)

	fail2 := AppendReporterHop(fail, identity.RandNonce{3}, identity.Signature{4})
	require.Len(t, fail2.ReporterNonceSig, 2)
	require.Len(t, fail.ReporterNonceSig, 1) // original untouched
}
