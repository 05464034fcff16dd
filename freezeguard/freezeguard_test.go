package freezeguard

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tokennet/funder/identity"
	"lukechampine.com/uint128"
)

func samplePrefix(t *testing.T) PrefixKey {
	t.Helper()
	_, pk1, err := identity.GenerateKey()
	require.NoError(t, err)
	_, pk2, err := identity.GenerateKey()
	require.NoError(t, err)
	return KeyForPrefix([]identity.PublicKey{pk1, pk2})
}

func TestVerifyAndFreezeWithinBound(t *testing.T) {
	g := New()
	pfx := samplePrefix(t)
	link := FreezeLink{SharedCredits: uint128.From64(1000), UsableRatio: RatioOne}

	err := g.VerifyAndFreeze([]PrefixKey{pfx}, []FreezeLink{link}, uint128.From64(400))
	require.NoError(t, err)
	require.Equal(t, uint128.From64(400), g.Total(pfx))

	err = g.VerifyAndFreeze([]PrefixKey{pfx}, []FreezeLink{link}, uint128.From64(500))
	require.NoError(t, err)
	require.Equal(t, uint128.From64(900), g.Total(pfx))
}

func TestVerifyAndFreezeRejectsOverLimit(t *testing.T) {
	g := New()
	pfx := samplePrefix(t)
	link := FreezeLink{SharedCredits: uint128.From64(1000), UsableRatio: RatioOne}

	require.NoError(t, g.VerifyAndFreeze([]PrefixKey{pfx}, []FreezeLink{link}, uint128.From64(900)))
	err := g.VerifyAndFreeze([]PrefixKey{pfx}, []FreezeLink{link}, uint128.From64(200))
	require.ErrorIs(t, err, ErrFreezeViolation)
	// Rejected attempt must not have mutated the total.
	require.Equal(t, uint128.From64(900), g.Total(pfx))
}

func TestVerifyAndFreezeRespectsFractionalRatio(t *testing.T) {
	g := New()
	pfx := samplePrefix(t)
	// Numerator = 2^63 means usable_ratio = 1/2.
	link := FreezeLink{SharedCredits: uint128.From64(1000), UsableRatio: RatioNumerator(1 << 63)}

	require.NoError(t, g.VerifyAndFreeze([]PrefixKey{pfx}, []FreezeLink{link}, uint128.From64(500)))
	err := g.VerifyAndFreeze([]PrefixKey{pfx}, []FreezeLink{link}, uint128.From64(1))
	require.ErrorIs(t, err, ErrFreezeViolation)
}

func TestReleaseDecrementsAndClears(t *testing.T) {
	g := New()
	pfx := samplePrefix(t)
	link := FreezeLink{SharedCredits: uint128.From64(1000), UsableRatio: RatioOne}
	require.NoError(t, g.VerifyAndFreeze([]PrefixKey{pfx}, []FreezeLink{link}, uint128.From64(400)))

	g.Release([]PrefixKey{pfx}, uint128.From64(150))
	require.Equal(t, uint128.From64(250), g.Total(pfx))

	g.Release([]PrefixKey{pfx}, uint128.From64(1000))
	require.Equal(t, uint128.Zero, g.Total(pfx))
}

func TestMismatchedLinksRejected(t *testing.T) {
	g := New()
	pfx := samplePrefix(t)
	err := g.VerifyAndFreeze([]PrefixKey{pfx}, nil, uint128.From64(1))
	require.ErrorIs(t, err, ErrMismatchedLinks)
}
