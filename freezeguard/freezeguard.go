// Package freezeguard implements the process-wide freeze-credit DoS guard
// (spec C5): a map of total frozen credit per route prefix, verified and
// updated as requests transit this node. It is grounded on
// htlcswitch/switch.go's circuit map, which likewise tracks in-flight HTLC
// amounts under a single mutex and rejects admission once a link's
// advertised bandwidth would be exceeded; here the bound is a peer-
// advertised (shared_credits, usable_ratio) pair rather than a channel
// capacity.
package freezeguard

import (
	"errors"
	"math/big"
	"sync"

	"github.com/tokennet/funder/identity"
	"lukechampine.com/uint128"
)

// UsableRatio is the rational n/2^64 a link advertises as the fraction of
// its shared_credits usable for freezing on any one route prefix (spec
// §4.5).
type UsableRatio struct {
	IsOne     bool
	Numerator uint64
}

// RatioOne is the trivial ratio 1 (the full shared_credits is usable).
var RatioOne = UsableRatio{IsOne: true}

// RatioNumerator builds the ratio n/2^64.
func RatioNumerator(n uint64) UsableRatio {
	return UsableRatio{Numerator: n}
}

// FreezeLink is one upstream hop's advertised capacity for a route prefix
// (spec §4.4 NetworkerFreezeLink).
type FreezeLink struct {
	SharedCredits uint128.Uint128
	UsableRatio   UsableRatio
}

// PrefixKey canonically identifies a route prefix (src, h1, ..., hk).
type PrefixKey string

// KeyForPrefix builds the map key for a route prefix from its ordered
// public keys.
func KeyForPrefix(prefix []identity.PublicKey) PrefixKey {
	buf := make([]byte, 0, len(prefix)*33)
	for _, pk := range prefix {
		buf = append(buf, pk[:]...)
		buf = append(buf, 0)
	}
	return PrefixKey(buf)
}

var (
	// ErrMismatchedLinks means the caller supplied a different number of
	// prefixes and freeze links.
	ErrMismatchedLinks = errors.New("freezeguard: prefixes and links length mismatch")
	// ErrFreezeViolation means admitting the request would push some
	// prefix's frozen total past its advertised limit (spec invariant 6,
	// P4).
	ErrFreezeViolation = errors.New("freezeguard: would exceed shared_credits * usable_ratio")
)

// Guard is the process-wide frozen-credit table (spec §4.5). It is owned
// exclusively by the funder event loop (C7) but guarded by a mutex to
// match the defensive style of the switch's own circuit map.
type Guard struct {
	mu     sync.Mutex
	frozen map[PrefixKey]uint128.Uint128
}

// New returns an empty guard.
func New() *Guard {
	return &Guard{frozen: make(map[PrefixKey]uint128.Uint128)}
}

// toBig converts through uint128's own big.Int accessor; lukechampine's
// uint128 only carries 128 bits natively, and verifying against a 64-bit
// numerator ratio can require more precision than 128 bits of headroom, so
// the comparison itself is done in math/big. No example repo carries a
// rational/bignum library, and introducing one only for this bound check
// would not be grounded in the corpus, so stdlib math/big is used here
// (see DESIGN.md).
func toBig(v uint128.Uint128) *big.Int {
	return v.Big()
}

func limitFor(shared uint128.Uint128, ratio UsableRatio) *big.Int {
	if ratio.IsOne {
		return toBig(shared)
	}
	limit := new(big.Int).Mul(toBig(shared), new(big.Int).SetUint64(ratio.Numerator))
	return limit.Rsh(limit, 64)
}

// exceeds reports whether total+amount would exceed shared*ratio/2^64.
func exceeds(total, amount, shared uint128.Uint128, ratio UsableRatio) bool {
	newTotal := new(big.Int).Add(toBig(total), toBig(amount))
	return newTotal.Cmp(limitFor(shared, ratio)) > 0
}

// VerifyAndFreeze checks verify_freezing_links for every (prefix, link)
// pair against amount and, only if every prefix passes, admits amount into
// every prefix's running total (spec §4.5 "rejects any admitted request
// whose freeze-link vector would cause the guard's total to exceed").
// Verification and admission happen under a single lock so no other
// request can interleave between the check and the freeze.
func (g *Guard) VerifyAndFreeze(prefixes []PrefixKey, links []FreezeLink, amount uint128.Uint128) error {
	if len(prefixes) != len(links) {
		return ErrMismatchedLinks
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	for i, pfx := range prefixes {
		if exceeds(g.frozen[pfx], amount, links[i].SharedCredits, links[i].UsableRatio) {
			log.Debugf("freeze violation on prefix, amount=%s shared=%s", amount, links[i].SharedCredits)
			return ErrFreezeViolation
		}
	}
	for _, pfx := range prefixes {
		g.frozen[pfx] = g.frozen[pfx].Add(amount)
	}
	return nil
}

// Release decrements amount from every prefix once a transit request
// settles or fails (spec §4.5).
func (g *Guard) Release(prefixes []PrefixKey, amount uint128.Uint128) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, pfx := range prefixes {
		cur, ok := g.frozen[pfx]
		if !ok {
			continue
		}
		if cur.Cmp(amount) <= 0 {
			delete(g.frozen, pfx)
			continue
		}
		g.frozen[pfx] = cur.Sub(amount)
	}
}

// Total returns the currently frozen amount for a prefix, for inspection
// and tests.
func (g *Guard) Total(prefix PrefixKey) uint128.Uint128 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.frozen[prefix]
}
