package router

import (
	"sync"

	"github.com/tokennet/funder/creditline"
	"github.com/tokennet/funder/freezeguard"
	"github.com/tokennet/funder/identity"
	"lukechampine.com/uint128"
)

// OriginEntry is the upstream friend (and currency) that owes a response
// for a transit request, resolved in O(1) instead of scanning every
// friend's pending_remote_requests table (spec §9 Open Question 1,
// SPEC_FULL EXP-4). Prefix/Amount let the freeze guard be released by Uid
// alone once the request settles, without re-decoding the route.
type OriginEntry struct {
	Upstream identity.PublicKey
	Currency creditline.Currency
	Prefix   freezeguard.PrefixKey
	Amount   uint128.Uint128
}

// Index is the secondary Uid -> OriginEntry map the spec's Open Question 1
// asks for. It is maintained alongside each friend's pending_remote_requests
// table: an entry is recorded the moment a transit request is admitted and
// forgotten the moment it settles or fails. Removing a friend does not
// forget its entries.
type Index struct {
	mu   sync.Mutex
	byID map[creditline.Uid]OriginEntry
}

// NewIndex returns an empty index.
func NewIndex() *Index {
	return &Index{byID: make(map[creditline.Uid]OriginEntry)}
}

// Record associates id with its full origin entry.
func (idx *Index) Record(id creditline.Uid, entry OriginEntry) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.byID[id] = entry
}

// Lookup returns id's origin, if any is still tracked.
func (idx *Index) Lookup(id creditline.Uid) (OriginEntry, bool) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	e, ok := idx.byID[id]
	return e, ok
}

// Forget removes id once its pending transaction settles or fails.
func (idx *Index) Forget(id creditline.Uid) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	delete(idx.byID, id)
}
