package router

import "github.com/tokennet/funder/identity"

// PkPairPosition classifies where a public key sits within a route (spec
// §4.6).
type PkPairPosition uint8

const (
	PositionSource PkPairPosition = iota
	PositionIntermediate
	PositionDest
	PositionNotInRoute
)

// PositionOf reports self's position within route. route[0] is the
// request's originator and route[len(route)-1] is its destination.
func PositionOf(route []identity.PublicKey, self identity.PublicKey) PkPairPosition {
	for i, pk := range route {
		if pk != self {
			continue
		}
		switch {
		case i == 0:
			return PositionSource
		case i == len(route)-1:
			return PositionDest
		default:
			return PositionIntermediate
		}
	}
	return PositionNotInRoute
}

// indexOf returns self's index in route, or -1.
func indexOf(route []identity.PublicKey, self identity.PublicKey) int {
	for i, pk := range route {
		if pk == self {
			return i
		}
	}
	return -1
}
