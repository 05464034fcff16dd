package creditline

import (
	"lukechampine.com/uint128"
)

// Int128 is a signed 128-bit integer, used for MutualCredit.Balance (spec
// §3: "signed balance"). It is built on top of lukechampine.com/uint128,
// the corpus's only 128-bit integer type, which is unsigned; Int128 adds a
// sign bit around its magnitude rather than reimplementing 128-bit
// arithmetic from scratch.
type Int128 struct {
	neg bool
	mag uint128.Uint128
}

// ZeroInt128 is the additive identity.
var ZeroInt128 = Int128{}

// FromInt64 builds an Int128 from a plain int64.
func FromInt64(v int64) Int128 {
	if v < 0 {
		return Int128{neg: true, mag: uint128.From64(uint64(-v))}
	}
	return Int128{mag: uint128.From64(uint64(v))}
}

// FromUint128 builds a non-negative Int128 from a Uint128 magnitude.
func FromUint128(v uint128.Uint128) Int128 {
	return Int128{mag: v}
}

// NewInt128 builds an Int128 from an explicit sign and magnitude, the
// inverse of Negative/Magnitude; used by wire to decode a value it
// previously serialized.
func NewInt128(negative bool, mag uint128.Uint128) Int128 {
	if mag.IsZero() {
		return Int128{}
	}
	return Int128{neg: negative, mag: mag}
}

// Negative reports the sign bit.
func (a Int128) Negative() bool { return a.neg }

// Magnitude returns the unsigned absolute value.
func (a Int128) Magnitude() uint128.Uint128 { return a.mag }

// IsZero reports whether the value is zero.
func (a Int128) IsZero() bool { return a.mag.IsZero() }

// Neg returns -a.
func (a Int128) Neg() Int128 {
	if a.mag.IsZero() {
		return a
	}
	return Int128{neg: !a.neg, mag: a.mag}
}

// Add returns a+b.
func (a Int128) Add(b Int128) Int128 {
	switch {
	case a.neg == b.neg:
		return Int128{neg: a.neg, mag: a.mag.Add(b.mag)}
	case a.mag.Cmp(b.mag) >= 0:
		return Int128{neg: a.neg, mag: a.mag.Sub(b.mag)}
	default:
		return Int128{neg: b.neg, mag: b.mag.Sub(a.mag)}
	}
}

// Sub returns a-b.
func (a Int128) Sub(b Int128) Int128 {
	return a.Add(b.Neg())
}

// Cmp returns -1, 0, or 1 as a is less than, equal to, or greater than b.
func (a Int128) Cmp(b Int128) int {
	switch {
	case a.neg && !b.neg && !(a.IsZero() && b.IsZero()):
		return -1
	case !a.neg && b.neg && !(a.IsZero() && b.IsZero()):
		return 1
	case !a.neg && !b.neg:
		return a.mag.Cmp(b.mag)
	default: // both negative
		return -a.mag.Cmp(b.mag)
	}
}

// LessOrEqual reports whether a <= b.
func (a Int128) LessOrEqual(b Int128) bool { return a.Cmp(b) <= 0 }

// String renders a human-readable decimal form, used for logging.
func (a Int128) String() string {
	if a.neg && !a.mag.IsZero() {
		return "-" + a.mag.String()
	}
	return a.mag.String()
}
