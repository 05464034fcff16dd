package identity

import "crypto/rand"

// NonceSource yields uniform, cryptographically strong RandNonces (spec C9).
// It carries no state; the type exists so callers depend on an interface
// rather than the stdlib CSPRNG directly, matching the signer/randomness
// split the funder loop expects.
type NonceSource struct{}

// NextNonce returns a fresh random nonce.
func (NonceSource) NextNonce() (RandNonce, error) {
	var n RandNonce
	if _, err := rand.Read(n[:]); err != nil {
		return RandNonce{}, err
	}
	return n, nil
}
