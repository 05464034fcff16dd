// Package identity is the funder's signer and randomness facade (spec C8,
// C9). It exposes the self public key and a request/signature interface
// that may suspend, mirroring the split between identity-key ownership and
// the rest of the daemon that lnd's peer and wallet code keep separate.
package identity

import (
	"crypto/rand"
	"errors"

	"golang.org/x/crypto/ed25519"
)

// PublicKey is a 32-byte Ed25519 public key.
type PublicKey [32]byte

// Signature is a 64-byte Ed25519 signature.
type Signature [64]byte

// RandNonce is a 16-byte cryptographically strong nonce.
type RandNonce [16]byte

// ErrSignerClosed is returned by RequestSignature/RequestPublicKey once the
// signer has been shut down. The funder loop treats this as FatalError.
var ErrSignerClosed = errors.New("identity: signer is closed")

type sigRequest struct {
	buf  []byte
	resp chan sigResponse
}

type sigResponse struct {
	sig Signature
	err error
}

// Signer is an async-capable facade around a single Ed25519 keypair.
// Multiple outstanding RequestSignature calls are allowed; the backing
// goroutine does not guarantee completion order across callers.
type Signer struct {
	priv ed25519.PrivateKey
	pub  PublicKey

	reqs chan sigRequest
	quit chan struct{}
	done chan struct{}
}

// GenerateKey creates a fresh Ed25519 keypair for local testing/bootstrap.
func GenerateKey() (ed25519.PrivateKey, PublicKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, PublicKey{}, err
	}
	var pk PublicKey
	copy(pk[:], pub)
	return priv, pk, nil
}

// NewSigner starts a signer facade backed by priv. The caller retains
// ownership of priv's lifetime; Close stops the backing goroutine.
func NewSigner(priv ed25519.PrivateKey) *Signer {
	var pub PublicKey
	copy(pub[:], priv.Public().(ed25519.PublicKey))

	s := &Signer{
		priv: priv,
		pub:  pub,
		reqs: make(chan sigRequest),
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *Signer) run() {
	defer close(s.done)
	for {
		select {
		case req := <-s.reqs:
			sig := ed25519.Sign(s.priv, req.buf)
			var out Signature
			copy(out[:], sig)
			req.resp <- sigResponse{sig: out}
		case <-s.quit:
			return
		}
	}
}

// Close shuts the signer down. Any RequestSignature call racing with Close
// either completes or returns ErrSignerClosed, never both.
func (s *Signer) Close() {
	select {
	case <-s.quit:
	default:
		close(s.quit)
	}
	<-s.done
}

// RequestPublicKey returns the self public key. It never suspends in
// practice, but is shaped as a request to keep the funder loop's two
// suspension points (signer, persistence) uniform.
func (s *Signer) RequestPublicKey() (PublicKey, error) {
	return s.pub, nil
}

// RequestSignature asks the signer to sign buf. It may suspend until the
// backing goroutine services the request.
func (s *Signer) RequestSignature(buf []byte) (Signature, error) {
	resp := make(chan sigResponse, 1)
	select {
	case s.reqs <- sigRequest{buf: buf, resp: resp}:
	case <-s.quit:
		return Signature{}, ErrSignerClosed
	}

	select {
	case r := <-resp:
		return r.sig, r.err
	case <-s.quit:
		return Signature{}, ErrSignerClosed
	}
}

// Verify checks sig over buf under pub.
func Verify(pub PublicKey, buf []byte, sig Signature) bool {
	return ed25519.Verify(ed25519.PublicKey(pub[:]), buf, sig[:])
}
