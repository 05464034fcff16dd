package main

import (
	"fmt"
	"os"

	"github.com/tokennet/funder/identity"
	"golang.org/x/crypto/ed25519"
)

// loadIdentity reads the node's persistent Ed25519 keypair from path.
// Unlike fundernode's loader, fundctl never creates one: a control tool
// has no business minting a node's identity.
func loadIdentity(path string) (ed25519.PrivateKey, identity.PublicKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, identity.PublicKey{}, fmt.Errorf("fundctl: failed to read identity file %s: %w", path, err)
	}
	if len(raw) != ed25519.PrivateKeySize {
		return nil, identity.PublicKey{}, fmt.Errorf("fundctl: identity file %s has wrong size %d", path, len(raw))
	}
	priv := ed25519.PrivateKey(raw)
	var pub identity.PublicKey
	copy(pub[:], priv.Public().(ed25519.PublicKey))
	return priv, pub, nil
}
