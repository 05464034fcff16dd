package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/tokennet/funder/identity"
	"golang.org/x/crypto/ed25519"
)

// loadOrCreateIdentity reads the daemon's persistent Ed25519 keypair from
// path, generating and saving a fresh one on first run. The key is never
// rotated automatically: spec C8's signer facade is keyed on a single
// stable identity for the node's lifetime.
func loadOrCreateIdentity(path string) (ed25519.PrivateKey, identity.PublicKey, error) {
	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		if len(raw) != ed25519.PrivateKeySize {
			return nil, identity.PublicKey{}, fmt.Errorf("fundernode: identity file %s has wrong size %d", path, len(raw))
		}
		priv := ed25519.PrivateKey(raw)
		var pub identity.PublicKey
		copy(pub[:], priv.Public().(ed25519.PublicKey))
		return priv, pub, nil

	case os.IsNotExist(err):
		priv, pub, genErr := identity.GenerateKey()
		if genErr != nil {
			return nil, identity.PublicKey{}, genErr
		}
		if mkErr := os.MkdirAll(filepath.Dir(path), 0700); mkErr != nil {
			return nil, identity.PublicKey{}, mkErr
		}
		if writeErr := os.WriteFile(path, priv, 0600); writeErr != nil {
			return nil, identity.PublicKey{}, writeErr
		}
		return priv, pub, nil

	default:
		return nil, identity.PublicKey{}, err
	}
}
