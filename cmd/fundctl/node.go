package main

import (
	"encoding/hex"
	"fmt"

	"github.com/tokennet/funder/fstore"
	"github.com/tokennet/funder/funder"
	"github.com/tokennet/funder/identity"
	"github.com/tokennet/funder/statefold"
	"github.com/urfave/cli"
)

// ctlNode is one attach/apply/close cycle against a stopped node's
// on-disk mutation log.
type ctlNode struct {
	store *fstore.Store
	loop  *funder.Loop
}

func openNode(c *cli.Context) (*ctlNode, error) {
	store, err := fstore.Open(c.GlobalString("datadir"))
	if err != nil {
		return nil, fmt.Errorf("fundctl: failed to open mutation log: %w", err)
	}

	priv, pub, err := loadIdentity(c.GlobalString("self"))
	if err != nil {
		store.Close()
		return nil, err
	}
	signer := identity.NewSigner(priv)

	state := funder.NewState(pub)
	batches, err := store.Load()
	if err != nil {
		store.Close()
		signer.Close()
		return nil, fmt.Errorf("fundctl: failed to replay mutation log: %w", err)
	}
	statefold.Replay(state, batches)

	return &ctlNode{
		store: store,
		loop:  funder.New(state, store, signer, identity.NonceSource{}),
	}, nil
}

func (n *ctlNode) close() {
	// The signer goroutine is leaked deliberately on process exit: it
	// has no Close hook reachable from here without threading the
	// *identity.Signer back out, and the process is about to end anyway.
	n.store.Close()
}

func applyAndReport(c *cli.Context, ev funder.ControlEvent) error {
	n, err := openNode(c)
	if err != nil {
		return err
	}
	defer n.close()

	_, outgoing, err := n.loop.HandleControl(ev)
	if err != nil {
		return err
	}

	fmt.Printf("applied %T; %d outgoing comm(s) produced, not delivered (fundctl has no transport)\n", ev, len(outgoing))
	return nil
}

func parsePublicKeyHex(s string) (identity.PublicKey, error) {
	var pub identity.PublicKey
	raw, err := hex.DecodeString(s)
	if err != nil {
		return pub, fmt.Errorf("fundctl: invalid public key %q: %w", s, err)
	}
	if len(raw) != len(pub) {
		return pub, fmt.Errorf("fundctl: public key %q has wrong length %d", s, len(raw))
	}
	copy(pub[:], raw)
	return pub, nil
}
