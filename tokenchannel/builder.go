package tokenchannel

import (
	"github.com/tokennet/funder/creditline"
	"github.com/tokennet/funder/identity"
	"github.com/tokennet/funder/wire"
)

// SendMode controls whether an empty batch is allowed to go out (spec §4.4,
// §9 Open Question 3).
type SendMode uint8

const (
	// SendModeEmptyNotAllowed suppresses sending when no operation was
	// admitted, avoiding ping-ponging empty acknowledgements.
	SendModeEmptyNotAllowed SendMode = iota
	// SendModeEmptyAllowed permits an empty move-token. funder.Loop never
	// passes it (trySendChannel always sends with SendModeEmptyNotAllowed),
	// so a just-received non-empty message is not acknowledged with an
	// empty move-token.
	SendModeEmptyAllowed
)

// Signer is the subset of identity.Signer the builder needs.
type Signer interface {
	RequestSignature(buf []byte) (identity.Signature, error)
}

// Nonces is the subset of identity.NonceSource the builder needs.
type Nonces interface {
	NextNonce() (identity.RandNonce, error)
}

// Builder accumulates operations for one outgoing move-token, speculatively
// applying each to the mutual-credit ledger as it is admitted (spec §4.2).
type Builder struct {
	tc       *TokenChannel
	byCur    map[creditline.Currency]*wire.CurrencyOperations
	curOrder []creditline.Currency
	anyAdded bool
}

// BeginOutgoing starts a batch builder. Only valid when the channel
// currently holds the incoming token (spec §4.2).
func (tc *TokenChannel) BeginOutgoing() (*Builder, error) {
	if tc.Direction != DirIncoming {
		return nil, ErrNotIncoming
	}
	return &Builder{
		tc:    tc,
		byCur: make(map[creditline.Currency]*wire.CurrencyOperations),
	}, nil
}

// TryAdd speculatively applies op against currency's ledger and, if it
// succeeds, appends it to the batch. It returns false (without error) if
// the operation was rejected by the ledger so the batcher can try the next
// candidate source (spec §4.4); it never partially mutates the ledger on
// rejection.
func (b *Builder) TryAdd(currency creditline.Currency, op wire.Operation) (bool, error) {
	mc := b.tc.mutualCredit(currency)
	before := *mc

	if err := b.apply(mc, op); err != nil {
		*mc = before
		return false, nil
	}

	group, ok := b.byCur[currency]
	if !ok {
		group = &wire.CurrencyOperations{Currency: currency}
		b.byCur[currency] = group
		b.curOrder = append(b.curOrder, currency)
	}
	group.Operations = append(group.Operations, op)
	b.anyAdded = true
	return true, nil
}

func (b *Builder) apply(mc *creditline.MutualCredit, op wire.Operation) error {
	switch op.Kind {
	case wire.OpEnableRequests:
		mc.EnableRequests(creditline.OriginLocal)
	case wire.OpDisableRequests:
		mc.DisableRequests(creditline.OriginLocal)
	case wire.OpSetRemoteMaxDebt:
		mc.SetRemoteMaxDebt(creditline.OriginLocal, op.SetRemoteMaxDebt)
	case wire.OpRequestSendFunds:
		return mc.RequestSendFunds(creditline.OriginLocal, op.Request)
	case wire.OpResponseSendFunds:
		// We are settling a request the peer originally forwarded to us
		// (it sits in our pending_remote_requests), not one we
		// originated ourselves.
		_, err := mc.SettleRemote(op.Response.RequestID, true)
		return err
	case wire.OpFailureSendFunds:
		_, err := mc.SettleRemote(op.Failure.RequestID, false)
		return err
	}
	return nil
}

// HasOperations reports whether any candidate was admitted so far.
func (b *Builder) HasOperations() bool { return b.anyAdded }

// Snapshot returns the currency-operation groups admitted so far, in the
// order their currencies were first touched, for size-budget estimation by
// the batcher (package batch). The caller must not mutate the result.
func (b *Builder) Snapshot() []wire.CurrencyOperations {
	groups := make([]wire.CurrencyOperations, 0, len(b.curOrder))
	for _, c := range b.curOrder {
		groups = append(groups, *b.byCur[c])
	}
	return groups
}

// Done finalises the batch (spec §4.2 steps 1-4). If nothing was admitted
// and mode is SendModeEmptyNotAllowed, it returns (nil, false, nil) without
// flipping direction or contacting the signer.
func (b *Builder) Done(signer Signer, nonces Nonces, mode SendMode, localRelays []wire.RelayAddress, activeCurrencies []creditline.Currency) (*wire.SignedMoveToken, bool, error) {
	if !b.anyAdded && mode == SendModeEmptyNotAllowed {
		return nil, false, nil
	}

	groups := make([]wire.CurrencyOperations, 0, len(b.curOrder))
	for _, c := range b.curOrder {
		groups = append(groups, *b.byCur[c])
	}

	nonce, err := nonces.NextNonce()
	if err != nil {
		return nil, false, err
	}

	unsigned := wire.UnsignedMoveToken{
		OldToken:             b.tc.lastReceivedHash(),
		CurrenciesOperations: groups,
		OptLocalRelays:       localRelays,
		OptActiveCurrencies:  activeCurrencies,
		RandNonce:            nonce,
	}
	unsigned.InfoHash = unsigned.ComputeInfoHash()

	sig, err := signer.RequestSignature(unsigned.SignatureBuffer())
	if err != nil {
		return nil, false, err
	}

	signed := wire.SignedMoveToken{
		UnsignedMoveToken: unsigned,
		NewToken:          sig,
	}

	b.tc.Incoming = nil
	b.tc.Outgoing = &OutgoingState{LastSent: signed, HasSent: true}
	b.tc.Direction = DirOutgoing

	return &signed, true, nil
}

// ChainHead is the chain value used for reset-token derivation (spec §4.2
// calc_channel_reset_token): the hash of lastSentHash followed by
// lastReceivedHash, both taken from this side's own view of the chain. The
// peer's view orders and fills these differently, so the two sides do not
// in general obtain the same value.
func (tc *TokenChannel) ChainHead() wire.HashResult {
	sent := tc.lastSentHash()
	recv := tc.lastReceivedHash()
	return wire.Hash(wire.Concat(sent[:], recv[:]))
}

// CalcResetToken derives the deterministic reset signature both sides
// present to re-initialise the channel after resolving an inconsistency
// (spec §4.2).
func (tc *TokenChannel) CalcResetToken(signer Signer) (identity.Signature, error) {
	balances := make(map[creditline.Currency]creditline.Int128, len(tc.MutualCredits))
	for c, mc := range tc.MutualCredits {
		balances[c] = mc.Balance
	}
	buf := wire.ResetSignatureBuffer(tc.ChainHead(), balances)
	return signer.RequestSignature(buf)
}
