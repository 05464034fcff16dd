// Package statefold folds a replayed mutation log back into a funder.State,
// shared between cmd/fundernode (start-up replay) and cmd/fundctl (which
// must rebuild the same state before applying one more control event to
// the log). It is grounded on cmd/lncli and lnd.go sharing lnrpc as a
// library rather than each reimplementing the wire format.
package statefold

import (
	"github.com/tokennet/funder/friend"
	"github.com/tokennet/funder/funder"
	"github.com/tokennet/funder/tokenchannel"
	"github.com/tokennet/funder/wire"
)

// Replay folds every mutation in batches, in order, onto state.
func Replay(state *funder.State, batches []funder.Batch) {
	for _, b := range batches {
		for _, m := range b {
			apply(state, m)
		}
	}
}

// apply folds one persisted NodeMutation onto state, mirroring exactly
// what loop.go's HandleControl/HandleFriendMessage mutated in memory at
// the moment the mutation was first produced (spec §6 "the funder
// reconstructs its entire state by folding the mutation log").
func apply(state *funder.State, m funder.NodeMutation) {
	switch m.Kind {
	case funder.MutationAddFriend:
		state.Friends[m.RemotePublicKey] = friend.New(state.Self, m.RemotePublicKey, m.RemoteAddress)

	case funder.MutationRemoveFriend:
		delete(state.Friends, m.RemotePublicKey)

	case funder.MutationSetFriendStatus:
		if f, ok := state.Friends[m.RemotePublicKey]; ok {
			f.Status = friend.Status(m.Status)
		}

	case funder.MutationSetRemoteMaxDebt:
		if f, ok := state.Friends[m.RemotePublicKey]; ok {
			f.WantedRemoteMaxDebt = m.MaxDebt
		}

	case funder.MutationSetRequestsStatus:
		if f, ok := state.Friends[m.RemotePublicKey]; ok {
			f.WantedLocalRequestsStatus = m.RequestsStatus
		}

	case funder.MutationSetFriendRelays:
		// Relay addresses are not captured in NodeMutation (see
		// loop.go's SetFriendRelays handler); nothing to fold.

	case funder.MutationApplyMoveToken:
		f, ok := state.Friends[m.RemotePublicKey]
		if !ok || f.ChannelKind != friend.ChannelConsistent || f.Channel == nil {
			return
		}
		signed, err := wire.DecodeSignedMoveToken(m.EncodedMessage)
		if err != nil {
			return
		}
		// Discard the returned ProcessedOps/error: the routing effects
		// they triggered when this move-token was first processed
		// (forwarding onto a downstream friend's queues) were not
		// persisted as mutations of their own and are not re-run here
		// (SPEC_FULL.md EXP-5). Replaying it here
		// only needs to rebuild this channel's own ledger and hash
		// chain, a second ReceiveMoveToken call does exactly that.
		_, _ = f.Channel.ReceiveMoveToken(signed)

	case funder.MutationEnterInconsistent:
		f, ok := state.Friends[m.RemotePublicKey]
		if !ok {
			return
		}
		icErr, err := wire.DecodeInconsistencyError(m.EncodedMessage)
		if err != nil {
			return
		}
		f.EnterInconsistent(friend.ResetSnapshot{
			ResetToken:      icErr.ResetToken,
			BalanceForReset: icErr.BalanceForReset,
		})

	case funder.MutationResolveInconsistent:
		f, ok := state.Friends[m.RemotePublicKey]
		if !ok {
			return
		}
		currency, balance, err := wire.DecodeResetState(m.EncodedMessage)
		if err != nil {
			return
		}
		f.Channel = tokenchannel.NewFromReset(state.Self, m.RemotePublicKey, currency, balance)
		f.ChannelKind = friend.ChannelConsistent
		f.Inconsistency = nil
	}
}
