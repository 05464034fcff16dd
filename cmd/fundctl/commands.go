package main

import (
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/tokennet/funder/creditline"
	"github.com/tokennet/funder/funder"
	"github.com/tokennet/funder/identity"
	"github.com/urfave/cli"
	"lukechampine.com/uint128"
)

var addFriendCommand = cli.Command{
	Name:      "addfriend",
	Usage:     "add a friend by public key",
	ArgsUsage: "pubkey address",
	Action:    addFriend,
}

func addFriend(ctx *cli.Context) error {
	if ctx.NArg() < 1 {
		return fmt.Errorf("fundctl: pubkey argument missing")
	}
	pub, err := parsePublicKeyHex(ctx.Args().Get(0))
	if err != nil {
		return err
	}
	return applyAndReport(ctx, funder.AddFriend{
		RemotePublicKey: pub,
		RemoteAddress:   ctx.Args().Get(1),
	})
}

var removeFriendCommand = cli.Command{
	Name:      "removefriend",
	Usage:     "remove a friend by public key",
	ArgsUsage: "pubkey",
	Action:    removeFriend,
}

func removeFriend(ctx *cli.Context) error {
	if ctx.NArg() < 1 {
		return fmt.Errorf("fundctl: pubkey argument missing")
	}
	pub, err := parsePublicKeyHex(ctx.Args().Get(0))
	if err != nil {
		return err
	}
	return applyAndReport(ctx, funder.RemoveFriend{RemotePublicKey: pub})
}

var setFriendStatusCommand = cli.Command{
	Name:      "setfriendstatus",
	Usage:     "enable or disable a friend",
	ArgsUsage: "pubkey enabled|disabled",
	Action:    setFriendStatus,
}

func setFriendStatus(ctx *cli.Context) error {
	if ctx.NArg() < 2 {
		return fmt.Errorf("fundctl: pubkey and status arguments missing")
	}
	pub, err := parsePublicKeyHex(ctx.Args().Get(0))
	if err != nil {
		return err
	}
	status := funder.FriendStatusEnabled
	switch ctx.Args().Get(1) {
	case "enabled":
		status = funder.FriendStatusEnabled
	case "disabled":
		status = funder.FriendStatusDisabled
	default:
		return fmt.Errorf("fundctl: status must be enabled or disabled")
	}
	return applyAndReport(ctx, funder.SetFriendStatus{RemotePublicKey: pub, Status: status})
}

var setMaxDebtCommand = cli.Command{
	Name:      "setmaxdebt",
	Usage:     "set the remote max debt we extend to a friend",
	ArgsUsage: "pubkey amount",
	Action:    setMaxDebt,
}

func setMaxDebt(ctx *cli.Context) error {
	if ctx.NArg() < 2 {
		return fmt.Errorf("fundctl: pubkey and amount arguments missing")
	}
	pub, err := parsePublicKeyHex(ctx.Args().Get(0))
	if err != nil {
		return err
	}
	amt, err := parseUint128(ctx.Args().Get(1))
	if err != nil {
		return err
	}
	return applyAndReport(ctx, funder.SetFriendRemoteMaxDebt{RemotePublicKey: pub, MaxDebt: amt})
}

var setRequestsStatusCommand = cli.Command{
	Name:      "setrequestsstatus",
	Usage:     "open or close accepting new requests from a friend",
	ArgsUsage: "pubkey open|closed",
	Action:    setRequestsStatus,
}

func setRequestsStatus(ctx *cli.Context) error {
	if ctx.NArg() < 2 {
		return fmt.Errorf("fundctl: pubkey and status arguments missing")
	}
	pub, err := parsePublicKeyHex(ctx.Args().Get(0))
	if err != nil {
		return err
	}
	status := creditline.Open
	switch ctx.Args().Get(1) {
	case "open":
		status = creditline.Open
	case "closed":
		status = creditline.Closed
	default:
		return fmt.Errorf("fundctl: status must be open or closed")
	}
	return applyAndReport(ctx, funder.SetRequestsStatus{RemotePublicKey: pub, Status: status})
}

var resetChannelCommand = cli.Command{
	Name:      "resetchannel",
	Usage:     "mark a friend's channel inconsistent and begin the reset handshake",
	ArgsUsage: "pubkey",
	Action:    resetChannel,
}

func resetChannel(ctx *cli.Context) error {
	if ctx.NArg() < 1 {
		return fmt.Errorf("fundctl: pubkey argument missing")
	}
	pub, err := parsePublicKeyHex(ctx.Args().Get(0))
	if err != nil {
		return err
	}
	return applyAndReport(ctx, funder.ResetFriendChannel{RemotePublicKey: pub})
}

var sendFundsCommand = cli.Command{
	Name:      "sendfunds",
	Usage:     "originate a payment along a route",
	ArgsUsage: "currency amount pubkey [pubkey...]",
	Description: "the pubkey list is the route beyond this node, ending at " +
		"the destination; the first one must already be an enabled friend.",
	Action: sendFunds,
}

func sendFunds(ctx *cli.Context) error {
	if ctx.NArg() < 3 {
		return fmt.Errorf("fundctl: currency, amount, and at least one hop are required")
	}
	currency := creditline.Currency(ctx.Args().Get(0))
	amt, err := parseUint128(ctx.Args().Get(1))
	if err != nil {
		return err
	}

	remoteHops, err := parseRoute(ctx.Args().Tail())
	if err != nil {
		return err
	}

	n, err := openNode(ctx)
	if err != nil {
		return err
	}
	defer n.close()

	route := append([]identity.PublicKey{n.loop.State.Self}, remoteHops...)
	rawRoute := make([][]byte, len(route))
	for i, h := range route {
		h := h
		rawRoute[i] = h[:]
	}

	_, outgoing, err := n.loop.HandleControl(funder.UserRequestSendFunds{
		Currency: currency,
		Request: creditline.Request{
			RequestID:   creditline.Uid(uuid.New()),
			Route:       rawRoute,
			DestPayment: amt,
		},
		Route: route,
	})
	if err != nil {
		return err
	}

	fmt.Printf("sendfunds queued; %d outgoing comm(s) produced, not delivered (fundctl has no transport)\n", len(outgoing))
	return nil
}

// parseRoute decodes a list of hex-encoded public keys in route order.
func parseRoute(args cli.Args) ([]identity.PublicKey, error) {
	route := make([]identity.PublicKey, 0, len(args))
	for _, a := range args {
		pub, err := parsePublicKeyHex(a)
		if err != nil {
			return nil, err
		}
		route = append(route, pub)
	}
	return route, nil
}

var listFriendsCommand = cli.Command{
	Name:   "listfriends",
	Usage:  "list every friend and its channel status",
	Action: listFriends,
}

func listFriends(ctx *cli.Context) error {
	n, err := openNode(ctx)
	if err != nil {
		return err
	}
	defer n.close()

	snap := n.loop.State.Snapshot()
	for pub, f := range snap.Friends {
		fmt.Printf("%x  addr=%s  status=%d  channel=%d\n", pub[:], f.RemoteAddress, f.Status, f.ChannelKind)
	}
	return nil
}

func parseUint128(s string) (uint128.Uint128, error) {
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return uint128.Uint128{}, fmt.Errorf("fundctl: invalid amount %q: %w", s, err)
	}
	return uint128.From64(n), nil
}
