// Command fundctl is a local administration tool for a funder node's
// on-disk mutation log (C11). It has no RPC connection to a running
// fundernode process (spec §1 Non-goals exclude an application RPC
// surface): each invocation opens the same bbolt-backed log fundernode
// uses, replays it into a funder.State, applies one control event through
// funder.Loop exactly as the daemon's event loop would, and persists the
// result before exiting. Run it only while fundernode is stopped, the same
// restriction bbolt's single-writer-process model imposes on any tool
// sharing its file.
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli"
)

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "[fundctl] %v\n", err)
	os.Exit(1)
}

func main() {
	app := cli.NewApp()
	app.Name = "fundctl"
	app.Usage = "local control surface for a funder node's mutation log"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "datadir",
			Value: "data",
			Usage: "directory holding the node's mutation log",
		},
		cli.StringFlag{
			Name:  "self",
			Value: "identity.key",
			Usage: "path to the node's identity key file",
		},
	}
	app.Commands = []cli.Command{
		addFriendCommand,
		removeFriendCommand,
		setFriendStatusCommand,
		setMaxDebtCommand,
		setRequestsStatusCommand,
		resetChannelCommand,
		sendFundsCommand,
		listFriendsCommand,
	}

	if err := app.Run(os.Args); err != nil {
		fatal(err)
	}
}
