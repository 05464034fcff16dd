// Command fundernode runs the funder daemon: a single event loop (spec
// C7) wired to a durable mutation log (C11), an identity signer (C8/C9),
// and a logical tick source (C10). It has no network transport or RPC
// surface of its own (spec §1 Non-goals); control events normally arrive
// over whatever channel an embedding application wires to its controlCh,
// demonstrated here by fundctl operating directly on the same on-disk log.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fundernode: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if err := initLogRotator(logFilePath(cfg), cfg.MaxLogFileSize, cfg.MaxLogFiles); err != nil {
		return err
	}
	setLogLevels(cfg.DebugLevel)

	d, err := newDaemon(cfg)
	if err != nil {
		return err
	}

	go d.Run()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	ndeLog.Infof("shutting down")
	d.Stop()
	return nil
}
