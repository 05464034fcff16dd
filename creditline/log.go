package creditline

import "github.com/btcsuite/btclog"

// log is the subsystem logger, following the same per-package pattern
// lnd uses throughout (ltndLog, htlcswitch's log, channeldb's log, ...):
// silent by default, wired up by the daemon via UseLogger.
var log = btclog.Disabled

// UseLogger sets the package-wide logger used by creditline.
func UseLogger(logger btclog.Logger) {
	log = logger
}
