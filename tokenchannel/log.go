package tokenchannel

import "github.com/btcsuite/btclog"

var log = btclog.Disabled

// UseLogger sets the package-wide logger used by tokenchannel.
func UseLogger(logger btclog.Logger) {
	log = logger
}
