package main

import (
	"fmt"
	"io"
	"os"

	"github.com/btcsuite/btclog"
	"github.com/jrick/logrotate/rotator"
	"github.com/tokennet/funder/batch"
	"github.com/tokennet/funder/creditline"
	"github.com/tokennet/funder/freezeguard"
	"github.com/tokennet/funder/friend"
	"github.com/tokennet/funder/fstore"
	"github.com/tokennet/funder/funder"
	"github.com/tokennet/funder/router"
	"github.com/tokennet/funder/tokenchannel"
)

// multiWriter fans a subsystem's formatted line out to both stdout and the
// rotating log file, the same split lnd's build.LogWriter makes before the
// rotator is wired in.
type multiWriter struct {
	rotator io.Writer
}

func (w *multiWriter) Write(p []byte) (int, error) {
	os.Stdout.Write(p)
	if w.rotator != nil {
		return w.rotator.Write(p)
	}
	return len(p), nil
}

var (
	logWriter  = &multiWriter{}
	backendLog = btclog.NewBackend(logWriter)
	logRotator *rotator.Rotator

	ndeLog = backendLog.Logger("NODE")
	fstLog = backendLog.Logger("FSTR")
	fndLog = backendLog.Logger("FUND")
	tcnLog = backendLog.Logger("TCHN")
	rtrLog = backendLog.Logger("RTER")
	frdLog = backendLog.Logger("FRND")
	crdLog = backendLog.Logger("CRDT")
	bthLog = backendLog.Logger("BTCH")
	frzLog = backendLog.Logger("FRZG")
)

var subsystemLoggers = map[string]btclog.Logger{
	"NODE": ndeLog,
	"FSTR": fstLog,
	"FUND": fndLog,
	"TCHN": tcnLog,
	"RTER": rtrLog,
	"FRND": frdLog,
	"CRDT": crdLog,
	"BTCH": bthLog,
	"FRZG": frzLog,
}

func init() {
	funder.UseLogger(fndLog)
	fstore.UseLogger(fstLog)
	tokenchannel.UseLogger(tcnLog)
	router.UseLogger(rtrLog)
	friend.UseLogger(frdLog)
	creditline.UseLogger(crdLog)
	batch.UseLogger(bthLog)
	freezeguard.UseLogger(frzLog)
}

// initLogRotator wires logFile as the rotating half of every subsystem
// logger's output, mirroring lnd's daemon/log.go initLogRotator.
func initLogRotator(logFile string, maxFileSizeMB, maxFiles int) error {
	r, err := rotator.New(logFile, int64(maxFileSizeMB*1024), false, maxFiles)
	if err != nil {
		return fmt.Errorf("fundernode: failed to create log rotator: %w", err)
	}

	pr, pw := io.Pipe()
	go r.Run(pr)

	logWriter.rotator = pw
	logRotator = r
	return nil
}

func setLogLevels(levelStr string) {
	level, ok := btclog.LevelFromString(levelStr)
	if !ok {
		level, _ = btclog.LevelFromString("info")
	}
	for _, logger := range subsystemLoggers {
		logger.SetLevel(level)
	}
}
