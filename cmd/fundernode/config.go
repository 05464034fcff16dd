package main

import (
	"fmt"
	"os"
	"path/filepath"

	flags "github.com/jessevdk/go-flags"
)

const (
	defaultConfigFilename = "fundernode.conf"
	defaultDataDirname     = "data"
	defaultLogDirname      = "logs"
	defaultLogFilename     = "fundernode.log"
	defaultLogLevel        = "info"
	defaultMaxLogFileSize  = 10
	defaultMaxLogFiles     = 3
	defaultTickInterval    = "1s"
)

// config mirrors lnd's config struct: a flat set of daemon knobs parsed
// first from a config file on disk, then overridden by command-line flags
// (spec C7/C10/C11 ambient wiring; the funder's own modules take no flags
// of their own).
type config struct {
	ConfigFile string `short:"C" long:"configfile" description:"Path to configuration file"`

	DataDir string `long:"datadir" description:"Directory to store the mutation log"`
	LogDir  string `long:"logdir" description:"Directory to log output"`

	DebugLevel string `long:"debuglevel" description:"Logging level for all subsystems"`

	MaxLogFileSize int `long:"maxlogfilesize" description:"Maximum log file size in MB before rotation"`
	MaxLogFiles    int `long:"maxlogfiles" description:"Maximum number of rotated log files to keep"`

	TickInterval string `long:"tickinterval" description:"Interval between logical clock ticks (spec C10), e.g. 1s"`

	ListenSelf string `long:"self" description:"Path to the local identity file (raw 64-byte Ed25519 private key); generated on first run if absent"`
}

// defaultConfig returns a config populated with the same defaults lnd's
// loadConfig seeds before reading the config file and flags over them.
func defaultConfig() config {
	return config{
		ConfigFile:     defaultConfigFilename,
		DataDir:        defaultDataDirname,
		LogDir:         defaultLogDirname,
		DebugLevel:     defaultLogLevel,
		MaxLogFileSize: defaultMaxLogFileSize,
		MaxLogFiles:    defaultMaxLogFiles,
		TickInterval:   defaultTickInterval,
		ListenSelf:     "identity.key",
	}
}

// loadConfig parses the config file (if present) and then command-line
// flags over it, the same two-pass precedence lnd's loadConfig uses.
func loadConfig() (*config, error) {
	preCfg := defaultConfig()
	if _, err := flags.NewParser(&preCfg, flags.Default).Parse(); err != nil {
		return nil, err
	}

	cfg := defaultConfig()
	parser := flags.NewParser(&cfg, flags.Default)

	if preCfg.ConfigFile != "" {
		if err := flags.NewIniParser(parser).ParseFile(preCfg.ConfigFile); err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("fundernode: failed to parse config file: %w", err)
			}
		}
	}

	if _, err := parser.Parse(); err != nil {
		return nil, err
	}

	for _, dir := range []string{cfg.DataDir, cfg.LogDir} {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, err
		}
	}

	return &cfg, nil
}

func logFilePath(cfg *config) string {
	return filepath.Join(cfg.LogDir, defaultLogFilename)
}
