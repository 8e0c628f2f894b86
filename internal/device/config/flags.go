package config

import (
	"flag"
	"os"
	"time"

	"github.com/dmitrijs2005/devlink/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   base URL of the relay HTTP endpoint
//	-w string   URL of the relay provisioning websocket
//	-o string   data directory
//	-n string   device name announced when linking
//	-t int      long-poll window in seconds
//
// Note: The function filters os.Args to only include the flags it knows
// about, using flagx.FilterArgs, to avoid interference with other
// components.
func parseFlags(cfg *Config) {
	// Filter args to include only those handled here.
	args := flagx.FilterArgs(os.Args[1:], []string{"-a", "-w", "-o", "-n", "-t"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&cfg.RelayAddr, "a", cfg.RelayAddr, "base URL of the relay endpoint")
	fs.StringVar(&cfg.RelayWSURL, "w", cfg.RelayWSURL, "URL of the relay provisioning websocket")
	fs.StringVar(&cfg.DataDir, "o", cfg.DataDir, "data directory")
	fs.StringVar(&cfg.DeviceName, "n", cfg.DeviceName, "device name announced when linking")
	pollTimeout := fs.Int("t", int(cfg.PollTimeout.Seconds()), "long-poll window (in seconds)")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	cfg.PollTimeout = time.Duration(*pollTimeout) * time.Second
}
