//go:build !windows

// Package shutdown routes platform termination signals to the CLI so
// capture devices and log files are released cleanly.
package shutdown

import (
	"os"
	"os/signal"
	"syscall"
)

func Notify(ch chan os.Signal) {
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
}
