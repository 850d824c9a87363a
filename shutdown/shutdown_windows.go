//go:build windows

package shutdown

import (
	"os"
	"os/signal"
)

// Notify registers Ctrl+C delivery; Windows has no SIGTERM worth
// watching for a console tool.
func Notify(ch chan os.Signal) {
	signal.Notify(ch, os.Interrupt)
}
