//go:build windows

package host

import (
	"os"
	"syscall"
)

// Console close and Ctrl+C both arrive as os.Interrupt / SIGTERM on Windows.
func defaultSignals() (window, exit []os.Signal) {
	return []os.Signal{os.Interrupt}, []os.Signal{syscall.SIGTERM}
}
