//go:build !windows

package host

import (
	"os"
	"syscall"
)

// A closed terminal (SIGHUP) or an interactive interrupt is the headless
// equivalent of the user closing the window.
func defaultSignals() (window, exit []os.Signal) {
	return []os.Signal{syscall.SIGHUP, syscall.SIGINT}, []os.Signal{syscall.SIGTERM}
}
