//go:build !windows

package process

import (
	"os/exec"
	"syscall"
)

// Detach places cmd in its own process group so terminal job-control signals
// aimed at the host do not reach the worker before the host has reaped it.
func Detach(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true
}
