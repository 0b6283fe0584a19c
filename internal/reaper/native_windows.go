//go:build windows

package reaper

import (
	"os/exec"
	"strconv"
	"syscall"
)

// nativeTreeKill runs taskkill /T /F, which terminates pid and every
// descendant in one call.
func nativeTreeKill(pid int) error {
	cmd := exec.Command("taskkill", "/T", "/F", "/PID", strconv.Itoa(pid))
	cmd.SysProcAttr = &syscall.SysProcAttr{HideWindow: true}
	return cmd.Run()
}
