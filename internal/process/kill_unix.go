//go:build !windows

package process

import (
	"errors"
	"syscall"
)

// Kill sends SIGKILL to pid. A pid that no longer exists is not an error.
func Kill(pid int) error {
	if pid <= 0 {
		return ErrInvalidPID
	}
	err := syscall.Kill(pid, syscall.SIGKILL)
	if errors.Is(err, syscall.ESRCH) {
		return nil
	}
	return err
}

// Alive reports whether pid names a running process. Zombies are dead:
// they hold a table slot but will never run again.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, 0)
	if err != nil && !errors.Is(err, syscall.EPERM) {
		return false
	}
	return !isZombie(pid)
}
