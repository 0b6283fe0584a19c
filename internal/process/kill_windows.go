//go:build windows

package process

import (
	"errors"

	"golang.org/x/sys/windows"
)

const stillActive = 259

// Kill terminates pid with TerminateProcess. A pid that cannot be opened is
// treated as already gone.
func Kill(pid int) error {
	if pid <= 0 {
		return ErrInvalidPID
	}
	h, err := windows.OpenProcess(windows.PROCESS_TERMINATE, false, uint32(pid))
	if err != nil {
		return nil
	}
	defer func() { _ = windows.CloseHandle(h) }()

	if err := windows.TerminateProcess(h, 1); err != nil {
		// ERROR_ACCESS_DENIED is also what a process that is already exiting reports.
		if errors.Is(err, windows.ERROR_ACCESS_DENIED) {
			return nil
		}
		return err
	}
	return nil
}

// Alive reports whether pid names a process that has not exited yet.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	h, err := windows.OpenProcess(windows.PROCESS_QUERY_LIMITED_INFORMATION, false, uint32(pid))
	if err != nil {
		return false
	}
	defer func() { _ = windows.CloseHandle(h) }()

	var code uint32
	if err := windows.GetExitCodeProcess(h, &code); err != nil {
		return false
	}
	return code == stillActive
}
