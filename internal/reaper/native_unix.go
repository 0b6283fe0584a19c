//go:build !windows

package reaper

// Unix has no tree kill that reaches children outside the worker's process
// group, so the sweep does the work.
var nativeTreeKill func(pid int) error
