// Package paths resolves per-user application directories.
package paths

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// Resolver resolves directories for one application identifier. The zero
// value reads the real environment.
type Resolver struct {
	GOOS    string
	Getenv  func(string) string
	HomeDir func() (string, error)
}

// AppDataDir returns the per-user data directory for appID without creating it:
//
//	linux, bsd: $XDG_DATA_HOME/<appID> or ~/.local/share/<appID>
//	darwin:     ~/Library/Application Support/<appID>
//	windows:    %APPDATA%\<appID>
func (r Resolver) AppDataDir(appID string) (string, error) {
	if appID == "" {
		return "", errors.New("empty application identifier")
	}
	goos, getenv, home := r.GOOS, r.Getenv, r.HomeDir
	if goos == "" {
		goos = runtime.GOOS
	}
	if getenv == nil {
		getenv = os.Getenv
	}
	if home == nil {
		home = os.UserHomeDir
	}

	var base string
	switch goos {
	case "windows":
		base = getenv("APPDATA")
		if base == "" {
			return "", errors.New("%APPDATA% is not set")
		}
	case "darwin", "ios":
		h, err := home()
		if err != nil {
			return "", fmt.Errorf("resolve home: %w", err)
		}
		base = filepath.Join(h, "Library", "Application Support")
	default:
		if x := getenv("XDG_DATA_HOME"); x != "" && filepath.IsAbs(x) {
			base = x
			break
		}
		h, err := home()
		if err != nil {
			return "", fmt.Errorf("resolve home: %w", err)
		}
		base = filepath.Join(h, ".local", "share")
	}
	return filepath.Join(base, appID), nil
}

// AppDataDir resolves appID against the real environment.
func AppDataDir(appID string) (string, error) { return Resolver{}.AppDataDir(appID) }

// Ensure creates dir and its parents if needed.
func Ensure(dir string) error {
	if dir == "" {
		return errors.New("empty directory")
	}
	return os.MkdirAll(dir, 0o750)
}

// HostDir returns the directory of the running executable with symlinks
// resolved. Bundled companion binaries live there.
func HostDir() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", err
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	return filepath.Dir(exe), nil
}
