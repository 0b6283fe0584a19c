// Package launcher starts the worker process with its data directory and
// port, and hands back the Handle that owns it.
package launcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"time"

	"github.com/loykin/sidecar/internal/config"
	"github.com/loykin/sidecar/internal/env"
	"github.com/loykin/sidecar/internal/logger"
	"github.com/loykin/sidecar/internal/paths"
	"github.com/loykin/sidecar/internal/process"
)

// Fatal startup errors. Launch wraps one of these with the underlying cause.
var (
	ErrDataDir            = errors.New("worker data directory unavailable")
	ErrExecutableNotFound = errors.New("worker executable not found")
	ErrSpawn              = errors.New("worker spawn failed")
)

// IsFatal reports whether err aborts host startup.
func IsFatal(err error) bool {
	return errors.Is(err, ErrDataDir) || errors.Is(err, ErrExecutableNotFound) || errors.Is(err, ErrSpawn)
}

// outputDrainDelay bounds how long Wait keeps copying output after the child
// exits; forked grandchildren may hold the pipes open.
const outputDrainDelay = 2 * time.Second

// Options describe one worker.
type Options struct {
	Name       string
	AppID      string
	Executable string // explicit path, skips the search
	DataDir    string // overrides the platform app-data dir
	Port       int
	ExtraArgs  []string
	Env        []string
	EnvFiles   []string
	// CaptureOutput sends stdout/stderr to rotating files under
	// <data-dir>/logs; otherwise they are discarded.
	CaptureOutput bool
	Log           logger.FileConfig
	// SearchDirs are checked for a bundled executable before PATH. Empty
	// means the host executable's directory.
	SearchDirs []string
}

// OptionsFromConfig maps the worker section of cfg.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Name:          cfg.Worker.Name,
		AppID:         cfg.AppID,
		Executable:    cfg.Worker.Executable,
		DataDir:       cfg.Worker.DataDir,
		Port:          cfg.Worker.Port,
		ExtraArgs:     cfg.Worker.ExtraArgs,
		Env:           cfg.Worker.Env,
		EnvFiles:      cfg.Worker.EnvFiles,
		CaptureOutput: cfg.Worker.CaptureOutput,
		Log: logger.FileConfig{
			MaxSizeMB:  cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAgeDays: cfg.Log.MaxAgeDays,
			Compress:   cfg.Log.Compress,
		},
	}
}

type Launcher struct {
	opts     Options
	log      *slog.Logger
	resolver paths.Resolver
	lookPath func(string) (string, error)
}

func New(opts Options, log *slog.Logger) *Launcher {
	if log == nil {
		log = slog.Default()
	}
	if opts.Port == 0 {
		opts.Port = config.DefaultPort
	}
	return &Launcher{opts: opts, log: log, lookPath: exec.LookPath}
}

// Name is the worker's executable base name.
func (l *Launcher) Name() string { return l.opts.Name }

// Port is the port passed to the worker.
func (l *Launcher) Port() int { return l.opts.Port }

// DataDir resolves the worker data directory without creating it.
func (l *Launcher) DataDir() (string, error) {
	if l.opts.DataDir != "" {
		return filepath.Abs(l.opts.DataDir)
	}
	return l.resolver.AppDataDir(l.opts.AppID)
}

// Args returns the worker command line after the executable.
func (l *Launcher) Args(dataDir string) []string {
	args := []string{"--data-dir", dataDir, "--port", strconv.Itoa(l.opts.Port)}
	return append(args, l.opts.ExtraArgs...)
}

// Executable locates the worker binary: the explicit path, then
// <dir>/<name> and <dir>/<name>-<os>-<arch> in each search dir, then PATH.
func (l *Launcher) Executable() (string, error) {
	if l.opts.Executable != "" {
		if !isExecutable(l.opts.Executable) {
			return "", fmt.Errorf("%w: %s", ErrExecutableNotFound, l.opts.Executable)
		}
		return filepath.Abs(l.opts.Executable)
	}
	dirs := l.opts.SearchDirs
	if len(dirs) == 0 {
		if d, err := paths.HostDir(); err == nil {
			dirs = []string{d}
		}
	}
	names := []string{
		process.ExecutableName(l.opts.Name),
		process.ExecutableName(l.opts.Name + "-" + runtime.GOOS + "-" + runtime.GOARCH),
	}
	for _, d := range dirs {
		for _, n := range names {
			p := filepath.Join(d, n)
			if isExecutable(p) {
				return p, nil
			}
		}
	}
	if p, err := l.lookPath(l.opts.Name); err == nil {
		return p, nil
	}
	return "", fmt.Errorf("%w: %s (searched %v and PATH)", ErrExecutableNotFound, l.opts.Name, dirs)
}

// Launch creates the data directory and spawns the worker. Every returned
// error is fatal. The context only gates the start; the worker outlives it.
func (l *Launcher) Launch(ctx context.Context) (*Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSpawn, err)
	}
	dataDir, err := l.DataDir()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDataDir, err)
	}
	if err := paths.Ensure(dataDir); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDataDir, err)
	}
	exe, err := l.Executable()
	if err != nil {
		return nil, err
	}
	environ, err := l.environ(dataDir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSpawn, err)
	}

	cmd := exec.Command(exe, l.Args(dataDir)...)
	cmd.Env = environ
	cmd.WaitDelay = outputDrainDelay
	process.Detach(cmd)

	var closers []io.Closer
	if l.opts.CaptureOutput {
		lc := logger.Config{File: l.opts.Log}
		lc.File.Dir = filepath.Join(dataDir, "logs")
		stdout, stderr, err := lc.ProcessWriters(l.opts.Name)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSpawn, err)
		}
		cmd.Stdout, cmd.Stderr = stdout, stderr
		closers = append(closers, stdout, stderr)
	}

	h, err := Spawn(cmd, dataDir, closers...)
	if err != nil {
		return nil, err
	}
	l.log.Info("worker started", "name", l.opts.Name, "pid", h.PID, "data_dir", dataDir, "port", l.opts.Port)
	return h, nil
}

func (l *Launcher) environ(dataDir string) ([]string, error) {
	e := env.New()
	for _, f := range l.opts.EnvFiles {
		kvs, err := config.LoadEnvFile(f)
		if err != nil {
			return nil, err
		}
		e = e.WithList(kvs)
	}
	return e.WithList(l.opts.Env).WithSet("DATA_DIR", dataDir).Merge(nil), nil
}

func isExecutable(p string) bool {
	st, err := os.Stat(p)
	if err != nil || st.IsDir() {
		return false
	}
	if runtime.GOOS == "windows" {
		return true
	}
	return st.Mode().Perm()&0o111 != 0
}
