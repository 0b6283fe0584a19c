// Package logger builds the host's slog logger and the rotating files that
// capture the worker's stdout and stderr.
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Rotation defaults applied when a FileConfig value is zero.
const (
	DefaultMaxSizeMB  = 10
	DefaultMaxBackups = 3
	DefaultMaxAgeDays = 7
)

// Config groups the host logger settings and the file sinks.
type Config struct {
	Slog SlogConfig
	File FileConfig
}

// SlogConfig controls the handler used for host diagnostics.
type SlogConfig struct {
	Level      string // debug, info, warn, error (default info)
	Format     string // text or json (default text)
	Color      bool   // ANSI level colors, text format only
	TimeStamps bool
	Source     bool
}

// FileConfig describes rotating log files. Path is the host's own log file.
// Worker output goes to StdoutPath/StderrPath, or to
// Dir/<name>.stdout.log and Dir/<name>.stderr.log when only Dir is set.
type FileConfig struct {
	Path       string
	Dir        string
	StdoutPath string
	StderrPath string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// ParseLevel maps a level name to slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
}

// NewSlogger returns a logger writing to stderr and, when File.Path is set,
// to a rotating file as well.
func (c Config) NewSlogger() *slog.Logger {
	var w io.Writer = os.Stderr
	if c.File.Path != "" {
		w = io.MultiWriter(os.Stderr, c.File.rotating(c.File.Path))
	}
	return c.NewSloggerTo(w)
}

// NewSloggerTo returns a logger writing to w.
func (c Config) NewSloggerTo(w io.Writer) *slog.Logger {
	lvl, err := ParseLevel(c.Slog.Level)
	if err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl, AddSource: c.Slog.Source}
	if !c.Slog.TimeStamps {
		opts.ReplaceAttr = dropTime
	}

	var h slog.Handler
	switch {
	case strings.EqualFold(c.Slog.Format, "json"):
		h = slog.NewJSONHandler(w, opts)
	case c.Slog.Color:
		h = NewColorTextHandler(w, opts)
	default:
		h = slog.NewTextHandler(w, opts)
	}
	return slog.New(h)
}

func dropTime(groups []string, a slog.Attr) slog.Attr {
	if len(groups) == 0 && a.Key == slog.TimeKey {
		return slog.Attr{}
	}
	return a
}

// ProcessWriters returns rotating writers for the stdout and stderr of the
// process called name. A stream with no configured destination is nil.
func (c Config) ProcessWriters(name string) (io.WriteCloser, io.WriteCloser, error) {
	f := c.File
	stdout, stderr := f.StdoutPath, f.StderrPath
	if f.Dir != "" {
		if stdout == "" {
			stdout = filepath.Join(f.Dir, name+".stdout.log")
		}
		if stderr == "" {
			stderr = filepath.Join(f.Dir, name+".stderr.log")
		}
	}
	var outW, errW io.WriteCloser
	if stdout != "" {
		outW = f.rotating(stdout)
	}
	if stderr != "" {
		errW = f.rotating(stderr)
	}
	return outW, errW, nil
}

func (f FileConfig) rotating(path string) *lj.Logger {
	return &lj.Logger{
		Filename:   path,
		MaxSize:    valOr(f.MaxSizeMB, DefaultMaxSizeMB),
		MaxBackups: valOr(f.MaxBackups, DefaultMaxBackups),
		MaxAge:     valOr(f.MaxAgeDays, DefaultMaxAgeDays),
		Compress:   f.Compress,
	}
}

func valOr(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
