package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/loykin/sidecar"
	"github.com/loykin/sidecar/internal/config"
	"github.com/loykin/sidecar/internal/launcher"
	"github.com/loykin/sidecar/internal/reaper"
	"github.com/loykin/sidecar/internal/sweep"
)

// loadConfig reads the config file and applies the command-line overrides,
// which win over both the file and SIDECAR_* variables.
func loadConfig(g *GlobalFlags) (*config.Config, error) {
	cfg, err := config.Load(g.ConfigPath)
	if err != nil {
		return nil, err
	}
	if g.Dev {
		cfg.Mode = config.ModeDevelopment
	}
	if g.DataDir != "" {
		cfg.Worker.DataDir = g.DataDir
	}
	if g.Port != 0 {
		cfg.Worker.Port = g.Port
	}
	if g.Worker != "" {
		cfg.Worker.Name = g.Worker
	}
	if g.Executable != "" {
		cfg.Worker.Executable = g.Executable
	}
	if g.LogLevel != "" {
		cfg.Log.Level = g.LogLevel
	}
	if g.LogFile != "" {
		cfg.Log.File = g.LogFile
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runCommand(ctx context.Context, out io.Writer, g *GlobalFlags, f *RunFlags) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := loadConfig(g)
	if err != nil {
		return err
	}
	if f.AdminListen != "" {
		cfg.Admin.Listen = f.AdminListen
	}
	if f.Descendants {
		cfg.Reap.Descendants = true
	}
	log := cfg.Logger().NewSlogger()

	s, err := sidecar.New(cfg, log)
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	if f.RunDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.RunDuration)
		defer cancel()
	}
	ev, err := s.Run(ctx)
	if err != nil {
		if launcher.IsFatal(err) {
			return fmt.Errorf("worker %s could not be started: %w", cfg.Worker.Name, err)
		}
		return err
	}
	_, _ = fmt.Fprintf(out, "host ended: %s\n", ev)
	return nil
}

func sweepCommand(ctx context.Context, out io.Writer, g *GlobalFlags) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := loadConfig(g)
	if err != nil {
		return err
	}
	log := cfg.Logger().NewSlogger()
	rp := reaper.New(reaper.Options{Descendants: cfg.Reap.Descendants, Log: log})
	res := sweep.New(cfg.Worker.Name, nil, rp, log).Sweep(ctx)
	_, _ = fmt.Fprintf(out, "matched: %s\nkilled: %s\n", pidList(res.Matched), pidList(res.Killed))
	return nil
}

func reapCommand(out io.Writer, g *GlobalFlags, f *ReapFlags) error {
	if f.PID <= 0 {
		return fmt.Errorf("invalid pid %d", f.PID)
	}
	if f.PID == os.Getpid() {
		return errors.New("refusing to reap the current process")
	}
	cfg, err := loadConfig(g)
	if err != nil {
		return err
	}
	rp := reaper.New(reaper.Options{
		Descendants: f.Descendants || cfg.Reap.Descendants,
		Log:         cfg.Logger().NewSlogger(),
	})
	rep := rp.ReapTree(f.PID, reaper.PID(f.PID))
	_, _ = fmt.Fprintf(out, "pid: %d\nchildren: %s\nroot_killed: %t\n", rep.PID, pidList(rep.Children), rep.RootKilled)
	return nil
}

func pathsCommand(out io.Writer, g *GlobalFlags) error {
	cfg, err := loadConfig(g)
	if err != nil {
		return err
	}
	l := launcher.New(launcher.OptionsFromConfig(cfg), slog.New(slog.DiscardHandler))
	dir, err := l.DataDir()
	if err != nil {
		return fmt.Errorf("data dir: %w", err)
	}
	_, _ = fmt.Fprintf(out, "data_dir: %s\n", dir)
	exe, err := l.Executable()
	if err != nil {
		_, _ = fmt.Fprintf(out, "executable: not found (%v)\n", err)
		return nil
	}
	_, _ = fmt.Fprintf(out, "executable: %s\n", exe)
	return nil
}

func pidList(pids []int) string {
	if len(pids) == 0 {
		return "none"
	}
	parts := make([]string, len(pids))
	for i, p := range pids {
		parts[i] = fmt.Sprint(p)
	}
	return strings.Join(parts, " ")
}
