// Package sidecar is the embedding API: a host application builds a
// Supervisor from a Config, calls Setup once at startup and forwards its
// window-destroyed and exit callbacks. The worker's whole process tree is
// gone after the first of those callbacks returns.
package sidecar

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	cfg "github.com/loykin/sidecar/internal/config"
	"github.com/loykin/sidecar/internal/history"
	"github.com/loykin/sidecar/internal/history/factory"
	"github.com/loykin/sidecar/internal/host"
	"github.com/loykin/sidecar/internal/launcher"
	"github.com/loykin/sidecar/internal/lifecycle"
	"github.com/loykin/sidecar/internal/metrics"
	"github.com/loykin/sidecar/internal/reaper"
	iapi "github.com/loykin/sidecar/internal/server"
	"github.com/loykin/sidecar/internal/sweep"
	itls "github.com/loykin/sidecar/internal/tls"
	"github.com/prometheus/client_golang/prometheus"
)

// Re-export types embedders need; aliases keep conversions free.

type Config = cfg.Config

type Status = lifecycle.Status

type Usage = metrics.Usage

type HistorySink = history.Sink

// Supervisor owns one worker for the lifetime of the host.
type Supervisor struct {
	cfg  *Config
	log  *slog.Logger
	ctrl *lifecycle.Controller
	sink history.Sink

	admin *http.Server
}

// New wires the launcher, reaper, sweep and controller for cfg. Nothing is
// started until Setup. A nil log uses slog.Default.
func New(c *Config, log *slog.Logger) (*Supervisor, error) {
	if c == nil {
		c = cfg.Default()
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if log == nil {
		log = slog.Default()
	}

	s := &Supervisor{cfg: c, log: log}
	if c.History.DSN != "" {
		sink, err := factory.NewSinkFromDSN(c.History.DSN)
		if err != nil {
			return nil, fmt.Errorf("history sink: %w", err)
		}
		s.sink = sink
	}

	rp := reaper.New(reaper.Options{
		Descendants: c.Reap.Descendants,
		Log:         log.With("component", "reaper"),
	})
	sw := sweep.New(c.Worker.Name, nil, rp, log.With("component", "sweep"))
	ln := launcher.New(launcher.OptionsFromConfig(c), log.With("component", "launcher"))
	s.ctrl = lifecycle.New(ln, sw, rp, lifecycle.Options{
		Development:       c.Development(),
		PortRetries:       c.Worker.PortRetries,
		PortRetryInterval: c.Worker.PortRetryInterval,
		Sink:              s.sink,
		Log:               log,
	})
	return s, nil
}

// Setup registers metrics and the admin endpoint when enabled, then sweeps
// stale instances and launches the worker. An error means the worker is not
// running; the host decides whether that is fatal.
func (s *Supervisor) Setup(ctx context.Context) error {
	if s.cfg.Metrics.Enabled {
		if err := RegisterMetrics(prometheus.DefaultRegisterer); err != nil {
			return fmt.Errorf("register metrics: %w", err)
		}
	}
	if s.cfg.Admin.Listen != "" && s.admin == nil {
		tlsCfg, err := itls.Setup(s.cfg.Admin.TLS)
		if err != nil {
			return fmt.Errorf("admin tls: %w", err)
		}
		srv, err := iapi.NewServer(s.cfg.Admin.Listen, s.Handler(), tlsCfg)
		if err != nil {
			return fmt.Errorf("admin server: %w", err)
		}
		s.admin = srv
		s.log.Info("admin endpoint listening", "addr", s.cfg.Admin.Listen, "base", s.cfg.Admin.BasePath, "tls", tlsCfg != nil)
	}
	return s.ctrl.Start(ctx)
}

// WindowDestroyed tears the worker down for a closed primary window. It
// reports whether this call reaped the worker.
func (s *Supervisor) WindowDestroyed() bool {
	return s.ctrl.Teardown(lifecycle.TriggerWindowDestroyed)
}

// Exit tears the worker down for application exit. It reports whether this
// call reaped the worker.
func (s *Supervisor) Exit() bool {
	return s.ctrl.Teardown(lifecycle.TriggerExit)
}

func (s *Supervisor) Status() Status { return s.ctrl.Status() }

// Usage samples the worker's resources; ok is false without a worker.
func (s *Supervisor) Usage() (Usage, bool) { return s.ctrl.Usage() }

// Handler returns the admin router for mounting in the host's own server.
func (s *Supervisor) Handler() http.Handler {
	return iapi.NewRouter(s.ctrl, s.cfg.Admin.BasePath, nil).WithToken(s.cfg.Admin.Token).Handler()
}

// Run is the headless host loop: it calls Setup, then blocks until a signal
// or ctx ends the host, forwarding both lifecycle events. The returned event
// says what ended the run.
func (s *Supervisor) Run(ctx context.Context) (host.Event, error) {
	app := host.New(s.log.With("component", "host"))
	app.OnWindowDestroyed(func() { s.WindowDestroyed() })
	app.OnExit(func() { s.Exit() })

	if err := s.Setup(ctx); err != nil {
		return host.Exit, err
	}
	return app.Run(ctx), nil
}

// Close stops the admin endpoint and flushes history. It does not touch the
// worker; call Exit first.
func (s *Supervisor) Close() error {
	var errs []error
	if s.admin != nil {
		errs = append(errs, s.admin.Close())
		s.admin = nil
	}
	s.ctrl.Close()
	if c, ok := s.sink.(io.Closer); ok {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

// LoadConfig reads a TOML file (path may be empty) with SIDECAR_*
// environment overrides.
func LoadConfig(path string) (*Config, error) { return cfg.Load(path) }

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config { return cfg.Default() }

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }
