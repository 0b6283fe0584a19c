// Package lifecycle ties the worker to the host's lifetime: it launches the
// worker at startup and tears the whole process tree down on the first of
// window-destroyed or application-exit, however many times and from however
// many goroutines those fire.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/loykin/sidecar/internal/history"
	"github.com/loykin/sidecar/internal/launcher"
	"github.com/loykin/sidecar/internal/metrics"
	"github.com/loykin/sidecar/internal/process"
	"github.com/loykin/sidecar/internal/reaper"
	"github.com/loykin/sidecar/internal/sweep"
)

// Trigger names what asked for teardown.
type Trigger string

const (
	TriggerWindowDestroyed Trigger = "window_destroyed"
	TriggerExit            Trigger = "exit"
	TriggerManual          Trigger = "manual"
)

// ErrAlreadyStarted is returned by a second Start.
var ErrAlreadyStarted = errors.New("controller already started")

const historyTimeout = 3 * time.Second

// Launcher spawns the worker.
type Launcher interface {
	Launch(ctx context.Context) (*launcher.Handle, error)
	Name() string
	Port() int
}

// Sweeper removes stale worker instances.
type Sweeper interface {
	Sweep(ctx context.Context) sweep.Result
}

type Options struct {
	// Development skips the sweep and the launch; the worker is run by hand.
	Development       bool
	DevHint           string
	PortRetries       int
	PortRetryInterval time.Duration
	// PortInUse overrides the loopback listen probe.
	PortInUse func(port int) bool
	Sink      history.Sink
	Log       *slog.Logger
}

type Controller struct {
	launcher Launcher
	sweeper  Sweeper
	reaper   reaper.Reaper
	opts     Options
	log      *slog.Logger
	slot     Slot

	startOnce sync.Once
	pending   sync.WaitGroup
}

func New(l Launcher, sw Sweeper, rp reaper.Reaper, o Options) *Controller {
	if o.Log == nil {
		o.Log = slog.Default()
	}
	if o.PortInUse == nil {
		o.PortInUse = portInUse
	}
	if o.DevHint == "" {
		o.DevHint = "uv run python main.py"
	}
	return &Controller{launcher: l, sweeper: sw, reaper: rp, opts: o, log: o.Log}
}

// Start runs the startup sequence once: stale sweep, port guard, launch.
// A launch failure is returned as a fatal error and leaves the slot empty,
// so later teardown triggers are no-ops.
func (c *Controller) Start(ctx context.Context) error {
	err := ErrAlreadyStarted
	c.startOnce.Do(func() {
		err = c.start(ctx)
	})
	return err
}

func (c *Controller) start(ctx context.Context) error {
	name := c.launcher.Name()
	if c.opts.Development {
		c.log.Info("development mode, worker not launched; start it manually", "worker", name, "hint", c.opts.DevHint)
		return nil
	}

	res := c.sweeper.Sweep(ctx)
	for _, pid := range res.Killed {
		c.record(history.Event{Type: history.EventStaleKilled, Worker: name, PID: pid})
	}
	c.guardPort(ctx)

	h, err := c.launcher.Launch(ctx)
	if err != nil {
		metrics.IncLaunch(metrics.ResultFailed)
		c.record(history.Event{Type: history.EventLaunchFailed, Worker: name, Detail: err.Error()})
		return fmt.Errorf("start worker %s: %w", name, err)
	}
	if err := c.slot.Fill(h); err != nil {
		// only reachable if Start's once-guard is bypassed
		c.reaper.ReapTree(h.PID, h)
		return err
	}
	metrics.IncLaunch(metrics.ResultOK)
	metrics.SetRunning(true)
	c.record(history.Event{Type: history.EventLaunched, Worker: name, PID: h.PID})
	go c.watch(h)
	return nil
}

// guardPort re-sweeps while the worker port is taken, typically by a server
// process that outlived its bootloader in an earlier run.
func (c *Controller) guardPort(ctx context.Context) {
	port := c.launcher.Port()
	if c.opts.PortRetries <= 0 || port <= 0 {
		return
	}
	for attempt := 1; c.opts.PortInUse(port); attempt++ {
		if attempt > c.opts.PortRetries {
			c.log.Warn("worker port still in use, launching anyway", "port", port)
			return
		}
		c.log.Info("worker port in use, sweeping again", "port", port, "attempt", attempt)
		c.sweeper.Sweep(ctx)
		select {
		case <-ctx.Done():
			return
		case <-time.After(c.opts.PortRetryInterval):
		}
	}
}

func (c *Controller) watch(h *launcher.Handle) {
	<-h.Done()
	if c.slot.Holds(h) {
		c.log.Warn("worker exited on its own", "pid", h.PID, "err", h.ExitErr())
		metrics.SetRunning(false)
	}
}

// Teardown takes the handle out of the slot and reaps its tree. It reports
// whether this call did the reaping; with an empty slot it makes no OS call.
func (c *Controller) Teardown(t Trigger) bool {
	h := c.slot.Take(t)
	if h == nil {
		metrics.IncTeardown(string(t), metrics.OutcomeNoop)
		c.log.Debug("teardown with no worker held", "trigger", t)
		return false
	}

	c.log.Info("killing worker process tree", "pid", h.PID, "trigger", t)
	rep := c.reaper.ReapTree(h.PID, h)
	metrics.SetRunning(false)
	metrics.IncTeardown(string(t), metrics.OutcomeReaped)
	c.record(history.Event{
		Type:    history.EventReaped,
		Worker:  c.launcher.Name(),
		PID:     h.PID,
		Trigger: string(t),
		Detail:  fmt.Sprintf("children=%v root_killed=%t", rep.Children, rep.RootKilled),
	})
	return true
}

// OnWindowDestroyed handles the primary window going away.
func (c *Controller) OnWindowDestroyed() { c.Teardown(TriggerWindowDestroyed) }

// OnExit handles application exit, the final safety net.
func (c *Controller) OnExit() { c.Teardown(TriggerExit) }

// State returns the current lifecycle state.
func (c *Controller) State() State { return c.slot.State() }

// Status is a point-in-time view of the controller.
type Status struct {
	State       string     `json:"state"`
	Worker      string     `json:"worker"`
	Port        int        `json:"port"`
	Development bool       `json:"development"`
	PID         int        `json:"pid,omitempty"`
	DataDir     string     `json:"data_dir,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	Exited      bool       `json:"exited,omitempty"`
	LastTrigger string     `json:"last_trigger,omitempty"`
	StoppedAt   *time.Time `json:"stopped_at,omitempty"`
}

func (c *Controller) Status() Status {
	snap := c.slot.snapshot()
	st := Status{
		State:       snap.state.String(),
		Worker:      c.launcher.Name(),
		Port:        c.launcher.Port(),
		Development: c.opts.Development,
		LastTrigger: string(snap.trigger),
	}
	if h := snap.handle; h != nil {
		started := h.StartedAt
		st.PID = h.PID
		st.DataDir = h.DataDir
		st.StartedAt = &started
		st.Exited = h.Exited()
	}
	if !snap.stoppedAt.IsZero() {
		stopped := snap.stoppedAt
		st.StoppedAt = &stopped
	}
	return st
}

// Usage samples resources of the held worker and its direct children. ok is
// false when no worker is held.
func (c *Controller) Usage() (metrics.Usage, bool) {
	h := c.slot.snapshot().handle
	if h == nil {
		return metrics.Usage{}, false
	}
	pids := []int{h.PID}
	if kids, err := process.Children(process.SystemTable{}, h.PID); err == nil {
		pids = append(pids, kids...)
	}
	return metrics.SampleUsage(pids), true
}

// Close waits for in-flight history writes.
func (c *Controller) Close() { c.pending.Wait() }

func (c *Controller) record(e history.Event) {
	if c.opts.Sink == nil {
		return
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	c.pending.Add(1)
	go func() {
		defer c.pending.Done()
		ctx, cancel := context.WithTimeout(context.Background(), historyTimeout)
		defer cancel()
		if err := c.opts.Sink.Send(ctx, e); err != nil {
			c.log.Debug("history send failed", "type", e.Type, "err", err)
		}
	}()
}
