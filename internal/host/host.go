// Package host turns the host application's lifetime into two events:
// the primary window going away and the application exiting. Headless hosts
// map OS signals onto them; GUI hosts call WindowDestroyed and Exit from
// their own callbacks.
package host

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
)

// Event is a host lifecycle event.
type Event string

const (
	WindowDestroyed Event = "window_destroyed"
	Exit            Event = "exit"
)

type App struct {
	log *slog.Logger

	mu       sync.Mutex
	handlers map[Event][]func()
	inflight sync.WaitGroup

	// signal classes; platform files fill them in
	windowSignals []os.Signal
	exitSignals   []os.Signal
}

func New(log *slog.Logger) *App {
	if log == nil {
		log = slog.Default()
	}
	a := &App{log: log, handlers: map[Event][]func(){}}
	a.windowSignals, a.exitSignals = defaultSignals()
	return a
}

// OnWindowDestroyed registers fn for window-destroyed events.
func (a *App) OnWindowDestroyed(fn func()) { a.on(WindowDestroyed, fn) }

// OnExit registers fn for application-exit events.
func (a *App) OnExit(fn func()) { a.on(Exit, fn) }

func (a *App) on(e Event, fn func()) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.handlers[e] = append(a.handlers[e], fn)
}

// WindowDestroyed delivers a window-destroyed event.
func (a *App) WindowDestroyed() { a.Fire(WindowDestroyed) }

// Exit delivers an application-exit event.
func (a *App) Exit() { a.Fire(Exit) }

// Fire runs every handler registered for e, each on its own goroutine, and
// returns without waiting for them.
func (a *App) Fire(e Event) {
	a.mu.Lock()
	hs := append([]func(){}, a.handlers[e]...)
	a.mu.Unlock()

	a.log.Debug("host event", "event", e, "handlers", len(hs))
	for _, h := range hs {
		a.inflight.Add(1)
		go func(h func()) {
			defer a.inflight.Done()
			h()
		}(h)
	}
}

// Wait blocks until every handler fired so far has returned.
func (a *App) Wait() { a.inflight.Wait() }

// Run blocks until the host ends. Window signals fire window-destroyed and
// end the run; exit signals and ctx cancellation end the run directly.
// Application exit is always fired last, and Run waits for all handlers.
func (a *App) Run(ctx context.Context) Event {
	sigCh := make(chan os.Signal, 4)
	all := append(append([]os.Signal{}, a.windowSignals...), a.exitSignals...)
	if len(all) > 0 {
		signal.Notify(sigCh, all...)
		defer signal.Stop(sigCh)
	}

	cause := Exit
	select {
	case <-ctx.Done():
		a.log.Info("host context done", "err", ctx.Err())
	case sig := <-sigCh:
		a.log.Info("host received signal", "signal", sig.String())
		if containsSignal(a.windowSignals, sig) {
			cause = WindowDestroyed
			a.WindowDestroyed()
		}
	}
	a.Exit()
	a.Wait()
	return cause
}

func containsSignal(list []os.Signal, s os.Signal) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}
