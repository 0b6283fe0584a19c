// Package sweep removes worker instances left behind by an earlier host run
// that did not shut down cleanly.
package sweep

import (
	"context"
	"log/slog"
	"os"

	"github.com/loykin/sidecar/internal/metrics"
	"github.com/loykin/sidecar/internal/process"
	"github.com/loykin/sidecar/internal/reaper"
)

// Result lists the stale pids found and the ones whose kill succeeded.
type Result struct {
	Matched []int
	Killed  []int
}

type Sweeper struct {
	name   string
	table  process.Table
	reaper reaper.Reaper
	self   int
	log    *slog.Logger
}

// New returns a sweeper for processes whose executable name is name.
// rp terminates each match together with its children.
func New(name string, table process.Table, rp reaper.Reaper, log *slog.Logger) *Sweeper {
	if table == nil {
		table = process.SystemTable{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Sweeper{name: name, table: table, reaper: rp, self: os.Getpid(), log: log}
}

// Sweep kills every matching process except the host itself. It never
// fails; when nothing matches it does nothing and logs only at debug.
func (s *Sweeper) Sweep(ctx context.Context) Result {
	var res Result
	found, err := process.FindByName(s.table, s.name)
	if err != nil {
		s.log.Debug("stale sweep skipped", "name", s.name, "err", err)
		return res
	}
	for _, in := range found {
		if in.PID == s.self || in.PID <= 0 {
			continue
		}
		res.Matched = append(res.Matched, in.PID)
	}
	if len(res.Matched) == 0 {
		s.log.Debug("no stale worker processes", "name", s.name)
		return res
	}

	s.log.Info("cleaning up stale worker processes", "name", s.name, "pids", res.Matched)
	for _, pid := range res.Matched {
		if ctx.Err() != nil {
			break
		}
		rep := s.reaper.ReapTree(pid, reaper.PID(pid))
		if rep.RootKilled {
			res.Killed = append(res.Killed, pid)
		}
	}
	metrics.AddStaleKilled(len(res.Killed))
	return res
}
