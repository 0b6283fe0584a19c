// Package reaper force-terminates a worker together with the processes it
// forked. Bundled one-file executables often fork on startup: the pid the
// host knows is a bootloader and the real server runs as its child, so
// killing only the known pid would orphan the server with its port bound.
package reaper

import (
	"log/slog"

	"github.com/loykin/sidecar/internal/metrics"
	"github.com/loykin/sidecar/internal/process"
)

// Killer terminates the root of a tree. launcher.Handle implements it.
type Killer interface {
	Kill() error
}

// Reaper kills the tree rooted at pid. It never fails from the caller's
// point of view and is safe to call on a tree that is already gone.
type Reaper interface {
	ReapTree(pid int, root Killer) Report
}

// Report lists what a reap signalled.
type Report struct {
	PID          int
	Children     []int // signalled below the root, in kill order
	NativeTree   bool  // the platform tree kill succeeded
	RootKilled   bool
	IdentityMiss bool // pid no longer named the launched process
}

// PID wraps a bare pid as a Killer for trees the host does not own a
// handle for.
type PID int

func (p PID) Kill() error { return process.Kill(int(p)) }

type Options struct {
	// Descendants walks the whole tree deepest-first instead of the direct
	// children only.
	Descendants bool
	Table       process.Table
	Kill        func(pid int) error
	StartTime   func(pid int) int64
	// TreeKill terminates pid and all descendants natively. Nil selects the
	// platform default, which is nil outside Windows.
	TreeKill func(pid int) error
	Log      *slog.Logger
}

type TreeReaper struct {
	descendants bool
	table       process.Table
	kill        func(int) error
	startTime   func(int) int64
	treeKill    func(int) error
	log         *slog.Logger
}

var _ Reaper = (*TreeReaper)(nil)

func New(o Options) *TreeReaper {
	r := &TreeReaper{
		descendants: o.Descendants,
		table:       o.Table,
		kill:        o.Kill,
		startTime:   o.StartTime,
		treeKill:    o.TreeKill,
		log:         o.Log,
	}
	if r.table == nil {
		r.table = process.SystemTable{}
	}
	if r.kill == nil {
		r.kill = process.Kill
	}
	if r.startTime == nil {
		r.startTime = process.StartTime
	}
	if r.treeKill == nil {
		r.treeKill = nativeTreeKill
	}
	if r.log == nil {
		r.log = slog.Default()
	}
	return r
}

// ReapTree kills every process below pid, then pid itself through root.
// Children are always signalled before the root.
func (r *TreeReaper) ReapTree(pid int, root Killer) Report {
	rep := Report{PID: pid}
	if pid <= 0 {
		rep.RootKilled = r.killRoot(pid, root)
		return rep
	}
	if r.identityChanged(pid, root) {
		rep.IdentityMiss = true
		r.log.Warn("pid no longer names the worker, skipping child sweep", "pid", pid)
		rep.RootKilled = r.killRoot(pid, root)
		return rep
	}

	if r.treeKill != nil {
		err := r.treeKill(pid)
		if err == nil {
			rep.NativeTree = true
			metrics.IncKill(metrics.TargetTree)
		} else {
			r.bestEffort("native tree kill", pid, err)
		}
	}
	if !rep.NativeTree {
		rep.Children = r.sweep(pid)
	}
	rep.RootKilled = r.killRoot(pid, root)
	return rep
}

func (r *TreeReaper) sweep(pid int) []int {
	list := process.Children
	if r.descendants {
		list = process.Descendants
	}
	pids, err := list(r.table, pid)
	if err != nil {
		r.bestEffort("list children", pid, err)
		return nil
	}
	var killed []int
	for _, c := range pids {
		if err := r.kill(c); err != nil {
			r.bestEffort("kill child", c, err)
			continue
		}
		killed = append(killed, c)
		metrics.IncKill(metrics.TargetChild)
	}
	return killed
}

func (r *TreeReaper) killRoot(pid int, root Killer) bool {
	if root == nil {
		root = PID(pid)
	}
	if err := root.Kill(); err != nil {
		r.bestEffort("kill root", pid, err)
		return false
	}
	metrics.IncKill(metrics.TargetRoot)
	return true
}

// identityChanged compares the recorded start time with the current one.
// Unknown on either side counts as unchanged.
func (r *TreeReaper) identityChanged(pid int, root Killer) bool {
	id, ok := root.(interface{ OSStartTime() int64 })
	if !ok {
		return false
	}
	want := id.OSStartTime()
	if want == 0 {
		return false
	}
	got := r.startTime(pid)
	if got == 0 {
		return false
	}
	d := got - want
	return d > 1 || d < -1
}

// bestEffort is where teardown errors stop. A failed kill here is covered
// by the next trigger or by the stale sweep on the next start.
func (r *TreeReaper) bestEffort(op string, pid int, err error) {
	r.log.Debug("reap step failed", "op", op, "pid", pid, "err", err)
}
