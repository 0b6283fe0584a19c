package reaper

import (
	"errors"
	"io"
	"log/slog"
	"os/exec"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/loykin/sidecar/internal/process"
)

type fakeTable []process.Info

func (f fakeTable) List() ([]process.Info, error) { return f, nil }

type brokenTable struct{}

func (brokenTable) List() ([]process.Info, error) { return nil, errors.New("no /proc") }

// recorder logs kill calls in order; the root is recorded as "root".
type recorder struct {
	mu    sync.Mutex
	calls []int
	fail  map[int]error
}

func (r *recorder) kill(pid int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, pid)
	return r.fail[pid]
}

type rootKiller struct {
	rec     *recorder
	pid     int
	started int64
	err     error
}

func (k rootKiller) Kill() error {
	_ = k.rec.kill(-k.pid)
	return k.err
}

func (k rootKiller) OSStartTime() int64 { return k.started }

var noTree = func(int) error { return errors.New("unsupported") }

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// P(100) -> C1(101), C2(102); C1 -> G(200); unrelated 300.
var tree = fakeTable{
	{PID: 100, PPID: 1},
	{PID: 101, PPID: 100},
	{PID: 102, PPID: 100},
	{PID: 200, PPID: 101},
	{PID: 300, PPID: 1},
}

func TestReapTree_ChildrenBeforeRoot(t *testing.T) {
	rec := &recorder{}
	r := New(Options{Table: tree, Kill: rec.kill, StartTime: func(int) int64 { return 0 }, TreeKill: noTree, Log: quiet()})
	rep := r.ReapTree(100, rootKiller{rec: rec, pid: 100})

	assert.Equal(t, []int{101, 102, -100}, rec.calls)
	assert.Equal(t, []int{101, 102}, rep.Children)
	assert.True(t, rep.RootKilled)
	assert.False(t, rep.NativeTree)
}

func TestReapTree_DescendantsDeepestFirst(t *testing.T) {
	rec := &recorder{}
	r := New(Options{Descendants: true, Table: tree, Kill: rec.kill, StartTime: func(int) int64 { return 0 }, TreeKill: noTree, Log: quiet()})
	r.ReapTree(100, rootKiller{rec: rec, pid: 100})

	assert.Equal(t, []int{200, 101, 102, -100}, rec.calls)
}

func TestReapTree_NativeTreeSkipsSweep(t *testing.T) {
	rec := &recorder{}
	var treeCalls []int
	r := New(Options{
		Table:     tree,
		Kill:      rec.kill,
		StartTime: func(int) int64 { return 0 },
		TreeKill:  func(pid int) error { treeCalls = append(treeCalls, pid); return nil },
		Log:       quiet(),
	})
	rep := r.ReapTree(100, rootKiller{rec: rec, pid: 100})

	assert.Equal(t, []int{100}, treeCalls)
	assert.True(t, rep.NativeTree)
	assert.Empty(t, rep.Children)
	// the owned handle is still used on the root
	assert.Equal(t, []int{-100}, rec.calls)
}

func TestReapTree_NativeFailureFallsBackToSweep(t *testing.T) {
	rec := &recorder{}
	r := New(Options{Table: tree, Kill: rec.kill, StartTime: func(int) int64 { return 0 }, TreeKill: noTree, Log: quiet()})
	rep := r.ReapTree(100, rootKiller{rec: rec, pid: 100})
	assert.False(t, rep.NativeTree)
	assert.Equal(t, []int{101, 102}, rep.Children)
}

func TestReapTree_ErrorsAreSwallowed(t *testing.T) {
	rec := &recorder{fail: map[int]error{101: errors.New("EPERM")}}
	r := New(Options{Table: tree, Kill: rec.kill, StartTime: func(int) int64 { return 0 }, TreeKill: noTree, Log: quiet()})
	rep := r.ReapTree(100, rootKiller{rec: rec, pid: 100, err: errors.New("gone")})

	// the failed child does not stop the rest
	assert.Equal(t, []int{101, 102, -100}, rec.calls)
	assert.Equal(t, []int{102}, rep.Children)
	assert.False(t, rep.RootKilled)
}

func TestReapTree_ListFailureStillKillsRoot(t *testing.T) {
	rec := &recorder{}
	r := New(Options{Table: brokenTable{}, Kill: rec.kill, StartTime: func(int) int64 { return 0 }, TreeKill: noTree, Log: quiet()})
	rep := r.ReapTree(100, rootKiller{rec: rec, pid: 100})
	assert.Equal(t, []int{-100}, rec.calls)
	assert.True(t, rep.RootKilled)
}

func TestReapTree_NoChildren(t *testing.T) {
	rec := &recorder{}
	r := New(Options{Table: tree, Kill: rec.kill, StartTime: func(int) int64 { return 0 }, TreeKill: noTree, Log: quiet()})
	rep := r.ReapTree(300, rootKiller{rec: rec, pid: 300})
	assert.Equal(t, []int{-300}, rec.calls)
	assert.Empty(t, rep.Children)
}

func TestReapTree_PIDReuseSkipsSweep(t *testing.T) {
	rec := &recorder{}
	r := New(Options{Table: tree, Kill: rec.kill, StartTime: func(int) int64 { return 5000 }, TreeKill: noTree, Log: quiet()})
	rep := r.ReapTree(100, rootKiller{rec: rec, pid: 100, started: 1000})
	assert.True(t, rep.IdentityMiss)
	assert.Equal(t, []int{-100}, rec.calls)

	// within clock granularity the identity holds
	rec2 := &recorder{}
	r = New(Options{Table: tree, Kill: rec2.kill, StartTime: func(int) int64 { return 1001 }, TreeKill: noTree, Log: quiet()})
	rep = r.ReapTree(100, rootKiller{rec: rec2, pid: 100, started: 1000})
	assert.False(t, rep.IdentityMiss)
	assert.Equal(t, []int{101, 102, -100}, rec2.calls)
}

func TestPID_KillsRealProcess(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix-only test")
	}
	cmd := exec.Command("sleep", "30")
	assert.NoError(t, cmd.Start())
	done := make(chan struct{})
	go func() { _ = cmd.Wait(); close(done) }()

	assert.NoError(t, PID(cmd.Process.Pid).Kill())
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("process survived PID.Kill")
	}
}

func TestReapTree_InvalidPID(t *testing.T) {
	rec := &recorder{}
	r := New(Options{Table: tree, Kill: rec.kill, TreeKill: noTree, Log: quiet()})
	rep := r.ReapTree(0, rootKiller{rec: rec})
	assert.Empty(t, rep.Children)
	assert.Equal(t, []int{0}, rec.calls)
}
