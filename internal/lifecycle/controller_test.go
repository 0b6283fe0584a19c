package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os/exec"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/sidecar/internal/history"
	"github.com/loykin/sidecar/internal/launcher"
	"github.com/loykin/sidecar/internal/reaper"
	"github.com/loykin/sidecar/internal/sweep"
)

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func requireUnix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("unix-only test")
	}
}

// sleeper spawns a real idle process so the controller holds a genuine
// handle; the test cleanup kills it.
func sleeper(t *testing.T) *launcher.Handle {
	t.Helper()
	requireUnix(t)
	h, err := launcher.Spawn(exec.Command("sleep", "300"), t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Kill() })
	return h
}

type fakeLauncher struct {
	launches atomic.Int32
	handle   func() (*launcher.Handle, error)
}

func (f *fakeLauncher) Launch(context.Context) (*launcher.Handle, error) {
	f.launches.Add(1)
	return f.handle()
}
func (f *fakeLauncher) Name() string { return "flask-backend" }
func (f *fakeLauncher) Port() int    { return 5000 }

type fakeSweeper struct{ sweeps atomic.Int32 }

func (f *fakeSweeper) Sweep(context.Context) sweep.Result {
	f.sweeps.Add(1)
	return sweep.Result{}
}

type countingReaper struct {
	mu   sync.Mutex
	pids []int
}

func (c *countingReaper) ReapTree(pid int, root reaper.Killer) reaper.Report {
	c.mu.Lock()
	c.pids = append(c.pids, pid)
	c.mu.Unlock()
	return reaper.Report{PID: pid, RootKilled: true}
}

func (c *countingReaper) calls() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]int(nil), c.pids...)
}

type memorySink struct {
	mu     sync.Mutex
	events []history.Event
}

func (m *memorySink) Send(_ context.Context, e history.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return nil
}

func (m *memorySink) types() []history.EventType {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []history.EventType
	for _, e := range m.events {
		out = append(out, e.Type)
	}
	return out
}

func noPortCheck(int) bool { return false }

func TestTeardown_Idempotent(t *testing.T) {
	h := sleeper(t)
	rp := &countingReaper{}
	c := New(&fakeLauncher{handle: func() (*launcher.Handle, error) { return h, nil }}, &fakeSweeper{}, rp, Options{Log: quiet(), PortInUse: noPortCheck})
	require.NoError(t, c.Start(context.Background()))
	assert.Equal(t, Running, c.State())

	assert.True(t, c.Teardown(TriggerWindowDestroyed))
	assert.Equal(t, Stopped, c.State())
	assert.False(t, c.Teardown(TriggerExit))
	assert.False(t, c.Teardown(TriggerExit))
	assert.Equal(t, []int{h.PID}, rp.calls())

	st := c.Status()
	assert.Equal(t, "stopped", st.State)
	assert.Equal(t, string(TriggerWindowDestroyed), st.LastTrigger)
	assert.NotNil(t, st.StoppedAt)
	assert.Zero(t, st.PID)
}

func TestTeardown_ConcurrentTriggersReapOnce(t *testing.T) {
	h := sleeper(t)
	rp := &countingReaper{}
	c := New(&fakeLauncher{handle: func() (*launcher.Handle, error) { return h, nil }}, &fakeSweeper{}, rp, Options{Log: quiet(), PortInUse: noPortCheck})
	require.NoError(t, c.Start(context.Background()))

	var wg sync.WaitGroup
	var reaped atomic.Int32
	start := make(chan struct{})
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			trig := TriggerWindowDestroyed
			if i%2 == 1 {
				trig = TriggerExit
			}
			if c.Teardown(trig) {
				reaped.Add(1)
			}
		}(i)
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), reaped.Load())
	assert.Len(t, rp.calls(), 1)
	assert.Equal(t, Stopped, c.State())
}

func TestStart_LaunchFailureLeavesSlotEmpty(t *testing.T) {
	rp := &countingReaper{}
	sink := &memorySink{}
	fl := &fakeLauncher{handle: func() (*launcher.Handle, error) {
		return nil, fmt.Errorf("%w: flask-backend", launcher.ErrExecutableNotFound)
	}}
	c := New(fl, &fakeSweeper{}, rp, Options{Log: quiet(), PortInUse: noPortCheck, Sink: sink})

	err := c.Start(context.Background())
	require.Error(t, err)
	assert.True(t, launcher.IsFatal(err))
	assert.Equal(t, Unstarted, c.State())

	c.OnWindowDestroyed()
	c.OnExit()
	assert.Empty(t, rp.calls())
	c.Close()
	assert.Equal(t, []history.EventType{history.EventLaunchFailed}, sink.types())
}

func TestStart_DevelopmentSkipsSweepAndLaunch(t *testing.T) {
	fl := &fakeLauncher{handle: func() (*launcher.Handle, error) { return nil, errors.New("must not launch") }}
	sw := &fakeSweeper{}
	rp := &countingReaper{}
	c := New(fl, sw, rp, Options{Development: true, Log: quiet()})

	require.NoError(t, c.Start(context.Background()))
	assert.Zero(t, fl.launches.Load())
	assert.Zero(t, sw.sweeps.Load())
	assert.Equal(t, Unstarted, c.State())
	assert.False(t, c.Teardown(TriggerExit))
	assert.Empty(t, rp.calls())
	assert.True(t, c.Status().Development)
}

func TestStart_OnlyOnce(t *testing.T) {
	h := sleeper(t)
	fl := &fakeLauncher{handle: func() (*launcher.Handle, error) { return h, nil }}
	c := New(fl, &fakeSweeper{}, &countingReaper{}, Options{Log: quiet(), PortInUse: noPortCheck})
	require.NoError(t, c.Start(context.Background()))
	assert.ErrorIs(t, c.Start(context.Background()), ErrAlreadyStarted)
	assert.Equal(t, int32(1), fl.launches.Load())
}

func TestStart_SweepsBeforeLaunch(t *testing.T) {
	h := sleeper(t)
	sw := &fakeSweeper{}
	fl := &fakeLauncher{}
	fl.handle = func() (*launcher.Handle, error) {
		if sw.sweeps.Load() == 0 {
			return nil, errors.New("launched before sweep")
		}
		return h, nil
	}
	sink := &memorySink{}
	c := New(fl, sw, &countingReaper{}, Options{Log: quiet(), PortInUse: noPortCheck, Sink: sink})
	require.NoError(t, c.Start(context.Background()))
	c.Close()
	assert.Equal(t, []history.EventType{history.EventLaunched}, sink.types())

	st := c.Status()
	assert.Equal(t, "running", st.State)
	assert.Equal(t, h.PID, st.PID)
	assert.Equal(t, 5000, st.Port)
	assert.NotNil(t, st.StartedAt)
}

func TestGuardPort_ResweepsUntilFree(t *testing.T) {
	h := sleeper(t)
	sw := &fakeSweeper{}
	var probes atomic.Int32
	busyTwice := func(int) bool { return probes.Add(1) <= 2 }
	c := New(&fakeLauncher{handle: func() (*launcher.Handle, error) { return h, nil }}, sw, &countingReaper{},
		Options{Log: quiet(), PortInUse: busyTwice, PortRetries: 5, PortRetryInterval: time.Millisecond})
	require.NoError(t, c.Start(context.Background()))
	// one startup sweep plus one per busy probe
	assert.Equal(t, int32(3), sw.sweeps.Load())
	assert.Equal(t, int32(3), probes.Load())
}

func TestGuardPort_GivesUpAfterRetries(t *testing.T) {
	h := sleeper(t)
	sw := &fakeSweeper{}
	fl := &fakeLauncher{handle: func() (*launcher.Handle, error) { return h, nil }}
	c := New(fl, sw, &countingReaper{},
		Options{Log: quiet(), PortInUse: func(int) bool { return true }, PortRetries: 2, PortRetryInterval: time.Millisecond})
	require.NoError(t, c.Start(context.Background()))
	assert.Equal(t, int32(3), sw.sweeps.Load())
	assert.Equal(t, int32(1), fl.launches.Load())
}

func TestGuardPort_Disabled(t *testing.T) {
	h := sleeper(t)
	sw := &fakeSweeper{}
	c := New(&fakeLauncher{handle: func() (*launcher.Handle, error) { return h, nil }}, sw, &countingReaper{},
		Options{Log: quiet(), PortInUse: func(int) bool { return true }})
	require.NoError(t, c.Start(context.Background()))
	assert.Equal(t, int32(1), sw.sweeps.Load())
}

func TestPortInUse(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	assert.True(t, portInUse(port))
	require.NoError(t, ln.Close())
	assert.False(t, portInUse(port))
}

func TestStatus_Unstarted(t *testing.T) {
	c := New(&fakeLauncher{}, &fakeSweeper{}, &countingReaper{}, Options{Log: quiet()})
	st := c.Status()
	assert.Equal(t, "unstarted", st.State)
	assert.Equal(t, "flask-backend", st.Worker)
	_, ok := c.Usage()
	assert.False(t, ok)
}

func TestUsage_RunningWorker(t *testing.T) {
	h := sleeper(t)
	c := New(&fakeLauncher{handle: func() (*launcher.Handle, error) { return h, nil }}, &fakeSweeper{}, &countingReaper{}, Options{Log: quiet(), PortInUse: noPortCheck})
	require.NoError(t, c.Start(context.Background()))
	u, ok := c.Usage()
	require.True(t, ok)
	assert.Contains(t, u.PIDs, h.PID)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "unstarted", Unstarted.String())
	assert.Equal(t, "running", Running.String())
	assert.Equal(t, "stopped", Stopped.String())
	assert.Equal(t, "unknown", State(9).String())
}
