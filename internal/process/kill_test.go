package process

import (
	"os"
	"os/exec"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKill_InvalidPID(t *testing.T) {
	assert.ErrorIs(t, Kill(0), ErrInvalidPID)
	assert.ErrorIs(t, Kill(-5), ErrInvalidPID)
	assert.False(t, Alive(0))
}

func TestAlive_Self(t *testing.T) {
	assert.True(t, Alive(os.Getpid()))
}

func TestKill_RunningProcess(t *testing.T) {
	requireUnix(t)
	cmd := exec.Command("sleep", "30")
	require.NoError(t, cmd.Start())
	pid := cmd.Process.Pid
	require.True(t, Alive(pid))

	require.NoError(t, Kill(pid))
	_ = cmd.Wait()
	assert.False(t, Alive(pid))

	// already reaped: killing again is a no-op
	assert.NoError(t, Kill(pid))
}

func TestAlive_ZombieCountsAsDead(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("zombie state is read from /proc")
	}
	cmd := exec.Command("sleep", "30")
	require.NoError(t, cmd.Start())
	pid := cmd.Process.Pid
	t.Cleanup(func() { _ = cmd.Wait() })

	require.NoError(t, Kill(pid))
	// not waited yet, so the entry lingers as a zombie
	deadline := time.Now().Add(3 * time.Second)
	for Alive(pid) && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	assert.False(t, Alive(pid))
}

func TestStartTime(t *testing.T) {
	assert.Zero(t, StartTime(0))
	st := StartTime(os.Getpid())
	if st == 0 {
		t.Skip("start time unavailable on this platform")
	}
	now := time.Now().Unix()
	assert.LessOrEqual(t, st, now)
	assert.Greater(t, st, now-24*3600*365)
}
