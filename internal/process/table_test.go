package process

import (
	"errors"
	"os"
	"os/exec"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticTable struct {
	procs []Info
	err   error
}

func (s staticTable) List() ([]Info, error) { return s.procs, s.err }

func TestChildren_FiltersByParent(t *testing.T) {
	tbl := staticTable{procs: []Info{
		{PID: 1, PPID: 0, Name: "init"},
		{PID: 10, PPID: 1, Name: "worker"},
		{PID: 12, PPID: 10, Name: "python"},
		{PID: 11, PPID: 10, Name: "python"},
		{PID: 13, PPID: 12, Name: "sh"},
	}}
	kids, err := Children(tbl, 10)
	require.NoError(t, err)
	assert.Equal(t, []int{11, 12}, kids)

	kids, err = Children(tbl, 13)
	require.NoError(t, err)
	assert.Empty(t, kids)
}

func TestChildren_InvalidPID(t *testing.T) {
	_, err := Children(staticTable{}, 0)
	assert.ErrorIs(t, err, ErrInvalidPID)
}

func TestChildren_ListError(t *testing.T) {
	boom := errors.New("boom")
	_, err := Children(staticTable{err: boom}, 10)
	assert.ErrorIs(t, err, boom)
}

func TestDescendants_DeepestFirst(t *testing.T) {
	tbl := staticTable{procs: []Info{
		{PID: 10, PPID: 1},
		{PID: 20, PPID: 10},
		{PID: 21, PPID: 10},
		{PID: 30, PPID: 20},
		{PID: 40, PPID: 30},
		{PID: 99, PPID: 1},
	}}
	got, err := Descendants(tbl, 10)
	require.NoError(t, err)
	assert.Equal(t, []int{40, 30, 20, 21}, got)
}

func TestDescendants_IgnoresCycles(t *testing.T) {
	tbl := staticTable{procs: []Info{
		{PID: 10, PPID: 20},
		{PID: 20, PPID: 10},
	}}
	got, err := Descendants(tbl, 10)
	require.NoError(t, err)
	assert.Equal(t, []int{20}, got)
}

func TestFindByName(t *testing.T) {
	name := "flask-backend"
	tbl := staticTable{procs: []Info{
		{PID: 7, Name: ExecutableName(name)},
		{PID: 3, Name: ExecutableName(name)},
		{PID: 5, Name: "flask-backend-helper"},
	}}
	got, err := FindByName(tbl, name)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 3, got[0].PID)
	assert.Equal(t, 7, got[1].PID)

	_, err = FindByName(tbl, "")
	assert.Error(t, err)
}

func TestExecutableName(t *testing.T) {
	if runtime.GOOS == "windows" {
		assert.Equal(t, "flask-backend.exe", ExecutableName("flask-backend"))
		assert.Equal(t, "flask-backend.EXE", ExecutableName("flask-backend.EXE"))
		return
	}
	assert.Equal(t, "flask-backend", ExecutableName("flask-backend"))
}

func TestSystemTable_SeesOwnChild(t *testing.T) {
	requireUnix(t)
	cmd := exec.Command("sleep", "30")
	require.NoError(t, cmd.Start())
	t.Cleanup(func() {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
	})

	kids, err := Children(SystemTable{}, os.Getpid())
	require.NoError(t, err)
	assert.Contains(t, kids, cmd.Process.Pid)

	found, err := FindByName(SystemTable{}, "sleep")
	require.NoError(t, err)
	var pids []int
	for _, in := range found {
		pids = append(pids, in.PID)
	}
	assert.Contains(t, pids, cmd.Process.Pid)
}

func requireUnix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("unix-only test")
	}
}
