package launcher

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/loykin/sidecar/internal/process"
)

// Handle owns a spawned worker. It is the only capability that can terminate
// the direct child; whoever holds it is responsible for killing it.
type Handle struct {
	PID       int
	Path      string
	DataDir   string
	StartedAt time.Time

	osStart int64
	cmd     *exec.Cmd
	done    chan struct{}
	mu      sync.Mutex
	exitErr error
	closers []io.Closer
}

// Spawn starts cmd and returns the Handle owning it. closers are closed once
// the child has been reaped, or immediately if the start fails.
func Spawn(cmd *exec.Cmd, dataDir string, closers ...io.Closer) (*Handle, error) {
	if err := cmd.Start(); err != nil {
		for _, c := range closers {
			_ = c.Close()
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrSpawn, cmd.Path, err)
	}
	h := &Handle{
		PID:       cmd.Process.Pid,
		Path:      cmd.Path,
		DataDir:   dataDir,
		StartedAt: time.Now(),
		osStart:   process.StartTime(cmd.Process.Pid),
		cmd:       cmd,
		done:      make(chan struct{}),
		closers:   closers,
	}
	go h.wait()
	return h, nil
}

// wait reaps the direct child so it never lingers as a zombie of the host,
// then releases the output writers.
func (h *Handle) wait() {
	err := h.cmd.Wait()
	h.mu.Lock()
	h.exitErr = err
	h.mu.Unlock()
	for _, c := range h.closers {
		_ = c.Close()
	}
	close(h.done)
}

// Kill force-terminates the direct child. Killing a child that has already
// exited is not an error.
func (h *Handle) Kill() error {
	if h == nil || h.cmd == nil || h.cmd.Process == nil {
		return nil
	}
	err := h.cmd.Process.Kill()
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}

// OSStartTime is the start time the OS reported for PID right after spawn,
// in Unix seconds, or 0 when unknown.
func (h *Handle) OSStartTime() int64 { return h.osStart }

// Done is closed once the direct child has exited and been reaped.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Exited reports whether the direct child has exited.
func (h *Handle) Exited() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// ExitErr returns the wait error after Done is closed.
func (h *Handle) ExitErr() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exitErr
}
