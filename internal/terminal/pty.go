package terminal

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"
)

// Handle is the adapter around one spawned process and its PTY master.
// A session exclusively owns its handle; nothing else reads or writes it.
type Handle interface {
	// Read produces output as it becomes available; it returns an error
	// once the process exits and the master drains.
	Read(p []byte) (int, error)
	// Write sends input bytes to the PTY.
	Write(p []byte) (int, error)
	// Resize propagates new dimensions to the child.
	Resize(size Size) error
	// Terminate runs the graceful-then-forceful sequence (SIGTERM, wait
	// up to grace, SIGKILL) and returns the exit code.
	Terminate(ctx context.Context, grace time.Duration) (int, error)
	// Wait blocks until the process exits and returns its exit code.
	Wait() (int, error)
	// PID reports the child's process id.
	PID() int
	// Close releases the PTY descriptors and reaps the child. Safe to
	// call on every exit path.
	Close() error
}

// ptyHandle implements Handle with creack/pty.
type ptyHandle struct {
	cmd  *exec.Cmd
	ptmx *os.File

	waitOnce sync.Once
	waitDone chan struct{}
	exitCode int
	waitErr  error

	closeOnce sync.Once
}

// Spawn allocates a PTY and execs the plan's command attached to it.
func Spawn(plan LaunchPlan, workingDir string, size Size) (Handle, error) {
	cmd := exec.Command(plan.Command, plan.Args...)
	cmd.Dir = workingDir
	cmd.Env = plan.Env

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{
		Rows: size.Rows,
		Cols: size.Cols,
	})
	if err != nil {
		return nil, &SpawnError{Command: plan.Command, Err: err}
	}

	return &ptyHandle{
		cmd:      cmd,
		ptmx:     ptmx,
		waitDone: make(chan struct{}),
	}, nil
}

func (h *ptyHandle) Read(p []byte) (int, error) {
	return h.ptmx.Read(p)
}

func (h *ptyHandle) Write(p []byte) (int, error) {
	return h.ptmx.Write(p)
}

func (h *ptyHandle) Resize(size Size) error {
	return pty.Setsize(h.ptmx, &pty.Winsize{
		Rows: size.Rows,
		Cols: size.Cols,
	})
}

func (h *ptyHandle) PID() int {
	if h.cmd.Process == nil {
		return 0
	}
	return h.cmd.Process.Pid
}

// Wait reaps the child exactly once; concurrent callers share the result.
func (h *ptyHandle) Wait() (int, error) {
	h.waitOnce.Do(func() {
		defer close(h.waitDone)
		err := h.cmd.Wait()
		if err == nil {
			h.exitCode = 0
			return
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			h.exitCode = exitErr.ExitCode()
			return
		}
		h.exitCode = -1
		h.waitErr = err
	})
	<-h.waitDone
	return h.exitCode, h.waitErr
}

func (h *ptyHandle) Terminate(ctx context.Context, grace time.Duration) (int, error) {
	if h.cmd.Process != nil {
		// Ignored when the process is already gone.
		_ = h.cmd.Process.Signal(syscall.SIGTERM)
	}

	done := make(chan struct{})
	go func() {
		h.Wait() //nolint:errcheck // result read below
		close(done)
	}()

	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case <-done:
	case <-timer.C:
		h.kill()
		<-done
	case <-ctx.Done():
		h.kill()
		<-done
	}

	return h.exitCode, h.waitErr
}

func (h *ptyHandle) kill() {
	if h.cmd.Process != nil {
		_ = h.cmd.Process.Kill()
	}
}

// Close always releases the master descriptor and reaps the child so no
// exit path leaks a PTY or leaves a zombie.
func (h *ptyHandle) Close() error {
	var err error
	h.closeOnce.Do(func() {
		err = h.ptmx.Close()
		if h.cmd.ProcessState == nil {
			h.kill()
		}
		go h.Wait() //nolint:errcheck // reap only
	})
	return err
}
