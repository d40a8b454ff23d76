package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"

	"github.com/pithecene-io/de1gate/iox"
	"github.com/pithecene-io/de1gate/types"
)

// Process is one running worker.
type Process interface {
	// PID returns the OS process id.
	PID() int
	// Stderr returns the worker's log stream, or nil. It reaches EOF once
	// the worker has exited; a stream that is an io.Closer is closed by
	// its reader.
	Stderr() io.Reader
	// Signal delivers sig to the worker.
	Signal(sig os.Signal) error
	// Kill terminates the worker immediately.
	Kill() error
	// Wait blocks until the worker exits and returns its exit code,
	// -1 when it was killed by a signal. Called exactly once.
	Wait() (int, error)
}

// WorkerSpec describes one worker to spawn.
type WorkerSpec struct {
	Role types.Role
	// ExtraFiles become fd 3, 4, ... in the worker.
	ExtraFiles []*os.File
}

// Spawner starts workers.
type Spawner interface {
	Spawn(ctx context.Context, spec WorkerSpec) (Process, error)
}

// ExecSpawner re-executes a binary as `<Path> worker <role> [Args...]`.
type ExecSpawner struct {
	// Path is the binary to run; empty means the current executable.
	Path string
	// Args are appended after the role.
	Args []string
	// Env is the worker environment; nil inherits the supervisor's.
	Env []string
}

// Spawn starts the worker. The process is not tied to ctx: the
// supervisor owns its lifecycle and stops it through Shutdown.
func (s *ExecSpawner) Spawn(_ context.Context, spec WorkerSpec) (Process, error) {
	path := s.Path
	if path == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve executable: %w", err)
		}
		path = exe
	}

	args := append([]string{"worker", string(spec.Role)}, s.Args...)
	cmd := exec.Command(path, args...)
	cmd.Env = s.Env
	cmd.ExtraFiles = spec.ExtraFiles
	cmd.SysProcAttr = workerSysProcAttr()

	// The read end belongs to the log reader, not to Wait, so lines still
	// buffered in the pipe when the worker exits are not lost.
	stderr, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}
	cmd.Stderr = w

	err = cmd.Start()
	iox.DiscardClose(w)
	if err != nil {
		iox.DiscardClose(stderr)
		return nil, fmt.Errorf("failed to start %s worker: %w", spec.Role, err)
	}
	return &execProcess{cmd: cmd, stderr: stderr}, nil
}

type execProcess struct {
	cmd    *exec.Cmd
	stderr *os.File
}

func (p *execProcess) PID() int          { return p.cmd.Process.Pid }
func (p *execProcess) Stderr() io.Reader { return p.stderr }
func (p *execProcess) Kill() error       { return p.cmd.Process.Kill() }
func (p *execProcess) Signal(sig os.Signal) error {
	return p.cmd.Process.Signal(sig)
}

// Wait maps the exit status the same way for every worker: the exit code
// when the process exited, -1 when a signal ended it.
func (p *execProcess) Wait() (int, error) {
	err := p.cmd.Wait()
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return -1, fmt.Errorf("worker wait failed: %w", err)
	}
	if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
		if status.Signaled() {
			return -1, nil
		}
		return status.ExitStatus(), nil
	}
	return -1, nil
}
