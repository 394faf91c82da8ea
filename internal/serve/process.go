package serve

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
)

// Spec describes a process to spawn.
type Spec struct {
	Path string
	Args []string
	Dir  string
	Env  []string
}

// Process is a running child process.
type Process interface {
	Pid() int
	Stdout() io.Reader
	Stderr() io.Reader

	// Wait blocks until the process exits. A normal exit, zero or not, is
	// reported through code with a nil error.
	Wait() (code int, err error)
}

// Spawner starts processes.
type Spawner interface {
	Spawn(ctx context.Context, spec Spec) (Process, error)
}

// Terminator stops a process tree. Terminate asks politely; Kill does not.
type Terminator interface {
	Terminate(p Process) error
	Kill(p Process) error
}

// Opener opens a URL in the user's browser.
type Opener interface {
	Open(ctx context.Context, url string) error
}

// ExecSpawner spawns processes with os/exec.
type ExecSpawner struct{}

// Spawn starts spec in its own process group. The process is not tied to ctx;
// it lives until it exits or is terminated.
func (ExecSpawner) Spawn(_ context.Context, spec Spec) (Process, error) {
	cmd := exec.Command(spec.Path, spec.Args...) //nolint:gosec // command comes from resolution
	cmd.Dir = spec.Dir
	cmd.Env = append(os.Environ(), spec.Env...)
	cmd.SysProcAttr = sysProcAttr()

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", spec.Path, err)
	}

	return &execProcess{cmd: cmd, stdout: stdout, stderr: stderr}, nil
}

type execProcess struct {
	cmd    *exec.Cmd
	stdout io.Reader
	stderr io.Reader
}

func (p *execProcess) Pid() int          { return p.cmd.Process.Pid }
func (p *execProcess) Stdout() io.Reader { return p.stdout }
func (p *execProcess) Stderr() io.Reader { return p.stderr }

func (p *execProcess) Wait() (int, error) {
	err := p.cmd.Wait()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	if err != nil {
		return -1, err
	}
	return 0, nil
}
