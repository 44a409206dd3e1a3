package ensemble

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
)

// LaunchSpec describes one child process.
type LaunchSpec struct {
	Args    []string
	Env     []string // added to the orchestrator's environment
	Dir     string   // working directory ("" for the orchestrator's)
	LogPath string   // stdout and stderr are appended here
}

// Process is a running child.
type Process interface {
	PID() int
	// Exited reports the exit code without blocking.
	Exited() (code int, done bool)
	Terminate() error
	Kill() error
}

// Launcher starts children.
type Launcher interface {
	Start(spec LaunchSpec) (Process, error)
}

// ExecLauncher starts real OS processes.
type ExecLauncher struct{}

// Start launches spec with its output appended to spec.LogPath.
func (ExecLauncher) Start(spec LaunchSpec) (Process, error) {
	if len(spec.Args) == 0 {
		return nil, fmt.Errorf("empty command")
	}
	logFile, err := os.OpenFile(spec.LogPath, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening run log: %w", err)
	}
	// not CommandContext: children must outlive a cancelled context until
	// the shutdown sequence has signalled them
	cmd := exec.Command(spec.Args[0], spec.Args[1:]...)
	cmd.Dir = spec.Dir
	cmd.Env = append(os.Environ(), spec.Env...)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	if err := cmd.Start(); err != nil {
		logFile.Close()
		return nil, fmt.Errorf("starting %s: %w", spec.Args[0], err)
	}

	p := &execProcess{cmd: cmd, done: make(chan struct{})}
	go func() {
		err := cmd.Wait()
		logFile.Close()
		p.mu.Lock()
		p.code = exitCode(cmd, err)
		p.mu.Unlock()
		close(p.done)
	}()
	return p, nil
}

type execProcess struct {
	cmd  *exec.Cmd
	done chan struct{}
	mu   sync.Mutex
	code int
}

func (p *execProcess) PID() int { return p.cmd.Process.Pid }

func (p *execProcess) Exited() (int, bool) {
	select {
	case <-p.done:
		p.mu.Lock()
		defer p.mu.Unlock()
		return p.code, true
	default:
		return 0, false
	}
}

func (p *execProcess) Terminate() error {
	return ignoreFinished(p.cmd.Process.Signal(syscall.SIGTERM))
}

func (p *execProcess) Kill() error {
	return ignoreFinished(p.cmd.Process.Kill())
}

func ignoreFinished(err error) error {
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}

func exitCode(cmd *exec.Cmd, err error) int {
	if err == nil {
		return 0
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		if ws, ok := ee.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			return 128 + int(ws.Signal())
		}
		return ee.ExitCode()
	}
	if cmd.ProcessState != nil {
		return cmd.ProcessState.ExitCode()
	}
	return -1
}

// SetupFunc creates the initial setup when it is missing.
type SetupFunc func(ctx context.Context) error

// SetupStore reports whether the initial setup exists.
type SetupStore interface {
	Exists() (bool, error)
}
