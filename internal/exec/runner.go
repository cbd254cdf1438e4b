package exec

import (
	"bytes"
	"context"
	"fmt"
	"os"
	osexec "os/exec"
	"sync"
	"syscall"
)

// ExecRunner implements CommandRunner using os/exec.
type ExecRunner struct{}

// NewRunner creates a new ExecRunner.
func NewRunner() *ExecRunner {
	return &ExecRunner{}
}

// Run executes a command and returns combined stdout/stderr output.
func (r *ExecRunner) Run(ctx context.Context, workDir string, name string, args ...string) ([]byte, error) {
	cmd := osexec.CommandContext(ctx, name, args...)
	if workDir != "" {
		cmd.Dir = workDir
	}
	return cmd.CombinedOutput()
}

// RunShell executes a shell command through "sh -c".
func (r *ExecRunner) RunShell(ctx context.Context, workDir string, command string) ([]byte, error) {
	return r.Run(ctx, workDir, "sh", "-c", command)
}

// Start launches a command without waiting and returns a handle.
func (r *ExecRunner) Start(workDir string, env map[string]string, name string, args ...string) (Process, error) {
	cmd := osexec.Command(name, args...)
	if workDir != "" {
		cmd.Dir = workDir
	}
	if len(env) > 0 {
		cmd.Env = os.Environ()
		for k, v := range env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
	}

	p := &execProcess{cmd: cmd}
	cmd.Stdout = &p.out
	cmd.Stderr = &p.out

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", name, err)
	}
	return p, nil
}

// syncBuffer is a mutex-guarded buffer safe for concurrent writes
// from the command's output pipes and reads from Output.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.buf.Bytes()...)
}

// execProcess wraps a started *exec.Cmd.
type execProcess struct {
	cmd *osexec.Cmd
	out syncBuffer

	mu     sync.Mutex
	waited bool
	exit   int
	err    error
}

// PID returns the OS process id.
func (p *execProcess) PID() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// Wait blocks until the process exits. A non-zero exit is reported
// through the exit code, not the error.
func (p *execProcess) Wait() (int, error) {
	err := p.cmd.Wait()

	p.mu.Lock()
	defer p.mu.Unlock()
	p.waited = true

	if err == nil {
		p.exit = 0
		return 0, nil
	}
	if exitErr, ok := err.(*osexec.ExitError); ok {
		p.exit = exitErr.ExitCode()
		return p.exit, nil
	}
	p.err = err
	return -1, fmt.Errorf("wait: %w", err)
}

// Kill forcibly terminates the process.
func (p *execProcess) Kill() error {
	if p.cmd.Process == nil {
		return nil
	}
	if err := p.cmd.Process.Kill(); err != nil {
		// Already exited is not a failure.
		if err == os.ErrProcessDone {
			return nil
		}
		return fmt.Errorf("kill pid %d: %w", p.cmd.Process.Pid, err)
	}
	return nil
}

// Alive reports whether the process is still running.
func (p *execProcess) Alive() bool {
	p.mu.Lock()
	waited := p.waited
	p.mu.Unlock()
	if waited || p.cmd.Process == nil {
		return false
	}
	// Signal 0 probes for existence without delivering a signal.
	return p.cmd.Process.Signal(syscall.Signal(0)) == nil
}

// Output returns the combined output captured so far.
func (p *execProcess) Output() []byte {
	return p.out.Bytes()
}

// Verify implementations at compile time.
var (
	_ CommandRunner = (*ExecRunner)(nil)
	_ Process       = (*execProcess)(nil)
)
