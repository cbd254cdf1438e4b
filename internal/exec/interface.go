// Package exec provides an interface for command execution.
package exec

import (
	"context"
)

// Process is a handle to a started external process. The process
// monitor owns the handle for the lifetime of the attempt.
type Process interface {
	// PID returns the OS process id.
	PID() int
	// Wait blocks until the process exits and returns its exit code.
	// The error is non-nil only for failures other than a non-zero exit.
	Wait() (int, error)
	// Kill forcibly terminates the process.
	Kill() error
	// Alive reports whether the process is still running.
	Alive() bool
	// Output returns the combined stdout/stderr captured so far.
	Output() []byte
}

// CommandRunner defines the interface for running external commands.
// This abstraction allows mocking command execution in tests.
type CommandRunner interface {
	// Run executes a command to completion and returns combined
	// stdout/stderr output. The working directory is set to workDir if
	// non-empty.
	Run(ctx context.Context, workDir string, name string, args ...string) (output []byte, err error)

	// RunShell executes a shell command through "sh -c".
	RunShell(ctx context.Context, workDir string, command string) (output []byte, err error)

	// Start launches a command without waiting for it and returns a
	// handle for supervision.
	Start(workDir string, env map[string]string, name string, args ...string) (Process, error)
}
