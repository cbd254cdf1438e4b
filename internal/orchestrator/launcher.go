package orchestrator

import (
	"github.com/ShayCichocki/herd/pkg/models"
)

// WorkerLauncher builds the command line that executes one task inside
// its workspace. The coordinator depends on this capability rather than
// a concrete binary so tests can substitute a fake worker.
type WorkerLauncher interface {
	// WorkerCommand returns the full command line, program first, for
	// the given task rooted at the workspace path.
	WorkerCommand(task models.TaskSpec, workspacePath string) []string
}

// CommandLauncher launches a configured worker binary with the task's
// instruction artifact as the final argument.
type CommandLauncher struct {
	// Binary is the worker program.
	Binary string
	// Args are placed between the binary and the instruction path.
	Args []string
}

// WorkerCommand builds the worker command line for a task.
func (l CommandLauncher) WorkerCommand(task models.TaskSpec, workspacePath string) []string {
	cmd := make([]string, 0, len(l.Args)+2)
	cmd = append(cmd, l.Binary)
	cmd = append(cmd, l.Args...)
	cmd = append(cmd, task.InstructionPath)
	return cmd
}

// Verify CommandLauncher implements WorkerLauncher at compile time.
var _ WorkerLauncher = CommandLauncher{}
