// Package models defines the shared data model for herd: task
// specifications, workspace records, process records, and orchestration
// results.
package models

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// TaskSpec describes one unit of automation work. It is produced by an
// external analyzer and is immutable once accepted by the coordinator.
type TaskSpec struct {
	// ID is the unique identifier for this task.
	ID string `json:"id" yaml:"id"`
	// Name is the human-readable task name.
	Name string `json:"name" yaml:"name"`
	// TargetFiles lists the repository paths this task intends to modify.
	TargetFiles []string `json:"target_files,omitempty" yaml:"target_files,omitempty"`
	// DependsOn lists task IDs that must complete before this task.
	DependsOn []string `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`
	// InstructionPath points to the prepared instruction artifact handed
	// to the worker process.
	InstructionPath string `json:"instruction_path" yaml:"instruction_path"`
}

// Validate checks that the mandatory fields are present.
func (t TaskSpec) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("task spec: missing id")
	}
	if t.Name == "" {
		return fmt.Errorf("task spec %s: missing name", t.ID)
	}
	if t.InstructionPath == "" {
		return fmt.Errorf("task spec %s: missing instruction_path", t.ID)
	}
	return nil
}

// DependsOnTask returns true if the task declares a dependency on the
// given task id.
func (t TaskSpec) DependsOnTask(id string) bool {
	for _, dep := range t.DependsOn {
		if dep == id {
			return true
		}
	}
	return false
}

// taskSpecFile is the on-disk YAML shape of a task specification file.
// A file may contain a single spec or a list under "tasks".
type taskSpecFile struct {
	Tasks []TaskSpec `yaml:"tasks"`
	Task  TaskSpec   `yaml:",inline"`
}

// LoadTaskSpecs reads task specifications from the given YAML files and
// validates that every spec is complete and ids are unique across files.
func LoadTaskSpecs(paths []string) ([]TaskSpec, error) {
	var specs []TaskSpec
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read task spec %s: %w", path, err)
		}

		var file taskSpecFile
		if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("parse task spec %s: %w", path, err)
		}

		if len(file.Tasks) > 0 {
			specs = append(specs, file.Tasks...)
		} else {
			specs = append(specs, file.Task)
		}
	}

	seen := make(map[string]bool, len(specs))
	for _, s := range specs {
		if err := s.Validate(); err != nil {
			return nil, err
		}
		if seen[s.ID] {
			return nil, fmt.Errorf("duplicate task id %q", s.ID)
		}
		seen[s.ID] = true
	}

	return specs, nil
}

// TaskResult records the terminal disposition of one task. Every task
// submitted to an orchestration run ends with exactly one TaskResult.
type TaskResult struct {
	// TaskID is the ID of the task this result belongs to.
	TaskID string `json:"task_id"`
	// Success indicates whether the worker process exited zero.
	Success bool `json:"success"`
	// Error holds the failure description if the task failed.
	Error string `json:"error,omitempty"`
	// Output is the captured stdout/stderr of the worker, for diagnostics.
	Output string `json:"output,omitempty"`
	// WorkspacePath is the workspace the task executed in, if one was created.
	WorkspacePath string `json:"workspace_path,omitempty"`
	// ProcessID is the supervised process attempt that produced this result.
	ProcessID string `json:"process_id,omitempty"`
	// StartedAt is when dispatch of this task began.
	StartedAt time.Time `json:"started_at"`
	// CompletedAt is when the task reached its terminal disposition.
	CompletedAt time.Time `json:"completed_at"`
}

// Duration returns the wall-clock time the task took.
func (r TaskResult) Duration() time.Duration {
	return r.CompletedAt.Sub(r.StartedAt)
}
