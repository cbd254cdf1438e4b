package models

import "time"

// WorkspaceStatus represents the lifecycle state of a workspace.
type WorkspaceStatus string

const (
	// WorkspaceCreating indicates the checkout is being provisioned.
	WorkspaceCreating WorkspaceStatus = "creating"
	// WorkspaceReady indicates provisioning finished successfully.
	WorkspaceReady WorkspaceStatus = "ready"
	// WorkspaceActive indicates a process is currently running against it.
	WorkspaceActive WorkspaceStatus = "active"
	// WorkspaceIdle indicates the workspace exists but is not in use.
	WorkspaceIdle WorkspaceStatus = "idle"
	// WorkspaceCleaning indicates the workspace is being reclaimed.
	WorkspaceCleaning WorkspaceStatus = "cleaning"
	// WorkspaceRemoved indicates the checkout has been reclaimed.
	WorkspaceRemoved WorkspaceStatus = "removed"
	// WorkspaceError indicates an unrecoverable setup failure.
	WorkspaceError WorkspaceStatus = "error"
)

// Valid returns true if the status is a known value.
func (s WorkspaceStatus) Valid() bool {
	switch s {
	case WorkspaceCreating, WorkspaceReady, WorkspaceActive, WorkspaceIdle,
		WorkspaceCleaning, WorkspaceRemoved, WorkspaceError:
		return true
	default:
		return false
	}
}

// Live returns true if the workspace still occupies a checkout on disk.
func (s WorkspaceStatus) Live() bool {
	return s != WorkspaceRemoved
}

// Reclaimable returns true if cleanup policy may target this status.
// Only idle and errored workspaces are eligible; active ones never are.
func (s WorkspaceStatus) Reclaimable() bool {
	return s == WorkspaceIdle || s == WorkspaceError
}

// WorkspaceRequirements declares the environment bootstrap a workspace
// needs before it is considered ready.
type WorkspaceRequirements struct {
	// SetupCommands are shell commands run inside the new checkout
	// (dependency installation and the like).
	SetupCommands []string `json:"setup_commands,omitempty" yaml:"setup_commands,omitempty"`
	// Env is extra environment variables for the setup commands.
	Env map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
}

// WorkspaceRecord is the registry entry for one isolated checkout.
// It is owned exclusively by the workspace manager; other components
// read it and request transitions through the manager's API.
type WorkspaceRecord struct {
	// TaskID is the task this workspace belongs to (1:1).
	TaskID string `json:"task_id"`
	// Path is the absolute filesystem path of the checkout.
	Path string `json:"path"`
	// Branch is the branch the checkout is on.
	Branch string `json:"branch"`
	// BaseBranch is the branch the workspace was created from.
	BaseBranch string `json:"base_branch"`
	// BaseRevision is the resolved revision captured at creation.
	// Immutable thereafter.
	BaseRevision string `json:"base_revision"`
	// Status is the current lifecycle state.
	Status WorkspaceStatus `json:"status"`
	// CreatedAt is when the workspace was created.
	CreatedAt time.Time `json:"created_at"`
	// LastAccessedAt is updated whenever the workspace is used or listed.
	LastAccessedAt time.Time `json:"last_accessed_at"`
	// DiskUsageBytes is the most recent disk usage estimate.
	DiskUsageBytes int64 `json:"disk_usage_bytes"`
	// EnvReady indicates the declared bootstrap completed successfully.
	EnvReady bool `json:"env_ready"`
}

// Age returns how long ago the workspace was created.
func (w WorkspaceRecord) Age(now time.Time) time.Duration {
	return now.Sub(w.CreatedAt)
}
