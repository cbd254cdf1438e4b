package workspace

import (
	"fmt"
	"time"

	"github.com/ShayCichocki/herd/pkg/models"
)

// Cleanup policies.
const (
	// PolicyKeep reclaims nothing.
	PolicyKeep = "keep"
	// PolicyCompleted reclaims workspaces for the given completed tasks.
	PolicyCompleted = "completed"
	// PolicyAged reclaims idle/errored workspaces older than the max age.
	PolicyAged = "aged"
)

// CleanupRequest selects which workspaces are eligible for reclamation.
type CleanupRequest struct {
	// Policy is one of PolicyKeep, PolicyCompleted, PolicyAged.
	Policy string
	// MaxAge bounds eligibility by workspace age (aged policy).
	MaxAge time.Duration
	// TaskIDs restricts the completed policy to these task ids.
	TaskIDs []string
	// DryRun reports what would happen without mutating anything.
	DryRun bool
}

// CleanupResult reports the outcome of a cleanup pass.
type CleanupResult struct {
	// Removed lists task ids whose workspaces were (or would be) reclaimed.
	Removed []string `json:"removed"`
	// Preserved lists task ids that were eligible but kept, with reasons.
	Preserved map[string]string `json:"preserved,omitempty"`
	// BytesFreed is the disk space reclaimed (or reclaimable in dry-run).
	BytesFreed int64 `json:"bytes_freed"`
	// DryRun mirrors the request flag.
	DryRun bool `json:"dry_run"`
}

// Cleanup reclaims workspaces matching the request. A workspace with
// uncommitted changes is never removed, regardless of age or policy.
// Only idle and errored workspaces are eligible; active ones are
// skipped. In dry-run mode nothing is mutated.
func (m *Manager) Cleanup(req CleanupRequest) (*CleanupResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := &CleanupResult{
		Preserved: make(map[string]string),
		DryRun:    req.DryRun,
	}
	if req.Policy == PolicyKeep || req.Policy == "" {
		return result, nil
	}

	allowed := make(map[string]bool, len(req.TaskIDs))
	for _, id := range req.TaskIDs {
		allowed[id] = true
	}

	now := time.Now()
	for taskID, rec := range m.records {
		if !rec.Status.Live() {
			continue
		}
		if !rec.Status.Reclaimable() {
			result.Preserved[taskID] = fmt.Sprintf("status %s not reclaimable", rec.Status)
			continue
		}

		switch req.Policy {
		case PolicyCompleted:
			if !allowed[taskID] {
				result.Preserved[taskID] = "task not in completed set"
				continue
			}
			if req.MaxAge > 0 && rec.Age(now) < req.MaxAge {
				result.Preserved[taskID] = "younger than max age"
				continue
			}
		case PolicyAged:
			if rec.Age(now) < req.MaxAge {
				result.Preserved[taskID] = "younger than max age"
				continue
			}
		default:
			return nil, fmt.Errorf("unknown cleanup policy %q", req.Policy)
		}

		// Hard invariant: dirty workspaces survive every policy.
		dirty, err := m.git.HasChangesIn(rec.Path)
		if err != nil {
			result.Preserved[taskID] = fmt.Sprintf("cleanliness check failed: %v", err)
			continue
		}
		if dirty {
			result.Preserved[taskID] = "uncommitted changes"
			continue
		}

		if req.DryRun {
			result.Removed = append(result.Removed, taskID)
			result.BytesFreed += rec.DiskUsageBytes
			continue
		}

		if err := m.reclaimLocked(rec); err != nil {
			result.Preserved[taskID] = fmt.Sprintf("reclaim failed: %v", err)
			continue
		}
		result.Removed = append(result.Removed, taskID)
		result.BytesFreed += rec.DiskUsageBytes
		delete(m.records, taskID)
	}

	if !req.DryRun {
		m.persistLocked()
	}
	return result, nil
}

// reclaimLocked removes one workspace's checkout and branch. The
// worktree removal is not forced, so git refuses a dirty tree as a
// second line of defense behind the cleanliness check above.
func (m *Manager) reclaimLocked(rec *models.WorkspaceRecord) error {
	rec.Status = models.WorkspaceCleaning
	m.persistLocked()

	if err := m.git.WorktreeRemoveOptionalForce(rec.Path, false); err != nil {
		rec.Status = models.WorkspaceError
		return err
	}
	_ = m.git.DeleteBranch(rec.Branch)
	rec.Status = models.WorkspaceRemoved
	return nil
}
