// Package workspace manages isolated git worktree checkouts, one per
// task. The manager owns creation, environment bootstrap, health
// inspection, and reclamation; all other components go through its API.
package workspace

import (
	"context"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ShayCichocki/herd/internal/config"
	"github.com/ShayCichocki/herd/internal/exec"
	"github.com/ShayCichocki/herd/internal/git"
	"github.com/ShayCichocki/herd/pkg/models"
)

// setupTimeout bounds each declared bootstrap command.
const setupTimeout = 10 * time.Minute

// Manager handles workspace lifecycle for task isolation. All mutations
// of the registry happen under the manager's lock and are persisted to
// the registry file after every mutating operation.
type Manager struct {
	baseDir       string
	repoPath      string
	maxWorkspaces int
	diskSoftLimit int64 // bytes
	baseBranch    string

	git    git.Runner
	runner exec.CommandRunner

	registryPath string
	records      map[string]*models.WorkspaceRecord
	mu           sync.Mutex

	// warnf reports non-fatal problems (registry persistence failures).
	warnf func(format string, args ...interface{})
}

// NewManager creates a Manager rooted at the given repository.
// If cfg.BaseDir is empty, workspaces live under ~/.cache/herd/workspaces.
// The registry file is loaded and reconciled against on-disk reality.
func NewManager(cfg config.WorkspaceConfig, repoPath string, gitRunner git.Runner, cmdRunner exec.CommandRunner) (*Manager, error) {
	baseDir := cfg.BaseDir
	if baseDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("get home directory: %w", err)
		}
		baseDir = filepath.Join(home, ".cache", "herd", "workspaces")
	}

	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("create workspace base directory: %w", err)
	}

	m := &Manager{
		baseDir:       baseDir,
		repoPath:      repoPath,
		maxWorkspaces: cfg.MaxWorkspaces,
		diskSoftLimit: cfg.DiskSoftLimitMB * 1024 * 1024,
		baseBranch:    cfg.BaseBranch,
		git:           gitRunner,
		runner:        cmdRunner,
		registryPath:  filepath.Join(baseDir, "registry.json"),
		warnf:         log.Printf,
	}

	records, err := loadRegistry(m.registryPath)
	if err != nil {
		return nil, fmt.Errorf("load workspace registry: %w", err)
	}
	m.records = records
	m.reconcileLocked()

	return m, nil
}

// reconcileLocked drops registry entries whose checkout no longer
// exists on disk. Called at startup with a freshly loaded registry.
func (m *Manager) reconcileLocked() {
	changed := false
	for taskID, rec := range m.records {
		if _, err := os.Stat(rec.Path); os.IsNotExist(err) {
			delete(m.records, taskID)
			changed = true
		}
	}
	if changed {
		m.persistLocked()
	}
}

// BaseDir returns the directory workspaces are created under.
func (m *Manager) BaseDir() string { return m.baseDir }

// RepoPath returns the path to the main git repository.
func (m *Manager) RepoPath() string { return m.repoPath }

// Create provisions an isolated checkout for the task on a new branch
// from the resolved base revision, runs the declared bootstrap, and
// registers the workspace. Fails with ErrAlreadyExists if a live record
// exists for the task id, and with ErrCapacityExceeded when the live
// workspace count has reached the configured maximum. The slot is
// reserved under the lock with a CREATING record; worktree creation and
// bootstrap run outside it, so creations for distinct task ids proceed
// concurrently up to the capacity limit.
func (m *Manager) Create(taskID, branch, baseBranch string, req models.WorkspaceRequirements) (*models.WorkspaceRecord, error) {
	if taskID == "" {
		return nil, fmt.Errorf("create workspace: empty task id")
	}
	if branch == "" {
		branch = "task-" + taskID
	}
	if baseBranch == "" {
		baseBranch = m.baseBranch
	}
	path := filepath.Join(m.baseDir, strings.ReplaceAll(branch, "/", "-"))

	m.mu.Lock()
	if rec, ok := m.records[taskID]; ok && rec.Status.Live() {
		m.mu.Unlock()
		return nil, fmt.Errorf("task %s: %w", taskID, ErrAlreadyExists)
	}
	if n := m.liveCountLocked(); n >= m.maxWorkspaces {
		m.mu.Unlock()
		return nil, fmt.Errorf("%d live workspaces: %w", n, ErrCapacityExceeded)
	}

	now := time.Now()
	rec := &models.WorkspaceRecord{
		TaskID:         taskID,
		Path:           path,
		Branch:         branch,
		BaseBranch:     baseBranch,
		Status:         models.WorkspaceCreating,
		CreatedAt:      now,
		LastAccessedAt: now,
	}
	m.records[taskID] = rec
	m.persistLocked()
	m.mu.Unlock()

	fail := func(err error) (*models.WorkspaceRecord, error) {
		m.mu.Lock()
		rec.Status = models.WorkspaceError
		m.persistLocked()
		m.mu.Unlock()
		return nil, err
	}

	rev, err := m.git.RevParse(baseBranch)
	if err != nil {
		return fail(fmt.Errorf("resolve base branch %s: %w", baseBranch, err))
	}
	if err := m.git.WorktreeAddNewBranchFrom(path, branch, rev); err != nil {
		return fail(fmt.Errorf("create worktree for task %s: %w", taskID, err))
	}
	if err := m.bootstrap(path, req); err != nil {
		return fail(fmt.Errorf("bootstrap workspace for task %s: %w", taskID, err))
	}
	usage := dirSize(path)

	m.mu.Lock()
	rec.BaseRevision = rev
	rec.EnvReady = true
	rec.DiskUsageBytes = usage
	rec.Status = models.WorkspaceReady
	m.persistLocked()
	out := *rec
	m.mu.Unlock()
	return &out, nil
}

// bootstrap runs the declared setup commands inside the new checkout.
func (m *Manager) bootstrap(path string, req models.WorkspaceRequirements) error {
	for _, command := range req.SetupCommands {
		ctx, cancel := context.WithTimeout(context.Background(), setupTimeout)
		out, err := m.runner.RunShell(ctx, path, command)
		cancel()
		if err != nil {
			return fmt.Errorf("setup command %q: %w: %s", command, err, string(out))
		}
	}
	return nil
}

// Get returns a copy of the live record for the task id.
func (m *Manager) Get(taskID string) (*models.WorkspaceRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[taskID]
	if !ok || !rec.Status.Live() {
		return nil, fmt.Errorf("task %s: %w", taskID, ErrNotFound)
	}
	out := *rec
	return &out, nil
}

// List returns a snapshot of all live workspaces, refreshing on-disk
// presence and disk usage as it goes.
func (m *Manager) List() ([]models.WorkspaceRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	changed := false
	var out []models.WorkspaceRecord
	for _, rec := range m.records {
		if !rec.Status.Live() {
			continue
		}
		if _, err := os.Stat(rec.Path); os.IsNotExist(err) {
			if rec.Status != models.WorkspaceError {
				rec.Status = models.WorkspaceError
				changed = true
			}
		} else {
			usage := dirSize(rec.Path)
			if usage != rec.DiskUsageBytes {
				rec.DiskUsageBytes = usage
				changed = true
			}
		}
		out = append(out, *rec)
	}
	if changed {
		m.persistLocked()
	}
	return out, nil
}

// MarkActive transitions the task's workspace to active. Called by the
// coordinator when a process starts running against it.
func (m *Manager) MarkActive(taskID string) error {
	return m.transition(taskID, models.WorkspaceActive)
}

// MarkIdle transitions the task's workspace to idle once no process is
// using it.
func (m *Manager) MarkIdle(taskID string) error {
	return m.transition(taskID, models.WorkspaceIdle)
}

func (m *Manager) transition(taskID string, status models.WorkspaceStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[taskID]
	if !ok || !rec.Status.Live() {
		return fmt.Errorf("task %s: %w", taskID, ErrNotFound)
	}
	rec.Status = status
	rec.LastAccessedAt = time.Now()
	m.persistLocked()
	return nil
}

// IsDirty reports whether the task's workspace has uncommitted changes.
func (m *Manager) IsDirty(taskID string) (bool, error) {
	rec, err := m.Get(taskID)
	if err != nil {
		return false, err
	}
	return m.git.HasChangesIn(rec.Path)
}

// Remove reclaims one workspace on operator request. It refuses to
// remove a dirty workspace unless force is explicitly set.
func (m *Manager) Remove(taskID string, force bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[taskID]
	if !ok || !rec.Status.Live() {
		return fmt.Errorf("task %s: %w", taskID, ErrNotFound)
	}

	if !force {
		dirty, err := m.git.HasChangesIn(rec.Path)
		if err == nil && dirty {
			return fmt.Errorf("task %s: %w", taskID, ErrDirty)
		}
	}

	rec.Status = models.WorkspaceCleaning
	m.persistLocked()

	if err := m.git.WorktreeRemoveOptionalForce(rec.Path, force); err != nil {
		rec.Status = models.WorkspaceError
		m.persistLocked()
		return fmt.Errorf("remove worktree for task %s: %w", taskID, err)
	}
	// Branch removal is best-effort; the checkout is already gone.
	_ = m.git.DeleteBranch(rec.Branch)

	delete(m.records, taskID)
	m.persistLocked()
	return nil
}

// Discard drops the task's registry record after a best-effort removal
// of whatever is left of its checkout. Unlike Remove it never fails on
// a vanished or broken worktree; it exists so an unusable leftover can
// be replaced by a fresh Create.
func (m *Manager) Discard(taskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[taskID]
	if !ok {
		return fmt.Errorf("task %s: %w", taskID, ErrNotFound)
	}

	if _, err := os.Stat(rec.Path); err == nil {
		if err := m.git.WorktreeRemoveOptionalForce(rec.Path, true); err != nil {
			_ = os.RemoveAll(rec.Path)
		}
	}
	_ = m.git.DeleteBranch(rec.Branch)
	_ = m.git.WorktreePruneExpireNow()

	delete(m.records, taskID)
	m.persistLocked()
	return nil
}

// liveCountLocked counts records still occupying a checkout.
func (m *Manager) liveCountLocked() int {
	n := 0
	for _, rec := range m.records {
		if rec.Status.Live() {
			n++
		}
	}
	return n
}

// RecoverOrphans removes directories under the base dir that neither
// the registry nor git knows about. Called at startup to recover from
// crashes.
func (m *Manager) RecoverOrphans() ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.git.WorktreePruneExpireNow(); err != nil {
		return nil, fmt.Errorf("prune worktrees: %w", err)
	}

	output, err := m.git.WorktreeListPorcelain()
	if err != nil {
		return nil, fmt.Errorf("list worktrees: %w", err)
	}
	knownToGit := make(map[string]bool)
	for _, line := range strings.Split(output, "\n") {
		if strings.HasPrefix(line, "worktree ") {
			knownToGit[strings.TrimPrefix(line, "worktree ")] = true
		}
	}

	knownToRegistry := make(map[string]bool)
	for _, rec := range m.records {
		knownToRegistry[rec.Path] = true
	}

	entries, err := os.ReadDir(m.baseDir)
	if err != nil {
		return nil, fmt.Errorf("read workspace base directory: %w", err)
	}

	var recovered []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(m.baseDir, entry.Name())
		if knownToRegistry[path] || knownToGit[path] {
			continue
		}

		_ = m.git.WorktreeUnlock(path) // may not be locked
		if err := m.git.WorktreeRemoveOptionalForce(path, true); err != nil {
			if err := os.RemoveAll(path); err != nil {
				continue
			}
		}
		recovered = append(recovered, path)
	}

	_ = m.git.WorktreePruneExpireNow()
	return recovered, nil
}

// dirSize estimates the disk usage of a directory tree.
func dirSize(path string) int64 {
	var size int64
	_ = filepath.WalkDir(path, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if info, err := d.Info(); err == nil && !d.IsDir() {
			size += info.Size()
		}
		return nil
	})
	return size
}
