package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ShayCichocki/herd/internal/monitor"
	"github.com/ShayCichocki/herd/internal/state"
	"github.com/ShayCichocki/herd/internal/workspace"
	"github.com/ShayCichocki/herd/pkg/models"
)

// assumedTaskCost is the fixed per-task cost assumed for the
// sequential baseline when estimating parallel speedup.
const assumedTaskCost = 30 * time.Second

// workerCategory labels supervised worker processes in the monitor.
const workerCategory = "agent"

// Config holds coordinator settings for one orchestration run.
type Config struct {
	// MaxParallel is the bounded worker pool size.
	MaxParallel int
	// TaskTimeout bounds each task's execution.
	TaskTimeout time.Duration
	// PollInterval is how often task status is polled.
	PollInterval time.Duration
	// CleanupPolicy selects post-run workspace reclamation.
	CleanupPolicy string
	// CleanupMaxAge bounds the aged cleanup policy.
	CleanupMaxAge time.Duration
	// AutoRestart enables re-launching failed worker processes.
	AutoRestart bool
	// MaxRestarts caps automatic re-launches per process.
	MaxRestarts int
	// Thresholds are the alert thresholds applied to worker processes.
	Thresholds models.AlertThresholds
}

// Coordinator plans and dispatches task executions: it detects
// conflicts, provisions workspaces, fans tasks out to a bounded pool of
// supervised processes, aggregates results, and reclaims workspaces.
type Coordinator struct {
	cfg        Config
	workspaces *workspace.Manager
	monitor    *monitor.Monitor
	launcher   WorkerLauncher

	// store archives completed runs; optional.
	store state.ResultStore
	// signals provides operator cancellation; optional.
	signals *SignalWatcher
	logger  *DebugLogger

	// archived accumulates final process snapshots for audit.
	archived   []models.ProcessRecord
	archivedMu sync.Mutex
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithStore sets the audit archive for completed runs.
func WithStore(s state.ResultStore) Option {
	return func(c *Coordinator) { c.store = s }
}

// WithSignalWatcher sets the operator signal watcher.
func WithSignalWatcher(w *SignalWatcher) Option {
	return func(c *Coordinator) { c.signals = w }
}

// WithLogger sets the debug logger.
func WithLogger(l *DebugLogger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// New creates a Coordinator.
func New(cfg Config, workspaces *workspace.Manager, mon *monitor.Monitor, launcher WorkerLauncher, opts ...Option) *Coordinator {
	if cfg.MaxParallel < 1 {
		cfg.MaxParallel = 4
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}

	c := &Coordinator{
		cfg:        cfg,
		workspaces: workspaces,
		monitor:    mon,
		launcher:   launcher,
		logger:     NopLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	setPackageLogger(c.logger)
	return c
}

// provisioned pairs a task with its workspace or setup failure.
type provisioned struct {
	task models.TaskSpec
	rec  *models.WorkspaceRecord
	err  error
}

// Orchestrate runs the full task set to completion. Every submitted
// task ends with exactly one terminal disposition in the result; a
// single task's setup or execution failure never aborts the run. If
// workspace provisioning fails for the majority of tasks the run
// degrades to the strictly sequential path.
func (c *Coordinator) Orchestrate(ctx context.Context, tasks []models.TaskSpec) (*models.OrchestrationResult, error) {
	if len(tasks) == 0 {
		return nil, fmt.Errorf("orchestrate: empty task set")
	}
	if err := validateUnique(tasks); err != nil {
		return nil, err
	}

	orchID := uuid.New().String()[:8]
	started := time.Now()
	c.logger.Log("[%s] orchestrating %d tasks, max_parallel=%d", orchID, len(tasks), c.cfg.MaxParallel)

	// Operator kill requests cancel the whole run.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if c.signals != nil {
		go func() {
			select {
			case <-c.signals.Kill():
				c.logger.Log("[%s] operator kill signal received", orchID)
				cancel()
			case <-ctx.Done():
			}
		}()
	}

	for _, conflict := range DetectConflicts(tasks) {
		c.logger.Log("[%s] advisory conflict on %s between %v (ordered=%v)",
			orchID, conflict.File, conflict.TaskIDs, conflict.Ordered)
	}

	provisionedTasks := c.provision(ctx, tasks)

	setupFailures := 0
	for _, p := range provisionedTasks {
		if p.err != nil {
			setupFailures++
		}
	}
	if setupFailures > len(tasks)/2 {
		c.logger.Log("[%s] %d/%d workspace provisioning failures, degrading to sequential execution",
			orchID, setupFailures, len(tasks))
		return c.runSequential(ctx, tasks, orchID, started)
	}

	taskResults := c.dispatch(ctx, provisionedTasks)
	result := c.finish(orchID, started, tasks, taskResults, false, "")
	return result, nil
}

// provision creates (or reuses) one workspace per task, concurrently up
// to the pool size. A leftover workspace from a previous attempt is
// reused iff it is present and clean; a dirty one fails the task and is
// preserved for inspection.
func (c *Coordinator) provision(ctx context.Context, tasks []models.TaskSpec) []provisioned {
	out := make([]provisioned, len(tasks))
	sem := make(chan struct{}, c.cfg.MaxParallel)
	var wg sync.WaitGroup

	for i, task := range tasks {
		wg.Add(1)
		go func(i int, task models.TaskSpec) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			if ctx.Err() != nil {
				out[i] = provisioned{task: task, err: fmt.Errorf("canceled before setup")}
				return
			}
			rec, err := c.workspaceFor(task)
			out[i] = provisioned{task: task, rec: rec, err: err}
		}(i, task)
	}
	wg.Wait()
	return out
}

// workspaceFor returns a usable workspace for the task, creating one or
// reusing a clean leftover.
func (c *Coordinator) workspaceFor(task models.TaskSpec) (*models.WorkspaceRecord, error) {
	rec, err := c.workspaces.Create(task.ID, "", "", models.WorkspaceRequirements{})
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, workspace.ErrAlreadyExists) {
		return nil, err
	}

	// Reuse rule: an existing workspace is reused iff present and clean.
	// An errored or vanished leftover is recreated from scratch; a dirty
	// one fails the task and is preserved for inspection.
	existing, getErr := c.workspaces.Get(task.ID)
	if getErr != nil {
		return nil, fmt.Errorf("task %s: reuse check: %w", task.ID, getErr)
	}
	_, statErr := os.Stat(existing.Path)
	if existing.Status == models.WorkspaceError || os.IsNotExist(statErr) {
		if err := c.workspaces.Discard(task.ID); err != nil {
			return nil, fmt.Errorf("task %s: discard unusable workspace: %w", task.ID, err)
		}
		return c.workspaces.Create(task.ID, "", "", models.WorkspaceRequirements{})
	}
	dirty, dirtyErr := c.workspaces.IsDirty(task.ID)
	if dirtyErr != nil {
		return nil, fmt.Errorf("task %s: reuse check: %w", task.ID, dirtyErr)
	}
	if dirty {
		return nil, fmt.Errorf("task %s: existing workspace is dirty, preserved for inspection: %w",
			task.ID, workspace.ErrDirty)
	}
	debugLog("reusing clean workspace %s for task %s", existing.Path, task.ID)
	return existing, nil
}

// dispatch fans the provisioned tasks out to the bounded worker pool
// and collects results in completion order.
func (c *Coordinator) dispatch(ctx context.Context, provisionedTasks []provisioned) []models.TaskResult {
	sem := make(chan struct{}, c.cfg.MaxParallel)
	resultsCh := make(chan models.TaskResult, len(provisionedTasks))
	var wg sync.WaitGroup

	for _, p := range provisionedTasks {
		if p.err != nil {
			now := time.Now()
			resultsCh <- models.TaskResult{
				TaskID:      p.task.ID,
				Success:     false,
				Error:       fmt.Sprintf("workspace setup: %v", p.err),
				StartedAt:   now,
				CompletedAt: now,
			}
			continue
		}

		wg.Add(1)
		go func(p provisioned) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				now := time.Now()
				resultsCh <- models.TaskResult{
					TaskID:        p.task.ID,
					Success:       false,
					Error:         "orchestration canceled before dispatch",
					WorkspacePath: p.rec.Path,
					StartedAt:     now,
					CompletedAt:   now,
				}
				return
			}
			c.waitWhilePaused(ctx)
			resultsCh <- c.executeTask(ctx, p.task, p.rec)
		}(p)
	}

	wg.Wait()
	close(resultsCh)

	var results []models.TaskResult
	for r := range resultsCh {
		results = append(results, r)
	}
	return results
}

// waitWhilePaused blocks new task dispatch while an operator pause
// signal is in effect. Tasks already executing are unaffected.
func (c *Coordinator) waitWhilePaused(ctx context.Context) {
	if c.signals == nil {
		return
	}
	for c.signals.Paused() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(c.cfg.PollInterval):
		}
	}
}

// executeTask runs one task under supervision and blocks until its
// process reaches a terminal state or the run is canceled.
func (c *Coordinator) executeTask(ctx context.Context, task models.TaskSpec, rec *models.WorkspaceRecord) models.TaskResult {
	started := time.Now()
	result := models.TaskResult{
		TaskID:        task.ID,
		WorkspacePath: rec.Path,
		StartedAt:     started,
	}

	if err := c.workspaces.MarkActive(task.ID); err != nil {
		result.Error = fmt.Sprintf("mark workspace active: %v", err)
		result.CompletedAt = time.Now()
		return result
	}
	defer func() {
		if err := c.workspaces.MarkIdle(task.ID); err != nil {
			debugLog("mark workspace idle for task %s: %v", task.ID, err)
		}
	}()

	processID := fmt.Sprintf("%s-%s", task.ID, uuid.New().String()[:8])
	spec := monitor.Spec{
		ProcessID:   processID,
		TaskID:      task.ID,
		Category:    workerCategory,
		Command:     c.launcher.WorkerCommand(task, rec.Path),
		WorkingDir:  rec.Path,
		Thresholds:  c.cfg.Thresholds,
		Timeout:     c.cfg.TaskTimeout,
		AutoRestart: c.cfg.AutoRestart,
		MaxRestarts: c.cfg.MaxRestarts,
	}

	if _, err := c.monitor.Monitor(spec); err != nil {
		result.Error = fmt.Sprintf("dispatch worker: %v", err)
		result.CompletedAt = time.Now()
		return result
	}
	result.ProcessID = processID

	status := c.await(ctx, processID)
	result.CompletedAt = time.Now()

	if status == nil {
		result.Error = "orchestration canceled"
		return result
	}

	c.archivedMu.Lock()
	c.archived = append(c.archived, status.Record)
	c.archivedMu.Unlock()

	result.Output = string(status.Output)
	switch status.Record.State {
	case models.ProcessCompleted:
		result.Success = true
	case models.ProcessFailed:
		if status.Record.ExitCode != nil {
			result.Error = fmt.Sprintf("worker exited with code %d", *status.Record.ExitCode)
		} else {
			result.Error = fmt.Sprintf("worker failed after %s", status.RunningTime.Round(time.Millisecond))
		}
	default:
		result.Error = fmt.Sprintf("worker %s", status.Record.State)
	}
	return result
}

// await polls the process until it reaches a terminal state, then
// unregisters it and returns its final status. Returns nil when the
// run is canceled; the process is stopped in that case too.
func (c *Coordinator) await(ctx context.Context, processID string) *monitor.ProcessStatus {
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	// The monitor enforces the task timeout; this deadline only bounds
	// the coordinator's own wait against a stuck registry.
	deadline := time.Now().Add(c.cfg.TaskTimeout + 10*c.cfg.PollInterval)

	for {
		select {
		case <-ctx.Done():
			status, err := c.monitor.Stop(processID, true)
			if err != nil {
				return nil
			}
			c.archivedMu.Lock()
			c.archived = append(c.archived, status.Record)
			c.archivedMu.Unlock()
			return nil
		case <-ticker.C:
			c.monitor.CheckTimeoutsNow()
			status, err := c.monitor.Get(processID, true, true)
			if err != nil {
				return nil
			}
			if status.Record.State.Terminal() {
				final, err := c.monitor.Stop(processID, true)
				if err != nil {
					return status
				}
				return final
			}
			if c.cfg.TaskTimeout > 0 && time.Now().After(deadline) {
				final, err := c.monitor.Stop(processID, true)
				if err != nil {
					return status
				}
				return final
			}
		}
	}
}

// finish aggregates results, reclaims workspaces per policy, and
// archives the run.
func (c *Coordinator) finish(orchID string, started time.Time, tasks []models.TaskSpec, taskResults []models.TaskResult, sequential bool, errorSummary string) *models.OrchestrationResult {
	completed := time.Now()
	result := &models.OrchestrationResult{
		ID:           orchID,
		TotalTasks:   len(tasks),
		Sequential:   sequential,
		Elapsed:      completed.Sub(started),
		TaskResults:  taskResults,
		ErrorSummary: errorSummary,
		StartedAt:    started,
		CompletedAt:  completed,
	}

	var succeeded []string
	for _, tr := range taskResults {
		if tr.Success {
			result.SuccessfulTasks++
			succeeded = append(succeeded, tr.TaskID)
		} else {
			result.FailedTasks++
		}
	}
	result.SpeedupEstimate = estimateSpeedup(len(tasks), result.Elapsed)

	c.cleanup(orchID, succeeded)
	c.archive(orchID, result)

	c.logger.Log("[%s] done: %d/%d succeeded in %s (speedup %.1fx)",
		orchID, result.SuccessfulTasks, result.TotalTasks, result.Elapsed.Round(time.Millisecond), result.SpeedupEstimate)
	return result
}

// cleanup reclaims workspaces per the configured policy. Failed tasks'
// workspaces are never in the completed set, so they are preserved for
// inspection; dirty workspaces survive regardless.
func (c *Coordinator) cleanup(orchID string, succeeded []string) {
	if c.cfg.CleanupPolicy == "" || c.cfg.CleanupPolicy == workspace.PolicyKeep {
		return
	}
	res, err := c.workspaces.Cleanup(workspace.CleanupRequest{
		Policy:  c.cfg.CleanupPolicy,
		MaxAge:  c.cfg.CleanupMaxAge,
		TaskIDs: succeeded,
	})
	if err != nil {
		c.logger.Log("[%s] workspace cleanup failed: %v", orchID, err)
		return
	}
	c.logger.Log("[%s] cleanup removed %d workspaces, freed %d bytes", orchID, len(res.Removed), res.BytesFreed)
}

// archive persists the run and its final process snapshots for audit.
func (c *Coordinator) archive(orchID string, result *models.OrchestrationResult) {
	if c.store == nil {
		return
	}
	if err := c.store.SaveResult(result); err != nil {
		c.logger.Log("[%s] archive result failed: %v", orchID, err)
	}

	c.archivedMu.Lock()
	records := append([]models.ProcessRecord(nil), c.archived...)
	c.archived = nil
	c.archivedMu.Unlock()

	if len(records) > 0 {
		if err := c.store.ArchiveProcesses(orchID, records); err != nil {
			c.logger.Log("[%s] archive process records failed: %v", orchID, err)
		}
	}
}

// validateUnique rejects task sets with duplicate ids.
func validateUnique(tasks []models.TaskSpec) error {
	seen := make(map[string]bool, len(tasks))
	for _, t := range tasks {
		if t.ID == "" {
			return fmt.Errorf("orchestrate: task with empty id")
		}
		if seen[t.ID] {
			return fmt.Errorf("orchestrate: duplicate task id %q", t.ID)
		}
		seen[t.ID] = true
	}
	return nil
}

// estimateSpeedup compares an assumed fixed-cost sequential baseline to
// the observed wall-clock time, capped at the task count.
func estimateSpeedup(taskCount int, elapsed time.Duration) float64 {
	if taskCount == 0 || elapsed <= 0 {
		return 1
	}
	baseline := time.Duration(taskCount) * assumedTaskCost
	speedup := float64(baseline) / float64(elapsed)
	if speedup > float64(taskCount) {
		speedup = float64(taskCount)
	}
	return speedup
}
