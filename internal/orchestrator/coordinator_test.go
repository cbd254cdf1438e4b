package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ShayCichocki/herd/internal/config"
	"github.com/ShayCichocki/herd/internal/exec"
	"github.com/ShayCichocki/herd/internal/monitor"
	"github.com/ShayCichocki/herd/internal/workspace"
	"github.com/ShayCichocki/herd/pkg/models"
)

// fakeGit backs the workspace manager with real directories so on-disk
// checks behave normally.
type fakeGit struct {
	mu          sync.Mutex
	addFailures int // fail this many worktree adds first
	addCalls    int
	dirty       map[string]bool
}

func newFakeGit() *fakeGit {
	return &fakeGit{dirty: make(map[string]bool)}
}

func (g *fakeGit) CurrentBranch() (string, error) { return "main", nil }

func (g *fakeGit) BranchExists(string) (bool, error) { return false, nil }

func (g *fakeGit) DeleteBranch(string) error { return nil }

func (g *fakeGit) RevParse(string) (string, error) { return "abc123def", nil }

func (g *fakeGit) Status() (string, error) { return "", nil }

func (g *fakeGit) HasChanges() (bool, error) { return false, nil }

func (g *fakeGit) StatusIn(dir string) (string, error) { return "", nil }

func (g *fakeGit) WorktreeUnlock(string) error { return nil }

func (g *fakeGit) WorktreeListPorcelain() (string, error) { return "", nil }

func (g *fakeGit) WorktreePruneExpireNow() error { return nil }

func (g *fakeGit) Run(...string) (string, error) { return "", nil }

func (g *fakeGit) HasChangesIn(dir string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.dirty[dir], nil
}

func (g *fakeGit) WorktreeAddNewBranchFrom(path, branch, startPoint string) error {
	g.mu.Lock()
	g.addCalls++
	fail := g.addCalls <= g.addFailures
	g.mu.Unlock()
	if fail {
		return fmt.Errorf("fatal: could not create work tree dir")
	}
	return os.MkdirAll(path, 0755)
}

func (g *fakeGit) WorktreeRemoveOptionalForce(path string, force bool) error {
	g.mu.Lock()
	dirty := g.dirty[path]
	g.mu.Unlock()
	if dirty && !force {
		return fmt.Errorf("fatal: %s contains modified or untracked files", path)
	}
	return os.RemoveAll(path)
}

// workerProc is a fake exec.Process whose exit code was decided at
// launch.
type workerProc struct {
	pid  int
	code int

	mu    sync.Mutex
	alive bool

	exitCh   chan int
	exitOnce sync.Once
}

func (p *workerProc) PID() int { return p.pid }

func (p *workerProc) Wait() (int, error) {
	code := <-p.exitCh
	p.mu.Lock()
	p.alive = false
	p.mu.Unlock()
	return code, nil
}

func (p *workerProc) Kill() error {
	p.exit(137)
	return nil
}

func (p *workerProc) Alive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.alive
}

func (p *workerProc) Output() []byte { return []byte("worker log for exit " + fmt.Sprint(p.code)) }

func (p *workerProc) exit(code int) {
	p.exitOnce.Do(func() { p.exitCh <- code })
}

// workerRunner serves both workspace bootstrap (RunShell) and the
// monitor's process launches. Workers whose task id starts with "bad"
// exit non-zero.
type workerRunner struct {
	mu      sync.Mutex
	started int
	active  int
	maxSeen int
}

func (r *workerRunner) Run(ctx context.Context, workDir, name string, args ...string) ([]byte, error) {
	return nil, nil
}

func (r *workerRunner) RunShell(ctx context.Context, workDir, command string) ([]byte, error) {
	return nil, nil
}

func (r *workerRunner) Start(workDir string, env map[string]string, name string, args ...string) (exec.Process, error) {
	r.mu.Lock()
	r.started++
	r.active++
	if r.active > r.maxSeen {
		r.maxSeen = r.active
	}
	pid := 1000 + r.started
	r.mu.Unlock()

	code := 0
	if len(args) > 0 && strings.HasPrefix(args[0], "bad") {
		code = 1
	}

	p := &workerProc{pid: pid, code: code, alive: true, exitCh: make(chan int, 1)}
	go func() {
		time.Sleep(20 * time.Millisecond)
		r.mu.Lock()
		r.active--
		r.mu.Unlock()
		p.exit(code)
	}()
	return p, nil
}

func (r *workerRunner) maxConcurrent() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.maxSeen
}

// nopSampler never produces a sample; these tests do not exercise
// resource metrics.
type nopSampler struct{}

func (nopSampler) Sample(int) (*models.ResourceUsage, error) {
	return nil, errors.New("no sample")
}

// testLauncher hands the task id to the fake worker so it can decide
// the exit code.
type testLauncher struct{}

func (testLauncher) WorkerCommand(task models.TaskSpec, workspacePath string) []string {
	return []string{"worker", task.ID}
}

type testHarness struct {
	git        *fakeGit
	runner     *workerRunner
	workspaces *workspace.Manager
	monitor    *monitor.Monitor
	coord      *Coordinator
}

func newHarness(t *testing.T, g *fakeGit, cfg Config) *testHarness {
	t.Helper()

	runner := &workerRunner{}
	wsCfg := config.WorkspaceConfig{
		BaseDir:         t.TempDir(),
		MaxWorkspaces:   16,
		DiskSoftLimitMB: 64,
		BaseBranch:      "main",
	}
	manager, err := workspace.NewManager(wsCfg, "/repo", g, runner)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	mon := monitor.New(config.MonitorConfig{
		SampleInterval:   time.Hour,
		SnapshotInterval: time.Hour,
	}, runner, nopSampler{})
	t.Cleanup(mon.Shutdown)

	if cfg.TaskTimeout == 0 {
		cfg.TaskTimeout = 5 * time.Second
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 10 * time.Millisecond
	}

	return &testHarness{
		git:        g,
		runner:     runner,
		workspaces: manager,
		monitor:    mon,
		coord:      New(cfg, manager, mon, testLauncher{}),
	}
}

func taskSet(ids ...string) []models.TaskSpec {
	tasks := make([]models.TaskSpec, len(ids))
	for i, id := range ids {
		tasks[i] = models.TaskSpec{ID: id, Name: id, InstructionPath: id + ".md"}
	}
	return tasks
}

func TestOrchestrateRunsAllTasks(t *testing.T) {
	h := newHarness(t, newFakeGit(), Config{MaxParallel: 2})

	result, err := h.coord.Orchestrate(context.Background(), taskSet("t1", "t2", "t3", "t4", "t5"))
	if err != nil {
		t.Fatalf("Orchestrate: %v", err)
	}

	if result.TotalTasks != 5 || result.SuccessfulTasks != 5 || result.FailedTasks != 0 {
		t.Errorf("counts = %d/%d/%d, want 5/5/0",
			result.TotalTasks, result.SuccessfulTasks, result.FailedTasks)
	}
	if result.Sequential {
		t.Error("Sequential = true, want false")
	}
	if !result.AllSucceeded() {
		t.Error("AllSucceeded = false")
	}

	// Every submitted task gets exactly one terminal disposition.
	seen := make(map[string]int)
	for _, tr := range result.TaskResults {
		seen[tr.TaskID]++
	}
	for _, id := range []string{"t1", "t2", "t3", "t4", "t5"} {
		if seen[id] != 1 {
			t.Errorf("task %s has %d results, want 1", id, seen[id])
		}
	}

	if got := h.runner.maxConcurrent(); got > 2 {
		t.Errorf("max concurrent workers = %d, want <= 2", got)
	}
	if result.SpeedupEstimate != 5 {
		t.Errorf("SpeedupEstimate = %.1f, want capped at 5", result.SpeedupEstimate)
	}

	// Workspaces are parked idle after their task finishes.
	for _, id := range []string{"t1", "t2", "t3"} {
		rec, err := h.workspaces.Get(id)
		if err != nil {
			t.Fatalf("Get %s: %v", id, err)
		}
		if rec.Status != models.WorkspaceIdle {
			t.Errorf("workspace %s status = %q, want idle", id, rec.Status)
		}
	}
}

func TestOrchestrateFailureIsIsolated(t *testing.T) {
	h := newHarness(t, newFakeGit(), Config{MaxParallel: 2})

	result, err := h.coord.Orchestrate(context.Background(), taskSet("t1", "bad2", "t3"))
	if err != nil {
		t.Fatalf("Orchestrate: %v", err)
	}

	if result.SuccessfulTasks != 2 || result.FailedTasks != 1 {
		t.Errorf("counts = %d/%d, want 2 succeeded 1 failed",
			result.SuccessfulTasks, result.FailedTasks)
	}

	failed, ok := result.ResultFor("bad2")
	if !ok {
		t.Fatal("no result for bad2")
	}
	if failed.Success {
		t.Error("bad2 succeeded, want failure")
	}
	if !strings.Contains(failed.Error, "exit") {
		t.Errorf("Error = %q, want exit code mention", failed.Error)
	}
	if failed.WorkspacePath == "" {
		t.Error("failed task has no workspace path")
	}

	// The failed task's workspace is preserved for inspection.
	rec, err := h.workspaces.Get("bad2")
	if err != nil {
		t.Fatalf("Get bad2: %v", err)
	}
	if _, err := os.Stat(rec.Path); err != nil {
		t.Errorf("failed task's checkout missing: %v", err)
	}
}

func TestOrchestrateCleanupRemovesOnlySucceeded(t *testing.T) {
	h := newHarness(t, newFakeGit(), Config{
		MaxParallel:   2,
		CleanupPolicy: workspace.PolicyCompleted,
	})

	result, err := h.coord.Orchestrate(context.Background(), taskSet("t1", "bad2"))
	if err != nil {
		t.Fatalf("Orchestrate: %v", err)
	}
	if result.SuccessfulTasks != 1 || result.FailedTasks != 1 {
		t.Fatalf("counts = %d/%d, want 1/1", result.SuccessfulTasks, result.FailedTasks)
	}

	if _, err := h.workspaces.Get("t1"); !errors.Is(err, workspace.ErrNotFound) {
		t.Errorf("succeeded workspace still registered: %v", err)
	}
	if _, err := h.workspaces.Get("bad2"); err != nil {
		t.Errorf("failed workspace was reclaimed: %v", err)
	}
}

func TestOrchestrateSequentialFallback(t *testing.T) {
	g := newFakeGit()
	g.addFailures = 2 // majority of the three provisioning attempts fail
	h := newHarness(t, g, Config{MaxParallel: 3})

	result, err := h.coord.Orchestrate(context.Background(), taskSet("t1", "t2", "t3"))
	if err != nil {
		t.Fatalf("Orchestrate: %v", err)
	}

	if !result.Sequential {
		t.Fatal("Sequential = false, want degraded run")
	}
	if result.SuccessfulTasks != 3 {
		t.Errorf("SuccessfulTasks = %d, want 3 (sequential retry succeeds)", result.SuccessfulTasks)
	}
	if result.ErrorSummary == "" {
		t.Error("ErrorSummary empty, want degradation note")
	}
}

func TestOrchestrateReusesCleanLeftover(t *testing.T) {
	g := newFakeGit()
	h := newHarness(t, g, Config{MaxParallel: 2})

	leftover, err := h.workspaces.Create("t1", "", "", models.WorkspaceRequirements{})
	if err != nil {
		t.Fatalf("Create leftover: %v", err)
	}

	result, err := h.coord.Orchestrate(context.Background(), taskSet("t1"))
	if err != nil {
		t.Fatalf("Orchestrate: %v", err)
	}
	if !result.AllSucceeded() {
		t.Fatalf("run failed: %+v", result.TaskResults)
	}
	if result.Sequential {
		t.Error("clean leftover reuse degraded to sequential")
	}
	if got := result.TaskResults[0].WorkspacePath; got != leftover.Path {
		t.Errorf("workspace path = %q, want reused %q", got, leftover.Path)
	}
}

func TestOrchestrateDirtyLeftoverFailsTask(t *testing.T) {
	g := newFakeGit()
	h := newHarness(t, g, Config{MaxParallel: 2})

	leftover, err := h.workspaces.Create("t1", "", "", models.WorkspaceRequirements{})
	if err != nil {
		t.Fatalf("Create leftover: %v", err)
	}
	g.mu.Lock()
	g.dirty[leftover.Path] = true
	g.mu.Unlock()

	result, err := h.coord.Orchestrate(context.Background(), taskSet("t1"))
	if err != nil {
		t.Fatalf("Orchestrate: %v", err)
	}

	failed, ok := result.ResultFor("t1")
	if !ok || failed.Success {
		t.Fatalf("dirty leftover did not fail the task: %+v", failed)
	}
	if !strings.Contains(failed.Error, "dirty") {
		t.Errorf("Error = %q, want dirty workspace mention", failed.Error)
	}

	// The dirty tree survives untouched.
	if _, err := os.Stat(leftover.Path); err != nil {
		t.Errorf("dirty leftover removed: %v", err)
	}
}

func TestOrchestrateValidation(t *testing.T) {
	h := newHarness(t, newFakeGit(), Config{MaxParallel: 2})

	if _, err := h.coord.Orchestrate(context.Background(), nil); err == nil {
		t.Error("empty task set accepted")
	}
	if _, err := h.coord.Orchestrate(context.Background(), taskSet("t1", "t1")); err == nil {
		t.Error("duplicate task ids accepted")
	}
}

func TestEstimateSpeedup(t *testing.T) {
	tests := []struct {
		name     string
		tasks    int
		elapsed  time.Duration
		expected float64
	}{
		{"capped at task count", 4, time.Second, 4},
		{"sequential pace", 2, 60 * time.Second, 1},
		{"slower than baseline", 2, 120 * time.Second, 0.5},
		{"zero elapsed", 3, 0, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := estimateSpeedup(tt.tasks, tt.elapsed)
			if got != tt.expected {
				t.Errorf("estimateSpeedup(%d, %s) = %v, want %v", tt.tasks, tt.elapsed, got, tt.expected)
			}
		})
	}
}
