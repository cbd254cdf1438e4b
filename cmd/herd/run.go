package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/herd/internal/config"
	"github.com/ShayCichocki/herd/internal/exec"
	"github.com/ShayCichocki/herd/internal/git"
	"github.com/ShayCichocki/herd/internal/monitor"
	"github.com/ShayCichocki/herd/internal/orchestrator"
	"github.com/ShayCichocki/herd/internal/state"
	"github.com/ShayCichocki/herd/internal/workspace"
	"github.com/ShayCichocki/herd/pkg/models"
)

var (
	runMaxParallel int
	runTimeout     time.Duration
	runWorkdir     string
)

var runCmd = &cobra.Command{
	Use:   "run <spec.yaml> [spec.yaml...]",
	Short: "Execute task specs in parallel workspaces",
	Long: `Execute one or more task spec files.

Each spec file holds a single task or a "tasks" list. Every task runs
in its own git worktree on a dedicated branch, under a supervised
worker process. Tasks that share target files are reported before
dispatch; a failed task never aborts the rest of the run.

Examples:
  herd run tasks.yaml                 # Run all tasks from one file
  herd run a.yaml b.yaml              # Merge tasks from several files
  herd run tasks.yaml --max-parallel 8
  herd run tasks.yaml --timeout 10m   # Per-task timeout`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().IntVar(&runMaxParallel, "max-parallel", 0, "Maximum concurrent tasks (overrides config)")
	runCmd.Flags().DurationVar(&runTimeout, "timeout", 0, "Per-task timeout (overrides config)")
	runCmd.Flags().StringVar(&runWorkdir, "workdir", "", "Repository to operate on (defaults to current directory)")
}

func runRun(cmd *cobra.Command, args []string) error {
	tasks, err := models.LoadTaskSpecs(args)
	if err != nil {
		return err
	}

	repoPath, err := resolveRepo(runWorkdir)
	if err != nil {
		return err
	}

	cfg, err := config.Load(repoPath)
	if err != nil {
		return err
	}
	if runMaxParallel > 0 {
		cfg.Orchestrator.MaxParallel = runMaxParallel
	}
	if runTimeout > 0 {
		cfg.Orchestrator.TaskTimeout = runTimeout
	}

	if err := checkWorkerBinary(cfg.Worker.Command); err != nil {
		return err
	}

	coord, cleanup, err := buildCoordinator(repoPath, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	// Ctrl-C cancels the run; workers are stopped and workspaces kept.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Printf("Running %d task(s) with max parallelism %d...\n\n",
		len(tasks), cfg.Orchestrator.MaxParallel)

	result, err := coord.Orchestrate(ctx, tasks)
	if err != nil {
		return err
	}

	printSummary(result)
	return runOutcome(result)
}

// runOutcome turns a finished run into the command's error result. An
// error (rather than an os.Exit here) lets the deferred cleanup run
// before the process exits non-zero.
func runOutcome(r *models.OrchestrationResult) error {
	if r.AllSucceeded() {
		return nil
	}
	return fmt.Errorf("%d of %d tasks failed", r.FailedTasks, r.TotalTasks)
}

// buildCoordinator wires the workspace manager, process monitor, and
// audit store into a coordinator for the given repo. The returned
// cleanup func shuts the monitor and closes the store and logger.
func buildCoordinator(repoPath string, cfg *config.Config) (*orchestrator.Coordinator, func(), error) {
	gitRunner := git.NewRunner(repoPath)
	cmdRunner := exec.NewRunner()

	wsManager, err := workspace.NewManager(cfg.Workspace, repoPath, gitRunner, cmdRunner)
	if err != nil {
		return nil, nil, fmt.Errorf("create workspace manager: %w", err)
	}

	mon := monitor.New(cfg.Monitor, cmdRunner, monitor.NewPSSampler())
	mon.SetSnapshotPath(filepath.Join(repoPath, ".herd", "monitor-snapshot.json"))
	mon.Start()

	db, err := state.Open(state.DefaultDBPath(repoPath))
	if err != nil {
		return nil, nil, fmt.Errorf("open state database: %w", err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("migrate state database: %w", err)
	}

	logger := orchestrator.NewDebugLoggerForRepo(repoPath)

	signals, err := orchestrator.NewSignalWatcher(repoPath)
	if err == nil {
		if startErr := signals.Start(); startErr != nil {
			signals = nil
		}
	} else {
		signals = nil
	}

	opts := []orchestrator.Option{
		orchestrator.WithStore(db),
		orchestrator.WithLogger(logger),
	}
	if signals != nil {
		opts = append(opts, orchestrator.WithSignalWatcher(signals))
	}

	coord := orchestrator.New(orchestrator.Config{
		MaxParallel:   cfg.Orchestrator.MaxParallel,
		TaskTimeout:   cfg.Orchestrator.TaskTimeout,
		PollInterval:  cfg.Orchestrator.PollInterval,
		CleanupPolicy: cfg.Orchestrator.CleanupPolicy,
		CleanupMaxAge: time.Duration(cfg.Orchestrator.CleanupMaxAgeDays) * 24 * time.Hour,
		AutoRestart:   cfg.Monitor.AutoRestart,
		MaxRestarts:   cfg.Monitor.MaxRestarts,
		Thresholds: models.AlertThresholds{
			CPUPercent: cfg.Monitor.Thresholds.CPUPercent,
			MemoryMB:   cfg.Monitor.Thresholds.MemoryMB,
			OpenFiles:  cfg.Monitor.Thresholds.OpenFiles,
			Threads:    cfg.Monitor.Thresholds.Threads,
		},
	}, wsManager, mon, orchestrator.CommandLauncher{
		Binary: cfg.Worker.Command,
		Args:   cfg.Worker.Args,
	}, opts...)

	cleanup := func() {
		mon.Shutdown()
		if signals != nil {
			signals.Stop()
		}
		db.Close()
		logger.Close()
	}
	return coord, cleanup, nil
}

// printSummary renders the run result to stdout.
func printSummary(r *models.OrchestrationResult) {
	green := color.New(color.FgGreen).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()

	fmt.Println()
	fmt.Printf("Run %s finished in %s\n", r.ID, r.Elapsed.Round(time.Millisecond))
	if r.Sequential {
		fmt.Printf("  Mode: %s\n", yellow("sequential (degraded)"))
	}
	fmt.Printf("  Succeeded: %s\n", green(fmt.Sprintf("%d/%d", r.SuccessfulTasks, r.TotalTasks)))
	if r.FailedTasks > 0 {
		fmt.Printf("  Failed:    %s\n", red(fmt.Sprintf("%d", r.FailedTasks)))
	}
	fmt.Printf("  Estimated speedup: %.1fx\n", r.SpeedupEstimate)
	if r.ErrorSummary != "" {
		fmt.Printf("  Note: %s\n", r.ErrorSummary)
	}

	for _, tr := range r.TaskResults {
		if tr.Success {
			continue
		}
		fmt.Printf("\n%s %s: %s\n", red("FAILED"), tr.TaskID, tr.Error)
		if tr.WorkspacePath != "" {
			fmt.Printf("  Workspace preserved at %s\n", tr.WorkspacePath)
		}
		if len(tr.Output) > 0 {
			fmt.Printf("  Output: %s\n", humanize.Bytes(uint64(len(tr.Output))))
		}
	}
}
