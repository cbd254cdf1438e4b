package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "herd",
	Short: "Parallel task orchestrator with workspace isolation",
	Long: `Herd runs automation tasks in parallel, each inside its own isolated
git worktree, with every worker process supervised for resource usage,
timeouts, and crashes.

Core capabilities:
- Executes task specs concurrently in a bounded worker pool
- Provisions one git worktree per task on a dedicated branch
- Monitors worker CPU, memory, file handles, and threads
- Degrades to sequential execution when workspace setup fails
- Preserves failed and dirty workspaces for inspection`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(workspacesCmd)
	rootCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

// checkWorkerBinary verifies that the configured worker binary is
// available in PATH.
func checkWorkerBinary(binary string) error {
	if _, err := exec.LookPath(binary); err != nil {
		return fmt.Errorf("worker binary %q not found in PATH\n\n"+
			"Herd launches one worker process per task. Configure a different\n"+
			"binary via worker.command in .herd/config.yaml or HERD_WORKER_COMMAND.", binary)
	}
	return nil
}

// findGitRoot finds the root of the git repository starting from the given directory.
func findGitRoot(startDir string) (string, error) {
	dir := startDir
	for {
		gitDir := filepath.Join(dir, ".git")
		if info, err := os.Stat(gitDir); err == nil && info.IsDir() {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("not in a git repository")
		}
		dir = parent
	}
}

// resolveRepo resolves the repository root from --workdir or the
// current directory.
func resolveRepo(workdir string) (string, error) {
	start := workdir
	if start == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("get working directory: %w", err)
		}
		start = cwd
	}
	abs, err := filepath.Abs(start)
	if err != nil {
		return "", fmt.Errorf("resolve path %s: %w", start, err)
	}
	return findGitRoot(abs)
}
