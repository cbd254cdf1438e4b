package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/herd/internal/config"
	"github.com/ShayCichocki/herd/internal/exec"
	"github.com/ShayCichocki/herd/internal/git"
	"github.com/ShayCichocki/herd/internal/workspace"
	"github.com/ShayCichocki/herd/pkg/models"
)

var (
	workspacesWorkdir string
	workspacesHealth  bool
)

var workspacesCmd = &cobra.Command{
	Use:   "workspaces",
	Short: "List workspaces and their health",
	Long: `List all registered workspaces for this repository.

With --health, each workspace is additionally checked for existence,
uncommitted changes, environment readiness, and disk usage, with
remediation recommendations for anything unhealthy.`,
	RunE: runWorkspaces,
}

func init() {
	workspacesCmd.Flags().StringVar(&workspacesWorkdir, "workdir", "", "Repository to inspect (defaults to current directory)")
	workspacesCmd.Flags().BoolVar(&workspacesHealth, "health", false, "Run a health check on every workspace")
}

func runWorkspaces(cmd *cobra.Command, args []string) error {
	manager, err := openWorkspaceManager(workspacesWorkdir)
	if err != nil {
		return err
	}

	records, err := manager.List()
	if err != nil {
		return fmt.Errorf("list workspaces: %w", err)
	}
	if len(records) == 0 {
		fmt.Println("No workspaces registered.")
		return nil
	}

	fmt.Printf("Workspaces (%d):\n", len(records))
	for _, rec := range records {
		fmt.Printf("  %s: %s on %s (%s, %s)\n",
			rec.TaskID, colorStatus(rec.Status), rec.Branch,
			humanize.Bytes(uint64(rec.DiskUsageBytes)),
			humanize.Time(rec.CreatedAt))
	}

	if !workspacesHealth {
		return nil
	}

	reports, err := manager.HealthCheckAll()
	if err != nil {
		return fmt.Errorf("health check: %w", err)
	}

	fmt.Println("\nHealth:")
	for _, rep := range reports {
		if rep.Healthy {
			fmt.Printf("  %s: %s\n", rep.TaskID, color.GreenString("healthy"))
			continue
		}
		fmt.Printf("  %s: %s\n", rep.TaskID, color.RedString("unhealthy"))
		for _, issue := range rep.Issues {
			fmt.Printf("    issue: %s\n", issue)
		}
		for _, rec := range rep.Recommendations {
			fmt.Printf("    recommend: %s\n", rec)
		}
	}
	return nil
}

// openWorkspaceManager builds a workspace manager for the repo, loading
// its config.
func openWorkspaceManager(workdir string) (*workspace.Manager, error) {
	repoPath, err := resolveRepo(workdir)
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(repoPath)
	if err != nil {
		return nil, err
	}
	manager, err := workspace.NewManager(cfg.Workspace, repoPath, git.NewRunner(repoPath), exec.NewRunner())
	if err != nil {
		return nil, fmt.Errorf("create workspace manager: %w", err)
	}
	return manager, nil
}

// colorStatus renders a workspace status with severity coloring.
func colorStatus(s models.WorkspaceStatus) string {
	switch s {
	case models.WorkspaceReady, models.WorkspaceIdle:
		return color.GreenString(string(s))
	case models.WorkspaceActive:
		return color.CyanString(string(s))
	case models.WorkspaceError:
		return color.RedString(string(s))
	default:
		return string(s)
	}
}
