package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/herd/internal/workspace"
)

var (
	cleanupWorkdir    string
	cleanupPolicy     string
	cleanupMaxAgeDays int
	cleanupTaskIDs    []string
	cleanupDryRun     bool
	cleanupForce      bool
	cleanupOrphans    bool
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Reclaim idle workspaces and recover orphans",
	Long: `Reclaim workspaces according to a policy.

Policies:
  keep       Remove nothing (default)
  completed  Remove workspaces of the given --task ids
  aged       Remove workspaces older than --max-age-days

Only idle and errored workspaces are eligible; active ones are never
touched, and workspaces with uncommitted changes are always preserved
regardless of policy.

With --orphans, worktrees left behind by a crashed run are re-adopted
into the registry before the policy is applied.

Examples:
  herd cleanup --policy aged --max-age-days 7
  herd cleanup --policy completed --task auth-fix --task lint
  herd cleanup --policy aged --dry-run   # Show what would be removed
  herd cleanup --orphans                 # Recover crashed-run worktrees`,
	RunE: runCleanupCmd,
}

func init() {
	cleanupCmd.Flags().StringVar(&cleanupWorkdir, "workdir", "", "Repository to operate on (defaults to current directory)")
	cleanupCmd.Flags().StringVar(&cleanupPolicy, "policy", workspace.PolicyKeep, "Reclamation policy: keep, completed, aged")
	cleanupCmd.Flags().IntVar(&cleanupMaxAgeDays, "max-age-days", 7, "Age cutoff for the aged policy")
	cleanupCmd.Flags().StringArrayVar(&cleanupTaskIDs, "task", nil, "Task ids eligible under the completed policy (repeatable)")
	cleanupCmd.Flags().BoolVar(&cleanupDryRun, "dry-run", false, "Show what would be removed without removing")
	cleanupCmd.Flags().BoolVarP(&cleanupForce, "force", "f", false, "Skip confirmation prompt")
	cleanupCmd.Flags().BoolVar(&cleanupOrphans, "orphans", false, "Recover orphaned worktrees into the registry first")
}

func runCleanupCmd(cmd *cobra.Command, args []string) error {
	manager, err := openWorkspaceManager(cleanupWorkdir)
	if err != nil {
		return err
	}

	if cleanupOrphans {
		recovered, err := manager.RecoverOrphans()
		if err != nil {
			return fmt.Errorf("recover orphans: %w", err)
		}
		if len(recovered) > 0 {
			fmt.Printf("Recovered %d orphaned worktree(s):\n", len(recovered))
			for _, path := range recovered {
				fmt.Printf("  - %s\n", path)
			}
		} else {
			fmt.Println("No orphaned worktrees found.")
		}
	}

	if cleanupPolicy == workspace.PolicyKeep {
		if !cleanupOrphans {
			fmt.Println("Policy is 'keep' - nothing to reclaim.")
		}
		return nil
	}

	req := workspace.CleanupRequest{
		Policy:  cleanupPolicy,
		MaxAge:  time.Duration(cleanupMaxAgeDays) * 24 * time.Hour,
		TaskIDs: cleanupTaskIDs,
		DryRun:  true,
	}

	// Preview first so the confirmation lists what will go.
	preview, err := manager.Cleanup(req)
	if err != nil {
		return fmt.Errorf("cleanup preview: %w", err)
	}

	if len(preview.Removed) == 0 {
		fmt.Println("No workspaces eligible for removal.")
		printPreserved(preview.Preserved)
		return nil
	}

	fmt.Printf("Would remove %d workspace(s), freeing %s:\n",
		len(preview.Removed), humanize.Bytes(uint64(preview.BytesFreed)))
	for _, id := range preview.Removed {
		fmt.Printf("  - %s\n", id)
	}
	printPreserved(preview.Preserved)

	if cleanupDryRun {
		fmt.Println("\nDry run mode - no workspaces were removed.")
		return nil
	}

	if !cleanupForce && !confirm("Remove these workspaces?") {
		fmt.Println("Cleanup cancelled.")
		return nil
	}

	req.DryRun = false
	result, err := manager.Cleanup(req)
	if err != nil {
		return fmt.Errorf("cleanup: %w", err)
	}

	fmt.Printf("Removed %d workspace(s), freed %s.\n",
		len(result.Removed), humanize.Bytes(uint64(result.BytesFreed)))
	return nil
}

func printPreserved(preserved map[string]string) {
	if len(preserved) == 0 {
		return
	}
	fmt.Println("Preserved:")
	for id, reason := range preserved {
		fmt.Printf("  - %s (%s)\n", id, reason)
	}
}

// confirm prompts on stdin and returns true on y/yes.
func confirm(prompt string) bool {
	fmt.Printf("%s [y/N] ", prompt)
	reader := bufio.NewReader(os.Stdin)
	response, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	response = strings.TrimSpace(strings.ToLower(response))
	return response == "y" || response == "yes"
}
