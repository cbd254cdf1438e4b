package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/herd/internal/state"
)

var statusWorkdir string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show supervised processes and recent runs",
	Long: `Display the most recent monitor snapshot and recent orchestration
results for this repository.

Shows:
  - Supervised worker processes with state and health
  - Recent runs with success counts and elapsed time`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusWorkdir, "workdir", "", "Repository to inspect (defaults to current directory)")
}

// snapshotView mirrors the monitor's snapshot file format.
type snapshotView struct {
	GeneratedAt time.Time `json:"generated_at"`
	Processes   []struct {
		ProcessID      string  `json:"process_id"`
		TaskID         string  `json:"task_id"`
		PID            int     `json:"pid"`
		State          string  `json:"state"`
		Health         string  `json:"health"`
		RunningSeconds float64 `json:"running_seconds"`
		RestartCount   int     `json:"restart_count"`
	} `json:"processes"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	repoPath, err := resolveRepo(statusWorkdir)
	if err != nil {
		return err
	}

	displaySnapshot(filepath.Join(repoPath, ".herd", "monitor-snapshot.json"))
	return displayRecentRuns(repoPath)
}

func displaySnapshot(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Println("No monitor snapshot found. Run 'herd run <spec.yaml>' to start.")
		return
	}

	var snap snapshotView
	if err := json.Unmarshal(data, &snap); err != nil {
		fmt.Printf("Monitor snapshot unreadable: %v\n", err)
		return
	}

	fmt.Printf("Monitor snapshot from %s:\n", humanize.Time(snap.GeneratedAt))
	if len(snap.Processes) == 0 {
		fmt.Println("  No supervised processes.")
		return
	}
	for _, p := range snap.Processes {
		restarts := ""
		if p.RestartCount > 0 {
			restarts = fmt.Sprintf(", %d restart(s)", p.RestartCount)
		}
		fmt.Printf("  %s (task %s, pid %d): %s/%s, running %s%s\n",
			p.ProcessID, p.TaskID, p.PID, p.State, p.Health,
			(time.Duration(p.RunningSeconds) * time.Second).String(), restarts)
	}
}

func displayRecentRuns(repoPath string) error {
	dbPath := state.DefaultDBPath(repoPath)
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		return nil
	}

	db, err := state.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open state database: %w", err)
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		return fmt.Errorf("migrate state database: %w", err)
	}

	results, err := db.ListResults(5)
	if err != nil {
		return fmt.Errorf("list results: %w", err)
	}
	if len(results) == 0 {
		return nil
	}

	fmt.Println("\nRecent runs:")
	for _, r := range results {
		mode := ""
		if r.Sequential {
			mode = ", sequential"
		}
		fmt.Printf("  %s: %d/%d succeeded in %s (%s ago%s)\n",
			r.ID, r.SuccessfulTasks, r.TotalTasks,
			r.Elapsed.Round(time.Millisecond),
			formatAge(time.Since(r.CompletedAt)), mode)
		for _, tr := range r.TaskResults {
			if !tr.Success {
				fmt.Printf("    failed: %s (%s)\n", tr.TaskID, tr.Error)
			}
		}
	}
	return nil
}

// formatAge formats a duration in a human-readable way.
func formatAge(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	if d < 24*time.Hour {
		h := int(d.Hours())
		m := int(d.Minutes()) % 60
		if m > 0 {
			return fmt.Sprintf("%dh%dm", h, m)
		}
		return fmt.Sprintf("%dh", h)
	}
	return fmt.Sprintf("%dd", int(d.Hours())/24)
}
