package monitor

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ShayCichocki/herd/pkg/models"
)

// snapshotProcess is the per-process entry in the status snapshot file.
type snapshotProcess struct {
	ProcessID      string              `json:"process_id"`
	TaskID         string              `json:"task_id"`
	Category       string              `json:"category"`
	PID            int                 `json:"pid"`
	State          models.ProcessState `json:"state"`
	Health         models.HealthState  `json:"health"`
	RunningSeconds float64             `json:"running_seconds"`
	RestartCount   int                 `json:"restart_count"`
}

// snapshotFile is the periodically written structured status file
// consumed by external dashboards.
type snapshotFile struct {
	GeneratedAt time.Time         `json:"generated_at"`
	Summary     Summary           `json:"summary"`
	Processes   []snapshotProcess `json:"processes"`
}

// WriteSnapshot writes the current status view to the configured
// snapshot path atomically.
func (m *Monitor) WriteSnapshot() error {
	if m.snapshotPath == "" {
		return nil
	}

	report := m.All(false)
	file := snapshotFile{
		GeneratedAt: time.Now(),
		Summary:     report.Summary,
	}
	for _, p := range report.Processes {
		file.Processes = append(file.Processes, snapshotProcess{
			ProcessID:      p.Record.ProcessID,
			TaskID:         p.Record.TaskID,
			Category:       p.Record.Category,
			PID:            p.Record.PID,
			State:          p.Record.State,
			Health:         p.Record.Health,
			RunningSeconds: p.RunningTime.Seconds(),
			RestartCount:   p.Record.RestartCount,
		})
	}

	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(m.snapshotPath), 0755); err != nil {
		return fmt.Errorf("create snapshot directory: %w", err)
	}
	tmp := m.snapshotPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := os.Rename(tmp, m.snapshotPath); err != nil {
		return fmt.Errorf("rename snapshot: %w", err)
	}
	return nil
}
