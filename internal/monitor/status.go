package monitor

import (
	"fmt"
	"sort"
	"time"

	"github.com/ShayCichocki/herd/pkg/models"
)

// ProcessStatus is a read-only view of one supervised process.
type ProcessStatus struct {
	// Record is a copy of the registry entry.
	Record models.ProcessRecord `json:"record"`
	// RunningTime is how long the process has been (or was) running.
	RunningTime time.Duration `json:"running_time"`
	// Output is the combined stdout/stderr captured so far.
	Output []byte `json:"-"`
}

// Summary aggregates counts across all registered processes.
type Summary struct {
	// Total is the number of registered processes.
	Total int `json:"total"`
	// Running is the number currently in the running state.
	Running int `json:"running"`
	// ByCategory counts processes per category label.
	ByCategory map[string]int `json:"by_category"`
	// ByState counts processes per lifecycle state.
	ByState map[models.ProcessState]int `json:"by_state"`
	// ByHealth counts processes per health classification.
	ByHealth map[models.HealthState]int `json:"by_health"`
}

// StatusReport is the "all processes" status view.
type StatusReport struct {
	// Summary holds the aggregate counts.
	Summary Summary `json:"summary"`
	// Processes lists every registered process, task id order.
	Processes []ProcessStatus `json:"processes"`
}

// Get returns the status of one process. includeMetrics controls
// whether the latest resource sample is attached, includeHistory
// whether the accumulated alerts are.
func (m *Monitor) Get(processID string, includeMetrics, includeHistory bool) (*ProcessStatus, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, ok := m.procs[processID]
	if !ok {
		return nil, fmt.Errorf("process %s: %w", processID, ErrNotMonitored)
	}
	return entry.status(includeMetrics, includeHistory), nil
}

// All returns the status of every registered process plus an aggregate
// summary with counts by category, state, and health.
func (m *Monitor) All(includeMetrics bool) *StatusReport {
	m.mu.RLock()
	defer m.mu.RUnlock()

	report := &StatusReport{
		Summary: Summary{
			ByCategory: make(map[string]int),
			ByState:    make(map[models.ProcessState]int),
			ByHealth:   make(map[models.HealthState]int),
		},
	}

	for _, entry := range m.procs {
		status := entry.status(includeMetrics, false)
		report.Processes = append(report.Processes, *status)

		report.Summary.Total++
		report.Summary.ByCategory[entry.record.Category]++
		report.Summary.ByState[entry.record.State]++
		report.Summary.ByHealth[entry.record.Health]++
		if entry.record.State == models.ProcessRunning {
			report.Summary.Running++
		}
	}

	sort.Slice(report.Processes, func(i, j int) bool {
		return report.Processes[i].Record.TaskID < report.Processes[j].Record.TaskID
	})
	return report
}

// RunningTaskIDs returns the task ids of processes currently running.
func (m *Monitor) RunningTaskIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var ids []string
	for _, entry := range m.procs {
		if entry.record.State == models.ProcessRunning {
			ids = append(ids, entry.record.TaskID)
		}
	}
	sort.Strings(ids)
	return ids
}
