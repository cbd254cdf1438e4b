package workspace

import (
	"fmt"
	"os"
	"time"

	"github.com/ShayCichocki/herd/pkg/models"
)

// HealthReport describes the condition of one workspace. HealthCheck
// never mutates state; reports are advisory.
type HealthReport struct {
	// TaskID identifies the workspace.
	TaskID string `json:"task_id"`
	// Path is the checkout path that was inspected.
	Path string `json:"path"`
	// Exists indicates the checkout is present on disk.
	Exists bool `json:"exists"`
	// Dirty indicates uncommitted changes in the working copy.
	Dirty bool `json:"dirty"`
	// EnvReady mirrors the record's bootstrap readiness flag.
	EnvReady bool `json:"env_ready"`
	// DiskUsageBytes is the measured disk usage.
	DiskUsageBytes int64 `json:"disk_usage_bytes"`
	// Healthy is true when no issues were found.
	Healthy bool `json:"healthy"`
	// Issues lists problems found during the check.
	Issues []string `json:"issues,omitempty"`
	// Recommendations suggests operator actions for the issues.
	Recommendations []string `json:"recommendations,omitempty"`
	// CheckedAt is when the check ran.
	CheckedAt time.Time `json:"checked_at"`
}

// HealthCheck inspects one workspace: path existence, working-copy
// cleanliness, disk usage against the soft limit, and environment
// readiness.
func (m *Manager) HealthCheck(taskID string) (*HealthReport, error) {
	rec, err := m.Get(taskID)
	if err != nil {
		return nil, err
	}
	report := m.check(rec)
	return &report, nil
}

// HealthCheckAll inspects every live workspace.
func (m *Manager) HealthCheckAll() ([]HealthReport, error) {
	m.mu.Lock()
	var records []*models.WorkspaceRecord
	for _, rec := range m.records {
		if rec.Status.Live() {
			copied := *rec
			records = append(records, &copied)
		}
	}
	m.mu.Unlock()

	reports := make([]HealthReport, 0, len(records))
	for _, rec := range records {
		reports = append(reports, m.check(rec))
	}
	return reports, nil
}

// check runs the individual inspections against a record snapshot.
func (m *Manager) check(rec *models.WorkspaceRecord) HealthReport {
	report := HealthReport{
		TaskID:    rec.TaskID,
		Path:      rec.Path,
		EnvReady:  rec.EnvReady,
		CheckedAt: time.Now(),
	}

	if _, err := os.Stat(rec.Path); err != nil {
		report.Issues = append(report.Issues, "workspace path does not exist")
		report.Recommendations = append(report.Recommendations,
			"run cleanup to reconcile the registry, then recreate the workspace")
		return report
	}
	report.Exists = true

	dirty, err := m.git.HasChangesIn(rec.Path)
	if err != nil {
		report.Issues = append(report.Issues, fmt.Sprintf("git status failed: %v", err))
	} else if dirty {
		report.Dirty = true
		report.Issues = append(report.Issues, "uncommitted changes present")
		report.Recommendations = append(report.Recommendations,
			"commit, stash, or inspect the changes before reclaiming this workspace")
	}

	report.DiskUsageBytes = dirSize(rec.Path)
	if m.diskSoftLimit > 0 && report.DiskUsageBytes > m.diskSoftLimit {
		report.Issues = append(report.Issues,
			fmt.Sprintf("disk usage %d bytes exceeds soft limit %d", report.DiskUsageBytes, m.diskSoftLimit))
		report.Recommendations = append(report.Recommendations,
			"clean build artifacts or raise workspace.disk_soft_limit_mb")
	}

	if !rec.EnvReady {
		report.Issues = append(report.Issues, "environment bootstrap incomplete")
		report.Recommendations = append(report.Recommendations,
			"recreate the workspace to rerun setup commands")
	}

	report.Healthy = len(report.Issues) == 0
	return report
}
