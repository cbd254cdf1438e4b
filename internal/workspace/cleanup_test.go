package workspace

import (
	"errors"
	"os"
	"testing"
	"time"

	"github.com/ShayCichocki/herd/pkg/models"
)

// createIdle provisions a workspace and parks it idle, the state
// cleanup policies operate on.
func createIdle(t *testing.T, m *Manager, taskID string) *models.WorkspaceRecord {
	t.Helper()
	rec, err := m.Create(taskID, "", "", models.WorkspaceRequirements{})
	if err != nil {
		t.Fatalf("Create %s: %v", taskID, err)
	}
	if err := m.MarkIdle(taskID); err != nil {
		t.Fatalf("MarkIdle %s: %v", taskID, err)
	}
	return rec
}

func TestCleanupDirtyAlwaysPreserved(t *testing.T) {
	g := newFakeGit()
	m := newTestManager(t, g, &fakeCmd{}, 4)

	rec := createIdle(t, m, "t1")
	g.mu.Lock()
	g.dirty[rec.Path] = true
	g.mu.Unlock()

	for _, policy := range []string{PolicyAged, PolicyCompleted} {
		result, err := m.Cleanup(CleanupRequest{
			Policy:  policy,
			TaskIDs: []string{"t1"},
		})
		if err != nil {
			t.Fatalf("Cleanup(%s): %v", policy, err)
		}
		if len(result.Removed) != 0 {
			t.Errorf("Cleanup(%s) removed %v, want none", policy, result.Removed)
		}
		if reason := result.Preserved["t1"]; reason != "uncommitted changes" {
			t.Errorf("Cleanup(%s) preserved reason = %q, want %q", policy, reason, "uncommitted changes")
		}
	}
	if _, err := os.Stat(rec.Path); err != nil {
		t.Error("dirty workspace removed from disk")
	}
}

func TestCleanupDryRunMutatesNothing(t *testing.T) {
	m := newTestManager(t, newFakeGit(), &fakeCmd{}, 4)
	rec := createIdle(t, m, "t1")

	result, err := m.Cleanup(CleanupRequest{Policy: PolicyAged, DryRun: true})
	if err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if len(result.Removed) != 1 || result.Removed[0] != "t1" {
		t.Errorf("Removed = %v, want [t1]", result.Removed)
	}
	if !result.DryRun {
		t.Error("DryRun = false, want true")
	}

	// Workspace and record still intact.
	if _, err := os.Stat(rec.Path); err != nil {
		t.Error("dry run removed the checkout")
	}
	got, err := m.Get("t1")
	if err != nil {
		t.Fatalf("Get after dry run: %v", err)
	}
	if got.Status != models.WorkspaceIdle {
		t.Errorf("Status = %q, want %q", got.Status, models.WorkspaceIdle)
	}
}

func TestCleanupAgedRemovesIdle(t *testing.T) {
	m := newTestManager(t, newFakeGit(), &fakeCmd{}, 4)
	rec := createIdle(t, m, "t1")

	result, err := m.Cleanup(CleanupRequest{Policy: PolicyAged, MaxAge: 0})
	if err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if len(result.Removed) != 1 || result.Removed[0] != "t1" {
		t.Fatalf("Removed = %v, want [t1]", result.Removed)
	}
	if _, err := os.Stat(rec.Path); !os.IsNotExist(err) {
		t.Error("checkout still on disk after cleanup")
	}
	if _, err := m.Get("t1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get = %v, want ErrNotFound", err)
	}
}

func TestCleanupAgedRespectsMaxAge(t *testing.T) {
	m := newTestManager(t, newFakeGit(), &fakeCmd{}, 4)
	createIdle(t, m, "t1")

	result, err := m.Cleanup(CleanupRequest{Policy: PolicyAged, MaxAge: time.Hour})
	if err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if len(result.Removed) != 0 {
		t.Errorf("Removed = %v, want none", result.Removed)
	}
	if reason := result.Preserved["t1"]; reason != "younger than max age" {
		t.Errorf("preserved reason = %q, want %q", reason, "younger than max age")
	}
}

func TestCleanupCompletedRequiresMembership(t *testing.T) {
	m := newTestManager(t, newFakeGit(), &fakeCmd{}, 4)
	createIdle(t, m, "done")
	createIdle(t, m, "pending")

	result, err := m.Cleanup(CleanupRequest{
		Policy:  PolicyCompleted,
		TaskIDs: []string{"done"},
	})
	if err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if len(result.Removed) != 1 || result.Removed[0] != "done" {
		t.Errorf("Removed = %v, want [done]", result.Removed)
	}
	if _, err := m.Get("pending"); err != nil {
		t.Errorf("Get pending: %v", err)
	}
}

func TestCleanupSkipsActive(t *testing.T) {
	m := newTestManager(t, newFakeGit(), &fakeCmd{}, 4)
	if _, err := m.Create("t1", "", "", models.WorkspaceRequirements{}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := m.MarkActive("t1"); err != nil {
		t.Fatalf("MarkActive: %v", err)
	}

	result, err := m.Cleanup(CleanupRequest{Policy: PolicyAged})
	if err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if len(result.Removed) != 0 {
		t.Errorf("Removed = %v, want none", result.Removed)
	}
	if _, ok := result.Preserved["t1"]; !ok {
		t.Error("active workspace missing from preserved set")
	}
}

func TestCleanupKeepPolicy(t *testing.T) {
	m := newTestManager(t, newFakeGit(), &fakeCmd{}, 4)
	createIdle(t, m, "t1")

	result, err := m.Cleanup(CleanupRequest{Policy: PolicyKeep})
	if err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if len(result.Removed) != 0 || len(result.Preserved) != 0 {
		t.Errorf("keep policy touched workspaces: removed=%v preserved=%v",
			result.Removed, result.Preserved)
	}
}

func TestHealthCheckReportsIssues(t *testing.T) {
	g := newFakeGit()
	m := newTestManager(t, g, &fakeCmd{}, 4)

	clean := createIdle(t, m, "clean")
	dirty := createIdle(t, m, "dirty")
	g.mu.Lock()
	g.dirty[dirty.Path] = true
	g.mu.Unlock()

	report, err := m.HealthCheck("clean")
	if err != nil {
		t.Fatalf("HealthCheck clean: %v", err)
	}
	if !report.Healthy || !report.Exists || report.Dirty {
		t.Errorf("clean report = %+v, want healthy existing clean", report)
	}

	report, err = m.HealthCheck("dirty")
	if err != nil {
		t.Fatalf("HealthCheck dirty: %v", err)
	}
	if report.Healthy || !report.Dirty {
		t.Errorf("dirty report = %+v, want unhealthy dirty", report)
	}
	if len(report.Recommendations) == 0 {
		t.Error("dirty report has no recommendations")
	}

	if err := os.RemoveAll(clean.Path); err != nil {
		t.Fatalf("remove checkout: %v", err)
	}
	report, err = m.HealthCheck("clean")
	if err != nil {
		t.Fatalf("HealthCheck vanished: %v", err)
	}
	if report.Healthy || report.Exists {
		t.Errorf("vanished report = %+v, want unhealthy nonexistent", report)
	}
}
