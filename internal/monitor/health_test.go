package monitor

import (
	"testing"
	"time"

	"github.com/ShayCichocki/herd/pkg/models"
)

func TestClassify(t *testing.T) {
	thresholds := models.AlertThresholds{CPUPercent: 100, MemoryMB: 1000}

	tests := []struct {
		name     string
		usage    *models.ResourceUsage
		expected models.HealthState
	}{
		{
			name:     "nil sample is unknown",
			usage:    nil,
			expected: models.HealthUnknown,
		},
		{
			name:     "well below thresholds is healthy",
			usage:    &models.ResourceUsage{CPUPercent: 50, MemoryMB: 400},
			expected: models.HealthHealthy,
		},
		{
			name:     "just under warning band is healthy",
			usage:    &models.ResourceUsage{CPUPercent: 79.9, MemoryMB: 400},
			expected: models.HealthHealthy,
		},
		{
			name:     "at 80 percent is warning",
			usage:    &models.ResourceUsage{CPUPercent: 80, MemoryMB: 400},
			expected: models.HealthWarning,
		},
		{
			name:     "inside warning band is warning",
			usage:    &models.ResourceUsage{CPUPercent: 50, MemoryMB: 900},
			expected: models.HealthWarning,
		},
		{
			name:     "at threshold is critical",
			usage:    &models.ResourceUsage{CPUPercent: 100, MemoryMB: 400},
			expected: models.HealthCritical,
		},
		{
			name:     "over threshold is critical",
			usage:    &models.ResourceUsage{CPUPercent: 50, MemoryMB: 1200},
			expected: models.HealthCritical,
		},
		{
			name:     "critical wins over warning",
			usage:    &models.ResourceUsage{CPUPercent: 85, MemoryMB: 1200},
			expected: models.HealthCritical,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.usage, thresholds)
			if got != tt.expected {
				t.Errorf("Classify = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestClassifyZeroThresholdsDisabled(t *testing.T) {
	usage := &models.ResourceUsage{CPUPercent: 900, MemoryMB: 90000, OpenFiles: 9000, Threads: 9000}
	if got := Classify(usage, models.AlertThresholds{}); got != models.HealthHealthy {
		t.Errorf("Classify with no thresholds = %q, want healthy", got)
	}
}

func TestEvaluateAlertsDedup(t *testing.T) {
	rec := &models.ProcessRecord{
		ProcessID:  "p1",
		Thresholds: models.AlertThresholds{CPUPercent: 100},
	}
	usage := &models.ResourceUsage{CPUPercent: 120, SampledAt: time.Now()}

	alerts := evaluateAlerts(rec, usage)
	if len(alerts) != 1 {
		t.Fatalf("first pass raised %d alerts, want 1", len(alerts))
	}
	if alerts[0].Severity != models.SeverityCritical {
		t.Errorf("severity = %q, want critical", alerts[0].Severity)
	}
	if alerts[0].Observed != 120 || alerts[0].Threshold != 100 {
		t.Errorf("observed/threshold = %v/%v, want 120/100", alerts[0].Observed, alerts[0].Threshold)
	}
	rec.Alerts = append(rec.Alerts, alerts...)

	// Identical breach is suppressed while the alert is unacknowledged.
	if again := evaluateAlerts(rec, usage); len(again) != 0 {
		t.Errorf("duplicate breach raised %d alerts, want 0", len(again))
	}

	// Acknowledging re-arms the alert.
	rec.Alerts[0].Acknowledged = true
	if again := evaluateAlerts(rec, usage); len(again) != 1 {
		t.Errorf("acknowledged breach raised %d alerts, want 1", len(again))
	}
}

func TestEvaluateAlertsSustainedBreachRaisesOnce(t *testing.T) {
	rec := &models.ProcessRecord{
		ProcessID:  "p1",
		Thresholds: models.AlertThresholds{CPUPercent: 100},
	}

	// The observed value jitters between samples but the condition is
	// the same sustained breach; only the first sample may alert.
	for i := 0; i < 50; i++ {
		usage := &models.ResourceUsage{CPUPercent: 110 + float64(i%7), SampledAt: time.Now()}
		rec.Alerts = append(rec.Alerts, evaluateAlerts(rec, usage)...)
	}
	if len(rec.Alerts) != 1 {
		t.Fatalf("sustained breach raised %d alerts, want 1", len(rec.Alerts))
	}
	if rec.Alerts[0].Observed != 110 {
		t.Errorf("Observed = %v, want first sample value 110", rec.Alerts[0].Observed)
	}

	// Dropping back into the warning band is a different condition.
	usage := &models.ResourceUsage{CPUPercent: 85, SampledAt: time.Now()}
	rec.Alerts = append(rec.Alerts, evaluateAlerts(rec, usage)...)
	if len(rec.Alerts) != 2 {
		t.Fatalf("warning after breach raised %d alerts total, want 2", len(rec.Alerts))
	}
	if rec.Alerts[1].Severity != models.SeverityWarning {
		t.Errorf("second alert severity = %q, want warning", rec.Alerts[1].Severity)
	}
}

func TestEvaluateAlertsWarningBand(t *testing.T) {
	rec := &models.ProcessRecord{
		ProcessID:  "p1",
		Thresholds: models.AlertThresholds{MemoryMB: 1000},
	}
	usage := &models.ResourceUsage{MemoryMB: 850}

	alerts := evaluateAlerts(rec, usage)
	if len(alerts) != 1 {
		t.Fatalf("raised %d alerts, want 1", len(alerts))
	}
	if alerts[0].Severity != models.SeverityWarning {
		t.Errorf("severity = %q, want warning", alerts[0].Severity)
	}
}

func TestProcessAlertDedup(t *testing.T) {
	rec := &models.ProcessRecord{ProcessID: "p1"}

	alert := processAlert(rec, models.SeverityCritical, "timeout after 5m0s")
	if alert == nil {
		t.Fatal("first lifecycle alert suppressed")
	}
	rec.Alerts = append(rec.Alerts, *alert)

	if dup := processAlert(rec, models.SeverityCritical, "timeout after 5m0s"); dup != nil {
		t.Error("duplicate lifecycle alert not suppressed")
	}
	if other := processAlert(rec, models.SeverityWarning, "restarted after crash (attempt 1)"); other == nil {
		t.Error("distinct lifecycle alert suppressed")
	}
}
