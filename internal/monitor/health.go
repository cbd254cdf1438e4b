package monitor

import (
	"fmt"
	"time"

	"github.com/ShayCichocki/herd/pkg/models"
)

// warningRatio is the fraction of a threshold at which a metric enters
// the warning band.
const warningRatio = 0.8

// metricReading pairs one sampled metric with its configured threshold.
type metricReading struct {
	name      string
	observed  float64
	threshold float64
}

// readings expands a sample against the thresholds. Metrics with a zero
// threshold are not checked.
func readings(usage *models.ResourceUsage, t models.AlertThresholds) []metricReading {
	var out []metricReading
	if t.CPUPercent > 0 {
		out = append(out, metricReading{"cpu", usage.CPUPercent, t.CPUPercent})
	}
	if t.MemoryMB > 0 {
		out = append(out, metricReading{"memory", usage.MemoryMB, t.MemoryMB})
	}
	if t.OpenFiles > 0 {
		out = append(out, metricReading{"open files", float64(usage.OpenFiles), float64(t.OpenFiles)})
	}
	if t.Threads > 0 {
		out = append(out, metricReading{"threads", float64(usage.Threads), float64(t.Threads)})
	}
	return out
}

// Classify derives a health state from a resource sample. A nil sample
// is unknown; healthy means every metric is below 80% of its threshold,
// warning means some metric is in the 80-100% band, and critical means
// a metric meets or exceeds its threshold.
func Classify(usage *models.ResourceUsage, t models.AlertThresholds) models.HealthState {
	if usage == nil {
		return models.HealthUnknown
	}

	state := models.HealthHealthy
	for _, r := range readings(usage, t) {
		if r.observed >= r.threshold {
			return models.HealthCritical
		}
		if r.observed >= r.threshold*warningRatio {
			state = models.HealthWarning
		}
	}
	return state
}

// evaluateAlerts returns new alerts for threshold crossings in the
// sample. The dedup identity is the metric and breach kind against its
// threshold, never the observed value, so a sustained breach raises one
// alert until it is acknowledged; the first observed value is kept on
// the alert itself. An escalation from the warning band to a full
// breach is a new condition and alerts again.
func evaluateAlerts(rec *models.ProcessRecord, usage *models.ResourceUsage) []models.Alert {
	var alerts []models.Alert
	now := time.Now()

	for _, r := range readings(usage, rec.Thresholds) {
		var severity models.AlertSeverity
		var message string
		switch {
		case r.observed >= r.threshold:
			severity = models.SeverityCritical
			message = fmt.Sprintf("%s breached threshold %.1f", r.name, r.threshold)
		case r.observed >= r.threshold*warningRatio:
			severity = models.SeverityWarning
			message = fmt.Sprintf("%s approaching threshold %.1f", r.name, r.threshold)
		default:
			continue
		}

		if rec.UnacknowledgedAlert(models.AlertResource, message) {
			continue
		}
		alerts = append(alerts, models.Alert{
			ProcessID: rec.ProcessID,
			Type:      models.AlertResource,
			Severity:  severity,
			Message:   message,
			Threshold: r.threshold,
			Observed:  r.observed,
			RaisedAt:  now,
		})
	}
	return alerts
}

// processAlert builds a lifecycle alert (timeout, restart, crash).
func processAlert(rec *models.ProcessRecord, severity models.AlertSeverity, message string) *models.Alert {
	if rec.UnacknowledgedAlert(models.AlertProcess, message) {
		return nil
	}
	return &models.Alert{
		ProcessID: rec.ProcessID,
		Type:      models.AlertProcess,
		Severity:  severity,
		Message:   message,
		RaisedAt:  time.Now(),
	}
}
