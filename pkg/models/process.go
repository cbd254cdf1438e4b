package models

import "time"

// ProcessState represents the lifecycle state of a supervised process.
type ProcessState string

const (
	// ProcessInitializing indicates the process is being launched.
	ProcessInitializing ProcessState = "initializing"
	// ProcessRunning indicates the process is confirmed alive.
	ProcessRunning ProcessState = "running"
	// ProcessCompleted indicates the process exited with code zero.
	ProcessCompleted ProcessState = "completed"
	// ProcessFailed indicates a non-zero exit, crash, or timeout.
	ProcessFailed ProcessState = "failed"
	// ProcessTerminated indicates an explicit stop request killed it.
	ProcessTerminated ProcessState = "terminated"
)

// Valid returns true if the state is a known value.
func (s ProcessState) Valid() bool {
	switch s {
	case ProcessInitializing, ProcessRunning, ProcessCompleted,
		ProcessFailed, ProcessTerminated:
		return true
	default:
		return false
	}
}

// Terminal returns true if no further transitions are possible.
func (s ProcessState) Terminal() bool {
	switch s {
	case ProcessCompleted, ProcessFailed, ProcessTerminated:
		return true
	default:
		return false
	}
}

// HealthState is a coarse classification of resource usage against the
// configured thresholds.
type HealthState string

const (
	// HealthUnknown means no sample has been taken yet.
	HealthUnknown HealthState = "unknown"
	// HealthHealthy means all metrics are below 80% of their threshold.
	HealthHealthy HealthState = "healthy"
	// HealthWarning means a metric is between 80% and 100% of threshold.
	HealthWarning HealthState = "warning"
	// HealthCritical means a metric meets or exceeds its threshold.
	HealthCritical HealthState = "critical"
)

// ResourceUsage is a point-in-time sample of a process's consumption.
type ResourceUsage struct {
	// CPUPercent is CPU utilization as a percentage of one core.
	CPUPercent float64 `json:"cpu_percent"`
	// MemoryMB is resident memory in megabytes.
	MemoryMB float64 `json:"memory_mb"`
	// DiskReadBytes is cumulative bytes read from disk.
	DiskReadBytes uint64 `json:"disk_read_bytes"`
	// DiskWriteBytes is cumulative bytes written to disk.
	DiskWriteBytes uint64 `json:"disk_write_bytes"`
	// NetSentBytes is cumulative bytes sent on the network. Zero on
	// platforms that do not attribute network traffic per process.
	NetSentBytes uint64 `json:"net_sent_bytes"`
	// NetRecvBytes is cumulative bytes received on the network. Zero on
	// platforms that do not attribute network traffic per process.
	NetRecvBytes uint64 `json:"net_recv_bytes"`
	// OpenFiles is the number of open file handles.
	OpenFiles int32 `json:"open_files"`
	// Threads is the number of OS threads.
	Threads int32 `json:"threads"`
	// SampledAt is when the sample was taken.
	SampledAt time.Time `json:"sampled_at"`
}

// ResourceLimits caps a supervised process's consumption. A zero value
// for any field means unlimited.
type ResourceLimits struct {
	// MaxCPUPercent is the CPU utilization cap.
	MaxCPUPercent float64 `json:"max_cpu_percent,omitempty"`
	// MaxMemoryMB is the resident memory cap in megabytes.
	MaxMemoryMB float64 `json:"max_memory_mb,omitempty"`
}

// AlertThresholds configures when resource alerts fire. A zero value
// for any field disables that check.
type AlertThresholds struct {
	// CPUPercent is the CPU utilization alert threshold.
	CPUPercent float64 `json:"cpu_percent,omitempty"`
	// MemoryMB is the resident memory alert threshold in megabytes.
	MemoryMB float64 `json:"memory_mb,omitempty"`
	// OpenFiles is the open file handle alert threshold.
	OpenFiles int32 `json:"open_files,omitempty"`
	// Threads is the thread count alert threshold.
	Threads int32 `json:"threads,omitempty"`
}

// AlertType categorizes an alert.
type AlertType string

const (
	// AlertResource indicates a resource threshold breach.
	AlertResource AlertType = "resource"
	// AlertPerformance indicates degraded performance.
	AlertPerformance AlertType = "performance"
	// AlertProcess indicates a process lifecycle event (crash, timeout).
	AlertProcess AlertType = "process"
	// AlertSystem indicates a monitor-level problem.
	AlertSystem AlertType = "system"
)

// AlertSeverity ranks how urgent an alert is.
type AlertSeverity string

const (
	// SeverityWarning marks a threshold approach or soft breach.
	SeverityWarning AlertSeverity = "warning"
	// SeverityCritical marks a hard threshold breach.
	SeverityCritical AlertSeverity = "critical"
)

// Alert is raised when a monitored process crosses a threshold.
// Alerts are deduplicated against existing unacknowledged alerts of
// the same type and message.
type Alert struct {
	// ProcessID is the supervised process this alert belongs to.
	ProcessID string `json:"process_id"`
	// Type categorizes the alert.
	Type AlertType `json:"type"`
	// Severity ranks the alert.
	Severity AlertSeverity `json:"severity"`
	// Message describes the breach.
	Message string `json:"message"`
	// Threshold is the configured limit that was crossed.
	Threshold float64 `json:"threshold"`
	// Observed is the sampled value that crossed it.
	Observed float64 `json:"observed"`
	// RaisedAt is when the alert was created.
	RaisedAt time.Time `json:"raised_at"`
	// Acknowledged marks the alert as seen by an operator.
	Acknowledged bool `json:"acknowledged"`
}

// ProcessRecord is the registry entry for one supervised process
// attempt. Owned exclusively by the process monitor.
type ProcessRecord struct {
	// ProcessID is the unique identifier of this attempt.
	ProcessID string `json:"process_id"`
	// TaskID is the task this process is executing.
	TaskID string `json:"task_id"`
	// Category labels the kind of worker (e.g. "agent").
	Category string `json:"category"`
	// PID is the OS process id, once launched.
	PID int `json:"pid"`
	// State is the current lifecycle state.
	State ProcessState `json:"state"`
	// Command is the command line being supervised.
	Command []string `json:"command"`
	// WorkingDir is the directory the command runs in.
	WorkingDir string `json:"working_dir"`
	// Limits caps the process's resource consumption.
	Limits ResourceLimits `json:"limits"`
	// Thresholds configures alerting for this process.
	Thresholds AlertThresholds `json:"thresholds"`
	// Health is the latest health classification.
	Health HealthState `json:"health"`
	// LastUsage is the most recent resource sample, if any.
	LastUsage *ResourceUsage `json:"last_usage,omitempty"`
	// Alerts accumulates alerts raised for this process.
	Alerts []Alert `json:"alerts,omitempty"`
	// RestartCount is how many times the command was re-launched.
	RestartCount int `json:"restart_count"`
	// ExitCode is the process exit code, once it has exited.
	ExitCode *int `json:"exit_code,omitempty"`
	// StartedAt is when the attempt was launched.
	StartedAt time.Time `json:"started_at"`
	// EndedAt is when the attempt reached a terminal state.
	EndedAt *time.Time `json:"ended_at,omitempty"`
}

// RunningTime returns how long the process has been (or was) running.
func (p ProcessRecord) RunningTime(now time.Time) time.Duration {
	if p.EndedAt != nil {
		return p.EndedAt.Sub(p.StartedAt)
	}
	return now.Sub(p.StartedAt)
}

// UnacknowledgedAlert returns true if an unacknowledged alert with the
// same type and message already exists on the record.
func (p ProcessRecord) UnacknowledgedAlert(typ AlertType, message string) bool {
	for _, a := range p.Alerts {
		if !a.Acknowledged && a.Type == typ && a.Message == message {
			return true
		}
	}
	return false
}
