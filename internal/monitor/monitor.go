// Package monitor supervises the external worker processes that
// execute tasks: it launches them, samples resource usage on a
// background loop, classifies health, raises deduplicated alerts,
// enforces timeouts, and applies the auto-restart policy.
package monitor

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/ShayCichocki/herd/internal/config"
	"github.com/ShayCichocki/herd/internal/exec"
	"github.com/ShayCichocki/herd/pkg/models"
)

// Spec describes one process to supervise.
type Spec struct {
	// ProcessID uniquely identifies this attempt.
	ProcessID string
	// TaskID is the task the process executes.
	TaskID string
	// Category labels the kind of worker (e.g. "agent").
	Category string
	// Command is the full command line, program first.
	Command []string
	// WorkingDir is where the command runs (the task's workspace).
	WorkingDir string
	// Env is extra environment for the command.
	Env map[string]string
	// Limits caps resource consumption.
	Limits models.ResourceLimits
	// Thresholds configures alerting.
	Thresholds models.AlertThresholds
	// Timeout forcibly terminates the process when exceeded. Zero
	// disables the timeout.
	Timeout time.Duration
	// AutoRestart re-launches the command on failure.
	AutoRestart bool
	// MaxRestarts caps automatic re-launches.
	MaxRestarts int
}

// procEntry is the monitor's live registry entry for one process.
type procEntry struct {
	spec     Spec
	record   *models.ProcessRecord
	handle   exec.Process
	deadline time.Time
}

// Monitor owns the process registry and the background sampling loop.
// All registry mutations happen under the monitor's lock.
type Monitor struct {
	runner           exec.CommandRunner
	sampler          Sampler
	sampleInterval   time.Duration
	snapshotInterval time.Duration
	snapshotPath     string

	procs map[string]*procEntry
	mu    sync.RWMutex
	// closing suppresses restarts while a shutdown kill sweep runs.
	closing bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	warnf func(format string, args ...interface{})
}

// New creates a Monitor. Call Start to begin the sampling loop.
func New(cfg config.MonitorConfig, runner exec.CommandRunner, sampler Sampler) *Monitor {
	return &Monitor{
		runner:           runner,
		sampler:          sampler,
		sampleInterval:   cfg.SampleInterval,
		snapshotInterval: cfg.SnapshotInterval,
		procs:            make(map[string]*procEntry),
		warnf:            log.Printf,
	}
}

// SetSnapshotPath enables periodic status snapshot writes to the given
// file. Must be called before Start.
func (m *Monitor) SetSnapshotPath(path string) {
	m.snapshotPath = path
}

// Start launches the background sampling loop.
func (m *Monitor) Start() {
	m.ctx, m.cancel = context.WithCancel(context.Background())
	m.wg.Add(1)
	go m.run()
}

// Shutdown stops the sampling loop and kills every non-terminal
// process, then waits for the reapers to drain. Registry entries are
// retained so callers can still collect results; workspaces are never
// touched here.
func (m *Monitor) Shutdown() {
	if m.cancel != nil {
		m.cancel()
	}

	// Kill before waiting: the reaper goroutines are blocked in Wait
	// until their process exits.
	m.mu.Lock()
	m.closing = true
	for _, entry := range m.procs {
		if !entry.record.State.Terminal() && entry.handle != nil {
			_ = entry.handle.Kill()
		}
	}
	m.mu.Unlock()

	m.wg.Wait()

	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	for _, entry := range m.procs {
		if entry.record.State.Terminal() {
			continue
		}
		entry.record.State = models.ProcessTerminated
		entry.record.EndedAt = &now
	}
}

// run is the background loop: one sampling pass per tick, plus
// periodic status snapshots when a snapshot path is configured.
func (m *Monitor) run() {
	defer m.wg.Done()

	sample := time.NewTicker(m.sampleInterval)
	defer sample.Stop()

	var snapshot <-chan time.Time
	if m.snapshotPath != "" {
		t := time.NewTicker(m.snapshotInterval)
		defer t.Stop()
		snapshot = t.C
	}

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-sample.C:
			m.sampleAll()
			m.checkTimeouts()
		case <-snapshot:
			if err := m.WriteSnapshot(); err != nil {
				m.warnf("status snapshot write failed: %v", err)
			}
		}
	}
}

// Monitor registers and launches a supervised process. It fails with
// ErrAlreadyMonitored if the process id is registered, and with
// ErrStartFailed (wrapping the spawn error) if the launch fails.
// Returns the OS pid on success.
func (m *Monitor) Monitor(spec Spec) (int, error) {
	if len(spec.Command) == 0 {
		return 0, fmt.Errorf("process %s: empty command", spec.ProcessID)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.procs[spec.ProcessID]; ok {
		return 0, fmt.Errorf("process %s: %w", spec.ProcessID, ErrAlreadyMonitored)
	}

	record := &models.ProcessRecord{
		ProcessID:  spec.ProcessID,
		TaskID:     spec.TaskID,
		Category:   spec.Category,
		State:      models.ProcessInitializing,
		Command:    spec.Command,
		WorkingDir: spec.WorkingDir,
		Limits:     spec.Limits,
		Thresholds: spec.Thresholds,
		Health:     models.HealthUnknown,
		StartedAt:  time.Now(),
	}
	entry := &procEntry{spec: spec, record: record}
	m.procs[spec.ProcessID] = entry

	handle, err := m.runner.Start(spec.WorkingDir, spec.Env, spec.Command[0], spec.Command[1:]...)
	if err != nil {
		delete(m.procs, spec.ProcessID)
		return 0, fmt.Errorf("launch %s: %w: %w", strings.Join(spec.Command, " "), ErrStartFailed, err)
	}

	entry.handle = handle
	record.PID = handle.PID()
	if spec.Timeout > 0 {
		entry.deadline = time.Now().Add(spec.Timeout)
	}
	if handle.Alive() {
		record.State = models.ProcessRunning
	}

	m.wg.Add(1)
	go m.waitFor(spec.ProcessID, handle)

	return record.PID, nil
}

// waitFor reaps the process and records its terminal disposition.
func (m *Monitor) waitFor(processID string, handle exec.Process) {
	defer m.wg.Done()

	code, err := handle.Wait()

	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.procs[processID]
	if !ok || entry.handle != handle {
		// Stopped or restarted while we were waiting.
		return
	}
	if entry.record.State.Terminal() {
		return
	}

	if m.closing && (err != nil || code != 0) {
		// Killed by the shutdown sweep; never restart.
		now := time.Now()
		entry.record.State = models.ProcessTerminated
		entry.record.EndedAt = &now
		return
	}

	switch {
	case err != nil:
		m.failOrRestartLocked(entry, fmt.Sprintf("crash: %v", err), nil)
	case code == 0:
		now := time.Now()
		entry.record.State = models.ProcessCompleted
		entry.record.ExitCode = &code
		entry.record.EndedAt = &now
	default:
		m.failOrRestartLocked(entry, fmt.Sprintf("exit code %d", code), &code)
	}
}

// failOrRestartLocked applies the auto-restart policy to a failed
// attempt. If a restart is allowed and succeeds the record stays
// running with an incremented restart count; otherwise the failure is
// terminal. Callers must hold the lock.
func (m *Monitor) failOrRestartLocked(entry *procEntry, reason string, code *int) {
	rec := entry.record

	if entry.spec.AutoRestart && rec.RestartCount < entry.spec.MaxRestarts {
		handle, err := m.runner.Start(entry.spec.WorkingDir, entry.spec.Env,
			entry.spec.Command[0], entry.spec.Command[1:]...)
		if err == nil {
			rec.RestartCount++
			rec.PID = handle.PID()
			rec.State = models.ProcessRunning
			if entry.spec.Timeout > 0 {
				entry.deadline = time.Now().Add(entry.spec.Timeout)
			}
			entry.handle = handle
			if alert := processAlert(rec, models.SeverityWarning,
				fmt.Sprintf("restarted after %s (attempt %d)", reason, rec.RestartCount)); alert != nil {
				rec.Alerts = append(rec.Alerts, *alert)
			}
			m.wg.Add(1)
			go m.waitFor(rec.ProcessID, handle)
			return
		}
		reason = fmt.Sprintf("%s; restart failed: %v", reason, err)
	}

	now := time.Now()
	rec.State = models.ProcessFailed
	rec.ExitCode = code
	rec.EndedAt = &now
	if alert := processAlert(rec, models.SeverityCritical, reason); alert != nil {
		rec.Alerts = append(rec.Alerts, *alert)
	}
}

// sampleAll takes one resource sample for every running process and
// recomputes health and alerts.
func (m *Monitor) sampleAll() {
	type target struct {
		id  string
		pid int
	}

	m.mu.RLock()
	var targets []target
	for id, entry := range m.procs {
		if entry.record.State == models.ProcessRunning {
			targets = append(targets, target{id, entry.record.PID})
		}
	}
	m.mu.RUnlock()

	for _, t := range targets {
		usage, err := m.sampler.Sample(t.pid)
		if err != nil {
			// The process may have just exited; the waiter records that.
			continue
		}

		m.mu.Lock()
		entry, ok := m.procs[t.id]
		if ok && entry.record.State == models.ProcessRunning {
			entry.record.LastUsage = usage
			entry.record.Health = Classify(usage, entry.record.Thresholds)
			entry.record.Alerts = append(entry.record.Alerts, evaluateAlerts(entry.record, usage)...)
		}
		m.mu.Unlock()
	}
}

// checkTimeouts forcibly terminates processes past their deadline.
func (m *Monitor) checkTimeouts() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	for _, entry := range m.procs {
		if entry.record.State != models.ProcessRunning {
			continue
		}
		if entry.deadline.IsZero() || now.Before(entry.deadline) {
			continue
		}

		if entry.handle != nil {
			_ = entry.handle.Kill()
		}
		if alert := processAlert(entry.record, models.SeverityCritical,
			fmt.Sprintf("timeout after %s", entry.spec.Timeout)); alert != nil {
			entry.record.Alerts = append(entry.record.Alerts, *alert)
		}
		m.failOrRestartLocked(entry, fmt.Sprintf("timeout after %s", entry.spec.Timeout), nil)
	}
}

// CheckTimeoutsNow runs one timeout pass outside the sampling loop.
// Used by callers that poll faster than the sampling interval.
func (m *Monitor) CheckTimeoutsNow() {
	m.checkTimeouts()
}

// Stop terminates the process if still alive, transitions it to
// terminated, and removes it from the live registry. The historical
// record is returned to the caller, not retained. For processes that
// already reached a terminal state this only unregisters them.
func (m *Monitor) Stop(processID string, cleanupResources bool) (*ProcessStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.procs[processID]
	if !ok {
		return nil, fmt.Errorf("process %s: %w", processID, ErrNotMonitored)
	}

	if !entry.record.State.Terminal() {
		if entry.handle != nil {
			_ = entry.handle.Kill()
		}
		now := time.Now()
		entry.record.State = models.ProcessTerminated
		entry.record.EndedAt = &now
	}

	status := entry.status(true, true)
	if cleanupResources {
		// The handle is dropped with the entry; kill above released the
		// OS process, and the reaper goroutine exits on its own.
		entry.handle = nil
	}
	delete(m.procs, processID)
	return status, nil
}

// status builds a point-in-time view of the entry. Callers must hold
// at least a read lock.
func (e *procEntry) status(includeMetrics, includeHistory bool) *ProcessStatus {
	rec := *e.record
	rec.Command = append([]string(nil), e.record.Command...)
	if includeHistory {
		rec.Alerts = append([]models.Alert(nil), e.record.Alerts...)
	} else {
		rec.Alerts = nil
	}
	if !includeMetrics {
		rec.LastUsage = nil
	} else if e.record.LastUsage != nil {
		usage := *e.record.LastUsage
		rec.LastUsage = &usage
	}

	status := &ProcessStatus{
		Record:      rec,
		RunningTime: rec.RunningTime(time.Now()),
	}
	if e.handle != nil {
		status.Output = e.handle.Output()
	}
	return status
}
