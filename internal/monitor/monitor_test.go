package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ShayCichocki/herd/internal/config"
	"github.com/ShayCichocki/herd/internal/exec"
	"github.com/ShayCichocki/herd/pkg/models"
)

// fakeProc is a controllable exec.Process. Tests drive its exit via
// exit(); Kill makes Wait return like a signal death would.
type fakeProc struct {
	pid    int
	output []byte

	mu    sync.Mutex
	alive bool

	exitCh   chan int
	exitOnce sync.Once
}

func newFakeProc(pid int) *fakeProc {
	return &fakeProc{
		pid:    pid,
		alive:  true,
		output: []byte("worker output"),
		exitCh: make(chan int, 1),
	}
}

func (p *fakeProc) PID() int { return p.pid }

func (p *fakeProc) Wait() (int, error) {
	code := <-p.exitCh
	p.mu.Lock()
	p.alive = false
	p.mu.Unlock()
	return code, nil
}

func (p *fakeProc) Kill() error {
	p.mu.Lock()
	p.alive = false
	p.mu.Unlock()
	p.exit(137)
	return nil
}

func (p *fakeProc) Alive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.alive
}

func (p *fakeProc) Output() []byte { return p.output }

func (p *fakeProc) exit(code int) {
	p.exitOnce.Do(func() { p.exitCh <- code })
}

// fakeStarter hands out fakeProcs. Each Start consumes the next entry
// of exits: a non-negative code self-exits after a short delay, -1
// stays running until the test drives it.
type fakeStarter struct {
	mu       sync.Mutex
	startErr error
	exits    []int
	started  []*fakeProc
	nextPID  int
}

func (s *fakeStarter) Run(ctx context.Context, workDir, name string, args ...string) ([]byte, error) {
	return nil, nil
}

func (s *fakeStarter) RunShell(ctx context.Context, workDir, command string) ([]byte, error) {
	return nil, nil
}

func (s *fakeStarter) Start(workDir string, env map[string]string, name string, args ...string) (exec.Process, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.startErr != nil {
		return nil, s.startErr
	}

	s.nextPID++
	p := newFakeProc(1000 + s.nextPID)
	code := -1
	if len(s.started) < len(s.exits) {
		code = s.exits[len(s.started)]
	}
	s.started = append(s.started, p)

	if code >= 0 {
		go func() {
			time.Sleep(10 * time.Millisecond)
			p.exit(code)
		}()
	}
	return p, nil
}

func (s *fakeStarter) proc(i int) *fakeProc {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started[i]
}

func (s *fakeStarter) startCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.started)
}

// fakeSampler returns a fixed sample.
type fakeSampler struct {
	usage *models.ResourceUsage
	err   error
}

func (s *fakeSampler) Sample(pid int) (*models.ResourceUsage, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.usage, nil
}

// newTestMonitor builds a monitor without starting the sampling loop;
// tests drive sampling and timeouts directly.
func newTestMonitor(starter *fakeStarter) *Monitor {
	return New(config.MonitorConfig{
		SampleInterval:   time.Hour,
		SnapshotInterval: time.Hour,
	}, starter, &fakeSampler{err: errors.New("no sample")})
}

func waitForState(t *testing.T, m *Monitor, processID string, want models.ProcessState) *ProcessStatus {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		status, err := m.Get(processID, true, true)
		if err != nil {
			t.Fatalf("Get %s: %v", processID, err)
		}
		if status.Record.State == want {
			return status
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("process %s never reached state %q", processID, want)
	return nil
}

func spec(processID, taskID string) Spec {
	return Spec{
		ProcessID: processID,
		TaskID:    taskID,
		Category:  "agent",
		Command:   []string{"worker", taskID},
	}
}

func TestMonitorCompletion(t *testing.T) {
	starter := &fakeStarter{exits: []int{0}}
	m := newTestMonitor(starter)

	pid, err := m.Monitor(spec("p1", "t1"))
	if err != nil {
		t.Fatalf("Monitor: %v", err)
	}
	if pid == 0 {
		t.Error("pid = 0, want assigned")
	}

	status := waitForState(t, m, "p1", models.ProcessCompleted)
	if status.Record.ExitCode == nil || *status.Record.ExitCode != 0 {
		t.Errorf("ExitCode = %v, want 0", status.Record.ExitCode)
	}
	if status.Record.EndedAt == nil {
		t.Error("EndedAt not set on completion")
	}
	if string(status.Output) != "worker output" {
		t.Errorf("Output = %q, want %q", status.Output, "worker output")
	}
}

func TestMonitorFailureRaisesCriticalAlert(t *testing.T) {
	starter := &fakeStarter{exits: []int{3}}
	m := newTestMonitor(starter)

	if _, err := m.Monitor(spec("p1", "t1")); err != nil {
		t.Fatalf("Monitor: %v", err)
	}

	status := waitForState(t, m, "p1", models.ProcessFailed)
	if status.Record.ExitCode == nil || *status.Record.ExitCode != 3 {
		t.Errorf("ExitCode = %v, want 3", status.Record.ExitCode)
	}

	found := false
	for _, a := range status.Record.Alerts {
		if a.Type == models.AlertProcess && a.Severity == models.SeverityCritical {
			found = true
		}
	}
	if !found {
		t.Errorf("no critical lifecycle alert on failure, alerts = %v", status.Record.Alerts)
	}
}

func TestMonitorAlreadyMonitored(t *testing.T) {
	starter := &fakeStarter{exits: []int{-1}}
	m := newTestMonitor(starter)

	if _, err := m.Monitor(spec("p1", "t1")); err != nil {
		t.Fatalf("Monitor: %v", err)
	}
	if _, err := m.Monitor(spec("p1", "t1")); !errors.Is(err, ErrAlreadyMonitored) {
		t.Errorf("second Monitor = %v, want ErrAlreadyMonitored", err)
	}
	if _, err := m.Stop("p1", true); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestMonitorStartFailed(t *testing.T) {
	starter := &fakeStarter{startErr: fmt.Errorf("no such file")}
	m := newTestMonitor(starter)

	_, err := m.Monitor(spec("p1", "t1"))
	if !errors.Is(err, ErrStartFailed) {
		t.Fatalf("Monitor = %v, want ErrStartFailed", err)
	}
	// A failed launch must not leave a registry entry behind.
	if _, err := m.Get("p1", false, false); !errors.Is(err, ErrNotMonitored) {
		t.Errorf("Get after failed launch = %v, want ErrNotMonitored", err)
	}
}

func TestStopTerminatesAndUnregisters(t *testing.T) {
	starter := &fakeStarter{exits: []int{-1}}
	m := newTestMonitor(starter)

	if _, err := m.Monitor(spec("p1", "t1")); err != nil {
		t.Fatalf("Monitor: %v", err)
	}

	status, err := m.Stop("p1", true)
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if status.Record.State != models.ProcessTerminated {
		t.Errorf("State = %q, want %q", status.Record.State, models.ProcessTerminated)
	}
	if _, err := m.Get("p1", false, false); !errors.Is(err, ErrNotMonitored) {
		t.Errorf("Get after stop = %v, want ErrNotMonitored", err)
	}
	if starter.proc(0).Alive() {
		t.Error("process still alive after stop")
	}
	if _, err := m.Stop("p1", true); !errors.Is(err, ErrNotMonitored) {
		t.Errorf("second Stop = %v, want ErrNotMonitored", err)
	}
}

func TestTimeoutFailsProcess(t *testing.T) {
	starter := &fakeStarter{exits: []int{-1}}
	m := newTestMonitor(starter)

	s := spec("p1", "t1")
	s.Timeout = 10 * time.Millisecond
	if _, err := m.Monitor(s); err != nil {
		t.Fatalf("Monitor: %v", err)
	}

	time.Sleep(20 * time.Millisecond)
	m.CheckTimeoutsNow()

	status := waitForState(t, m, "p1", models.ProcessFailed)
	if starter.proc(0).Alive() {
		t.Error("process still alive after timeout")
	}

	found := false
	for _, a := range status.Record.Alerts {
		if a.Type == models.AlertProcess && a.Severity == models.SeverityCritical {
			found = true
		}
	}
	if !found {
		t.Errorf("no timeout alert raised, alerts = %v", status.Record.Alerts)
	}

	// A failed process must not show up in the running view.
	if ids := m.RunningTaskIDs(); len(ids) != 0 {
		t.Errorf("RunningTaskIDs = %v, want empty", ids)
	}
}

func TestAutoRestartThenExhausted(t *testing.T) {
	starter := &fakeStarter{exits: []int{1, -1}}
	m := newTestMonitor(starter)

	s := spec("p1", "t1")
	s.AutoRestart = true
	s.MaxRestarts = 1
	if _, err := m.Monitor(s); err != nil {
		t.Fatalf("Monitor: %v", err)
	}

	// First attempt exits 1; the monitor relaunches.
	deadline := time.Now().Add(2 * time.Second)
	for {
		status, err := m.Get("p1", false, true)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if status.Record.RestartCount == 1 && status.Record.State == models.ProcessRunning {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("process never restarted, state=%q restarts=%d",
				status.Record.State, status.Record.RestartCount)
		}
		time.Sleep(5 * time.Millisecond)
	}
	if starter.startCount() != 2 {
		t.Fatalf("start count = %d, want 2", starter.startCount())
	}

	// Second attempt fails too; the restart budget is spent.
	starter.proc(1).exit(1)
	status := waitForState(t, m, "p1", models.ProcessFailed)
	if status.Record.RestartCount != 1 {
		t.Errorf("RestartCount = %d, want 1", status.Record.RestartCount)
	}
	if starter.startCount() != 2 {
		t.Errorf("start count = %d, want 2 (no third attempt)", starter.startCount())
	}
}

func TestAllSummarizesByState(t *testing.T) {
	starter := &fakeStarter{exits: []int{0, -1, -1}}
	m := newTestMonitor(starter)

	if _, err := m.Monitor(spec("p1", "a-task")); err != nil {
		t.Fatalf("Monitor p1: %v", err)
	}
	waitForState(t, m, "p1", models.ProcessCompleted)

	for i, id := range []string{"p2", "p3"} {
		if _, err := m.Monitor(spec(id, fmt.Sprintf("b-task-%d", i))); err != nil {
			t.Fatalf("Monitor %s: %v", id, err)
		}
	}

	report := m.All(false)
	if report.Summary.Total != 3 {
		t.Errorf("Total = %d, want 3", report.Summary.Total)
	}
	if report.Summary.Running != 2 {
		t.Errorf("Running = %d, want 2", report.Summary.Running)
	}
	if report.Summary.ByState[models.ProcessCompleted] != 1 {
		t.Errorf("ByState[completed] = %d, want 1", report.Summary.ByState[models.ProcessCompleted])
	}
	if len(report.Processes) != 3 || report.Processes[0].Record.TaskID != "a-task" {
		t.Errorf("processes not sorted by task id: %+v", report.Processes)
	}

	ids := m.RunningTaskIDs()
	if len(ids) != 2 || ids[0] != "b-task-0" || ids[1] != "b-task-1" {
		t.Errorf("RunningTaskIDs = %v, want [b-task-0 b-task-1]", ids)
	}

	m.Shutdown()
}
