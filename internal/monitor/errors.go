package monitor

import "errors"

// Expected failure kinds. Callers match these with errors.Is.
var (
	// ErrAlreadyMonitored is returned when the process id is already
	// registered with the monitor.
	ErrAlreadyMonitored = errors.New("process already monitored")
	// ErrStartFailed is returned when the supervised command cannot be
	// launched. The underlying spawn error is attached via wrapping.
	ErrStartFailed = errors.New("process start failed")
	// ErrNotMonitored is returned when no process is registered under
	// the given id.
	ErrNotMonitored = errors.New("process not monitored")
)
