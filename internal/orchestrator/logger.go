// Package orchestrator coordinates task dispatch across workspaces and
// supervised worker processes.
package orchestrator

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// pkgLogger serves components without direct access to the
// coordinator's logger (conflict checker, sequential path).
var (
	pkgLogger   *DebugLogger
	pkgLoggerMu sync.RWMutex
)

func setPackageLogger(l *DebugLogger) {
	pkgLoggerMu.Lock()
	defer pkgLoggerMu.Unlock()
	pkgLogger = l
}

func debugLog(format string, args ...interface{}) {
	pkgLoggerMu.RLock()
	l := pkgLogger
	pkgLoggerMu.RUnlock()
	l.Log(format, args...)
}

// DebugLogger appends timestamped diagnostics for one coordinator
// session. The zero value and a nil receiver both discard messages, so
// call sites never need a guard.
type DebugLogger struct {
	mu sync.Mutex
	w  io.WriteCloser
}

// NewDebugLogger opens the log file at path in append mode, creating
// parent directories as needed. An empty path yields a discarding
// logger.
func NewDebugLogger(path string) (*DebugLogger, error) {
	if path == "" {
		return &DebugLogger{}, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	l := &DebugLogger{w: f}
	l.Log("coordinator session opened, pid=%d", os.Getpid())
	return l, nil
}

// NewDebugLoggerForRepo opens a dated log file under the repo's
// .herd/logs directory. Falls back to a discarding logger when the
// file cannot be opened, so a read-only checkout still runs.
func NewDebugLoggerForRepo(repoPath string) *DebugLogger {
	name := fmt.Sprintf("coordinator-%s.log", time.Now().Format("2006-01-02"))
	l, err := NewDebugLogger(filepath.Join(repoPath, ".herd", "logs", name))
	if err != nil {
		return &DebugLogger{}
	}
	return l
}

// NopLogger returns a logger that discards everything.
func NopLogger() *DebugLogger {
	return &DebugLogger{}
}

// Log writes one timestamped line.
func (l *DebugLogger) Log(format string, args ...interface{}) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.w == nil {
		return
	}
	fmt.Fprintf(l.w, "%s | %s\n",
		time.Now().Format("2006-01-02 15:04:05.000"), fmt.Sprintf(format, args...))
}

// Close releases the underlying file and turns the logger into a
// discarding one. Safe on nil and discarding loggers.
func (l *DebugLogger) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.w == nil {
		return nil
	}
	err := l.w.Close()
	l.w = nil
	return err
}
