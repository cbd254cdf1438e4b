package orchestrator

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// SignalWatcher watches the repo's .herd/signals directory for operator
// signal files. Creating or writing a "kill" file requests cancellation
// of the whole run; "pause" and "resume" toggle dispatch of new tasks.
type SignalWatcher struct {
	dir     string
	watcher *fsnotify.Watcher
	done    chan struct{}
	kill    chan struct{}

	mu       sync.RWMutex
	paused   bool
	killOnce sync.Once
}

// NewSignalWatcher creates a watcher for the given repository.
func NewSignalWatcher(repoPath string) (*SignalWatcher, error) {
	dir := filepath.Join(repoPath, ".herd", "signals")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create signals directory: %w", err)
	}

	return &SignalWatcher{
		dir:  dir,
		done: make(chan struct{}),
		kill: make(chan struct{}),
	}, nil
}

// Start begins watching for signal files.
func (w *SignalWatcher) Start() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if err := watcher.Add(w.dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch signals directory: %w", err)
	}
	w.watcher = watcher

	go w.loop()
	return nil
}

func (w *SignalWatcher) loop() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			switch filepath.Base(event.Name) {
			case "kill":
				w.killOnce.Do(func() { close(w.kill) })
			case "pause":
				w.setPaused(true)
			case "resume":
				w.setPaused(false)
			}
		case _, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

func (w *SignalWatcher) setPaused(paused bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.paused = paused
}

// Kill returns a channel closed when an operator kill is requested.
func (w *SignalWatcher) Kill() <-chan struct{} {
	return w.kill
}

// Paused reports whether dispatch of new tasks is paused.
func (w *SignalWatcher) Paused() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.paused
}

// Stop stops the watcher and removes any leftover signal files so a
// stale kill does not cancel the next run.
func (w *SignalWatcher) Stop() {
	close(w.done)
	if w.watcher != nil {
		w.watcher.Close()
	}
	for _, name := range []string{"kill", "pause", "resume"} {
		_ = os.Remove(filepath.Join(w.dir, name))
	}
}
