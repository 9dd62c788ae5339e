package session

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// Status is the agent lifecycle state recorded in a session's sentinel file.
type Status string

const (
	// StatusUnknown means no sentinel exists for the session.
	StatusUnknown Status = ""
	// StatusRunning means the wrapper has launched the agent process.
	StatusRunning Status = "RUNNING"
	// StatusCompleted means the agent process has exited.
	StatusCompleted Status = "COMPLETED"
)

// StatusDir returns the sentinel directory for a project root.
func StatusDir(projectRoot string) string {
	return filepath.Join(projectRoot, ".hive", "status")
}

// StatusPath returns the sentinel file path for a session.
func StatusPath(projectRoot, session string) string {
	return filepath.Join(StatusDir(projectRoot), session+".status")
}

// ReadStatus reads a session's sentinel. A missing, unreadable, or
// unrecognized file reads as StatusUnknown.
func ReadStatus(projectRoot, session string) Status {
	data, err := os.ReadFile(StatusPath(projectRoot, session))
	if err != nil {
		return StatusUnknown
	}
	switch strings.TrimSpace(string(data)) {
	case string(StatusRunning):
		return StatusRunning
	case string(StatusCompleted):
		return StatusCompleted
	default:
		return StatusUnknown
	}
}

// ClearStatus removes a session's sentinel after the scheduler reaps it.
// A missing sentinel is not an error.
func ClearStatus(projectRoot, session string) error {
	err := os.Remove(StatusPath(projectRoot, session))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Watcher surfaces sentinel writes so the scheduler can react between
// ticks. Dropped events are harmless; the periodic tick re-reads every
// sentinel anyway.
type Watcher struct {
	watcher *fsnotify.Watcher
	changes chan string
	done    chan struct{}
}

// WatchStatus watches a project's sentinel directory. Each value on
// Changes is the session name whose sentinel was created or written.
func WatchStatus(projectRoot string) (*Watcher, error) {
	dir := StatusDir(projectRoot)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, err
	}

	w := &Watcher{
		watcher: fw,
		changes: make(chan string, 16),
		done:    make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&fsnotify.Create == 0 && event.Op&fsnotify.Write == 0 {
				continue
			}
			session, found := strings.CutSuffix(filepath.Base(event.Name), ".status")
			if !found {
				continue
			}
			select {
			case w.changes <- session:
			default:
				// Channel full; the next tick picks the change up.
			}
		case <-w.watcher.Errors:
			// Keep watching.
		}
	}
}

// Changes returns the channel of session names with updated sentinels.
func (w *Watcher) Changes() <-chan string {
	return w.changes
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	close(w.done)
	return w.watcher.Close()
}
