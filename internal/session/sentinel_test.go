package session

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestReadStatus(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(StatusDir(root), 0o755); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		content string
		want    Status
	}{
		{"running", "RUNNING\n", StatusRunning},
		{"completed", "COMPLETED\n", StatusCompleted},
		{"completed no newline", "COMPLETED", StatusCompleted},
		{"garbage", "CRASHED\n", StatusUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			session := "7-" + tt.name
			path := StatusPath(root, session)
			if err := os.WriteFile(path, []byte(tt.content), 0o644); err != nil {
				t.Fatal(err)
			}
			if got := ReadStatus(root, session); got != tt.want {
				t.Errorf("ReadStatus() = %q, want %q", got, tt.want)
			}
		})
	}

	if got := ReadStatus(root, "missing-session"); got != StatusUnknown {
		t.Errorf("ReadStatus(missing) = %q, want StatusUnknown", got)
	}
}

func TestClearStatus(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(StatusDir(root), 0o755); err != nil {
		t.Fatal(err)
	}

	path := StatusPath(root, "7-demo")
	if err := os.WriteFile(path, []byte("COMPLETED\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := ClearStatus(root, "7-demo"); err != nil {
		t.Fatalf("ClearStatus() error = %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("sentinel still exists after ClearStatus")
	}

	// Clearing again is not an error.
	if err := ClearStatus(root, "7-demo"); err != nil {
		t.Fatalf("ClearStatus() second call error = %v", err)
	}
}

func TestWatcherReportsSentinelWrites(t *testing.T) {
	root := t.TempDir()

	w, err := WatchStatus(root)
	if err != nil {
		t.Fatalf("WatchStatus() error = %v", err)
	}
	defer w.Close()

	path := StatusPath(root, "7-demo")
	if err := os.WriteFile(path, []byte("RUNNING\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case session := <-w.Changes():
		if session != "7-demo" {
			t.Errorf("Changes() = %q, want %q", session, "7-demo")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for sentinel event")
	}
}

func TestWatcherIgnoresOtherFiles(t *testing.T) {
	root := t.TempDir()

	w, err := WatchStatus(root)
	if err != nil {
		t.Fatalf("WatchStatus() error = %v", err)
	}
	defer w.Close()

	other := filepath.Join(StatusDir(root), "notes.txt")
	if err := os.WriteFile(other, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case session := <-w.Changes():
		t.Errorf("unexpected event for %q", session)
	case <-time.After(300 * time.Millisecond):
	}
}
