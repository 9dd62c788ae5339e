package session

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/ShayCichocki/hive/pkg/models"
)

// fakeRunner records commands and dispatches to a configurable handler.
type fakeRunner struct {
	mu    sync.Mutex
	calls [][]string
	run   func(workDir string, args []string) ([]byte, error)
}

func (f *fakeRunner) Run(ctx context.Context, workDir string, name string, args ...string) ([]byte, error) {
	full := append([]string{name}, args...)
	f.mu.Lock()
	f.calls = append(f.calls, full)
	f.mu.Unlock()
	if f.run != nil {
		return f.run(workDir, full)
	}
	return nil, nil
}

func (f *fakeRunner) RunShell(ctx context.Context, workDir string, command string) ([]byte, error) {
	return f.Run(ctx, workDir, "sh", "-c", command)
}

func (f *fakeRunner) LookPath(name string) (string, error) {
	return "/usr/bin/" + name, nil
}

func (f *fakeRunner) calledWith(subcommand string) [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var matched [][]string
	for _, call := range f.calls {
		if len(call) > 1 && call[0] == "tmux" && call[1] == subcommand {
			matched = append(matched, call)
		}
	}
	return matched
}

var errNoSession = errors.New("exit status 1")

func TestName(t *testing.T) {
	tests := []struct {
		taskID    string
		projectID string
		want      string
	}{
		{"7", "demo", "7-demo"},
		{"12", "webapp", "12-webapp"},
		{"3", strings.Repeat("p", 40), "3-" + strings.Repeat("p", 30)},
	}

	for _, tt := range tests {
		t.Run(tt.taskID+"-"+tt.projectID, func(t *testing.T) {
			got := Name(tt.taskID, tt.projectID)
			if got != tt.want {
				t.Errorf("Name(%q, %q) = %q, want %q", tt.taskID, tt.projectID, got, tt.want)
			}
			if len(got) > maxNameLen {
				t.Errorf("len(Name()) = %d, want <= %d", len(got), maxNameLen)
			}
		})
	}
}

func TestStartCreatesSessionAndWrapper(t *testing.T) {
	root := t.TempDir()
	worktree := filepath.Join(root, "worktrees", "task-7")

	fake := &fakeRunner{
		run: func(workDir string, args []string) ([]byte, error) {
			if args[1] == "has-session" {
				return nil, errNoSession
			}
			return nil, nil
		},
	}
	sup := NewSupervisorWithRunner(fake)

	task := &models.Task{
		TaskID: 7,
		Title:  "Add auth middleware",
		Branch: "task-7",
	}
	name, err := sup.Start(context.Background(), StartOptions{
		ProjectID:    "demo",
		ProjectRoot:  root,
		Task:         task,
		WorktreePath: worktree,
	})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if name != "7-demo" {
		t.Fatalf("Start() = %q, want %q", name, "7-demo")
	}

	created := fake.calledWith("new-session")
	if len(created) != 1 {
		t.Fatalf("Expected 1 new-session call, got %d", len(created))
	}
	call := strings.Join(created[0], " ")
	for _, want := range []string{"-d", "-s 7-demo", "-c " + worktree} {
		if !strings.Contains(call, want) {
			t.Errorf("new-session call %q missing %q", call, want)
		}
	}

	setEnv := fake.calledWith("set-environment")
	if len(setEnv) != 1 {
		t.Fatalf("Expected 1 set-environment call, got %d", len(setEnv))
	}
	if got := strings.Join(setEnv[0], " "); !strings.Contains(got, "BRANCH task-7") {
		t.Errorf("set-environment call = %q, want BRANCH task-7", got)
	}

	script, err := os.ReadFile(filepath.Join(root, ".hive", "agents", "7-demo.sh"))
	if err != nil {
		t.Fatalf("read wrapper script: %v", err)
	}
	for _, want := range []string{
		"export PROJECT_ID='demo'",
		"export SESSION_NAME='7-demo'",
		"export TASK_ID='7'",
		"export BRANCH='task-7'",
		"export TASK_TITLE='Add auth middleware'",
		"echo RUNNING > \"$STATUS_FILE\"",
		"trap 'echo COMPLETED > \"$STATUS_FILE\"' EXIT",
		"npm install",
		"pip install -r requirements.txt",
		"claude --dangerously-skip-permissions",
	} {
		if !strings.Contains(string(script), want) {
			t.Errorf("wrapper script missing %q", want)
		}
	}

	prompt, err := os.ReadFile(filepath.Join(root, ".hive", "agents", "7-demo.prompt"))
	if err != nil {
		t.Fatalf("read prompt file: %v", err)
	}
	if !strings.Contains(string(prompt), "register_agent") {
		t.Errorf("prompt missing register_agent instruction")
	}
	if !strings.Contains(string(prompt), "Add auth middleware") {
		t.Errorf("prompt missing task title")
	}
}

func TestStartRejectsDuplicateSession(t *testing.T) {
	fake := &fakeRunner{}
	sup := NewSupervisorWithRunner(fake)

	task := &models.Task{TaskID: 7, Title: "t", Branch: "task-7"}
	_, err := sup.Start(context.Background(), StartOptions{
		ProjectID:    "demo",
		ProjectRoot:  t.TempDir(),
		Task:         task,
		WorktreePath: "/tmp/wt",
	})
	if !errors.Is(err, ErrSessionExists) {
		t.Fatalf("Start() error = %v, want ErrSessionExists", err)
	}
	if len(fake.calledWith("new-session")) != 0 {
		t.Error("new-session should not be called for a duplicate")
	}
}

func TestHasSessionExact(t *testing.T) {
	fake := &fakeRunner{}
	sup := NewSupervisorWithRunner(fake)

	if !sup.HasSession(context.Background(), "7-demo", "task-7") {
		t.Error("HasSession() = false, want true for exact match")
	}
}

func TestHasSessionPrefixMatchVerifiedByBranch(t *testing.T) {
	project := strings.Repeat("p", 40)
	full := "12-" + project
	clipped := Name("12", project)

	branch := "task-12"
	fake := &fakeRunner{
		run: func(workDir string, args []string) ([]byte, error) {
			switch args[1] {
			case "has-session":
				return nil, errNoSession
			case "list-sessions":
				return []byte(clipped + "\n"), nil
			case "show-environment":
				return []byte("BRANCH=" + branch + "\n"), nil
			}
			return nil, nil
		},
	}
	sup := NewSupervisorWithRunner(fake)

	if !sup.HasSession(context.Background(), full, "task-12") {
		t.Error("HasSession() = false, want true via prefix match")
	}
	if sup.HasSession(context.Background(), full, "task-99") {
		t.Error("HasSession() = true for mismatched branch, want false")
	}
}

func TestHasSessionShortNameNoPrefixFallback(t *testing.T) {
	fake := &fakeRunner{
		run: func(workDir string, args []string) ([]byte, error) {
			switch args[1] {
			case "has-session":
				return nil, errNoSession
			case "list-sessions":
				return []byte("7-de\n"), nil
			}
			return nil, nil
		},
	}
	sup := NewSupervisorWithRunner(fake)

	if sup.HasSession(context.Background(), "7-demo", "task-7") {
		t.Error("HasSession() = true, want false: short names never prefix-match")
	}
}

func TestCaptureTail(t *testing.T) {
	fake := &fakeRunner{
		run: func(workDir string, args []string) ([]byte, error) {
			if args[1] == "capture-pane" {
				return []byte("one\ntwo\nthree\nfour\nfive\n"), nil
			}
			return nil, nil
		},
	}
	sup := NewSupervisorWithRunner(fake)

	got, err := sup.CaptureTail(context.Background(), "7-demo", 2)
	if err != nil {
		t.Fatalf("CaptureTail() error = %v", err)
	}
	if got != "four\nfive" {
		t.Errorf("CaptureTail() = %q, want %q", got, "four\nfive")
	}

	all, err := sup.CaptureTail(context.Background(), "7-demo", 0)
	if err != nil {
		t.Fatalf("CaptureTail() error = %v", err)
	}
	if all != "one\ntwo\nthree\nfour\nfive" {
		t.Errorf("CaptureTail(0) = %q, want full pane", all)
	}
}

func TestKillMissingSessionIsNoop(t *testing.T) {
	fake := &fakeRunner{
		run: func(workDir string, args []string) ([]byte, error) {
			if args[1] == "has-session" {
				return nil, errNoSession
			}
			return nil, nil
		},
	}
	sup := NewSupervisorWithRunner(fake)

	if err := sup.Kill(context.Background(), "7-demo"); err != nil {
		t.Fatalf("Kill() error = %v", err)
	}
	if len(fake.calledWith("kill-session")) != 0 {
		t.Error("kill-session should not be called for a missing session")
	}
}

func TestKillAllFiltersProject(t *testing.T) {
	fake := &fakeRunner{
		run: func(workDir string, args []string) ([]byte, error) {
			if args[1] == "list-sessions" {
				return []byte("1-demo\n2-demo\n1-other\nscratch\n"), nil
			}
			return nil, nil
		},
	}
	sup := NewSupervisorWithRunner(fake)

	killed := sup.KillAll(context.Background(), "demo")
	if killed != 2 {
		t.Errorf("KillAll() = %d, want 2", killed)
	}

	var targets []string
	for _, call := range fake.calledWith("kill-session") {
		targets = append(targets, call[len(call)-1])
	}
	want := []string{"=1-demo", "=2-demo"}
	if len(targets) != len(want) {
		t.Fatalf("kill-session targets = %v, want %v", targets, want)
	}
	for i := range want {
		if targets[i] != want[i] {
			t.Errorf("kill-session target[%d] = %q, want %q", i, targets[i], want[i])
		}
	}
}

func TestListSessionsNoServer(t *testing.T) {
	fake := &fakeRunner{
		run: func(workDir string, args []string) ([]byte, error) {
			return []byte("no server running on /tmp/tmux-0/default"), errNoSession
		},
	}
	sup := NewSupervisorWithRunner(fake)

	if got := sup.ListSessions(context.Background()); got != nil {
		t.Errorf("ListSessions() = %v, want nil when no server is running", got)
	}
}
