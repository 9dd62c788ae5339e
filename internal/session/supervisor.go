// Package session supervises the detached tmux sessions that host agents.
package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/ShayCichocki/hive/internal/exec"
	"github.com/ShayCichocki/hive/pkg/models"
)

// ErrSessionExists is returned by Start when the derived session name is
// already running.
var ErrSessionExists = errors.New("session already exists")

// maxNameLen bounds generated session names. tmux tolerates longer names,
// but short names keep status lines readable and some builds clip them, so
// HasSession falls back to prefix matching for anything longer.
const maxNameLen = 32

// Name derives the tmux session name for a task: <task_id>-<project_id>,
// clipped to maxNameLen.
func Name(taskID, projectID string) string {
	name := taskID + "-" + projectID
	if len(name) > maxNameLen {
		name = name[:maxNameLen]
	}
	return name
}

// NameForTask derives the session name from a task's numeric id.
func NameForTask(task *models.Task, projectID string) string {
	return Name(strconv.Itoa(task.TaskID), projectID)
}

// Supervisor starts, inspects, and kills the tmux sessions agents run in.
type Supervisor struct {
	runner exec.CommandRunner
	mu     sync.Mutex
}

// NewSupervisor creates a Supervisor backed by the real tmux binary.
func NewSupervisor() *Supervisor {
	return NewSupervisorWithRunner(exec.NewRunner())
}

// NewSupervisorWithRunner creates a Supervisor with a custom command runner.
// This is primarily useful for testing.
func NewSupervisorWithRunner(runner exec.CommandRunner) *Supervisor {
	return &Supervisor{runner: runner}
}

// StartOptions describes the agent session to create.
type StartOptions struct {
	// ProjectID namespaces the session and coordination state.
	ProjectID string
	// ProjectRoot is the repository root; generated files live under
	// its .hive directory.
	ProjectRoot string
	// Task is the task the agent will work on.
	Task *models.Task
	// WorktreePath is the working directory for the session.
	WorktreePath string
	// AgentCommand overrides the binary the wrapper invokes. Empty means
	// DefaultAgentCommand.
	AgentCommand string
}

// run executes a tmux command and wraps failures with the subcommand and
// combined output.
func (s *Supervisor) run(ctx context.Context, args ...string) ([]byte, error) {
	out, err := s.runner.Run(ctx, "", "tmux", args...)
	if err != nil {
		return out, fmt.Errorf("tmux %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return out, nil
}

// hasExact reports whether a session with exactly this name is running.
// The leading "=" in the target disables tmux's own prefix matching.
func (s *Supervisor) hasExact(ctx context.Context, name string) bool {
	_, err := s.runner.Run(ctx, "", "tmux", "has-session", "-t", "="+name)
	return err == nil
}

// Preflight verifies tmux and the agent command are on PATH before any
// spawn is attempted.
func (s *Supervisor) Preflight(agentCommand string) error {
	if _, err := s.runner.LookPath("tmux"); err != nil {
		return fmt.Errorf("tmux not found on PATH: %w", err)
	}
	if agentCommand == "" {
		agentCommand = DefaultAgentCommand
	}
	if _, err := s.runner.LookPath(agentCommand); err != nil {
		return fmt.Errorf("agent command %q not found on PATH: %w", agentCommand, err)
	}
	return nil
}

// Start creates a detached tmux session for the task and returns its name.
// The session runs a generated wrapper script inside the worktree; the
// wrapper maintains the status sentinel around the agent process.
func (s *Supervisor) Start(ctx context.Context, opts StartOptions) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := NameForTask(opts.Task, opts.ProjectID)
	if s.hasExact(ctx, name) {
		return "", fmt.Errorf("session %s: %w", name, ErrSessionExists)
	}

	scriptPath, err := writeAgentFiles(opts, name)
	if err != nil {
		return "", fmt.Errorf("write agent files: %w", err)
	}

	if _, err := s.run(ctx, "new-session", "-d", "-s", name, "-c", opts.WorktreePath,
		"bash "+shellQuote(scriptPath)); err != nil {
		return "", err
	}

	// Record the branch in the session environment so HasSession can
	// verify prefix matches on clipped names.
	if _, err := s.run(ctx, "set-environment", "-t", name, "BRANCH", opts.Task.Branch); err != nil {
		_, _ = s.run(ctx, "kill-session", "-t", "="+name)
		return "", err
	}

	return name, nil
}

// ListSessions returns the names of all running tmux sessions. A missing
// tmux server reports as no sessions.
func (s *Supervisor) ListSessions(ctx context.Context) []string {
	out, err := s.runner.Run(ctx, "", "tmux", "list-sessions", "-F", "#{session_name}")
	if err != nil {
		return nil
	}
	var sessions []string
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		if line != "" {
			sessions = append(sessions, line)
		}
	}
	return sessions
}

// ProjectSessions returns the running sessions that belong to a project.
func (s *Supervisor) ProjectSessions(ctx context.Context, projectID string) []string {
	var matched []string
	for _, sess := range s.ListSessions(ctx) {
		if strings.HasSuffix(sess, "-"+projectID) {
			matched = append(matched, sess)
		}
	}
	return matched
}

// HasSession reports whether the named session is running. When the name
// was clipped at creation, a running session that is a prefix of name is
// accepted if its recorded BRANCH environment variable matches branch.
func (s *Supervisor) HasSession(ctx context.Context, name, branch string) bool {
	if s.hasExact(ctx, name) {
		return true
	}
	if len(name) <= maxNameLen {
		return false
	}
	for _, sess := range s.ListSessions(ctx) {
		if sess != name && strings.HasPrefix(name, sess) && s.sessionBranch(ctx, sess) == branch {
			return true
		}
	}
	return false
}

// sessionBranch reads the BRANCH variable recorded in a session's
// environment, or "" when absent.
func (s *Supervisor) sessionBranch(ctx context.Context, name string) string {
	out, err := s.runner.Run(ctx, "", "tmux", "show-environment", "-t", name, "BRANCH")
	if err != nil {
		return ""
	}
	_, value, found := strings.Cut(strings.TrimSpace(string(out)), "=")
	if !found {
		return ""
	}
	return value
}

// CaptureTail returns the last lines of the session's visible pane output.
// lines <= 0 returns the whole pane.
func (s *Supervisor) CaptureTail(ctx context.Context, name string, lines int) (string, error) {
	out, err := s.run(ctx, "capture-pane", "-t", name, "-p")
	if err != nil {
		return "", err
	}
	text := strings.TrimRight(string(out), "\n")
	if lines <= 0 {
		return text, nil
	}
	all := strings.Split(text, "\n")
	if len(all) > lines {
		all = all[len(all)-lines:]
	}
	return strings.Join(all, "\n"), nil
}

// Kill terminates the named session. Killing a session that is not running
// is not an error.
func (s *Supervisor) Kill(ctx context.Context, name string) error {
	if !s.hasExact(ctx, name) {
		return nil
	}
	_, err := s.run(ctx, "kill-session", "-t", "="+name)
	return err
}

// KillAll terminates every session belonging to the project and returns
// how many were killed.
func (s *Supervisor) KillAll(ctx context.Context, projectID string) int {
	killed := 0
	for _, sess := range s.ProjectSessions(ctx, projectID) {
		if err := s.Kill(ctx, sess); err == nil {
			killed++
		}
	}
	return killed
}
