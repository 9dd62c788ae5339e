// Package worktree provisions and removes the per-task git worktrees
// agents work in.
package worktree

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ShayCichocki/hive/internal/exec"
	"github.com/ShayCichocki/hive/internal/git"
	"github.com/ShayCichocki/hive/pkg/models"
)

// DefaultBaseBranch is the fork point when no initialization dependency
// has merged yet.
const DefaultBaseBranch = "main"

// Agent configuration seeded from the project root into every worktree.
const (
	agentConfigFile = "CLAUDE.md"
	agentConfigDir  = ".claude"
	mcpConfigFile   = ".mcp.json"
)

// gitRunner is the slice of git behavior the manager needs.
type gitRunner interface {
	IsRepo() bool
	git.BranchOperations
	git.WorktreeOperations
}

// Worktree is one entry in git's worktree list.
type Worktree struct {
	// Path is the absolute checkout directory.
	Path string
	// Branch is the checked-out branch, or "" for a detached worktree.
	Branch string
}

// Options configures a Manager.
type Options struct {
	// Endpoint is the coordination server URL written into each
	// worktree's MCP configuration.
	Endpoint string
	// Git overrides the git runner. Used for testing.
	Git gitRunner
	// Exec overrides the runner for setup commands. Used for testing.
	Exec exec.CommandRunner
	// Logger receives setup-command warnings. Defaults to silent.
	Logger *log.Logger
}

// Manager creates and removes task worktrees. All worktrees live under
// <project_root>/worktrees, one per task branch.
type Manager struct {
	projectRoot string
	endpoint    string
	git         gitRunner
	exec        exec.CommandRunner
	logger      *log.Logger
	mu          sync.Mutex
}

// NewManager creates a worktree manager for the repository at projectRoot.
func NewManager(projectRoot string, opts Options) (*Manager, error) {
	g := opts.Git
	if g == nil {
		g = git.NewRunner(projectRoot)
	}
	if !g.IsRepo() {
		return nil, fmt.Errorf("%s is not a git repository", projectRoot)
	}

	runner := opts.Exec
	if runner == nil {
		runner = exec.NewRunner()
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	return &Manager{
		projectRoot: projectRoot,
		endpoint:    opts.Endpoint,
		git:         g,
		exec:        runner,
		logger:      logger,
	}, nil
}

// BaseDir returns the directory all task worktrees live under.
func (m *Manager) BaseDir() string {
	return filepath.Join(m.projectRoot, "worktrees")
}

// Dir returns the worktree path for a branch.
func (m *Manager) Dir(branch string) string {
	return filepath.Join(m.BaseDir(), branch)
}

// BaseBranch returns the branch a task's worktree forks from: the branch
// of the most recently merged task among its initialization deps, else
// DefaultBaseBranch.
func BaseBranch(task *models.Task, all []*models.Task) string {
	byID := make(map[string]*models.Task, len(all))
	for _, t := range all {
		byID[t.ID] = t
	}

	var newest *models.Task
	for _, dep := range task.InitializationDeps {
		t, ok := byID[dep]
		if !ok || t.Status != models.TaskStatusMerged || t.MergedAt == nil {
			continue
		}
		if newest == nil || t.MergedAt.After(*newest.MergedAt) {
			newest = t
		}
	}
	if newest != nil {
		return newest.Branch
	}
	return DefaultBaseBranch
}

// Provision prepares the worktree a task's agent will run in: create or
// reuse the checkout at worktrees/<branch>, seed the agent configuration,
// and run the task's setup commands. Setup command failures are logged
// but do not abort the spawn.
func (m *Manager) Provision(ctx context.Context, task *models.Task, all []*models.Task) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	path, err := m.ensureWorktree(task, all)
	if err != nil {
		return "", err
	}
	if err := m.seedAgentConfig(path); err != nil {
		return "", fmt.Errorf("seed agent config: %w", err)
	}
	m.runSetupCommands(ctx, path, task.SetupCommands)
	return path, nil
}

// ensureWorktree returns the checkout path for the task's branch,
// creating the worktree if git does not already track one.
func (m *Manager) ensureWorktree(task *models.Task, all []*models.Task) (string, error) {
	existing, err := m.List()
	if err != nil {
		return "", err
	}
	for _, wt := range existing {
		if wt.Branch == task.Branch {
			return wt.Path, nil
		}
	}

	path := m.Dir(task.Branch)
	if err := os.MkdirAll(m.BaseDir(), 0o755); err != nil {
		return "", err
	}
	if _, err := os.Stat(path); err == nil {
		// Stale directory from a crashed run; git refuses to add over it.
		if err := os.RemoveAll(path); err != nil {
			return "", fmt.Errorf("clear stale worktree dir: %w", err)
		}
	}

	exists, err := m.git.BranchExists(task.Branch)
	if err != nil {
		return "", err
	}
	if exists {
		err = m.git.WorktreeAdd(path, task.Branch)
	} else {
		err = m.git.WorktreeAddFromBase(path, task.Branch, BaseBranch(task, all))
	}
	if err != nil {
		return "", fmt.Errorf("create worktree for %s: %w", task.Branch, err)
	}
	return path, nil
}

// seedAgentConfig copies the project's agent configuration into the
// worktree, replacing existing copies, and writes the MCP server wiring.
func (m *Manager) seedAgentConfig(path string) error {
	srcFile := filepath.Join(m.projectRoot, agentConfigFile)
	if _, err := os.Stat(srcFile); err == nil {
		if err := copyFile(srcFile, filepath.Join(path, agentConfigFile)); err != nil {
			return err
		}
	}

	srcDir := filepath.Join(m.projectRoot, agentConfigDir)
	if info, err := os.Stat(srcDir); err == nil && info.IsDir() {
		dst := filepath.Join(path, agentConfigDir)
		if err := os.RemoveAll(dst); err != nil {
			return err
		}
		if err := copyDir(srcDir, dst); err != nil {
			return err
		}
	}

	return m.writeMCPConfig(path)
}

type mcpServerConfig struct {
	Type string `json:"type"`
	URL  string `json:"url"`
}

type mcpConfig struct {
	MCPServers map[string]mcpServerConfig `json:"mcpServers"`
}

// writeMCPConfig wires the hive coordination server into the worktree so
// the agent process picks the tools up on start.
func (m *Manager) writeMCPConfig(path string) error {
	if m.endpoint == "" {
		return nil
	}
	cfg := mcpConfig{
		MCPServers: map[string]mcpServerConfig{
			"hive": {Type: "http", URL: m.endpoint},
		},
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(path, mcpConfigFile), append(data, '\n'), 0o644)
}

// runSetupCommands runs each command through the shell in the worktree
// root. Output is captured for diagnostics; a non-zero exit is a warning,
// not an error, since the agent may still self-recover.
func (m *Manager) runSetupCommands(ctx context.Context, dir string, commands []string) {
	for _, command := range commands {
		out, err := m.exec.RunShell(ctx, dir, command)
		if err != nil {
			m.logger.Printf("setup command %q failed: %v: %s", command, err, strings.TrimSpace(string(out)))
		}
	}
}

// Remove deletes the worktree for a branch and prunes stale entries.
// Called after the branch merges; the checkout is never needed again.
func (m *Manager) Remove(branch string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.remove(m.Dir(branch))
}

func (m *Manager) remove(path string) error {
	if err := m.git.WorktreeRemove(path); err != nil {
		// Fall back to removing the directory; prune cleans up the
		// metadata git left behind.
		if rmErr := os.RemoveAll(path); rmErr != nil {
			return fmt.Errorf("remove worktree %s: %w", path, err)
		}
	}
	return m.git.WorktreePrune()
}

// RemoveAll tears down every worktree under the project's worktrees
// directory and returns how many were removed. Used by project reset.
func (m *Manager) RemoveAll() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	worktrees, err := m.List()
	if err != nil {
		return 0, err
	}

	base := m.BaseDir() + string(filepath.Separator)
	removed := 0
	var lastErr error
	for _, wt := range worktrees {
		if !strings.HasPrefix(wt.Path, base) {
			continue
		}
		if err := m.remove(wt.Path); err != nil {
			lastErr = err
			continue
		}
		removed++
	}

	// Directories git no longer tracks still count as teardown targets.
	entries, err := os.ReadDir(m.BaseDir())
	if err == nil {
		for _, entry := range entries {
			stale := filepath.Join(m.BaseDir(), entry.Name())
			if err := os.RemoveAll(stale); err != nil {
				lastErr = err
			}
		}
	}

	return removed, lastErr
}

// List parses git's worktree listing into entries.
func (m *Manager) List() ([]Worktree, error) {
	output, err := m.git.WorktreeList()
	if err != nil {
		return nil, err
	}
	return parseWorktreeList(output), nil
}

// parseWorktreeList parses `git worktree list --porcelain` output. Each
// entry starts with a "worktree <path>" line; entries are separated by
// blank lines.
func parseWorktreeList(output string) []Worktree {
	var (
		worktrees []Worktree
		current   Worktree
	)
	flush := func() {
		if current.Path != "" {
			worktrees = append(worktrees, current)
		}
		current = Worktree{}
	}

	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case line == "":
			flush()
		case strings.HasPrefix(line, "worktree "):
			if current.Path != "" {
				flush()
			}
			current.Path = strings.TrimPrefix(line, "worktree ")
		case strings.HasPrefix(line, "branch refs/heads/"):
			current.Branch = strings.TrimPrefix(line, "branch refs/heads/")
		}
	}
	flush()
	return worktrees
}

// copyFile copies src to dst, preserving the source's permission bits.
func copyFile(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, info.Mode().Perm())
}

// copyDir recursively copies the directory tree rooted at src to dst.
func copyDir(src, dst string) error {
	return filepath.WalkDir(src, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		return copyFile(p, target)
	})
}
