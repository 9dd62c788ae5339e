package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ShayCichocki/hive/internal/session"
	"github.com/ShayCichocki/hive/pkg/models"
)

// fakeCoord is an in-memory Coordination for scheduler and merge tests.
type fakeCoord struct {
	mu          sync.Mutex
	heartbeats  map[string]int
	alive       map[string]bool
	locks       map[string]models.FileLock
	statuses    map[string]models.AgentStatus
	completions map[string]*models.CompletionNotice
	queries     []models.Message
	answer      string
	broadcasts  []string
	cleared     int
}

func newFakeCoord() *fakeCoord {
	return &fakeCoord{
		heartbeats:  make(map[string]int),
		alive:       make(map[string]bool),
		locks:       make(map[string]models.FileLock),
		statuses:    make(map[string]models.AgentStatus),
		completions: make(map[string]*models.CompletionNotice),
	}
}

func (f *fakeCoord) Heartbeat(projectID, session string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.heartbeats[session]++
	f.alive[session] = true
}

func (f *fakeCoord) Alive(projectID, session string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.alive[session]
}

func (f *fakeCoord) CheckLock(projectID, path string) (models.FileLock, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.locks[path]
	return l, ok
}

func (f *fakeCoord) SendQuery(projectID, from, target, body string) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msg := models.Message{
		ID:          fmt.Sprintf("q-%d", len(f.queries)+1),
		FromSession: from,
		ToSession:   target,
		Type:        models.MessageTypeQuery,
		Body:        body,
		SentAt:      time.Now(),
	}
	f.queries = append(f.queries, msg)
	return &msg, nil
}

func (f *fakeCoord) WaitResponse(ctx context.Context, projectID, sess, queryID string, timeout time.Duration) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.answer == "" {
		return nil, errors.New("no response before timeout")
	}
	return &models.Message{
		Type:    models.MessageTypeResponse,
		Body:    f.answer,
		ReplyTo: queryID,
	}, nil
}

func (f *fakeCoord) Broadcast(projectID, from string, typ models.MessageType, body string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.broadcasts = append(f.broadcasts, body)
	return len(f.alive), nil
}

func (f *fakeCoord) ReleaseAllLocks(projectID, session string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for path, l := range f.locks {
		if l.SessionName == session {
			delete(f.locks, path)
			n++
		}
	}
	return n
}

func (f *fakeCoord) UpdateAgentStatus(projectID, session string, status models.AgentStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[session] = status
	return nil
}

func (f *fakeCoord) TakeCompletion(projectID, taskID string) (*models.CompletionNotice, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.completions[taskID]
	if !ok {
		return nil, false, nil
	}
	delete(f.completions, taskID)
	return n, true, nil
}

func (f *fakeCoord) Stats(projectID string) (*models.CoordinationStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	stats := &models.CoordinationStats{ProjectID: projectID, TakenAt: time.Now()}
	for _, ok := range f.alive {
		if ok {
			stats.ActiveAgents++
		}
	}
	for _, l := range f.locks {
		stats.FileLocks = append(stats.FileLocks, l)
	}
	return stats, nil
}

func (f *fakeCoord) ClearProject(projectID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleared++
	f.alive = make(map[string]bool)
	f.locks = make(map[string]models.FileLock)
	f.completions = make(map[string]*models.CompletionNotice)
	return nil
}

func (f *fakeCoord) addCompletion(taskID, session string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completions[taskID] = &models.CompletionNotice{
		TaskID:      taskID,
		SessionName: session,
		CompletedAt: time.Now(),
	}
}

func (f *fakeCoord) addLock(path, session string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.locks[path] = models.FileLock{
		FilePath:    path,
		SessionName: session,
		Operation:   models.FileOpModify,
		AcquiredAt:  time.Now(),
	}
}

// fakeWorktrees tracks provisioned worktrees without touching git.
type fakeWorktrees struct {
	mu           sync.Mutex
	provisioned  map[string]string
	removed      []string
	provisionErr error
}

func newFakeWorktrees() *fakeWorktrees {
	return &fakeWorktrees{provisioned: make(map[string]string)}
}

func (f *fakeWorktrees) Provision(ctx context.Context, task *models.Task, all []*models.Task) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.provisionErr != nil {
		return "", f.provisionErr
	}
	path := "/worktrees/" + task.Branch
	f.provisioned[task.Branch] = path
	return path, nil
}

func (f *fakeWorktrees) Remove(branch string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.provisioned, branch)
	f.removed = append(f.removed, branch)
	return nil
}

func (f *fakeWorktrees) RemoveAll() (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := len(f.provisioned)
	f.provisioned = make(map[string]string)
	return n, nil
}

// fakeSessions tracks running session names in memory.
type fakeSessions struct {
	mu           sync.Mutex
	running      map[string]bool
	started      []session.StartOptions
	killed       []string
	startErr     error
	preflightErr error
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{running: make(map[string]bool)}
}

func (f *fakeSessions) Preflight(agentCommand string) error { return f.preflightErr }

func (f *fakeSessions) Start(ctx context.Context, opts session.StartOptions) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return "", f.startErr
	}
	name := session.NameForTask(opts.Task, opts.ProjectID)
	f.running[name] = true
	f.started = append(f.started, opts)
	return name, nil
}

func (f *fakeSessions) HasSession(ctx context.Context, name, branch string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running[name]
}

func (f *fakeSessions) Kill(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.running, name)
	f.killed = append(f.killed, name)
	return nil
}

func (f *fakeSessions) KillAll(ctx context.Context, projectID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := len(f.running)
	f.running = make(map[string]bool)
	return n
}

// endSession simulates the agent's tmux session exiting.
func (f *fakeSessions) endSession(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.running, name)
}

// fakeGit satisfies git.Runner with canned answers per branch and path.
type fakeGit struct {
	mu           sync.Mutex
	isRepo       bool
	branches     map[string]bool
	commitsAhead map[string]int
	changedFiles map[string][]string
	stages       map[string]map[int]string
	conflicts    []string
	mergeErrs    map[string]error

	checkouts []string
	merged    []string
	aborted   int
	noEdits   int
	added     []string
	theirs    []string
	deleted   []string
	pulls     int
}

func newFakeGit() *fakeGit {
	return &fakeGit{
		isRepo:       true,
		branches:     map[string]bool{defaultBaseBranch: true},
		commitsAhead: make(map[string]int),
		changedFiles: make(map[string][]string),
		stages:       make(map[string]map[int]string),
		mergeErrs:    make(map[string]error),
	}
}

func (f *fakeGit) CurrentBranch() (string, error) { return defaultBaseBranch, nil }

func (f *fakeGit) CheckoutBranch(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checkouts = append(f.checkouts, name)
	return nil
}

func (f *fakeGit) BranchExists(name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.branches[name], nil
}

func (f *fakeGit) DeleteBranch(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.branches, name)
	f.deleted = append(f.deleted, name)
	return nil
}

func (f *fakeGit) Status() (string, error)   { return "", nil }
func (f *fakeGit) HasChanges() (bool, error) { return false, nil }
func (f *fakeGit) ConflictedFiles() ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.conflicts, nil
}

func (f *fakeGit) ChangedFilesBetween(base, head string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.changedFiles[head], nil
}

func (f *fakeGit) CommitsAhead(base, branch string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.commitsAhead[branch], nil
}

func (f *fakeGit) Add(paths ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.added = append(f.added, paths...)
	return nil
}

func (f *fakeGit) Commit(message string) error { return nil }

func (f *fakeGit) CommitNoEdit() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.noEdits++
	return nil
}

func (f *fakeGit) MergeNoFF(branch, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.mergeErrs[branch]; err != nil {
		return err
	}
	f.merged = append(f.merged, branch)
	return nil
}

func (f *fakeGit) MergeAbort() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.aborted++
	return nil
}

func (f *fakeGit) ShowStage(stage int, path string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	stages, ok := f.stages[path]
	if !ok {
		return "", fmt.Errorf("no stage entries for %s", path)
	}
	content, ok := stages[stage]
	if !ok {
		return "", fmt.Errorf("no stage %d for %s", stage, path)
	}
	return content, nil
}

func (f *fakeGit) CheckoutOurs(path string) error { return nil }

func (f *fakeGit) CheckoutTheirs(path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.theirs = append(f.theirs, path)
	return nil
}

func (f *fakeGit) WorktreeAdd(path, branch string) error               { return nil }
func (f *fakeGit) WorktreeAddFromBase(path, branch, base string) error { return nil }
func (f *fakeGit) WorktreeRemove(path string) error                    { return nil }
func (f *fakeGit) WorktreeList() (string, error)                       { return "", nil }
func (f *fakeGit) WorktreePrune() error                                { return nil }

func (f *fakeGit) PullFFOnly() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pulls++
	return nil
}

func (f *fakeGit) IsRepo() bool { return f.isRepo }

func (f *fakeGit) Run(args ...string) (string, error) { return "", nil }
