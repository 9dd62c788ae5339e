package orchestrator

import (
	"context"
	"errors"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/ShayCichocki/hive/internal/eventbus"
	"github.com/ShayCichocki/hive/internal/session"
	"github.com/ShayCichocki/hive/internal/taskstore"
	"github.com/ShayCichocki/hive/pkg/models"
)

// fixture wires a scheduler against in-memory fakes and a real task store
// in a temp directory.
type fixture struct {
	t         *testing.T
	root      string
	project   *models.Project
	store     *taskstore.Store
	coord     *fakeCoord
	worktrees *fakeWorktrees
	sessions  *fakeSessions
	git       *fakeGit
	merges    *MergeQueue
	sched     *Scheduler
}

func newFixture(t *testing.T, cfg Config, bus *eventbus.Bus) *fixture {
	t.Helper()
	root := t.TempDir()
	store := taskstore.New(root)
	if err := store.Init(); err != nil {
		t.Fatalf("init task store: %v", err)
	}
	f := &fixture{
		t:         t,
		root:      root,
		project:   &models.Project{ID: "demo", Name: "demo", Path: root},
		store:     store,
		coord:     newFakeCoord(),
		worktrees: newFakeWorktrees(),
		sessions:  newFakeSessions(),
		git:       newFakeGit(),
	}
	f.merges = NewMergeQueue(f.project, store, f.coord, f.worktrees, f.git, bus)
	f.sched = NewScheduler(f.project, store, f.coord, f.worktrees, f.sessions, f.merges, f.git, bus, cfg)
	return f
}

func (f *fixture) add(title string, opts taskstore.AddOptions) *models.Task {
	f.t.Helper()
	task, err := f.store.Add(title, opts)
	if err != nil {
		f.t.Fatalf("add %q: %v", title, err)
	}
	return task
}

func (f *fixture) get(id string) *models.Task {
	f.t.Helper()
	task, err := f.store.Get(id)
	if err != nil {
		f.t.Fatalf("get %s: %v", id, err)
	}
	return task
}

func (f *fixture) tick() {
	f.t.Helper()
	if err := f.sched.Tick(context.Background()); err != nil {
		f.t.Fatalf("tick: %v", err)
	}
}

func (f *fixture) sessionName(task *models.Task) string {
	return session.NameForTask(task, f.project.ID)
}

func TestTickSpawnsUpToTarget(t *testing.T) {
	f := newFixture(t, Config{MaxConcurrentAgents: 2, AutoMerge: false}, nil)
	urgent := f.add("Urgent work", taskstore.AddOptions{Priority: 1})
	normal := f.add("Normal work", taskstore.AddOptions{Priority: 5})
	backlog := f.add("Backlog work", taskstore.AddOptions{})

	f.tick()

	if got := f.get(urgent.ID).Status; got != models.TaskStatusInProgress {
		t.Errorf("urgent task status = %s, want in_progress", got)
	}
	if got := f.get(normal.ID).Status; got != models.TaskStatusInProgress {
		t.Errorf("normal task status = %s, want in_progress", got)
	}
	if got := f.get(backlog.ID).Status; got != models.TaskStatusUnclaimed {
		t.Errorf("third task status = %s, want unclaimed past the cap", got)
	}
	if len(f.sessions.started) != 2 {
		t.Fatalf("started %d sessions, want 2", len(f.sessions.started))
	}
	// Urgent work is picked first.
	if got := f.sessions.started[0].Task.ID; got != urgent.ID {
		t.Errorf("first spawn = %s, want %s", got, urgent.ID)
	}
	for _, opts := range f.sessions.started {
		if opts.WorktreePath == "" {
			t.Errorf("session for %s started without a worktree", opts.Task.ID)
		}
	}
	// A baseline heartbeat keeps the agent alive before its first RPC.
	if f.coord.heartbeats[f.sessionName(urgent)] == 0 {
		t.Error("spawn did not record a baseline heartbeat")
	}
}

func TestTickRecordsSessionOnTask(t *testing.T) {
	f := newFixture(t, Config{MaxConcurrentAgents: 1, AutoMerge: false}, nil)
	task := f.add("Task", taskstore.AddOptions{})

	f.tick()

	got := f.get(task.ID)
	if got.Session != f.sessionName(task) {
		t.Errorf("task session = %q, want %q", got.Session, f.sessionName(task))
	}
}

func TestPromotionWaitsForDependencies(t *testing.T) {
	f := newFixture(t, Config{MaxConcurrentAgents: 2, AutoMerge: false}, nil)
	base := f.add("Build schema", taskstore.AddOptions{})
	dependent := f.add("Build API", taskstore.AddOptions{Dependencies: []string{base.ID}})

	f.tick()
	if got := f.get(dependent.ID).Status; got != models.TaskStatusUnclaimed {
		t.Fatalf("dependent task status = %s, want unclaimed while dep runs", got)
	}

	f.coord.addCompletion(strconv.Itoa(base.TaskID), f.sessionName(base))
	f.tick()
	if got := f.get(base.ID).Status; got != models.TaskStatusCompleted {
		t.Fatalf("base task status = %s, want completed", got)
	}

	f.tick()
	if got := f.get(dependent.ID).Status; got != models.TaskStatusInProgress {
		t.Errorf("dependent task status = %s, want in_progress after dep completed", got)
	}
}

func TestConflictingTasksNeverRunTogether(t *testing.T) {
	f := newFixture(t, Config{MaxConcurrentAgents: 2, AutoMerge: false}, nil)
	first := f.add("Edit app config", taskstore.AddOptions{
		Priority:       1,
		ExclusiveFiles: []string{"src/config.js"},
	})
	second := f.add("Rewrite app config", taskstore.AddOptions{
		Priority:       2,
		ExclusiveFiles: []string{"src/"},
	})

	f.tick()
	if got := f.get(first.ID).Status; got != models.TaskStatusInProgress {
		t.Fatalf("first task status = %s, want in_progress", got)
	}
	if got := f.get(second.ID).Status; got != models.TaskStatusUpNext {
		t.Fatalf("second task status = %s, want held in up_next", got)
	}

	// Once the first task completes it no longer blocks the claim.
	f.coord.addCompletion(strconv.Itoa(first.TaskID), f.sessionName(first))
	f.tick()
	f.tick()
	if got := f.get(second.ID).Status; got != models.TaskStatusInProgress {
		t.Errorf("second task status = %s, want in_progress after first finished", got)
	}
}

func TestDemotionWhenProjectCapShrinks(t *testing.T) {
	f := newFixture(t, Config{MaxConcurrentAgents: 3, AutoMerge: false}, nil)
	f.sessions.startErr = errors.New("tmux unavailable")
	urgent := f.add("Urgent", taskstore.AddOptions{Priority: 1})
	mid := f.add("Middling", taskstore.AddOptions{Priority: 5})
	low := f.add("Low", taskstore.AddOptions{Priority: 9})

	f.tick()
	for _, task := range []*models.Task{urgent, mid, low} {
		if got := f.get(task.ID).Status; got != models.TaskStatusUpNext {
			t.Fatalf("%s status = %s, want up_next when spawns fail", task.ID, got)
		}
	}

	f.project.MaxAgents = 1
	f.tick()

	if got := f.get(urgent.ID).Status; got != models.TaskStatusUpNext {
		t.Errorf("urgent task status = %s, want to keep its slot", got)
	}
	if got := f.get(mid.ID).Status; got != models.TaskStatusUnclaimed {
		t.Errorf("middling task status = %s, want demoted", got)
	}
	if got := f.get(low.ID).Status; got != models.TaskStatusUnclaimed {
		t.Errorf("low task status = %s, want demoted", got)
	}
}

func TestSpawnFailureLeavesTaskQueued(t *testing.T) {
	f := newFixture(t, Config{MaxConcurrentAgents: 1, AutoMerge: false}, nil)
	f.sessions.startErr = errors.New("tmux unavailable")
	task := f.add("Task", taskstore.AddOptions{})

	f.tick()

	if got := f.get(task.ID).Status; got != models.TaskStatusUpNext {
		t.Errorf("task status = %s, want up_next for retry", got)
	}
	// The provisioned worktree is rolled back so the retry starts clean.
	if len(f.worktrees.removed) != 1 || f.worktrees.removed[0] != task.Branch {
		t.Errorf("removed worktrees = %v, want [%s]", f.worktrees.removed, task.Branch)
	}

	f.sessions.startErr = nil
	f.tick()
	if got := f.get(task.ID).Status; got != models.TaskStatusInProgress {
		t.Errorf("task status = %s, want in_progress after retry", got)
	}
}

func TestCompletionNoticeReapsRunningSession(t *testing.T) {
	f := newFixture(t, Config{MaxConcurrentAgents: 1, AutoMerge: false}, nil)
	task := f.add("Task", taskstore.AddOptions{})

	f.tick()
	name := f.sessionName(task)
	f.coord.addCompletion(strconv.Itoa(task.TaskID), name)
	f.tick()

	got := f.get(task.ID)
	if got.Status != models.TaskStatusCompleted {
		t.Fatalf("task status = %s, want completed", got.Status)
	}
	if got.CompletedAt == nil {
		t.Error("completed task has no completion time")
	}
	if got.Session != name {
		t.Errorf("task session = %q, want %q kept for merge cleanup", got.Session, name)
	}
	if len(f.sessions.killed) != 1 || f.sessions.killed[0] != name {
		t.Errorf("killed sessions = %v, want [%s]", f.sessions.killed, name)
	}
	if _, ok, _ := f.coord.TakeCompletion(f.project.ID, strconv.Itoa(task.TaskID)); ok {
		t.Error("completion notice was not consumed")
	}
}

func TestSentinelCompletionDetected(t *testing.T) {
	f := newFixture(t, Config{MaxConcurrentAgents: 1, AutoMerge: false}, nil)
	task := f.add("Task", taskstore.AddOptions{})

	f.tick()
	name := f.sessionName(task)
	if err := os.MkdirAll(session.StatusDir(f.root), 0o755); err != nil {
		t.Fatalf("mkdir status dir: %v", err)
	}
	if err := os.WriteFile(session.StatusPath(f.root, name), []byte("COMPLETED\n"), 0o644); err != nil {
		t.Fatalf("write sentinel: %v", err)
	}

	f.tick()

	if got := f.get(task.ID).Status; got != models.TaskStatusCompleted {
		t.Fatalf("task status = %s, want completed via sentinel", got)
	}
	if _, err := os.Stat(session.StatusPath(f.root, name)); !os.IsNotExist(err) {
		t.Error("sentinel file should be cleared after detection")
	}
}

func TestSessionExitWithCommitsCompletes(t *testing.T) {
	f := newFixture(t, Config{MaxConcurrentAgents: 1, AutoMerge: false}, nil)
	task := f.add("Task", taskstore.AddOptions{})

	f.tick()
	f.sessions.endSession(f.sessionName(task))
	f.git.commitsAhead[task.Branch] = 2
	f.tick()

	if got := f.get(task.ID).Status; got != models.TaskStatusCompleted {
		t.Errorf("task status = %s, want completed when branch has commits", got)
	}
}

func TestAgentDeathWithoutCommitsRequeues(t *testing.T) {
	f := newFixture(t, Config{MaxConcurrentAgents: 1, AutoMerge: false}, nil)
	task := f.add("Task", taskstore.AddOptions{})

	f.tick()
	f.sessions.endSession(f.sessionName(task))
	f.tick()

	got := f.get(task.ID)
	if got.Status != models.TaskStatusUpNext {
		t.Fatalf("task status = %s, want up_next after agent died empty-handed", got.Status)
	}
	if got.Session != "" {
		t.Errorf("task session = %q, want cleared", got.Session)
	}

	// The next tick hands the task to a fresh agent.
	f.tick()
	if len(f.sessions.started) != 2 {
		t.Errorf("started %d sessions, want 2 (original plus retry)", len(f.sessions.started))
	}
}

func TestUnknownDependencyHeldInBacklog(t *testing.T) {
	f := newFixture(t, Config{MaxConcurrentAgents: 2, AutoMerge: false}, nil)
	task := f.add("Task", taskstore.AddOptions{Dependencies: []string{"no-such-task"}})

	f.tick()
	f.tick()

	if got := f.get(task.ID).Status; got != models.TaskStatusUnclaimed {
		t.Errorf("task status = %s, want unclaimed while dep is unknown", got)
	}
	if !f.sched.loggedUnknownDeps[task.ID] {
		t.Error("unknown dependency was never reported")
	}
}

func TestCycleMembersHeldInBacklog(t *testing.T) {
	f := newFixture(t, Config{MaxConcurrentAgents: 2, AutoMerge: false}, nil)
	a := f.add("First of pair", taskstore.AddOptions{})
	b := f.add("Second of pair", taskstore.AddOptions{Dependencies: []string{a.ID}})
	if _, err := f.store.Update(a.ID, func(t *models.Task) {
		t.Dependencies = []string{b.ID}
	}); err != nil {
		t.Fatalf("close the cycle: %v", err)
	}

	f.tick()
	f.tick()

	if got := f.get(a.ID).Status; got != models.TaskStatusUnclaimed {
		t.Errorf("cycle member %s status = %s, want unclaimed", a.ID, got)
	}
	if got := f.get(b.ID).Status; got != models.TaskStatusUnclaimed {
		t.Errorf("cycle member %s status = %s, want unclaimed", b.ID, got)
	}
	if len(f.sched.loggedCycles) != 1 {
		t.Errorf("logged %d cycles, want exactly 1 despite repeat ticks", len(f.sched.loggedCycles))
	}
}

func TestAutoMergeLandsCompletedTask(t *testing.T) {
	f := newFixture(t, Config{MaxConcurrentAgents: 1, AutoMerge: true}, nil)
	task := f.add("Task", taskstore.AddOptions{})

	f.tick()
	f.coord.addCompletion(strconv.Itoa(task.TaskID), f.sessionName(task))
	f.tick()

	got := f.get(task.ID)
	if got.Status != models.TaskStatusMerged {
		t.Fatalf("task status = %s, want merged end to end", got.Status)
	}
	if got.MergedAt == nil {
		t.Error("merged task has no merge time")
	}
	if len(f.git.merged) != 1 || f.git.merged[0] != task.Branch {
		t.Errorf("merged branches = %v, want [%s]", f.git.merged, task.Branch)
	}
	if len(f.git.deleted) != 1 || f.git.deleted[0] != task.Branch {
		t.Errorf("deleted branches = %v, want [%s]", f.git.deleted, task.Branch)
	}
	if len(f.worktrees.removed) != 1 {
		t.Errorf("removed %d worktrees, want 1", len(f.worktrees.removed))
	}
}

func TestTickEmitsLifecycleEvents(t *testing.T) {
	bus := eventbus.New()
	defer bus.Close()
	sub := bus.Subscribe()
	defer sub.Close()

	f := newFixture(t, Config{MaxConcurrentAgents: 1, AutoMerge: false}, bus)
	task := f.add("Task", taskstore.AddOptions{})

	f.tick()
	f.coord.addCompletion(strconv.Itoa(task.TaskID), f.sessionName(task))
	f.tick()

	seen := map[eventbus.Type]int{}
	for {
		select {
		case ev := <-sub.Events():
			seen[ev.Type]++
			if ev.ProjectID != f.project.ID {
				t.Errorf("event %s project = %q, want %q", ev.Type, ev.ProjectID, f.project.ID)
			}
		case <-time.After(50 * time.Millisecond):
			if seen[eventbus.TypeTaskStatusChanged] < 3 {
				t.Errorf("saw %d status changes, want at least 3", seen[eventbus.TypeTaskStatusChanged])
			}
			for _, want := range []eventbus.Type{
				eventbus.TypeAgentSpawned,
				eventbus.TypeTaskCompleted,
				eventbus.TypeCoordinationUpdate,
			} {
				if seen[want] == 0 {
					t.Errorf("no %s event emitted", want)
				}
			}
			return
		}
	}
}

func TestTickStopsBetweenStages(t *testing.T) {
	f := newFixture(t, Config{MaxConcurrentAgents: 1, AutoMerge: false}, nil)
	f.add("Task", taskstore.AddOptions{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := f.sched.Tick(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Tick() error = %v, want context.Canceled", err)
	}
	// Stage one may have promoted, but nothing may spawn after cancel.
	if len(f.sessions.started) != 0 {
		t.Errorf("started %d sessions after cancel, want 0", len(f.sessions.started))
	}
}
