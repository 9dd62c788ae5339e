package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ShayCichocki/hive/internal/eventbus"
	"github.com/ShayCichocki/hive/internal/session"
	"github.com/ShayCichocki/hive/internal/taskstore"
	"github.com/ShayCichocki/hive/pkg/models"
)

// schedulerGit is the slice of git the scheduler needs to tell a finished
// agent from a dead one.
type schedulerGit interface {
	CommitsAhead(base, branch string) (int, error)
}

// Scheduler drives one project's task lifecycle: it keeps the up_next queue
// filled, spawns agents into provisioned worktrees, detects completions and
// deaths, and hands finished branches to the merge queue.
type Scheduler struct {
	project     *models.Project
	projectRoot string
	tasks       *taskstore.Store
	coord       Coordination
	worktrees   WorktreeManager
	sessions    SessionManager
	merges      *MergeQueue
	bus         *eventbus.Bus
	git         schedulerGit
	cfg         Config

	mu sync.Mutex
	// loggedUnknownDeps and loggedCycles suppress repeat warnings; one line
	// per task and per cycle is enough.
	loggedUnknownDeps map[string]bool
	loggedCycles      map[string]bool
	lastLocks         string

	nudge chan struct{}
}

// NewScheduler wires a scheduler for one project. The merge queue may be nil
// when auto-merge is disabled and nothing will ever be enqueued.
func NewScheduler(project *models.Project, tasks *taskstore.Store, cs Coordination, worktrees WorktreeManager, sessions SessionManager, merges *MergeQueue, g schedulerGit, bus *eventbus.Bus, cfg Config) *Scheduler {
	return &Scheduler{
		project:           project,
		projectRoot:       project.Path,
		tasks:             tasks,
		coord:             cs,
		worktrees:         worktrees,
		sessions:          sessions,
		merges:            merges,
		bus:               bus,
		git:               g,
		cfg:               cfg.withDefaults(),
		loggedUnknownDeps: make(map[string]bool),
		loggedCycles:      make(map[string]bool),
		nudge:             make(chan struct{}, 1),
	}
}

// Run ticks the scheduler until the context is cancelled. A nudge (from the
// sentinel watcher or the merge queue) triggers an early tick so completions
// are picked up without waiting out the interval.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()
	for {
		if err := s.Tick(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			debugLog("[scheduler] tick: %v", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-s.nudge:
		}
	}
}

// Nudge requests an early tick. Safe to call from any goroutine; extra
// nudges while one is pending are dropped.
func (s *Scheduler) Nudge() {
	select {
	case s.nudge <- struct{}{}:
	default:
	}
}

// Tick runs one scheduling pass. Each stage re-reads the task store so it
// sees the effects of earlier stages and of concurrent CLI edits, and the
// context is checked between stages so shutdown never waits on a full pass.
func (s *Scheduler) Tick(ctx context.Context) error {
	tasks, err := s.tasks.List()
	if err != nil {
		return fmt.Errorf("list tasks: %w", err)
	}
	s.manageQueue(tasks)

	if err := ctx.Err(); err != nil {
		return err
	}
	if tasks, err = s.tasks.List(); err != nil {
		return fmt.Errorf("list tasks: %w", err)
	}
	s.spawnAgents(ctx, tasks)

	if err := ctx.Err(); err != nil {
		return err
	}
	if tasks, err = s.tasks.List(); err != nil {
		return fmt.Errorf("list tasks: %w", err)
	}
	s.detectCompletions(ctx, tasks)

	if err := ctx.Err(); err != nil {
		return err
	}
	if s.merges != nil {
		s.merges.Process(ctx)
	}

	s.publishStats()
	return nil
}

// targetUpNext is the queue depth the scheduler maintains: the global agent
// cap bounded by the project's own limit.
func (s *Scheduler) targetUpNext() int {
	target := s.cfg.MaxConcurrentAgents
	if limit := s.project.EffectiveMaxAgents(); limit < target {
		target = limit
	}
	return target
}

// manageQueue promotes eligible unclaimed tasks into up_next and demotes
// surplus ones back when the target shrank. Tasks whose dependencies are
// unknown or cyclic are held in unclaimed and logged once.
func (s *Scheduler) manageQueue(tasks []*models.Task) {
	index := tasksByID(tasks)
	blocked := cycleMembers(s.reportCycles(tasks))

	var upNext, candidates []*models.Task
	for _, t := range tasks {
		switch t.Status {
		case models.TaskStatusUpNext:
			upNext = append(upNext, t)
		case models.TaskStatusUnclaimed:
			if blocked[t.ID] {
				continue
			}
			ok, unknown := depsSatisfied(t, index)
			if len(unknown) > 0 {
				s.reportUnknownDeps(t, unknown)
				continue
			}
			if ok {
				candidates = append(candidates, t)
			}
		}
	}

	target := s.targetUpNext()
	sortByDispatchOrder(candidates)
	for _, t := range candidates {
		if len(upNext) >= target {
			break
		}
		if s.transition(t, models.TaskStatusUpNext, nil) {
			upNext = append(upNext, t)
		}
	}

	// Demote least-urgent first so the tasks that survive are the ones the
	// spawn stage would pick anyway.
	if surplus := len(upNext) - target; surplus > 0 {
		sortByDispatchOrder(upNext)
		for i := len(upNext) - 1; i >= 0 && surplus > 0; i-- {
			if s.transition(upNext[i], models.TaskStatusUnclaimed, nil) {
				surplus--
			}
		}
	}
}

// spawnAgents starts sessions for queued tasks up to the concurrency target,
// skipping any task whose file claims conflict with running agents or with
// tasks already picked this tick.
func (s *Scheduler) spawnAgents(ctx context.Context, tasks []*models.Task) {
	var inProgress, upNext []*models.Task
	for _, t := range tasks {
		switch t.Status {
		case models.TaskStatusInProgress:
			inProgress = append(inProgress, t)
		case models.TaskStatusUpNext:
			upNext = append(upNext, t)
		}
	}

	available := s.targetUpNext() - len(inProgress)
	if available <= 0 || len(upNext) == 0 {
		return
	}

	sortByDispatchOrder(upNext)
	var picked []*models.Task
	for _, t := range upNext {
		if len(picked) >= available {
			break
		}
		if other := conflictsWithAny(t, inProgress); other != nil {
			debugLog("[scheduler] holding %s: file claims conflict with running %s", t.ID, other.ID)
			continue
		}
		if other := conflictsWithAny(t, picked); other != nil {
			debugLog("[scheduler] holding %s: file claims conflict with %s picked this tick", t.ID, other.ID)
			continue
		}
		picked = append(picked, t)
	}

	for _, t := range picked {
		if err := ctx.Err(); err != nil {
			return
		}
		s.spawnOne(ctx, t, tasks)
	}
}

// spawnOne provisions a worktree and starts one agent session. Failures
// leave the task in up_next so the next tick retries.
func (s *Scheduler) spawnOne(ctx context.Context, task *models.Task, all []*models.Task) {
	name := session.NameForTask(task, s.project.ID)
	if s.sessions.HasSession(ctx, name, task.Branch) {
		debugLog("[scheduler] session %s already running for %s", name, task.ID)
		return
	}

	path, err := s.worktrees.Provision(ctx, task, all)
	if err != nil {
		debugLog("[scheduler] provision worktree for %s: %v", task.ID, err)
		s.emit(eventbus.TypeAgentSpawnFailed, map[string]any{
			"task_id": task.ID,
			"error":   err.Error(),
		})
		return
	}

	sessName, err := s.sessions.Start(ctx, session.StartOptions{
		ProjectID:    s.project.ID,
		ProjectRoot:  s.projectRoot,
		Task:         task,
		WorktreePath: path,
		AgentCommand: s.cfg.AgentCommand,
	})
	if err != nil {
		debugLog("[scheduler] start session for %s: %v", task.ID, err)
		if rmErr := s.worktrees.Remove(task.Branch); rmErr != nil {
			debugLog("[scheduler] remove worktree after failed spawn of %s: %v", task.ID, rmErr)
		}
		s.emit(eventbus.TypeAgentSpawnFailed, map[string]any{
			"task_id": task.ID,
			"error":   err.Error(),
		})
		return
	}

	if !s.transition(task, models.TaskStatusInProgress, func(t *models.Task) {
		t.Session = sessName
	}) {
		// The store write failed; the session is orphaned, so reap it.
		if err := s.sessions.Kill(ctx, sessName); err != nil {
			debugLog("[scheduler] kill orphaned session %s: %v", sessName, err)
		}
		return
	}

	// Baseline heartbeat so the agent counts as alive before its first
	// coordination RPC.
	s.coord.Heartbeat(s.project.ID, sessName)

	debugLog("[scheduler] spawned %s for %s in %s", sessName, task.ID, path)
	s.emit(eventbus.TypeAgentSpawned, map[string]any{
		"task_id":  task.ID,
		"session":  sessName,
		"worktree": path,
	})
}

// detectCompletions settles every in_progress task. Signals are checked in
// order of trust: the agent's own completion RPC, then the status sentinel,
// then a vanished session judged by whether the branch gained commits.
func (s *Scheduler) detectCompletions(ctx context.Context, tasks []*models.Task) {
	for _, task := range tasks {
		if task.Status != models.TaskStatusInProgress {
			continue
		}
		if err := ctx.Err(); err != nil {
			return
		}

		name := task.Session
		if name == "" {
			name = session.NameForTask(task, s.project.ID)
		}

		if notice, ok, err := s.coord.TakeCompletion(s.project.ID, strconv.Itoa(task.TaskID)); err != nil {
			debugLog("[scheduler] take completion for %s: %v", task.ID, err)
		} else if ok {
			debugLog("[scheduler] %s reported done via coordination (session %s)", task.ID, notice.SessionName)
			s.complete(ctx, task, name, "completion notice")
			continue
		}

		if session.ReadStatus(s.projectRoot, name) == session.StatusCompleted {
			s.complete(ctx, task, name, "status sentinel")
			continue
		}

		if s.sessions.HasSession(ctx, name, task.Branch) {
			continue
		}

		commits, err := s.git.CommitsAhead(defaultBaseBranch, task.Branch)
		if err != nil {
			debugLog("[scheduler] commits ahead for %s: %v", task.Branch, err)
			continue
		}
		if commits >= 1 {
			s.complete(ctx, task, name, fmt.Sprintf("session exited with %d commits", commits))
			continue
		}
		s.rewind(task, name)
	}
}

// complete marks a task finished: the session is reaped, the sentinel
// cleared, and the task handed to the merge queue when auto-merge is on.
// The session name stays on the task so merge cleanup can release its locks.
func (s *Scheduler) complete(ctx context.Context, task *models.Task, name, reason string) {
	if s.sessions.HasSession(ctx, name, task.Branch) {
		if err := s.sessions.Kill(ctx, name); err != nil {
			debugLog("[scheduler] kill session %s: %v", name, err)
		}
	}
	if err := session.ClearStatus(s.projectRoot, name); err != nil {
		debugLog("[scheduler] clear sentinel for %s: %v", name, err)
	}

	if !s.transition(task, models.TaskStatusCompleted, func(t *models.Task) {
		now := time.Now()
		t.CompletedAt = &now
	}) {
		return
	}
	debugLog("[scheduler] %s completed (%s)", task.ID, reason)
	s.emit(eventbus.TypeTaskCompleted, map[string]any{
		"task_id": task.ID,
		"session": name,
		"reason":  reason,
	})

	if s.cfg.AutoMerge && s.merges != nil {
		s.merges.Enqueue(task.ID)
	}
}

// rewind returns a task whose agent died without committing to the up_next
// queue so a fresh agent can take it over.
func (s *Scheduler) rewind(task *models.Task, name string) {
	debugLog("[scheduler] agent for %s exited without commits; requeueing", task.ID)
	if err := session.ClearStatus(s.projectRoot, name); err != nil {
		debugLog("[scheduler] clear sentinel for %s: %v", name, err)
	}
	s.transition(task, models.TaskStatusUpNext, func(t *models.Task) {
		t.Session = ""
	})
}

// transition writes a status change through the store and emits the change
// event. Extra mutations (clearing the session, say) ride along in mutate.
func (s *Scheduler) transition(task *models.Task, to models.TaskStatus, mutate func(*models.Task)) bool {
	from := task.Status
	updated, err := s.tasks.Update(task.ID, func(t *models.Task) {
		t.Status = to
		if mutate != nil {
			mutate(t)
		}
	})
	if err != nil {
		debugLog("[scheduler] update %s to %s: %v", task.ID, to, err)
		return false
	}
	*task = *updated
	s.emit(eventbus.TypeTaskStatusChanged, map[string]any{
		"task_id": task.ID,
		"from":    string(from),
		"to":      string(to),
	})
	return true
}

// reportCycles finds dependency cycles and logs each new one once.
func (s *Scheduler) reportCycles(tasks []*models.Task) [][]string {
	cycles := findCycles(tasks)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, cycle := range cycles {
		sig := cycleSignature(cycle)
		if s.loggedCycles[sig] {
			continue
		}
		s.loggedCycles[sig] = true
		debugLog("[scheduler] dependency cycle, members held in unclaimed: %s", strings.Join(cycle, " -> "))
	}
	return cycles
}

// reportUnknownDeps logs a task's unresolvable dependencies once.
func (s *Scheduler) reportUnknownDeps(task *models.Task, unknown []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loggedUnknownDeps[task.ID] {
		return
	}
	s.loggedUnknownDeps[task.ID] = true
	debugLog("[scheduler] %s depends on unknown tasks: %s", task.ID, strings.Join(unknown, ", "))
}

// publishStats emits the per-tick coordination snapshot, plus a lock-set
// event whenever the held locks changed since the last tick.
func (s *Scheduler) publishStats() {
	if s.bus == nil {
		return
	}
	stats, err := s.coord.Stats(s.project.ID)
	if err != nil {
		debugLog("[scheduler] coordination stats: %v", err)
		return
	}
	s.emit(eventbus.TypeCoordinationUpdate, map[string]any{
		"active_agents":   stats.ActiveAgents,
		"total_todos":     stats.TotalTodos,
		"completed_todos": stats.CompletedTodos,
		"interfaces":      stats.Interfaces,
		"file_locks":      len(stats.FileLocks),
	})

	fp := lockFingerprint(stats.FileLocks)
	s.mu.Lock()
	changed := fp != s.lastLocks
	s.lastLocks = fp
	s.mu.Unlock()
	if !changed {
		return
	}
	locks := make([]map[string]any, 0, len(stats.FileLocks))
	for _, l := range stats.FileLocks {
		locks = append(locks, map[string]any{
			"file_path": l.FilePath,
			"session":   l.SessionName,
			"operation": string(l.Operation),
		})
	}
	s.emit(eventbus.TypeFileLocksUpdate, map[string]any{"locks": locks})
}

func (s *Scheduler) emit(t eventbus.Type, data map[string]any) {
	if s.bus == nil {
		return
	}
	s.bus.Emit(t, s.project.ID, data)
}

// sortByDispatchOrder orders tasks for promotion and spawning: urgent first,
// later merge slots first among equals so independent late work starts
// early, task id as the stable tiebreaker.
func sortByDispatchOrder(tasks []*models.Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		pi, pj := tasks[i].EffectivePriority(), tasks[j].EffectivePriority()
		if pi != pj {
			return pi < pj
		}
		if tasks[i].MergeOrder != tasks[j].MergeOrder {
			return tasks[i].MergeOrder > tasks[j].MergeOrder
		}
		return tasks[i].TaskID < tasks[j].TaskID
	})
}

// conflictsWithAny returns the first task whose file claims collide with the
// candidate, or nil when it is clear to run.
func conflictsWithAny(task *models.Task, others []*models.Task) *models.Task {
	for _, o := range others {
		if task.ConflictsWith(o) {
			return o
		}
	}
	return nil
}

// lockFingerprint reduces a lock set to a comparable string.
func lockFingerprint(locks []models.FileLock) string {
	parts := make([]string, 0, len(locks))
	for _, l := range locks {
		parts = append(parts, l.FilePath+"="+l.SessionName)
	}
	sort.Strings(parts)
	return strings.Join(parts, ",")
}
