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
	"github.com/ShayCichocki/hive/internal/git"
	"github.com/ShayCichocki/hive/internal/taskstore"
	"github.com/ShayCichocki/hive/pkg/models"
)

// defaultBaseBranch is the trunk every task branch forks from and merges to.
const defaultBaseBranch = "main"

// orchestratorSession is the session name the orchestrator uses when it
// speaks on the coordination channel (merge notices, lock negotiations).
const orchestratorSession = "orchestrator"

// defaultNegotiationTimeout bounds how long a merge waits for a lock holder
// to answer before keeping the task queued.
const defaultNegotiationTimeout = 10 * time.Second

// mergeGit is the slice of git the merge queue drives.
type mergeGit interface {
	git.BranchOperations
	git.HistoryOperations
	git.CommitOperations
	git.MergeOperations
	git.ConflictOperations
	git.RemoteOperations
}

// MergeQueue serializes branch merges into the base branch. Tasks are
// enqueued as they complete and drained by a single worker; a task whose
// gates fail stays queued and is retried on the next drain, so a human
// fixing the repository unblocks it without any extra step.
type MergeQueue struct {
	project     *models.Project
	projectRoot string
	tasks       *taskstore.Store
	coord       Coordination
	worktrees   WorktreeManager
	git         mergeGit
	bus         *eventbus.Bus

	// mergeMu serializes drains; git merges cannot overlap.
	mergeMu sync.Mutex

	pendMu  sync.Mutex
	pending []string

	notify   chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	negotiationTimeout time.Duration
}

// NewMergeQueue wires a merge queue for one project.
func NewMergeQueue(project *models.Project, tasks *taskstore.Store, cs Coordination, worktrees WorktreeManager, g mergeGit, bus *eventbus.Bus) *MergeQueue {
	return &MergeQueue{
		project:            project,
		projectRoot:        project.Path,
		tasks:              tasks,
		coord:              cs,
		worktrees:          worktrees,
		git:                g,
		bus:                bus,
		notify:             make(chan struct{}, 1),
		done:               make(chan struct{}),
		negotiationTimeout: defaultNegotiationTimeout,
	}
}

// Start launches the background worker that drains the queue when nudged.
func (q *MergeQueue) Start(ctx context.Context) {
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case <-q.done:
				return
			case <-q.notify:
				q.Process(ctx)
			}
		}
	}()
}

// Stop terminates the worker and waits out any drain in flight.
func (q *MergeQueue) Stop() {
	q.stopOnce.Do(func() { close(q.done) })
	q.wg.Wait()
}

// Enqueue adds a completed task to the queue and wakes the worker.
// Duplicate ids are dropped.
func (q *MergeQueue) Enqueue(taskID string) {
	q.pendMu.Lock()
	for _, id := range q.pending {
		if id == taskID {
			q.pendMu.Unlock()
			return
		}
	}
	q.pending = append(q.pending, taskID)
	q.pendMu.Unlock()

	debugLog("[merge] queued %s", taskID)
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Pending returns the queued task ids in arrival order.
func (q *MergeQueue) Pending() []string {
	q.pendMu.Lock()
	defer q.pendMu.Unlock()
	out := make([]string, len(q.pending))
	copy(out, q.pending)
	return out
}

func (q *MergeQueue) remove(taskID string) {
	q.pendMu.Lock()
	defer q.pendMu.Unlock()
	for i, id := range q.pending {
		if id == taskID {
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			return
		}
	}
}

// Process drains the queue once. Tasks merge in (merge_order, then lower
// urgency first) order; a task whose dependencies are not all merged or
// whose changed files are locked by a live agent is skipped, not dropped.
// The task list is re-read after every successful merge so later dependency
// gates see fresh statuses.
func (q *MergeQueue) Process(ctx context.Context) {
	q.mergeMu.Lock()
	defer q.mergeMu.Unlock()

	for {
		if err := ctx.Err(); err != nil {
			return
		}
		batch := q.Pending()
		if len(batch) == 0 {
			return
		}
		all, err := q.tasks.List()
		if err != nil {
			debugLog("[merge] list tasks: %v", err)
			return
		}
		index := tasksByID(all)

		var ready []*models.Task
		for _, id := range batch {
			t, ok := index[id]
			if !ok {
				debugLog("[merge] dropping %s: task no longer exists", id)
				q.remove(id)
				continue
			}
			switch t.Status {
			case models.TaskStatusMerged:
				q.remove(id)
			case models.TaskStatusCompleted:
				ready = append(ready, t)
			default:
				debugLog("[merge] %s is %s, not completed; keeping for later", id, t.Status)
			}
		}
		sortByMergeOrder(ready)

		merged := false
		for _, t := range ready {
			if err := ctx.Err(); err != nil {
				return
			}
			if !depsMerged(t, index) {
				debugLog("[merge] %s waits on unmerged dependencies", t.ID)
				continue
			}
			if holder, file, blocked := q.blockedByLiveLock(ctx, t); blocked {
				debugLog("[merge] %s held back: %s still holds lock on %s", t.ID, holder, file)
				continue
			}
			if err := q.mergeOne(ctx, t); err != nil {
				debugLog("[merge] %s: %v", t.ID, err)
				q.emit(eventbus.TypeMergeFailed, map[string]any{
					"task_id": t.ID,
					"branch":  t.Branch,
					"error":   err.Error(),
				})
				continue
			}
			q.remove(t.ID)
			merged = true
			break
		}
		if !merged {
			return
		}
	}
}

// blockedByLiveLock reports whether any file the branch touched is locked by
// a different, live session that would not yield when asked.
func (q *MergeQueue) blockedByLiveLock(ctx context.Context, task *models.Task) (holder, file string, blocked bool) {
	files, err := q.git.ChangedFilesBetween(defaultBaseBranch, task.Branch)
	if err != nil {
		debugLog("[merge] changed files for %s: %v", task.Branch, err)
		return "", "", false
	}
	for _, path := range files {
		lock, ok := q.coord.CheckLock(q.project.ID, path)
		if !ok || lock.SessionName == task.Session {
			continue
		}
		if !q.coord.Alive(q.project.ID, lock.SessionName) {
			continue
		}
		if q.negotiateRelease(ctx, lock.SessionName, path) {
			continue
		}
		return lock.SessionName, path, true
	}
	return "", "", false
}

// negotiateRelease asks a live lock holder whether it is done with the file.
// Only a clearly affirmative answer within the timeout lets the merge
// proceed over the lock.
func (q *MergeQueue) negotiateRelease(ctx context.Context, holder, file string) bool {
	body := fmt.Sprintf("I need to merge changes to %s. When will you be done?", file)
	query, err := q.coord.SendQuery(q.project.ID, orchestratorSession, holder, body)
	if err != nil {
		debugLog("[merge] query %s about %s: %v", holder, file, err)
		return false
	}
	resp, err := q.coord.WaitResponse(ctx, q.project.ID, orchestratorSession, query.ID, q.negotiationTimeout)
	if err != nil {
		debugLog("[merge] no usable answer from %s about %s: %v", holder, file, err)
		return false
	}
	if affirmative(resp.Body) {
		debugLog("[merge] %s yielded %s: %q", holder, file, resp.Body)
		return true
	}
	return false
}

// affirmative treats a negotiation reply as permission to proceed when it
// sounds finished.
func affirmative(body string) bool {
	lower := strings.ToLower(body)
	for _, phrase := range []string{"done", "finished", "released", "go ahead"} {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

// mergeOne checks out the base branch, merges one task branch with a merge
// commit, resolves conflicts, and reclaims the branch's resources. The
// repository is left on the base branch whether or not the merge succeeds.
func (q *MergeQueue) mergeOne(ctx context.Context, task *models.Task) error {
	debugLog("[merge] merging %s (%s)", task.ID, task.Branch)

	if err := q.git.CheckoutBranch(defaultBaseBranch); err != nil {
		return fmt.Errorf("checkout %s: %w", defaultBaseBranch, err)
	}
	// A diverged or unreachable remote should not stop local merges.
	if err := q.git.PullFFOnly(); err != nil {
		debugLog("[merge] pull %s: %v", defaultBaseBranch, err)
	}

	notice := fmt.Sprintf("Merging branch %s into %s", task.Branch, defaultBaseBranch)
	if n, err := q.coord.Broadcast(q.project.ID, orchestratorSession, models.MessageTypeMergeNotification, notice); err != nil {
		debugLog("[merge] broadcast merge notice: %v", err)
	} else if n > 0 {
		debugLog("[merge] notified %d agents", n)
	}

	if err := q.git.MergeNoFF(task.Branch, fmt.Sprintf("Merge branch '%s'", task.Branch)); err != nil {
		conflicts, cfErr := q.git.ConflictedFiles()
		if cfErr != nil {
			q.abortMerge()
			return fmt.Errorf("merge %s: %w (conflict listing failed: %v)", task.Branch, err, cfErr)
		}
		if len(conflicts) == 0 {
			q.abortMerge()
			return fmt.Errorf("merge %s: %w", task.Branch, err)
		}
		if rErr := q.resolveConflicts(conflicts); rErr != nil {
			q.abortMerge()
			return rErr
		}
		if cErr := q.git.CommitNoEdit(); cErr != nil {
			q.abortMerge()
			return fmt.Errorf("conclude merge of %s: %w", task.Branch, cErr)
		}
		debugLog("[merge] resolved %d conflicted files on %s", len(conflicts), task.Branch)
	}

	q.cleanup(task)
	return nil
}

func (q *MergeQueue) abortMerge() {
	if err := q.git.MergeAbort(); err != nil {
		debugLog("[merge] abort: %v", err)
	}
}

// cleanup records the merge and reclaims everything attached to the branch:
// the worktree, the branch itself, the agent's locks, and any completion
// notice nobody consumed.
func (q *MergeQueue) cleanup(task *models.Task) {
	from := task.Status
	updated, err := q.tasks.Update(task.ID, func(t *models.Task) {
		t.Status = models.TaskStatusMerged
		now := time.Now()
		t.MergedAt = &now
	})
	if err != nil {
		debugLog("[merge] record merge of %s: %v", task.ID, err)
	} else {
		*task = *updated
	}

	// Worktree first: git refuses to delete a branch checked out anywhere.
	if err := q.worktrees.Remove(task.Branch); err != nil {
		debugLog("[merge] remove worktree %s: %v", task.Branch, err)
	}
	if err := q.git.DeleteBranch(task.Branch); err != nil {
		debugLog("[merge] delete branch %s: %v", task.Branch, err)
	}

	if task.Session != "" {
		if n := q.coord.ReleaseAllLocks(q.project.ID, task.Session); n > 0 {
			debugLog("[merge] released %d locks held by %s", n, task.Session)
		}
		if err := q.coord.UpdateAgentStatus(q.project.ID, task.Session, models.AgentStatusMerged); err != nil {
			debugLog("[merge] mark agent %s merged: %v", task.Session, err)
		}
	}
	if _, ok, err := q.coord.TakeCompletion(q.project.ID, strconv.Itoa(task.TaskID)); err == nil && ok {
		debugLog("[merge] consumed leftover completion notice for %s", task.ID)
	}

	q.emit(eventbus.TypeTaskStatusChanged, map[string]any{
		"task_id": task.ID,
		"from":    string(from),
		"to":      string(models.TaskStatusMerged),
	})
	q.emit(eventbus.TypeTaskMerged, map[string]any{
		"task_id": task.ID,
		"branch":  task.Branch,
	})
	debugLog("[merge] merged %s", task.ID)
}

func (q *MergeQueue) emit(t eventbus.Type, data map[string]any) {
	if q.bus == nil {
		return
	}
	q.bus.Emit(t, q.project.ID, data)
}

// sortByMergeOrder orders completed tasks for merging: explicit merge slots
// first, lower urgency before higher among equals, task id as the stable
// tiebreaker.
func sortByMergeOrder(tasks []*models.Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		if tasks[i].MergeOrder != tasks[j].MergeOrder {
			return tasks[i].MergeOrder < tasks[j].MergeOrder
		}
		pi, pj := tasks[i].EffectivePriority(), tasks[j].EffectivePriority()
		if pi != pj {
			return pi > pj
		}
		return tasks[i].TaskID < tasks[j].TaskID
	})
}
