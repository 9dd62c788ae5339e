package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/ShayCichocki/hive/internal/eventbus"
	"github.com/ShayCichocki/hive/internal/git"
	"github.com/ShayCichocki/hive/internal/session"
	"github.com/ShayCichocki/hive/internal/taskstore"
	"github.com/ShayCichocki/hive/pkg/models"
)

// Options collects the collaborators for one project's orchestrator.
// Project, Tasks, Coord, Worktrees, Sessions, and Git are required; Bus and
// Logger may be nil.
type Options struct {
	Project   *models.Project
	Tasks     *taskstore.Store
	Coord     Coordination
	Worktrees WorktreeManager
	Sessions  SessionManager
	Git       git.Runner
	Bus       *eventbus.Bus
	Config    Config
	Logger    *DebugLogger
}

// Orchestrator runs one project end to end: the scheduler loop, the merge
// queue worker, and the sentinel watcher that nudges the scheduler the
// moment an agent flips its status file.
type Orchestrator struct {
	project   *models.Project
	tasks     *taskstore.Store
	coord     Coordination
	worktrees WorktreeManager
	sessions  SessionManager
	git       git.Runner
	bus       *eventbus.Bus
	cfg       Config

	scheduler *Scheduler
	merges    *MergeQueue

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	watcher *session.Watcher
	wg      sync.WaitGroup
}

// New assembles an orchestrator from its collaborators.
func New(opts Options) (*Orchestrator, error) {
	switch {
	case opts.Project == nil:
		return nil, errors.New("orchestrator: project is required")
	case opts.Tasks == nil:
		return nil, errors.New("orchestrator: task store is required")
	case opts.Coord == nil:
		return nil, errors.New("orchestrator: coordination store is required")
	case opts.Worktrees == nil:
		return nil, errors.New("orchestrator: worktree manager is required")
	case opts.Sessions == nil:
		return nil, errors.New("orchestrator: session manager is required")
	case opts.Git == nil:
		return nil, errors.New("orchestrator: git runner is required")
	}
	if opts.Logger != nil {
		setPackageLogger(opts.Logger)
	}

	cfg := opts.Config.withDefaults()
	merges := NewMergeQueue(opts.Project, opts.Tasks, opts.Coord, opts.Worktrees, opts.Git, opts.Bus)
	scheduler := NewScheduler(opts.Project, opts.Tasks, opts.Coord, opts.Worktrees, opts.Sessions, merges, opts.Git, opts.Bus, cfg)

	return &Orchestrator{
		project:   opts.Project,
		tasks:     opts.Tasks,
		coord:     opts.Coord,
		worktrees: opts.Worktrees,
		sessions:  opts.Sessions,
		git:       opts.Git,
		bus:       opts.Bus,
		cfg:       cfg,
		scheduler: scheduler,
		merges:    merges,
	}, nil
}

// Start validates the project and launches the background loops. It returns
// an error, without starting anything, when the project root is missing or
// not a repository, the base branch does not exist, the task file cannot be
// parsed, or the agent tooling is not installed.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running {
		return errors.New("orchestrator already running")
	}

	if err := o.validate(); err != nil {
		return err
	}
	if err := o.sessions.Preflight(o.cfg.AgentCommand); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel

	if w, err := session.WatchStatus(o.project.Path); err != nil {
		// The periodic tick still detects completions, just more slowly.
		debugLog("[orchestrator] sentinel watcher unavailable: %v", err)
	} else {
		o.watcher = w
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			for {
				select {
				case <-runCtx.Done():
					return
				case _, ok := <-w.Changes():
					if !ok {
						return
					}
					o.scheduler.Nudge()
				}
			}
		}()
	}

	o.merges.Start(runCtx)
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.scheduler.Run(runCtx)
	}()

	o.running = true
	debugLog("[orchestrator] started %s: max agents %d, tick %s, auto-merge %t",
		o.project.ID, o.scheduler.targetUpNext(), o.cfg.TickInterval, o.cfg.AutoMerge)
	o.emit(eventbus.TypeOrchestratorStarted, map[string]any{
		"max_agents":    o.scheduler.targetUpNext(),
		"tick_interval": o.cfg.TickInterval.String(),
		"auto_merge":    o.cfg.AutoMerge,
	})
	return nil
}

// validate checks the fatal preconditions for running against a project.
func (o *Orchestrator) validate() error {
	if _, err := os.Stat(o.project.Path); err != nil {
		return fmt.Errorf("project root: %w", err)
	}
	if !o.git.IsRepo() {
		return fmt.Errorf("project root %s is not a git repository", o.project.Path)
	}
	ok, err := o.git.BranchExists(defaultBaseBranch)
	if err != nil {
		return fmt.Errorf("check branch %s: %w", defaultBaseBranch, err)
	}
	if !ok {
		return fmt.Errorf("branch %q not found; create it before starting", defaultBaseBranch)
	}
	if _, err := o.tasks.List(); err != nil {
		return fmt.Errorf("task file: %w", err)
	}
	return nil
}

// Stop halts the loops started by Start and waits for them to exit.
// Running agent sessions are left alone; they are re-adopted on the next
// Start by the completion detector.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return
	}
	o.running = false
	cancel := o.cancel
	watcher := o.watcher
	o.cancel = nil
	o.watcher = nil
	o.mu.Unlock()

	cancel()
	if watcher != nil {
		if err := watcher.Close(); err != nil {
			debugLog("[orchestrator] close sentinel watcher: %v", err)
		}
	}
	o.merges.Stop()
	o.wg.Wait()

	debugLog("[orchestrator] stopped %s", o.project.ID)
	o.emit(eventbus.TypeOrchestratorStopped, map[string]any{})
}

// Tick runs one synchronous scheduling pass. Exposed for one-shot CLI use;
// Run-loop users never need it.
func (o *Orchestrator) Tick(ctx context.Context) error {
	return o.scheduler.Tick(ctx)
}

// Reset returns a stopped project to a cold state: agent sessions are
// killed, worktrees removed, coordination state cleared, sentinels deleted,
// and claimed-but-unmerged tasks returned to unclaimed. Merge history is
// preserved.
func (o *Orchestrator) Reset(ctx context.Context) error {
	killed := o.sessions.KillAll(ctx, o.project.ID)
	if killed > 0 {
		debugLog("[orchestrator] reset killed %d sessions", killed)
	}

	removed, err := o.worktrees.RemoveAll()
	if err != nil {
		debugLog("[orchestrator] reset remove worktrees: %v", err)
	} else if removed > 0 {
		debugLog("[orchestrator] reset removed %d worktrees", removed)
	}

	if err := o.coord.ClearProject(o.project.ID); err != nil {
		debugLog("[orchestrator] reset clear coordination: %v", err)
	}

	tasks, err := o.tasks.List()
	if err != nil {
		return fmt.Errorf("list tasks: %w", err)
	}
	rewound := 0
	for _, t := range tasks {
		if t.Status != models.TaskStatusUpNext && t.Status != models.TaskStatusInProgress {
			continue
		}
		if _, err := o.tasks.Update(t.ID, func(u *models.Task) {
			u.Status = models.TaskStatusUnclaimed
			u.Session = ""
		}); err != nil {
			return fmt.Errorf("rewind %s: %w", t.ID, err)
		}
		rewound++
	}

	if err := os.RemoveAll(session.StatusDir(o.project.Path)); err != nil {
		debugLog("[orchestrator] reset remove sentinels: %v", err)
	}

	debugLog("[orchestrator] reset %s: %d sessions, %d worktrees, %d tasks rewound",
		o.project.ID, killed, removed, rewound)
	o.emit(eventbus.TypeProjectReset, map[string]any{
		"sessions_killed": killed,
		"worktrees":       removed,
		"tasks_rewound":   rewound,
	})
	return nil
}

func (o *Orchestrator) emit(t eventbus.Type, data map[string]any) {
	if o.bus == nil {
		return
	}
	o.bus.Emit(t, o.project.ID, data)
}
