package orchestrator

import (
	"context"
	"time"

	"github.com/ShayCichocki/hive/internal/coord"
	"github.com/ShayCichocki/hive/internal/session"
	"github.com/ShayCichocki/hive/internal/worktree"
	"github.com/ShayCichocki/hive/pkg/models"
)

// Config holds the scheduling knobs for one project run.
type Config struct {
	// MaxConcurrentAgents caps agents across the deployment. The effective
	// per-project cap is min(MaxConcurrentAgents, project max_agents).
	MaxConcurrentAgents int
	// TickInterval is the scheduler period.
	TickInterval time.Duration
	// AutoMerge enqueues tasks for merge as soon as they complete.
	AutoMerge bool
	// AgentCommand is the executable launched inside each agent session.
	AgentCommand string
}

// DefaultConfig returns the stock configuration.
func DefaultConfig() Config {
	return Config{
		MaxConcurrentAgents: models.DefaultMaxAgents,
		TickInterval:        time.Minute,
		AutoMerge:           true,
		AgentCommand:        session.DefaultAgentCommand,
	}
}

// withDefaults fills zero values with the stock configuration.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.MaxConcurrentAgents <= 0 {
		c.MaxConcurrentAgents = def.MaxConcurrentAgents
	}
	if c.TickInterval <= 0 {
		c.TickInterval = def.TickInterval
	}
	if c.AgentCommand == "" {
		c.AgentCommand = def.AgentCommand
	}
	return c
}

// Coordination is the slice of the coordination store the scheduler, merge
// queue, and reset path use.
type Coordination interface {
	Heartbeat(projectID, session string)
	Alive(projectID, session string) bool
	CheckLock(projectID, path string) (models.FileLock, bool)
	SendQuery(projectID, from, target, body string) (*models.Message, error)
	WaitResponse(ctx context.Context, projectID, session, queryID string, timeout time.Duration) (*models.Message, error)
	Broadcast(projectID, from string, typ models.MessageType, body string) (int, error)
	ReleaseAllLocks(projectID, session string) int
	UpdateAgentStatus(projectID, session string, status models.AgentStatus) error
	TakeCompletion(projectID, taskID string) (*models.CompletionNotice, bool, error)
	Stats(projectID string) (*models.CoordinationStats, error)
	ClearProject(projectID string) error
}

// WorktreeManager provisions and tears down per-task worktrees.
type WorktreeManager interface {
	Provision(ctx context.Context, task *models.Task, all []*models.Task) (string, error)
	Remove(branch string) error
	RemoveAll() (int, error)
}

// SessionManager supervises detached agent sessions.
type SessionManager interface {
	Preflight(agentCommand string) error
	Start(ctx context.Context, opts session.StartOptions) (string, error)
	HasSession(ctx context.Context, name, branch string) bool
	Kill(ctx context.Context, name string) error
	KillAll(ctx context.Context, projectID string) int
}

var (
	_ Coordination    = (*coord.Store)(nil)
	_ WorktreeManager = (*worktree.Manager)(nil)
	_ SessionManager  = (*session.Supervisor)(nil)
)
