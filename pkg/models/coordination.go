package models

import "time"

// AgentStatus represents the coordination-store state of a registered agent.
type AgentStatus string

const (
	// AgentStatusActive indicates the agent is registered and working.
	AgentStatusActive AgentStatus = "active"
	// AgentStatusStale indicates the agent missed its heartbeat window.
	AgentStatusStale AgentStatus = "stale"
	// AgentStatusMerged indicates the agent's branch has been merged.
	AgentStatusMerged AgentStatus = "merged"
)

// HeartbeatWindow is how recent a heartbeat must be for an agent to count as alive.
const HeartbeatWindow = 2 * time.Minute

// AgentRecord is the coordination-store registration for one agent session.
type AgentRecord struct {
	// SessionName is the supervised-session name, unique per project.
	SessionName string `json:"session_name"`
	// ProjectID scopes the registration.
	ProjectID string `json:"project_id"`
	// TaskID is the task the agent is working on.
	TaskID string `json:"task_id"`
	// Branch is the branch the agent commits to.
	Branch string `json:"branch"`
	// Description is the agent's one-line summary of its work.
	Description string `json:"description,omitempty"`
	// Status is the agent's coordination state.
	Status AgentStatus `json:"status"`
	// StartedAt is when the agent registered.
	StartedAt time.Time `json:"started_at"`
}

// TodoStatus represents the state of a shared todo item.
type TodoStatus string

const (
	// TodoStatusPending indicates the todo has not been started.
	TodoStatusPending TodoStatus = "pending"
	// TodoStatusInProgress indicates the todo is being worked on.
	TodoStatusInProgress TodoStatus = "in_progress"
	// TodoStatusCompleted indicates the todo is done.
	TodoStatusCompleted TodoStatus = "completed"
	// TodoStatusCancelled indicates the todo was abandoned.
	TodoStatusCancelled TodoStatus = "cancelled"
)

// Valid returns true if the status is a known value.
func (s TodoStatus) Valid() bool {
	switch s {
	case TodoStatusPending, TodoStatusInProgress, TodoStatusCompleted, TodoStatusCancelled:
		return true
	default:
		return false
	}
}

// Todo is one item on an agent's shared plan.
type Todo struct {
	// ID identifies the todo within its session.
	ID string `json:"id"`
	// SessionName is the owning agent session.
	SessionName string `json:"session_name"`
	// Text describes the work item.
	Text string `json:"text"`
	// Status is the current todo state.
	Status TodoStatus `json:"status"`
	// Priority orders the agent's own list; free-form small integers.
	Priority int `json:"priority,omitempty"`
	// CreatedAt is when the todo was added.
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt is when the todo last changed.
	UpdatedAt time.Time `json:"updated_at"`
}

// FileOperation is the kind of change an agent announced for a path.
type FileOperation string

const (
	// FileOpCreate indicates the agent is creating the file.
	FileOpCreate FileOperation = "create"
	// FileOpModify indicates the agent is modifying the file.
	FileOpModify FileOperation = "modify"
	// FileOpDelete indicates the agent is deleting the file.
	FileOpDelete FileOperation = "delete"
)

// Valid returns true if the operation is a known value.
func (o FileOperation) Valid() bool {
	switch o {
	case FileOpCreate, FileOpModify, FileOpDelete:
		return true
	default:
		return false
	}
}

// FileLock is an exclusive claim on a path while an agent edits it.
// Locks expire after their TTL unless renewed by the holder's heartbeats.
type FileLock struct {
	// FilePath is the repository-relative path being claimed.
	FilePath string `json:"file_path"`
	// SessionName is the holding agent session.
	SessionName string `json:"session_name"`
	// Operation is the announced kind of change.
	Operation FileOperation `json:"operation"`
	// Description explains the change, for other agents.
	Description string `json:"description,omitempty"`
	// AcquiredAt is when the lock was taken.
	AcquiredAt time.Time `json:"acquired_at"`
}

// InterfaceDef is a shared type or API contract registered by an agent.
// Immutable once registered except by its author session.
type InterfaceDef struct {
	// Name identifies the interface within the project.
	Name string `json:"name"`
	// Definition is the full source text of the contract.
	Definition string `json:"definition"`
	// Description provides optional context.
	Description string `json:"description,omitempty"`
	// SessionName is the author session.
	SessionName string `json:"session_name"`
	// RegisteredAt is when the definition was stored.
	RegisteredAt time.Time `json:"registered_at"`
}

// MessageType classifies inter-agent messages.
type MessageType string

const (
	// MessageTypeQuery asks another agent a question and expects a response.
	MessageTypeQuery MessageType = "query"
	// MessageTypeResponse answers a prior query, correlated by ReplyTo.
	MessageTypeResponse MessageType = "response"
	// MessageTypeBroadcast goes to every other registered session.
	MessageTypeBroadcast MessageType = "broadcast"
	// MessageTypeStatus carries informational state updates.
	MessageTypeStatus MessageType = "status"
	// MessageTypeMergeNotification warns agents that a merge is starting.
	MessageTypeMergeNotification MessageType = "merge_notification"
)

// Message is one entry in a session's FIFO inbox.
type Message struct {
	// ID identifies the message.
	ID string `json:"id"`
	// FromSession is the sender.
	FromSession string `json:"from_session"`
	// ToSession is the recipient inbox.
	ToSession string `json:"to_session"`
	// Type classifies the message.
	Type MessageType `json:"type"`
	// Body is the message content.
	Body string `json:"body"`
	// ReplyTo correlates a response with its query's message ID.
	ReplyTo string `json:"reply_to,omitempty"`
	// SentAt is when the message was enqueued.
	SentAt time.Time `json:"sent_at"`
}

// CompletionNotice is an agent's authoritative signal that its task is done.
// Written by the agent's final RPC and consumed by the scheduler.
type CompletionNotice struct {
	// TaskID is the completed task.
	TaskID string `json:"task_id"`
	// SessionName is the reporting agent session.
	SessionName string `json:"session_name"`
	// CompletedAt is when the agent reported completion.
	CompletedAt time.Time `json:"completed_at"`
}

// FileChange is one entry in the project's recent-change log.
type FileChange struct {
	// SessionName is the agent that announced the change.
	SessionName string `json:"session_name"`
	// FilePath is the repository-relative path.
	FilePath string `json:"file_path"`
	// Operation is the announced kind of change.
	Operation FileOperation `json:"operation"`
	// Description explains the change.
	Description string `json:"description,omitempty"`
	// ChangedAt is when the change was announced.
	ChangedAt time.Time `json:"changed_at"`
}

// CoordinationStats is a point-in-time snapshot of a project's live state.
type CoordinationStats struct {
	// ProjectID scopes the snapshot.
	ProjectID string `json:"project_id"`
	// ActiveAgents is the number of sessions with a live heartbeat.
	ActiveAgents int `json:"active_agents"`
	// TotalTodos counts todos across all registered sessions.
	TotalTodos int `json:"total_todos"`
	// CompletedTodos counts todos in the completed state.
	CompletedTodos int `json:"completed_todos"`
	// FileLocks is the set of currently held locks.
	FileLocks []FileLock `json:"file_locks"`
	// Interfaces is the number of registered interface definitions.
	Interfaces int `json:"interfaces"`
	// TakenAt is when the snapshot was assembled.
	TakenAt time.Time `json:"taken_at"`
}
