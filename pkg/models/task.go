package models

import (
	"fmt"
	"strings"
	"time"
)

// TaskStatus represents the current state of a task in its lifecycle.
type TaskStatus string

const (
	// TaskStatusUnclaimed indicates the task is waiting in the backlog.
	TaskStatusUnclaimed TaskStatus = "unclaimed"
	// TaskStatusUpNext indicates the task is queued for the next available agent.
	TaskStatusUpNext TaskStatus = "up_next"
	// TaskStatusInProgress indicates an agent is actively working on the task.
	TaskStatusInProgress TaskStatus = "in_progress"
	// TaskStatusCompleted indicates the agent finished and the branch awaits merge.
	TaskStatusCompleted TaskStatus = "completed"
	// TaskStatusMerged indicates the task's branch has been merged to trunk.
	TaskStatusMerged TaskStatus = "merged"
)

// Valid returns true if the status is a known value.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusUnclaimed, TaskStatusUpNext, TaskStatusInProgress,
		TaskStatusCompleted, TaskStatusMerged:
		return true
	default:
		return false
	}
}

// CanTransitionTo reports whether moving from s to next is a legal lifecycle
// step. The lifecycle is unclaimed → up_next → in_progress → completed →
// merged, with two rollbacks: up_next → unclaimed (demotion when the queue
// shrinks) and in_progress → up_next (agent died without commits).
func (s TaskStatus) CanTransitionTo(next TaskStatus) bool {
	switch s {
	case TaskStatusUnclaimed:
		return next == TaskStatusUpNext
	case TaskStatusUpNext:
		return next == TaskStatusInProgress || next == TaskStatusUnclaimed
	case TaskStatusInProgress:
		return next == TaskStatusCompleted || next == TaskStatusUpNext
	case TaskStatusCompleted:
		return next == TaskStatusMerged
	default:
		return false
	}
}

// DefaultPriority is assigned when a task declares no priority.
// Priority 1 is the highest, 10 the lowest.
const DefaultPriority = 10

// Task represents a unit of work assigned to a single agent on a single branch.
type Task struct {
	// ID is the stable string identifier, unique per project.
	ID string `json:"id"`
	// TaskID is the per-project monotonically increasing integer identifier.
	TaskID int `json:"task_id"`
	// Title is the short description of the task.
	Title string `json:"title"`
	// Description provides detailed information about the task.
	Description string `json:"description,omitempty"`
	// Prompt overrides the generated agent prompt when set.
	Prompt string `json:"prompt,omitempty"`
	// Branch is the only branch the agent may commit to, derived as task-<task_id>.
	Branch string `json:"branch"`
	// Status is the current lifecycle state.
	Status TaskStatus `json:"status"`
	// Session is the supervised-session name while an agent runs, else empty.
	Session string `json:"session,omitempty"`
	// Dependencies lists task IDs that must be completed or merged before
	// this task is promoted, and strictly merged before it merges.
	Dependencies []string `json:"dependencies,omitempty"`
	// Priority orders scheduling; 1 is highest, 10 lowest. Zero means unset.
	Priority int `json:"priority,omitempty"`
	// MergeOrder breaks ties in the merge queue; higher merges later.
	MergeOrder int `json:"merge_order,omitempty"`
	// ExclusiveFiles are path patterns this task needs sole ownership of.
	ExclusiveFiles []string `json:"exclusive_files,omitempty"`
	// SharedFiles are path patterns this task reads but does not own.
	SharedFiles []string `json:"shared_files,omitempty"`
	// InitializationDeps name tasks whose branch is the preferred worktree base.
	InitializationDeps []string `json:"initialization_deps,omitempty"`
	// SetupCommands run in the worktree root before the agent starts.
	SetupCommands []string `json:"setup_commands,omitempty"`
	// CreatedAt is when the task was created.
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt is when the task was last modified.
	UpdatedAt time.Time `json:"updated_at"`
	// CompletedAt is when the agent finished, if it has.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	// MergedAt is when the branch reached trunk, if it has.
	MergedAt *time.Time `json:"merged_at,omitempty"`
}

// EffectivePriority returns the task's priority, or DefaultPriority when unset.
func (t *Task) EffectivePriority() int {
	if t.Priority <= 0 {
		return DefaultPriority
	}
	return t.Priority
}

// BranchName derives the branch for a task id.
func BranchName(taskID int) string {
	return fmt.Sprintf("task-%d", taskID)
}

// ConflictsWith reports whether two tasks may not run concurrently: their
// exclusive patterns intersect, or either task's exclusive patterns intersect
// the other's shared patterns.
func (t *Task) ConflictsWith(other *Task) bool {
	if patternsIntersect(t.ExclusiveFiles, other.ExclusiveFiles) {
		return true
	}
	if patternsIntersect(t.ExclusiveFiles, other.SharedFiles) {
		return true
	}
	if patternsIntersect(t.SharedFiles, other.ExclusiveFiles) {
		return true
	}
	return false
}

// SanitizeField replaces separator characters that would break filesystem
// paths or URLs when the value is embedded in ids and branch names.
func SanitizeField(s string) string {
	r := strings.NewReplacer("/", "-", "\\", "-", "&", "-")
	return r.Replace(s)
}
