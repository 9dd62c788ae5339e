// Package git provides an interface for git operations.
package git

// BranchOperations defines the interface for git branch operations.
type BranchOperations interface {
	// CurrentBranch returns the name of the current branch.
	CurrentBranch() (string, error)
	// CheckoutBranch switches to the specified branch.
	CheckoutBranch(name string) error
	// BranchExists returns true if the branch exists.
	BranchExists(name string) (bool, error)
	// DeleteBranch deletes the specified branch (force delete).
	DeleteBranch(name string) error
}

// HistoryOperations defines the interface for status and commit-graph queries.
type HistoryOperations interface {
	// Status returns the output of git status --porcelain.
	Status() (string, error)
	// HasChanges returns true if there are uncommitted changes.
	HasChanges() (bool, error)
	// ChangedFilesBetween returns files changed between two refs (two-dot diff).
	ChangedFilesBetween(base, head string) ([]string, error)
	// ConflictedFiles returns a list of files with unmerged changes.
	ConflictedFiles() ([]string, error)
	// CommitsAhead returns the number of commits on branch that are not on base.
	CommitsAhead(base, branch string) (int, error)
}

// CommitOperations defines the interface for git commit operations.
type CommitOperations interface {
	// Add stages the specified files for commit.
	Add(paths ...string) error
	// Commit creates a new commit with the given message.
	Commit(message string) error
	// CommitNoEdit concludes an in-progress merge using the prepared merge message.
	CommitNoEdit() error
}

// MergeOperations defines the interface for git merge operations.
type MergeOperations interface {
	// MergeNoFF merges the specified branch with --no-ff and the given message.
	MergeNoFF(branch, message string) error
	// MergeAbort aborts an in-progress merge.
	MergeAbort() error
}

// ConflictOperations defines the interface for reading and resolving
// conflicted index entries during a merge.
type ConflictOperations interface {
	// ShowStage returns the contents of a conflicted file at the given index
	// stage (1 = base, 2 = ours, 3 = theirs).
	ShowStage(stage int, path string) (string, error)
	// CheckoutOurs checks out the "ours" version of a conflicted file.
	CheckoutOurs(path string) error
	// CheckoutTheirs checks out the "theirs" version of a conflicted file.
	CheckoutTheirs(path string) error
}

// WorktreeOperations defines the interface for git worktree operations.
type WorktreeOperations interface {
	// WorktreeAdd creates a new worktree at the given path for an existing branch.
	WorktreeAdd(path, branch string) error
	// WorktreeAddFromBase creates a worktree at path on a new branch forked from base.
	WorktreeAddFromBase(path, branch, base string) error
	// WorktreeRemove removes the worktree at the given path.
	WorktreeRemove(path string) error
	// WorktreeList returns the porcelain-format listing of all worktrees.
	WorktreeList() (string, error)
	// WorktreePrune removes stale worktree entries.
	WorktreePrune() error
}

// RemoteOperations defines the interface for git remote operations.
type RemoteOperations interface {
	// PullFFOnly pulls from remote with fast-forward only.
	// Returns nil if no remote is configured.
	PullFFOnly() error
}

// Runner defines the complete interface for git operations.
// This interface embeds all focused interfaces for full functionality.
// Consumers should prefer using focused interfaces when possible.
type Runner interface {
	BranchOperations
	HistoryOperations
	CommitOperations
	MergeOperations
	ConflictOperations
	WorktreeOperations
	RemoteOperations
	// IsRepo returns true if the runner's path is inside a git repository.
	IsRepo() bool
	// Run executes an arbitrary git command with the given arguments.
	// Returns the command output and an error if the command fails.
	Run(args ...string) (string, error)
}
