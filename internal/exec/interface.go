// Package exec abstracts external command execution so the session
// supervisor and worktree manager can be tested without tmux or a shell.
package exec

import (
	"context"
)

// CommandRunner runs external commands for the pieces of hive that shell
// out: tmux control, worktree setup commands, and preflight checks.
type CommandRunner interface {
	// Run executes a command and returns combined stdout/stderr output.
	// The working directory is set to workDir if non-empty.
	Run(ctx context.Context, workDir string, name string, args ...string) (output []byte, err error)

	// RunShell executes a command line through "sh -c", as task
	// setup_commands are written for a shell.
	RunShell(ctx context.Context, workDir string, command string) (output []byte, err error)

	// LookPath reports the absolute path of a binary on PATH.
	// Used for preflight checks before spawning agents.
	LookPath(name string) (string, error)
}
