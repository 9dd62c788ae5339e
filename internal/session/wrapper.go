package session

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ShayCichocki/hive/pkg/models"
)

// DefaultAgentCommand is the agent binary the wrapper script invokes.
const DefaultAgentCommand = "claude"

// coordinationPreamble is prepended to every agent prompt, with the
// project id, session name, task id, branch, and title interpolated.
// It is mandatory even when the task supplies a custom prompt.
const coordinationPreamble = `# Mandatory: Agent Coordination Protocol

You are one of several agents working on this repository in parallel.
Other agents are editing other branches right now. You MUST coordinate
with them through the hive MCP tools.

## First action: register

Before doing anything else, register yourself:

    register_agent(project_id=%[1]q, session_name=%[2]q, task_id=%[3]q, branch=%[4]q, description=%[5]q)

If registration fails, stop and report that coordination tools are
unavailable.

## Share your plan

Break your task into todos so other agents can see what you are doing:

    add_todo(%[1]q, %[2]q, "...", 1)

Update each todo as you progress (in_progress, completed).

## Coordinate file access

Before modifying any file, announce it; this acquires a lock:

    announce_file_change(%[1]q, %[2]q, "path/to/file", "modify", "what and why")

Release the lock when you are done with the file:

    release_file_lock(%[1]q, %[2]q, "path/to/file")

If a file is locked by another agent, work on something else, or use
query_agent to ask the holder about their timeline.

## Share interfaces

When you define a type, interface, or API contract other tasks may rely
on, publish it with register_interface. Check list_interfaces and
query_interface before inventing your own version of a shared type.

## Stay reachable

Call heartbeat(%[1]q, %[2]q) every 30 to 60 seconds and check_messages
regularly. Agents that stop heartbeating are treated as dead and lose
their locks.

## When finished

Commit your work to your branch (%[4]s). Then, in order:

1. Mark every todo completed or cancelled.
2. release_all_locks(%[1]q, %[2]q)
3. mark_task_completed(%[1]q, %[2]q, %[3]q)
4. unregister_agent(%[1]q, %[2]q)
`

// BuildPrompt assembles the agent prompt: the coordination protocol
// preamble followed by the task's own prompt. A custom task prompt
// replaces the generated task section, never the preamble.
func BuildPrompt(projectID string, task *models.Task) string {
	session := NameForTask(task, projectID)
	taskID := strconv.Itoa(task.TaskID)

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf(coordinationPreamble,
		projectID, session, taskID, task.Branch, task.Title))
	sb.WriteString("\n## Your Task\n\n")
	if task.Prompt != "" {
		sb.WriteString(task.Prompt)
		sb.WriteString("\n")
		return sb.String()
	}
	sb.WriteString("Create a plan, review your plan and choose the best option, ")
	sb.WriteString("then accomplish the following task and commit the changes ")
	sb.WriteString("to your branch.\n\n")
	sb.WriteString("Title: ")
	sb.WriteString(task.Title)
	sb.WriteString("\n")
	if task.Description != "" {
		sb.WriteString("\nDescription:\n")
		sb.WriteString(task.Description)
		sb.WriteString("\n")
	}
	return sb.String()
}

// agentsDir is where generated wrapper scripts and prompts live.
func agentsDir(projectRoot string) string {
	return filepath.Join(projectRoot, ".hive", "agents")
}

// writeAgentFiles writes the prompt file and wrapper script for a session
// and returns the script path. Files are overwritten on every spawn.
func writeAgentFiles(opts StartOptions, session string) (string, error) {
	dir := agentsDir(opts.ProjectRoot)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	if err := os.MkdirAll(StatusDir(opts.ProjectRoot), 0o755); err != nil {
		return "", err
	}

	promptPath := filepath.Join(dir, session+".prompt")
	if err := os.WriteFile(promptPath, []byte(BuildPrompt(opts.ProjectID, opts.Task)), 0o644); err != nil {
		return "", err
	}

	scriptPath := filepath.Join(dir, session+".sh")
	script := buildWrapper(opts, session, promptPath)
	if err := os.WriteFile(scriptPath, []byte(script), 0o755); err != nil {
		return "", err
	}
	return scriptPath, nil
}

// buildWrapper renders the shell script the tmux session runs: install
// dependencies when lockfiles are present, export the coordination
// environment, flip the status sentinel to RUNNING, invoke the agent, and
// leave the sentinel at COMPLETED on any exit after that point. A crash
// before the agent launches leaves no sentinel, which the scheduler reads
// as a dead spawn rather than a completion.
func buildWrapper(opts StartOptions, session, promptPath string) string {
	agent := opts.AgentCommand
	if agent == "" {
		agent = DefaultAgentCommand
	}

	var sb strings.Builder
	sb.WriteString("#!/bin/bash\n")
	sb.WriteString("# Generated by hive; rewritten on every spawn.\n\n")

	sb.WriteString("if [ -f package-lock.json ]; then\n")
	sb.WriteString("  npm install\n")
	sb.WriteString("elif [ -f yarn.lock ]; then\n")
	sb.WriteString("  yarn install\n")
	sb.WriteString("elif [ -f pnpm-lock.yaml ]; then\n")
	sb.WriteString("  pnpm install\n")
	sb.WriteString("fi\n")
	sb.WriteString("if [ -f requirements.txt ]; then\n")
	sb.WriteString("  pip install -r requirements.txt\n")
	sb.WriteString("fi\n\n")

	sb.WriteString("export PROJECT_ID=" + shellQuote(opts.ProjectID) + "\n")
	sb.WriteString("export SESSION_NAME=" + shellQuote(session) + "\n")
	sb.WriteString("export TASK_ID=" + shellQuote(strconv.Itoa(opts.Task.TaskID)) + "\n")
	sb.WriteString("export BRANCH=" + shellQuote(opts.Task.Branch) + "\n")
	sb.WriteString("export TASK_TITLE=" + shellQuote(opts.Task.Title) + "\n\n")

	sb.WriteString("STATUS_FILE=" + shellQuote(StatusPath(opts.ProjectRoot, session)) + "\n")
	sb.WriteString("echo RUNNING > \"$STATUS_FILE\"\n")
	sb.WriteString("trap 'echo COMPLETED > \"$STATUS_FILE\"' EXIT\n\n")

	sb.WriteString(agent + " --dangerously-skip-permissions \"$(cat " + shellQuote(promptPath) + ")\"\n")
	return sb.String()
}

// shellQuote wraps s in single quotes, escaping embedded single quotes.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
