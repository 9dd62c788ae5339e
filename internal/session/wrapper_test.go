package session

import (
	"strings"
	"testing"

	"github.com/ShayCichocki/hive/pkg/models"
)

func TestBuildPromptPreambleComesFirst(t *testing.T) {
	task := &models.Task{
		TaskID:      12,
		Title:       "Build the REST API",
		Description: "CRUD endpoints for tasks",
		Branch:      "task-12",
	}

	prompt := BuildPrompt("webapp", task)

	if !strings.HasPrefix(prompt, "# Mandatory: Agent Coordination Protocol") {
		t.Error("prompt must start with the coordination preamble")
	}
	for _, want := range []string{
		`register_agent(project_id="webapp", session_name="12-webapp", task_id="12", branch="task-12"`,
		"mark_task_completed",
		"unregister_agent",
		"heartbeat",
		"## Your Task",
		"Title: Build the REST API",
		"CRUD endpoints for tasks",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestBuildPromptCustomPromptKeepsPreamble(t *testing.T) {
	task := &models.Task{
		TaskID: 3,
		Title:  "Fix flaky test",
		Branch: "task-3",
		Prompt: "Reproduce the flake in ci.yaml, then fix it.",
	}

	prompt := BuildPrompt("demo", task)

	if !strings.HasPrefix(prompt, "# Mandatory: Agent Coordination Protocol") {
		t.Error("custom prompt must not replace the preamble")
	}
	if !strings.Contains(prompt, "Reproduce the flake in ci.yaml") {
		t.Error("custom prompt text missing")
	}
	if strings.Contains(prompt, "Create a plan, review your plan") {
		t.Error("generated task section should be replaced by the custom prompt")
	}
	if strings.Index(prompt, "register_agent") > strings.Index(prompt, "Reproduce the flake") {
		t.Error("preamble must come before the custom prompt")
	}
}

func TestBuildWrapperSentinelOrder(t *testing.T) {
	task := &models.Task{TaskID: 7, Title: "t", Branch: "task-7"}
	script := buildWrapper(StartOptions{
		ProjectID:   "demo",
		ProjectRoot: "/proj",
		Task:        task,
	}, "7-demo", "/proj/.hive/agents/7-demo.prompt")

	install := strings.Index(script, "npm install")
	running := strings.Index(script, "echo RUNNING")
	trap := strings.Index(script, "trap 'echo COMPLETED")
	agent := strings.Index(script, "claude --dangerously-skip-permissions")

	for name, idx := range map[string]int{"install": install, "running": running, "trap": trap, "agent": agent} {
		if idx < 0 {
			t.Fatalf("wrapper missing %s section", name)
		}
	}
	if !(install < running && running < trap && trap < agent) {
		t.Errorf("wrapper order wrong: install=%d running=%d trap=%d agent=%d", install, running, trap, agent)
	}
	if !strings.Contains(script, "STATUS_FILE='/proj/.hive/status/7-demo.status'") {
		t.Errorf("wrapper sentinel path wrong:\n%s", script)
	}
}

func TestBuildWrapperCustomAgentCommand(t *testing.T) {
	task := &models.Task{TaskID: 1, Title: "t", Branch: "task-1"}
	script := buildWrapper(StartOptions{
		ProjectID:    "demo",
		ProjectRoot:  "/proj",
		Task:         task,
		AgentCommand: "my-agent",
	}, "1-demo", "/p")

	if !strings.Contains(script, "my-agent --dangerously-skip-permissions") {
		t.Error("wrapper should invoke the configured agent command")
	}
	if strings.Contains(script, "claude --dangerously-skip-permissions") {
		t.Error("wrapper should not fall back to the default agent command")
	}
}

func TestShellQuote(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"plain", "'plain'"},
		{"two words", "'two words'"},
		{"it's quoted", `'it'\''s quoted'`},
		{"", "''"},
	}

	for _, tt := range tests {
		if got := shellQuote(tt.in); got != tt.want {
			t.Errorf("shellQuote(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}
