package main

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/spf13/cobra"
)

// CheckAgentCLI verifies that the configured agent command is available in
// PATH. Returns an error with installation instructions if not found.
func CheckAgentCLI(agentCommand string) error {
	if agentCommand == "" {
		agentCommand = "claude"
	}
	if _, err := exec.LookPath(agentCommand); err != nil {
		return fmt.Errorf("%s not found in PATH\n\n"+
			"Hive launches one %s session per task to do the actual coding.\n\n"+
			"Install the default agent with:\n"+
			"  npm install -g @anthropic-ai/claude-code\n\n"+
			"or point agent_command in ~/.hive/config.yaml at another CLI.",
			agentCommand, agentCommand)
	}
	return nil
}

var rootCmd = &cobra.Command{
	Use:   "hive",
	Short: "Parallel AI coding-agent orchestrator",
	Long: `Hive runs a fleet of AI coding agents against one repository in parallel.

Each task gets its own git branch and worktree, and one agent session per
task. A coordination server keeps the agents aware of each other (file
locks, shared todos, interface registrations, messages), a scheduler keeps
the right tasks moving, and a merge queue lands finished branches on main
in dependency order.

Typical flow:
  hive init              # set up the current repository
  hive plan "build X"    # turn a request into a task backlog
  hive run               # dispatch agents until the backlog is done
  hive status            # watch progress from another terminal`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(taskCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(resetCmd)
	rootCmd.AddCommand(projectsCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}
