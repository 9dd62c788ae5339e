package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/hive/internal/config"
)

var resetForce bool

var resetCmd = &cobra.Command{
	Use:   "reset [project]",
	Short: "Return a project to a cold state",
	Long: `Kill every agent session, remove all task worktrees, clear the
project's coordination state, and rewind queued and running tasks to
unclaimed. Completed and merged tasks keep their history.

Uncommitted agent work in the worktrees is lost. Merged branches are not
touched.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runReset,
}

func init() {
	resetCmd.Flags().BoolVar(&resetForce, "force", false, "Skip the confirmation prompt")
}

func runReset(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	project, err := resolveProject(config.NewRegistry(), args)
	if err != nil {
		return err
	}

	if !resetForce {
		fmt.Printf("This kills all agent sessions for %q and deletes their worktrees.\n", project.ID)
		fmt.Print("Continue? [y/N] ")
		line, _ := bufio.NewReader(os.Stdin).ReadString('\n')
		answer := strings.ToLower(strings.TrimSpace(line))
		if answer != "y" && answer != "yes" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	stack, err := buildStack(cfg, project)
	if err != nil {
		return err
	}
	defer stack.close()

	if err := stack.orch.Reset(context.Background()); err != nil {
		return err
	}

	fmt.Printf("%s Project %q reset.\n", color.GreenString("✓"), project.ID)
	return nil
}
