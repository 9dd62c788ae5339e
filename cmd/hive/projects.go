package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/hive/internal/config"
)

var projectsCmd = &cobra.Command{
	Use:   "projects",
	Short: "List registered projects",
	Long: `List the projects in ~/.hive/projects.yaml.

Projects are registered by 'hive init'. Remove one with
'hive projects rm <id>' (the project's files are untouched).`,
	Args: cobra.NoArgs,
	RunE: runProjectsList,
}

var projectsRemoveCmd = &cobra.Command{
	Use:   "rm <id>",
	Short: "Remove a project from the registry",
	Args:  cobra.ExactArgs(1),
	RunE:  runProjectsRemove,
}

func init() {
	projectsCmd.AddCommand(projectsRemoveCmd)
}

func runProjectsList(cmd *cobra.Command, args []string) error {
	projects, err := config.NewRegistry().List()
	if err != nil {
		return err
	}
	if len(projects) == 0 {
		fmt.Println("No projects registered. Run 'hive init' in a repository first.")
		return nil
	}

	for _, p := range projects {
		line := fmt.Sprintf("  %-20s %s", p.ID, p.Path)
		if p.MaxAgents > 0 {
			line += fmt.Sprintf("  (max %d agents)", p.MaxAgents)
		}
		fmt.Println(line)
	}
	return nil
}

func runProjectsRemove(cmd *cobra.Command, args []string) error {
	if err := config.NewRegistry().Remove(args[0]); err != nil {
		return err
	}
	fmt.Printf("Removed %q from the registry. Project files are untouched.\n", args[0])
	return nil
}
