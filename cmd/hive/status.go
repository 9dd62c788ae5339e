package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/hive/internal/config"
	"github.com/ShayCichocki/hive/internal/coord"
	"github.com/ShayCichocki/hive/internal/taskstore"
	"github.com/ShayCichocki/hive/pkg/models"
)

var statusCmd = &cobra.Command{
	Use:   "status [project]",
	Short: "Show backlog and agent state for a project",
	Long: `Display the current state of a hive project.

Shows:
  - Task counts per lifecycle state and the tasks agents hold right now
  - Agent registrations from the coordination store
  - Shared todos, registered interfaces, and recent file changes`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	project, err := resolveProject(config.NewRegistry(), args)
	if err != nil {
		return err
	}

	tasks, err := taskstore.New(project.Path).List()
	if err != nil {
		return fmt.Errorf("read task file: %w", err)
	}

	fmt.Printf("Project: %s (%s)\n", project.Name, project.Path)
	displayTaskSummary(tasks)

	// Durable coordination state is shared between processes through the
	// database; heartbeats and locks live inside the orchestrator process
	// and are not visible from here.
	db, err := coord.OpenDefault()
	if err != nil {
		fmt.Printf("\nCoordination store unavailable: %v\n", err)
		return nil
	}
	defer db.Close()
	store := coord.NewStore(db, coord.Options{
		HeartbeatWindow: cfg.HeartbeatTTL,
		LockTTL:         cfg.LockTTL,
	})

	return displayCoordination(store, project.ID)
}

func displayTaskSummary(tasks []*models.Task) {
	counts := map[models.TaskStatus]int{}
	var inProgress []*models.Task
	for _, t := range tasks {
		counts[t.Status]++
		if t.Status == models.TaskStatusInProgress {
			inProgress = append(inProgress, t)
		}
	}

	fmt.Printf("Tasks: %d total", len(tasks))
	if len(tasks) > 0 {
		fmt.Printf(" (%d unclaimed, %d up next, %d in progress, %d completed, %d merged)",
			counts[models.TaskStatusUnclaimed],
			counts[models.TaskStatusUpNext],
			counts[models.TaskStatusInProgress],
			counts[models.TaskStatusCompleted],
			counts[models.TaskStatusMerged])
	}
	fmt.Println()

	if len(inProgress) > 0 {
		fmt.Println("\nIn progress:")
		for _, t := range inProgress {
			age := formatDuration(time.Since(t.UpdatedAt))
			fmt.Printf("  #%-3d %q  session %s  (%s)\n", t.TaskID, t.Title, t.Session, age)
		}
	}

	if len(tasks) == 0 {
		fmt.Println("\nAdd tasks with 'hive plan' or 'hive task add'.")
	}
}

func displayCoordination(store *coord.Store, projectID string) error {
	agents, err := store.ListAgents(projectID)
	if err != nil {
		return fmt.Errorf("list agents: %w", err)
	}
	if len(agents) > 0 {
		fmt.Println("\nRegistered agents:")
		for _, a := range agents {
			fmt.Printf("  %s  task %s  %s  (registered %s ago)\n",
				a.SessionName, a.TaskID, a.Status, formatDuration(time.Since(a.StartedAt)))
		}
	}

	todos, err := store.AllTodos(projectID)
	if err != nil {
		return fmt.Errorf("list todos: %w", err)
	}
	if len(todos) > 0 {
		completed := 0
		for _, todo := range todos {
			if todo.Status == models.TodoStatusCompleted {
				completed++
			}
		}
		fmt.Printf("\nShared todos: %d total, %d completed\n", len(todos), completed)
	}

	interfaces, err := store.ListInterfaces(projectID)
	if err != nil {
		return fmt.Errorf("list interfaces: %w", err)
	}
	if len(interfaces) > 0 {
		fmt.Printf("Registered interfaces: %d\n", len(interfaces))
		for _, def := range interfaces {
			fmt.Printf("  %s (by %s)\n", def.Name, def.SessionName)
		}
	}

	changes, err := store.RecentChanges(projectID, time.Hour)
	if err != nil {
		return fmt.Errorf("recent changes: %w", err)
	}
	if len(changes) > 0 {
		fmt.Printf("File changes in the last hour: %d\n", len(changes))
	}

	return nil
}
