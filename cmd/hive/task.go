package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/hive/internal/config"
	"github.com/ShayCichocki/hive/internal/taskstore"
	"github.com/ShayCichocki/hive/pkg/models"
)

var taskProjectID string

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Manage the task backlog",
	Long: `Inspect and edit the project's task backlog by hand.

The backlog lives in <project>/.hive/tasks.md and can also be edited with
any text editor; these subcommands keep the bookkeeping fields consistent.`,
}

var (
	taskAddDescription string
	taskAddPrompt      string
	taskAddPriority    int
	taskAddMergeOrder  int
	taskAddDepends     []string
	taskAddExclusive   []string
	taskAddShared      []string
	taskAddInitDeps    []string
	taskAddSetup       []string
)

var taskAddCmd = &cobra.Command{
	Use:   "add <title>",
	Short: "Add a task to the backlog",
	Long: `Add an unclaimed task to the backlog.

Examples:
  hive task add "Build the login page" --exclusive src/auth/
  hive task add "Wire payments" --depends build-the-login-page-1 --priority 2`,
	Args: cobra.MinimumNArgs(1),
	RunE: runTaskAdd,
}

var taskListStatus string

var taskListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks",
	Args:  cobra.NoArgs,
	RunE:  runTaskList,
}

var taskShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one task in full",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskShow,
}

var taskRemoveCmd = &cobra.Command{
	Use:   "rm <id>",
	Short: "Remove a task from the backlog",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskRemove,
}

func init() {
	taskCmd.PersistentFlags().StringVar(&taskProjectID, "project", "", "Project id (defaults to the current directory's project)")

	taskAddCmd.Flags().StringVar(&taskAddDescription, "description", "", "Detailed task description")
	taskAddCmd.Flags().StringVar(&taskAddPrompt, "prompt", "", "Override the generated agent prompt")
	taskAddCmd.Flags().IntVar(&taskAddPriority, "priority", 0, "Priority 1 (highest) to 10 (lowest); 0 accepts the default")
	taskAddCmd.Flags().IntVar(&taskAddMergeOrder, "merge-order", 0, "Tiebreaker for merge ordering; lower merges first")
	taskAddCmd.Flags().StringSliceVar(&taskAddDepends, "depends", nil, "Task ids that must merge before this one starts")
	taskAddCmd.Flags().StringSliceVar(&taskAddExclusive, "exclusive", nil, "Files or directories only this task may touch")
	taskAddCmd.Flags().StringSliceVar(&taskAddShared, "shared", nil, "Files several tasks may touch concurrently")
	taskAddCmd.Flags().StringSliceVar(&taskAddInitDeps, "init-deps", nil, "Task ids whose merged branch this task forks from")
	taskAddCmd.Flags().StringSliceVar(&taskAddSetup, "setup", nil, "Shell commands run in the worktree before the agent starts")

	taskListCmd.Flags().StringVar(&taskListStatus, "status", "", "Filter by status (unclaimed, up_next, in_progress, completed, merged)")

	taskCmd.AddCommand(taskAddCmd)
	taskCmd.AddCommand(taskListCmd)
	taskCmd.AddCommand(taskShowCmd)
	taskCmd.AddCommand(taskRemoveCmd)
}

func taskStore() (*taskstore.Store, error) {
	var args []string
	if taskProjectID != "" {
		args = []string{taskProjectID}
	}
	project, err := resolveProject(config.NewRegistry(), args)
	if err != nil {
		return nil, err
	}
	return taskstore.New(project.Path), nil
}

func runTaskAdd(cmd *cobra.Command, args []string) error {
	store, err := taskStore()
	if err != nil {
		return err
	}
	if err := store.Init(); err != nil {
		return err
	}

	title := strings.Join(args, " ")
	task, err := store.Add(title, taskstore.AddOptions{
		Description:        taskAddDescription,
		Prompt:             taskAddPrompt,
		Dependencies:       taskAddDepends,
		Priority:           taskAddPriority,
		MergeOrder:         taskAddMergeOrder,
		ExclusiveFiles:     taskAddExclusive,
		SharedFiles:        taskAddShared,
		InitializationDeps: taskAddInitDeps,
		SetupCommands:      taskAddSetup,
	})
	if err != nil {
		return err
	}

	fmt.Printf("%s Added task #%d %q (id %s, branch %s)\n",
		color.GreenString("✓"), task.TaskID, task.Title, task.ID, task.Branch)
	return nil
}

func runTaskList(cmd *cobra.Command, args []string) error {
	store, err := taskStore()
	if err != nil {
		return err
	}
	tasks, err := store.List()
	if err != nil {
		return err
	}

	if taskListStatus != "" {
		want := models.TaskStatus(taskListStatus)
		if !want.Valid() {
			return fmt.Errorf("unknown status %q", taskListStatus)
		}
		filtered := tasks[:0]
		for _, t := range tasks {
			if t.Status == want {
				filtered = append(filtered, t)
			}
		}
		tasks = filtered
	}

	if len(tasks) == 0 {
		fmt.Println("No tasks. Add some with 'hive plan' or 'hive task add'.")
		return nil
	}

	for _, t := range tasks {
		line := fmt.Sprintf("  #%-3d %-12s %s", t.TaskID, colorStatus(t.Status), t.Title)
		var notes []string
		if len(t.Dependencies) > 0 {
			notes = append(notes, "after "+strings.Join(t.Dependencies, ", "))
		}
		if t.Session != "" {
			notes = append(notes, "session "+t.Session)
		}
		if len(notes) > 0 {
			line += "  (" + strings.Join(notes, "; ") + ")"
		}
		fmt.Println(line)
	}
	return nil
}

func runTaskShow(cmd *cobra.Command, args []string) error {
	store, err := taskStore()
	if err != nil {
		return err
	}
	task, err := store.Get(args[0])
	if err != nil {
		return err
	}

	fmt.Printf("Task #%d: %s\n", task.TaskID, task.Title)
	fmt.Printf("  id:          %s\n", task.ID)
	fmt.Printf("  status:      %s\n", colorStatus(task.Status))
	fmt.Printf("  branch:      %s\n", task.Branch)
	fmt.Printf("  priority:    %d\n", task.EffectivePriority())
	if task.MergeOrder != 0 {
		fmt.Printf("  merge_order: %d\n", task.MergeOrder)
	}
	if task.Session != "" {
		fmt.Printf("  session:     %s\n", task.Session)
	}
	if task.Description != "" {
		fmt.Printf("  description: %s\n", task.Description)
	}
	if len(task.Dependencies) > 0 {
		fmt.Printf("  depends on:  %s\n", strings.Join(task.Dependencies, ", "))
	}
	if len(task.InitializationDeps) > 0 {
		fmt.Printf("  forks from:  %s\n", strings.Join(task.InitializationDeps, ", "))
	}
	if len(task.ExclusiveFiles) > 0 {
		fmt.Printf("  exclusive:   %s\n", strings.Join(task.ExclusiveFiles, ", "))
	}
	if len(task.SharedFiles) > 0 {
		fmt.Printf("  shared:      %s\n", strings.Join(task.SharedFiles, ", "))
	}
	if len(task.SetupCommands) > 0 {
		fmt.Printf("  setup:       %s\n", strings.Join(task.SetupCommands, " && "))
	}
	if task.CompletedAt != nil {
		fmt.Printf("  completed:   %s ago\n", formatDuration(time.Since(*task.CompletedAt)))
	}
	if task.MergedAt != nil {
		fmt.Printf("  merged:      %s ago\n", formatDuration(time.Since(*task.MergedAt)))
	}
	return nil
}

func runTaskRemove(cmd *cobra.Command, args []string) error {
	store, err := taskStore()
	if err != nil {
		return err
	}
	task, err := store.Get(args[0])
	if err != nil {
		return err
	}
	if task.Status == models.TaskStatusInProgress {
		return fmt.Errorf("task %s is in progress; let it finish or reset the project first", task.ID)
	}
	if err := store.Delete(task.ID); err != nil {
		return err
	}
	fmt.Printf("Removed task #%d %q\n", task.TaskID, task.Title)
	return nil
}

// colorStatus renders a task status with a stable color per state.
func colorStatus(s models.TaskStatus) string {
	switch s {
	case models.TaskStatusUpNext:
		return color.CyanString(string(s))
	case models.TaskStatusInProgress:
		return color.YellowString(string(s))
	case models.TaskStatusCompleted:
		return color.GreenString(string(s))
	case models.TaskStatusMerged:
		return color.HiGreenString(string(s))
	default:
		return string(s)
	}
}
