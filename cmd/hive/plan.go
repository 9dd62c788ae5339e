package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/hive/internal/config"
	"github.com/ShayCichocki/hive/internal/eventbus"
	"github.com/ShayCichocki/hive/internal/planner"
	"github.com/ShayCichocki/hive/internal/taskstore"
	"github.com/ShayCichocki/hive/pkg/models"
)

var (
	planProjectID string
	planReplace   bool
)

var planCmd = &cobra.Command{
	Use:   "plan <request>",
	Short: "Turn a request into a task backlog",
	Long: `Ask the model to break a request into parallelizable tasks.

Generated tasks land in the project's .hive/tasks.md as unclaimed, complete
with dependencies, priorities, file ownership hints, and setup commands.
Review and edit the file before 'hive run' if the plan needs adjusting.

With --replace the existing backlog is discarded first. Replacement is
refused while any task is running.

Requires an Anthropic API key (ANTHROPIC_API_KEY or anthropic_api_key in
~/.hive/config.yaml); set use_aws_bedrock to route through Bedrock instead.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runPlan,
}

func init() {
	planCmd.Flags().StringVar(&planProjectID, "project", "", "Project id (defaults to the current directory's project)")
	planCmd.Flags().BoolVar(&planReplace, "replace", false, "Discard the existing backlog first")
}

func runPlan(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	var projectArgs []string
	if planProjectID != "" {
		projectArgs = []string{planProjectID}
	}
	project, err := resolveProject(config.NewRegistry(), projectArgs)
	if err != nil {
		return err
	}

	apiKey := ""
	if !cfg.UseAWSBedrock {
		apiKey, err = config.GetAPIKey(cfg)
		if err != nil {
			return err
		}
	}

	store := taskstore.New(project.Path)
	if err := store.Init(); err != nil {
		return err
	}

	if planReplace {
		existing, err := store.List()
		if err != nil {
			return err
		}
		for _, t := range existing {
			if t.Status == models.TaskStatusInProgress {
				return fmt.Errorf("task %s is in progress; stop the orchestrator or finish the run before --replace", t.ID)
			}
		}
		if err := store.Replace(nil); err != nil {
			return fmt.Errorf("clear backlog: %w", err)
		}
		if len(existing) > 0 {
			fmt.Printf("Discarded %d existing tasks.\n", len(existing))
		}
	}

	client, err := planner.NewClient(planner.ClientConfig{
		Model:         anthropic.Model(cfg.AnthropicModel),
		APIKey:        apiKey,
		UseAWSBedrock: cfg.UseAWSBedrock,
		AWSRegion:     cfg.AWSRegion,
		AWSProfile:    cfg.AWSProfile,
	})
	if err != nil {
		return err
	}

	bus := eventbus.New()
	defer bus.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	request := strings.Join(args, " ")
	fmt.Printf("Planning %q with %s...\n", truncateRequest(request), client.Model())

	pl := planner.NewPlanner(client, store, planner.Options{Bus: bus})
	tasks, err := pl.GeneratePlan(ctx, project, request)
	if err != nil {
		if errors.Is(err, planner.ErrPlanTimeout) {
			return fmt.Errorf("the model did not answer in time; try again or simplify the request: %w", err)
		}
		return err
	}

	fmt.Printf("\n%s Added %d tasks to %s:\n\n", color.GreenString("✓"), len(tasks), store.Path())
	for _, t := range tasks {
		line := fmt.Sprintf("  #%-3d %s", t.TaskID, t.Title)
		if len(t.Dependencies) > 0 {
			line += fmt.Sprintf("  (after %s)", strings.Join(t.Dependencies, ", "))
		}
		fmt.Println(line)
	}
	fmt.Println("\nReview the plan, then dispatch agents with 'hive run'.")

	if in, out := client.Tracker().Total(); in+out > 0 {
		fmt.Fprintf(os.Stderr, "tokens: %d in, %d out\n", in, out)
	}
	return nil
}

func truncateRequest(s string) string {
	if len(s) <= 60 {
		return s
	}
	return s[:60] + "..."
}
