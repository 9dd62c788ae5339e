package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/hive/internal/config"
	"github.com/ShayCichocki/hive/internal/coord"
	"github.com/ShayCichocki/hive/internal/eventbus"
	"github.com/ShayCichocki/hive/internal/git"
	"github.com/ShayCichocki/hive/internal/orchestrator"
	"github.com/ShayCichocki/hive/internal/session"
	"github.com/ShayCichocki/hive/internal/taskstore"
	"github.com/ShayCichocki/hive/internal/worktree"
	"github.com/ShayCichocki/hive/pkg/models"
)

var (
	runMaxAgents int
	runTick      time.Duration
	runAutoMerge bool
	runPort      int
	runOnce      bool
)

var runCmd = &cobra.Command{
	Use:   "run [project]",
	Short: "Run the orchestrator for a project",
	Long: `Run the scheduler, merge queue, and coordination server for a project.

Tasks come from <project>/.hive/tasks.md. Every tick the scheduler promotes
unclaimed tasks whose dependencies are done, spawns one agent session per
ready task (each in its own git worktree on its own branch), reaps finished
agents, and merges completed branches back to main in dependency order.

The project argument is a registry id from 'hive projects'. Without it the
current directory must be a registered project root.

Runs until interrupted. Agent sessions survive a restart: the next run
re-adopts them through completion detection.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runProject,
}

func init() {
	runCmd.Flags().IntVar(&runMaxAgents, "max-agents", 0, "Override max concurrent agents for this run")
	runCmd.Flags().DurationVar(&runTick, "tick", 0, "Override the scheduler tick interval")
	runCmd.Flags().BoolVar(&runAutoMerge, "auto-merge", true, "Merge completed tasks automatically")
	runCmd.Flags().IntVar(&runPort, "port", 0, "Override the coordination server port")
	runCmd.Flags().BoolVar(&runOnce, "once", false, "Run a single scheduling pass and exit")
}

func runProject(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("max-agents") {
		cfg.MaxConcurrentAgents = runMaxAgents
	}
	if cmd.Flags().Changed("tick") {
		cfg.TickInterval = runTick
	}
	if cmd.Flags().Changed("auto-merge") {
		cfg.AutoMerge = runAutoMerge
	}
	if cmd.Flags().Changed("port") {
		cfg.CoordinationPort = runPort
		cfg.CoordinationEndpoint = fmt.Sprintf("http://localhost:%d/mcp", runPort)
	}

	project, err := resolveProject(config.NewRegistry(), args)
	if err != nil {
		return err
	}

	if err := CheckAgentCLI(cfg.AgentCommand); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\nReceived interrupt, shutting down...")
		cancel()
	}()

	stack, err := buildStack(cfg, project)
	if err != nil {
		return err
	}
	defer stack.close()

	sub := stack.bus.Subscribe()
	go printEvents(sub, cfg.Debug)

	if err := stack.server.Start(ctx); err != nil {
		return err
	}
	go stack.store.RunSweeper(ctx, cfg.SweepInterval, func(projectID string, sessions []string) {
		for _, s := range sessions {
			fmt.Printf("%s agent %s went stale\n", color.YellowString("⚠"), s)
		}
	})

	if runOnce {
		fmt.Printf("Running one scheduling pass for %s...\n", project.ID)
		if err := stack.orch.Tick(ctx); err != nil {
			return fmt.Errorf("tick: %w", err)
		}
		return nil
	}

	if err := stack.orch.Start(ctx); err != nil {
		return err
	}
	defer stack.orch.Stop()

	fmt.Printf("Orchestrating %s (%s)\n", project.Name, project.Path)
	fmt.Printf("  Max agents:   %d\n", min(cfg.MaxConcurrentAgents, project.EffectiveMaxAgents()))
	fmt.Printf("  Tick:         %s\n", cfg.TickInterval)
	fmt.Printf("  Auto-merge:   %v\n", cfg.AutoMerge)
	fmt.Printf("  Coordination: %s\n", cfg.CoordinationEndpoint)
	fmt.Println("\nPress Ctrl+C to stop.")

	<-ctx.Done()
	return nil
}

// stack bundles everything a running orchestrator needs so run and reset
// share the wiring.
type stack struct {
	db     *coord.DB
	store  *coord.Store
	bus    *eventbus.Bus
	hub    *eventbus.Hub
	server *coord.Server
	orch   *orchestrator.Orchestrator
	logger *orchestrator.DebugLogger
}

func buildStack(cfg *config.Config, project *models.Project) (*stack, error) {
	db, err := coord.OpenDefault()
	if err != nil {
		return nil, fmt.Errorf("open coordination database: %w", err)
	}

	var coordLogger *log.Logger
	if cfg.Debug {
		coordLogger = log.New(os.Stderr, "[coord] ", log.LstdFlags)
	}
	store := coord.NewStore(db, coord.Options{
		HeartbeatWindow: cfg.HeartbeatTTL,
		LockTTL:         cfg.LockTTL,
		Logger:          coordLogger,
	})

	bus := eventbus.New()
	hub := eventbus.NewHub(bus, coordLogger)
	server := coord.NewServer(store, coord.ServerOptions{
		Addr:   fmt.Sprintf(":%d", cfg.CoordinationPort),
		Logger: coordLogger,
		Hub:    hub,
	})

	worktrees, err := worktree.NewManager(project.Path, worktree.Options{
		Endpoint: cfg.CoordinationEndpoint,
		Logger:   coordLogger,
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	dbgLogger := orchestrator.NopLogger()
	if cfg.Debug {
		dbgLogger = orchestrator.NewDebugLoggerForProject(project.Path)
	}

	orch, err := orchestrator.New(orchestrator.Options{
		Project:   project,
		Tasks:     taskstore.New(project.Path),
		Coord:     store,
		Worktrees: worktrees,
		Sessions:  session.NewSupervisor(),
		Git:       git.NewRunner(project.Path),
		Bus:       bus,
		Logger:    dbgLogger,
		Config: orchestrator.Config{
			MaxConcurrentAgents: cfg.MaxConcurrentAgents,
			TickInterval:        cfg.TickInterval,
			AutoMerge:           cfg.AutoMerge,
			AgentCommand:        cfg.AgentCommand,
		},
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &stack{
		db:     db,
		store:  store,
		bus:    bus,
		hub:    hub,
		server: server,
		orch:   orch,
		logger: dbgLogger,
	}, nil
}

func (s *stack) close() {
	s.server.Shutdown(context.Background())
	s.hub.Close()
	s.bus.Close()
	s.db.Close()
	s.logger.Close()
}

// printEvents renders orchestrator events as terminal lines. Stats events
// are only shown in debug mode; they fire every tick.
func printEvents(sub *eventbus.Subscription, debug bool) {
	for event := range sub.Events() {
		data := event.Data
		switch event.Type {
		case eventbus.TypeTaskStatusChanged:
			fmt.Printf("[TASK] %v: %v → %v\n", data["task_id"], data["from"], data["to"])
		case eventbus.TypeAgentSpawned:
			fmt.Printf("%s task %v handed to session %v\n", color.GreenString("[SPAWN]"), data["task_id"], data["session"])
		case eventbus.TypeAgentSpawnFailed:
			fmt.Printf("%s task %v: %v\n", color.RedString("[SPAWN FAILED]"), data["task_id"], data["error"])
		case eventbus.TypeTaskCompleted:
			fmt.Printf("%s task %v (%v)\n", color.GreenString("[DONE]"), data["task_id"], data["reason"])
		case eventbus.TypeTaskMerged:
			fmt.Printf("%s %v landed on main\n", color.GreenString("[MERGED]"), data["branch"])
		case eventbus.TypeMergeFailed:
			fmt.Printf("%s %v: %v\n", color.RedString("[MERGE FAILED]"), data["branch"], data["error"])
		case eventbus.TypeOrchestratorStarted:
			fmt.Println("[ORCHESTRATOR] started")
		case eventbus.TypeOrchestratorStopped:
			fmt.Println("[ORCHESTRATOR] stopped")
		case eventbus.TypePlanGenerated:
			fmt.Printf("[PLAN] %v tasks added\n", data["tasks"])
		case eventbus.TypeProjectReset:
			fmt.Printf("[RESET] sessions=%v worktrees=%v tasks rewound=%v\n",
				data["sessions_killed"], data["worktrees"], data["tasks_rewound"])
		case eventbus.TypeCoordinationUpdate, eventbus.TypeFileLocksUpdate:
			if debug {
				fmt.Printf("[STATS] %v\n", data)
			}
		}
	}
}
