package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/hive/internal/coord"
	"github.com/ShayCichocki/hive/internal/eventbus"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the coordination server on its own",
	Long: `Run the coordination server without a scheduler.

Agents connect over MCP at /mcp (SSE at /sse), dashboards subscribe to the
websocket feed at /ws, and /health answers liveness probes. Useful when
agents are managed by hand or by another machine's 'hive run'.

Stale heartbeats and expired locks are swept in the background.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Override the coordination server port")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("port") {
		cfg.CoordinationPort = servePort
	}

	db, err := coord.OpenDefault()
	if err != nil {
		return fmt.Errorf("open coordination database: %w", err)
	}
	defer db.Close()

	logger := log.New(os.Stdout, "", log.LstdFlags)
	store := coord.NewStore(db, coord.Options{
		HeartbeatWindow: cfg.HeartbeatTTL,
		LockTTL:         cfg.LockTTL,
		Logger:          logger,
	})

	bus := eventbus.New()
	defer bus.Close()
	hub := eventbus.NewHub(bus, logger)
	defer hub.Close()

	server := coord.NewServer(store, coord.ServerOptions{
		Addr:   fmt.Sprintf(":%d", cfg.CoordinationPort),
		Logger: logger,
		Hub:    hub,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\nReceived interrupt, shutting down...")
		cancel()
	}()

	if err := server.Start(ctx); err != nil {
		return err
	}
	go store.RunSweeper(ctx, cfg.SweepInterval, func(projectID string, sessions []string) {
		logger.Printf("swept stale agents in %s: %v", projectID, sessions)
	})

	fmt.Printf("Coordination server listening on %s\n", server.Addr())
	fmt.Println("Press Ctrl+C to stop.")

	<-ctx.Done()
	return server.Shutdown(context.Background())
}
