package coord

import (
	"context"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/ShayCichocki/hive/internal/version"
)

// DefaultAddr is the listen address agents are pointed at by default.
const DefaultAddr = ":8765"

const serverInstructions = `hive coordination server. Agents working on tasks in parallel use these
tools to stay visible to each other: register_agent first, heartbeat every
30-60 seconds, announce_file_change before editing shared files,
register_interface for types other agents will consume, and
mark_task_completed followed by unregister_agent when done. Every tool takes
a project_id and returns {status, message, data}.`

// ServerOptions configures the coordination server.
type ServerOptions struct {
	// Addr is the TCP listen address. Defaults to DefaultAddr.
	Addr string
	// Logger receives request and lifecycle diagnostics.
	Logger *log.Logger
	// Hub, if set, is mounted at /ws for dashboard event fan-out.
	Hub http.Handler
}

// Server exposes the coordination store to agents over MCP (streamable HTTP
// at /mcp, SSE at /sse) plus a /health endpoint and the optional /ws hub.
type Server struct {
	store  *Store
	logger *log.Logger
	hub    http.Handler
	addr   string

	mcpServer  *server.MCPServer
	httpServer *http.Server
	handlers   map[string]toolHandler
	listenAddr string
}

// toolHandler produces an envelope result for one coordination tool call.
// Domain failures are error envelopes, not protocol errors.
type toolHandler func(ctx context.Context, req mcp.CallToolRequest) *mcp.CallToolResult

// NewServer creates the coordination server around a store.
func NewServer(store *Store, opts ServerOptions) *Server {
	addr := opts.Addr
	if addr == "" {
		addr = DefaultAddr
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	s := &Server{
		store:    store,
		logger:   logger,
		hub:      opts.Hub,
		addr:     addr,
		handlers: make(map[string]toolHandler),
	}

	hooks := &server.Hooks{}
	hooks.AddAfterCallTool(func(ctx context.Context, id any, message *mcp.CallToolRequest, result *mcp.CallToolResult) {
		if message != nil {
			logger.Printf("tool call: %s", message.Params.Name)
		}
	})

	s.mcpServer = server.NewMCPServer(
		"hive-coordination",
		version.Get(),
		server.WithInstructions(serverInstructions),
		server.WithHooks(hooks),
		server.WithToolCapabilities(true),
	)
	s.registerTools()
	return s
}

// register wires one tool schema to its handler. Handlers are looked up by
// name at call time so a schema without a handler answers with the
// "Tool not implemented" envelope instead of a protocol error.
func (s *Server) register(tool mcp.Tool, handler toolHandler) {
	s.handlers[tool.Name] = handler
	name := tool.Name
	s.mcpServer.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		h, ok := s.handlers[name]
		if !ok {
			return errorResult("Tool not implemented", nil), nil
		}
		return h(ctx, req), nil
	})
}

// Start begins listening and serving in the background. It returns once the
// listener is bound, so callers can read Addr() for the actual port.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("coordination listen %s: %w", s.addr, err)
	}
	s.listenAddr = ln.Addr().String()
	port := ln.Addr().(*net.TCPAddr).Port
	baseURL := fmt.Sprintf("http://localhost:%d", port)

	sseSrv := server.NewSSEServer(s.mcpServer, server.WithBaseURL(baseURL))
	streamSrv := server.NewStreamableHTTPServer(s.mcpServer)

	mux := http.NewServeMux()
	mux.Handle("/mcp", streamSrv)
	mux.Handle("/sse", sseSrv)
	mux.Handle("/sse/", sseSrv)
	mux.Handle("/message", sseSrv)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"ok","version":"%s"}`, version.Get())
	})
	if s.hub != nil {
		mux.Handle("/ws", s.hub)
	}

	s.httpServer = &http.Server{Handler: mux}

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Printf("coordination server error: %v", err)
		}
	}()

	s.logger.Printf("coordination server on %s (agents connect at %s/mcp)", s.listenAddr, baseURL)
	return nil
}

// Addr returns the bound listen address, valid after Start.
func (s *Server) Addr() string {
	return s.listenAddr
}

// Shutdown stops the HTTP server, allowing in-flight requests to finish.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}
