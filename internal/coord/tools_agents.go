package coord

import (
	"context"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ShayCichocki/hive/pkg/models"
)

func (s *Server) registerAgentTools() {
	s.register(
		mcp.NewTool("register_agent",
			mcp.WithDescription("Register yourself with the coordination server. Call this once, first, before any other tool. Re-registering for the same task refreshes your record."),
			mcp.WithString("project_id", mcp.Required(), mcp.Description("Project identifier from your environment (PROJECT_ID)")),
			mcp.WithString("session_name", mcp.Required(), mcp.Description("Your session name from your environment (SESSION_NAME)")),
			mcp.WithString("task_id", mcp.Required(), mcp.Description("The task id you are working on (TASK_ID)")),
			mcp.WithString("branch", mcp.Required(), mcp.Description("The branch you commit to (BRANCH)")),
			mcp.WithString("description", mcp.Description("One line describing what you are building")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) *mcp.CallToolResult {
			args := req.GetArguments()
			projectID := stringArg(args, "project_id")
			session := stringArg(args, "session_name")
			taskID := idArg(args, "task_id")
			branch := stringArg(args, "branch")
			if projectID == "" || session == "" || taskID == "" || branch == "" {
				return errorResult("project_id, session_name, task_id, and branch are required", nil)
			}

			rec, err := s.store.RegisterAgent(projectID, session, taskID, branch, stringArg(args, "description"))
			if err != nil {
				var conflict *SessionConflictError
				if errors.As(err, &conflict) {
					return errorResult(err.Error(), map[string]any{"task_id": conflict.TaskID})
				}
				return errorResult(err.Error(), nil)
			}
			return successResult(fmt.Sprintf("agent %s registered", session), rec)
		},
	)

	s.register(
		mcp.NewTool("unregister_agent",
			mcp.WithDescription("Remove your registration, todos, inbox, and locks. Call this last, after mark_task_completed."),
			mcp.WithString("project_id", mcp.Required(), mcp.Description("Project identifier")),
			mcp.WithString("session_name", mcp.Required(), mcp.Description("Your session name")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) *mcp.CallToolResult {
			args := req.GetArguments()
			projectID := stringArg(args, "project_id")
			session := stringArg(args, "session_name")
			if projectID == "" || session == "" {
				return errorResult("project_id and session_name are required", nil)
			}
			if err := s.store.UnregisterAgent(projectID, session); err != nil {
				return errorResult(err.Error(), nil)
			}
			return successResult(fmt.Sprintf("agent %s unregistered", session), nil)
		},
	)

	s.register(
		mcp.NewTool("heartbeat",
			mcp.WithDescription("Signal liveness. Call every 30-60 seconds while working; sessions without a heartbeat for 2 minutes are considered dead and lose their file locks."),
			mcp.WithString("project_id", mcp.Required(), mcp.Description("Project identifier")),
			mcp.WithString("session_name", mcp.Required(), mcp.Description("Your session name")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) *mcp.CallToolResult {
			args := req.GetArguments()
			projectID := stringArg(args, "project_id")
			session := stringArg(args, "session_name")
			if projectID == "" || session == "" {
				return errorResult("project_id and session_name are required", nil)
			}
			s.store.Heartbeat(projectID, session)
			return successResult("ok", nil)
		},
	)

	s.register(
		mcp.NewTool("list_active_agents",
			mcp.WithDescription("List agents with a live heartbeat, including their task, branch, and description."),
			mcp.WithString("project_id", mcp.Required(), mcp.Description("Project identifier")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) *mcp.CallToolResult {
			args := req.GetArguments()
			projectID := stringArg(args, "project_id")
			if projectID == "" {
				return errorResult("project_id is required", nil)
			}
			agents, err := s.store.ListActiveAgents(projectID)
			if err != nil {
				return errorResult(err.Error(), nil)
			}
			return successResult(fmt.Sprintf("%d active agent(s)", len(agents)), map[string]any{
				"agents": agents,
				"count":  len(agents),
			})
		},
	)

	s.register(
		mcp.NewTool("update_agent_status",
			mcp.WithDescription("Update your status line so other agents and the dashboard can see what you are doing."),
			mcp.WithString("project_id", mcp.Required(), mcp.Description("Project identifier")),
			mcp.WithString("session_name", mcp.Required(), mcp.Description("Your session name")),
			mcp.WithString("status", mcp.Required(), mcp.Description("New status value")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) *mcp.CallToolResult {
			args := req.GetArguments()
			projectID := stringArg(args, "project_id")
			session := stringArg(args, "session_name")
			status := stringArg(args, "status")
			if projectID == "" || session == "" || status == "" {
				return errorResult("project_id, session_name, and status are required", nil)
			}
			if err := s.store.UpdateAgentStatus(projectID, session, models.AgentStatus(status)); err != nil {
				return errorResult(err.Error(), nil)
			}
			return successResult("status updated", nil)
		},
	)

	s.register(
		mcp.NewTool("mark_task_completed",
			mcp.WithDescription("Announce that your task is done. Call this after your final commit, before unregister_agent. The orchestrator consumes this notice to queue your branch for merging."),
			mcp.WithString("project_id", mcp.Required(), mcp.Description("Project identifier")),
			mcp.WithString("session_name", mcp.Required(), mcp.Description("Your session name")),
			mcp.WithString("task_id", mcp.Required(), mcp.Description("The completed task id")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) *mcp.CallToolResult {
			args := req.GetArguments()
			projectID := stringArg(args, "project_id")
			session := stringArg(args, "session_name")
			taskID := idArg(args, "task_id")
			if projectID == "" || session == "" || taskID == "" {
				return errorResult("project_id, session_name, and task_id are required", nil)
			}
			if err := s.store.MarkTaskCompleted(projectID, session, taskID); err != nil {
				return errorResult(err.Error(), nil)
			}
			return successResult(fmt.Sprintf("task %s marked completed", taskID), map[string]any{"task_id": taskID})
		},
	)
}
