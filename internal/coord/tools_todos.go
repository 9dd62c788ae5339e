package coord

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ShayCichocki/hive/pkg/models"
)

func (s *Server) registerTodoTools() {
	s.register(
		mcp.NewTool("add_todo",
			mcp.WithDescription("Add an item to your shared todo list so other agents can see your plan."),
			mcp.WithString("project_id", mcp.Required(), mcp.Description("Project identifier")),
			mcp.WithString("session_name", mcp.Required(), mcp.Description("Your session name")),
			mcp.WithString("task", mcp.Required(), mcp.Description("The work item text")),
			mcp.WithNumber("priority", mcp.Description("Ordering hint within your list (lower first)")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) *mcp.CallToolResult {
			args := req.GetArguments()
			projectID := stringArg(args, "project_id")
			session := stringArg(args, "session_name")
			text := stringArg(args, "task")
			if projectID == "" || session == "" || text == "" {
				return errorResult("project_id, session_name, and task are required", nil)
			}
			todo, err := s.store.AddTodo(projectID, session, text, intArg(args, "priority", 0))
			if err != nil {
				return errorResult(err.Error(), nil)
			}
			return successResult("todo added", todo)
		},
	)

	s.register(
		mcp.NewTool("update_todo",
			mcp.WithDescription("Update the status of one of your todos."),
			mcp.WithString("project_id", mcp.Required(), mcp.Description("Project identifier")),
			mcp.WithString("session_name", mcp.Required(), mcp.Description("Your session name")),
			mcp.WithString("todo_id", mcp.Required(), mcp.Description("The todo id returned by add_todo")),
			mcp.WithString("status", mcp.Required(), mcp.Description("New status"),
				mcp.Enum("pending", "in_progress", "completed", "cancelled")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) *mcp.CallToolResult {
			args := req.GetArguments()
			projectID := stringArg(args, "project_id")
			session := stringArg(args, "session_name")
			todoID := idArg(args, "todo_id")
			status := models.TodoStatus(stringArg(args, "status"))
			if projectID == "" || session == "" || todoID == "" {
				return errorResult("project_id, session_name, and todo_id are required", nil)
			}
			if !status.Valid() {
				return errorResult(fmt.Sprintf("invalid status %q", string(status)), nil)
			}
			if err := s.store.UpdateTodo(projectID, session, todoID, status); err != nil {
				return errorResult(err.Error(), nil)
			}
			return successResult("todo updated", nil)
		},
	)

	s.register(
		mcp.NewTool("get_my_todos",
			mcp.WithDescription("Get your own todo list."),
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
			todos, err := s.store.SessionTodos(projectID, session)
			if err != nil {
				return errorResult(err.Error(), nil)
			}
			return successResult(fmt.Sprintf("%d todo(s)", len(todos)), map[string]any{
				"todos": todos,
				"count": len(todos),
			})
		},
	)

	s.register(
		mcp.NewTool("get_all_todos",
			mcp.WithDescription("Get every agent's todos, to see what the rest of the fleet is planning."),
			mcp.WithString("project_id", mcp.Required(), mcp.Description("Project identifier")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) *mcp.CallToolResult {
			args := req.GetArguments()
			projectID := stringArg(args, "project_id")
			if projectID == "" {
				return errorResult("project_id is required", nil)
			}
			todos, err := s.store.AllTodos(projectID)
			if err != nil {
				return errorResult(err.Error(), nil)
			}
			return successResult(fmt.Sprintf("%d todo(s)", len(todos)), map[string]any{
				"todos": todos,
				"count": len(todos),
			})
		},
	)
}
