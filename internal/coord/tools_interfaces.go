package coord

import (
	"context"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

func (s *Server) registerInterfaceTools() {
	s.register(
		mcp.NewTool("register_interface",
			mcp.WithDescription("Share a type, API contract, or schema that other agents will consume. First writer wins the name; you may refine your own definitions."),
			mcp.WithString("project_id", mcp.Required(), mcp.Description("Project identifier")),
			mcp.WithString("session_name", mcp.Required(), mcp.Description("Your session name")),
			mcp.WithString("name", mcp.Required(), mcp.Description("Interface name, e.g. UserService")),
			mcp.WithString("definition", mcp.Required(), mcp.Description("Full source text of the contract")),
			mcp.WithString("description", mcp.Description("Optional context for consumers")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) *mcp.CallToolResult {
			args := req.GetArguments()
			projectID := stringArg(args, "project_id")
			session := stringArg(args, "session_name")
			name := stringArg(args, "name")
			definition := stringArg(args, "definition")
			if projectID == "" || session == "" || name == "" || definition == "" {
				return errorResult("project_id, session_name, name, and definition are required", nil)
			}

			def, err := s.store.RegisterInterface(projectID, session, name, definition, stringArg(args, "description"))
			if err != nil {
				var taken *InterfaceTakenError
				if errors.As(err, &taken) {
					return errorResult(err.Error(), map[string]any{"existing": taken.Existing})
				}
				return errorResult(err.Error(), nil)
			}
			return successResult(fmt.Sprintf("interface %s registered", name), def)
		},
	)

	s.register(
		mcp.NewTool("query_interface",
			mcp.WithDescription("Fetch a shared interface definition by name."),
			mcp.WithString("project_id", mcp.Required(), mcp.Description("Project identifier")),
			mcp.WithString("name", mcp.Required(), mcp.Description("Interface name")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) *mcp.CallToolResult {
			args := req.GetArguments()
			projectID := stringArg(args, "project_id")
			name := stringArg(args, "name")
			if projectID == "" || name == "" {
				return errorResult("project_id and name are required", nil)
			}
			def, err := s.store.GetInterface(projectID, name)
			if err != nil {
				return errorResult(err.Error(), nil)
			}
			return successResult(name, def)
		},
	)

	s.register(
		mcp.NewTool("list_interfaces",
			mcp.WithDescription("List every shared interface registered in the project."),
			mcp.WithString("project_id", mcp.Required(), mcp.Description("Project identifier")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) *mcp.CallToolResult {
			args := req.GetArguments()
			projectID := stringArg(args, "project_id")
			if projectID == "" {
				return errorResult("project_id is required", nil)
			}
			defs, err := s.store.ListInterfaces(projectID)
			if err != nil {
				return errorResult(err.Error(), nil)
			}
			return successResult(fmt.Sprintf("%d interface(s)", len(defs)), map[string]any{
				"interfaces": defs,
				"count":      len(defs),
			})
		},
	)
}
