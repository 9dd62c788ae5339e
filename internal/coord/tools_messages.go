package coord

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ShayCichocki/hive/pkg/models"
)

// queryTimeoutMax bounds the synchronous wait of query_agent.
const queryTimeoutMax = 60 * time.Second

func (s *Server) registerMessageTools() {
	s.register(
		mcp.NewTool("query_agent",
			mcp.WithDescription("Ask another agent a question. With wait_for_response (the default) this blocks until the target answers via respond_to_query or the timeout passes."),
			mcp.WithString("project_id", mcp.Required(), mcp.Description("Project identifier")),
			mcp.WithString("session_name", mcp.Required(), mcp.Description("Your session name")),
			mcp.WithString("target_session", mcp.Required(), mcp.Description("The session to ask")),
			mcp.WithString("query", mcp.Required(), mcp.Description("The question")),
			mcp.WithBoolean("wait_for_response", mcp.Description("Block until answered (default true)")),
			mcp.WithNumber("timeout", mcp.Description("Seconds to wait for a response (default 10, max 60)")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) *mcp.CallToolResult {
			args := req.GetArguments()
			projectID := stringArg(args, "project_id")
			session := stringArg(args, "session_name")
			target := stringArg(args, "target_session")
			query := stringArg(args, "query")
			if projectID == "" || session == "" || target == "" || query == "" {
				return errorResult("project_id, session_name, target_session, and query are required", nil)
			}

			msg, err := s.store.SendQuery(projectID, session, target, query)
			if err != nil {
				return errorResult(err.Error(), nil)
			}

			if !boolArg(args, "wait_for_response", true) {
				return successResult("query sent", map[string]any{"query_id": msg.ID})
			}

			timeout := time.Duration(intArg(args, "timeout", 10)) * time.Second
			if timeout <= 0 {
				timeout = 10 * time.Second
			}
			if timeout > queryTimeoutMax {
				timeout = queryTimeoutMax
			}

			resp, err := s.store.WaitResponse(ctx, projectID, session, msg.ID, timeout)
			if err != nil {
				if errors.Is(err, ErrNoResponse) {
					return errorResult("no response before timeout", map[string]any{"query_id": msg.ID})
				}
				return errorResult(err.Error(), nil)
			}
			return successResult("response received", map[string]any{
				"query_id": msg.ID,
				"from":     resp.FromSession,
				"response": resp.Body,
			})
		},
	)

	s.register(
		mcp.NewTool("respond_to_query",
			mcp.WithDescription("Answer a query another agent sent you. The query id is in the message you received via check_messages."),
			mcp.WithString("project_id", mcp.Required(), mcp.Description("Project identifier")),
			mcp.WithString("session_name", mcp.Required(), mcp.Description("Your session name")),
			mcp.WithString("query_id", mcp.Required(), mcp.Description("Id of the query message you are answering")),
			mcp.WithString("response", mcp.Required(), mcp.Description("Your answer")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) *mcp.CallToolResult {
			args := req.GetArguments()
			projectID := stringArg(args, "project_id")
			session := stringArg(args, "session_name")
			queryID := stringArg(args, "query_id")
			response := stringArg(args, "response")
			if projectID == "" || session == "" || queryID == "" || response == "" {
				return errorResult("project_id, session_name, query_id, and response are required", nil)
			}
			if _, err := s.store.RespondToQuery(projectID, session, queryID, response); err != nil {
				return errorResult(err.Error(), nil)
			}
			return successResult("response sent", nil)
		},
	)

	s.register(
		mcp.NewTool("check_messages",
			mcp.WithDescription("Drain your inbox: queries from other agents, broadcasts, and merge notifications. Check periodically; messages are removed once read."),
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
			msgs, err := s.store.DrainMessages(projectID, session)
			if err != nil {
				return errorResult(err.Error(), nil)
			}
			return successResult(fmt.Sprintf("%d message(s)", len(msgs)), map[string]any{
				"messages": msgs,
				"count":    len(msgs),
			})
		},
	)

	s.register(
		mcp.NewTool("broadcast_message",
			mcp.WithDescription("Send a message to every other registered agent in the project."),
			mcp.WithString("project_id", mcp.Required(), mcp.Description("Project identifier")),
			mcp.WithString("session_name", mcp.Required(), mcp.Description("Your session name")),
			mcp.WithString("content", mcp.Required(), mcp.Description("The message body")),
			mcp.WithString("message_type", mcp.Description("Message classification (default broadcast)"),
				mcp.Enum("broadcast", "status", "merge_notification")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) *mcp.CallToolResult {
			args := req.GetArguments()
			projectID := stringArg(args, "project_id")
			session := stringArg(args, "session_name")
			content := stringArg(args, "content")
			if projectID == "" || session == "" || content == "" {
				return errorResult("project_id, session_name, and content are required", nil)
			}
			msgType := models.MessageType(stringArg(args, "message_type"))
			if msgType == "" {
				msgType = models.MessageTypeBroadcast
			}
			sent, err := s.store.Broadcast(projectID, session, msgType, content)
			if err != nil {
				return errorResult(err.Error(), nil)
			}
			return successResult(fmt.Sprintf("broadcast to %d agent(s)", sent), map[string]any{"recipients": sent})
		},
	)
}
