package coord

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ShayCichocki/hive/pkg/models"
)

func (s *Server) registerLockTools() {
	s.register(
		mcp.NewTool("announce_file_change",
			mcp.WithDescription("Announce that you are about to create, modify, or delete a file. Acquires an exclusive lock on the path (auto-expiring, renewed by your heartbeats) and logs the change for other agents."),
			mcp.WithString("project_id", mcp.Required(), mcp.Description("Project identifier")),
			mcp.WithString("session_name", mcp.Required(), mcp.Description("Your session name")),
			mcp.WithString("file_path", mcp.Required(), mcp.Description("Repository-relative file path")),
			mcp.WithString("operation", mcp.Required(), mcp.Description("Kind of change"),
				mcp.Enum("create", "modify", "delete")),
			mcp.WithString("description", mcp.Description("What you are changing and why")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) *mcp.CallToolResult {
			args := req.GetArguments()
			projectID := stringArg(args, "project_id")
			session := stringArg(args, "session_name")
			path := stringArg(args, "file_path")
			op := models.FileOperation(stringArg(args, "operation"))
			if projectID == "" || session == "" || path == "" {
				return errorResult("project_id, session_name, and file_path are required", nil)
			}
			if !op.Valid() {
				return errorResult(fmt.Sprintf("invalid operation %q", string(op)), nil)
			}

			lock, err := s.store.AnnounceFileChange(projectID, session, path, op, stringArg(args, "description"))
			if err != nil {
				var held *LockHeldError
				if errors.As(err, &held) {
					return errorResult(err.Error(), map[string]any{
						"locked_by":   held.Lock.SessionName,
						"operation":   held.Lock.Operation,
						"description": held.Lock.Description,
						"acquired_at": held.Lock.AcquiredAt,
					})
				}
				return errorResult(err.Error(), nil)
			}
			return successResult(fmt.Sprintf("%s locked for %s", path, op), lock)
		},
	)

	s.register(
		mcp.NewTool("release_file_lock",
			mcp.WithDescription("Release your lock on a file once you are done editing it."),
			mcp.WithString("project_id", mcp.Required(), mcp.Description("Project identifier")),
			mcp.WithString("session_name", mcp.Required(), mcp.Description("Your session name")),
			mcp.WithString("file_path", mcp.Required(), mcp.Description("Repository-relative file path")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) *mcp.CallToolResult {
			args := req.GetArguments()
			projectID := stringArg(args, "project_id")
			session := stringArg(args, "session_name")
			path := stringArg(args, "file_path")
			if projectID == "" || session == "" || path == "" {
				return errorResult("project_id, session_name, and file_path are required", nil)
			}
			released := s.store.ReleaseLock(projectID, session, path)
			if released {
				return successResult(fmt.Sprintf("%s released", path), map[string]any{"released": true})
			}
			return successResult(fmt.Sprintf("%s was not held by you", path), map[string]any{"released": false})
		},
	)

	s.register(
		mcp.NewTool("check_file_lock",
			mcp.WithDescription("Check whether a file is locked before editing it."),
			mcp.WithString("project_id", mcp.Required(), mcp.Description("Project identifier")),
			mcp.WithString("file_path", mcp.Required(), mcp.Description("Repository-relative file path")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) *mcp.CallToolResult {
			args := req.GetArguments()
			projectID := stringArg(args, "project_id")
			path := stringArg(args, "file_path")
			if projectID == "" || path == "" {
				return errorResult("project_id and file_path are required", nil)
			}
			lock, locked := s.store.CheckLock(projectID, path)
			if !locked {
				return successResult(fmt.Sprintf("%s is not locked", path), map[string]any{"locked": false})
			}
			return successResult(fmt.Sprintf("%s is locked by %s", path, lock.SessionName), map[string]any{
				"locked":      true,
				"locked_by":   lock.SessionName,
				"operation":   lock.Operation,
				"description": lock.Description,
				"acquired_at": lock.AcquiredAt,
			})
		},
	)

	s.register(
		mcp.NewTool("release_all_locks",
			mcp.WithDescription("Release every lock you hold. Use before finishing or when abandoning a set of edits."),
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
			released := s.store.ReleaseAllLocks(projectID, session)
			return successResult(fmt.Sprintf("%d lock(s) released", released), map[string]any{"released": released})
		},
	)

	s.register(
		mcp.NewTool("get_recent_changes",
			mcp.WithDescription("List files other agents announced changes to recently, to avoid stepping on their work."),
			mcp.WithString("project_id", mcp.Required(), mcp.Description("Project identifier")),
			mcp.WithNumber("minutes", mcp.Description("Window size in minutes (default 30)")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) *mcp.CallToolResult {
			args := req.GetArguments()
			projectID := stringArg(args, "project_id")
			if projectID == "" {
				return errorResult("project_id is required", nil)
			}
			minutes := intArg(args, "minutes", 30)
			if minutes <= 0 {
				minutes = 30
			}
			changes, err := s.store.RecentChanges(projectID, time.Duration(minutes)*time.Minute)
			if err != nil {
				return errorResult(err.Error(), nil)
			}
			return successResult(fmt.Sprintf("%d change(s) in the last %d minute(s)", len(changes), minutes), map[string]any{
				"changes": changes,
				"count":   len(changes),
			})
		},
	)
}
