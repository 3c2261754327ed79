package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/Strob0t/taskrunner/internal/domain"
)

// registerTools registers all MCP tools on the server.
func (s *Server) registerTools() {
	s.mcpServer.AddTools(
		s.executeTaskTool(),
		s.cancelTaskTool(),
		s.getTaskTool(),
		s.listToolsTool(),
	)
}

func (s *Server) executeTaskTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("execute_task",
		mcplib.WithDescription("Start an autonomous execution of a task. Returns immediately; poll get_task for the status."),
		mcplib.WithString("task_id",
			mcplib.Required(),
			mcplib.Description("The task to execute"),
		),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleExecuteTask}
}

func (s *Server) cancelTaskTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("cancel_task",
		mcplib.WithDescription("Cancel the running execution of a task"),
		mcplib.WithString("task_id",
			mcplib.Required(),
			mcplib.Description("The task whose execution to cancel"),
		),
		mcplib.WithString("reason",
			mcplib.Description("Why the execution is cancelled"),
		),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleCancelTask}
}

func (s *Server) getTaskTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("get_task",
		mcplib.WithDescription("Get a task including its current status"),
		mcplib.WithString("task_id",
			mcplib.Required(),
			mcplib.Description("The task ID to look up"),
		),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleGetTask}
}

func (s *Server) listToolsTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("list_tools",
		mcplib.WithDescription("List the tools available to agents inside a sandbox"),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleListTools}
}

func (s *Server) handleExecuteTask(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Tasks == nil || s.deps.Submitter == nil {
		return mcplib.NewToolResultError("execution not configured"), nil
	}
	taskID, ok := stringArg(req, "task_id")
	if !ok {
		return mcplib.NewToolResultError("task_id is required"), nil
	}
	if _, err := s.deps.Tasks.GetTask(ctx, taskID); err != nil {
		return taskError(taskID, err), nil
	}
	if err := s.deps.Submitter.Submit(ctx, taskID, "mcp"); err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to submit execution", err), nil
	}
	return toolResultJSON(fmt.Sprintf(`{"task_id":%q,"status":"accepted"}`, taskID)), nil
}

func (s *Server) handleCancelTask(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Submitter == nil {
		return mcplib.NewToolResultError("execution not configured"), nil
	}
	taskID, ok := stringArg(req, "task_id")
	if !ok {
		return mcplib.NewToolResultError("task_id is required"), nil
	}
	reason, _ := stringArg(req, "reason")
	if err := s.deps.Submitter.Cancel(ctx, taskID, reason); err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to cancel execution", err), nil
	}
	return toolResultJSON(fmt.Sprintf(`{"task_id":%q,"status":"cancel_requested"}`, taskID)), nil
}

func (s *Server) handleGetTask(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Tasks == nil {
		return mcplib.NewToolResultError("task reader not configured"), nil
	}
	taskID, ok := stringArg(req, "task_id")
	if !ok {
		return mcplib.NewToolResultError("task_id is required"), nil
	}
	t, err := s.deps.Tasks.GetTask(ctx, taskID)
	if err != nil {
		return taskError(taskID, err), nil
	}
	data, err := json.Marshal(t)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to marshal task", err), nil
	}
	return toolResultJSON(string(data)), nil
}

func (s *Server) handleListTools(_ context.Context, _ mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Catalog == nil {
		return mcplib.NewToolResultError("tool catalog not configured"), nil
	}
	data, err := json.Marshal(s.deps.Catalog.Definitions())
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to marshal tools", err), nil
	}
	return toolResultJSON(string(data)), nil
}

func stringArg(req mcplib.CallToolRequest, key string) (string, bool) { //nolint:gocritic // hugeParam: mcp-go request type
	v, ok := req.GetArguments()[key].(string)
	return v, ok && v != ""
}

func taskError(taskID string, err error) *mcplib.CallToolResult {
	if errors.Is(err, domain.ErrNotFound) {
		return mcplib.NewToolResultError(fmt.Sprintf("task %s not found", taskID))
	}
	return mcplib.NewToolResultErrorFromErr(fmt.Sprintf("failed to get task %s", taskID), err)
}
