// Package mcpserver exposes the tool registry over the Model Context Protocol.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"planline/internal/tools"
)

// Version is set at build time via ldflags.
var Version = "dev"

// New builds an MCP server with one MCP tool per registry tool. actor names
// the agent on whose behalf calls are made; it may be empty.
func New(reg *tools.Registry, actor string, log *slog.Logger) *server.MCPServer {
	if log == nil {
		log = slog.Default()
	}
	s := server.NewMCPServer(
		"planline",
		Version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
		server.WithInstructions(instructions),
	)
	for _, t := range reg.List() {
		s.AddTool(mcp.NewToolWithRawSchema(t.Name, t.Description, t.InputSchema), Handler(reg, t.Name, actor, log))
	}
	return s
}

// Handler adapts one registry tool to an MCP tool handler. The registry
// envelope is returned as JSON text. Business outcomes such as conflicts are
// ordinary results; only store or transport failures are flagged IsError.
func Handler(reg *tools.Registry, name, actor string, log *slog.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, err := json.Marshal(req.GetArguments())
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("encode arguments: %v", err)), nil
		}
		if actor != "" {
			ctx = tools.WithActor(ctx, actor)
		}
		res, err := reg.Call(ctx, name, args)
		if err != nil {
			log.Error("mcp tool call failed", "tool", name, "err", err)
			return mcp.NewToolResultError(err.Error()), nil
		}
		body, err := json.Marshal(res)
		if err != nil {
			return nil, fmt.Errorf("encode %s result: %w", name, err)
		}
		return mcp.NewToolResultText(string(body)), nil
	}
}

// Serve speaks MCP over the given streams until ctx is done or in closes.
func Serve(ctx context.Context, s *server.MCPServer, in io.Reader, out io.Writer) error {
	return server.NewStdioServer(s).Listen(ctx, in, out)
}

const instructions = `planline tracks projects, epics, stories and task trees shared by several agents.

Before working on a task call reserve_task with your agent name; another agent's
live lease is reported as a conflict with reserved_by and expires_at. Release the
task or let the lease expire when done.

Story and planning doc writes accept expected_updated_at, the updated_at value
you last read. A mismatch is reported as conflict with current_updated_at; re-read
and retry instead of overwriting.

Use snapshot_* before large edits and switch_*_version to roll back.`
