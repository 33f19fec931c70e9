// Package mcp implements the Model Context Protocol server for calsync.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ajitpratap0/calsync/internal/classifier"
	"github.com/ajitpratap0/calsync/internal/scheduler"
	"github.com/ajitpratap0/calsync/internal/syncer"
)

// Runner triggers sync runs and reports on them.
type Runner interface {
	Trigger(ctx context.Context) (*syncer.Report, error)
	Status() scheduler.Status
}

// Server wraps an MCPServer with calsync dependencies.
type Server struct {
	mcp        *mcpserver.MCPServer
	runner     Runner
	classifier classifier.Classifier
	logger     *slog.Logger
}

// NewServer creates a new MCP server. If runner is nil, the sync and status
// tools return an error response instead of panicking.
func NewServer(runner Runner, cls classifier.Classifier, logger *slog.Logger) *Server {
	s := &Server{
		runner:     runner,
		classifier: cls,
		logger:     logger,
	}

	mcpSrv := mcpserver.NewMCPServer(
		"calsync",
		"1.0.0",
		mcpserver.WithToolCapabilities(true),
	)

	mcpSrv.AddTool(buildClassifyTool(), s.handleClassify)
	mcpSrv.AddTool(buildCategoriesTool(), s.handleCategories)
	mcpSrv.AddTool(buildSyncTool(), s.handleSync)
	mcpSrv.AddTool(buildStatusTool(), s.handleStatus)

	s.mcp = mcpSrv
	return s
}

// MCPServer returns the underlying mcp-go MCPServer for use with ServeStdio.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcp
}

// HandleClassify is the exported handler for the "classify" tool.
// It is exposed for direct testing without the mcp-go transport layer.
func (s *Server) HandleClassify(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	return s.handleClassify(ctx, req)
}

// HandleCategories is the exported handler for the "categories" tool.
func (s *Server) HandleCategories(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	return s.handleCategories(ctx, req)
}

// HandleSync is the exported handler for the "sync" tool.
func (s *Server) HandleSync(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	return s.handleSync(ctx, req)
}

// HandleStatus is the exported handler for the "status" tool.
func (s *Server) HandleStatus(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	return s.handleStatus(ctx, req)
}

// --- helpers ---

// toolResultJSON marshals v to JSON and returns it as a tool text result.
func toolResultJSON(v any) (*mcpgo.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("mcp: marshaling result: %w", err)
	}
	return mcpgo.NewToolResultText(string(b)), nil
}

// --- tool definitions ---

func buildClassifyTool() mcpgo.Tool {
	return mcpgo.NewTool("classify",
		mcpgo.WithDescription("Classify a calendar event: attribution handle, billable flag, throwaway-slot flag and entry type."),
		mcpgo.WithString("summary",
			mcpgo.Required(),
			mcpgo.Description("The event title"),
		),
		mcpgo.WithString("description",
			mcpgo.Description("The event description; may carry billable=1, slot=1 or type=<tag>"),
		),
	)
}

func buildCategoriesTool() mcpgo.Tool {
	return mcpgo.NewTool("categories",
		mcpgo.WithDescription("List the ordered keyword table used to pick an entry type."),
	)
}

func buildSyncTool() mcpgo.Tool {
	return mcpgo.NewTool("sync",
		mcpgo.WithDescription("Run one calendar to Notion reconciliation now and return its report."),
	)
}

func buildStatusTool() mcpgo.Tool {
	return mcpgo.NewTool("status",
		mcpgo.WithDescription("Report whether a sync is running and the outcome of the last one."),
	)
}

// --- handlers ---

func (s *Server) handleClassify(_ context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	summary := req.GetString("summary", "")
	if strings.TrimSpace(summary) == "" {
		return mcpgo.NewToolResultError("summary is required and must not be empty"), nil
	}
	description := req.GetString("description", "")
	return toolResultJSON(s.classifier.Classify(summary, description))
}

func (s *Server) handleCategories(_ context.Context, _ mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	return toolResultJSON(map[string]any{
		"default":    classifier.DefaultType,
		"categories": classifier.Categories(),
	})
}

func (s *Server) handleSync(ctx context.Context, _ mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	if s.runner == nil {
		return mcpgo.NewToolResultError("sync is unavailable"), nil
	}
	report, err := s.runner.Trigger(ctx)
	if errors.Is(err, scheduler.ErrRunInProgress) {
		return mcpgo.NewToolResultError("a sync run is already in progress"), nil
	}
	if err != nil {
		s.logger.Error("mcp sync failed", "error", err)
		return mcpgo.NewToolResultErrorf("sync failed: %s", err.Error()), nil
	}
	return toolResultJSON(report)
}

func (s *Server) handleStatus(_ context.Context, _ mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	if s.runner == nil {
		return mcpgo.NewToolResultError("sync is unavailable"), nil
	}
	return toolResultJSON(s.runner.Status())
}
