package mcp_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"testing"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/calsync/internal/classifier"
	calsyncmcp "github.com/ajitpratap0/calsync/internal/mcp"
	"github.com/ajitpratap0/calsync/internal/scheduler"
	"github.com/ajitpratap0/calsync/internal/syncer"
)

type stubRunner struct {
	report *syncer.Report
	err    error
}

func (r *stubRunner) Trigger(context.Context) (*syncer.Report, error) { return r.report, r.err }
func (r *stubRunner) Status() scheduler.Status                        { return scheduler.Status{Runs: 2} }

func newMCPServer(t *testing.T, runner calsyncmcp.Runner) *calsyncmcp.Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return calsyncmcp.NewServer(runner, classifier.NewClassifier(logger), logger)
}

// makeReq builds a CallToolRequest with the given arguments.
func makeReq(toolName string, args map[string]any) mcpgo.CallToolRequest {
	req := mcpgo.CallToolRequest{}
	req.Params.Name = toolName
	req.Params.Arguments = args
	return req
}

// textContent extracts the first TextContent string from a CallToolResult.
func textContent(t *testing.T, result *mcpgo.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content, "expected at least one content item")
	tc, ok := result.Content[0].(mcpgo.TextContent)
	require.True(t, ok, "expected TextContent, got %T", result.Content[0])
	return tc.Text
}

func TestMCP_Classify(t *testing.T) {
	srv := newMCPServer(t, nil)
	res, err := srv.HandleClassify(context.Background(), makeReq("classify", map[string]any{
		"summary":     "Созвон @Bob_1",
		"description": "type=Prep",
	}))
	require.NoError(t, err)
	require.False(t, res.IsError)

	var c classifier.Classification
	require.NoError(t, json.Unmarshal([]byte(textContent(t, res)), &c))
	assert.Equal(t, "bob_1", c.Handle)
	assert.Equal(t, "prep", c.Type)
}

func TestMCP_ClassifyRequiresSummary(t *testing.T) {
	srv := newMCPServer(t, nil)
	res, err := srv.HandleClassify(context.Background(), makeReq("classify", map[string]any{"summary": "  "}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestMCP_Categories(t *testing.T) {
	srv := newMCPServer(t, nil)
	res, err := srv.HandleCategories(context.Background(), makeReq("categories", nil))
	require.NoError(t, err)

	var body struct {
		Default    string `json:"default"`
		Categories []struct {
			Tag string
		} `json:"categories"`
	}
	require.NoError(t, json.Unmarshal([]byte(textContent(t, res)), &body))
	assert.Equal(t, "session", body.Default)
	require.Len(t, body.Categories, 8)
	assert.Equal(t, "review", body.Categories[0].Tag)
}

func TestMCP_Sync(t *testing.T) {
	srv := newMCPServer(t, &stubRunner{report: &syncer.Report{RunID: "run-9"}})
	res, err := srv.HandleSync(context.Background(), makeReq("sync", nil))
	require.NoError(t, err)
	require.False(t, res.IsError)
	assert.Contains(t, textContent(t, res), "run-9")
}

func TestMCP_SyncErrors(t *testing.T) {
	tests := []struct {
		name   string
		runner calsyncmcp.Runner
		want   string
	}{
		{"no runner", nil, "unavailable"},
		{"busy", &stubRunner{err: scheduler.ErrRunInProgress}, "already in progress"},
		{"failed", &stubRunner{err: errors.New("boom")}, "sync failed: boom"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := newMCPServer(t, tt.runner).HandleSync(context.Background(), makeReq("sync", nil))
			require.NoError(t, err)
			assert.True(t, res.IsError)
			assert.Contains(t, textContent(t, res), tt.want)
		})
	}
}

func TestMCP_Status(t *testing.T) {
	srv := newMCPServer(t, &stubRunner{})
	res, err := srv.HandleStatus(context.Background(), makeReq("status", nil))
	require.NoError(t, err)
	assert.Contains(t, textContent(t, res), `"runs":2`)
}
