package main

import (
	"log"
	"os"

	"github.com/spf13/cobra"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ajitpratap0/calsync/internal/classifier"
	calsyncmcp "github.com/ajitpratap0/calsync/internal/mcp"
)

func mcpCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Start the MCP (Model Context Protocol) server over stdio",
		Long: `Starts an MCP JSON-RPC 2.0 server that reads from stdin and writes to stdout.
All diagnostic logs go to stderr so that stdout remains exclusively MCP protocol traffic.

Tools exposed:
  classify    classify an event title and description
  categories  list the ordered type keyword table
  sync        run one reconciliation and return its report
  status      last run outcome

If the calendar credentials are rejected at startup the server still starts;
sync and status calls return MCP error responses.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := newLogger()

			var runner calsyncmcp.Runner
			sched, err := newScheduler(cmd.Context(), logger)
			if err != nil {
				logger.Error("mcp: sync unavailable; only classification tools will work", "error", err)
			} else {
				runner = sched
			}

			srv := calsyncmcp.NewServer(runner, classifier.NewClassifier(logger), logger)

			// Use a standard log.Logger pointing at stderr for the mcp-go error logger.
			errLogger := log.New(os.Stderr, "mcp: ", log.LstdFlags)

			logger.Info("mcp: calsync MCP server starting", "transport", "stdio")

			return mcpserver.ServeStdio(
				srv.MCPServer(),
				mcpserver.WithErrorLogger(errLogger),
			)
		},
	}

	return cmd
}
