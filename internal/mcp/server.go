// Package mcp exposes the review surface as MCP tools so an operator's
// assistant can list, inspect and decide intercepted wallet calls.
package mcp

import (
	"context"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ppiankov/txwatch/internal/review"
)

// Server wraps the MCP SDK server around a review surface.
type Server struct {
	mcpServer *mcpsdk.Server
	surface   *review.Surface
}

// New creates an MCP server with the txwatch tools registered.
func New(surface *review.Surface, version string) *Server {
	if version == "" {
		version = "dev"
	}
	s := &Server{surface: surface}
	s.mcpServer = mcpsdk.NewServer(
		&mcpsdk.Implementation{
			Name:    "txwatch",
			Version: version,
		},
		nil,
	)
	s.registerTools()
	return s
}

// Run starts the MCP server on stdio transport. Blocks until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	return s.mcpServer.Run(ctx, &mcpsdk.StdioTransport{})
}

// registerTools adds all txwatch tools to the MCP server.
func (s *Server) registerTools() {
	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "txwatch_pending",
		Description: "List wallet calls waiting for a human decision. Only entries with actionable=true may be decided.",
	}, s.handlePending)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "txwatch_history",
		Description: "List recently decided wallet calls, oldest first.",
	}, s.handleHistory)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "txwatch_decide",
		Description: "Approve or reject a pending wallet call by id. Each call can be decided once.",
	}, s.handleDecide)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "txwatch_analyze",
		Description: "Advisory risk analysis of a pending wallet call. Failure here never blocks a decision.",
	}, s.handleAnalyze)
}
