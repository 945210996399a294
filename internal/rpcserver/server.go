// Package rpcserver exposes the Dispatcher's operations as the five
// MCP/JSON-RPC tools spec section 6.2 names: symbol_lookup,
// search_code, get_status, list_plugins, reindex. Per spec section 1
// the transport itself carries no business logic; every handler here
// does nothing but translate tool input/output structs to and from a
// Dispatcher call.
package rpcserver

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Aman-CERP/codeindexmcp/internal/coordinator"
	"github.com/Aman-CERP/codeindexmcp/internal/dispatcher"
	"github.com/Aman-CERP/codeindexmcp/internal/telemetry"
)

// Server binds a Dispatcher (and, when distributed indexing is
// configured, a Coordinator) to an MCP stdio server.
type Server struct {
	mcp     *mcp.Server
	disp    *dispatcher.Dispatcher
	coord   *coordinator.Coordinator  // nil when running without Redis
	metrics *telemetry.QueryMetrics   // nil disables query telemetry
	repoID  int64
	root    string
	logger  *slog.Logger
}

// Config configures a Server.
type Config struct {
	// RepoID is the locally indexed repository this server process
	// serves (reindex/index_directory target, symbol_lookup scope).
	RepoID int64
	// Root is the filesystem root reindex walks when no path is given.
	Root string
}

// New builds the MCP server and registers its five tools.
func New(cfg Config, disp *dispatcher.Dispatcher, coord *coordinator.Coordinator, logger *slog.Logger) (*Server, error) {
	if disp == nil {
		return nil, fmt.Errorf("rpcserver: dispatcher is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		disp:   disp,
		coord:  coord,
		repoID: cfg.RepoID,
		root:   cfg.Root,
		logger: logger,
	}

	s.mcp = mcp.NewServer(&mcp.Implementation{Name: "codeindexmcp", Version: "0.1.0"}, nil)
	s.registerTools()
	return s, nil
}

// MCPServer returns the underlying MCP SDK server, for tests and
// alternate transports.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcp
}

// WithMetrics attaches a query telemetry collector; search_code calls
// made after this record query type, latency bucket, and zero-result
// queries into it. Returns s for chaining.
func (s *Server) WithMetrics(m *telemetry.QueryMetrics) *Server {
	s.metrics = m
	return s
}

// Serve runs the server over stdio until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	s.logger.Info("starting MCP server over stdio")
	err := s.mcp.Run(ctx, &mcp.StdioTransport{})
	if err != nil && err != context.Canceled {
		s.logger.Error("MCP server stopped with error", slog.String("error", err.Error()))
		return err
	}
	s.logger.Info("MCP server stopped")
	return nil
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "symbol_lookup",
		Description: "Look up a symbol's definition by name: kind, signature, doc comment, and the file/line it's defined at.",
	}, s.handleSymbolLookup)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "search_code",
		Description: "Full-text/BM25 search over the indexed codebase, optionally scoped to an authorized external repository.",
	}, s.handleSearchCode)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "get_status",
		Description: "Report dispatcher mode, loaded/supported languages, plugin counts, cache health, and index validity.",
	}, s.handleGetStatus)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "list_plugins",
		Description: "List every supported language and which plugins are currently loaded.",
	}, s.handleListPlugins)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "reindex",
		Description: "Re-walk a path (default: the server root) and index every discovered file.",
	}, s.handleReindex)
}
