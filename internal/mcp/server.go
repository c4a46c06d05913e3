// Package mcpserver exposes document editing to AI agents over the Model
// Context Protocol.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"doodlegrid/internal/logging"
	"doodlegrid/internal/service"
)

// Server is the MCP server for doodlegrid.
type Server struct {
	mcp      *server.MCPServer
	emitter  EventEmitter
	approval *ApprovalQueue
	log      *slog.Logger

	docs        *service.DocumentService
	assets      *service.AssetService
	maintenance *service.Maintenance

	mu               sync.Mutex
	activeDocumentID string
}

// Deps holds all dependencies passed from the app layer to the MCP server.
type Deps struct {
	Emitter     EventEmitter
	Documents   *service.DocumentService
	Assets      *service.AssetService
	Maintenance *service.Maintenance
	Approval    ApprovalMode
	Logger      *slog.Logger
	Version     string
}

// New creates and configures a new MCP server with all tools and resources.
func New(ctx context.Context, deps Deps) *Server {
	version := deps.Version
	if version == "" {
		version = "dev"
	}
	s := &Server{
		emitter:     deps.Emitter,
		approval:    NewApprovalQueue(ctx, deps.Emitter, deps.Approval),
		log:         logging.OrDefault(deps.Logger).With("component", "mcp"),
		docs:        deps.Documents,
		assets:      deps.Assets,
		maintenance: deps.Maintenance,
	}

	s.mcp = server.NewMCPServer(
		"doodlegrid-mcp",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(true, false),
		server.WithPromptCapabilities(true),
	)

	s.registerDocumentTools()
	s.registerAssetTools()
	s.registerGestureTools()
	s.registerResources()
	s.registerPrompts()
	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	s.log.Info("starting stdio server")
	return server.ServeStdio(s.mcp)
}

// Approve forwards a user approval to the approval queue.
func (s *Server) Approve(actionID string) bool {
	return s.approval.Approve(actionID)
}

// Reject forwards a user rejection to the approval queue.
func (s *Server) Reject(actionID string) bool {
	return s.approval.Reject(actionID)
}

// Pending lists actions waiting for a decision.
func (s *Server) Pending() []PendingAction {
	return s.approval.Pending()
}

// ── Helpers ────────────────────────────────────────────────

// textResult creates a simple text tool result.
func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

// jsonResult serializes v to JSON and wraps it in a text tool result.
func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	return textResult(string(data)), nil
}

func (s *Server) setActiveDocument(id string) {
	s.mu.Lock()
	s.activeDocumentID = id
	s.mu.Unlock()
}

// resolveDocumentID returns documentId from the tool args or falls back to
// the active document.
func (s *Server) resolveDocumentID(req mcp.CallToolRequest) (string, error) {
	if id := req.GetString("documentId", ""); id != "" {
		return id, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activeDocumentID != "" {
		return s.activeDocumentID, nil
	}
	return "", fmt.Errorf("no documentId provided and no active document set (use open_document first)")
}

// session opens the session addressed by the request.
func (s *Server) session(ctx context.Context, req mcp.CallToolRequest) (*service.Session, error) {
	id, err := s.resolveDocumentID(req)
	if err != nil {
		return nil, err
	}
	return s.docs.Open(ctx, id)
}
