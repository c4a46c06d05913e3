package mcpserver

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"doodlegrid/internal/domain"
	"doodlegrid/internal/geometry"
)

func (s *Server) registerDocumentTools() {
	// ── list_documents ─────────────────────────────────
	s.mcp.AddTool(mcp.NewTool("list_documents",
		mcp.WithDescription("List all documents, most recently modified first"),
	), s.handleListDocuments)

	// ── create_document ────────────────────────────────
	s.mcp.AddTool(mcp.NewTool("create_document",
		mcp.WithDescription("Create an empty document and make it the active document"),
	), s.handleCreateDocument)

	// ── open_document ──────────────────────────────────
	s.mcp.AddTool(mcp.NewTool("open_document",
		mcp.WithDescription("Set the active document for subsequent tool calls. Tools that accept documentId will default to this."),
		mcp.WithString("documentId",
			mcp.Description("ID of the document"),
			mcp.Required(),
		),
	), s.handleOpenDocument)

	// ── get_state ──────────────────────────────────────
	s.mcp.AddTool(mcp.NewTool("get_state",
		mcp.WithDescription("Get the current layer state (transforms, alpha, asset ids) and history position"),
		mcp.WithString("documentId", mcp.Description("ID of the document (defaults to the active document)")),
	), s.handleGetState)

	// ── push_alpha ─────────────────────────────────────
	s.mcp.AddTool(mcp.NewTool("push_alpha",
		mcp.WithDescription("Set the opacity of one layer"),
		mcp.WithString("documentId", mcp.Description("ID of the document (defaults to the active document)")),
		mcp.WithString("slot",
			mcp.Description("Layer to change"),
			mcp.Enum(string(domain.SlotBackground), string(domain.SlotReference)),
			mcp.Required(),
		),
		mcp.WithNumber("alpha",
			mcp.Description("Opacity between 0 and 1"),
			mcp.Min(0),
			mcp.Max(1),
			mcp.Required(),
		),
	), s.handlePushAlpha)

	// ── push_transform ─────────────────────────────────
	s.mcp.AddTool(mcp.NewTool("push_transform",
		mcp.WithDescription("Replace layer transforms. Each transform is a CSS matrix [a,b,c,d,e,f]; omitted layers keep their transform."),
		mcp.WithString("documentId", mcp.Description("ID of the document (defaults to the active document)")),
		mcp.WithArray("background",
			mcp.Description("Background transform [a,b,c,d,e,f]"),
			mcp.Items(map[string]any{"type": "number"}),
		),
		mcp.WithArray("reference",
			mcp.Description("Reference transform [a,b,c,d,e,f]"),
			mcp.Items(map[string]any{"type": "number"}),
		),
	), s.handlePushTransform)

	// ── undo / redo ────────────────────────────────────
	s.mcp.AddTool(mcp.NewTool("undo",
		mcp.WithDescription("Step back one state in history"),
		mcp.WithString("documentId", mcp.Description("ID of the document (defaults to the active document)")),
	), s.handleUndo)
	s.mcp.AddTool(mcp.NewTool("redo",
		mcp.WithDescription("Step forward one state in history"),
		mcp.WithString("documentId", mcp.Description("ID of the document (defaults to the active document)")),
	), s.handleRedo)

	// ── export_document ────────────────────────────────
	s.mcp.AddTool(mcp.NewTool("export_document",
		mcp.WithDescription("Render the current state at full resolution as a JPEG image"),
		mcp.WithString("documentId", mcp.Description("ID of the document (defaults to the active document)")),
	), s.handleExportDocument)

	// ── delete_document ────────────────────────────────
	s.mcp.AddTool(mcp.NewTool("delete_document",
		mcp.WithDescription("🛑 DESTRUCTIVE: Delete a document and every image only it references. Requires user approval."),
		mcp.WithString("documentId",
			mcp.Description("ID of the document"),
			mcp.Required(),
		),
	), s.handleDeleteDocument)
}

func (s *Server) handleListDocuments(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	docs, err := s.docs.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	return jsonResult(docs)
}

func (s *Server) handleCreateDocument(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	doc, err := s.docs.Create(ctx)
	if err != nil {
		return nil, err
	}
	s.setActiveDocument(doc.ID)
	return jsonResult(doc.Info())
}

func (s *Server) handleOpenDocument(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("documentId", "")
	if id == "" {
		return nil, fmt.Errorf("documentId is required")
	}
	sess, err := s.docs.Open(ctx, id)
	if err != nil {
		return nil, err
	}
	s.setActiveDocument(id)
	return jsonResult(sess.Snapshot())
}

func (s *Server) handleGetState(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sess, err := s.session(ctx, req)
	if err != nil {
		return nil, err
	}
	return jsonResult(sess.Snapshot())
}

func (s *Server) handlePushAlpha(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	slot, err := domain.ParseSlot(req.GetString("slot", ""))
	if err != nil {
		return nil, err
	}
	args := req.GetArguments()
	if _, ok := args["alpha"]; !ok {
		return nil, fmt.Errorf("alpha is required")
	}
	sess, err := s.session(ctx, req)
	if err != nil {
		return nil, err
	}
	if _, err := sess.PushAlpha(req.GetFloat("alpha", 0), slot); err != nil {
		return nil, err
	}
	return jsonResult(sess.Snapshot())
}

func (s *Server) handlePushTransform(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sess, err := s.session(ctx, req)
	if err != nil {
		return nil, err
	}
	cur := sess.Current()
	bg, err := matrixArg(req, "background", cur.Background.Transform)
	if err != nil {
		return nil, err
	}
	ref, err := matrixArg(req, "reference", cur.Reference.Transform)
	if err != nil {
		return nil, err
	}
	if _, err := sess.PushTransforms(bg, ref); err != nil {
		return nil, err
	}
	return jsonResult(sess.Snapshot())
}

// matrixArg reads a 6-number array argument, returning fallback when absent.
func matrixArg(req mcp.CallToolRequest, name string, fallback geometry.Matrix) (geometry.Matrix, error) {
	raw, ok := req.GetArguments()[name]
	if !ok || raw == nil {
		return fallback, nil
	}
	items, ok := raw.([]any)
	if !ok || len(items) != 6 {
		return fallback, fmt.Errorf("%s must be an array of 6 numbers", name)
	}
	var m geometry.Matrix
	for i, v := range items {
		f, ok := v.(float64)
		if !ok {
			return fallback, fmt.Errorf("%s[%d] is not a number", name, i)
		}
		m[i] = f
	}
	if _, ok := m.Similarity(); !ok {
		return fallback, fmt.Errorf("%s is not a similarity transform", name)
	}
	return m, nil
}

func (s *Server) handleUndo(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sess, err := s.session(ctx, req)
	if err != nil {
		return nil, err
	}
	ok, err := sess.Undo()
	if err != nil {
		return nil, err
	}
	if !ok {
		return textResult("Already at the oldest state"), nil
	}
	return jsonResult(sess.Snapshot())
}

func (s *Server) handleRedo(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sess, err := s.session(ctx, req)
	if err != nil {
		return nil, err
	}
	ok, err := sess.Redo()
	if err != nil {
		return nil, err
	}
	if !ok {
		return textResult("Already at the newest state"), nil
	}
	return jsonResult(sess.Snapshot())
}

func (s *Server) handleExportDocument(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := s.resolveDocumentID(req)
	if err != nil {
		return nil, err
	}
	out, err := s.docs.Export(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("export: %w", err)
	}
	return mcp.NewToolResultImage(
		fmt.Sprintf("Export of %s (%d bytes)", id, len(out)),
		base64.StdEncoding.EncodeToString(out),
		"image/jpeg",
	), nil
}

func (s *Server) handleDeleteDocument(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("documentId", "")
	if id == "" {
		return nil, fmt.Errorf("documentId is required")
	}
	approved, err := s.approval.Request("delete_document", fmt.Sprintf("Delete document %s and its images", id))
	if !approved {
		return nil, err
	}
	if err := s.docs.Delete(ctx, id); err != nil {
		return nil, err
	}
	s.mu.Lock()
	if s.activeDocumentID == id {
		s.activeDocumentID = ""
	}
	s.mu.Unlock()
	return textResult(fmt.Sprintf("Deleted document %s", id)), nil
}
