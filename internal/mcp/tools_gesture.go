package mcpserver

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"doodlegrid/internal/geometry"
	"doodlegrid/internal/gesture"
	"doodlegrid/internal/service"
)

// gestureState is returned by every pointer tool.
type gestureState struct {
	Background     geometry.Matrix     `json:"background"`
	Reference      geometry.Matrix     `json:"reference"`
	LockBackground bool                `json:"lockBackground"`
	Pending        bool                `json:"pending"`
	Pivoted        *bool               `json:"pivoted,omitempty"`
	Snapshot       service.StateChange `json:"snapshot"`
}

func (s *Server) registerGestureTools() {
	// ── gesture ────────────────────────────────────────
	s.mcp.AddTool(mcp.NewTool("gesture",
		mcp.WithDescription("Feed one pointer sample to the layer gesture engine. Pointer moves are saved to history as one step once input goes quiet."),
		mcp.WithString("documentId", mcp.Description("ID of the document (defaults to the active document)")),
		mcp.WithString("action",
			mcp.Description("start puts a pointer down, move drags it, end lifts it, pivot adds a fixed point at the layer centre so one pointer can rotate and scale"),
			mcp.Enum("start", "move", "end", "pivot"),
			mcp.Required(),
		),
		mcp.WithNumber("id", mcp.Description("Pointer id (default 0)")),
		mcp.WithNumber("x", mcp.Description("Screen x")),
		mcp.WithNumber("y", mcp.Description("Screen y")),
	), s.handleGesture)

	// ── zoom ───────────────────────────────────────────
	s.mcp.AddTool(mcp.NewTool("zoom",
		mcp.WithDescription("Scale the moving layers about a screen point"),
		mcp.WithString("documentId", mcp.Description("ID of the document (defaults to the active document)")),
		mcp.WithNumber("x", mcp.Description("Screen x of the zoom centre"), mcp.Required()),
		mcp.WithNumber("y", mcp.Description("Screen y of the zoom centre"), mcp.Required()),
		mcp.WithNumber("ratio", mcp.Description("Scale factor, e.g. 1.1"), mcp.Required()),
	), s.handleZoom)

	// ── lock_background ────────────────────────────────
	s.mcp.AddTool(mcp.NewTool("lock_background",
		mcp.WithDescription("Pin the background so pointer input moves only the reference layer"),
		mcp.WithString("documentId", mcp.Description("ID of the document (defaults to the active document)")),
		mcp.WithBoolean("locked", mcp.Description("Whether the background is pinned"), mcp.Required()),
	), s.handleLockBackground)

	// ── commit_gesture ─────────────────────────────────
	s.mcp.AddTool(mcp.NewTool("commit_gesture",
		mcp.WithDescription("Save pending pointer input to history now"),
		mcp.WithString("documentId", mcp.Description("ID of the document (defaults to the active document)")),
	), s.handleCommitGesture)
}

func (s *Server) gestures(ctx context.Context, req mcp.CallToolRequest) (*service.Session, *service.Gestures, error) {
	sess, err := s.session(ctx, req)
	if err != nil {
		return nil, nil, err
	}
	g, err := sess.Gestures()
	if err != nil {
		return nil, nil, err
	}
	return sess, g, nil
}

func gestureResult(sess *service.Session, g *service.Gestures, pivoted *bool) (*mcp.CallToolResult, error) {
	bg, ref := g.Transforms()
	return jsonResult(gestureState{
		Background:     bg.Matrix(),
		Reference:      ref.Matrix(),
		LockBackground: g.LockBackground(),
		Pending:        g.Pending(),
		Pivoted:        pivoted,
		Snapshot:       sess.Snapshot(),
	})
}

func (s *Server) handleGesture(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sess, g, err := s.gestures(ctx, req)
	if err != nil {
		return nil, err
	}
	p := gesture.Pointer{
		ID: req.GetInt("id", 0),
		X:  req.GetFloat("x", 0),
		Y:  req.GetFloat("y", 0),
	}

	var pivoted *bool
	switch action := req.GetString("action", ""); action {
	case "start":
		err = g.Start(p)
	case "move":
		err = g.Move(p)
	case "end":
		g.End(p.ID)
	case "pivot":
		var ok bool
		ok, err = g.Pivot(ctx, p.Point())
		pivoted = &ok
	default:
		return nil, fmt.Errorf("unknown action %q", action)
	}
	if err != nil {
		return nil, err
	}
	return gestureResult(sess, g, pivoted)
}

func (s *Server) handleZoom(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ratio := req.GetFloat("ratio", 0)
	if ratio <= 0 {
		return nil, fmt.Errorf("ratio must be positive")
	}
	sess, g, err := s.gestures(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := g.Zoom(geometry.Pt(req.GetFloat("x", 0), req.GetFloat("y", 0)), ratio); err != nil {
		return nil, err
	}
	return gestureResult(sess, g, nil)
}

func (s *Server) handleLockBackground(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sess, g, err := s.gestures(ctx, req)
	if err != nil {
		return nil, err
	}
	g.SetLockBackground(req.GetBool("locked", false))
	return gestureResult(sess, g, nil)
}

func (s *Server) handleCommitGesture(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sess, g, err := s.gestures(ctx, req)
	if err != nil {
		return nil, err
	}
	if _, err := g.Commit(); err != nil {
		return nil, err
	}
	return gestureResult(sess, g, nil)
}
