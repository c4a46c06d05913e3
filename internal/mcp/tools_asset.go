package mcpserver

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/mcp"

	"doodlegrid/internal/domain"
)

func (s *Server) registerAssetTools() {
	// ── upload_image ───────────────────────────────────
	s.mcp.AddTool(mcp.NewTool("upload_image",
		mcp.WithDescription("Upload an image into a layer. Pass either base64 data or a local file path."),
		mcp.WithString("documentId", mcp.Description("ID of the document (defaults to the active document)")),
		mcp.WithString("slot",
			mcp.Description("Layer to replace"),
			mcp.Enum(string(domain.SlotBackground), string(domain.SlotReference)),
			mcp.Required(),
		),
		mcp.WithString("data", mcp.Description("Base64-encoded image bytes")),
		mcp.WithString("path", mcp.Description("Path of an image file readable by the server")),
	), s.handleUploadImage)

	// ── list_assets ────────────────────────────────────
	s.mcp.AddTool(mcp.NewTool("list_assets",
		mcp.WithDescription("List stored images with their reference counts"),
	), s.handleListAssets)

	// ── audit ──────────────────────────────────────────
	s.mcp.AddTool(mcp.NewTool("audit",
		mcp.WithDescription("Check stored reference counts against document histories. Read-only."),
	), s.handleAudit)

	// ── repair_assets ──────────────────────────────────
	s.mcp.AddTool(mcp.NewTool("repair_assets",
		mcp.WithDescription("🛑 DESTRUCTIVE: Delete images no document references. Requires user approval."),
	), s.handleRepairAssets)
}

func (s *Server) handleUploadImage(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	slot, err := domain.ParseSlot(req.GetString("slot", ""))
	if err != nil {
		return nil, err
	}

	var data []byte
	switch encoded, path := req.GetString("data", ""), req.GetString("path", ""); {
	case encoded != "" && path != "":
		return nil, fmt.Errorf("pass either data or path, not both")
	case encoded != "":
		if data, err = base64.StdEncoding.DecodeString(encoded); err != nil {
			return nil, fmt.Errorf("decode data: %w", err)
		}
	case path != "":
		if data, err = os.ReadFile(path); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("data or path is required")
	}

	sess, err := s.session(ctx, req)
	if err != nil {
		return nil, err
	}
	id, err := sess.UploadAsset(ctx, data, slot)
	if err != nil {
		return nil, err
	}
	return jsonResult(map[string]any{
		"assetId": id,
		"state":   sess.Snapshot(),
	})
}

func (s *Server) handleListAssets(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	assets, err := s.assets.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list assets: %w", err)
	}
	return jsonResult(assets)
}

func (s *Server) handleAudit(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	report, err := s.maintenance.Audit(ctx)
	if err != nil {
		return nil, err
	}
	return jsonResult(report)
}

func (s *Server) handleRepairAssets(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	approved, err := s.approval.Request("repair_assets", "Delete every image no document references")
	if !approved {
		return nil, err
	}
	deleted, err := s.maintenance.Repair(ctx)
	if err != nil {
		return nil, err
	}
	return jsonResult(map[string]any{"deleted": deleted})
}
