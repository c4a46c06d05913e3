package mcpserver

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

func (s *Server) registerPrompts() {
	s.mcp.AddPrompt(mcp.NewPrompt("align_layers",
		mcp.WithPromptDescription("Guide through overlaying a reference image on a background and aligning them"),
		mcp.WithArgument("background",
			mcp.ArgumentDescription("Path of the background image"),
			mcp.RequiredArgument(),
		),
		mcp.WithArgument("reference",
			mcp.ArgumentDescription("Path of the reference image"),
			mcp.RequiredArgument(),
		),
	), s.handleAlignLayersPrompt)

	s.mcp.AddPrompt(mcp.NewPrompt("storage_checkup",
		mcp.WithPromptDescription("Audit image reference counts and clean up if needed"),
	), s.handleStorageCheckupPrompt)
}

func (s *Server) handleAlignLayersPrompt(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	background := req.Params.Arguments["background"]
	reference := req.Params.Arguments["reference"]
	return &mcp.GetPromptResult{
		Description: "Align a reference image over a background",
		Messages: []mcp.PromptMessage{
			{
				Role: mcp.RoleUser,
				Content: mcp.TextContent{
					Type: "text",
					Text: fmt.Sprintf(`Overlay "%s" on "%s". Follow these steps:

1. Use create_document to start a new document (it becomes the active document)
2. Use upload_image with slot "background" and path "%s"
3. Use upload_image with slot "reference" and path "%s"
4. Use push_alpha to set the reference opacity so both layers are visible (around 0.5)
5. Use lock_background, then gesture (start, move, end) and zoom to drag the reference into place, or push_transform with a reference matrix [sc, ss, -ss, sc, tx, ty]
6. Use export_document to check the result; undo and redo step through earlier attempts`, reference, background, background, reference),
				},
			},
		},
	}, nil
}

func (s *Server) handleStorageCheckupPrompt(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	return &mcp.GetPromptResult{
		Description: "Check image storage consistency",
		Messages: []mcp.PromptMessage{
			{
				Role: mcp.RoleUser,
				Content: mcp.TextContent{
					Type: "text",
					Text: `Check image storage. Follow these steps:

1. Run audit and summarise mismatched refcounts, dangling references and orphans
2. If there are orphans, explain that repair_assets deletes them and ask before calling it
3. Report mismatched refcounts and dangling references; they need manual investigation`,
				},
			},
		},
	}, nil
}
