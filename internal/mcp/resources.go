package mcpserver

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

const (
	documentsURI      = "doodlegrid://documents"
	thumbnailTemplate = "doodlegrid://document/{documentId}/thumbnail"
)

func (s *Server) registerResources() {
	// ── doodlegrid://documents ─────────────────────────
	s.mcp.AddResource(mcp.NewResource(
		documentsURI,
		"All Documents",
		mcp.WithMIMEType("application/json"),
	), s.handleDocumentsResource)

	// ── doodlegrid://document/{documentId}/thumbnail ───
	s.mcp.AddResourceTemplate(
		mcp.NewResourceTemplate(
			thumbnailTemplate,
			"Document Thumbnail",
			mcp.WithTemplateMIMEType("image/png"),
		),
		s.handleThumbnailResource,
	)
}

func (s *Server) handleDocumentsResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	docs, err := s.docs.List(ctx)
	if err != nil {
		return nil, err
	}
	data, err := json.MarshalIndent(docs, "", "  ")
	if err != nil {
		return nil, err
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      documentsURI,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

// documentIDFromURI extracts the id from doodlegrid://document/{id}/thumbnail.
func documentIDFromURI(uri string) (string, error) {
	rest, ok := strings.CutPrefix(uri, "doodlegrid://document/")
	if !ok {
		return "", fmt.Errorf("unexpected resource URI %q", uri)
	}
	id, ok := strings.CutSuffix(rest, "/thumbnail")
	if !ok || id == "" || strings.Contains(id, "/") {
		return "", fmt.Errorf("unexpected resource URI %q", uri)
	}
	return id, nil
}

func (s *Server) handleThumbnailResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	id, err := documentIDFromURI(req.Params.URI)
	if err != nil {
		return nil, err
	}
	thumb, err := s.docs.Thumbnail(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(thumb) == 0 {
		return nil, fmt.Errorf("document %s has no thumbnail yet", id)
	}
	return []mcp.ResourceContents{
		mcp.BlobResourceContents{
			URI:      req.Params.URI,
			MIMEType: "image/png",
			Blob:     base64.StdEncoding.EncodeToString(thumb),
		},
	}, nil
}
