// Package httpapi serves documents, thumbnails and image bytes over HTTP.
// Documents are read-only here; edits go through sessions (CLI or MCP).
package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"doodlegrid/internal/domain"
	"doodlegrid/internal/logging"
	mcpserver "doodlegrid/internal/mcp"
	"doodlegrid/internal/metrics"
	"doodlegrid/internal/service"
)

// Approver resolves destructive MCP actions. *mcpserver.Server implements it.
type Approver interface {
	Pending() []mcpserver.PendingAction
	Approve(actionID string) bool
	Reject(actionID string) bool
}

// Deps holds the services the API reads from.
type Deps struct {
	Documents *service.DocumentService
	Assets    *service.AssetService
	// Approver is optional; approval routes are mounted only when set.
	Approver Approver
	Logger   *slog.Logger
}

// DocumentView is the JSON shape of GET /documents/{id}.
type DocumentView struct {
	domain.DocumentInfo
	Cursor  int               `json:"cursor"`
	Current domain.DocState   `json:"current"`
	History []domain.DocState `json:"history"`
}

type api struct {
	Deps
	log *slog.Logger
}

// New builds the router.
func New(deps Deps) http.Handler {
	a := &api{Deps: deps, log: logging.OrDefault(deps.Logger).With("component", "http")}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(a.logRequests)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	r.Handle("/metrics", metrics.Handler())

	r.Route("/documents", func(sub chi.Router) {
		sub.Get("/", a.listDocuments)
		sub.Get("/{id}", a.getDocument)
		sub.Get("/{id}/thumbnail", a.getThumbnail)
		sub.Get("/{id}/export", a.exportDocument)
	})
	r.Route("/assets", func(sub chi.Router) {
		sub.Get("/", a.listAssets)
		sub.Get("/{id}", a.getAsset)
	})

	if deps.Approver != nil {
		r.Route("/approvals", func(sub chi.Router) {
			sub.Get("/", a.listApprovals)
			sub.Post("/{id}/{decision}", a.decideApproval)
		})
	}
	return r
}

func (a *api) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		a.log.DebugContext(r.Context(), "request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func (a *api) listDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := a.Documents.List(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": docs})
}

func (a *api) getDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := a.Documents.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, DocumentView{
		DocumentInfo: doc.Info(),
		Cursor:       doc.Cursor,
		Current:      doc.Current(),
		History:      doc.History,
	})
}

func (a *api) getThumbnail(w http.ResponseWriter, r *http.Request) {
	thumb, err := a.Documents.Thumbnail(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if len(thumb) == 0 {
		writeError(w, http.StatusNotFound, "NO_THUMBNAIL", "document has no thumbnail yet")
		return
	}
	writeBytes(w, "image/png", thumb, "no-cache")
}

func (a *api) exportDocument(w http.ResponseWriter, r *http.Request) {
	out, err := a.Documents.Export(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeBytes(w, "image/jpeg", out, "no-cache")
}

func (a *api) listAssets(w http.ResponseWriter, r *http.Request) {
	assets, err := a.Assets.List(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"assets": assets})
}

// getAsset serves image bytes. Asset ids are never reused, so responses are
// cacheable forever.
func (a *api) getAsset(w http.ResponseWriter, r *http.Request) {
	id, err := domain.ParseAssetID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "BAD_ID", "asset id must be an integer")
		return
	}
	asset, err := a.Assets.Get(r.Context(), id)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeBytes(w, asset.MediaType, asset.Data, "public, max-age=31536000, immutable")
}

func (a *api) listApprovals(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"pending": a.Approver.Pending()})
}

func (a *api) decideApproval(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var ok bool
	switch chi.URLParam(r, "decision") {
	case "approve":
		ok = a.Approver.Approve(id)
	case "reject":
		ok = a.Approver.Reject(id)
	default:
		writeError(w, http.StatusBadRequest, "BAD_DECISION", "decision must be approve or reject")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "no pending action "+id)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) fail(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
		return
	}
	a.log.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "err", err)
	writeError(w, http.StatusInternalServerError, "INTERNAL", err.Error())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{"error": map[string]string{"code": code, "message": message}})
}

func writeBytes(w http.ResponseWriter, contentType string, data []byte, cacheControl string) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Cache-Control", cacheControl)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
