package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"doodlegrid/internal/domain"
	"doodlegrid/internal/logging"
	"doodlegrid/internal/render"
)

// ─────────────────────────────────────────────────────────────
// DocumentService: catalog and session cache
// ─────────────────────────────────────────────────────────────

// DocumentService lists, creates and deletes documents and hands out one
// Session per open document.
type DocumentService struct {
	backend  domain.Backend
	assets   *AssetService
	renderer *render.Renderer
	emitter  EventEmitter
	log      *slog.Logger

	mu       sync.Mutex
	debounce time.Duration
	sessions map[string]*Session
}

// NewDocumentService creates a DocumentService. renderer may be nil, in which
// case sessions keep whatever thumbnail the caller sets.
func NewDocumentService(backend domain.Backend, assets *AssetService, renderer *render.Renderer, debounce time.Duration, emitter EventEmitter, logger *slog.Logger) *DocumentService {
	return &DocumentService{
		backend:  backend,
		assets:   assets,
		renderer: renderer,
		emitter:  emitter,
		log:      logging.OrDefault(logger).With("component", "documents"),
		debounce: debounce,
		sessions: make(map[string]*Session),
	}
}

// SetFlushDebounce changes the quiet period for sessions opened afterwards.
func (s *DocumentService) SetFlushDebounce(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.debounce = d
}

// List returns every document, most recently modified first.
func (s *DocumentService) List(ctx context.Context) ([]domain.DocumentInfo, error) {
	var out []domain.DocumentInfo
	err := s.backend.View(ctx, func(tx domain.Tx) error {
		var err error
		out, err = tx.ListDocuments()
		return err
	})
	return out, err
}

// Get returns the persisted document.
func (s *DocumentService) Get(ctx context.Context, id string) (*domain.Document, error) {
	var doc *domain.Document
	err := s.backend.View(ctx, func(tx domain.Tx) error {
		var err error
		doc, err = tx.GetDocument(id)
		return err
	})
	return doc, err
}

// Thumbnail returns the persisted thumbnail, nil when none was rendered.
func (s *DocumentService) Thumbnail(ctx context.Context, id string) ([]byte, error) {
	doc, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return doc.Thumbnail, nil
}

// Create stores a new document holding only the initial state.
func (s *DocumentService) Create(ctx context.Context) (*domain.Document, error) {
	now := time.Now().UTC()
	doc := &domain.Document{
		ID:         uuid.NewString(),
		CreatedAt:  now,
		ModifiedAt: now,
		History:    []domain.DocState{domain.InitialState()},
	}
	err := s.backend.Update(ctx, func(tx domain.Tx) error {
		return tx.CreateDocument(doc)
	})
	if err != nil {
		return nil, fmt.Errorf("create document: %w", err)
	}
	s.log.InfoContext(ctx, "document created", "document_id", doc.ID)
	return doc, nil
}

// Open returns the session for id, loading it on first use.
func (s *DocumentService) Open(ctx context.Context, id string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess, ok := s.sessions[id]; ok {
		return sess, nil
	}
	doc, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	sess, err := newSession(doc, sessionDeps{
		backend:  s.backend,
		assets:   s.assets,
		renderer: s.renderer,
		emitter:  s.emitter,
		log:      s.log,
		debounce: s.debounce,
	})
	if err != nil {
		return nil, err
	}
	s.sessions[id] = sess
	return sess, nil
}

// CloseDocument flushes and drops the session for id, if open.
func (s *DocumentService) CloseDocument(ctx context.Context, id string) error {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	if !ok {
		return nil
	}
	return sess.Close(ctx)
}

// CloseAll flushes and drops every open session.
func (s *DocumentService) CloseAll(ctx context.Context) error {
	s.mu.Lock()
	open := s.sessions
	s.sessions = make(map[string]*Session)
	s.mu.Unlock()

	var errs []error
	for _, sess := range open {
		errs = append(errs, sess.Close(ctx))
	}
	return errors.Join(errs...)
}

// Delete removes a document and releases every asset its history references
// in the same transaction. An open session is closed without flushing first.
func (s *DocumentService) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	if ok {
		sess.abandon()
	}

	var deleted []domain.AssetID
	err := s.backend.Update(ctx, func(tx domain.Tx) error {
		doc, err := tx.GetDocument(id)
		if err != nil {
			return err
		}
		deleted, err = s.assets.ApplyDelta(ctx, tx, domain.LiveAssets(doc.History))
		if err != nil {
			return err
		}
		return tx.DeleteDocument(id)
	})
	if err != nil {
		return fmt.Errorf("delete document %s: %w", id, err)
	}
	s.assets.deleted(ctx, deleted)
	s.log.InfoContext(ctx, "document deleted", "document_id", id, "assets_deleted", len(deleted))
	return nil
}

// Export renders the current state of id at full resolution as JPEG.
func (s *DocumentService) Export(ctx context.Context, id string) ([]byte, error) {
	if s.renderer == nil {
		return nil, errors.New("export: no renderer configured")
	}
	st, err := s.currentState(ctx, id)
	if err != nil {
		return nil, err
	}
	var layers []render.Layer
	err = s.backend.View(ctx, func(tx domain.Tx) error {
		var err error
		layers, err = loadLayers(tx, st, nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	return s.renderer.Export(layers...)
}

// currentState prefers the open session over the persisted document.
func (s *DocumentService) currentState(ctx context.Context, id string) (domain.DocState, error) {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	s.mu.Unlock()
	if ok {
		return sess.Current(), nil
	}
	doc, err := s.Get(ctx, id)
	if err != nil {
		return domain.DocState{}, err
	}
	return doc.Current(), nil
}
