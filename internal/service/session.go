package service

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/bep/debounce"

	"doodlegrid/internal/domain"
	"doodlegrid/internal/geometry"
	"doodlegrid/internal/metrics"
	"doodlegrid/internal/render"
)

// StateChange is the payload of EventStateChanged and the snapshot a
// renderer needs to redraw.
type StateChange struct {
	DocumentID string          `json:"documentId"`
	State      domain.DocState `json:"state"`
	Cursor     int             `json:"cursor"`
	Versions   int             `json:"versions"`
	CanUndo    bool            `json:"canUndo"`
	CanRedo    bool            `json:"canRedo"`
}

// Session is the live editing handle for one document. Mutations are applied
// in memory and persisted by a debounced flush; uploads are persisted
// immediately together with the state that references them.
//
// Lock order is flushMu then mu. flushMu serializes flushes and uploads; mu
// guards the in-memory state.
type Session struct {
	id        string
	createdAt time.Time

	backend  domain.Backend
	assets   *AssetService
	renderer *render.Renderer
	emitter  EventEmitter
	log      *slog.Logger

	flushMu   sync.Mutex
	persisted []domain.DocState
	images    map[domain.AssetID]image.Image

	mu         sync.Mutex
	history    *domain.History
	thumbnail  []byte
	gen        uint64
	flushedGen uint64
	closed     bool
	schedule   func(func())
	quiet      time.Duration
	gestures   *Gestures
}

type sessionDeps struct {
	backend  domain.Backend
	assets   *AssetService
	renderer *render.Renderer
	emitter  EventEmitter
	log      *slog.Logger
	debounce time.Duration
}

func newSession(doc *domain.Document, deps sessionDeps) (*Session, error) {
	h, err := domain.RestoreHistory(doc.History, doc.Cursor)
	if err != nil {
		return nil, fmt.Errorf("document %s: %w", doc.ID, err)
	}
	s := &Session{
		id:        doc.ID,
		createdAt: doc.CreatedAt,
		backend:   deps.backend,
		assets:    deps.assets,
		renderer:  deps.renderer,
		emitter:   deps.emitter,
		log:       deps.log.With("document_id", doc.ID),
		persisted: h.States(),
		images:    make(map[domain.AssetID]image.Image),
		history:   h,
		thumbnail: doc.Thumbnail,
		schedule:  debounce.New(deps.debounce),
		quiet:     deps.debounce,
	}
	metrics.OpenSessions.Inc()
	return s, nil
}

// ID returns the document id.
func (s *Session) ID() string { return s.id }

// Current returns the state under the cursor.
func (s *Session) Current() domain.DocState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history.Current()
}

// Snapshot returns the current state with its history position.
func (s *Session) Snapshot() StateChange {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() StateChange {
	return StateChange{
		DocumentID: s.id,
		State:      s.history.Current(),
		Cursor:     s.history.Cursor(),
		Versions:   s.history.Len(),
		CanUndo:    s.history.Cursor() > 0,
		CanRedo:    s.history.Cursor()+1 < s.history.Len(),
	}
}

// History returns a copy of every state and the cursor.
func (s *Session) History() ([]domain.DocState, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history.States(), s.history.Cursor()
}

// Dirty reports whether a mutation has not been persisted yet.
func (s *Session) Dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen != s.flushedGen
}

// PushState appends next unless it equals the current state. Returns whether
// history changed.
func (s *Session) PushState(next domain.DocState) (bool, error) {
	return s.mutate(nil, func(h *domain.History) bool {
		return h.Push(next)
	})
}

// PushTransforms replaces both layer transforms in one step.
func (s *Session) PushTransforms(bg, ref geometry.Matrix) (bool, error) {
	return s.pushTransformsFrom(nil, bg, ref)
}

func (s *Session) pushTransformsFrom(origin *Gestures, bg, ref geometry.Matrix) (bool, error) {
	return s.mutate(origin, func(h *domain.History) bool {
		return h.Push(h.Current().WithTransforms(bg, ref))
	})
}

// PushAlpha sets the opacity of one layer. alpha must be in [0,1].
func (s *Session) PushAlpha(alpha float64, slot domain.Slot) (bool, error) {
	if math.IsNaN(alpha) || alpha < 0 || alpha > 1 {
		return false, fmt.Errorf("alpha %v out of range [0,1]", alpha)
	}
	return s.mutate(nil, func(h *domain.History) bool {
		return h.Push(h.Current().WithAlpha(slot, alpha))
	})
}

// Undo moves the cursor back. Returns false at the start of history. A
// pending gesture is committed first so it is the step being undone.
func (s *Session) Undo() (bool, error) {
	if err := s.commitGestures(); err != nil {
		return false, err
	}
	return s.mutate(nil, (*domain.History).Undo)
}

// Redo moves the cursor forward. Returns false at the end of history.
func (s *Session) Redo() (bool, error) {
	if err := s.commitGestures(); err != nil {
		return false, err
	}
	return s.mutate(nil, (*domain.History).Redo)
}

// Gestures returns the pointer binding of this session, creating it on first
// use with the layer transforms of the current state.
func (s *Session) Gestures() (*Gestures, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, domain.ErrSessionClosed
	}
	if s.gestures == nil {
		s.gestures = newGestures(s, s.history.Current(), s.quiet)
	}
	return s.gestures, nil
}

func (s *Session) gesturesNow() *Gestures {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gestures
}

func (s *Session) commitGestures() error {
	g := s.gesturesNow()
	if g == nil {
		return nil
	}
	_, err := g.Commit()
	return err
}

// SetThumbnail replaces the thumbnail persisted by the next flush. It is
// overwritten by the built-in renderer when one is configured.
func (s *Session) SetThumbnail(png []byte) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return domain.ErrSessionClosed
	}
	s.thumbnail = png
	s.gen++
	s.mu.Unlock()

	s.schedule(s.flushDebounced)
	return nil
}

// mutate applies fn and, when history changed, notifies and schedules a
// flush. origin is the gesture binding that caused the change, if any; it is
// not told about its own pushes.
func (s *Session) mutate(origin *Gestures, fn func(h *domain.History) bool) (bool, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false, domain.ErrSessionClosed
	}
	changed := fn(s.history)
	if !changed {
		s.mu.Unlock()
		return false, nil
	}
	s.gen++
	change := s.snapshotLocked()
	g := s.gestures
	s.mu.Unlock()

	if g != nil && g != origin {
		g.follow(change.State)
	}
	s.emitter.Emit(context.Background(), EventStateChanged, change)
	s.schedule(s.flushDebounced)
	return true, nil
}

func (s *Session) flushDebounced() {
	if s.closedNow() {
		return
	}
	// Failures are logged and leave the session dirty for the next attempt.
	_ = s.Flush(context.Background())
}

// Flush persists the current history if it changed since the last flush.
// Released assets are decremented in the same transaction as the document
// write. On error the session stays dirty and the error wraps
// domain.ErrFlushFailure.
func (s *Session) Flush(ctx context.Context) error {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	s.mu.Lock()
	if s.gen == s.flushedGen {
		s.mu.Unlock()
		return nil
	}
	gen := s.gen
	states := s.history.States()
	cursor := s.history.Cursor()
	thumb := s.thumbnail
	s.mu.Unlock()

	start := time.Now()
	var (
		deleted []domain.AssetID
		written []byte
	)
	err := s.backend.Update(ctx, func(tx domain.Tx) error {
		var err error
		deleted, err = s.assets.ApplyDelta(ctx, tx, domain.ReleasedAssets(s.persisted, states))
		if err != nil {
			return err
		}
		written = s.thumbnailFor(ctx, tx, states[cursor], thumb)
		return tx.PutDocument(s.document(states, cursor, written))
	})
	metrics.FlushDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return s.flushFailed(ctx, err)
	}

	s.persisted = states
	s.forget(deleted)
	s.mu.Lock()
	s.flushedGen = max(s.flushedGen, gen)
	// A SetThumbnail during the commit is newer than what was written.
	if s.gen == gen {
		s.thumbnail = written
	}
	s.mu.Unlock()

	s.flushed(ctx, len(states), deleted)
	return nil
}

// UploadAsset stores data, points slot at it and persists both in one
// transaction. On failure nothing changes.
func (s *Session) UploadAsset(ctx context.Context, data []byte, slot domain.Slot) (domain.AssetID, error) {
	a, err := s.assets.Prepare(data)
	if err != nil {
		return domain.NoAsset, err
	}

	s.flushMu.Lock()
	defer s.flushMu.Unlock()
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return domain.NoAsset, domain.ErrSessionClosed
	}

	var (
		next    *domain.History
		deleted []domain.AssetID
		written []byte
	)
	err = s.backend.Update(ctx, func(tx domain.Tx) error {
		if err := s.assets.Insert(tx, a); err != nil {
			return err
		}
		next = s.history.Clone()
		next.Push(next.Current().WithAsset(slot, a.ID))
		states := next.States()

		var err error
		deleted, err = s.assets.ApplyDelta(ctx, tx, domain.ReleasedAssets(s.persisted, states))
		if err != nil {
			return err
		}
		written = s.thumbnailFor(ctx, tx, next.Current(), s.thumbnail)
		return tx.PutDocument(s.document(states, next.Cursor(), written))
	})
	if err != nil {
		s.mu.Unlock()
		delete(s.images, a.ID)
		return domain.NoAsset, s.flushFailed(ctx, err)
	}

	s.history = next
	s.persisted = next.States()
	s.thumbnail = written
	s.gen++
	s.flushedGen = s.gen
	change := s.snapshotLocked()
	s.mu.Unlock()

	s.forget(deleted)
	s.flushed(ctx, change.Versions, deleted)
	s.emitter.Emit(ctx, EventStateChanged, change)
	return a.ID, nil
}

// Close flushes pending changes and rejects further mutations. A debounced
// flush that fires afterwards does nothing.
func (s *Session) Close(ctx context.Context) error {
	if g := s.gesturesNow(); g != nil {
		if _, err := g.Commit(); err != nil {
			s.log.WarnContext(ctx, "pending gesture not saved", "err", err)
		}
		g.stop()
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	err := s.Flush(ctx)
	metrics.OpenSessions.Dec()
	s.emitter.Emit(ctx, EventDocumentClosed, s.id)
	return err
}

// abandon closes the session without flushing. It waits for an in-flight
// flush so the caller sees the last persisted history.
func (s *Session) abandon() {
	if g := s.gesturesNow(); g != nil {
		g.stop()
	}
	s.flushMu.Lock()
	defer s.flushMu.Unlock()
	s.mu.Lock()
	wasClosed := s.closed
	s.closed = true
	s.mu.Unlock()
	if !wasClosed {
		metrics.OpenSessions.Dec()
	}
}

func (s *Session) closedNow() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) document(states []domain.DocState, cursor int, thumb []byte) *domain.Document {
	return &domain.Document{
		ID:         s.id,
		CreatedAt:  s.createdAt,
		ModifiedAt: time.Now().UTC(),
		Thumbnail:  thumb,
		Cursor:     cursor,
		History:    states,
	}
}

func (s *Session) flushFailed(ctx context.Context, err error) error {
	metrics.FlushesTotal.WithLabelValues("error").Inc()
	s.log.ErrorContext(ctx, "flush failed", "err", err)
	s.emitter.Emit(ctx, EventFlushFailed, s.id)
	return fmt.Errorf("%w: %w", domain.ErrFlushFailure, err)
}

func (s *Session) flushed(ctx context.Context, versions int, deleted []domain.AssetID) {
	metrics.FlushesTotal.WithLabelValues("ok").Inc()
	metrics.HistoryLength.Observe(float64(versions))
	s.assets.deleted(ctx, deleted)
	s.emitter.Emit(ctx, EventFlushed, s.id)
	s.log.DebugContext(ctx, "flushed", "versions", versions, "deleted", len(deleted))
}

// thumbnailFor renders st, falling back to fallback when no renderer is set
// or rendering fails.
func (s *Session) thumbnailFor(ctx context.Context, tx domain.AssetTx, st domain.DocState, fallback []byte) []byte {
	if s.renderer == nil {
		return fallback
	}
	layers, err := loadLayers(tx, st, s.images)
	if err != nil {
		s.log.WarnContext(ctx, "thumbnail skipped", "err", err)
		return fallback
	}
	png, err := s.renderer.Thumbnail(layers...)
	if err != nil {
		s.log.WarnContext(ctx, "thumbnail skipped", "err", err)
		return fallback
	}
	return png
}

func (s *Session) forget(ids []domain.AssetID) {
	for _, id := range ids {
		delete(s.images, id)
	}
}

// loadLayers resolves the background and reference of st to decoded images.
// cache may be nil. Missing assets are skipped.
func loadLayers(tx domain.AssetTx, st domain.DocState, cache map[domain.AssetID]image.Image) ([]render.Layer, error) {
	layers := make([]render.Layer, 0, 2)
	for _, slot := range []domain.Slot{domain.SlotBackground, domain.SlotReference} {
		img := st.Layer(slot)
		if img.AssetID == domain.NoAsset {
			continue
		}
		pic, ok := cache[img.AssetID]
		if !ok {
			a, err := tx.GetAsset(img.AssetID)
			if errors.Is(err, domain.ErrNotFound) {
				continue
			}
			if err != nil {
				return nil, err
			}
			if pic, err = render.Decode(a.Data); err != nil {
				return nil, fmt.Errorf("asset %s: %w", img.AssetID, err)
			}
			if cache != nil {
				cache[img.AssetID] = pic
			}
		}
		layers = append(layers, render.Layer{Image: pic, Transform: img.Transform, Alpha: img.Alpha})
	}
	return layers, nil
}
