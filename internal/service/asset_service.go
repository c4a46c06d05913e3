package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dustin/go-humanize"

	"doodlegrid/internal/domain"
	"doodlegrid/internal/logging"
	"doodlegrid/internal/metrics"
	"doodlegrid/internal/render"
)

// ─────────────────────────────────────────────────────────────
// AssetService: refcounted image blobs
// ─────────────────────────────────────────────────────────────

// AssetOptions controls intake of uploaded bytes.
type AssetOptions struct {
	// MaxBytes is the size above which uploads are re-encoded as JPEG.
	MaxBytes    int64
	JPEGQuality int
}

// DefaultAssetOptions returns the intake defaults.
func DefaultAssetOptions() AssetOptions {
	return AssetOptions{MaxBytes: 2_000_000, JPEGQuality: 70}
}

// AssetService owns the asset table. Refcounts are only ever set by add
// (to 1) and lowered by ApplyDelta.
type AssetService struct {
	backend domain.Backend
	opts    AssetOptions
	emitter EventEmitter
	log     *slog.Logger
}

// NewAssetService creates an AssetService.
func NewAssetService(backend domain.Backend, opts AssetOptions, emitter EventEmitter, logger *slog.Logger) *AssetService {
	return &AssetService{
		backend: backend,
		opts:    opts,
		emitter: emitter,
		log:     logging.OrDefault(logger).With("component", "assets"),
	}
}

// Prepare validates data as an image and re-encodes oversized uploads.
// The returned asset is not stored yet.
func (s *AssetService) Prepare(data []byte) (*domain.Asset, error) {
	info, err := render.Inspect(data)
	if err != nil {
		return nil, err
	}
	if s.opts.MaxBytes > 0 && int64(len(data)) > s.opts.MaxBytes {
		smaller, err := render.Reencode(data, s.opts.JPEGQuality)
		if err != nil {
			return nil, fmt.Errorf("reencode: %w", err)
		}
		s.log.Info("re-encoded upload",
			"from", humanize.Bytes(uint64(len(data))),
			"to", humanize.Bytes(uint64(len(smaller))),
		)
		data = smaller
		info.MediaType = "image/jpeg"
	}
	return &domain.Asset{
		MediaType: info.MediaType,
		Width:     info.Width,
		Height:    info.Height,
		Data:      data,
	}, nil
}

// Insert stores a prepared asset with refcount 1 inside tx.
func (s *AssetService) Insert(tx domain.AssetTx, a *domain.Asset) error {
	if err := tx.InsertAsset(a); err != nil {
		return err
	}
	metrics.AssetsAdded.Inc()
	s.log.Debug("asset added", "asset_id", a.ID, "size", len(a.Data), "media_type", a.MediaType)
	return nil
}

// Add validates and stores data with refcount 1 in its own transaction.
func (s *AssetService) Add(ctx context.Context, data []byte) (domain.AssetID, error) {
	a, err := s.Prepare(data)
	if err != nil {
		return domain.NoAsset, err
	}
	err = s.backend.Update(ctx, func(tx domain.Tx) error {
		return s.Insert(tx, a)
	})
	if err != nil {
		return domain.NoAsset, fmt.Errorf("add asset: %w", err)
	}
	return a.ID, nil
}

// Get returns the asset with id, or an error wrapping domain.ErrNotFound.
func (s *AssetService) Get(ctx context.Context, id domain.AssetID) (*domain.Asset, error) {
	var a *domain.Asset
	err := s.backend.View(ctx, func(tx domain.Tx) error {
		var err error
		a, err = tx.GetAsset(id)
		return err
	})
	return a, err
}

// ApplyDelta decrements every id once and deletes assets that reach zero.
// Unknown or already-zero ids are logged and skipped. Any other error aborts
// and must roll back the enclosing transaction.
func (s *AssetService) ApplyDelta(ctx context.Context, tx domain.AssetTx, ids []domain.AssetID) ([]domain.AssetID, error) {
	var deleted []domain.AssetID
	for _, id := range ids {
		if id == domain.NoAsset {
			continue
		}
		remaining, err := tx.DecrementAsset(id)
		switch {
		case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrInconsistentRefcount):
			metrics.RefcountInconsistencies.Inc()
			s.log.WarnContext(ctx, "refcount inconsistency", "asset_id", id, "reason", err.Error())
			continue
		case err != nil:
			return nil, err
		}
		metrics.AssetsReleased.Inc()

		if remaining > 0 {
			continue
		}
		if err := tx.DeleteAsset(id); err != nil {
			return nil, err
		}
		deleted = append(deleted, id)
		s.log.DebugContext(ctx, "asset deleted", "asset_id", id)
	}
	return deleted, nil
}

// deleted is called after the transaction that removed ids has committed.
func (s *AssetService) deleted(ctx context.Context, ids []domain.AssetID) {
	for _, id := range ids {
		metrics.AssetsDeleted.Inc()
		s.emitter.Emit(ctx, EventAssetDeleted, id)
	}
}

// List returns every asset record without bytes.
func (s *AssetService) List(ctx context.Context) ([]domain.AssetInfo, error) {
	var out []domain.AssetInfo
	err := s.backend.View(ctx, func(tx domain.Tx) error {
		var err error
		out, err = tx.ListAssets()
		return err
	})
	return out, err
}
