package service_test

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"doodlegrid/internal/domain"
	"doodlegrid/internal/service"
	"doodlegrid/internal/storage"
	"doodlegrid/internal/storage/memory"
)

// pausingBackend blocks the next Update after arm until release is closed.
type pausingBackend struct {
	domain.Backend
	armed   atomic.Bool
	entered chan struct{}
	release chan struct{}
}

func (b *pausingBackend) arm() {
	b.entered = make(chan struct{})
	b.release = make(chan struct{})
	b.armed.Store(true)
}

func (b *pausingBackend) Update(ctx context.Context, fn func(tx domain.Tx) error) error {
	if b.armed.Swap(false) {
		close(b.entered)
		<-b.release
	}
	return b.Backend.Update(ctx, fn)
}

// failPutBackend fails PutDocument while failPut is set, after any asset
// changes in the same transaction have been made.
type failPutBackend struct {
	domain.Backend
	failPut atomic.Bool
}

type failPutTx struct {
	domain.Tx
}

func (failPutTx) PutDocument(*domain.Document) error { return errBoom }

func (b *failPutBackend) Update(ctx context.Context, fn func(tx domain.Tx) error) error {
	return b.Backend.Update(ctx, func(tx domain.Tx) error {
		if b.failPut.Load() {
			tx = failPutTx{Tx: tx}
		}
		return fn(tx)
	})
}

func TestSession_ThumbnailSetDuringFlushSurvives(t *testing.T) {
	ctx := context.Background()
	backend := &pausingBackend{Backend: memory.New()}
	emitter := &service.MockEmitter{}
	assets := service.NewAssetService(backend, service.DefaultAssetOptions(), emitter, nil)
	docs := service.NewDocumentService(backend, assets, nil, manual, emitter, nil)
	t.Cleanup(func() { _ = docs.CloseAll(ctx) })

	doc, err := docs.Create(ctx)
	require.NoError(t, err)
	sess, err := docs.Open(ctx, doc.ID)
	require.NoError(t, err)

	require.NoError(t, sess.SetThumbnail([]byte("A")))
	backend.arm()
	flushed := make(chan error, 1)
	go func() { flushed <- sess.Flush(ctx) }()

	select {
	case <-backend.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("flush never reached the backend")
	}
	require.NoError(t, sess.SetThumbnail([]byte("B")))
	close(backend.release)
	require.NoError(t, <-flushed)

	assert.True(t, sess.Dirty(), "thumbnail B is not persisted yet")
	require.NoError(t, sess.Flush(ctx))
	assert.False(t, sess.Dirty())

	thumb, err := docs.Thumbnail(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, []byte("B"), thumb)
}

func TestSession_FailedDocumentWriteKeepsReleasedAsset(t *testing.T) {
	backends := map[string]func(t *testing.T) domain.Backend{
		"memory": func(*testing.T) domain.Backend { return memory.New() },
		"sqlite": func(t *testing.T) domain.Backend {
			db, err := storage.OpenSQLite(filepath.Join(t.TempDir(), "doodlegrid.db"))
			require.NoError(t, err)
			t.Cleanup(func() { _ = db.Close() })
			return db
		},
	}
	for name, open := range backends {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			backend := &failPutBackend{Backend: open(t)}
			emitter := &service.MockEmitter{}
			assets := service.NewAssetService(backend, service.DefaultAssetOptions(), emitter, nil)
			docs := service.NewDocumentService(backend, assets, nil, manual, emitter, nil)
			t.Cleanup(func() { _ = docs.CloseAll(ctx) })

			doc, err := docs.Create(ctx)
			require.NoError(t, err)
			sess, err := docs.Open(ctx, doc.ID)
			require.NoError(t, err)

			_, err = sess.UploadAsset(ctx, redPNG(t), domain.SlotReference)
			require.NoError(t, err)
			released, err := sess.UploadAsset(ctx, bluePNG(t), domain.SlotReference)
			require.NoError(t, err)
			_, err = sess.Undo()
			require.NoError(t, err)
			_, err = sess.PushAlpha(0.3, domain.SlotReference)
			require.NoError(t, err)

			backend.failPut.Store(true)
			err = sess.Flush(ctx)
			require.ErrorIs(t, err, domain.ErrFlushFailure)
			require.ErrorIs(t, err, errBoom)

			a, err := assets.Get(ctx, released)
			require.NoError(t, err, "decrement rolled back with the document write")
			assert.Equal(t, int64(1), a.Refcount)

			backend.failPut.Store(false)
			require.NoError(t, sess.Flush(ctx))
			_, err = assets.Get(ctx, released)
			assert.ErrorIs(t, err, domain.ErrNotFound)
		})
	}
}
