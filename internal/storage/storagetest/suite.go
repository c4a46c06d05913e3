// Package storagetest holds the behaviour every domain.Backend must share.
package storagetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"doodlegrid/internal/domain"
)

var errAbort = errors.New("abort")

// Run exercises backend. newBackend must return an empty backend.
func Run(t *testing.T, newBackend func(t *testing.T) domain.Backend) {
	t.Run("AssetLifecycle", func(t *testing.T) { testAssetLifecycle(t, newBackend(t)) })
	t.Run("AssetIDsNotReused", func(t *testing.T) { testAssetIDsNotReused(t, newBackend(t)) })
	t.Run("DocumentRoundTrip", func(t *testing.T) { testDocumentRoundTrip(t, newBackend(t)) })
	t.Run("ListByModified", func(t *testing.T) { testListByModified(t, newBackend(t)) })
	t.Run("Rollback", func(t *testing.T) { testRollback(t, newBackend(t)) })
	t.Run("NotFound", func(t *testing.T) { testNotFound(t, newBackend(t)) })
}

func insert(t *testing.T, b domain.Backend, data string) domain.AssetID {
	t.Helper()
	a := &domain.Asset{MediaType: "image/png", Width: 2, Height: 3, Data: []byte(data)}
	require.NoError(t, b.Update(context.Background(), func(tx domain.Tx) error {
		return tx.InsertAsset(a)
	}))
	require.NotEqual(t, domain.NoAsset, a.ID)
	return a.ID
}

func testAssetLifecycle(t *testing.T, b domain.Backend) {
	ctx := context.Background()
	id := insert(t, b, "blob")

	require.NoError(t, b.View(ctx, func(tx domain.Tx) error {
		a, err := tx.GetAsset(id)
		require.NoError(t, err)
		assert.Equal(t, int64(1), a.Refcount)
		assert.Equal(t, []byte("blob"), a.Data)
		assert.Equal(t, "image/png", a.MediaType)
		assert.Equal(t, 2, a.Width)
		assert.False(t, a.CreatedAt.IsZero())

		list, err := tx.ListAssets()
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, int64(4), list[0].Size)
		return nil
	}))

	require.NoError(t, b.Update(ctx, func(tx domain.Tx) error {
		n, err := tx.DecrementAsset(id)
		require.NoError(t, err)
		assert.Equal(t, int64(0), n)

		_, err = tx.DecrementAsset(id)
		assert.ErrorIs(t, err, domain.ErrInconsistentRefcount)
		return tx.DeleteAsset(id)
	}))

	require.NoError(t, b.View(ctx, func(tx domain.Tx) error {
		_, err := tx.GetAsset(id)
		assert.ErrorIs(t, err, domain.ErrNotFound)
		return nil
	}))
}

func testAssetIDsNotReused(t *testing.T, b domain.Backend) {
	first := insert(t, b, "a")
	require.NoError(t, b.Update(context.Background(), func(tx domain.Tx) error {
		return tx.DeleteAsset(first)
	}))
	second := insert(t, b, "b")
	assert.Greater(t, second, first)
}

func newDocument(id string, modified time.Time) *domain.Document {
	s0 := domain.InitialState()
	return &domain.Document{
		ID:         id,
		CreatedAt:  modified,
		ModifiedAt: modified,
		Cursor:     1,
		History:    []domain.DocState{s0, s0.WithAlpha(domain.SlotReference, 0.25).WithAsset(domain.SlotBackground, 7)},
	}
}

func testDocumentRoundTrip(t *testing.T, b domain.Backend) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)
	doc := newDocument("doc-1", now)

	require.NoError(t, b.Update(ctx, func(tx domain.Tx) error { return tx.CreateDocument(doc) }))

	var got *domain.Document
	require.NoError(t, b.View(ctx, func(tx domain.Tx) error {
		var err error
		got, err = tx.GetDocument("doc-1")
		return err
	}))
	assert.Equal(t, 1, got.Cursor)
	require.Len(t, got.History, 2)
	assert.True(t, doc.History[1].Equal(got.History[1]))
	assert.True(t, now.Equal(got.ModifiedAt.UTC()), "modified %v != %v", now, got.ModifiedAt)
	assert.Empty(t, got.Thumbnail)

	got.Cursor = 0
	got.Thumbnail = []byte{0x89, 'P', 'N', 'G'}
	got.ModifiedAt = now.Add(time.Minute)
	require.NoError(t, b.Update(ctx, func(tx domain.Tx) error { return tx.PutDocument(got) }))

	require.NoError(t, b.View(ctx, func(tx domain.Tx) error {
		again, err := tx.GetDocument("doc-1")
		require.NoError(t, err)
		assert.Equal(t, 0, again.Cursor)
		assert.Equal(t, got.Thumbnail, again.Thumbnail)

		list, err := tx.ListDocuments()
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.True(t, list[0].HasThumbnail)
		assert.Equal(t, 2, list[0].Versions)
		return nil
	}))

	require.NoError(t, b.Update(ctx, func(tx domain.Tx) error { return tx.DeleteDocument("doc-1") }))
	require.NoError(t, b.View(ctx, func(tx domain.Tx) error {
		_, err := tx.GetDocument("doc-1")
		assert.ErrorIs(t, err, domain.ErrNotFound)
		return nil
	}))
}

func testListByModified(t *testing.T, b domain.Backend) {
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, b.Update(ctx, func(tx domain.Tx) error {
		for _, d := range []struct {
			id     string
			offset time.Duration
		}{{"old", 0}, {"newest", 2 * time.Hour}, {"middle", time.Hour}} {
			if err := tx.CreateDocument(newDocument(d.id, base.Add(d.offset))); err != nil {
				return err
			}
		}
		return nil
	}))

	require.NoError(t, b.View(ctx, func(tx domain.Tx) error {
		list, err := tx.ListDocuments()
		require.NoError(t, err)
		ids := make([]string, 0, len(list))
		for _, d := range list {
			ids = append(ids, d.ID)
		}
		assert.Equal(t, []string{"newest", "middle", "old"}, ids)
		return nil
	}))
}

func testRollback(t *testing.T, b domain.Backend) {
	ctx := context.Background()
	id := insert(t, b, "keep")

	err := b.Update(ctx, func(tx domain.Tx) error {
		if _, err := tx.DecrementAsset(id); err != nil {
			return err
		}
		if err := tx.DeleteAsset(id); err != nil {
			return err
		}
		if err := tx.CreateDocument(newDocument("ghost", time.Now())); err != nil {
			return err
		}
		return errAbort
	})
	require.ErrorIs(t, err, errAbort)

	require.NoError(t, b.View(ctx, func(tx domain.Tx) error {
		a, err := tx.GetAsset(id)
		require.NoError(t, err)
		assert.Equal(t, int64(1), a.Refcount)

		_, err = tx.GetDocument("ghost")
		assert.ErrorIs(t, err, domain.ErrNotFound)
		return nil
	}))
}

func testNotFound(t *testing.T, b domain.Backend) {
	ctx := context.Background()
	err := b.Update(ctx, func(tx domain.Tx) error {
		_, err := tx.DecrementAsset(404)
		assert.ErrorIs(t, err, domain.ErrNotFound)
		assert.ErrorIs(t, tx.DeleteAsset(404), domain.ErrNotFound)
		assert.ErrorIs(t, tx.DeleteDocument("missing"), domain.ErrNotFound)
		assert.ErrorIs(t, tx.PutDocument(newDocument("missing", time.Now())), domain.ErrNotFound)
		return nil
	})
	require.NoError(t, err)
}
