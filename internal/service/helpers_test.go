package service_test

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"doodlegrid/internal/domain"
	"doodlegrid/internal/render"
	"doodlegrid/internal/service"
	"doodlegrid/internal/storage/memory"
)

var errBoom = errors.New("boom")

// flakyBackend fails every Update while fail is set.
type flakyBackend struct {
	domain.Backend
	fail atomic.Bool
}

func (b *flakyBackend) Update(ctx context.Context, fn func(tx domain.Tx) error) error {
	if b.fail.Load() {
		return errBoom
	}
	return b.Backend.Update(ctx, fn)
}

type fixture struct {
	backend *flakyBackend
	emitter *service.MockEmitter
	assets  *service.AssetService
	docs    *service.DocumentService
}

func newFixture(t *testing.T, debounce time.Duration) *fixture {
	t.Helper()
	backend := &flakyBackend{Backend: memory.New()}
	emitter := &service.MockEmitter{}
	assets := service.NewAssetService(backend, service.DefaultAssetOptions(), emitter, nil)
	renderer := &render.Renderer{
		ThumbSize:          16,
		ViewportWidth:      64,
		ViewportHeight:     64,
		ExportMinScale:     1.5,
		ExportMaxScale:     2,
		ExportMaxDimension: 256,
		ExportQuality:      90,
	}
	docs := service.NewDocumentService(backend, assets, renderer, debounce, emitter, nil)
	t.Cleanup(func() {
		_ = docs.CloseAll(context.Background())
	})
	return &fixture{backend: backend, emitter: emitter, assets: assets, docs: docs}
}

// open creates a document and opens its session.
func (f *fixture) open(t *testing.T) *service.Session {
	t.Helper()
	ctx := context.Background()
	doc, err := f.docs.Create(ctx)
	require.NoError(t, err)
	sess, err := f.docs.Open(ctx, doc.ID)
	require.NoError(t, err)
	return sess
}

func pngOf(t *testing.T, w, h int, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func redPNG(t *testing.T) []byte {
	return pngOf(t, 8, 8, color.RGBA{R: 255, A: 255})
}

func bluePNG(t *testing.T) []byte {
	return pngOf(t, 8, 8, color.RGBA{B: 255, A: 255})
}
