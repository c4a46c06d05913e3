package render

import (
	"fmt"
	"math"
)

// Renderer produces thumbnails and exports for a fixed viewport.
type Renderer struct {
	ThumbSize          int
	ViewportWidth      int
	ViewportHeight     int
	ExportMinScale     float64
	ExportMaxScale     float64
	ExportMaxDimension int
	ExportQuality      int
}

// Default returns the renderer used when no configuration is given.
func Default() *Renderer {
	return &Renderer{
		ThumbSize:          320,
		ViewportWidth:      1280,
		ViewportHeight:     800,
		ExportMinScale:     1.5,
		ExportMaxScale:     5,
		ExportMaxDimension: 10_000,
		ExportQuality:      90,
	}
}

// Thumbnail renders the viewport shrunk into a ThumbSize square PNG.
func (r *Renderer) Thumbnail(layers ...Layer) ([]byte, error) {
	scale := float64(r.ThumbSize) / float64(max(r.ViewportWidth, r.ViewportHeight))
	img := Composite(r.ThumbSize, r.ThumbSize, scale, layers...)
	return EncodePNG(img)
}

// ExportScale picks the output scale so the least magnified layer keeps at
// least ExportMinScale source pixels per output pixel, bounded by
// ExportMaxScale and the maximum output dimension.
func (r *Renderer) ExportScale(layers ...Layer) float64 {
	minLayer := math.Inf(1)
	for _, l := range layers {
		if l.Image == nil {
			continue
		}
		if s := l.Transform.Scale(); s > 0 {
			minLayer = math.Min(minLayer, s)
		}
	}

	scale := r.ExportMaxScale
	if !math.IsInf(minLayer, 1) {
		scale = math.Min(scale, r.ExportMinScale/minLayer)
	}
	scale = math.Min(scale, float64(r.ExportMaxDimension)/float64(r.ViewportWidth))
	scale = math.Min(scale, float64(r.ExportMaxDimension)/float64(r.ViewportHeight))
	return scale
}

// Export renders the viewport at ExportScale and encodes it as JPEG.
func (r *Renderer) Export(layers ...Layer) ([]byte, error) {
	scale := r.ExportScale(layers...)
	w := int(float64(r.ViewportWidth) * scale)
	h := int(float64(r.ViewportHeight) * scale)
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("export: empty output %dx%d", w, h)
	}
	return EncodeJPEG(Composite(w, h, scale, layers...), r.ExportQuality)
}
