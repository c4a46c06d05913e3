// Package render composites document layers into thumbnails and exports.
package render

import (
	"image"
	"image/color"

	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"

	"doodlegrid/internal/geometry"
)

// Layer is one positioned image.
type Layer struct {
	Image     image.Image
	Transform geometry.Matrix
	Alpha     float64
}

// Composite draws layers in order onto a white w×h canvas. Every layer
// transform is scaled by scale first.
func Composite(w, h int, scale float64, layers ...Layer) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(dst, dst.Bounds(), image.White, image.Point{}, draw.Src)

	for _, l := range layers {
		if l.Image == nil || l.Alpha <= 0 {
			continue
		}
		m := l.Transform.Prescale(scale)
		if m.Scale() == 0 {
			continue
		}
		tmp := image.NewRGBA(dst.Bounds())
		draw.BiLinear.Transform(tmp, aff3(m), l.Image, l.Image.Bounds(), draw.Over, nil)

		mask := image.NewUniform(color.Alpha{A: alpha8(l.Alpha)})
		draw.DrawMask(dst, dst.Bounds(), tmp, image.Point{}, mask, image.Point{}, draw.Over)
	}
	return dst
}

// aff3 converts CSS matrix order to the row-major affine used by x/image/draw.
func aff3(m geometry.Matrix) f64.Aff3 {
	return f64.Aff3{m[0], m[2], m[4], m[1], m[3], m[5]}
}

func alpha8(a float64) uint8 {
	if a >= 1 {
		return 0xff
	}
	return uint8(a*0xff + 0.5)
}

func flatten(img image.Image) *image.RGBA {
	dst := image.NewRGBA(img.Bounds())
	draw.Draw(dst, dst.Bounds(), image.White, image.Point{}, draw.Src)
	draw.Draw(dst, dst.Bounds(), img, img.Bounds().Min, draw.Over)
	return dst
}
