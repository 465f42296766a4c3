// Package preprocess implements the two image preprocessing passes of the
// pipeline: contrast and illumination normalization for detector crops, and
// PSF based sharpening for refined text regions.
package preprocess

import (
	"errors"
	"fmt"
	"image"
	"math"

	"github.com/disintegration/imaging"
)

// TransformError reports a failure inside one preprocessing step.
type TransformError struct {
	Operation string
	Err       error
}

func (e *TransformError) Error() string {
	return fmt.Sprintf("preprocess %s: %v", e.Operation, e.Err)
}

func (e *TransformError) Unwrap() error { return e.Err }

var errEmptyImage = errors.New("input image is empty")

// toGray converts any image to 8-bit luminance.
func toGray(img image.Image) (*image.Gray, error) {
	if img == nil || img.Bounds().Empty() {
		return nil, &TransformError{Operation: "grayscale", Err: errEmptyImage}
	}
	return nrgbaToGray(imaging.Grayscale(img)), nil
}

// nrgbaToGray keeps the red channel of an image imaging already made gray.
func nrgbaToGray(src *image.NRGBA) *image.Gray {
	w, h := src.Rect.Dx(), src.Rect.Dy()
	dst := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		row := src.Pix[y*src.Stride:]
		out := dst.Pix[y*dst.Stride:]
		for x := 0; x < w; x++ {
			out[x] = row[x*4]
		}
	}
	return dst
}

// addWeighted returns saturate(alpha*a + beta*b) per pixel. a and b must have
// the same size.
func addWeighted(a *image.Gray, alpha float64, b *image.Gray, beta float64) *image.Gray {
	w, h := a.Rect.Dx(), a.Rect.Dy()
	dst := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		ra := a.Pix[y*a.Stride:]
		rb := b.Pix[y*b.Stride:]
		out := dst.Pix[y*dst.Stride:]
		for x := 0; x < w; x++ {
			out[x] = saturate(alpha*float64(ra[x]) + beta*float64(rb[x]))
		}
	}
	return dst
}

func saturate(v float64) uint8 {
	v = math.Round(v)
	switch {
	case v < 0:
		return 0
	case v > 255:
		return 255
	default:
		return uint8(v)
	}
}

// plane is a single channel float image with values in [0,1].
type plane struct {
	w, h int
	pix  []float64
}

func newPlane(w, h int) *plane {
	return &plane{w: w, h: h, pix: make([]float64, w*h)}
}

func planeFromGray(g *image.Gray) *plane {
	w, h := g.Rect.Dx(), g.Rect.Dy()
	p := newPlane(w, h)
	for y := 0; y < h; y++ {
		row := g.Pix[y*g.Stride:]
		for x := 0; x < w; x++ {
			p.pix[y*w+x] = float64(row[x]) / 255
		}
	}
	return p
}

func (p *plane) toGray() *image.Gray {
	g := image.NewGray(image.Rect(0, 0, p.w, p.h))
	for y := 0; y < p.h; y++ {
		out := g.Pix[y*g.Stride:]
		for x := 0; x < p.w; x++ {
			out[x] = saturate(p.pix[y*p.w+x] * 255)
		}
	}
	return g
}
