package utils

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"

	"github.com/MeKo-Tech/vidocr/internal/mempool"
)

// ImageProcessingError represents errors that can occur during image processing.
type ImageProcessingError struct {
	Operation string
	Err       error
}

func (e *ImageProcessingError) Error() string {
	return fmt.Sprintf("image processing error in %s: %v", e.Operation, e.Err)
}

func (e *ImageProcessingError) Unwrap() error { return e.Err }

// CropImageRect crops an image to the given rectangle. The rectangle is
// clamped to the image bounds.
func CropImageRect(img image.Image, rect image.Rectangle) image.Image {
	rect = rect.Intersect(img.Bounds())
	if rect.Empty() {
		return imaging.New(0, 0, color.Transparent)
	}
	return imaging.Crop(img, rect)
}

// Letterbox describes how an image was fitted into a square model input.
type Letterbox struct {
	Scale float64
	PadX  int
	PadY  int
}

// LetterboxImage resizes img to fit size x size keeping the aspect ratio and
// centers it on a gray canvas, the way YOLO models expect their input.
func LetterboxImage(img image.Image, size int) (*image.NRGBA, Letterbox, error) {
	if img == nil {
		return nil, Letterbox{}, &ImageProcessingError{Operation: "letterbox", Err: errors.New("input image is nil")}
	}
	b := img.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 || size <= 0 {
		return nil, Letterbox{}, &ImageProcessingError{
			Operation: "letterbox",
			Err:       fmt.Errorf("invalid dimensions %dx%d to %d", b.Dx(), b.Dy(), size),
		}
	}

	scale := math.Min(float64(size)/float64(b.Dx()), float64(size)/float64(b.Dy()))
	nw := max(1, int(math.Round(float64(b.Dx())*scale)))
	nh := max(1, int(math.Round(float64(b.Dy())*scale)))

	resized := imaging.Resize(img, nw, nh, imaging.Linear)
	canvas := imaging.New(size, size, color.NRGBA{R: 114, G: 114, B: 114, A: 255})
	lb := Letterbox{Scale: scale, PadX: (size - nw) / 2, PadY: (size - nh) / 2}
	canvas = imaging.Paste(canvas, resized, image.Pt(lb.PadX, lb.PadY))
	return canvas, lb, nil
}

// Unmap converts a point from letterboxed model space back to source pixels.
func (l Letterbox) Unmap(x, y float64) (float64, float64) {
	if l.Scale == 0 {
		return x, y
	}
	return (x - float64(l.PadX)) / l.Scale, (y - float64(l.PadY)) / l.Scale
}

// NormalizeCHW converts img to a planar RGB float32 buffer in [0,1] and then
// applies (v - mean) / std per channel. The returned slice has length 3*w*h
// and comes from mempool; callers may hand it back with mempool.PutFloat32.
func NormalizeCHW(img image.Image, mean, std [3]float32) ([]float32, int, int, error) {
	if img == nil {
		return nil, 0, 0, &ImageProcessingError{Operation: "normalize", Err: errors.New("input image is nil")}
	}
	for _, s := range std {
		if s == 0 {
			return nil, 0, 0, &ImageProcessingError{Operation: "normalize", Err: errors.New("std must be non-zero")}
		}
	}

	src := imaging.Clone(img)
	w, h := src.Rect.Dx(), src.Rect.Dy()
	plane := w * h
	out := mempool.GetFloat32(3 * plane)
	for y := 0; y < h; y++ {
		row := src.Pix[y*src.Stride:]
		for x := 0; x < w; x++ {
			i := x * 4
			idx := y*w + x
			out[idx] = (float32(row[i])/255 - mean[0]) / std[0]
			out[plane+idx] = (float32(row[i+1])/255 - mean[1]) / std[1]
			out[2*plane+idx] = (float32(row[i+2])/255 - mean[2]) / std[2]
		}
	}
	return out, w, h, nil
}
