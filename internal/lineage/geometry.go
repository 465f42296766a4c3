package lineage

import (
	"image"
	"math"
)

// Box is an axis-aligned box in source image pixel coordinates.
type Box struct {
	X1 float64 `json:"x1" yaml:"x1"`
	Y1 float64 `json:"y1" yaml:"y1"`
	X2 float64 `json:"x2" yaml:"x2"`
	Y2 float64 `json:"y2" yaml:"y2"`
}

// Width returns the box width, never negative.
func (b Box) Width() float64 { return math.Max(0, b.X2-b.X1) }

// Height returns the box height, never negative.
func (b Box) Height() float64 { return math.Max(0, b.Y2-b.Y1) }

// Area returns the box area.
func (b Box) Area() float64 { return b.Width() * b.Height() }

// Scale multiplies the box size by gain around its center and then grows it
// by pad pixels on each side. The result is rounded outwards and clamped to
// bounds. An empty rectangle is returned when nothing remains after clamping.
func (b Box) Scale(gain float64, pad int, bounds image.Rectangle) image.Rectangle {
	if gain <= 0 {
		gain = 1
	}
	cx := (b.X1 + b.X2) / 2
	cy := (b.Y1 + b.Y2) / 2
	hw := b.Width()*gain/2 + float64(pad)
	hh := b.Height()*gain/2 + float64(pad)

	r := image.Rect(
		int(math.Floor(cx-hw)),
		int(math.Floor(cy-hh)),
		int(math.Ceil(cx+hw)),
		int(math.Ceil(cy+hh)),
	)
	return r.Intersect(bounds)
}

// IoU returns the intersection over union of two boxes.
func (b Box) IoU(o Box) float64 {
	ix1 := math.Max(b.X1, o.X1)
	iy1 := math.Max(b.Y1, o.Y1)
	ix2 := math.Min(b.X2, o.X2)
	iy2 := math.Min(b.Y2, o.Y2)
	inter := math.Max(0, ix2-ix1) * math.Max(0, iy2-iy1)
	union := b.Area() + o.Area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// Detection is one result of an object or region detector.
type Detection struct {
	Box        Box     `json:"box"`
	ClassID    int     `json:"class_id"`
	Label      string  `json:"label,omitempty"`
	Confidence float64 `json:"confidence"`
}

// Recognition is the output of a text recognizer for one image.
type Recognition struct {
	Text        string    `json:"text"`
	RawText     string    `json:"raw_text"`
	Confidences []float64 `json:"confidences"`
}

// MeanConfidence averages the per-character confidences. Empty text yields 0.
func (r Recognition) MeanConfidence() float64 {
	if len(r.Confidences) == 0 {
		return 0
	}
	var sum float64
	for _, c := range r.Confidences {
		sum += c
	}
	return sum / float64(len(r.Confidences))
}
