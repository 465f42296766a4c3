// Package stage implements the pipeline stage executors and the fan-out
// coordinator that applies them across variable-cardinality inputs.
//
// Every executor follows the same contract: validate the input identifier,
// resolve its record, check that the backing file still exists, invoke the
// collaborator, then write the output file and only afterwards insert the
// record that points at it. Failures are reported as a Result, never as a
// panic or a bare error.
package stage

import (
	"context"
	"image"

	"github.com/MeKo-Tech/vidocr/internal/lineage"
)

// Cardinality is the number of outputs an executor produces per input.
type Cardinality int

const (
	// ExactlyOne executors produce one record per successful call.
	ExactlyOne Cardinality = iota
	// ZeroOrMore executors may legitimately produce nothing, signaled by
	// StatusEmpty, or any number of records.
	ZeroOrMore
)

func (c Cardinality) String() string {
	if c == ZeroOrMore {
		return "zero-or-more"
	}
	return "exactly-one"
}

// Executor runs one stage on a single input identifier.
type Executor interface {
	Stage() lineage.Stage
	Cardinality() Cardinality
	Execute(ctx context.Context, id int64) Result
}

// Frame is one decoded frame of an ingested video.
type Frame struct {
	Index int
	Image image.Image
}

// FrameSource decodes the frames of a stored video, calling fn for each one
// in order. Returning an error from fn stops iteration with that error.
type FrameSource interface {
	Frames(ctx context.Context, path string, fn func(Frame) error) error
}

// ObjectDetector finds regions in an image. Both the detect stage (YOLO)
// and the refine stage (region detector) use it.
type ObjectDetector interface {
	Detect(ctx context.Context, img image.Image) ([]lineage.Detection, error)
}

// ImageTransform is a pure, deterministic image to image function.
type ImageTransform interface {
	Apply(img image.Image) (image.Image, error)
}

// ImageTransformFunc adapts a function to ImageTransform.
type ImageTransformFunc func(image.Image) (image.Image, error)

// Apply calls f(img).
func (f ImageTransformFunc) Apply(img image.Image) (image.Image, error) { return f(img) }

// TextRecognizer reads the text in an image.
type TextRecognizer interface {
	Recognize(ctx context.Context, img image.Image) (lineage.Recognition, error)
}
