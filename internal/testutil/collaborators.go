package testutil

import (
	"context"
	"errors"
	"image"
	"slices"
	"sync"

	"github.com/disintegration/imaging"

	"github.com/MeKo-Tech/vidocr/internal/lineage"
	"github.com/MeKo-Tech/vidocr/internal/onnx"
)

// ErrScripted is the error returned by scripted collaborators when told to fail.
var ErrScripted = errors.New("scripted collaborator failure")

// Det builds a detection.
func Det(x1, y1, x2, y2 float64, class int, conf float64) lineage.Detection {
	return lineage.Detection{
		Box:        lineage.Box{X1: x1, Y1: y1, X2: x2, Y2: y2},
		ClassID:    class,
		Confidence: conf,
	}
}

// ScriptedDetector answers successive Detect calls from Script. Calls beyond
// the script find nothing. A call whose index is in FailOn returns ErrScripted.
type ScriptedDetector struct {
	Script [][]lineage.Detection
	FailOn map[int]bool

	mu    sync.Mutex
	calls int
}

// Detect returns the next scripted answer.
func (d *ScriptedDetector) Detect(_ context.Context, _ image.Image) ([]lineage.Detection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	i := d.calls
	d.calls++
	if d.FailOn[i] {
		return nil, ErrScripted
	}
	if i < len(d.Script) {
		return d.Script[i], nil
	}
	return nil, nil
}

// Calls returns the number of Detect calls so far.
func (d *ScriptedDetector) Calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

// IdentityTransform returns a copy of its input, or Err when set.
type IdentityTransform struct {
	Err error
}

// Apply implements the image transform contract.
func (t IdentityTransform) Apply(img image.Image) (image.Image, error) {
	if t.Err != nil {
		return nil, t.Err
	}
	return imaging.Clone(img), nil
}

// FixedRecognizer returns Texts in order, repeating the last one. Every
// character gets confidence 0.9.
type FixedRecognizer struct {
	Texts []string
	Err   error

	mu    sync.Mutex
	calls int
}

// Recognize implements the text recognizer contract.
func (r *FixedRecognizer) Recognize(_ context.Context, _ image.Image) (lineage.Recognition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.Err != nil {
		return lineage.Recognition{}, r.Err
	}
	text := ""
	if len(r.Texts) > 0 {
		text = r.Texts[min(r.calls, len(r.Texts)-1)]
	}
	r.calls++

	conf := make([]float64, 0, len(text))
	for range []rune(text) {
		conf = append(conf, 0.9)
	}
	return lineage.Recognition{Text: text, RawText: text, Confidences: conf}, nil
}

// Calls returns the number of Recognize calls so far.
func (r *FixedRecognizer) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

// ScriptedRunner is an onnx.Runner that returns canned outputs and records
// the inputs it was given.
type ScriptedRunner struct {
	Outputs []onnx.Output
	Err     error

	mu     sync.Mutex
	inputs [][]onnx.Tensor
	closed bool
}

// Run records inputs and returns Outputs or Err.
func (r *ScriptedRunner) Run(inputs ...onnx.Tensor) ([]onnx.Output, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	// Input buffers are pooled and reused once Run returns.
	recorded := make([]onnx.Tensor, len(inputs))
	for i, t := range inputs {
		recorded[i] = onnx.Tensor{Data: slices.Clone(t.Data), Shape: slices.Clone(t.Shape)}
	}
	r.inputs = append(r.inputs, recorded)
	if r.Err != nil {
		return nil, r.Err
	}
	return r.Outputs, nil
}

// Close marks the runner closed.
func (r *ScriptedRunner) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

// Inputs returns the inputs of every Run call so far.
func (r *ScriptedRunner) Inputs() [][]onnx.Tensor {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]onnx.Tensor(nil), r.inputs...)
}

// Closed reports whether Close was called.
func (r *ScriptedRunner) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}
