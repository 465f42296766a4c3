package onnx

import (
	"errors"
	"fmt"
)

// Tensor represents a simple float32 tensor prepared for ONNX input.
// Data layout is row-major, with NCHW for images.
type Tensor struct {
	Data  []float32
	Shape []int64 // e.g., [N, C, H, W]
}

// NewImageTensor builds a single-image tensor with shape [1, C, H, W].
// data must be length C*H*W in NCHW order.
func NewImageTensor(data []float32, c, h, w int) (Tensor, error) {
	if data == nil {
		return Tensor{}, errors.New("nil data")
	}
	expected := c * h * w
	if len(data) != expected {
		return Tensor{}, fmt.Errorf("unexpected data length: got %d, want %d", len(data), expected)
	}
	shape := []int64{1, int64(c), int64(h), int64(w)}
	return Tensor{Data: data, Shape: shape}, nil
}

// ValidateNCHW ensures a shape is [N, C, H, W] with positive dimensions.
func ValidateNCHW(shape []int64) error {
	if len(shape) != 4 {
		return fmt.Errorf("shape rank %d != 4", len(shape))
	}
	for i, v := range shape {
		if v <= 0 {
			return fmt.Errorf("dimension %d must be > 0, got %d", i, v)
		}
	}
	return nil
}

// Output is one model output copied out of onnxruntime memory. Exactly one of
// Float32 and Int64 is set, depending on the output element type.
type Output struct {
	Name    string
	Shape   []int64
	Float32 []float32
	Int64   []int64
}

// Len returns the number of elements.
func (o Output) Len() int {
	if o.Float32 != nil {
		return len(o.Float32)
	}
	return len(o.Int64)
}

// Floats returns the elements as float64 whatever the element type.
func (o Output) Floats() []float64 {
	out := make([]float64, 0, o.Len())
	for _, v := range o.Float32 {
		out = append(out, float64(v))
	}
	for _, v := range o.Int64 {
		out = append(out, float64(v))
	}
	return out
}

// Ints returns the elements truncated to int whatever the element type.
func (o Output) Ints() []int {
	out := make([]int, 0, o.Len())
	for _, v := range o.Float32 {
		out = append(out, int(v))
	}
	for _, v := range o.Int64 {
		out = append(out, int(v))
	}
	return out
}

// Runner executes a model. Session is the onnxruntime implementation; tests
// substitute scripted runners.
type Runner interface {
	// Run feeds inputs in the model's input order and returns every output in
	// the model's output order.
	Run(inputs ...Tensor) ([]Output, error)
	Close() error
}
