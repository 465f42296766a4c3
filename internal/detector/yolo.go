// Package detector runs the two detection models of the pipeline: a YOLO
// object detector over video frames and a region detector over preprocessed
// crops. Both return boxes in source image pixels.
package detector

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"time"

	"github.com/MeKo-Tech/vidocr/internal/lineage"
	"github.com/MeKo-Tech/vidocr/internal/mempool"
	"github.com/MeKo-Tech/vidocr/internal/onnx"
	"github.com/MeKo-Tech/vidocr/internal/utils"
)

// YOLOConfig holds configuration for the object detector.
type YOLOConfig struct {
	ModelPath     string    // Path to the ONNX model
	LabelsPath    string    // Optional class names file
	InputSize     int       // Square model input side (default: 640)
	ConfThreshold float64   // Minimum class score (default: 0.5)
	MaxDetections int       // Cap per frame after NMS, 0 = no cap
	NMS           NMSConfig // Class-wise duplicate suppression
}

// DefaultYOLOConfig returns the object detector defaults.
func DefaultYOLOConfig() YOLOConfig {
	return YOLOConfig{
		InputSize:     640,
		ConfThreshold: 0.5,
		MaxDetections: 300,
		NMS:           DefaultNMSConfig(),
	}
}

// Validate checks the configuration.
func (c YOLOConfig) Validate() error {
	if c.InputSize < 32 || c.InputSize%32 != 0 {
		return fmt.Errorf("input size must be a positive multiple of 32, got %d", c.InputSize)
	}
	if c.ConfThreshold < 0 || c.ConfThreshold > 1 {
		return fmt.Errorf("confidence threshold must be in [0,1], got %v", c.ConfThreshold)
	}
	if c.MaxDetections < 0 {
		return fmt.Errorf("max detections must be non-negative, got %d", c.MaxDetections)
	}
	return c.NMS.Validate()
}

// YOLO detects objects with a YOLOv8/v9 style model whose single output has
// shape [1, 4+C, N]: per anchor a center box followed by C class scores.
type YOLO struct {
	cfg    YOLOConfig
	labels []string
	runner onnx.Runner
}

// NewYOLO loads the model and labels.
func NewYOLO(cfg YOLOConfig, rt onnx.Config) (*YOLO, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	labels, err := LoadLabels(cfg.LabelsPath)
	if err != nil {
		return nil, err
	}
	session, err := onnx.OpenSession(cfg.ModelPath, rt)
	if err != nil {
		return nil, fmt.Errorf("object detector: %w", err)
	}
	slog.Debug("Object detector initialized", "model_path", cfg.ModelPath, "input_size", cfg.InputSize,
		"labels", len(labels), "conf", cfg.ConfThreshold, "iou", cfg.NMS.IoUThreshold)
	return NewYOLOWithRunner(cfg, session, labels), nil
}

// NewYOLOWithRunner builds a detector around an already loaded model.
func NewYOLOWithRunner(cfg YOLOConfig, runner onnx.Runner, labels []string) *YOLO {
	return &YOLO{cfg: cfg, labels: labels, runner: runner}
}

// Close releases the model.
func (d *YOLO) Close() error { return d.runner.Close() }

// Detect implements the object detector used by the detect stage.
func (d *YOLO) Detect(ctx context.Context, img image.Image) ([]lineage.Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := time.Now()

	letterboxed, lb, err := utils.LetterboxImage(img, d.cfg.InputSize)
	if err != nil {
		return nil, err
	}
	data, w, h, err := utils.NormalizeCHW(letterboxed, [3]float32{0, 0, 0}, [3]float32{1, 1, 1})
	if err != nil {
		return nil, err
	}
	defer mempool.PutFloat32(data)
	input, err := onnx.NewImageTensor(data, 3, h, w)
	if err != nil {
		return nil, err
	}

	outputs, err := d.runner.Run(input)
	if err != nil {
		return nil, fmt.Errorf("object detector: %w", err)
	}
	if len(outputs) == 0 {
		return nil, errors.New("object detector: model returned no outputs")
	}

	raw, err := DecodeYOLO(outputs[0], d.cfg.ConfThreshold)
	if err != nil {
		return nil, err
	}

	bounds := img.Bounds()
	for i := range raw {
		raw[i].Box = unletterbox(raw[i].Box, lb, bounds)
		raw[i].Label = label(d.labels, raw[i].ClassID)
	}
	dets := ClassWiseNMS(raw, d.cfg.NMS)
	if d.cfg.MaxDetections > 0 && len(dets) > d.cfg.MaxDetections {
		dets = dets[:d.cfg.MaxDetections]
	}

	slog.Debug("Objects detected", "candidates", len(raw), "kept", len(dets), "duration", time.Since(start))
	return dets, nil
}

// DecodeYOLO turns a [1, 4+C, N] output into detections in model input
// coordinates. For each anchor the best class is taken; anchors below conf
// are dropped.
func DecodeYOLO(out onnx.Output, conf float64) ([]lineage.Detection, error) {
	if len(out.Shape) != 3 || out.Shape[0] != 1 || out.Shape[1] < 5 {
		return nil, fmt.Errorf("unexpected YOLO output shape %v, want [1, 4+C, N]", out.Shape)
	}
	rows, n := int(out.Shape[1]), int(out.Shape[2])
	if len(out.Float32) != rows*n {
		return nil, fmt.Errorf("YOLO output has %d values, shape %v needs %d", len(out.Float32), out.Shape, rows*n)
	}
	data := out.Float32
	at := func(row, col int) float64 { return float64(data[row*n+col]) }

	var dets []lineage.Detection
	for i := 0; i < n; i++ {
		best, score := -1, conf
		for c := 4; c < rows; c++ {
			if s := at(c, i); s >= score {
				best, score = c-4, s
			}
		}
		if best < 0 {
			continue
		}
		cx, cy, w, h := at(0, i), at(1, i), at(2, i), at(3, i)
		dets = append(dets, lineage.Detection{
			Box:        lineage.Box{X1: cx - w/2, Y1: cy - h/2, X2: cx + w/2, Y2: cy + h/2},
			ClassID:    best,
			Confidence: score,
		})
	}
	return dets, nil
}

// unletterbox maps a box from model space to source pixels, clamped to bounds.
func unletterbox(b lineage.Box, lb utils.Letterbox, bounds image.Rectangle) lineage.Box {
	x1, y1 := lb.Unmap(b.X1, b.Y1)
	x2, y2 := lb.Unmap(b.X2, b.Y2)
	clamp := func(v float64, lo, hi int) float64 { return min(float64(hi), max(float64(lo), v)) }
	return lineage.Box{
		X1: clamp(x1+float64(bounds.Min.X), bounds.Min.X, bounds.Max.X),
		Y1: clamp(y1+float64(bounds.Min.Y), bounds.Min.Y, bounds.Max.Y),
		X2: clamp(x2+float64(bounds.Min.X), bounds.Min.X, bounds.Max.X),
		Y2: clamp(y2+float64(bounds.Min.Y), bounds.Min.Y, bounds.Max.Y),
	}
}
