package detector

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"math"
	"strings"

	"github.com/disintegration/imaging"

	"github.com/MeKo-Tech/vidocr/internal/lineage"
	"github.com/MeKo-Tech/vidocr/internal/mempool"
	"github.com/MeKo-Tech/vidocr/internal/onnx"
)

// RegionConfig holds configuration for the text region detector.
type RegionConfig struct {
	ModelPath      string  // Path to the exported ONNX model
	ScoreThreshold float64 // Minimum instance score (default: 0.5)
	MinSize        int     // Shorter image side after resize (default: 800)
	MaxSize        int     // Cap on the longer side after resize (default: 1333)
}

// DefaultRegionConfig returns the region detector defaults.
func DefaultRegionConfig() RegionConfig {
	return RegionConfig{ScoreThreshold: 0.5, MinSize: 800, MaxSize: 1333}
}

// Validate checks the configuration.
func (c RegionConfig) Validate() error {
	if c.ScoreThreshold < 0 || c.ScoreThreshold > 1 {
		return fmt.Errorf("score threshold must be in [0,1], got %v", c.ScoreThreshold)
	}
	if c.MinSize <= 0 || c.MaxSize < c.MinSize {
		return fmt.Errorf("resize bounds must satisfy 0 < min_size <= max_size, got %d and %d", c.MinSize, c.MaxSize)
	}
	return nil
}

// Region detects text regions with a Detectron2 style export. The model takes
// a BGR float image in [0,255] and returns boxes [N,4] in input pixels,
// classes [N] and scores [N]. Outputs are matched by name and fall back to
// that order.
type Region struct {
	cfg       RegionConfig
	runner    onnx.Runner
	batchAxis bool
}

// NewRegion loads the model.
func NewRegion(cfg RegionConfig, rt onnx.Config) (*Region, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	session, err := onnx.OpenSession(cfg.ModelPath, rt)
	if err != nil {
		return nil, fmt.Errorf("region detector: %w", err)
	}
	batchAxis := len(session.InputShape()) == 4
	slog.Debug("Region detector initialized", "model_path", cfg.ModelPath, "outputs", session.OutputNames(),
		"batch_axis", batchAxis, "score_threshold", cfg.ScoreThreshold)
	return NewRegionWithRunner(cfg, session, batchAxis), nil
}

// NewRegionWithRunner builds a detector around an already loaded model.
// batchAxis reports whether the model input is [1,3,H,W] rather than [3,H,W].
func NewRegionWithRunner(cfg RegionConfig, runner onnx.Runner, batchAxis bool) *Region {
	return &Region{cfg: cfg, runner: runner, batchAxis: batchAxis}
}

// Close releases the model.
func (d *Region) Close() error { return d.runner.Close() }

// Detect implements the region detector used by the refine stage.
func (d *Region) Detect(ctx context.Context, img image.Image) ([]lineage.Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b := img.Bounds()
	if b.Empty() {
		return nil, errors.New("region detector: empty image")
	}

	scale := resizeScale(b.Dx(), b.Dy(), d.cfg.MinSize, d.cfg.MaxSize)
	w := max(1, int(math.Round(float64(b.Dx())*scale)))
	h := max(1, int(math.Round(float64(b.Dy())*scale)))
	resized := imaging.Resize(img, w, h, imaging.Linear)

	input := onnx.Tensor{Data: bgrCHW(resized), Shape: []int64{3, int64(h), int64(w)}}
	defer mempool.PutFloat32(input.Data)
	if d.batchAxis {
		input.Shape = append([]int64{1}, input.Shape...)
	}
	outputs, err := d.runner.Run(input)
	if err != nil {
		return nil, fmt.Errorf("region detector: %w", err)
	}

	dets, err := DecodeRegions(outputs, d.cfg.ScoreThreshold)
	if err != nil {
		return nil, err
	}
	sx := float64(b.Dx()) / float64(w)
	sy := float64(b.Dy()) / float64(h)
	for i := range dets {
		box := dets[i].Box
		dets[i].Box = lineage.Box{
			X1: min(float64(b.Dx()), max(0, box.X1*sx)) + float64(b.Min.X),
			Y1: min(float64(b.Dy()), max(0, box.Y1*sy)) + float64(b.Min.Y),
			X2: min(float64(b.Dx()), max(0, box.X2*sx)) + float64(b.Min.X),
			Y2: min(float64(b.Dy()), max(0, box.Y2*sy)) + float64(b.Min.Y),
		}
	}
	return dets, nil
}

// resizeScale scales the shorter side to minSize unless that pushes the
// longer side past maxSize.
func resizeScale(w, h, minSize, maxSize int) float64 {
	short, long := float64(min(w, h)), float64(max(w, h))
	scale := float64(minSize) / short
	if long*scale > float64(maxSize) {
		scale = float64(maxSize) / long
	}
	return scale
}

// bgrCHW lays img out as planar B, G, R floats in [0,255].
func bgrCHW(img *image.NRGBA) []float32 {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	plane := w * h
	out := mempool.GetFloat32(3 * plane)
	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride:]
		for x := 0; x < w; x++ {
			i, idx := x*4, y*w+x
			out[idx] = float32(row[i+2])
			out[plane+idx] = float32(row[i+1])
			out[2*plane+idx] = float32(row[i])
		}
	}
	return out
}

// DecodeRegions reads boxes, classes and scores from the model outputs and
// keeps instances scoring at least threshold, in model order.
func DecodeRegions(outputs []onnx.Output, threshold float64) ([]lineage.Detection, error) {
	boxes, classes, scores, err := pickRegionOutputs(outputs)
	if err != nil {
		return nil, err
	}
	n := scores.Len()
	if boxes.Len() != 4*n || classes.Len() != n {
		return nil, fmt.Errorf("region detector: inconsistent outputs: %d box values, %d classes, %d scores",
			boxes.Len(), classes.Len(), n)
	}

	coords := boxes.Floats()
	cls := classes.Ints()
	sc := scores.Floats()
	var dets []lineage.Detection
	for i := 0; i < n; i++ {
		if sc[i] < threshold {
			continue
		}
		dets = append(dets, lineage.Detection{
			Box:        lineage.Box{X1: coords[4*i], Y1: coords[4*i+1], X2: coords[4*i+2], Y2: coords[4*i+3]},
			ClassID:    cls[i],
			Confidence: sc[i],
		})
	}
	return dets, nil
}

func pickRegionOutputs(outputs []onnx.Output) (onnx.Output, onnx.Output, onnx.Output, error) {
	var boxes, classes, scores *onnx.Output
	for i := range outputs {
		name := strings.ToLower(outputs[i].Name)
		switch {
		case strings.Contains(name, "box"):
			boxes = &outputs[i]
		case strings.Contains(name, "score"):
			scores = &outputs[i]
		case strings.Contains(name, "class"), strings.Contains(name, "label"):
			classes = &outputs[i]
		}
	}
	if boxes != nil && classes != nil && scores != nil {
		return *boxes, *classes, *scores, nil
	}
	if len(outputs) < 3 {
		return onnx.Output{}, onnx.Output{}, onnx.Output{},
			fmt.Errorf("region detector: expected boxes, classes and scores outputs, got %d outputs", len(outputs))
	}
	return outputs[0], outputs[1], outputs[2], nil
}
