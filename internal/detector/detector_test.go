package detector

import (
	"context"
	"errors"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/vidocr/internal/lineage"
	"github.com/MeKo-Tech/vidocr/internal/onnx"
	"github.com/MeKo-Tech/vidocr/internal/testutil"
)

// yoloOutput builds a [1, 4+C, N] output from per-anchor rows.
func yoloOutput(rows [][]float32) onnx.Output {
	n := len(rows[0])
	var data []float32
	for _, r := range rows {
		data = append(data, r...)
	}
	return onnx.Output{Name: "output0", Shape: []int64{1, int64(len(rows)), int64(n)}, Float32: data}
}

func boxNear(t *testing.T, want, got lineage.Box) {
	t.Helper()
	assert.InDelta(t, want.X1, got.X1, 1e-3)
	assert.InDelta(t, want.Y1, got.Y1, 1e-3)
	assert.InDelta(t, want.X2, got.X2, 1e-3)
	assert.InDelta(t, want.Y2, got.Y2, 1e-3)
}

func TestYOLOConfigValidate(t *testing.T) {
	require.NoError(t, DefaultYOLOConfig().Validate())

	cfg := DefaultYOLOConfig()
	cfg.InputSize = 100
	assert.Error(t, cfg.Validate())

	cfg = DefaultYOLOConfig()
	cfg.ConfThreshold = 1.5
	assert.Error(t, cfg.Validate())

	cfg = DefaultYOLOConfig()
	cfg.NMS.Method = "fuzzy"
	assert.Error(t, cfg.Validate())
}

func TestDecodeYOLO(t *testing.T) {
	out := yoloOutput([][]float32{
		{32, 10}, // cx
		{32, 10}, // cy
		{20, 4},  // w
		{10, 4},  // h
		{0.1, 0.3},
		{0.9, 0.2},
	})
	dets, err := DecodeYOLO(out, 0.5)
	require.NoError(t, err)
	require.Len(t, dets, 1)
	assert.Equal(t, 1, dets[0].ClassID)
	assert.InDelta(t, 0.9, dets[0].Confidence, 1e-6)
	boxNear(t, lineage.Box{X1: 22, Y1: 27, X2: 42, Y2: 37}, dets[0].Box)

	_, err = DecodeYOLO(onnx.Output{Shape: []int64{1, 3, 2}, Float32: make([]float32, 6)}, 0.5)
	assert.ErrorContains(t, err, "unexpected YOLO output shape")

	_, err = DecodeYOLO(onnx.Output{Shape: []int64{1, 6, 2}, Float32: make([]float32, 5)}, 0.5)
	assert.ErrorContains(t, err, "needs 12")
}

func TestYOLODetect(t *testing.T) {
	runner := &testutil.ScriptedRunner{Outputs: []onnx.Output{yoloOutput([][]float32{
		{32, 33, 10},
		{32, 32, 10},
		{20, 20, 4},
		{10, 10, 4},
		{0.1, 0.2, 0.3},
		{0.9, 0.8, 0.2},
	})}}
	cfg := DefaultYOLOConfig()
	cfg.InputSize = 64
	d := NewYOLOWithRunner(cfg, runner, []string{"car", "plate"})

	img := testutil.CreateTestImage(320, 160, color.White)
	dets, err := d.Detect(context.Background(), img)
	require.NoError(t, err)

	require.Len(t, dets, 1, "the shifted duplicate is suppressed")
	assert.Equal(t, "plate", dets[0].Label)
	boxNear(t, lineage.Box{X1: 110, Y1: 55, X2: 210, Y2: 105}, dets[0].Box)

	inputs := runner.Inputs()
	require.Len(t, inputs, 1)
	assert.Equal(t, []int64{1, 3, 64, 64}, inputs[0][0].Shape)

	require.NoError(t, d.Close())
	assert.True(t, runner.Closed())
}

func TestYOLODetectErrors(t *testing.T) {
	cfg := DefaultYOLOConfig()
	cfg.InputSize = 64
	img := testutil.CreateTestImage(10, 10, color.White)

	failing := NewYOLOWithRunner(cfg, &testutil.ScriptedRunner{Err: errors.New("session is closed")}, nil)
	_, err := failing.Detect(context.Background(), img)
	assert.ErrorContains(t, err, "session is closed")

	empty := NewYOLOWithRunner(cfg, &testutil.ScriptedRunner{}, nil)
	_, err = empty.Detect(context.Background(), img)
	assert.ErrorContains(t, err, "no outputs")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = empty.Detect(ctx, img)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestYOLOMaxDetections(t *testing.T) {
	runner := &testutil.ScriptedRunner{Outputs: []onnx.Output{yoloOutput([][]float32{
		{8, 40},
		{8, 40},
		{8, 8},
		{8, 8},
		{0.7, 0.9},
	})}}
	cfg := DefaultYOLOConfig()
	cfg.InputSize = 64
	cfg.MaxDetections = 1
	d := NewYOLOWithRunner(cfg, runner, nil)

	dets, err := d.Detect(context.Background(), testutil.CreateTestImage(64, 64, color.White))
	require.NoError(t, err)
	require.Len(t, dets, 1)
	assert.InDelta(t, 0.9, dets[0].Confidence, 1e-6)
	assert.Empty(t, dets[0].Label)
}

func TestNonMaxSuppression(t *testing.T) {
	dets := []lineage.Detection{
		testutil.Det(0, 0, 10, 10, 0, 0.6),
		testutil.Det(1, 1, 11, 11, 0, 0.9),
		testutil.Det(50, 50, 60, 60, 0, 0.5),
	}
	kept := NonMaxSuppression(dets, 0.45)
	require.Len(t, kept, 2)
	assert.InDelta(t, 0.9, kept[0].Confidence, 1e-9)
	assert.InDelta(t, 0.5, kept[1].Confidence, 1e-9)
	assert.InDelta(t, 0.6, dets[0].Confidence, 1e-9, "input is not reordered")
}

func TestClassWiseNMSKeepsOtherClasses(t *testing.T) {
	dets := []lineage.Detection{
		testutil.Det(0, 0, 10, 10, 0, 0.6),
		testutil.Det(0, 0, 10, 10, 1, 0.7),
		testutil.Det(0, 0, 10, 10, 1, 0.8),
	}
	kept := ClassWiseNMS(dets, DefaultNMSConfig())
	require.Len(t, kept, 2)
	assert.Equal(t, 1, kept[0].ClassID)
	assert.Equal(t, 0, kept[1].ClassID)
}

func TestSoftNMS(t *testing.T) {
	dets := []lineage.Detection{
		testutil.Det(0, 0, 10, 10, 0, 0.9),
		testutil.Det(0, 0, 10, 9, 0, 0.8),
		testutil.Det(40, 40, 50, 50, 0, 0.3),
	}

	gauss := SoftNonMaxSuppression(dets, NMSGaussian, 0.45, 0.5, 0.1)
	require.Len(t, gauss, 3)
	assert.Less(t, gauss[1].Confidence, 0.8, "the overlapping box is decayed")
	assert.InDelta(t, 0.3, gauss[1].Confidence, 1e-9, "the distant box keeps its score and now ranks second")

	linear := SoftNonMaxSuppression(dets, NMSLinear, 0.45, 0, 0.1)
	require.Len(t, linear, 2, "linear decay by 1-IoU drops the duplicate below the threshold")

	cfg := NMSConfig{Method: NMSGaussian, IoUThreshold: 0.45, Sigma: 0}
	assert.Error(t, cfg.Validate())
}

func TestLoadLabels(t *testing.T) {
	labels, err := LoadLabels("")
	require.NoError(t, err)
	assert.Nil(t, labels)

	path := filepath.Join(t.TempDir(), "labels.txt")
	require.NoError(t, os.WriteFile(path, []byte("# classes\ncar\n\n plate \n"), 0o600))
	labels, err = LoadLabels(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"car", "plate"}, labels)
	assert.Equal(t, "plate", label(labels, 1))
	assert.Empty(t, label(labels, 2))
	assert.Empty(t, label(labels, -1))

	_, err = LoadLabels(filepath.Join(t.TempDir(), "missing.txt"))
	assert.Error(t, err)
}

func TestRegionConfigValidate(t *testing.T) {
	require.NoError(t, DefaultRegionConfig().Validate())
	cfg := DefaultRegionConfig()
	cfg.MaxSize = 10
	assert.Error(t, cfg.Validate())
	cfg = DefaultRegionConfig()
	cfg.ScoreThreshold = -0.1
	assert.Error(t, cfg.Validate())
}

func TestResizeScale(t *testing.T) {
	assert.InDelta(t, 2.0, resizeScale(100, 50, 100, 400), 1e-9)
	assert.InDelta(t, 4.0, resizeScale(100, 50, 800, 400), 1e-9, "long side capped")
}

func TestRegionDetect(t *testing.T) {
	runner := &testutil.ScriptedRunner{Outputs: []onnx.Output{
		{Name: "scores", Shape: []int64{2}, Float32: []float32{0.95, 0.3}},
		{Name: "pred_boxes", Shape: []int64{2, 4}, Float32: []float32{20, 10, 60, 30, 0, 0, 5, 5}},
		{Name: "pred_classes", Shape: []int64{2}, Int64: []int64{2, 0}},
	}}
	d := NewRegionWithRunner(RegionConfig{ScoreThreshold: 0.5, MinSize: 100, MaxSize: 400}, runner, true)

	img := testutil.CreateTestImage(100, 50, color.RGBA{R: 10, G: 20, B: 30, A: 255})
	dets, err := d.Detect(context.Background(), img)
	require.NoError(t, err)
	require.Len(t, dets, 1)
	assert.Equal(t, 2, dets[0].ClassID)
	boxNear(t, lineage.Box{X1: 10, Y1: 5, X2: 30, Y2: 15}, dets[0].Box)

	in := runner.Inputs()[0][0]
	assert.Equal(t, []int64{1, 3, 100, 200}, in.Shape)
	assert.InDelta(t, 30, in.Data[0], 1e-6, "blue plane first")
	assert.InDelta(t, 10, in.Data[2*100*200], 1e-6, "red plane last")
}

func TestRegionDetectEmptyImage(t *testing.T) {
	d := NewRegionWithRunner(DefaultRegionConfig(), &testutil.ScriptedRunner{}, false)
	_, err := d.Detect(context.Background(), image.NewRGBA(image.Rectangle{}))
	assert.Error(t, err)
}

func TestDecodeRegionsFallsBackToOutputOrder(t *testing.T) {
	outputs := []onnx.Output{
		{Name: "o1", Float32: []float32{1, 2, 3, 4}},
		{Name: "o2", Float32: []float32{3}},
		{Name: "o3", Float32: []float32{0.7}},
	}
	dets, err := DecodeRegions(outputs, 0.5)
	require.NoError(t, err)
	require.Len(t, dets, 1)
	assert.Equal(t, 3, dets[0].ClassID)
	assert.Equal(t, lineage.Box{X1: 1, Y1: 2, X2: 3, Y2: 4}, dets[0].Box)

	_, err = DecodeRegions(outputs[:2], 0.5)
	assert.Error(t, err)

	outputs[0].Float32 = []float32{1, 2, 3}
	_, err = DecodeRegions(outputs, 0.5)
	assert.ErrorContains(t, err, "inconsistent outputs")
}
