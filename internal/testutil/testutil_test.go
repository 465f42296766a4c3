package testutil

import (
	"context"
	"image"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/vidocr/internal/lineage"
)

func TestGenerateFrame(t *testing.T) {
	cfg := DefaultFrameConfig()
	img := GenerateFrame(cfg)
	assert.Equal(t, image.Rect(0, 0, cfg.Size.Width, cfg.Size.Height), img.Bounds())

	plate := img.SubImage(cfg.Plate)
	assert.Greater(t, MeanGray(plate), MeanGray(img), "plate is brighter than the frame")
}

func TestWriteFrameAndCountFiles(t *testing.T) {
	dir := t.TempDir()
	path := WriteFrame(t, filepath.Join(dir, "nested"), "frame.png")
	assert.True(t, FileExists(path))
	assert.Equal(t, 1, CountFiles(dir))

	img := LoadImage(t, path)
	assert.Equal(t, SmallSize.Width, img.Bounds().Dx())
}

func TestScriptedDetector(t *testing.T) {
	ctx := context.Background()
	d := &ScriptedDetector{
		Script: [][]lineage.Detection{{Det(0, 0, 1, 1, 0, 0.9)}, nil},
		FailOn: map[int]bool{2: true},
	}

	got, err := d.Detect(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, got, 1)

	got, err = d.Detect(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = d.Detect(ctx, nil)
	assert.ErrorIs(t, err, ErrScripted)

	got, err = d.Detect(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Equal(t, 4, d.Calls())
}

func TestFixedRecognizer(t *testing.T) {
	ctx := context.Background()
	r := &FixedRecognizer{Texts: []string{"AB", "XYZ"}}

	first, err := r.Recognize(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, "AB", first.Text)
	assert.Len(t, first.Confidences, 2)

	for i := 0; i < 2; i++ {
		next, err := r.Recognize(ctx, nil)
		require.NoError(t, err)
		assert.Equal(t, "XYZ", next.Text)
	}
	assert.Equal(t, 3, r.Calls())
}

func TestIdentityTransform(t *testing.T) {
	src := CreateTestImage(4, 3, image.White.C)
	out, err := IdentityTransform{}.Apply(src)
	require.NoError(t, err)
	assert.Equal(t, src.Bounds(), out.Bounds())

	_, err = IdentityTransform{Err: ErrScripted}.Apply(src)
	assert.ErrorIs(t, err, ErrScripted)
}
