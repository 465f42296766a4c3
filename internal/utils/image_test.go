package utils

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func uniform(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func TestIsSupportedImage(t *testing.T) {
	assert.True(t, IsSupportedImage("a.PNG"))
	assert.True(t, IsSupportedImage("dir/b.webp"))
	assert.False(t, IsSupportedImage("clip.mp4"))
	assert.False(t, IsSupportedImage("noext"))
}

func TestSaveAndLoadImage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "out.png")
	require.NoError(t, SaveImage(path, uniform(7, 5, color.RGBA{R: 200, A: 255})))

	img, meta, err := LoadImage(path)
	require.NoError(t, err)
	assert.Equal(t, "png", meta.Format)
	assert.Equal(t, 7, meta.Width)
	assert.Equal(t, 5, meta.Height)
	assert.Positive(t, meta.SizeBytes)
	r, _, _, _ := img.At(3, 2).RGBA()
	assert.Equal(t, uint32(200), r>>8)
}

func TestSaveImageRefusesToOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.png")
	require.NoError(t, SaveImage(path, uniform(2, 2, color.White)))
	err := SaveImage(path, uniform(3, 3, color.Black))
	require.Error(t, err)

	_, meta, err := LoadImage(path)
	require.NoError(t, err)
	assert.Equal(t, 2, meta.Width, "the existing file is left intact")
}

func TestSaveImageNil(t *testing.T) {
	err := SaveImage(filepath.Join(t.TempDir(), "x.png"), nil)
	var pe *ImageProcessingError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "save", pe.Operation)
}

func TestLoadImageErrors(t *testing.T) {
	dir := t.TempDir()
	_, _, err := LoadImage("")
	assert.Error(t, err)

	_, _, err = LoadImage(filepath.Join(dir, "clip.mp4"))
	assert.ErrorContains(t, err, "unsupported format")

	_, _, err = LoadImage(filepath.Join(dir, "missing.png"))
	assert.True(t, errors.Is(err, os.ErrNotExist))

	bad := filepath.Join(dir, "bad.png")
	require.NoError(t, os.WriteFile(bad, []byte("nope"), 0o600))
	_, _, err = LoadImage(bad)
	var pe *ImageProcessingError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "decode", pe.Operation)
}

func TestWriteReaderSync(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a", "b.bin")
	n, err := WriteReaderSync(path, bytes.NewReader([]byte("hello")))
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)
	assert.True(t, FileExists(path))
	assert.False(t, FileExists(filepath.Dir(path)), "directories are not files")

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("disk on fire") }

func TestWriteReaderSyncRemovesPartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "partial.bin")
	_, err := WriteReaderSync(path, failingReader{})
	require.ErrorContains(t, err, "disk on fire")
	assert.False(t, FileExists(path))
}

func TestWriteFileSync(t *testing.T) {
	path := filepath.Join(t.TempDir(), "t.txt")
	require.NoError(t, WriteFileSync(path, []byte("AB12")))
	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "AB12", string(got))
}

func TestCropImageRect(t *testing.T) {
	img := uniform(10, 8, color.White)
	out := CropImageRect(img, image.Rect(2, 3, 20, 6))
	assert.Equal(t, 8, out.Bounds().Dx())
	assert.Equal(t, 3, out.Bounds().Dy())

	empty := CropImageRect(img, image.Rect(20, 20, 30, 30))
	assert.True(t, empty.Bounds().Empty())
}

func TestLetterboxImage(t *testing.T) {
	img := uniform(200, 100, color.White)
	out, lb, err := LetterboxImage(img, 64)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 64, 64), out.Bounds())
	assert.InDelta(t, 0.32, lb.Scale, 1e-9)
	assert.Equal(t, 0, lb.PadX)
	assert.Equal(t, 16, lb.PadY)

	// padding rows keep the neutral gray
	assert.Equal(t, uint8(114), out.NRGBAAt(10, 2).R)
	assert.Equal(t, uint8(255), out.NRGBAAt(10, 32).R)

	x, y := lb.Unmap(32, 32)
	assert.InDelta(t, 100, x, 1e-9)
	assert.InDelta(t, 50, y, 1e-9)

	_, _, err = LetterboxImage(nil, 64)
	assert.Error(t, err)
	_, _, err = LetterboxImage(img, 0)
	assert.Error(t, err)
}

func TestNormalizeCHW(t *testing.T) {
	img := uniform(3, 2, color.RGBA{R: 255, G: 0, B: 51, A: 255})
	data, w, h, err := NormalizeCHW(img, [3]float32{0.5, 0.5, 0.5}, [3]float32{0.5, 0.5, 0.5})
	require.NoError(t, err)
	assert.Equal(t, 3, w)
	assert.Equal(t, 2, h)
	require.Len(t, data, 18)
	assert.InDelta(t, 1.0, data[0], 1e-6)
	assert.InDelta(t, -1.0, data[6], 1e-6)
	assert.InDelta(t, -0.6, data[12], 1e-6)

	_, _, _, err = NormalizeCHW(img, [3]float32{}, [3]float32{1, 0, 1})
	assert.Error(t, err)
}
