package testutil

import (
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// ImageSize represents common image dimensions.
type ImageSize struct {
	Width  int
	Height int
}

var (
	// Common frame sizes.
	SmallSize  = ImageSize{160, 120}
	MediumSize = ImageSize{640, 480}
)

// FrameConfig describes a synthetic video frame: a background with a light
// plate carrying dark text, the kind of region the detectors look for.
type FrameConfig struct {
	Size       ImageSize
	Background color.Color
	Plate      image.Rectangle
	Text       string
}

// DefaultFrameConfig returns a small frame with one centered plate.
func DefaultFrameConfig() FrameConfig {
	return FrameConfig{
		Size:       SmallSize,
		Background: color.RGBA{R: 40, G: 60, B: 90, A: 255},
		Plate:      image.Rect(40, 45, 120, 75),
		Text:       "AB12",
	}
}

// GenerateFrame renders a synthetic frame.
func GenerateFrame(cfg FrameConfig) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, cfg.Size.Width, cfg.Size.Height))
	draw.Draw(img, img.Bounds(), &image.Uniform{cfg.Background}, image.Point{}, draw.Src)

	if cfg.Plate.Empty() {
		return img
	}
	draw.Draw(img, cfg.Plate, &image.Uniform{color.White}, image.Point{}, draw.Src)

	face := basicfont.Face7x13
	drawer := &font.Drawer{Dst: img, Src: &image.Uniform{color.Black}, Face: face}
	textWidth := font.MeasureString(face, cfg.Text).Ceil()
	x := cfg.Plate.Min.X + (cfg.Plate.Dx()-textWidth)/2
	y := cfg.Plate.Min.Y + (cfg.Plate.Dy()+face.Metrics().Ascent.Ceil())/2
	drawer.Dot = fixed.P(x, y)
	drawer.DrawString(cfg.Text)
	return img
}

// CreateTestImage creates a uniform image.
func CreateTestImage(width, height int, c color.Color) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), &image.Uniform{c}, image.Point{}, draw.Src)
	return img
}

// CreateGradientImage creates a horizontal gray ramp limited to [lo, hi].
func CreateGradientImage(width, height int, lo, hi uint8) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			v := float64(lo)
			if width > 1 {
				v += float64(hi-lo) * float64(x) / float64(width-1)
			}
			img.SetGray(x, y, color.Gray{Y: uint8(math.Round(v))})
		}
	}
	return img
}

// SaveImage writes img as PNG, creating parent directories.
func SaveImage(t *testing.T, img image.Image, path string) {
	t.Helper()

	require.NoError(t, EnsureDir(filepath.Dir(path)))
	file, err := os.Create(path) //nolint:gosec // G304: test path
	require.NoError(t, err, "Failed to create file %s", path)
	defer func() { require.NoError(t, file.Close()) }()

	require.NoError(t, png.Encode(file, img), "Failed to encode PNG image")
}

// WriteFrame renders a default frame to dir/name and returns the path.
func WriteFrame(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	SaveImage(t, GenerateFrame(DefaultFrameConfig()), path)
	return path
}

// LoadImage decodes the image at path.
func LoadImage(t *testing.T, path string) image.Image {
	t.Helper()

	file, err := os.Open(path) //nolint:gosec // G304: test path
	require.NoError(t, err, "Failed to open image file %s", path)
	defer func() { _ = file.Close() }()

	img, _, err := image.Decode(file)
	require.NoError(t, err, "Failed to decode image")
	return img
}

// MeanGray returns the average luminance of img in [0,255].
func MeanGray(img image.Image) float64 {
	b := img.Bounds()
	if b.Empty() {
		return 0
	}
	var sum float64
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			g := color.GrayModel.Convert(img.At(x, y)).(color.Gray)
			sum += float64(g.Y)
		}
	}
	return sum / float64(b.Dx()*b.Dy())
}
