package preprocess

import (
	"errors"
	"image"
	"math"

	"github.com/disintegration/imaging"
)

// ContrastConfig holds the parameters of the crop normalization pass.
type ContrastConfig struct {
	ClipLimit         float64 // CLAHE clip limit relative to the mean bin height
	TileGrid          int     // CLAHE tiles per axis
	IlluminationSigma float64 // sigma of the background estimate
	Gain              float64 // weight of the image against its blurred copy
	BlurSize          int     // Gaussian kernel between the two CLAHE passes (3 or 5)
	SharpenSize       int     // Gaussian kernel of the final unsharp mask (3 or 5)
}

// DefaultContrastConfig returns the parameters used for detector crops.
func DefaultContrastConfig() ContrastConfig {
	return ContrastConfig{
		ClipLimit:         2.0,
		TileGrid:          8,
		IlluminationSigma: 30,
		Gain:              1.5,
		BlurSize:          5,
		SharpenSize:       3,
	}
}

// Validate checks the configuration.
func (c ContrastConfig) Validate() error {
	if c.ClipLimit < 0 {
		return errors.New("clip limit must be non-negative")
	}
	if c.TileGrid < 1 {
		return errors.New("tile grid must be at least 1")
	}
	if c.IlluminationSigma <= 0 {
		return errors.New("illumination sigma must be positive")
	}
	if c.Gain < 1 {
		return errors.New("gain must be at least 1")
	}
	if !oddKernel(c.BlurSize) || !oddKernel(c.SharpenSize) {
		return errors.New("blur and sharpen sizes must be 3 or 5")
	}
	return nil
}

func oddKernel(n int) bool { return n == 3 || n == 5 }

// Contrast normalizes contrast and uneven lighting on a crop:
//
//	CLAHE -> I*g - blur(I, sigma)*(g-1) -> Gaussian -> CLAHE -> unsharp mask
//
// The output is single channel.
type Contrast struct {
	cfg ContrastConfig
}

// NewContrast validates cfg and returns the transform.
func NewContrast(cfg ContrastConfig) (*Contrast, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Contrast{cfg: cfg}, nil
}

// Apply runs the normalization chain.
func (c *Contrast) Apply(img image.Image) (image.Image, error) {
	gray, err := toGray(img)
	if err != nil {
		return nil, err
	}
	g := c.cfg.Gain

	first := CLAHE(gray, c.cfg.ClipLimit, c.cfg.TileGrid, c.cfg.TileGrid)
	background := nrgbaToGray(imaging.Blur(first, c.cfg.IlluminationSigma))
	lit := addWeighted(first, g, background, 1-g)

	blurred := gaussian(lit, c.cfg.BlurSize)
	second := CLAHE(blurred, c.cfg.ClipLimit, c.cfg.TileGrid, c.cfg.TileGrid)
	return addWeighted(second, g, gaussian(second, c.cfg.SharpenSize), 1-g), nil
}

// gaussian blurs with a size x size kernel whose sigma is derived from the
// size as 0.3*((size-1)/2 - 1) + 0.8.
func gaussian(img *image.Gray, size int) *image.Gray {
	sigma := 0.3*(float64(size-1)/2-1) + 0.8
	k := gaussianKernel(size, sigma)
	opts := &imaging.ConvolveOptions{Normalize: true}
	if size == 3 {
		var k3 [9]float64
		copy(k3[:], k)
		return nrgbaToGray(imaging.Convolve3x3(img, k3, opts))
	}
	var k5 [25]float64
	copy(k5[:], k)
	return nrgbaToGray(imaging.Convolve5x5(img, k5, opts))
}

// gaussianKernel returns a normalized size x size kernel in row-major order.
func gaussianKernel(size int, sigma float64) []float64 {
	half := size / 2
	k := make([]float64, size*size)
	var sum float64
	for y := -half; y <= half; y++ {
		for x := -half; x <= half; x++ {
			v := math.Exp(-float64(x*x+y*y) / (2 * sigma * sigma))
			k[(y+half)*size+x+half] = v
			sum += v
		}
	}
	for i := range k {
		k[i] /= sum
	}
	return k
}
