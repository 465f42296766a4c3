package preprocess

import (
	"errors"
	"fmt"
	"image"
	"strings"
)

// DeblurMethod selects how the point spread function is used.
type DeblurMethod string

const (
	// DeblurConvolve convolves the image with the PSF once.
	DeblurConvolve DeblurMethod = "convolve"
	// DeblurRichardsonLucy deconvolves the image with the PSF iteratively.
	DeblurRichardsonLucy DeblurMethod = "richardson-lucy"
)

// ParseDeblurMethod validates a method name. Empty means Richardson-Lucy.
func ParseDeblurMethod(s string) (DeblurMethod, error) {
	switch DeblurMethod(strings.ToLower(strings.TrimSpace(s))) {
	case "", DeblurRichardsonLucy:
		return DeblurRichardsonLucy, nil
	case DeblurConvolve:
		return DeblurConvolve, nil
	default:
		return "", fmt.Errorf("invalid deblur method %q (must be %q or %q)", s, DeblurConvolve, DeblurRichardsonLucy)
	}
}

// DeblurConfig holds the parameters of the sharpening pass.
type DeblurConfig struct {
	Method     DeblurMethod // convolve or richardson-lucy
	PSFSize    int          // odd PSF width and height
	PSFSigma   float64      // Gaussian PSF sigma
	Iterations int          // Richardson-Lucy iterations
}

// DefaultDeblurConfig returns the parameters used for refined regions.
func DefaultDeblurConfig() DeblurConfig {
	return DeblurConfig{
		Method:     DeblurRichardsonLucy,
		PSFSize:    5,
		PSFSigma:   1,
		Iterations: 10,
	}
}

// Validate checks the configuration.
func (c DeblurConfig) Validate() error {
	if _, err := ParseDeblurMethod(string(c.Method)); err != nil {
		return err
	}
	if c.PSFSize < 1 || c.PSFSize%2 == 0 {
		return errors.New("psf size must be a positive odd number")
	}
	if c.PSFSigma <= 0 {
		return errors.New("psf sigma must be positive")
	}
	if c.Method == DeblurRichardsonLucy && c.Iterations < 1 {
		return errors.New("iterations must be at least 1")
	}
	return nil
}

// Deblur sharpens a grayscale version of its input with a Gaussian PSF.
type Deblur struct {
	cfg DeblurConfig
	psf *kernel
}

// NewDeblur validates cfg and returns the transform.
func NewDeblur(cfg DeblurConfig) (*Deblur, error) {
	if cfg.Method == "" {
		cfg.Method = DeblurRichardsonLucy
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Deblur{
		cfg: cfg,
		psf: &kernel{size: cfg.PSFSize, w: gaussianKernel(cfg.PSFSize, cfg.PSFSigma)},
	}, nil
}

// Method returns the configured method.
func (d *Deblur) Method() DeblurMethod { return d.cfg.Method }

// Apply sharpens img. The output is single channel.
func (d *Deblur) Apply(img image.Image) (image.Image, error) {
	gray, err := toGray(img)
	if err != nil {
		return nil, err
	}
	observed := planeFromGray(gray)

	switch d.cfg.Method {
	case DeblurConvolve:
		return d.psf.convolve(observed).toGray(), nil
	default:
		return richardsonLucy(observed, d.psf, d.cfg.Iterations).toGray(), nil
	}
}

// richardsonLucy estimates the latent image u from the observation o by
// iterating u <- u * (K' * (o / (K * u))) starting from a flat 0.5 image.
func richardsonLucy(o *plane, psf *kernel, iterations int) *plane {
	const eps = 1e-12
	mirror := psf.mirrored()

	u := newPlane(o.w, o.h)
	for i := range u.pix {
		u.pix[i] = 0.5
	}
	ratio := newPlane(o.w, o.h)
	for n := 0; n < iterations; n++ {
		blurred := psf.convolve(u)
		for i := range ratio.pix {
			ratio.pix[i] = o.pix[i] / (blurred.pix[i] + eps)
		}
		correction := mirror.convolve(ratio)
		for i := range u.pix {
			u.pix[i] *= correction.pix[i]
		}
	}
	for i, v := range u.pix {
		u.pix[i] = min(1, max(0, v))
	}
	return u
}

// kernel is a square convolution kernel in row-major order.
type kernel struct {
	size int
	w    []float64
}

func (k *kernel) mirrored() *kernel {
	out := &kernel{size: k.size, w: make([]float64, len(k.w))}
	for i, v := range k.w {
		out.w[len(k.w)-1-i] = v
	}
	return out
}

// convolve applies k with symmetric border reflection.
func (k *kernel) convolve(p *plane) *plane {
	out := newPlane(p.w, p.h)
	half := k.size / 2
	for y := 0; y < p.h; y++ {
		for x := 0; x < p.w; x++ {
			var sum float64
			for ky := 0; ky < k.size; ky++ {
				sy := reflect(y+ky-half, p.h)
				row := p.pix[sy*p.w:]
				for kx := 0; kx < k.size; kx++ {
					sum += k.w[ky*k.size+kx] * row[reflect(x+kx-half, p.w)]
				}
			}
			out.pix[y*p.w+x] = sum
		}
	}
	return out
}

// reflect maps i into [0,n) mirroring at the edges, repeating the edge pixel.
func reflect(i, n int) int {
	if n == 1 {
		return 0
	}
	period := 2 * n
	i %= period
	if i < 0 {
		i += period
	}
	if i >= n {
		i = period - 1 - i
	}
	return i
}
