package recognizer

import (
	"errors"
	"image"

	"github.com/disintegration/imaging"

	"github.com/MeKo-Tech/vidocr/internal/onnx"
	"github.com/MeKo-Tech/vidocr/internal/utils"
)

// ResizeForRecognition stretches img to the fixed model input size with
// bicubic interpolation. The aspect ratio is not kept.
func ResizeForRecognition(img image.Image, width, height int) (*image.NRGBA, error) {
	if img == nil {
		return nil, errors.New("input image is nil")
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, errors.New("input image is empty")
	}
	if width <= 0 || height <= 0 {
		return nil, errors.New("target size must be positive")
	}
	return imaging.Resize(img, width, height, imaging.CatmullRom), nil
}

// NormalizeForRecognition builds the [1,3,H,W] input tensor with pixels
// mapped to [-1,1] by (x/255 - 0.5) / 0.5.
func NormalizeForRecognition(img image.Image) (onnx.Tensor, error) {
	half := [3]float32{0.5, 0.5, 0.5}
	data, w, h, err := utils.NormalizeCHW(img, half, half)
	if err != nil {
		return onnx.Tensor{}, err
	}
	return onnx.NewImageTensor(data, 3, h, w)
}
