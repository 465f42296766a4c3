// Package recognizer reads scene text with a PARSeq style ONNX model: a
// fixed 32x128 RGB input and a [1, T, C] output decoded greedily until EOS.
package recognizer

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"time"

	"github.com/MeKo-Tech/vidocr/internal/lineage"
	"github.com/MeKo-Tech/vidocr/internal/mempool"
	"github.com/MeKo-Tech/vidocr/internal/onnx"
)

// Config holds configuration for the text recognizer.
type Config struct {
	ModelPath   string       // Path to ONNX recognition model
	CharsetPath string       // Optional charset file; empty uses DefaultCharset
	ImageHeight int          // Model input height (default: 32)
	ImageWidth  int          // Model input width (default: 128)
	Clean       CleanOptions // Post-processing of the decoded text
}

// DefaultConfig returns a default recognizer configuration.
func DefaultConfig() Config {
	return Config{
		ImageHeight: 32,
		ImageWidth:  128,
		Clean:       DefaultCleanOptions(),
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.ImageHeight <= 0 || c.ImageWidth <= 0 {
		return fmt.Errorf("recognizer input size must be positive, got %dx%d", c.ImageWidth, c.ImageHeight)
	}
	return nil
}

// Opener loads the model on first use.
type Opener func() (onnx.Runner, error)

// Recognizer performs text recognition. The model is opened on the first
// call to Recognize, so constructing one is cheap; a failed open is retried
// on the next call.
type Recognizer struct {
	config  Config
	charset *Charset
	open    Opener

	mu     sync.Mutex
	runner onnx.Runner
}

// NewRecognizer creates a recognizer that loads cfg.ModelPath lazily.
func NewRecognizer(cfg Config, rt onnx.Config) (*Recognizer, error) {
	return newRecognizer(cfg, func() (onnx.Runner, error) {
		session, err := onnx.OpenSession(cfg.ModelPath, rt)
		if err != nil {
			return nil, err
		}
		slog.Debug("Text recognizer loaded", "model_path", cfg.ModelPath,
			"input_shape", session.InputShape(), "outputs", session.OutputNames())
		return session, nil
	})
}

// NewRecognizerWithOpener creates a recognizer around a custom model loader.
func NewRecognizerWithOpener(cfg Config, open Opener) (*Recognizer, error) {
	return newRecognizer(cfg, open)
}

func newRecognizer(cfg Config, open Opener) (*Recognizer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	charset, err := LoadCharset(cfg.CharsetPath)
	if err != nil {
		return nil, err
	}
	slog.Debug("Charset loaded", "path", cfg.CharsetPath, "charset_size", charset.Size())
	return &Recognizer{config: cfg, charset: charset, open: open}, nil
}

// Charset returns the loaded charset.
func (r *Recognizer) Charset() *Charset { return r.charset }

// Loaded reports whether the model has been opened.
func (r *Recognizer) Loaded() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runner != nil
}

func (r *Recognizer) model() (onnx.Runner, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.runner != nil {
		return r.runner, nil
	}
	if r.open == nil {
		return nil, errors.New("no model loader configured")
	}
	runner, err := r.open()
	if err != nil {
		return nil, fmt.Errorf("load recognition model: %w", err)
	}
	r.runner = runner
	return runner, nil
}

// Recognize implements the text recognizer used by the recognize stage.
func (r *Recognizer) Recognize(ctx context.Context, img image.Image) (lineage.Recognition, error) {
	if err := ctx.Err(); err != nil {
		return lineage.Recognition{}, err
	}
	start := time.Now()

	resized, err := ResizeForRecognition(img, r.config.ImageWidth, r.config.ImageHeight)
	if err != nil {
		return lineage.Recognition{}, err
	}
	input, err := NormalizeForRecognition(resized)
	if err != nil {
		return lineage.Recognition{}, err
	}
	defer mempool.PutFloat32(input.Data)

	runner, err := r.model()
	if err != nil {
		return lineage.Recognition{}, err
	}
	outputs, err := runner.Run(input)
	if err != nil {
		return lineage.Recognition{}, fmt.Errorf("text recognizer: %w", err)
	}
	if len(outputs) == 0 {
		return lineage.Recognition{}, errors.New("text recognizer: model returned no outputs")
	}

	decoded, err := DecodeGreedy(outputs[0].Float32, outputs[0].Shape, r.charset)
	if err != nil {
		return lineage.Recognition{}, err
	}
	rec := lineage.Recognition{
		Text:        PostProcessText(decoded.Text, r.config.Clean),
		RawText:     decoded.RawText,
		Confidences: decoded.Confidences,
	}
	slog.Debug("Text decoded", "text", rec.Text, "raw", rec.RawText, "duration", time.Since(start))
	return rec, nil
}

// Close releases the model if it was loaded.
func (r *Recognizer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.runner == nil {
		return nil
	}
	err := r.runner.Close()
	r.runner = nil
	return err
}
