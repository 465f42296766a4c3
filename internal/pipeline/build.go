package pipeline

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/MeKo-Tech/vidocr/internal/config"
	"github.com/MeKo-Tech/vidocr/internal/detector"
	"github.com/MeKo-Tech/vidocr/internal/preprocess"
	"github.com/MeKo-Tech/vidocr/internal/recognizer"
	"github.com/MeKo-Tech/vidocr/internal/stage"
	"github.com/MeKo-Tech/vidocr/internal/store"
	"github.com/MeKo-Tech/vidocr/internal/video"
)

// Collaborators are the pure functions each stage executor delegates to.
type Collaborators struct {
	Frames         stage.FrameSource
	ObjectDetector stage.ObjectDetector
	Contrast       stage.ImageTransform
	RegionDetector stage.ObjectDetector
	Deblur         stage.ImageTransform
	Recognizer     stage.TextRecognizer

	Crop         stage.CropOptions
	RefinePad    int
	RefinePolicy stage.RefinePolicy
}

// NewStages creates one executor per stage over a shared store and layout.
func NewStages(st store.Store, layout stage.Layout, c Collaborators) Stages {
	return Stages{
		Ingest:      stage.NewIngest(st, layout),
		Detect:      stage.NewDetect(st, layout, c.Frames, c.ObjectDetector, c.Crop),
		PreprocessA: stage.NewPreprocessA(st, layout, c.Contrast),
		Refine:      stage.NewRefine(st, layout, c.RegionDetector, c.RefinePad, c.RefinePolicy),
		PreprocessB: stage.NewPreprocessB(st, layout, c.Deblur),
		Recognize:   stage.NewRecognize(st, layout, c.Recognizer),
	}
}

// OpenStore opens the configured artifact store. SQLite stores are migrated
// to the latest schema.
func OpenStore(cfg config.DatabaseConfig) (store.Store, error) {
	switch cfg.Driver {
	case "memory":
		return store.NewMemory(), nil
	case "", "sqlite":
		st, err := store.Open(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("open database %s: %w", cfg.Path, err)
		}
		return st, nil
	default:
		return nil, fmt.Errorf("invalid database driver: %s", cfg.Driver)
	}
}

// Components owns everything a process needs to run the pipeline: the
// store, the model sessions and the executors built on them.
type Components struct {
	Store  store.Store
	Layout stage.Layout
	Stages Stages

	closers []io.Closer
}

// Build opens the store and loads the models named by cfg. The recognizer
// loads its model on first use; the detectors load theirs here.
func Build(cfg *config.Config) (*Components, error) {
	st, err := OpenStore(cfg.Database)
	if err != nil {
		return nil, err
	}
	c := &Components{Store: st, Layout: stage.Layout{Root: cfg.Storage.Root}, closers: []io.Closer{st}}

	collab, err := c.collaborators(cfg)
	if err != nil {
		_ = c.Close()
		return nil, err
	}
	c.Stages = NewStages(st, c.Layout, collab)
	return c, nil
}

func (c *Components) collaborators(cfg *config.Config) (Collaborators, error) {
	yolo, err := detector.NewYOLO(cfg.YOLOConfig(), cfg.ONNX)
	if err != nil {
		return Collaborators{}, fmt.Errorf("object detector: %w", err)
	}
	c.closers = append(c.closers, yolo)

	region, err := detector.NewRegion(cfg.RegionConfig(), cfg.ONNX)
	if err != nil {
		return Collaborators{}, fmt.Errorf("region detector: %w", err)
	}
	c.closers = append(c.closers, region)

	contrast, err := preprocess.NewContrast(cfg.ContrastConfig())
	if err != nil {
		return Collaborators{}, fmt.Errorf("contrast: %w", err)
	}
	deblur, err := preprocess.NewDeblur(cfg.DeblurConfig())
	if err != nil {
		return Collaborators{}, fmt.Errorf("deblur: %w", err)
	}

	rec, err := recognizer.NewRecognizer(cfg.RecognizerConfig(), cfg.ONNX)
	if err != nil {
		return Collaborators{}, fmt.Errorf("text recognizer: %w", err)
	}
	c.closers = append(c.closers, rec)

	return Collaborators{
		Frames:         FrameSource(cfg),
		ObjectDetector: yolo,
		Contrast:       contrast,
		RegionDetector: region,
		Deblur:         deblur,
		Recognizer:     rec,
		Crop:           cfg.CropOptions(),
		RefinePad:      cfg.Refine.Pad,
		RefinePolicy:   cfg.RefinePolicy(),
	}, nil
}

// FrameSource returns the decoder for the configured modality. Without
// ffmpeg only still images can be processed.
func FrameSource(cfg *config.Config) video.Source {
	src := video.Source{Modality: cfg.Modality(), Still: video.StillSource{}}
	ff, err := video.NewFFmpegSource(cfg.FFmpegConfig())
	if err != nil {
		slog.Warn("Video decoding disabled", "error", err)
		return src
	}
	src.Video = ff
	return src
}

// Close releases the models and the store.
func (c *Components) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}
