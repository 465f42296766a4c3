package stage

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/MeKo-Tech/vidocr/internal/lineage"
	"github.com/MeKo-Tech/vidocr/internal/store"
	"github.com/MeKo-Tech/vidocr/internal/utils"
)

// CropOptions controls how detected boxes are cut out of their source image.
type CropOptions struct {
	// Gain scales the box around its center before padding.
	Gain float64
	// Pad grows the box by this many pixels on every side.
	Pad int
}

// Detect runs the object detector over every frame of a video and writes one
// crop per detection into a fresh batch directory.
type Detect struct {
	base
	frames   FrameSource
	detector ObjectDetector
	crop     CropOptions
}

// NewDetect creates the detect executor.
func NewDetect(st store.Store, layout Layout, frames FrameSource, detector ObjectDetector, crop CropOptions) *Detect {
	return &Detect{
		base:     base{stage: lineage.StageDetect, store: st, layout: layout},
		frames:   frames,
		detector: detector,
		crop:     crop,
	}
}

// Cardinality is ZeroOrMore: a video may contain any number of objects.
func (e *Detect) Cardinality() Cardinality { return ZeroOrMore }

// Execute detects objects in the video with the given id. The batch record is
// written even when nothing is found; the result is then Empty.
func (e *Detect) Execute(ctx context.Context, videoID int64) Result {
	if r, ok := e.validate("video", videoID); !ok {
		return r
	}
	video, err := e.store.Video(ctx, videoID)
	if err != nil {
		return e.lookupFailed("video", videoID, err)
	}
	if r, ok := e.checkFile("video", videoID, video.SourcePath); !ok {
		return r
	}

	dir := e.layout.NewDir(e.stage, videoID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return ProcessingError(e.stage, fmt.Errorf("create batch directory: %w", err))
	}

	var (
		crops  []lineage.Crop
		frames int
	)
	err = e.frames.Frames(ctx, video.SourcePath, func(f Frame) error {
		frames++
		dets, err := e.detector.Detect(ctx, f.Image)
		if err != nil {
			return fmt.Errorf("frame %d: %w", f.Index, err)
		}
		for i, d := range dets {
			rect := d.Box.Scale(e.crop.Gain, e.crop.Pad, f.Image.Bounds())
			if rect.Empty() {
				continue
			}
			path := filepath.Join(dir, cropName(f.Index, i, d))
			if err := utils.SaveImage(path, utils.CropImageRect(f.Image, rect)); err != nil {
				return fmt.Errorf("frame %d: %w", f.Index, err)
			}
			crops = append(crops, lineage.Crop{
				VideoID:    videoID,
				FrameIndex: f.Index,
				ClassID:    d.ClassID,
				Label:      d.Label,
				Confidence: d.Confidence,
				Box:        d.Box,
				OutputPath: path,
			})
		}
		return nil
	})
	if err != nil {
		_ = os.RemoveAll(dir)
		return ProcessingError(e.stage, err)
	}

	batchID, cropIDs, err := e.store.InsertDetectionBatch(ctx,
		lineage.DetectionBatch{VideoID: videoID, ResultDir: dir, FrameCount: frames}, crops)
	if err != nil {
		return e.recordFailed("detection batch", err, dir)
	}

	slog.Info("Detection finished", "video_id", videoID, "batch_id", batchID, "frames", frames, "crops", len(cropIDs))
	if len(cropIDs) == 0 {
		return Empty(e.stage, fmt.Sprintf("no detections found in video %d (batch %d)", videoID, batchID))
	}

	payloads := make([]any, len(crops))
	for i := range crops {
		crops[i].ID = cropIDs[i]
		crops[i].BatchID = batchID
		payloads[i] = crops[i]
	}
	return Success(e.stage, cropIDs, payloads)
}

func cropName(frame, index int, d lineage.Detection) string {
	label := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, d.Label)
	if label == "" {
		label = fmt.Sprintf("class%d", d.ClassID)
	}
	return fmt.Sprintf("frame%06d_%02d_%s.png", frame, index, label)
}
