// Package video turns an ingested upload into a sequence of frames for the
// detect stage. Videos are decoded with the ffmpeg binary; still images are
// treated as a one-frame video.
package video

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"

	"github.com/MeKo-Tech/vidocr/internal/stage"
	"github.com/MeKo-Tech/vidocr/internal/utils"
)

// VideoExtensions lists file extensions decoded through ffmpeg.
var VideoExtensions = []string{".mp4", ".mov", ".avi", ".mkv", ".webm", ".m4v", ".mpg", ".mpeg"}

// IsVideo reports whether path has a known video extension.
func IsVideo(path string) bool {
	return slices.Contains(VideoExtensions, strings.ToLower(filepath.Ext(path)))
}

// Modality selects how uploads are decoded.
type Modality string

const (
	ModalityAuto  Modality = "auto"
	ModalityVideo Modality = "video"
	ModalityImage Modality = "image"
)

// StillSource yields the image at path as frame 0.
type StillSource struct{}

// Frames implements stage.FrameSource.
func (StillSource) Frames(_ context.Context, path string, fn func(stage.Frame) error) error {
	img, _, err := utils.LoadImage(path)
	if err != nil {
		return err
	}
	return fn(stage.Frame{Index: 0, Image: img})
}

// FFmpegConfig configures frame extraction.
type FFmpegConfig struct {
	// FFmpegPath is the binary to run; empty means look it up in PATH.
	FFmpegPath string
	// Stride keeps every Stride-th frame. Values below 1 keep every frame.
	Stride int
	// MaxFrames caps the number of extracted frames; 0 means no cap.
	MaxFrames int
	// TempDir is where frames are extracted; empty means os.TempDir().
	TempDir string
}

// FFmpegSource decodes videos by running ffmpeg into a scratch directory.
type FFmpegSource struct {
	ffmpegPath string
	stride     int
	maxFrames  int
	tempDir    string
}

// NewFFmpegSource resolves the ffmpeg binary and returns a frame source.
func NewFFmpegSource(cfg FFmpegConfig) (*FFmpegSource, error) {
	bin := cfg.FFmpegPath
	if bin == "" {
		bin = "ffmpeg"
	}
	resolved, err := exec.LookPath(bin)
	if err != nil {
		return nil, fmt.Errorf("ffmpeg not found: %w", err)
	}
	slog.Debug("Using ffmpeg", "path", resolved)

	stride := cfg.Stride
	if stride < 1 {
		stride = 1
	}
	return &FFmpegSource{ffmpegPath: resolved, stride: stride, maxFrames: cfg.MaxFrames, tempDir: cfg.TempDir}, nil
}

// Args builds the ffmpeg command line for extracting frames of input into
// the frame_%06d.png pattern below outDir.
func (s *FFmpegSource) Args(input, outDir string) []string {
	args := []string{"-hide_banner", "-loglevel", "error", "-nostdin", "-i", input}
	if s.stride > 1 {
		args = append(args, "-vf", fmt.Sprintf(`select=not(mod(n\,%d))`, s.stride), "-vsync", "vfr")
	}
	if s.maxFrames > 0 {
		args = append(args, "-frames:v", fmt.Sprint(s.maxFrames))
	}
	return append(args, filepath.Join(outDir, "frame_%06d.png"))
}

// Frames implements stage.FrameSource. Frame indices refer to positions in
// the source video, so with a stride of 5 they are 0, 5, 10 and so on.
func (s *FFmpegSource) Frames(ctx context.Context, path string, fn func(stage.Frame) error) error {
	dir, err := os.MkdirTemp(s.tempDir, "vidocr-frames-")
	if err != nil {
		return fmt.Errorf("create frame directory: %w", err)
	}
	defer func() { _ = os.RemoveAll(dir) }()

	cmd := exec.CommandContext(ctx, s.ffmpegPath, s.Args(path, dir)...) //nolint:gosec // G204: fixed binary, argument list
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	files, err := filepath.Glob(filepath.Join(dir, "frame_*.png"))
	if err != nil {
		return fmt.Errorf("list frames: %w", err)
	}
	slices.Sort(files)
	if len(files) == 0 {
		return fmt.Errorf("ffmpeg produced no frames for %s", filepath.Base(path))
	}

	for i, f := range files {
		img, _, err := utils.LoadImage(f)
		if err != nil {
			return err
		}
		if err := fn(stage.Frame{Index: i * s.stride, Image: img}); err != nil {
			return err
		}
	}
	return nil
}

// Source picks a decoder per upload according to its modality.
type Source struct {
	Modality Modality
	Video    stage.FrameSource
	Still    stage.FrameSource
}

// Frames implements stage.FrameSource.
func (s Source) Frames(ctx context.Context, path string, fn func(stage.Frame) error) error {
	var useVideo bool
	switch s.Modality {
	case ModalityVideo:
		useVideo = true
	case ModalityImage:
	default:
		useVideo = !utils.IsSupportedImage(path)
	}

	if useVideo {
		if s.Video == nil {
			return fmt.Errorf("video decoding is not available for %s", filepath.Base(path))
		}
		return s.Video.Frames(ctx, path, fn)
	}
	still := s.Still
	if still == nil {
		still = StillSource{}
	}
	return still.Frames(ctx, path, fn)
}

// ParseModality validates a modality name. Empty means auto.
func ParseModality(v string) (Modality, error) {
	switch Modality(strings.ToLower(v)) {
	case "", ModalityAuto:
		return ModalityAuto, nil
	case ModalityVideo:
		return ModalityVideo, nil
	case ModalityImage:
		return ModalityImage, nil
	default:
		return "", fmt.Errorf("invalid modality %q (must be auto, video or image)", v)
	}
}
