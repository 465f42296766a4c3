package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/vidocr/internal/preprocess"
	"github.com/MeKo-Tech/vidocr/internal/stage"
	"github.com/MeKo-Tech/vidocr/internal/video"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 640, cfg.Detect.InputSize)
	assert.InDelta(t, 0.5, cfg.Detect.ConfThreshold, 1e-9)
	assert.InDelta(t, 0.45, cfg.Detect.IoUThreshold, 1e-9)
	assert.Equal(t, 5, cfg.Detect.FrameStride)
	assert.Equal(t, 10, cfg.Refine.Pad)
	assert.Equal(t, "each", cfg.Refine.Policy)
	assert.Equal(t, "richardson-lucy", cfg.Deblur.Method)
	assert.Equal(t, 32, cfg.Recognize.ImageHeight)
	assert.Equal(t, 128, cfg.Recognize.ImageWidth)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		want   string
	}{
		{"log level", func(c *Config) { c.LogLevel = "loud" }, "invalid log level"},
		{"driver", func(c *Config) { c.Database.Driver = "postgres" }, "invalid database driver"},
		{"sqlite path", func(c *Config) { c.Database.Path = "" }, "database.path"},
		{"storage", func(c *Config) { c.Storage.Root = "" }, "storage.root"},
		{"modality", func(c *Config) { c.Detect.Modality = "audio" }, "detect.modality"},
		{"stride", func(c *Config) { c.Detect.FrameStride = 0 }, "frame_stride"},
		{"input size", func(c *Config) { c.Detect.InputSize = 100 }, "detect:"},
		{"nms", func(c *Config) { c.Detect.NMSMethod = "fuzzy" }, "invalid NMS method"},
		{"pad", func(c *Config) { c.Refine.Pad = -1 }, "padding"},
		{"policy", func(c *Config) { c.Refine.Policy = "first" }, "refine.policy"},
		{"region sizes", func(c *Config) { c.Refine.MaxSize = 1 }, "refine:"},
		{"contrast", func(c *Config) { c.Contrast.TileGrid = 0 }, "contrast:"},
		{"deblur method", func(c *Config) { c.Deblur.Method = "wiener" }, "deblur.method"},
		{"psf", func(c *Config) { c.Deblur.PSFSize = 4 }, "deblur:"},
		{"recognize", func(c *Config) { c.Recognize.ImageWidth = 0 }, "recognize:"},
		{"onnx", func(c *Config) { c.ONNX.NumThreads = -1 }, "onnx:"},
		{"port", func(c *Config) { c.Server.Port = 70000 }, "invalid server port"},
		{"upload", func(c *Config) { c.Server.MaxUploadMB = 0 }, "max upload"},
		{"rate limit", func(c *Config) { c.Server.RequestsPerMinute = -1 }, "rate limits"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	mem := DefaultConfig()
	mem.Database = DatabaseConfig{Driver: "memory"}
	assert.NoError(t, mem.Validate())
}

func TestConversions(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "yolo_labels.txt"), []byte("plate\n"), 0o600))

	cfg := DefaultConfig()
	cfg.ModelsDir = dir
	cfg.Detect.ConfThreshold = 0.3
	cfg.Detect.NMSMethod = "gaussian"
	cfg.Refine.Policy = "last"
	cfg.Detect.Modality = "video"
	cfg.Deblur.Method = "convolve"

	yolo := cfg.YOLOConfig()
	assert.Equal(t, filepath.Join(dir, "yolo_detect.onnx"), yolo.ModelPath)
	assert.Equal(t, filepath.Join(dir, "yolo_labels.txt"), yolo.LabelsPath)
	assert.InDelta(t, 0.3, yolo.ConfThreshold, 1e-9)
	assert.Equal(t, "gaussian", yolo.NMS.Method)

	region := cfg.RegionConfig()
	assert.Equal(t, filepath.Join(dir, "std_region.onnx"), region.ModelPath)

	rec := cfg.RecognizerConfig()
	assert.Equal(t, filepath.Join(dir, "parseq_str.onnx"), rec.ModelPath)
	assert.Empty(t, rec.CharsetPath, "missing charset file falls back to the built-in charset")

	assert.Equal(t, stage.RefineLast, cfg.RefinePolicy())
	assert.Equal(t, video.ModalityVideo, cfg.Modality())
	assert.Equal(t, preprocess.DeblurConvolve, cfg.DeblurConfig().Method)
	assert.Equal(t, stage.CropOptions{Gain: 1.02, Pad: 10}, cfg.CropOptions())
	assert.Equal(t, 5, cfg.FFmpegConfig().Stride)
	assert.Equal(t, "localhost:8080", cfg.Addr())

	cfg.Detect.ModelPath = "/opt/models/custom.onnx"
	assert.Equal(t, "/opt/models/custom.onnx", cfg.YOLOConfig().ModelPath)
}

func TestLoadWithFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vidocr.yaml")
	content := `
log_level: warn
database:
  path: /tmp/lineage.db
detect:
  conf_threshold: 0.4
  frame_stride: 10
refine:
  policy: last
server:
  port: 9090
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := NewLoaderWithViper(viper.New()).LoadWithFile(path)
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, "/tmp/lineage.db", cfg.Database.Path)
	assert.InDelta(t, 0.4, cfg.Detect.ConfThreshold, 1e-9)
	assert.Equal(t, 10, cfg.Detect.FrameStride)
	assert.Equal(t, "last", cfg.Refine.Policy)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 640, cfg.Detect.InputSize, "unset keys keep their defaults")
}

func TestLoadWithFileErrors(t *testing.T) {
	_, err := NewLoaderWithViper(viper.New()).LoadWithFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "does not exist")

	bad := filepath.Join(t.TempDir(), "vidocr.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("refine:\n  policy: first\n"), 0o600))
	_, err = NewLoaderWithViper(viper.New()).LoadWithFile(bad)
	assert.ErrorContains(t, err, "configuration validation failed")
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("VIDOCR_DETECT_CONF_THRESHOLD", "0.25")
	t.Setenv("VIDOCR_DEBLUR_METHOD", "convolve")
	t.Setenv("VIDOCR_VERBOSE", "true")

	cfg, err := NewLoaderWithViper(viper.New()).Load()
	require.NoError(t, err)
	assert.InDelta(t, 0.25, cfg.Detect.ConfThreshold, 1e-9)
	assert.Equal(t, "convolve", cfg.Deblur.Method)
	assert.Equal(t, "debug", cfg.LogLevel, "verbose forces debug logging")
}

func TestWriteDefaultConfigFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "vidocr.yaml")
	require.NoError(t, WriteDefaultConfigFile(path, false))
	assert.ErrorContains(t, WriteDefaultConfigFile(path, false), "already exists")
	require.NoError(t, WriteDefaultConfigFile(path, true))

	cfg, err := NewLoaderWithViper(viper.New()).LoadWithFile(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), *cfg)
}

func TestGetConfigSearchPaths(t *testing.T) {
	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)
	assert.Equal(t, []string{".", filepath.Join(xdg, "vidocr"), "/etc/vidocr"}, GetConfigSearchPaths())
}
