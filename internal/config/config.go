//nolint:lll
package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/MeKo-Tech/vidocr/internal/detector"
	"github.com/MeKo-Tech/vidocr/internal/models"
	"github.com/MeKo-Tech/vidocr/internal/onnx"
	"github.com/MeKo-Tech/vidocr/internal/preprocess"
	"github.com/MeKo-Tech/vidocr/internal/recognizer"
	"github.com/MeKo-Tech/vidocr/internal/stage"
	"github.com/MeKo-Tech/vidocr/internal/video"
)

// Config represents the complete configuration of vidocr. It covers every
// command (serve, run, stage, lineage, migrate) and is loaded from a config
// file, VIDOCR_* environment variables and command-line flags.
type Config struct {
	// Global settings
	ModelsDir string `mapstructure:"models_dir" yaml:"models_dir" json:"models_dir"`
	LogLevel  string `mapstructure:"log_level" yaml:"log_level" json:"log_level"`
	Verbose   bool   `mapstructure:"verbose" yaml:"verbose" json:"verbose"`

	Database DatabaseConfig `mapstructure:"database" yaml:"database" json:"database"`
	Storage  StorageConfig  `mapstructure:"storage" yaml:"storage" json:"storage"`

	// Stage settings
	Detect    DetectConfig    `mapstructure:"detect" yaml:"detect" json:"detect"`
	Refine    RefineConfig    `mapstructure:"refine" yaml:"refine" json:"refine"`
	Contrast  ContrastConfig  `mapstructure:"contrast" yaml:"contrast" json:"contrast"`
	Deblur    DeblurConfig    `mapstructure:"deblur" yaml:"deblur" json:"deblur"`
	Recognize RecognizeConfig `mapstructure:"recognize" yaml:"recognize" json:"recognize"`

	// ONNX Runtime settings shared by all models
	ONNX onnx.Config `mapstructure:"onnx" yaml:"onnx" json:"onnx"`

	// Server configuration (for serve command)
	Server ServerConfig `mapstructure:"server" yaml:"server" json:"server"`
}

// DatabaseConfig selects the artifact store.
type DatabaseConfig struct {
	Driver string `mapstructure:"driver" yaml:"driver" json:"driver"` // sqlite or memory
	Path   string `mapstructure:"path" yaml:"path" json:"path"`
}

// StorageConfig locates written artifacts.
type StorageConfig struct {
	Root string `mapstructure:"root" yaml:"root" json:"root"`
}

// DetectConfig contains object detection and frame extraction settings.
type DetectConfig struct {
	ModelPath     string  `mapstructure:"model_path" yaml:"model_path" json:"model_path"`
	LabelsPath    string  `mapstructure:"labels_path" yaml:"labels_path" json:"labels_path"`
	InputSize     int     `mapstructure:"input_size" yaml:"input_size" json:"input_size"`
	ConfThreshold float64 `mapstructure:"conf_threshold" yaml:"conf_threshold" json:"conf_threshold"`
	IoUThreshold  float64 `mapstructure:"iou_threshold" yaml:"iou_threshold" json:"iou_threshold"`
	NMSMethod     string  `mapstructure:"nms_method" yaml:"nms_method" json:"nms_method"`
	MaxDetections int     `mapstructure:"max_detections" yaml:"max_detections" json:"max_detections"`
	Modality      string  `mapstructure:"modality" yaml:"modality" json:"modality"`
	FrameStride   int     `mapstructure:"frame_stride" yaml:"frame_stride" json:"frame_stride"`
	MaxFrames     int     `mapstructure:"max_frames" yaml:"max_frames" json:"max_frames"`
	FFmpegPath    string  `mapstructure:"ffmpeg_path" yaml:"ffmpeg_path" json:"ffmpeg_path"`
	CropGain      float64 `mapstructure:"crop_gain" yaml:"crop_gain" json:"crop_gain"`
	CropPad       int     `mapstructure:"crop_pad" yaml:"crop_pad" json:"crop_pad"`
}

// RefineConfig contains text region detection settings.
type RefineConfig struct {
	ModelPath      string  `mapstructure:"model_path" yaml:"model_path" json:"model_path"`
	ScoreThreshold float64 `mapstructure:"score_threshold" yaml:"score_threshold" json:"score_threshold"`
	MinSize        int     `mapstructure:"min_size" yaml:"min_size" json:"min_size"`
	MaxSize        int     `mapstructure:"max_size" yaml:"max_size" json:"max_size"`
	Pad            int     `mapstructure:"pad" yaml:"pad" json:"pad"`
	Policy         string  `mapstructure:"policy" yaml:"policy" json:"policy"`
}

// ContrastConfig contains the first preprocessing pass settings.
type ContrastConfig struct {
	ClipLimit         float64 `mapstructure:"clip_limit" yaml:"clip_limit" json:"clip_limit"`
	TileGrid          int     `mapstructure:"tile_grid" yaml:"tile_grid" json:"tile_grid"`
	IlluminationSigma float64 `mapstructure:"illumination_sigma" yaml:"illumination_sigma" json:"illumination_sigma"`
	Gain              float64 `mapstructure:"gain" yaml:"gain" json:"gain"`
	BlurSize          int     `mapstructure:"blur_size" yaml:"blur_size" json:"blur_size"`
	SharpenSize       int     `mapstructure:"sharpen_size" yaml:"sharpen_size" json:"sharpen_size"`
}

// DeblurConfig contains the second preprocessing pass settings.
type DeblurConfig struct {
	Method     string  `mapstructure:"method" yaml:"method" json:"method"`
	PSFSize    int     `mapstructure:"psf_size" yaml:"psf_size" json:"psf_size"`
	PSFSigma   float64 `mapstructure:"psf_sigma" yaml:"psf_sigma" json:"psf_sigma"`
	Iterations int     `mapstructure:"iterations" yaml:"iterations" json:"iterations"`
}

// RecognizeConfig contains text recognition settings.
type RecognizeConfig struct {
	ModelPath     string `mapstructure:"model_path" yaml:"model_path" json:"model_path"`
	CharsetPath   string `mapstructure:"charset_path" yaml:"charset_path" json:"charset_path"`
	ImageHeight   int    `mapstructure:"image_height" yaml:"image_height" json:"image_height"`
	ImageWidth    int    `mapstructure:"image_width" yaml:"image_width" json:"image_width"`
	NormalizeForm string `mapstructure:"normalize_form" yaml:"normalize_form" json:"normalize_form"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host            string `mapstructure:"host" yaml:"host" json:"host"`
	Port            int    `mapstructure:"port" yaml:"port" json:"port"`
	CORSOrigin      string `mapstructure:"cors_origin" yaml:"cors_origin" json:"cors_origin"`
	MaxUploadMB     int    `mapstructure:"max_upload_mb" yaml:"max_upload_mb" json:"max_upload_mb"`
	ShutdownTimeout int    `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" json:"shutdown_timeout"`

	// Per-client limits on the upload and stage endpoints; 0 disables them.
	RequestsPerMinute int `mapstructure:"requests_per_minute" yaml:"requests_per_minute" json:"requests_per_minute"`
	MaxUploadPerDayMB int `mapstructure:"max_upload_per_day_mb" yaml:"max_upload_per_day_mb" json:"max_upload_per_day_mb"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	yolo := detector.DefaultYOLOConfig()
	region := detector.DefaultRegionConfig()
	contrast := preprocess.DefaultContrastConfig()
	deblur := preprocess.DefaultDeblurConfig()
	rec := recognizer.DefaultConfig()

	return Config{
		ModelsDir: models.DefaultModelsDir,
		LogLevel:  "info",
		Verbose:   false,
		Database: DatabaseConfig{
			Driver: "sqlite",
			Path:   "vidocr.db",
		},
		Storage: StorageConfig{Root: "outputs"},
		Detect: DetectConfig{
			InputSize:     yolo.InputSize,
			ConfThreshold: yolo.ConfThreshold,
			IoUThreshold:  yolo.NMS.IoUThreshold,
			NMSMethod:     yolo.NMS.Method,
			MaxDetections: yolo.MaxDetections,
			Modality:      string(video.ModalityAuto),
			FrameStride:   5,
			CropGain:      1.02,
			CropPad:       10,
		},
		Refine: RefineConfig{
			ScoreThreshold: region.ScoreThreshold,
			MinSize:        region.MinSize,
			MaxSize:        region.MaxSize,
			Pad:            10,
			Policy:         string(stage.RefineEach),
		},
		Contrast: ContrastConfig{
			ClipLimit:         contrast.ClipLimit,
			TileGrid:          contrast.TileGrid,
			IlluminationSigma: contrast.IlluminationSigma,
			Gain:              contrast.Gain,
			BlurSize:          contrast.BlurSize,
			SharpenSize:       contrast.SharpenSize,
		},
		Deblur: DeblurConfig{
			Method:     string(deblur.Method),
			PSFSize:    deblur.PSFSize,
			PSFSigma:   deblur.PSFSigma,
			Iterations: deblur.Iterations,
		},
		Recognize: RecognizeConfig{
			ImageHeight:   rec.ImageHeight,
			ImageWidth:    rec.ImageWidth,
			NormalizeForm: rec.Clean.NormalizeForm,
		},
		ONNX: onnx.DefaultConfig(),
		Server: ServerConfig{
			Host:            "localhost",
			Port:            8080,
			CORSOrigin:      "*",
			MaxUploadMB:     512,
			ShutdownTimeout: 10,
		},
	}
}

// Validate validates the configuration and returns the first problem found.
func (c *Config) Validate() error {
	validLogLevels := []string{"debug", "info", "warn", "error"}
	if !slices.Contains(validLogLevels, c.LogLevel) {
		return fmt.Errorf("invalid log level: %s (must be one of: %s)", c.LogLevel, strings.Join(validLogLevels, ", "))
	}

	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			return errors.New("database.path is required for the sqlite driver")
		}
	case "memory":
	default:
		return fmt.Errorf("invalid database driver: %s (must be sqlite or memory)", c.Database.Driver)
	}
	if c.Storage.Root == "" {
		return errors.New("storage.root is required")
	}

	if _, err := video.ParseModality(c.Detect.Modality); err != nil {
		return fmt.Errorf("detect.modality: %w", err)
	}
	if c.Detect.FrameStride < 1 {
		return fmt.Errorf("invalid detect.frame_stride: %d (must be at least 1)", c.Detect.FrameStride)
	}
	if c.Detect.MaxFrames < 0 {
		return fmt.Errorf("invalid detect.max_frames: %d (must be non-negative)", c.Detect.MaxFrames)
	}
	if c.Detect.CropGain <= 0 {
		return fmt.Errorf("invalid detect.crop_gain: %v (must be positive)", c.Detect.CropGain)
	}
	if c.Detect.CropPad < 0 || c.Refine.Pad < 0 {
		return errors.New("crop padding must be non-negative")
	}
	if err := c.YOLOConfig().Validate(); err != nil {
		return fmt.Errorf("detect: %w", err)
	}
	if err := c.RegionConfig().Validate(); err != nil {
		return fmt.Errorf("refine: %w", err)
	}
	if _, err := stage.ParseRefinePolicy(c.Refine.Policy); err != nil {
		return fmt.Errorf("refine.policy: %w", err)
	}
	if err := c.ContrastConfig().Validate(); err != nil {
		return fmt.Errorf("contrast: %w", err)
	}
	if _, err := preprocess.ParseDeblurMethod(c.Deblur.Method); err != nil {
		return fmt.Errorf("deblur.method: %w", err)
	}
	if err := c.DeblurConfig().Validate(); err != nil {
		return fmt.Errorf("deblur: %w", err)
	}
	if err := c.RecognizerConfig().Validate(); err != nil {
		return fmt.Errorf("recognize: %w", err)
	}
	if err := c.ONNX.Validate(); err != nil {
		return fmt.Errorf("onnx: %w", err)
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be between 1 and 65535)", c.Server.Port)
	}
	if c.Server.MaxUploadMB <= 0 {
		return fmt.Errorf("invalid max upload size: %d (must be positive)", c.Server.MaxUploadMB)
	}
	if c.Server.RequestsPerMinute < 0 || c.Server.MaxUploadPerDayMB < 0 {
		return errors.New("server rate limits must be non-negative")
	}
	if c.Server.ShutdownTimeout < 0 {
		return fmt.Errorf("invalid shutdown timeout: %d (must be non-negative)", c.Server.ShutdownTimeout)
	}
	return nil
}

// YOLOConfig returns the object detector configuration. An empty model path
// resolves inside the models directory; the labels file is optional.
func (c *Config) YOLOConfig() detector.YOLOConfig {
	cfg := detector.DefaultYOLOConfig()
	cfg.ModelPath = orDefault(c.Detect.ModelPath, models.GetObjectDetectorPath(c.ModelsDir))
	cfg.LabelsPath = c.Detect.LabelsPath
	if cfg.LabelsPath == "" {
		cfg.LabelsPath = ifExists(models.GetObjectLabelsPath(c.ModelsDir))
	}
	cfg.InputSize = c.Detect.InputSize
	cfg.ConfThreshold = c.Detect.ConfThreshold
	cfg.MaxDetections = c.Detect.MaxDetections
	cfg.NMS.Method = c.Detect.NMSMethod
	cfg.NMS.IoUThreshold = c.Detect.IoUThreshold
	return cfg
}

// RegionConfig returns the text region detector configuration.
func (c *Config) RegionConfig() detector.RegionConfig {
	return detector.RegionConfig{
		ModelPath:      orDefault(c.Refine.ModelPath, models.GetRegionDetectorPath(c.ModelsDir)),
		ScoreThreshold: c.Refine.ScoreThreshold,
		MinSize:        c.Refine.MinSize,
		MaxSize:        c.Refine.MaxSize,
	}
}

// RecognizerConfig returns the text recognizer configuration.
func (c *Config) RecognizerConfig() recognizer.Config {
	cfg := recognizer.DefaultConfig()
	cfg.ModelPath = orDefault(c.Recognize.ModelPath, models.GetTextRecognizerPath(c.ModelsDir))
	cfg.CharsetPath = c.Recognize.CharsetPath
	if cfg.CharsetPath == "" {
		cfg.CharsetPath = ifExists(models.GetCharsetPath(c.ModelsDir))
	}
	cfg.ImageHeight = c.Recognize.ImageHeight
	cfg.ImageWidth = c.Recognize.ImageWidth
	cfg.Clean.NormalizeForm = c.Recognize.NormalizeForm
	return cfg
}

// ContrastConfig returns the first preprocessing pass configuration.
func (c *Config) ContrastConfig() preprocess.ContrastConfig {
	return preprocess.ContrastConfig{
		ClipLimit:         c.Contrast.ClipLimit,
		TileGrid:          c.Contrast.TileGrid,
		IlluminationSigma: c.Contrast.IlluminationSigma,
		Gain:              c.Contrast.Gain,
		BlurSize:          c.Contrast.BlurSize,
		SharpenSize:       c.Contrast.SharpenSize,
	}
}

// DeblurConfig returns the second preprocessing pass configuration.
func (c *Config) DeblurConfig() preprocess.DeblurConfig {
	method, _ := preprocess.ParseDeblurMethod(c.Deblur.Method)
	return preprocess.DeblurConfig{
		Method:     method,
		PSFSize:    c.Deblur.PSFSize,
		PSFSigma:   c.Deblur.PSFSigma,
		Iterations: c.Deblur.Iterations,
	}
}

// FFmpegConfig returns the frame extraction configuration.
func (c *Config) FFmpegConfig() video.FFmpegConfig {
	return video.FFmpegConfig{
		FFmpegPath: c.Detect.FFmpegPath,
		Stride:     c.Detect.FrameStride,
		MaxFrames:  c.Detect.MaxFrames,
	}
}

// CropOptions returns how the detect stage cuts boxes out of frames.
func (c *Config) CropOptions() stage.CropOptions {
	return stage.CropOptions{Gain: c.Detect.CropGain, Pad: c.Detect.CropPad}
}

// RefinePolicy returns the parsed refine policy. Validate rejects bad names.
func (c *Config) RefinePolicy() stage.RefinePolicy {
	p, err := stage.ParseRefinePolicy(c.Refine.Policy)
	if err != nil {
		return stage.RefineEach
	}
	return p
}

// Modality returns the parsed detect modality. Validate rejects bad names.
func (c *Config) Modality() video.Modality {
	m, err := video.ParseModality(c.Detect.Modality)
	if err != nil {
		return video.ModalityAuto
	}
	return m
}

// Addr returns the server listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func orDefault(v, def string) string {
	if v != "" {
		return v
	}
	return def
}

func ifExists(path string) string {
	if _, err := os.Stat(path); err == nil {
		return path
	}
	return ""
}
