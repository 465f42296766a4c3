package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	// ConfigFileName is the base name for configuration files (without extension).
	ConfigFileName = "vidocr"

	// EnvPrefix is the prefix for environment variables.
	EnvPrefix = "VIDOCR"
)

// Loader handles loading configuration from various sources.
type Loader struct {
	v *viper.Viper
}

// NewLoader creates a loader on the global viper instance, which is where
// the command-line flags are bound.
func NewLoader() *Loader {
	return &Loader{v: viper.GetViper()}
}

// NewLoaderWithViper creates a loader on a private viper instance.
func NewLoaderWithViper(v *viper.Viper) *Loader {
	return &Loader{v: v}
}

// Load reads the first config file found in the search paths, then applies
// environment variables and defaults. A missing file is not an error.
func (l *Loader) Load() (*Config, error) {
	l.v.SetConfigName(ConfigFileName)
	l.v.SetConfigType("yaml")
	for _, p := range GetConfigSearchPaths() {
		l.v.AddConfigPath(p)
	}
	l.setupEnvironmentVariables()
	l.setDefaults()

	if err := l.v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}
	return l.finish()
}

// LoadWithFile loads configuration from a specific file path. An empty path
// falls back to Load.
func (l *Loader) LoadWithFile(configFile string) (*Config, error) {
	if configFile == "" {
		return l.Load()
	}
	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file does not exist: %s", configFile)
	}

	l.v.SetConfigFile(configFile)
	l.setupEnvironmentVariables()
	l.setDefaults()

	if err := l.v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
	}
	return l.finish()
}

func (l *Loader) finish() (*Config, error) {
	var config Config
	if err := l.v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if config.Verbose {
		config.LogLevel = "debug"
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &config, nil
}

// GetConfigFileUsed returns the path of the config file used.
func (l *Loader) GetConfigFileUsed() string {
	return l.v.ConfigFileUsed()
}

// setupEnvironmentVariables configures environment variable handling.
func (l *Loader) setupEnvironmentVariables() {
	l.v.SetEnvPrefix(EnvPrefix)
	l.v.AutomaticEnv()
	// detect.conf_threshold <- VIDOCR_DETECT_CONF_THRESHOLD
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
}

// setDefaults registers a default for every key, which also makes every key
// reachable through AutomaticEnv.
func (l *Loader) setDefaults() {
	d := DefaultConfig()

	l.v.SetDefault("models_dir", d.ModelsDir)
	l.v.SetDefault("log_level", d.LogLevel)
	l.v.SetDefault("verbose", d.Verbose)

	l.v.SetDefault("database.driver", d.Database.Driver)
	l.v.SetDefault("database.path", d.Database.Path)
	l.v.SetDefault("storage.root", d.Storage.Root)

	l.v.SetDefault("detect.model_path", d.Detect.ModelPath)
	l.v.SetDefault("detect.labels_path", d.Detect.LabelsPath)
	l.v.SetDefault("detect.input_size", d.Detect.InputSize)
	l.v.SetDefault("detect.conf_threshold", d.Detect.ConfThreshold)
	l.v.SetDefault("detect.iou_threshold", d.Detect.IoUThreshold)
	l.v.SetDefault("detect.nms_method", d.Detect.NMSMethod)
	l.v.SetDefault("detect.max_detections", d.Detect.MaxDetections)
	l.v.SetDefault("detect.modality", d.Detect.Modality)
	l.v.SetDefault("detect.frame_stride", d.Detect.FrameStride)
	l.v.SetDefault("detect.max_frames", d.Detect.MaxFrames)
	l.v.SetDefault("detect.ffmpeg_path", d.Detect.FFmpegPath)
	l.v.SetDefault("detect.crop_gain", d.Detect.CropGain)
	l.v.SetDefault("detect.crop_pad", d.Detect.CropPad)

	l.v.SetDefault("refine.model_path", d.Refine.ModelPath)
	l.v.SetDefault("refine.score_threshold", d.Refine.ScoreThreshold)
	l.v.SetDefault("refine.min_size", d.Refine.MinSize)
	l.v.SetDefault("refine.max_size", d.Refine.MaxSize)
	l.v.SetDefault("refine.pad", d.Refine.Pad)
	l.v.SetDefault("refine.policy", d.Refine.Policy)

	l.v.SetDefault("contrast.clip_limit", d.Contrast.ClipLimit)
	l.v.SetDefault("contrast.tile_grid", d.Contrast.TileGrid)
	l.v.SetDefault("contrast.illumination_sigma", d.Contrast.IlluminationSigma)
	l.v.SetDefault("contrast.gain", d.Contrast.Gain)
	l.v.SetDefault("contrast.blur_size", d.Contrast.BlurSize)
	l.v.SetDefault("contrast.sharpen_size", d.Contrast.SharpenSize)

	l.v.SetDefault("deblur.method", d.Deblur.Method)
	l.v.SetDefault("deblur.psf_size", d.Deblur.PSFSize)
	l.v.SetDefault("deblur.psf_sigma", d.Deblur.PSFSigma)
	l.v.SetDefault("deblur.iterations", d.Deblur.Iterations)

	l.v.SetDefault("recognize.model_path", d.Recognize.ModelPath)
	l.v.SetDefault("recognize.charset_path", d.Recognize.CharsetPath)
	l.v.SetDefault("recognize.image_height", d.Recognize.ImageHeight)
	l.v.SetDefault("recognize.image_width", d.Recognize.ImageWidth)
	l.v.SetDefault("recognize.normalize_form", d.Recognize.NormalizeForm)

	l.v.SetDefault("onnx.library_path", d.ONNX.LibraryPath)
	l.v.SetDefault("onnx.num_threads", d.ONNX.NumThreads)
	l.v.SetDefault("onnx.gpu.use_gpu", d.ONNX.GPU.UseGPU)
	l.v.SetDefault("onnx.gpu.device_id", d.ONNX.GPU.DeviceID)
	l.v.SetDefault("onnx.gpu.mem_limit", d.ONNX.GPU.GPUMemLimit)
	l.v.SetDefault("onnx.gpu.arena_extend_strategy", d.ONNX.GPU.ArenaExtendStrategy)
	l.v.SetDefault("onnx.gpu.cudnn_conv_algo_search", d.ONNX.GPU.CUDNNConvAlgoSearch)
	l.v.SetDefault("onnx.gpu.copy_in_default_stream", d.ONNX.GPU.DoCopyInDefaultStream)

	l.v.SetDefault("server.host", d.Server.Host)
	l.v.SetDefault("server.port", d.Server.Port)
	l.v.SetDefault("server.cors_origin", d.Server.CORSOrigin)
	l.v.SetDefault("server.max_upload_mb", d.Server.MaxUploadMB)
	l.v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)
	l.v.SetDefault("server.requests_per_minute", d.Server.RequestsPerMinute)
	l.v.SetDefault("server.max_upload_per_day_mb", d.Server.MaxUploadPerDayMB)
}

// GetConfigSearchPaths returns the paths where configuration files are searched.
func GetConfigSearchPaths() []string {
	paths := []string{"."}
	if configDir, exists := os.LookupEnv("XDG_CONFIG_HOME"); exists {
		paths = append(paths, filepath.Join(configDir, ConfigFileName))
	} else if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", ConfigFileName))
	}
	return append(paths, "/etc/vidocr")
}

// MarshalYAML renders a configuration the way config files are written.
func MarshalYAML(c *Config) ([]byte, error) {
	return yaml.Marshal(c)
}

// WriteDefaultConfigFile writes the default configuration to path. An
// existing file is only replaced when force is set.
func WriteDefaultConfigFile(path string, force bool) error {
	if path == "" {
		path = ConfigFileName + ".yaml"
	}
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file already exists: %s", path)
		}
	}
	d := DefaultConfig()
	data, err := MarshalYAML(&d)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	return os.WriteFile(path, data, 0o600)
}
