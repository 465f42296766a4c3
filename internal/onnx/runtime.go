// Package onnx wraps onnxruntime: locating the shared library, initializing
// the environment once per process and running models with named inputs and
// outputs.
package onnx

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/yalue/onnxruntime_go"
)

// Config is shared by every model session.
type Config struct {
	// LibraryPath points at libonnxruntime; empty means search the usual places.
	LibraryPath string    `mapstructure:"library_path" yaml:"library_path" json:"library_path"`
	NumThreads  int       `mapstructure:"num_threads" yaml:"num_threads" json:"num_threads"` // 0 = runtime default
	GPU         GPUConfig `mapstructure:"gpu" yaml:"gpu" json:"gpu"`
}

// DefaultConfig returns a CPU-only configuration.
func DefaultConfig() Config {
	return Config{GPU: DefaultGPUConfig()}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.NumThreads < 0 {
		return fmt.Errorf("num_threads must be non-negative, got %d", c.NumThreads)
	}
	return ValidateGPUConfig(c.GPU)
}

// ErrLibraryNotFound is returned when no onnxruntime shared library exists.
var ErrLibraryNotFound = errors.New("onnxruntime library not found")

var envMu sync.Mutex

// InitEnvironment sets the shared library path and initializes onnxruntime.
// Calling it again after a successful initialization does nothing.
func InitEnvironment(cfg Config) error {
	envMu.Lock()
	defer envMu.Unlock()

	if onnxruntime_go.IsInitialized() {
		return nil
	}
	path, err := ResolveLibraryPath(cfg.LibraryPath, cfg.GPU.UseGPU)
	if err != nil {
		return err
	}
	onnxruntime_go.SetSharedLibraryPath(path)
	if err := onnxruntime_go.InitializeEnvironment(); err != nil {
		return fmt.Errorf("failed to initialize ONNX Runtime: %w", err)
	}
	slog.Debug("ONNX Runtime initialized", "library", path, "gpu", cfg.GPU.UseGPU)
	return nil
}

// DestroyEnvironment tears onnxruntime down at process exit.
func DestroyEnvironment() {
	envMu.Lock()
	defer envMu.Unlock()
	if onnxruntime_go.IsInitialized() {
		if err := onnxruntime_go.DestroyEnvironment(); err != nil {
			slog.Warn("Failed to destroy ONNX Runtime environment", "error", err)
		}
	}
}

// ResolveLibraryPath returns explicit when it exists, otherwise the first
// library found in the system locations, ONNXRUNTIME_LIB or ./onnxruntime/lib.
func ResolveLibraryPath(explicit string, useGPU bool) (string, error) {
	if explicit != "" {
		if fileExists(explicit) {
			return explicit, nil
		}
		return "", fmt.Errorf("%w at %s", ErrLibraryNotFound, explicit)
	}
	for _, p := range candidateLibraryPaths(useGPU) {
		if fileExists(p) {
			return p, nil
		}
	}
	return "", ErrLibraryNotFound
}

func candidateLibraryPaths(useGPU bool) []string {
	var paths []string
	if env := os.Getenv("ONNXRUNTIME_LIB"); env != "" {
		paths = append(paths, env)
	}
	if useGPU {
		paths = append(paths, "/opt/onnxruntime/gpu/lib/libonnxruntime.so")
	}
	paths = append(paths,
		"/usr/local/lib/libonnxruntime.so",
		"/usr/lib/libonnxruntime.so",
		"/opt/onnxruntime/cpu/lib/libonnxruntime.so",
	)
	if name, err := libraryName(); err == nil {
		if cwd, err := os.Getwd(); err == nil {
			if useGPU {
				paths = append(paths, filepath.Join(cwd, "onnxruntime", "gpu", "lib", name))
			}
			paths = append(paths, filepath.Join(cwd, "onnxruntime", "lib", name))
		}
	}
	return paths
}

func libraryName() (string, error) {
	switch runtime.GOOS {
	case "linux":
		return "libonnxruntime.so", nil
	case "darwin":
		return "libonnxruntime.dylib", nil
	case "windows":
		return "onnxruntime.dll", nil
	default:
		return "", fmt.Errorf("unsupported operating system: %s", runtime.GOOS)
	}
}

func fileExists(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && !fi.IsDir()
}
