package onnx

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultGPUConfig(t *testing.T) {
	config := DefaultGPUConfig()
	assert.False(t, config.UseGPU)
	assert.Equal(t, "kNextPowerOfTwo", config.ArenaExtendStrategy)
	assert.Equal(t, "DEFAULT", config.CUDNNConvAlgoSearch)
	assert.True(t, config.DoCopyInDefaultStream)
}

func TestValidateGPUConfig(t *testing.T) {
	tests := []struct {
		name    string
		config  GPUConfig
		wantErr bool
	}{
		{"cpu only", DefaultGPUConfig(), false},
		{"valid gpu", GPUConfig{UseGPU: true, ArenaExtendStrategy: "kSameAsRequested", CUDNNConvAlgoSearch: "HEURISTIC"}, false},
		{"negative device", GPUConfig{UseGPU: true, DeviceID: -1}, true},
		{"bad arena strategy", GPUConfig{UseGPU: true, ArenaExtendStrategy: "invalid"}, true},
		{"bad algo search", GPUConfig{UseGPU: true, CUDNNConvAlgoSearch: "invalid"}, true},
		{"invalid values ignored without gpu", GPUConfig{DeviceID: -1, ArenaExtendStrategy: "invalid"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateGPUConfig(tt.config)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCUDASettings(t *testing.T) {
	cfg := DefaultGPUConfig()
	cfg.DeviceID = 1
	cfg.GPUMemLimit = 1 << 30
	cfg.DoCopyInDefaultStream = false

	settings := cfg.cudaSettings()
	assert.Equal(t, "1", settings["device_id"])
	assert.Equal(t, "1073741824", settings["gpu_mem_limit"])
	assert.Equal(t, "0", settings["do_copy_in_default_stream"])

	_, ok := DefaultGPUConfig().cudaSettings()["gpu_mem_limit"]
	assert.False(t, ok, "unlimited memory is not passed on")
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
	cfg := DefaultConfig()
	cfg.NumThreads = -2
	assert.Error(t, cfg.Validate())
}

func TestResolveLibraryPath(t *testing.T) {
	dir := t.TempDir()
	lib := filepath.Join(dir, "libonnxruntime.so")
	require.NoError(t, os.WriteFile(lib, []byte{0}, 0o600))

	got, err := ResolveLibraryPath(lib, false)
	require.NoError(t, err)
	assert.Equal(t, lib, got)

	_, err = ResolveLibraryPath(filepath.Join(dir, "missing.so"), false)
	assert.ErrorIs(t, err, ErrLibraryNotFound)

	_, err = ResolveLibraryPath(dir, false)
	assert.ErrorIs(t, err, ErrLibraryNotFound, "directories are not libraries")

	t.Setenv("ONNXRUNTIME_LIB", lib)
	assert.Equal(t, lib, candidateLibraryPaths(false)[0])
}

func TestNewImageTensor(t *testing.T) {
	tensor, err := NewImageTensor(make([]float32, 3*4*5), 3, 4, 5)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 3, 4, 5}, tensor.Shape)
	require.NoError(t, ValidateNCHW(tensor.Shape))

	_, err = NewImageTensor(nil, 3, 4, 5)
	assert.Error(t, err)
	_, err = NewImageTensor(make([]float32, 7), 3, 4, 5)
	assert.Error(t, err)
}

func TestValidateNCHW(t *testing.T) {
	assert.Error(t, ValidateNCHW([]int64{1, 3, 4}))
	assert.Error(t, ValidateNCHW([]int64{1, 3, 0, 4}))
}

func TestOutputConversions(t *testing.T) {
	f := Output{Float32: []float32{1.5, 2.9}}
	assert.Equal(t, 2, f.Len())
	assert.Equal(t, []float64{1.5, float64(float32(2.9))}, f.Floats())
	assert.Equal(t, []int{1, 2}, f.Ints())

	i := Output{Int64: []int64{3, 7}}
	assert.Equal(t, []float64{3, 7}, i.Floats())
	assert.Equal(t, []int{3, 7}, i.Ints())
}

func TestOpenSessionRequiresModel(t *testing.T) {
	_, err := OpenSession("", DefaultConfig())
	assert.ErrorContains(t, err, "model path cannot be empty")

	_, err = OpenSession(filepath.Join(t.TempDir(), "missing.onnx"), DefaultConfig())
	assert.ErrorContains(t, err, "model file not found")
}
