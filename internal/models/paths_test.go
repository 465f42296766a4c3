package models

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetModelsDir(t *testing.T) {
	t.Run("explicit wins", func(t *testing.T) {
		t.Setenv(EnvModelsDir, "/from/env")
		assert.Equal(t, "/explicit", GetModelsDir("/explicit"))
	})

	t.Run("environment", func(t *testing.T) {
		t.Setenv(EnvModelsDir, "/from/env")
		assert.Equal(t, "/from/env", GetModelsDir(""))
	})

	t.Run("project root", func(t *testing.T) {
		t.Setenv(EnvModelsDir, "")
		root, err := findProjectRoot()
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(root, DefaultModelsDir), GetModelsDir(""))
	})
}

func TestResolveModelPath(t *testing.T) {
	dir := t.TempDir()

	assert.Equal(t, filepath.Join(dir, ObjectDetector), GetObjectDetectorPath(dir), "flat layout fallback")

	organized := filepath.Join(dir, TypeRecognition, TextRecognizer)
	require.NoError(t, os.MkdirAll(filepath.Dir(organized), 0o755))
	require.NoError(t, os.WriteFile(organized, []byte("onnx"), 0o600))
	assert.Equal(t, organized, GetTextRecognizerPath(dir))

	assert.Equal(t, filepath.Join(dir, RegionDetector), GetRegionDetectorPath(dir))
	assert.Equal(t, filepath.Join(dir, RecognizerCharset), GetCharsetPath(dir))
	assert.Equal(t, filepath.Join(dir, ObjectLabels), GetObjectLabelsPath(dir))
}

func TestValidateModelExists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "m.onnx")
	assert.Error(t, ValidateModelExists(path))
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o600))
	assert.NoError(t, ValidateModelExists(path))
}

func TestListAvailableModels(t *testing.T) {
	seen := map[string]bool{}
	for _, m := range ListAvailableModels() {
		assert.NotEmpty(t, m.Filename)
		assert.False(t, seen[m.Name], "duplicate model %s", m.Name)
		seen[m.Name] = true
	}
	assert.Len(t, seen, 5)
}
