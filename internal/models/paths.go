// Package models resolves the locations of the model files used by the
// pipeline stages.
package models

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Model file names.
const (
	// ObjectDetector is the YOLO model used by the detect stage.
	ObjectDetector = "yolo_detect.onnx"
	// RegionDetector is the exported region detector used by the refine stage.
	RegionDetector = "std_region.onnx"
	// TextRecognizer is the PARSeq scene text recognizer.
	TextRecognizer = "parseq_str.onnx"

	// ObjectLabels lists YOLO class names, one per line.
	ObjectLabels = "yolo_labels.txt"
	// RecognizerCharset lists the recognizer charset, one symbol per line.
	RecognizerCharset = "parseq_charset.txt"
)

// Model type categories for the directory structure.
const (
	TypeDetection   = "detection"
	TypeRefine      = "refine"
	TypeRecognition = "recognition"
)

// DefaultModelsDir is used when nothing else is configured.
const DefaultModelsDir = "models"

// EnvModelsDir overrides the models directory.
const EnvModelsDir = "VIDOCR_MODELS_DIR"

// findProjectRoot finds the project root by looking for go.mod.
func findProjectRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", errors.New("could not find project root (go.mod not found)")
}

// ModelInfo contains metadata about a model file.
type ModelInfo struct {
	Name        string
	Type        string
	Description string
	Filename    string
}

// GetModelsDir returns the models directory path.
// Priority: 1. Explicit modelsDir parameter, 2. Environment variable, 3. Project root + default.
func GetModelsDir(modelsDir string) string {
	if modelsDir != "" {
		return modelsDir
	}

	if envDir := os.Getenv(EnvModelsDir); envDir != "" {
		return envDir
	}

	if projectRoot, err := findProjectRoot(); err == nil {
		return filepath.Join(projectRoot, DefaultModelsDir)
	}

	return DefaultModelsDir
}

// ResolveModelPath resolves a model filename to its full path. The organized
// layout <dir>/<type>/<file> wins over a flat <dir>/<file> when it exists.
func ResolveModelPath(modelsDir, modelType, filename string) string {
	baseDir := GetModelsDir(modelsDir)

	if modelType != "" {
		organizedPath := filepath.Join(baseDir, modelType, filename)
		if _, err := os.Stat(organizedPath); err == nil {
			return organizedPath
		}
	}

	return filepath.Join(baseDir, filename)
}

// GetObjectDetectorPath returns the path of the YOLO model.
func GetObjectDetectorPath(modelsDir string) string {
	return ResolveModelPath(modelsDir, TypeDetection, ObjectDetector)
}

// GetObjectLabelsPath returns the path of the YOLO class names file.
func GetObjectLabelsPath(modelsDir string) string {
	return ResolveModelPath(modelsDir, TypeDetection, ObjectLabels)
}

// GetRegionDetectorPath returns the path of the region detector model.
func GetRegionDetectorPath(modelsDir string) string {
	return ResolveModelPath(modelsDir, TypeRefine, RegionDetector)
}

// GetTextRecognizerPath returns the path of the recognizer model.
func GetTextRecognizerPath(modelsDir string) string {
	return ResolveModelPath(modelsDir, TypeRecognition, TextRecognizer)
}

// GetCharsetPath returns the path of the recognizer charset file.
func GetCharsetPath(modelsDir string) string {
	return ResolveModelPath(modelsDir, TypeRecognition, RecognizerCharset)
}

// ValidateModelExists checks if a model file exists at the given path.
func ValidateModelExists(modelPath string) error {
	if _, err := os.Stat(modelPath); os.IsNotExist(err) {
		return fmt.Errorf("model file not found: %s", modelPath)
	}
	return nil
}

// ListAvailableModels returns information about the models the pipeline uses.
func ListAvailableModels() []ModelInfo {
	return []ModelInfo{
		{Name: "object-detector", Type: TypeDetection, Description: "YOLO object detector", Filename: ObjectDetector},
		{Name: "object-labels", Type: TypeDetection, Description: "YOLO class names", Filename: ObjectLabels},
		{Name: "region-detector", Type: TypeRefine, Description: "Scene text region detector", Filename: RegionDetector},
		{Name: "text-recognizer", Type: TypeRecognition, Description: "PARSeq scene text recognizer", Filename: TextRecognizer},
		{Name: "recognizer-charset", Type: TypeRecognition, Description: "Recognizer charset", Filename: RecognizerCharset},
	}
}
