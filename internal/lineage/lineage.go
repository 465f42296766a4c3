// Package lineage defines the artifact records written by each pipeline stage
// and the foreign keys that link every record back to its source video.
//
// Records are append-only: a stage creates them once and nothing mutates them
// afterwards. Every downstream record carries VideoID in addition to its
// immediate parent so that a single lookup reaches the root.
package lineage

import (
	"fmt"
	"strings"
	"time"
)

// Stage names one step of the pipeline.
type Stage string

const (
	StageIngest      Stage = "ingest"
	StageDetect      Stage = "detect"
	StagePreprocessA Stage = "preprocess-a"
	StageRefine      Stage = "refine"
	StagePreprocessB Stage = "preprocess-b"
	StageRecognize   Stage = "recognize"
)

// Stages lists all stages in execution order.
var Stages = []Stage{
	StageIngest,
	StageDetect,
	StagePreprocessA,
	StageRefine,
	StagePreprocessB,
	StageRecognize,
}

// ParseStage converts a user supplied name into a Stage. Underscores are
// accepted in place of dashes.
func ParseStage(name string) (Stage, error) {
	normalized := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(name), "_", "-"))
	for _, s := range Stages {
		if string(s) == normalized {
			return s, nil
		}
	}
	return "", fmt.Errorf("unknown stage %q", name)
}

// Video is the root of every lineage chain.
type Video struct {
	ID           int64     `json:"id" yaml:"id"`
	UploadedAt   time.Time `json:"upload_timestamp" yaml:"upload_timestamp"`
	SourcePath   string    `json:"source_path" yaml:"source_path"`
	OriginalName string    `json:"original_name,omitempty" yaml:"original_name,omitempty"`
}

// DetectionBatch is the Detect stage output: one directory of crops per video.
type DetectionBatch struct {
	ID         int64     `json:"id" yaml:"id"`
	VideoID    int64     `json:"video_id" yaml:"video_id"`
	ResultDir  string    `json:"result_directory" yaml:"result_directory"`
	FrameCount int       `json:"frame_count" yaml:"frame_count"`
	CreatedAt  time.Time `json:"created_at" yaml:"created_at"`
}

// Crop is one detected region written into a DetectionBatch directory.
type Crop struct {
	ID         int64     `json:"id" yaml:"id"`
	VideoID    int64     `json:"video_id" yaml:"video_id"`
	BatchID    int64     `json:"detection_batch_id" yaml:"detection_batch_id"`
	FrameIndex int       `json:"frame_index" yaml:"frame_index"`
	ClassID    int       `json:"class_id" yaml:"class_id"`
	Label      string    `json:"label,omitempty" yaml:"label,omitempty"`
	Confidence float64   `json:"confidence" yaml:"confidence"`
	Box        Box       `json:"box" yaml:"box"`
	OutputPath string    `json:"output_path" yaml:"output_path"`
	CreatedAt  time.Time `json:"created_at" yaml:"created_at"`
}

// PreprocessedImage is the contrast-normalized version of one crop.
type PreprocessedImage struct {
	ID         int64     `json:"id" yaml:"id"`
	VideoID    int64     `json:"video_id" yaml:"video_id"`
	BatchID    int64     `json:"detection_batch_id" yaml:"detection_batch_id"`
	CropID     int64     `json:"crop_id" yaml:"crop_id"`
	OutputPath string    `json:"output_path" yaml:"output_path"`
	CreatedAt  time.Time `json:"created_at" yaml:"created_at"`
}

// RefinedDetection is a region found by the second detector inside a
// preprocessed image. OutputPath holds the representative crop; Boxes,
// Classes and Scores hold every box the record stands for.
type RefinedDetection struct {
	ID                  int64     `json:"id" yaml:"id"`
	VideoID             int64     `json:"video_id" yaml:"video_id"`
	PreprocessedImageID int64     `json:"preprocessed_image_id" yaml:"preprocessed_image_id"`
	OutputPath          string    `json:"output_path" yaml:"output_path"`
	Boxes               []Box     `json:"boxes" yaml:"boxes"`
	Classes             []int     `json:"classes" yaml:"classes"`
	Scores              []float64 `json:"scores" yaml:"scores"`
	CreatedAt           time.Time `json:"created_at" yaml:"created_at"`
}

// SharpenedImage is the deconvolved version of one refined detection crop.
type SharpenedImage struct {
	ID                 int64     `json:"id" yaml:"id"`
	VideoID            int64     `json:"video_id" yaml:"video_id"`
	RefinedDetectionID int64     `json:"refined_detection_id" yaml:"refined_detection_id"`
	OutputPath         string    `json:"output_path" yaml:"output_path"`
	CreatedAt          time.Time `json:"created_at" yaml:"created_at"`
}

// RecognizedText is the final stage output. OutputPath points at a text file
// holding Text.
type RecognizedText struct {
	ID               int64     `json:"id" yaml:"id"`
	VideoID          int64     `json:"video_id" yaml:"video_id"`
	SharpenedImageID int64     `json:"sharpened_image_id" yaml:"sharpened_image_id"`
	OutputPath       string    `json:"output_path" yaml:"output_path"`
	Text             string    `json:"text" yaml:"text"`
	RawText          string    `json:"raw_text" yaml:"raw_text"`
	Confidences      []float64 `json:"confidences" yaml:"confidences"`
	CreatedAt        time.Time `json:"created_at" yaml:"created_at"`
}
