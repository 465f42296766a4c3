package stage

import (
	"context"
	"errors"
	"log/slog"

	"github.com/MeKo-Tech/vidocr/internal/lineage"
	"github.com/MeKo-Tech/vidocr/internal/store"
	"github.com/MeKo-Tech/vidocr/internal/utils"
)

// applyTransform loads the image at src, runs t over it and writes the result
// to a fresh path derived from parentID. It returns the output path.
func (b base) applyTransform(t ImageTransform, parentID int64, src string) (string, Result, bool) {
	img, r, ok := b.loadImage(src)
	if !ok {
		return "", r, false
	}
	out, err := t.Apply(img)
	if err != nil {
		return "", ProcessingError(b.stage, err), false
	}
	if out == nil || out.Bounds().Empty() {
		return "", ProcessingError(b.stage, errors.New("transform returned an empty image")), false
	}
	path := b.layout.NewPath(b.stage, parentID, ".png")
	if err := utils.SaveImage(path, out); err != nil {
		return "", ProcessingError(b.stage, err), false
	}
	return path, Result{}, true
}

// PreprocessA normalizes contrast and illumination of one crop.
type PreprocessA struct {
	base
	transform ImageTransform
}

// NewPreprocessA creates the first preprocessing executor.
func NewPreprocessA(st store.Store, layout Layout, t ImageTransform) *PreprocessA {
	return &PreprocessA{base: base{stage: lineage.StagePreprocessA, store: st, layout: layout}, transform: t}
}

// Cardinality is ExactlyOne.
func (e *PreprocessA) Cardinality() Cardinality { return ExactlyOne }

// Execute preprocesses the crop with the given id.
func (e *PreprocessA) Execute(ctx context.Context, cropID int64) Result {
	if r, ok := e.validate("crop", cropID); !ok {
		return r
	}
	crop, err := e.store.Crop(ctx, cropID)
	if err != nil {
		return e.lookupFailed("crop", cropID, err)
	}
	if r, ok := e.checkFile("crop", cropID, crop.OutputPath); !ok {
		return r
	}
	path, r, ok := e.applyTransform(e.transform, cropID, crop.OutputPath)
	if !ok {
		return r
	}

	rec := lineage.PreprocessedImage{
		VideoID:    crop.VideoID,
		BatchID:    crop.BatchID,
		CropID:     cropID,
		OutputPath: path,
	}
	id, err := e.store.InsertPreprocessedImage(ctx, rec)
	if err != nil {
		return e.recordFailed("preprocessed image", err, path)
	}
	rec.ID = id

	slog.Debug("Crop preprocessed", "crop_id", cropID, "id", id, "path", path)
	return Success(e.stage, []int64{id}, []any{rec})
}

// PreprocessB sharpens one refined detection crop.
type PreprocessB struct {
	base
	transform ImageTransform
}

// NewPreprocessB creates the second preprocessing executor.
func NewPreprocessB(st store.Store, layout Layout, t ImageTransform) *PreprocessB {
	return &PreprocessB{base: base{stage: lineage.StagePreprocessB, store: st, layout: layout}, transform: t}
}

// Cardinality is ExactlyOne.
func (e *PreprocessB) Cardinality() Cardinality { return ExactlyOne }

// Execute sharpens the refined detection with the given id.
func (e *PreprocessB) Execute(ctx context.Context, refinedID int64) Result {
	if r, ok := e.validate("refined detection", refinedID); !ok {
		return r
	}
	refined, err := e.store.RefinedDetection(ctx, refinedID)
	if err != nil {
		return e.lookupFailed("refined detection", refinedID, err)
	}
	if r, ok := e.checkFile("refined detection", refinedID, refined.OutputPath); !ok {
		return r
	}
	path, r, ok := e.applyTransform(e.transform, refinedID, refined.OutputPath)
	if !ok {
		return r
	}

	rec := lineage.SharpenedImage{
		VideoID:            refined.VideoID,
		RefinedDetectionID: refinedID,
		OutputPath:         path,
	}
	id, err := e.store.InsertSharpenedImage(ctx, rec)
	if err != nil {
		return e.recordFailed("sharpened image", err, path)
	}
	rec.ID = id

	slog.Debug("Detection sharpened", "refined_detection_id", refinedID, "id", id, "path", path)
	return Success(e.stage, []int64{id}, []any{rec})
}
