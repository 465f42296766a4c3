package stage

import (
	"context"
	"fmt"
	"image"
	"log/slog"

	"github.com/MeKo-Tech/vidocr/internal/lineage"
	"github.com/MeKo-Tech/vidocr/internal/store"
	"github.com/MeKo-Tech/vidocr/internal/utils"
)

// RefinePolicy decides how many records one preprocessed image yields when
// the region detector finds several boxes.
type RefinePolicy string

const (
	// RefineEach writes one record, and one downstream chain, per box.
	RefineEach RefinePolicy = "each"
	// RefineLast writes a single record cropped from the last box and keeps
	// every box's metadata on it.
	RefineLast RefinePolicy = "last"
)

// ParseRefinePolicy validates a policy name. Empty means RefineEach.
func ParseRefinePolicy(s string) (RefinePolicy, error) {
	switch RefinePolicy(s) {
	case "", RefineEach:
		return RefineEach, nil
	case RefineLast:
		return RefineLast, nil
	default:
		return "", fmt.Errorf("invalid refine policy %q (must be %q or %q)", s, RefineEach, RefineLast)
	}
}

// Refine runs the region detector on a preprocessed image and crops each
// region it finds.
type Refine struct {
	base
	detector ObjectDetector
	pad      int
	policy   RefinePolicy
}

// NewRefine creates the refine executor. pad is the number of pixels added
// around every box before cropping.
func NewRefine(st store.Store, layout Layout, detector ObjectDetector, pad int, policy RefinePolicy) *Refine {
	if policy == "" {
		policy = RefineEach
	}
	return &Refine{
		base:     base{stage: lineage.StageRefine, store: st, layout: layout},
		detector: detector,
		pad:      pad,
		policy:   policy,
	}
}

// Cardinality is ZeroOrMore.
func (e *Refine) Cardinality() Cardinality { return ZeroOrMore }

// Policy returns the configured box policy.
func (e *Refine) Policy() RefinePolicy { return e.policy }

// Execute refines the preprocessed image with the given id.
func (e *Refine) Execute(ctx context.Context, preID int64) Result {
	if r, ok := e.validate("preprocessed image", preID); !ok {
		return r
	}
	pre, err := e.store.PreprocessedImage(ctx, preID)
	if err != nil {
		return e.lookupFailed("preprocessed image", preID, err)
	}
	if r, ok := e.checkFile("preprocessed image", preID, pre.OutputPath); !ok {
		return r
	}
	img, r, ok := e.loadImage(pre.OutputPath)
	if !ok {
		return r
	}

	dets, err := e.detector.Detect(ctx, img)
	if err != nil {
		return ProcessingError(e.stage, err)
	}

	type region struct {
		det  lineage.Detection
		rect image.Rectangle
	}
	regions := make([]region, 0, len(dets))
	for _, d := range dets {
		if rect := d.Box.Scale(1, e.pad, img.Bounds()); !rect.Empty() {
			regions = append(regions, region{det: d, rect: rect})
		}
	}
	if len(regions) == 0 {
		return Empty(e.stage, fmt.Sprintf("no detections found in preprocessed image %d", preID))
	}

	var records []lineage.RefinedDetection
	switch e.policy {
	case RefineLast:
		last := regions[len(regions)-1]
		rec := lineage.RefinedDetection{VideoID: pre.VideoID, PreprocessedImageID: preID}
		for _, reg := range regions {
			rec.Boxes = append(rec.Boxes, reg.det.Box)
			rec.Classes = append(rec.Classes, reg.det.ClassID)
			rec.Scores = append(rec.Scores, reg.det.Confidence)
		}
		records = []lineage.RefinedDetection{rec}
		regions = []region{last}
	default:
		for _, reg := range regions {
			records = append(records, lineage.RefinedDetection{
				VideoID:             pre.VideoID,
				PreprocessedImageID: preID,
				Boxes:               []lineage.Box{reg.det.Box},
				Classes:             []int{reg.det.ClassID},
				Scores:              []float64{reg.det.Confidence},
			})
		}
	}

	written := make([]string, 0, len(regions))
	for i, reg := range regions {
		path := e.layout.NewPath(e.stage, preID, ".png")
		if err := utils.SaveImage(path, utils.CropImageRect(img, reg.rect)); err != nil {
			removeOutputs(written)
			return ProcessingError(e.stage, err)
		}
		written = append(written, path)
		records[i].OutputPath = path
	}

	ids, err := e.store.InsertRefinedDetections(ctx, records)
	if err != nil {
		return e.recordFailed("refined detection", err, written...)
	}

	payloads := make([]any, len(records))
	for i := range records {
		records[i].ID = ids[i]
		payloads[i] = records[i]
	}
	slog.Debug("Preprocessed image refined", "preprocessed_image_id", preID,
		"boxes", len(dets), "records", len(ids), "policy", e.policy)
	return Success(e.stage, ids, payloads)
}

