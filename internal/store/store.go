// Package store persists pipeline artifacts and their lineage.
//
// Two implementations share the Store interface: SQLite, backed by
// modernc.org/sqlite with golang-migrate managed schema, and Memory, used by
// tests and by dry runs. Both assign identifiers monotonically, never reuse
// them, and reject records whose foreign keys do not resolve.
package store

import (
	"context"
	"errors"

	"github.com/MeKo-Tech/vidocr/internal/lineage"
)

var (
	// ErrNotFound is returned when a lookup finds no record with the given id.
	ErrNotFound = errors.New("record not found")

	// ErrForeignKey is returned when an insert references a missing record.
	ErrForeignKey = errors.New("foreign key references a missing record")
)

// Store is the artifact store used by every stage executor.
//
// Insert methods ignore the ID and CreatedAt fields of their arguments and
// return the assigned identifiers. Methods that insert several records do so
// atomically.
type Store interface {
	InsertVideo(ctx context.Context, v lineage.Video) (int64, error)
	Video(ctx context.Context, id int64) (lineage.Video, error)

	InsertDetectionBatch(ctx context.Context, b lineage.DetectionBatch, crops []lineage.Crop) (int64, []int64, error)
	DetectionBatch(ctx context.Context, id int64) (lineage.DetectionBatch, error)
	Crop(ctx context.Context, id int64) (lineage.Crop, error)

	InsertPreprocessedImage(ctx context.Context, p lineage.PreprocessedImage) (int64, error)
	PreprocessedImage(ctx context.Context, id int64) (lineage.PreprocessedImage, error)

	InsertRefinedDetections(ctx context.Context, rs []lineage.RefinedDetection) ([]int64, error)
	RefinedDetection(ctx context.Context, id int64) (lineage.RefinedDetection, error)

	InsertSharpenedImage(ctx context.Context, s lineage.SharpenedImage) (int64, error)
	SharpenedImage(ctx context.Context, id int64) (lineage.SharpenedImage, error)

	InsertRecognizedText(ctx context.Context, r lineage.RecognizedText) (int64, error)
	RecognizedText(ctx context.Context, id int64) (lineage.RecognizedText, error)

	// Lineage returns every record rooted at the given video.
	Lineage(ctx context.Context, videoID int64) (*lineage.Chain, error)

	Close() error
}
