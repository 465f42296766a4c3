package stage

import (
	"errors"
	"image"
	"log/slog"
	"os"

	"github.com/MeKo-Tech/vidocr/internal/lineage"
	"github.com/MeKo-Tech/vidocr/internal/store"
	"github.com/MeKo-Tech/vidocr/internal/utils"
)

// base holds what every executor needs and the lookup steps they share.
type base struct {
	stage  lineage.Stage
	store  store.Store
	layout Layout
}

func (b base) Stage() lineage.Stage { return b.stage }

// validate rejects missing identifiers before any side effect.
func (b base) validate(kind string, id int64) (Result, bool) {
	if id <= 0 {
		return ClientError(b.stage, "%s id is required", kind), false
	}
	return Result{}, true
}

// lookupFailed turns a store read error into a result. A missing record is
// not_found; anything else is unexpected.
func (b base) lookupFailed(kind string, id int64, err error) Result {
	if errors.Is(err, store.ErrNotFound) {
		return NotFound(b.stage, "%s %d not found", kind, id)
	}
	slog.Error("Artifact lookup failed", "stage", b.stage, "kind", kind, "id", id, "error", err)
	return InternalError(b.stage, "lookup %s %d: %v", kind, id, err)
}

// checkFile confirms the record's backing file is still on disk. The message
// differs from lookupFailed so callers can tell the two apart.
func (b base) checkFile(kind string, id int64, path string) (Result, bool) {
	if !utils.FileExists(path) {
		return NotFound(b.stage, "file for %s %d is missing: %s", kind, id, path), false
	}
	return Result{}, true
}

// loadImage decodes an input image; an unreadable image is a processing error.
func (b base) loadImage(path string) (image.Image, Result, bool) {
	img, _, err := utils.LoadImage(path)
	if err != nil {
		return nil, ProcessingError(b.stage, err), false
	}
	return img, Result{}, true
}

// recordFailed reports a failed insert after the outputs were written and
// removes them, since no record will reference them.
func (b base) recordFailed(kind string, err error, written ...string) Result {
	slog.Error("Artifact insert failed", "stage", b.stage, "kind", kind, "error", err)
	removeOutputs(written)
	return InternalError(b.stage, "record %s: %v", kind, err)
}

// removeOutputs deletes files or directories written by a call that will not
// be recorded.
func removeOutputs(paths []string) {
	for _, p := range paths {
		if err := os.RemoveAll(p); err != nil {
			slog.Warn("Failed to remove partial output", "path", p, "error", err)
		}
	}
}
