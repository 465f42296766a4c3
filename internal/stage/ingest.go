package stage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/MeKo-Tech/vidocr/internal/lineage"
	"github.com/MeKo-Tech/vidocr/internal/store"
	"github.com/MeKo-Tech/vidocr/internal/utils"
)

// Upload is a video (or still image) handed to the pipeline.
type Upload struct {
	Filename string
	Body     io.Reader
}

// Ingest stores an upload and creates the root Video record.
type Ingest struct {
	base
}

// NewIngest creates the ingest executor.
func NewIngest(st store.Store, layout Layout) *Ingest {
	return &Ingest{base: base{stage: lineage.StageIngest, store: st, layout: layout}}
}

// Cardinality is always ExactlyOne: one upload, one video.
func (e *Ingest) Cardinality() Cardinality { return ExactlyOne }

// Ingest writes the upload below the layout root and records it.
func (e *Ingest) Ingest(ctx context.Context, up Upload) Result {
	name := filepath.Base(strings.TrimSpace(up.Filename))
	if up.Body == nil || name == "" || name == "." || name == string(filepath.Separator) {
		return ClientError(e.stage, "no file provided")
	}

	path := filepath.Join(e.layout.Dir(e.stage), uuid.NewString()+"_"+name)
	n, err := utils.WriteReaderSync(path, up.Body)
	if err != nil {
		return ProcessingError(e.stage, fmt.Errorf("store upload: %w", err))
	}
	if n == 0 {
		_ = os.Remove(path)
		return ClientError(e.stage, "uploaded file %q is empty", name)
	}

	id, err := e.store.InsertVideo(ctx, lineage.Video{
		UploadedAt:   time.Now().UTC(),
		SourcePath:   path,
		OriginalName: name,
	})
	if err != nil {
		return e.recordFailed("video", err, path)
	}

	slog.Info("Video ingested", "video_id", id, "path", path, "bytes", n)
	video, err := e.store.Video(ctx, id)
	if err != nil {
		return e.lookupFailed("video", id, err)
	}
	return Success(e.stage, []int64{id}, []any{video})
}

// IngestFile ingests a file already on disk by copying it.
func (e *Ingest) IngestFile(ctx context.Context, path string) Result {
	if strings.TrimSpace(path) == "" {
		return ClientError(e.stage, "no file provided")
	}
	f, err := os.Open(path) //nolint:gosec // G304: path is supplied by the operator
	if err != nil {
		if os.IsNotExist(err) {
			return NotFound(e.stage, "input file %s does not exist", path)
		}
		return ProcessingError(e.stage, err)
	}
	defer func() { _ = f.Close() }()
	return e.Ingest(ctx, Upload{Filename: filepath.Base(path), Body: f})
}
