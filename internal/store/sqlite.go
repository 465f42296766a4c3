package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/MeKo-Tech/vidocr/internal/lineage"
	_ "modernc.org/sqlite"
)

// pragmas are applied to every pooled connection through the DSN, since
// foreign_keys is a per-connection setting in SQLite.
var pragmas = []string{
	"foreign_keys(1)",
	"busy_timeout(5000)",
	"journal_mode(WAL)",
	"synchronous(NORMAL)",
	"temp_store(MEMORY)",
}

// SQLite is a Store backed by a SQLite database file.
type SQLite struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

// OpenSQLite opens (creating if needed) the database at path. It does not run
// migrations; call MigrateUp before first use.
func OpenSQLite(path string) (*SQLite, error) {
	if path == "" {
		return nil, errors.New("database path is empty")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	params := make([]string, 0, len(pragmas))
	for _, p := range pragmas {
		params = append(params, "_pragma="+p)
	}
	dsn := fmt.Sprintf("file:%s?%s", path, strings.Join(params, "&"))

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database %s: %w", path, err)
	}

	slog.Debug("Opened artifact store", "path", path)
	return &SQLite{
		db:   db,
		path: path,
		now:  func() time.Time { return time.Now().UTC() },
	}, nil
}

// Path returns the database file path.
func (s *SQLite) Path() string { return s.path }

// Close closes the underlying database.
func (s *SQLite) Close() error { return s.db.Close() }

// DB exposes the underlying handle for health checks.
func (s *SQLite) DB() *sql.DB { return s.db }

func (s *SQLite) stamp() string { return s.now().Format(time.RFC3339Nano) }

func parseStamp(v string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}
	}
	return t
}

// mapErr translates driver errors into the package sentinels.
func mapErr(kind string, id int64, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("%s %d: %w", kind, id, ErrNotFound)
	case strings.Contains(err.Error(), "FOREIGN KEY constraint failed"):
		return fmt.Errorf("%s: %w", kind, ErrForeignKey)
	case strings.Contains(err.Error(), "lineage mismatch"):
		return fmt.Errorf("%s: %v: %w", kind, err, ErrForeignKey)
	default:
		return fmt.Errorf("%s: %w", kind, err)
	}
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insert(ctx context.Context, x execer, kind, query string, args ...any) (int64, error) {
	res, err := x.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, mapErr("insert "+kind, 0, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert %s: %w", kind, err)
	}
	return id, nil
}

func (s *SQLite) InsertVideo(ctx context.Context, v lineage.Video) (int64, error) {
	uploaded := v.UploadedAt
	if uploaded.IsZero() {
		uploaded = s.now()
	}
	return insert(ctx, s.db, "video",
		`INSERT INTO videos (uploaded_at, source_path, original_name) VALUES (?, ?, ?)`,
		uploaded.UTC().Format(time.RFC3339Nano), v.SourcePath, v.OriginalName)
}

func (s *SQLite) Video(ctx context.Context, id int64) (lineage.Video, error) {
	var (
		v        lineage.Video
		uploaded string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, uploaded_at, source_path, original_name FROM videos WHERE id = ?`, id).
		Scan(&v.ID, &uploaded, &v.SourcePath, &v.OriginalName)
	if err != nil {
		return lineage.Video{}, mapErr("video", id, err)
	}
	v.UploadedAt = parseStamp(uploaded)
	return v, nil
}

func (s *SQLite) InsertDetectionBatch(ctx context.Context, b lineage.DetectionBatch, crops []lineage.Crop) (int64, []int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("begin detection batch: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := s.stamp()
	batchID, err := insert(ctx, tx, "detection batch",
		`INSERT INTO detection_batches (video_id, result_dir, frame_count, created_at) VALUES (?, ?, ?, ?)`,
		b.VideoID, b.ResultDir, b.FrameCount, now)
	if err != nil {
		return 0, nil, err
	}

	ids := make([]int64, 0, len(crops))
	for _, c := range crops {
		box, err := json.Marshal(c.Box)
		if err != nil {
			return 0, nil, fmt.Errorf("encode crop box: %w", err)
		}
		id, err := insert(ctx, tx, "crop",
			`INSERT INTO crops (video_id, batch_id, frame_index, class_id, label, confidence, box, output_path, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			c.VideoID, batchID, c.FrameIndex, c.ClassID, c.Label, c.Confidence, string(box), c.OutputPath, now)
		if err != nil {
			return 0, nil, err
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(); err != nil {
		return 0, nil, fmt.Errorf("commit detection batch: %w", err)
	}
	return batchID, ids, nil
}

const batchColumns = `id, video_id, result_dir, frame_count, created_at`

func scanBatch(row interface{ Scan(...any) error }) (lineage.DetectionBatch, error) {
	var (
		b       lineage.DetectionBatch
		created string
	)
	if err := row.Scan(&b.ID, &b.VideoID, &b.ResultDir, &b.FrameCount, &created); err != nil {
		return lineage.DetectionBatch{}, err
	}
	b.CreatedAt = parseStamp(created)
	return b, nil
}

func (s *SQLite) DetectionBatch(ctx context.Context, id int64) (lineage.DetectionBatch, error) {
	b, err := scanBatch(s.db.QueryRowContext(ctx,
		`SELECT `+batchColumns+` FROM detection_batches WHERE id = ?`, id))
	return b, mapErr("detection batch", id, err)
}

const cropColumns = `id, video_id, batch_id, frame_index, class_id, label, confidence, box, output_path, created_at`

func scanCrop(row interface{ Scan(...any) error }) (lineage.Crop, error) {
	var (
		c       lineage.Crop
		box     string
		created string
	)
	if err := row.Scan(&c.ID, &c.VideoID, &c.BatchID, &c.FrameIndex, &c.ClassID, &c.Label,
		&c.Confidence, &box, &c.OutputPath, &created); err != nil {
		return lineage.Crop{}, err
	}
	if err := json.Unmarshal([]byte(box), &c.Box); err != nil {
		return lineage.Crop{}, fmt.Errorf("decode crop box: %w", err)
	}
	c.CreatedAt = parseStamp(created)
	return c, nil
}

func (s *SQLite) Crop(ctx context.Context, id int64) (lineage.Crop, error) {
	c, err := scanCrop(s.db.QueryRowContext(ctx, `SELECT `+cropColumns+` FROM crops WHERE id = ?`, id))
	return c, mapErr("crop", id, err)
}

func (s *SQLite) InsertPreprocessedImage(ctx context.Context, p lineage.PreprocessedImage) (int64, error) {
	return insert(ctx, s.db, "preprocessed image",
		`INSERT INTO preprocessed_images (video_id, batch_id, crop_id, output_path, created_at) VALUES (?, ?, ?, ?, ?)`,
		p.VideoID, p.BatchID, p.CropID, p.OutputPath, s.stamp())
}

const preprocessedColumns = `id, video_id, batch_id, crop_id, output_path, created_at`

func scanPreprocessed(row interface{ Scan(...any) error }) (lineage.PreprocessedImage, error) {
	var (
		p       lineage.PreprocessedImage
		created string
	)
	if err := row.Scan(&p.ID, &p.VideoID, &p.BatchID, &p.CropID, &p.OutputPath, &created); err != nil {
		return lineage.PreprocessedImage{}, err
	}
	p.CreatedAt = parseStamp(created)
	return p, nil
}

func (s *SQLite) PreprocessedImage(ctx context.Context, id int64) (lineage.PreprocessedImage, error) {
	p, err := scanPreprocessed(s.db.QueryRowContext(ctx,
		`SELECT `+preprocessedColumns+` FROM preprocessed_images WHERE id = ?`, id))
	return p, mapErr("preprocessed image", id, err)
}

func (s *SQLite) InsertRefinedDetections(ctx context.Context, rs []lineage.RefinedDetection) ([]int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin refined detections: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := s.stamp()
	ids := make([]int64, 0, len(rs))
	for _, r := range rs {
		boxes, classes, scores, err := encodeRefined(r)
		if err != nil {
			return nil, err
		}
		id, err := insert(ctx, tx, "refined detection",
			`INSERT INTO refined_detections (video_id, preprocessed_image_id, output_path, boxes, classes, scores, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			r.VideoID, r.PreprocessedImageID, r.OutputPath, boxes, classes, scores, now)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit refined detections: %w", err)
	}
	return ids, nil
}

func encodeRefined(r lineage.RefinedDetection) (string, string, string, error) {
	boxes, err := json.Marshal(nonNil(r.Boxes))
	if err != nil {
		return "", "", "", fmt.Errorf("encode boxes: %w", err)
	}
	classes, err := json.Marshal(nonNil(r.Classes))
	if err != nil {
		return "", "", "", fmt.Errorf("encode classes: %w", err)
	}
	scores, err := json.Marshal(nonNil(r.Scores))
	if err != nil {
		return "", "", "", fmt.Errorf("encode scores: %w", err)
	}
	return string(boxes), string(classes), string(scores), nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

const refinedColumns = `id, video_id, preprocessed_image_id, output_path, boxes, classes, scores, created_at`

func scanRefined(row interface{ Scan(...any) error }) (lineage.RefinedDetection, error) {
	var (
		r                      lineage.RefinedDetection
		boxes, classes, scores string
		created                string
	)
	if err := row.Scan(&r.ID, &r.VideoID, &r.PreprocessedImageID, &r.OutputPath,
		&boxes, &classes, &scores, &created); err != nil {
		return lineage.RefinedDetection{}, err
	}
	if err := json.Unmarshal([]byte(boxes), &r.Boxes); err != nil {
		return lineage.RefinedDetection{}, fmt.Errorf("decode boxes: %w", err)
	}
	if err := json.Unmarshal([]byte(classes), &r.Classes); err != nil {
		return lineage.RefinedDetection{}, fmt.Errorf("decode classes: %w", err)
	}
	if err := json.Unmarshal([]byte(scores), &r.Scores); err != nil {
		return lineage.RefinedDetection{}, fmt.Errorf("decode scores: %w", err)
	}
	r.CreatedAt = parseStamp(created)
	return r, nil
}

func (s *SQLite) RefinedDetection(ctx context.Context, id int64) (lineage.RefinedDetection, error) {
	r, err := scanRefined(s.db.QueryRowContext(ctx,
		`SELECT `+refinedColumns+` FROM refined_detections WHERE id = ?`, id))
	return r, mapErr("refined detection", id, err)
}

func (s *SQLite) InsertSharpenedImage(ctx context.Context, sh lineage.SharpenedImage) (int64, error) {
	return insert(ctx, s.db, "sharpened image",
		`INSERT INTO sharpened_images (video_id, refined_detection_id, output_path, created_at) VALUES (?, ?, ?, ?)`,
		sh.VideoID, sh.RefinedDetectionID, sh.OutputPath, s.stamp())
}

const sharpenedColumns = `id, video_id, refined_detection_id, output_path, created_at`

func scanSharpened(row interface{ Scan(...any) error }) (lineage.SharpenedImage, error) {
	var (
		sh      lineage.SharpenedImage
		created string
	)
	if err := row.Scan(&sh.ID, &sh.VideoID, &sh.RefinedDetectionID, &sh.OutputPath, &created); err != nil {
		return lineage.SharpenedImage{}, err
	}
	sh.CreatedAt = parseStamp(created)
	return sh, nil
}

func (s *SQLite) SharpenedImage(ctx context.Context, id int64) (lineage.SharpenedImage, error) {
	sh, err := scanSharpened(s.db.QueryRowContext(ctx,
		`SELECT `+sharpenedColumns+` FROM sharpened_images WHERE id = ?`, id))
	return sh, mapErr("sharpened image", id, err)
}

func (s *SQLite) InsertRecognizedText(ctx context.Context, r lineage.RecognizedText) (int64, error) {
	conf, err := json.Marshal(nonNil(r.Confidences))
	if err != nil {
		return 0, fmt.Errorf("encode confidences: %w", err)
	}
	return insert(ctx, s.db, "recognized text",
		`INSERT INTO recognized_texts (video_id, sharpened_image_id, output_path, text, raw_text, confidences, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.VideoID, r.SharpenedImageID, r.OutputPath, r.Text, r.RawText, string(conf), s.stamp())
}

const textColumns = `id, video_id, sharpened_image_id, output_path, text, raw_text, confidences, created_at`

func scanText(row interface{ Scan(...any) error }) (lineage.RecognizedText, error) {
	var (
		r             lineage.RecognizedText
		conf, created string
	)
	if err := row.Scan(&r.ID, &r.VideoID, &r.SharpenedImageID, &r.OutputPath,
		&r.Text, &r.RawText, &conf, &created); err != nil {
		return lineage.RecognizedText{}, err
	}
	if err := json.Unmarshal([]byte(conf), &r.Confidences); err != nil {
		return lineage.RecognizedText{}, fmt.Errorf("decode confidences: %w", err)
	}
	r.CreatedAt = parseStamp(created)
	return r, nil
}

func (s *SQLite) RecognizedText(ctx context.Context, id int64) (lineage.RecognizedText, error) {
	r, err := scanText(s.db.QueryRowContext(ctx,
		`SELECT `+textColumns+` FROM recognized_texts WHERE id = ?`, id))
	return r, mapErr("recognized text", id, err)
}

// selectAll runs a per-video query and scans every row with scan.
func selectAll[T any](ctx context.Context, db *sql.DB, query string, videoID int64,
	scan func(interface{ Scan(...any) error }) (T, error),
) ([]T, error) {
	rows, err := db.QueryContext(ctx, query, videoID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := []T{}
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *SQLite) Lineage(ctx context.Context, videoID int64) (*lineage.Chain, error) {
	v, err := s.Video(ctx, videoID)
	if err != nil {
		return nil, err
	}
	chain := &lineage.Chain{Video: v}

	if chain.Batches, err = selectAll(ctx, s.db,
		`SELECT `+batchColumns+` FROM detection_batches WHERE video_id = ? ORDER BY id`, videoID, scanBatch); err != nil {
		return nil, fmt.Errorf("lineage batches: %w", err)
	}
	if chain.Crops, err = selectAll(ctx, s.db,
		`SELECT `+cropColumns+` FROM crops WHERE video_id = ? ORDER BY id`, videoID, scanCrop); err != nil {
		return nil, fmt.Errorf("lineage crops: %w", err)
	}
	if chain.Preprocessed, err = selectAll(ctx, s.db,
		`SELECT `+preprocessedColumns+` FROM preprocessed_images WHERE video_id = ? ORDER BY id`, videoID, scanPreprocessed); err != nil {
		return nil, fmt.Errorf("lineage preprocessed images: %w", err)
	}
	if chain.Refined, err = selectAll(ctx, s.db,
		`SELECT `+refinedColumns+` FROM refined_detections WHERE video_id = ? ORDER BY id`, videoID, scanRefined); err != nil {
		return nil, fmt.Errorf("lineage refined detections: %w", err)
	}
	if chain.Sharpened, err = selectAll(ctx, s.db,
		`SELECT `+sharpenedColumns+` FROM sharpened_images WHERE video_id = ? ORDER BY id`, videoID, scanSharpened); err != nil {
		return nil, fmt.Errorf("lineage sharpened images: %w", err)
	}
	if chain.Texts, err = selectAll(ctx, s.db,
		`SELECT `+textColumns+` FROM recognized_texts WHERE video_id = ? ORDER BY id`, videoID, scanText); err != nil {
		return nil, fmt.Errorf("lineage recognized texts: %w", err)
	}
	return chain, nil
}

var _ Store = (*SQLite)(nil)
