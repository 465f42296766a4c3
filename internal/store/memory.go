package store

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/MeKo-Tech/vidocr/internal/lineage"
)

// Memory is an in-process Store. It enforces the same foreign keys as the
// SQLite schema and never reuses an identifier.
type Memory struct {
	mu  sync.RWMutex
	now func() time.Time

	videos       table[lineage.Video]
	batches      table[lineage.DetectionBatch]
	crops        table[lineage.Crop]
	preprocessed table[lineage.PreprocessedImage]
	refined      table[lineage.RefinedDetection]
	sharpened    table[lineage.SharpenedImage]
	texts        table[lineage.RecognizedText]
}

type table[T any] struct {
	last int64
	rows map[int64]T
}

func (t *table[T]) next() int64 {
	t.last++
	return t.last
}

func (t *table[T]) put(id int64, v T) {
	if t.rows == nil {
		t.rows = make(map[int64]T)
	}
	t.rows[id] = v
}

func (t *table[T]) has(id int64) bool {
	_, ok := t.rows[id]
	return ok
}

func (t *table[T]) get(kind string, id int64) (T, error) {
	v, ok := t.rows[id]
	if !ok {
		var zero T
		return zero, fmt.Errorf("%s %d: %w", kind, id, ErrNotFound)
	}
	return v, nil
}

// ordered returns rows matching keep in ascending id order.
func (t *table[T]) ordered(keep func(T) bool) []T {
	ids := make([]int64, 0, len(t.rows))
	for id, v := range t.rows {
		if keep(v) {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	out := make([]T, 0, len(ids))
	for _, id := range ids {
		out = append(out, t.rows[id])
	}
	return out
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{now: func() time.Time { return time.Now().UTC() }}
}

func fkError(kind string, id int64) error {
	return fmt.Errorf("%s %d: %w", kind, id, ErrForeignKey)
}

// mismatch reports a denormalized id that disagrees with the parent row.
func mismatch(kind string, id int64, field string, got, want int64) error {
	return fmt.Errorf("%s %d has %s %d, not %d: %w", kind, id, field, want, got, ErrForeignKey)
}

func (m *Memory) InsertVideo(_ context.Context, v lineage.Video) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	v.ID = m.videos.next()
	if v.UploadedAt.IsZero() {
		v.UploadedAt = m.now()
	}
	m.videos.put(v.ID, v)
	return v.ID, nil
}

func (m *Memory) Video(_ context.Context, id int64) (lineage.Video, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.videos.get("video", id)
}

func (m *Memory) InsertDetectionBatch(_ context.Context, b lineage.DetectionBatch, crops []lineage.Crop) (int64, []int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.videos.has(b.VideoID) {
		return 0, nil, fkError("video", b.VideoID)
	}
	for _, c := range crops {
		if c.VideoID != b.VideoID {
			return 0, nil, fkError("video", c.VideoID)
		}
	}

	now := m.now()
	b.ID = m.batches.next()
	b.CreatedAt = now
	m.batches.put(b.ID, b)

	ids := make([]int64, 0, len(crops))
	for _, c := range crops {
		c.ID = m.crops.next()
		c.BatchID = b.ID
		c.CreatedAt = now
		m.crops.put(c.ID, c)
		ids = append(ids, c.ID)
	}
	return b.ID, ids, nil
}

func (m *Memory) DetectionBatch(_ context.Context, id int64) (lineage.DetectionBatch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.batches.get("detection batch", id)
}

func (m *Memory) Crop(_ context.Context, id int64) (lineage.Crop, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.crops.get("crop", id)
}

func (m *Memory) InsertPreprocessedImage(_ context.Context, p lineage.PreprocessedImage) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case !m.videos.has(p.VideoID):
		return 0, fkError("video", p.VideoID)
	case !m.batches.has(p.BatchID):
		return 0, fkError("detection batch", p.BatchID)
	case !m.crops.has(p.CropID):
		return 0, fkError("crop", p.CropID)
	}
	crop := m.crops.rows[p.CropID]
	if crop.VideoID != p.VideoID {
		return 0, mismatch("crop", crop.ID, "video_id", p.VideoID, crop.VideoID)
	}
	if crop.BatchID != p.BatchID {
		return 0, mismatch("crop", crop.ID, "batch_id", p.BatchID, crop.BatchID)
	}

	p.ID = m.preprocessed.next()
	p.CreatedAt = m.now()
	m.preprocessed.put(p.ID, p)
	return p.ID, nil
}

func (m *Memory) PreprocessedImage(_ context.Context, id int64) (lineage.PreprocessedImage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.preprocessed.get("preprocessed image", id)
}

func (m *Memory) InsertRefinedDetections(_ context.Context, rs []lineage.RefinedDetection) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, r := range rs {
		if !m.videos.has(r.VideoID) {
			return nil, fkError("video", r.VideoID)
		}
		pre, ok := m.preprocessed.rows[r.PreprocessedImageID]
		if !ok {
			return nil, fkError("preprocessed image", r.PreprocessedImageID)
		}
		if pre.VideoID != r.VideoID {
			return nil, mismatch("preprocessed image", pre.ID, "video_id", r.VideoID, pre.VideoID)
		}
	}

	now := m.now()
	ids := make([]int64, 0, len(rs))
	for _, r := range rs {
		r.ID = m.refined.next()
		r.CreatedAt = now
		m.refined.put(r.ID, r)
		ids = append(ids, r.ID)
	}
	return ids, nil
}

func (m *Memory) RefinedDetection(_ context.Context, id int64) (lineage.RefinedDetection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.refined.get("refined detection", id)
}

func (m *Memory) InsertSharpenedImage(_ context.Context, s lineage.SharpenedImage) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.videos.has(s.VideoID) {
		return 0, fkError("video", s.VideoID)
	}
	refined, ok := m.refined.rows[s.RefinedDetectionID]
	if !ok {
		return 0, fkError("refined detection", s.RefinedDetectionID)
	}
	if refined.VideoID != s.VideoID {
		return 0, mismatch("refined detection", refined.ID, "video_id", s.VideoID, refined.VideoID)
	}

	s.ID = m.sharpened.next()
	s.CreatedAt = m.now()
	m.sharpened.put(s.ID, s)
	return s.ID, nil
}

func (m *Memory) SharpenedImage(_ context.Context, id int64) (lineage.SharpenedImage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sharpened.get("sharpened image", id)
}

func (m *Memory) InsertRecognizedText(_ context.Context, r lineage.RecognizedText) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.videos.has(r.VideoID) {
		return 0, fkError("video", r.VideoID)
	}
	sharp, ok := m.sharpened.rows[r.SharpenedImageID]
	if !ok {
		return 0, fkError("sharpened image", r.SharpenedImageID)
	}
	if sharp.VideoID != r.VideoID {
		return 0, mismatch("sharpened image", sharp.ID, "video_id", r.VideoID, sharp.VideoID)
	}

	r.ID = m.texts.next()
	r.CreatedAt = m.now()
	m.texts.put(r.ID, r)
	return r.ID, nil
}

func (m *Memory) RecognizedText(_ context.Context, id int64) (lineage.RecognizedText, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.texts.get("recognized text", id)
}

func (m *Memory) Lineage(_ context.Context, videoID int64) (*lineage.Chain, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, err := m.videos.get("video", videoID)
	if err != nil {
		return nil, err
	}
	return &lineage.Chain{
		Video:        v,
		Batches:      m.batches.ordered(func(b lineage.DetectionBatch) bool { return b.VideoID == videoID }),
		Crops:        m.crops.ordered(func(c lineage.Crop) bool { return c.VideoID == videoID }),
		Preprocessed: m.preprocessed.ordered(func(p lineage.PreprocessedImage) bool { return p.VideoID == videoID }),
		Refined:      m.refined.ordered(func(r lineage.RefinedDetection) bool { return r.VideoID == videoID }),
		Sharpened:    m.sharpened.ordered(func(s lineage.SharpenedImage) bool { return s.VideoID == videoID }),
		Texts:        m.texts.ordered(func(t lineage.RecognizedText) bool { return t.VideoID == videoID }),
	}, nil
}

// Close is a no-op.
func (m *Memory) Close() error { return nil }

var _ Store = (*Memory)(nil)
