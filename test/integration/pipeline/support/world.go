// Package support holds the godog step definitions for the pipeline
// feature suite. Scenarios drive the HTTP API of an in-process server whose
// models are replaced by scripted collaborators; the store is a real SQLite
// database in a temporary directory.
package support

import (
	"context"
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"

	"github.com/MeKo-Tech/vidocr/internal/pipeline"
	"github.com/MeKo-Tech/vidocr/internal/server"
	"github.com/MeKo-Tech/vidocr/internal/stage"
	"github.com/MeKo-Tech/vidocr/internal/store"
	"github.com/MeKo-Tech/vidocr/internal/testutil"
	"github.com/MeKo-Tech/vidocr/internal/video"
)

// World is the state of one scenario.
type World struct {
	dir    string
	store  *store.SQLite
	layout stage.Layout
	server *httptest.Server

	objects *testutil.ScriptedDetector
	regions *testutil.ScriptedDetector
	texts   *testutil.FixedRecognizer

	// beforeRefine runs ahead of every refine element.
	beforeRefine func(ctx context.Context, index int, id int64)

	lastStatus int
	lastBody   []byte
	videoID    int64
	lastIDs    []int64
}

// NewWorld creates an empty scenario state.
func NewWorld() *World {
	return &World{
		objects: &testutil.ScriptedDetector{},
		regions: &testutil.ScriptedDetector{},
		texts:   &testutil.FixedRecognizer{},
	}
}

// hookedExecutor calls before ahead of the wrapped executor.
type hookedExecutor struct {
	stage.Executor
	before func(ctx context.Context, index int, id int64)
	calls  int
}

func (h *hookedExecutor) Execute(ctx context.Context, id int64) stage.Result {
	if h.before != nil {
		h.before(ctx, h.calls, id)
	}
	h.calls++
	return h.Executor.Execute(ctx, id)
}

// start opens the store and serves the API.
func (w *World) start() error {
	dir, err := os.MkdirTemp("", "vidocr-feature-*")
	if err != nil {
		return err
	}
	w.dir = dir
	w.layout = stage.Layout{Root: filepath.Join(dir, "outputs")}

	st, err := store.Open(filepath.Join(dir, "vidocr.db"))
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	w.store = st

	stages := pipeline.NewStages(st, w.layout, pipeline.Collaborators{
		Frames:         video.StillSource{},
		ObjectDetector: w.objects,
		Contrast:       testutil.IdentityTransform{},
		RegionDetector: w.regions,
		Deblur:         testutil.IdentityTransform{},
		Recognizer:     w.texts,
		Crop:           stage.CropOptions{Gain: 1},
		RefinePolicy:   stage.RefineEach,
	})
	stages.Refine = &hookedExecutor{Executor: stages.Refine, before: func(ctx context.Context, index int, id int64) {
		if w.beforeRefine != nil {
			w.beforeRefine(ctx, index, id)
		}
	}}

	srv, err := server.New(server.Config{}, stages, st, nil)
	if err != nil {
		return err
	}
	w.server = httptest.NewServer(srv.Router())
	return nil
}

// Close stops the server and removes every file the scenario wrote.
func (w *World) Close() error {
	if w.server != nil {
		w.server.Close()
	}
	var err error
	if w.store != nil {
		err = w.store.Close()
	}
	if w.dir != "" {
		if rmErr := os.RemoveAll(w.dir); rmErr != nil && err == nil {
			err = rmErr
		}
	}
	return err
}
