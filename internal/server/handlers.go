package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/MeKo-Tech/vidocr/internal/lineage"
	"github.com/MeKo-Tech/vidocr/internal/stage"
	"github.com/MeKo-Tech/vidocr/internal/store"
)

// uploadField is the multipart field carrying the video.
const uploadField = "file"

// healthHandler returns server health status.
func (s *Server) healthHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse())
}

// uploadHandler runs the ingest stage on a multipart upload.
func (s *Server) uploadHandler(w http.ResponseWriter, r *http.Request) {
	up, cleanup, ok := s.readUpload(w, r)
	if !ok {
		return
	}
	defer cleanup()

	start := time.Now()
	res := s.stages.Ingest.Ingest(context.WithoutCancel(r.Context()), up)
	observeStage(lineage.StageIngest, res, time.Since(start))
	writeJSON(w, res.Status.HTTPStatus(), res)
}

// stageHandler runs a single stage on one record id.
func (s *Server) stageHandler(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "stage")
	st, err := lineage.ParseStage(name)
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown_stage", err.Error())
		return
	}
	if st == lineage.StageIngest {
		writeError(w, http.StatusBadRequest, "client_error", "ingest takes an upload, use POST /upload")
		return
	}
	exec, ok := s.stages.Executor(st)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown_stage", fmt.Sprintf("no executor for stage %s", st))
		return
	}

	var req StageRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		res := stage.ClientError(st, "invalid request body: %v", err)
		writeJSON(w, res.Status.HTTPStatus(), res)
		return
	}
	var id int64
	if req.ID != nil {
		id = *req.ID
	}

	start := time.Now()
	res := exec.Execute(context.WithoutCancel(r.Context()), id)
	observeStage(st, res, time.Since(start))
	slog.Info("Stage executed", "stage", st, "id", id, "status", res.Status, "outputs", len(res.IDs))
	writeJSON(w, res.Status.HTTPStatus(), res)
}

// fullPipelineHandler ingests an upload and runs every stage on it. The run
// is detached from the request, so a client disconnect does not abort it.
func (s *Server) fullPipelineHandler(w http.ResponseWriter, r *http.Request) {
	up, cleanup, ok := s.readUpload(w, r)
	if !ok {
		return
	}
	defer cleanup()

	res := s.orchestrator.Run(context.WithoutCancel(r.Context()), up)
	writeJSON(w, res.HTTPStatus(), res)
}

// lineageHandler returns every record derived from one video.
func (s *Server) lineageHandler(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "client_error", "video id must be a positive integer")
		return
	}

	chain, err := s.store.Lineage(r.Context(), id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", fmt.Sprintf("video %d not found", id))
	case err != nil:
		slog.Error("Lineage query failed", "video_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "lineage query failed")
	default:
		writeJSON(w, http.StatusOK, chain)
	}
}

// readUpload extracts the uploaded file. On failure the error response is
// already written and ok is false. A missing file is handed on with a nil
// body so that ingest reports it.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) (up stage.Upload, cleanup func(), ok bool) {
	limit := s.maxUploadMB * 1024 * 1024
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	cleanup = func() {}

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge), strings.Contains(err.Error(), "request body too large"):
			writeError(w, http.StatusRequestEntityTooLarge, "client_error", "file too large")
			return up, cleanup, false
		case errors.Is(err, http.ErrNotMultipart), strings.Contains(err.Error(), "no multipart boundary"):
			return up, cleanup, true
		default:
			writeError(w, http.StatusBadRequest, "client_error", "failed to parse form data")
			return up, cleanup, false
		}
	}
	cleanup = func() { _ = r.MultipartForm.RemoveAll() }

	file, header, err := r.FormFile(uploadField)
	if err != nil {
		return up, cleanup, true
	}
	uploadSizeBytes.Observe(float64(header.Size))
	return stage.Upload{Filename: header.Filename, Body: file}, func() {
		_ = file.Close()
		_ = r.MultipartForm.RemoveAll()
	}, true
}
