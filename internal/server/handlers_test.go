package server

import (
	"bytes"
	"encoding/json"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/vidocr/internal/lineage"
	"github.com/MeKo-Tech/vidocr/internal/pipeline"
	"github.com/MeKo-Tech/vidocr/internal/stage"
	"github.com/MeKo-Tech/vidocr/internal/store"
	"github.com/MeKo-Tech/vidocr/internal/testutil"
	"github.com/MeKo-Tech/vidocr/internal/video"
)

type stageResponse struct {
	Status  string  `json:"status"`
	Stage   string  `json:"stage"`
	Message string  `json:"message"`
	IDs     []int64 `json:"ids"`
}

type runResponse struct {
	Status       string            `json:"status"`
	State        string            `json:"state"`
	StageFailed  string            `json:"stage_failed"`
	Code         string            `json:"code"`
	Message      string            `json:"message"`
	VideoID      int64             `json:"video_id"`
	FinalPayload *pipeline.Payload `json:"final_payload"`
}

type testServer struct {
	server  *Server
	handler http.Handler
	store   *store.Memory
	objects *testutil.ScriptedDetector
	regions *testutil.ScriptedDetector
}

func newTestServer(t *testing.T, cfg Config) *testServer {
	t.Helper()
	ts := &testServer{
		store:   store.NewMemory(),
		objects: &testutil.ScriptedDetector{},
		regions: &testutil.ScriptedDetector{},
	}
	stages := pipeline.NewStages(ts.store, stage.Layout{Root: filepath.Join(t.TempDir(), "outputs")}, pipeline.Collaborators{
		Frames:         video.StillSource{},
		ObjectDetector: ts.objects,
		Contrast:       testutil.IdentityTransform{},
		RegionDetector: ts.regions,
		Deblur:         testutil.IdentityTransform{},
		Recognizer:     &testutil.FixedRecognizer{Texts: []string{"AB12"}},
		Crop:           stage.CropOptions{Gain: 1},
		RefinePolicy:   stage.RefineEach,
	})
	srv, err := New(cfg, stages, ts.store, nil)
	require.NoError(t, err)
	ts.server = srv
	ts.handler = srv.Router()
	return ts
}

// script makes the collaborators find one plate with one text region.
func (ts *testServer) script() {
	ts.objects.Script = [][]lineage.Detection{{testutil.Det(40, 45, 120, 75, 0, 0.9)}}
	ts.regions.Script = [][]lineage.Detection{{testutil.Det(2, 2, 40, 20, 0, 0.8)}}
}

func (ts *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	ts.handler.ServeHTTP(w, req)
	return w
}

func framePNG(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, testutil.GenerateFrame(testutil.DefaultFrameConfig())))
	return buf.Bytes()
}

func multipartRequest(t *testing.T, path, field, filename string, data []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if field != "" {
		part, err := mw.CreateFormFile(field, filename)
		require.NoError(t, err)
		_, err = part.Write(data)
		require.NoError(t, err)
	} else {
		require.NoError(t, mw.WriteField("note", "no file"))
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func jsonRequest(path, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestHealthHandler(t *testing.T) {
	ts := newTestServer(t, Config{})

	w := ts.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	resp := decode[HealthResponse](t, w)
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, "dev", resp.Version)
	assert.NotEmpty(t, resp.Time)

	w = ts.do(httptest.NewRequest(http.MethodPost, "/health", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestUploadHandler(t *testing.T) {
	ts := newTestServer(t, Config{})

	t.Run("stores the video", func(t *testing.T) {
		w := ts.do(multipartRequest(t, "/upload", "file", "clip.png", framePNG(t)))
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		resp := decode[stageResponse](t, w)
		assert.Equal(t, "success", resp.Status)
		assert.Equal(t, "ingest", resp.Stage)
		require.Len(t, resp.IDs, 1)

		v, err := ts.store.Video(t.Context(), resp.IDs[0])
		require.NoError(t, err)
		assert.Equal(t, "clip.png", v.OriginalName)
	})

	t.Run("no file", func(t *testing.T) {
		w := ts.do(multipartRequest(t, "/upload", "", "", nil))
		assert.Equal(t, http.StatusBadRequest, w.Code)
		resp := decode[stageResponse](t, w)
		assert.Equal(t, "client_error", resp.Status)
		assert.Contains(t, resp.Message, "no file provided")
	})

	t.Run("not multipart", func(t *testing.T) {
		w := ts.do(jsonRequest("/upload", `{}`))
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "client_error", decode[stageResponse](t, w).Status)
	})

	t.Run("empty file", func(t *testing.T) {
		w := ts.do(multipartRequest(t, "/upload", "file", "clip.mp4", nil))
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, decode[stageResponse](t, w).Message, "is empty")
	})
}

func TestUploadTooLarge(t *testing.T) {
	ts := newTestServer(t, Config{MaxUploadMB: 1})
	w := ts.do(multipartRequest(t, "/upload", "file", "big.mp4", bytes.Repeat([]byte{1}, 2<<20)))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Equal(t, "client_error", decode[ErrorResponse](t, w).Code)
}

func TestStageHandler(t *testing.T) {
	ts := newTestServer(t, Config{})
	ts.script()

	w := ts.do(multipartRequest(t, "/upload", "file", "clip.png", framePNG(t)))
	require.Equal(t, http.StatusOK, w.Code)
	videoID := decode[stageResponse](t, w).IDs[0]

	w = ts.do(jsonRequest("/stages/detect", `{"id": `+itoa(videoID)+`}`))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	detect := decode[stageResponse](t, w)
	assert.Equal(t, "detect", detect.Stage)
	require.Len(t, detect.IDs, 1)

	w = ts.do(jsonRequest("/stages/preprocess_a", `{"id": `+itoa(detect.IDs[0])+`}`))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "preprocess-a", decode[stageResponse](t, w).Stage)

	tests := []struct {
		name   string
		path   string
		body   string
		code   int
		status string
	}{
		{"unknown stage", "/stages/segment", `{"id": 1}`, http.StatusNotFound, "unknown_stage"},
		{"ingest", "/stages/ingest", `{"id": 1}`, http.StatusBadRequest, "client_error"},
		{"missing id", "/stages/refine", `{}`, http.StatusBadRequest, "client_error"},
		{"invalid body", "/stages/refine", `{"id": "one"}`, http.StatusBadRequest, "client_error"},
		{"negative id", "/stages/recognize", `{"id": -3}`, http.StatusBadRequest, "client_error"},
		{"unknown record", "/stages/preprocess-b", `{"id": 999}`, http.StatusNotFound, "not_found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := ts.do(jsonRequest(tt.path, tt.body))
			assert.Equal(t, tt.code, w.Code, w.Body.String())
			var body map[string]any
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			if code, ok := body["code"]; ok {
				assert.Equal(t, tt.status, code)
			} else {
				assert.Equal(t, tt.status, body["status"])
			}
		})
	}
}

func TestFullPipelineHandler(t *testing.T) {
	ts := newTestServer(t, Config{})
	ts.script()

	w := ts.do(multipartRequest(t, "/full_pipeline", "file", "clip.png", framePNG(t)))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode[runResponse](t, w)
	assert.Equal(t, "success", resp.Status)
	assert.Equal(t, "completed", resp.State)
	assert.Equal(t, "success", resp.Code)
	require.NotNil(t, resp.FinalPayload)
	assert.Equal(t, []string{"AB12"}, resp.FinalPayload.Texts)

	w = ts.do(httptest.NewRequest(http.MethodGet, "/videos/"+itoa(resp.VideoID)+"/lineage", nil))
	require.Equal(t, http.StatusOK, w.Code)
	chain := decode[lineage.Chain](t, w)
	assert.Equal(t, resp.VideoID, chain.Video.ID)
	assert.Len(t, chain.Crops, 1)
	assert.Len(t, chain.Texts, 1)
	require.NoError(t, chain.Verify())
}

func TestFullPipelineHandlerWithoutFile(t *testing.T) {
	ts := newTestServer(t, Config{})
	w := ts.do(multipartRequest(t, "/full_pipeline", "", "", nil))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	resp := decode[runResponse](t, w)
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, "failed", resp.State)
	assert.Equal(t, "ingest", resp.StageFailed)
	assert.Equal(t, "client_error", resp.Code)
	assert.Nil(t, resp.FinalPayload)
}

func TestLineageHandlerErrors(t *testing.T) {
	ts := newTestServer(t, Config{})

	w := ts.do(httptest.NewRequest(http.MethodGet, "/videos/42/lineage", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "not_found", decode[ErrorResponse](t, w).Code)

	w = ts.do(httptest.NewRequest(http.MethodGet, "/videos/abc/lineage", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t, Config{})
	ts.do(multipartRequest(t, "/full_pipeline", "file", "clip.png", framePNG(t)))

	w := ts.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, "vidocr_pipeline_runs_total")
	assert.Contains(t, body, `vidocr_stage_results_total{stage="detect",status="empty"}`)
	assert.Contains(t, body, `endpoint="/full_pipeline"`)
}

func TestLogStream(t *testing.T) {
	ts := newTestServer(t, Config{})
	ts.script()
	httpServer := httptest.NewServer(ts.handler)
	defer httpServer.Close()

	url := "ws" + strings.TrimPrefix(httpServer.URL, "http") + "/log-stream"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()
	_ = resp.Body.Close()
	require.Eventually(t, func() bool { return ts.server.Hub().ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	req := multipartRequest(t, "/full_pipeline", "file", "clip.png", framePNG(t))
	go ts.do(req)

	var types []string
	var final Event
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		var e Event
		require.NoError(t, json.Unmarshal(data, &e))
		types = append(types, e.Type)
		if e.Type == "run_finished" {
			final = e
			break
		}
	}

	assert.Equal(t, "run_start", types[0])
	assert.Contains(t, types, "stage_start")
	assert.Contains(t, types, "element")
	assert.Contains(t, types, "stage_complete")
	assert.Equal(t, "success", final.Status)
	require.NotNil(t, final.Result)
	assert.Equal(t, pipeline.StateCompleted, final.Result.State)
}

func TestHubWithoutClients(t *testing.T) {
	hub := NewHub()
	hub.OnRunStart("x")
	assert.Zero(t, hub.ClientCount())

	c := hub.register()
	hub.OnStageStart(lineage.StageDetect, 2)
	select {
	case data := <-c.send:
		assert.Contains(t, string(data), `"type":"stage_start"`)
	default:
		t.Fatal("event not queued")
	}

	for range sendBuffer + 5 {
		hub.OnStageStart(lineage.StageDetect, 1)
	}
	assert.Len(t, c.send, sendBuffer, "slow clients drop events")

	hub.unregister(c)
	hub.unregister(c)
	assert.Zero(t, hub.ClientCount())
	for range c.send {
	}
	_, open := <-c.send
	assert.False(t, open)
}

func itoa(v int64) string { return strconv.FormatInt(v, 10) }
