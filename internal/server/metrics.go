package server

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/MeKo-Tech/vidocr/internal/lineage"
	"github.com/MeKo-Tech/vidocr/internal/pipeline"
	"github.com/MeKo-Tech/vidocr/internal/stage"
)

var (
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vidocr_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vidocr_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// Pipeline metrics
	pipelineRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vidocr_pipeline_runs_total",
			Help: "Total number of full pipeline runs",
		},
		[]string{"state", "stage_failed"},
	)

	pipelineRunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vidocr_pipeline_run_duration_seconds",
			Help:    "Full pipeline run duration in seconds",
			Buckets: []float64{.5, 1, 2.5, 5, 10, 25, 50, 100, 250, 500},
		},
	)

	stageResultsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vidocr_stage_results_total",
			Help: "Stage results by status",
		},
		[]string{"stage", "status"},
	)

	stageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vidocr_stage_duration_seconds",
			Help:    "Stage duration in seconds, over all fan-out elements",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 25, 50},
		},
		[]string{"stage"},
	)

	stageOutputs = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vidocr_stage_outputs",
			Help:    "Number of identifiers a stage produced",
			Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100, 250},
		},
		[]string{"stage"},
	)

	recognizedTextLength = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vidocr_recognized_text_length",
			Help:    "Length of recognized texts in characters",
			Buckets: []float64{0, 1, 2, 4, 8, 12, 16, 24, 32},
		},
	)

	// Rate limiting metrics
	rateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vidocr_rate_limit_hits_total",
			Help: "Total number of rejected requests",
		},
		[]string{"type"}, // type: rate, quota
	)

	// File upload metrics
	uploadSizeBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vidocr_upload_size_bytes",
			Help:    "Size of uploaded files in bytes",
			Buckets: []float64{100 * 1024, 1024 * 1024, 10 * 1024 * 1024, 50 * 1024 * 1024, 100 * 1024 * 1024, 500 * 1024 * 1024},
		},
	)

	// WebSocket metrics
	websocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vidocr_websocket_active_connections",
			Help: "Number of active log stream connections",
		},
	)

	websocketMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vidocr_websocket_messages_total",
			Help: "Total number of WebSocket messages",
		},
		[]string{"direction"}, // direction: sent, dropped
	)
)

// metricsObserver feeds pipeline progress into the stage metrics.
type metricsObserver struct {
	pipeline.NoOpObserver
}

func (metricsObserver) OnStageComplete(s lineage.Stage, r stage.Result, elapsed time.Duration) {
	observeStage(s, r, elapsed)
}

func (metricsObserver) OnRunFinished(r pipeline.Result) {
	pipelineRunsTotal.WithLabelValues(string(r.State), string(r.StageFailed)).Inc()
	pipelineRunDuration.Observe(r.Duration.Seconds())
	if r.FinalPayload != nil {
		for _, t := range r.FinalPayload.Texts {
			recognizedTextLength.Observe(float64(len([]rune(t))))
		}
	}
}

func observeStage(s lineage.Stage, r stage.Result, elapsed time.Duration) {
	stageResultsTotal.WithLabelValues(string(s), r.Status.String()).Inc()
	stageDuration.WithLabelValues(string(s)).Observe(elapsed.Seconds())
	if r.OK() {
		stageOutputs.WithLabelValues(string(s)).Observe(float64(len(r.IDs)))
	}
}
