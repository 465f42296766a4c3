// Package pipeline sequences the stage executors into one run per upload:
// ingest, detect, preprocess-a, refine, preprocess-b and recognize. Every
// stage after ingest is applied through the fan-out coordinator to the
// identifiers the previous stage produced.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/MeKo-Tech/vidocr/internal/lineage"
	"github.com/MeKo-Tech/vidocr/internal/stage"
)

// State is the position of a run in the stage chain.
type State string

// Terminal states. Running states are named after their stage.
const (
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Stages holds one executor per stage.
type Stages struct {
	Ingest      *stage.Ingest
	Detect      stage.Executor
	PreprocessA stage.Executor
	Refine      stage.Executor
	PreprocessB stage.Executor
	Recognize   stage.Executor
}

// Chain returns the executors that follow ingest, in order.
func (s Stages) Chain() []stage.Executor {
	return []stage.Executor{s.Detect, s.PreprocessA, s.Refine, s.PreprocessB, s.Recognize}
}

// Executor returns the executor of a stage that takes a record id. Ingest
// takes an upload and is not returned.
func (s Stages) Executor(st lineage.Stage) (stage.Executor, bool) {
	for _, e := range s.Chain() {
		if e != nil && e.Stage() == st {
			return e, true
		}
	}
	return nil, false
}

func (s Stages) validate() error {
	if s.Ingest == nil {
		return fmt.Errorf("missing executor for %s", lineage.StageIngest)
	}
	want := lineage.Stages[1:]
	for i, e := range s.Chain() {
		if e == nil {
			return fmt.Errorf("missing executor for %s", want[i])
		}
		if e.Stage() != want[i] {
			return fmt.Errorf("executor for %s reports stage %s", want[i], e.Stage())
		}
	}
	return nil
}

// Payload summarizes the output of a completed run.
type Payload struct {
	IDs   []int64  `json:"ids" yaml:"ids"`
	Texts []string `json:"texts" yaml:"texts"`
}

// Result is the outcome of one run.
type Result struct {
	Status       string        `json:"status" yaml:"status"` // success or error
	State        State         `json:"state" yaml:"state"`
	StageFailed  lineage.Stage `json:"stage_failed,omitempty" yaml:"stage_failed,omitempty"`
	Code         stage.Status  `json:"code" yaml:"code"`
	Message      string        `json:"message,omitempty" yaml:"message,omitempty"`
	VideoID      int64         `json:"video_id,omitempty" yaml:"video_id,omitempty"`
	FinalPayload *Payload      `json:"final_payload,omitempty" yaml:"final_payload,omitempty"`
	Duration     time.Duration `json:"duration_ns" yaml:"duration"`
}

// OK reports whether the run completed.
func (r Result) OK() bool { return r.State == StateCompleted }

// HTTPStatus maps the run outcome onto an HTTP response code.
func (r Result) HTTPStatus() int { return r.Code.HTTPStatus() }

// Err returns nil for a completed run and a *stage.Error otherwise.
func (r Result) Err() error {
	if r.OK() {
		return nil
	}
	return &stage.Error{Stage: r.StageFailed, Status: r.Code, Message: r.Message}
}

// Orchestrator runs the full stage chain. It keeps no state between runs, so
// one Orchestrator may serve concurrent runs.
type Orchestrator struct {
	stages   Stages
	observer Observer
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithObserver sets the observer notified of run progress.
func WithObserver(o Observer) Option {
	return func(p *Orchestrator) {
		if o != nil {
			p.observer = o
		}
	}
}

// New creates an orchestrator over a complete set of executors.
func New(stages Stages, opts ...Option) (*Orchestrator, error) {
	if err := stages.validate(); err != nil {
		return nil, err
	}
	p := &Orchestrator{stages: stages, observer: NoOpObserver{}}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Stages returns the executors the orchestrator runs.
func (p *Orchestrator) Stages() Stages { return p.stages }

// Run ingests the upload and drives it through every stage. The first
// non-success result ends the run in StateFailed with that result passed
// through; artifacts committed before the failure are kept.
func (p *Orchestrator) Run(ctx context.Context, up stage.Upload) Result {
	return p.run(ctx, up.Filename, func() stage.Result { return p.stages.Ingest.Ingest(ctx, up) })
}

// RunFile is Run for a file already on disk.
func (p *Orchestrator) RunFile(ctx context.Context, path string) Result {
	return p.run(ctx, path, func() stage.Result { return p.stages.Ingest.IngestFile(ctx, path) })
}

// Resume runs the chain for a video that was already ingested.
func (p *Orchestrator) Resume(ctx context.Context, videoID int64) Result {
	return p.run(ctx, fmt.Sprintf("video %d", videoID), func() stage.Result {
		return stage.Success(lineage.StageIngest, []int64{videoID}, nil)
	})
}

func (p *Orchestrator) run(ctx context.Context, name string, ingest func() stage.Result) (res Result) {
	start := time.Now()
	current := lineage.StageIngest
	var videoID int64

	p.observer.OnRunStart(name)
	defer func() {
		if v := recover(); v != nil {
			slog.Error("Pipeline panic", "stage", current, "panic", v, "stack", string(debug.Stack()))
			res = failed(stage.InternalError(current, "panic in %s: %v", current, v), videoID)
		}
		res.Duration = time.Since(start)
		p.observer.OnRunFinished(res)
	}()

	p.observer.OnStageStart(current, 1)
	stageStart := time.Now()
	r := ingest()
	p.observer.OnStageComplete(current, r, time.Since(stageStart))
	if r.Status != stage.StatusSuccess || len(r.IDs) != 1 {
		if r.OK() {
			r = stage.InternalError(current, "ingest produced %d videos", len(r.IDs))
		}
		return failed(r, 0)
	}
	videoID = r.IDs[0]
	ids := r.IDs

	for _, exec := range p.stages.Chain() {
		current = exec.Stage()
		p.observer.OnStageStart(current, len(ids))
		stageStart = time.Now()
		r = stage.FanOut(ctx, exec, ids, func(index, total int, id int64, er stage.Result) {
			p.observer.OnElement(current, index, total, id, er)
		})
		p.observer.OnStageComplete(current, r, time.Since(stageStart))

		if r.Status != stage.StatusSuccess {
			return failed(r, videoID)
		}
		ids = r.IDs
	}

	return Result{
		Status:       "success",
		State:        StateCompleted,
		Code:         stage.StatusSuccess,
		Message:      fmt.Sprintf("recognized %d texts", len(ids)),
		VideoID:      videoID,
		FinalPayload: finalPayload(r),
	}
}

func failed(r stage.Result, videoID int64) Result {
	return Result{
		Status:      "error",
		State:       StateFailed,
		StageFailed: r.Stage,
		Code:        r.Status,
		Message:     r.Message,
		VideoID:     videoID,
	}
}

func finalPayload(r stage.Result) *Payload {
	out := &Payload{IDs: r.IDs, Texts: make([]string, 0, len(r.IDs))}
	for _, p := range r.Payloads {
		if t, ok := p.(lineage.RecognizedText); ok {
			out.Texts = append(out.Texts, t.Text)
		}
	}
	return out
}
