package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/MeKo-Tech/vidocr/internal/lineage"
	"github.com/MeKo-Tech/vidocr/internal/stage"
)

// Observer is notified as a run advances. Calls for one run arrive from the
// goroutine executing it; implementations shared across concurrent runs must
// synchronize themselves.
type Observer interface {
	// OnRunStart is called before ingest with the upload or file name.
	OnRunStart(name string)

	// OnStageStart is called with the number of inputs the stage will see.
	OnStageStart(s lineage.Stage, inputs int)

	// OnElement is called after each fan-out element.
	OnElement(s lineage.Stage, index, total int, id int64, r stage.Result)

	// OnStageComplete is called with the stage's aggregated result.
	OnStageComplete(s lineage.Stage, r stage.Result, elapsed time.Duration)

	// OnRunFinished is called once with the final result.
	OnRunFinished(r Result)
}

// NoOpObserver implements Observer but does nothing.
type NoOpObserver struct{}

func (NoOpObserver) OnRunStart(string)                                          {}
func (NoOpObserver) OnStageStart(lineage.Stage, int)                            {}
func (NoOpObserver) OnElement(lineage.Stage, int, int, int64, stage.Result)     {}
func (NoOpObserver) OnStageComplete(lineage.Stage, stage.Result, time.Duration) {}
func (NoOpObserver) OnRunFinished(Result)                                       {}

// LogObserver reports progress through slog.
type LogObserver struct {
	logger *slog.Logger
	level  slog.Level
}

// NewLogObserver creates a log based observer. A nil logger means slog.Default().
func NewLogObserver(logger *slog.Logger, level slog.Level) *LogObserver {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogObserver{logger: logger, level: level}
}

func (l *LogObserver) OnRunStart(name string) {
	l.logger.Log(context.Background(), l.level, "Pipeline run started", "input", name)
}

func (l *LogObserver) OnStageStart(s lineage.Stage, inputs int) {
	l.logger.Log(context.Background(), l.level, "Stage started", "stage", s, "inputs", inputs)
}

func (l *LogObserver) OnElement(s lineage.Stage, index, total int, id int64, r stage.Result) {
	level := slog.LevelDebug
	if r.Status.IsError() {
		level = slog.LevelWarn
	}
	l.logger.Log(context.Background(), level, "Stage element done", "stage", s, "element", index+1, "total", total,
		"id", id, "status", r.Status, "outputs", len(r.IDs))
}

func (l *LogObserver) OnStageComplete(s lineage.Stage, r stage.Result, elapsed time.Duration) {
	l.logger.Log(context.Background(), l.level, "Stage completed", "stage", s, "status", r.Status, "outputs", len(r.IDs),
		"duration", elapsed.Round(time.Millisecond))
}

func (l *LogObserver) OnRunFinished(r Result) {
	if !r.OK() {
		l.logger.Error("Pipeline run failed", "video_id", r.VideoID, "stage_failed", r.StageFailed,
			"code", r.Code, "message", r.Message, "duration", r.Duration.Round(time.Millisecond))
		return
	}
	l.logger.Log(context.Background(), l.level, "Pipeline run completed", "video_id", r.VideoID,
		"texts", len(r.FinalPayload.Texts), "duration", r.Duration.Round(time.Millisecond))
}

// ConsoleObserver draws a per-stage progress bar for interactive runs.
type ConsoleObserver struct {
	writer io.Writer
	width  int
	mutex  sync.Mutex
}

// NewConsoleObserver creates a console observer. A nil writer means stderr.
func NewConsoleObserver(writer io.Writer) *ConsoleObserver {
	if writer == nil {
		writer = os.Stderr
	}
	return &ConsoleObserver{writer: writer, width: 30}
}

// WithWidth sets the progress bar width.
func (c *ConsoleObserver) WithWidth(width int) *ConsoleObserver {
	c.width = width
	return c
}

func (c *ConsoleObserver) OnRunStart(name string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	_, _ = fmt.Fprintf(c.writer, "Processing %s\n", name)
}

func (c *ConsoleObserver) OnStageStart(s lineage.Stage, inputs int) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.drawProgressBar(s, 0, inputs)
}

func (c *ConsoleObserver) OnElement(s lineage.Stage, index, total int, _ int64, _ stage.Result) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.drawProgressBar(s, index+1, total)
}

func (c *ConsoleObserver) OnStageComplete(s lineage.Stage, r stage.Result, elapsed time.Duration) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	_, _ = fmt.Fprintf(c.writer, "\r%-13s %-16s %3d outputs  %v\n", s, r.Status, len(r.IDs), elapsed.Round(time.Millisecond))
}

func (c *ConsoleObserver) OnRunFinished(r Result) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if !r.OK() {
		_, _ = fmt.Fprintf(c.writer, "Failed at %s (%s): %s\n", r.StageFailed, r.Code, r.Message)
		return
	}
	_, _ = fmt.Fprintf(c.writer, "Completed video %d in %v: %d texts\n", r.VideoID,
		r.Duration.Round(time.Millisecond), len(r.FinalPayload.Texts))
}

func (c *ConsoleObserver) drawProgressBar(s lineage.Stage, current, total int) {
	filled := c.width
	if total > 0 {
		filled = c.width * current / total
	}
	bar := strings.Repeat("█", filled) + strings.Repeat("░", c.width-filled)
	_, _ = fmt.Fprintf(c.writer, "\r%-13s [%s] %d/%d", s, bar, current, total)
}

// MultiObserver reports to several observers in order.
type MultiObserver []Observer

func (m MultiObserver) OnRunStart(name string) {
	for _, o := range m {
		o.OnRunStart(name)
	}
}

func (m MultiObserver) OnStageStart(s lineage.Stage, inputs int) {
	for _, o := range m {
		o.OnStageStart(s, inputs)
	}
}

func (m MultiObserver) OnElement(s lineage.Stage, index, total int, id int64, r stage.Result) {
	for _, o := range m {
		o.OnElement(s, index, total, id, r)
	}
}

func (m MultiObserver) OnStageComplete(s lineage.Stage, r stage.Result, elapsed time.Duration) {
	for _, o := range m {
		o.OnStageComplete(s, r, elapsed)
	}
}

func (m MultiObserver) OnRunFinished(r Result) {
	for _, o := range m {
		o.OnRunFinished(r)
	}
}
