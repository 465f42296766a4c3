// Package batch runs the full pipeline over many inputs from the command
// line and formats the outcome.
package batch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MeKo-Tech/vidocr/internal/pipeline"
)

// Runner is the part of the orchestrator a batch needs.
type Runner interface {
	RunFile(ctx context.Context, path string) pipeline.Result
}

// Config holds batch processing settings.
type Config struct {
	Recursive       bool
	IncludePatterns []string
	ExcludePatterns []string

	// ContinueOnError keeps going after a failed run instead of stopping.
	ContinueOnError bool
}

// Item is the run of one input.
type Item struct {
	File   string          `json:"file" yaml:"file"`
	Result pipeline.Result `json:"result" yaml:"result"`
}

// Result collects the runs of a batch in input order.
type Result struct {
	Items    []Item        `json:"items" yaml:"items"`
	Duration time.Duration `json:"duration_ns" yaml:"duration"`
}

// Failed returns the number of runs that did not complete.
func (r *Result) Failed() int {
	n := 0
	for _, it := range r.Items {
		if !it.Result.OK() {
			n++
		}
	}
	return n
}

// Err joins the errors of every failed run.
func (r *Result) Err() error {
	var errs []error
	for _, it := range r.Items {
		if err := it.Result.Err(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", it.File, err))
		}
	}
	return errors.Join(errs...)
}

// ProcessBatch discovers the inputs named by args and runs each through the
// pipeline, one after the other. Without ContinueOnError the batch stops at
// the first failed run; the result still holds every run so far.
func ProcessBatch(ctx context.Context, runner Runner, args []string, cfg Config) (*Result, error) {
	files, err := DiscoverInputs(args, cfg.Recursive, cfg.IncludePatterns, cfg.ExcludePatterns)
	if err != nil {
		return nil, fmt.Errorf("failed to discover inputs: %w", err)
	}
	if len(files) == 0 {
		return nil, errors.New("no input files found")
	}

	start := time.Now()
	res := &Result{Items: make([]Item, 0, len(files))}
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			res.Duration = time.Since(start)
			return res, err
		}
		r := runner.RunFile(ctx, file)
		res.Items = append(res.Items, Item{File: file, Result: r})
		if !r.OK() && !cfg.ContinueOnError {
			break
		}
	}
	res.Duration = time.Since(start)
	return res, nil
}
