package stage

import (
	"context"
	"fmt"
)

// ElementFunc observes each fan-out element after it ran.
type ElementFunc func(index, total int, id int64, r Result)

// FanOut applies exec to every id in order and aggregates the identifiers it
// produces.
//
// An element that returns StatusEmpty is skipped. The first element that
// returns an error status ends the batch: its result is returned unchanged
// and the identifiers gathered so far are dropped from the response (their
// records stay in the store). An empty ids slice yields an empty success.
func FanOut(ctx context.Context, exec Executor, ids []int64, onElement ElementFunc) Result {
	stage := exec.Stage()
	card := exec.Cardinality()

	out := Success(stage, make([]int64, 0, len(ids)), nil)
	for i, id := range ids {
		r := exec.Execute(ctx, id)

		if card == ExactlyOne && r.OK() && (r.Status == StatusEmpty || len(r.IDs) != 1) {
			r = ProcessingError(stage, fmt.Errorf(
				"%s input %d produced %d outputs, declared %s", stage, id, len(r.IDs), card))
		}
		if onElement != nil {
			onElement(i, len(ids), id, r)
		}

		switch r.Status {
		case StatusSuccess:
			out.IDs = append(out.IDs, r.IDs...)
			out.Payloads = append(out.Payloads, r.Payloads...)
		case StatusEmpty:
			continue
		default:
			return r
		}
	}
	return out
}
