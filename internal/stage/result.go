package stage

import (
	"fmt"
	"net/http"

	"github.com/MeKo-Tech/vidocr/internal/lineage"
)

// Status discriminates the variants of Result.
type Status int

const (
	// StatusSuccess carries one or more new identifiers.
	StatusSuccess Status = iota
	// StatusEmpty is a legitimate zero-output result ("no detections found").
	// It is not an error; the fan-out coordinator skips it.
	StatusEmpty
	// StatusClientError means the input identifier was missing or invalid.
	StatusClientError
	// StatusNotFound means the referenced record or its backing file is absent.
	StatusNotFound
	// StatusProcessingError means the collaborator failed or returned unusable output.
	StatusProcessingError
	// StatusInternalError means something unexpected happened, e.g. a panic.
	StatusInternalError
)

var statusNames = map[Status]string{
	StatusSuccess:         "success",
	StatusEmpty:           "empty",
	StatusClientError:     "client_error",
	StatusNotFound:        "not_found",
	StatusProcessingError: "processing_error",
	StatusInternalError:   "internal_error",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// MarshalText renders the status by name in JSON and YAML.
func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText parses a status name.
func (s *Status) UnmarshalText(text []byte) error {
	for status, name := range statusNames {
		if name == string(text) {
			*s = status
			return nil
		}
	}
	return fmt.Errorf("unknown status %q", text)
}

// IsError reports whether the status aborts a fan-out batch.
func (s Status) IsError() bool { return s >= StatusClientError }

// HTTPStatus maps the status onto an HTTP response code.
func (s Status) HTTPStatus() int {
	switch s {
	case StatusSuccess, StatusEmpty:
		return http.StatusOK
	case StatusClientError:
		return http.StatusBadRequest
	case StatusNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// Result is the envelope returned by every executor and by the fan-out
// coordinator. Which fields are meaningful depends on Status: IDs and
// Payloads on success, Message on every other variant.
type Result struct {
	Status  Status        `json:"status"`
	Stage   lineage.Stage `json:"stage"`
	Message string        `json:"message,omitempty"`
	IDs     []int64       `json:"ids,omitempty"`
	// Payloads holds stage specific auxiliary data, one entry per ID.
	Payloads []any `json:"payloads,omitempty"`
}

// Success builds a success result. payloads may be nil.
func Success(stage lineage.Stage, ids []int64, payloads []any) Result {
	if ids == nil {
		ids = []int64{}
	}
	return Result{Status: StatusSuccess, Stage: stage, IDs: ids, Payloads: payloads}
}

// Empty builds a "no detections found" result.
func Empty(stage lineage.Stage, msg string) Result {
	return Result{Status: StatusEmpty, Stage: stage, Message: msg, IDs: []int64{}}
}

// ClientError builds a client error result.
func ClientError(stage lineage.Stage, format string, args ...any) Result {
	return Result{Status: StatusClientError, Stage: stage, Message: fmt.Sprintf(format, args...)}
}

// NotFound builds a not found result.
func NotFound(stage lineage.Stage, format string, args ...any) Result {
	return Result{Status: StatusNotFound, Stage: stage, Message: fmt.Sprintf(format, args...)}
}

// ProcessingError builds a processing error result from a collaborator failure.
func ProcessingError(stage lineage.Stage, err error) Result {
	return Result{Status: StatusProcessingError, Stage: stage, Message: err.Error()}
}

// InternalError builds an internal error result.
func InternalError(stage lineage.Stage, format string, args ...any) Result {
	return Result{Status: StatusInternalError, Stage: stage, Message: fmt.Sprintf(format, args...)}
}

// OK reports whether the result is a success or a legitimate empty result.
func (r Result) OK() bool { return !r.Status.IsError() }

// Err returns nil for non-error results and an *Error otherwise.
func (r Result) Err() error {
	if r.OK() {
		return nil
	}
	return &Error{Stage: r.Stage, Status: r.Status, Message: r.Message}
}

// Error adapts a failed Result to the error interface.
type Error struct {
	Stage   lineage.Stage
	Status  Status
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Stage, e.Status, e.Message)
}
