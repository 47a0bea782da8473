package bridge

import (
	"encoding/json"
	"fmt"
	"time"
)

// Outcome is the tag of a JobResult.
type Outcome string

// Job outcomes.
const (
	OutcomeSuccess   Outcome = "success"
	OutcomeFailure   Outcome = "failure"
	OutcomeCancelled Outcome = "cancelled"
)

// ErrorKind is the coarse classification of a failed or cancelled job.
type ErrorKind string

// Error kinds.
const (
	KindProcessStart     ErrorKind = "process-start-failure"
	KindNonZeroExit      ErrorKind = "non-zero-exit"
	KindTimeout          ErrorKind = "timeout"
	KindMalformedResult  ErrorKind = "malformed-result"
	KindInterpreterError ErrorKind = "interpreter-reported-error"
	KindCancelled        ErrorKind = "cancelled"
)

// ParseErrorKind maps a kind reported by the interpreter to a known kind.
// Unknown or empty values return ok=false.
func ParseErrorKind(s string) (ErrorKind, bool) {
	switch k := ErrorKind(s); k {
	case KindProcessStart, KindNonZeroExit, KindTimeout, KindMalformedResult, KindInterpreterError:
		return k, true
	case "process-exit-nonzero":
		return KindNonZeroExit, true
	default:
		return "", false
	}
}

// ErrorInfo describes a failed job.
type ErrorInfo struct {
	Message string    `json:"message"`
	Kind    ErrorKind `json:"kind"`

	// Diagnostic is advisory raw context (trace text, raw output fragment).
	Diagnostic string `json:"diagnostic,omitempty"`
}

func (e *ErrorInfo) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Cancellation describes why a job was cancelled: by request or by timeout.
type Cancellation struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message,omitempty"`

	// Timeout is the limit that expired, set when Kind is KindTimeout.
	Timeout time.Duration `json:"-"`
}

// JobResult is the tagged outcome of one job. Exactly one of Data, Error and
// Cancellation is set, matching Outcome.
type JobResult[T any] struct {
	Outcome      Outcome       `json:"outcome"`
	Data         *T            `json:"data,omitempty"`
	Error        *ErrorInfo    `json:"error,omitempty"`
	Cancellation *Cancellation `json:"cancellation,omitempty"`
	Elapsed      time.Duration `json:"elapsedNs"`
}

// RawResult is a JobResult whose data has not been mapped to an operation type.
type RawResult = JobResult[json.RawMessage]

// Succeeded builds a success result.
func Succeeded[T any](data T, elapsed time.Duration) *JobResult[T] {
	return &JobResult[T]{Outcome: OutcomeSuccess, Data: &data, Elapsed: elapsed}
}

// Failed builds a failure result.
func Failed[T any](info *ErrorInfo, elapsed time.Duration) *JobResult[T] {
	return &JobResult[T]{Outcome: OutcomeFailure, Error: info, Elapsed: elapsed}
}

// Cancelled builds a cancelled result.
func Cancelled[T any](c *Cancellation, elapsed time.Duration) *JobResult[T] {
	return &JobResult[T]{Outcome: OutcomeCancelled, Cancellation: c, Elapsed: elapsed}
}

// OK reports whether the job succeeded.
func (r *JobResult[T]) OK() bool {
	return r != nil && r.Outcome == OutcomeSuccess
}

// Err returns the result as an error, or nil on success. Timeouts surface as
// an ErrorInfo of kind timeout; operator cancellation as kind cancelled.
func (r *JobResult[T]) Err() error {
	if r == nil {
		return nil
	}

	switch r.Outcome {
	case OutcomeFailure:
		return r.Error
	case OutcomeCancelled:
		return &ErrorInfo{Kind: r.Cancellation.Kind, Message: r.Cancellation.Message}
	default:
		return nil
	}
}

// MapResult converts a raw result into a typed one. When fn fails the result
// becomes a malformed-result failure.
func MapResult[T any](raw *RawResult, fn func(json.RawMessage) (T, error)) *JobResult[T] {
	switch raw.Outcome {
	case OutcomeSuccess:
		var data json.RawMessage
		if raw.Data != nil {
			data = *raw.Data
		}

		v, err := fn(data)
		if err != nil {
			return Failed[T](&ErrorInfo{
				Kind:       KindMalformedResult,
				Message:    err.Error(),
				Diagnostic: leadFragment(data),
			}, raw.Elapsed)
		}

		return Succeeded(v, raw.Elapsed)
	case OutcomeFailure:
		return Failed[T](raw.Error, raw.Elapsed)
	default:
		return Cancelled[T](raw.Cancellation, raw.Elapsed)
	}
}

const leadFragmentLen = 512

// leadFragment returns the first bytes of raw output for diagnostics.
func leadFragment(b []byte) string {
	if len(b) <= leadFragmentLen {
		return string(b)
	}

	return string(b[:leadFragmentLen]) + "..."
}
