package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors. Wrap them with context; match with errors.Is.
var (
	ErrRequired     = errors.New("is required")
	ErrInvalidRole  = errors.New("unknown message role")
	ErrInvalidShape = errors.New("shape mismatch")

	ErrNotFound       = errors.New("not found")
	ErrDegradedIndex  = errors.New("similarity index unavailable")
	ErrUpstream       = errors.New("upstream call failed")
	ErrEmptyResponse  = errors.New("no response from the model")
	ErrMissingValue   = errors.New("no numeric value in description")
	ErrCorruptPayload = errors.New("corrupt payload")
)

// Kind groups errors by how callers react to them.
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindNotFound
	KindDegradedIndex
	KindUpstream
	KindData
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindDegradedIndex:
		return "degraded_index"
	case KindUpstream:
		return "upstream"
	case KindData:
		return "data"
	default:
		return "unknown"
	}
}

// KindOf classifies err by the sentinels and error types in its chain.
func KindOf(err error) Kind {
	var ve *ValidationError
	switch {
	case err == nil:
		return KindUnknown
	case errors.As(err, &ve):
		return KindValidation
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrDegradedIndex):
		return KindDegradedIndex
	case errors.Is(err, ErrUpstream), errors.Is(err, ErrEmptyResponse):
		return KindUpstream
	case errors.Is(err, ErrMissingValue), errors.Is(err, ErrCorruptPayload):
		return KindData
	default:
		return KindUnknown
	}
}

// ValidationError wraps a sentinel with the offending field.
type ValidationError struct {
	Field   string
	Value   string
	Wrapped error
}

func (e *ValidationError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("%s %s", e.Field, e.Wrapped)
	}
	return fmt.Sprintf("%s %s (value=%q)", e.Field, e.Wrapped, e.Value)
}

func (e *ValidationError) Unwrap() error { return e.Wrapped }

// NewValidationError creates a ValidationError.
func NewValidationError(field, value string, wrapped error) *ValidationError {
	return &ValidationError{Field: field, Value: value, Wrapped: wrapped}
}

// UpstreamError reports a failed call to an external collaborator
// (classifier, LLM, remote index). It matches ErrUpstream.
type UpstreamError struct {
	Op  string
	Err error
}

func (e *UpstreamError) Error() string { return e.Op + ": " + e.Err.Error() }

func (e *UpstreamError) Unwrap() []error { return []error{ErrUpstream, e.Err} }

// Upstream wraps err as an UpstreamError; nil stays nil.
func Upstream(op string, err error) error {
	if err == nil {
		return nil
	}
	return &UpstreamError{Op: op, Err: err}
}

// DataError reports malformed explainer output or persisted payloads.
type DataError struct {
	Input string
	Err   error
}

func (e *DataError) Error() string { return fmt.Sprintf("%s: %q", e.Err, e.Input) }

func (e *DataError) Unwrap() error { return e.Err }
