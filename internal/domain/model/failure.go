package model

import (
	"context"
	"errors"
	"io/fs"

	apperrors "github.com/nagare-ml/nagare/internal/errors"
)

// FailureKind is the closed vocabulary of worker failure classifications
// persisted in a job record's error field. Clients only ever see one of
// these values, never a raw error message.
type FailureKind string

const (
	// FailureInvalidInput marks malformed or out-of-range task input
	// caught at worker entry.
	FailureInvalidInput FailureKind = "invalid-input"
	// FailureNotFound marks a missing input artifact, such as an upload
	// deleted before the worker picked up the task.
	FailureNotFound FailureKind = "not-found"
	// FailureInference marks a failure raised by the inference engine.
	FailureInference FailureKind = "inference-failed"
	// FailureCanceled marks a task abandoned because the worker was shut
	// down mid-processing.
	FailureCanceled FailureKind = "canceled"
	// FailureInternal marks any other failure.
	FailureInternal FailureKind = "internal"
)

// Valid returns true if the FailureKind is part of the closed vocabulary.
func (k FailureKind) Valid() bool {
	switch k {
	case FailureInvalidInput, FailureNotFound, FailureInference, FailureCanceled, FailureInternal:
		return true
	}
	return false
}

// ClassifyFailure maps an error caught at the worker boundary onto the
// closed FailureKind vocabulary. The mapping is intentionally coarse: the
// persisted record carries a stable classification, not a trace.
func ClassifyFailure(err error) FailureKind {
	switch {
	case err == nil:
		return FailureInternal
	case apperrors.IsValidation(err):
		return FailureInvalidInput
	case apperrors.IsNotFound(err), errors.Is(err, fs.ErrNotExist):
		return FailureNotFound
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return FailureCanceled
	case apperrors.IsInference(err):
		return FailureInference
	default:
		return FailureInternal
	}
}
