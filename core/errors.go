package core

import (
	"context"
	"errors"
	"fmt"
	"net"
)

var (
	ErrPermissionDenied         = errors.New("permission denied")
	ErrDeviceBusy               = errors.New("device busy")
	ErrEmptyCapture             = errors.New("empty capture")
	ErrTranscriptionUnavailable = errors.New("transcription unavailable")
	ErrEmptyTurn                = errors.New("empty turn")
	ErrSubmissionInProgress     = errors.New("submission in progress")
	ErrCollaboratorFailure      = errors.New("collaborator failure")
)

// FailureKind distinguishes model failures. All kinds collapse into one
// apology turn; the kind only picks its wording.
type FailureKind string

const (
	FailureNetwork     FailureKind = "network"
	FailureRateLimited FailureKind = "rate_limited"
	FailureMalformed   FailureKind = "malformed"
	FailureTimeout     FailureKind = "timeout"
	FailureUnknown     FailureKind = "unknown"
)

// CollaboratorError is returned by model services. It matches
// ErrCollaboratorFailure with errors.Is.
type CollaboratorError struct {
	Kind       FailureKind
	StatusCode int
	Err        error
}

func (e *CollaboratorError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s failure (status %d): %v", e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s failure: %v", e.Kind, e.Err)
}

func (e *CollaboratorError) Unwrap() error { return e.Err }

func (e *CollaboratorError) Is(target error) bool {
	return target == ErrCollaboratorFailure
}

// NewCollaboratorError builds an error from an HTTP status code.
func NewCollaboratorError(statusCode int, err error) *CollaboratorError {
	return &CollaboratorError{Kind: KindForStatus(statusCode), StatusCode: statusCode, Err: err}
}

// KindForStatus maps an HTTP status to a FailureKind.
func KindForStatus(statusCode int) FailureKind {
	switch {
	case statusCode == 429:
		return FailureRateLimited
	case statusCode == 408 || statusCode == 504:
		return FailureTimeout
	case statusCode >= 400 && statusCode < 500:
		return FailureMalformed
	case statusCode >= 500:
		return FailureNetwork
	default:
		return FailureUnknown
	}
}

// ClassifyFailure returns the FailureKind for any error returned while
// talking to the model.
func ClassifyFailure(err error) FailureKind {
	if err == nil {
		return ""
	}
	var ce *CollaboratorError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return FailureTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return FailureTimeout
		}
		return FailureNetwork
	}
	return FailureUnknown
}
