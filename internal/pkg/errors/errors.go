package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrInvalid         = errors.New("invalid")
	ErrTooMany         = errors.New("too many requests")
	ErrInternal        = errors.New("internal")
	ErrUnavailable     = errors.New("ai provider unavailable")
	ErrModelUnresolved = errors.New("no model resolvable")
	ErrPromptNotFound  = errors.New("prompt not found")
)

// ConfigurationError reports that a stage could not run because no model
// could be resolved from the caller config or the process settings.
type ConfigurationError struct {
	Stage string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Stage, ErrModelUnresolved.Error())
}

func (e *ConfigurationError) Unwrap() error {
	return ErrModelUnresolved
}

// UpstreamError wraps a failed call to the language model backend.
type UpstreamError struct {
	Op         string
	StatusCode int
	Retryable  bool
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("upstream %s failed (status %d): %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("upstream %s failed: %v", e.Op, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// RetrievalError reports an unavailable store. It is always recovered.
type RetrievalError struct {
	Store string
	Err   error
}

func (e *RetrievalError) Error() string {
	return fmt.Sprintf("retrieval from %s failed: %v", e.Store, e.Err)
}

func (e *RetrievalError) Unwrap() error {
	return e.Err
}

// NewUpstreamError classifies err for op. status is the HTTP status code
// returned by the backend, or 0 when the call never got a response.
func NewUpstreamError(op string, status int, err error) *UpstreamError {
	return &UpstreamError{
		Op:         op,
		StatusCode: status,
		Retryable:  retryable(status, err),
		Err:        err,
	}
}

func retryable(status int, err error) bool {
	switch {
	case status == 429:
		return true
	case status >= 500:
		return true
	case status >= 400:
		return false
	}
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return false
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsUnresolved(err error) bool {
	return errors.Is(err, ErrModelUnresolved)
}

func IsRetryable(err error) bool {
	var up *UpstreamError
	if errors.As(err, &up) {
		return up.Retryable
	}
	return false
}

func IsUpstream(err error) bool {
	var up *UpstreamError
	return errors.As(err, &up)
}
