// Package errors provides downstream failure classification utilities.
//
// Every failure observed while talking to a downstream service is classified
// as either transient (eligible for retry with backoff) or fatal (never
// retried). Circuit-open rejections are synthesized by pkg/breaker and are a
// separate class so callers can choose not to count them against retry
// budgets.
package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// FailureClass represents the retry eligibility of a downstream failure.
type FailureClass string

const (
	// ClassTransient covers network timeouts, 5xx responses and rate limits.
	ClassTransient FailureClass = "transient"
	// ClassFatal covers authentication/authorization failures and malformed
	// requests. Fatal failures are never retried blindly.
	ClassFatal FailureClass = "fatal"
)

// DownstreamError wraps a downstream service failure with its classification.
type DownstreamError struct {
	Class       FailureClass
	StatusCode  int // HTTP status code, 0 if not an HTTP-level failure
	OriginalErr error
	Message     string
}

// Error implements the error interface.
func (e *DownstreamError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s (status %d, %s)", e.Message, e.StatusCode, e.Class)
	}
	if e.OriginalErr != nil {
		return fmt.Sprintf("%s (%s): %v", e.Message, e.Class, e.OriginalErr)
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Class)
}

// Unwrap returns the underlying error for errors.Is and errors.As compatibility.
func (e *DownstreamError) Unwrap() error {
	return e.OriginalErr
}

// NewTransient creates a transient DownstreamError.
func NewTransient(msg string, err error) *DownstreamError {
	return &DownstreamError{Class: ClassTransient, OriginalErr: err, Message: msg}
}

// NewFatal creates a fatal DownstreamError.
func NewFatal(msg string, err error) *DownstreamError {
	return &DownstreamError{Class: ClassFatal, OriginalErr: err, Message: msg}
}

// FromStatus classifies an HTTP response status into a DownstreamError.
// Returns nil for 2xx statuses.
func FromStatus(msg string, status int) *DownstreamError {
	if status >= 200 && status < 300 {
		return nil
	}
	return &DownstreamError{
		Class:      classifyStatus(status),
		StatusCode: status,
		Message:    msg,
	}
}

// classifyStatus maps an HTTP status code to a failure class.
//
//   - 401/403: credentials are wrong, retrying cannot help
//   - 400/404/422: the request itself is malformed or targets nothing
//   - 429 and 5xx: the service is overloaded or broken, worth retrying
func classifyStatus(status int) FailureClass {
	switch {
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return ClassFatal
	case status == http.StatusBadRequest, status == http.StatusNotFound,
		status == http.StatusUnprocessableEntity:
		return ClassFatal
	case status == http.StatusTooManyRequests:
		return ClassTransient
	case status >= 500:
		return ClassTransient
	default:
		return ClassTransient
	}
}

// Classify determines the failure class of an arbitrary error.
//
// A typed DownstreamError keeps its own class. Context deadlines and net
// timeouts are transient. Anything unrecognized is treated as transient so
// that unexpected errors consume a retry attempt instead of being dropped.
func Classify(err error) FailureClass {
	if err == nil {
		return ClassTransient
	}

	var de *DownstreamError
	if errors.As(err, &de) {
		return de.Class
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTransient
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ClassTransient
	}

	return ClassTransient
}

// IsFatal reports whether the error must never be retried.
func IsFatal(err error) bool {
	return Classify(err) == ClassFatal
}
