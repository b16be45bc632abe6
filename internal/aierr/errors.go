// Package aierr defines the error taxonomy shared by the provider
// adapters, router and HTTP surface.
package aierr

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// ValidationError reports malformed messages or options. It is raised
// before any I/O and never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid request: " + e.Reason
	}
	return fmt.Sprintf("invalid request: %s: %s", e.Field, e.Reason)
}

// UnknownProviderError reports a request for a provider that was never
// registered.
type UnknownProviderError struct {
	Name string
}

func (e *UnknownProviderError) Error() string {
	return fmt.Sprintf("no provider registered with name %q", e.Name)
}

// RateLimitError reports that admission was denied. Callers are
// expected to retry after the indicated delay; nothing in this layer
// retries automatically.
type RateLimitError struct {
	NextAvailableIn time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded, retry in %ds", e.RetryAfterSeconds())
}

// RetryAfterSeconds returns the wait rounded up to whole seconds.
func (e *RateLimitError) RetryAfterSeconds() int {
	secs := int((e.NextAvailableIn + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}

// VendorError reports a non-2xx vendor response or a vendor-reported
// error payload.
type VendorError struct {
	Provider   string
	StatusCode int
	Message    string
	Cause      error
}

func (e *VendorError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s error (status %d): %s: %v", e.Provider, e.StatusCode, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s error (status %d): %s", e.Provider, e.StatusCode, e.Message)
}

func (e *VendorError) Unwrap() error {
	return e.Cause
}

// StreamError reports a failure after a stream has started. It is
// delivered to the caller as a terminal error chunk, never as a
// returned error.
type StreamError struct {
	Provider string
	Cause    error
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("%s stream failed: %v", e.Provider, e.Cause)
}

func (e *StreamError) Unwrap() error {
	return e.Cause
}

// IsTimeout reports whether err represents an exceeded deadline,
// whatever layer produced it. Timeouts propagate like any other
// vendor failure.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
