// Miniflare-TRE - local development harness for the Cloudflare Workers runtime
// Copyright 2026 Miniflare-TRE contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cloudflare/miniflare-tre

// Package hosterr defines the error vocabulary shared across the
// supervisor, loopback server, and plugin gateways.
//
// Router handlers return an *HTTPError when they want the dispatcher to
// render a specific status/message; any other error propagates to the
// loopback server, which logs it and renders a 500, per the propagation
// policy.
package hosterr

import (
	"errors"
	"fmt"
)

// HTTPError is a plugin-local or dispatcher-local error that carries an
// HTTP status, a short status text, and a human-readable message. Router
// handlers return these to signal "render this response" rather than
// "something unexpected broke".
type HTTPError struct {
	Status     int
	StatusText string
	Message    string
	cause      error
}

// NewHTTPError builds an HTTPError with the given status and message. The
// status text defaults to the message when not supplied separately via
// WithStatusText.
func NewHTTPError(status int, message string) *HTTPError {
	return &HTTPError{Status: status, StatusText: message, Message: message}
}

// WithStatusText overrides the status text independently of the message.
func (e *HTTPError) WithStatusText(text string) *HTTPError {
	e.StatusText = text
	return e
}

// WithCause attaches an underlying error for %w-style wrapping while
// preserving the HTTPError's status/message for response rendering.
func (e *HTTPError) WithCause(cause error) *HTTPError {
	e.cause = cause
	return e
}

func (e *HTTPError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s (status %d): %v", e.Message, e.Status, e.cause)
	}
	return fmt.Sprintf("%s (status %d)", e.Message, e.Status)
}

func (e *HTTPError) Unwrap() error {
	return e.cause
}

// AsHTTPError reports whether err is (or wraps) an *HTTPError, returning it
// if so.
func AsHTTPError(err error) (*HTTPError, bool) {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr, true
	}
	return nil, false
}

// Sentinel errors for configuration and supervision failures (§7
// "Configuration" and "Runtime supervision" error kinds). These are
// compared with errors.Is, never converted to HTTP responses — they
// propagate to the API caller (setOptions/new's returned error), not to
// a loopback response.
var (
	// ErrUnknownPersistenceScheme is returned when a persistence
	// descriptor names a URL scheme other than file:, sqlite: or badger:
	// (or, for storage.Open, a scheme other than memory, file, sqlite or
	// badger).
	ErrUnknownPersistenceScheme = errors.New("unsupported persistence scheme")

	// ErrCompatibilityDateInFuture is returned when a worker's
	// compatibility date is later than the host's current date.
	ErrCompatibilityDateInFuture = errors.New("compatibility date is in the future")

	// ErrDuplicateWorkerName is returned when two worker options
	// entries share a name.
	ErrDuplicateWorkerName = errors.New("duplicate worker name")

	// ErrNoWorkersDefined is returned when a worker options set is empty.
	ErrNoWorkersDefined = errors.New("no workers defined")

	// ErrInvalidOptions is returned when Options fails struct validation,
	// e.g. a missing runtime binary path or a malformed loopback host.
	ErrInvalidOptions = errors.New("invalid options")

	// ErrDurableObjectPersistenceUnsupported is returned at
	// service-assembly time when a durable-object binding is combined
	// with a configured persistence descriptor.
	ErrDurableObjectPersistenceUnsupported = errors.New("durable object storage does not support persistence")

	// ErrSupervisorDisposed is returned by any public operation invoked
	// after dispose() has completed.
	ErrSupervisorDisposed = errors.New("supervisor has been disposed")

	// ErrRuntimeExitedDuringProbe is returned when the worker-runtime
	// child process exits while the readiness probe is still waiting.
	ErrRuntimeExitedDuringProbe = errors.New("worker runtime exited before becoming ready")

	// ErrRuntimeFailedToStart is returned when the worker-runtime child
	// process could not be spawned at all.
	ErrRuntimeFailedToStart = errors.New("worker runtime failed to start")
)
