// Package core defines the fundamental types and errors for Cadence.
package core

import "errors"

// Errors that can occur across the engine. I/O failures are always
// recovered into one of these; pure computation never fails on
// well-formed input.
var (
	// Provider errors
	ErrAuth              = errors.New("authentication failed")
	ErrProviderTransient = errors.New("calendar provider temporarily unavailable")
	ErrProviderPermanent = errors.New("calendar provider unavailable")

	// Controller errors
	ErrNotConnected   = errors.New("not connected")
	ErrAlreadyStarted = errors.New("already started")

	// Snapshot errors
	ErrSnapshotNotFound = errors.New("snapshot not found")

	// Validation errors
	ErrInvalidInterval = errors.New("interval end before start")
	ErrInvalidConfig   = errors.New("invalid configuration")
)
