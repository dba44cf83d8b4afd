// Sentinel errors shared by client and server layers. Callers should use
// errors.Is to match these values; concrete causes are wrapped with %w.
package common

import "errors"

var (
	// Repository-level errors.
	ErrNotFound = errors.New("not found")

	// Wire/validation errors. Never retried.
	ErrValidation   = errors.New("validation error")
	ErrInvalidTable = errors.New("invalid table")

	// Transport and availability errors. Retried with backoff.
	ErrUnavailable = errors.New("server unavailable")

	// Auth errors. Abort the cycle and stop the scheduler.
	ErrUnauthorized = errors.New("unauthorized")
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")

	// Local storage errors.
	ErrStorageUnavailable = errors.New("local storage unavailable")

	// Engine flow control.
	ErrSyncRunning        = errors.New("sync cycle already running")
	ErrConflictUnresolved = errors.New("conflict unresolved")

	// Server-side ownership guard: an upsert targeted a record that belongs
	// to another user. The record is skipped, never overwritten.
	ErrRecordOwnership = errors.New("record belongs to another user")
)
