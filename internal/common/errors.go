// Package common defines shared constants and sentinel errors used across
// the invoicekeeper client layers. Callers should use errors.Is to match
// these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrNotFound = errors.New("not found")

	// Authorization errors. ErrAuthExpired is recoverable through silent
	// renewal; ErrAuthRequired means the user has to sign in again.
	ErrAuthRequired = errors.New("authorization required")
	ErrAuthExpired  = errors.New("authorization expired")

	// Transport errors (transient; the operation may be retried later).
	ErrNetwork = errors.New("network failure")

	// Snapshot content failed schema validation.
	ErrFormat = errors.New("invalid backup format")

	// Autosave was switched off after an authorization failure.
	ErrAutosaveDisabled = errors.New("autosave disabled")

	// Remote backend is not configured (no client id, no bucket, ...).
	ErrNotConfigured = errors.New("remote backup not configured")
)
