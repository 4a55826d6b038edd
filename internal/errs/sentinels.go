// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Common sentinels across repo/service layers.
var (
	// ErrNotFound indicates the requested entity does not exist (unknown or malformed token included).
	ErrNotFound = errors.New("not found")

	// ErrLinkRevoked indicates the secure link was revoked by the sender or by anomaly detection.
	ErrLinkRevoked = errors.New("link revoked")

	// ErrLinkExpired indicates the secure link is past its expiry.
	ErrLinkExpired = errors.New("link expired")

	// ErrPinMismatch indicates a wrong PIN was supplied.
	ErrPinMismatch = errors.New("pin mismatch")

	// ErrSenderMisconfigured indicates the sender cannot be found or has no PIN set.
	ErrSenderMisconfigured = errors.New("sender misconfigured")

	// ErrValidation indicates a malformed or incomplete request.
	ErrValidation = errors.New("validation")

	// ErrDependencyTimeout indicates an external collaborator did not answer in time.
	ErrDependencyTimeout = errors.New("dependency timeout")

	// ErrPersistence indicates a store write failure.
	ErrPersistence = errors.New("persistence")

	// ErrUnauthorized indicates failed authentication/authorization.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrRateLimited indicates temporary PIN lock due to rate limiting.
	ErrRateLimited = errors.New("rate limited")

	// ErrAlreadyExists indicates a unique constraint violation (token collision, duplicate unresolved alert).
	ErrAlreadyExists = errors.New("already exists")
)
