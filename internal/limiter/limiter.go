// Package limiter throttles PIN submissions per (link token, client IP).
//
// It sits in front of the PIN check and never replaces the failure counter
// that drives incident escalation: a blocked request is not recorded as an
// access attempt.
package limiter

import (
	"context"
	"crypto/sha256"
	"time"
)

// Limiter controls PIN attempts and temporary lockouts.
type Limiter interface {
	// Allow reports whether a PIN submission is currently allowed and an optional retry-after.
	Allow(ctx context.Context, tokenHash, ipHash []byte) (bool, time.Duration, error)
	// Success resets counters after a granted submission.
	Success(ctx context.Context, tokenHash, ipHash []byte) error
	// Failure records a rejected submission; may place a temporary block.
	Failure(ctx context.Context, tokenHash, ipHash []byte) (bool, time.Duration, error)
}

// HashKey returns a stable hash so raw tokens and addresses are never stored.
func HashKey(s string) []byte {
	h := sha256.Sum256([]byte(s))
	return h[:]
}

// Nop allows everything. Used when throttling is disabled.
type Nop struct{}

// Allow always allows.
func (Nop) Allow(context.Context, []byte, []byte) (bool, time.Duration, error) { return true, 0, nil }

// Success does nothing.
func (Nop) Success(context.Context, []byte, []byte) error { return nil }

// Failure never blocks.
func (Nop) Failure(context.Context, []byte, []byte) (bool, time.Duration, error) { return false, 0, nil }
