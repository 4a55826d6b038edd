package repository

import (
	"context"

	"github.com/and161185/securelink/internal/model"
	"github.com/gofrs/uuid/v5"
)

// AttemptRepository is the append-only PIN attempt log.
type AttemptRepository interface {
	// Append records one attempt.
	Append(ctx context.Context, a *model.AccessAttempt) error
	// CountFailures returns the all-time number of failed attempts for a link.
	CountFailures(ctx context.Context, emailID uuid.UUID) (int, error)
	// ListRecent returns up to limit attempts, newest first.
	ListRecent(ctx context.Context, emailID uuid.UUID, limit int) ([]model.AccessAttempt, error)
}

// BeaconRepository is the append-only beacon event log.
type BeaconRepository interface {
	// Append records one event.
	Append(ctx context.Context, ev *model.BeaconEvent) error
	// ListRecent returns up to limit events, newest first.
	ListRecent(ctx context.Context, emailID uuid.UUID, limit int) ([]model.BeaconEvent, error)
}
