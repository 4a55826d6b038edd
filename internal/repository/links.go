// Package repository defines storage interfaces implemented by concrete backends.
package repository

import (
	"context"

	"github.com/and161185/securelink/internal/model"
	"github.com/gofrs/uuid/v5"
)

// SecureEmailRepository stores issued secure links.
type SecureEmailRepository interface {
	// Create inserts a new link; returns errs.ErrAlreadyExists on token collision.
	Create(ctx context.Context, e *model.SecureEmail) error
	// GetByID loads a link by ID.
	GetByID(ctx context.Context, id uuid.UUID) (*model.SecureEmail, error)
	// GetByToken loads a link by its opaque token.
	GetByToken(ctx context.Context, token string) (*model.SecureEmail, error)
	// SetRevoked sets the revoked flag; idempotent.
	SetRevoked(ctx context.Context, id uuid.UUID, revoked bool) error
}

// SenderRepository provides read access to sender accounts owned by the staff user system.
type SenderRepository interface {
	// GetByID loads a sender by ID.
	GetByID(ctx context.Context, id uuid.UUID) (*model.Sender, error)
}
