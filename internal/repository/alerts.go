package repository

import (
	"context"

	"github.com/and161185/securelink/internal/model"
	"github.com/gofrs/uuid/v5"
)

// AlertRepository stores incidents.
type AlertRepository interface {
	// Create inserts an alert; returns errs.ErrAlreadyExists when a uniqueness rule rejects it.
	Create(ctx context.Context, a *model.Alert) error
	// GetByID loads an alert.
	GetByID(ctx context.Context, id uuid.UUID) (*model.Alert, error)
	// ExistsUnresolved reports whether an unresolved alert of typ exists for the link.
	ExistsUnresolved(ctx context.Context, emailID uuid.UUID, typ model.AlertType) (bool, error)
	// Resolve marks an alert resolved and returns it.
	Resolve(ctx context.Context, id uuid.UUID) (*model.Alert, error)
	// ListByEmail returns all alerts of a link, newest first.
	ListByEmail(ctx context.Context, emailID uuid.UUID) ([]model.Alert, error)
	// ListUnresolvedByCompany returns up to limit open alerts of a company, newest first.
	ListUnresolvedByCompany(ctx context.Context, companyID string, limit int) ([]model.Alert, error)
}
