package postgres

import (
	"context"

	"github.com/and161185/securelink/internal/model"
	"github.com/gofrs/uuid/v5"
)

// SenderRepo implements SenderRepository using PostgreSQL.
type SenderRepo struct{ db *DB }

// NewSenderRepo constructs a sender repository.
func NewSenderRepo(db *DB) *SenderRepo { return &SenderRepo{db: db} }

// GetByID selects a sender by ID. A NULL pin_hash reads as empty.
func (r *SenderRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.Sender, error) {
	const q = `
SELECT id, email, company_id, COALESCE(pin_hash, ''), created_at
FROM senders WHERE id=$1`
	var s model.Sender
	if err := r.db.Pool.QueryRow(ctx, q, id).Scan(&s.ID, &s.Email, &s.CompanyID, &s.PinHash, &s.CreatedAt); err != nil {
		return nil, readErr("get sender", err)
	}
	return &s, nil
}
