package postgres

import (
	"context"

	"github.com/and161185/securelink/internal/errs"
	"github.com/and161185/securelink/internal/model"
	"github.com/gofrs/uuid/v5"
)

// SecureEmailRepo implements SecureEmailRepository using PostgreSQL.
type SecureEmailRepo struct{ db *DB }

// NewSecureEmailRepo constructs a secure link repository.
func NewSecureEmailRepo(db *DB) *SecureEmailRepo { return &SecureEmailRepo{db: db} }

const secureEmailCols = `id, token, recipient_email, sender_id, company_id, is_guest, expires_at, revoked, created_at`

// Create inserts a new secure link row.
func (r *SecureEmailRepo) Create(ctx context.Context, e *model.SecureEmail) error {
	const q = `
INSERT INTO secure_emails (` + secureEmailCols + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := r.db.Pool.Exec(ctx, q,
		e.ID, e.Token, e.RecipientEmail, e.SenderID, e.CompanyID, e.IsGuest, e.ExpiresAt, e.Revoked, e.CreatedAt)
	return writeErr("insert secure email", err)
}

// GetByID selects a link by ID.
func (r *SecureEmailRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.SecureEmail, error) {
	const q = `SELECT ` + secureEmailCols + ` FROM secure_emails WHERE id=$1`
	return r.scanOne(ctx, "get secure email", q, id)
}

// GetByToken selects a link by token.
func (r *SecureEmailRepo) GetByToken(ctx context.Context, token string) (*model.SecureEmail, error) {
	const q = `SELECT ` + secureEmailCols + ` FROM secure_emails WHERE token=$1`
	return r.scanOne(ctx, "get secure email by token", q, token)
}

func (r *SecureEmailRepo) scanOne(ctx context.Context, op, q string, arg any) (*model.SecureEmail, error) {
	var e model.SecureEmail
	err := r.db.Pool.QueryRow(ctx, q, arg).Scan(
		&e.ID, &e.Token, &e.RecipientEmail, &e.SenderID, &e.CompanyID, &e.IsGuest, &e.ExpiresAt, &e.Revoked, &e.CreatedAt)
	if err != nil {
		return nil, readErr(op, err)
	}
	return &e, nil
}

// SetRevoked updates the revoked flag. Setting the current value again is a no-op success.
func (r *SecureEmailRepo) SetRevoked(ctx context.Context, id uuid.UUID, revoked bool) error {
	const q = `UPDATE secure_emails SET revoked=$2 WHERE id=$1`
	tag, err := r.db.Pool.Exec(ctx, q, id, revoked)
	if err != nil {
		return writeErr("update revoked", err)
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}
