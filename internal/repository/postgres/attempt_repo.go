package postgres

import (
	"context"

	"github.com/and161185/securelink/internal/model"
	"github.com/gofrs/uuid/v5"
)

// AttemptRepo implements AttemptRepository using PostgreSQL.
type AttemptRepo struct{ db *DB }

// NewAttemptRepo constructs an access attempt repository.
func NewAttemptRepo(db *DB) *AttemptRepo { return &AttemptRepo{db: db} }

// Append inserts one attempt row.
func (r *AttemptRepo) Append(ctx context.Context, a *model.AccessAttempt) error {
	const q = `
INSERT INTO access_attempts (id, email_id, ip, device, browser, os, user_agent, pin_supplied, success, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	fp := a.Fingerprint
	_, err := r.db.Pool.Exec(ctx, q,
		a.ID, a.EmailID, fp.IP, fp.Device, fp.Browser, fp.OS, fp.UserAgent, a.PinSupplied, a.Success, a.Timestamp)
	return writeErr("insert access attempt", err)
}

// CountFailures counts all failed attempts for a link, without a time window.
func (r *AttemptRepo) CountFailures(ctx context.Context, emailID uuid.UUID) (int, error) {
	const q = `SELECT count(*) FROM access_attempts WHERE email_id=$1 AND success=false`
	var n int
	if err := r.db.Pool.QueryRow(ctx, q, emailID).Scan(&n); err != nil {
		return 0, readErr("count failures", err)
	}
	return n, nil
}

// ListRecent returns up to limit attempts, newest first.
func (r *AttemptRepo) ListRecent(ctx context.Context, emailID uuid.UUID, limit int) ([]model.AccessAttempt, error) {
	const q = `
SELECT id, email_id, ip, device, browser, os, user_agent, pin_supplied, success, created_at
FROM access_attempts WHERE email_id=$1
ORDER BY created_at DESC LIMIT $2`
	rows, err := r.db.Pool.Query(ctx, q, emailID, limit)
	if err != nil {
		return nil, readErr("list attempts", err)
	}
	defer rows.Close()

	var out []model.AccessAttempt
	for rows.Next() {
		var a model.AccessAttempt
		fp := &a.Fingerprint
		if err := rows.Scan(&a.ID, &a.EmailID, &fp.IP, &fp.Device, &fp.Browser, &fp.OS, &fp.UserAgent,
			&a.PinSupplied, &a.Success, &a.Timestamp); err != nil {
			return nil, readErr("scan attempt", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
