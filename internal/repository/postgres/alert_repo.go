package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/and161185/securelink/internal/errs"
	"github.com/and161185/securelink/internal/model"
	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
)

// AlertRepo implements AlertRepository using PostgreSQL.
type AlertRepo struct{ db *DB }

// NewAlertRepo constructs an alert repository.
func NewAlertRepo(db *DB) *AlertRepo { return &AlertRepo{db: db} }

const alertCols = `id, email_id, company_id, recipient_email, type, message, details, incident_report, resolved, created_at`

// Create inserts an alert. The partial unique index on unresolved
// MultipleFailedPins alerts surfaces as errs.ErrAlreadyExists.
func (r *AlertRepo) Create(ctx context.Context, a *model.Alert) error {
	details, err := json.Marshal(a.Details)
	if err != nil {
		return fmt.Errorf("marshal alert details: %w", err)
	}
	const q = `
INSERT INTO alerts (` + alertCols + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err = r.db.Pool.Exec(ctx, q,
		a.ID, a.EmailID, a.CompanyID, a.RecipientEmail, string(a.Type), a.Message, details, a.IncidentReport, a.Resolved, a.Timestamp)
	return writeErr("insert alert", err)
}

// GetByID selects an alert.
func (r *AlertRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.Alert, error) {
	const q = `SELECT ` + alertCols + ` FROM alerts WHERE id=$1`
	a, err := scanAlert(r.db.Pool.QueryRow(ctx, q, id))
	if err != nil {
		return nil, readErr("get alert", err)
	}
	return a, nil
}

// ExistsUnresolved checks the deduplication key (email_id, type, resolved=false).
func (r *AlertRepo) ExistsUnresolved(ctx context.Context, emailID uuid.UUID, typ model.AlertType) (bool, error) {
	const q = `SELECT EXISTS (SELECT 1 FROM alerts WHERE email_id=$1 AND type=$2 AND resolved=false)`
	var ok bool
	if err := r.db.Pool.QueryRow(ctx, q, emailID, string(typ)).Scan(&ok); err != nil {
		return false, readErr("alert exists", err)
	}
	return ok, nil
}

// Resolve marks an alert resolved. Resolving twice is a no-op success.
func (r *AlertRepo) Resolve(ctx context.Context, id uuid.UUID) (*model.Alert, error) {
	const q = `UPDATE alerts SET resolved=true WHERE id=$1 RETURNING ` + alertCols
	a, err := scanAlert(r.db.Pool.QueryRow(ctx, q, id))
	if err != nil {
		return nil, readErr("resolve alert", err)
	}
	return a, nil
}

// ListByEmail returns every alert of a link, newest first.
func (r *AlertRepo) ListByEmail(ctx context.Context, emailID uuid.UUID) ([]model.Alert, error) {
	const q = `SELECT ` + alertCols + ` FROM alerts WHERE email_id=$1 ORDER BY created_at DESC`
	return r.list(ctx, q, emailID)
}

// ListUnresolvedByCompany returns open alerts of a company, newest first.
func (r *AlertRepo) ListUnresolvedByCompany(ctx context.Context, companyID string, limit int) ([]model.Alert, error) {
	const q = `SELECT ` + alertCols + `
FROM alerts WHERE company_id=$1 AND resolved=false
ORDER BY created_at DESC LIMIT $2`
	return r.list(ctx, q, companyID, limit)
}

func (r *AlertRepo) list(ctx context.Context, q string, args ...any) ([]model.Alert, error) {
	rows, err := r.db.Pool.Query(ctx, q, args...)
	if err != nil {
		return nil, readErr("list alerts", err)
	}
	defer rows.Close()

	var out []model.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, readErr("scan alert", err)
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func scanAlert(row pgx.Row) (*model.Alert, error) {
	var (
		a       model.Alert
		typ     string
		details []byte
	)
	if err := row.Scan(&a.ID, &a.EmailID, &a.CompanyID, &a.RecipientEmail, &typ, &a.Message,
		&details, &a.IncidentReport, &a.Resolved, &a.Timestamp); err != nil {
		return nil, err
	}
	a.Type = model.AlertType(typ)
	if len(details) > 0 {
		if err := json.Unmarshal(details, &a.Details); err != nil {
			return nil, fmt.Errorf("%w: alert details: %v", errs.ErrPersistence, err)
		}
	}
	return &a, nil
}
