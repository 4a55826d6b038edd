package postgres

import (
	"context"

	"github.com/and161185/securelink/internal/model"
	"github.com/gofrs/uuid/v5"
)

// BeaconRepo implements BeaconRepository using PostgreSQL.
type BeaconRepo struct{ db *DB }

// NewBeaconRepo constructs a beacon event repository.
func NewBeaconRepo(db *DB) *BeaconRepo { return &BeaconRepo{db: db} }

const beaconCols = `id, email_id, recipient_email, company_id, sender_user_id,
ip, device, browser, os, user_agent,
country, city, region, lat, lng, accuracy, location_source,
referrer, screen_resolution, language, timezone, created_at`

// Append inserts one event row. A nil location is stored with an empty source.
func (r *BeaconRepo) Append(ctx context.Context, ev *model.BeaconEvent) error {
	const q = `
INSERT INTO beacon_events (` + beaconCols + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)`
	fp := ev.Fingerprint
	var loc model.Location
	if fp.Location != nil {
		loc = *fp.Location
	}
	_, err := r.db.Pool.Exec(ctx, q,
		ev.ID, ev.EmailID, ev.RecipientEmail, ev.CompanyID, ev.SenderUserID,
		fp.IP, fp.Device, fp.Browser, fp.OS, fp.UserAgent,
		loc.Country, loc.City, loc.Region, loc.Lat, loc.Lng, loc.Accuracy, string(loc.Source),
		ev.Referrer, ev.ScreenResolution, ev.Language, ev.Timezone, ev.Timestamp)
	return writeErr("insert beacon event", err)
}

// ListRecent returns up to limit events, newest first.
func (r *BeaconRepo) ListRecent(ctx context.Context, emailID uuid.UUID, limit int) ([]model.BeaconEvent, error) {
	const q = `SELECT ` + beaconCols + `
FROM beacon_events WHERE email_id=$1
ORDER BY created_at DESC LIMIT $2`
	rows, err := r.db.Pool.Query(ctx, q, emailID, limit)
	if err != nil {
		return nil, readErr("list beacon events", err)
	}
	defer rows.Close()

	var out []model.BeaconEvent
	for rows.Next() {
		var (
			ev     model.BeaconEvent
			loc    model.Location
			source string
		)
		fp := &ev.Fingerprint
		if err := rows.Scan(
			&ev.ID, &ev.EmailID, &ev.RecipientEmail, &ev.CompanyID, &ev.SenderUserID,
			&fp.IP, &fp.Device, &fp.Browser, &fp.OS, &fp.UserAgent,
			&loc.Country, &loc.City, &loc.Region, &loc.Lat, &loc.Lng, &loc.Accuracy, &source,
			&ev.Referrer, &ev.ScreenResolution, &ev.Language, &ev.Timezone, &ev.Timestamp,
		); err != nil {
			return nil, readErr("scan beacon event", err)
		}
		if source != "" {
			loc.Source = model.LocationSource(source)
			fp.Location = &loc
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
