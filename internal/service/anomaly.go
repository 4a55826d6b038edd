package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/and161185/securelink/internal/model"
	"github.com/and161185/securelink/internal/repository"
	"go.uber.org/zap"
)

// AnomalyWindow is how many recent events are fetched. The anchor is the
// oldest event in this window, so under heavy volume it drifts away from
// the true first open.
const AnomalyWindow = 10

// Comparison is the result of comparing a fingerprint against the anchor.
type Comparison struct {
	Reasons    []string
	Suspicious bool
}

// CompareFingerprints checks newest against anchor by exact match on IP,
// device, user agent and (when both are known) country. A city mismatch is
// kept as a reason but does not make the event suspicious.
func CompareFingerprints(anchor, newest model.Fingerprint) Comparison {
	var c Comparison
	flag := func(reason string) {
		c.Reasons = append(c.Reasons, reason)
		c.Suspicious = true
	}
	if newest.IP != anchor.IP {
		flag(fmt.Sprintf("Different IP: %s vs %s", newest.IP, anchor.IP))
	}
	if newest.Device != anchor.Device {
		flag(fmt.Sprintf("Different device: %s vs %s", newest.Device, anchor.Device))
	}
	if newest.UserAgent != anchor.UserAgent {
		flag(fmt.Sprintf("Different user agent: %s vs %s", newest.UserAgent, anchor.UserAgent))
	}
	if newest.Location.HasCountry() && anchor.Location.HasCountry() &&
		newest.Location.Country != anchor.Location.Country {
		flag(fmt.Sprintf("Different country: %s vs %s", newest.Location.Country, anchor.Location.Country))
	}
	if newest.Location.HasCity() && anchor.Location.HasCity() &&
		newest.Location.City != anchor.Location.City {
		c.Reasons = append(c.Reasons, fmt.Sprintf("Different city: %s vs %s", newest.Location.City, anchor.Location.City))
	}
	return c
}

// Outcome describes what the detector decided and which side effects ran.
type Outcome struct {
	Suspicious   bool
	Reasons      []string
	EventCount   int
	Anchor       *model.BeaconEvent
	Revoke       Effect
	Alert        Effect
	AlertCreated bool
}

type suspiciousAlerts interface {
	Create(ctx context.Context, a *model.Alert) error
	CreateIfAbsent(ctx context.Context, a *model.Alert) (bool, error)
}

// AnomalyDetector flags opens whose fingerprint differs from the anchor,
// revokes the link and raises a SuspiciousOpen alert.
type AnomalyDetector struct {
	events  repository.BeaconRepository
	emails  repository.SecureEmailRepository
	alerts  suspiciousAlerts
	effects *BestEffort
	dedupe  bool
	log     *zap.Logger
}

// NewAnomalyDetector constructs the detector. With dedupe set, a
// SuspiciousOpen alert is only raised when no unresolved one exists.
func NewAnomalyDetector(events repository.BeaconRepository, emails repository.SecureEmailRepository, alerts suspiciousAlerts, effects *BestEffort, dedupe bool, log *zap.Logger) *AnomalyDetector {
	if log == nil {
		log = zap.NewNop()
	}
	if effects == nil {
		effects = NewBestEffort(log, nil)
	}
	return &AnomalyDetector{events: events, emails: emails, alerts: alerts, effects: effects, dedupe: dedupe, log: log}
}

// Analyze compares ev against the anchor of its link. It never returns an
// error: store failures only make the outcome non-suspicious.
func (d *AnomalyDetector) Analyze(ctx context.Context, ev model.BeaconEvent) Outcome {
	var out Outcome
	history, err := d.events.ListRecent(ctx, ev.EmailID, AnomalyWindow)
	if err != nil {
		d.log.Warn("anomaly history unavailable", zap.String("email_id", ev.EmailID.String()), zap.Error(err))
		return out
	}
	out.EventCount = len(history)
	if len(history) < 2 {
		return out
	}
	anchor := history[len(history)-1]
	out.Anchor = &anchor

	cmp := CompareFingerprints(anchor.Fingerprint, ev.Fingerprint)
	out.Reasons = cmp.Reasons
	if !cmp.Suspicious {
		if len(cmp.Reasons) > 0 {
			d.log.Debug("non-escalating fingerprint drift", zap.Strings("reasons", cmp.Reasons))
		}
		return out
	}
	out.Suspicious = true
	d.log.Info("suspicious open",
		zap.String("email_id", ev.EmailID.String()),
		zap.String("ip", ev.Fingerprint.IP),
		zap.Strings("reasons", cmp.Reasons))

	out.Revoke = d.effects.Do(ctx, "revoke_link", func(ctx context.Context) error {
		return d.emails.SetRevoked(ctx, ev.EmailID, true)
	})
	out.Alert = d.effects.Do(ctx, "suspicious_open_alert", func(ctx context.Context) error {
		a := d.suspiciousAlert(ctx, ev, anchor, cmp.Reasons)
		if !d.dedupe {
			if err := d.alerts.Create(ctx, a); err != nil {
				return err
			}
			out.AlertCreated = true
			return nil
		}
		created, err := d.alerts.CreateIfAbsent(ctx, a)
		out.AlertCreated = created
		return err
	})
	return out
}

func (d *AnomalyDetector) suspiciousAlert(ctx context.Context, ev, anchor model.BeaconEvent, reasons []string) *model.Alert {
	// the link is authoritative; beacon values only label orphan events
	company, rcpt := ev.CompanyID, ev.RecipientEmail
	if e, err := d.emails.GetByID(ctx, ev.EmailID); err == nil {
		company, rcpt = e.CompanyID, e.RecipientEmail
	}
	return &model.Alert{
		EmailID:        ev.EmailID,
		CompanyID:      company,
		RecipientEmail: rcpt,
		Type:           model.AlertSuspiciousOpen,
		Message:        fmt.Sprintf("Suspicious open of the secure email sent to %s: %s", rcpt, strings.Join(reasons, "; ")),
		Details: map[string]any{
			"reasons":       reasons,
			"fingerprint":   ev.Fingerprint,
			"anchor":        anchor.Fingerprint,
			"eventId":       ev.ID.String(),
			"anchorEventId": anchor.ID.String(),
			"referrer":      ev.Referrer,
		},
	}
}
