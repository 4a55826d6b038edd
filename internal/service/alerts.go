package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/and161185/securelink/internal/errs"
	"github.com/and161185/securelink/internal/model"
	"github.com/and161185/securelink/internal/repository"
	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"
)

// DefaultAlertListLimit caps operator listings.
const DefaultAlertListLimit = 100

// Notifier delivers a freshly created alert downstream.
type Notifier interface {
	PublishAlert(ctx context.Context, a *model.Alert) error
}

// Claimer serializes alert creation per (email, type) across instances.
// A claim is short-lived until confirmed, so a writer that dies between
// Claim and Confirm cannot suppress alerts for long.
type Claimer interface {
	Claim(ctx context.Context, emailID uuid.UUID, typ model.AlertType) (bool, error)
	Confirm(ctx context.Context, emailID uuid.UUID, typ model.AlertType) error
	Release(ctx context.Context, emailID uuid.UUID, typ model.AlertType) error
}

// AlertService is the alert manager.
type AlertService struct {
	repo    repository.AlertRepository
	claims  Claimer
	notify  Notifier
	effects *BestEffort
	log     *zap.Logger
	now     func() time.Time
}

// NewAlertService wires the alert manager. claims and notify may be nil.
func NewAlertService(repo repository.AlertRepository, claims Claimer, notify Notifier, effects *BestEffort, log *zap.Logger) *AlertService {
	if log == nil {
		log = zap.NewNop()
	}
	if effects == nil {
		effects = NewBestEffort(log, nil)
	}
	return &AlertService{repo: repo, claims: claims, notify: notify, effects: effects, log: log, now: time.Now}
}

// Create stores a new unresolved alert and publishes it.
func (s *AlertService) Create(ctx context.Context, a *model.Alert) error {
	if !a.Type.Valid() {
		return fmt.Errorf("%w: unknown alert type %q", errs.ErrValidation, a.Type)
	}
	if a.ID == uuid.Nil {
		id, err := uuid.NewV4()
		if err != nil {
			return err
		}
		a.ID = id
	}
	if a.Timestamp.IsZero() {
		a.Timestamp = s.now().UTC()
	}
	a.Resolved = false
	if err := s.repo.Create(ctx, a); err != nil {
		return err
	}
	s.log.Info("alert created",
		zap.String("alert_id", a.ID.String()),
		zap.String("email_id", a.EmailID.String()),
		zap.String("type", string(a.Type)))
	if s.notify != nil {
		s.effects.Do(ctx, "publish_alert", func(ctx context.Context) error {
			return s.notify.PublishAlert(ctx, a)
		})
	}
	return nil
}

// ExistsUnresolved reports whether an open alert of typ exists for the link.
func (s *AlertService) ExistsUnresolved(ctx context.Context, emailID uuid.UUID, typ model.AlertType) (bool, error) {
	return s.repo.ExistsUnresolved(ctx, emailID, typ)
}

// CreateIfAbsent creates the alert unless an unresolved one of the same
// type already exists for the link. The check is approximate: without the
// Redis claim two racing writers may both pass it.
func (s *AlertService) CreateIfAbsent(ctx context.Context, a *model.Alert) (bool, error) {
	claimed := false
	if s.claims != nil {
		ok, err := s.claims.Claim(ctx, a.EmailID, a.Type)
		switch {
		case err != nil:
			s.log.Warn("alert claim unavailable, falling back to store check", zap.Error(err))
		case !ok:
			return false, nil
		default:
			claimed = true
		}
	}

	exists, err := s.repo.ExistsUnresolved(ctx, a.EmailID, a.Type)
	if err != nil {
		s.release(ctx, claimed, a)
		return false, err
	}
	if exists {
		s.confirm(ctx, claimed, a)
		return false, nil
	}
	if err := s.Create(ctx, a); err != nil {
		if errors.Is(err, errs.ErrAlreadyExists) {
			s.confirm(ctx, claimed, a)
			return false, nil
		}
		s.release(ctx, claimed, a)
		return false, err
	}
	s.confirm(ctx, claimed, a)
	return true, nil
}

// confirm ties a held claim to the stored open alert. On failure the claim
// simply lapses and the store check takes over.
func (s *AlertService) confirm(ctx context.Context, claimed bool, a *model.Alert) {
	if !claimed {
		return
	}
	if err := s.claims.Confirm(ctx, a.EmailID, a.Type); err != nil {
		s.log.Warn("confirm alert claim", zap.Error(err))
	}
}

func (s *AlertService) release(ctx context.Context, claimed bool, a *model.Alert) {
	if !claimed {
		return
	}
	if err := s.claims.Release(ctx, a.EmailID, a.Type); err != nil {
		s.log.Warn("release alert claim", zap.Error(err))
	}
}

// Resolve marks an alert resolved. Revoked links stay revoked.
func (s *AlertService) Resolve(ctx context.Context, id uuid.UUID) (*model.Alert, error) {
	a, err := s.repo.Resolve(ctx, id)
	if err != nil {
		return nil, err
	}
	s.release(ctx, s.claims != nil, a)
	return a, nil
}

// Get loads an alert.
func (s *AlertService) Get(ctx context.Context, id uuid.UUID) (*model.Alert, error) {
	return s.repo.GetByID(ctx, id)
}

// ListByEmail returns the alert history of a link.
func (s *AlertService) ListByEmail(ctx context.Context, emailID uuid.UUID) ([]model.Alert, error) {
	return s.repo.ListByEmail(ctx, emailID)
}

// ListUnresolved returns open alerts of a company.
func (s *AlertService) ListUnresolved(ctx context.Context, companyID string, limit int) ([]model.Alert, error) {
	if limit <= 0 || limit > DefaultAlertListLimit {
		limit = DefaultAlertListLimit
	}
	return s.repo.ListUnresolvedByCompany(ctx, companyID, limit)
}
