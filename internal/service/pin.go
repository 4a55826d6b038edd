package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	pkgcrypto "github.com/and161185/securelink/internal/crypto"
	"github.com/and161185/securelink/internal/errs"
	"github.com/and161185/securelink/internal/incident"
	"github.com/and161185/securelink/internal/model"
	"github.com/and161185/securelink/internal/repository"
	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"
)

const (
	// GuestAccessPIN is the value guest pages submit instead of a PIN.
	GuestAccessPIN = "GUEST_ACCESS"
	// FailedAttemptsThreshold is the all-time failure count that raises an incident.
	FailedAttemptsThreshold = 3
	// IncidentLogLimit is how many recent attempts go into the incident report.
	IncidentLogLimit = 10

	// DefaultReportTimeout bounds incident report generation.
	DefaultReportTimeout = 20 * time.Second
	// DefaultEscalationTimeout bounds the whole escalation side effect.
	DefaultEscalationTimeout = 30 * time.Second
)

// User-facing verification messages.
const (
	MsgInvalidLink         = "Invalid or expired link."
	MsgLinkRevoked         = "This secure link has been revoked by the sender."
	MsgLinkExpired         = "This secure link has expired."
	MsgInvalidPIN          = "Invalid PIN. Please try again."
	MsgSenderMisconfigured = "Could not identify the sender or sender has not set a PIN."
	MsgIncidentReported    = "Too many failed attempts. This incident has been reported to the sender."
)

// Document describes the unlocked content.
type Document struct {
	EmailID        uuid.UUID `json:"emailId"`
	RecipientEmail string    `json:"recipientEmail"`
	SenderID       uuid.UUID `json:"senderId"`
	CompanyID      string    `json:"companyId"`
	IsGuest        bool      `json:"isGuest"`
}

// VerifyResult is the structured outcome of a PIN check. Reason holds the
// matching errs sentinel when access is denied.
type VerifyResult struct {
	Granted           bool
	Document          *Document
	Error             string
	Reason            error
	RemainingAttempts int
	IncidentReported  bool
	Notice            string
}

func denied(reason error, msg string) *VerifyResult {
	return &VerifyResult{Reason: reason, Error: msg}
}

type incidentAlerts interface {
	ExistsUnresolved(ctx context.Context, emailID uuid.UUID, typ model.AlertType) (bool, error)
	CreateIfAbsent(ctx context.Context, a *model.Alert) (bool, error)
}

// PinService verifies PINs and escalates repeated failures.
type PinService struct {
	links    *LinkService
	senders  repository.SenderRepository
	attempts repository.AttemptRepository
	alerts   incidentAlerts
	reports  incident.Generator
	effects  *BestEffort
	log      *zap.Logger

	reportTimeout     time.Duration
	escalationTimeout time.Duration

	wg sync.WaitGroup
}

// NewPinService wires the PIN authenticator. reports may be nil.
func NewPinService(links *LinkService, senders repository.SenderRepository, attempts repository.AttemptRepository,
	alerts incidentAlerts, reports incident.Generator, effects *BestEffort, log *zap.Logger) *PinService {
	if log == nil {
		log = zap.NewNop()
	}
	if effects == nil {
		effects = NewBestEffort(log, nil)
	}
	if reports == nil {
		reports = incident.Nop{}
	}
	return &PinService{
		links: links, senders: senders, attempts: attempts, alerts: alerts, reports: reports,
		effects: effects, log: log,
		reportTimeout: DefaultReportTimeout, escalationTimeout: DefaultEscalationTimeout,
	}
}

// WithReportTimeout overrides the report generation deadline.
func (s *PinService) WithReportTimeout(d time.Duration) *PinService {
	if d > 0 {
		s.reportTimeout = d
	}
	return s
}

// Verify checks pin for the link behind token. Denials come back as a
// result; an error means the check itself could not run.
func (s *PinService) Verify(ctx context.Context, token, pin string, fp model.Fingerprint) (*VerifyResult, error) {
	e, err := s.links.Resolve(ctx, token)
	if errors.Is(err, errs.ErrNotFound) {
		return denied(errs.ErrNotFound, MsgInvalidLink), nil
	}
	if err != nil {
		return nil, err
	}
	switch s.links.CheckAccessible(e) {
	case model.LinkRevoked:
		return denied(errs.ErrLinkRevoked, MsgLinkRevoked), nil
	case model.LinkExpired:
		return denied(errs.ErrLinkExpired, MsgLinkExpired), nil
	}

	var ok bool
	if e.IsGuest {
		ok = pin == GuestAccessPIN
	} else {
		sender, err := s.senders.GetByID(ctx, e.SenderID)
		if errors.Is(err, errs.ErrNotFound) || (err == nil && sender.PinHash == "") {
			return denied(errs.ErrSenderMisconfigured, MsgSenderMisconfigured), nil
		}
		if err != nil {
			return nil, err
		}
		ok = pkgcrypto.ValidPIN(pin) && pkgcrypto.VerifyPIN(sender.PinHash, pin)
	}

	id, err := uuid.NewV4()
	if err != nil {
		return nil, err
	}
	attempt := &model.AccessAttempt{
		ID:      id,
		EmailID: e.ID,
		Fingerprint: model.Fingerprint{
			IP: fp.IP, Device: fp.Device, Browser: fp.Browser, OS: fp.OS, UserAgent: fp.UserAgent,
		},
		PinSupplied: pin != "",
		Success:     ok,
		Timestamp:   s.links.Now().UTC(),
	}
	if err := s.attempts.Append(ctx, attempt); err != nil {
		return nil, err
	}

	if ok {
		return &VerifyResult{
			Granted: true,
			Document: &Document{
				EmailID: e.ID, RecipientEmail: e.RecipientEmail, SenderID: e.SenderID,
				CompanyID: e.CompanyID, IsGuest: e.IsGuest,
			},
		}, nil
	}

	res := denied(errs.ErrPinMismatch, MsgInvalidPIN)
	fails, err := s.attempts.CountFailures(ctx, e.ID)
	if err != nil {
		s.log.Warn("count failed attempts", zap.String("email_id", e.ID.String()), zap.Error(err))
		return res, nil
	}
	res.RemainingAttempts = remaining(fails)
	if fails >= FailedAttemptsThreshold {
		res.IncidentReported = true
		res.Notice = MsgIncidentReported
		s.escalate(ctx, e, fails)
	}
	return res, nil
}

// escalate raises the MultipleFailedPins incident in the background.
func (s *PinService) escalate(ctx context.Context, e *model.SecureEmail, fails int) {
	bg, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.escalationTimeout)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		s.effects.Do(bg, "failed_pins_incident", func(ctx context.Context) error {
			return s.raiseIncident(ctx, e, fails)
		})
	}()
}

// Wait blocks until background escalations finish.
func (s *PinService) Wait() { s.wg.Wait() }

func (s *PinService) raiseIncident(ctx context.Context, e *model.SecureEmail, fails int) error {
	exists, err := s.alerts.ExistsUnresolved(ctx, e.ID, model.AlertMultipleFailedPins)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	logs, err := s.attempts.ListRecent(ctx, e.ID, IncidentLogLimit)
	if err != nil {
		return err
	}

	a := &model.Alert{
		EmailID:        e.ID,
		CompanyID:      e.CompanyID,
		RecipientEmail: e.RecipientEmail,
		Type:           model.AlertMultipleFailedPins,
		Message:        fmt.Sprintf("%d failed PIN attempts on the secure email sent to %s", fails, e.RecipientEmail),
		Details: map[string]any{
			"failedAttempts": fails,
			"threshold":      FailedAttemptsThreshold,
			"recentAttempts": logs,
		},
	}
	s.effects.Do(ctx, "incident_report", func(ctx context.Context) error {
		rctx, cancel := context.WithTimeout(ctx, s.reportTimeout)
		defer cancel()
		text, err := s.reports.GenerateReport(rctx, incident.ReportRequest{
			EventType:      model.AlertMultipleFailedPins,
			RecipientEmail: e.RecipientEmail,
			Logs:           logs,
		})
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: %v", errs.ErrDependencyTimeout, err)
		}
		if err != nil {
			return err
		}
		a.IncidentReport = &text
		return nil
	})

	_, err = s.alerts.CreateIfAbsent(ctx, a)
	return err
}
