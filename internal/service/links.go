// Package service contains the secure link registry, PIN authentication,
// beacon ingestion, anomaly detection and alert management.
package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	pkgcrypto "github.com/and161185/securelink/internal/crypto"
	"github.com/and161185/securelink/internal/errs"
	"github.com/and161185/securelink/internal/model"
	"github.com/and161185/securelink/internal/repository"
	"github.com/gofrs/uuid/v5"
)

// GuestTTL is the fixed lifetime of a guest link.
const GuestTTL = 24 * time.Hour

// issueRetries bounds retries on token collision.
const issueRetries = 3

// IssueRequest describes a link to create.
type IssueRequest struct {
	RecipientEmail string
	SenderID       uuid.UUID
	CompanyID      string
	IsGuest        bool
	ExpiresInDays  *int // ignored for guests; nil means never expires
}

// LinkStatus is what a recipient sees before entering a PIN.
type LinkStatus struct {
	Email             *model.SecureEmail
	State             model.LinkState
	RequiresPin       bool
	RemainingAttempts int
}

// LinkService is the secure link registry.
type LinkService struct {
	emails   repository.SecureEmailRepository
	senders  repository.SenderRepository
	attempts repository.AttemptRepository
	now      func() time.Time
}

// NewLinkService constructs the registry.
func NewLinkService(emails repository.SecureEmailRepository, senders repository.SenderRepository, attempts repository.AttemptRepository) *LinkService {
	return &LinkService{emails: emails, senders: senders, attempts: attempts, now: time.Now}
}

// WithClock overrides the time source.
func (s *LinkService) WithClock(now func() time.Time) *LinkService {
	s.now = now
	return s
}

// Now returns the registry's current time.
func (s *LinkService) Now() time.Time { return s.now() }

// Issue creates a new secure link with a fresh random token.
func (s *LinkService) Issue(ctx context.Context, req IssueRequest) (*model.SecureEmail, error) {
	rcpt := strings.TrimSpace(req.RecipientEmail)
	if _, err := mail.ParseAddress(rcpt); err != nil {
		return nil, fmt.Errorf("%w: recipient email: %v", errs.ErrValidation, err)
	}
	if req.SenderID == uuid.Nil {
		return nil, fmt.Errorf("%w: sender id is required", errs.ErrValidation)
	}
	if !req.IsGuest && req.ExpiresInDays != nil && *req.ExpiresInDays <= 0 {
		return nil, fmt.Errorf("%w: expiresInDays must be positive", errs.ErrValidation)
	}

	sender, err := s.senders.GetByID(ctx, req.SenderID)
	if errors.Is(err, errs.ErrNotFound) {
		return nil, fmt.Errorf("%w: unknown sender", errs.ErrValidation)
	}
	if err != nil {
		return nil, err
	}
	company := req.CompanyID
	if company == "" {
		company = sender.CompanyID
	}

	now := s.now().UTC()
	e := &model.SecureEmail{
		RecipientEmail: rcpt,
		SenderID:       req.SenderID,
		CompanyID:      company,
		IsGuest:        req.IsGuest,
		CreatedAt:      now,
	}
	switch {
	case req.IsGuest:
		exp := now.Add(GuestTTL)
		e.ExpiresAt = &exp
	case req.ExpiresInDays != nil:
		exp := now.AddDate(0, 0, *req.ExpiresInDays)
		e.ExpiresAt = &exp
	}

	for i := 0; i < issueRetries; i++ {
		if e.ID, err = uuid.NewV4(); err != nil {
			return nil, err
		}
		if e.Token, err = pkgcrypto.NewToken(); err != nil {
			return nil, err
		}
		err = s.emails.Create(ctx, e)
		if !errors.Is(err, errs.ErrAlreadyExists) {
			break
		}
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

// Resolve looks a link up by token. Malformed tokens are reported as not found.
func (s *LinkService) Resolve(ctx context.Context, token string) (*model.SecureEmail, error) {
	if !pkgcrypto.ValidToken(token) {
		return nil, errs.ErrNotFound
	}
	return s.emails.GetByToken(ctx, token)
}

// Get loads a link by id.
func (s *LinkService) Get(ctx context.Context, id uuid.UUID) (*model.SecureEmail, error) {
	return s.emails.GetByID(ctx, id)
}

// CheckAccessible evaluates the link now. Revoked beats Expired.
func (s *LinkService) CheckAccessible(e *model.SecureEmail) model.LinkState {
	return e.State(s.now())
}

// Revoke disables the link. Revoking a revoked link succeeds.
func (s *LinkService) Revoke(ctx context.Context, id uuid.UUID) error {
	return s.emails.SetRevoked(ctx, id, true)
}

// Unrevoke re-enables a link. Administrative only.
func (s *LinkService) Unrevoke(ctx context.Context, id uuid.UUID) error {
	return s.emails.SetRevoked(ctx, id, false)
}

// Inspect resolves a token into what the recipient page needs to render.
func (s *LinkService) Inspect(ctx context.Context, token string) (*LinkStatus, error) {
	e, err := s.Resolve(ctx, token)
	if err != nil {
		return nil, err
	}
	st := &LinkStatus{Email: e, State: s.CheckAccessible(e), RequiresPin: !e.IsGuest}
	if st.State != model.LinkActive || !st.RequiresPin {
		return st, nil
	}
	fails, err := s.attempts.CountFailures(ctx, e.ID)
	if err != nil {
		return nil, err
	}
	st.RemainingAttempts = remaining(fails)
	return st, nil
}

func remaining(fails int) int {
	if fails >= FailedAttemptsThreshold {
		return 0
	}
	return FailedAttemptsThreshold - fails
}
