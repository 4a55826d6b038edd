package service

import (
	"context"
	"errors"
	"testing"

	"github.com/and161185/securelink/internal/errs"
	"github.com/and161185/securelink/internal/model"
	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap/zaptest"
)

func newAlertFixture(t *testing.T) (*AlertService, *fakeAlerts, *fakeClaimer, *fakeNotifier, *EffectLog) {
	t.Helper()
	log := zaptest.NewLogger(t)
	effects := &EffectLog{}
	repo := &fakeAlerts{}
	claims := &fakeClaimer{}
	notify := &fakeNotifier{}
	return NewAlertService(repo, claims, notify, NewBestEffort(log, effects), log), repo, claims, notify, effects
}

func newAlert(emailID uuid.UUID, typ model.AlertType) *model.Alert {
	return &model.Alert{EmailID: emailID, CompanyID: "acme", RecipientEmail: "bob@example.com", Type: typ, Message: "m"}
}

func TestAlerts_Create(t *testing.T) {
	t.Parallel()
	s, repo, _, notify, _ := newAlertFixture(t)
	a := newAlert(uuid.Must(uuid.NewV4()), model.AlertSuspiciousOpen)
	a.Resolved = true

	if err := s.Create(context.Background(), a); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if a.ID == uuid.Nil || a.Timestamp.IsZero() || repo.list[0].Resolved {
		t.Fatalf("create must assign id, timestamp and resolved=false: %+v", repo.list[0])
	}
	if len(notify.sent) != 1 || notify.sent[0] != a.ID {
		t.Fatalf("alert must be published")
	}

	if err := s.Create(context.Background(), newAlert(a.EmailID, "Other")); !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("unknown type: want ErrValidation, got %v", err)
	}
}

func TestAlerts_PublishFailureIsSwallowed(t *testing.T) {
	t.Parallel()
	s, repo, _, notify, effects := newAlertFixture(t)
	notify.err = errors.New("redis down")

	if err := s.Create(context.Background(), newAlert(uuid.Must(uuid.NewV4()), model.AlertMultipleFailedPins)); err != nil {
		t.Fatalf("publish failure must not fail create: %v", err)
	}
	if len(repo.list) != 1 {
		t.Fatalf("alert must be stored")
	}
	if eff := effects.Named("publish_alert"); len(eff) != 1 || eff[0].OK() {
		t.Fatalf("publish effect must be recorded as failed: %+v", eff)
	}
}

func TestAlerts_CreateIfAbsent(t *testing.T) {
	t.Parallel()
	s, repo, claims, _, _ := newAlertFixture(t)
	ctx := context.Background()
	emailID := uuid.Must(uuid.NewV4())

	created, err := s.CreateIfAbsent(ctx, newAlert(emailID, model.AlertMultipleFailedPins))
	if err != nil || !created {
		t.Fatalf("first create: %v %v", created, err)
	}
	created, err = s.CreateIfAbsent(ctx, newAlert(emailID, model.AlertMultipleFailedPins))
	if err != nil || created {
		t.Fatalf("second create must be deduplicated: %v %v", created, err)
	}
	ok, _ := s.ExistsUnresolved(ctx, emailID, model.AlertMultipleFailedPins)
	if !ok || len(repo.list) != 1 {
		t.Fatalf("exactly one unresolved alert expected")
	}

	created, _ = s.CreateIfAbsent(ctx, newAlert(emailID, model.AlertSuspiciousOpen))
	if !created {
		t.Fatalf("different type is a different dedup key")
	}

	resolved, err := s.Resolve(ctx, repo.list[0].ID)
	if err != nil || !resolved.Resolved {
		t.Fatalf("Resolve: %v", err)
	}
	if claims.released == 0 {
		t.Fatalf("resolve must release the claim")
	}
	created, _ = s.CreateIfAbsent(ctx, newAlert(emailID, model.AlertMultipleFailedPins))
	if !created {
		t.Fatalf("resolved alert frees the dedup key")
	}
}

func TestAlerts_CreateIfAbsent_ClaimUnavailable(t *testing.T) {
	t.Parallel()
	s, repo, claims, _, _ := newAlertFixture(t)
	claims.claimErr = errors.New("redis down")
	emailID := uuid.Must(uuid.NewV4())

	for i := 0; i < 2; i++ {
		if _, err := s.CreateIfAbsent(context.Background(), newAlert(emailID, model.AlertSuspiciousOpen)); err != nil {
			t.Fatalf("CreateIfAbsent: %v", err)
		}
	}
	if len(repo.list) != 1 {
		t.Fatalf("store check must still deduplicate, got %d", len(repo.list))
	}
}

func TestAlerts_CreateIfAbsent_StoreErrorReleasesClaim(t *testing.T) {
	t.Parallel()
	s, repo, claims, _, _ := newAlertFixture(t)
	repo.createErr = errors.New("write failed")
	emailID := uuid.Must(uuid.NewV4())

	if _, err := s.CreateIfAbsent(context.Background(), newAlert(emailID, model.AlertMultipleFailedPins)); err == nil {
		t.Fatalf("want store error")
	}
	repo.createErr = nil
	created, err := s.CreateIfAbsent(context.Background(), newAlert(emailID, model.AlertMultipleFailedPins))
	if err != nil || !created {
		t.Fatalf("claim must be released after failed insert: %v %v", created, err)
	}
	if claims.released != 1 {
		t.Fatalf("want one release, got %d", claims.released)
	}
}

func TestAlerts_CreateIfAbsent_ConfirmsClaim(t *testing.T) {
	t.Parallel()
	s, _, claims, _, _ := newAlertFixture(t)
	emailID := uuid.Must(uuid.NewV4())

	if created, err := s.CreateIfAbsent(context.Background(), newAlert(emailID, model.AlertSuspiciousOpen)); err != nil || !created {
		t.Fatalf("CreateIfAbsent: %v %v", created, err)
	}
	if !claims.confirmed[claims.key(emailID, model.AlertSuspiciousOpen)] {
		t.Fatalf("stored alert must confirm its claim")
	}
	claims.expirePending()
	created, err := s.CreateIfAbsent(context.Background(), newAlert(emailID, model.AlertSuspiciousOpen))
	if err != nil || created {
		t.Fatalf("confirmed claim must keep deduplicating: %v %v", created, err)
	}
}

func TestAlerts_CreateIfAbsent_UnconfirmedClaimLapses(t *testing.T) {
	t.Parallel()
	s, repo, claims, _, _ := newAlertFixture(t)
	ctx := context.Background()
	emailID := uuid.Must(uuid.NewV4())

	// a writer that claimed and died before storing its alert
	if ok, _ := claims.Claim(ctx, emailID, model.AlertMultipleFailedPins); !ok {
		t.Fatalf("claim")
	}
	if created, _ := s.CreateIfAbsent(ctx, newAlert(emailID, model.AlertMultipleFailedPins)); created {
		t.Fatalf("live pending claim still serializes writers")
	}

	claims.expirePending()
	created, err := s.CreateIfAbsent(ctx, newAlert(emailID, model.AlertMultipleFailedPins))
	if err != nil || !created {
		t.Fatalf("lapsed claim must not suppress the alert: %v %v", created, err)
	}
	if len(repo.list) != 1 {
		t.Fatalf("want one alert, got %d", len(repo.list))
	}
}

func TestAlerts_Listing(t *testing.T) {
	t.Parallel()
	s, _, _, _, _ := newAlertFixture(t)
	ctx := context.Background()
	emailID := uuid.Must(uuid.NewV4())

	_ = s.Create(ctx, newAlert(emailID, model.AlertSuspiciousOpen))
	_ = s.Create(ctx, newAlert(emailID, model.AlertMultipleFailedPins))
	other := newAlert(uuid.Must(uuid.NewV4()), model.AlertSuspiciousOpen)
	other.CompanyID = "globex"
	_ = s.Create(ctx, other)

	byEmail, _ := s.ListByEmail(ctx, emailID)
	if len(byEmail) != 2 {
		t.Fatalf("by email: %d", len(byEmail))
	}
	open, _ := s.ListUnresolved(ctx, "acme", 0)
	if len(open) != 2 {
		t.Fatalf("unresolved for acme: %d", len(open))
	}
	if _, err := s.Get(ctx, uuid.Must(uuid.NewV4())); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
	if _, err := s.Resolve(ctx, uuid.Must(uuid.NewV4())); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestBestEffort_RecoversPanics(t *testing.T) {
	t.Parallel()
	log := &EffectLog{}
	be := NewBestEffort(zaptest.NewLogger(t), log)

	eff := be.Do(context.Background(), "boom", func(context.Context) error { panic("kaboom") })
	if eff.OK() || eff.Err == nil || !eff.Attempted {
		t.Fatalf("panic must become an error: %+v", eff)
	}
	eff = be.Do(context.Background(), "fine", func(context.Context) error { return nil })
	if !eff.OK() {
		t.Fatalf("want ok: %+v", eff)
	}
	if len(log.Named("boom")) != 1 || len(log.Named("fine")) != 1 {
		t.Fatalf("both effects must be recorded")
	}
}
