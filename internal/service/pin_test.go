package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/and161185/securelink/internal/errs"
	"github.com/and161185/securelink/internal/model"
	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap/zaptest"
)

type pinFixture struct {
	*linkFixture
	alerts  *fakeAlerts
	reports *fakeReports
	effects *EffectLog
	pins    *PinService
}

func newPinFixture(t *testing.T, realPIN string) *pinFixture {
	t.Helper()
	lf := newLinkFixture(t, realPIN)
	log := zaptest.NewLogger(t)
	effects := &EffectLog{}
	be := NewBestEffort(log, effects)
	alerts := &fakeAlerts{}
	reports := &fakeReports{text: "Three wrong PINs from one desktop browser."}
	as := NewAlertService(alerts, nil, nil, be, log)
	pins := NewPinService(lf.svc, lf.senders, lf.attempts, as, reports, be, log)
	return &pinFixture{linkFixture: lf, alerts: alerts, reports: reports, effects: effects, pins: pins}
}

var desktop = model.Fingerprint{IP: "1.1.1.1", Device: "Desktop", Browser: "Chrome", OS: "Windows", UserAgent: "Mozilla/5.0 Chrome"}

func TestPin_Verify_Granted(t *testing.T) {
	t.Parallel()
	f := newPinFixture(t, "123456")
	e := f.issue(t, false, nil)

	res, err := f.pins.Verify(context.Background(), e.Token, "123456", desktop)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !res.Granted || res.Document == nil || res.Document.EmailID != e.ID || res.Error != "" {
		t.Fatalf("want granted, got %+v", res)
	}
	if n := f.attempts.count(e.ID); n != 1 {
		t.Fatalf("exactly one attempt per verify, got %d", n)
	}
	if !f.attempts.list[0].Success || !f.attempts.list[0].PinSupplied || f.attempts.list[0].Fingerprint.IP != "1.1.1.1" {
		t.Fatalf("bad attempt: %+v", f.attempts.list[0])
	}
}

func TestPin_Verify_Mismatch(t *testing.T) {
	t.Parallel()
	f := newPinFixture(t, "123456")
	e := f.issue(t, false, nil)

	for _, pin := range []string{"000000", "12345", "12345a", "0123456", ""} {
		res, err := f.pins.Verify(context.Background(), e.Token, pin, desktop)
		if err != nil {
			t.Fatalf("Verify(%q): %v", pin, err)
		}
		if res.Granted || res.Document != nil {
			t.Fatalf("pin %q must not be granted", pin)
		}
		if !errors.Is(res.Reason, errs.ErrPinMismatch) || res.Error != MsgInvalidPIN {
			t.Fatalf("pin %q: bad denial %+v", pin, res)
		}
	}
	f.pins.Wait()
	if n := f.attempts.count(e.ID); n != 5 {
		t.Fatalf("want 5 attempts, got %d", n)
	}
}

func TestPin_Verify_Unavailable(t *testing.T) {
	t.Parallel()
	f := newPinFixture(t, "123456")
	ctx := context.Background()

	res, _ := f.pins.Verify(ctx, "deadbeef", "123456", desktop)
	if res.Error != MsgInvalidLink || !errors.Is(res.Reason, errs.ErrNotFound) {
		t.Fatalf("unknown token: %+v", res)
	}

	revoked := f.issue(t, false, nil)
	_ = f.svc.Revoke(ctx, revoked.ID)
	res, _ = f.pins.Verify(ctx, revoked.Token, "123456", desktop)
	if res.Error != MsgLinkRevoked || !errors.Is(res.Reason, errs.ErrLinkRevoked) {
		t.Fatalf("revoked: %+v", res)
	}

	days := 1
	expired := f.issue(t, false, &days)
	f.clock.Advance(48 * time.Hour)
	res, _ = f.pins.Verify(ctx, expired.Token, "123456", desktop)
	if res.Error != MsgLinkExpired || !errors.Is(res.Reason, errs.ErrLinkExpired) {
		t.Fatalf("expired: %+v", res)
	}

	if n := f.attempts.count(revoked.ID) + f.attempts.count(expired.ID); n != 0 {
		t.Fatalf("unavailable links record no attempts, got %d", n)
	}
}

func TestPin_Verify_SenderMisconfigured(t *testing.T) {
	t.Parallel()
	f := newPinFixture(t, "")
	e := f.issue(t, false, nil)

	res, err := f.pins.Verify(context.Background(), e.Token, "123456", desktop)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if res.Error != MsgSenderMisconfigured || !errors.Is(res.Reason, errs.ErrSenderMisconfigured) {
		t.Fatalf("want misconfigured, got %+v", res)
	}
	if n := f.attempts.count(e.ID); n != 0 {
		t.Fatalf("misconfigured sender must not count as attempt, got %d", n)
	}

	delete(f.senders.byID, f.sender.ID)
	res, _ = f.pins.Verify(context.Background(), e.Token, "123456", desktop)
	if !errors.Is(res.Reason, errs.ErrSenderMisconfigured) {
		t.Fatalf("missing sender: %+v", res)
	}

	f.senders.getErr = errors.New("db down")
	if _, err := f.pins.Verify(context.Background(), e.Token, "123456", desktop); err == nil {
		t.Fatalf("want store error")
	}
}

func TestPin_Verify_Guest(t *testing.T) {
	t.Parallel()
	f := newPinFixture(t, "")
	g := f.issue(t, true, nil)

	res, _ := f.pins.Verify(context.Background(), g.Token, GuestAccessPIN, desktop)
	if !res.Granted || !res.Document.IsGuest {
		t.Fatalf("guest sentinel must be granted: %+v", res)
	}
	res, _ = f.pins.Verify(context.Background(), g.Token, "123456", desktop)
	if res.Granted {
		t.Fatalf("guest link requires the sentinel")
	}
	if n := f.attempts.count(g.ID); n != 2 {
		t.Fatalf("want 2 attempts, got %d", n)
	}
}

func TestPin_ThreeFailures_RaiseOneIncident(t *testing.T) {
	t.Parallel()
	f := newPinFixture(t, "123456")
	e := f.issue(t, false, nil)
	ctx := context.Background()

	wantRemaining := []int{2, 1, 0}
	for i := 0; i < 3; i++ {
		res, err := f.pins.Verify(ctx, e.Token, "000000", desktop)
		if err != nil {
			t.Fatalf("Verify #%d: %v", i+1, err)
		}
		if res.RemainingAttempts != wantRemaining[i] {
			t.Fatalf("attempt %d: remaining=%d", i+1, res.RemainingAttempts)
		}
		if res.IncidentReported != (i == 2) {
			t.Fatalf("attempt %d: incidentReported=%v", i+1, res.IncidentReported)
		}
		f.pins.Wait()
	}

	got := f.alerts.ofType(e.ID, model.AlertMultipleFailedPins)
	if len(got) != 1 {
		t.Fatalf("want exactly one alert after 3rd failure, got %d", len(got))
	}
	a := got[0]
	if a.Resolved || a.IncidentReport == nil || *a.IncidentReport != f.reports.text {
		t.Fatalf("bad alert: %+v", a)
	}
	if a.CompanyID != "acme" || a.RecipientEmail != "bob@example.com" {
		t.Fatalf("alert must carry link context: %+v", a)
	}
	if len(f.reports.last.Logs) != 3 || f.reports.last.EventType != model.AlertMultipleFailedPins {
		t.Fatalf("report request must carry recent attempts: %+v", f.reports.last)
	}

	res, _ := f.pins.Verify(ctx, e.Token, "000000", desktop)
	f.pins.Wait()
	if !res.IncidentReported || res.Notice != MsgIncidentReported || res.Error != MsgInvalidPIN {
		t.Fatalf("4th failure must report incident: %+v", res)
	}
	if n := len(f.alerts.ofType(e.ID, model.AlertMultipleFailedPins)); n != 1 {
		t.Fatalf("4th failure must not create a second alert, got %d", n)
	}
	if n := f.attempts.count(e.ID); n != 4 {
		t.Fatalf("want 4 attempts, got %d", n)
	}
	if f.reports.calls != 1 {
		t.Fatalf("report must be generated once, got %d", f.reports.calls)
	}
}

func TestPin_Incident_ReportFailureStillCreatesAlert(t *testing.T) {
	t.Parallel()
	f := newPinFixture(t, "123456")
	f.reports.err = errors.New("llm down")
	e := f.issue(t, false, nil)

	for i := 0; i < 3; i++ {
		res, err := f.pins.Verify(context.Background(), e.Token, "999999", desktop)
		if err != nil || res.Granted {
			t.Fatalf("Verify: %v %+v", err, res)
		}
	}
	f.pins.Wait()

	got := f.alerts.ofType(e.ID, model.AlertMultipleFailedPins)
	if len(got) != 1 || got[0].IncidentReport != nil {
		t.Fatalf("alert without report expected, got %+v", got)
	}
	eff := f.effects.Named("incident_report")
	if len(eff) != 1 || eff[0].OK() {
		t.Fatalf("report effect must be recorded as failed: %+v", eff)
	}
}

func TestPin_Incident_ReportTimeout(t *testing.T) {
	t.Parallel()
	f := newPinFixture(t, "123456")
	f.reports.delay = time.Second
	f.pins.WithReportTimeout(20 * time.Millisecond)
	e := f.issue(t, false, nil)

	for i := 0; i < 3; i++ {
		_, _ = f.pins.Verify(context.Background(), e.Token, "999999", desktop)
	}
	f.pins.Wait()

	eff := f.effects.Named("incident_report")
	if len(eff) != 1 || !errors.Is(eff[0].Err, errs.ErrDependencyTimeout) {
		t.Fatalf("want dependency timeout, got %+v", eff)
	}
	if n := len(f.alerts.ofType(e.ID, model.AlertMultipleFailedPins)); n != 1 {
		t.Fatalf("alert must still be created, got %d", n)
	}
}

func TestPin_Incident_StoreFailureDoesNotAffectResponse(t *testing.T) {
	t.Parallel()
	f := newPinFixture(t, "123456")
	f.alerts.existsErr = errors.New("store down")
	e := f.issue(t, false, nil)

	var res *VerifyResult
	for i := 0; i < 3; i++ {
		var err error
		res, err = f.pins.Verify(context.Background(), e.Token, "999999", desktop)
		if err != nil {
			t.Fatalf("Verify: %v", err)
		}
	}
	f.pins.Wait()
	if res.Granted || res.Error != MsgInvalidPIN {
		t.Fatalf("bad response: %+v", res)
	}
	eff := f.effects.Named("failed_pins_incident")
	if len(eff) != 1 || eff[0].OK() {
		t.Fatalf("escalation must be attempted and fail: %+v", eff)
	}
}

func TestPin_Incident_ResolvedAlertAllowsNewOne(t *testing.T) {
	t.Parallel()
	f := newPinFixture(t, "123456")
	e := f.issue(t, false, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, _ = f.pins.Verify(ctx, e.Token, "999999", desktop)
	}
	f.pins.Wait()
	first := f.alerts.ofType(e.ID, model.AlertMultipleFailedPins)[0]
	if _, err := f.alerts.Resolve(ctx, first.ID); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	_, _ = f.pins.Verify(ctx, e.Token, "999999", desktop)
	f.pins.Wait()
	all := f.alerts.ofType(e.ID, model.AlertMultipleFailedPins)
	if len(all) != 2 || all[1].ID == uuid.Nil || all[1].Resolved {
		t.Fatalf("want a fresh unresolved alert after resolve, got %+v", all)
	}
}
