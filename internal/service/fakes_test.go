package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/and161185/securelink/internal/errs"
	"github.com/and161185/securelink/internal/incident"
	"github.com/and161185/securelink/internal/model"
	"github.com/and161185/securelink/internal/repository"
	"github.com/gofrs/uuid/v5"
	"golang.org/x/crypto/bcrypt"
)

/************ repositories ************/

type fakeEmails struct {
	mu   sync.Mutex
	byID map[uuid.UUID]*model.SecureEmail

	createErr   error
	collisions  int // first N creates fail with ErrAlreadyExists
	revokeErr   error
	revokeCalls int
}

var _ repository.SecureEmailRepository = (*fakeEmails)(nil)

func newFakeEmails() *fakeEmails { return &fakeEmails{byID: map[uuid.UUID]*model.SecureEmail{}} }

func (f *fakeEmails) Create(_ context.Context, e *model.SecureEmail) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	if f.collisions > 0 {
		f.collisions--
		return errs.ErrAlreadyExists
	}
	for _, x := range f.byID {
		if x.Token == e.Token {
			return errs.ErrAlreadyExists
		}
	}
	c := *e
	f.byID[e.ID] = &c
	return nil
}
func (f *fakeEmails) GetByID(_ context.Context, id uuid.UUID) (*model.SecureEmail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.byID[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	c := *e
	return &c, nil
}
func (f *fakeEmails) GetByToken(_ context.Context, token string) (*model.SecureEmail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.byID {
		if e.Token == token {
			c := *e
			return &c, nil
		}
	}
	return nil, errs.ErrNotFound
}
func (f *fakeEmails) SetRevoked(_ context.Context, id uuid.UUID, revoked bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revokeCalls++
	if f.revokeErr != nil {
		return f.revokeErr
	}
	e, ok := f.byID[id]
	if !ok {
		return errs.ErrNotFound
	}
	e.Revoked = revoked
	return nil
}
func (f *fakeEmails) revoked(id uuid.UUID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.byID[id].Revoked
}

type fakeSenders struct {
	byID   map[uuid.UUID]*model.Sender
	getErr error
}

var _ repository.SenderRepository = (*fakeSenders)(nil)

func (f *fakeSenders) GetByID(_ context.Context, id uuid.UUID) (*model.Sender, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	s, ok := f.byID[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	c := *s
	return &c, nil
}

type fakeAttempts struct {
	mu       sync.Mutex
	list     []model.AccessAttempt
	countErr error
}

var _ repository.AttemptRepository = (*fakeAttempts)(nil)

func (f *fakeAttempts) Append(_ context.Context, a *model.AccessAttempt) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.list = append(f.list, *a)
	return nil
}
func (f *fakeAttempts) CountFailures(_ context.Context, emailID uuid.UUID) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.countErr != nil {
		return 0, f.countErr
	}
	n := 0
	for _, a := range f.list {
		if a.EmailID == emailID && !a.Success {
			n++
		}
	}
	return n, nil
}
func (f *fakeAttempts) ListRecent(_ context.Context, emailID uuid.UUID, limit int) ([]model.AccessAttempt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.AccessAttempt
	for i := len(f.list) - 1; i >= 0 && len(out) < limit; i-- {
		if f.list[i].EmailID == emailID {
			out = append(out, f.list[i])
		}
	}
	return out, nil
}
func (f *fakeAttempts) count(emailID uuid.UUID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, a := range f.list {
		if a.EmailID == emailID {
			n++
		}
	}
	return n
}

type fakeBeacons struct {
	mu        sync.Mutex
	list      []model.BeaconEvent
	appendErr error
	listErr   error
}

var _ repository.BeaconRepository = (*fakeBeacons)(nil)

func (f *fakeBeacons) Append(_ context.Context, ev *model.BeaconEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.appendErr != nil {
		return f.appendErr
	}
	f.list = append(f.list, *ev)
	return nil
}
func (f *fakeBeacons) ListRecent(_ context.Context, emailID uuid.UUID, limit int) ([]model.BeaconEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []model.BeaconEvent
	for _, ev := range f.list {
		if ev.EmailID == emailID {
			out = append(out, ev)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type fakeAlerts struct {
	mu        sync.Mutex
	list      []model.Alert
	createErr error
	existsErr error
}

var _ repository.AlertRepository = (*fakeAlerts)(nil)

func (f *fakeAlerts) Create(_ context.Context, a *model.Alert) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	if a.Type == model.AlertMultipleFailedPins {
		for _, x := range f.list {
			if x.EmailID == a.EmailID && x.Type == a.Type && !x.Resolved {
				return errs.ErrAlreadyExists
			}
		}
	}
	f.list = append(f.list, *a)
	return nil
}
func (f *fakeAlerts) GetByID(_ context.Context, id uuid.UUID) (*model.Alert, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.list {
		if a.ID == id {
			c := a
			return &c, nil
		}
	}
	return nil, errs.ErrNotFound
}
func (f *fakeAlerts) ExistsUnresolved(_ context.Context, emailID uuid.UUID, typ model.AlertType) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.existsErr != nil {
		return false, f.existsErr
	}
	for _, a := range f.list {
		if a.EmailID == emailID && a.Type == typ && !a.Resolved {
			return true, nil
		}
	}
	return false, nil
}
func (f *fakeAlerts) Resolve(_ context.Context, id uuid.UUID) (*model.Alert, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.list {
		if f.list[i].ID == id {
			f.list[i].Resolved = true
			c := f.list[i]
			return &c, nil
		}
	}
	return nil, errs.ErrNotFound
}
func (f *fakeAlerts) ListByEmail(_ context.Context, emailID uuid.UUID) ([]model.Alert, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Alert
	for _, a := range f.list {
		if a.EmailID == emailID {
			out = append(out, a)
		}
	}
	return out, nil
}
func (f *fakeAlerts) ListUnresolvedByCompany(_ context.Context, companyID string, limit int) ([]model.Alert, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Alert
	for _, a := range f.list {
		if a.CompanyID == companyID && !a.Resolved && len(out) < limit {
			out = append(out, a)
		}
	}
	return out, nil
}
func (f *fakeAlerts) ofType(emailID uuid.UUID, typ model.AlertType) []model.Alert {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Alert
	for _, a := range f.list {
		if a.EmailID == emailID && a.Type == typ {
			out = append(out, a)
		}
	}
	return out
}

/************ collaborators ************/

type fakeClaimer struct {
	mu        sync.Mutex
	held      map[string]bool
	confirmed map[string]bool
	claimErr  error
	released  int
}

func (c *fakeClaimer) key(id uuid.UUID, typ model.AlertType) string { return id.String() + ":" + string(typ) }

func (c *fakeClaimer) Claim(_ context.Context, id uuid.UUID, typ model.AlertType) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.claimErr != nil {
		return false, c.claimErr
	}
	if c.held == nil {
		c.held = map[string]bool{}
	}
	k := c.key(id, typ)
	if c.held[k] {
		return false, nil
	}
	c.held[k] = true
	return true, nil
}

func (c *fakeClaimer) Confirm(_ context.Context, id uuid.UUID, typ model.AlertType) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.confirmed == nil {
		c.confirmed = map[string]bool{}
	}
	c.confirmed[c.key(id, typ)] = true
	return nil
}

// expirePending drops claims that were never confirmed, as Redis would once
// the pending lease runs out.
func (c *fakeClaimer) expirePending() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.held {
		if !c.confirmed[k] {
			delete(c.held, k)
		}
	}
}

func (c *fakeClaimer) Release(_ context.Context, id uuid.UUID, typ model.AlertType) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.released++
	delete(c.held, c.key(id, typ))
	delete(c.confirmed, c.key(id, typ))
	return nil
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []uuid.UUID
	err  error
}

func (n *fakeNotifier) PublishAlert(_ context.Context, a *model.Alert) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, a.ID)
	return nil
}

type fakeReports struct {
	mu    sync.Mutex
	text  string
	err   error
	delay time.Duration
	calls int
	last  incident.ReportRequest
}

func (r *fakeReports) GenerateReport(ctx context.Context, req incident.ReportRequest) (string, error) {
	r.mu.Lock()
	r.calls++
	r.last = req
	r.mu.Unlock()
	if r.delay > 0 {
		select {
		case <-time.After(r.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return r.text, r.err
}

type fakeLocator struct {
	loc   model.Location
	err   error
	calls int
}

func (l *fakeLocator) Locate(context.Context, string) (model.Location, error) {
	l.calls++
	return l.loc, l.err
}

/************ helpers ************/

func hashPIN(t interface{ Fatalf(string, ...any) }, pin string) string {
	b, err := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash pin: %v", err)
	}
	return string(b)
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *clock { return &clock{t: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)} }

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}
