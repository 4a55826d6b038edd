// Package httpserver exposes the recipient-facing endpoints (beacon, link
// inspection, PIN verification) and the sender management API over gin.
package httpserver

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/and161185/securelink/internal/limiter"
	"github.com/and161185/securelink/internal/model"
	"github.com/and161185/securelink/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"
)

// Links is the link registry as seen by handlers.
type Links interface {
	Issue(ctx context.Context, req service.IssueRequest) (*model.SecureEmail, error)
	Inspect(ctx context.Context, token string) (*service.LinkStatus, error)
	Get(ctx context.Context, id uuid.UUID) (*model.SecureEmail, error)
	Revoke(ctx context.Context, id uuid.UUID) error
	Unrevoke(ctx context.Context, id uuid.UUID) error
}

// Pins verifies PIN submissions.
type Pins interface {
	Verify(ctx context.Context, token, pin string, fp model.Fingerprint) (*service.VerifyResult, error)
}

// Beacons ingests tracking events.
type Beacons interface {
	Ingest(ctx context.Context, in service.BeaconInput) (*model.BeaconEvent, service.Outcome, error)
}

// Alerts serves the operator alert views.
type Alerts interface {
	Get(ctx context.Context, id uuid.UUID) (*model.Alert, error)
	Resolve(ctx context.Context, id uuid.UUID) (*model.Alert, error)
	ListByEmail(ctx context.Context, emailID uuid.UUID) ([]model.Alert, error)
	ListUnresolved(ctx context.Context, companyID string, limit int) ([]model.Alert, error)
}

// LinkMailer delivers a freshly issued link to its recipient.
type LinkMailer interface {
	SendLink(ctx context.Context, e *model.SecureEmail, linkURL, pixelURL string) error
}

// Deps are the collaborators of the HTTP server. Mailer, Limiter and Health are optional.
type Deps struct {
	Links   Links
	Pins    Pins
	Beacons Beacons
	Alerts  Alerts
	Mailer  LinkMailer
	Limiter limiter.Limiter
	Health  func(ctx context.Context) error

	JWTKey        []byte
	PublicBaseURL string
	MailTimeout   time.Duration
	// UseRemoteAddr falls back to the connection address when no proxy
	// header names the client; otherwise such requests report 127.0.0.1.
	UseRemoteAddr bool
	Log           *zap.Logger
}

// Server holds the handlers.
type Server struct {
	d   Deps
	log *zap.Logger
}

// New fills defaults for optional deps.
func New(d Deps) *Server {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	if d.Limiter == nil {
		d.Limiter = limiter.Nop{}
	}
	if d.MailTimeout <= 0 {
		d.MailTimeout = 15 * time.Second
	}
	d.PublicBaseURL = strings.TrimRight(d.PublicBaseURL, "/")
	return &Server{d: d, log: d.Log}
}

// Router builds the gin engine with all routes.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(recovery(s.log), accessLog(s.log))

	r.GET("/healthz", s.healthz)
	r.GET("/beacon", s.pixel)
	r.POST("/beacon", s.beacon)

	pub := r.Group("/api")
	{
		pub.GET("/links/:ref", s.inspect)
		pub.POST("/links/:ref/verify", s.verify)
	}

	sender := r.Group("/api", requireSender(s.d.JWTKey))
	{
		sender.POST("/links", s.issue)
		sender.POST("/links/:ref/revoke", s.revoke)
		sender.POST("/links/:ref/unrevoke", s.unrevoke)
		sender.GET("/links/:ref/alerts", s.linkAlerts)
		sender.GET("/alerts", s.listAlerts)
		sender.POST("/alerts/:id/resolve", s.resolveAlert)
	}
	return r
}

// LinkURL is the recipient page for a token.
func (s *Server) LinkURL(token string) string {
	return s.d.PublicBaseURL + "/secure/" + url.PathEscape(token)
}

// PixelURL is the tracking pixel for a link.
func (s *Server) PixelURL(e *model.SecureEmail) string {
	q := url.Values{}
	q.Set("emailId", e.ID.String())
	q.Set("recipientEmail", e.RecipientEmail)
	if e.CompanyID != "" {
		q.Set("companyId", e.CompanyID)
	}
	q.Set("senderUserId", e.SenderID.String())
	return s.d.PublicBaseURL + "/beacon?" + q.Encode()
}

func (s *Server) healthz(c *gin.Context) {
	if s.d.Health != nil {
		if err := s.d.Health(c.Request.Context()); err != nil {
			s.log.Warn("health check", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
