package httpserver

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/and161185/securelink/internal/errs"
	"github.com/and161185/securelink/internal/fingerprint"
	"github.com/and161185/securelink/internal/limiter"
	"github.com/and161185/securelink/internal/model"
	"github.com/and161185/securelink/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"
)

// MsgThrottled is returned while the (token, ip) pair is blocked.
const MsgThrottled = "Too many attempts. Please try again later."

type verifyRequest struct {
	Pin string `json:"pin"`
}

type issueRequest struct {
	RecipientEmail string `json:"recipientEmail"`
	IsGuest        bool   `json:"isGuest"`
	ExpiresInDays  *int   `json:"expiresInDays"`
	SendEmail      bool   `json:"sendEmail"`
}

func (s *Server) inspect(c *gin.Context) {
	st, err := s.d.Links.Inspect(c.Request.Context(), c.Param("ref"))
	if errors.Is(err, errs.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": service.MsgInvalidLink})
		return
	}
	if err != nil {
		s.log.Error("inspect link", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	switch st.State {
	case model.LinkRevoked:
		c.JSON(http.StatusGone, gin.H{"state": st.State, "error": service.MsgLinkRevoked})
		return
	case model.LinkExpired:
		c.JSON(http.StatusGone, gin.H{"state": st.State, "error": service.MsgLinkExpired})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"state":             st.State,
		"requiresPin":       st.RequiresPin,
		"remainingAttempts": st.RemainingAttempts,
		"recipientEmail":    st.Email.RecipientEmail,
		"expiresAt":         st.Email.ExpiresAt,
	})
}

func (s *Server) verify(c *gin.Context) {
	var req verifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid JSON body"})
		return
	}
	ctx := c.Request.Context()
	token := c.Param("ref")
	fp := fingerprint.FromRequest(c.Request, s.d.UseRemoteAddr)
	th, ih := limiter.HashKey(token), limiter.HashKey(fp.IP)

	allowed, retry, err := s.d.Limiter.Allow(ctx, th, ih)
	if err != nil {
		// fail open: the failure counter still escalates
		s.log.Warn("pin throttle check", zap.Error(err))
		allowed = true
	}
	if !allowed {
		setRetryAfter(c, retry)
		c.JSON(http.StatusTooManyRequests, gin.H{"success": false, "error": MsgThrottled})
		return
	}

	res, err := s.d.Pins.Verify(ctx, token, req.Pin, fp)
	if err != nil {
		s.log.Error("verify pin", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "internal error"})
		return
	}

	if res.Granted {
		if err := s.d.Limiter.Success(ctx, th, ih); err != nil {
			s.log.Warn("pin throttle reset", zap.Error(err))
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "document": res.Document})
		return
	}

	code := http.StatusInternalServerError
	switch {
	case errors.Is(res.Reason, errs.ErrPinMismatch):
		code = http.StatusUnauthorized
		blocked, retry, err := s.d.Limiter.Failure(ctx, th, ih)
		if err != nil {
			s.log.Warn("pin throttle failure", zap.Error(err))
		} else if blocked {
			setRetryAfter(c, retry)
		}
	case errors.Is(res.Reason, errs.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(res.Reason, errs.ErrLinkRevoked), errors.Is(res.Reason, errs.ErrLinkExpired):
		code = http.StatusGone
	case errors.Is(res.Reason, errs.ErrSenderMisconfigured):
		code = http.StatusConflict
	}
	body := gin.H{
		"success":           false,
		"error":             res.Error,
		"remainingAttempts": res.RemainingAttempts,
		"incidentReported":  res.IncidentReported,
	}
	if res.Notice != "" {
		body["notice"] = res.Notice
	}
	c.JSON(code, body)
}

func setRetryAfter(c *gin.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	c.Header("Retry-After", strconv.Itoa(int(math.Ceil(d.Seconds()))))
}

func (s *Server) issue(c *gin.Context) {
	var req issueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body"})
		return
	}
	p := principal(c)
	ctx := c.Request.Context()

	e, err := s.d.Links.Issue(ctx, service.IssueRequest{
		RecipientEmail: req.RecipientEmail,
		SenderID:       p.SenderID,
		CompanyID:      p.CompanyID,
		IsGuest:        req.IsGuest,
		ExpiresInDays:  req.ExpiresInDays,
	})
	if errors.Is(err, errs.ErrValidation) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		s.log.Error("issue link", zap.String("sender_id", p.SenderID.String()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	linkURL, pixelURL := s.LinkURL(e.Token), s.PixelURL(e)
	resp := gin.H{
		"id":             e.ID,
		"token":          e.Token,
		"url":            linkURL,
		"pixelUrl":       pixelURL,
		"recipientEmail": e.RecipientEmail,
		"companyId":      e.CompanyID,
		"isGuest":        e.IsGuest,
		"expiresAt":      e.ExpiresAt,
		"emailSent":      false,
	}
	if req.SendEmail {
		if err := s.sendLink(ctx, e, linkURL, pixelURL); err != nil {
			s.log.Warn("send link email", zap.String("email_id", e.ID.String()), zap.Error(err))
			resp["emailError"] = err.Error()
		} else {
			resp["emailSent"] = true
		}
	}
	c.JSON(http.StatusCreated, resp)
}

var errMailDisabled = errors.New("mail delivery is not configured")

func (s *Server) sendLink(ctx context.Context, e *model.SecureEmail, linkURL, pixelURL string) error {
	if s.d.Mailer == nil {
		return errMailDisabled
	}
	mctx, cancel := context.WithTimeout(ctx, s.d.MailTimeout)
	defer cancel()
	return s.d.Mailer.SendLink(mctx, e, linkURL, pixelURL)
}

// ownedLink loads the link named by :ref and checks it belongs to the
// caller's company. Foreign links look like missing ones.
func (s *Server) ownedLink(c *gin.Context) (*model.SecureEmail, bool) {
	id, err := uuid.FromString(c.Param("ref"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "link not found"})
		return nil, false
	}
	e, err := s.d.Links.Get(c.Request.Context(), id)
	if errors.Is(err, errs.ErrNotFound) || (err == nil && e.CompanyID != principal(c).CompanyID) {
		c.JSON(http.StatusNotFound, gin.H{"error": "link not found"})
		return nil, false
	}
	if err != nil {
		s.log.Error("load link", zap.String("email_id", id.String()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return nil, false
	}
	return e, true
}

func (s *Server) revoke(c *gin.Context)   { s.setRevoked(c, true) }
func (s *Server) unrevoke(c *gin.Context) { s.setRevoked(c, false) }

func (s *Server) setRevoked(c *gin.Context, revoked bool) {
	e, ok := s.ownedLink(c)
	if !ok {
		return
	}
	op := s.d.Links.Unrevoke
	if revoked {
		op = s.d.Links.Revoke
	}
	if err := op(c.Request.Context(), e.ID); err != nil {
		s.log.Error("set revoked", zap.String("email_id", e.ID.String()), zap.Bool("revoked", revoked), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	s.log.Info("link revocation changed",
		zap.String("email_id", e.ID.String()),
		zap.Bool("revoked", revoked),
		zap.String("sender_id", principal(c).SenderID.String()),
	)
	c.JSON(http.StatusOK, gin.H{"id": e.ID, "revoked": revoked})
}
