package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/and161185/securelink/internal/errs"
	"github.com/and161185/securelink/internal/fingerprint"
	"github.com/and161185/securelink/internal/model"
	"github.com/and161185/securelink/internal/service"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// transparentPixel is a 1x1 RGBA PNG.
var transparentPixel = []byte{
	0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A, 0x00, 0x00, 0x00, 0x0D,
	0x49, 0x48, 0x44, 0x52, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01,
	0x08, 0x06, 0x00, 0x00, 0x00, 0x1F, 0x15, 0xC4, 0x89, 0x00, 0x00, 0x00,
	0x0A, 0x49, 0x44, 0x41, 0x54, 0x78, 0x9C, 0x63, 0x00, 0x01, 0x00, 0x00,
	0x05, 0x00, 0x01, 0x0D, 0x0A, 0x2D, 0xB4, 0x00, 0x00, 0x00, 0x00, 0x49,
	0x45, 0x4E, 0x44, 0xAE, 0x42, 0x60, 0x82,
}

// beaconRequest is the POST body. Coordinates are kept only when they are
// JSON numbers; anything else falls back to IP geolocation.
type beaconRequest struct {
	EmailID          string          `json:"emailId"`
	RecipientEmail   string          `json:"recipientEmail"`
	CompanyID        string          `json:"companyId"`
	SenderUserID     string          `json:"senderUserId"`
	Device           string          `json:"device"`
	Browser          string          `json:"browser"`
	OS               string          `json:"os"`
	UserAgent        string          `json:"userAgent"`
	ScreenResolution string          `json:"screenResolution"`
	Language         string          `json:"language"`
	Timezone         string          `json:"timezone"`
	Referrer         string          `json:"referrer"`
	Latitude         json.RawMessage `json:"latitude"`
	Longitude        json.RawMessage `json:"longitude"`
	Accuracy         json.RawMessage `json:"accuracy"`
}

type beaconData struct {
	Device    string          `json:"device"`
	Browser   string          `json:"browser"`
	OS        string          `json:"os"`
	Location  *model.Location `json:"location"`
	Timestamp time.Time       `json:"timestamp"`
}

// pixel always answers with the image; tracking problems stay server-side.
func (s *Server) pixel(c *gin.Context) {
	in := service.BeaconInput{
		EmailID:        c.Query("emailId"),
		RecipientEmail: c.Query("recipientEmail"),
		CompanyID:      c.Query("companyId"),
		SenderUserID:   c.Query("senderUserId"),
		UserAgent:      c.Request.UserAgent(),
		Referrer:       c.Request.Referer(),
		IP:             fingerprint.RequestIP(c.Request, s.d.UseRemoteAddr),
	}
	if err := in.Validate(); err != nil {
		s.log.Debug("pixel without tracking data", zap.Error(err))
	} else {
		s.ingestQuietly(context.WithoutCancel(c.Request.Context()), in)
	}

	h := c.Writer.Header()
	h.Set("Cache-Control", "no-cache, no-store, must-revalidate")
	h.Set("Pragma", "no-cache")
	h.Set("Expires", "0")
	c.Data(http.StatusOK, "image/png", transparentPixel)
}

func (s *Server) ingestQuietly(ctx context.Context, in service.BeaconInput) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("pixel ingest panic", zap.Any("reason", r), zap.String("email_id", in.EmailID))
		}
	}()
	if _, _, err := s.d.Beacons.Ingest(ctx, in); err != nil {
		s.log.Warn("pixel ingest", zap.String("email_id", in.EmailID), zap.Error(err))
	}
}

func (s *Server) beacon(c *gin.Context) {
	var req beaconRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid JSON body"})
		return
	}
	ua := req.UserAgent
	if ua == "" {
		ua = c.Request.UserAgent()
	}
	in := service.BeaconInput{
		EmailID:          req.EmailID,
		RecipientEmail:   req.RecipientEmail,
		CompanyID:        req.CompanyID,
		SenderUserID:     req.SenderUserID,
		Device:           req.Device,
		Browser:          req.Browser,
		OS:               req.OS,
		UserAgent:        ua,
		ScreenResolution: req.ScreenResolution,
		Language:         req.Language,
		Timezone:         req.Timezone,
		Referrer:         req.Referrer,
		Latitude:         jsonNumber(req.Latitude),
		Longitude:        jsonNumber(req.Longitude),
		Accuracy:         jsonNumber(req.Accuracy),
		IP:               fingerprint.RequestIP(c.Request, s.d.UseRemoteAddr),
	}
	if err := in.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}

	ev, _, err := s.d.Beacons.Ingest(context.WithoutCancel(c.Request.Context()), in)
	switch {
	case errors.Is(err, errs.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	case err != nil:
		s.log.Error("beacon ingest", zap.String("email_id", in.EmailID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "failed to record event"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"documentId": ev.ID.String(),
		"data": beaconData{
			Device:    ev.Fingerprint.Device,
			Browser:   ev.Fingerprint.Browser,
			OS:        ev.Fingerprint.OS,
			Location:  ev.Fingerprint.Location,
			Timestamp: ev.Timestamp,
		},
	})
}

// jsonNumber returns the value of raw when it is a JSON number, nil otherwise.
func jsonNumber(raw json.RawMessage) *float64 {
	if len(raw) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil
	}
	f, ok := v.(float64)
	if !ok {
		return nil
	}
	return &f
}
