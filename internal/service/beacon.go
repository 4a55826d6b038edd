package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/and161185/securelink/internal/errs"
	"github.com/and161185/securelink/internal/fingerprint"
	"github.com/and161185/securelink/internal/geo"
	"github.com/and161185/securelink/internal/model"
	"github.com/and161185/securelink/internal/repository"
	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"
)

// DefaultGeoTimeout bounds the IP geolocation lookup.
const DefaultGeoTimeout = 2 * time.Second

// BeaconInput is one pixel or programmatic beacon call.
type BeaconInput struct {
	EmailID          string
	RecipientEmail   string
	CompanyID        string
	SenderUserID     string
	Device           string
	Browser          string
	OS               string
	UserAgent        string
	ScreenResolution string
	Language         string
	Timezone         string
	Referrer         string
	Latitude         *float64
	Longitude        *float64
	Accuracy         *float64
	IP               string
}

// Validate checks the required fields.
func (in BeaconInput) Validate() error {
	var missing []string
	if strings.TrimSpace(in.EmailID) == "" {
		missing = append(missing, "emailId")
	}
	if strings.TrimSpace(in.RecipientEmail) == "" {
		missing = append(missing, "recipientEmail")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing required fields: %s", errs.ErrValidation, strings.Join(missing, ", "))
	}
	if _, err := uuid.FromString(in.EmailID); err != nil {
		return fmt.Errorf("%w: emailId: %v", errs.ErrValidation, err)
	}
	return nil
}

type analyzer interface {
	Analyze(ctx context.Context, ev model.BeaconEvent) Outcome
}

// BeaconService ingests beacon events and runs anomaly detection on them.
type BeaconService struct {
	events     repository.BeaconRepository
	detector   analyzer
	geo        geo.Locator
	geoTimeout time.Duration
	log        *zap.Logger
	now        func() time.Time
}

// NewBeaconService wires the ingestor. locator may be nil, in which case
// IP-derived locations are Unknown.
func NewBeaconService(events repository.BeaconRepository, detector analyzer, locator geo.Locator, geoTimeout time.Duration, log *zap.Logger) *BeaconService {
	if geoTimeout <= 0 {
		geoTimeout = DefaultGeoTimeout
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &BeaconService{events: events, detector: detector, geo: locator, geoTimeout: geoTimeout, log: log, now: time.Now}
}

// WithClock overrides the time source.
func (s *BeaconService) WithClock(now func() time.Time) *BeaconService {
	s.now = now
	return s
}

// Ingest validates, enriches and stores one event, then analyzes it.
// Analysis never fails the ingest.
func (s *BeaconService) Ingest(ctx context.Context, in BeaconInput) (*model.BeaconEvent, Outcome, error) {
	if err := in.Validate(); err != nil {
		return nil, Outcome{}, err
	}
	emailID := uuid.FromStringOrNil(in.EmailID)

	agent := fingerprint.ParseUserAgent(in.UserAgent)
	if in.Device != "" {
		agent.Device = in.Device
	}
	if in.Browser != "" {
		agent.Browser = in.Browser
	}
	if in.OS != "" {
		agent.OS = in.OS
	}
	ip := in.IP
	if ip == "" {
		ip = fingerprint.FallbackIP
	}
	loc := s.locate(ctx, ip, in)

	id, err := uuid.NewV4()
	if err != nil {
		return nil, Outcome{}, err
	}
	ev := &model.BeaconEvent{
		ID:             id,
		EmailID:        emailID,
		RecipientEmail: strings.TrimSpace(in.RecipientEmail),
		CompanyID:      in.CompanyID,
		SenderUserID:   in.SenderUserID,
		Fingerprint: model.Fingerprint{
			IP:        ip,
			Device:    agent.Device,
			Browser:   agent.Browser,
			OS:        agent.OS,
			UserAgent: in.UserAgent,
			Location:  &loc,
		},
		Referrer:         in.Referrer,
		ScreenResolution: in.ScreenResolution,
		Language:         in.Language,
		Timezone:         in.Timezone,
		Timestamp:        s.now().UTC(),
	}
	if err := s.events.Append(ctx, ev); err != nil {
		return nil, Outcome{}, err
	}

	out := s.detector.Analyze(ctx, *ev)
	return ev, out, nil
}

// locate prefers client coordinates and falls back to IP lookup. Any
// lookup failure yields an Unknown location.
func (s *BeaconService) locate(ctx context.Context, ip string, in BeaconInput) model.Location {
	if validCoords(in.Latitude, in.Longitude) {
		loc := model.UnknownLocation(model.LocationFromClient)
		loc.Lat, loc.Lng, loc.Accuracy = in.Latitude, in.Longitude, in.Accuracy
		return loc
	}
	if s.geo == nil {
		return model.UnknownLocation(model.LocationFromIP)
	}

	gctx, cancel := context.WithTimeout(ctx, s.geoTimeout)
	defer cancel()
	loc, err := s.geo.Locate(gctx, ip)
	if err != nil {
		switch {
		case errors.Is(err, geo.ErrPrivateAddress):
		case errors.Is(err, context.DeadlineExceeded):
			s.log.Warn("geolocation lookup", zap.String("ip", ip), zap.Error(fmt.Errorf("%w: %v", errs.ErrDependencyTimeout, err)))
		default:
			s.log.Warn("geolocation lookup", zap.String("ip", ip), zap.Error(err))
		}
		return model.UnknownLocation(model.LocationFromIP)
	}
	loc.Source = model.LocationFromIP
	return loc
}

func validCoords(lat, lng *float64) bool {
	if lat == nil || lng == nil {
		return false
	}
	if math.IsNaN(*lat) || math.IsNaN(*lng) {
		return false
	}
	return math.Abs(*lat) <= 90 && math.Abs(*lng) <= 180
}
