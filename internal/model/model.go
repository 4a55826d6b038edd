// Package model defines domain entities used by services and repositories.
package model

import (
	"time"

	"github.com/gofrs/uuid/v5"
)

// LinkState is the accessibility of a secure link at a given instant.
type LinkState string

// Link states. Revoked wins over Expired.
const (
	LinkActive  LinkState = "active"
	LinkExpired LinkState = "expired"
	LinkRevoked LinkState = "revoked"
)

// AlertType classifies an incident.
type AlertType string

// Alert types.
const (
	AlertSuspiciousOpen     AlertType = "SuspiciousOpen"
	AlertMultipleFailedPins AlertType = "MultipleFailedPins"
)

// Valid reports whether t is a known alert type.
func (t AlertType) Valid() bool {
	return t == AlertSuspiciousOpen || t == AlertMultipleFailedPins
}

// LocationSource tells where a location came from.
type LocationSource string

// Location sources.
const (
	LocationFromClient LocationSource = "client" // browser geolocation, no reverse geocoding
	LocationFromIP     LocationSource = "ip"
)

// Unknown is the placeholder for unresolved location parts.
const Unknown = "Unknown"

// Location is a coarse location snapshot.
type Location struct {
	Country  string         `json:"country"`
	City     string         `json:"city"`
	Region   string         `json:"region"`
	Lat      *float64       `json:"lat,omitempty"`
	Lng      *float64       `json:"lng,omitempty"`
	Accuracy *float64       `json:"accuracy,omitempty"`
	Source   LocationSource `json:"source,omitempty"`
}

// UnknownLocation is substituted whenever a lookup fails.
func UnknownLocation(src LocationSource) Location {
	return Location{Country: Unknown, City: Unknown, Region: Unknown, Source: src}
}

// HasCountry reports whether the country is resolved.
func (l *Location) HasCountry() bool {
	return l != nil && l.Country != "" && l.Country != Unknown
}

// HasCity reports whether the city is resolved.
func (l *Location) HasCity() bool {
	return l != nil && l.City != "" && l.City != Unknown
}

// Fingerprint is the access tuple captured at a given moment.
type Fingerprint struct {
	IP        string    `json:"ip"`
	Device    string    `json:"device"`
	Browser   string    `json:"browser"`
	OS        string    `json:"os"`
	UserAgent string    `json:"userAgent,omitempty"`
	Location  *Location `json:"location,omitempty"`
}

// SecureEmail is one issued secure link.
type SecureEmail struct {
	ID             uuid.UUID  `json:"id"`
	Token          string     `json:"-"`
	RecipientEmail string     `json:"recipientEmail"`
	SenderID       uuid.UUID  `json:"senderId"`
	CompanyID      string     `json:"companyId"`
	IsGuest        bool       `json:"isGuest"`
	ExpiresAt      *time.Time `json:"expiresAt,omitempty"` // nil: never expires (non-guest only)
	Revoked        bool       `json:"revoked"`
	CreatedAt      time.Time  `json:"createdAt"`
}

// State evaluates the link at now. Revoked takes precedence over Expired.
func (e *SecureEmail) State(now time.Time) LinkState {
	if e.Revoked {
		return LinkRevoked
	}
	if e.ExpiresAt != nil && e.ExpiresAt.Before(now) {
		return LinkExpired
	}
	return LinkActive
}

// AccessAttempt is one PIN submission (or guest visit). Append-only.
type AccessAttempt struct {
	ID          uuid.UUID   `json:"id"`
	EmailID     uuid.UUID   `json:"emailId"`
	Fingerprint Fingerprint `json:"fingerprint"`
	PinSupplied bool        `json:"pinSupplied"`
	Success     bool        `json:"success"`
	Timestamp   time.Time   `json:"timestamp"`
}

// BeaconEvent is one pixel or page-view hit. Append-only.
type BeaconEvent struct {
	ID               uuid.UUID   `json:"id"`
	EmailID          uuid.UUID   `json:"emailId"`
	RecipientEmail   string      `json:"recipientEmail"`
	CompanyID        string      `json:"companyId,omitempty"`
	SenderUserID     string      `json:"senderUserId,omitempty"`
	Fingerprint      Fingerprint `json:"fingerprint"`
	Referrer         string      `json:"referrer,omitempty"`
	ScreenResolution string      `json:"screenResolution,omitempty"`
	Language         string      `json:"language,omitempty"`
	Timezone         string      `json:"timezone,omitempty"`
	Timestamp        time.Time   `json:"timestamp"`
}

// Alert is a detected incident. At most one unresolved alert per (EmailID, Type)
// is expected for MultipleFailedPins; SuspiciousOpen follows the configured policy.
type Alert struct {
	ID             uuid.UUID      `json:"id"`
	EmailID        uuid.UUID      `json:"emailId"`
	CompanyID      string         `json:"companyId"`
	RecipientEmail string         `json:"recipientEmail"`
	Type           AlertType      `json:"type"`
	Message        string         `json:"message"`
	Details        map[string]any `json:"details,omitempty"`
	Timestamp      time.Time      `json:"timestamp"`
	Resolved       bool           `json:"resolved"`
	IncidentReport *string        `json:"incidentReport,omitempty"`
}

// Sender is the staff user who issued a link. Only the PIN hash matters here.
type Sender struct {
	ID        uuid.UUID
	Email     string
	CompanyID string
	PinHash   string // bcrypt; empty when no PIN is set
	CreatedAt time.Time
}
