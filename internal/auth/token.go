// Package auth signs and verifies sender access tokens (HS256 JWT).
package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"
)

// Claims are the sender token claims. Subject is the sender id.
type Claims struct {
	jwt.RegisteredClaims
	CompanyID string `json:"cid"`
}

// Principal is the authenticated sender.
type Principal struct {
	SenderID  uuid.UUID
	CompanyID string
}

// Sign creates a signed HS256 JWT for the sender.
func Sign(key []byte, p Principal, ttl time.Duration) (string, time.Time, error) {
	now := time.Now()
	exp := now.Add(ttl)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.SenderID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		CompanyID: p.CompanyID,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
	return signed, exp, err
}

// Parse verifies tok and returns its principal.
func Parse(key []byte, tok string) (Principal, error) {
	var claims Claims
	parsed, err := jwt.ParseWithClaims(tok, &claims, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return key, nil
	}, jwt.WithLeeway(30*time.Second), jwt.WithExpirationRequired())
	if err != nil || !parsed.Valid {
		return Principal{}, errors.New("invalid token")
	}

	id, err := uuid.FromString(claims.Subject)
	if err != nil {
		return Principal{}, errors.New("bad subject")
	}
	if claims.CompanyID == "" {
		return Principal{}, errors.New("missing company claim")
	}
	return Principal{SenderID: id, CompanyID: claims.CompanyID}, nil
}

// BearerToken extracts the token from an "Authorization: Bearer <JWT>" value.
func BearerToken(header string) (string, error) {
	v := strings.TrimSpace(header)
	if len(v) >= 7 && strings.EqualFold(v[:7], "bearer ") {
		if t := strings.TrimSpace(v[7:]); t != "" {
			return t, nil
		}
	}
	return "", errors.New("no bearer token")
}
