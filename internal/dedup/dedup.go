// Package dedup provides alert deduplication claims using Redis SETNX with TTL.
// A claim narrows the check-then-insert window between concurrent requests
// that cross an alert threshold at the same time.
//
// Claims are two-phase: Claim takes a short pending lease, and Confirm
// extends it once the alert is stored. A writer that dies in between only
// suppresses alerts until the pending lease expires.
package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/redis/go-redis/v9"

	"github.com/and161185/securelink/internal/model"
)

const (
	// DefaultTTL is the lifetime of a confirmed claim.
	DefaultTTL = 24 * time.Hour
	// DefaultPendingTTL bounds how long an unconfirmed claim outlives a crashed writer.
	DefaultPendingTTL = time.Minute

	// keyPrefix namespaces dedup keys in Redis.
	keyPrefix = "securelink:alert:"
)

// redisClient is the subset of *redis.Client used here.
type redisClient interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
}

// Claimer hands out one claim per (email, alert type).
type Claimer struct {
	rdb     redisClient
	ttl     time.Duration
	pending time.Duration
}

// NewClaimer creates a claimer backed by Redis. ttl applies to confirmed claims.
func NewClaimer(rdb redisClient, ttl time.Duration) *Claimer {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	pending := DefaultPendingTTL
	if pending > ttl {
		pending = ttl
	}
	return &Claimer{rdb: rdb, ttl: ttl, pending: pending}
}

// Key returns the Redis key for a claim.
func Key(emailID uuid.UUID, typ model.AlertType) string {
	return fmt.Sprintf("%s%s:%s", keyPrefix, emailID, typ)
}

// Claim returns true if the caller now owns the (email, type) slot. The
// claim is pending until Confirm.
func (c *Claimer) Claim(ctx context.Context, emailID uuid.UUID, typ model.AlertType) (bool, error) {
	set, err := c.rdb.SetNX(ctx, Key(emailID, typ), 1, c.pending).Result()
	if err != nil {
		return false, fmt.Errorf("dedup SETNX: %w", err)
	}
	return set, nil
}

// Release frees the slot, e.g. after the alert is resolved or its insert failed.
func (c *Claimer) Release(ctx context.Context, emailID uuid.UUID, typ model.AlertType) error {
	if err := c.rdb.Del(ctx, Key(emailID, typ)).Err(); err != nil {
		return fmt.Errorf("dedup DEL: %w", err)
	}
	return nil
}

// Confirm extends a held claim to the full TTL once its alert is stored.
func (c *Claimer) Confirm(ctx context.Context, emailID uuid.UUID, typ model.AlertType) error {
	if err := c.rdb.Expire(ctx, Key(emailID, typ), c.ttl).Err(); err != nil {
		return fmt.Errorf("dedup EXPIRE: %w", err)
	}
	return nil
}
