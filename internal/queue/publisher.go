// Package queue publishes alert notifications to a Redis list. Downstream
// notifiers (sender email, chat hooks) consume the list with BRPOP.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/and161185/securelink/internal/model"
)

// DefaultQueue is the list alerts are pushed to.
const DefaultQueue = "securelink:alerts"

type redisClient interface {
	LPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	Ping(ctx context.Context) *redis.StatusCmd
}

// Publisher sends alert envelopes to Redis.
type Publisher struct {
	rdb       redisClient
	queueName string
	log       *zap.Logger
}

// NewPublisher creates a publisher targeting queueName.
func NewPublisher(rdb redisClient, queueName string, log *zap.Logger) *Publisher {
	if queueName == "" {
		queueName = DefaultQueue
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Publisher{rdb: rdb, queueName: queueName, log: log}
}

// Envelope is the wire form of a queued alert.
type Envelope struct {
	Kind           string          `json:"kind"`
	AlertID        string          `json:"alertId"`
	Type           model.AlertType `json:"type"`
	EmailID        string          `json:"emailId"`
	CompanyID      string          `json:"companyId"`
	RecipientEmail string          `json:"recipientEmail"`
	Message        string          `json:"message"`
	HasReport      bool            `json:"hasReport"`
	Timestamp      time.Time       `json:"timestamp"`
}

// PublishAlert pushes a notification for a freshly created alert.
func (p *Publisher) PublishAlert(ctx context.Context, a *model.Alert) error {
	env := Envelope{
		Kind:           "alert.created",
		AlertID:        a.ID.String(),
		Type:           a.Type,
		EmailID:        a.EmailID.String(),
		CompanyID:      a.CompanyID,
		RecipientEmail: a.RecipientEmail,
		Message:        a.Message,
		HasReport:      a.IncidentReport != nil,
		Timestamp:      a.Timestamp,
	}
	b, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal alert envelope: %w", err)
	}

	if err := p.rdb.LPush(ctx, p.queueName, string(b)).Err(); err != nil {
		return fmt.Errorf("redis LPUSH: %w", err)
	}

	p.log.Info("published alert",
		zap.String("alert_id", env.AlertID),
		zap.String("type", string(a.Type)),
		zap.String("queue", p.queueName),
	)
	return nil
}

// Ping checks the Redis connection.
func (p *Publisher) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return p.rdb.Ping(ctx).Err()
}
