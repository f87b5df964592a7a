// internal/audit/audit.go

// Package audit records betting events that matter after the fact: forfeited
// stakes, settlement summaries, and bets abandoned when a room finishes with
// one still outstanding. Records are pushed onto a Redis list for an external
// consumer; nothing in the live flow depends on them.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// DefaultQueueName is the Redis list audit records are appended to.
const DefaultQueueName = "smallbets_audit"

// Record types.
const (
	TypeForfeit      = "wager_forfeited"
	TypeSettlement   = "bet_settled"
	TypeAbandonedBet = "bet_abandoned"
)

// Record is one audit entry. Amount is meaningful for forfeits (the stake)
// and settlements (total points redistributed); zero otherwise.
type Record struct {
	Type      string                 `json:"type"`
	RoomCode  string                 `json:"room_code"`
	BetID     string                 `json:"bet_id,omitempty"`
	UserID    string                 `json:"user_id,omitempty"`
	Amount    int64                  `json:"amount,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Timestamp int64                  `json:"timestamp"`
}

// Publisher accepts audit records. Implementations must not block the betting
// flow on failure; a lost audit record is logged, never surfaced.
type Publisher interface {
	Publish(ctx context.Context, rec Record)
}

// RedisPublisher appends records to a Redis list.
type RedisPublisher struct {
	rdb    *redis.Client
	queue  string
	logger *logrus.Logger
}

// NewRedisPublisher connects a Redis client and returns a publisher. The
// queue name can be overridden with AUDIT_QUEUE_NAME.
func NewRedisPublisher(ctx context.Context, addr string, db int, logger *logrus.Logger) (*RedisPublisher, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("audit: failed to connect to Redis at %s: %w", addr, err)
	}

	queue := DefaultQueueName
	if v := os.Getenv("AUDIT_QUEUE_NAME"); v != "" {
		queue = v
	}
	return &RedisPublisher{rdb: rdb, queue: queue, logger: logger}, nil
}

// Publish implements Publisher.
func (p *RedisPublisher) Publish(ctx context.Context, rec Record) {
	if rec.Timestamp == 0 {
		rec.Timestamp = time.Now().Unix()
	}
	data, err := json.Marshal(rec)
	if err != nil {
		p.logger.Warnf("audit: marshal record: %v", err)
		return
	}
	if err := p.rdb.RPush(ctx, p.queue, data).Err(); err != nil {
		p.logger.WithFields(logrus.Fields{
			"type": rec.Type,
			"room": rec.RoomCode,
		}).Warnf("audit: RPush failed: %v", err)
	}
}

// Close releases the Redis client.
func (p *RedisPublisher) Close() error { return p.rdb.Close() }

// Nop discards every record. Used in tests and when Redis is not configured.
type Nop struct{}

// Publish implements Publisher.
func (Nop) Publish(context.Context, Record) {}
