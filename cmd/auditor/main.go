// cmd/auditor/main.go is the audit-trail consumer: it pops audit records off
// the Redis queue the API pushes to and persists them to Postgres in batches.
// Running it is optional; without it the queue simply accumulates.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/joho/godotenv/autoload"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/smallbets/smallbets/internal/audit"
	"github.com/smallbets/smallbets/internal/config"
)

const auditSchema = `
CREATE TABLE IF NOT EXISTS smallbets_audit_log (
	id          BIGSERIAL PRIMARY KEY,
	type        TEXT NOT NULL,
	room_code   TEXT NOT NULL,
	bet_id      TEXT,
	user_id     TEXT,
	amount      BIGINT NOT NULL DEFAULT 0,
	details     JSONB,
	recorded_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS smallbets_audit_log_room_idx ON smallbets_audit_log (room_code);
`

// service drains the audit queue into Postgres. Records are accumulated into
// an in-memory batch and flushed either on size or on a timer, whichever
// comes first.
type service struct {
	rdb    *redis.Client
	pool   *pgxpool.Pool
	logger *logrus.Logger

	queue      string
	batchSize  int
	flushDelay time.Duration

	mu    sync.Mutex
	batch []audit.Record
}

func newService(ctx context.Context, cfg config.Config, logger *logrus.Logger) (*service, error) {
	if cfg.PostgresDSN == "" {
		return nil, fmt.Errorf("POSTGRES_DSN is required")
	}
	if cfg.RedisAddr == "" {
		return nil, fmt.Errorf("REDIS_ADDR is required")
	}

	pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, auditSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure audit schema: %w", err)
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connect redis at %s: %w", cfg.RedisAddr, err)
	}

	queue := audit.DefaultQueueName
	if v := os.Getenv("AUDIT_QUEUE_NAME"); v != "" {
		queue = v
	}
	batchSize := envInt("AUDITOR_BATCH_SIZE", 20)

	return &service{
		rdb:        rdb,
		pool:       pool,
		logger:     logger,
		queue:      queue,
		batchSize:  batchSize,
		flushDelay: time.Duration(envInt("AUDITOR_FLUSH_MS", 500)) * time.Millisecond,
		batch:      make([]audit.Record, 0, batchSize),
	}, nil
}

// run blocks until ctx is cancelled, then flushes whatever is still buffered.
func (s *service) run(ctx context.Context) {
	ticker := time.NewTicker(s.flushDelay)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.flush(context.Background())
			return

		case <-ticker.C:
			s.flush(ctx)

		default:
			// BLPop with a short timeout so cancellation is noticed.
			res, err := s.rdb.BLPop(ctx, 3*time.Second, s.queue).Result()
			if err != nil {
				if errors.Is(err, redis.Nil) || ctx.Err() != nil {
					continue
				}
				s.logger.Warnf("BLPop: %v", err)
				continue
			}
			if len(res) < 2 {
				continue
			}

			var rec audit.Record
			if err := json.Unmarshal([]byte(res[1]), &rec); err != nil {
				s.logger.Warnf("invalid audit record dropped: %v", err)
				continue
			}
			s.append(ctx, rec)
		}
	}
}

func (s *service) append(ctx context.Context, rec audit.Record) {
	s.mu.Lock()
	s.batch = append(s.batch, rec)
	full := len(s.batch) >= s.batchSize
	s.mu.Unlock()
	if full {
		s.flush(ctx)
	}
}

// flush writes the buffered records in one transaction. On failure the batch
// is dropped with a log line rather than retried; the audit trail is best
// effort by contract.
func (s *service) flush(ctx context.Context) {
	s.mu.Lock()
	if len(s.batch) == 0 {
		s.mu.Unlock()
		return
	}
	batch := s.batch
	s.batch = make([]audit.Record, 0, s.batchSize)
	s.mu.Unlock()

	err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		for _, rec := range batch {
			details, err := json.Marshal(rec.Details)
			if err != nil {
				return fmt.Errorf("encode details: %w", err)
			}
			_, err = tx.Exec(ctx, `
				INSERT INTO smallbets_audit_log (type, room_code, bet_id, user_id, amount, details, recorded_at)
				VALUES ($1, $2, $3, $4, $5, $6, to_timestamp($7))`,
				rec.Type, rec.RoomCode, rec.BetID, rec.UserID, rec.Amount, details, rec.Timestamp,
			)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		s.logger.Errorf("flush of %d audit records failed: %v", len(batch), err)
		return
	}
	s.logger.WithField("count", len(batch)).Debug("audit records persisted")
}

func (s *service) close() {
	_ = s.rdb.Close()
	s.pool.Close()
}

func main() {
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel)

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := newService(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("auditor: %v", err)
	}
	defer svc.close()

	logger.WithField("queue", svc.queue).Info("auditor started")
	svc.run(ctx)
	logger.Info("auditor stopped")
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}
