// internal/docstore/postgres.go
package docstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
)

const (
	documentsTable  = "smallbets_documents"
	notifyChannel   = "smallbets_documents"
	listenRetryWait = 2 * time.Second
)

// Postgres is a Store backed by a single documents table. Compare-and-set is
// a revision-guarded UPDATE; subscriptions ride LISTEN/NOTIFY on a dedicated
// connection, with the notification payload carrying "<key>:<revision>".
type Postgres struct {
	pool   *pgxpool.Pool
	logger *logrus.Logger

	mu   sync.Mutex
	subs map[string]map[int]func(Document)
	next int
}

// NewPostgres connects a pool, ensures the documents table exists, and starts
// the notification listener.
func NewPostgres(ctx context.Context, dsn string, logger *logrus.Logger) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("docstore: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("docstore: ping: %w", err)
	}

	p := &Postgres{
		pool:   pool,
		logger: logger,
		subs:   make(map[string]map[int]func(Document)),
	}
	if err := p.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	go p.listen(ctx)
	return p, nil
}

// Close releases the underlying pool.
func (p *Postgres) Close() { p.pool.Close() }

func (p *Postgres) ensureSchema(ctx context.Context) error {
	q := `
	CREATE TABLE IF NOT EXISTS ` + documentsTable + ` (
		key      text PRIMARY KEY,
		revision bigint NOT NULL,
		value    jsonb NOT NULL
	)`
	if _, err := p.pool.Exec(ctx, q); err != nil {
		return fmt.Errorf("docstore: ensure schema: %w", err)
	}
	return nil
}

// Get implements Store.
func (p *Postgres) Get(ctx context.Context, key string) (Document, error) {
	var doc Document
	doc.Key = key
	q := `SELECT revision, value FROM ` + documentsTable + ` WHERE key = $1`
	err := p.pool.QueryRow(ctx, q, key).Scan(&doc.Revision, &doc.Value)
	if errors.Is(err, pgx.ErrNoRows) {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, fmt.Errorf("docstore: get %s: %w", key, err)
	}
	return doc, nil
}

// Put implements Store. The write and its NOTIFY commit together so no
// subscriber can observe a revision that was never stored.
func (p *Postgres) Put(ctx context.Context, key string, value []byte, expected int64) (int64, error) {
	var committed int64
	err := pgx.BeginTxFunc(ctx, p.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		if expected == CreateRevision {
			q := `INSERT INTO ` + documentsTable + ` (key, revision, value) VALUES ($1, 1, $2)`
			if _, err := tx.Exec(ctx, q, key, value); err != nil {
				var pgErr *pgconn.PgError
				if errors.As(err, &pgErr) && pgErr.Code == "23505" {
					return ErrRevisionConflict
				}
				return err
			}
			committed = 1
		} else {
			q := `
			UPDATE ` + documentsTable + `
			SET revision = revision + 1, value = $3
			WHERE key = $1 AND revision = $2
			RETURNING revision`
			err := tx.QueryRow(ctx, q, key, expected, value).Scan(&committed)
			if errors.Is(err, pgx.ErrNoRows) {
				// Distinguish a missing key from a lost race.
				var exists bool
				if err := tx.QueryRow(ctx,
					`SELECT EXISTS (SELECT 1 FROM `+documentsTable+` WHERE key = $1)`, key,
				).Scan(&exists); err != nil {
					return err
				}
				if !exists {
					return ErrNotFound
				}
				return ErrRevisionConflict
			}
			if err != nil {
				return err
			}
		}
		_, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`,
			notifyChannel, key+":"+strconv.FormatInt(committed, 10))
		return err
	})
	if err != nil {
		if errors.Is(err, ErrRevisionConflict) || errors.Is(err, ErrNotFound) {
			return 0, err
		}
		return 0, fmt.Errorf("docstore: put %s: %w", key, err)
	}
	return committed, nil
}

// Delete implements Store.
func (p *Postgres) Delete(ctx context.Context, key string) error {
	tag, err := p.pool.Exec(ctx, `DELETE FROM `+documentsTable+` WHERE key = $1`, key)
	if err != nil {
		return fmt.Errorf("docstore: delete %s: %w", key, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Subscribe implements Store.
func (p *Postgres) Subscribe(ctx context.Context, key string, fn func(Document)) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	if p.subs[key] == nil {
		p.subs[key] = make(map[int]func(Document))
	}
	id := p.next
	p.next++
	p.subs[key][id] = fn
	p.mu.Unlock()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			p.mu.Lock()
			delete(p.subs[key], id)
			p.mu.Unlock()
		})
	}
	return unsubscribe, nil
}

// listen holds one connection on LISTEN for the lifetime of ctx, re-acquiring
// after errors.
func (p *Postgres) listen(ctx context.Context) {
	for ctx.Err() == nil {
		if err := p.listenOnce(ctx); err != nil && ctx.Err() == nil {
			p.logger.Warnf("docstore: listener error, retrying: %v", err)
			select {
			case <-time.After(listenRetryWait):
			case <-ctx.Done():
			}
		}
	}
}

func (p *Postgres) listenOnce(ctx context.Context) error {
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, `LISTEN `+notifyChannel); err != nil {
		return err
	}
	for {
		note, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return err
		}
		p.dispatch(ctx, note.Payload)
	}
}

// dispatch re-fetches the notified key and fans the current document out to
// its subscribers. Re-fetching may skip intermediate revisions under bursts,
// which at-least-once latest-value delivery permits.
func (p *Postgres) dispatch(ctx context.Context, payload string) {
	idx := strings.LastIndex(payload, ":")
	if idx < 0 {
		p.logger.Warnf("docstore: malformed notification payload %q", payload)
		return
	}
	key := payload[:idx]

	p.mu.Lock()
	fns := make([]func(Document), 0, len(p.subs[key]))
	for _, fn := range p.subs[key] {
		fns = append(fns, fn)
	}
	p.mu.Unlock()
	if len(fns) == 0 {
		return
	}

	doc, err := p.Get(ctx, key)
	if err != nil {
		p.logger.Warnf("docstore: fetch after notify for %s: %v", key, err)
		return
	}
	for _, fn := range fns {
		fn(doc)
	}
}
