// internal/ledger/ledger.go

// Package ledger owns participant point balances. All balance mutations for
// one user are serialized through a per-user mutex on top of the document
// compare-and-set, so concurrent wagers and settlements for the same user
// cannot lose updates; different users proceed independently.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/smallbets/smallbets/internal/audit"
	"github.com/smallbets/smallbets/internal/docstore"
	"github.com/smallbets/smallbets/internal/errs"
	"github.com/smallbets/smallbets/internal/metrics"
	"github.com/smallbets/smallbets/internal/models"
)

// casRetryLimit bounds the read-modify-write attempts for one operation.
const casRetryLimit = 5

// Ledger applies atomic credits and debits to participant documents.
type Ledger struct {
	store  docstore.Store
	audit  audit.Publisher
	logger *logrus.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New returns a Ledger over the given store.
func New(store docstore.Store, auditor audit.Publisher, logger *logrus.Logger) *Ledger {
	return &Ledger{
		store:  store,
		audit:  auditor,
		logger: logger,
		locks:  make(map[string]*sync.Mutex),
	}
}

// userLock returns the mutex serializing operations for one user.
func (l *Ledger) userLock(userID string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	lk, ok := l.locks[userID]
	if !ok {
		lk = &sync.Mutex{}
		l.locks[userID] = lk
	}
	return lk
}

// Get fetches a participant document.
func (l *Ledger) Get(ctx context.Context, userID string) (*models.Participant, error) {
	doc, err := l.store.Get(ctx, models.ParticipantKey(userID))
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, errs.E(errs.InvalidArgument, "unknown participant %s", userID)
	}
	if err != nil {
		return nil, fmt.Errorf("ledger: get participant %s: %w", userID, err)
	}
	var p models.Participant
	if err := json.Unmarshal(doc.Value, &p); err != nil {
		return nil, fmt.Errorf("ledger: decode participant %s: %w", userID, err)
	}
	return &p, nil
}

// Reserve debits amount from the user's available balance. Fails with
// InsufficientPoints if amount exceeds the current balance.
func (l *Ledger) Reserve(ctx context.Context, userID string, amount int64) error {
	if amount <= 0 {
		return errs.E(errs.InvalidArgument, "reserve amount must be positive, got %d", amount)
	}
	return l.update(ctx, userID, func(p *models.Participant) error {
		if p.Points < amount {
			return errs.E(errs.InsufficientPoints, "balance %d < stake %d", p.Points, amount)
		}
		p.Points -= amount
		return nil
	})
}

// Credit adds amount to the user's balance. Always succeeds for a known user.
func (l *Ledger) Credit(ctx context.Context, userID string, amount int64) error {
	if amount <= 0 {
		return errs.E(errs.InvalidArgument, "credit amount must be positive, got %d", amount)
	}
	return l.update(ctx, userID, func(p *models.Participant) error {
		p.Points += amount
		return nil
	})
}

// SettleCredit credits a settlement payout exactly once per (user, bet).
// The applied amount is recorded on the participant document, so replaying
// a settlement after a crash is a no-op. Returns whether the credit was
// applied by this call.
func (l *Ledger) SettleCredit(ctx context.Context, userID, betID string, amount int64) (bool, error) {
	if amount < 0 {
		return false, errs.E(errs.InvalidArgument, "settlement credit must be non-negative, got %d", amount)
	}
	applied := false
	err := l.update(ctx, userID, func(p *models.Participant) error {
		if p.SettledFor(betID) {
			applied = false
			return nil
		}
		if p.Settlements == nil {
			p.Settlements = make(map[string]int64)
		}
		p.Settlements[betID] = amount
		p.Points += amount
		applied = true
		return nil
	})
	return applied, err
}

// Forfeit records a losing stake for audit. The stake was already debited at
// reservation time, so the balance is untouched.
func (l *Ledger) Forfeit(ctx context.Context, roomCode, betID, userID string, amount int64) {
	l.audit.Publish(ctx, audit.Record{
		Type:     audit.TypeForfeit,
		RoomCode: roomCode,
		BetID:    betID,
		UserID:   userID,
		Amount:   amount,
	})
}

// update runs one serialized read-modify-write against the participant
// document. mutate returning an error aborts without writing.
func (l *Ledger) update(ctx context.Context, userID string, mutate func(p *models.Participant) error) error {
	lk := l.userLock(userID)
	lk.Lock()
	defer lk.Unlock()

	key := models.ParticipantKey(userID)
	for attempt := 0; attempt < casRetryLimit; attempt++ {
		doc, err := l.store.Get(ctx, key)
		if errors.Is(err, docstore.ErrNotFound) {
			return errs.E(errs.InvalidArgument, "unknown participant %s", userID)
		}
		if err != nil {
			return fmt.Errorf("ledger: get participant %s: %w", userID, err)
		}

		var p models.Participant
		if err := json.Unmarshal(doc.Value, &p); err != nil {
			return fmt.Errorf("ledger: decode participant %s: %w", userID, err)
		}
		if err := mutate(&p); err != nil {
			return err
		}

		value, err := json.Marshal(&p)
		if err != nil {
			return fmt.Errorf("ledger: encode participant %s: %w", userID, err)
		}
		_, err = l.store.Put(ctx, key, value, doc.Revision)
		if errors.Is(err, docstore.ErrRevisionConflict) {
			metrics.CASConflicts.WithLabelValues("participant").Inc()
			continue
		}
		if err != nil {
			return fmt.Errorf("ledger: put participant %s: %w", userID, err)
		}
		return nil
	}
	return errs.E(errs.StaleWrite, "participant %s: revision conflict after %d attempts", userID, casRetryLimit)
}
