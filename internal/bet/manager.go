// internal/bet/manager.go

// Package bet owns the bet lifecycle: opening, wagering, locking, and
// resolution with settlement. Bet status only ever moves open -> locked ->
// resolved, where the lock step may be skipped. Resolution is the single
// settlement trigger: the compare-and-set that flips a bet to resolved can
// succeed for exactly one caller, and the ledger credits it fans out are
// idempotent per (user, bet), so a settlement interrupted mid-way can be
// replayed without double-crediting.
package bet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/smallbets/smallbets/internal/audit"
	"github.com/smallbets/smallbets/internal/docstore"
	"github.com/smallbets/smallbets/internal/errs"
	"github.com/smallbets/smallbets/internal/ledger"
	"github.com/smallbets/smallbets/internal/metrics"
	"github.com/smallbets/smallbets/internal/models"
)

// casRetryLimit bounds read-modify-write attempts per mutation.
const casRetryLimit = 5

// Manager applies bet lifecycle mutations against the document store.
type Manager struct {
	store  docstore.Store
	ledger *ledger.Ledger
	audit  audit.Publisher
	logger *logrus.Logger
	payout PayoutFunc
}

// NewManager returns a bet Manager. A nil payout selects ProportionalPayout.
func NewManager(store docstore.Store, lgr *ledger.Ledger, auditor audit.Publisher, logger *logrus.Logger, payout PayoutFunc) *Manager {
	if payout == nil {
		payout = ProportionalPayout
	}
	return &Manager{
		store:  store,
		ledger: lgr,
		audit:  auditor,
		logger: logger,
		payout: payout,
	}
}

// OpenBet creates a new open bet and points the room's currentBetId at it.
// Rejected while a prior bet is still unresolved. Caller must be the room's
// host or the reserved automation principal.
func (m *Manager) OpenBet(ctx context.Context, code, caller, question string, options []string) (*models.Bet, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, errs.E(errs.InvalidArgument, "question must not be empty")
	}
	options, err := normalizeOptions(options)
	if err != nil {
		return nil, err
	}

	r, rev, err := m.getRoom(ctx, code)
	if err != nil {
		return nil, err
	}
	if err := authorize(r, caller); err != nil {
		return nil, err
	}
	if r.Status != models.RoomActive {
		return nil, errs.E(errs.InvalidTransition, "room %s is %s, not active", code, r.Status)
	}
	if r.CurrentBetID != "" {
		return nil, errs.E(errs.DuplicateActiveBet, "room %s already has bet %s outstanding", code, r.CurrentBetID)
	}

	b := &models.Bet{
		ID:       uuid.NewString(),
		RoomCode: code,
		Question: question,
		Options:  options,
		Status:   models.BetOpen,
		Wagers:   make(map[string]models.Wager),
	}
	value, err := json.Marshal(b)
	if err != nil {
		return nil, fmt.Errorf("bet: encode bet: %w", err)
	}
	if _, err := m.store.Put(ctx, models.BetKey(b.ID), value, docstore.CreateRevision); err != nil {
		return nil, fmt.Errorf("bet: create bet: %w", err)
	}

	// The bet document only becomes reachable once the room points at it,
	// so a failed claim must take the unclaimed document back out.
	if err := m.claimRoomSlot(ctx, r, rev, code, b.ID); err != nil {
		m.discardBet(ctx, b.ID)
		return nil, err
	}
	m.logger.WithFields(logrus.Fields{
		"room":     code,
		"bet":      b.ID,
		"question": question,
	}).Info("bet opened")
	return b, nil
}

// claimRoomSlot points the room's currentBetId at betID. Losing the race to
// another opener, a lock, or a finish surfaces as the precondition error the
// re-read reveals, never as a silent overwrite.
func (m *Manager) claimRoomSlot(ctx context.Context, r *models.Room, rev int64, code, betID string) error {
	for attempt := 0; attempt < casRetryLimit; attempt++ {
		r.CurrentBetID = betID
		value, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("bet: encode room: %w", err)
		}
		_, err = m.store.Put(ctx, models.RoomKey(code), value, rev)
		if err == nil {
			return nil
		}
		if !errors.Is(err, docstore.ErrRevisionConflict) {
			return fmt.Errorf("bet: put room %s: %w", code, err)
		}
		metrics.CASConflicts.WithLabelValues("room").Inc()

		if r, rev, err = m.getRoom(ctx, code); err != nil {
			return err
		}
		if r.Status != models.RoomActive {
			return errs.E(errs.InvalidTransition, "room %s is %s, not active", code, r.Status)
		}
		if r.CurrentBetID != "" {
			return errs.E(errs.DuplicateActiveBet, "room %s already has bet %s outstanding", code, r.CurrentBetID)
		}
	}
	return errs.E(errs.StaleWrite, "room %s: revision conflict after %d attempts", code, casRetryLimit)
}

// discardBet removes a bet document that never made it onto a room.
func (m *Manager) discardBet(ctx context.Context, betID string) {
	if err := m.store.Delete(ctx, models.BetKey(betID)); err != nil && !errors.Is(err, docstore.ErrNotFound) {
		m.logger.WithField("bet", betID).Errorf("failed to discard unclaimed bet: %v", err)
	}
}

// PlaceWager reserves the stake from the participant's balance and records
// the wager on the open bet. One wager per user per bet. If the bet document
// write ultimately fails, the reservation is refunded.
func (m *Manager) PlaceWager(ctx context.Context, betID, userID string, optionIndex int, amount int64) (*models.Bet, error) {
	b, _, err := m.getBet(ctx, betID)
	if err != nil {
		return nil, err
	}
	if b.Status != models.BetOpen {
		return nil, errs.E(errs.InvalidTransition, "bet %s is %s, not open", betID, b.Status)
	}
	if optionIndex < 0 || optionIndex >= len(b.Options) {
		return nil, errs.E(errs.InvalidArgument, "option index %d out of range [0,%d)", optionIndex, len(b.Options))
	}
	if amount <= 0 {
		return nil, errs.E(errs.InvalidArgument, "stake must be positive, got %d", amount)
	}
	if _, ok := b.Wagers[userID]; ok {
		return nil, errs.E(errs.DuplicateWager, "user %s already wagered on bet %s", userID, betID)
	}
	p, err := m.ledger.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if p.RoomCode != b.RoomCode {
		return nil, errs.E(errs.Forbidden, "user %s is not a participant of room %s", userID, b.RoomCode)
	}

	// Reserve first: a stake the ledger rejected must never reach the bet
	// document, and a stake it accepted is refunded on any later failure.
	if err := m.ledger.Reserve(ctx, userID, amount); err != nil {
		return nil, err
	}

	for attempt := 0; attempt < casRetryLimit; attempt++ {
		b, rev, err := m.getBet(ctx, betID)
		if err != nil {
			m.refund(ctx, userID, amount)
			return nil, err
		}
		if b.Status != models.BetOpen {
			m.refund(ctx, userID, amount)
			return nil, errs.E(errs.InvalidTransition, "bet %s is %s, not open", betID, b.Status)
		}
		if _, ok := b.Wagers[userID]; ok {
			m.refund(ctx, userID, amount)
			return nil, errs.E(errs.DuplicateWager, "user %s already wagered on bet %s", userID, betID)
		}
		b.Wagers[userID] = models.Wager{OptionIndex: optionIndex, Amount: amount}

		value, err := json.Marshal(b)
		if err != nil {
			m.refund(ctx, userID, amount)
			return nil, fmt.Errorf("bet: encode bet %s: %w", betID, err)
		}
		_, err = m.store.Put(ctx, models.BetKey(betID), value, rev)
		if errors.Is(err, docstore.ErrRevisionConflict) {
			metrics.CASConflicts.WithLabelValues("bet").Inc()
			continue
		}
		if err != nil {
			m.refund(ctx, userID, amount)
			return nil, fmt.Errorf("bet: put bet %s: %w", betID, err)
		}
		return b, nil
	}
	m.refund(ctx, userID, amount)
	return nil, errs.E(errs.StaleWrite, "bet %s: revision conflict after %d attempts", betID, casRetryLimit)
}

// LockBet moves the room's current bet from open to locked. Host only.
func (m *Manager) LockBet(ctx context.Context, code, caller string) (*models.Bet, error) {
	betID, err := m.currentBetID(ctx, code, caller)
	if err != nil {
		return nil, err
	}
	return m.update(ctx, betID, func(b *models.Bet) error {
		if b.Status != models.BetOpen {
			return errs.E(errs.InvalidTransition, "bet %s is %s, not open", betID, b.Status)
		}
		b.Status = models.BetLocked
		return nil
	})
}

// errAlreadyResolved marks the resolve mutation finding a bet that some
// earlier resolve already flipped.
var errAlreadyResolved = errors.New("bet already resolved")

// ResolveBet resolves the room's current bet with the given winner and
// settles every wager: winners are credited per the payout strategy, losers
// forfeit their already-reserved stakes. The room's currentBetId is cleared
// last. A bet may resolve directly from open, skipping the lock step.
func (m *Manager) ResolveBet(ctx context.Context, code, caller, winner string) (*models.Bet, error) {
	betID, err := m.currentBetID(ctx, code, caller)
	if err != nil {
		return nil, err
	}

	b, err := m.update(ctx, betID, func(b *models.Bet) error {
		if b.Status == models.BetResolved {
			return errAlreadyResolved
		}
		if b.WinnerIndex(winner) < 0 {
			return errs.E(errs.InvalidArgument, "winner %q is not an option of bet %s", winner, betID)
		}
		b.Status = models.BetResolved
		b.Winner = winner
		return nil
	})
	if errors.Is(err, errAlreadyResolved) {
		// A resolved bet still referenced by the room means the previous
		// resolve was cut off between the status flip and the cleanup.
		// Replay settlement and the clear, both idempotent, before
		// reporting the duplicate.
		m.resumeSettlement(ctx, code, betID)
		return nil, errs.E(errs.InvalidTransition, "bet %s is already resolved", betID)
	}
	if err != nil {
		return nil, err
	}

	if err := m.settle(ctx, b); err != nil {
		return nil, err
	}
	if err := m.clearCurrentBet(ctx, code, betID); err != nil {
		return nil, err
	}
	return b, nil
}

// resumeSettlement replays settle and the room cleanup for a bet whose
// resolution did not run to completion. Best effort: a replay that fails
// again is retried by the next resolve attempt.
func (m *Manager) resumeSettlement(ctx context.Context, code, betID string) {
	b, _, err := m.getBet(ctx, betID)
	if err != nil || b.Status != models.BetResolved {
		return
	}
	if err := m.settle(ctx, b); err != nil {
		m.logger.WithFields(logrus.Fields{
			"room": code,
			"bet":  betID,
		}).Errorf("settlement replay failed: %v", err)
		return
	}
	if err := m.clearCurrentBet(ctx, code, betID); err != nil {
		m.logger.WithFields(logrus.Fields{
			"room": code,
			"bet":  betID,
		}).Errorf("failed to clear settled bet from room: %v", err)
	}
}

// settle applies the ledger effects of a resolved bet. Safe to replay.
func (m *Manager) settle(ctx context.Context, b *models.Bet) error {
	winnerIdx := b.WinnerIndex(b.Winner)
	credits := m.payout(b, winnerIdx)

	var creditedTotal int64
	for userID, w := range b.Wagers {
		if w.OptionIndex == winnerIdx {
			continue
		}
		m.ledger.Forfeit(ctx, b.RoomCode, b.ID, userID, w.Amount)
	}
	for userID, amount := range credits {
		applied, err := m.ledger.SettleCredit(ctx, userID, b.ID, amount)
		if err != nil {
			return fmt.Errorf("bet: settle credit for %s: %w", userID, err)
		}
		if applied {
			creditedTotal += amount
		}
	}

	metrics.Settlements.Inc()
	metrics.PointsSettled.Add(float64(creditedTotal))
	m.audit.Publish(ctx, audit.Record{
		Type:     audit.TypeSettlement,
		RoomCode: b.RoomCode,
		BetID:    b.ID,
		Amount:   creditedTotal,
		Details: map[string]interface{}{
			"winner": b.Winner,
			"wagers": len(b.Wagers),
		},
	})
	m.logger.WithFields(logrus.Fields{
		"room":     b.RoomCode,
		"bet":      b.ID,
		"winner":   b.Winner,
		"credited": creditedTotal,
	}).Info("bet settled")
	return nil
}

// clearCurrentBet removes the resolved bet's reference from the room. The
// guard against a different currentBetId keeps a concurrent open of the next
// bet from being wiped out.
func (m *Manager) clearCurrentBet(ctx context.Context, code, betID string) error {
	for attempt := 0; attempt < casRetryLimit; attempt++ {
		r, rev, err := m.getRoom(ctx, code)
		if err != nil {
			return err
		}
		if r.CurrentBetID != betID {
			return nil
		}
		r.CurrentBetID = ""
		value, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("bet: encode room %s: %w", code, err)
		}
		_, err = m.store.Put(ctx, models.RoomKey(code), value, rev)
		if errors.Is(err, docstore.ErrRevisionConflict) {
			metrics.CASConflicts.WithLabelValues("room").Inc()
			continue
		}
		if err != nil {
			return fmt.Errorf("bet: put room %s: %w", code, err)
		}
		return nil
	}
	return errs.E(errs.StaleWrite, "room %s: revision conflict after %d attempts", code, casRetryLimit)
}

// currentBetID authorizes the caller against the room and returns the id of
// its outstanding bet.
func (m *Manager) currentBetID(ctx context.Context, code, caller string) (string, error) {
	r, _, err := m.getRoom(ctx, code)
	if err != nil {
		return "", err
	}
	if err := authorize(r, caller); err != nil {
		return "", err
	}
	if r.CurrentBetID == "" {
		return "", errs.E(errs.BetNotFound, "room %s has no outstanding bet", code)
	}
	return r.CurrentBetID, nil
}

// GetBet loads a bet document.
func (m *Manager) GetBet(ctx context.Context, betID string) (*models.Bet, error) {
	b, _, err := m.getBet(ctx, betID)
	return b, err
}

func (m *Manager) getBet(ctx context.Context, betID string) (*models.Bet, int64, error) {
	doc, err := m.store.Get(ctx, models.BetKey(betID))
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, 0, errs.E(errs.BetNotFound, "bet %s does not exist", betID)
	}
	if err != nil {
		return nil, 0, fmt.Errorf("bet: get bet %s: %w", betID, err)
	}
	var b models.Bet
	if err := json.Unmarshal(doc.Value, &b); err != nil {
		return nil, 0, fmt.Errorf("bet: decode bet %s: %w", betID, err)
	}
	return &b, doc.Revision, nil
}

func (m *Manager) getRoom(ctx context.Context, code string) (*models.Room, int64, error) {
	doc, err := m.store.Get(ctx, models.RoomKey(code))
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, 0, errs.E(errs.RoomNotFound, "room %s does not exist", code)
	}
	if err != nil {
		return nil, 0, fmt.Errorf("bet: get room %s: %w", code, err)
	}
	var r models.Room
	if err := json.Unmarshal(doc.Value, &r); err != nil {
		return nil, 0, fmt.Errorf("bet: decode room %s: %w", code, err)
	}
	return &r, doc.Revision, nil
}

// update runs one bounded read-modify-write loop against a bet document.
func (m *Manager) update(ctx context.Context, betID string, mutate func(b *models.Bet) error) (*models.Bet, error) {
	for attempt := 0; attempt < casRetryLimit; attempt++ {
		b, rev, err := m.getBet(ctx, betID)
		if err != nil {
			return nil, err
		}
		if err := mutate(b); err != nil {
			return nil, err
		}
		value, err := json.Marshal(b)
		if err != nil {
			return nil, fmt.Errorf("bet: encode bet %s: %w", betID, err)
		}
		_, err = m.store.Put(ctx, models.BetKey(betID), value, rev)
		if errors.Is(err, docstore.ErrRevisionConflict) {
			metrics.CASConflicts.WithLabelValues("bet").Inc()
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("bet: put bet %s: %w", betID, err)
		}
		return b, nil
	}
	return nil, errs.E(errs.StaleWrite, "bet %s: revision conflict after %d attempts", betID, casRetryLimit)
}

// refund compensates a reservation whose wager never made it onto the bet.
func (m *Manager) refund(ctx context.Context, userID string, amount int64) {
	if err := m.ledger.Credit(ctx, userID, amount); err != nil {
		m.logger.WithFields(logrus.Fields{
			"user":   userID,
			"amount": amount,
		}).Errorf("failed to refund reservation: %v", err)
	}
}

// authorize admits the room's host and the reserved automation principal.
func authorize(r *models.Room, caller string) error {
	if caller == r.HostID || caller == models.AutomationPrincipal {
		return nil
	}
	return errs.E(errs.Forbidden, "caller is not the host of room %s", r.Code)
}

// normalizeOptions trims and validates bet options: at least two, non-empty,
// distinct.
func normalizeOptions(options []string) ([]string, error) {
	out := make([]string, 0, len(options))
	seen := make(map[string]bool, len(options))
	for _, opt := range options {
		opt = strings.TrimSpace(opt)
		if opt == "" {
			return nil, errs.E(errs.InvalidArgument, "options must not be empty")
		}
		if seen[opt] {
			return nil, errs.E(errs.InvalidArgument, "duplicate option %q", opt)
		}
		seen[opt] = true
		out = append(out, opt)
	}
	if len(out) < 2 {
		return nil, errs.E(errs.InvalidArgument, "a bet needs at least 2 options, got %d", len(out))
	}
	return out, nil
}
