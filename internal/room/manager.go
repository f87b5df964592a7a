// internal/room/manager.go

// Package room owns room creation, status transitions, the automation flag,
// and joining. Room status only ever moves waiting -> active -> finished.
package room

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/smallbets/smallbets/internal/audit"
	"github.com/smallbets/smallbets/internal/docstore"
	"github.com/smallbets/smallbets/internal/errs"
	"github.com/smallbets/smallbets/internal/metrics"
	"github.com/smallbets/smallbets/internal/models"
)

const (
	// codeRetryLimit bounds code regeneration on collision.
	codeRetryLimit = 5
	// casRetryLimit bounds read-modify-write attempts per mutation.
	casRetryLimit = 5
)

// Manager applies room lifecycle mutations against the document store.
type Manager struct {
	store  docstore.Store
	audit  audit.Publisher
	logger *logrus.Logger

	// StartingPoints is the balance every participant begins with.
	StartingPoints int64
	// UniqueNicknames rejects duplicate nicknames within a room when set.
	// Default policy allows duplicates, disambiguated by userId.
	UniqueNicknames bool

	// newCode is swapped out by tests to force collisions.
	newCode func() string
}

// NewManager returns a room Manager over the given store.
func NewManager(store docstore.Store, auditor audit.Publisher, logger *logrus.Logger, startingPoints int64) *Manager {
	return &Manager{
		store:          store,
		audit:          auditor,
		logger:         logger,
		StartingPoints: startingPoints,
		newCode:        NewCode,
	}
}

// CreateRoom generates a unique room code, creates the room in status
// waiting, and registers the creator as its sole admin participant. Code
// collisions are retried a bounded number of times before ResourceExhausted.
func (m *Manager) CreateRoom(ctx context.Context, hostNickname string) (*models.Room, *models.Participant, error) {
	hostNickname = strings.TrimSpace(hostNickname)
	if hostNickname == "" {
		return nil, nil, errs.E(errs.InvalidArgument, "nickname must not be empty")
	}

	hostID := uuid.NewString()
	room := &models.Room{
		Status:        models.RoomWaiting,
		HostID:        hostID,
		CreatedAtUnix: time.Now().Unix(),
	}

	created := false
	for attempt := 0; attempt < codeRetryLimit; attempt++ {
		room.Code = m.newCode()
		value, err := json.Marshal(room)
		if err != nil {
			return nil, nil, fmt.Errorf("room: encode room: %w", err)
		}
		_, err = m.store.Put(ctx, models.RoomKey(room.Code), value, docstore.CreateRevision)
		if errors.Is(err, docstore.ErrRevisionConflict) {
			m.logger.WithField("code", room.Code).Debug("room code collision, regenerating")
			continue
		}
		if err != nil {
			return nil, nil, fmt.Errorf("room: create room: %w", err)
		}
		created = true
		break
	}
	if !created {
		return nil, nil, errs.E(errs.ResourceExhausted, "room code generation collided %d times", codeRetryLimit)
	}

	host := &models.Participant{
		UserID:   hostID,
		RoomCode: room.Code,
		Nickname: hostNickname,
		Points:   m.StartingPoints,
		IsAdmin:  true,
	}
	if err := m.createParticipant(ctx, host); err != nil {
		return nil, nil, err
	}
	roster := &models.Roster{
		RoomCode: room.Code,
		Members:  []models.RosterEntry{{UserID: hostID, Nickname: hostNickname}},
	}
	value, err := json.Marshal(roster)
	if err != nil {
		return nil, nil, fmt.Errorf("room: encode roster: %w", err)
	}
	if _, err := m.store.Put(ctx, models.RosterKey(room.Code), value, docstore.CreateRevision); err != nil {
		return nil, nil, fmt.Errorf("room: create roster: %w", err)
	}

	m.logger.WithFields(logrus.Fields{
		"room": room.Code,
		"host": hostID,
	}).Info("room created")
	return room, host, nil
}

// StartRoom transitions a room from waiting to active. Host only.
func (m *Manager) StartRoom(ctx context.Context, code, callerHostID string) (*models.Room, error) {
	return m.update(ctx, code, func(r *models.Room) error {
		if r.HostID != callerHostID {
			return errs.E(errs.Forbidden, "caller is not the host of room %s", code)
		}
		if r.Status != models.RoomWaiting {
			return errs.E(errs.InvalidTransition, "room %s is %s, not waiting", code, r.Status)
		}
		r.Status = models.RoomActive
		return nil
	})
}

// FinishRoom transitions a room from active to finished. Host only. A still
// outstanding bet is left unresolved and flagged for audit, never
// auto-settled; the host can still resolve it afterwards.
func (m *Manager) FinishRoom(ctx context.Context, code, callerHostID string) (*models.Room, error) {
	var abandoned string
	r, err := m.update(ctx, code, func(r *models.Room) error {
		if r.HostID != callerHostID {
			return errs.E(errs.Forbidden, "caller is not the host of room %s", code)
		}
		if r.Status != models.RoomActive {
			return errs.E(errs.InvalidTransition, "room %s is %s, not active", code, r.Status)
		}
		r.Status = models.RoomFinished
		abandoned = r.CurrentBetID
		return nil
	})
	if err != nil {
		return nil, err
	}
	if abandoned != "" {
		m.logger.WithFields(logrus.Fields{
			"room": code,
			"bet":  abandoned,
		}).Warn("room finished with an unresolved bet")
		m.audit.Publish(ctx, audit.Record{
			Type:     audit.TypeAbandonedBet,
			RoomCode: code,
			BetID:    abandoned,
		})
	}
	return r, nil
}

// SetAutomation flips the automation flag. Host only, no status precondition.
func (m *Manager) SetAutomation(ctx context.Context, code, callerHostID string, enabled bool) (*models.Room, error) {
	return m.update(ctx, code, func(r *models.Room) error {
		if r.HostID != callerHostID {
			return errs.E(errs.Forbidden, "caller is not the host of room %s", code)
		}
		r.AutomationEnabled = enabled
		return nil
	})
}

// JoinRoom adds a participant to a room that has not finished.
func (m *Manager) JoinRoom(ctx context.Context, code, nickname string) (*models.Participant, error) {
	nickname = strings.TrimSpace(nickname)
	if nickname == "" {
		return nil, errs.E(errs.InvalidArgument, "nickname must not be empty")
	}

	r, _, err := m.GetRoom(ctx, code)
	if err != nil {
		return nil, err
	}
	if r.Status == models.RoomFinished {
		return nil, errs.E(errs.InvalidTransition, "room %s has finished", code)
	}

	p := &models.Participant{
		UserID:   uuid.NewString(),
		RoomCode: code,
		Nickname: nickname,
		Points:   m.StartingPoints,
	}

	if err := m.addToRoster(ctx, code, p); err != nil {
		return nil, err
	}
	if err := m.createParticipant(ctx, p); err != nil {
		return nil, err
	}

	m.logger.WithFields(logrus.Fields{
		"room":     code,
		"user":     p.UserID,
		"nickname": nickname,
	}).Info("participant joined")
	return p, nil
}

// GetRoom loads a room document and its revision.
func (m *Manager) GetRoom(ctx context.Context, code string) (*models.Room, int64, error) {
	doc, err := m.store.Get(ctx, models.RoomKey(code))
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, 0, errs.E(errs.RoomNotFound, "room %s does not exist", code)
	}
	if err != nil {
		return nil, 0, fmt.Errorf("room: get room %s: %w", code, err)
	}
	var r models.Room
	if err := json.Unmarshal(doc.Value, &r); err != nil {
		return nil, 0, fmt.Errorf("room: decode room %s: %w", code, err)
	}
	return &r, doc.Revision, nil
}

// update runs one bounded read-modify-write loop against the room document.
func (m *Manager) update(ctx context.Context, code string, mutate func(r *models.Room) error) (*models.Room, error) {
	for attempt := 0; attempt < casRetryLimit; attempt++ {
		r, rev, err := m.GetRoom(ctx, code)
		if err != nil {
			return nil, err
		}
		if err := mutate(r); err != nil {
			return nil, err
		}
		value, err := json.Marshal(r)
		if err != nil {
			return nil, fmt.Errorf("room: encode room %s: %w", code, err)
		}
		_, err = m.store.Put(ctx, models.RoomKey(code), value, rev)
		if errors.Is(err, docstore.ErrRevisionConflict) {
			metrics.CASConflicts.WithLabelValues("room").Inc()
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("room: put room %s: %w", code, err)
		}
		return r, nil
	}
	return nil, errs.E(errs.StaleWrite, "room %s: revision conflict after %d attempts", code, casRetryLimit)
}

func (m *Manager) createParticipant(ctx context.Context, p *models.Participant) error {
	value, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("room: encode participant: %w", err)
	}
	if _, err := m.store.Put(ctx, models.ParticipantKey(p.UserID), value, docstore.CreateRevision); err != nil {
		return fmt.Errorf("room: create participant %s: %w", p.UserID, err)
	}
	return nil
}

// addToRoster appends the participant to the room roster, enforcing the
// unique-nickname policy when configured.
func (m *Manager) addToRoster(ctx context.Context, code string, p *models.Participant) error {
	key := models.RosterKey(code)
	for attempt := 0; attempt < casRetryLimit; attempt++ {
		doc, err := m.store.Get(ctx, key)
		if errors.Is(err, docstore.ErrNotFound) {
			return errs.E(errs.RoomNotFound, "room %s has no roster", code)
		}
		if err != nil {
			return fmt.Errorf("room: get roster %s: %w", code, err)
		}
		var roster models.Roster
		if err := json.Unmarshal(doc.Value, &roster); err != nil {
			return fmt.Errorf("room: decode roster %s: %w", code, err)
		}
		if m.UniqueNicknames && roster.HasNickname(p.Nickname) {
			return errs.E(errs.InvalidArgument, "nickname %q already taken in room %s", p.Nickname, code)
		}
		roster.Members = append(roster.Members, models.RosterEntry{UserID: p.UserID, Nickname: p.Nickname})

		value, err := json.Marshal(&roster)
		if err != nil {
			return fmt.Errorf("room: encode roster %s: %w", code, err)
		}
		_, err = m.store.Put(ctx, key, value, doc.Revision)
		if errors.Is(err, docstore.ErrRevisionConflict) {
			metrics.CASConflicts.WithLabelValues("roster").Inc()
			continue
		}
		if err != nil {
			return fmt.Errorf("room: put roster %s: %w", code, err)
		}
		return nil
	}
	return errs.E(errs.StaleWrite, "roster %s: revision conflict after %d attempts", code, casRetryLimit)
}

// SetCodeFunc overrides code generation. Test hook.
func (m *Manager) SetCodeFunc(fn func() string) { m.newCode = fn }
