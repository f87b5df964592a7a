// internal/notify/fanout_test.go
package notify

import (
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smallbets/smallbets/internal/audit"
	"github.com/smallbets/smallbets/internal/bet"
	"github.com/smallbets/smallbets/internal/docstore"
	"github.com/smallbets/smallbets/internal/ledger"
	"github.com/smallbets/smallbets/internal/models"
	"github.com/smallbets/smallbets/internal/room"
)

type fanoutEnv struct {
	store  docstore.Store
	rooms  *room.Manager
	bets   *bet.Manager
	fanout *Fanout
}

func newFanoutEnv(t *testing.T) *fanoutEnv {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	store := docstore.NewMemory()
	lgr := ledger.New(store, audit.Nop{}, logger)
	return &fanoutEnv{
		store:  store,
		rooms:  room.NewManager(store, audit.Nop{}, logger, 100),
		bets:   bet.NewManager(store, lgr, audit.Nop{}, logger, nil),
		fanout: New(store, logger),
	}
}

// nextUpdate pulls one update of the wanted kind, skipping others.
func nextUpdate(t *testing.T, sub *Subscription, kind UpdateKind) Update {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case u, ok := <-sub.Updates():
			if !ok {
				t.Fatalf("subscription closed while waiting for %s update", kind)
			}
			if u.Kind == kind {
				return u
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s update", kind)
		}
	}
}

func TestSubscribeRoomInitialSnapshot(t *testing.T) {
	ctx := context.Background()
	e := newFanoutEnv(t)
	r, _, err := e.rooms.CreateRoom(ctx, "host")
	require.NoError(t, err)

	sub, err := e.fanout.SubscribeRoom(ctx, r.Code)
	require.NoError(t, err)
	defer sub.Close()

	// The current room and roster arrive without any further writes.
	u := nextUpdate(t, sub, KindRoom)
	var snap models.Room
	require.NoError(t, json.Unmarshal(u.Doc, &snap))
	assert.Equal(t, r.Code, snap.Code)
	assert.Equal(t, models.RoomWaiting, snap.Status)

	nextUpdate(t, sub, KindRoster)
	// The host's participant document follows from the roster.
	nextUpdate(t, sub, KindParticipant)
}

func TestSubscribeRoomStreamsStatusChanges(t *testing.T) {
	ctx := context.Background()
	e := newFanoutEnv(t)
	r, host, err := e.rooms.CreateRoom(ctx, "host")
	require.NoError(t, err)

	sub, err := e.fanout.SubscribeRoom(ctx, r.Code)
	require.NoError(t, err)
	defer sub.Close()
	nextUpdate(t, sub, KindRoom) // snapshot

	_, err = e.rooms.StartRoom(ctx, r.Code, host.UserID)
	require.NoError(t, err)

	u := nextUpdate(t, sub, KindRoom)
	var snap models.Room
	require.NoError(t, json.Unmarshal(u.Doc, &snap))
	assert.Equal(t, models.RoomActive, snap.Status)
}

func TestSubscribeRoomTracksCurrentBet(t *testing.T) {
	ctx := context.Background()
	e := newFanoutEnv(t)
	r, host, err := e.rooms.CreateRoom(ctx, "host")
	require.NoError(t, err)
	_, err = e.rooms.StartRoom(ctx, r.Code, host.UserID)
	require.NoError(t, err)

	sub, err := e.fanout.SubscribeRoom(ctx, r.Code)
	require.NoError(t, err)
	defer sub.Close()

	b, err := e.bets.OpenBet(ctx, r.Code, host.UserID, "q?", []string{"a", "b"})
	require.NoError(t, err)

	// The bet document shows up once the room points at it.
	u := nextUpdate(t, sub, KindBet)
	var snap models.Bet
	require.NoError(t, json.Unmarshal(u.Doc, &snap))
	assert.Equal(t, b.ID, snap.ID)
	assert.Equal(t, models.BetOpen, snap.Status)

	// Lifecycle changes on the tracked bet keep streaming.
	_, err = e.bets.LockBet(ctx, r.Code, host.UserID)
	require.NoError(t, err)
	u = nextUpdate(t, sub, KindBet)
	require.NoError(t, json.Unmarshal(u.Doc, &snap))
	assert.Equal(t, models.BetLocked, snap.Status)
}

func TestSubscribeRoomTracksJoiningParticipants(t *testing.T) {
	ctx := context.Background()
	e := newFanoutEnv(t)
	r, _, err := e.rooms.CreateRoom(ctx, "host")
	require.NoError(t, err)

	sub, err := e.fanout.SubscribeRoom(ctx, r.Code)
	require.NoError(t, err)
	defer sub.Close()

	p, err := e.rooms.JoinRoom(ctx, r.Code, "bob")
	require.NoError(t, err)

	// Keep reading participant updates until the joiner's arrives.
	deadline := time.After(2 * time.Second)
	for {
		select {
		case u := <-sub.Updates():
			if u.Kind != KindParticipant || u.Key != models.ParticipantKey(p.UserID) {
				continue
			}
			var snap models.Participant
			require.NoError(t, json.Unmarshal(u.Doc, &snap))
			assert.Equal(t, "bob", snap.Nickname)
			return
		case <-deadline:
			t.Fatal("timed out waiting for the joining participant")
		}
	}
}

func TestEmitDropsStaleRevisions(t *testing.T) {
	ctx := context.Background()
	e := newFanoutEnv(t)
	r, _, err := e.rooms.CreateRoom(ctx, "host")
	require.NoError(t, err)

	sub, err := e.fanout.SubscribeRoom(ctx, r.Code)
	require.NoError(t, err)
	defer sub.Close()
	first := nextUpdate(t, sub, KindRoom)

	// Replaying the same document must not surface again.
	doc, err := e.store.Get(ctx, models.RoomKey(r.Code))
	require.NoError(t, err)
	sub.emit(KindRoom, doc)
	sub.emit(KindRoom, docstore.Document{Key: doc.Key, Value: doc.Value, Revision: doc.Revision - 1})

	select {
	case u := <-sub.Updates():
		if u.Kind == KindRoom && u.Revision <= first.Revision {
			t.Fatalf("stale revision %d delivered after %d", u.Revision, first.Revision)
		}
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRevisionsPerKeyAreMonotonic(t *testing.T) {
	ctx := context.Background()
	e := newFanoutEnv(t)
	r, host, err := e.rooms.CreateRoom(ctx, "host")
	require.NoError(t, err)

	sub, err := e.fanout.SubscribeRoom(ctx, r.Code)
	require.NoError(t, err)
	defer sub.Close()

	_, err = e.rooms.StartRoom(ctx, r.Code, host.UserID)
	require.NoError(t, err)
	_, err = e.rooms.SetAutomation(ctx, r.Code, host.UserID, true)
	require.NoError(t, err)
	_, err = e.rooms.FinishRoom(ctx, r.Code, host.UserID)
	require.NoError(t, err)

	last := make(map[string]int64)
	deadline := time.After(500 * time.Millisecond)
	for {
		select {
		case u := <-sub.Updates():
			if u.Revision <= last[u.Key] {
				t.Fatalf("key %s went from revision %d to %d", u.Key, last[u.Key], u.Revision)
			}
			last[u.Key] = u.Revision
		case <-deadline:
			return
		}
	}
}

func TestCloseEndsStream(t *testing.T) {
	ctx := context.Background()
	e := newFanoutEnv(t)
	r, _, err := e.rooms.CreateRoom(ctx, "host")
	require.NoError(t, err)

	sub, err := e.fanout.SubscribeRoom(ctx, r.Code)
	require.NoError(t, err)
	sub.Close()
	sub.Close() // idempotent

	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-sub.Updates():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("update channel never closed")
		}
	}
}

func TestSubscribeUnknownRoom(t *testing.T) {
	e := newFanoutEnv(t)
	sub, err := e.fanout.SubscribeRoom(context.Background(), "ZZZZ")
	// Subscribing to a missing key is legal; there is just nothing to
	// snapshot until the documents exist.
	require.NoError(t, err)
	sub.Close()
}
