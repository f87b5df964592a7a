// internal/notify/fanout.go

// Package notify turns committed document mutations into push updates for
// room subscribers. Each subscription multiplexes the documents a room
// client cares about: the room itself, its roster, every member's
// participant document, and whichever bet the room currently points at.
// Full document values are delivered, at-least-once; per key, only values
// with a strictly greater revision than the last applied one are emitted
// (last writer wins by revision).
package notify

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/smallbets/smallbets/internal/docstore"
	"github.com/smallbets/smallbets/internal/models"
)

// UpdateKind names the document kind an Update carries.
type UpdateKind string

const (
	KindRoom        UpdateKind = "room"
	KindRoster      UpdateKind = "roster"
	KindParticipant UpdateKind = "participant"
	KindBet         UpdateKind = "bet"
)

// Update is one pushed document value.
type Update struct {
	Kind     UpdateKind      `json:"type"`
	Key      string          `json:"key"`
	Revision int64           `json:"revision"`
	Doc      json.RawMessage `json:"doc"`
}

// Fanout creates room-scoped subscriptions over the document store.
type Fanout struct {
	store  docstore.Store
	logger *logrus.Logger
}

// New returns a Fanout over the given store.
func New(store docstore.Store, logger *logrus.Logger) *Fanout {
	return &Fanout{store: store, logger: logger}
}

// Subscription streams updates for one room. Updates are dropped oldest-first
// if the consumer falls behind; the revision rule means a later value always
// supersedes a dropped one.
type Subscription struct {
	f   *Fanout
	ctx context.Context
	out chan Update

	mu      sync.Mutex
	closed  bool
	lastRev map[string]int64
	unsubs  []func()
	tracked map[string]bool // keys already subscribed
	betKey  string
}

// SubscribeRoom opens a subscription covering the room's document set. The
// current value of every covered document is delivered up front, so a
// late-joining client needs no separate fetch.
func (f *Fanout) SubscribeRoom(ctx context.Context, code string) (*Subscription, error) {
	s := &Subscription{
		f:       f,
		ctx:     ctx,
		out:     make(chan Update, 64),
		lastRev: make(map[string]int64),
		tracked: make(map[string]bool),
	}
	if err := s.watch(KindRoom, models.RoomKey(code)); err != nil {
		s.Close()
		return nil, err
	}
	if err := s.watch(KindRoster, models.RosterKey(code)); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// Updates is the stream of pushed documents. The channel closes when the
// subscription does.
func (s *Subscription) Updates() <-chan Update { return s.out }

// Close cancels every underlying document subscription and closes the
// update channel. Safe to call more than once.
func (s *Subscription) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	unsubs := s.unsubs
	s.unsubs = nil
	s.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
	close(s.out)
}

// watch subscribes a document key and emits its current value. Idempotent
// per key.
func (s *Subscription) watch(kind UpdateKind, key string) error {
	s.mu.Lock()
	if s.closed || s.tracked[key] {
		s.mu.Unlock()
		return nil
	}
	s.tracked[key] = true
	s.mu.Unlock()

	unsub, err := s.f.store.Subscribe(s.ctx, key, func(doc docstore.Document) {
		s.emit(kind, doc)
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		unsub()
		return nil
	}
	s.unsubs = append(s.unsubs, unsub)
	s.mu.Unlock()

	// Initial snapshot. A notification racing ahead of this read is fine:
	// the revision guard in emit drops whichever value arrives stale.
	doc, err := s.f.store.Get(s.ctx, key)
	if err == nil {
		s.emit(kind, doc)
	}
	return nil
}

// emit applies the last-writer-wins-by-revision rule and forwards the value.
// Never blocks: a full consumer buffer sheds its oldest entry first.
func (s *Subscription) emit(kind UpdateKind, doc docstore.Document) {
	s.mu.Lock()
	if s.closed || doc.Revision <= s.lastRev[doc.Key] {
		s.mu.Unlock()
		return
	}
	s.lastRev[doc.Key] = doc.Revision

	u := Update{Kind: kind, Key: doc.Key, Revision: doc.Revision, Doc: append(json.RawMessage(nil), doc.Value...)}
	select {
	case s.out <- u:
	default:
		select {
		case <-s.out:
		default:
		}
		select {
		case s.out <- u:
		default:
		}
	}
	s.mu.Unlock()

	switch kind {
	case KindRoom:
		s.trackRoomBet(doc)
	case KindRoster:
		s.trackRosterMembers(doc)
	}
}

// trackRoomBet follows the room's currentBetId as it changes, watching the
// referenced bet document. The previous bet's subscription is left in place;
// its final resolved value has already been delivered and it goes quiet.
func (s *Subscription) trackRoomBet(doc docstore.Document) {
	var r models.Room
	if err := json.Unmarshal(doc.Value, &r); err != nil {
		s.f.logger.Warnf("notify: decode room %s: %v", doc.Key, err)
		return
	}
	if r.CurrentBetID == "" {
		return
	}
	key := models.BetKey(r.CurrentBetID)
	s.mu.Lock()
	same := s.betKey == key
	s.betKey = key
	s.mu.Unlock()
	if same {
		return
	}
	if err := s.watch(KindBet, key); err != nil {
		s.f.logger.Warnf("notify: watch %s: %v", key, err)
	}
}

// trackRosterMembers watches the participant document of every member.
func (s *Subscription) trackRosterMembers(doc docstore.Document) {
	var roster models.Roster
	if err := json.Unmarshal(doc.Value, &roster); err != nil {
		s.f.logger.Warnf("notify: decode roster %s: %v", doc.Key, err)
		return
	}
	for _, m := range roster.Members {
		key := models.ParticipantKey(m.UserID)
		if err := s.watch(KindParticipant, key); err != nil {
			s.f.logger.Warnf("notify: watch %s: %v", key, err)
		}
	}
}
