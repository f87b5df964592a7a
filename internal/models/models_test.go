// internal/models/models_test.go
package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRoomStatusTransitions(t *testing.T) {
	assert.True(t, RoomWaiting.CanTransitionTo(RoomActive))
	assert.True(t, RoomActive.CanTransitionTo(RoomFinished))

	// No skips, no regressions, no exits from finished.
	assert.False(t, RoomWaiting.CanTransitionTo(RoomFinished))
	assert.False(t, RoomActive.CanTransitionTo(RoomWaiting))
	assert.False(t, RoomFinished.CanTransitionTo(RoomActive))
	assert.False(t, RoomFinished.CanTransitionTo(RoomWaiting))
}

func TestBetStatusTransitions(t *testing.T) {
	assert.True(t, BetOpen.CanTransitionTo(BetLocked))
	assert.True(t, BetLocked.CanTransitionTo(BetResolved))
	// Resolving straight from open skips the lock.
	assert.True(t, BetOpen.CanTransitionTo(BetResolved))

	assert.False(t, BetLocked.CanTransitionTo(BetOpen))
	assert.False(t, BetResolved.CanTransitionTo(BetOpen))
	assert.False(t, BetResolved.CanTransitionTo(BetLocked))
}

func TestWinnerIndex(t *testing.T) {
	b := &Bet{Options: []string{"yes", "no"}}
	assert.Equal(t, 0, b.WinnerIndex("yes"))
	assert.Equal(t, 1, b.WinnerIndex("no"))
	assert.Equal(t, -1, b.WinnerIndex("maybe"))
}

func TestTotalStaked(t *testing.T) {
	b := &Bet{Wagers: map[string]Wager{
		"a": {OptionIndex: 0, Amount: 10},
		"b": {OptionIndex: 1, Amount: 25},
	}}
	assert.Equal(t, int64(35), b.TotalStaked())
	assert.Equal(t, int64(0), (&Bet{}).TotalStaked())
}

func TestSettledFor(t *testing.T) {
	p := &Participant{}
	assert.False(t, p.SettledFor("b1"))

	p.Settlements = map[string]int64{"b1": 0}
	// A recorded zero-credit settlement still counts as settled.
	assert.True(t, p.SettledFor("b1"))
	assert.False(t, p.SettledFor("b2"))
}

func TestRosterLookups(t *testing.T) {
	r := &Roster{Members: []RosterEntry{
		{UserID: "u1", Nickname: "alice"},
		{UserID: "u2", Nickname: "bob"},
	}}
	assert.True(t, r.HasUser("u1"))
	assert.False(t, r.HasUser("u3"))
	assert.True(t, r.HasNickname("bob"))
	assert.False(t, r.HasNickname("carol"))
}

func TestDocumentKeys(t *testing.T) {
	assert.Equal(t, "room:ABCD", RoomKey("ABCD"))
	assert.Equal(t, "roster:ABCD", RosterKey("ABCD"))
	assert.Equal(t, "bet:b1", BetKey("b1"))
	assert.Equal(t, "participant:u1", ParticipantKey("u1"))
}
