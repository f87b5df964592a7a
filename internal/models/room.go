// internal/models/room.go
package models

// RoomStatus is the lifecycle state of a room. Transitions are monotonic:
// waiting -> active -> finished, never backward.
type RoomStatus string

const (
	RoomWaiting  RoomStatus = "waiting"
	RoomActive   RoomStatus = "active"
	RoomFinished RoomStatus = "finished"
)

// CanTransitionTo reports whether s may move to next.
func (s RoomStatus) CanTransitionTo(next RoomStatus) bool {
	switch s {
	case RoomWaiting:
		return next == RoomActive
	case RoomActive:
		return next == RoomFinished
	default:
		return false
	}
}

// AutomationPrincipal is the reserved caller identity used by the automation
// gateway in place of the host id.
const AutomationPrincipal = "automation"

// Room is a bounded live session identified by a short code. The code and
// host id are immutable once set; currentBetId points at the room's single
// non-resolved bet, or is empty.
type Room struct {
	Code              string     `json:"code"`
	Status            RoomStatus `json:"status"`
	HostID            string     `json:"hostId"`
	AutomationEnabled bool       `json:"automationEnabled"`
	CurrentBetID      string     `json:"currentBetId,omitempty"`
	CreatedAtUnix     int64      `json:"createdAt"`
}

// Roster is the membership list of a room, maintained on join. It exists so
// subscribers can follow the participant set without a collection query
// against the document store.
type Roster struct {
	RoomCode string        `json:"roomCode"`
	Members  []RosterEntry `json:"members"`
}

// RosterEntry records one member of a room.
type RosterEntry struct {
	UserID   string `json:"userId"`
	Nickname string `json:"nickname"`
}

// HasUser reports whether userID is already on the roster.
func (r *Roster) HasUser(userID string) bool {
	for _, m := range r.Members {
		if m.UserID == userID {
			return true
		}
	}
	return false
}

// HasNickname reports whether nickname is already on the roster.
func (r *Roster) HasNickname(nickname string) bool {
	for _, m := range r.Members {
		if m.Nickname == nickname {
			return true
		}
	}
	return false
}
