// internal/models/keys.go
package models

// Document-store keys. Rooms, bets, participants, and rosters are
// independently versioned documents; no operation spans more than one room.

func RoomKey(code string) string { return "room:" + code }

func BetKey(id string) string { return "bet:" + id }

func ParticipantKey(userID string) string { return "participant:" + userID }

func RosterKey(code string) string { return "roster:" + code }
