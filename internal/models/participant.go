// internal/models/participant.go
package models

// Participant is a member of a single room. Points never go below zero;
// only the ledger mutates them.
type Participant struct {
	UserID   string `json:"userId"`
	RoomCode string `json:"roomCode"`
	Nickname string `json:"nickname"`
	Points   int64  `json:"points"`
	IsAdmin  bool   `json:"isAdmin"`

	// Settlements records the credit already applied per resolved bet id,
	// making settlement idempotent: a crash between marking a bet resolved
	// and crediting winners can be resumed without double-crediting.
	Settlements map[string]int64 `json:"settlements,omitempty"`
}

// SettledFor reports whether the participant has already been credited for
// the given bet.
func (p *Participant) SettledFor(betID string) bool {
	_, ok := p.Settlements[betID]
	return ok
}
