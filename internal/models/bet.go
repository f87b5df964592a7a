// internal/models/bet.go
package models

// BetStatus is the lifecycle state of a bet. Transitions are monotonic:
// open -> locked -> resolved, with open -> resolved allowed directly.
type BetStatus string

const (
	BetOpen     BetStatus = "open"
	BetLocked   BetStatus = "locked"
	BetResolved BetStatus = "resolved"
)

// CanTransitionTo reports whether s may move to next.
func (s BetStatus) CanTransitionTo(next BetStatus) bool {
	switch s {
	case BetOpen:
		return next == BetLocked || next == BetResolved
	case BetLocked:
		return next == BetResolved
	default:
		return false
	}
}

// Wager is one participant's stake on one option of an open bet.
type Wager struct {
	OptionIndex int   `json:"optionIndex"`
	Amount      int64 `json:"amount"`
}

// Bet is a single wager question with mutually exclusive options. Wagers are
// write-once per user while the bet is open and frozen thereafter; the winner
// is set exactly once, on resolution, and is always one of the options.
type Bet struct {
	ID       string           `json:"id"`
	RoomCode string           `json:"roomCode"`
	Question string           `json:"question"`
	Options  []string         `json:"options"`
	Status   BetStatus        `json:"status"`
	Winner   string           `json:"winner,omitempty"`
	Wagers   map[string]Wager `json:"wagers"`
}

// WinnerIndex returns the option index of w within the bet's options, or -1.
func (b *Bet) WinnerIndex(w string) int {
	for i, opt := range b.Options {
		if opt == w {
			return i
		}
	}
	return -1
}

// TotalStaked sums every reserved stake on the bet.
func (b *Bet) TotalStaked() int64 {
	var sum int64
	for _, w := range b.Wagers {
		sum += w.Amount
	}
	return sum
}
