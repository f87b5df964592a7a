// internal/bet/payout.go
package bet

import (
	"sort"

	"github.com/smallbets/smallbets/internal/models"
)

// PayoutFunc computes the settlement credit per winning userId for a resolved
// bet. It must be pure: the same (wagers, winner) always yields the same
// credits. Losing wagers receive no entry; their stakes were already debited
// at reservation time.
type PayoutFunc func(b *models.Bet, winnerIndex int) map[string]int64

// ProportionalPayout is the default strategy: every winning wager gets its
// stake back plus a share of the total losing pool proportional to its stake.
// Integer remainders from the division are handed out one point at a time in
// userId order, so the full losing pool is always redistributed and no points
// are created or destroyed.
func ProportionalPayout(b *models.Bet, winnerIndex int) map[string]int64 {
	var winners []string
	var winningTotal, losingTotal int64
	for userID, w := range b.Wagers {
		if w.OptionIndex == winnerIndex {
			winners = append(winners, userID)
			winningTotal += w.Amount
		} else {
			losingTotal += w.Amount
		}
	}
	if len(winners) == 0 {
		return nil
	}
	sort.Strings(winners)

	credits := make(map[string]int64, len(winners))
	var distributed int64
	for _, userID := range winners {
		stake := b.Wagers[userID].Amount
		share := losingTotal * stake / winningTotal
		credits[userID] = stake + share
		distributed += share
	}
	remainder := losingTotal - distributed
	for i := int64(0); i < remainder; i++ {
		credits[winners[i%int64(len(winners))]]++
	}
	return credits
}
