// internal/automation/gateway.go

// Package automation validates and applies externally-proposed bet actions
// against current room state. Proposals come from a transcript recognizer;
// the gateway never trusts them: low confidence, a disabled automation flag,
// or any lifecycle precondition failure turns the proposal into a structured
// "ignored" result instead of an error. Nothing in this package can crash
// the pipeline on a bad proposal.
package automation

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/smallbets/smallbets/internal/bet"
	"github.com/smallbets/smallbets/internal/errs"
	"github.com/smallbets/smallbets/internal/metrics"
	"github.com/smallbets/smallbets/internal/models"
	"github.com/smallbets/smallbets/internal/room"
)

// ActionType tags a proposal variant.
type ActionType string

const (
	ActionOpenBet    ActionType = "open_bet"
	ActionResolveBet ActionType = "resolve_bet"
	ActionIgnore     ActionType = "ignore"
)

// Proposal is the typed output of the transcript recognizer. Exactly the
// payload matching Action is set; the others are nil.
type Proposal struct {
	Action     ActionType      `json:"action"`
	Confidence float64         `json:"confidence"`
	OpenBet    *OpenBetPayload `json:"open_bet,omitempty"`
	Resolve    *ResolvePayload `json:"resolve_bet,omitempty"`
}

// OpenBetPayload carries the question and options for an open_bet proposal.
type OpenBetPayload struct {
	Question string   `json:"question"`
	Options  []string `json:"options"`
}

// ResolvePayload carries the winner for a resolve_bet proposal.
type ResolvePayload struct {
	Winner string `json:"winner"`
}

// Result is what the submitting UI renders: the action actually taken
// ("open_bet", "resolve_bet", or "ignored"), the recognizer's confidence,
// and free-form details (reason on failure, winner/question on success).
type Result struct {
	ActionTaken string                 `json:"action_taken"`
	Confidence  float64                `json:"confidence"`
	Details     map[string]interface{} `json:"details,omitempty"`
}

const actionIgnored = "ignored"

// Gateway applies proposals through the lifecycle managers under the
// reserved automation principal.
type Gateway struct {
	rooms  *room.Manager
	bets   *bet.Manager
	logger *logrus.Logger

	// Threshold is the confidence floor; proposals below it are coerced to
	// ignore regardless of their action.
	Threshold float64
}

// NewGateway returns a Gateway with the given confidence floor.
func NewGateway(rooms *room.Manager, bets *bet.Manager, logger *logrus.Logger, threshold float64) *Gateway {
	return &Gateway{
		rooms:     rooms,
		bets:      bets,
		logger:    logger,
		Threshold: threshold,
	}
}

// Apply validates a proposal against the room and executes it. Every outcome,
// including every failure, is a Result; Apply never returns an error.
func (g *Gateway) Apply(ctx context.Context, roomCode string, p Proposal) Result {
	res := g.apply(ctx, roomCode, p)
	metrics.AutomationProposals.WithLabelValues(res.ActionTaken).Inc()
	g.logger.WithFields(logrus.Fields{
		"room":       roomCode,
		"action":     string(p.Action),
		"taken":      res.ActionTaken,
		"confidence": p.Confidence,
	}).Info("automation proposal applied")
	return res
}

func (g *Gateway) apply(ctx context.Context, roomCode string, p Proposal) Result {
	// An explicit ignore from the recognizer and a threshold coercion end
	// the same way but report distinct reasons.
	if p.Action == ActionIgnore {
		return ignored(p.Confidence, map[string]interface{}{
			"reason": "proposal_ignore",
		})
	}
	if p.Confidence < g.Threshold {
		return ignored(p.Confidence, map[string]interface{}{
			"reason": "low_confidence",
		})
	}

	r, _, err := g.rooms.GetRoom(ctx, roomCode)
	if err != nil {
		return ignoredErr(p.Confidence, err)
	}
	if !r.AutomationEnabled {
		return ignoredErr(p.Confidence, errs.E(errs.AutomationDisabled, "automation is disabled in room %s", roomCode))
	}

	switch p.Action {
	case ActionOpenBet:
		if p.OpenBet == nil {
			return ignored(p.Confidence, map[string]interface{}{
				"reason": "missing open_bet payload",
			})
		}
		b, err := g.bets.OpenBet(ctx, roomCode, models.AutomationPrincipal, p.OpenBet.Question, p.OpenBet.Options)
		if err != nil {
			return ignoredErr(p.Confidence, err)
		}
		return Result{
			ActionTaken: string(ActionOpenBet),
			Confidence:  p.Confidence,
			Details: map[string]interface{}{
				"bet_id":   b.ID,
				"question": b.Question,
			},
		}

	case ActionResolveBet:
		if p.Resolve == nil {
			return ignored(p.Confidence, map[string]interface{}{
				"reason": "missing resolve_bet payload",
			})
		}
		b, err := g.bets.ResolveBet(ctx, roomCode, models.AutomationPrincipal, p.Resolve.Winner)
		if err != nil {
			return ignoredErr(p.Confidence, err)
		}
		return Result{
			ActionTaken: string(ActionResolveBet),
			Confidence:  p.Confidence,
			Details: map[string]interface{}{
				"bet_id": b.ID,
				"winner": b.Winner,
			},
		}

	default:
		return ignored(p.Confidence, map[string]interface{}{
			"reason": "unknown action",
		})
	}
}

func ignored(confidence float64, details map[string]interface{}) Result {
	return Result{
		ActionTaken: actionIgnored,
		Confidence:  confidence,
		Details:     details,
	}
}

// ignoredErr maps a lifecycle error onto an ignored result carrying the
// error kind, so the submitting UI can render what happened. StaleWrite in
// particular means the proposal's intent went stale and must not be retried.
func ignoredErr(confidence float64, err error) Result {
	return ignored(confidence, map[string]interface{}{
		"reason": errs.KindOf(err).String(),
		"error":  err.Error(),
	})
}
