// internal/handlers/bet.go
package handlers

import (
	"net/http"
	"strings"

	"github.com/smallbets/smallbets/internal/auth"
	"github.com/smallbets/smallbets/internal/errs"
)

type openBetRequest struct {
	Question string   `json:"question"`
	Options  []string `json:"options"`
}

type placeWagerRequest struct {
	OptionIndex int   `json:"optionIndex"`
	Amount      int64 `json:"amount"`
}

type resolveBetRequest struct {
	Winner string `json:"winner"`
}

// OpenBetHandler opens a new bet in the room.
func (s *Server) OpenBetHandler(w http.ResponseWriter, r *http.Request) {
	code := r.PathValue("code")
	var req openBetRequest
	if err := decodeBody(r, &req); err != nil {
		record("openBet", err)
		writeError(w, err)
		return
	}

	b, err := s.Bets.OpenBet(r.Context(), code, callerID(r, code), req.Question, req.Options)
	record("openBet", err)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"bet": b})
}

// PlaceWagerHandler records a participant's wager on an open bet. The wagering
// user comes from the capability token or the X-User-Id header; wagers are
// keyed by bet id, not room code.
func (s *Server) PlaceWagerHandler(w http.ResponseWriter, r *http.Request) {
	betID := r.PathValue("id")
	var req placeWagerRequest
	if err := decodeBody(r, &req); err != nil {
		record("placeWager", err)
		writeError(w, err)
		return
	}

	userID := wagerCallerID(r)
	if userID == "" {
		err := errs.E(errs.InvalidArgument, "missing user identity")
		record("placeWager", err)
		writeError(w, err)
		return
	}

	b, err := s.Bets.PlaceWager(r.Context(), betID, userID, req.OptionIndex, req.Amount)
	record("placeWager", err)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"bet": b})
}

// LockBetHandler locks the room's current bet against further wagers.
func (s *Server) LockBetHandler(w http.ResponseWriter, r *http.Request) {
	code := r.PathValue("code")
	b, err := s.Bets.LockBet(r.Context(), code, callerID(r, code))
	record("lockBet", err)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"bet": b})
}

// ResolveBetHandler resolves the room's current bet and settles all wagers.
func (s *Server) ResolveBetHandler(w http.ResponseWriter, r *http.Request) {
	code := r.PathValue("code")
	var req resolveBetRequest
	if err := decodeBody(r, &req); err != nil {
		record("resolveBet", err)
		writeError(w, err)
		return
	}

	b, err := s.Bets.ResolveBet(r.Context(), code, callerID(r, code), req.Winner)
	record("resolveBet", err)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"bet": b})
}

// wagerCallerID resolves identity for bet-scoped requests, where no room
// code is in the path to check the token scope against.
func wagerCallerID(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		if s, err := auth.VerifyToken(strings.TrimPrefix(h, "Bearer ")); err == nil {
			return s.UserID
		}
	}
	return r.Header.Get("X-User-Id")
}
