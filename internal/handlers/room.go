// internal/handlers/room.go
package handlers

import (
	"net/http"

	"github.com/smallbets/smallbets/internal/auth"
)

type createRoomRequest struct {
	Nickname string `json:"nickname"`
}

type joinRoomRequest struct {
	Nickname string `json:"nickname"`
}

type toggleAutomationRequest struct {
	Enabled bool `json:"enabled"`
}

// CreateRoomHandler creates a room and registers the caller as its host.
// The response carries a room-scoped capability token so the client can
// resume without re-joining.
func (s *Server) CreateRoomHandler(w http.ResponseWriter, r *http.Request) {
	var req createRoomRequest
	if err := decodeBody(r, &req); err != nil {
		record("createRoom", err)
		writeError(w, err)
		return
	}

	room, host, err := s.Rooms.CreateRoom(r.Context(), req.Nickname)
	record("createRoom", err)
	if err != nil {
		writeError(w, err)
		return
	}

	token, err := auth.CreateToken(auth.Session{UserID: host.UserID, RoomCode: room.Code, IsHost: true})
	if err != nil {
		s.Logger.Errorf("failed to sign capability token: %v", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"room":  room,
		"user":  host,
		"token": token,
	})
}

// JoinRoomHandler adds a participant to an existing room.
func (s *Server) JoinRoomHandler(w http.ResponseWriter, r *http.Request) {
	code := r.PathValue("code")
	var req joinRoomRequest
	if err := decodeBody(r, &req); err != nil {
		record("joinRoom", err)
		writeError(w, err)
		return
	}

	p, err := s.Rooms.JoinRoom(r.Context(), code, req.Nickname)
	record("joinRoom", err)
	if err != nil {
		writeError(w, err)
		return
	}

	token, err := auth.CreateToken(auth.Session{UserID: p.UserID, RoomCode: code})
	if err != nil {
		s.Logger.Errorf("failed to sign capability token: %v", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"user":  p,
		"token": token,
	})
}

// StartRoomHandler transitions a room from waiting to active.
func (s *Server) StartRoomHandler(w http.ResponseWriter, r *http.Request) {
	code := r.PathValue("code")
	room, err := s.Rooms.StartRoom(r.Context(), code, callerID(r, code))
	record("startRoom", err)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"room": room})
}

// FinishRoomHandler transitions a room from active to finished.
func (s *Server) FinishRoomHandler(w http.ResponseWriter, r *http.Request) {
	code := r.PathValue("code")
	room, err := s.Rooms.FinishRoom(r.Context(), code, callerID(r, code))
	record("finishRoom", err)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"room": room})
}

// ToggleAutomationHandler sets the room's automation flag.
func (s *Server) ToggleAutomationHandler(w http.ResponseWriter, r *http.Request) {
	code := r.PathValue("code")
	var req toggleAutomationRequest
	if err := decodeBody(r, &req); err != nil {
		record("setAutomation", err)
		writeError(w, err)
		return
	}

	room, err := s.Rooms.SetAutomation(r.Context(), code, callerID(r, code), req.Enabled)
	record("setAutomation", err)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"room": room})
}
