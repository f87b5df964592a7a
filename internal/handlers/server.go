// internal/handlers/server.go

// Package handlers exposes the command surface over HTTP and a per-room
// subscription websocket. Handlers resolve caller identity, decode request
// bodies, call the lifecycle managers, and map error kinds onto HTTP
// statuses; no lifecycle rule lives here.
package handlers

import (
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/smallbets/smallbets/internal/automation"
	"github.com/smallbets/smallbets/internal/bet"
	"github.com/smallbets/smallbets/internal/ledger"
	"github.com/smallbets/smallbets/internal/notify"
	"github.com/smallbets/smallbets/internal/room"
)

// Server bundles the managers behind the command surface.
type Server struct {
	Rooms      *room.Manager
	Bets       *bet.Manager
	Ledger     *ledger.Ledger
	Gateway    *automation.Gateway
	Recognizer automation.Recognizer
	Fanout     *notify.Fanout
	Logger     *logrus.Logger
}

// NewServer wires a Server.
func NewServer(rooms *room.Manager, bets *bet.Manager, lgr *ledger.Ledger, gw *automation.Gateway, rec automation.Recognizer, fanout *notify.Fanout, logger *logrus.Logger) *Server {
	return &Server{
		Rooms:      rooms,
		Bets:       bets,
		Ledger:     lgr,
		Gateway:    gw,
		Recognizer: rec,
		Fanout:     fanout,
		Logger:     logger,
	}
}

// Routes registers the command surface on a fresh mux.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /rooms", s.CreateRoomHandler)
	mux.HandleFunc("POST /rooms/{code}/join", s.JoinRoomHandler)
	mux.HandleFunc("POST /rooms/{code}/start", s.StartRoomHandler)
	mux.HandleFunc("POST /rooms/{code}/finish", s.FinishRoomHandler)
	mux.HandleFunc("POST /rooms/{code}/automation/toggle", s.ToggleAutomationHandler)

	mux.HandleFunc("POST /rooms/{code}/bets", s.OpenBetHandler)
	mux.HandleFunc("POST /rooms/{code}/bets/lock", s.LockBetHandler)
	mux.HandleFunc("POST /rooms/{code}/bets/resolve", s.ResolveBetHandler)
	mux.HandleFunc("POST /bets/{id}/wagers", s.PlaceWagerHandler)

	mux.HandleFunc("POST /rooms/{code}/transcript", s.TranscriptHandler)
	mux.HandleFunc("GET /rooms/{code}/ws", s.RoomWSHandler)

	mux.HandleFunc("/", s.PingHandler)
	return mux
}

// PingHandler answers liveness probes on the public port.
func (s *Server) PingHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	_, _ = w.Write([]byte("ok"))
}
