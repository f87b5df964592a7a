// internal/handlers/ws.go
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/smallbets/smallbets/internal/errs"
	"github.com/smallbets/smallbets/internal/middleware"
	"github.com/smallbets/smallbets/internal/notify"
)

// Custom close codes for the subscription socket.
const (
	BadSubprotocolError = 3000 // Client connected with an unsupported subprotocol.
	UnknownRoomError    = 3001 // Target room code does not exist.
)

const wsWriteTimeout = 10 * time.Second

// RoomWSHandler upgrades the connection and streams the room's document set:
// the room, its roster, every participant, and the current bet, each as a
// full document value ordered per key by revision. Read-only; commands go
// over the REST surface.
func (s *Server) RoomWSHandler(w http.ResponseWriter, r *http.Request) {
	code := r.PathValue("code")
	remoteAddr := r.RemoteAddr

	// Reject unknown rooms before upgrading.
	if _, _, err := s.Rooms.GetRoom(r.Context(), code); err != nil {
		if errs.Is(err, errs.RoomNotFound) {
			http.Error(w, "room not found", http.StatusNotFound)
			return
		}
		writeError(w, err)
		return
	}

	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:   []string{"smallbets"},
		OriginPatterns: []string{"*"}, // Adjust in production.
	})
	if err != nil {
		s.Logger.Warnf("websocket accept error: %v", err)
		return
	}
	defer c.Close(websocket.StatusInternalError, "handler finished")

	if c.Subprotocol() != "smallbets" {
		c.Close(BadSubprotocolError, "client must speak the smallbets subprotocol")
		return
	}

	middleware.LogWebSocketConnect(s.Logger, remoteAddr, code)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sub, err := s.Fanout.SubscribeRoom(ctx, code)
	if err != nil {
		s.Logger.Warnf("room %s: subscribe failed: %v", code, err)
		c.Close(UnknownRoomError, "subscription failed")
		return
	}
	defer sub.Close()

	// Reads only serve to detect the client going away.
	go func() {
		defer cancel()
		for {
			if _, _, err := c.Read(ctx); err != nil {
				return
			}
		}
	}()

	err = s.writePump(ctx, c, sub.Updates())
	middleware.LogWebSocketDisconnect(s.Logger, remoteAddr, code, err)
	c.Close(websocket.StatusNormalClosure, "")
}

// writePump forwards subscription updates until the stream or connection ends.
func (s *Server) writePump(ctx context.Context, c *websocket.Conn, updates <-chan notify.Update) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case u, ok := <-updates:
			if !ok {
				return nil
			}
			data, err := json.Marshal(u)
			if err != nil {
				return err
			}
			writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
			err = c.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			}
		}
	}
}
