// internal/handlers/ws_test.go
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smallbets/smallbets/internal/models"
	"github.com/smallbets/smallbets/internal/notify"
)

func wsURL(httpURL, path string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http") + path
}

// readUpdate pulls one update of the wanted kind off the socket.
func readUpdate(t *testing.T, ctx context.Context, c *websocket.Conn, kind notify.UpdateKind) notify.Update {
	t.Helper()
	for {
		_, data, err := c.Read(ctx)
		require.NoError(t, err)
		var u notify.Update
		require.NoError(t, json.Unmarshal(data, &u))
		if u.Kind == kind {
			return u
		}
	}
}

func TestRoomWSStreamsUpdates(t *testing.T) {
	ts := newTestServer(t, nil)
	code, hostToken := createRoom(t, ts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, _, err := websocket.Dial(ctx, wsURL(ts.URL, "/rooms/"+code+"/ws"), &websocket.DialOptions{
		Subprotocols: []string{"smallbets"},
	})
	require.NoError(t, err)
	defer c.Close(websocket.StatusNormalClosure, "")

	// The snapshot arrives before any mutation.
	u := readUpdate(t, ctx, c, notify.KindRoom)
	var snap models.Room
	require.NoError(t, json.Unmarshal(u.Doc, &snap))
	assert.Equal(t, code, snap.Code)
	assert.Equal(t, models.RoomWaiting, snap.Status)

	// A lifecycle change pushes a fresh room document.
	status, _ := post(t, ts, "/rooms/"+code+"/start", hostToken, map[string]string{})
	require.Equal(t, http.StatusOK, status)

	for {
		u = readUpdate(t, ctx, c, notify.KindRoom)
		require.NoError(t, json.Unmarshal(u.Doc, &snap))
		if snap.Status == models.RoomActive {
			return
		}
	}
}

func TestRoomWSUnknownRoom(t *testing.T) {
	ts := newTestServer(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, res, err := websocket.Dial(ctx, wsURL(ts.URL, "/rooms/ZZZZ/ws"), &websocket.DialOptions{
		Subprotocols: []string{"smallbets"},
	})
	require.Error(t, err)
	if res != nil {
		assert.Equal(t, http.StatusNotFound, res.StatusCode)
	}
}
