package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"livechat-backend/internal/model"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startHub(t *testing.T) (*Hub, *Handler, *httptest.Server) {
	t.Helper()

	hub := NewHub(zerolog.Nop())
	handler := NewHandler(hub, nil, nil, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		roomID := strings.TrimPrefix(r.URL.Path, "/rooms/")
		if err := handler.JoinRoom(w, r, roomID, r.URL.Query().Get("user")); err != nil {
			t.Errorf("join room: %v", err)
		}
	}))

	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return hub, handler, srv
}

func dial(t *testing.T, srv *httptest.Server, roomID, user string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/rooms/" + roomID + "?user=" + user
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestHubDeliversBroadcastToRoomClients(t *testing.T) {
	hub, _, srv := startHub(t)

	a := dial(t, srv, "room-1", "agent-1")
	b := dial(t, srv, "room-1", "agent-2")
	other := dial(t, srv, "room-2", "agent-3")

	require.Eventually(t, func() bool {
		return hub.ClientCount("room-1") == 2 && hub.ClientCount("room-2") == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 2, hub.RoomCount())

	event := model.RoomEvent{Type: model.RoomEventMerged, RoomID: "room-1", CloseRoomID: "room-0", TargetRoomID: "room-1"}
	payload, err := json.Marshal(event)
	require.NoError(t, err)
	hub.Broadcast <- &WSMessage{Content: string(payload), RoomID: "room-1", Timestamp: 1}

	for _, conn := range []*websocket.Conn{a, b} {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var msg WSMessage
		require.NoError(t, conn.ReadJSON(&msg))
		assert.Equal(t, "room-1", msg.RoomID)

		var got model.RoomEvent
		require.NoError(t, json.Unmarshal([]byte(msg.Content), &got))
		assert.Equal(t, event, got)
	}

	other.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	_, _, err = other.ReadMessage()
	assert.Error(t, err, "client of another room must not receive the event")
}

func TestHubRetiresRoomWhenLastClientLeaves(t *testing.T) {
	hub, _, srv := startHub(t)

	conn := dial(t, srv, "room-1", "agent-1")
	require.Eventually(t, func() bool { return hub.RoomCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	conn.Close()

	require.Eventually(t, func() bool { return hub.RoomCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestCheckOrigin(t *testing.T) {
	check := checkOrigin([]string{"https://agents.example.com"})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.True(t, check(req), "requests without Origin are not browser requests")

	req.Header.Set("Origin", "https://agents.example.com")
	assert.True(t, check(req))

	req.Header.Set("Origin", "https://evil.example.com")
	assert.False(t, check(req))

	assert.True(t, checkOrigin(nil)(req))
}

func TestChannelName(t *testing.T) {
	assert.Equal(t, "livechat:room:abc", ChannelName("abc"))
}
