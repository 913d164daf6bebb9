package websocket

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

type Handler struct {
	hub      *Hub
	rdb      redis.UniversalClient
	upgrader websocket.Upgrader
	log      zerolog.Logger
}

// NewHandler wires hub rooms to their redis channels. It must be called
// before hub.Run starts. A nil rdb leaves rooms fed only by Hub.Broadcast.
func NewHandler(hub *Hub, rdb redis.UniversalClient, allowedOrigins []string, log zerolog.Logger) *Handler {
	h := &Handler{
		hub: hub,
		rdb: rdb,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin(allowedOrigins),
		},
		log: log.With().Str("component", "ws_handler").Logger(),
	}
	if rdb != nil {
		hub.subscribe = h.subscribeToRoomChannel
	}
	return h
}

func checkOrigin(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || len(allowed) == 0 {
			return true
		}
		for _, o := range allowed {
			if o == "*" || strings.EqualFold(o, origin) {
				return true
			}
		}
		return false
	}
}

func (h *Handler) subscribeToRoomChannel(ctx context.Context, roomID string) {
	channel := ChannelName(roomID)
	subscriber := h.rdb.Subscribe(ctx, channel)
	defer subscriber.Close()

	log := h.log.With().Str("channel", channel).Logger()
	log.Debug().Msg("subscribed")

	ch := subscriber.Channel()
	for {
		select {
		case <-ctx.Done():
			log.Debug().Msg("unsubscribed")
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			select {
			case h.hub.Broadcast <- &WSMessage{
				Content:   msg.Payload,
				RoomID:    roomID,
				Timestamp: time.Now().Unix(),
			}:
			case <-ctx.Done():
				return
			}
		}
	}
}

// JoinRoom upgrades the request and attaches the connection to roomID. It
// returns once the client is registered; the connection is served by its
// own goroutines.
func (h *Handler) JoinRoom(w http.ResponseWriter, r *http.Request, roomID, userID string) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied to the client.
		return nil
	}

	clientID := uuid.NewString()
	cl := &WSClient{
		Conn:    conn,
		Message: make(chan *WSMessage, 16),
		ID:      clientID,
		UserID:  userID,
		RoomID:  roomID,
		done:    make(chan struct{}),
		log: h.log.With().
			Str("room_id", roomID).
			Str("client_id", clientID).
			Str("user_id", userID).
			Logger(),
	}

	select {
	case h.hub.Register <- cl:
	case <-h.hub.Done():
		conn.Close()
		return fmt.Errorf("websocket hub stopped")
	}

	go cl.keepAlive()
	go cl.writeMessage()
	go cl.readMessage(h.hub)
	return nil
}
