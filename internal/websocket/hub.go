package websocket

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// subscribeFunc feeds a room from an external source until ctx ends.
type subscribeFunc func(ctx context.Context, roomID string)

// Hub owns the rooms. Only the Run goroutine mutates them; mu guards the
// read-only accessors used by other goroutines.
type Hub struct {
	mu         sync.RWMutex
	rooms      map[string]*Room
	subscribe  subscribeFunc
	Register   chan *WSClient
	Unregister chan *WSClient
	Broadcast  chan *WSMessage
	stopped    chan struct{}
	log        zerolog.Logger
}

func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		rooms:      make(map[string]*Room),
		Register:   make(chan *WSClient),
		Unregister: make(chan *WSClient),
		Broadcast:  make(chan *WSMessage, 64),
		stopped:    make(chan struct{}),
		log:        log.With().Str("component", "ws_hub").Logger(),
	}
}

func (h *Hub) RoomCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms)
}

func (h *Hub) ClientCount(roomID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	room, ok := h.rooms[roomID]
	if !ok {
		return 0
	}
	return len(room.Clients)
}

// Run processes registrations and broadcasts until ctx is cancelled, then
// disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.stopped)
			h.closeAll()
			return

		case client := <-h.Register:
			h.register(ctx, client)

		case client := <-h.Unregister:
			h.unregister(client)

		case message := <-h.Broadcast:
			h.broadcast(message)
		}
	}
}

// Done is closed once Run has returned.
func (h *Hub) Done() <-chan struct{} {
	return h.stopped
}

func (h *Hub) register(ctx context.Context, client *WSClient) {
	h.mu.Lock()
	defer h.mu.Unlock()

	room, ok := h.rooms[client.RoomID]
	if !ok {
		roomCtx, cancel := context.WithCancel(ctx)
		room = &Room{
			ID:      client.RoomID,
			Clients: make(map[string]*WSClient),
			cancel:  cancel,
		}
		h.rooms[client.RoomID] = room
		setRooms(len(h.rooms))
		if h.subscribe != nil {
			go h.subscribe(roomCtx, room.ID)
		}
	}
	room.Clients[client.ID] = client
	incConnections()
	h.log.Debug().Str("room_id", room.ID).Str("client_id", client.ID).Str("user_id", client.UserID).Msg("client joined")
}

func (h *Hub) unregister(client *WSClient) {
	h.mu.Lock()
	defer h.mu.Unlock()

	room, ok := h.rooms[client.RoomID]
	if !ok {
		return
	}
	if _, ok := room.Clients[client.ID]; ok {
		h.dropLocked(room, client)
	}
}

func (h *Hub) broadcast(message *WSMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()

	room, ok := h.rooms[message.RoomID]
	if !ok {
		return
	}
	delivered := 0
	for _, client := range room.Clients {
		select {
		case client.Message <- message:
			delivered++
		default:
			h.log.Warn().Str("room_id", room.ID).Str("client_id", client.ID).Msg("client too slow, dropping")
			h.dropLocked(room, client)
		}
	}
	if delivered > 0 {
		addDelivered(delivered)
	}
}

// dropLocked removes client and retires the room once it is empty.
func (h *Hub) dropLocked(room *Room, client *WSClient) {
	delete(room.Clients, client.ID)
	close(client.Message)
	decConnections()

	if len(room.Clients) == 0 {
		room.cancel()
		delete(h.rooms, room.ID)
		setRooms(len(h.rooms))
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, room := range h.rooms {
		for _, client := range room.Clients {
			delete(room.Clients, client.ID)
			close(client.Message)
			decConnections()
		}
		room.cancel()
		delete(h.rooms, room.ID)
	}
	setRooms(0)
}
