package websocket

import "context"

type Room struct {
	ID      string
	Clients map[string]*WSClient
	cancel  context.CancelFunc
}

// WSMessage is what clients receive. Content carries a JSON encoded
// model.RoomEvent.
type WSMessage struct {
	Content   string `json:"content"`
	RoomID    string `json:"roomId"`
	Timestamp int64  `json:"timestamp"`
}
