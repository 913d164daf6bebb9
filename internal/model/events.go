package model

const (
	RoomEventMerged  = "room.merged"
	RoomEventRetired = "room.retired"
	RoomEventMessage = "room.message"
)

// RoomEvent is published on a room's realtime channel.
type RoomEvent struct {
	Type          string `json:"type"`
	RoomID        string `json:"roomId"`
	CloseRoomID   string `json:"closeRoomId,omitempty"`
	TargetRoomID  string `json:"targetRoomId,omitempty"`
	MessageID     string `json:"messageId,omitempty"`
	MovedMessages int    `json:"movedMessages,omitempty"`
	Timestamp     int64  `json:"timestamp"`
}
