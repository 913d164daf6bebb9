// Package knowledge forwards visitor messages to an external knowledge
// indexer. Delivery is at most once.
package knowledge

import (
	"context"

	"livechat-backend/internal/model"
)

type Adapter interface {
	OnMessage(ctx context.Context, room model.RoomItem, message model.MessageItem) error
}

// Envelope is the record published for every notified message.
type Envelope struct {
	RoomID      string            `json:"roomId"`
	VisitorID   string            `json:"visitorId"`
	MessageID   string            `json:"messageId"`
	SenderType  string            `json:"senderType"`
	Body        string            `json:"body"`
	CreatedAt   string            `json:"createdAt"`
	RBInfo      map[string]string `json:"rbInfo,omitempty"`
	PublishedAt int64             `json:"publishedAt"`
}

func NewEnvelope(room model.RoomItem, message model.MessageItem, publishedAt int64) Envelope {
	return Envelope{
		RoomID:      message.RoomID,
		VisitorID:   room.VisitorID,
		MessageID:   message.MessageID,
		SenderType:  message.SenderType,
		Body:        message.Body,
		CreatedAt:   message.CreatedAt,
		RBInfo:      room.RBInfo,
		PublishedAt: publishedAt,
	}
}
