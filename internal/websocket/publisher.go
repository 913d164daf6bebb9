package websocket

import (
	"context"
	"encoding/json"
	"fmt"

	"livechat-backend/internal/model"

	"github.com/go-redis/redis/v8"
)

const channelPrefix = "livechat:room:"

func ChannelName(roomID string) string {
	return channelPrefix + roomID
}

// Publisher fans room events out to every ws-server through redis pub/sub.
type Publisher struct {
	rdb redis.UniversalClient
}

func NewPublisher(rdb redis.UniversalClient) *Publisher {
	return &Publisher{rdb: rdb}
}

func (p *Publisher) Publish(ctx context.Context, roomID string, event model.RoomEvent) error {
	if roomID == "" {
		return fmt.Errorf("websocket publish: roomID required")
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("websocket publish: marshal event: %w", err)
	}

	if err := p.rdb.Publish(ctx, ChannelName(roomID), string(payload)).Err(); err != nil {
		wsEventsPublished.WithLabelValues(event.Type, "error").Inc()
		return fmt.Errorf("websocket publish: redis publish: %w", err)
	}
	wsEventsPublished.WithLabelValues(event.Type, "ok").Inc()
	return nil
}
