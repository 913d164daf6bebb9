package room

import (
	"context"
	"errors"

	"livechat-backend/internal/model"
	"livechat-backend/internal/queue"
	"livechat-backend/internal/store"
)

// notifyKnowledge hands the target room's last visitor message to the
// knowledge adapter on the worker pool. The lookup runs in the job too, so
// the merge never waits on it and never hears about its failure.
func (s *Service) notifyKnowledge(target model.RoomItem) {
	if s.knowledge == nil {
		return
	}
	if s.dispatcher == nil {
		s.log.Warn().Str("room_id", target.RoomID).Msg("no dispatcher, knowledge notification skipped")
		knowledgeNotifications.WithLabelValues("dropped").Inc()
		return
	}

	repo := s.repo
	adapter := s.knowledge
	timeout := s.knowledgeTimeout
	log := s.log.With().Str("room_id", target.RoomID).Logger()

	job := queue.Job{Fn: func() error {
		jobCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		msg, err := repo.FindLastVisitorMessage(jobCtx, target.RoomID)
		if err != nil {
			if !errors.Is(err, store.ErrNotFound) {
				log.Warn().Err(err).Msg("failed to load last visitor message")
				knowledgeNotifications.WithLabelValues("failed").Inc()
			}
			return nil
		}

		if err := adapter.OnMessage(jobCtx, target, msg); err != nil {
			log.Warn().Err(err).Str("message_id", msg.MessageID).Msg("knowledge notification failed")
			knowledgeNotifications.WithLabelValues("failed").Inc()
			return nil
		}
		knowledgeNotifications.WithLabelValues("sent").Inc()
		return nil
	}}

	if !s.dispatcher.TryEnqueue(job) {
		log.Warn().Msg("worker queue full, knowledge notification dropped")
		knowledgeNotifications.WithLabelValues("dropped").Inc()
	}
}

func (s *Service) publishMerged(ctx context.Context, journal model.MergeJournalItem) {
	if s.events == nil {
		return
	}
	ts := s.now().UnixMilli()
	events := []model.RoomEvent{
		{
			Type:          model.RoomEventMerged,
			RoomID:        journal.TargetRoomID,
			CloseRoomID:   journal.CloseRoomID,
			TargetRoomID:  journal.TargetRoomID,
			MovedMessages: journal.MovedCount,
			Timestamp:     ts,
		},
		{
			Type:         model.RoomEventRetired,
			RoomID:       journal.CloseRoomID,
			CloseRoomID:  journal.CloseRoomID,
			TargetRoomID: journal.TargetRoomID,
			Timestamp:    ts,
		},
	}
	for _, event := range events {
		if err := s.events.Publish(ctx, event.RoomID, event); err != nil {
			s.log.Warn().Err(err).Str("room_id", event.RoomID).Str("event", event.Type).Msg("failed to publish room event")
		}
	}
}
