package room

import (
	"context"
	"errors"
	"fmt"
	"time"

	"livechat-backend/internal/lock"
	"livechat-backend/internal/model"
	"livechat-backend/internal/store"
)

// mergeStep is one idempotent mutation of a merge. The journal's Step field
// counts completed steps, so a replay starts at mergeSteps[journal.Step].
type mergeStep struct {
	name string
	run  func(ctx context.Context, s *Service, j model.MergeJournalItem) error
}

var mergeSteps = []mergeStep{
	{"reassign_messages", func(ctx context.Context, s *Service, j model.MergeJournalItem) error {
		_, err := s.repo.ReassignMessages(ctx, j.CloseRoomID, j.TargetRoomID)
		return err
	}},
	{"increment_target_counters", func(ctx context.Context, s *Service, j model.MergeJournalItem) error {
		return s.repo.IncrementRoomCounters(ctx, j.TargetRoomID, j.MovedCount, s.timestamp())
	}},
	{"remove_close_subscriptions", func(ctx context.Context, s *Service, j model.MergeJournalItem) error {
		return s.repo.RemoveSubscriptionsByRoom(ctx, j.CloseRoomID)
	}},
	// Messages written to the close room while the merge was interrupted
	// still have to follow the others before the room goes away.
	{"sweep_close_messages", func(ctx context.Context, s *Service, j model.MergeJournalItem) error {
		late, err := s.repo.CountVisibleMessages(ctx, j.CloseRoomID)
		if err != nil {
			return err
		}
		moved, err := s.repo.ReassignMessages(ctx, j.CloseRoomID, j.TargetRoomID)
		if err != nil || moved == 0 {
			return err
		}
		s.log.Warn().
			Str("close_room_id", j.CloseRoomID).
			Int("late_messages", moved).
			Msg("moved messages written during an interrupted merge")
		if late == 0 {
			return nil
		}
		return s.repo.IncrementRoomCounters(ctx, j.TargetRoomID, late, s.timestamp())
	}},
	{"delete_close_room", func(ctx context.Context, s *Service, j model.MergeJournalItem) error {
		return s.repo.DeleteRoom(ctx, j.CloseRoomID)
	}},
	{"delete_close_auxiliary", func(ctx context.Context, s *Service, j model.MergeJournalItem) error {
		return s.repo.DeleteAuxiliaryByRoom(ctx, j.CloseRoomID)
	}},
	{"reopen_target", func(ctx context.Context, s *Service, j model.MergeJournalItem) error {
		return s.repo.ReopenRoom(ctx, j.TargetRoomID)
	}},
	{"apply_subscription_settings", func(ctx context.Context, s *Service, j model.MergeJournalItem) error {
		return s.repo.ApplySubscriptionSettings(ctx, j.TargetRoomID, j.Settings, s.timestamp())
	}},
	{"open_requester_subscription", func(ctx context.Context, s *Service, j model.MergeJournalItem) error {
		return s.repo.OpenSubscription(ctx, j.TargetRoomID, j.RequesterID, s.timestamp())
	}},
}

func (s *Service) runSteps(ctx context.Context, op string, journal model.MergeJournalItem) error {
	for i := journal.Step; i < len(mergeSteps); i++ {
		step := mergeSteps[i]
		if err := step.run(ctx, s, journal); err != nil {
			s.markFailed(ctx, journal, i, err)
			return newError(op, ErrorCodePartialFailure, fmt.Sprintf("merge interrupted at step %s", step.name), err)
		}
		journal.Step = i + 1
		if err := s.repo.UpdateMergeJournal(ctx, journal.CloseRoomID, journal.Step, model.MergeStatusPending, "", s.timestamp()); err != nil {
			return newError(op, ErrorCodePartialFailure, fmt.Sprintf("failed to record step %s", step.name), err)
		}
	}
	return nil
}

func (s *Service) markFailed(ctx context.Context, journal model.MergeJournalItem, completed int, cause error) {
	err := s.repo.UpdateMergeJournal(ctx, journal.CloseRoomID, completed, model.MergeStatusFailed, cause.Error(), s.timestamp())
	if err != nil {
		s.log.Error().Err(err).Str("close_room_id", journal.CloseRoomID).Msg("failed to mark merge journal failed")
	}
}

// ResumeMerge replays the steps of a journaled merge that did not finish.
// The recorded count and settings are reused as-is.
func (s *Service) ResumeMerge(ctx context.Context, closeRoomID string) (result MergeResult, err error) {
	defer func() { observeMerge(err) }()

	if closeRoomID == "" {
		return MergeResult{}, newError(opResumeMerge, ErrorCodeValidation, "room id is required", nil)
	}

	journal, err := s.loadJournal(ctx, closeRoomID)
	if err != nil {
		return MergeResult{}, err
	}

	unlock, err := s.locker.Lock(ctx,
		lock.VisitorKey(journal.VisitorID),
		lock.RoomKey(journal.CloseRoomID),
		lock.RoomKey(journal.TargetRoomID),
	)
	if err != nil {
		return MergeResult{}, newError(opResumeMerge, ErrorCodeConflict, "rooms are busy", err)
	}
	defer unlock()

	// Someone else may have finished it while we waited.
	if journal, err = s.loadJournal(ctx, closeRoomID); err != nil {
		return MergeResult{}, err
	}

	s.log.Info().
		Str("close_room_id", journal.CloseRoomID).
		Int("completed_steps", journal.Step).
		Msg("resuming merge")

	return s.complete(ctx, opResumeMerge, journal)
}

func (s *Service) loadJournal(ctx context.Context, closeRoomID string) (model.MergeJournalItem, error) {
	journal, err := s.repo.GetMergeJournal(ctx, closeRoomID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return model.MergeJournalItem{}, newError(opResumeMerge, ErrorCodeNotFound, fmt.Sprintf("no pending merge for room %s", closeRoomID), err)
		}
		return model.MergeJournalItem{}, newError(opResumeMerge, ErrorCodeInternal, "failed to load merge journal", err)
	}
	return journal, nil
}

// ResumePendingMerges resumes every journaled merge not touched for
// olderThan. It returns how many completed.
func (s *Service) ResumePendingMerges(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := s.now().Add(-olderThan).UTC().Format(time.RFC3339)
	journals, err := s.repo.ListMergeJournalsUpdatedBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("list pending merges: %w", err)
	}

	resumed := 0
	for _, journal := range journals {
		if ctx.Err() != nil {
			return resumed, ctx.Err()
		}
		if _, err := s.ResumeMerge(ctx, journal.CloseRoomID); err != nil {
			s.log.Warn().Err(err).Str("close_room_id", journal.CloseRoomID).Msg("resume merge failed")
			continue
		}
		resumed++
	}
	return resumed, nil
}
