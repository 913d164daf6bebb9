// Package room merges livechat rooms of the same visitor and finds the
// previous conversation of a room.
package room

import (
	"context"
	"errors"
	"fmt"
	"time"

	"livechat-backend/internal/authz"
	"livechat-backend/internal/lock"
	"livechat-backend/internal/model"
	"livechat-backend/internal/queue"
	"livechat-backend/internal/service/knowledge"
	"livechat-backend/internal/store"

	"github.com/rs/zerolog"
)

const (
	opFindPreviousRoom = "room.FindPreviousRoom"
	opMergeRooms       = "room.MergeRooms"
	opResumeMerge      = "room.ResumeMerge"
)

// Dispatcher runs background jobs. TryEnqueue must not block.
type Dispatcher interface {
	TryEnqueue(job queue.Job) bool
}

type EventPublisher interface {
	Publish(ctx context.Context, roomID string, event model.RoomEvent) error
}

type Dependencies struct {
	Repo       store.Repository
	Locker     lock.Locker
	Authorizer authz.Authorizer
	Dispatcher Dispatcher
	// Knowledge and Events are optional.
	Knowledge        knowledge.Adapter
	Events           EventPublisher
	Log              zerolog.Logger
	Now              func() time.Time
	KnowledgeTimeout time.Duration
}

type Service struct {
	repo             store.Repository
	locker           lock.Locker
	authorizer       authz.Authorizer
	dispatcher       Dispatcher
	knowledge        knowledge.Adapter
	events           EventPublisher
	log              zerolog.Logger
	now              func() time.Time
	knowledgeTimeout time.Duration
}

type MergeResult struct {
	CloseRoomID   string
	TargetRoom    model.RoomItem
	MovedMessages int
	Settings      model.MergeSettings
	Resumed       bool
}

func New(deps Dependencies) *Service {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	timeout := deps.KnowledgeTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Service{
		repo:             deps.Repo,
		locker:           deps.Locker,
		authorizer:       deps.Authorizer,
		dispatcher:       deps.Dispatcher,
		knowledge:        deps.Knowledge,
		events:           deps.Events,
		log:              deps.Log.With().Str("component", "room-merge").Logger(),
		now:              now,
		knowledgeTimeout: timeout,
	}
}

func (s *Service) timestamp() string {
	return s.now().UTC().Format(time.RFC3339)
}

func (s *Service) requirePermissions(ctx context.Context, op, requesterID string, permissions ...string) error {
	for _, permission := range permissions {
		ok, err := s.authorizer.HasPermission(ctx, requesterID, permission)
		if err != nil {
			return newError(op, ErrorCodeInternal, "failed to check permissions", err)
		}
		if !ok {
			return newError(op, ErrorCodeNotAuthorized, fmt.Sprintf("missing permission %s", permission), nil)
		}
	}
	return nil
}

func (s *Service) loadRoom(ctx context.Context, op, roomID string) (model.RoomItem, error) {
	room, err := s.repo.GetRoom(ctx, roomID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return model.RoomItem{}, newError(op, ErrorCodeNotFound, fmt.Sprintf("room %s not found", roomID), err)
		}
		return model.RoomItem{}, newError(op, ErrorCodeInternal, "failed to load room", err)
	}
	return room, nil
}

// FindPreviousRoom returns the visitor's most recent closed room other than
// currentRoomID.
func (s *Service) FindPreviousRoom(ctx context.Context, requesterID, currentRoomID string) (model.RoomItem, error) {
	if err := s.requirePermissions(ctx, opFindPreviousRoom, requesterID, authz.PermViewLivechatRoom); err != nil {
		return model.RoomItem{}, err
	}
	if currentRoomID == "" {
		return model.RoomItem{}, newError(opFindPreviousRoom, ErrorCodeValidation, "room id is required", nil)
	}

	current, err := s.loadRoom(ctx, opFindPreviousRoom, currentRoomID)
	if err != nil {
		return model.RoomItem{}, err
	}

	rooms, err := s.repo.ListRoomsByVisitor(ctx, current.VisitorID)
	if err != nil {
		return model.RoomItem{}, newError(opFindPreviousRoom, ErrorCodeInternal, "failed to list visitor rooms", err)
	}
	for _, candidate := range rooms {
		if candidate.RoomID == current.RoomID || candidate.Open {
			continue
		}
		return candidate, nil
	}
	return model.RoomItem{}, newError(opFindPreviousRoom, ErrorCodeNotFound, "no previous room", store.ErrNotFound)
}

// MergeRooms retires closeRoomID into targetRoomID. Messages move to the
// target, the target reopens and inherits the requester's subscription state.
func (s *Service) MergeRooms(ctx context.Context, requesterID, closeRoomID, targetRoomID string) (result MergeResult, err error) {
	defer func() { observeMerge(err) }()

	if err := s.requirePermissions(ctx, opMergeRooms, requesterID, authz.PermViewLivechatRoom, authz.PermCloseLivechatRoom); err != nil {
		return MergeResult{}, err
	}
	if closeRoomID == "" || targetRoomID == "" {
		return MergeResult{}, newError(opMergeRooms, ErrorCodeValidation, "both room ids are required", nil)
	}
	if closeRoomID == targetRoomID {
		return MergeResult{}, newError(opMergeRooms, ErrorCodeValidation, "cannot merge a room into itself", nil)
	}

	closeRoom, err := s.loadRoom(ctx, opMergeRooms, closeRoomID)
	if err != nil {
		return MergeResult{}, err
	}
	targetRoom, err := s.loadRoom(ctx, opMergeRooms, targetRoomID)
	if err != nil {
		return MergeResult{}, err
	}

	unlock, err := s.locker.Lock(ctx,
		lock.VisitorKey(closeRoom.VisitorID),
		lock.VisitorKey(targetRoom.VisitorID),
		lock.RoomKey(closeRoomID),
		lock.RoomKey(targetRoomID),
	)
	if err != nil {
		return MergeResult{}, newError(opMergeRooms, ErrorCodeConflict, "rooms are busy", err)
	}
	defer unlock()

	// A merge that held the lock before us may have retired either room.
	if closeRoom, err = s.loadRoom(ctx, opMergeRooms, closeRoomID); err != nil {
		return MergeResult{}, err
	}
	if targetRoom, err = s.loadRoom(ctx, opMergeRooms, targetRoomID); err != nil {
		return MergeResult{}, err
	}

	if err := s.ensureNoPendingMerge(ctx, closeRoomID, targetRoomID); err != nil {
		return MergeResult{}, err
	}
	if err := s.ensureNoOtherOpenRoom(ctx, targetRoom.VisitorID, closeRoomID, targetRoomID); err != nil {
		return MergeResult{}, err
	}

	var requesterSub *model.SubscriptionItem
	sub, err := s.repo.GetSubscription(ctx, closeRoomID, requesterID)
	switch {
	case err == nil:
		requesterSub = &sub
	case errors.Is(err, store.ErrNotFound):
	default:
		return MergeResult{}, newError(opMergeRooms, ErrorCodeInternal, "failed to load requester subscription", err)
	}
	settings := computeMergeSettings(closeRoom, requesterSub)

	count, err := s.repo.CountVisibleMessages(ctx, closeRoomID)
	if err != nil {
		return MergeResult{}, newError(opMergeRooms, ErrorCodeInternal, "failed to count messages", err)
	}

	ts := s.timestamp()
	journal := model.MergeJournalItem{
		CloseRoomID:  closeRoomID,
		TargetRoomID: targetRoomID,
		RequesterID:  requesterID,
		VisitorID:    targetRoom.VisitorID,
		MovedCount:   count,
		Settings:     settings,
		Step:         0,
		Status:       model.MergeStatusPending,
		CreatedAt:    ts,
		UpdatedAt:    ts,
	}
	if err := s.repo.CreateMergeJournal(ctx, journal); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return MergeResult{}, newError(opMergeRooms, ErrorCodeConflict, "a merge of this room is already in progress", err)
		}
		return MergeResult{}, newError(opMergeRooms, ErrorCodeInternal, "failed to record merge", err)
	}

	return s.complete(ctx, opMergeRooms, journal)
}

// ensureNoPendingMerge rejects rooms that an unfinished merge still needs,
// on either side. Resuming that merge must find both rooms as it left them.
func (s *Service) ensureNoPendingMerge(ctx context.Context, roomIDs ...string) error {
	journals, err := s.repo.ListMergeJournalsByRoom(ctx, roomIDs...)
	if err != nil {
		return newError(opMergeRooms, ErrorCodeInternal, "failed to look up pending merges", err)
	}
	if len(journals) > 0 {
		j := journals[0]
		return newError(opMergeRooms, ErrorCodeConflict,
			fmt.Sprintf("merge of room %s into %s has not finished", j.CloseRoomID, j.TargetRoomID), nil)
	}
	return nil
}

func (s *Service) ensureNoOtherOpenRoom(ctx context.Context, visitorID, closeRoomID, targetRoomID string) error {
	rooms, err := s.repo.ListRoomsByVisitor(ctx, visitorID)
	if err != nil {
		return newError(opMergeRooms, ErrorCodeInternal, "failed to list visitor rooms", err)
	}
	for _, r := range rooms {
		if r.Open && r.RoomID != closeRoomID && r.RoomID != targetRoomID {
			return newError(opMergeRooms, ErrorCodeConflict, fmt.Sprintf("visitor already has open room %s", r.RoomID), nil)
		}
	}
	return nil
}

// complete runs the remaining journal steps, then the post-merge side
// effects. Mutations ignore caller cancellation once started.
func (s *Service) complete(ctx context.Context, op string, journal model.MergeJournalItem) (MergeResult, error) {
	mutateCtx := context.WithoutCancel(ctx)
	log := s.log.With().
		Str("close_room_id", journal.CloseRoomID).
		Str("target_room_id", journal.TargetRoomID).
		Logger()

	if err := s.runSteps(mutateCtx, op, journal); err != nil {
		log.Error().Err(err).Msg("merge interrupted")
		return MergeResult{}, err
	}

	if err := s.repo.DeleteMergeJournal(mutateCtx, journal.CloseRoomID); err != nil {
		log.Warn().Err(err).Msg("failed to delete merge journal")
	}

	target, err := s.repo.GetRoom(mutateCtx, journal.TargetRoomID)
	if err != nil {
		return MergeResult{}, newError(op, ErrorCodeInternal, "failed to reload target room", err)
	}

	mergeMessagesMoved.Add(float64(journal.MovedCount))
	log.Info().
		Str("requester_id", journal.RequesterID).
		Int("moved_messages", journal.MovedCount).
		Msg("rooms merged")

	s.notifyKnowledge(target)
	s.publishMerged(mutateCtx, journal)

	return MergeResult{
		CloseRoomID:   journal.CloseRoomID,
		TargetRoom:    target,
		MovedMessages: journal.MovedCount,
		Settings:      journal.Settings,
		Resumed:       op == opResumeMerge,
	}, nil
}
