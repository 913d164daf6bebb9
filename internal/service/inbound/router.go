// Package inbound turns webhook payloads from external messaging services
// into livechat messages.
package inbound

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"livechat-backend/internal/lock"
	"livechat-backend/internal/model"
	"livechat-backend/internal/store"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

const inquiryStatusQueued = "queued"

var ErrInvalidMessage = errors.New("inbound: sender and body are required")

var inboundMessages = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "livechat_inbound_messages_total",
		Help: "Inbound webhook messages by service and result.",
	},
	[]string{"service", "result"},
)

func init() {
	prometheus.MustRegister(inboundMessages)
}

type routerStore interface {
	store.RoomStore
	store.MessageStore
	store.VisitorStore
	store.AuxiliaryStore
	store.JournalStore
}

type EventPublisher interface {
	Publish(ctx context.Context, roomID string, event model.RoomEvent) error
}

type InboundMessage struct {
	ServiceName string
	RoomType    string
	From        string
	Body        string
}

type RouteResult struct {
	Visitor    model.VisitorItem
	Room       model.RoomItem
	Message    model.MessageItem
	NewVisitor bool
	NewRoom    bool
}

// Router resolves the sender to a visitor and the visitor to its single open
// room. It takes the same visitor lock as room merges so it never opens a
// second room for a visitor that is being merged.
type Router struct {
	repo   routerStore
	locker lock.Locker
	events EventPublisher
	log    zerolog.Logger
	now    func() time.Time
	newID  func() string
}

func NewRouter(repo routerStore, locker lock.Locker, events EventPublisher, log zerolog.Logger) *Router {
	return &Router{
		repo:   repo,
		locker: locker,
		events: events,
		log:    log.With().Str("component", "inbound-router").Logger(),
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

func (r *Router) Route(ctx context.Context, msg InboundMessage) (result RouteResult, err error) {
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		inboundMessages.WithLabelValues(msg.ServiceName, outcome).Inc()
	}()

	msg.From = strings.TrimSpace(msg.From)
	if msg.From == "" || strings.TrimSpace(msg.Body) == "" {
		return RouteResult{}, ErrInvalidMessage
	}

	unlockName, err := r.locker.Lock(ctx, lock.VisitorNameKey(msg.From))
	if err != nil {
		return RouteResult{}, err
	}
	defer unlockName()

	now := r.now().UTC().Format(time.RFC3339Nano)

	visitor, newVisitor, err := r.resolveVisitor(ctx, msg.From, now)
	if err != nil {
		return RouteResult{}, err
	}
	result.Visitor = visitor
	result.NewVisitor = newVisitor

	unlockVisitor, err := r.locker.Lock(ctx, lock.VisitorKey(visitor.VisitorID))
	if err != nil {
		return RouteResult{}, err
	}
	defer unlockVisitor()

	room, newRoom, err := r.resolveOpenRoom(ctx, visitor, msg, now)
	if err != nil {
		return RouteResult{}, err
	}

	message := model.MessageItem{
		MessageID:   r.newID(),
		RoomID:      room.RoomID,
		SenderType:  model.SenderTypeVisitor,
		SenderID:    visitor.VisitorID,
		SenderToken: visitor.Token,
		Body:        msg.Body,
		CreatedAt:   now,
	}
	if err := r.repo.CreateMessage(ctx, message); err != nil {
		return RouteResult{}, fmt.Errorf("store message: %w", err)
	}
	if err := r.repo.CreateExternalMessage(ctx, model.ExternalMessageItem{
		RoomID:      room.RoomID,
		MessageID:   message.MessageID,
		ServiceName: msg.ServiceName,
		From:        msg.From,
		ReceivedAt:  now,
	}); err != nil {
		return RouteResult{}, fmt.Errorf("store external message: %w", err)
	}
	if err := r.repo.IncrementRoomCounters(ctx, room.RoomID, 1, now); err != nil {
		return RouteResult{}, fmt.Errorf("bump room counters: %w", err)
	}
	room.MsgCount++
	room.LastMessageAt = now

	if !newVisitor {
		visitor.LastSeenAt = now
		if err := r.repo.PutVisitor(ctx, visitor); err != nil {
			r.log.Warn().Err(err).Str("visitor_id", visitor.VisitorID).Msg("failed to touch visitor")
		}
		result.Visitor = visitor
	}

	r.publish(ctx, room.RoomID, message.MessageID)

	r.log.Info().
		Str("service", msg.ServiceName).
		Str("room_id", room.RoomID).
		Str("visitor_id", visitor.VisitorID).
		Bool("new_room", newRoom).
		Msg("inbound message routed")

	result.Room = room
	result.Message = message
	result.NewRoom = newRoom
	return result, nil
}

func (r *Router) resolveVisitor(ctx context.Context, username, now string) (model.VisitorItem, bool, error) {
	visitor, err := r.repo.GetVisitorByUsername(ctx, username)
	if err == nil {
		return visitor, false, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return model.VisitorItem{}, false, fmt.Errorf("find visitor: %w", err)
	}

	visitor = model.VisitorItem{
		VisitorID:  r.newID(),
		Token:      r.newID(),
		Username:   username,
		CreatedAt:  now,
		LastSeenAt: now,
	}
	if err := r.repo.PutVisitor(ctx, visitor); err != nil {
		return model.VisitorItem{}, false, fmt.Errorf("register visitor: %w", err)
	}
	return visitor, true, nil
}

func (r *Router) resolveOpenRoom(ctx context.Context, visitor model.VisitorItem, msg InboundMessage, now string) (model.RoomItem, bool, error) {
	rooms, err := r.repo.ListRoomsByVisitor(ctx, visitor.VisitorID)
	if err != nil {
		return model.RoomItem{}, false, fmt.Errorf("list visitor rooms: %w", err)
	}

	room, found, err := r.pickOpenRoom(ctx, rooms)
	if err != nil {
		return model.RoomItem{}, false, err
	}
	if found {
		return room, false, nil
	}

	room = model.RoomItem{
		RoomID:          r.newID(),
		VisitorID:       visitor.VisitorID,
		VisitorToken:    visitor.Token,
		VisitorUsername: visitor.Username,
		Open:            true,
		Ts:              now,
		RBInfo: map[string]string{
			"source":          msg.RoomType,
			"visitorSendInfo": msg.From,
			"serviceName":     msg.ServiceName,
		},
		CreatedAt: now,
	}
	if err := r.repo.CreateRoom(ctx, room); err != nil {
		return model.RoomItem{}, false, fmt.Errorf("create room: %w", err)
	}
	if err := r.repo.CreateInquiry(ctx, model.InquiryItem{
		InquiryID:    r.newID(),
		RoomID:       room.RoomID,
		VisitorToken: visitor.Token,
		Message:      msg.Body,
		Status:       inquiryStatusQueued,
		CreatedAt:    now,
	}); err != nil {
		return model.RoomItem{}, false, fmt.Errorf("create inquiry: %w", err)
	}
	return room, true, nil
}

// pickOpenRoom returns the visitor's open room. A room that an unfinished
// merge is retiring never takes new messages; they go to the merge target,
// which the merge reopens when it completes.
func (r *Router) pickOpenRoom(ctx context.Context, rooms []model.RoomItem) (model.RoomItem, bool, error) {
	if len(rooms) == 0 {
		return model.RoomItem{}, false, nil
	}
	ids := make([]string, 0, len(rooms))
	for _, room := range rooms {
		ids = append(ids, room.RoomID)
	}
	journals, err := r.repo.ListMergeJournalsByRoom(ctx, ids...)
	if err != nil {
		return model.RoomItem{}, false, fmt.Errorf("list pending merges: %w", err)
	}
	retiring := make(map[string]bool, len(journals))
	for _, journal := range journals {
		retiring[journal.CloseRoomID] = true
	}

	for _, room := range rooms {
		if room.Open && !retiring[room.RoomID] {
			return room, true, nil
		}
	}

	for _, journal := range journals {
		if retiring[journal.TargetRoomID] {
			continue
		}
		target, err := r.repo.GetRoom(ctx, journal.TargetRoomID)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return model.RoomItem{}, false, fmt.Errorf("load merge target: %w", err)
		}
		r.log.Info().
			Str("close_room_id", journal.CloseRoomID).
			Str("room_id", target.RoomID).
			Msg("room is being merged, routing to merge target")
		return target, true, nil
	}
	return model.RoomItem{}, false, nil
}

func (r *Router) publish(ctx context.Context, roomID, messageID string) {
	if r.events == nil {
		return
	}
	event := model.RoomEvent{
		Type:      model.RoomEventMessage,
		RoomID:    roomID,
		MessageID: messageID,
		Timestamp: r.now().UnixMilli(),
	}
	if err := r.events.Publish(ctx, roomID, event); err != nil {
		r.log.Warn().Err(err).Str("room_id", roomID).Msg("failed to publish room event")
	}
}
