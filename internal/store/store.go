// Package store is the persistence port shared by the room merge service and
// the inbound router. Rooms, messages and subscriptions are shared mutable
// state; callers serialise mutations per room through internal/lock.
package store

import (
	"context"
	"errors"
	"sort"
	"time"

	"livechat-backend/internal/model"
)

var (
	ErrNotFound = errors.New("store: not found")
	ErrConflict = errors.New("store: conflict")
)

type RoomStore interface {
	GetRoom(ctx context.Context, roomID string) (model.RoomItem, error)
	// ListRoomsByVisitor returns the visitor's rooms, most recent ts first.
	ListRoomsByVisitor(ctx context.Context, visitorID string) ([]model.RoomItem, error)
	CreateRoom(ctx context.Context, room model.RoomItem) error
	IncrementRoomCounters(ctx context.Context, roomID string, count int, lastMessageAt string) error
	// ReopenRoom sets open and clears the closure annotations.
	ReopenRoom(ctx context.Context, roomID string) error
	DeleteRoom(ctx context.Context, roomID string) error
}

type MessageStore interface {
	CreateMessage(ctx context.Context, message model.MessageItem) error
	ListMessages(ctx context.Context, roomID string) ([]model.MessageItem, error)
	CountVisibleMessages(ctx context.Context, roomID string) (int, error)
	// ReassignMessages rewrites the owning room of every message of fromRoomID
	// and reports how many were moved by this call.
	ReassignMessages(ctx context.Context, fromRoomID, toRoomID string) (int, error)
	FindLastVisitorMessage(ctx context.Context, roomID string) (model.MessageItem, error)
}

type SubscriptionStore interface {
	GetSubscription(ctx context.Context, roomID, userID string) (model.SubscriptionItem, error)
	PutSubscription(ctx context.Context, subscription model.SubscriptionItem) error
	ListSubscriptions(ctx context.Context, roomID string) ([]model.SubscriptionItem, error)
	RemoveSubscriptionsByRoom(ctx context.Context, roomID string) error
	ApplySubscriptionSettings(ctx context.Context, roomID string, settings model.MergeSettings, updatedAt string) error
	// OpenSubscription is a no-op when the user has no subscription.
	OpenSubscription(ctx context.Context, roomID, userID, updatedAt string) error
}

type VisitorStore interface {
	GetVisitor(ctx context.Context, visitorID string) (model.VisitorItem, error)
	GetVisitorByUsername(ctx context.Context, username string) (model.VisitorItem, error)
	PutVisitor(ctx context.Context, visitor model.VisitorItem) error
}

type AuxiliaryStore interface {
	CreateInquiry(ctx context.Context, inquiry model.InquiryItem) error
	ListInquiries(ctx context.Context, roomID string) ([]model.InquiryItem, error)
	CreateExternalMessage(ctx context.Context, message model.ExternalMessageItem) error
	ListExternalMessages(ctx context.Context, roomID string) ([]model.ExternalMessageItem, error)
	DeleteAuxiliaryByRoom(ctx context.Context, roomID string) error
}

type JournalStore interface {
	// CreateMergeJournal fails with ErrConflict when a journal for the same
	// close room already exists.
	CreateMergeJournal(ctx context.Context, journal model.MergeJournalItem) error
	GetMergeJournal(ctx context.Context, closeRoomID string) (model.MergeJournalItem, error)
	UpdateMergeJournal(ctx context.Context, closeRoomID string, step int, status model.MergeStatus, lastError, updatedAt string) error
	DeleteMergeJournal(ctx context.Context, closeRoomID string) error
	ListMergeJournalsUpdatedBefore(ctx context.Context, cutoff string) ([]model.MergeJournalItem, error)
	// ListMergeJournalsByRoom returns every journal whose close or target
	// room is one of roomIDs.
	ListMergeJournalsByRoom(ctx context.Context, roomIDs ...string) ([]model.MergeJournalItem, error)
}

type AgentStore interface {
	GetAgent(ctx context.Context, userID string) (model.AgentItem, error)
	PutAgent(ctx context.Context, agent model.AgentItem) error
}

type Repository interface {
	RoomStore
	MessageStore
	SubscriptionStore
	VisitorStore
	AuxiliaryStore
	JournalStore
	AgentStore
}

func parseTime(ts string) time.Time {
	if ts == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return time.Time{}
	}
	return t
}

func sortRoomsByTsDesc(rooms []model.RoomItem) {
	sort.SliceStable(rooms, func(i, j int) bool {
		ti, tj := parseTime(rooms[i].Ts), parseTime(rooms[j].Ts)
		if ti.Equal(tj) {
			return rooms[i].RoomID > rooms[j].RoomID
		}
		return ti.After(tj)
	})
}

func sortMessagesByCreatedAt(messages []model.MessageItem) {
	sort.SliceStable(messages, func(i, j int) bool {
		ti, tj := parseTime(messages[i].CreatedAt), parseTime(messages[j].CreatedAt)
		if ti.Equal(tj) {
			return messages[i].MessageID < messages[j].MessageID
		}
		return ti.Before(tj)
	})
}

func cloneStringMap(input map[string]string) map[string]string {
	if len(input) == 0 {
		return nil
	}
	out := make(map[string]string, len(input))
	for k, v := range input {
		out[k] = v
	}
	return out
}
