package store

import (
	"context"
	"sort"
	"sync"

	"livechat-backend/internal/model"
)

// MemoryRepository keeps everything in process. It backs STORE_BACKEND=memory
// and the service tests.
type MemoryRepository struct {
	mu               sync.Mutex
	agents           map[string]model.AgentItem
	rooms            map[string]model.RoomItem
	messages         map[string]model.MessageItem
	subscriptions    map[string]model.SubscriptionItem
	visitors         map[string]model.VisitorItem
	inquiries        map[string]model.InquiryItem
	externalMessages map[string]model.ExternalMessageItem
	journals         map[string]model.MergeJournalItem
}

var _ Repository = (*MemoryRepository)(nil)

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		agents:           make(map[string]model.AgentItem),
		rooms:            make(map[string]model.RoomItem),
		messages:         make(map[string]model.MessageItem),
		subscriptions:    make(map[string]model.SubscriptionItem),
		visitors:         make(map[string]model.VisitorItem),
		inquiries:        make(map[string]model.InquiryItem),
		externalMessages: make(map[string]model.ExternalMessageItem),
		journals:         make(map[string]model.MergeJournalItem),
	}
}

func (m *MemoryRepository) GetRoom(ctx context.Context, roomID string) (model.RoomItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	room, ok := m.rooms[roomID]
	if !ok {
		return model.RoomItem{}, ErrNotFound
	}
	room.RBInfo = cloneStringMap(room.RBInfo)
	return room, nil
}

func (m *MemoryRepository) ListRoomsByVisitor(ctx context.Context, visitorID string) ([]model.RoomItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rooms := make([]model.RoomItem, 0)
	for _, room := range m.rooms {
		if room.VisitorID == visitorID {
			room.RBInfo = cloneStringMap(room.RBInfo)
			rooms = append(rooms, room)
		}
	}
	sortRoomsByTsDesc(rooms)
	return rooms, nil
}

func (m *MemoryRepository) CreateRoom(ctx context.Context, room model.RoomItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	room.RBInfo = cloneStringMap(room.RBInfo)
	m.rooms[room.RoomID] = room
	return nil
}

func (m *MemoryRepository) IncrementRoomCounters(ctx context.Context, roomID string, count int, lastMessageAt string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	room, ok := m.rooms[roomID]
	if !ok {
		return ErrNotFound
	}
	room.MsgCount += count
	room.LastMessageAt = lastMessageAt
	m.rooms[roomID] = room
	return nil
}

func (m *MemoryRepository) ReopenRoom(ctx context.Context, roomID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	room, ok := m.rooms[roomID]
	if !ok {
		return ErrNotFound
	}
	room.Open = true
	room.Comment = ""
	room.Duration = 0
	m.rooms[roomID] = room
	return nil
}

func (m *MemoryRepository) DeleteRoom(ctx context.Context, roomID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rooms, roomID)
	return nil
}

func (m *MemoryRepository) CreateMessage(ctx context.Context, message model.MessageItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages[message.MessageID] = message
	return nil
}

func (m *MemoryRepository) ListMessages(ctx context.Context, roomID string) ([]model.MessageItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.messagesOf(roomID), nil
}

func (m *MemoryRepository) messagesOf(roomID string) []model.MessageItem {
	items := make([]model.MessageItem, 0)
	for _, msg := range m.messages {
		if msg.RoomID == roomID {
			items = append(items, msg)
		}
	}
	sortMessagesByCreatedAt(items)
	return items
}

func (m *MemoryRepository) CountVisibleMessages(ctx context.Context, roomID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, msg := range m.messages {
		if msg.RoomID == roomID && !msg.Hidden {
			count++
		}
	}
	return count, nil
}

func (m *MemoryRepository) ReassignMessages(ctx context.Context, fromRoomID, toRoomID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	moved := 0
	for id, msg := range m.messages {
		if msg.RoomID == fromRoomID {
			msg.RoomID = toRoomID
			m.messages[id] = msg
			moved++
		}
	}
	return moved, nil
}

func (m *MemoryRepository) FindLastVisitorMessage(ctx context.Context, roomID string) (model.MessageItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := m.messagesOf(roomID)
	for i := len(items) - 1; i >= 0; i-- {
		if items[i].SenderType == model.SenderTypeVisitor {
			return items[i], nil
		}
	}
	return model.MessageItem{}, ErrNotFound
}

func (m *MemoryRepository) GetSubscription(ctx context.Context, roomID, userID string) (model.SubscriptionItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subscriptions[model.SubscriptionPK(roomID, userID)]
	if !ok {
		return model.SubscriptionItem{}, ErrNotFound
	}
	sub.RBInfo = cloneStringMap(sub.RBInfo)
	return sub, nil
}

func (m *MemoryRepository) PutSubscription(ctx context.Context, subscription model.SubscriptionItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if subscription.PK == "" {
		subscription.PK = model.SubscriptionPK(subscription.RoomID, subscription.UserID)
	}
	subscription.RBInfo = cloneStringMap(subscription.RBInfo)
	m.subscriptions[subscription.PK] = subscription
	return nil
}

func (m *MemoryRepository) ListSubscriptions(ctx context.Context, roomID string) ([]model.SubscriptionItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := make([]model.SubscriptionItem, 0)
	for _, sub := range m.subscriptions {
		if sub.RoomID == roomID {
			sub.RBInfo = cloneStringMap(sub.RBInfo)
			items = append(items, sub)
		}
	}
	return items, nil
}

func (m *MemoryRepository) RemoveSubscriptionsByRoom(ctx context.Context, roomID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for pk, sub := range m.subscriptions {
		if sub.RoomID == roomID {
			delete(m.subscriptions, pk)
		}
	}
	return nil
}

func (m *MemoryRepository) ApplySubscriptionSettings(ctx context.Context, roomID string, settings model.MergeSettings, updatedAt string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for pk, sub := range m.subscriptions {
		if sub.RoomID != roomID {
			continue
		}
		sub.Answered = settings.Answered
		if settings.LastActivity != "" {
			sub.LastActivity = settings.LastActivity
		}
		if settings.LastCustomerActivity != "" {
			sub.LastCustomerActivity = settings.LastCustomerActivity
		}
		if len(settings.RBInfo) > 0 {
			sub.RBInfo = cloneStringMap(settings.RBInfo)
		}
		sub.UpdatedAt = updatedAt
		m.subscriptions[pk] = sub
	}
	return nil
}

func (m *MemoryRepository) OpenSubscription(ctx context.Context, roomID, userID, updatedAt string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	pk := model.SubscriptionPK(roomID, userID)
	sub, ok := m.subscriptions[pk]
	if !ok {
		return nil
	}
	sub.Open = true
	sub.UpdatedAt = updatedAt
	m.subscriptions[pk] = sub
	return nil
}

func (m *MemoryRepository) GetVisitor(ctx context.Context, visitorID string) (model.VisitorItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	visitor, ok := m.visitors[visitorID]
	if !ok {
		return model.VisitorItem{}, ErrNotFound
	}
	return visitor, nil
}

func (m *MemoryRepository) GetVisitorByUsername(ctx context.Context, username string) (model.VisitorItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, visitor := range m.visitors {
		if visitor.Username == username {
			return visitor, nil
		}
	}
	return model.VisitorItem{}, ErrNotFound
}

func (m *MemoryRepository) PutVisitor(ctx context.Context, visitor model.VisitorItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.visitors[visitor.VisitorID] = visitor
	return nil
}

func (m *MemoryRepository) CreateInquiry(ctx context.Context, inquiry model.InquiryItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inquiries[inquiry.InquiryID] = inquiry
	return nil
}

func (m *MemoryRepository) ListInquiries(ctx context.Context, roomID string) ([]model.InquiryItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := make([]model.InquiryItem, 0)
	for _, inquiry := range m.inquiries {
		if inquiry.RoomID == roomID {
			items = append(items, inquiry)
		}
	}
	return items, nil
}

func (m *MemoryRepository) CreateExternalMessage(ctx context.Context, message model.ExternalMessageItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if message.PK == "" {
		message.PK = model.ExternalMessagePK(message.RoomID, message.MessageID)
	}
	m.externalMessages[message.PK] = message
	return nil
}

func (m *MemoryRepository) ListExternalMessages(ctx context.Context, roomID string) ([]model.ExternalMessageItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := make([]model.ExternalMessageItem, 0)
	for _, message := range m.externalMessages {
		if message.RoomID == roomID {
			items = append(items, message)
		}
	}
	return items, nil
}

func (m *MemoryRepository) DeleteAuxiliaryByRoom(ctx context.Context, roomID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, inquiry := range m.inquiries {
		if inquiry.RoomID == roomID {
			delete(m.inquiries, id)
		}
	}
	for pk, message := range m.externalMessages {
		if message.RoomID == roomID {
			delete(m.externalMessages, pk)
		}
	}
	return nil
}

func (m *MemoryRepository) CreateMergeJournal(ctx context.Context, journal model.MergeJournalItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.journals[journal.CloseRoomID]; exists {
		return ErrConflict
	}
	m.journals[journal.CloseRoomID] = journal
	return nil
}

func (m *MemoryRepository) GetMergeJournal(ctx context.Context, closeRoomID string) (model.MergeJournalItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	journal, ok := m.journals[closeRoomID]
	if !ok {
		return model.MergeJournalItem{}, ErrNotFound
	}
	return journal, nil
}

func (m *MemoryRepository) UpdateMergeJournal(ctx context.Context, closeRoomID string, step int, status model.MergeStatus, lastError, updatedAt string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	journal, ok := m.journals[closeRoomID]
	if !ok {
		return ErrNotFound
	}
	journal.Step = step
	journal.Status = status
	journal.LastError = lastError
	journal.UpdatedAt = updatedAt
	m.journals[closeRoomID] = journal
	return nil
}

func (m *MemoryRepository) DeleteMergeJournal(ctx context.Context, closeRoomID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.journals, closeRoomID)
	return nil
}

func (m *MemoryRepository) ListMergeJournalsUpdatedBefore(ctx context.Context, cutoff string) ([]model.MergeJournalItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	limit := parseTime(cutoff)
	items := make([]model.MergeJournalItem, 0)
	for _, journal := range m.journals {
		if parseTime(journal.UpdatedAt).Before(limit) {
			items = append(items, journal)
		}
	}
	return items, nil
}

func (m *MemoryRepository) ListMergeJournalsByRoom(ctx context.Context, roomIDs ...string) ([]model.MergeJournalItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	wanted := make(map[string]bool, len(roomIDs))
	for _, id := range roomIDs {
		wanted[id] = true
	}
	items := make([]model.MergeJournalItem, 0)
	for _, journal := range m.journals {
		if wanted[journal.CloseRoomID] || wanted[journal.TargetRoomID] {
			items = append(items, journal)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].CloseRoomID < items[j].CloseRoomID })
	return items, nil
}

func (m *MemoryRepository) GetAgent(ctx context.Context, userID string) (model.AgentItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	agent, ok := m.agents[userID]
	if !ok {
		return model.AgentItem{}, ErrNotFound
	}
	return agent, nil
}

func (m *MemoryRepository) PutAgent(ctx context.Context, agent model.AgentItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.agents[agent.UserID] = agent
	return nil
}
