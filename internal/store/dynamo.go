package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"livechat-backend/internal/database"
	"livechat-backend/internal/model"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

const (
	lastMessagePageSize = 25
	journalScanChunk    = 50
)

type DynamoRepository struct {
	db *database.Database
}

var _ Repository = (*DynamoRepository)(nil)

func NewDynamoRepository(db *database.Database) *DynamoRepository {
	return &DynamoRepository{db: db}
}

func isNotFound(err error) bool {
	return errors.Is(err, database.ErrItemNotFound)
}

func stringKey(attr, value string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{attr: database.AttrString(value)}
}

func unmarshalAll[T any](items []map[string]types.AttributeValue) ([]T, error) {
	out := make([]T, 0, len(items))
	for _, item := range items {
		var v T
		if err := attributevalue.UnmarshalMap(item, &v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (r *DynamoRepository) queryByRoom(ctx context.Context, table, roomID string, opts database.QueryOptions) ([]map[string]types.AttributeValue, error) {
	opts.IndexName = model.IndexByRoom
	values := map[string]types.AttributeValue{":roomId": database.AttrString(roomID)}
	return r.db.Client.QueryAll(ctx, table, "roomId = :roomId", values, opts)
}

func (r *DynamoRepository) GetRoom(ctx context.Context, roomID string) (model.RoomItem, error) {
	var room model.RoomItem
	err := r.db.Client.GetItem(ctx, model.RoomsTable, stringKey("roomId", roomID), &room)
	if err != nil {
		if isNotFound(err) {
			return model.RoomItem{}, ErrNotFound
		}
		return model.RoomItem{}, err
	}
	return room, nil
}

func (r *DynamoRepository) ListRoomsByVisitor(ctx context.Context, visitorID string) ([]model.RoomItem, error) {
	items, err := r.db.Client.QueryAll(
		ctx,
		model.RoomsTable,
		"visitorId = :visitorId",
		map[string]types.AttributeValue{":visitorId": database.AttrString(visitorID)},
		database.QueryOptions{IndexName: model.IndexByVisitor, ScanIndexForward: aws.Bool(false)},
	)
	if err != nil {
		return nil, err
	}
	rooms, err := unmarshalAll[model.RoomItem](items)
	if err != nil {
		return nil, err
	}
	// index order is by ts string; re-sort on parsed time.
	sortRoomsByTsDesc(rooms)
	return rooms, nil
}

func (r *DynamoRepository) CreateRoom(ctx context.Context, room model.RoomItem) error {
	return r.db.Client.PutItem(ctx, model.RoomsTable, room)
}

func (r *DynamoRepository) IncrementRoomCounters(ctx context.Context, roomID string, count int, lastMessageAt string) error {
	err := r.db.Client.UpdateItem(
		ctx,
		model.RoomsTable,
		stringKey("roomId", roomID),
		"SET lastMessageAt = :lastMessageAt ADD msgCount :count",
		"attribute_exists(roomId)",
		map[string]types.AttributeValue{
			":lastMessageAt": database.AttrString(lastMessageAt),
			":count":         database.AttrInt(count),
		},
		nil,
		nil,
	)
	if errors.Is(err, database.ErrConditionFailed) {
		return ErrNotFound
	}
	return err
}

func (r *DynamoRepository) ReopenRoom(ctx context.Context, roomID string) error {
	err := r.db.Client.UpdateItem(
		ctx,
		model.RoomsTable,
		stringKey("roomId", roomID),
		"SET #open = :open REMOVE #comment, #duration",
		"attribute_exists(roomId)",
		map[string]types.AttributeValue{":open": database.AttrBool(true)},
		map[string]string{"#open": "open", "#comment": "comment", "#duration": "duration"},
		nil,
	)
	if errors.Is(err, database.ErrConditionFailed) {
		return ErrNotFound
	}
	return err
}

func (r *DynamoRepository) DeleteRoom(ctx context.Context, roomID string) error {
	return r.db.Client.DeleteItem(ctx, model.RoomsTable, stringKey("roomId", roomID))
}

func (r *DynamoRepository) CreateMessage(ctx context.Context, message model.MessageItem) error {
	return r.db.Client.PutItem(ctx, model.MessagesTable, message)
}

func (r *DynamoRepository) ListMessages(ctx context.Context, roomID string) ([]model.MessageItem, error) {
	items, err := r.queryByRoom(ctx, model.MessagesTable, roomID, database.QueryOptions{})
	if err != nil {
		return nil, err
	}
	messages, err := unmarshalAll[model.MessageItem](items)
	if err != nil {
		return nil, err
	}
	sortMessagesByCreatedAt(messages)
	return messages, nil
}

func (r *DynamoRepository) CountVisibleMessages(ctx context.Context, roomID string) (int, error) {
	return r.db.Client.CountAll(
		ctx,
		model.MessagesTable,
		"roomId = :roomId",
		map[string]types.AttributeValue{
			":roomId": database.AttrString(roomID),
			":hidden": database.AttrBool(true),
		},
		database.QueryOptions{
			IndexName:     model.IndexByRoom,
			FilterExpr:    "attribute_not_exists(#hidden) OR #hidden <> :hidden",
			ExprAttrNames: map[string]string{"#hidden": "hidden"},
		},
	)
}

// ReassignMessages moves messages one by one. The condition on the old room
// id makes a replay after a partial run skip what already moved.
func (r *DynamoRepository) ReassignMessages(ctx context.Context, fromRoomID, toRoomID string) (int, error) {
	messages, err := r.ListMessages(ctx, fromRoomID)
	if err != nil {
		return 0, err
	}

	moved := 0
	for _, msg := range messages {
		err := r.db.Client.UpdateItem(
			ctx,
			model.MessagesTable,
			stringKey("messageId", msg.MessageID),
			"SET roomId = :to",
			"roomId = :from",
			map[string]types.AttributeValue{
				":to":   database.AttrString(toRoomID),
				":from": database.AttrString(fromRoomID),
			},
			nil,
			nil,
		)
		if errors.Is(err, database.ErrConditionFailed) {
			continue
		}
		if err != nil {
			return moved, fmt.Errorf("reassign message %s: %w", msg.MessageID, err)
		}
		moved++
	}
	return moved, nil
}

// FindLastVisitorMessage walks the room newest first and stops at the first
// visitor message.
func (r *DynamoRepository) FindLastVisitorMessage(ctx context.Context, roomID string) (model.MessageItem, error) {
	var msg model.MessageItem
	err := r.db.Client.QueryFirst(
		ctx,
		model.MessagesTable,
		"roomId = :roomId",
		map[string]types.AttributeValue{
			":roomId":     database.AttrString(roomID),
			":senderType": database.AttrString(model.SenderTypeVisitor),
		},
		database.QueryOptions{
			IndexName:        model.IndexByRoom,
			FilterExpr:       "senderType = :senderType",
			ScanIndexForward: aws.Bool(false),
			Limit:            lastMessagePageSize,
		},
		&msg,
	)
	if err != nil {
		if isNotFound(err) {
			return model.MessageItem{}, ErrNotFound
		}
		return model.MessageItem{}, err
	}
	return msg, nil
}

func (r *DynamoRepository) GetSubscription(ctx context.Context, roomID, userID string) (model.SubscriptionItem, error) {
	var sub model.SubscriptionItem
	err := r.db.Client.GetItem(ctx, model.SubscriptionsTable, stringKey("pk", model.SubscriptionPK(roomID, userID)), &sub)
	if err != nil {
		if isNotFound(err) {
			return model.SubscriptionItem{}, ErrNotFound
		}
		return model.SubscriptionItem{}, err
	}
	return sub, nil
}

func (r *DynamoRepository) PutSubscription(ctx context.Context, subscription model.SubscriptionItem) error {
	if subscription.PK == "" {
		subscription.PK = model.SubscriptionPK(subscription.RoomID, subscription.UserID)
	}
	return r.db.Client.PutItem(ctx, model.SubscriptionsTable, subscription)
}

func (r *DynamoRepository) ListSubscriptions(ctx context.Context, roomID string) ([]model.SubscriptionItem, error) {
	items, err := r.queryByRoom(ctx, model.SubscriptionsTable, roomID, database.QueryOptions{})
	if err != nil {
		return nil, err
	}
	return unmarshalAll[model.SubscriptionItem](items)
}

func (r *DynamoRepository) RemoveSubscriptionsByRoom(ctx context.Context, roomID string) error {
	subs, err := r.ListSubscriptions(ctx, roomID)
	if err != nil {
		return err
	}
	keys := make([]map[string]types.AttributeValue, 0, len(subs))
	for _, sub := range subs {
		keys = append(keys, stringKey("pk", sub.PK))
	}
	return r.db.Client.BatchDeleteItems(ctx, model.SubscriptionsTable, keys)
}

func (r *DynamoRepository) ApplySubscriptionSettings(ctx context.Context, roomID string, settings model.MergeSettings, updatedAt string) error {
	subs, err := r.ListSubscriptions(ctx, roomID)
	if err != nil {
		return err
	}

	updateExpr := "SET answered = :answered, updatedAt = :updatedAt"
	values := map[string]types.AttributeValue{
		":answered":  database.AttrBool(settings.Answered),
		":updatedAt": database.AttrString(updatedAt),
	}
	if settings.LastActivity != "" {
		updateExpr += ", lastActivity = :lastActivity"
		values[":lastActivity"] = database.AttrString(settings.LastActivity)
	}
	if settings.LastCustomerActivity != "" {
		updateExpr += ", lastCustomerActivity = :lastCustomerActivity"
		values[":lastCustomerActivity"] = database.AttrString(settings.LastCustomerActivity)
	}
	if len(settings.RBInfo) > 0 {
		rbInfo, err := attributevalue.Marshal(settings.RBInfo)
		if err != nil {
			return fmt.Errorf("marshal rbInfo: %w", err)
		}
		updateExpr += ", rbInfo = :rbInfo"
		values[":rbInfo"] = rbInfo
	}

	for _, sub := range subs {
		err := r.db.Client.UpdateItem(ctx, model.SubscriptionsTable, stringKey("pk", sub.PK), updateExpr, "attribute_exists(pk)", values, nil, nil)
		if err != nil && !errors.Is(err, database.ErrConditionFailed) {
			return fmt.Errorf("apply settings to %s: %w", sub.PK, err)
		}
	}
	return nil
}

func (r *DynamoRepository) OpenSubscription(ctx context.Context, roomID, userID, updatedAt string) error {
	err := r.db.Client.UpdateItem(
		ctx,
		model.SubscriptionsTable,
		stringKey("pk", model.SubscriptionPK(roomID, userID)),
		"SET #open = :open, updatedAt = :updatedAt",
		"attribute_exists(pk)",
		map[string]types.AttributeValue{
			":open":      database.AttrBool(true),
			":updatedAt": database.AttrString(updatedAt),
		},
		map[string]string{"#open": "open"},
		nil,
	)
	if errors.Is(err, database.ErrConditionFailed) {
		return nil
	}
	return err
}

func (r *DynamoRepository) GetVisitor(ctx context.Context, visitorID string) (model.VisitorItem, error) {
	var visitor model.VisitorItem
	err := r.db.Client.GetItem(ctx, model.VisitorsTable, stringKey("visitorId", visitorID), &visitor)
	if err != nil {
		if isNotFound(err) {
			return model.VisitorItem{}, ErrNotFound
		}
		return model.VisitorItem{}, err
	}
	return visitor, nil
}

func (r *DynamoRepository) GetVisitorByUsername(ctx context.Context, username string) (model.VisitorItem, error) {
	items, err := r.db.Client.QueryAll(
		ctx,
		model.VisitorsTable,
		"username = :username",
		map[string]types.AttributeValue{":username": database.AttrString(username)},
		database.QueryOptions{IndexName: model.IndexByUsername},
	)
	if err != nil {
		return model.VisitorItem{}, err
	}
	if len(items) == 0 {
		return model.VisitorItem{}, ErrNotFound
	}
	var visitor model.VisitorItem
	if err := attributevalue.UnmarshalMap(items[0], &visitor); err != nil {
		return model.VisitorItem{}, err
	}
	return visitor, nil
}

func (r *DynamoRepository) PutVisitor(ctx context.Context, visitor model.VisitorItem) error {
	return r.db.Client.PutItem(ctx, model.VisitorsTable, visitor)
}

func (r *DynamoRepository) CreateInquiry(ctx context.Context, inquiry model.InquiryItem) error {
	return r.db.Client.PutItem(ctx, model.InquiriesTable, inquiry)
}

func (r *DynamoRepository) ListInquiries(ctx context.Context, roomID string) ([]model.InquiryItem, error) {
	items, err := r.queryByRoom(ctx, model.InquiriesTable, roomID, database.QueryOptions{})
	if err != nil {
		return nil, err
	}
	return unmarshalAll[model.InquiryItem](items)
}

func (r *DynamoRepository) CreateExternalMessage(ctx context.Context, message model.ExternalMessageItem) error {
	if message.PK == "" {
		message.PK = model.ExternalMessagePK(message.RoomID, message.MessageID)
	}
	return r.db.Client.PutItem(ctx, model.ExternalMessagesTable, message)
}

func (r *DynamoRepository) ListExternalMessages(ctx context.Context, roomID string) ([]model.ExternalMessageItem, error) {
	items, err := r.queryByRoom(ctx, model.ExternalMessagesTable, roomID, database.QueryOptions{})
	if err != nil {
		return nil, err
	}
	return unmarshalAll[model.ExternalMessageItem](items)
}

func (r *DynamoRepository) DeleteAuxiliaryByRoom(ctx context.Context, roomID string) error {
	inquiries, err := r.ListInquiries(ctx, roomID)
	if err != nil {
		return err
	}
	inquiryKeys := make([]map[string]types.AttributeValue, 0, len(inquiries))
	for _, inquiry := range inquiries {
		inquiryKeys = append(inquiryKeys, stringKey("inquiryId", inquiry.InquiryID))
	}
	if err := r.db.Client.BatchDeleteItems(ctx, model.InquiriesTable, inquiryKeys); err != nil {
		return fmt.Errorf("delete inquiries: %w", err)
	}

	external, err := r.ListExternalMessages(ctx, roomID)
	if err != nil {
		return err
	}
	externalKeys := make([]map[string]types.AttributeValue, 0, len(external))
	for _, message := range external {
		externalKeys = append(externalKeys, stringKey("pk", message.PK))
	}
	if err := r.db.Client.BatchDeleteItems(ctx, model.ExternalMessagesTable, externalKeys); err != nil {
		return fmt.Errorf("delete external messages: %w", err)
	}
	return nil
}

func (r *DynamoRepository) CreateMergeJournal(ctx context.Context, journal model.MergeJournalItem) error {
	err := r.db.Client.PutItemIfAbsent(ctx, model.MergeJournalTable, "closeRoomId", journal)
	if errors.Is(err, database.ErrConditionFailed) {
		return ErrConflict
	}
	return err
}

func (r *DynamoRepository) GetMergeJournal(ctx context.Context, closeRoomID string) (model.MergeJournalItem, error) {
	var journal model.MergeJournalItem
	err := r.db.Client.GetItem(ctx, model.MergeJournalTable, stringKey("closeRoomId", closeRoomID), &journal)
	if err != nil {
		if isNotFound(err) {
			return model.MergeJournalItem{}, ErrNotFound
		}
		return model.MergeJournalItem{}, err
	}
	return journal, nil
}

func (r *DynamoRepository) UpdateMergeJournal(ctx context.Context, closeRoomID string, step int, status model.MergeStatus, lastError, updatedAt string) error {
	err := r.db.Client.UpdateItem(
		ctx,
		model.MergeJournalTable,
		stringKey("closeRoomId", closeRoomID),
		"SET step = :step, #status = :status, lastError = :lastError, updatedAt = :updatedAt",
		"attribute_exists(closeRoomId)",
		map[string]types.AttributeValue{
			":step":      database.AttrInt(step),
			":status":    database.AttrString(string(status)),
			":lastError": database.AttrString(lastError),
			":updatedAt": database.AttrString(updatedAt),
		},
		map[string]string{"#status": "status"},
		nil,
	)
	if errors.Is(err, database.ErrConditionFailed) {
		return ErrNotFound
	}
	return err
}

func (r *DynamoRepository) DeleteMergeJournal(ctx context.Context, closeRoomID string) error {
	return r.db.Client.DeleteItem(ctx, model.MergeJournalTable, stringKey("closeRoomId", closeRoomID))
}

// ListMergeJournalsUpdatedBefore scans the journal table. It only ever holds
// in-flight merges so it stays small.
func (r *DynamoRepository) ListMergeJournalsUpdatedBefore(ctx context.Context, cutoff string) ([]model.MergeJournalItem, error) {
	items, err := r.db.Client.ScanAllWithFilter(
		ctx,
		model.MergeJournalTable,
		"updatedAt < :cutoff",
		map[string]types.AttributeValue{":cutoff": database.AttrString(cutoff)},
		nil,
	)
	if err != nil {
		return nil, err
	}
	return unmarshalAll[model.MergeJournalItem](items)
}

// ListMergeJournalsByRoom scans the journal table in chunks that stay under
// the IN operand limit.
func (r *DynamoRepository) ListMergeJournalsByRoom(ctx context.Context, roomIDs ...string) ([]model.MergeJournalItem, error) {
	journals := make([]model.MergeJournalItem, 0)
	for start := 0; start < len(roomIDs); start += journalScanChunk {
		end := min(start+journalScanChunk, len(roomIDs))
		values := make(map[string]types.AttributeValue, end-start)
		placeholders := make([]string, 0, end-start)
		for i, id := range roomIDs[start:end] {
			name := fmt.Sprintf(":r%d", i)
			values[name] = database.AttrString(id)
			placeholders = append(placeholders, name)
		}
		in := strings.Join(placeholders, ", ")
		items, err := r.db.Client.ScanAllWithFilter(
			ctx,
			model.MergeJournalTable,
			fmt.Sprintf("closeRoomId IN (%s) OR targetRoomId IN (%s)", in, in),
			values,
			nil,
		)
		if err != nil {
			return nil, err
		}
		chunk, err := unmarshalAll[model.MergeJournalItem](items)
		if err != nil {
			return nil, err
		}
		journals = append(journals, chunk...)
	}
	return journals, nil
}

func (r *DynamoRepository) GetAgent(ctx context.Context, userID string) (model.AgentItem, error) {
	var agent model.AgentItem
	err := r.db.Client.GetItem(ctx, model.AgentsTable, stringKey("userId", userID), &agent)
	if err != nil {
		if isNotFound(err) {
			return model.AgentItem{}, ErrNotFound
		}
		return model.AgentItem{}, err
	}
	return agent, nil
}

func (r *DynamoRepository) PutAgent(ctx context.Context, agent model.AgentItem) error {
	return r.db.Client.PutItem(ctx, model.AgentsTable, agent)
}
