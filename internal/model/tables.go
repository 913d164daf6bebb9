package model

import "fmt"

const (
	AgentsTable           = "Agents"
	RoomsTable            = "Rooms"
	MessagesTable         = "Messages"
	SubscriptionsTable    = "Subscriptions"
	VisitorsTable         = "Visitors"
	InquiriesTable        = "LivechatInquiries"
	ExternalMessagesTable = "LivechatExternalMessages"
	MergeJournalTable     = "RoomMerges"
)

// Secondary indexes. Every room-scoped table carries a byRoom index on roomId.
const (
	IndexByRoom     = "byRoom"
	IndexByVisitor  = "byVisitor"
	IndexByUsername = "byUsername"
)

type AgentRole string

const (
	AgentRoleAdmin   AgentRole = "admin"
	AgentRoleManager AgentRole = "livechat-manager"
	AgentRoleAgent   AgentRole = "livechat-agent"
)

const AgentStatusDisabled = "disabled"

type AgentItem struct {
	UserID    string    `dynamodbav:"userId"`
	Username  string    `dynamodbav:"username"`
	Email     string    `dynamodbav:"email,omitempty"`
	Role      AgentRole `dynamodbav:"role"`
	Status    string    `dynamodbav:"status,omitempty"`
	CreatedAt string    `dynamodbav:"createdAt"`
}

func SubscriptionPK(roomID, userID string) string {
	return fmt.Sprintf("%s#%s", roomID, userID)
}

func ExternalMessagePK(roomID, messageID string) string {
	return fmt.Sprintf("%s#%s", roomID, messageID)
}
