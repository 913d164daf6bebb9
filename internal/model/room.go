package model

const (
	SenderTypeVisitor = "visitor"
	SenderTypeAgent   = "agent"
)

// RoomItem is a livechat room between one visitor and the agents subscribed
// to it. A room with Open=false is historical.
type RoomItem struct {
	RoomID          string            `dynamodbav:"roomId"`
	VisitorID       string            `dynamodbav:"visitorId"`
	VisitorToken    string            `dynamodbav:"visitorToken"`
	VisitorUsername string            `dynamodbav:"visitorUsername,omitempty"`
	Open            bool              `dynamodbav:"open"`
	Ts              string            `dynamodbav:"ts"`
	LastMessageAt   string            `dynamodbav:"lastMessageAt,omitempty"`
	MsgCount        int               `dynamodbav:"msgCount"`
	RBInfo          map[string]string `dynamodbav:"rbInfo,omitempty"`
	Comment         string            `dynamodbav:"comment,omitempty"`
	Duration        int64             `dynamodbav:"duration,omitempty"`
	CreatedAt       string            `dynamodbav:"createdAt"`
}

// MessageItem is keyed by its own id so the owning room can be rewritten in
// place when rooms are merged.
type MessageItem struct {
	MessageID   string `dynamodbav:"messageId"`
	RoomID      string `dynamodbav:"roomId"`
	SenderType  string `dynamodbav:"senderType"`
	SenderID    string `dynamodbav:"senderId"`
	SenderToken string `dynamodbav:"senderToken,omitempty"`
	Body        string `dynamodbav:"body"`
	Hidden      bool   `dynamodbav:"hidden,omitempty"`
	CreatedAt   string `dynamodbav:"createdAt"`
}

type SubscriptionItem struct {
	PK                   string            `dynamodbav:"pk"`
	RoomID               string            `dynamodbav:"roomId"`
	UserID               string            `dynamodbav:"userId"`
	Open                 bool              `dynamodbav:"open"`
	Answered             bool              `dynamodbav:"answered"`
	LastActivity         string            `dynamodbav:"lastActivity,omitempty"`
	LastCustomerActivity string            `dynamodbav:"lastCustomerActivity,omitempty"`
	RBInfo               map[string]string `dynamodbav:"rbInfo,omitempty"`
	UpdatedAt            string            `dynamodbav:"updatedAt,omitempty"`
}

type VisitorItem struct {
	VisitorID  string `dynamodbav:"visitorId"`
	Token      string `dynamodbav:"token"`
	Username   string `dynamodbav:"username"`
	Name       string `dynamodbav:"name,omitempty"`
	CreatedAt  string `dynamodbav:"createdAt"`
	LastSeenAt string `dynamodbav:"lastSeenAt"`
}

type InquiryItem struct {
	InquiryID    string `dynamodbav:"inquiryId"`
	RoomID       string `dynamodbav:"roomId"`
	VisitorToken string `dynamodbav:"visitorToken"`
	Message      string `dynamodbav:"message"`
	Status       string `dynamodbav:"status"`
	CreatedAt    string `dynamodbav:"createdAt"`
}

// ExternalMessageItem records where an inbound message came from.
type ExternalMessageItem struct {
	PK          string `dynamodbav:"pk"`
	RoomID      string `dynamodbav:"roomId"`
	MessageID   string `dynamodbav:"messageId"`
	ServiceName string `dynamodbav:"serviceName"`
	From        string `dynamodbav:"from"`
	ReceivedAt  string `dynamodbav:"receivedAt"`
}
