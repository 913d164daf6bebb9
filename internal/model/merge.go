package model

type MergeStatus string

const (
	MergeStatusPending MergeStatus = "pending"
	MergeStatusFailed  MergeStatus = "failed"
)

// MergeSettings are the subscription fields written onto every subscription
// of the target room when a merge completes.
type MergeSettings struct {
	Answered             bool              `dynamodbav:"answered"`
	LastActivity         string            `dynamodbav:"lastActivity,omitempty"`
	LastCustomerActivity string            `dynamodbav:"lastCustomerActivity,omitempty"`
	RBInfo               map[string]string `dynamodbav:"rbInfo,omitempty"`
}

// MergeJournalItem is the durable plan of an in-flight merge. Step counts the
// steps that completed, so a replay starts at the step with that index.
type MergeJournalItem struct {
	CloseRoomID  string        `dynamodbav:"closeRoomId"`
	TargetRoomID string        `dynamodbav:"targetRoomId"`
	RequesterID  string        `dynamodbav:"requesterId"`
	VisitorID    string        `dynamodbav:"visitorId"`
	MovedCount   int           `dynamodbav:"movedCount"`
	Settings     MergeSettings `dynamodbav:"settings"`
	Step         int           `dynamodbav:"step"`
	Status       MergeStatus   `dynamodbav:"status"`
	LastError    string        `dynamodbav:"lastError,omitempty"`
	CreatedAt    string        `dynamodbav:"createdAt"`
	UpdatedAt    string        `dynamodbav:"updatedAt"`
}
