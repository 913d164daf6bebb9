package dto

type MergeRoomsRequest struct {
	TargetRoomID string `json:"targetRoomId"`
}

type RoomResponse struct {
	RoomID          string            `json:"roomId"`
	VisitorID       string            `json:"visitorId"`
	VisitorUsername string            `json:"visitorUsername,omitempty"`
	Open            bool              `json:"open"`
	Ts              string            `json:"ts"`
	LastMessageAt   string            `json:"lastMessageAt,omitempty"`
	MsgCount        int               `json:"msgCount"`
	RBInfo          map[string]string `json:"rbInfo,omitempty"`
	Comment         string            `json:"comment,omitempty"`
	CreatedAt       string            `json:"createdAt"`
}

// MergeSettingsResponse mirrors what was written onto the target room's
// subscriptions.
type MergeSettingsResponse struct {
	Answered             bool              `json:"answered"`
	LastActivity         string            `json:"lastActivity,omitempty"`
	LastCustomerActivity string            `json:"lastCustomerActivity,omitempty"`
	RBInfo               map[string]string `json:"rbInfo,omitempty"`
}

type MergeRoomsResponse struct {
	CloseRoomID   string                `json:"closeRoomId"`
	TargetRoom    RoomResponse          `json:"targetRoom"`
	MovedMessages int                   `json:"movedMessages"`
	Settings      MergeSettingsResponse `json:"settings"`
	Resumed       bool                  `json:"resumed,omitempty"`
}
