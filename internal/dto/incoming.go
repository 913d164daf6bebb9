package dto

type IncomingReceivedResponse struct {
	// Received is the unix time in milliseconds the message was accepted.
	Received int64 `json:"received"`
}
