package models

// Record is a raw message document as stored, before normalization
type Record struct {
	ID             string         `json:"id"`
	ConversationID string         `json:"conversationId"`
	Collection     Collection     `json:"collection"`
	Data           map[string]any `json:"data"`
}
