package websocket

import (
	"time"

	"crmchat/server/internal/models"
)

// EventType represents different WebSocket event types
type EventType string

const (
	// Server events
	EventMessagesSnapshot EventType = "messages_snapshot"
	EventError            EventType = "error"

	// Client events
	EventLoadMore EventType = "load_more"
)

// WSMessage represents a WebSocket message structure
type WSMessage struct {
	Type      EventType   `json:"type"`
	Payload   interface{} `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
}

// SnapshotPayload is the merged message list of the watched conversation
type SnapshotPayload struct {
	ConversationID string           `json:"conversationId"`
	Messages       []models.Message `json:"messages"`
	HasMore        bool             `json:"hasMore"`
	Limit          int              `json:"limit"`
}

// ErrorPayload represents error event payload
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// IncomingMessage represents messages received from clients
type IncomingMessage struct {
	Type    EventType              `json:"type"`
	Payload map[string]interface{} `json:"payload"`
}
