package models

import "time"

// Conversation is the read-only view of a conversation document
type Conversation struct {
	ID              string   `json:"id"`
	AssignedToUID   string   `json:"assignedToUid,omitempty"`
	AssignedToEmail string   `json:"assignedToEmail,omitempty"`
	Labels          []string `json:"labels"`
	Stage           string   `json:"stage,omitempty"`
	ClientPhone     string   `json:"clientPhone"`
	ContactName     string   `json:"contactName,omitempty"`
	LastInboundAt   int64    `json:"lastInboundAt"` // unix milliseconds, 0 when never
	LastMessageAt   int64    `json:"lastMessageAt"`
}

// Contact is a campaign recipient or conversation counterpart
type Contact struct {
	Phone string `json:"phone" yaml:"phone"`
	Name  string `json:"name,omitempty" yaml:"name"`
}

// WindowState describes whether free text may be sent to a conversation
type WindowState struct {
	Open          bool       `json:"open"`
	LastInboundAt int64      `json:"lastInboundAt"`
	ExpiresAt     *time.Time `json:"expiresAt,omitempty"`
}
