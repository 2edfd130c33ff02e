package models

// Collection names one of the two message sub-collections a conversation may carry
type Collection string

const (
	CollectionMessages Collection = "messages"
	CollectionMsgs     Collection = "msgs"
)

// Collections lists every message source, in merge order
var Collections = []Collection{CollectionMessages, CollectionMsgs}

// Valid reports whether c is a known collection
func (c Collection) Valid() bool {
	return c == CollectionMessages || c == CollectionMsgs
}

// Direction tells whether a message was sent by the agent or the contact
type Direction string

const (
	DirectionInbound  Direction = "in"
	DirectionOutbound Direction = "out"
)

// DirectionSource records which rule resolved a message's direction
type DirectionSource string

const (
	DirectionFromField    DirectionSource = "field"
	DirectionFromIdentity DirectionSource = "identity"
	DirectionDefaulted    DirectionSource = "default"
)

// Status is the delivery receipt state of a message
type Status string

const (
	StatusPending   Status = "pending"
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusRead      Status = "read"
	StatusError     Status = "error"
)

// Kind discriminates the Content union
type Kind string

const (
	KindText     Kind = "text"
	KindImage    Kind = "image"
	KindAudio    Kind = "audio"
	KindDocument Kind = "document"
	KindLocation Kind = "location"
	KindTemplate Kind = "template"
)

// Content is the payload of a message. Only the fields matching Kind are set.
type Content struct {
	Kind Kind `json:"kind"`

	Text string `json:"text,omitempty"`

	// image, audio, document
	URL      string `json:"url,omitempty"`
	Caption  string `json:"caption,omitempty"`
	Filename string `json:"filename,omitempty"`

	Location *Location `json:"location,omitempty"`

	TemplateName   string   `json:"templateName,omitempty"`
	TemplateParams []string `json:"templateParams,omitempty"`
}

// Location is a shared map point
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Name      string  `json:"name,omitempty"`
	Address   string  `json:"address,omitempty"`
}

// ReplyTarget references another message of the same conversation
type ReplyTarget struct {
	ID   string `json:"id"`
	Type string `json:"type,omitempty"`
	Text string `json:"text,omitempty"`
}

// Message is the canonical shape of one entry in a conversation's message list
type Message struct {
	ID               string          `json:"id"`
	ConversationID   string          `json:"conversationId"`
	OriginCollection Collection      `json:"originCollection"`
	Direction        Direction       `json:"direction"`
	DirectionSource  DirectionSource `json:"directionSource"`
	Timestamp        int64           `json:"timestamp"` // unix milliseconds, 0 when unknown
	Content          Content         `json:"content"`
	ReplyTarget      *ReplyTarget    `json:"replyTo,omitempty"`
	Status           Status          `json:"status,omitempty"`
}

// IsOutbound reports whether the local agent sent the message
func (m Message) IsOutbound() bool {
	return m.Direction == DirectionOutbound
}
