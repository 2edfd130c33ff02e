// Package store is the remote document store holding conversations and
// their two message sub-collections. Implementations push fresh snapshots
// to live subscribers whenever a watched sub-collection changes.
package store

import (
	"context"
	"errors"

	"crmchat/server/internal/models"
)

var (
	ErrNotFound          = errors.New("store: not found")
	ErrInvalidCollection = errors.New("store: invalid collection")
)

// Query selects the newest Limit records of one sub-collection
type Query struct {
	ConversationID string
	Collection     models.Collection
	Limit          int
}

// SnapshotFunc receives the newest records of a sub-collection, newest first
type SnapshotFunc func(records []models.Record)

// ErrorFunc receives subscription failures. A failed subscription delivers
// nothing further.
type ErrorFunc func(err error)

// Subscription is a live query; Stop ends delivery.
type Subscription interface {
	Stop()
}

// Store is the remote message store
type Store interface {
	// Subscribe delivers an initial snapshot and then a fresh one after
	// every change to the queried sub-collection.
	Subscribe(ctx context.Context, q Query, onSnapshot SnapshotFunc, onError ErrorFunc) Subscription

	// Recent is a one-shot read with the same ordering as snapshots.
	Recent(ctx context.Context, q Query) ([]models.Record, error)

	Message(ctx context.Context, conversationID string, coll models.Collection, id string) (models.Record, error)
	Append(ctx context.Context, rec models.Record) error
	UpdateText(ctx context.Context, conversationID string, coll models.Collection, id, text string) error
	Delete(ctx context.Context, conversationID string, coll models.Collection, id string) error

	Conversation(ctx context.Context, id string) (models.Conversation, error)
	// Conversations lists up to limit conversations, most recently active first.
	Conversations(ctx context.Context, limit int) ([]models.Conversation, error)
	PutConversation(ctx context.Context, conv models.Conversation) error
	// CreateConversation stores conv only when no conversation has its id,
	// reporting whether it did.
	CreateConversation(ctx context.Context, conv models.Conversation) (bool, error)
	// TouchInbound advances lastInboundAt and lastMessageAt to at if newer.
	TouchInbound(ctx context.Context, conversationID string, at int64) error
	// TouchMessage advances only lastMessageAt to at if newer.
	TouchMessage(ctx context.Context, conversationID string, at int64) error
}

func validate(coll models.Collection) error {
	if !coll.Valid() {
		return ErrInvalidCollection
	}
	return nil
}
