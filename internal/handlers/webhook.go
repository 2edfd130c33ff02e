package handlers

import (
	"crypto/subtle"
	"errors"
	"time"

	"crmchat/server/internal/models"
	"crmchat/server/internal/normalize"
	"crmchat/server/internal/store"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// InboundRequest is a provider message delivered by the relay
type InboundRequest struct {
	ConversationID string            `json:"conversationId"`
	Collection     models.Collection `json:"collection"`
	ID             string            `json:"id"`
	From           string            `json:"from"`
	Name           string            `json:"name"`
	Message        map[string]any    `json:"message"`
}

// ReceiveInbound stores a message delivered by the relay. Messages from the
// contact advance the conversation's lastInboundAt; agent sends written back
// by the relay only advance lastMessageAt.
func ReceiveInbound(c *fiber.Ctx) error {
	if svc.WebhookSecret != "" {
		got := c.Get("X-Webhook-Secret")
		if subtle.ConstantTimeCompare([]byte(got), []byte(svc.WebhookSecret)) != 1 {
			return fiber.NewError(fiber.StatusUnauthorized, "Invalid webhook secret")
		}
	}

	var req InboundRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}
	if req.ConversationID == "" {
		return fiber.NewError(fiber.StatusBadRequest, "conversationId is required")
	}
	if req.Collection == "" {
		req.Collection = models.CollectionMessages
	}
	if !req.Collection.Valid() {
		return fiber.NewError(fiber.StatusBadRequest, "collection must be messages or msgs")
	}

	data := req.Message
	if data == nil {
		data = map[string]any{}
	}
	if _, ok := data["direction"]; !ok {
		data["direction"] = string(models.DirectionInbound)
	}
	if req.From != "" {
		if _, ok := data["from"]; !ok {
			data["from"] = req.From
		}
	}

	rec := models.Record{ID: req.ID, ConversationID: req.ConversationID, Collection: req.Collection, Data: data}
	if rec.ID == "" {
		if s, ok := data["id"].(string); ok && s != "" {
			rec.ID = s
		} else {
			rec.ID = uuid.NewString()
		}
	}
	ts := normalize.Timestamp(rec)
	if ts == 0 {
		ts = time.Now().UnixMilli()
		data["timestamp"] = ts
	}

	dir, _ := normalize.Classify(data, models.Identity{})

	ctx := c.UserContext()
	if _, err := svc.Store.Conversation(ctx, req.ConversationID); errors.Is(err, store.ErrNotFound) {
		conv := models.Conversation{ID: req.ConversationID}
		if dir == models.DirectionInbound {
			conv.ClientPhone, conv.ContactName = req.From, req.Name
		}
		if _, err := svc.Store.CreateConversation(ctx, conv); err != nil {
			return storeError(err, "Failed to create conversation")
		}
	} else if err != nil {
		return storeError(err, "Failed to load conversation")
	}

	if err := svc.Store.Append(ctx, rec); err != nil {
		return storeError(err, "Failed to store message")
	}
	touch := svc.Store.TouchInbound
	if dir == models.DirectionOutbound {
		touch = svc.Store.TouchMessage
	}
	if err := touch(ctx, req.ConversationID, ts); err != nil {
		return storeError(err, "Failed to update conversation")
	}

	svc.Log.Debug("Relay message stored",
		zap.String("conversation", req.ConversationID),
		zap.String("collection", string(req.Collection)),
		zap.String("direction", string(dir)),
		zap.String("id", rec.ID))

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success": true,
		"data": fiber.Map{
			"id":        rec.ID,
			"direction": dir,
			"timestamp": ts,
		},
	})
}
