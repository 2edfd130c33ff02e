package handlers

import (
	"time"

	"crmchat/server/internal/middleware"
	"crmchat/server/internal/models"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// ConversationDetail is a conversation with its service window state
type ConversationDetail struct {
	models.Conversation
	Window models.WindowState `json:"window"`
}

// GetConversations lists the conversations the agent may read, most
// recently active first
func GetConversations(c *fiber.Ctx) error {
	id := middleware.GetIdentity(c)

	limit := c.QueryInt("limit", 100)
	if limit < 1 || limit > 500 {
		limit = 100
	}

	all, err := svc.Store.Conversations(c.UserContext(), limit)
	if err != nil {
		svc.Log.Error("Failed to list conversations", zap.Error(err))
		return fiber.NewError(fiber.StatusInternalServerError, "Database error")
	}

	conversations := make([]ConversationDetail, 0, len(all))
	for _, conv := range all {
		if !svc.Policy.CanRead(id, conv) {
			continue
		}
		conversations = append(conversations, ConversationDetail{
			Conversation: conv,
			Window:       window(conv.LastInboundAt),
		})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data": fiber.Map{
			"conversations": conversations,
		},
	})
}

// GetConversation returns one conversation and whether free text may be
// sent to it right now
func GetConversation(c *fiber.Ctx) error {
	conv, err := loadConversation(c, false)
	if err != nil {
		return err
	}

	last := conv.LastInboundAt
	if view, err := snapshot(c.UserContext(), conv, middleware.GetIdentity(c), 0); err == nil {
		last = lastInbound(conv, view.Messages)
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data": ConversationDetail{
			Conversation: conv,
			Window:       window(last),
		},
	})
}

func window(lastInboundAt int64) models.WindowState {
	d := svc.Selector.Decide(lastInboundAt, false)
	w := models.WindowState{Open: !d.TemplateRequired(), LastInboundAt: lastInboundAt}
	if w.Open {
		at := d.ExpiresAt.UTC().Truncate(time.Millisecond)
		w.ExpiresAt = &at
	}
	return w
}
