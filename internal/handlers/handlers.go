package handlers

import (
	"context"
	"errors"

	"crmchat/server/internal/campaign"
	"crmchat/server/internal/channel"
	"crmchat/server/internal/composer"
	"crmchat/server/internal/middleware"
	"crmchat/server/internal/models"
	"crmchat/server/internal/normalize"
	"crmchat/server/internal/policy"
	"crmchat/server/internal/reconcile"
	"crmchat/server/internal/store"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// Services are the dependencies shared by all handlers
type Services struct {
	Store         store.Store
	Relay         composer.Sender
	Policy        *policy.Policy
	Selector      *channel.Selector
	Builder       *channel.Builder
	Campaign      *campaign.Runner
	WebhookSecret string
	Log           *zap.Logger
}

var svc *Services

// Init installs the services used by every handler
func Init(s *Services) {
	if s.Log == nil {
		s.Log = zap.NewNop()
	}
	if s.Selector == nil {
		s.Selector = channel.NewSelector(channel.DefaultWindow)
	}
	svc = s
}

// ErrorHandler renders errors in the API envelope
func ErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	msg := "Internal server error"

	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
		msg = fe.Message
	} else {
		svc.Log.Error("Unhandled error", zap.String("path", c.Path()), zap.Error(err))
	}

	return c.Status(code).JSON(fiber.Map{
		"success": false,
		"error":   msg,
	})
}

// loadConversation fetches the :id conversation and checks the agent may
// read it, or write it when write is set.
func loadConversation(c *fiber.Ctx, write bool) (models.Conversation, error) {
	id := middleware.GetIdentity(c)
	conv, err := svc.Store.Conversation(c.UserContext(), c.Params("id"))
	if errors.Is(err, store.ErrNotFound) {
		return conv, fiber.NewError(fiber.StatusNotFound, "Conversation not found")
	}
	if err != nil {
		svc.Log.Error("Failed to load conversation", zap.String("conversation", c.Params("id")), zap.Error(err))
		return conv, fiber.NewError(fiber.StatusInternalServerError, "Database error")
	}

	allowed := svc.Policy.CanRead(id, conv)
	if write {
		allowed = svc.Policy.CanWrite(id, conv)
	}
	if !allowed {
		return conv, fiber.NewError(fiber.StatusForbidden, "Not allowed on this conversation")
	}
	return conv, nil
}

// lastInbound combines the conversation document with the loaded messages,
// whichever knows of a later inbound message.
func lastInbound(conv models.Conversation, msgs []models.Message) int64 {
	if last := normalize.LastInboundAt(msgs); last > conv.LastInboundAt {
		return last
	}
	return conv.LastInboundAt
}

func snapshot(ctx context.Context, conv models.Conversation, self models.Identity, limit int) (reconcile.View, error) {
	return reconcile.Snapshot(ctx, svc.Store, conv.ID, self, limit, svc.Log)
}
