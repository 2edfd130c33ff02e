package handlers

import (
	"errors"
	"strings"

	"crmchat/server/internal/composer"
	"crmchat/server/internal/middleware"
	"crmchat/server/internal/models"
	"crmchat/server/internal/normalize"
	"crmchat/server/internal/reconcile"
	"crmchat/server/internal/relay"
	"crmchat/server/internal/store"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// SendMessageRequest represents send message request body
type SendMessageRequest struct {
	Text          string                `json:"text"`
	Attachments   []composer.Attachment `json:"attachments"`
	ReplyTo       *models.ReplyTarget   `json:"replyTo"`
	ForceTemplate bool                  `json:"forceTemplate"`
}

// EditMessageRequest represents edit message request body
type EditMessageRequest struct {
	Text string `json:"text"`
}

// GetMessages returns the merged history of both message collections
func GetMessages(c *fiber.Ctx) error {
	conv, err := loadConversation(c, false)
	if err != nil {
		return err
	}

	limit := c.QueryInt("limit", reconcile.DefaultPageSize)
	if limit < 1 || limit > 500 {
		limit = reconcile.DefaultPageSize
	}

	view, err := snapshot(c.UserContext(), conv, middleware.GetIdentity(c), limit)
	if err != nil {
		return fiber.NewError(fiber.StatusBadGateway, "Message store unavailable")
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    view,
	})
}

// SendMessage sends the composed message through the relay. The message is
// not stored here; it reaches the history once the relay writes it back.
func SendMessage(c *fiber.Ctx) error {
	conv, err := loadConversation(c, true)
	if err != nil {
		return err
	}

	var req SendMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}

	id := middleware.GetIdentity(c)
	comp := &composer.Composer{
		Sender:   svc.Relay,
		Selector: svc.Selector,
		Builder:  svc.Builder,
		Self:     id,
		Log:      svc.Log,
	}
	comp.SetConversation(conv)
	if view, err := snapshot(c.UserContext(), conv, id, 0); err == nil {
		comp.ObserveMessages(view.Messages)
	}
	comp.SetDraft(req.Text)
	for _, a := range req.Attachments {
		if err := comp.AddAttachment(a); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
	}
	comp.SetReply(req.ReplyTo)

	out, err := comp.Send(c.UserContext(), middleware.GetToken(c), req.ForceTemplate)
	switch {
	case errors.Is(err, composer.ErrEmptyMessage):
		return fiber.NewError(fiber.StatusBadRequest, "Message text or attachment is required")
	case errors.Is(err, composer.ErrNoRecipient):
		return fiber.NewError(fiber.StatusUnprocessableEntity, "Conversation has no client phone")
	case err != nil:
		var rerr *relay.Error
		msg := err.Error()
		if errors.As(err, &rerr) {
			msg = rerr.Message
		}
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"success": false,
			"error":   msg,
			"data":    out,
		})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    out,
	})
}

// EditMessage replaces the text of an outbound message
func EditMessage(c *fiber.Ctx) error {
	conv, coll, err := ownMessage(c)
	if err != nil {
		return err
	}

	var req EditMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return fiber.NewError(fiber.StatusBadRequest, "Text is required")
	}

	if err := svc.Store.UpdateText(c.UserContext(), conv.ID, coll, c.Params("messageId"), text); err != nil {
		return storeError(err, "Failed to edit message")
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data": fiber.Map{
			"id":   c.Params("messageId"),
			"text": text,
		},
	})
}

// DeleteMessage removes an outbound message
func DeleteMessage(c *fiber.Ctx) error {
	conv, coll, err := ownMessage(c)
	if err != nil {
		return err
	}

	if err := svc.Store.Delete(c.UserContext(), conv.ID, coll, c.Params("messageId")); err != nil {
		return storeError(err, "Failed to delete message")
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data": fiber.Map{
			"id": c.Params("messageId"),
		},
	})
}

// ownMessage resolves a writable conversation and checks the addressed
// message was sent by the agent side.
func ownMessage(c *fiber.Ctx) (models.Conversation, models.Collection, error) {
	conv, err := loadConversation(c, true)
	if err != nil {
		return conv, "", err
	}

	coll := models.Collection(c.Query("collection", string(models.CollectionMessages)))
	if !coll.Valid() {
		return conv, "", fiber.NewError(fiber.StatusBadRequest, "collection must be messages or msgs")
	}

	rec, err := svc.Store.Message(c.UserContext(), conv.ID, coll, c.Params("messageId"))
	if err != nil {
		return conv, "", storeError(err, "Failed to load message")
	}
	if !normalize.Message(rec, middleware.GetIdentity(c)).IsOutbound() {
		return conv, "", fiber.NewError(fiber.StatusForbidden, "Only outbound messages can be changed")
	}
	return conv, coll, nil
}

func storeError(err error, msg string) error {
	if errors.Is(err, store.ErrNotFound) {
		return fiber.NewError(fiber.StatusNotFound, "Message not found")
	}
	svc.Log.Error(msg, zap.Error(err))
	return fiber.NewError(fiber.StatusInternalServerError, msg)
}
