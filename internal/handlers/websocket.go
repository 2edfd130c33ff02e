package handlers

import (
	"context"

	"crmchat/server/internal/middleware"
	"crmchat/server/internal/models"
	ws "crmchat/server/internal/websocket"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
)

const localConversation = "conversationId"

var (
	// WSHub is the global WebSocket hub instance
	WSHub *ws.Hub
)

// InitWebSocket initializes the WebSocket hub
func InitWebSocket() {
	WSHub = ws.NewHub(svc.Log)
	go WSHub.Run()
	svc.Log.Info("WebSocket hub initialized")
}

// WebSocketUpgrade checks the request is an upgrade and the agent may read
// the conversation before the connection is accepted
func WebSocketUpgrade(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.NewError(fiber.StatusUpgradeRequired, "WebSocket upgrade required")
	}

	conv, err := loadConversation(c, false)
	if err != nil {
		return err
	}
	c.Locals(localConversation, conv.ID)

	return c.Next()
}

// ConversationStream pushes the reconciled message list of one
// conversation until the browser disconnects
func ConversationStream(c *websocket.Conn) {
	id, _ := c.Locals(middleware.LocalIdentity).(models.Identity)
	conversationID, _ := c.Locals(localConversation).(string)

	ctx := context.Background()
	client := ws.NewClient(c, WSHub, svc.Store, id, conversationID, svc.Log)

	if !WSHub.Join(client) {
		c.Close()
		return
	}

	go client.WritePump()
	client.Start(ctx)
	client.ReadPump(ctx) // This blocks until connection closes
}

// GetWebSocketStats returns stream statistics
func GetWebSocketStats(c *fiber.Ctx) error {
	if WSHub == nil {
		return fiber.NewError(fiber.StatusServiceUnavailable, "WebSocket hub not initialized")
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data": fiber.Map{
			"streams":       WSHub.GetOnlineCount(),
			"conversations": WSHub.Watchers(),
		},
	})
}
