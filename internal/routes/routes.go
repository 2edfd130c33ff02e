package routes

import (
	"crmchat/server/internal/handlers"
	"crmchat/server/internal/metrics"
	"crmchat/server/internal/middleware"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
)

// InitWebSocket initializes the WebSocket hub
func InitWebSocket() {
	handlers.InitWebSocket()
}

// SetupRoutes configures all application routes
func SetupRoutes(app *fiber.App, jwtSecret []byte) {
	auth := middleware.Auth(jwtSecret)

	// Prometheus scrape endpoint (public)
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	// API v1 group
	api := app.Group("/api/v1")

	// Health check (public)
	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"message": "CRM chat API is running",
		})
	})

	// Relay callbacks (shared secret)
	api.Post("/webhook/inbound", handlers.ReceiveInbound)

	// Conversation routes (protected)
	conversations := api.Group("/conversations", auth)
	conversations.Get("/", middleware.RelaxedRateLimiter(), handlers.GetConversations)
	conversations.Get("/:id", middleware.RelaxedRateLimiter(), handlers.GetConversation)
	conversations.Get("/:id/messages", middleware.RelaxedRateLimiter(), handlers.GetMessages)
	conversations.Post("/:id/messages", middleware.SendRateLimiter(), handlers.SendMessage)
	conversations.Patch("/:id/messages/:messageId", middleware.SendRateLimiter(), handlers.EditMessage)
	conversations.Delete("/:id/messages/:messageId", middleware.SendRateLimiter(), handlers.DeleteMessage)

	// Campaign routes (protected, admins only)
	api.Post("/campaigns", auth, middleware.CampaignRateLimiter(), handlers.RunCampaign)

	// WebSocket route (protected)
	api.Get("/ws/conversations/:id", auth, handlers.WebSocketUpgrade, websocket.New(handlers.ConversationStream))

	// WebSocket stats (protected, for debugging)
	api.Get("/ws/stats", auth, handlers.GetWebSocketStats)
}
