package middleware

import (
	"strings"

	"crmchat/server/internal/models"
	"crmchat/server/internal/utils"

	"github.com/gofiber/fiber/v2"
)

// Locals keys set by Auth. They survive the websocket upgrade.
const (
	LocalIdentity = "identity"
	LocalToken    = "token"
)

// Auth validates the session JWT. The token is read from the Authorization
// header, then the "token" cookie, then the "token" query parameter, which
// browsers need for websocket upgrades.
func Auth(secret []byte) fiber.Handler {
	return func(c *fiber.Ctx) error {
		tokenString := bearer(c.Get(fiber.HeaderAuthorization))
		if tokenString == "" {
			tokenString = c.Cookies("token")
		}
		if tokenString == "" {
			tokenString = c.Query("token")
		}
		if tokenString == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"success": false,
				"error":   "Unauthorized - No token provided",
			})
		}

		claims, err := utils.ValidateToken(secret, tokenString)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"success": false,
				"error":   "Unauthorized - Invalid token",
			})
		}

		// Store session info in context
		c.Locals(LocalIdentity, claims.Identity())
		c.Locals(LocalToken, tokenString)

		return c.Next()
	}
}

func bearer(header string) string {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// GetIdentity gets the signed-in agent from context
func GetIdentity(c *fiber.Ctx) models.Identity {
	id, _ := c.Locals(LocalIdentity).(models.Identity)
	return id
}

// GetToken gets the raw session token, forwarded to the relay
func GetToken(c *fiber.Ctx) string {
	token, _ := c.Locals(LocalToken).(string)
	return token
}
