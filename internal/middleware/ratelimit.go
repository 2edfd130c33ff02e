package middleware

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
)

// RateLimiter allows max requests per expiration window for each agent,
// or each client IP before authentication
func RateLimiter(max int, expiration time.Duration) fiber.Handler {
	return limit(max, expiration, agentKey)
}

// SendRateLimiter caps sends, edits and deletes per agent and conversation,
// so a burst to one contact does not lock the agent out of the others
func SendRateLimiter() fiber.Handler {
	return limit(30, time.Minute, func(c *fiber.Ctx) string {
		return agentKey(c) + "|conv:" + c.Params("id")
	})
}

// RelaxedRateLimiter for read-only endpoints
func RelaxedRateLimiter() fiber.Handler {
	return RateLimiter(100, time.Minute)
}

// CampaignRateLimiter for bulk sends
func CampaignRateLimiter() fiber.Handler {
	return RateLimiter(5, 15*time.Minute)
}

func limit(max int, expiration time.Duration, key func(*fiber.Ctx) string) fiber.Handler {
	retryAfter := strconv.Itoa(int(expiration.Seconds()))
	return limiter.New(limiter.Config{
		Max:          max,
		Expiration:   expiration,
		KeyGenerator: key,
		LimitReached: func(c *fiber.Ctx) error {
			c.Set(fiber.HeaderRetryAfter, retryAfter)
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"success": false,
				"error":   "Too many requests, please try again later",
			})
		},
	})
}

func agentKey(c *fiber.Ctx) string {
	if id := GetIdentity(c); id.UID != "" {
		return "uid:" + id.UID
	}
	return "ip:" + c.IP()
}
