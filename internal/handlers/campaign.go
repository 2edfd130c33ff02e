package handlers

import (
	"crmchat/server/internal/campaign"
	"crmchat/server/internal/middleware"
	"crmchat/server/internal/models"

	"github.com/gofiber/fiber/v2"
)

// CampaignRequest represents a bulk send request body
type CampaignRequest struct {
	Recipients []models.Contact `json:"recipients"`
}

// RunCampaign sends the re-engagement template to every recipient and
// returns the per-recipient report. Admins only.
func RunCampaign(c *fiber.Ctx) error {
	id := middleware.GetIdentity(c)
	if !svc.Policy.IsAdmin(id) {
		return fiber.NewError(fiber.StatusForbidden, "Campaigns are restricted to admins")
	}

	var req CampaignRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}
	if len(req.Recipients) == 0 {
		return fiber.NewError(fiber.StatusBadRequest, "At least one recipient is required")
	}
	if svc.Campaign == nil {
		return fiber.NewError(fiber.StatusServiceUnavailable, "Campaigns are not configured")
	}

	report := svc.Campaign.Run(c.UserContext(), campaign.Request{
		Recipients:  req.Recipients,
		SellerEmail: id.Email,
		Token:       middleware.GetToken(c),
	})

	return c.JSON(fiber.Map{
		"success": true,
		"data":    report,
	})
}
