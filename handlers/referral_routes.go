// handlers/referral_routes.go
package handlers

import (
	"os"

	"dao-reputation-system/middleware"
	"dao-reputation-system/services"

	"github.com/gofiber/fiber/v2"
)

func SetupReferralRoutes(app *fiber.App, referrals *services.ReferralService) {
	// Pure read, no user context needed — the signup page calls this before
	// the visitor has an account.
	app.Get("/referral/validate/:code", func(c *fiber.Ctx) error {
		valid, referrerID, err := referrals.ValidateReferralCode(c.Params("code"))
		if err != nil {
			return respondError(c, err)
		}
		if !valid {
			return c.JSON(fiber.Map{"valid": false})
		}
		return c.JSON(fiber.Map{"valid": true, "referrer_id": referrerID})
	})

	userCtx := middleware.UserContextMiddleware()

	app.Get("/user/referral/stats", userCtx, func(c *fiber.Ctx) error {
		userID := c.Locals("user_id").(string)

		origin := c.Query("origin")
		if origin == "" {
			origin = c.Get("Origin")
		}
		if origin == "" {
			origin = os.Getenv("FRONTEND_BASE_URL")
		}

		stats, err := referrals.GetReferralStats(userID, origin)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(stats)
	})

	app.Post("/user/referral/redeem", userCtx, func(c *fiber.Ctx) error {
		userID := c.Locals("user_id").(string)
		var req struct {
			Code string `json:"code"`
		}
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "invalid JSON",
				"cause": err.Error(),
			})
		}
		ref, err := referrals.RedeemReferralCode(req.Code, userID)
		if err != nil {
			return respondError(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(ref)
	})

	app.Post("/referral/:id/complete", userCtx, func(c *fiber.Ctx) error {
		userID := c.Locals("user_id").(string)
		ref, err := referrals.CompleteReferral(c.Params("id"), userID)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(ref)
	})
}
