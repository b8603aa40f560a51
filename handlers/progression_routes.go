// handlers/progression_routes.go
package handlers

import (
	"strconv"

	"dao-reputation-system/middleware"
	"dao-reputation-system/models"
	"dao-reputation-system/services"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

func SetupProgressionRoutes(app *fiber.App, ledger *services.LedgerService, burn *services.BurnService, leaderboard *services.LeaderboardService, config *services.ConfigService, members *services.MemberService) {
	// 🔐 Secured routes — require the user context forwarded by the Gateway.
	// Attached per route: Group("/") would register an app-wide Use and
	// swallow the public endpoints registered after it.
	userCtx := middleware.UserContextMiddleware()

	app.Get("/user/progress", userCtx, func(c *fiber.Ctx) error {
		userID := c.Locals("user_id").(string)

		profile, err := ledger.GetProfile(userID)
		if err != nil {
			return respondError(c, err)
		}

		response := fiber.Map{
			"id":               profile.ID,
			"user_id":          profile.UserID,
			"xp_total":         profile.XPTotal,
			"level":            profile.Level,
			"total_points":     profile.TotalPoints,
			"tasks_completed":  profile.TasksCompleted,
			"current_streak":   profile.CurrentStreak,
			"longest_streak":   profile.LongestStreak,
			"last_active_date": profile.LastActiveDate,
			"last_level_up_at": profile.LastLevelUpAt,
		}

		if def, err := ledger.GetLevelInfo(profile.Level); err == nil {
			response["level_name"] = def.DisplayName
			response["level_color"] = def.Color
		}

		return c.JSON(response)
	})

	app.Get("/user/progress/events", userCtx, func(c *fiber.Ctx) error {
		userID := c.Locals("user_id").(string)
		limit, _ := strconv.Atoi(c.Query("limit", "50"))
		events, err := ledger.GetEvents(userID, limit)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(fiber.Map{"events": events})
	})

	app.Get("/user/achievements", userCtx, func(c *fiber.Ctx) error {
		userID := c.Locals("user_id").(string)
		achievements, err := ledger.GetAchievements(userID)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(fiber.Map{"achievements": achievements})
	})

	app.Get("/levels/:level", userCtx, func(c *fiber.Ctx) error {
		level, err := strconv.Atoi(c.Params("level"))
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "level must be a number",
				"code":  "validation_error",
			})
		}
		def, lookupErr := ledger.GetLevelInfo(level)
		if lookupErr != nil {
			return respondError(c, lookupErr)
		}
		return c.JSON(def)
	})

	app.Get("/user/burn/cost", userCtx, func(c *fiber.Ctx) error {
		userID := c.Locals("user_id").(string)
		quote, err := burn.GetBurnCost(userID)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(fiber.Map{
			"cost_points": quote.CostPoints,
			"next_level":  quote.NextLevel,
			"affordable":  quote.Affordable,
		})
	})

	app.Post("/user/burn", userCtx, func(c *fiber.Ctx) error {
		userID := c.Locals("user_id").(string)

		// the burn request id dedupes client retries; generate one when the
		// client doesn't send it
		idemKey := c.Get("X-Idempotency-Key")
		if idemKey == "" {
			idemKey = uuid.NewString()
		}

		tx, change, err := burn.BurnPointsToLevelUp(userID, idemKey)
		if err != nil {
			return respondError(c, err)
		}

		profile, err := ledger.GetProfile(userID)
		if err != nil {
			return respondError(c, err)
		}

		return c.JSON(fiber.Map{
			"transaction": tx,
			"old_level":   change.OldLevel,
			"new_level":   change.NewLevel,
			"leveled_up":  change.LeveledUp,
			"profile":     profile,
		})
	})

	app.Get("/user/burn/history", userCtx, func(c *fiber.Ctx) error {
		userID := c.Locals("user_id").(string)
		limit, _ := strconv.Atoi(c.Query("limit", "20"))
		burns, err := burn.GetBurnHistory(userID, limit)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(fiber.Map{"burns": burns})
	})

	app.Get("/leaderboard", func(c *fiber.Ctx) error {
		limit, _ := strconv.Atoi(c.Query("limit", "100"))
		entries, err := leaderboard.GetLeaderboard(limit)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(fiber.Map{"leaderboard": entries})
	})

	app.Get("/members/search", members.SearchMembers)

	// Admin endpoints
	adminGroup := app.Group("/s/admin", middleware.UserContextMiddleware(), middleware.RequireRole("admin"))

	adminGroup.Post("/xp/grant", func(c *fiber.Ctx) error {
		var req struct {
			UserID         string `json:"user_id"`
			XP             int64  `json:"xp"` // may be negative for corrections
			Reason         string `json:"reason"`
			IdempotencyKey string `json:"idempotency_key"`
		}
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "invalid JSON",
				"cause": err.Error(),
			})
		}
		if req.UserID == "" || req.XP == 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "user_id and a non-zero xp amount are required",
				"code":  "validation_error",
			})
		}

		metadata := "{}"
		if req.Reason != "" {
			metadata = `{"reason":` + strconv.Quote(req.Reason) + `}`
		}
		change, err := ledger.AppendXpEvent(req.UserID, models.XpEventAdminAdjustment, req.XP, metadata, req.IdempotencyKey)
		if err != nil {
			return respondError(c, err)
		}

		return c.JSON(fiber.Map{
			"message":    "XP adjusted successfully",
			"user_id":    req.UserID,
			"xp":         req.XP,
			"old_level":  change.OldLevel,
			"new_level":  change.NewLevel,
			"leveled_up": change.LeveledUp,
		})
	})

	adminGroup.Get("/config", func(c *fiber.Ctx) error {
		cfg, version, err := config.Snapshot()
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(fiber.Map{"version": version, "config": cfg})
	})

	adminGroup.Patch("/config", func(c *fiber.Ctx) error {
		var patch services.ConfigPatch
		if err := c.BodyParser(&patch); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "invalid JSON",
				"cause": err.Error(),
			})
		}
		updatedBy := c.Locals("user_id").(string)
		cfg, version, err := config.UpdateConfig(patch, updatedBy)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(fiber.Map{"version": version, "config": cfg})
	})
}

// respondError maps the service error taxonomy onto HTTP statuses. Anything
// unrecognized is a 500.
func respondError(c *fiber.Ctx, err error) error {
	if se, ok := services.AsServiceError(err); ok {
		status := fiber.StatusInternalServerError
		switch se.Code {
		case services.CodeValidation:
			status = fiber.StatusBadRequest
		case services.CodeAuthentication:
			status = fiber.StatusUnauthorized
		case services.CodeAuthorization:
			status = fiber.StatusForbidden
		case services.CodeNotFound:
			status = fiber.StatusNotFound
		case services.CodeConflict:
			status = fiber.StatusConflict
		}
		return c.Status(status).JSON(fiber.Map{
			"error":  se.Message,
			"code":   string(se.Code),
			"reason": se.Reason,
		})
	}
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"error": "internal error",
		"cause": err.Error(),
	})
}
