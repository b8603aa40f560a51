// handlers/quest_routes.go
package handlers

import (
	"dao-reputation-system/middleware"
	"dao-reputation-system/models"
	"dao-reputation-system/services"

	"github.com/gofiber/fiber/v2"
)

func SetupQuestRoutes(app *fiber.App, quests *services.QuestService, ledger *services.LedgerService, config *services.ConfigService) {
	app.Get("/user/quests", middleware.UserContextMiddleware(), func(c *fiber.Ctx) error {
		userID := c.Locals("user_id").(string)
		statuses, err := quests.GetQuestProgress(userID)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(fiber.Map{"quests": statuses})
	})

	// Internal producer endpoint: the task, proposal and voting subsystems
	// report qualifying member events here. The gateway token already guards
	// the whole app; this path additionally never trusts a user header.
	app.Post("/s/internal/events", func(c *fiber.Ctx) error {
		var req struct {
			UserID         string             `json:"user_id"`
			EventType      models.XpEventType `json:"event_type"`
			Points         int64              `json:"points"` // optional spendable-points payout
			IdempotencyKey string             `json:"idempotency_key"`
			Metadata       string             `json:"metadata"`
		}
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "invalid JSON",
				"cause": err.Error(),
			})
		}
		if req.UserID == "" || !req.EventType.Valid() {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "user_id and a known event_type are required",
				"code":  "validation_error",
			})
		}

		cfg, err := config.Get()
		if err != nil {
			return respondError(c, err)
		}

		var change *services.LevelChange
		if xp := cfg.EventRewards[req.EventType]; xp > 0 {
			change, err = ledger.AppendXpEvent(req.UserID, req.EventType, xp, req.Metadata, req.IdempotencyKey)
			if err != nil {
				return respondError(c, err)
			}
		}

		if req.Points > 0 {
			if err := ledger.CreditPoints(req.UserID, req.Points); err != nil {
				return respondError(c, err)
			}
		}

		updated, err := quests.RecordQuestEvent(req.UserID, req.EventType)
		if err != nil {
			return respondError(c, err)
		}

		response := fiber.Map{"quests": updated}
		if change != nil {
			response["old_level"] = change.OldLevel
			response["new_level"] = change.NewLevel
			response["leveled_up"] = change.LeveledUp
		}
		return c.JSON(response)
	})
}
