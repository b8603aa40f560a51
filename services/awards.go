package services

import (
	"fmt"
	"log"

	"dao-reputation-system/models"
)

// AwardRule is one cross-cutting achievement trigger, evaluated against the
// member's profile after every qualifying ledger append. Each rule produces
// zero or one achievement grant; the idempotency key on the grant makes it
// fire at most once per member.
type AwardRule struct {
	Code     string
	Name     string
	XPReward int64
	Met      func(p *models.ProgressionProfile) bool
}

// AwardCatalog holds the built-in achievement triggers.
var AwardCatalog = []AwardRule{
	{
		Code: "first-task", Name: "First Task", XPReward: 25,
		Met: func(p *models.ProgressionProfile) bool { return p.TasksCompleted >= 1 },
	},
	{
		Code: "task-10", Name: "Task Machine", XPReward: 100,
		Met: func(p *models.ProgressionProfile) bool { return p.TasksCompleted >= 10 },
	},
	{
		Code: "task-50", Name: "Workhorse", XPReward: 400,
		Met: func(p *models.ProgressionProfile) bool { return p.TasksCompleted >= 50 },
	},
	{
		Code: "streak-7", Name: "Week Streak", XPReward: 100,
		Met: func(p *models.ProgressionProfile) bool { return p.LongestStreak >= 7 },
	},
	{
		Code: "streak-30", Name: "Month Streak", XPReward: 500,
		Met: func(p *models.ProgressionProfile) bool { return p.LongestStreak >= 30 },
	},
	{
		Code: "level-5", Name: "Rising Star", XPReward: 200,
		Met: func(p *models.ProgressionProfile) bool { return p.Level >= 5 },
	},
}

// EvaluateAwardRules appends achievement_unlocked events for every rule the
// profile now satisfies. Safe to call repeatedly.
func (s *LedgerService) EvaluateAwardRules(userID string) error {
	profile, err := s.GetProfile(userID)
	if err != nil {
		return err
	}
	for _, rule := range AwardCatalog {
		if !rule.Met(profile) {
			continue
		}
		key := fmt.Sprintf("achievement:%s:user:%s", rule.Code, userID)
		metadata := fmt.Sprintf(`{"achievement":%q,"name":%q}`, rule.Code, rule.Name)
		change, err := s.AppendXpEvent(userID, models.XpEventAchievementUnlocked, rule.XPReward, metadata, key)
		if err != nil {
			return err
		}
		if !change.Duplicate {
			log.Printf("🎖️ Achievement unlocked: %s → %s (+%d XP)", rule.Code, userID, rule.XPReward)
		}
	}
	return nil
}

// GetAchievements lists the achievement grants a member has earned.
func (s *LedgerService) GetAchievements(userID string) ([]models.XpEvent, error) {
	var events []models.XpEvent
	if err := s.DB.Where("user_id = ? AND event_type = ?", userID, models.XpEventAchievementUnlocked).
		Order("created_at ASC").
		Find(&events).Error; err != nil {
		return nil, storageError(err)
	}
	return events, nil
}
