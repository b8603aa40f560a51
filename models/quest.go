package models

import "time"

// Quest is one entry of the admin-editable quest catalog (org config, not its
// own table). Criteria: EventType + TargetCount.
type Quest struct {
	ID          string      `json:"id"`
	Slug        string      `json:"slug"`
	Title       string      `json:"title"`
	EventType   XpEventType `json:"event_type"`
	TargetCount int         `json:"target_count"`
	XPReward    int64       `json:"xp_reward"`
	StartsAt    *time.Time  `json:"starts_at,omitempty"`
	EndsAt      *time.Time  `json:"ends_at,omitempty"`
	SortOrder   int         `json:"sort_order"`
}

// ActiveAt reports whether the quest's optional window covers t.
func (q Quest) ActiveAt(t time.Time) bool {
	if q.StartsAt != nil && t.Before(*q.StartsAt) {
		return false
	}
	if q.EndsAt != nil && t.After(*q.EndsAt) {
		return false
	}
	return true
}

// QuestProgress tracks one member against one quest. ProgressCount never
// exceeds TargetCount; CompletedAt is set exactly once, the first time the
// target is reached.
type QuestProgress struct {
	ID            string     `gorm:"primaryKey;type:uuid" json:"id"`
	UserID        string     `gorm:"not null;uniqueIndex:idx_quest_progress_user_quest" json:"user_id"`
	QuestID       string     `gorm:"not null;uniqueIndex:idx_quest_progress_user_quest" json:"quest_id"`
	ProgressCount int        `json:"progress_count" gorm:"default:0"`
	TargetCount   int        `json:"target_count"` // copied from the quest at evaluation time
	CompletedAt   *time.Time `json:"completed_at,omitempty"`

	Timestamps
}
