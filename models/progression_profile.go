package models

import (
	"time"

	"gorm.io/gorm"
)

// ProgressionProfile is the denormalized reputation state for one DAO member.
// Owned solely by the ledger service: every XP mutation flows through
// LedgerService.AppendXpEvent, never through direct writes.
type ProgressionProfile struct {
	ID     string `gorm:"primaryKey;type:uuid" json:"id"`
	UserID string `gorm:"uniqueIndex;not null" json:"user_id"` // profile service UUID

	// Core progression
	XPTotal     int64 `json:"xp_total" gorm:"default:0"`
	Level       int   `json:"level" gorm:"default:1"`
	TotalPoints int64 `json:"total_points" gorm:"default:0"` // spendable balance, debited by burns

	// Activity counters
	TasksCompleted int64      `json:"tasks_completed" gorm:"default:0"`
	CurrentStreak  int        `json:"current_streak" gorm:"default:0"`
	LongestStreak  int        `json:"longest_streak" gorm:"default:0"`
	LastActiveDate *time.Time `json:"last_active_date,omitempty"`

	// Milestones
	LastLevelUpAt *time.Time `json:"last_level_up_at,omitempty"`

	Timestamps
}

// Timestamps adds GORM auto-times
type Timestamps struct {
	CreatedAt time.Time      `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time      `json:"updated_at" gorm:"autoUpdateTime"`
	DeletedAt gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`
}
