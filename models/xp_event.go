package models

import "time"

// XpEventType is the closed set of qualifying events the ledger accepts.
type XpEventType string

const (
	XpEventTaskCompleted       XpEventType = "task_completed"
	XpEventQuestCompleted      XpEventType = "quest_completed"
	XpEventReferralCompleted   XpEventType = "referral_completed"
	XpEventBurnConversion      XpEventType = "burn_conversion"
	XpEventAdminAdjustment     XpEventType = "admin_adjustment"
	XpEventAchievementUnlocked XpEventType = "achievement_unlocked"
	XpEventProposalCreated     XpEventType = "proposal_created"
	XpEventVoteCast            XpEventType = "vote_cast"
)

func (t XpEventType) Valid() bool {
	switch t {
	case XpEventTaskCompleted, XpEventQuestCompleted, XpEventReferralCompleted,
		XpEventBurnConversion, XpEventAdminAdjustment, XpEventAchievementUnlocked,
		XpEventProposalCreated, XpEventVoteCast:
		return true
	}
	return false
}

// XpEvent is one row of the append-only XP ledger. Rows are never updated or
// deleted once written; the profile's xp_total is a fold over this table.
type XpEvent struct {
	ID        string      `gorm:"primaryKey;type:uuid" json:"id"`
	UserID    string      `gorm:"index;not null" json:"user_id"`
	EventType XpEventType `gorm:"type:varchar(32);not null;index" json:"event_type"`
	XPAmount  int64       `json:"xp_amount"` // negative only for admin_adjustment
	Metadata  string      `gorm:"type:jsonb" json:"metadata,omitempty"`

	// IdempotencyKey dedupes logical awards (quest id + user id, referral id,
	// burn request id). A duplicate key makes the append a no-op success.
	IdempotencyKey *string `gorm:"uniqueIndex" json:"idempotency_key,omitempty"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`

	// Archive worker bookkeeping, not part of the ledger fact itself.
	Archived bool `json:"-" gorm:"default:false;index"`
}
