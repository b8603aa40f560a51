package models

import "time"

type ReferralStatus string

const (
	ReferralStatusPending   ReferralStatus = "pending"
	ReferralStatusCompleted ReferralStatus = "completed"
	ReferralStatusInvalid   ReferralStatus = "invalid"
	ReferralStatusExpired   ReferralStatus = "expired"
)

// ReferralCode is a member's shareable invite code. Generated lazily and
// deterministically, so a member always sees the same code.
type ReferralCode struct {
	Code    string `gorm:"primaryKey;size:16" json:"code"`
	OwnerID string `gorm:"uniqueIndex;not null" json:"owner_id"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
}

// Referral is one redemption of a code. Status only ever moves
// pending → completed | invalid | expired, never back.
type Referral struct {
	ID         string         `gorm:"primaryKey;type:uuid" json:"id"`
	ReferrerID string         `gorm:"index;not null" json:"referrer_id"`
	RefereeID  string         `gorm:"uniqueIndex;not null" json:"referee_id"` // one referral per member
	Code       string         `gorm:"not null" json:"code"`
	Status     ReferralStatus `gorm:"type:varchar(16);default:'pending';index" json:"status"`

	CompletedAt *time.Time `json:"completed_at,omitempty"`

	Timestamps
}
