package models

// Member is a local snapshot of member identity data from the profile service.
// Owned and managed solely by the reputation service's sync worker; never
// written back upstream.
type Member struct {
	ID             string  `gorm:"primaryKey;type:uuid" json:"id"`
	ExternalUserID string  `gorm:"uniqueIndex;not null" json:"external_user_id"` // the profile service's UUID
	Username       string  `gorm:"index;not null" json:"username"`
	Email          string  `json:"email,omitempty"`
	AvatarURL      *string `json:"avatar_url,omitempty"`

	// Referral code the member signed up with, if any. The sync worker turns
	// this into a pending referral.
	ReferralCodeUsed *string `json:"referral_code_used,omitempty"`

	Timestamps
}
