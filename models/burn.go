package models

import "time"

// BurnTransaction records one successful points→XP conversion. One row per
// burn; the idempotency key stops a retried submission from applying twice.
type BurnTransaction struct {
	ID             string `gorm:"primaryKey;type:uuid" json:"id"`
	UserID         string `gorm:"index;not null" json:"user_id"`
	PointsSpent    int64  `json:"points_spent"`
	XPGranted      int64  `json:"xp_granted"`
	ResultingLevel int    `json:"resulting_level"`
	IdempotencyKey string `gorm:"uniqueIndex;not null" json:"idempotency_key"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
}
