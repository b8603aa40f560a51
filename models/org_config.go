package models

import "time"

// OrgConfig is the single versioned row of admin-editable gamification
// parameters. Payload is the serialized GamificationConfig; it is validated on
// every admin write and again on load, so stored data is never trusted blindly.
type OrgConfig struct {
	ID        uint   `gorm:"primaryKey" json:"id"`
	Version   int    `gorm:"default:1" json:"version"`
	Payload   string `gorm:"type:jsonb;not null" json:"payload"`
	UpdatedBy string `json:"updated_by,omitempty"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// LevelDefinition is one step of the org's level curve. Thresholds are
// cumulative XP and strictly increasing; level 1 sits at 0.
type LevelDefinition struct {
	Level       int    `json:"level"`
	XPThreshold int64  `json:"xp_threshold"`
	DisplayName string `json:"display_name"`
	Color       string `json:"color"`
}

// ReferralRewards are the XP amounts paid on referral completion. The referee
// side defaults to 0, which disables it.
type ReferralRewards struct {
	ReferrerXP int64 `json:"referrer_xp"`
	RefereeXP  int64 `json:"referee_xp"`
}

// GamificationConfig is the typed shape of OrgConfig.Payload.
type GamificationConfig struct {
	LevelCurve       []LevelDefinition     `json:"level_curve"`
	BurnExchangeRate int64                 `json:"burn_exchange_rate"` // points per 1 XP
	QuestCatalog     []Quest               `json:"quest_catalog"`
	ReferralRewards  ReferralRewards       `json:"referral_rewards"`
	EventRewards     map[XpEventType]int64 `json:"event_rewards"` // base XP per domain event
	ReferralTTLDays  int                   `json:"referral_ttl_days"`
}

// LevelForXP returns the highest level whose threshold is covered by xp.
func (c *GamificationConfig) LevelForXP(xp int64) int {
	level := 1
	for _, def := range c.LevelCurve {
		if xp >= def.XPThreshold {
			level = def.Level
		} else {
			break
		}
	}
	return level
}

// LevelDef returns the definition for level, or nil if the curve doesn't
// define it.
func (c *GamificationConfig) LevelDef(level int) *LevelDefinition {
	for i := range c.LevelCurve {
		if c.LevelCurve[i].Level == level {
			return &c.LevelCurve[i]
		}
	}
	return nil
}

// MaxLevel is the top of the configured curve.
func (c *GamificationConfig) MaxLevel() int {
	if len(c.LevelCurve) == 0 {
		return 1
	}
	return c.LevelCurve[len(c.LevelCurve)-1].Level
}

// ActiveQuests returns the catalog entries whose window covers now, in
// sort-order.
func (c *GamificationConfig) ActiveQuests(now time.Time) []Quest {
	active := make([]Quest, 0, len(c.QuestCatalog))
	for _, q := range c.QuestCatalog {
		if q.ActiveAt(now) {
			active = append(active, q)
		}
	}
	for i := 1; i < len(active); i++ { // catalog is small, insertion sort is fine
		for j := i; j > 0 && active[j].SortOrder < active[j-1].SortOrder; j-- {
			active[j], active[j-1] = active[j-1], active[j]
		}
	}
	return active
}
