package services

import (
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"dao-reputation-system/models"

	"github.com/gosimple/slug"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gorm.io/gorm"
)

// configCacheTTL keeps admin edits visible within tens of seconds without a
// DB read on every request.
const configCacheTTL = 30 * time.Second

// ConfigService serves the org's gamification parameters from a process-wide
// TTL cache, and owns the write boundary where admin edits are validated.
type ConfigService struct {
	DB *gorm.DB

	mu        sync.RWMutex
	cached    *models.GamificationConfig
	version   int
	expiresAt time.Time
}

func NewConfigService(db *gorm.DB) *ConfigService {
	return &ConfigService{DB: db}
}

// DefaultConfig is the seed configuration used when no OrgConfig row exists
// yet. The numbers are editable defaults, not contract.
func DefaultConfig() models.GamificationConfig {
	names := []string{
		"newcomer", "contributor", "builder", "veteran", "advocate",
		"champion", "luminary", "pioneer", "elder", "legend",
	}
	thresholds := []int64{0, 100, 250, 450, 700, 1000, 1350, 1750, 2200, 2700}
	colors := []string{"#9ca3af", "#22c55e", "#3b82f6", "#8b5cf6", "#f59e0b", "#ef4444"}

	title := cases.Title(language.English)
	curve := make([]models.LevelDefinition, len(thresholds))
	for i := range thresholds {
		curve[i] = models.LevelDefinition{
			Level:       i + 1,
			XPThreshold: thresholds[i],
			DisplayName: title.String(names[i]),
			Color:       colors[i%len(colors)],
		}
	}

	return models.GamificationConfig{
		LevelCurve:       curve,
		BurnExchangeRate: 10,
		QuestCatalog: []models.Quest{
			{Title: "First Steps", EventType: models.XpEventTaskCompleted, TargetCount: 1, XPReward: 50, SortOrder: 1},
			{Title: "Task Machine", EventType: models.XpEventTaskCompleted, TargetCount: 10, XPReward: 250, SortOrder: 2},
			{Title: "Voice Heard", EventType: models.XpEventVoteCast, TargetCount: 5, XPReward: 100, SortOrder: 3},
			{Title: "Proposal Pioneer", EventType: models.XpEventProposalCreated, TargetCount: 1, XPReward: 150, SortOrder: 4},
		},
		ReferralRewards: models.ReferralRewards{ReferrerXP: 250, RefereeXP: 0},
		EventRewards: map[models.XpEventType]int64{
			models.XpEventTaskCompleted:   10,
			models.XpEventVoteCast:        5,
			models.XpEventProposalCreated: 25,
		},
		ReferralTTLDays: 30,
	}
}

// ValidateConfig checks a config against the schema rules and normalizes it in
// place (quest slugs and ids derived from titles when absent). Malformed
// shapes are rejected at this boundary rather than trusted in storage.
func ValidateConfig(cfg *models.GamificationConfig) error {
	if len(cfg.LevelCurve) < 2 {
		return validationError("level_curve", "level curve needs at least 2 levels, got %d", len(cfg.LevelCurve))
	}
	for i, def := range cfg.LevelCurve {
		if def.Level != i+1 {
			return validationError("level_curve", "levels must be numbered 1..N without gaps (index %d has level %d)", i, def.Level)
		}
		if i == 0 && def.XPThreshold != 0 {
			return validationError("level_curve", "level 1 threshold must be 0, got %d", def.XPThreshold)
		}
		if i > 0 && def.XPThreshold <= cfg.LevelCurve[i-1].XPThreshold {
			return validationError("level_curve", "thresholds must be strictly increasing (level %d)", def.Level)
		}
	}
	if cfg.BurnExchangeRate < 1 {
		return validationError("burn_exchange_rate", "exchange rate must be at least 1 point per XP, got %d", cfg.BurnExchangeRate)
	}
	seen := make(map[string]bool, len(cfg.QuestCatalog))
	for i := range cfg.QuestCatalog {
		q := &cfg.QuestCatalog[i]
		if q.Title == "" {
			return validationError("quest_catalog", "quest %d has no title", i)
		}
		if q.Slug == "" {
			q.Slug = slug.Make(q.Title)
		}
		if q.ID == "" {
			q.ID = q.Slug
		}
		if seen[q.ID] {
			return validationError("quest_catalog", "duplicate quest id %q", q.ID)
		}
		seen[q.ID] = true
		if !q.EventType.Valid() {
			return validationError("quest_catalog", "quest %q has unknown event type %q", q.ID, q.EventType)
		}
		if q.TargetCount < 1 {
			return validationError("quest_catalog", "quest %q target count must be positive", q.ID)
		}
		if q.XPReward < 0 {
			return validationError("quest_catalog", "quest %q reward cannot be negative", q.ID)
		}
		if q.StartsAt != nil && q.EndsAt != nil && !q.EndsAt.After(*q.StartsAt) {
			return validationError("quest_catalog", "quest %q window ends before it starts", q.ID)
		}
	}
	if cfg.ReferralRewards.ReferrerXP < 0 || cfg.ReferralRewards.RefereeXP < 0 {
		return validationError("referral_rewards", "referral rewards cannot be negative")
	}
	for eventType, xp := range cfg.EventRewards {
		if !eventType.Valid() {
			return validationError("event_rewards", "unknown event type %q", eventType)
		}
		if xp < 0 {
			return validationError("event_rewards", "reward for %q cannot be negative", eventType)
		}
	}
	if cfg.ReferralTTLDays < 1 {
		return validationError("referral_ttl_days", "referral TTL must be at least 1 day, got %d", cfg.ReferralTTLDays)
	}
	return nil
}

// Get returns the current validated config, served from the TTL cache.
func (s *ConfigService) Get() (*models.GamificationConfig, error) {
	cfg, _, err := s.Snapshot()
	return cfg, err
}

// Snapshot returns the current config plus its version.
func (s *ConfigService) Snapshot() (*models.GamificationConfig, int, error) {
	s.mu.RLock()
	if s.cached != nil && time.Now().Before(s.expiresAt) {
		cfg, version := s.cached, s.version
		s.mu.RUnlock()
		return cfg, version, nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	// another goroutine may have refreshed while we waited for the lock
	if s.cached != nil && time.Now().Before(s.expiresAt) {
		return s.cached, s.version, nil
	}

	cfg, version, err := s.load()
	if err != nil {
		if s.cached != nil {
			log.Printf("⚠️ [CONFIG] refresh failed, serving stale config v%d: %v", s.version, err)
			return s.cached, s.version, nil
		}
		return nil, 0, err
	}
	s.cached, s.version, s.expiresAt = cfg, version, time.Now().Add(configCacheTTL)
	return cfg, version, nil
}

// load reads the OrgConfig row, seeding defaults on first boot.
func (s *ConfigService) load() (*models.GamificationConfig, int, error) {
	var row models.OrgConfig
	err := s.DB.Order("id ASC").First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return s.seedDefaults()
	}
	if err != nil {
		return nil, 0, storageError(err)
	}

	var cfg models.GamificationConfig
	if err := json.Unmarshal([]byte(row.Payload), &cfg); err != nil {
		return nil, 0, validationError("payload", "stored config v%d is malformed: %v", row.Version, err)
	}
	if err := ValidateConfig(&cfg); err != nil {
		return nil, 0, err
	}
	return &cfg, row.Version, nil
}

func (s *ConfigService) seedDefaults() (*models.GamificationConfig, int, error) {
	cfg := DefaultConfig()
	if err := ValidateConfig(&cfg); err != nil {
		return nil, 0, err
	}
	payload, err := json.Marshal(cfg)
	if err != nil {
		return nil, 0, storageError(err)
	}
	row := models.OrgConfig{Version: 1, Payload: string(payload), UpdatedBy: "system"}
	if err := s.DB.Create(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return s.load() // another instance seeded first
		}
		return nil, 0, storageError(err)
	}
	log.Printf("✅ [CONFIG] Seeded default gamification config v1")
	return &cfg, 1, nil
}

// ConfigPatch carries an admin edit. Nil fields are left untouched.
type ConfigPatch struct {
	LevelCurve       *[]models.LevelDefinition     `json:"level_curve"`
	BurnExchangeRate *int64                        `json:"burn_exchange_rate"`
	QuestCatalog     *[]models.Quest               `json:"quest_catalog"`
	ReferralRewards  *models.ReferralRewards       `json:"referral_rewards"`
	EventRewards     *map[models.XpEventType]int64 `json:"event_rewards"`
	ReferralTTLDays  *int                          `json:"referral_ttl_days"`
}

// UpdateConfig applies an admin patch under full schema validation, bumps the
// version and invalidates the cache. Invalid patches leave the stored config
// untouched.
func (s *ConfigService) UpdateConfig(patch ConfigPatch, updatedBy string) (*models.GamificationConfig, int, error) {
	var updated models.GamificationConfig
	var version int
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		var row models.OrgConfig
		err := lockForUpdate(tx).Order("id ASC").First(&row).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// first edit before any read seeded the row
			cfg := DefaultConfig()
			payload, _ := json.Marshal(cfg)
			row = models.OrgConfig{Version: 1, Payload: string(payload), UpdatedBy: "system"}
			if err := tx.Create(&row).Error; err != nil {
				return storageError(err)
			}
		} else if err != nil {
			return storageError(err)
		}

		var cfg models.GamificationConfig
		if err := json.Unmarshal([]byte(row.Payload), &cfg); err != nil {
			return validationError("payload", "stored config v%d is malformed: %v", row.Version, err)
		}

		if patch.LevelCurve != nil {
			cfg.LevelCurve = *patch.LevelCurve
		}
		if patch.BurnExchangeRate != nil {
			cfg.BurnExchangeRate = *patch.BurnExchangeRate
		}
		if patch.QuestCatalog != nil {
			cfg.QuestCatalog = *patch.QuestCatalog
		}
		if patch.ReferralRewards != nil {
			cfg.ReferralRewards = *patch.ReferralRewards
		}
		if patch.EventRewards != nil {
			cfg.EventRewards = *patch.EventRewards
		}
		if patch.ReferralTTLDays != nil {
			cfg.ReferralTTLDays = *patch.ReferralTTLDays
		}

		if err := ValidateConfig(&cfg); err != nil {
			return err
		}

		payload, err := json.Marshal(cfg)
		if err != nil {
			return storageError(err)
		}
		row.Payload = string(payload)
		row.Version++
		row.UpdatedBy = updatedBy
		if err := tx.Save(&row).Error; err != nil {
			return storageError(err)
		}

		updated = cfg
		version = row.Version
		return nil
	})
	if err != nil {
		return nil, 0, err
	}

	s.mu.Lock()
	s.cached, s.version, s.expiresAt = &updated, version, time.Now().Add(configCacheTTL)
	s.mu.Unlock()

	log.Printf("✅ [CONFIG] Gamification config updated to v%d by %s", version, updatedBy)
	return &updated, version, nil
}
