package services

import (
	"errors"
	"log"
	"time"

	"dao-reputation-system/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// LevelChange is the result of one ledger append.
type LevelChange struct {
	OldLevel  int   `json:"old_level"`
	NewLevel  int   `json:"new_level"`
	LeveledUp bool  `json:"leveled_up"`
	XPTotal   int64 `json:"xp_total"`

	// Duplicate marks an idempotency-key replay: nothing was applied.
	Duplicate bool `json:"-"`
}

// LedgerService owns the append-only XP event log and the profile fold over
// it. All XP mutation in the system goes through AppendXpEvent; quest,
// referral and burn services compose via AppendXpEventTx inside their own
// transactions.
type LedgerService struct {
	DB     *gorm.DB
	Config *ConfigService
}

func NewLedgerService(db *gorm.DB, config *ConfigService) *LedgerService {
	return &LedgerService{DB: db, Config: config}
}

// lockForUpdate adds a row lock on dialects that support it. SQLite (tests)
// has no FOR UPDATE; its single-writer model covers the same ground there.
func lockForUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "postgres" {
		return tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return tx
}

// AppendXpEvent appends one event and folds it into the member's profile in a
// single row-locked transaction. A duplicate idempotency key is a no-op
// success, not an error. Award rules run after the commit.
func (s *LedgerService) AppendXpEvent(userID string, eventType models.XpEventType, amount int64, metadata, idemKey string) (*LevelChange, error) {
	// resolve the config before the transaction: a cold-cache load must not
	// ride (or wait on) the transaction's connection
	cfg, err := s.Config.Get()
	if err != nil {
		return nil, err
	}

	var change *LevelChange
	err = withRetry(3, func() error {
		return s.DB.Transaction(func(tx *gorm.DB) error {
			var txErr error
			change, txErr = s.AppendXpEventTx(tx, cfg, userID, eventType, amount, metadata, idemKey)
			return txErr
		})
	})
	if err != nil {
		return nil, err
	}

	if !change.Duplicate && eventType != models.XpEventAchievementUnlocked {
		if aerr := s.EvaluateAwardRules(userID); aerr != nil {
			// the append itself committed; a failed rule pass will be retried
			// by the next qualifying event
			log.Printf("⚠️ [LEDGER] award rule evaluation failed for %s: %v", userID, aerr)
		}
	}
	return change, nil
}

// AppendXpEventTx is the transactional core of AppendXpEvent, for callers that
// need the append inside a larger atomic unit (burn, quest, referral). cfg is
// passed in so no config load ever happens while tx is open.
func (s *LedgerService) AppendXpEventTx(tx *gorm.DB, cfg *models.GamificationConfig, userID string, eventType models.XpEventType, amount int64, metadata, idemKey string) (*LevelChange, error) {
	if userID == "" {
		return nil, validationError("missing_user", "user id is required")
	}
	if !eventType.Valid() {
		return nil, validationError("unknown_event_type", "unknown event type %q", eventType)
	}
	if amount < 0 && eventType != models.XpEventAdminAdjustment {
		return nil, validationError("negative_amount", "only admin_adjustment may carry a negative amount")
	}

	profile, err := s.ensureProfileTx(tx, userID)
	if err != nil {
		return nil, err
	}

	if idemKey != "" {
		var count int64
		if err := tx.Model(&models.XpEvent{}).Where("idempotency_key = ?", idemKey).Count(&count).Error; err != nil {
			return nil, storageError(err)
		}
		if count > 0 {
			return &LevelChange{OldLevel: profile.Level, NewLevel: profile.Level, XPTotal: profile.XPTotal, Duplicate: true}, nil
		}
	}

	event := models.XpEvent{
		ID:        uuid.NewString(),
		UserID:    userID,
		EventType: eventType,
		XPAmount:  amount,
		Metadata:  metadata,
	}
	if idemKey != "" {
		event.IdempotencyKey = &idemKey
	}
	if err := tx.Create(&event).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			// lost the race on the idempotency key. The failed insert has
			// aborted this transaction on Postgres, so roll back and let the
			// retry's pre-check resolve the replay.
			return nil, newError(CodeStorage, ReasonWriteRace, "idempotency key %q raced a concurrent append", idemKey)
		}
		return nil, storageError(err)
	}

	oldLevel := profile.Level
	profile.XPTotal += amount
	if profile.XPTotal < 0 {
		profile.XPTotal = 0
	}
	profile.Level = cfg.LevelForXP(profile.XPTotal)
	if profile.Level < oldLevel && amount >= 0 {
		// positive grants never demote, even under a freshly shrunken curve
		profile.Level = oldLevel
	}
	if profile.Level > oldLevel {
		now := time.Now()
		profile.LastLevelUpAt = &now
	}

	applyActivity(profile, eventType)

	if err := tx.Save(profile).Error; err != nil {
		return nil, storageError(err)
	}

	change := &LevelChange{
		OldLevel:  oldLevel,
		NewLevel:  profile.Level,
		LeveledUp: profile.Level > oldLevel,
		XPTotal:   profile.XPTotal,
	}
	if change.LeveledUp {
		log.Printf("🎮 Level up: %s → L%d (xp=%d, event=%s)", userID, change.NewLevel, change.XPTotal, eventType)
	}
	return change, nil
}

// applyActivity updates the denormalized counters that member activity feeds.
// Burns, admin corrections and achievement grants are not member activity.
func applyActivity(p *models.ProgressionProfile, eventType models.XpEventType) {
	switch eventType {
	case models.XpEventBurnConversion, models.XpEventAdminAdjustment, models.XpEventAchievementUnlocked:
		return
	}
	if eventType == models.XpEventTaskCompleted {
		p.TasksCompleted++
	}

	today := time.Now().UTC().Truncate(24 * time.Hour)
	switch {
	case p.LastActiveDate == nil:
		p.CurrentStreak = 1
	case p.LastActiveDate.Equal(today):
		// second qualifying event today, streak unchanged
	case today.Sub(*p.LastActiveDate) <= 24*time.Hour:
		p.CurrentStreak++
	default:
		p.CurrentStreak = 1
	}
	if p.CurrentStreak > p.LongestStreak {
		p.LongestStreak = p.CurrentStreak
	}
	p.LastActiveDate = &today
}

// ensureProfileTx fetches the member's profile under a row lock, creating a
// level-1 profile if none exists yet.
func (s *LedgerService) ensureProfileTx(tx *gorm.DB, userID string) (*models.ProgressionProfile, error) {
	var profile models.ProgressionProfile
	err := lockForUpdate(tx).Where("user_id = ?", userID).First(&profile).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		profile = models.ProgressionProfile{ID: uuid.NewString(), UserID: userID, Level: 1}
		if err := tx.Create(&profile).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				// concurrent registration aborted this transaction; retry
				// finds the committed row
				return nil, newError(CodeStorage, ReasonWriteRace, "profile for %s raced a concurrent registration", userID)
			}
			return nil, storageError(err)
		}
		return &profile, nil
	}
	if err != nil {
		return nil, storageError(err)
	}
	return &profile, nil
}

// GetProfile returns the member's progression profile, creating it lazily.
func (s *LedgerService) GetProfile(userID string) (*models.ProgressionProfile, error) {
	if userID == "" {
		return nil, validationError("missing_user", "user id is required")
	}
	var profile models.ProgressionProfile
	err := s.DB.Where("user_id = ?", userID).First(&profile).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		err = withRetry(3, func() error {
			return s.DB.Transaction(func(tx *gorm.DB) error {
				p, txErr := s.ensureProfileTx(tx, userID)
				if txErr != nil {
					return txErr
				}
				profile = *p
				return nil
			})
		})
	}
	if err != nil {
		if _, ok := AsServiceError(err); ok {
			return nil, err
		}
		return nil, storageError(err)
	}
	return &profile, nil
}

// GetLevelInfo is a pure lookup into the configured level curve.
func (s *LedgerService) GetLevelInfo(level int) (*models.LevelDefinition, error) {
	cfg, err := s.Config.Get()
	if err != nil {
		return nil, err
	}
	def := cfg.LevelDef(level)
	if def == nil {
		return nil, notFoundError(ReasonUnknownLevel, "level %d is not defined", level)
	}
	return def, nil
}

// CreditPoints adds spendable points to a member's balance. Task payouts and
// reward flows outside this service call in through here.
func (s *LedgerService) CreditPoints(userID string, points int64) error {
	if points <= 0 {
		return validationError("nonpositive_points", "points credit must be positive, got %d", points)
	}
	return withRetry(3, func() error {
		return s.DB.Transaction(func(tx *gorm.DB) error {
			profile, err := s.ensureProfileTx(tx, userID)
			if err != nil {
				return err
			}
			profile.TotalPoints += points
			if err := tx.Save(profile).Error; err != nil {
				return storageError(err)
			}
			return nil
		})
	})
}

// GetEvents returns the member's most recent ledger entries, newest first.
func (s *LedgerService) GetEvents(userID string, limit int) ([]models.XpEvent, error) {
	if limit < 1 || limit > 200 {
		limit = 50
	}
	var events []models.XpEvent
	if err := s.DB.Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&events).Error; err != nil {
		return nil, storageError(err)
	}
	return events, nil
}
