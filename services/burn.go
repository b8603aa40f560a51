package services

import (
	"errors"
	"fmt"

	"dao-reputation-system/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// BurnQuote answers "what would it cost to reach the next level right now".
type BurnQuote struct {
	CostPoints int64 `json:"cost_points"`
	NextLevel  int   `json:"next_level"`
	XPDeficit  int64 `json:"xp_deficit"`
	Affordable bool  `json:"affordable"`
}

// BurnService converts spendable points into XP at the configured exchange
// rate, capped at the next level's threshold so no point is spent on XP the
// member would have earned anyway.
type BurnService struct {
	DB     *gorm.DB
	Config *ConfigService
	Ledger *LedgerService
}

func NewBurnService(db *gorm.DB, config *ConfigService, ledger *LedgerService) *BurnService {
	return &BurnService{DB: db, Config: config, Ledger: ledger}
}

func quoteFor(cfg *models.GamificationConfig, profile *models.ProgressionProfile) (*BurnQuote, error) {
	next := cfg.LevelDef(profile.Level + 1)
	if next == nil {
		return nil, conflictError(ReasonAlreadyMaxLevel, "already at max level %d", profile.Level)
	}
	deficit := next.XPThreshold - profile.XPTotal
	if deficit <= 0 {
		// the member already qualifies from XP alone
		return &BurnQuote{CostPoints: 0, NextLevel: next.Level, Affordable: true}, nil
	}
	rate := cfg.BurnExchangeRate
	cost := (deficit + rate - 1) / rate // ceil(deficit / rate)
	return &BurnQuote{
		CostPoints: cost,
		NextLevel:  next.Level,
		XPDeficit:  deficit,
		Affordable: profile.TotalPoints >= cost,
	}, nil
}

// GetBurnCost quotes the points needed to reach the next level.
func (s *BurnService) GetBurnCost(userID string) (*BurnQuote, error) {
	cfg, err := s.Config.Get()
	if err != nil {
		return nil, err
	}
	profile, err := s.Ledger.GetProfile(userID)
	if err != nil {
		return nil, err
	}
	return quoteFor(cfg, profile)
}

// BurnPointsToLevelUp debits exactly the quoted points and credits exactly the
// XP deficit to the next threshold, as one atomic unit. A replayed idempotency
// key returns the recorded transaction without re-applying anything.
func (s *BurnService) BurnPointsToLevelUp(userID, idemKey string) (*models.BurnTransaction, *LevelChange, error) {
	if idemKey == "" {
		return nil, nil, validationError("missing_idempotency_key", "burn requests need an idempotency key")
	}
	cfg, err := s.Config.Get()
	if err != nil {
		return nil, nil, err
	}

	var burnTx models.BurnTransaction
	var change *LevelChange
	err = withRetry(3, func() error {
		return s.DB.Transaction(func(tx *gorm.DB) error {
			var existing models.BurnTransaction
			err := tx.Where("idempotency_key = ?", idemKey).First(&existing).Error
			if err == nil {
				burnTx = existing
				change = &LevelChange{
					OldLevel:  existing.ResultingLevel,
					NewLevel:  existing.ResultingLevel,
					Duplicate: true,
				}
				return nil
			}
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return storageError(err)
			}

			profile, err := s.Ledger.ensureProfileTx(tx, userID)
			if err != nil {
				return err
			}

			quote, err := quoteFor(cfg, profile)
			if err != nil {
				return err
			}
			if quote.CostPoints == 0 {
				return conflictError(ReasonNoBurnNeeded, "member already has enough XP for level %d", quote.NextLevel)
			}
			if profile.TotalPoints < quote.CostPoints {
				return conflictError(ReasonInsufficientPoints, "need %d points, have %d", quote.CostPoints, profile.TotalPoints)
			}

			profile.TotalPoints -= quote.CostPoints
			if err := tx.Save(profile).Error; err != nil {
				return storageError(err)
			}

			metadata := fmt.Sprintf(`{"points_spent":%d,"next_level":%d}`, quote.CostPoints, quote.NextLevel)
			change, err = s.Ledger.AppendXpEventTx(tx, cfg, userID, models.XpEventBurnConversion, quote.XPDeficit, metadata, "burn:"+idemKey)
			if err != nil {
				return err
			}

			burnTx = models.BurnTransaction{
				ID:             uuid.NewString(),
				UserID:         userID,
				PointsSpent:    quote.CostPoints,
				XPGranted:      quote.XPDeficit,
				ResultingLevel: change.NewLevel,
				IdempotencyKey: idemKey,
			}
			if err := tx.Create(&burnTx).Error; err != nil {
				if errors.Is(err, gorm.ErrDuplicatedKey) {
					return conflictError("duplicate_burn", "burn %s was already applied", idemKey)
				}
				return storageError(err)
			}
			return nil
		})
	})
	if err != nil {
		return nil, nil, err
	}
	return &burnTx, change, nil
}

// GetBurnHistory lists a member's burns, newest first.
func (s *BurnService) GetBurnHistory(userID string, limit int) ([]models.BurnTransaction, error) {
	if limit < 1 || limit > 100 {
		limit = 20
	}
	var burns []models.BurnTransaction
	if err := s.DB.Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&burns).Error; err != nil {
		return nil, storageError(err)
	}
	return burns, nil
}
