package services

import (
	"errors"
	"fmt"
	"log"
	"time"

	"dao-reputation-system/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// QuestStatus is one catalog quest with the member's progress against it.
type QuestStatus struct {
	Quest         models.Quest `json:"quest"`
	ProgressCount int          `json:"progress_count"`
	TargetCount   int          `json:"target_count"`
	Completed     bool         `json:"completed"`
	CompletedAt   *time.Time   `json:"completed_at,omitempty"`
}

// QuestService tracks per-member progress against the configured quest
// catalog and fires the one-time completion award through the ledger.
type QuestService struct {
	DB     *gorm.DB
	Config *ConfigService
	Ledger *LedgerService
}

func NewQuestService(db *gorm.DB, config *ConfigService, ledger *LedgerService) *QuestService {
	return &QuestService{DB: db, Config: config, Ledger: ledger}
}

// GetQuestProgress returns progress for every quest in the active window,
// creating missing progress rows on first access.
func (s *QuestService) GetQuestProgress(userID string) ([]QuestStatus, error) {
	cfg, err := s.Config.Get()
	if err != nil {
		return nil, err
	}
	quests := cfg.ActiveQuests(time.Now())

	statuses := make([]QuestStatus, 0, len(quests))
	for _, q := range quests {
		row, err := s.ensureProgressRow(userID, q)
		if err != nil {
			return nil, err
		}
		statuses = append(statuses, QuestStatus{
			Quest:         q,
			ProgressCount: row.ProgressCount,
			TargetCount:   row.TargetCount,
			Completed:     row.CompletedAt != nil,
			CompletedAt:   row.CompletedAt,
		})
	}
	return statuses, nil
}

func (s *QuestService) ensureProgressRow(userID string, q models.Quest) (*models.QuestProgress, error) {
	var row models.QuestProgress
	err := s.DB.Where("user_id = ? AND quest_id = ?", userID, q.ID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		row = models.QuestProgress{ID: uuid.NewString(), UserID: userID, QuestID: q.ID, TargetCount: q.TargetCount}
		if createErr := s.DB.Create(&row).Error; createErr != nil {
			if errors.Is(createErr, gorm.ErrDuplicatedKey) {
				// lost the creation race, re-read
				if err := s.DB.Where("user_id = ? AND quest_id = ?", userID, q.ID).First(&row).Error; err != nil {
					return nil, storageError(err)
				}
				return &row, nil
			}
			return nil, storageError(createErr)
		}
		return &row, nil
	}
	if err != nil {
		return nil, storageError(err)
	}
	return &row, nil
}

// RecordQuestEvent advances every active quest whose criteria match
// eventType. The completion award fires exactly once per (user, quest), no
// matter how often the same occurrence is reported.
func (s *QuestService) RecordQuestEvent(userID string, eventType models.XpEventType) ([]QuestStatus, error) {
	if userID == "" {
		return nil, validationError("missing_user", "user id is required")
	}
	if !eventType.Valid() {
		return nil, validationError("unknown_event_type", "unknown event type %q", eventType)
	}

	cfg, err := s.Config.Get()
	if err != nil {
		return nil, err
	}

	var updated []QuestStatus
	for _, q := range cfg.ActiveQuests(time.Now()) {
		if q.EventType != eventType {
			continue
		}
		status, err := s.advanceQuest(userID, cfg, q)
		if err != nil {
			return nil, err
		}
		updated = append(updated, *status)
	}
	return updated, nil
}

// advanceQuest increments one quest's progress in a row-locked transaction,
// capped at the target. The instant the target is first reached it stamps
// completed_at and awards the quest XP in the same transaction.
func (s *QuestService) advanceQuest(userID string, cfg *models.GamificationConfig, q models.Quest) (*QuestStatus, error) {
	var row models.QuestProgress
	err := withRetry(3, func() error {
		return s.DB.Transaction(func(tx *gorm.DB) error {
			err := lockForUpdate(tx).Where("user_id = ? AND quest_id = ?", userID, q.ID).First(&row).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				row = models.QuestProgress{ID: uuid.NewString(), UserID: userID, QuestID: q.ID, TargetCount: q.TargetCount}
				if createErr := tx.Create(&row).Error; createErr != nil {
					if errors.Is(createErr, gorm.ErrDuplicatedKey) {
						// the insert aborted this transaction; retry re-reads
						// the committed row
						return newError(CodeStorage, ReasonWriteRace, "quest progress for %s raced a concurrent insert", userID)
					}
					return storageError(createErr)
				}
			} else if err != nil {
				return storageError(err)
			}

			if row.CompletedAt != nil {
				return nil // already done, nothing to advance
			}

			if row.ProgressCount < row.TargetCount {
				row.ProgressCount++
			}
			if row.ProgressCount >= row.TargetCount {
				now := time.Now()
				row.CompletedAt = &now
				key := fmt.Sprintf("quest:%s:user:%s", q.ID, userID)
				metadata := fmt.Sprintf(`{"quest":%q}`, q.Slug)
				if _, err := s.Ledger.AppendXpEventTx(tx, cfg, userID, models.XpEventQuestCompleted, q.XPReward, metadata, key); err != nil {
					return err
				}
				log.Printf("🏁 Quest completed: %s → %s (+%d XP)", q.Slug, userID, q.XPReward)
			}

			if err := tx.Save(&row).Error; err != nil {
				return storageError(err)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	return &QuestStatus{
		Quest:         q,
		ProgressCount: row.ProgressCount,
		TargetCount:   row.TargetCount,
		Completed:     row.CompletedAt != nil,
		CompletedAt:   row.CompletedAt,
	}, nil
}
