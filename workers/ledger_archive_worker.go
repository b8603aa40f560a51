// workers/ledger_archive_worker.go
package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"dao-reputation-system/models"
	"dao-reputation-system/utils"

	"gorm.io/gorm"
)

// LedgerArchiver exports settled XP events to the R2 archive bucket in
// batches. Events are never deleted from the ledger; the Archived flag only
// records that a copy exists in cold storage.
type LedgerArchiver struct {
	DB        *gorm.DB
	BatchSize int
}

func NewLedgerArchiver(db *gorm.DB) *LedgerArchiver {
	return &LedgerArchiver{DB: db, BatchSize: 500}
}

// ArchiveOnce uploads at most one batch. Returns the number of events
// archived so the poll loop can drain a backlog quickly.
func (a *LedgerArchiver) ArchiveOnce(ctx context.Context) (int, error) {
	var events []models.XpEvent
	err := a.DB.WithContext(ctx).
		Where("archived = ?", false).
		Order("created_at ASC").
		Limit(a.BatchSize).
		Find(&events).Error
	if err != nil {
		return 0, fmt.Errorf("failed to load unarchived events: %w", err)
	}
	if len(events) == 0 {
		return 0, nil
	}

	body, err := json.Marshal(events)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal archive batch: %w", err)
	}

	last := events[len(events)-1]
	key := fmt.Sprintf("ledger/%s/%s.json", time.Now().UTC().Format("2006-01-02"), last.ID)
	if err := utils.UploadLedgerArchive(ctx, key, body); err != nil {
		return 0, err
	}

	ids := make([]string, len(events))
	for i, e := range events {
		ids[i] = e.ID
	}
	if err := a.DB.WithContext(ctx).Model(&models.XpEvent{}).
		Where("id IN ?", ids).
		Update("archived", true).Error; err != nil {
		return 0, fmt.Errorf("failed to mark events archived: %w", err)
	}

	return len(events), nil
}

// PollLedgerArchive runs the archiver until ctx is cancelled.
func PollLedgerArchive(ctx context.Context, a *LedgerArchiver, interval time.Duration) {
	log.Println("🗄️ Starting Ledger Archive Worker (events → R2)…")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Ledger archive worker stopping...")
			return
		case <-ticker.C:
			for {
				n, err := a.ArchiveOnce(ctx)
				if err != nil {
					log.Printf("⚠️ Ledger archive failed: %v", err)
					break
				}
				if n == 0 {
					break
				}
				log.Printf("✅ Archived %d ledger events", n)
				if n < a.BatchSize {
					break
				}
			}
		}
	}
}
