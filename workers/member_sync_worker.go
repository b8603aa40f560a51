// workers/member_sync_worker.go
package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"time"

	"dao-reputation-system/models"
	"dao-reputation-system/services"
	"dao-reputation-system/utils"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// MirroredMemberFromProfile matches the JSON the profile service returns for
// changed members.
type MirroredMemberFromProfile struct {
	ID               string    `json:"id"`
	ExternalID       string    `json:"external_id"`
	Username         string    `json:"username"`
	Email            string    `json:"email"`
	AvatarURL        *string   `json:"avatar_url,omitempty"`
	ReferralCodeUsed *string   `json:"referral_code_used,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// GetMemberChangesResponse is the top-level structure of the profile service
// response.
type GetMemberChangesResponse struct {
	Members []MirroredMemberFromProfile `json:"members"`
}

// MemberSyncWorker mirrors member identity data from the profile service,
// makes sure every member has a progression profile, and turns signup
// referral codes into pending referrals.
type MemberSyncWorker struct {
	db           *gorm.DB
	ledger       *services.LedgerService
	referrals    *services.ReferralService
	interval     time.Duration
	baseURL      string // e.g., "http://localhost:8500"
	endpointPath string // e.g., "/api/v1/public/profiles"
	serviceToken string
	httpClient   *http.Client
}

func NewMemberSyncWorker(db *gorm.DB, ledger *services.LedgerService, referrals *services.ReferralService, profileServiceURL, endpointPath, serviceToken string) *MemberSyncWorker {
	return &MemberSyncWorker{
		db:           db,
		ledger:       ledger,
		referrals:    referrals,
		interval:     1 * time.Minute,
		baseURL:      profileServiceURL,
		endpointPath: endpointPath,
		serviceToken: serviceToken,
		httpClient:   utils.HTTPClient,
	}
}

func (w *MemberSyncWorker) Start(ctx context.Context) {
	log.Println("🔁 Starting Member Sync Worker (profile-service → members)…")
	go w.run(ctx)
}

func (w *MemberSyncWorker) run(ctx context.Context) {
	// Initial sync (backfill if needed) - sync from the beginning of time
	if err := w.syncBatch(ctx, time.Time{}); err != nil {
		log.Printf("⚠️ Initial member sync failed: %v", err)
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	lastSync := time.Now()
	for {
		select {
		case <-ctx.Done():
			log.Println("Member sync worker stopping...")
			return
		case <-ticker.C:
			since := lastSync
			lastSync = time.Now()
			if err := w.syncBatch(ctx, since); err != nil {
				log.Printf("⚠️ Member sync failed: %v", err)
			}
		}
	}
}

func (w *MemberSyncWorker) fetchChangedMembers(ctx context.Context, since time.Time) ([]MirroredMemberFromProfile, error) {
	u, err := url.Parse(fmt.Sprintf("%s%s", w.baseURL, w.endpointPath))
	if err != nil {
		return nil, fmt.Errorf("failed to parse profile service URL: %w", err)
	}

	q := u.Query()
	if !since.IsZero() {
		q.Set("since", since.UTC().Format(time.RFC3339))
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, "GET", u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("X-Service-Token", w.serviceToken)

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call profile service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("profile service returned status %d: %s", resp.StatusCode, string(body))
	}

	var response GetMemberChangesResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("failed to decode profile service response: %w", err)
	}
	return response.Members, nil
}

func (w *MemberSyncWorker) syncBatch(ctx context.Context, since time.Time) error {
	changed, err := w.fetchChangedMembers(ctx, since)
	if err != nil {
		return err
	}
	if len(changed) == 0 {
		return nil
	}

	for _, m := range changed {
		member := models.Member{
			ID:               uuid.NewString(),
			ExternalUserID:   m.ExternalID,
			Username:         m.Username,
			Email:            m.Email,
			AvatarURL:        m.AvatarURL,
			ReferralCodeUsed: m.ReferralCodeUsed,
		}
		if err := w.db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "external_user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"username", "email", "avatar_url", "referral_code_used", "updated_at"}),
		}).Create(&member).Error; err != nil {
			log.Printf("⚠️ Failed to upsert member %s: %v", m.ExternalID, err)
			continue
		}

		// Registration creates the level-1 progression profile
		if _, err := w.ledger.GetProfile(m.ExternalID); err != nil {
			log.Printf("⚠️ Failed to ensure profile for %s: %v", m.ExternalID, err)
			continue
		}

		// Signup referral code → pending referral. Conflicts just mean the
		// referral already exists or the code was the member's own.
		if m.ReferralCodeUsed != nil && *m.ReferralCodeUsed != "" {
			if _, err := w.referrals.RedeemReferralCode(*m.ReferralCodeUsed, m.ExternalID); err != nil {
				if se, ok := services.AsServiceError(err); ok && (se.Code == services.CodeConflict || se.Code == services.CodeNotFound) {
					continue
				}
				log.Printf("⚠️ Failed to redeem referral code for %s: %v", m.ExternalID, err)
			}
		}
	}

	log.Printf("✅ Member sync: processed %d changed members", len(changed))
	return nil
}
