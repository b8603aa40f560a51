package services

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"dao-reputation-system/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ReferralStats summarizes a member's referral funnel.
type ReferralStats struct {
	Code      string `json:"code"`
	InviteURL string `json:"invite_url"`
	Pending   int64  `json:"pending"`
	Completed int64  `json:"completed"`
	XPEarned  int64  `json:"xp_earned"`
}

// ReferralService owns code validation, the referral lifecycle and the
// one-time completion payout through the ledger.
type ReferralService struct {
	DB     *gorm.DB
	Config *ConfigService
	Ledger *LedgerService
}

func NewReferralService(db *gorm.DB, config *ConfigService, ledger *LedgerService) *ReferralService {
	return &ReferralService{DB: db, Config: config, Ledger: ledger}
}

// codeForUser derives a member's referral code deterministically from their
// user id, so a regenerated code after a lost row is always the same code.
func codeForUser(userID string) string {
	sum := sha256.Sum256([]byte("referral-code:" + userID))
	return strings.ToUpper(hex.EncodeToString(sum[:5]))
}

// ValidateReferralCode resolves a code to its owner. Pure read, no side
// effects; unknown or malformed codes are simply invalid, not errors.
func (s *ReferralService) ValidateReferralCode(code string) (bool, string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" || len(code) > 16 {
		return false, "", nil
	}
	var rc models.ReferralCode
	err := s.DB.Where("code = ?", code).First(&rc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, "", nil
	}
	if err != nil {
		return false, "", storageError(err)
	}
	return true, rc.OwnerID, nil
}

// GetReferralStats returns the member's code (created lazily on first
// request), an invite URL built from origin, and funnel counts.
func (s *ReferralService) GetReferralStats(userID, origin string) (*ReferralStats, error) {
	rc, err := s.ensureCode(userID)
	if err != nil {
		return nil, err
	}

	var pending, completed int64
	if err := s.DB.Model(&models.Referral{}).
		Where("referrer_id = ? AND status = ?", userID, models.ReferralStatusPending).
		Count(&pending).Error; err != nil {
		return nil, storageError(err)
	}
	if err := s.DB.Model(&models.Referral{}).
		Where("referrer_id = ? AND status = ?", userID, models.ReferralStatusCompleted).
		Count(&completed).Error; err != nil {
		return nil, storageError(err)
	}

	var xpEarned int64
	if err := s.DB.Model(&models.XpEvent{}).
		Where("user_id = ? AND event_type = ?", userID, models.XpEventReferralCompleted).
		Select("COALESCE(SUM(xp_amount), 0)").
		Scan(&xpEarned).Error; err != nil {
		return nil, storageError(err)
	}

	inviteURL := fmt.Sprintf("%s/join?ref=%s", strings.TrimRight(origin, "/"), rc.Code)
	return &ReferralStats{
		Code:      rc.Code,
		InviteURL: inviteURL,
		Pending:   pending,
		Completed: completed,
		XPEarned:  xpEarned,
	}, nil
}

func (s *ReferralService) ensureCode(userID string) (*models.ReferralCode, error) {
	if userID == "" {
		return nil, validationError("missing_user", "user id is required")
	}
	var rc models.ReferralCode
	err := s.DB.Where("owner_id = ?", userID).First(&rc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		rc = models.ReferralCode{Code: codeForUser(userID), OwnerID: userID}
		if createErr := s.DB.Create(&rc).Error; createErr != nil {
			if errors.Is(createErr, gorm.ErrDuplicatedKey) {
				if err := s.DB.Where("owner_id = ?", userID).First(&rc).Error; err != nil {
					return nil, storageError(err)
				}
				return &rc, nil
			}
			return nil, storageError(createErr)
		}
		return &rc, nil
	}
	if err != nil {
		return nil, storageError(err)
	}
	return &rc, nil
}

// RedeemReferralCode creates a pending referral for the referee. Self
// referrals and second redemptions by the same member are rejected here, at
// creation time.
func (s *ReferralService) RedeemReferralCode(code, refereeID string) (*models.Referral, error) {
	if refereeID == "" {
		return nil, validationError("missing_user", "referee id is required")
	}
	valid, referrerID, err := s.ValidateReferralCode(code)
	if err != nil {
		return nil, err
	}
	if !valid {
		return nil, notFoundError("unknown_code", "referral code %q is not recognized", code)
	}
	if referrerID == refereeID {
		return nil, conflictError(ReasonSelfReferral, "members cannot refer themselves")
	}

	ref := models.Referral{
		ID:         uuid.NewString(),
		ReferrerID: referrerID,
		RefereeID:  refereeID,
		Code:       strings.ToUpper(strings.TrimSpace(code)),
		Status:     models.ReferralStatusPending,
	}
	if err := s.DB.Create(&ref).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, conflictError("already_referred", "member %s was already referred", refereeID)
		}
		return nil, storageError(err)
	}
	log.Printf("🔗 Referral created: %s → %s (code %s)", referrerID, refereeID, ref.Code)
	return &ref, nil
}

// CompleteReferral finalizes a pending referral and pays the configured
// rewards. The awards are idempotent on the referral id, so a racing retry
// can never double-pay even if it slips past the status check.
func (s *ReferralService) CompleteReferral(referralID, completingUserID string) (*models.Referral, error) {
	cfg, err := s.Config.Get()
	if err != nil {
		return nil, err
	}

	var ref models.Referral
	err = withRetry(3, func() error {
		return s.DB.Transaction(func(tx *gorm.DB) error {
			err := lockForUpdate(tx).Where("id = ?", referralID).First(&ref).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return notFoundError("unknown_referral", "referral %s does not exist", referralID)
			}
			if err != nil {
				return storageError(err)
			}
			if ref.RefereeID != completingUserID {
				return authorizationError(ReasonNotReferee, "only the referred member can complete this referral")
			}
			if ref.ReferrerID == ref.RefereeID {
				// defensive; creation already rejects this
				return conflictError(ReasonSelfReferral, "self-referrals are never paid out")
			}
			if ref.Status != models.ReferralStatusPending {
				return conflictError(ReasonAlreadyCompleted, "referral %s is already %s", ref.ID, ref.Status)
			}

			now := time.Now()
			ref.Status = models.ReferralStatusCompleted
			ref.CompletedAt = &now
			if err := tx.Save(&ref).Error; err != nil {
				return storageError(err)
			}

			metadata := fmt.Sprintf(`{"referral_id":%q}`, ref.ID)
			if cfg.ReferralRewards.ReferrerXP > 0 {
				key := "referral:" + ref.ID + ":referrer"
				if _, err := s.Ledger.AppendXpEventTx(tx, cfg, ref.ReferrerID, models.XpEventReferralCompleted, cfg.ReferralRewards.ReferrerXP, metadata, key); err != nil {
					return err
				}
			}
			if cfg.ReferralRewards.RefereeXP > 0 {
				key := "referral:" + ref.ID + ":referee"
				if _, err := s.Ledger.AppendXpEventTx(tx, cfg, ref.RefereeID, models.XpEventReferralCompleted, cfg.ReferralRewards.RefereeXP, metadata, key); err != nil {
					return err
				}
			}
			log.Printf("🤝 Referral completed: %s → referrer %s", ref.ID, ref.ReferrerID)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return &ref, nil
}

// ExpireStaleReferrals flips pending referrals older than maxAge to expired.
// Run from the maintenance scheduler.
func (s *ReferralService) ExpireStaleReferrals(maxAge time.Duration) (int64, error) {
	cutoff := time.Now().Add(-maxAge)
	res := s.DB.Model(&models.Referral{}).
		Where("status = ? AND created_at < ?", models.ReferralStatusPending, cutoff).
		Update("status", models.ReferralStatusExpired)
	if res.Error != nil {
		return 0, storageError(res.Error)
	}
	return res.RowsAffected, nil
}
