package services

import (
	"testing"
	"time"

	"dao-reputation-system/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateReferralCode(t *testing.T) {
	_, _, _, _, _, referrals := newTestServices(t)

	valid, _, err := referrals.ValidateReferralCode("NO-SUCH-CODE")
	require.NoError(t, err, "an unknown code is invalid, not an error")
	assert.False(t, valid)

	stats, err := referrals.GetReferralStats("referrer-1", "https://dao.example")
	require.NoError(t, err)

	valid, ownerID, err := referrals.ValidateReferralCode(stats.Code)
	require.NoError(t, err)
	assert.True(t, valid)
	assert.Equal(t, "referrer-1", ownerID)

	// lookups are case and whitespace tolerant
	valid, _, err = referrals.ValidateReferralCode("  " + stats.Code + " ")
	require.NoError(t, err)
	assert.True(t, valid)
}

func TestReferralCodeIsDeterministic(t *testing.T) {
	_, _, _, _, _, referrals := newTestServices(t)

	first, err := referrals.GetReferralStats("referrer-1", "https://dao.example")
	require.NoError(t, err)
	second, err := referrals.GetReferralStats("referrer-1", "https://dao.example")
	require.NoError(t, err)

	assert.Equal(t, first.Code, second.Code)
	assert.Equal(t, "https://dao.example/join?ref="+first.Code, first.InviteURL)
}

func TestRedeemRejectsSelfReferral(t *testing.T) {
	_, _, _, _, _, referrals := newTestServices(t)

	stats, err := referrals.GetReferralStats("referrer-1", "")
	require.NoError(t, err)

	_, err = referrals.RedeemReferralCode(stats.Code, "referrer-1")
	se, ok := AsServiceError(err)
	require.True(t, ok)
	assert.Equal(t, CodeConflict, se.Code)
	assert.Equal(t, ReasonSelfReferral, se.Reason)
}

func TestRedeemUnknownCode(t *testing.T) {
	_, _, _, _, _, referrals := newTestServices(t)

	_, err := referrals.RedeemReferralCode("BOGUS", "referee-1")
	se, ok := AsServiceError(err)
	require.True(t, ok)
	assert.Equal(t, CodeNotFound, se.Code)
}

func TestReferralLifecyclePaysReferrerOnce(t *testing.T) {
	db, _, ledger, _, _, referrals := newTestServices(t)

	stats, err := referrals.GetReferralStats("referrer-1", "")
	require.NoError(t, err)

	ref, err := referrals.RedeemReferralCode(stats.Code, "referee-1")
	require.NoError(t, err)
	assert.Equal(t, models.ReferralStatusPending, ref.Status)

	stats, err = referrals.GetReferralStats("referrer-1", "")
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats.Pending)

	completed, err := referrals.CompleteReferral(ref.ID, "referee-1")
	require.NoError(t, err)
	assert.Equal(t, models.ReferralStatusCompleted, completed.Status)
	assert.NotNil(t, completed.CompletedAt)

	profile, err := ledger.GetProfile("referrer-1")
	require.NoError(t, err)
	assert.EqualValues(t, 250, profile.XPTotal, "referrer gets the configured reward")

	refereeProfile, err := ledger.GetProfile("referee-1")
	require.NoError(t, err)
	assert.EqualValues(t, 0, refereeProfile.XPTotal, "referee reward defaults to 0")

	// completing again is a conflict and never double-pays
	_, err = referrals.CompleteReferral(ref.ID, "referee-1")
	se, ok := AsServiceError(err)
	require.True(t, ok)
	assert.Equal(t, CodeConflict, se.Code)
	assert.Equal(t, ReasonAlreadyCompleted, se.Reason)

	var awards int64
	require.NoError(t, db.Model(&models.XpEvent{}).
		Where("user_id = ? AND event_type = ?", "referrer-1", models.XpEventReferralCompleted).
		Count(&awards).Error)
	assert.EqualValues(t, 1, awards)

	stats, err = referrals.GetReferralStats("referrer-1", "")
	require.NoError(t, err)
	assert.EqualValues(t, 0, stats.Pending)
	assert.EqualValues(t, 1, stats.Completed)
	assert.EqualValues(t, 250, stats.XPEarned)
}

func TestCompleteReferralRequiresTheReferee(t *testing.T) {
	_, _, _, _, _, referrals := newTestServices(t)

	stats, err := referrals.GetReferralStats("referrer-1", "")
	require.NoError(t, err)
	ref, err := referrals.RedeemReferralCode(stats.Code, "referee-1")
	require.NoError(t, err)

	_, err = referrals.CompleteReferral(ref.ID, "someone-else")
	se, ok := AsServiceError(err)
	require.True(t, ok)
	assert.Equal(t, CodeAuthorization, se.Code)
	assert.Equal(t, ReasonNotReferee, se.Reason)

	_, err = referrals.CompleteReferral("missing-id", "referee-1")
	se, ok = AsServiceError(err)
	require.True(t, ok)
	assert.Equal(t, CodeNotFound, se.Code)
}

func TestRefereeCanOnlyBeReferredOnce(t *testing.T) {
	_, _, _, _, _, referrals := newTestServices(t)

	first, err := referrals.GetReferralStats("referrer-1", "")
	require.NoError(t, err)
	second, err := referrals.GetReferralStats("referrer-2", "")
	require.NoError(t, err)

	_, err = referrals.RedeemReferralCode(first.Code, "referee-1")
	require.NoError(t, err)

	_, err = referrals.RedeemReferralCode(second.Code, "referee-1")
	se, ok := AsServiceError(err)
	require.True(t, ok)
	assert.Equal(t, CodeConflict, se.Code)
}

func TestRefereeRewardWhenConfigured(t *testing.T) {
	_, config, ledger, _, _, referrals := newTestServices(t)

	rewards := models.ReferralRewards{ReferrerXP: 250, RefereeXP: 50}
	_, _, err := config.UpdateConfig(ConfigPatch{ReferralRewards: &rewards}, "admin-1")
	require.NoError(t, err)

	stats, err := referrals.GetReferralStats("referrer-1", "")
	require.NoError(t, err)
	ref, err := referrals.RedeemReferralCode(stats.Code, "referee-1")
	require.NoError(t, err)
	_, err = referrals.CompleteReferral(ref.ID, "referee-1")
	require.NoError(t, err)

	refereeProfile, err := ledger.GetProfile("referee-1")
	require.NoError(t, err)
	assert.EqualValues(t, 50, refereeProfile.XPTotal)
}

func TestExpireStaleReferrals(t *testing.T) {
	db, _, _, _, _, referrals := newTestServices(t)

	stats, err := referrals.GetReferralStats("referrer-1", "")
	require.NoError(t, err)
	ref, err := referrals.RedeemReferralCode(stats.Code, "referee-1")
	require.NoError(t, err)

	// age the row past the TTL
	old := time.Now().Add(-31 * 24 * time.Hour)
	require.NoError(t, db.Model(&models.Referral{}).Where("id = ?", ref.ID).Update("created_at", old).Error)

	n, err := referrals.ExpireStaleReferrals(30 * 24 * time.Hour)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	var reloaded models.Referral
	require.NoError(t, db.First(&reloaded, "id = ?", ref.ID).Error)
	assert.Equal(t, models.ReferralStatusExpired, reloaded.Status)

	// an expired referral can no longer be completed
	_, err = referrals.CompleteReferral(ref.ID, "referee-1")
	se, ok := AsServiceError(err)
	require.True(t, ok)
	assert.Equal(t, ReasonAlreadyCompleted, se.Reason)
}
