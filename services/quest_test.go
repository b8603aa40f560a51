package services

import (
	"testing"
	"time"

	"dao-reputation-system/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func patchQuestCatalog(t *testing.T, config *ConfigService, catalog []models.Quest) {
	t.Helper()
	_, _, err := config.UpdateConfig(ConfigPatch{QuestCatalog: &catalog}, "admin-1")
	require.NoError(t, err)
}

func TestGetQuestProgressLazyRows(t *testing.T) {
	db, config, _, _, quests, _ := newTestServices(t)
	patchQuestCatalog(t, config, []models.Quest{
		{Title: "Cast Two Votes", EventType: models.XpEventVoteCast, TargetCount: 2, XPReward: 100, SortOrder: 1},
	})

	statuses, err := quests.GetQuestProgress("user-1")
	require.NoError(t, err)
	require.Len(t, statuses, 1)
	assert.Equal(t, "cast-two-votes", statuses[0].Quest.Slug, "slug derived from the title")
	assert.Equal(t, 0, statuses[0].ProgressCount)
	assert.False(t, statuses[0].Completed)

	var count int64
	require.NoError(t, db.Model(&models.QuestProgress{}).Where("user_id = ?", "user-1").Count(&count).Error)
	assert.EqualValues(t, 1, count, "reading progress creates the row")
}

func TestQuestAwardsExactlyOnce(t *testing.T) {
	db, config, ledger, _, quests, _ := newTestServices(t)
	patchQuestCatalog(t, config, []models.Quest{
		{Title: "Cast Two Votes", EventType: models.XpEventVoteCast, TargetCount: 2, XPReward: 100, SortOrder: 1},
	})

	updated, err := quests.RecordQuestEvent("user-1", models.XpEventVoteCast)
	require.NoError(t, err)
	require.Len(t, updated, 1)
	assert.Equal(t, 1, updated[0].ProgressCount)
	assert.False(t, updated[0].Completed)

	updated, err = quests.RecordQuestEvent("user-1", models.XpEventVoteCast)
	require.NoError(t, err)
	assert.True(t, updated[0].Completed)
	assert.NotNil(t, updated[0].CompletedAt)

	profile, err := ledger.GetProfile("user-1")
	require.NoError(t, err)
	assert.EqualValues(t, 100, profile.XPTotal)
	assert.Equal(t, 2, profile.Level, "the quest award crosses the level-2 threshold")

	// further matching events change nothing
	updated, err = quests.RecordQuestEvent("user-1", models.XpEventVoteCast)
	require.NoError(t, err)
	assert.Equal(t, 2, updated[0].ProgressCount, "progress stays capped at the target")

	var awards int64
	require.NoError(t, db.Model(&models.XpEvent{}).
		Where("user_id = ? AND event_type = ?", "user-1", models.XpEventQuestCompleted).
		Count(&awards).Error)
	assert.EqualValues(t, 1, awards, "one completion award per (member, quest)")
}

func TestQuestIgnoresUnrelatedEvents(t *testing.T) {
	_, config, _, _, quests, _ := newTestServices(t)
	patchQuestCatalog(t, config, []models.Quest{
		{Title: "Cast Two Votes", EventType: models.XpEventVoteCast, TargetCount: 2, XPReward: 100, SortOrder: 1},
	})

	updated, err := quests.RecordQuestEvent("user-1", models.XpEventTaskCompleted)
	require.NoError(t, err)
	assert.Empty(t, updated, "no quest matches task_completed")
}

func TestQuestWindowGating(t *testing.T) {
	_, config, _, _, quests, _ := newTestServices(t)
	past := time.Now().Add(-48 * time.Hour)
	ended := time.Now().Add(-24 * time.Hour)
	patchQuestCatalog(t, config, []models.Quest{
		{Title: "Expired Sprint", EventType: models.XpEventVoteCast, TargetCount: 1, XPReward: 100, StartsAt: &past, EndsAt: &ended, SortOrder: 1},
		{Title: "Open Quest", EventType: models.XpEventVoteCast, TargetCount: 5, XPReward: 50, SortOrder: 2},
	})

	statuses, err := quests.GetQuestProgress("user-1")
	require.NoError(t, err)
	require.Len(t, statuses, 1, "quests outside their window are invisible")
	assert.Equal(t, "open-quest", statuses[0].Quest.Slug)

	updated, err := quests.RecordQuestEvent("user-1", models.XpEventVoteCast)
	require.NoError(t, err)
	require.Len(t, updated, 1)
	assert.Equal(t, "open-quest", updated[0].Quest.Slug, "events never advance an expired quest")
}

func TestQuestRecordRejectsBadInput(t *testing.T) {
	_, _, _, _, quests, _ := newTestServices(t)

	_, err := quests.RecordQuestEvent("", models.XpEventVoteCast)
	se, ok := AsServiceError(err)
	require.True(t, ok)
	assert.Equal(t, CodeValidation, se.Code)

	_, err = quests.RecordQuestEvent("user-1", models.XpEventType("nope"))
	se, ok = AsServiceError(err)
	require.True(t, ok)
	assert.Equal(t, CodeValidation, se.Code)
}
