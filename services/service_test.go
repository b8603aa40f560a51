package services

import (
	"testing"

	"dao-reputation-system/models"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// setupTestDB opens an isolated in-memory database per test. Single
// connection, because each :memory: connection is its own database.
func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err, "open test database")

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(
		&models.ProgressionProfile{},
		&models.XpEvent{},
		&models.BurnTransaction{},
		&models.QuestProgress{},
		&models.ReferralCode{},
		&models.Referral{},
		&models.OrgConfig{},
		&models.Member{},
	), "migrate test schema")

	return db
}

// newTestServices wires the full service graph over one test database.
func newTestServices(t *testing.T) (*gorm.DB, *ConfigService, *LedgerService, *BurnService, *QuestService, *ReferralService) {
	t.Helper()
	db := setupTestDB(t)
	config := NewConfigService(db)
	ledger := NewLedgerService(db, config)
	burn := NewBurnService(db, config, ledger)
	quests := NewQuestService(db, config, ledger)
	referrals := NewReferralService(db, config, ledger)
	return db, config, ledger, burn, quests, referrals
}
