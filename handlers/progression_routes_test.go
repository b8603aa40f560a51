package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"dao-reputation-system/models"
	"dao-reputation-system/services"

	"github.com/glebarez/sqlite"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupTestApp(t *testing.T) (*fiber.App, *services.LedgerService) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
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
	))

	config := services.NewConfigService(db)
	ledger := services.NewLedgerService(db, config)
	burn := services.NewBurnService(db, config, ledger)
	quests := services.NewQuestService(db, config, ledger)
	referrals := services.NewReferralService(db, config, ledger)
	leaderboard := services.NewLeaderboardService(db)
	members := services.NewMemberService(db)

	app := fiber.New()
	SetupProgressionRoutes(app, ledger, burn, leaderboard, config, members)
	SetupQuestRoutes(app, quests, ledger, config)
	SetupReferralRoutes(app, referrals)
	return app, ledger
}

func doJSON(t *testing.T, app *fiber.App, method, path, body string, headers map[string]string) (*http.Response, map[string]interface{}) {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := app.Test(req, -1)
	require.NoError(t, err)

	var decoded map[string]interface{}
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func TestPublicRoutesNeedNoUserContext(t *testing.T) {
	app, _ := setupTestApp(t)

	public := []struct{ method, path string }{
		{"GET", "/referral/validate/SOMECODE"},
		{"GET", "/leaderboard"},
		{"GET", "/members/search"},
	}
	for _, r := range public {
		resp, _ := doJSON(t, app, r.method, r.path, "", nil)
		assert.Equal(t, fiber.StatusOK, resp.StatusCode, "%s %s must not require X-User-ID", r.method, r.path)
	}

	// producers authenticate at the gateway, not with user headers
	resp, _ := doJSON(t, app, "POST", "/s/internal/events", `{"user_id":"user-1","event_type":"vote_cast"}`, nil)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestProgressRequiresUserContext(t *testing.T) {
	app, _ := setupTestApp(t)

	resp, _ := doJSON(t, app, "GET", "/user/progress", "", nil)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestProgressReturnsProfileWithLevelName(t *testing.T) {
	app, ledger := setupTestApp(t)

	_, err := ledger.AppendXpEvent("user-1", models.XpEventVoteCast, 120, "", "")
	require.NoError(t, err)

	resp, body := doJSON(t, app, "GET", "/user/progress", "", map[string]string{"X-User-ID": "user-1"})
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 120, body["xp_total"])
	assert.EqualValues(t, 2, body["level"])
	assert.Equal(t, "Contributor", body["level_name"])
}

func TestBurnEndpointMapsConflicts(t *testing.T) {
	app, _ := setupTestApp(t)

	resp, body := doJSON(t, app, "POST", "/user/burn", "", map[string]string{
		"X-User-ID":         "user-1",
		"X-Idempotency-Key": "k-1",
	})
	assert.Equal(t, fiber.StatusConflict, resp.StatusCode)
	assert.Equal(t, "insufficient_points", body["reason"])
}

func TestUnknownLevelIs404(t *testing.T) {
	app, _ := setupTestApp(t)

	resp, body := doJSON(t, app, "GET", "/levels/99", "", map[string]string{"X-User-ID": "user-1"})
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "not_found", body["code"])
}

func TestAdminGrantRequiresRole(t *testing.T) {
	app, _ := setupTestApp(t)

	payload := `{"user_id":"user-1","xp":100,"reason":"migration backfill"}`

	resp, _ := doJSON(t, app, "POST", "/s/admin/xp/grant", payload, map[string]string{"X-User-ID": "user-2"})
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)

	resp, body := doJSON(t, app, "POST", "/s/admin/xp/grant", payload, map[string]string{
		"X-User-ID":    "admin-1",
		"X-User-Roles": "member,admin",
	})
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 2, body["new_level"])
}

func TestInternalEventsEndpoint(t *testing.T) {
	app, ledger := setupTestApp(t)

	payload := `{"user_id":"user-1","event_type":"vote_cast","points":3,"idempotency_key":"vote:1"}`
	resp, _ := doJSON(t, app, "POST", "/s/internal/events", payload, nil)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	profile, err := ledger.GetProfile("user-1")
	require.NoError(t, err)
	assert.EqualValues(t, 5, profile.XPTotal, "vote_cast pays the configured base XP")
	assert.EqualValues(t, 3, profile.TotalPoints)

	// replay with the same idempotency key changes nothing but the points
	// credit, which the producer only sends once
	payload = `{"user_id":"user-1","event_type":"vote_cast","idempotency_key":"vote:1"}`
	resp, _ = doJSON(t, app, "POST", "/s/internal/events", payload, nil)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	profile, err = ledger.GetProfile("user-1")
	require.NoError(t, err)
	assert.EqualValues(t, 5, profile.XPTotal)
}

func TestReferralValidateEndpoint(t *testing.T) {
	app, _ := setupTestApp(t)

	resp, body := doJSON(t, app, "GET", "/referral/validate/UNKNOWN", "", nil)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, false, body["valid"])

	_, stats := doJSON(t, app, "GET", "/user/referral/stats", "", map[string]string{"X-User-ID": "referrer-1"})
	code := stats["code"].(string)

	resp, body = doJSON(t, app, "GET", "/referral/validate/"+code, "", nil)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["valid"])
	assert.Equal(t, "referrer-1", body["referrer_id"])
}

func TestLeaderboardEndpoint(t *testing.T) {
	app, ledger := setupTestApp(t)

	_, err := ledger.AppendXpEvent("u-a", models.XpEventVoteCast, 50, "", "")
	require.NoError(t, err)
	_, err = ledger.AppendXpEvent("u-b", models.XpEventVoteCast, 80, "", "")
	require.NoError(t, err)

	resp, body := doJSON(t, app, "GET", "/leaderboard", "", nil)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	entries := body["leaderboard"].([]interface{})
	require.Len(t, entries, 2)
	first := entries[0].(map[string]interface{})
	assert.Equal(t, "u-b", first["id"])
	assert.EqualValues(t, 1, first["rank"])
}
