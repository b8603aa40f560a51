package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"dao-reputation-system/handlers"
	"dao-reputation-system/middleware"
	"dao-reputation-system/models"
	"dao-reputation-system/services"
	"dao-reputation-system/utils"
	"dao-reputation-system/workers"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  No .env file found, reading environment variables directly")
	}

	app := fiber.New(fiber.Config{
		BodyLimit: 1 * 1024 * 1024, // 1MB — JSON bodies only
	})

	// 🔐❗ GLOBAL: Only Gateway requests allowed — no exceptions
	app.Use(middleware.GatewayAuthMiddleware())

	// Load allowed origins from environment variable
	allowedOriginsEnv := os.Getenv("ALLOWED_ORIGINS")
	if allowedOriginsEnv == "" {
		log.Println("⚠️  ALLOWED_ORIGINS environment variable not set, using default: http://localhost:3000")
		allowedOriginsEnv = "http://localhost:3000"
	}
	allowedOriginsList := strings.Split(allowedOriginsEnv, ",")
	for i, origin := range allowedOriginsList {
		allowedOriginsList[i] = strings.TrimSpace(origin)
	}
	allowedOriginsString := strings.Join(allowedOriginsList, ",")

	app.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOriginsString,
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS,PATCH,HEAD",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Request-ID, User-Agent, Cache-Control, X-Service-Token, X-User-ID, X-User-Roles, X-Idempotency-Key",
		ExposeHeaders:    "Content-Length, Content-Type, Authorization, X-Request-ID",
		AllowCredentials: true,
		MaxAge:           86400, // 24 hours
	}))

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal("DATABASE_URL environment variable not set")
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		log.Fatal("failed to connect to database:", err)
	}

	if err := db.AutoMigrate(
		&models.ProgressionProfile{},
		&models.XpEvent{},
		&models.BurnTransaction{},
		&models.QuestProgress{},
		&models.ReferralCode{},
		&models.Referral{},
		&models.OrgConfig{},
		&models.Member{},
	); err != nil {
		log.Fatal("failed to migrate database:", err)
	}

	configService := services.NewConfigService(db)
	ledgerService := services.NewLedgerService(db, configService)
	burnService := services.NewBurnService(db, configService, ledgerService)
	questService := services.NewQuestService(db, configService, ledgerService)
	referralService := services.NewReferralService(db, configService, ledgerService)
	leaderboardService := services.NewLeaderboardService(db)
	memberService := services.NewMemberService(db)

	// Make sure the config row exists (and the cache is warm) before the
	// first request lands.
	if _, err := configService.Get(); err != nil {
		log.Fatal("failed to load org configuration:", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- CONFIGURE Sync Service Details for Member Mirroring ---
	profileServiceURL := os.Getenv("PROFILE_SERVICE_URL")
	serviceToken := os.Getenv("REPUTATION_SERVICE_TOKEN")
	if profileServiceURL != "" {
		syncWorker := workers.NewMemberSyncWorker(db, ledgerService, referralService, profileServiceURL, "/api/v1/public/profiles", serviceToken)
		syncWorker.Start(ctx)
	} else {
		log.Println("⚠️  PROFILE_SERVICE_URL not set, member sync worker disabled")
	}

	// --- Ledger archive to R2 (optional, guarded on bucket config) ---
	if os.Getenv("R2_BUCKET_NAME") != "" {
		if err := utils.InitR2(); err != nil {
			log.Fatal("failed to initialize R2 client:", err)
		}
		archiver := workers.NewLedgerArchiver(db)
		go workers.PollLedgerArchive(ctx, archiver, 10*time.Minute)
	} else {
		log.Println("⚠️  R2_BUCKET_NAME not set, ledger archive worker disabled")
	}

	services.StartMaintenanceScheduler(referralService, configService)

	// ✅ Setup routes — enforced Gateway auth + /s/ prefix for privileged paths
	handlers.SetupProgressionRoutes(app, ledgerService, burnService, leaderboardService, configService, memberService)
	handlers.SetupQuestRoutes(app, questService, ledgerService, configService)
	handlers.SetupReferralRoutes(app, referralService)

	go func() {
		if err := app.Listen(":5300"); err != nil {
			log.Printf("Server error: %v", err)
		}
	}()

	log.Println("✅ Server running on http://localhost:5300")
	log.Println("✅ GatewayAuthMiddleware enforced globally — all requests must come from Gateway")
	log.Printf("✅ CORS configured for origins: %s", allowedOriginsString)

	<-ctx.Done()
	log.Println("Shutting down server...")
}
