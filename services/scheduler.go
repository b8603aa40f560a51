// services/scheduler.go
package services

import (
	"log"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// StartMaintenanceScheduler runs the periodic housekeeping jobs: expiring
// stale pending referrals and keeping the config cache warm.
func StartMaintenanceScheduler(referrals *ReferralService, config *ConfigService) {
	sched, err := gocron.NewScheduler()
	if err != nil {
		log.Fatal("failed to create maintenance scheduler:", err)
	}

	// Every hour: expire pending referrals past the configured TTL
	if _, err := sched.NewJob(
		gocron.DurationJob(1*time.Hour),
		gocron.NewTask(func() {
			cfg, err := config.Get()
			if err != nil {
				log.Printf("[Scheduler] config load failed: %v", err)
				return
			}
			maxAge := time.Duration(cfg.ReferralTTLDays) * 24 * time.Hour
			n, err := referrals.ExpireStaleReferrals(maxAge)
			if err != nil {
				log.Printf("[Scheduler] referral expiry failed: %v", err)
				return
			}
			if n > 0 {
				log.Printf("⏳ Expired %d stale referrals", n)
			}
		}),
	); err != nil {
		log.Fatal("failed to schedule referral expiry job:", err)
	}

	// Refresh the config cache just under its TTL so requests rarely pay the
	// DB read
	if _, err := sched.NewJob(
		gocron.DurationJob(25*time.Second),
		gocron.NewTask(func() {
			if _, err := config.Get(); err != nil {
				log.Printf("[Scheduler] config warm failed: %v", err)
			}
		}),
	); err != nil {
		log.Fatal("failed to schedule config warm job:", err)
	}

	sched.Start()
}
