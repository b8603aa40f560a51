package services

import (
	"sort"

	"dao-reputation-system/models"

	"gorm.io/gorm"
)

// RankLeaderboardEntries orders entries into a strict total order: xp_total
// desc, total_points desc, tasks_completed desc, then id asc as the final
// tie-break — so no two entries ever tie and re-ranking any permutation of
// the same snapshot yields the same sequence. Pure; the input is not
// modified.
func RankLeaderboardEntries(entries []models.LeaderboardEntry) []models.LeaderboardEntry {
	ranked := make([]models.LeaderboardEntry, len(entries))
	copy(ranked, entries)

	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.XPTotal != b.XPTotal {
			return a.XPTotal > b.XPTotal
		}
		if a.TotalPoints != b.TotalPoints {
			return a.TotalPoints > b.TotalPoints
		}
		if a.TasksCompleted != b.TasksCompleted {
			return a.TasksCompleted > b.TasksCompleted
		}
		return a.ID < b.ID
	})

	for i := range ranked {
		ranked[i].Rank = i + 1
	}
	return ranked
}

// LeaderboardService reads unlocked profile snapshots and ranks them. Slight
// staleness is fine here; this path never blocks writers.
type LeaderboardService struct {
	DB *gorm.DB
}

func NewLeaderboardService(db *gorm.DB) *LeaderboardService {
	return &LeaderboardService{DB: db}
}

// GetLeaderboard returns the ranked top members.
func (s *LeaderboardService) GetLeaderboard(limit int) ([]models.LeaderboardEntry, error) {
	if limit < 1 || limit > 500 {
		limit = 100
	}
	var profiles []models.ProgressionProfile
	if err := s.DB.Order("xp_total DESC").Limit(limit).Find(&profiles).Error; err != nil {
		return nil, storageError(err)
	}

	entries := make([]models.LeaderboardEntry, len(profiles))
	for i, p := range profiles {
		entries[i] = models.LeaderboardEntry{
			ID:             p.UserID,
			XPTotal:        p.XPTotal,
			TotalPoints:    p.TotalPoints,
			TasksCompleted: p.TasksCompleted,
			Level:          p.Level,
		}
	}
	return RankLeaderboardEntries(entries), nil
}
