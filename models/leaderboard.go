package models

// LeaderboardEntry is a ranked view over a profile snapshot. Derived on read,
// never persisted.
type LeaderboardEntry struct {
	ID             string `json:"id"` // external user id
	XPTotal        int64  `json:"xp_total"`
	TotalPoints    int64  `json:"total_points"`
	TasksCompleted int64  `json:"tasks_completed"`
	Level          int    `json:"level"`
	Rank           int    `json:"rank"`
}
