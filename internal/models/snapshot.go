package models

import "time"

// Periods a snapshot can aggregate over.
const (
	PeriodDay    = "day"
	PeriodWeek   = "week"
	PeriodDays28 = "days_28"
)

// Data status recorded on a persisted snapshot.
const (
	DataFresh = "fresh"
	DataStale = "stale"
	DataError = "error"
)

// MetricsSnapshot is one logical row per (workspace, account, period, day).
// Each successful fetch upserts the day's row, capturing the prior in-place
// measurements into PreviousValues before overwriting.
type MetricsSnapshot struct {
	WorkspaceID    string             `json:"workspace_id"`
	AccountID      string             `json:"account_id"`
	Period         string             `json:"period"`
	StartTime      time.Time          `json:"start_time"`
	EndTime        time.Time          `json:"end_time"`
	Measurements   map[string]float64 `json:"measurements"`
	PreviousValues map[string]float64 `json:"previous_values"`
	ChangesSince   map[string]float64 `json:"changes_since"`
	LastUpdated    time.Time          `json:"last_updated"`
	FetchedAt      time.Time          `json:"fetched_at"`
	DataStatus     string             `json:"data_status"`
}

// DayBounds returns the UTC start and end of the day containing t.
func DayBounds(t time.Time) (time.Time, time.Time) {
	t = t.UTC()
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return start, start.Add(24*time.Hour - time.Nanosecond)
}
