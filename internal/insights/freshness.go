package insights

import "time"

// CategoryDefault is used when no explicit metric category is requested.
const CategoryDefault = "all"

// Staleness thresholds per metric category. Slow-moving counters tolerate
// longer staleness; fast-moving engagement counters refresh more eagerly,
// bounding upstream call volume without starving realtime use.
var freshnessThresholds = map[string]time.Duration{
	"followers":     60 * time.Minute,
	"likes":         15 * time.Minute,
	"comments":      10 * time.Minute,
	"reach":         30 * time.Minute,
	"impressions":   45 * time.Minute,
	CategoryDefault: 20 * time.Minute,
}

// FreshnessThreshold returns the maximum age a cached snapshot of the given
// category may have before it is re-fetched.
func FreshnessThreshold(category string) time.Duration {
	if d, ok := freshnessThresholds[category]; ok {
		return d
	}
	return freshnessThresholds[CategoryDefault]
}

// IsFresh reports whether a snapshot last updated at the given time is still
// within its category's staleness threshold.
func IsFresh(now, lastUpdated time.Time, category string) bool {
	return now.Sub(lastUpdated) < FreshnessThreshold(category)
}
