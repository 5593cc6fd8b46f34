package insights

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFreshnessThresholds(t *testing.T) {
	cases := []struct {
		category string
		want     time.Duration
	}{
		{"followers", 60 * time.Minute},
		{"likes", 15 * time.Minute},
		{"comments", 10 * time.Minute},
		{"reach", 30 * time.Minute},
		{"impressions", 45 * time.Minute},
		{"all", 20 * time.Minute},
		{"", 20 * time.Minute},
		{"something_new", 20 * time.Minute},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, FreshnessThreshold(tc.category), "category %q", tc.category)
	}
}

func TestIsFresh(t *testing.T) {
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)

	assert.True(t, IsFresh(now, now.Add(-14*time.Minute), "likes"))
	assert.False(t, IsFresh(now, now.Add(-15*time.Minute), "likes"))
	assert.True(t, IsFresh(now, now.Add(-59*time.Minute), "followers"))
	assert.False(t, IsFresh(now, now.Add(-2*time.Hour), "followers"))
	assert.False(t, IsFresh(now, now.Add(-21*time.Minute), "unknown"))
}
