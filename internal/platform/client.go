package platform

import (
	"context"
	"time"
)

// AccountInfo describes the connected account as the platform sees it.
type AccountInfo struct {
	AccountID      string `json:"id"`
	Username       string `json:"username"`
	FollowersCount int64  `json:"followers_count"`
	MediaCount     int64  `json:"media_count"`
}

// Media is a single post with its engagement insights.
type Media struct {
	MediaID   string             `json:"id"`
	MediaType string             `json:"media_type"`
	Timestamp time.Time          `json:"timestamp"`
	Insights  map[string]float64 `json:"insights"`
}

// AccountMetrics is the comprehensive metric set a fetch persists.
type AccountMetrics struct {
	AccountID    string
	Measurements map[string]float64
}

// RefreshedToken is the outcome of a successful token exchange.
type RefreshedToken struct {
	AccessSecret string
	ExpiresAt    time.Time
}

// Client is the external metrics API surface consumed by the sync pipeline.
// Every call returns an *APIError on platform failures.
type Client interface {
	GetAccountInfo(ctx context.Context, accessSecret string) (*AccountInfo, error)
	GetRecentMediaWithInsights(ctx context.Context, accessSecret string, days int) ([]Media, error)
	GetAccountInsights(ctx context.Context, accountID, accessSecret, period string) (map[string]float64, error)
	GetComprehensiveMetrics(ctx context.Context, accessSecret, accountID string) (*AccountMetrics, error)
	RefreshAccessToken(ctx context.Context, refreshSecret string) (*RefreshedToken, error)
}
