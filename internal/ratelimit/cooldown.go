package ratelimit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"social-metrics-sync/internal/config"
)

// NewFastFailClient builds the Redis client used only for rate-limit
// bookkeeping. It never retries or queues commands while disconnected, so a
// degraded store fails open instead of stalling request handling.
func NewFastFailClient(cfg config.Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		MaxRetries:   -1,
		DialTimeout:  500 * time.Millisecond,
		ReadTimeout:  300 * time.Millisecond,
		WriteTimeout: 300 * time.Millisecond,
	})
}

// CooldownStore tracks per-credential rate-limit cool-downs in the fast-fail
// cache. All reads fail open: if the cache is unreachable a credential is
// treated as not cooling down and the durable rate_limited_until column is
// the remaining guard.
type CooldownStore struct {
	client *redis.Client
}

func NewCooldownStore(client *redis.Client) *CooldownStore {
	return &CooldownStore{client: client}
}

func cooldownKey(workspaceID, accessSecret string) string {
	// Secrets never hit Redis in the clear.
	sum := sha256.Sum256([]byte(accessSecret))
	return fmt.Sprintf("cooldown:%s:%s", workspaceID, hex.EncodeToString(sum[:8]))
}

// Mark records a cool-down for the credential until retryAfter elapses.
// Best effort: errors are returned for logging but must not fail the caller.
func (s *CooldownStore) Mark(ctx context.Context, workspaceID, accessSecret string, retryAfter time.Duration) error {
	if retryAfter <= 0 {
		return nil
	}
	return s.client.Set(ctx, cooldownKey(workspaceID, accessSecret), time.Now().UTC().Format(time.RFC3339), retryAfter).Err()
}

// Active reports whether the credential is cooling down. Cache errors read as
// false.
func (s *CooldownStore) Active(ctx context.Context, workspaceID, accessSecret string) bool {
	n, err := s.client.Exists(ctx, cooldownKey(workspaceID, accessSecret)).Result()
	if err != nil {
		return false
	}
	return n > 0
}
