package token

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"social-metrics-sync/internal/models"
	"social-metrics-sync/internal/platform"
)

// CredentialStore is the durable credential persistence the manager drives.
// Implemented by the Postgres store.
type CredentialStore interface {
	ListWorkspaceCredentials(ctx context.Context, workspaceID string) ([]models.Credential, error)
	GetCredentialByUser(ctx context.Context, workspaceID, userID string) (models.Credential, bool, error)
	PromoteCredential(ctx context.Context, workspaceID, credentialID string) error
	SetRateLimitedUntil(ctx context.Context, workspaceID, accessSecret string, until time.Time) error
	UpdateAccessSecret(ctx context.Context, credentialID, accessSecret string, expiresAt time.Time) error
}

// CooldownCache is the fail-open rate-limit bookkeeping store.
type CooldownCache interface {
	Mark(ctx context.Context, workspaceID, accessSecret string, retryAfter time.Duration) error
	Active(ctx context.Context, workspaceID, accessSecret string) bool
}

// Refresher exchanges a refresh secret for a new access secret.
type Refresher interface {
	RefreshAccessToken(ctx context.Context, refreshSecret string) (*platform.RefreshedToken, error)
}

// Manager owns the rotating credential pool. It is the only component that
// mutates credential state; workers hold opaque WorkspaceToken handles.
type Manager struct {
	store    CredentialStore
	cooldown CooldownCache
	platform Refresher
	log      *zap.Logger

	now func() time.Time
}

func NewManager(store CredentialStore, cooldown CooldownCache, refresher Refresher, log *zap.Logger) *Manager {
	return &Manager{
		store:    store,
		cooldown: cooldown,
		platform: refresher,
		log:      log,
		now:      time.Now,
	}
}

// GetWorkspaceToken selects a usable credential for the workspace. Credentials
// rate-limited or expired at call time are excluded; among the remainder the
// most recently successfully used wins (rotation index ascending). Returns
// nil when no credential is eligible.
func (m *Manager) GetWorkspaceToken(ctx context.Context, workspaceID string) (*models.WorkspaceToken, error) {
	creds, err := m.store.ListWorkspaceCredentials(ctx, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}

	now := m.now().UTC()
	eligible := creds[:0]
	for _, c := range creds {
		if !c.Eligible(now) {
			continue
		}
		if m.cooldown != nil && m.cooldown.Active(ctx, workspaceID, c.AccessSecret) {
			continue
		}
		eligible = append(eligible, c)
	}
	if len(eligible) == 0 {
		return nil, nil
	}
	sort.SliceStable(eligible, func(i, j int) bool {
		return eligible[i].RotationIndex < eligible[j].RotationIndex
	})

	c := eligible[0]
	return &models.WorkspaceToken{
		AccessSecret: c.AccessSecret,
		AccountLabel: c.AccountLabel,
		UserID:       c.UserID,
	}, nil
}

// HasEligibleCredential reports whether GetWorkspaceToken would succeed.
func (m *Manager) HasEligibleCredential(ctx context.Context, workspaceID string) bool {
	tok, err := m.GetWorkspaceToken(ctx, workspaceID)
	return err == nil && tok != nil
}

// MarkUsed records a successful use of the credential holding the access
// secret, moving it to the front of the rotation.
func (m *Manager) MarkUsed(ctx context.Context, workspaceID, accessSecret string) error {
	creds, err := m.store.ListWorkspaceCredentials(ctx, workspaceID)
	if err != nil {
		return fmt.Errorf("list credentials: %w", err)
	}
	for _, c := range creds {
		if c.AccessSecret == accessSecret {
			return m.store.PromoteCredential(ctx, workspaceID, c.ID)
		}
	}
	return nil
}

// HandleRateLimit places the credential in cool-down until the provider's
// retry-after elapses. The credential is not deleted.
func (m *Manager) HandleRateLimit(ctx context.Context, workspaceID, accessSecret string, retryAfterSeconds int) error {
	if retryAfterSeconds <= 0 {
		retryAfterSeconds = platform.DefaultRetryAfterSeconds
	}
	retryAfter := time.Duration(retryAfterSeconds) * time.Second
	until := m.now().UTC().Add(retryAfter)

	if m.cooldown != nil {
		if err := m.cooldown.Mark(ctx, workspaceID, accessSecret, retryAfter); err != nil {
			// Cache is fail-open; the durable column below still guards.
			m.log.Warn("cooldown cache mark failed",
				zap.String("workspace_id", workspaceID),
				zap.Error(err))
		}
	}
	if err := m.store.SetRateLimitedUntil(ctx, workspaceID, accessSecret, until); err != nil {
		return fmt.Errorf("persist rate limit: %w", err)
	}
	m.log.Info("credential rate limited",
		zap.String("workspace_id", workspaceID),
		zap.Time("until", until))
	return nil
}

// RefreshToken exchanges the user's refresh secret for a new access secret
// and persists it. Expected failures (expired or revoked refresh secret)
// return false without an error so callers decide whether to retry or
// escalate; only transport and persistence faults return an error.
func (m *Manager) RefreshToken(ctx context.Context, userID, workspaceID string) (bool, error) {
	cred, found, err := m.store.GetCredentialByUser(ctx, workspaceID, userID)
	if err != nil {
		return false, fmt.Errorf("load credential: %w", err)
	}
	if !found || cred.RefreshSecret == "" {
		m.log.Warn("no refreshable credential",
			zap.String("workspace_id", workspaceID),
			zap.String("user_id", userID))
		return false, nil
	}

	refreshed, err := m.platform.RefreshAccessToken(ctx, cred.RefreshSecret)
	if err != nil {
		var apiErr *platform.APIError
		if errors.As(err, &apiErr) && apiErr.IsAuthError() {
			m.log.Warn("refresh secret expired or revoked",
				zap.String("workspace_id", workspaceID),
				zap.String("user_id", userID))
			return false, nil
		}
		return false, fmt.Errorf("refresh access token: %w", err)
	}

	if err := m.store.UpdateAccessSecret(ctx, cred.ID, refreshed.AccessSecret, refreshed.ExpiresAt); err != nil {
		return false, fmt.Errorf("persist refreshed secret: %w", err)
	}
	m.log.Info("access secret refreshed",
		zap.String("workspace_id", workspaceID),
		zap.String("account_id", cred.AccountID))
	return true, nil
}
