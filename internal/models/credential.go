package models

import "time"

// Credential is an access/refresh secret pair authorizing calls to the
// external metrics API for one connected account. A workspace may hold
// several; only the token manager mutates credential state.
type Credential struct {
	ID               string    `json:"id"`
	WorkspaceID      string    `json:"workspace_id"`
	UserID           string    `json:"user_id"`
	AccountID        string    `json:"account_id"`
	AccountLabel     string    `json:"account_label"`
	AccessSecret     string    `json:"-"`
	RefreshSecret    string    `json:"-"`
	ExpiresAt        time.Time `json:"expires_at"`
	RateLimitedUntil time.Time `json:"rate_limited_until"`
	RotationIndex    int       `json:"rotation_index"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Eligible reports whether the credential may be handed out at the given time.
func (c Credential) Eligible(now time.Time) bool {
	if !c.ExpiresAt.IsZero() && !c.ExpiresAt.After(now) {
		return false
	}
	return !c.RateLimitedUntil.After(now)
}

// WorkspaceToken is the opaque handle exposed outside the token manager.
type WorkspaceToken struct {
	AccessSecret string
	AccountLabel string
	UserID       string
}
