package models

import "encoding/json"

// Job types carried on the queues.
const (
	TypeFetchMetrics   = "fetch_account_metrics"
	TypeProcessWebhook = "process_webhook_event"
	TypeRefreshToken   = "refresh_access_token"
)

// FetchPayload is the input to the metrics fetch worker.
type FetchPayload struct {
	WorkspaceID      string `json:"workspace_id"`
	UserID           string `json:"user_id"`
	AccountID        string `json:"account_id"`
	AccessSecretHint string `json:"access_secret_hint,omitempty"`
	MetricCategory   string `json:"metric_category,omitempty"`
	ForceRefresh     bool   `json:"force_refresh"`
}

// WebhookPayload is a transient platform event consumed by the webhook worker.
type WebhookPayload struct {
	WorkspaceID string          `json:"workspace_id"`
	AccountID   string          `json:"account_id"`
	EventType   string          `json:"event_type"`
	Data        json.RawMessage `json:"data,omitempty"`
}

// RefreshPayload is the input to the token refresh worker.
type RefreshPayload struct {
	WorkspaceID       string `json:"workspace_id"`
	UserID            string `json:"user_id"`
	AccountID         string `json:"account_id,omitempty"`
	RefreshSecretHint string `json:"refresh_secret_hint,omitempty"`
}
