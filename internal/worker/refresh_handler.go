package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"social-metrics-sync/internal/models"
	"social-metrics-sync/internal/telemetry"
)

// TokenRefresher is the token manager's refresh flow.
type TokenRefresher interface {
	RefreshToken(ctx context.Context, userID, workspaceID string) (bool, error)
}

// RefreshHandler drives the token manager's refresh flow for queued refresh
// jobs. Expected failures (expired or revoked refresh secret) complete the
// job; only unexpected transport errors propagate as retryable failures.
type RefreshHandler struct {
	tokens TokenRefresher
	log    *zap.Logger
}

func NewRefreshHandler(tokens TokenRefresher, log *zap.Logger) *RefreshHandler {
	return &RefreshHandler{tokens: tokens, log: log}
}

func (h *RefreshHandler) Handle(ctx context.Context, job models.Job) error {
	var p models.RefreshPayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return fmt.Errorf("decode refresh payload: %w", err)
	}

	ok, err := h.tokens.RefreshToken(ctx, p.UserID, p.WorkspaceID)
	if err != nil {
		telemetry.TokenRefreshes.WithLabelValues("error").Inc()
		return err
	}

	status := "failed"
	if ok {
		status = "success"
	}
	telemetry.TokenRefreshes.WithLabelValues(status).Inc()
	h.log.Info("token refresh finished",
		zap.String("workspace_id", p.WorkspaceID),
		zap.String("user_id", p.UserID),
		zap.String("status", status))
	return nil
}
