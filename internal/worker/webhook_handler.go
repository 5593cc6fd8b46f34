package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"social-metrics-sync/internal/models"
	"social-metrics-sync/internal/queue"
	"social-metrics-sync/internal/telemetry"
)

// Webhook event types the ingestion worker understands.
const (
	EventComment      = "comment"
	EventMention      = "mention"
	EventStoryInsight = "story_insight"
	EventMessage      = "message"
	EventMediaUpdate  = "media_update"
)

// SideEffect applies the narrow event-specific side effect (content or DM
// storage lives with external collaborators).
type SideEffect func(ctx context.Context, event models.WebhookPayload) error

// WebhookHandler consumes platform webhook events and schedules a prompt
// re-fetch of the affected account's metrics.
type WebhookHandler struct {
	tokens     TokenSource
	enqueue    Enqueuer
	effects    map[string]SideEffect
	fetchDelay time.Duration
	log        *zap.Logger
}

func NewWebhookHandler(tokens TokenSource, enq Enqueuer, fetchDelay time.Duration, log *zap.Logger) *WebhookHandler {
	h := &WebhookHandler{
		tokens:     tokens,
		enqueue:    enq,
		fetchDelay: fetchDelay,
		log:        log,
	}
	h.effects = map[string]SideEffect{
		EventComment:      h.logEvent,
		EventMention:      h.logEvent,
		EventStoryInsight: h.logEvent,
		EventMessage:      h.logEvent,
		EventMediaUpdate:  h.logEvent,
	}
	return h
}

// RegisterSideEffect overrides the side effect for an event type, letting the
// content/DM collaborators plug in their handlers.
func (h *WebhookHandler) RegisterSideEffect(eventType string, effect SideEffect) {
	if eventType == "" || effect == nil {
		return
	}
	h.effects[eventType] = effect
}

func (h *WebhookHandler) Handle(ctx context.Context, job models.Job) error {
	var event models.WebhookPayload
	if err := json.Unmarshal(job.Payload, &event); err != nil {
		return fmt.Errorf("decode webhook payload: %w", err)
	}

	effect, ok := h.effects[event.EventType]
	if !ok {
		// Unknown event types are logged and dropped, not retried.
		telemetry.WebhookUnknown.Inc()
		h.log.Warn("unknown webhook event type dropped",
			zap.String("event_type", event.EventType),
			zap.String("workspace_id", event.WorkspaceID))
		return nil
	}

	telemetry.WebhookEvents.WithLabelValues(event.EventType).Inc()
	if err := effect(ctx, event); err != nil {
		return fmt.Errorf("apply %s side effect: %w", event.EventType, err)
	}

	// Skip the follow-up fetch when no credential is eligible; the webhook is
	// still processed and a later scheduled fetch picks up the change.
	if !h.tokens.HasEligibleCredential(ctx, event.WorkspaceID) {
		h.log.Info("no eligible credential, skipping follow-up fetch",
			zap.String("workspace_id", event.WorkspaceID))
		return nil
	}

	// Delay lets the upstream platform make the event visible before we fetch.
	_, err := h.enqueue.Enqueue(ctx, queue.MetricsFetch, models.TypeFetchMetrics, models.FetchPayload{
		WorkspaceID:  event.WorkspaceID,
		AccountID:    event.AccountID,
		ForceRefresh: true,
	}, queue.Options{
		Priority: 1,
		Delay:    h.fetchDelay,
	})
	if err != nil {
		return fmt.Errorf("enqueue follow-up fetch: %w", err)
	}
	return nil
}

func (h *WebhookHandler) logEvent(_ context.Context, event models.WebhookPayload) error {
	h.log.Debug("webhook side effect applied",
		zap.String("event_type", event.EventType),
		zap.String("workspace_id", event.WorkspaceID),
		zap.String("account_id", event.AccountID))
	return nil
}
