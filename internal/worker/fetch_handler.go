package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"social-metrics-sync/internal/insights"
	"social-metrics-sync/internal/models"
	"social-metrics-sync/internal/platform"
	"social-metrics-sync/internal/queue"
	"social-metrics-sync/internal/telemetry"
)

// ErrNoEligibleCredential fails a fetch whose workspace has no usable
// credential; the queue's retry policy decides when to try again.
var ErrNoEligibleCredential = errors.New("no eligible credential for workspace")

// SnapshotStore is the snapshot persistence consumed by the fetch worker.
type SnapshotStore interface {
	LatestSnapshot(ctx context.Context, workspaceID, accountID, period string) (*models.MetricsSnapshot, error)
	DaySnapshot(ctx context.Context, workspaceID, accountID, period string, at time.Time) (*models.MetricsSnapshot, error)
	UpsertSnapshot(ctx context.Context, snap models.MetricsSnapshot) error
}

// TokenSource is the token manager surface the workers use.
type TokenSource interface {
	GetWorkspaceToken(ctx context.Context, workspaceID string) (*models.WorkspaceToken, error)
	HandleRateLimit(ctx context.Context, workspaceID, accessSecret string, retryAfterSeconds int) error
	MarkUsed(ctx context.Context, workspaceID, accessSecret string) error
	HasEligibleCredential(ctx context.Context, workspaceID string) bool
}

// Enqueuer submits follow-up jobs. Implemented by the Redis queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, queueName, jobType string, payload any, opts queue.Options) (models.Job, error)
}

// FanoutPublisher pushes persisted updates to subscribed live clients.
type FanoutPublisher interface {
	EmitMetricsUpdate(ctx context.Context, workspaceID string, snap models.MetricsSnapshot)
}

// SnapshotArchiver keeps raw snapshot copies. Optional.
type SnapshotArchiver interface {
	Archive(ctx context.Context, snap models.MetricsSnapshot)
}

// FetchHandler pulls metrics-fetch jobs, obtains a credential, calls the
// platform API, computes deltas, and persists the day's snapshot. Re-delivery
// is safe: the freshness check and upsert-by-day key make repeated execution
// converge to the same stored state.
type FetchHandler struct {
	snapshots SnapshotStore
	tokens    TokenSource
	api       platform.Client
	enqueue   Enqueuer
	fanout    FanoutPublisher
	archive   SnapshotArchiver
	log       *zap.Logger

	now func() time.Time
}

func NewFetchHandler(snapshots SnapshotStore, tokens TokenSource, api platform.Client, enq Enqueuer, fanout FanoutPublisher, archive SnapshotArchiver, log *zap.Logger) *FetchHandler {
	return &FetchHandler{
		snapshots: snapshots,
		tokens:    tokens,
		api:       api,
		enqueue:   enq,
		fanout:    fanout,
		archive:   archive,
		log:       log,
		now:       time.Now,
	}
}

func (h *FetchHandler) Handle(ctx context.Context, job models.Job) error {
	var p models.FetchPayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return fmt.Errorf("decode fetch payload: %w", err)
	}
	category := p.MetricCategory
	if category == "" {
		category = insights.CategoryDefault
	}
	now := h.now().UTC()

	// Dominant path: a fresh snapshot means no external call at all.
	if !p.ForceRefresh {
		existing, err := h.snapshots.LatestSnapshot(ctx, p.WorkspaceID, p.AccountID, models.PeriodDay)
		if err != nil {
			return fmt.Errorf("load latest snapshot: %w", err)
		}
		if existing != nil && insights.IsFresh(now, existing.LastUpdated, category) {
			telemetry.FetchSkippedFresh.Inc()
			return nil
		}
	}

	tok, err := h.tokens.GetWorkspaceToken(ctx, p.WorkspaceID)
	if err != nil {
		return fmt.Errorf("select credential: %w", err)
	}
	if tok == nil {
		return ErrNoEligibleCredential
	}

	telemetry.FetchesTotal.Inc()
	metrics, err := h.api.GetComprehensiveMetrics(ctx, tok.AccessSecret, p.AccountID)
	if err != nil {
		return h.handleAPIError(ctx, p, tok, err)
	}

	snap, err := h.persist(ctx, p, metrics.Measurements, now)
	if err != nil {
		return err
	}

	if err := h.tokens.MarkUsed(ctx, p.WorkspaceID, tok.AccessSecret); err != nil {
		h.log.Warn("mark credential used failed",
			zap.String("workspace_id", p.WorkspaceID),
			zap.Error(err))
	}
	h.fanout.EmitMetricsUpdate(ctx, p.WorkspaceID, snap)
	if h.archive != nil {
		h.archive.Archive(ctx, snap)
	}
	return nil
}

func (h *FetchHandler) handleAPIError(ctx context.Context, p models.FetchPayload, tok *models.WorkspaceToken, err error) error {
	var apiErr *platform.APIError
	if !errors.As(err, &apiErr) {
		return err
	}

	switch {
	case apiErr.IsRateLimit:
		telemetry.FetchRateLimited.Inc()
		if hrErr := h.tokens.HandleRateLimit(ctx, p.WorkspaceID, tok.AccessSecret, apiErr.RetryAfterSeconds); hrErr != nil {
			h.log.Error("record rate limit", zap.String("workspace_id", p.WorkspaceID), zap.Error(hrErr))
		}
	case apiErr.IsAuthError():
		if _, enqErr := h.enqueue.Enqueue(ctx, queue.TokenRefresh, models.TypeRefreshToken, models.RefreshPayload{
			WorkspaceID: p.WorkspaceID,
			UserID:      p.UserID,
			AccountID:   p.AccountID,
		}, queue.Options{}); enqErr != nil {
			h.log.Error("enqueue token refresh", zap.String("workspace_id", p.WorkspaceID), zap.Error(enqErr))
		}
	}
	return err
}

// persist computes the delta against today's bucket and upserts the row.
// Concurrent fetches for the same account/day are last-writer-wins.
func (h *FetchHandler) persist(ctx context.Context, p models.FetchPayload, raw map[string]float64, now time.Time) (models.MetricsSnapshot, error) {
	measurements := insights.WithDerived(raw)

	existing, err := h.snapshots.DaySnapshot(ctx, p.WorkspaceID, p.AccountID, models.PeriodDay, now)
	if err != nil {
		return models.MetricsSnapshot{}, fmt.Errorf("load day snapshot: %w", err)
	}
	var previous map[string]float64
	if existing != nil {
		previous = existing.Measurements
	}
	delta := insights.ComputeDelta(previous, measurements)

	start, end := models.DayBounds(now)
	snap := models.MetricsSnapshot{
		WorkspaceID:    p.WorkspaceID,
		AccountID:      p.AccountID,
		Period:         models.PeriodDay,
		StartTime:      start,
		EndTime:        end,
		Measurements:   measurements,
		PreviousValues: delta.Previous,
		ChangesSince:   delta.Changes,
		LastUpdated:    now,
		FetchedAt:      now,
		DataStatus:     models.DataFresh,
	}
	if err := h.snapshots.UpsertSnapshot(ctx, snap); err != nil {
		return models.MetricsSnapshot{}, fmt.Errorf("persist snapshot: %w", err)
	}
	telemetry.SnapshotsPersisted.Inc()
	return snap, nil
}
