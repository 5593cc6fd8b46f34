package worker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"social-metrics-sync/internal/models"
	"social-metrics-sync/internal/queue"
)

func webhookJob(t *testing.T, p models.WebhookPayload) models.Job {
	t.Helper()
	raw, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return models.Job{ID: "w1", Queue: queue.WebhookProcess, Type: models.TypeProcessWebhook, Payload: raw}
}

func TestWebhookSchedulesUrgentFollowUpFetch(t *testing.T) {
	enq := &fakeEnqueuer{}
	tokens := &fakeTokens{token: &models.WorkspaceToken{AccessSecret: "s1"}}
	h := NewWebhookHandler(tokens, enq, 5*time.Second, zap.NewNop())

	err := h.Handle(context.Background(), webhookJob(t, models.WebhookPayload{
		WorkspaceID: "ws1", AccountID: "a1", EventType: EventComment,
	}))
	if err != nil {
		t.Fatalf("handle: %v", err)
	}

	if len(enq.jobs) != 1 {
		t.Fatalf("expected exactly one follow-up fetch, got %d", len(enq.jobs))
	}
	j := enq.jobs[0]
	if j.queue != queue.MetricsFetch || j.jobType != models.TypeFetchMetrics {
		t.Fatalf("unexpected follow-up job: %+v", j)
	}
	if j.opts.Priority != 1 || j.opts.Delay != 5*time.Second {
		t.Fatalf("expected urgent fetch after 5s, got %+v", j.opts)
	}
	p, ok := j.payload.(models.FetchPayload)
	if !ok {
		t.Fatalf("unexpected payload type %T", j.payload)
	}
	if !p.ForceRefresh || p.WorkspaceID != "ws1" || p.AccountID != "a1" {
		t.Fatalf("unexpected fetch payload: %+v", p)
	}
}

func TestWebhookUnknownEventDropped(t *testing.T) {
	enq := &fakeEnqueuer{}
	h := NewWebhookHandler(&fakeTokens{token: &models.WorkspaceToken{}}, enq, time.Second, zap.NewNop())

	err := h.Handle(context.Background(), webhookJob(t, models.WebhookPayload{
		WorkspaceID: "ws1", AccountID: "a1", EventType: "poke",
	}))
	if err != nil {
		t.Fatalf("unknown events must complete without error, got %v", err)
	}
	if len(enq.jobs) != 0 {
		t.Fatalf("unknown events must not schedule a fetch, got %+v", enq.jobs)
	}
}

func TestWebhookSkipsFetchWithoutCredential(t *testing.T) {
	enq := &fakeEnqueuer{}
	h := NewWebhookHandler(&fakeTokens{token: nil}, enq, time.Second, zap.NewNop())

	err := h.Handle(context.Background(), webhookJob(t, models.WebhookPayload{
		WorkspaceID: "ws1", AccountID: "a1", EventType: EventMention,
	}))
	if err != nil {
		t.Fatalf("missing credential must not fail the webhook job, got %v", err)
	}
	if len(enq.jobs) != 0 {
		t.Fatalf("no fetch expected without an eligible credential, got %+v", enq.jobs)
	}
}

func TestWebhookSideEffectErrorRetries(t *testing.T) {
	enq := &fakeEnqueuer{}
	h := NewWebhookHandler(&fakeTokens{token: &models.WorkspaceToken{}}, enq, time.Second, zap.NewNop())
	boom := errors.New("comment store down")
	h.RegisterSideEffect(EventComment, func(context.Context, models.WebhookPayload) error {
		return boom
	})

	err := h.Handle(context.Background(), webhookJob(t, models.WebhookPayload{
		WorkspaceID: "ws1", AccountID: "a1", EventType: EventComment,
	}))
	if !errors.Is(err, boom) {
		t.Fatalf("side effect failure must propagate for retry, got %v", err)
	}
	if len(enq.jobs) != 0 {
		t.Fatalf("failed side effect must not schedule a fetch")
	}
}
