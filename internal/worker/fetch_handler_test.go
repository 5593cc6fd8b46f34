package worker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"social-metrics-sync/internal/models"
	"social-metrics-sync/internal/platform"
	"social-metrics-sync/internal/queue"
)

type fakeSnapshots struct {
	latest   *models.MetricsSnapshot
	day      *models.MetricsSnapshot
	upserted []models.MetricsSnapshot
}

func (f *fakeSnapshots) LatestSnapshot(context.Context, string, string, string) (*models.MetricsSnapshot, error) {
	return f.latest, nil
}

func (f *fakeSnapshots) DaySnapshot(context.Context, string, string, string, time.Time) (*models.MetricsSnapshot, error) {
	return f.day, nil
}

func (f *fakeSnapshots) UpsertSnapshot(_ context.Context, snap models.MetricsSnapshot) error {
	f.upserted = append(f.upserted, snap)
	return nil
}

type fakeTokens struct {
	token       *models.WorkspaceToken
	rateLimited []int
	marked      []string
}

func (f *fakeTokens) GetWorkspaceToken(context.Context, string) (*models.WorkspaceToken, error) {
	return f.token, nil
}

func (f *fakeTokens) HandleRateLimit(_ context.Context, _, _ string, retryAfterSeconds int) error {
	f.rateLimited = append(f.rateLimited, retryAfterSeconds)
	return nil
}

func (f *fakeTokens) MarkUsed(_ context.Context, _, accessSecret string) error {
	f.marked = append(f.marked, accessSecret)
	return nil
}

func (f *fakeTokens) HasEligibleCredential(context.Context, string) bool {
	return f.token != nil
}

type fakeAPI struct {
	metrics *platform.AccountMetrics
	err     error
	calls   int
}

func (f *fakeAPI) GetAccountInfo(context.Context, string) (*platform.AccountInfo, error) {
	return nil, errors.New("not used")
}

func (f *fakeAPI) GetRecentMediaWithInsights(context.Context, string, int) ([]platform.Media, error) {
	return nil, errors.New("not used")
}

func (f *fakeAPI) GetAccountInsights(context.Context, string, string, string) (map[string]float64, error) {
	return nil, errors.New("not used")
}

func (f *fakeAPI) GetComprehensiveMetrics(context.Context, string, string) (*platform.AccountMetrics, error) {
	f.calls++
	return f.metrics, f.err
}

func (f *fakeAPI) RefreshAccessToken(context.Context, string) (*platform.RefreshedToken, error) {
	return nil, errors.New("not used")
}

type enqueued struct {
	queue   string
	jobType string
	payload any
	opts    queue.Options
}

type fakeEnqueuer struct {
	jobs []enqueued
}

func (f *fakeEnqueuer) Enqueue(_ context.Context, queueName, jobType string, payload any, opts queue.Options) (models.Job, error) {
	f.jobs = append(f.jobs, enqueued{queue: queueName, jobType: jobType, payload: payload, opts: opts})
	return models.Job{ID: "job-1", Queue: queueName, Type: jobType}, nil
}

type fakeFanout struct {
	emitted []models.MetricsSnapshot
}

func (f *fakeFanout) EmitMetricsUpdate(_ context.Context, _ string, snap models.MetricsSnapshot) {
	f.emitted = append(f.emitted, snap)
}

func fetchJob(t *testing.T, p models.FetchPayload) models.Job {
	t.Helper()
	raw, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return models.Job{ID: "j1", Queue: queue.MetricsFetch, Type: models.TypeFetchMetrics, Payload: raw}
}

func TestFetchSkipsWhenSnapshotFresh(t *testing.T) {
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	snaps := &fakeSnapshots{latest: &models.MetricsSnapshot{LastUpdated: now.Add(-5 * time.Minute)}}
	api := &fakeAPI{}
	fanout := &fakeFanout{}
	h := NewFetchHandler(snaps, &fakeTokens{}, api, &fakeEnqueuer{}, fanout, nil, zap.NewNop())
	h.now = func() time.Time { return now }

	err := h.Handle(context.Background(), fetchJob(t, models.FetchPayload{
		WorkspaceID: "ws1", AccountID: "a1", MetricCategory: "likes",
	}))
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if api.calls != 0 {
		t.Fatalf("fresh snapshot must not trigger an API call, got %d", api.calls)
	}
	if len(snaps.upserted) != 0 || len(fanout.emitted) != 0 {
		t.Fatalf("fresh snapshot must not persist or fan out")
	}
}

func TestFetchForceRefreshBypassesFreshness(t *testing.T) {
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	snaps := &fakeSnapshots{latest: &models.MetricsSnapshot{LastUpdated: now.Add(-time.Minute)}}
	api := &fakeAPI{metrics: &platform.AccountMetrics{Measurements: map[string]float64{"followers": 10}}}
	h := NewFetchHandler(snaps, &fakeTokens{token: &models.WorkspaceToken{AccessSecret: "s1"}}, api, &fakeEnqueuer{}, &fakeFanout{}, nil, zap.NewNop())
	h.now = func() time.Time { return now }

	err := h.Handle(context.Background(), fetchJob(t, models.FetchPayload{
		WorkspaceID: "ws1", AccountID: "a1", ForceRefresh: true,
	}))
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if api.calls != 1 {
		t.Fatalf("force refresh must call the API, got %d calls", api.calls)
	}
}

func TestFetchFailsWithoutEligibleCredential(t *testing.T) {
	h := NewFetchHandler(&fakeSnapshots{}, &fakeTokens{token: nil}, &fakeAPI{}, &fakeEnqueuer{}, &fakeFanout{}, nil, zap.NewNop())

	err := h.Handle(context.Background(), fetchJob(t, models.FetchPayload{WorkspaceID: "ws1", AccountID: "a1"}))
	if !errors.Is(err, ErrNoEligibleCredential) {
		t.Fatalf("expected ErrNoEligibleCredential, got %v", err)
	}
}

func TestFetchRateLimitRecordsCooldownAndFailsJob(t *testing.T) {
	tokens := &fakeTokens{token: &models.WorkspaceToken{AccessSecret: "s1"}}
	api := &fakeAPI{err: &platform.APIError{Code: platform.CodeRateLimit, IsRateLimit: true, RetryAfterSeconds: 300}}
	h := NewFetchHandler(&fakeSnapshots{}, tokens, api, &fakeEnqueuer{}, &fakeFanout{}, nil, zap.NewNop())

	err := h.Handle(context.Background(), fetchJob(t, models.FetchPayload{WorkspaceID: "ws1", AccountID: "a1"}))
	if err == nil {
		t.Fatalf("rate limited fetch must fail so the queue retries it")
	}
	if len(tokens.rateLimited) != 1 || tokens.rateLimited[0] != 300 {
		t.Fatalf("expected retry-after recorded on the credential, got %v", tokens.rateLimited)
	}
}

func TestFetchAuthErrorEnqueuesTokenRefresh(t *testing.T) {
	enq := &fakeEnqueuer{}
	api := &fakeAPI{err: &platform.APIError{Code: platform.CodeAuth, Message: "token expired"}}
	h := NewFetchHandler(&fakeSnapshots{}, &fakeTokens{token: &models.WorkspaceToken{AccessSecret: "s1", UserID: "u1"}}, api, enq, &fakeFanout{}, nil, zap.NewNop())

	err := h.Handle(context.Background(), fetchJob(t, models.FetchPayload{WorkspaceID: "ws1", UserID: "u1", AccountID: "a1"}))
	if err == nil {
		t.Fatalf("auth failure must fail the fetch job")
	}
	if len(enq.jobs) != 1 {
		t.Fatalf("expected one refresh job enqueued, got %d", len(enq.jobs))
	}
	if enq.jobs[0].queue != queue.TokenRefresh || enq.jobs[0].jobType != models.TypeRefreshToken {
		t.Fatalf("unexpected follow-up job: %+v", enq.jobs[0])
	}
}

func TestFetchPersistsDeltaAgainstDayBucket(t *testing.T) {
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	snaps := &fakeSnapshots{
		day: &models.MetricsSnapshot{
			Measurements: map[string]float64{"followers": 1000, "likes": 50},
		},
	}
	tokens := &fakeTokens{token: &models.WorkspaceToken{AccessSecret: "s1"}}
	api := &fakeAPI{metrics: &platform.AccountMetrics{
		AccountID:    "a1",
		Measurements: map[string]float64{"followers": 1010, "likes": 80},
	}}
	fanout := &fakeFanout{}
	h := NewFetchHandler(snaps, tokens, api, &fakeEnqueuer{}, fanout, nil, zap.NewNop())
	h.now = func() time.Time { return now }

	err := h.Handle(context.Background(), fetchJob(t, models.FetchPayload{
		WorkspaceID: "ws1", AccountID: "a1", ForceRefresh: true,
	}))
	if err != nil {
		t.Fatalf("handle: %v", err)
	}

	if len(snaps.upserted) != 1 {
		t.Fatalf("expected one upsert, got %d", len(snaps.upserted))
	}
	snap := snaps.upserted[0]
	if snap.ChangesSince["followers"] != 10 || snap.ChangesSince["likes"] != 30 {
		t.Fatalf("unexpected delta: %+v", snap.ChangesSince)
	}
	if snap.PreviousValues["followers"] != 1000 {
		t.Fatalf("previous values not captured: %+v", snap.PreviousValues)
	}
	start, end := models.DayBounds(now)
	if !snap.StartTime.Equal(start) || !snap.EndTime.Equal(end) {
		t.Fatalf("snapshot not bucketed to the day: %s - %s", snap.StartTime, snap.EndTime)
	}
	if snap.DataStatus != models.DataFresh {
		t.Fatalf("expected fresh status, got %s", snap.DataStatus)
	}

	if len(tokens.marked) != 1 || tokens.marked[0] != "s1" {
		t.Fatalf("successful fetch must promote the credential, got %v", tokens.marked)
	}
	if len(fanout.emitted) != 1 {
		t.Fatalf("expected one fan-out emit, got %d", len(fanout.emitted))
	}
}

func TestFetchFirstSnapshotChangesEqualMeasurements(t *testing.T) {
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	snaps := &fakeSnapshots{}
	api := &fakeAPI{metrics: &platform.AccountMetrics{
		Measurements: map[string]float64{"followers": 500},
	}}
	h := NewFetchHandler(snaps, &fakeTokens{token: &models.WorkspaceToken{AccessSecret: "s1"}}, api, &fakeEnqueuer{}, &fakeFanout{}, nil, zap.NewNop())
	h.now = func() time.Time { return now }

	err := h.Handle(context.Background(), fetchJob(t, models.FetchPayload{WorkspaceID: "ws1", AccountID: "a1"}))
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(snaps.upserted) != 1 {
		t.Fatalf("expected one upsert, got %d", len(snaps.upserted))
	}
	snap := snaps.upserted[0]
	if snap.ChangesSince["followers"] != 500 {
		t.Fatalf("first snapshot changes must equal measurements, got %+v", snap.ChangesSince)
	}
	if len(snap.PreviousValues) != 0 {
		t.Fatalf("first snapshot must have no previous values, got %+v", snap.PreviousValues)
	}
}
