package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"social-metrics-sync/internal/config"
	"social-metrics-sync/internal/models"
	"social-metrics-sync/internal/queue"
)

func newTestProcessor(t *testing.T, queueName string, concurrency int) (*Processor, *queue.RedisQueue) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	cfg := config.Config{WorkerPollInterval: 10 * time.Millisecond}
	q := queue.New(redis.NewClient(&redis.Options{Addr: mr.Addr()}), cfg)
	return NewProcessor(queueName, concurrency, cfg, q, zap.NewNop()), q
}

func TestProcessorCompletesJob(t *testing.T) {
	proc, q := newTestProcessor(t, queue.MetricsFetch, 2)

	done := make(chan models.Job, 1)
	proc.RegisterHandler(models.TypeFetchMetrics, func(_ context.Context, job models.Job) error {
		done <- job
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	job, err := q.Enqueue(ctx, queue.MetricsFetch, models.TypeFetchMetrics, map[string]string{"account": "a1"}, queue.Options{})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	finished := make(chan struct{})
	go func() {
		_ = proc.Run(ctx)
		close(finished)
	}()

	select {
	case got := <-done:
		if got.ID != job.ID {
			t.Fatalf("expected job %s, got %s", job.ID, got.ID)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("handler never invoked")
	}

	cancel()
	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatalf("processor did not drain after cancel")
	}

	// Ack removed the record.
	if _, err := q.GetJob(context.Background(), queue.MetricsFetch, job.ID); err == nil {
		t.Fatalf("expected job record cleared after completion")
	}
}

func TestProcessorRetriesFailedHandler(t *testing.T) {
	proc, q := newTestProcessor(t, queue.MetricsFetch, 1)

	var calls atomic.Int32
	proc.RegisterHandler(models.TypeFetchMetrics, func(context.Context, models.Job) error {
		calls.Add(1)
		return errors.New("upstream 503")
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if _, err := q.Enqueue(ctx, queue.MetricsFetch, models.TypeFetchMetrics, nil, queue.Options{
		MaxAttempts: 2,
		Backoff:     models.BackoffPolicy{Type: models.BackoffFixed, BaseDelay: 20 * time.Millisecond},
	}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	finished := make(chan struct{})
	go func() {
		_ = proc.Run(ctx)
		close(finished)
	}()

	deadline := time.After(3 * time.Second)
	for calls.Load() < 2 {
		select {
		case <-deadline:
			t.Fatalf("expected 2 attempts, saw %d", calls.Load())
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	<-finished

	failed, err := q.FailedJobs(context.Background(), queue.MetricsFetch, 10)
	if err != nil {
		t.Fatalf("failed jobs: %v", err)
	}
	if len(failed) != 1 {
		t.Fatalf("expected job in failed set after exhausting attempts, got %d", len(failed))
	}
}

func TestProcessorRoutesUnknownTypeToFailure(t *testing.T) {
	proc, q := newTestProcessor(t, queue.MetricsFetch, 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if _, err := q.Enqueue(ctx, queue.MetricsFetch, "mystery_type", nil, queue.Options{MaxAttempts: 1}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	finished := make(chan struct{})
	go func() {
		_ = proc.Run(ctx)
		close(finished)
	}()

	deadline := time.After(3 * time.Second)
	for {
		failed, err := q.FailedJobs(context.Background(), queue.MetricsFetch, 10)
		if err != nil {
			t.Fatalf("failed jobs: %v", err)
		}
		if len(failed) == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("unhandled job type never reached failed set")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	<-finished
}
