package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"social-metrics-sync/internal/config"
	"social-metrics-sync/internal/models"
)

// Named queues coordinated by the sync pipeline.
const (
	MetricsFetch   = "metrics_fetch"
	WebhookProcess = "webhook_process"
	TokenRefresh   = "token_refresh"
)

// Priority bands derived from a job's numeric priority (lower = more urgent).
var bands = []string{"urgent", "default", "low"}

func bandFor(priority int) string {
	switch {
	case priority <= 1:
		return "urgent"
	case priority <= 5:
		return "default"
	default:
		return "low"
	}
}

// Options tune a single enqueue. Zero values fall back to queue defaults:
// 3 attempts, exponential backoff from 1s.
type Options struct {
	Priority    int
	Delay       time.Duration
	MaxAttempts int
	Backoff     models.BackoffPolicy
}

// RedisQueue coordinates ready, in-flight, scheduled, and failed job sets in
// Redis for every named queue. Delivery is at-least-once: a lease that expires
// before acknowledgement re-queues the job, so handlers must be idempotent.
type RedisQueue struct {
	client        *redis.Client
	visibilityTTL time.Duration
	maxAttempts   int
	backoffBase   time.Duration
	failedBound   int64

	now func() time.Time
}

// NewDurableClient builds the Redis client backing the job store. Losing a job
// is worse than delaying one, so commands retry with capped backoff.
func NewDurableClient(cfg config.Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:            cfg.RedisAddr,
		Password:        cfg.RedisPassword,
		DB:              cfg.RedisDB,
		MaxRetries:      10,
		MinRetryBackoff: 100 * time.Millisecond,
		MaxRetryBackoff: 2 * time.Second,
	})
}

// New builds a queue client on top of an established Redis connection.
func New(client *redis.Client, cfg config.Config) *RedisQueue {
	visibility := cfg.VisibilityTimeout
	if visibility == 0 {
		visibility = 60 * time.Second
	}
	maxAttempts := cfg.DefaultMaxAttempts
	if maxAttempts == 0 {
		maxAttempts = 3
	}
	base := cfg.BackoffBase
	if base == 0 {
		base = time.Second
	}
	bound := int64(cfg.FailedSetSize)
	if bound == 0 {
		bound = 100
	}
	return &RedisQueue{
		client:        client,
		visibilityTTL: visibility,
		maxAttempts:   maxAttempts,
		backoffBase:   base,
		failedBound:   bound,
		now:           time.Now,
	}
}

func readyKey(queue, band string) string { return fmt.Sprintf("q:%s:ready:%s", queue, band) }
func scheduledKey(queue string) string { return fmt.Sprintf("q:%s:scheduled", queue) }
func inflightKey(queue string) string { return fmt.Sprintf("q:%s:inflight", queue) }
func failedKey(queue string) string { return fmt.Sprintf("q:%s:failed", queue) }
func jobKey(queue, id string) string { return fmt.Sprintf("q:%s:job:%s", queue, id) }

// Enqueue creates a job record and places it on the ready list, or in the
// scheduled set when a delay is requested. It returns the created job handle.
func (q *RedisQueue) Enqueue(ctx context.Context, queueName, jobType string, payload any, opts Options) (models.Job, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return models.Job{}, fmt.Errorf("marshal payload: %w", err)
	}

	if opts.MaxAttempts == 0 {
		opts.MaxAttempts = q.maxAttempts
	}
	if opts.Backoff.Type == "" {
		opts.Backoff = models.BackoffPolicy{Type: models.BackoffExponential, BaseDelay: q.backoffBase}
	}
	if opts.Backoff.BaseDelay == 0 {
		opts.Backoff.BaseDelay = q.backoffBase
	}
	if opts.Priority == 0 {
		opts.Priority = 5
	}

	now := q.now().UTC()
	job := models.Job{
		ID:          uuid.New().String(),
		Queue:       queueName,
		Type:        jobType,
		Payload:     raw,
		MaxAttempts: opts.MaxAttempts,
		Backoff:     opts.Backoff,
		Priority:    opts.Priority,
		NotBefore:   now.Add(opts.Delay),
		Status:      models.StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	data, err := json.Marshal(job)
	if err != nil {
		return models.Job{}, fmt.Errorf("marshal job: %w", err)
	}

	pipe := q.client.TxPipeline()
	pipe.Set(ctx, jobKey(queueName, job.ID), data, 0)
	if opts.Delay > 0 {
		pipe.ZAdd(ctx, scheduledKey(queueName), redis.Z{Score: float64(job.NotBefore.UnixMilli()), Member: job.ID})
	} else {
		pipe.RPush(ctx, readyKey(queueName, bandFor(job.Priority)), job.ID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return models.Job{}, fmt.Errorf("enqueue %s/%s: %w", queueName, jobType, err)
	}
	return job, nil
}

// Dequeue pops the most urgent ready job and leases it for the visibility
// window. It returns nil when no job is ready.
func (q *RedisQueue) Dequeue(ctx context.Context, queueName string) (*models.Job, error) {
	keys := make([]string, 0, len(bands)+1)
	for _, b := range bands {
		keys = append(keys, readyKey(queueName, b))
	}
	keys = append(keys, inflightKey(queueName))

	res, err := dequeueScript.Run(ctx, q.client, keys, q.now().Add(q.visibilityTTL).UnixMilli()).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	jobID, ok := res.(string)
	if !ok {
		return nil, fmt.Errorf("unexpected type from dequeue script: %T", res)
	}

	job, err := q.getJob(ctx, queueName, jobID)
	if err != nil {
		// Record lost (e.g. expired failed-job TTL); drop the lease.
		_ = q.client.ZRem(ctx, inflightKey(queueName), jobID).Err()
		return nil, err
	}
	job.Status = models.StatusActive
	job.UpdatedAt = q.now().UTC()
	if err := q.putJob(ctx, job); err != nil {
		return nil, err
	}
	return &job, nil
}

// Ack acknowledges a completed job. Completed jobs are auto-cleared: the
// record and lease are removed.
func (q *RedisQueue) Ack(ctx context.Context, job models.Job) error {
	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, inflightKey(job.Queue), job.ID)
	pipe.Del(ctx, jobKey(job.Queue, job.ID))
	_, err := pipe.Exec(ctx)
	return err
}

// Fail records a failed attempt. While attempts remain the job is scheduled
// for retry per its backoff policy; otherwise it lands in the bounded failed
// set and its record is retained for diagnostics. The returned flag reports
// whether a retry was scheduled.
func (q *RedisQueue) Fail(ctx context.Context, job models.Job, cause error) (bool, error) {
	job.Attempts++
	job.LastError = cause.Error()
	job.UpdatedAt = q.now().UTC()

	if job.Attempts >= job.MaxAttempts {
		job.Status = models.StatusFailed
		data, err := json.Marshal(job)
		if err != nil {
			return false, fmt.Errorf("marshal job: %w", err)
		}
		pipe := q.client.TxPipeline()
		pipe.ZRem(ctx, inflightKey(job.Queue), job.ID)
		pipe.Set(ctx, jobKey(job.Queue, job.ID), data, 24*time.Hour)
		pipe.LPush(ctx, failedKey(job.Queue), job.ID)
		pipe.LTrim(ctx, failedKey(job.Queue), 0, q.failedBound-1)
		_, err = pipe.Exec(ctx)
		return false, err
	}

	delay := job.Backoff.NextBackoff(job.Attempts)
	job.Status = models.StatusPending
	job.NotBefore = q.now().UTC().Add(delay)
	data, err := json.Marshal(job)
	if err != nil {
		return false, fmt.Errorf("marshal job: %w", err)
	}
	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, inflightKey(job.Queue), job.ID)
	pipe.Set(ctx, jobKey(job.Queue, job.ID), data, 0)
	pipe.ZAdd(ctx, scheduledKey(job.Queue), redis.Z{Score: float64(job.NotBefore.UnixMilli()), Member: job.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// PromoteScheduled moves due scheduled jobs into ready lists. It returns how many were promoted.
func (q *RedisQueue) PromoteScheduled(ctx context.Context, queueName string, now time.Time, limit int64) (int, error) {
	ids, err := q.client.ZRangeByScore(ctx, scheduledKey(queueName), &redis.ZRangeBy{
		Min:    "-inf",
		Max:    fmt.Sprintf("%d", now.UnixMilli()),
		Offset: 0,
		Count:  limit,
	}).Result()
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	pipe := q.client.TxPipeline()
	for _, id := range ids {
		band := "default"
		if job, err := q.getJob(ctx, queueName, id); err == nil {
			band = bandFor(job.Priority)
		}
		pipe.ZRem(ctx, scheduledKey(queueName), id)
		pipe.RPush(ctx, readyKey(queueName, band), id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return len(ids), nil
}

// RequeueExpired reclaims leases that timed out, re-enqueuing the jobs. A
// crash before acknowledgement lands here, which is why handlers must be
// idempotent.
func (q *RedisQueue) RequeueExpired(ctx context.Context, queueName string, now time.Time, limit int64) ([]string, error) {
	ids, err := q.client.ZRangeByScore(ctx, inflightKey(queueName), &redis.ZRangeBy{
		Min:    "-inf",
		Max:    fmt.Sprintf("%d", now.UnixMilli()),
		Offset: 0,
		Count:  limit,
	}).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := q.client.TxPipeline()
	for _, id := range ids {
		band := "default"
		if job, err := q.getJob(ctx, queueName, id); err == nil {
			band = bandFor(job.Priority)
		}
		pipe.ZRem(ctx, inflightKey(queueName), id)
		pipe.RPush(ctx, readyKey(queueName, band), id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}
	return ids, nil
}

// GetJob fetches a job record by id.
func (q *RedisQueue) GetJob(ctx context.Context, queueName, id string) (models.Job, error) {
	return q.getJob(ctx, queueName, id)
}

// FailedJobs returns the most recent entries of the bounded failed set.
func (q *RedisQueue) FailedJobs(ctx context.Context, queueName string, count int64) ([]models.Job, error) {
	ids, err := q.client.LRange(ctx, failedKey(queueName), 0, count-1).Result()
	if err != nil {
		return nil, err
	}
	jobs := make([]models.Job, 0, len(ids))
	for _, id := range ids {
		job, err := q.getJob(ctx, queueName, id)
		if err != nil {
			continue // record aged out
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// ReadyDepth returns the total length of a queue's ready lists.
func (q *RedisQueue) ReadyDepth(ctx context.Context, queueName string) (int64, error) {
	pipe := q.client.Pipeline()
	cmds := make([]*redis.IntCmd, 0, len(bands))
	for _, b := range bands {
		cmds = append(cmds, pipe.LLen(ctx, readyKey(queueName, b)))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	var total int64
	for _, c := range cmds {
		total += c.Val()
	}
	return total, nil
}

func (q *RedisQueue) getJob(ctx context.Context, queueName, id string) (models.Job, error) {
	data, err := q.client.Get(ctx, jobKey(queueName, id)).Bytes()
	if err == redis.Nil {
		return models.Job{}, fmt.Errorf("job %s not found", id)
	}
	if err != nil {
		return models.Job{}, err
	}
	var job models.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return models.Job{}, fmt.Errorf("unmarshal job %s: %w", id, err)
	}
	return job, nil
}

func (q *RedisQueue) putJob(ctx context.Context, job models.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	return q.client.Set(ctx, jobKey(job.Queue, job.ID), data, 0).Err()
}

var dequeueScript = redis.NewScript(`
local inflight = KEYS[#KEYS]
for i=1,#KEYS-1 do
  local job = redis.call('LPOP', KEYS[i])
  if job then
    redis.call('ZADD', inflight, ARGV[1], job)
    return job
  end
end
return nil
`)
