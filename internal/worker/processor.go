package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"social-metrics-sync/internal/config"
	"social-metrics-sync/internal/models"
	"social-metrics-sync/internal/queue"
	"social-metrics-sync/internal/telemetry"
)

// Handler executes a job for a given type.
type Handler func(ctx context.Context, job models.Job) error

// Processor drives the worker loops for one named queue. Workers never call
// each other directly; cross-queue coordination happens only by enqueuing
// new jobs.
type Processor struct {
	queueName    string
	concurrency  int
	pollInterval time.Duration
	batchSize    int64
	queue        *queue.RedisQueue
	handlers     map[string]Handler
	log          *zap.Logger
}

func NewProcessor(queueName string, concurrency int, cfg config.Config, q *queue.RedisQueue, log *zap.Logger) *Processor {
	if concurrency <= 0 {
		concurrency = 1
	}
	poll := cfg.WorkerPollInterval
	if poll == 0 {
		poll = time.Second
	}
	batch := int64(cfg.ScheduledBatchSize)
	if batch == 0 {
		batch = 100
	}
	return &Processor{
		queueName:    queueName,
		concurrency:  concurrency,
		pollInterval: poll,
		batchSize:    batch,
		queue:        q,
		handlers:     make(map[string]Handler),
		log:          log.With(zap.String("queue", queueName)),
	}
}

// RegisterHandler binds a handler to a job type.
func (p *Processor) RegisterHandler(jobType string, handler Handler) {
	if jobType == "" || handler == nil {
		return
	}
	p.handlers[jobType] = handler
}

// Run starts the maintenance loop and worker goroutines, blocking until the
// context is cancelled and all workers have drained.
func (p *Processor) Run(ctx context.Context) error {
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		p.maintenanceLoop(ctx)
	}()

	for i := 0; i < p.concurrency; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			p.workerLoop(ctx, id)
		}(i)
	}

	wg.Wait()
	return ctx.Err()
}

// maintenanceLoop promotes due scheduled jobs, reclaims expired leases, and
// exports queue depth.
func (p *Processor) maintenanceLoop(ctx context.Context) {
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		now := time.Now()
		if _, err := p.queue.PromoteScheduled(ctx, p.queueName, now, p.batchSize); err != nil && ctx.Err() == nil {
			p.log.Warn("promote scheduled failed", zap.Error(err))
		}
		if reclaimed, err := p.queue.RequeueExpired(ctx, p.queueName, now, p.batchSize); err == nil && len(reclaimed) > 0 {
			telemetry.InFlightGauge.WithLabelValues(p.queueName).Sub(float64(len(reclaimed)))
			p.log.Warn("reclaimed expired leases", zap.Int("count", len(reclaimed)))
		}
		if depth, err := p.queue.ReadyDepth(ctx, p.queueName); err == nil {
			telemetry.QueueDepthGauge.WithLabelValues(p.queueName).Set(float64(depth))
		}
	}
}

func (p *Processor) workerLoop(ctx context.Context, id int) {
	log := p.log.With(zap.Int("worker", id))
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, err := p.queue.Dequeue(ctx, p.queueName)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn("dequeue failed", zap.Error(err))
			sleepCtx(ctx, p.pollInterval)
			continue
		}
		if job == nil {
			sleepCtx(ctx, p.pollInterval)
			continue
		}

		telemetry.InFlightGauge.WithLabelValues(p.queueName).Inc()
		p.dispatch(ctx, log, *job)
		telemetry.InFlightGauge.WithLabelValues(p.queueName).Dec()
	}
}

func (p *Processor) dispatch(ctx context.Context, log *zap.Logger, job models.Job) {
	handler, ok := p.handlers[job.Type]
	if !ok {
		p.fail(ctx, log, job, fmt.Errorf("no handler registered for type %q", job.Type))
		return
	}

	if err := handler(ctx, job); err != nil {
		p.fail(ctx, log, job, err)
		return
	}

	if err := p.queue.Ack(ctx, job); err != nil {
		log.Warn("ack failed", zap.String("job_id", job.ID), zap.Error(err))
		return
	}
	telemetry.JobsCompleted.WithLabelValues(p.queueName).Inc()
}

func (p *Processor) fail(ctx context.Context, log *zap.Logger, job models.Job, cause error) {
	retried, err := p.queue.Fail(ctx, job, cause)
	if err != nil {
		log.Error("record failure", zap.String("job_id", job.ID), zap.Error(err))
		return
	}
	if retried {
		telemetry.JobsRetried.WithLabelValues(p.queueName).Inc()
		log.Info("job attempt failed, retry scheduled",
			zap.String("job_id", job.ID),
			zap.String("type", job.Type),
			zap.Int("attempts", job.Attempts+1),
			zap.Error(cause))
		return
	}
	telemetry.JobsFailed.WithLabelValues(p.queueName).Inc()
	log.Error("job failed permanently",
		zap.String("job_id", job.ID),
		zap.String("type", job.Type),
		zap.Error(cause))
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
