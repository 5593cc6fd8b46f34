package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	FetchesTotal        = prometheus.NewCounter(prometheus.CounterOpts{Name: "sync_fetches_total", Help: "Metrics fetches executed against the platform API"})
	FetchSkippedFresh   = prometheus.NewCounter(prometheus.CounterOpts{Name: "sync_fetches_skipped_fresh_total", Help: "Fetches short-circuited by a fresh snapshot"})
	FetchRateLimited    = prometheus.NewCounter(prometheus.CounterOpts{Name: "sync_fetches_rate_limited_total", Help: "Fetches rejected by the platform rate limit"})
	SnapshotsPersisted  = prometheus.NewCounter(prometheus.CounterOpts{Name: "sync_snapshots_persisted_total", Help: "Snapshot rows upserted"})
	FanoutPublished     = prometheus.NewCounter(prometheus.CounterOpts{Name: "sync_fanout_published_total", Help: "Realtime updates published"})
	WebhookEvents       = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "sync_webhook_events_total", Help: "Webhook events processed by type"}, []string{"event_type"})
	WebhookUnknown      = prometheus.NewCounter(prometheus.CounterOpts{Name: "sync_webhook_unknown_dropped_total", Help: "Webhook events dropped for unknown type"})
	TokenRefreshes      = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "sync_token_refreshes_total", Help: "Token refresh outcomes"}, []string{"status"})
	JobsCompleted       = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "sync_jobs_completed_total", Help: "Jobs completed successfully"}, []string{"queue"})
	JobsRetried         = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "sync_jobs_retried_total", Help: "Job attempts that failed and were rescheduled"}, []string{"queue"})
	JobsFailed          = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "sync_jobs_failed_total", Help: "Jobs that exhausted their attempts"}, []string{"queue"})
	QueueDepthGauge     = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: "sync_queue_depth", Help: "Ready queue depth"}, []string{"queue"})
	InFlightGauge       = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: "sync_jobs_inflight", Help: "Jobs currently leased"}, []string{"queue"})
)

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			FetchesTotal,
			FetchSkippedFresh,
			FetchRateLimited,
			SnapshotsPersisted,
			FanoutPublished,
			WebhookEvents,
			WebhookUnknown,
			TokenRefreshes,
			JobsCompleted,
			JobsRetried,
			JobsFailed,
			QueueDepthGauge,
			InFlightGauge,
		)
	})
	return promhttp.Handler()
}
