package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"social-metrics-sync/internal/config"
	"social-metrics-sync/internal/models"
	"social-metrics-sync/internal/queue"
	"social-metrics-sync/internal/store"
	"social-metrics-sync/internal/telemetry"
)

// Server wires the thin ingress layer: webhook receipt, fetch scheduling,
// snapshot reads, and failed-job inspection. The heavy lifting happens on the
// worker side of the queues.
type Server struct {
	cfg   config.Config
	store *store.Store
	queue *queue.RedisQueue
	log   *zap.Logger
}

// New constructs the API server.
func New(cfg config.Config, st *store.Store, q *queue.RedisQueue, log *zap.Logger) *Server {
	return &Server{cfg: cfg, store: st, queue: q, log: log}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Mount("/metrics", telemetry.Handler())

	r.Post("/webhooks/{eventType}", s.handleWebhook)
	r.Post("/workspaces/{workspaceID}/accounts/{accountID}/sync", s.handleScheduleSync)
	r.Get("/workspaces/{workspaceID}/accounts/{accountID}/snapshot", s.handleGetSnapshot)
	r.Get("/queues/{queue}/failed", s.handleFailedJobs)
	return r
}

type webhookRequest struct {
	WorkspaceID string          `json:"workspace_id"`
	AccountID   string          `json:"account_id"`
	Data        json.RawMessage `json:"data"`
}

// handleWebhook accepts a verified platform event and queues it for the
// webhook worker. The upstream has already authenticated the caller.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	eventType := chi.URLParam(r, "eventType")

	var req webhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.WorkspaceID == "" || req.AccountID == "" {
		http.Error(w, "workspace_id and account_id are required", http.StatusBadRequest)
		return
	}

	job, err := s.queue.Enqueue(r.Context(), queue.WebhookProcess, models.TypeProcessWebhook, models.WebhookPayload{
		WorkspaceID: req.WorkspaceID,
		AccountID:   req.AccountID,
		EventType:   eventType,
		Data:        req.Data,
	}, queue.Options{})
	if err != nil {
		s.log.Error("enqueue webhook job", zap.Error(err))
		http.Error(w, "enqueue failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": job.ID})
}

type syncRequest struct {
	UserID         string `json:"user_id"`
	MetricCategory string `json:"metric_category"`
	ForceRefresh   bool   `json:"force_refresh"`
	DelaySeconds   int    `json:"delay_seconds"`
}

func (s *Server) handleScheduleSync(w http.ResponseWriter, r *http.Request) {
	workspaceID := chi.URLParam(r, "workspaceID")
	accountID := chi.URLParam(r, "accountID")

	var req syncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	opts := queue.Options{}
	if req.DelaySeconds > 0 {
		opts.Delay = time.Duration(req.DelaySeconds) * time.Second
	}
	job, err := s.queue.Enqueue(r.Context(), queue.MetricsFetch, models.TypeFetchMetrics, models.FetchPayload{
		WorkspaceID:    workspaceID,
		UserID:         req.UserID,
		AccountID:      accountID,
		MetricCategory: req.MetricCategory,
		ForceRefresh:   req.ForceRefresh,
	}, opts)
	if err != nil {
		s.log.Error("enqueue fetch job", zap.Error(err))
		http.Error(w, "enqueue failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": job.ID})
}

func (s *Server) handleGetSnapshot(w http.ResponseWriter, r *http.Request) {
	workspaceID := chi.URLParam(r, "workspaceID")
	accountID := chi.URLParam(r, "accountID")
	period := r.URL.Query().Get("period")
	if period == "" {
		period = models.PeriodDay
	}

	snap, err := s.store.LatestSnapshot(r.Context(), workspaceID, accountID, period)
	if err != nil {
		s.log.Error("load snapshot", zap.Error(err))
		http.Error(w, "snapshot lookup failed", http.StatusInternalServerError)
		return
	}
	if snap == nil {
		http.Error(w, "no snapshot", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// handleFailedJobs returns the bounded failed set for operator inspection.
func (s *Server) handleFailedJobs(w http.ResponseWriter, r *http.Request) {
	queueName := chi.URLParam(r, "queue")
	jobs, err := s.queue.FailedJobs(r.Context(), queueName, 100)
	if err != nil {
		http.Error(w, "failed to read failed set", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": jobs})
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
