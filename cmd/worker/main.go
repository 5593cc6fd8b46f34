package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"social-metrics-sync/internal/archive"
	"social-metrics-sync/internal/config"
	"social-metrics-sync/internal/models"
	"social-metrics-sync/internal/platform"
	"social-metrics-sync/internal/queue"
	"social-metrics-sync/internal/ratelimit"
	"social-metrics-sync/internal/realtime"
	"social-metrics-sync/internal/store"
	"social-metrics-sync/internal/telemetry"
	"social-metrics-sync/internal/token"
	workerproc "social-metrics-sync/internal/worker"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	logger, err := buildLogger(cfg.Env)
	if err != nil {
		log.Fatalf("build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		cancel()
	}()

	st, err := store.New(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatal("connect postgres", zap.Error(err))
	}
	defer st.Close()

	if err := st.RunMigrations(ctx); err != nil {
		logger.Fatal("migrations", zap.Error(err))
	}

	durable := queue.NewDurableClient(cfg)
	q := queue.New(durable, cfg)

	// Rate-limit bookkeeping lives on its own fail-fast connection so a
	// degraded cache fails open instead of stalling the workers.
	cooldown := ratelimit.NewCooldownStore(ratelimit.NewFastFailClient(cfg))

	apiClient := platform.NewHTTPClient(cfg)
	tokens := token.NewManager(st, cooldown, apiClient, logger)
	fanout := realtime.NewPublisher(durable, cfg.FanoutChannelPrefix, logger)

	archiver, err := archive.NewS3Archiver(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("init snapshot archive", zap.Error(err))
	}

	fetchHandler := workerproc.NewFetchHandler(st, tokens, apiClient, q, fanout, archiverOrNil(archiver), logger)
	webhookHandler := workerproc.NewWebhookHandler(tokens, q, cfg.WebhookFetchDelay, logger)
	refreshHandler := workerproc.NewRefreshHandler(tokens, logger)

	fetchProc := workerproc.NewProcessor(queue.MetricsFetch, cfg.FetchConcurrency, cfg, q, logger)
	fetchProc.RegisterHandler(models.TypeFetchMetrics, fetchHandler.Handle)

	webhookProc := workerproc.NewProcessor(queue.WebhookProcess, cfg.WebhookConcurrency, cfg, q, logger)
	webhookProc.RegisterHandler(models.TypeProcessWebhook, webhookHandler.Handle)

	refreshProc := workerproc.NewProcessor(queue.TokenRefresh, cfg.RefreshConcurrency, cfg, q, logger)
	refreshProc.RegisterHandler(models.TypeRefreshToken, refreshHandler.Handle)

	go func() {
		if err := http.ListenAndServe(cfg.MetricsAddr, telemetry.Handler()); err != nil {
			logger.Warn("metrics server stopped", zap.Error(err))
		}
	}()

	logger.Info("workers started",
		zap.Int("fetch_concurrency", cfg.FetchConcurrency),
		zap.Int("webhook_concurrency", cfg.WebhookConcurrency),
		zap.Int("refresh_concurrency", cfg.RefreshConcurrency))

	var wg sync.WaitGroup
	for _, proc := range []*workerproc.Processor{fetchProc, webhookProc, refreshProc} {
		wg.Add(1)
		go func(p *workerproc.Processor) {
			defer wg.Done()
			_ = p.Run(ctx)
		}(proc)
	}
	wg.Wait()
	logger.Info("workers stopped")
}

// archiverOrNil avoids handing a typed nil pointer to the handler interface.
func archiverOrNil(a *archive.S3Archiver) workerproc.SnapshotArchiver {
	if a == nil {
		return nil
	}
	return a
}

func buildLogger(env string) (*zap.Logger, error) {
	if env == "dev" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
