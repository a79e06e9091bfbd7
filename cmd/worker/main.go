// Command worker runs the background processing pool: it pops job ids off
// the task queue, loads the job, and dispatches it through the job router
// to whichever handler owns its stage.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/knowledgecore/pipeline/pkg/breaker"
	"github.com/knowledgecore/pipeline/pkg/config"
	"github.com/knowledgecore/pipeline/pkg/coordinator"
	"github.com/knowledgecore/pipeline/pkg/domain"
	"github.com/knowledgecore/pipeline/pkg/embedder"
	"github.com/knowledgecore/pipeline/pkg/handlers"
	"github.com/knowledgecore/pipeline/pkg/oracle"
	"github.com/knowledgecore/pipeline/pkg/resource"
	"github.com/knowledgecore/pipeline/pkg/router"
	"github.com/knowledgecore/pipeline/pkg/store"
	"github.com/knowledgecore/pipeline/pkg/taskqueue"
	"github.com/knowledgecore/pipeline/pkg/workerpool"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir", getEnv("CONFIG_DIR", "./deploy/config"), "Path to configuration directory")
	metricsAddr := flag.String("metrics-addr", getEnv("METRICS_ADDR", ":9090"), "Address to serve /metrics on")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		slog.Error("failed to initialize configuration", "error", err)
		os.Exit(1)
	}
	stats := cfg.Stats()
	slog.Info("configuration loaded", "worker_count", stats.WorkerCount, "max_ai_calls", stats.MaxAICalls, "oracle_model", stats.OracleModel)

	pgStore, err := store.NewPostgres(ctx, cfg.Store)
	if err != nil {
		slog.Error("failed to connect to store", "error", err)
		os.Exit(1)
	}
	defer pgStore.Close()

	var oracleAdapter oracle.Oracle
	switch cfg.Oracle.Provider {
	case "http":
		oracleAdapter = oracle.NewHTTPOracle(cfg.Oracle)
	default:
		oracleAdapter = oracle.NewAnthropicOracle(cfg.Oracle)
	}

	embedAdapter := embedder.NewHTTPEmbedder(cfg.Embedder)
	resourceMgr := resource.NewManager(cfg.Resource)
	breakerRegistry := breaker.NewRegistry(cfg.Oracle.BreakerFailureThreshold, cfg.Oracle.BreakerTimeout)

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.TaskQueue.Addr, Password: cfg.TaskQueue.Password, DB: cfg.TaskQueue.DB})
	queue := taskqueue.NewRedisQueueWithClient(redisClient, cfg.TaskQueue)
	go queue.RunDelayPoller(ctx)

	coord := coordinator.New(pgStore, queue, cfg.Dedup)

	caps := handlers.Capabilities{
		Store:       pgStore,
		Oracle:      oracleAdapter,
		Embedder:    embedAdapter,
		Resources:   resourceMgr,
		Breakers:    breakerRegistry,
		Coordinator: coord,
		Dedup:       cfg.Dedup,
	}

	jobRouter := router.New(pgStore, map[domain.JobType]router.Handler{
		domain.JobTypeExtractKnowledgeBatch: handlers.NewExtractionHandler(caps),
		domain.JobTypeGenerateConcepts:      handlers.NewConceptHandler(caps),
		domain.JobTypeDeduplicateKnowledge:  handlers.NewDedupHandler(caps),
	})

	podID := getEnv("POD_ID", uuid.NewString())
	pool := workerpool.New(podID, queue, pgStore, jobRouter, &cfg.Queue)
	if err := pool.Start(ctx); err != nil {
		slog.Error("failed to start worker pool", "error", err)
		os.Exit(1)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		health := pool.Health()
		fmt.Fprintf(w, "active_workers=%d total_workers=%d queue_depth=%d orphans_recovered=%d\n",
			health.ActiveWorkers, health.TotalWorkers, health.QueueDepth, health.OrphansRecovered)
	})
	metricsServer := &http.Server{Addr: *metricsAddr, Handler: mux}
	go func() {
		slog.Info("metrics server listening", "addr", *metricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics server failed", "error", err)
		}
	}()

	slog.Info("worker process started", "pod_id", podID)
	<-ctx.Done()
	slog.Info("shutdown signal received, draining worker pool")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Queue.GracefulShutdownTimeout)
	defer cancel()
	_ = metricsServer.Shutdown(shutdownCtx)

	pool.Stop()
	slog.Info("worker process stopped")
}
