// Campaign Orchestrator — выполняет кампании.
//
// Orchestrator:
//   - Получает новые runs из RabbitMQ (campaigns.pending)
//   - Проводит кампанию через research → creative → golive → measurement
//   - Доставляет решения ревьюеров в ожидающие approval gates
//   - Подхватывает прерванные runs по истории (resume sweep)
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/shaiso/campaign-orchestrator/internal/activities"
	"github.com/shaiso/campaign-orchestrator/internal/campaign"
	"github.com/shaiso/campaign-orchestrator/internal/config"
	"github.com/shaiso/campaign-orchestrator/internal/lease"
	"github.com/shaiso/campaign-orchestrator/internal/mq"
	"github.com/shaiso/campaign-orchestrator/internal/orchestrator"
	"github.com/shaiso/campaign-orchestrator/internal/repo"
	"github.com/shaiso/campaign-orchestrator/internal/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		telemetry.SetupLogger("info", "json").Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Инициализируем structured logging
	logger := telemetry.SetupLogger(cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting campaign-orchestrator")

	// graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	policies, err := config.LoadPipeline(cfg.PipelineFile)
	if err != nil {
		logger.Error("failed to load pipeline policies", "file", cfg.PipelineFile, "error", err)
		os.Exit(1)
	}

	if cfg.Local {
		runLocal(ctx, cfg, newPipeline(cfg, policies, logger), logger)
		return
	}

	// DB pool
	pool, err := repo.NewPool(ctx, repo.PoolConfig{URL: cfg.Database.URL, MaxConns: cfg.Database.MaxConns})
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	logger.Info("database connected")

	instanceID := instanceName()

	orchCfg := orchestrator.Config{
		Runs:           repo.NewCampaignRepo(pool),
		Events:         repo.NewEventRepo(pool),
		Inbox:          repo.NewInboxRepo(pool),
		InboxPoll:      cfg.InboxPoll,
		Pipeline:       newPipeline(cfg, policies, logger),
		Metrics:        telemetry.NewMetrics(prometheus.DefaultRegisterer),
		InstanceID:     instanceID,
		ResumeSchedule: cfg.Resume.Schedule,
		BatchSize:      cfg.Resume.BatchSize,
		Logger:         logger,
	}

	// Redis lease: без него запускать можно только один экземпляр.
	if cfg.LeaseEnabled() {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()

		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Error("failed to connect to redis", "addr", cfg.Redis.Addr, "error", err)
			os.Exit(1)
		}
		orchCfg.Leaser = lease.NewRedis(lease.Config{
			Client: rdb,
			Owner:  instanceID,
			TTL:    cfg.Redis.LeaseTTL,
			Logger: logger,
		})
		logger.Info("redis lease enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.LeaseTTL)
	} else {
		logger.Warn("REDIS_ADDR not set, run ownership is local to this instance")
	}

	// RabbitMQ
	mqConn, err := mq.Dial(mq.ConnectionConfig{URL: cfg.RabbitMQ.URL, Logger: logger})
	if err != nil {
		logger.Warn("RabbitMQ not available, running in sweep-only mode", "error", err)
	} else {
		defer mqConn.Close()
		if err := mq.SetupTopology(ctx, mqConn); err != nil {
			logger.Warn("failed to setup topology", "error", err)
		}
		orchCfg.Conn = mqConn
		logger.Info("RabbitMQ connected")
	}

	orch := orchestrator.New(orchCfg)
	if err := orch.Start(ctx); err != nil {
		logger.Error("failed to start orchestrator", "error", err)
		os.Exit(1)
	}

	// HTTP mux: /healthz, /runs/{id}, /metrics
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":      "ok",
			"instance":    instanceID,
			"active_runs": orch.ActiveRunsCount(),
		})
	})
	mux.HandleFunc("GET /runs/{id}", func(w http.ResponseWriter, r *http.Request) {
		runID, err := uuid.Parse(r.PathValue("id"))
		if err != nil {
			http.Error(w, "invalid run id", http.StatusBadRequest)
			return
		}
		stats, ok := orch.ActiveRunStats(runID)
		if !ok {
			http.Error(w, "run is not active on this instance", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(stats)
	})
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{Addr: cfg.OrchestratorAddr(), Handler: mux}
	go func() {
		logger.Info("listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
			cancel()
		}
	}()

	// Ожидаем сигнал завершения
	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()
	_ = server.Shutdown(shutdownCtx)

	// Активные runs останавливаются без записи в историю и продолжатся
	// на этом или другом экземпляре.
	orch.Stop()
	logger.Info("campaign-orchestrator stopped")
}

func newPipeline(cfg *config.Config, policies *config.PipelineConfig, logger *slog.Logger) *campaign.Pipeline {
	return campaign.New(campaign.Config{
		Activities: campaign.Bind(activities.New(activities.Config{
			Logger:  logger,
			Latency: cfg.ActivityLatency,
		})),
		Policies: policies,
		Logger:   logger,
	})
}

// instanceName — имя экземпляра для lease и очереди решений.
func instanceName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "orchestrator"
	}
	return fmt.Sprintf("%s-%s", host, uuid.NewString()[:8])
}
