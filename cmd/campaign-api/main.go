// Campaign API — HTTP API кампаний.
//
// API:
//   - Создаёт runs и отправляет их оркестратору (campaigns.pending)
//   - Принимает решения ревьюеров в inbox и будит оркестратор через campaign.decisions
//   - Отдаёт статус, историю и поток событий run
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shaiso/campaign-orchestrator/internal/api"
	"github.com/shaiso/campaign-orchestrator/internal/config"
	"github.com/shaiso/campaign-orchestrator/internal/mq"
	"github.com/shaiso/campaign-orchestrator/internal/repo"
	"github.com/shaiso/campaign-orchestrator/internal/telemetry"
)

var reqTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "campaign_api_http_requests_total",
	Help: "Total HTTP requests handled by campaign-api",
}, []string{"method"})

func main() {
	cfg, err := config.Load()
	if err != nil {
		telemetry.SetupLogger("info", "json").Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Инициализируем structured logging
	logger := telemetry.SetupLogger(cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting campaign-api")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Подключаемся к базе данных
	pool, err := repo.NewPool(ctx, repo.PoolConfig{URL: cfg.Database.URL, MaxConns: cfg.Database.MaxConns})
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	logger.Info("connected to database")

	if err := repo.Migrate(ctx, pool); err != nil {
		logger.Error("failed to apply schema", "error", err)
		os.Exit(1)
	}

	handlerCfg := api.Config{
		Campaigns: repo.NewCampaignRepo(pool),
		Events:    repo.NewEventRepo(pool),
		Inbox:     repo.NewInboxRepo(pool),
		Logger:    logger,
	}

	// RabbitMQ: без него решения всё равно пишутся в inbox и gate
	// подбирает их опросом, а новые кампании подбирает resume sweep.
	mqConn, err := mq.Dial(mq.ConnectionConfig{URL: cfg.RabbitMQ.URL, Logger: logger})
	if err != nil {
		logger.Warn("RabbitMQ not available, decisions wait for inbox poll", "error", err)
	} else {
		defer mqConn.Close()
		if err := mq.SetupTopology(ctx, mqConn); err != nil {
			logger.Warn("failed to setup topology", "error", err)
		}
		handlerCfg.Publisher = mq.NewPublisher(mqConn, logger)
		logger.Info("RabbitMQ connected", "topology", mq.TopologyInfo())
	}

	handler := api.NewHandler(handlerCfg)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	handler.RegisterRoutes(mux)

	server := &http.Server{
		Addr: cfg.APIAddr(),
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqTotal.WithLabelValues(r.Method).Inc()
			mux.ServeHTTP(w, r)
		}),
	}

	// Запускаем сервер в горутине
	go func() {
		logger.Info("listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			cancel()
		}
	}()

	// Ожидаем сигнал завершения
	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}

	logger.Info("stopped")
}
