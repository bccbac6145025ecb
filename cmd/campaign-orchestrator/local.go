package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shaiso/campaign-orchestrator/internal/api"
	"github.com/shaiso/campaign-orchestrator/internal/campaign"
	"github.com/shaiso/campaign-orchestrator/internal/config"
	"github.com/shaiso/campaign-orchestrator/internal/orchestrator"
	"github.com/shaiso/campaign-orchestrator/internal/repo"
	"github.com/shaiso/campaign-orchestrator/internal/telemetry"
)

// runLocal поднимает API и оркестратор в одном процессе поверх хранилищ
// в памяти. Состояние теряется при остановке.
func runLocal(ctx context.Context, cfg *config.Config, pipeline *campaign.Pipeline, logger *slog.Logger) {
	logger.Warn("LOCAL_MODE: in-memory history, no RabbitMQ, no lease")

	runs := repo.NewMemoryCampaignRepo()
	events := repo.NewMemoryEventRepo()
	inbox := repo.NewMemoryInboxRepo()

	orch := orchestrator.New(orchestrator.Config{
		Runs:           runs,
		Events:         events,
		Inbox:          inbox,
		InboxPoll:      cfg.InboxPoll,
		Pipeline:       pipeline,
		Metrics:        telemetry.NewMetrics(prometheus.DefaultRegisterer),
		InstanceID:     "local",
		ResumeSchedule: cfg.Resume.Schedule,
		BatchSize:      cfg.Resume.BatchSize,
		Logger:         logger,
	})
	if err := orch.Start(ctx); err != nil {
		logger.Error("failed to start orchestrator", "error", err)
		return
	}
	defer orch.Stop()

	handler := api.NewHandler(api.Config{
		Campaigns: runs,
		Events:    events,
		Inbox:     inbox,
		Publisher: orchestrator.NewLocalPublisher(orch),
		Logger:    logger,
	})

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	handler.RegisterRoutes(mux)

	server := &http.Server{Addr: cfg.APIAddr(), Handler: mux}
	go func() {
		logger.Info("listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
}
