package campaign

import (
	"context"
	"errors"
	"log/slog"

	"github.com/shaiso/campaign-orchestrator/internal/config"
	"github.com/shaiso/campaign-orchestrator/internal/domain"
	"github.com/shaiso/campaign-orchestrator/internal/engine"
	"github.com/shaiso/campaign-orchestrator/internal/flow"
)

// Pipeline — последовательность стадий кампании:
// research → creative → golive → measurement.
//
// Результат каждой стадии — вход следующей. Первая неуспешная стадия
// завершает кампанию, следующие стадии не запускаются.
type Pipeline struct {
	acts     Activities
	policies *config.PipelineConfig
	logger   *slog.Logger
}

// Config — конфигурация Pipeline.
type Config struct {
	Activities Activities
	Policies   *config.PipelineConfig
	Logger     *slog.Logger
}

// New создаёт Pipeline.
func New(cfg Config) *Pipeline {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	policies := cfg.Policies
	if policies == nil {
		policies = config.DefaultPipeline()
	}
	return &Pipeline{
		acts:     cfg.Activities,
		policies: policies,
		logger:   logger.With("component", "pipeline"),
	}
}

// Run выполняет (или продолжает по истории rt) кампанию.
//
// Возвращает *FailedError, если стадия завершилась неуспешно. Отмена ctx
// не является неуспехом: ничего не записывается, run продолжится после
// восстановления.
func (p *Pipeline) Run(ctx context.Context, rt *engine.Runtime, input domain.CampaignInput) (domain.CampaignResult, error) {
	result := domain.CampaignResult{RunID: rt.RunID(), CampaignID: input.CampaignID}
	logger := p.logger.With("run_id", rt.RunID(), "campaign_id", input.CampaignID)

	recorded, err := rt.Record(ctx, domain.EventCampaignStarted, "started", domain.CampaignStartedPayload{
		CampaignID: input.CampaignID,
		Input:      input,
	})
	if err != nil {
		return result, err
	}
	if recorded {
		logger.Info("campaign started", "channels", input.Channels, "budget", input.Budget)
	} else {
		logger.Info("campaign resumed", "history_events", len(rt.History()))
	}

	// 1. Research
	research, err := p.researchStage().Run(ctx, rt, input)
	if err != nil {
		return result, p.fail(ctx, rt, domain.StageResearch, err)
	}
	result.Research = research.Output

	// 2. Creative
	creative, err := p.creativeStage().Run(ctx, rt, research.Output)
	if err != nil {
		return result, p.fail(ctx, rt, domain.StageCreative, err)
	}
	result.Creative = creative.Output

	// 3. Go-live
	golive, err := p.goLiveStage(input).Run(ctx, rt, creative.Output)
	if err != nil {
		return result, p.fail(ctx, rt, domain.StageGoLive, err)
	}
	result.GoLive = golive.Output

	// 4. Measurement
	measurement, err := p.measurementStage(input).Run(ctx, rt, golive.Output)
	if err != nil {
		return result, p.fail(ctx, rt, domain.StageMeasurement, err)
	}
	result.Measurement = measurement.Output

	recorded, err = rt.Record(ctx, domain.EventCampaignCompleted, "completed", domain.CampaignCompletedPayload{Result: result})
	if err != nil {
		return result, err
	}
	if recorded {
		logger.Info("campaign completed")
	}
	return result, nil
}

// fail записывает campaign.failed и возвращает *FailedError.
//
// Ошибка не из стадии (расхождение истории, битый payload) тоже завершает
// кампанию: хранилище повторяется внутри engine до отмены ctx, поэтому
// такая ошибка детерминирована и повторный запуск run её не исправит.
func (p *Pipeline) fail(ctx context.Context, rt *engine.Runtime, stage domain.Stage, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	failure := &FailedError{Stage: stage, Kind: domain.FailureInternal, Cause: err}
	cause := err

	var stageErr *flow.StageFailedError
	switch {
	case errors.As(err, &stageErr):
		failure.Stage = stageErr.Stage
		failure.Attempt = stageErr.Attempt
		failure.Kind = stageErr.Kind
		cause = stageErr.Cause
	case errors.Is(err, engine.ErrHistoryMismatch):
		failure.Kind = domain.FailureHistoryMismatch
	}

	recorded, recErr := rt.Record(ctx, domain.EventCampaignFailed, "failed", domain.CampaignFailedPayload{
		Stage:   failure.Stage,
		Attempt: failure.Attempt,
		Kind:    failure.Kind,
		Error:   cause.Error(),
	})
	if recErr != nil {
		return recErr
	}
	if recorded {
		p.logger.Warn("campaign failed",
			"run_id", rt.RunID(),
			"stage", failure.Stage,
			"attempt", failure.Attempt,
			"kind", failure.Kind,
			"error", cause,
		)
	}
	return failure
}
