package orchestrator

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/shaiso/campaign-orchestrator/internal/mq"
)

// LocalPublisher передаёт команды API оркестратору в том же процессе.
// Используется в LOCAL_MODE, где нет RabbitMQ.
type LocalPublisher struct {
	orch *Orchestrator
}

// NewLocalPublisher создаёт LocalPublisher поверх запущенного Orchestrator.
func NewLocalPublisher(o *Orchestrator) *LocalPublisher {
	return &LocalPublisher{orch: o}
}

// PublishCampaignPending сразу запускает run.
func (p *LocalPublisher) PublishCampaignPending(_ context.Context, runID uuid.UUID) error {
	err := p.orch.Launch(runID)
	if errors.Is(err, ErrRunAlreadyActive) || errors.Is(err, ErrRunFinished) {
		return nil
	}
	return err
}

// PublishDecision будит gate. В отличие от MQ, ошибка доставки
// возвращается вызывающему.
func (p *LocalPublisher) PublishDecision(_ context.Context, d mq.DecisionPayload) error {
	return p.orch.Deliver(d.RunID, d.Signal())
}
