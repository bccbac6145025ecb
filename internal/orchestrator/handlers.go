package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/shaiso/campaign-orchestrator/internal/engine"
	"github.com/shaiso/campaign-orchestrator/internal/mq"
)

// handleCampaignPending запускает новую кампанию.
func (o *Orchestrator) handleCampaignPending(_ context.Context, msg *mq.Message) error {
	payload, err := mq.ParsePayload[mq.CampaignPendingPayload](msg)
	if err != nil {
		return err
	}

	err = o.Launch(payload.RunID)
	switch {
	case err == nil:
		o.logger.Info("run launched", "run_id", payload.RunID)
		return nil
	case errors.Is(err, ErrRunNotFound):
		return fmt.Errorf("%w: %v", mq.ErrPoison, err)
	case errors.Is(err, ErrRunAlreadyActive), errors.Is(err, ErrRunFinished), errors.Is(err, ErrLeaseHeld):
		o.logger.Debug("run not launched", "run_id", payload.RunID, "reason", err)
		return nil
	default:
		// Останется PENDING и будет подобран resume sweep, если requeue не поможет.
		return err
	}
}

// handleDecision будит gate, если run выполняется этим экземпляром.
//
// Само решение уже лежит в inbox (его туда пишет API до публикации), так
// что сообщение всегда подтверждается: если run не здесь или gate ещё не
// ждёт, gate заберёт решение из inbox при следующем чтении.
func (o *Orchestrator) handleDecision(_ context.Context, msg *mq.Message) error {
	payload, err := mq.ParsePayload[mq.DecisionPayload](msg)
	if err != nil {
		return err
	}

	err = o.Deliver(payload.RunID, payload.Signal())
	switch {
	case err == nil:
		o.logger.Info("decision delivered",
			"run_id", payload.RunID,
			"stage", payload.Stage,
			"attempt", payload.Attempt,
			"decision", payload.Decision,
		)
	case errors.Is(err, ErrRunNotActive), errors.Is(err, engine.ErrNoWaiter):
		o.logger.Debug("decision left in inbox",
			"run_id", payload.RunID,
			"stage", payload.Stage,
			"reason", err,
		)
	case errors.Is(err, engine.ErrMailboxFull):
		o.logger.Warn("gate mailbox full, decision left in inbox", "run_id", payload.RunID, "stage", payload.Stage)
	default:
		o.logger.Error("decision delivery failed", "run_id", payload.RunID, "error", err)
	}
	return nil
}
