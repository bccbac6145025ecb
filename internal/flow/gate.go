package flow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/shaiso/campaign-orchestrator/internal/domain"
	"github.com/shaiso/campaign-orchestrator/internal/engine"
)

// ApprovalGate — ожидание решения человека по результату стадии.
//
// Переходы: WAITING → APPROVED | REJECTED | CHANGES_REQUESTED | TIMED_OUT.
// Выигрывает первое событие, все последующие игнорируются.
type ApprovalGate struct {
	Stage domain.Stage

	// Context — feedback прошлых попыток, показывается ревьюеру.
	Context []string

	// Timeout — срок ответа от открытия gate. 0 — без срока.
	Timeout time.Duration

	state    domain.GateState
	decision domain.Decision
	feedback string
}

// GateOutcome — итог gate.
type GateOutcome struct {
	State    domain.GateState
	Decision domain.Decision
	Feedback string
}

// gateEvent — вход функции переходов.
type gateEvent struct {
	decision *domain.DecisionPayload
	timedOut bool
}

// NewApprovalGate создаёт gate в состоянии WAITING.
func NewApprovalGate(stage domain.Stage, feedback []string, timeout time.Duration) *ApprovalGate {
	return &ApprovalGate{
		Stage:    stage,
		Context:  slices.Clone(feedback),
		Timeout:  timeout,
		state:    domain.GateWaiting,
		decision: domain.DecisionPending,
	}
}

// State возвращает текущее состояние gate.
func (g *ApprovalGate) State() domain.GateState {
	return g.state
}

// Outcome возвращает итог gate.
func (g *ApprovalGate) Outcome() GateOutcome {
	return GateOutcome{State: g.state, Decision: g.decision, Feedback: g.feedback}
}

// apply — единственная функция переходов. Возвращает false, если gate
// уже закрыт или событие не меняет состояние.
func (g *ApprovalGate) apply(ev gateEvent) bool {
	if g.state.IsTerminal() {
		return false
	}

	switch {
	case ev.timedOut:
		g.state = domain.GateTimedOut
		g.decision = domain.DecisionRejected
		g.feedback = domain.TimeoutFeedback
		return true

	case ev.decision != nil && ev.decision.Decision.IsFinal():
		g.state = domain.GateStateFor(ev.decision.Decision)
		g.decision = ev.decision.Decision
		g.feedback = ev.decision.Feedback
		return true
	}
	return false
}

// Await открывает gate и ждёт решения или дедлайна.
func (g *ApprovalGate) Await(ctx context.Context, rt *engine.Runtime) (GateOutcome, error) {
	logger := rt.Logger().With("stage", g.Stage)

	// 1. Время открытия фиксируется в истории, дедлайн стабилен при replay
	openedAt, err := rt.Now(ctx, "gate-opened-at")
	if err != nil {
		return GateOutcome{}, err
	}

	var deadline time.Time
	payload := domain.GateOpenedPayload{Context: g.Context}
	if g.Timeout > 0 {
		deadline = openedAt.Add(g.Timeout)
		payload.Deadline = &deadline
	}

	// 2. gate.opened
	recorded, err := rt.Record(ctx, domain.EventGateOpened, "gate", payload)
	if err != nil {
		return GateOutcome{}, err
	}
	if recorded {
		logger.Info("awaiting approval",
			"attempt", rt.Attempt(),
			"deadline", deadline,
			"feedback_count", len(g.Context),
		)
	}

	// 3. Ждём первое валидное решение или дедлайн
	sig, err := rt.AwaitSignal(ctx, engine.SignalWait{
		Name:     domain.DecisionSignalName(g.Stage),
		Key:      "decision",
		Deadline: deadline,
		Accept:   acceptDecision(rt.Attempt()),
	})

	switch {
	case errors.Is(err, engine.ErrSignalTimeout):
		g.apply(gateEvent{timedOut: true})
		logger.Warn("approval timed out", "attempt", rt.Attempt())

	case err != nil:
		return GateOutcome{}, err

	default:
		decision, err := decodeDecision(sig)
		if err != nil {
			return GateOutcome{}, err
		}
		g.apply(gateEvent{decision: &decision})
		logger.Info("decision received",
			"attempt", rt.Attempt(),
			"decision", decision.Decision,
		)
	}

	return g.Outcome(), nil
}

// acceptDecision отбрасывает нераспознанные решения и решения для другой
// попытки стадии.
func acceptDecision(attempt int) func(domain.Signal) error {
	return func(sig domain.Signal) error {
		decision, err := decodeDecision(sig)
		if err != nil {
			return err
		}
		if !decision.Decision.IsFinal() {
			return fmt.Errorf("%w: %q", ErrInvalidDecision, decision.Decision)
		}
		if decision.Attempt != attempt {
			return fmt.Errorf("%w: decision for attempt %d, gate is on attempt %d",
				ErrInvalidDecision, decision.Attempt, attempt)
		}
		return nil
	}
}

func decodeDecision(sig domain.Signal) (domain.DecisionPayload, error) {
	var p domain.DecisionPayload
	if err := json.Unmarshal(sig.Payload, &p); err != nil {
		return p, fmt.Errorf("%w: %v", ErrInvalidDecision, err)
	}
	return p, nil
}
