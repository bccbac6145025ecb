package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/shaiso/campaign-orchestrator/internal/domain"
	"github.com/shaiso/campaign-orchestrator/internal/engine"
)

// StageBody — шаги стадии до approval gate. Получает исходный вход стадии
// в каждой попытке; feedback доступен через sc.
type StageBody[I, O any] func(ctx context.Context, sc *StageContext, in I) (O, error)

// StageHook — шаги после одобрения (или финализация результата).
type StageHook[O any] func(ctx context.Context, sc *StageContext, out O) (O, error)

// Stage — стадия кампании: тело, approval gate и цикл доработок.
type Stage[I, O any] struct {
	Name domain.Stage
	Body StageBody[I, O]

	// AfterApproval выполняется после APPROVED до завершения стадии.
	AfterApproval StageHook[O]

	// Finish проставляет в результат итог одобрения.
	Finish func(out O, feedback string, attempts int) O

	// GateTimeout — срок ответа ревьюера. 0 — без срока.
	GateTimeout time.Duration

	// MaxAttempts — лимит попыток (включая доработки). 0 — без лимита.
	MaxAttempts int
}

// StageResult — итог успешной стадии.
type StageResult[O any] struct {
	Output          O
	Feedback        string
	Attempts        int
	FeedbackHistory []string
}

type validator interface {
	Validate() error
}

// Run выполняет стадию до APPROVED или до неуспеха.
//
// Каждая попытка запускает тело с исходным входом и накопленным feedback.
// CHANGES_REQUESTED запускает следующую попытку, REJECTED и таймаут
// завершают стадию *StageFailedError. Отмена ctx не записывается в историю.
func (s Stage[I, O]) Run(ctx context.Context, rt *engine.Runtime, in I) (StageResult[O], error) {
	var res StageResult[O]
	srt := rt.ForStage(s.Name)
	logger := srt.Logger().With("stage", s.Name)

	recorded, err := srt.Record(ctx, domain.EventStageEntered, "entered", nil)
	if err != nil {
		return res, err
	}
	if recorded {
		logger.Info("stage entered")
	}

	var history []string
	for attempt := 1; ; attempt++ {
		if s.MaxAttempts > 0 && attempt > s.MaxAttempts {
			cause := fmt.Errorf("%w: limit %d", ErrAttemptsExceeded, s.MaxAttempts)
			return res, s.fail(ctx, srt.ForAttempt(attempt-1), domain.FailureAttemptsExceeded, cause, lastOf(history))
		}

		art := srt.ForAttempt(attempt)
		sc := NewStageContext(art, history)

		// 1. attempt.started
		recorded, err := art.Record(ctx, domain.EventAttemptStarted, "started", domain.AttemptStartedPayload{
			Feedback:        sc.Feedback,
			FeedbackHistory: sc.FeedbackHistory,
		})
		if err != nil {
			return res, err
		}
		if recorded {
			logger.Info("stage attempt started", "attempt", attempt, "feedback", sc.Feedback)
		}

		// 2. Тело стадии
		out, err := s.Body(ctx, sc, in)
		if err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			return res, s.fail(ctx, art, failureKind(err), err, "")
		}

		// 3. Валидация результата до показа ревьюеру
		if v, ok := any(out).(validator); ok {
			if err := v.Validate(); err != nil {
				return res, s.fail(ctx, art, domain.FailureInvalidOutput, err, "")
			}
		}

		// 4. Approval gate
		gate := NewApprovalGate(s.Name, history, s.GateTimeout)
		outcome, err := gate.Await(ctx, art)
		if err != nil {
			return res, err
		}

		switch outcome.State {
		case domain.GateApproved:
			if s.Finish != nil {
				out = s.Finish(out, outcome.Feedback, attempt)
			}
			if s.AfterApproval != nil {
				out, err = s.AfterApproval(ctx, sc, out)
				if err != nil {
					if ctx.Err() != nil {
						return res, ctx.Err()
					}
					return res, s.fail(ctx, art, failureKind(err), err, outcome.Feedback)
				}
			}
			return s.complete(ctx, art, out, outcome.Feedback, history)

		case domain.GateRejected, domain.GateTimedOut:
			timedOut := outcome.State == domain.GateTimedOut
			kind := domain.FailureRejected
			if timedOut {
				kind = domain.FailureTimeout
			}
			cause := &StageRejectedError{
				Stage:    s.Name,
				Attempt:  attempt,
				Feedback: outcome.Feedback,
				TimedOut: timedOut,
			}
			return res, s.fail(ctx, art, kind, cause, outcome.Feedback)

		case domain.GateChangesRequested:
			history = append(history, outcome.Feedback)
			logger.Info("changes requested, rerunning stage",
				"attempt", attempt,
				"feedback", outcome.Feedback,
			)

		default:
			return res, fmt.Errorf("stage %s: unexpected gate state %q", s.Name, outcome.State)
		}
	}
}

// complete записывает stage.completed.
func (s Stage[I, O]) complete(ctx context.Context, art *engine.Runtime, out O, feedback string, history []string) (StageResult[O], error) {
	res := StageResult[O]{
		Output:          out,
		Feedback:        feedback,
		Attempts:        art.Attempt(),
		FeedbackHistory: slices.Clone(history),
	}

	raw, err := json.Marshal(out)
	if err != nil {
		return res, fmt.Errorf("marshal %s output: %w", s.Name, err)
	}

	recorded, err := art.Record(ctx, domain.EventStageCompleted, "completed", domain.StageCompletedPayload{
		Output:   raw,
		Feedback: feedback,
		Attempts: art.Attempt(),
	})
	if err != nil {
		return res, err
	}
	if recorded {
		art.Logger().Info("stage completed", "stage", s.Name, "attempts", art.Attempt())
	}
	return res, nil
}

// fail записывает stage.failed и возвращает *StageFailedError.
func (s Stage[I, O]) fail(ctx context.Context, art *engine.Runtime, kind domain.FailureKind, cause error, feedback string) error {
	failure := &StageFailedError{
		Stage:   s.Name,
		Attempt: art.Attempt(),
		Kind:    kind,
		Cause:   cause,
	}

	recorded, err := art.Record(ctx, domain.EventStageFailed, "failed", domain.StageFailedPayload{
		Kind:     kind,
		Error:    cause.Error(),
		Feedback: feedback,
	})
	if err != nil {
		return err
	}
	if recorded {
		art.Logger().Warn("stage failed",
			"stage", s.Name,
			"attempt", art.Attempt(),
			"kind", kind,
			"error", cause,
		)
	}
	return failure
}

func lastOf(history []string) string {
	if len(history) == 0 {
		return ""
	}
	return history[len(history)-1]
}
