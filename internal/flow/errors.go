package flow

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shaiso/campaign-orchestrator/internal/domain"
	"github.com/shaiso/campaign-orchestrator/internal/engine"
)

// Ошибки flow.
var (
	// ErrStepExhausted — шаг исчерпал все попытки.
	ErrStepExhausted = errors.New("step retries exhausted")

	// ErrAttemptTimeout — попытка шага превысила таймаут.
	ErrAttemptTimeout = errors.New("attempt timed out")

	// ErrActivityPanic — activity запаниковала.
	ErrActivityPanic = errors.New("activity panicked")

	// ErrPartialFailure — часть веток fan-out завершилась ошибкой.
	ErrPartialFailure = errors.New("partial failure")

	// ErrDuplicateSubTask — в fan-out две ветки с одним именем.
	ErrDuplicateSubTask = errors.New("duplicate subtask name")

	// ErrInvalidDecision — решение не распознано или пришло не вовремя.
	ErrInvalidDecision = errors.New("invalid decision")

	// ErrStageFailed — стадия завершилась неуспешно.
	ErrStageFailed = errors.New("stage failed")

	// ErrStageRejected — ревьюер отклонил стадию (или не ответил).
	ErrStageRejected = errors.New("stage rejected")

	// ErrAttemptsExceeded — превышен лимит попыток стадии.
	ErrAttemptsExceeded = errors.New("stage attempts exceeded")
)

// StepExhaustedError — шаг не прошёл ни в одной из попыток.
type StepExhaustedError struct {
	Step     string
	Attempts int
	Cause    error
}

func (e *StepExhaustedError) Error() string {
	return fmt.Sprintf("step %s exhausted after %d attempt(s): %v", e.Step, e.Attempts, e.Cause)
}

// Is позволяет сравнивать с ErrStepExhausted.
func (e *StepExhaustedError) Is(target error) bool {
	return target == ErrStepExhausted
}

// Unwrap возвращает последнюю ошибку шага.
func (e *StepExhaustedError) Unwrap() error {
	return e.Cause
}

// PartialFailureError — итог fan-out, в котором упала хотя бы одна ветка.
// Succeeded содержит результаты успешных веток без изменений.
type PartialFailureError struct {
	Failed    []string
	Succeeded map[string]any
	Causes    map[string]error
}

func (e *PartialFailureError) Error() string {
	parts := make([]string, 0, len(e.Failed))
	for _, name := range e.Failed {
		parts = append(parts, fmt.Sprintf("%s: %v", name, e.Causes[name]))
	}
	return fmt.Sprintf("%d of %d subtasks failed (%s)",
		len(e.Failed), len(e.Failed)+len(e.Succeeded), strings.Join(parts, "; "))
}

// Is позволяет сравнивать с ErrPartialFailure.
func (e *PartialFailureError) Is(target error) bool {
	return target == ErrPartialFailure
}

// StageRejectedError — gate стадии закрылся отказом или по таймауту.
type StageRejectedError struct {
	Stage    domain.Stage
	Attempt  int
	Feedback string
	TimedOut bool
}

func (e *StageRejectedError) Error() string {
	if e.TimedOut {
		return fmt.Sprintf("stage %s attempt %d: approval timed out", e.Stage, e.Attempt)
	}
	if e.Feedback == "" {
		return fmt.Sprintf("stage %s attempt %d: rejected", e.Stage, e.Attempt)
	}
	return fmt.Sprintf("stage %s attempt %d: rejected: %s", e.Stage, e.Attempt, e.Feedback)
}

// Is позволяет сравнивать с ErrStageRejected.
func (e *StageRejectedError) Is(target error) bool {
	return target == ErrStageRejected
}

// StageFailedError — стадия завершилась неуспешно.
// Kind отделяет сбой работы от решения человека.
type StageFailedError struct {
	Stage   domain.Stage
	Attempt int
	Kind    domain.FailureKind
	Cause   error
}

func (e *StageFailedError) Error() string {
	return fmt.Sprintf("stage %s failed on attempt %d (%s): %v", e.Stage, e.Attempt, e.Kind, e.Cause)
}

// Is позволяет сравнивать с ErrStageFailed.
func (e *StageFailedError) Is(target error) bool {
	return target == ErrStageFailed
}

// Unwrap возвращает причину.
func (e *StageFailedError) Unwrap() error {
	return e.Cause
}

// failureKind классифицирует ошибку тела стадии.
func failureKind(err error) domain.FailureKind {
	switch {
	case errors.Is(err, ErrPartialFailure):
		return domain.FailurePartial
	case errors.Is(err, domain.ErrInvalidInput):
		return domain.FailureInvalidInput
	case errors.Is(err, domain.ErrInvalidResult):
		return domain.FailureInvalidOutput
	case errors.Is(err, engine.ErrHistoryMismatch):
		return domain.FailureHistoryMismatch
	default:
		return domain.FailureExhausted
	}
}
