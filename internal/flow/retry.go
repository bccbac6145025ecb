package flow

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/shaiso/campaign-orchestrator/internal/domain"
	"github.com/shaiso/campaign-orchestrator/internal/engine"
)

// Activity — единица работы шага. Должна уважать отмену ctx.
type Activity[I, O any] func(ctx context.Context, in I) (O, error)

// RetryableStep — шаг стадии с политикой повторов.
//
// Итог шага (результат или ошибка после всех попыток) записывается в
// историю под именем Name внутри scope попытки. При replay activity не
// вызывается.
type RetryableStep[I, O any] struct {
	Name     string
	Policy   domain.RetryPolicy
	Activity Activity[I, O]
}

// NewStep создаёт RetryableStep.
func NewStep[I, O any](name string, policy domain.RetryPolicy, activity Activity[I, O]) RetryableStep[I, O] {
	return RetryableStep[I, O]{Name: name, Policy: policy, Activity: activity}
}

// Execute выполняет шаг.
//
// Возвращает *StepExhaustedError, если все попытки неуспешны, и ctx.Err(),
// если родительский контекст отменён (в этом случае ничего не записывается).
func (s RetryableStep[I, O]) Execute(ctx context.Context, sc *StageContext, in I) (O, error) {
	var out O
	var cause error

	attempts, err := sc.rt.Execute(ctx, s.Name, func(ctx context.Context) (any, int, error) {
		result, n, err := s.run(ctx, sc, in)
		cause = err
		return result, n, err
	}, &out)

	switch {
	case err == nil:
		return out, nil
	case ctx.Err() != nil:
		return out, ctx.Err()
	case cause != nil:
		return out, &StepExhaustedError{Step: s.Name, Attempts: attempts, Cause: cause}
	}

	var recorded *engine.RecordedFailure
	if errors.As(err, &recorded) {
		return out, &StepExhaustedError{
			Step:     s.Name,
			Attempts: recorded.Attempts,
			Cause:    errors.New(recorded.Message),
		}
	}
	return out, err
}

// run — цикл попыток.
func (s RetryableStep[I, O]) run(ctx context.Context, sc *StageContext, in I) (O, int, error) {
	var zero O
	policy := s.Policy
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}

	logger := sc.Logger().With("step", s.Name)

	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		out, err := s.attempt(ctx, policy.AttemptTimeout, in)
		if err == nil {
			if attempt > 1 {
				logger.Info("step succeeded after retry", "step_attempt", attempt)
			}
			return out, attempt, nil
		}
		if ctx.Err() != nil {
			return zero, attempt, ctx.Err()
		}

		lastErr = err
		logger.Warn("step attempt failed",
			"step_attempt", attempt,
			"max_attempts", policy.MaxAttempts,
			"error", err,
		)

		if attempt == policy.MaxAttempts {
			break
		}

		delay := calculateBackoff(attempt, policy)
		logger.Debug("retrying step", "step_attempt", attempt, "delay", delay)

		if err := sc.rt.Sleep(ctx, delay); err != nil {
			return zero, attempt, err
		}
	}

	return zero, policy.MaxAttempts, lastErr
}

// attempt выполняет одну попытку с таймаутом.
// Таймаут считается обычной неуспешной попыткой.
func (s RetryableStep[I, O]) attempt(ctx context.Context, timeout time.Duration, in I) (O, error) {
	var zero O
	if s.Activity == nil {
		return zero, fmt.Errorf("step %s: no activity", s.Name)
	}

	attemptCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	type result struct {
		out O
		err error
	}
	done := make(chan result, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("%w: %v", ErrActivityPanic, r)}
			}
		}()
		out, err := s.Activity(attemptCtx, in)
		done <- result{out: out, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil && ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
			return zero, fmt.Errorf("%w after %s", ErrAttemptTimeout, timeout)
		}
		return r.out, r.err
	case <-attemptCtx.Done():
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		return zero, fmt.Errorf("%w after %s", ErrAttemptTimeout, timeout)
	}
}

// calculateBackoff вычисляет задержку перед попыткой attempt+1:
// InitialBackoff * BackoffMultiplier^(attempt-1), не больше MaxBackoff.
func calculateBackoff(attempt int, policy domain.RetryPolicy) time.Duration {
	initialDelay := policy.InitialBackoff
	if initialDelay <= 0 {
		return 0
	}

	multiplier := policy.BackoffMultiplier
	if multiplier < 1 {
		multiplier = 1
	}

	delay := float64(initialDelay) * math.Pow(multiplier, float64(attempt-1))

	if policy.MaxBackoff > 0 && delay > float64(policy.MaxBackoff) {
		return policy.MaxBackoff
	}
	if delay > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(delay)
}
