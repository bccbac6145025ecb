package domain

import (
	"fmt"
	"time"
)

// RetryPolicy — политика повторов для одного шага.
//
// Задержка перед попыткой N+1:
//
//	InitialBackoff * BackoffMultiplier^(N-1), но не больше MaxBackoff
type RetryPolicy struct {
	// MaxAttempts — максимальное число попыток (включая первую).
	MaxAttempts int `json:"max_attempts,omitempty" yaml:"max_attempts"`

	// InitialBackoff — задержка после первой неудачной попытки.
	InitialBackoff time.Duration `json:"initial_backoff,omitempty" yaml:"initial_backoff"`

	// BackoffMultiplier — множитель экспоненциальной задержки.
	BackoffMultiplier float64 `json:"backoff_multiplier,omitempty" yaml:"backoff_multiplier"`

	// MaxBackoff — верхняя граница задержки (0 — без ограничения).
	MaxBackoff time.Duration `json:"max_backoff,omitempty" yaml:"max_backoff"`

	// AttemptTimeout — таймаут одной попытки (0 — без таймаута).
	AttemptTimeout time.Duration `json:"attempt_timeout,omitempty" yaml:"attempt_timeout"`
}

// DefaultRetryPolicy возвращает политику по умолчанию:
// 3 попытки, 1s, x2, не больше минуты, 5 минут на попытку.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:       3,
		InitialBackoff:    time.Second,
		BackoffMultiplier: 2,
		MaxBackoff:        time.Minute,
		AttemptTimeout:    5 * time.Minute,
	}
}

// Merge возвращает копию политики, в которой ненулевые поля override
// заменяют соответствующие поля p.
func (p RetryPolicy) Merge(override RetryPolicy) RetryPolicy {
	if override.MaxAttempts > 0 {
		p.MaxAttempts = override.MaxAttempts
	}
	if override.InitialBackoff > 0 {
		p.InitialBackoff = override.InitialBackoff
	}
	if override.BackoffMultiplier > 0 {
		p.BackoffMultiplier = override.BackoffMultiplier
	}
	if override.MaxBackoff > 0 {
		p.MaxBackoff = override.MaxBackoff
	}
	if override.AttemptTimeout > 0 {
		p.AttemptTimeout = override.AttemptTimeout
	}
	return p
}

// Validate проверяет политику.
func (p RetryPolicy) Validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("%w: max_attempts must be >= 1", ErrInvalidPolicy)
	}
	if p.InitialBackoff < 0 || p.MaxBackoff < 0 || p.AttemptTimeout < 0 {
		return fmt.Errorf("%w: durations must not be negative", ErrInvalidPolicy)
	}
	if p.BackoffMultiplier != 0 && p.BackoffMultiplier < 1 {
		return fmt.Errorf("%w: backoff_multiplier must be >= 1", ErrInvalidPolicy)
	}
	return nil
}
