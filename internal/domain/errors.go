package domain

import "errors"

// Ошибки доменной валидации.
var (
	// ErrInvalidInput — входные параметры кампании не прошли валидацию.
	ErrInvalidInput = errors.New("invalid campaign input")

	// ErrInvalidResult — результат стадии не прошёл валидацию на границе стадии.
	ErrInvalidResult = errors.New("invalid stage result")

	// ErrUnknownDecision — неизвестное решение ревьюера.
	ErrUnknownDecision = errors.New("unknown decision")

	// ErrInvalidPolicy — некорректная RetryPolicy.
	ErrInvalidPolicy = errors.New("invalid retry policy")
)
