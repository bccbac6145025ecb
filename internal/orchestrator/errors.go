package orchestrator

import "errors"

// Ошибки оркестратора.
var (
	// ErrRunNotFound — run не найден в БД.
	ErrRunNotFound = errors.New("run not found")

	// ErrRunFinished — run уже завершён, запускать нечего.
	ErrRunFinished = errors.New("run already finished")

	// ErrRunAlreadyActive — run уже выполняется этим экземпляром.
	ErrRunAlreadyActive = errors.New("run already being processed")

	// ErrRunNotActive — run не выполняется этим экземпляром.
	ErrRunNotActive = errors.New("run not in active runs")

	// ErrLeaseHeld — run выполняет другой экземпляр.
	ErrLeaseHeld = errors.New("run is leased by another instance")

	// ErrOrchestratorStopped — оркестратор остановлен или ещё не запущен.
	ErrOrchestratorStopped = errors.New("orchestrator stopped")
)
