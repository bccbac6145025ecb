package domain

import "strings"

// CampaignStatus — статус выполнения кампании.
//
// Жизненный цикл:
//
//	PENDING → RUNNING → DONE
//	                  ↘ FAILED
type CampaignStatus string

const (
	// CampaignStatusPending — кампания создана, оркестратор ещё не взял её в работу.
	CampaignStatusPending CampaignStatus = "PENDING"

	// CampaignStatusRunning — кампания выполняется (в том числе ждёт решения ревьюера).
	CampaignStatusRunning CampaignStatus = "RUNNING"

	// CampaignStatusDone — все четыре стадии одобрены.
	CampaignStatusDone CampaignStatus = "DONE"

	// CampaignStatusFailed — одна из стадий завершилась ошибкой или отклонена.
	CampaignStatusFailed CampaignStatus = "FAILED"
)

// IsTerminal возвращает true, если статус финальный.
func (s CampaignStatus) IsTerminal() bool {
	switch s {
	case CampaignStatusDone, CampaignStatusFailed:
		return true
	default:
		return false
	}
}

// ParseCampaignStatus парсит строку в CampaignStatus.
func ParseCampaignStatus(s string) (CampaignStatus, bool) {
	switch CampaignStatus(strings.ToUpper(s)) {
	case CampaignStatusPending:
		return CampaignStatusPending, true
	case CampaignStatusRunning:
		return CampaignStatusRunning, true
	case CampaignStatusDone:
		return CampaignStatusDone, true
	case CampaignStatusFailed:
		return CampaignStatusFailed, true
	default:
		return "", false
	}
}

// Stage — стадия конвейера кампании.
//
// Рабочие стадии выполняются строго последовательно:
//
//	research → creative → golive → measurement → done
//
// Любая стадия может перевести кампанию в failed.
type Stage string

const (
	StageResearch    Stage = "research"
	StageCreative    Stage = "creative"
	StageGoLive      Stage = "golive"
	StageMeasurement Stage = "measurement"
	StageDone        Stage = "done"
	StageFailed      Stage = "failed"
)

// WorkStages возвращает рабочие стадии в порядке выполнения.
func WorkStages() []Stage {
	return []Stage{StageResearch, StageCreative, StageGoLive, StageMeasurement}
}

// IsWork возвращает true для стадий, которые выполняют работу и ждут решения.
func (s Stage) IsWork() bool {
	switch s {
	case StageResearch, StageCreative, StageGoLive, StageMeasurement:
		return true
	default:
		return false
	}
}

// ParseStage парсит имя стадии. Допускает варианты написания,
// которые использовали старые клиенты (go_live, measurements).
func ParseStage(s string) (Stage, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "research", "researcher":
		return StageResearch, true
	case "creative", "creatives":
		return StageCreative, true
	case "golive", "go_live", "go-live":
		return StageGoLive, true
	case "measurement", "measurements":
		return StageMeasurement, true
	case "done":
		return StageDone, true
	case "failed":
		return StageFailed, true
	default:
		return "", false
	}
}

// StagePhase — фаза внутри стадии.
//
//	PRE_APPROVAL → AWAITING_APPROVAL → COMPLETED
//	      ↑                ↓         ↘ FAILED
//	      └── RERUNNING ←──┘ (changes requested)
type StagePhase string

const (
	PhasePreApproval      StagePhase = "PRE_APPROVAL"
	PhaseAwaitingApproval StagePhase = "AWAITING_APPROVAL"
	PhaseRerunning        StagePhase = "RERUNNING"
	PhaseCompleted        StagePhase = "COMPLETED"
	PhaseFailed           StagePhase = "FAILED"
)

// IsTerminal возвращает true, если стадия закрыта.
func (p StagePhase) IsTerminal() bool {
	return p == PhaseCompleted || p == PhaseFailed
}

// Decision — решение ревьюера по стадии.
type Decision string

const (
	DecisionPending          Decision = "PENDING"
	DecisionApproved         Decision = "APPROVED"
	DecisionRejected         Decision = "REJECTED"
	DecisionChangesRequested Decision = "CHANGES_REQUESTED"
)

// ParseDecision парсит внешнее действие (approve, reject, request_changes)
// или имя решения (APPROVED, ...). Pending извне задать нельзя.
func ParseDecision(s string) (Decision, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "approve", "approved":
		return DecisionApproved, nil
	case "reject", "rejected":
		return DecisionRejected, nil
	case "request_changes", "changes_requested", "feedback":
		return DecisionChangesRequested, nil
	default:
		return "", ErrUnknownDecision
	}
}

// Action возвращает внешнее имя решения.
func (d Decision) Action() string {
	switch d {
	case DecisionApproved:
		return "approve"
	case DecisionRejected:
		return "reject"
	case DecisionChangesRequested:
		return "request_changes"
	default:
		return ""
	}
}

// IsFinal возвращает true для решений, которые закрывают gate.
func (d Decision) IsFinal() bool {
	switch d {
	case DecisionApproved, DecisionRejected, DecisionChangesRequested:
		return true
	default:
		return false
	}
}

// GateState — состояние approval gate.
type GateState string

const (
	GateWaiting          GateState = "WAITING"
	GateApproved         GateState = "APPROVED"
	GateRejected         GateState = "REJECTED"
	GateChangesRequested GateState = "CHANGES_REQUESTED"
	GateTimedOut         GateState = "TIMED_OUT"
)

// IsTerminal возвращает true, если gate уже покинул WAITING.
func (g GateState) IsTerminal() bool {
	return g != "" && g != GateWaiting
}

// GateStateFor возвращает состояние gate для принятого решения.
func GateStateFor(d Decision) GateState {
	switch d {
	case DecisionApproved:
		return GateApproved
	case DecisionRejected:
		return GateRejected
	case DecisionChangesRequested:
		return GateChangesRequested
	default:
		return GateWaiting
	}
}

// FailureKind — причина, по которой стадия (и кампания) упала.
// Позволяет оператору отличить "работа сломалась" от "человек сказал нет".
type FailureKind string

const (
	FailureExhausted        FailureKind = "exhausted"
	FailurePartial          FailureKind = "partial_failure"
	FailureRejected         FailureKind = "rejected"
	FailureTimeout          FailureKind = "timeout"
	FailureInvalidOutput    FailureKind = "invalid_output"
	FailureAttemptsExceeded FailureKind = "attempts_exceeded"
	FailureInvalidInput     FailureKind = "invalid_input"

	// FailureHistoryMismatch — записанная история не воспроизводится кодом.
	FailureHistoryMismatch FailureKind = "history_mismatch"

	// FailureInternal — ошибка вне стадий: повреждённый payload, двойное
	// ожидание сигнала и т.п. Повтор run её не исправит.
	FailureInternal FailureKind = "internal"
)

// IsHuman возвращает true, если причина — решение (или молчание) ревьюера.
func (k FailureKind) IsHuman() bool {
	return k == FailureRejected || k == FailureTimeout
}

// TimeoutFeedback — синтетический feedback для gate, истёкшего по дедлайну.
const TimeoutFeedback = "no response within deadline"
