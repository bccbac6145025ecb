package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// EventType — тип события в истории кампании.
type EventType string

const (
	EventCampaignStarted   EventType = "campaign.started"
	EventStageEntered      EventType = "stage.entered"
	EventAttemptStarted    EventType = "attempt.started"
	EventStepCompleted     EventType = "step.completed"
	EventStepFailed        EventType = "step.failed"
	EventSubTaskCompleted  EventType = "subtask.completed"
	EventSubTaskFailed     EventType = "subtask.failed"
	EventTimeCaptured      EventType = "time.captured"
	EventGateOpened        EventType = "gate.opened"
	EventSignalReceived    EventType = "signal.received"
	EventSignalTimedOut    EventType = "signal.timed_out"
	EventStageCompleted    EventType = "stage.completed"
	EventStageFailed       EventType = "stage.failed"
	EventCampaignCompleted EventType = "campaign.completed"
	EventCampaignFailed    EventType = "campaign.failed"
)

// Event — запись в append-only истории кампании.
//
// Key уникален в пределах run и детерминированно строится из пути
// (стадия, попытка, шаг). По Key история сопоставляется с кодом при replay.
type Event struct {
	RunID     uuid.UUID       `json:"run_id"`
	Seq       int64           `json:"seq"`
	Key       string          `json:"key"`
	Type      EventType       `json:"type"`
	Stage     Stage           `json:"stage,omitempty"`
	Attempt   int             `json:"attempt,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// Decode распаковывает payload события.
func (e Event) Decode(v any) error {
	if len(e.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Type, err)
	}
	return nil
}

// --- Payloads ---

// CampaignStartedPayload — payload campaign.started.
type CampaignStartedPayload struct {
	CampaignID string        `json:"campaign_id"`
	Input      CampaignInput `json:"input"`
}

// AttemptStartedPayload — payload attempt.started.
type AttemptStartedPayload struct {
	Feedback        string   `json:"feedback,omitempty"`
	FeedbackHistory []string `json:"feedback_history,omitempty"`
}

// StepRecord — записанный итог шага (step.completed / step.failed).
type StepRecord struct {
	Step     string          `json:"step"`
	Attempts int             `json:"attempts"`
	Output   json.RawMessage `json:"output,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// SubTaskResult — результат одной ветки fan-out.
// Либо Output, либо Error; после записи не меняется.
type SubTaskResult struct {
	Name   string          `json:"name"`
	Output json.RawMessage `json:"output,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// Failed возвращает true, если ветка завершилась ошибкой.
func (r SubTaskResult) Failed() bool {
	return r.Error != ""
}

// TimeRecord — зафиксированное значение now().
type TimeRecord struct {
	Time time.Time `json:"time"`
}

// GateOpenedPayload — payload gate.opened.
type GateOpenedPayload struct {
	Deadline *time.Time `json:"deadline,omitempty"`

	// Context — feedback предыдущих попыток, который видит ревьюер.
	Context []string `json:"context,omitempty"`
}

// SignalRecord — принятый сигнал (signal.received / signal.timed_out).
type SignalRecord struct {
	Name    string          `json:"name"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// StageCompletedPayload — payload stage.completed.
type StageCompletedPayload struct {
	Output   json.RawMessage `json:"output"`
	Feedback string          `json:"feedback,omitempty"`
	Attempts int             `json:"attempts"`
}

// StageFailedPayload — payload stage.failed.
type StageFailedPayload struct {
	Kind     FailureKind `json:"kind"`
	Error    string      `json:"error"`
	Feedback string      `json:"feedback,omitempty"`
}

// CampaignCompletedPayload — payload campaign.completed.
type CampaignCompletedPayload struct {
	Result CampaignResult `json:"result"`
}

// CampaignFailedPayload — payload campaign.failed.
type CampaignFailedPayload struct {
	Stage   Stage       `json:"stage"`
	Attempt int         `json:"attempt"`
	Kind    FailureKind `json:"kind"`
	Error   string      `json:"error"`
}

// --- Signals ---

// Signal — внешнее сообщение, доставляемое в run.
type Signal struct {
	Name    string          `json:"name"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

const decisionSignalPrefix = "decision/"

// DecisionSignalName возвращает имя сигнала решения для стадии.
func DecisionSignalName(stage Stage) string {
	return decisionSignalPrefix + string(stage)
}

// DecisionSignalStage возвращает стадию из имени сигнала решения.
func DecisionSignalStage(name string) (Stage, bool) {
	rest, ok := strings.CutPrefix(name, decisionSignalPrefix)
	if !ok {
		return "", false
	}
	return ParseStage(rest)
}

// DecisionPayload — payload сигнала решения.
//
// Attempt — попытка стадии, которую видел ревьюер. Gate другой попытки
// такое решение не принимает: запоздавший request_changes не запускает
// лишний перезапуск.
type DecisionPayload struct {
	Attempt  int      `json:"attempt"`
	Decision Decision `json:"decision"`
	Feedback string   `json:"feedback,omitempty"`
}

// NewDecisionSignal собирает сигнал решения для попытки стадии.
func NewDecisionSignal(stage Stage, attempt int, decision Decision, feedback string) Signal {
	payload, _ := json.Marshal(DecisionPayload{Attempt: attempt, Decision: decision, Feedback: feedback})
	return Signal{Name: DecisionSignalName(stage), Payload: payload}
}

// QueuedSignal — сигнал, сохранённый в inbox run до доставки.
// ID растёт в порядке приёма.
type QueuedSignal struct {
	ID        int64     `json:"id"`
	RunID     uuid.UUID `json:"run_id"`
	Signal    Signal    `json:"signal"`
	CreatedAt time.Time `json:"created_at"`
}
