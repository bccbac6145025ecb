package domain

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// CampaignRun — экземпляр выполнения кампании.
//
// Run создаётся при StartCampaign в статусе PENDING. Дальше его меняет
// только оркестратор, применяя события истории через Apply. Поэтому
// состояние run всегда можно восстановить replay'ем истории.
type CampaignRun struct {
	// ID — уникальный идентификатор run.
	ID uuid.UUID `json:"id"`

	// CampaignID — бизнес-идентификатор кампании.
	CampaignID string `json:"campaign_id"`

	Status CampaignStatus `json:"status"`

	// Stage — текущая стадия (done/failed для завершённых run).
	Stage Stage `json:"current_stage"`

	// Attempt — номер попытки текущей стадии (0 до начала стадии).
	Attempt int `json:"attempt"`

	// DecisionPending — true, пока gate текущей стадии ждёт решения.
	DecisionPending bool `json:"decision_pending"`

	Input CampaignInput `json:"input"`

	// Outputs — результаты завершённых стадий (stage → JSON результата).
	Outputs map[Stage]json.RawMessage `json:"outputs,omitempty"`

	// Stages — состояние каждой начатой стадии. Прошлые стадии остаются
	// здесь только для чтения.
	Stages map[Stage]*StageState `json:"stages,omitempty"`

	FailedStage Stage       `json:"failed_stage,omitempty"`
	FailureKind FailureKind `json:"failure_kind,omitempty"`
	LastError   string      `json:"last_error,omitempty"`

	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// StageState — состояние одной стадии внутри run.
type StageState struct {
	Stage Stage `json:"stage"`

	// Decision — PENDING в начале каждой попытки, выставляется один раз сигналом.
	Decision Decision `json:"decision"`

	Feedback string     `json:"feedback,omitempty"`
	Attempt  int        `json:"attempt"`
	Phase    StagePhase `json:"phase"`
	Gate     GateState  `json:"gate,omitempty"`

	// SubResults заполняется только для стадий с fan-out.
	SubResults map[string]SubTaskResult `json:"sub_results,omitempty"`
}

// NewCampaignRun создаёт run в статусе PENDING.
func NewCampaignRun(input CampaignInput) *CampaignRun {
	id := uuid.New()
	if input.CampaignID == "" {
		input.CampaignID = "CAMP-" + strings.ToUpper(id.String()[:8])
	}
	now := time.Now().UTC()
	return &CampaignRun{
		ID:         id,
		CampaignID: input.CampaignID,
		Status:     CampaignStatusPending,
		Stage:      StageResearch,
		Input:      input,
		Outputs:    make(map[Stage]json.RawMessage),
		Stages:     make(map[Stage]*StageState),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// IsFinished возвращает true, если run завершён.
func (r *CampaignRun) IsFinished() bool {
	return r.Status.IsTerminal()
}

// Duration возвращает продолжительность выполнения.
// Возвращает 0, если run ещё не завершён.
func (r *CampaignRun) Duration() time.Duration {
	if r.StartedAt == nil || r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(*r.StartedAt)
}

// WaitingOn возвращает стадию, gate которой сейчас ждёт решения.
func (r *CampaignRun) WaitingOn() (Stage, bool) {
	if !r.DecisionPending || r.IsFinished() {
		return "", false
	}
	return r.Stage, true
}

// StageState возвращает состояние стадии, создавая его при необходимости.
func (r *CampaignRun) StageState(stage Stage) *StageState {
	if r.Stages == nil {
		r.Stages = make(map[Stage]*StageState)
	}
	st, ok := r.Stages[stage]
	if !ok {
		st = &StageState{Stage: stage, Decision: DecisionPending, Phase: PhasePreApproval}
		r.Stages[stage] = st
	}
	return st
}

// Apply применяет событие истории к run.
//
// Это единственный способ изменить run после создания: оркестратор
// вызывает Apply на каждое записанное событие, а Project — при восстановлении.
func (r *CampaignRun) Apply(ev Event) {
	if !ev.CreatedAt.IsZero() {
		r.UpdatedAt = ev.CreatedAt
	}

	switch ev.Type {
	case EventCampaignStarted:
		r.Status = CampaignStatusRunning
		if r.StartedAt == nil {
			t := ev.CreatedAt
			r.StartedAt = &t
		}

	case EventStageEntered:
		r.Stage = ev.Stage
		r.Attempt = 0
		r.DecisionPending = false
		r.StageState(ev.Stage)

	case EventAttemptStarted:
		var p AttemptStartedPayload
		_ = ev.Decode(&p)
		st := r.StageState(ev.Stage)
		st.Attempt = ev.Attempt
		st.Decision = DecisionPending
		st.Gate = ""
		st.Feedback = p.Feedback
		st.SubResults = nil
		st.Phase = PhasePreApproval
		if ev.Attempt > 1 {
			st.Phase = PhaseRerunning
		}
		r.Attempt = ev.Attempt
		r.DecisionPending = false

	case EventSubTaskCompleted, EventSubTaskFailed:
		var p SubTaskResult
		if err := ev.Decode(&p); err != nil || ev.Stage == "" {
			return
		}
		st := r.StageState(ev.Stage)
		if st.SubResults == nil {
			st.SubResults = make(map[string]SubTaskResult)
		}
		st.SubResults[p.Name] = p

	case EventStepFailed:
		var p StepRecord
		if err := ev.Decode(&p); err == nil && p.Error != "" {
			r.LastError = p.Error
		}

	case EventGateOpened:
		st := r.StageState(ev.Stage)
		st.Phase = PhaseAwaitingApproval
		st.Gate = GateWaiting
		r.DecisionPending = true

	case EventSignalReceived:
		var p SignalRecord
		if err := ev.Decode(&p); err != nil {
			return
		}
		if _, ok := DecisionSignalStage(p.Name); !ok {
			return
		}
		var d DecisionPayload
		if err := json.Unmarshal(p.Payload, &d); err != nil {
			return
		}
		st := r.StageState(ev.Stage)
		st.Decision = d.Decision
		st.Feedback = d.Feedback
		st.Gate = GateStateFor(d.Decision)
		if d.Decision == DecisionChangesRequested {
			st.Phase = PhaseRerunning
		}
		r.DecisionPending = false

	case EventSignalTimedOut:
		st := r.StageState(ev.Stage)
		st.Gate = GateTimedOut
		st.Decision = DecisionRejected
		st.Feedback = TimeoutFeedback
		r.DecisionPending = false

	case EventStageCompleted:
		var p StageCompletedPayload
		_ = ev.Decode(&p)
		st := r.StageState(ev.Stage)
		st.Phase = PhaseCompleted
		if r.Outputs == nil {
			r.Outputs = make(map[Stage]json.RawMessage)
		}
		r.Outputs[ev.Stage] = p.Output
		r.DecisionPending = false

	case EventStageFailed:
		var p StageFailedPayload
		_ = ev.Decode(&p)
		st := r.StageState(ev.Stage)
		st.Phase = PhaseFailed
		r.LastError = p.Error
		r.DecisionPending = false

	case EventCampaignCompleted:
		r.Status = CampaignStatusDone
		r.Stage = StageDone
		r.DecisionPending = false
		t := ev.CreatedAt
		r.FinishedAt = &t

	case EventCampaignFailed:
		var p CampaignFailedPayload
		_ = ev.Decode(&p)
		r.Status = CampaignStatusFailed
		r.Stage = StageFailed
		r.FailedStage = p.Stage
		r.FailureKind = p.Kind
		r.Attempt = p.Attempt
		r.LastError = p.Error
		r.DecisionPending = false
		t := ev.CreatedAt
		r.FinishedAt = &t
	}
}

// Project применяет историю к run по порядку.
func (r *CampaignRun) Project(events []Event) {
	for _, ev := range events {
		r.Apply(ev)
	}
}
