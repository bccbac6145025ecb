package api

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/campaign-orchestrator/internal/domain"
)

// Campaign DTOs

// StartCampaignRequest — запрос на запуск кампании.
type StartCampaignRequest struct {
	CampaignID     string          `json:"campaign_id,omitempty"`
	CampaignName   string          `json:"campaign_name,omitempty"`
	TargetAudience domain.Audience `json:"target_audience"`
	Budget         float64         `json:"budget"`
	Objectives     []string        `json:"objectives,omitempty"`
	Channels       []string        `json:"channels"`
}

// Input конвертирует запрос в нормализованный domain.CampaignInput.
func (r StartCampaignRequest) Input() domain.CampaignInput {
	in := domain.CampaignInput{
		CampaignID:     r.CampaignID,
		CampaignName:   r.CampaignName,
		TargetAudience: r.TargetAudience,
		Budget:         r.Budget,
		Objectives:     r.Objectives,
		Channels:       r.Channels,
	}
	in.Normalize()
	return in
}

// CampaignResponse — статус кампании.
type CampaignResponse struct {
	ID              uuid.UUID                        `json:"id"`
	CampaignID      string                           `json:"campaign_id"`
	Name            string                           `json:"name,omitempty"`
	Status          string                           `json:"status"`
	CurrentStage    string                           `json:"current_stage"`
	Attempt         int                              `json:"attempt"`
	DecisionPending bool                             `json:"decision_pending"`
	WaitingOn       string                           `json:"waiting_on,omitempty"`
	FailedStage     string                           `json:"failed_stage,omitempty"`
	FailureKind     string                           `json:"failure_kind,omitempty"`
	LastError       string                           `json:"last_error,omitempty"`
	Input           *domain.CampaignInput            `json:"input,omitempty"`
	Stages          map[domain.Stage]StageResponse   `json:"stages,omitempty"`
	Outputs         map[domain.Stage]json.RawMessage `json:"outputs,omitempty"`
	StartedAt       *time.Time                       `json:"started_at,omitempty"`
	FinishedAt      *time.Time                       `json:"finished_at,omitempty"`
	CreatedAt       time.Time                        `json:"created_at"`
	UpdatedAt       time.Time                        `json:"updated_at"`
}

// StageResponse — состояние стадии.
type StageResponse struct {
	Attempt    int                             `json:"attempt"`
	Phase      string                          `json:"phase"`
	Decision   string                          `json:"decision"`
	Feedback   string                          `json:"feedback,omitempty"`
	Gate       string                          `json:"gate,omitempty"`
	SubResults map[string]domain.SubTaskResult `json:"sub_results,omitempty"`
}

// CampaignSummaryFromDomain конвертирует run в краткий ответ для списков.
func CampaignSummaryFromDomain(r domain.CampaignRun) CampaignResponse {
	resp := CampaignResponse{
		ID:              r.ID,
		CampaignID:      r.CampaignID,
		Name:            r.Input.CampaignName,
		Status:          string(r.Status),
		CurrentStage:    string(r.Stage),
		Attempt:         r.Attempt,
		DecisionPending: r.DecisionPending,
		FailedStage:     string(r.FailedStage),
		FailureKind:     string(r.FailureKind),
		LastError:       r.LastError,
		StartedAt:       r.StartedAt,
		FinishedAt:      r.FinishedAt,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
	if stage, ok := r.WaitingOn(); ok {
		resp.WaitingOn = string(stage)
	}
	return resp
}

// CampaignFromDomain конвертирует run в полный ответ со стадиями и результатами.
func CampaignFromDomain(r domain.CampaignRun) CampaignResponse {
	resp := CampaignSummaryFromDomain(r)
	input := r.Input
	resp.Input = &input
	resp.Outputs = r.Outputs

	if len(r.Stages) > 0 {
		resp.Stages = make(map[domain.Stage]StageResponse, len(r.Stages))
		for stage, st := range r.Stages {
			resp.Stages[stage] = StageResponse{
				Attempt:    st.Attempt,
				Phase:      string(st.Phase),
				Decision:   string(st.Decision),
				Feedback:   st.Feedback,
				Gate:       string(st.Gate),
				SubResults: st.SubResults,
			}
		}
	}
	return resp
}

// Decision DTOs

// DecisionRequest — решение ревьюера.
//
// Decision принимает approve, reject или request_changes. Stage и Attempt
// можно не указывать: тогда решение относится к текущему gate.
type DecisionRequest struct {
	Stage    string `json:"stage,omitempty"`
	Attempt  int    `json:"attempt,omitempty"`
	Decision string `json:"decision"`
	Feedback string `json:"feedback,omitempty"`
}

// DecisionResponse — принятое к доставке решение.
type DecisionResponse struct {
	RunID    uuid.UUID `json:"run_id"`
	Stage    string    `json:"stage"`
	Attempt  int       `json:"attempt"`
	Decision string    `json:"decision"`
	Action   string    `json:"action"`
}

// Event DTOs

// EventResponse — событие истории run.
type EventResponse struct {
	Seq       int64           `json:"seq"`
	Key       string          `json:"key"`
	Type      string          `json:"type"`
	Stage     string          `json:"stage,omitempty"`
	Attempt   int             `json:"attempt,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// EventFromDomain конвертирует domain.Event в EventResponse.
func EventFromDomain(e domain.Event) EventResponse {
	return EventResponse{
		Seq:       e.Seq,
		Key:       e.Key,
		Type:      string(e.Type),
		Stage:     string(e.Stage),
		Attempt:   e.Attempt,
		Payload:   e.Payload,
		CreatedAt: e.CreatedAt,
	}
}
