package domain

import (
	"fmt"

	"github.com/google/uuid"
)

// Типизированные результаты стадий. Каждая стадия получает на вход
// результат предыдущей и валидирует свой результат перед approval gate.

// --- Research ---

// ResearchInputs — нормализованный вход исследования.
type ResearchInputs struct {
	CampaignID   string   `json:"campaign_id"`
	CampaignName string   `json:"campaign_name,omitempty"`
	Audience     Audience `json:"audience"`
	Budget       float64  `json:"budget"`
	Objectives   []string `json:"objectives,omitempty"`
	Channels     []string `json:"channels"`
	Feedback     string   `json:"feedback,omitempty"`
}

// ResearchBrief — бриф исследования рынка.
type ResearchBrief struct {
	Summary     string   `json:"summary"`
	KeyInsights []string `json:"key_insights,omitempty"`
}

// ConceptNote — концепции, выросшие из брифа.
type ConceptNote struct {
	Title    string   `json:"title"`
	Concepts []string `json:"concepts"`
}

// ResearchFindings — итог стадии для ревьюера.
type ResearchFindings struct {
	Summary         string   `json:"summary"`
	Recommendations []string `json:"recommendations,omitempty"`
}

// ResearchResult — результат стадии research.
type ResearchResult struct {
	CampaignID       string           `json:"campaign_id"`
	Inputs           ResearchInputs   `json:"inputs"`
	Brief            ResearchBrief    `json:"brief"`
	ConceptNote      ConceptNote      `json:"concept_note"`
	Findings         ResearchFindings `json:"findings"`
	ApprovalFeedback string           `json:"approval_feedback,omitempty"`
	Attempts         int              `json:"attempts,omitempty"`
}

// Validate проверяет результат research.
func (r ResearchResult) Validate() error {
	if r.CampaignID == "" {
		return fmt.Errorf("%w: research: campaign_id is empty", ErrInvalidResult)
	}
	if r.Findings.Summary == "" {
		return fmt.Errorf("%w: research: findings summary is empty", ErrInvalidResult)
	}
	if len(r.ConceptNote.Concepts) == 0 {
		return fmt.Errorf("%w: research: no concepts", ErrInvalidResult)
	}
	return nil
}

// --- Creative ---

// Виды креативов, которые генерируются параллельно.
const (
	CreativeSMS   = "sms"
	CreativeImage = "image"
	CreativeVideo = "video"
	CreativeEmail = "email"
)

// CreativeKinds возвращает все виды креативов.
func CreativeKinds() []string {
	return []string{CreativeSMS, CreativeImage, CreativeVideo, CreativeEmail}
}

// CreativeBrief — общий вход для генерации креативов.
type CreativeBrief struct {
	CampaignID string   `json:"campaign_id"`
	Concept    string   `json:"concept"`
	Channels   []string `json:"channels"`
	Tone       string   `json:"tone"`
	Feedback   string   `json:"feedback,omitempty"`
}

// CreativeAsset — один сгенерированный креатив.
type CreativeAsset struct {
	Kind    string `json:"kind"`
	Content string `json:"content"`
	URI     string `json:"uri,omitempty"`
}

// CreativeResult — результат стадии creative.
type CreativeResult struct {
	CampaignID       string                   `json:"campaign_id"`
	Brief            CreativeBrief            `json:"brief"`
	Assets           map[string]CreativeAsset `json:"assets"`
	Consolidated     string                   `json:"consolidated"`
	ApprovalFeedback string                   `json:"approval_feedback,omitempty"`
	Attempts         int                      `json:"attempts,omitempty"`
}

// Validate проверяет, что все виды креативов на месте.
func (r CreativeResult) Validate() error {
	for _, kind := range CreativeKinds() {
		asset, ok := r.Assets[kind]
		if !ok || asset.Content == "" {
			return fmt.Errorf("%w: creative: missing %s asset", ErrInvalidResult, kind)
		}
	}
	if r.Consolidated == "" {
		return fmt.Errorf("%w: creative: consolidated summary is empty", ErrInvalidResult)
	}
	return nil
}

// --- Go-live ---

// MediaPlan — распределение бюджета по каналам.
type MediaPlan struct {
	CampaignID  string             `json:"campaign_id"`
	Budget      float64            `json:"budget"`
	Allocations map[string]float64 `json:"allocations"`
}

// MediaBuy — результат закупки медиа.
type MediaBuy struct {
	OrderID    string   `json:"order_id"`
	Placements []string `json:"placements"`
	Spend      float64  `json:"spend"`
}

// Deployment — результат выкладки кампании (после одобрения go-live).
type Deployment struct {
	DeploymentID string   `json:"deployment_id"`
	Status       string   `json:"status"`
	Channels     []string `json:"channels"`
}

// GoLiveResult — результат стадии golive.
type GoLiveResult struct {
	CampaignID       string      `json:"campaign_id"`
	Plan             MediaPlan   `json:"plan"`
	Buy              MediaBuy    `json:"buy"`
	Summary          string      `json:"summary"`
	Deployment       *Deployment `json:"deployment,omitempty"`
	ApprovalFeedback string      `json:"approval_feedback,omitempty"`
	Attempts         int         `json:"attempts,omitempty"`
}

// Validate проверяет результат golive.
func (r GoLiveResult) Validate() error {
	if len(r.Plan.Allocations) == 0 {
		return fmt.Errorf("%w: golive: empty media plan", ErrInvalidResult)
	}
	if r.Buy.OrderID == "" {
		return fmt.Errorf("%w: golive: media buy has no order", ErrInvalidResult)
	}
	if r.Summary == "" {
		return fmt.Errorf("%w: golive: summary is empty", ErrInvalidResult)
	}
	return nil
}

// --- Measurement ---

// MetricsSnapshot — срез метрик кампании.
type MetricsSnapshot struct {
	Source      string  `json:"source"`
	Impressions int64   `json:"impressions"`
	Clicks      int64   `json:"clicks"`
	Conversions int64   `json:"conversions"`
	Spend       float64 `json:"spend"`
}

// CTR возвращает click-through rate.
func (m MetricsSnapshot) CTR() float64 {
	if m.Impressions == 0 {
		return 0
	}
	return float64(m.Clicks) / float64(m.Impressions)
}

// MeasurementReport — агрегированный отчёт.
type MeasurementReport struct {
	CTR               float64 `json:"ctr"`
	ConversionRate    float64 `json:"conversion_rate"`
	CostPerConversion float64 `json:"cost_per_conversion"`
	Summary           string  `json:"summary"`
}

// Retrieval — выгрузка отчёта (после одобрения measurement).
type Retrieval struct {
	ReportURI string `json:"report_uri"`
	Status    string `json:"status"`
}

// MeasurementResult — результат стадии measurement.
type MeasurementResult struct {
	CampaignID       string            `json:"campaign_id"`
	DeploymentID     string            `json:"deployment_id,omitempty"`
	Previous         MetricsSnapshot   `json:"previous"`
	Current          MetricsSnapshot   `json:"current"`
	Report           MeasurementReport `json:"report"`
	Retrieval        *Retrieval        `json:"retrieval,omitempty"`
	ApprovalFeedback string            `json:"approval_feedback,omitempty"`
	Attempts         int               `json:"attempts,omitempty"`
}

// Validate проверяет результат measurement.
func (r MeasurementResult) Validate() error {
	if r.Report.Summary == "" {
		return fmt.Errorf("%w: measurement: report summary is empty", ErrInvalidResult)
	}
	return nil
}

// --- Campaign ---

// CampaignResult — итог кампании: результаты всех стадий.
type CampaignResult struct {
	RunID       uuid.UUID         `json:"run_id"`
	CampaignID  string            `json:"campaign_id"`
	Research    ResearchResult    `json:"research"`
	Creative    CreativeResult    `json:"creative"`
	GoLive      GoLiveResult      `json:"golive"`
	Measurement MeasurementResult `json:"measurement"`
}

// StageOutput — результат одной стадии в общем списке.
type StageOutput struct {
	Stage  Stage `json:"stage"`
	Output any   `json:"output"`
}

// Outputs возвращает результаты стадий в порядке выполнения.
func (r CampaignResult) Outputs() []StageOutput {
	return []StageOutput{
		{Stage: StageResearch, Output: r.Research},
		{Stage: StageCreative, Output: r.Creative},
		{Stage: StageGoLive, Output: r.GoLive},
		{Stage: StageMeasurement, Output: r.Measurement},
	}
}
