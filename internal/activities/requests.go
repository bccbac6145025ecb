package activities

import "github.com/shaiso/campaign-orchestrator/internal/domain"

// Входы activities, которым нужно больше одного результата.

// ResearchRequest — вход compile_research_input.
type ResearchRequest struct {
	Input    domain.CampaignInput `json:"input"`
	Feedback string               `json:"feedback,omitempty"`
}

// ConceptRequest — вход concept_note.
type ConceptRequest struct {
	Inputs domain.ResearchInputs `json:"inputs"`
	Brief  domain.ResearchBrief  `json:"brief"`
}

// FindingsRequest — вход summarise_research_findings.
type FindingsRequest struct {
	Inputs domain.ResearchInputs `json:"inputs"`
	Brief  domain.ResearchBrief  `json:"brief"`
	Note   domain.ConceptNote    `json:"note"`
}

// CreativeRequest — вход prepare_creative_inputs.
type CreativeRequest struct {
	Research domain.ResearchResult `json:"research"`
	Feedback string                `json:"feedback,omitempty"`
}

// ConsolidateRequest — вход consolidate_creatives.
type ConsolidateRequest struct {
	Brief  domain.CreativeBrief            `json:"brief"`
	Assets map[string]domain.CreativeAsset `json:"assets"`
}

// MediaPlanRequest — вход prepare_media_plan.
type MediaPlanRequest struct {
	Creative domain.CreativeResult `json:"creative"`
	Budget   float64               `json:"budget"`
	Channels []string              `json:"channels"`
	Feedback string                `json:"feedback,omitempty"`
}

// MediaBuyReport — вход summarise_media_buy_report.
type MediaBuyReport struct {
	Plan     domain.MediaPlan `json:"plan"`
	Buy      domain.MediaBuy  `json:"buy"`
	Feedback string           `json:"feedback,omitempty"`
}

// MetricsRequest — вход previous/current metrics.
type MetricsRequest struct {
	CampaignID   string  `json:"campaign_id"`
	DeploymentID string  `json:"deployment_id,omitempty"`
	Budget       float64 `json:"budget"`
}

// AggregateRequest — вход aggregate_measurements.
type AggregateRequest struct {
	Previous domain.MetricsSnapshot `json:"previous"`
	Current  domain.MetricsSnapshot `json:"current"`
	Feedback string                 `json:"feedback,omitempty"`
}
