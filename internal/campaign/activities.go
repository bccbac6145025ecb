package campaign

import (
	"github.com/shaiso/campaign-orchestrator/internal/activities"
	"github.com/shaiso/campaign-orchestrator/internal/domain"
	"github.com/shaiso/campaign-orchestrator/internal/flow"
)

// Activities — activities, которые вызывают стадии. Поля можно подменять
// по одному (например, в тестах или для подключения реального провайдера).
type Activities struct {
	// Research
	CompileResearchInput flow.Activity[activities.ResearchRequest, domain.ResearchInputs]
	ResearchBrief        flow.Activity[domain.ResearchInputs, domain.ResearchBrief]
	ConceptNote          flow.Activity[activities.ConceptRequest, domain.ConceptNote]
	SummariseFindings    flow.Activity[activities.FindingsRequest, domain.ResearchFindings]

	// Creative
	PrepareCreativeInputs flow.Activity[activities.CreativeRequest, domain.CreativeBrief]
	GenerateSMS           flow.Activity[domain.CreativeBrief, domain.CreativeAsset]
	GenerateImage         flow.Activity[domain.CreativeBrief, domain.CreativeAsset]
	GenerateVideo         flow.Activity[domain.CreativeBrief, domain.CreativeAsset]
	GenerateEmail         flow.Activity[domain.CreativeBrief, domain.CreativeAsset]
	ConsolidateCreatives  flow.Activity[activities.ConsolidateRequest, string]

	// Go-live
	PrepareMediaPlan  flow.Activity[activities.MediaPlanRequest, domain.MediaPlan]
	MediaBuying       flow.Activity[domain.MediaPlan, domain.MediaBuy]
	SummariseMediaBuy flow.Activity[activities.MediaBuyReport, string]
	Deploy            flow.Activity[domain.GoLiveResult, domain.Deployment]

	// Measurement
	PreviousMetrics       flow.Activity[activities.MetricsRequest, domain.MetricsSnapshot]
	CurrentMetrics        flow.Activity[activities.MetricsRequest, domain.MetricsSnapshot]
	AggregateMeasurements flow.Activity[activities.AggregateRequest, domain.MeasurementReport]
	RetrieveReport        flow.Activity[domain.MeasurementResult, domain.Retrieval]
}

// Bind связывает Activities с методами Service.
func Bind(svc *activities.Service) Activities {
	return Activities{
		CompileResearchInput: svc.CompileResearchInput,
		ResearchBrief:        svc.ResearchBrief,
		ConceptNote:          svc.ConceptNote,
		SummariseFindings:    svc.SummariseFindings,

		PrepareCreativeInputs: svc.PrepareCreativeInputs,
		GenerateSMS:           svc.GenerateSMS,
		GenerateImage:         svc.GenerateImage,
		GenerateVideo:         svc.GenerateVideo,
		GenerateEmail:         svc.GenerateEmail,
		ConsolidateCreatives:  svc.ConsolidateCreatives,

		PrepareMediaPlan:  svc.PrepareMediaPlan,
		MediaBuying:       svc.MediaBuying,
		SummariseMediaBuy: svc.SummariseMediaBuy,
		Deploy:            svc.Deploy,

		PreviousMetrics:       svc.PreviousMetrics,
		CurrentMetrics:        svc.CurrentMetrics,
		AggregateMeasurements: svc.AggregateMeasurements,
		RetrieveReport:        svc.RetrieveReport,
	}
}
