package campaign

import (
	"context"

	"github.com/shaiso/campaign-orchestrator/internal/activities"
	"github.com/shaiso/campaign-orchestrator/internal/domain"
	"github.com/shaiso/campaign-orchestrator/internal/flow"
)

// Имена шагов. Они же ключи в истории и в pipeline.yaml.
const (
	StepCompileResearchInput = "compile_research_input"
	StepResearchBrief        = "research_brief"
	StepConceptNote          = "concept_note"
	StepSummariseFindings    = "summarise_research_findings"

	StepPrepareCreativeInputs = "prepare_creative_inputs"
	StepSMSGeneration         = "sms_generation"
	StepImageGeneration       = "image_generation"
	StepVideoGeneration       = "video_generation"
	StepEmailGeneration       = "email_template_generation"
	StepConsolidateCreatives  = "consolidate_creatives"

	StepPrepareMediaPlan  = "prepare_media_plan"
	StepMediaBuying       = "media_buying"
	StepSummariseMediaBuy = "summarise_media_buy_report"
	StepDeployment        = "deployment"

	StepPreviousMetrics       = "fetch_previous_metrics"
	StepPollMeasurements      = "poll_measurements"
	StepAggregateMeasurements = "aggregate_measurements"
	StepRetrieval             = "retrieval"
)

// Имена веток fan-out стадии measurement.
const (
	previousMetrics = "previous_metrics"
	currentMetrics  = "current_metrics"
)

// step создаёт RetryableStep с политикой из pipeline config.
func step[I, O any](p *Pipeline, stage domain.Stage, name string, act flow.Activity[I, O]) flow.RetryableStep[I, O] {
	return flow.NewStep(name, p.policies.StepPolicy(stage, name), act)
}

// stageShell заполняет общие поля стадии из pipeline config.
func stageShell[I, O any](p *Pipeline, stage domain.Stage) flow.Stage[I, O] {
	sc := p.policies.Stage(stage)
	return flow.Stage[I, O]{
		Name:        stage,
		GateTimeout: sc.ApprovalTimeout,
		MaxAttempts: sc.MaxAttempts,
	}
}

// --- Research ---

func (p *Pipeline) researchStage() flow.Stage[domain.CampaignInput, domain.ResearchResult] {
	const stage = domain.StageResearch

	compile := step(p, stage, StepCompileResearchInput, p.acts.CompileResearchInput)
	brief := step(p, stage, StepResearchBrief, p.acts.ResearchBrief)
	concept := step(p, stage, StepConceptNote, p.acts.ConceptNote)
	summarise := step(p, stage, StepSummariseFindings, p.acts.SummariseFindings)

	s := stageShell[domain.CampaignInput, domain.ResearchResult](p, stage)
	s.Body = func(ctx context.Context, sc *flow.StageContext, in domain.CampaignInput) (domain.ResearchResult, error) {
		var res domain.ResearchResult

		inputs, err := compile.Execute(ctx, sc, activities.ResearchRequest{Input: in, Feedback: sc.Feedback})
		if err != nil {
			return res, err
		}

		b, err := brief.Execute(ctx, sc.Child(StepResearchBrief), inputs)
		if err != nil {
			return res, err
		}

		note, err := concept.Execute(ctx, sc.Child(StepConceptNote), activities.ConceptRequest{Inputs: inputs, Brief: b})
		if err != nil {
			return res, err
		}

		findings, err := summarise.Execute(ctx, sc, activities.FindingsRequest{Inputs: inputs, Brief: b, Note: note})
		if err != nil {
			return res, err
		}

		return domain.ResearchResult{
			CampaignID:  inputs.CampaignID,
			Inputs:      inputs,
			Brief:       b,
			ConceptNote: note,
			Findings:    findings,
		}, nil
	}
	s.Finish = func(out domain.ResearchResult, feedback string, attempts int) domain.ResearchResult {
		out.ApprovalFeedback = feedback
		out.Attempts = attempts
		return out
	}
	return s
}

// --- Creative ---

func (p *Pipeline) creativeStage() flow.Stage[domain.ResearchResult, domain.CreativeResult] {
	const stage = domain.StageCreative

	prepare := step(p, stage, StepPrepareCreativeInputs, p.acts.PrepareCreativeInputs)
	consolidate := step(p, stage, StepConsolidateCreatives, p.acts.ConsolidateCreatives)

	generators := []flow.SubTask[domain.CreativeBrief, domain.CreativeAsset]{
		subTask(step(p, stage, StepSMSGeneration, p.acts.GenerateSMS), domain.CreativeSMS),
		subTask(step(p, stage, StepImageGeneration, p.acts.GenerateImage), domain.CreativeImage),
		subTask(step(p, stage, StepVideoGeneration, p.acts.GenerateVideo), domain.CreativeVideo),
		subTask(step(p, stage, StepEmailGeneration, p.acts.GenerateEmail), domain.CreativeEmail),
	}

	s := stageShell[domain.ResearchResult, domain.CreativeResult](p, stage)
	s.Body = func(ctx context.Context, sc *flow.StageContext, in domain.ResearchResult) (domain.CreativeResult, error) {
		var res domain.CreativeResult

		brief, err := prepare.Execute(ctx, sc, activities.CreativeRequest{Research: in, Feedback: sc.Feedback})
		if err != nil {
			return res, err
		}

		assets, err := flow.FanOut(ctx, sc, brief, generators)
		if err != nil {
			return res, err
		}

		summary, err := consolidate.Execute(ctx, sc, activities.ConsolidateRequest{Brief: brief, Assets: assets})
		if err != nil {
			return res, err
		}

		return domain.CreativeResult{
			CampaignID:   in.CampaignID,
			Brief:        brief,
			Assets:       assets,
			Consolidated: summary,
		}, nil
	}
	s.Finish = func(out domain.CreativeResult, feedback string, attempts int) domain.CreativeResult {
		out.ApprovalFeedback = feedback
		out.Attempts = attempts
		return out
	}
	return s
}

// --- Go-live ---

func (p *Pipeline) goLiveStage(input domain.CampaignInput) flow.Stage[domain.CreativeResult, domain.GoLiveResult] {
	const stage = domain.StageGoLive

	prepare := step(p, stage, StepPrepareMediaPlan, p.acts.PrepareMediaPlan)
	buying := step(p, stage, StepMediaBuying, p.acts.MediaBuying)
	summarise := step(p, stage, StepSummariseMediaBuy, p.acts.SummariseMediaBuy)
	deploy := step(p, stage, StepDeployment, p.acts.Deploy)

	s := stageShell[domain.CreativeResult, domain.GoLiveResult](p, stage)
	s.Body = func(ctx context.Context, sc *flow.StageContext, in domain.CreativeResult) (domain.GoLiveResult, error) {
		var res domain.GoLiveResult

		plan, err := prepare.Execute(ctx, sc, activities.MediaPlanRequest{
			Creative: in,
			Budget:   input.Budget,
			Channels: input.Channels,
			Feedback: sc.Feedback,
		})
		if err != nil {
			return res, err
		}

		buy, err := buying.Execute(ctx, sc, plan)
		if err != nil {
			return res, err
		}

		summary, err := summarise.Execute(ctx, sc, activities.MediaBuyReport{Plan: plan, Buy: buy, Feedback: sc.Feedback})
		if err != nil {
			return res, err
		}

		return domain.GoLiveResult{
			CampaignID: in.CampaignID,
			Plan:       plan,
			Buy:        buy,
			Summary:    summary,
		}, nil
	}
	s.Finish = func(out domain.GoLiveResult, feedback string, attempts int) domain.GoLiveResult {
		out.ApprovalFeedback = feedback
		out.Attempts = attempts
		return out
	}
	s.AfterApproval = func(ctx context.Context, sc *flow.StageContext, out domain.GoLiveResult) (domain.GoLiveResult, error) {
		dep, err := deploy.Execute(ctx, sc, out)
		if err != nil {
			return out, err
		}
		out.Deployment = &dep
		return out, nil
	}
	return s
}

// --- Measurement ---

func (p *Pipeline) measurementStage(input domain.CampaignInput) flow.Stage[domain.GoLiveResult, domain.MeasurementResult] {
	const stage = domain.StageMeasurement

	aggregate := step(p, stage, StepAggregateMeasurements, p.acts.AggregateMeasurements)
	retrieve := step(p, stage, StepRetrieval, p.acts.RetrieveReport)

	pollers := []flow.SubTask[activities.MetricsRequest, domain.MetricsSnapshot]{
		subTask(step(p, stage, StepPreviousMetrics, p.acts.PreviousMetrics), previousMetrics),
		subTask(step(p, stage, StepPollMeasurements, p.acts.CurrentMetrics), currentMetrics),
	}

	s := stageShell[domain.GoLiveResult, domain.MeasurementResult](p, stage)
	s.Body = func(ctx context.Context, sc *flow.StageContext, in domain.GoLiveResult) (domain.MeasurementResult, error) {
		var res domain.MeasurementResult

		req := activities.MetricsRequest{CampaignID: in.CampaignID, Budget: input.Budget}
		if in.Deployment != nil {
			req.DeploymentID = in.Deployment.DeploymentID
		}

		snapshots, err := flow.FanOut(ctx, sc, req, pollers)
		if err != nil {
			return res, err
		}

		report, err := aggregate.Execute(ctx, sc, activities.AggregateRequest{
			Previous: snapshots[previousMetrics],
			Current:  snapshots[currentMetrics],
			Feedback: sc.Feedback,
		})
		if err != nil {
			return res, err
		}

		return domain.MeasurementResult{
			CampaignID:   in.CampaignID,
			DeploymentID: req.DeploymentID,
			Previous:     snapshots[previousMetrics],
			Current:      snapshots[currentMetrics],
			Report:       report,
		}, nil
	}
	s.Finish = func(out domain.MeasurementResult, feedback string, attempts int) domain.MeasurementResult {
		out.ApprovalFeedback = feedback
		out.Attempts = attempts
		return out
	}
	s.AfterApproval = func(ctx context.Context, sc *flow.StageContext, out domain.MeasurementResult) (domain.MeasurementResult, error) {
		retrieval, err := retrieve.Execute(ctx, sc, out)
		if err != nil {
			return out, err
		}
		out.Retrieval = &retrieval
		return out, nil
	}
	return s
}

// subTask оборачивает шаг в ветку fan-out с именем name.
func subTask[I, O any](s flow.RetryableStep[I, O], name string) flow.SubTask[I, O] {
	return flow.SubTask[I, O]{
		Name: name,
		Run: func(ctx context.Context, sc *flow.StageContext, in I) (O, error) {
			return s.Execute(ctx, sc, in)
		},
	}
}
