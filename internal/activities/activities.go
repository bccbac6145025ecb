package activities

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/shaiso/campaign-orchestrator/internal/domain"
)

// Service — набор activities кампании.
//
// Реализации детерминированные: одинаковый вход даёт одинаковый выход,
// feedback ревьюера попадает в результат. Это позволяет повторять шаги
// и проверять доработки без внешних провайдеров.
type Service struct {
	logger *slog.Logger

	// latency имитирует работу внешнего провайдера.
	latency time.Duration
}

// Config — конфигурация Service.
type Config struct {
	Logger  *slog.Logger
	Latency time.Duration
}

// New создаёт Service.
func New(cfg Config) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		logger:  logger.With("component", "activities"),
		latency: cfg.Latency,
	}
}

// work имитирует вызов провайдера с учётом отмены.
func (s *Service) work(ctx context.Context, name string) error {
	s.logger.Debug("activity started", "activity", name)
	if s.latency <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(s.latency):
		return nil
	}
}

// --- Research ---

// CompileResearchInput собирает вход исследования из параметров кампании.
func (s *Service) CompileResearchInput(ctx context.Context, req ResearchRequest) (domain.ResearchInputs, error) {
	if err := s.work(ctx, "compile_research_input"); err != nil {
		return domain.ResearchInputs{}, err
	}
	in := req.Input
	if err := in.Validate(); err != nil {
		return domain.ResearchInputs{}, err
	}
	return domain.ResearchInputs{
		CampaignID:   in.CampaignID,
		CampaignName: in.DisplayName(),
		Audience:     in.TargetAudience,
		Budget:       in.Budget,
		Objectives:   slices.Clone(in.Objectives),
		Channels:     slices.Clone(in.Channels),
		Feedback:     req.Feedback,
	}, nil
}

// ResearchBrief готовит бриф исследования.
func (s *Service) ResearchBrief(ctx context.Context, in domain.ResearchInputs) (domain.ResearchBrief, error) {
	if err := s.work(ctx, "research_brief"); err != nil {
		return domain.ResearchBrief{}, err
	}

	audience := in.Audience.Demographics
	if audience == "" {
		audience = "general audience"
	}
	brief := domain.ResearchBrief{
		Summary: fmt.Sprintf("Market brief for %s targeting %s", in.CampaignName, audience),
	}
	for _, interest := range in.Audience.Interests {
		brief.KeyInsights = append(brief.KeyInsights, "audience responds to "+interest)
	}
	for _, ch := range in.Channels {
		brief.KeyInsights = append(brief.KeyInsights, "reach via "+ch)
	}
	if in.Feedback != "" {
		brief.KeyInsights = append(brief.KeyInsights, "reviewer: "+in.Feedback)
	}
	return brief, nil
}

// ConceptNote выводит концепции из брифа.
func (s *Service) ConceptNote(ctx context.Context, req ConceptRequest) (domain.ConceptNote, error) {
	if err := s.work(ctx, "concept_note"); err != nil {
		return domain.ConceptNote{}, err
	}

	note := domain.ConceptNote{Title: "Concepts for " + req.Inputs.CampaignName}
	objectives := req.Inputs.Objectives
	if len(objectives) == 0 {
		objectives = []string{"awareness"}
	}
	for _, obj := range objectives {
		note.Concepts = append(note.Concepts, fmt.Sprintf("%s-led story for %s", obj, req.Inputs.CampaignName))
	}
	return note, nil
}

// SummariseFindings сводит исследование для ревьюера.
func (s *Service) SummariseFindings(ctx context.Context, req FindingsRequest) (domain.ResearchFindings, error) {
	if err := s.work(ctx, "summarise_research_findings"); err != nil {
		return domain.ResearchFindings{}, err
	}

	summary := fmt.Sprintf("%s: %d insight(s), %d concept(s)",
		req.Brief.Summary, len(req.Brief.KeyInsights), len(req.Note.Concepts))
	if req.Inputs.Feedback != "" {
		summary += " (revised: " + req.Inputs.Feedback + ")"
	}
	findings := domain.ResearchFindings{Summary: summary}
	if len(req.Note.Concepts) > 0 {
		findings.Recommendations = []string{"lead with: " + req.Note.Concepts[0]}
	}
	return findings, nil
}

// --- Creative ---

// PrepareCreativeInputs готовит общий бриф креативов.
func (s *Service) PrepareCreativeInputs(ctx context.Context, req CreativeRequest) (domain.CreativeBrief, error) {
	if err := s.work(ctx, "prepare_creative_inputs"); err != nil {
		return domain.CreativeBrief{}, err
	}

	concept := req.Research.Findings.Summary
	if len(req.Research.ConceptNote.Concepts) > 0 {
		concept = req.Research.ConceptNote.Concepts[0]
	}
	return domain.CreativeBrief{
		CampaignID: req.Research.CampaignID,
		Concept:    concept,
		Channels:   slices.Clone(req.Research.Inputs.Channels),
		Tone:       "friendly",
		Feedback:   req.Feedback,
	}, nil
}

// GenerateSMS генерирует SMS.
func (s *Service) GenerateSMS(ctx context.Context, brief domain.CreativeBrief) (domain.CreativeAsset, error) {
	if err := s.work(ctx, "sms_generation"); err != nil {
		return domain.CreativeAsset{}, err
	}
	content := withFeedback("SMS: "+brief.Concept, brief.Feedback)
	return domain.CreativeAsset{Kind: domain.CreativeSMS, Content: content}, nil
}

// GenerateImage генерирует изображение.
func (s *Service) GenerateImage(ctx context.Context, brief domain.CreativeBrief) (domain.CreativeAsset, error) {
	if err := s.work(ctx, "image_generation"); err != nil {
		return domain.CreativeAsset{}, err
	}
	return domain.CreativeAsset{
		Kind:    domain.CreativeImage,
		Content: withFeedback("Key visual: "+brief.Concept, brief.Feedback),
		URI:     assetURI(brief.CampaignID, "image.jpg"),
	}, nil
}

// GenerateVideo генерирует видео.
func (s *Service) GenerateVideo(ctx context.Context, brief domain.CreativeBrief) (domain.CreativeAsset, error) {
	if err := s.work(ctx, "video_generation"); err != nil {
		return domain.CreativeAsset{}, err
	}
	return domain.CreativeAsset{
		Kind:    domain.CreativeVideo,
		Content: withFeedback("15s spot: "+brief.Concept, brief.Feedback),
		URI:     assetURI(brief.CampaignID, "video.mp4"),
	}, nil
}

// GenerateEmail генерирует email-шаблон.
func (s *Service) GenerateEmail(ctx context.Context, brief domain.CreativeBrief) (domain.CreativeAsset, error) {
	if err := s.work(ctx, "email_template_generation"); err != nil {
		return domain.CreativeAsset{}, err
	}
	content := withFeedback(fmt.Sprintf("<h1>%s</h1><p>Tone: %s</p>", brief.Concept, brief.Tone), brief.Feedback)
	return domain.CreativeAsset{Kind: domain.CreativeEmail, Content: content}, nil
}

// ConsolidateCreatives сводит креативы в одно описание.
func (s *Service) ConsolidateCreatives(ctx context.Context, req ConsolidateRequest) (string, error) {
	if err := s.work(ctx, "consolidate_creatives"); err != nil {
		return "", err
	}

	kinds := make([]string, 0, len(req.Assets))
	for kind := range req.Assets {
		kinds = append(kinds, kind)
	}
	slices.Sort(kinds)
	return fmt.Sprintf("%d creative(s) for %s: %s", len(kinds), req.Brief.CampaignID, strings.Join(kinds, ", ")), nil
}

// --- Go-live ---

// PrepareMediaPlan распределяет бюджет по каналам поровну.
func (s *Service) PrepareMediaPlan(ctx context.Context, req MediaPlanRequest) (domain.MediaPlan, error) {
	if err := s.work(ctx, "prepare_media_plan"); err != nil {
		return domain.MediaPlan{}, err
	}
	if len(req.Channels) == 0 {
		return domain.MediaPlan{}, fmt.Errorf("%w: no channels to plan", domain.ErrInvalidInput)
	}

	share := math.Round(req.Budget/float64(len(req.Channels))*100) / 100
	plan := domain.MediaPlan{
		CampaignID:  req.Creative.CampaignID,
		Budget:      req.Budget,
		Allocations: make(map[string]float64, len(req.Channels)),
	}
	for _, ch := range req.Channels {
		plan.Allocations[ch] = share
	}
	return plan, nil
}

// MediaBuying закупает размещения по плану.
func (s *Service) MediaBuying(ctx context.Context, plan domain.MediaPlan) (domain.MediaBuy, error) {
	if err := s.work(ctx, "media_buying"); err != nil {
		return domain.MediaBuy{}, err
	}

	channels := make([]string, 0, len(plan.Allocations))
	var spend float64
	for ch, amount := range plan.Allocations {
		channels = append(channels, ch)
		spend += amount
	}
	slices.Sort(channels)

	buy := domain.MediaBuy{OrderID: "ORD-" + plan.CampaignID, Spend: spend}
	for _, ch := range channels {
		buy.Placements = append(buy.Placements, ch+"-placement")
	}
	return buy, nil
}

// SummariseMediaBuy готовит отчёт о закупке для ревьюера.
func (s *Service) SummariseMediaBuy(ctx context.Context, req MediaBuyReport) (string, error) {
	if err := s.work(ctx, "summarise_media_buy_report"); err != nil {
		return "", err
	}
	summary := fmt.Sprintf("order %s: %d placement(s), spend %.2f of %.2f",
		req.Buy.OrderID, len(req.Buy.Placements), req.Buy.Spend, req.Plan.Budget)
	return withFeedback(summary, req.Feedback), nil
}

// Deploy выкладывает кампанию после одобрения go-live.
func (s *Service) Deploy(ctx context.Context, res domain.GoLiveResult) (domain.Deployment, error) {
	if err := s.work(ctx, "deployment"); err != nil {
		return domain.Deployment{}, err
	}

	channels := make([]string, 0, len(res.Plan.Allocations))
	for ch := range res.Plan.Allocations {
		channels = append(channels, ch)
	}
	slices.Sort(channels)

	return domain.Deployment{
		DeploymentID: "DEP-" + res.CampaignID,
		Status:       "live",
		Channels:     channels,
	}, nil
}

// --- Measurement ---

// PreviousMetrics возвращает базовые метрики до запуска.
func (s *Service) PreviousMetrics(ctx context.Context, req MetricsRequest) (domain.MetricsSnapshot, error) {
	if err := s.work(ctx, "fetch_previous_metrics"); err != nil {
		return domain.MetricsSnapshot{}, err
	}
	return snapshot("previous", req.Budget, 1), nil
}

// CurrentMetrics опрашивает метрики запущенной кампании.
func (s *Service) CurrentMetrics(ctx context.Context, req MetricsRequest) (domain.MetricsSnapshot, error) {
	if err := s.work(ctx, "poll_measurements"); err != nil {
		return domain.MetricsSnapshot{}, err
	}
	if req.DeploymentID == "" {
		return domain.MetricsSnapshot{}, fmt.Errorf("%w: campaign %s is not deployed", domain.ErrInvalidInput, req.CampaignID)
	}
	return snapshot("current", req.Budget, 2), nil
}

// AggregateMeasurements считает отчёт по двум срезам.
func (s *Service) AggregateMeasurements(ctx context.Context, req AggregateRequest) (domain.MeasurementReport, error) {
	if err := s.work(ctx, "aggregate_measurements"); err != nil {
		return domain.MeasurementReport{}, err
	}

	cur := req.Current
	report := domain.MeasurementReport{CTR: cur.CTR()}
	if cur.Clicks > 0 {
		report.ConversionRate = float64(cur.Conversions) / float64(cur.Clicks)
	}
	if cur.Conversions > 0 {
		report.CostPerConversion = cur.Spend / float64(cur.Conversions)
	}

	lift := cur.CTR() - req.Previous.CTR()
	report.Summary = withFeedback(fmt.Sprintf("CTR %.4f (lift %+.4f), %d conversion(s)", report.CTR, lift, cur.Conversions), req.Feedback)
	return report, nil
}

// RetrieveReport выгружает отчёт после одобрения measurement.
func (s *Service) RetrieveReport(ctx context.Context, res domain.MeasurementResult) (domain.Retrieval, error) {
	if err := s.work(ctx, "retrieval"); err != nil {
		return domain.Retrieval{}, err
	}
	return domain.Retrieval{
		ReportURI: assetURI(res.CampaignID, "measurement.json"),
		Status:    "stored",
	}, nil
}

// --- Helpers ---

func withFeedback(content, feedback string) string {
	if feedback == "" {
		return content
	}
	return content + " [revised: " + feedback + "]"
}

func assetURI(campaignID, name string) string {
	return "campaigns/" + strings.ToLower(campaignID) + "/" + name
}

// snapshot строит срез метрик из бюджета. factor масштабирует результат.
func snapshot(source string, budget float64, factor int64) domain.MetricsSnapshot {
	impressions := int64(budget*10) * factor
	clicks := impressions / 50 * factor
	return domain.MetricsSnapshot{
		Source:      source,
		Impressions: impressions,
		Clicks:      clicks,
		Conversions: clicks / 10,
		Spend:       budget / 2 * float64(factor),
	}
}
