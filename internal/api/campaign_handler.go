package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/shaiso/campaign-orchestrator/internal/domain"
	"github.com/shaiso/campaign-orchestrator/internal/mq"
	"github.com/shaiso/campaign-orchestrator/internal/repo"
)

// StartCampaign создаёт run и передаёт его оркестратору.
// POST /api/v1/campaigns
func (h *Handler) StartCampaign(w http.ResponseWriter, r *http.Request) {
	var req StartCampaignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	input := req.Input()
	if err := input.Validate(); err != nil {
		BadRequest(w, err.Error())
		return
	}

	run := domain.NewCampaignRun(input)
	if err := h.campaigns.Create(r.Context(), run); HandleRepoError(w, h.logger, err, "") {
		return
	}

	// Run уже в БД: если сообщение не ушло, его подберёт resume sweep.
	if h.publisher != nil {
		if err := h.publisher.PublishCampaignPending(r.Context(), run.ID); err != nil {
			requestLogger(h.logger, r).Warn("campaign pending not published",
				"run_id", run.ID,
				"error", err,
			)
		}
	}

	requestLogger(h.logger, r).Info("campaign created",
		"run_id", run.ID,
		"campaign_id", run.CampaignID,
		"channels", run.Input.Channels,
	)

	Created(w, CampaignFromDomain(*run))
}

// GetStatus возвращает текущее состояние кампании.
// GET /api/v1/campaigns/{id}
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	run, err := h.campaigns.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "campaign not found") {
		return
	}

	Success(w, CampaignFromDomain(*run))
}

// ListCampaigns возвращает список кампаний с фильтрацией.
// GET /api/v1/campaigns?stage=...&status=...&limit=...&offset=...
func (h *Handler) ListCampaigns(w http.ResponseWriter, r *http.Request) {
	filter := repo.CampaignFilter{}
	query := r.URL.Query()

	if s := query.Get("stage"); s != "" {
		stage, ok := domain.ParseStage(s)
		if !ok {
			BadRequest(w, fmt.Sprintf("unknown stage %q", s))
			return
		}
		filter.Stage = stage
	}

	if s := query.Get("status"); s != "" {
		status, ok := domain.ParseCampaignStatus(s)
		if !ok {
			BadRequest(w, fmt.Sprintf("unknown status %q", s))
			return
		}
		filter.Status = status
	}

	var err error
	if filter.Limit, err = intParam(query.Get("limit"), 0); err != nil {
		BadRequest(w, "invalid limit")
		return
	}
	if filter.Offset, err = intParam(query.Get("offset"), 0); err != nil {
		BadRequest(w, "invalid offset")
		return
	}

	runs, err := h.campaigns.List(r.Context(), filter)
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	result := make([]CampaignResponse, len(runs))
	for i, run := range runs {
		result[i] = CampaignSummaryFromDomain(run)
	}

	List(w, result, len(result))
}

// SendDecision принимает решение ревьюера по стадии.
// POST /api/v1/campaigns/{id}/decisions
//
// Решение принимается, только если gate этой стадии и попытки сейчас
// ждёт. Принятое решение сначала пишется в inbox, откуда его заберёт
// gate; публикация в RabbitMQ только будит оркестратор, владеющий run.
func (h *Handler) SendDecision(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	var req DecisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	decision, err := domain.ParseDecision(req.Decision)
	if err != nil {
		BadRequest(w, fmt.Sprintf("unknown decision %q, expected approve, reject or request_changes", req.Decision))
		return
	}

	var stage domain.Stage
	if req.Stage != "" {
		stage, ok = domain.ParseStage(req.Stage)
		if !ok || !stage.IsWork() {
			BadRequest(w, fmt.Sprintf("unknown stage %q", req.Stage))
			return
		}
	}

	run, err := h.campaigns.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "campaign not found") {
		return
	}

	if run.IsFinished() {
		NotWaiting(w, fmt.Sprintf("campaign is %s", run.Status))
		return
	}
	waiting, ok := run.WaitingOn()
	if !ok {
		NotWaiting(w, fmt.Sprintf("campaign is not waiting for a decision (stage %s)", run.Stage))
		return
	}
	if stage == "" {
		stage = waiting
	}
	if stage != waiting {
		NotWaiting(w, fmt.Sprintf("campaign is waiting on %s, not %s", waiting, stage))
		return
	}
	attempt := req.Attempt
	if attempt == 0 {
		attempt = run.Attempt
	}
	if attempt != run.Attempt {
		NotWaiting(w, fmt.Sprintf("%s is on attempt %d, not %d", stage, run.Attempt, attempt))
		return
	}

	if h.inbox == nil {
		Unavailable(w, "decisions are not accepted right now")
		return
	}

	payload := mq.DecisionPayload{
		RunID:    run.ID,
		Stage:    stage,
		Attempt:  attempt,
		Decision: decision,
		Feedback: req.Feedback,
	}
	log := requestLogger(h.logger, r)
	queued, err := h.inbox.Enqueue(r.Context(), run.ID, payload.Signal())
	if err != nil {
		InternalError(w, log, err)
		return
	}

	if h.publisher != nil {
		if err := h.publisher.PublishDecision(r.Context(), payload); err != nil {
			log.Warn("decision wake-up not published, gate will poll inbox",
				"run_id", run.ID,
				"stage", stage,
				"error", err,
			)
		}
	}

	log.Info("decision accepted",
		"run_id", run.ID,
		"stage", stage,
		"attempt", attempt,
		"decision", decision,
		"inbox_id", queued.ID,
	)

	Accepted(w, DecisionResponse{
		RunID:    run.ID,
		Stage:    string(stage),
		Attempt:  attempt,
		Decision: string(decision),
		Action:   decision.Action(),
	})
}

// --- Helpers ---

// parseID читает {id} из пути и отвечает 400, если это не UUID.
func parseID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid campaign id")
		return uuid.Nil, false
	}
	return id, true
}

// intParam парсит неотрицательное целое из query.
func intParam(s string, defaultVal int) (int, error) {
	if s == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid integer %q", s)
	}
	return n, nil
}
