package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/shaiso/campaign-orchestrator/internal/domain"
	"github.com/shaiso/campaign-orchestrator/internal/mq"
	"github.com/shaiso/campaign-orchestrator/internal/repo"
)

// --- Test helpers ---

type fakePublisher struct {
	mu        sync.Mutex
	pending   []uuid.UUID
	decisions []mq.DecisionPayload
	err       error
}

func (p *fakePublisher) PublishCampaignPending(_ context.Context, runID uuid.UUID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.pending = append(p.pending, runID)
	return nil
}

func (p *fakePublisher) PublishDecision(_ context.Context, d mq.DecisionPayload) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.decisions = append(p.decisions, d)
	return nil
}

func (p *fakePublisher) published() ([]uuid.UUID, []mq.DecisionPayload) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]uuid.UUID(nil), p.pending...), append([]mq.DecisionPayload(nil), p.decisions...)
}

type testEnv struct {
	runs      *repo.MemoryCampaignRepo
	events    *repo.MemoryEventRepo
	inbox     *repo.MemoryInboxRepo
	publisher *fakePublisher
	server    *httptest.Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	env := &testEnv{
		runs:      repo.NewMemoryCampaignRepo(),
		events:    repo.NewMemoryEventRepo(),
		inbox:     repo.NewMemoryInboxRepo(),
		publisher: &fakePublisher{},
	}
	h := NewHandler(Config{
		Campaigns:     env.runs,
		Events:        env.events,
		Inbox:         env.inbox,
		Publisher:     env.publisher,
		Logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
		WatchInterval: 10 * time.Millisecond,
	})
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	env.server = httptest.NewServer(mux)
	t.Cleanup(env.server.Close)
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, body any) (*http.Response, []byte) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, e.server.URL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	return resp, data
}

// seedRun сохраняет run в заданном состоянии.
func (e *testEnv) seedRun(t *testing.T, mutate func(*domain.CampaignRun)) *domain.CampaignRun {
	t.Helper()

	run := domain.NewCampaignRun(domain.CampaignInput{
		CampaignName: "Spring",
		Budget:       1000,
		Channels:     []string{"email"},
	})
	if err := e.runs.Create(context.Background(), run); err != nil {
		t.Fatalf("create run: %v", err)
	}
	if mutate != nil {
		mutate(run)
		if err := e.runs.Update(context.Background(), run); err != nil {
			t.Fatalf("update run: %v", err)
		}
	}
	return run
}

// queued возвращает все решения run в inbox.
func (e *testEnv) queued(t *testing.T, runID uuid.UUID) []domain.QueuedSignal {
	t.Helper()
	var all []domain.QueuedSignal
	for _, stage := range domain.WorkStages() {
		got, err := e.inbox.Pending(context.Background(), runID, domain.DecisionSignalName(stage), 0)
		if err != nil {
			t.Fatalf("Pending: %v", err)
		}
		all = append(all, got...)
	}
	return all
}

func waitingOn(stage domain.Stage) func(*domain.CampaignRun) {
	return func(r *domain.CampaignRun) {
		r.Status = domain.CampaignStatusRunning
		r.Stage = stage
		r.Attempt = 1
		r.DecisionPending = true
	}
}

func appendEvent(t *testing.T, events *repo.MemoryEventRepo, runID uuid.UUID, key string, typ domain.EventType) {
	t.Helper()
	ev := &domain.Event{RunID: runID, Key: key, Type: typ, CreatedAt: time.Now()}
	if err := events.Append(context.Background(), ev); err != nil {
		t.Fatalf("append %s: %v", key, err)
	}
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
	return out
}

type dataEnvelope[T any] struct {
	Data  T   `json:"data"`
	Total int `json:"total"`
}

// --- StartCampaign ---

func TestStartCampaign(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.do(t, http.MethodPost, "/api/v1/campaigns", map[string]any{
		"campaign_name": " Summer Sale ",
		"budget":        5000,
		"channels":      []string{"Email", "sms", "email"},
		"objectives":    []string{"awareness"},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", resp.StatusCode, body)
	}

	got := decode[dataEnvelope[CampaignResponse]](t, body).Data
	if got.Status != string(domain.CampaignStatusPending) {
		t.Errorf("status = %s, want PENDING", got.Status)
	}
	if got.CurrentStage != string(domain.StageResearch) {
		t.Errorf("current_stage = %s, want research", got.CurrentStage)
	}
	if !strings.HasPrefix(got.CampaignID, "CAMP-") {
		t.Errorf("campaign_id = %q, want generated CAMP- id", got.CampaignID)
	}
	if got.Input == nil || len(got.Input.Channels) != 2 || got.Input.CampaignName != "Summer Sale" {
		t.Errorf("input not normalized: %+v", got.Input)
	}

	stored, err := env.runs.GetByID(context.Background(), got.ID)
	if err != nil {
		t.Fatalf("run not stored: %v", err)
	}
	if stored.CampaignID != got.CampaignID {
		t.Errorf("stored campaign_id = %s, want %s", stored.CampaignID, got.CampaignID)
	}
	pending, _ := env.publisher.published()
	if len(pending) != 1 || pending[0] != got.ID {
		t.Errorf("pending published = %v, want [%s]", pending, got.ID)
	}
}

func TestStartCampaign_Invalid(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name string
		body any
	}{
		{name: "zero budget", body: map[string]any{"budget": 0, "channels": []string{"email"}}},
		{name: "no channels", body: map[string]any{"budget": 10}},
		{name: "unknown channel", body: map[string]any{"budget": 10, "channels": []string{"fax"}}},
		{name: "not json", body: "oops"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := env.do(t, http.MethodPost, "/api/v1/campaigns", tt.body)
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("status = %d, want 400: %s", resp.StatusCode, body)
			}
		})
	}

	if pending, _ := env.publisher.published(); len(pending) != 0 {
		t.Errorf("published %d pending messages for invalid input", len(pending))
	}
}

func TestStartCampaign_PublishFailureStillCreates(t *testing.T) {
	env := newTestEnv(t)
	env.publisher.err = errors.New("broker down")

	resp, body := env.do(t, http.MethodPost, "/api/v1/campaigns", map[string]any{
		"budget":   100,
		"channels": []string{"sms"},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", resp.StatusCode, body)
	}
}

// --- GetStatus / ListCampaigns ---

func TestGetStatus(t *testing.T) {
	env := newTestEnv(t)
	run := env.seedRun(t, func(r *domain.CampaignRun) {
		r.Status = domain.CampaignStatusFailed
		r.Stage = domain.StageFailed
		r.FailedStage = domain.StageCreative
		r.FailureKind = domain.FailureRejected
		r.LastError = "stage creative rejected: off brand"
	})

	resp, body := env.do(t, http.MethodGet, "/api/v1/campaigns/"+run.ID.String(), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", resp.StatusCode, body)
	}
	if resp.Header.Get(RequestIDHeader) == "" {
		t.Error("response has no request id")
	}
	got := decode[dataEnvelope[CampaignResponse]](t, body).Data
	if got.Status != "FAILED" || got.FailedStage != "creative" || got.FailureKind != "rejected" {
		t.Errorf("unexpected status view: %+v", got)
	}
	if got.LastError == "" {
		t.Error("last_error is empty")
	}

	resp, _ = env.do(t, http.MethodGet, "/api/v1/campaigns/"+uuid.NewString(), nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown id: status = %d, want 404", resp.StatusCode)
	}

	resp, _ = env.do(t, http.MethodGet, "/api/v1/campaigns/not-a-uuid", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("invalid id: status = %d, want 400", resp.StatusCode)
	}
}

func TestListCampaigns(t *testing.T) {
	env := newTestEnv(t)
	env.seedRun(t, nil)
	env.seedRun(t, waitingOn(domain.StageCreative))
	env.seedRun(t, waitingOn(domain.StageCreative))

	tests := []struct {
		query      string
		wantStatus int
		wantCount  int
	}{
		{query: "", wantStatus: http.StatusOK, wantCount: 3},
		{query: "?stage=creative", wantStatus: http.StatusOK, wantCount: 2},
		{query: "?stage=creatives&status=running", wantStatus: http.StatusOK, wantCount: 2},
		{query: "?status=PENDING", wantStatus: http.StatusOK, wantCount: 1},
		{query: "?limit=1", wantStatus: http.StatusOK, wantCount: 1},
		{query: "?offset=2", wantStatus: http.StatusOK, wantCount: 1},
		{query: "?stage=launch", wantStatus: http.StatusBadRequest},
		{query: "?status=paused", wantStatus: http.StatusBadRequest},
		{query: "?limit=-1", wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			resp, body := env.do(t, http.MethodGet, "/api/v1/campaigns"+tt.query, nil)
			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("status = %d, want %d: %s", resp.StatusCode, tt.wantStatus, body)
			}
			if tt.wantStatus != http.StatusOK {
				return
			}
			got := decode[dataEnvelope[[]CampaignResponse]](t, body).Data
			if len(got) != tt.wantCount {
				t.Errorf("got %d campaigns, want %d", len(got), tt.wantCount)
			}
		})
	}
}

// --- SendDecision ---

func TestSendDecision(t *testing.T) {
	tests := []struct {
		name       string
		state      func(*domain.CampaignRun)
		body       DecisionRequest
		publishErr error
		wantStatus int
		wantCode   ErrorCode
		wantStage  domain.Stage
		wantDec    domain.Decision
	}{
		{
			name:       "approve waiting stage",
			state:      waitingOn(domain.StageResearch),
			body:       DecisionRequest{Decision: "approve"},
			wantStatus: http.StatusAccepted,
			wantStage:  domain.StageResearch,
			wantDec:    domain.DecisionApproved,
		},
		{
			name:       "request changes with explicit stage alias",
			state:      waitingOn(domain.StageGoLive),
			body:       DecisionRequest{Stage: "go_live", Decision: "request_changes", Feedback: "lower bids"},
			wantStatus: http.StatusAccepted,
			wantStage:  domain.StageGoLive,
			wantDec:    domain.DecisionChangesRequested,
		},
		{
			name:       "unknown decision",
			state:      waitingOn(domain.StageResearch),
			body:       DecisionRequest{Decision: "maybe"},
			wantStatus: http.StatusBadRequest,
			wantCode:   ErrCodeBadRequest,
		},
		{
			name:       "unknown stage",
			state:      waitingOn(domain.StageResearch),
			body:       DecisionRequest{Stage: "done", Decision: "approve"},
			wantStatus: http.StatusBadRequest,
			wantCode:   ErrCodeBadRequest,
		},
		{
			name:       "other stage is waiting",
			state:      waitingOn(domain.StageCreative),
			body:       DecisionRequest{Stage: "research", Decision: "approve"},
			wantStatus: http.StatusConflict,
			wantCode:   ErrCodeNotWaiting,
		},
		{
			name:       "gate not open",
			state:      nil,
			body:       DecisionRequest{Decision: "approve"},
			wantStatus: http.StatusConflict,
			wantCode:   ErrCodeNotWaiting,
		},
		{
			name: "campaign finished",
			state: func(r *domain.CampaignRun) {
				r.Status = domain.CampaignStatusDone
				r.Stage = domain.StageDone
			},
			body:       DecisionRequest{Decision: "reject"},
			wantStatus: http.StatusConflict,
			wantCode:   ErrCodeNotWaiting,
		},
		{
			name:       "explicit current attempt",
			state:      waitingOn(domain.StageCreative),
			body:       DecisionRequest{Attempt: 1, Decision: "approve"},
			wantStatus: http.StatusAccepted,
			wantStage:  domain.StageCreative,
			wantDec:    domain.DecisionApproved,
		},
		{
			name:       "stale attempt",
			state:      waitingOn(domain.StageCreative),
			body:       DecisionRequest{Attempt: 2, Decision: "request_changes"},
			wantStatus: http.StatusConflict,
			wantCode:   ErrCodeNotWaiting,
		},
		{
			name:       "broker unavailable still accepted",
			state:      waitingOn(domain.StageMeasurement),
			body:       DecisionRequest{Decision: "approve"},
			publishErr: errors.New("channel closed"),
			wantStatus: http.StatusAccepted,
			wantStage:  domain.StageMeasurement,
			wantDec:    domain.DecisionApproved,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.publisher.err = tt.publishErr
			run := env.seedRun(t, tt.state)

			resp, body := env.do(t, http.MethodPost, "/api/v1/campaigns/"+run.ID.String()+"/decisions", tt.body)
			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("status = %d, want %d: %s", resp.StatusCode, tt.wantStatus, body)
			}

			queued := env.queued(t, run.ID)
			if tt.wantStatus != http.StatusAccepted {
				got := decode[ErrorResponse](t, body)
				if got.Error.Code != tt.wantCode {
					t.Errorf("code = %s, want %s", got.Error.Code, tt.wantCode)
				}
				if got.Error.RequestID != resp.Header.Get(RequestIDHeader) {
					t.Errorf("request_id = %q, header %q", got.Error.RequestID, resp.Header.Get(RequestIDHeader))
				}
				if len(queued) != 0 {
					t.Errorf("queued %d decisions, want 0", len(queued))
				}
				return
			}

			if len(queued) != 1 {
				t.Fatalf("queued %d decisions, want 1", len(queued))
			}
			if queued[0].Signal.Name != domain.DecisionSignalName(tt.wantStage) {
				t.Errorf("queued signal %q, want decision for %s", queued[0].Signal.Name, tt.wantStage)
			}
			var dp domain.DecisionPayload
			if err := json.Unmarshal(queued[0].Signal.Payload, &dp); err != nil {
				t.Fatalf("queued payload: %v", err)
			}
			want := domain.DecisionPayload{Attempt: 1, Decision: tt.wantDec, Feedback: tt.body.Feedback}
			if diff := cmp.Diff(want, dp); diff != "" {
				t.Errorf("queued payload mismatch (-want +got):\n%s", diff)
			}

			got := decode[dataEnvelope[DecisionResponse]](t, body).Data
			if got.Attempt != 1 || got.Stage != string(tt.wantStage) {
				t.Errorf("response = %+v", got)
			}

			// Публикация только будит оркестратор и не влияет на ответ.
			_, decisions := env.publisher.published()
			if tt.publishErr == nil && len(decisions) != 1 {
				t.Errorf("published %d wake-ups, want 1", len(decisions))
			}
		})
	}
}

// failingInbox не принимает решений.
type failingInbox struct{}

func (failingInbox) Enqueue(context.Context, uuid.UUID, domain.Signal) (domain.QueuedSignal, error) {
	return domain.QueuedSignal{}, errors.New("connection refused")
}

func TestSendDecision_InboxUnavailable(t *testing.T) {
	tests := []struct {
		name       string
		inbox      Inbox
		wantStatus int
		wantCode   ErrorCode
	}{
		{name: "no inbox", inbox: nil, wantStatus: http.StatusServiceUnavailable, wantCode: ErrCodeUnavailable},
		{name: "enqueue fails", inbox: failingInbox{}, wantStatus: http.StatusInternalServerError, wantCode: ErrCodeInternalError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			run := env.seedRun(t, waitingOn(domain.StageResearch))

			h := NewHandler(Config{
				Campaigns: env.runs,
				Events:    env.events,
				Inbox:     tt.inbox,
				Publisher: env.publisher,
				Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
			})
			mux := http.NewServeMux()
			h.RegisterRoutes(mux)
			srv := httptest.NewServer(mux)
			defer srv.Close()

			data, _ := json.Marshal(DecisionRequest{Decision: "approve"})
			resp, err := http.Post(srv.URL+"/api/v1/campaigns/"+run.ID.String()+"/decisions", "application/json", bytes.NewReader(data))
			if err != nil {
				t.Fatalf("POST: %v", err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
			var got ErrorResponse
			if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if got.Error.Code != tt.wantCode {
				t.Errorf("code = %s, want %s", got.Error.Code, tt.wantCode)
			}
			if _, decisions := env.publisher.published(); len(decisions) != 0 {
				t.Errorf("published %d wake-ups for an unqueued decision", len(decisions))
			}
		})
	}
}

func TestSendDecision_UnknownCampaign(t *testing.T) {
	env := newTestEnv(t)

	resp, _ := env.do(t, http.MethodPost, "/api/v1/campaigns/"+uuid.NewString()+"/decisions", DecisionRequest{Decision: "approve"})
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

// --- Events / Watch ---

func TestListEvents(t *testing.T) {
	env := newTestEnv(t)
	run := env.seedRun(t, nil)
	appendEvent(t, env.events, run.ID, "started", domain.EventCampaignStarted)
	appendEvent(t, env.events, run.ID, "research/entered", domain.EventStageEntered)
	appendEvent(t, env.events, run.ID, "research/1/attempt", domain.EventAttemptStarted)

	resp, body := env.do(t, http.MethodGet, "/api/v1/campaigns/"+run.ID.String()+"/events", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d: %s", resp.StatusCode, body)
	}
	all := decode[dataEnvelope[[]EventResponse]](t, body).Data
	if len(all) != 3 || all[0].Type != string(domain.EventCampaignStarted) {
		t.Fatalf("events = %+v", all)
	}

	path := "/api/v1/campaigns/" + run.ID.String() + "/events?after=" + jsonInt(all[0].Seq)
	_, body = env.do(t, http.MethodGet, path, nil)
	tail := decode[dataEnvelope[[]EventResponse]](t, body).Data
	if len(tail) != 2 || tail[0].Key != "research/entered" {
		t.Errorf("events after %d = %+v", all[0].Seq, tail)
	}

	resp, _ = env.do(t, http.MethodGet, "/api/v1/campaigns/"+uuid.NewString()+"/events", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown run: status = %d, want 404", resp.StatusCode)
	}
}

func TestWatchCampaign(t *testing.T) {
	env := newTestEnv(t)
	run := env.seedRun(t, waitingOn(domain.StageResearch))
	appendEvent(t, env.events, run.ID, "started", domain.EventCampaignStarted)

	url := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/api/v1/campaigns/" + run.ID.String() + "/watch"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	if resp.StatusCode != http.StatusSwitchingProtocols {
		t.Fatalf("handshake status = %d", resp.StatusCode)
	}
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var first EventResponse
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("read first event: %v", err)
	}
	if first.Type != string(domain.EventCampaignStarted) {
		t.Errorf("first event = %s, want campaign.started", first.Type)
	}

	// Новые события приходят без переподключения.
	appendEvent(t, env.events, run.ID, "research/entered", domain.EventStageEntered)
	appendEvent(t, env.events, run.ID, "completed", domain.EventCampaignCompleted)

	var types []string
	for {
		var ev EventResponse
		err := conn.ReadJSON(&ev)
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				t.Fatalf("stream ended with %v, want normal closure", err)
			}
			break
		}
		types = append(types, ev.Type)
	}

	want := []string{string(domain.EventStageEntered), string(domain.EventCampaignCompleted)}
	if strings.Join(types, ",") != strings.Join(want, ",") {
		t.Errorf("streamed %v, want %v", types, want)
	}
}

func TestWatchCampaign_UnknownRun(t *testing.T) {
	env := newTestEnv(t)

	url := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/api/v1/campaigns/" + uuid.NewString() + "/watch"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("dial succeeded for unknown run")
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Errorf("handshake response = %v, want 404", resp)
	}
}

func jsonInt(n int64) string {
	data, _ := json.Marshal(n)
	return string(data)
}
