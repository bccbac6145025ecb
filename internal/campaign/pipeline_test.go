package campaign

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/shaiso/campaign-orchestrator/internal/activities"
	"github.com/shaiso/campaign-orchestrator/internal/config"
	"github.com/shaiso/campaign-orchestrator/internal/domain"
	"github.com/shaiso/campaign-orchestrator/internal/engine"
	"github.com/shaiso/campaign-orchestrator/internal/flow"
	"github.com/shaiso/campaign-orchestrator/internal/repo"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// --- Helpers ---

const fastPipeline = `
defaults:
  retry:
    max_attempts: 3
    initial_backoff: 1ms
    backoff_multiplier: 2
    max_backoff: 5ms
    attempt_timeout: 1s
`

const researchTimeoutPipeline = fastPipeline + `
stages:
  research:
    approval_timeout: 50ms
`

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newPipeline(t *testing.T, yml string, override func(*Activities)) *Pipeline {
	t.Helper()
	policies, err := config.ParsePipeline([]byte(yml))
	if err != nil {
		t.Fatalf("ParsePipeline: %v", err)
	}
	acts := Bind(activities.New(activities.Config{Logger: discardLogger()}))
	if override != nil {
		override(&acts)
	}
	return New(Config{Activities: acts, Policies: policies, Logger: discardLogger()})
}

func loadRuntime(t *testing.T, store *repo.MemoryEventRepo, runID uuid.UUID) *engine.Runtime {
	t.Helper()
	rt, err := engine.Load(context.Background(), runID, store, engine.WithLogger(discardLogger()))
	if err != nil {
		t.Fatalf("engine.Load: %v", err)
	}
	return rt
}

// testInput — типичная кампания: budget 100000, каналы email и sms.
func testInput() domain.CampaignInput {
	return domain.CampaignInput{
		CampaignID:   "CAMP-2025-001",
		CampaignName: "Spring Launch",
		TargetAudience: domain.Audience{
			Demographics: "25-34",
			Interests:    []string{"fitness"},
		},
		Budget:     100000,
		Objectives: []string{"awareness"},
		Channels:   []string{domain.ChannelEmail, domain.ChannelSMS},
	}
}

// decideFunc выбирает решение для n-го gate run.
type decideFunc func(stage domain.Stage, n int) (domain.Decision, string)

func approveAll(domain.Stage, int) (domain.Decision, string) {
	return domain.DecisionApproved, ""
}

// waitGate ждёт, пока откроется n-й gate run, и возвращает его стадию
// и попытку.
func waitGate(t *testing.T, store *repo.MemoryEventRepo, rt *engine.Runtime, n int, done <-chan struct{}) (domain.Stage, int, bool) {
	for {
		if store.Count(rt.RunID(), domain.EventGateOpened) >= n {
			for _, name := range rt.Waiting() {
				if stage, ok := domain.DecisionSignalStage(name); ok {
					return stage, nthGateAttempt(t, store, rt.RunID(), n), true
				}
			}
		}
		select {
		case <-done:
			return "", 0, false
		case <-time.After(time.Millisecond):
		}
	}
}

// nthGateAttempt возвращает попытку n-го gate.opened. Вызывается из
// горутин ревьюера, поэтому без t.Fatal.
func nthGateAttempt(t *testing.T, store *repo.MemoryEventRepo, runID uuid.UUID, n int) int {
	events, err := store.Load(context.Background(), runID)
	if err != nil {
		t.Errorf("Load: %v", err)
		return 0
	}
	seen := 0
	for _, ev := range events {
		if ev.Type != domain.EventGateOpened {
			continue
		}
		if seen++; seen == n {
			return ev.Attempt
		}
	}
	t.Errorf("gate #%d not recorded", n)
	return 0
}

// startReviewer отвечает на gates, начиная с (from+1)-го. Возвращает stop.
func startReviewer(t *testing.T, store *repo.MemoryEventRepo, rt *engine.Runtime, from int, decide decideFunc) func() {
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for n := from + 1; ; n++ {
			stage, attempt, ok := waitGate(t, store, rt, n, done)
			if !ok {
				return
			}
			decision, feedback := decide(stage, n)
			if err := rt.Signal(domain.NewDecisionSignal(stage, attempt, decision, feedback)); err != nil {
				t.Errorf("Signal(%s): %v", stage, err)
				return
			}
		}
	}()
	return func() {
		close(done)
		wg.Wait()
	}
}

func counted[I, O any](calls *atomic.Int32, act flow.Activity[I, O]) flow.Activity[I, O] {
	return func(ctx context.Context, in I) (O, error) {
		calls.Add(1)
		return act(ctx, in)
	}
}

// --- Tests ---

func TestPipeline_ApproveAll(t *testing.T) {
	store := repo.NewMemoryEventRepo()
	rt := loadRuntime(t, store, uuid.New())
	p := newPipeline(t, fastPipeline, nil)

	stop := startReviewer(t, store, rt, 0, approveAll)
	res, err := p.Run(context.Background(), rt, testInput())
	stop()
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := len(res.Outputs()); got != 4 {
		t.Errorf("outputs = %d, want 4", got)
	}
	if res.RunID != rt.RunID() || res.CampaignID != "CAMP-2025-001" {
		t.Errorf("result ids = %s/%s", res.RunID, res.CampaignID)
	}
	if len(res.Creative.Assets) != 4 {
		t.Errorf("assets = %d, want 4", len(res.Creative.Assets))
	}
	if res.GoLive.Deployment == nil || res.GoLive.Deployment.DeploymentID != "DEP-CAMP-2025-001" {
		t.Errorf("deployment = %+v", res.GoLive.Deployment)
	}
	if res.Measurement.DeploymentID != "DEP-CAMP-2025-001" {
		t.Errorf("measurement deployment = %q", res.Measurement.DeploymentID)
	}
	if res.Measurement.Retrieval == nil {
		t.Error("retrieval must run after measurement approval")
	}
	for _, out := range []int{res.Research.Attempts, res.Creative.Attempts, res.GoLive.Attempts, res.Measurement.Attempts} {
		if out != 1 {
			t.Errorf("attempts = %d, want 1", out)
		}
	}

	if n := store.Count(rt.RunID(), domain.EventGateOpened); n != 4 {
		t.Errorf("gates opened = %d, want 4", n)
	}
	if n := store.Count(rt.RunID(), domain.EventCampaignCompleted); n != 1 {
		t.Errorf("campaign.completed = %d, want 1", n)
	}

	history, err := store.Load(context.Background(), rt.RunID())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(history) == 0 || history[0].Type != domain.EventCampaignStarted {
		t.Fatalf("history does not start with campaign.started")
	}
	var started domain.CampaignStartedPayload
	if err := history[0].Decode(&started); err != nil {
		t.Fatalf("campaign.started payload: %v", err)
	}
	if started.Input.Budget != 100000 {
		t.Errorf("recorded budget = %v, want 100000", started.Input.Budget)
	}
	if diff := cmp.Diff([]string{domain.ChannelEmail, domain.ChannelSMS}, started.Input.Channels); diff != "" {
		t.Errorf("recorded channels mismatch (-want +got):\n%s", diff)
	}
}

func TestPipeline_RejectStopsCampaign(t *testing.T) {
	store := repo.NewMemoryEventRepo()
	rt := loadRuntime(t, store, uuid.New())

	var golive atomic.Int32
	p := newPipeline(t, fastPipeline, func(a *Activities) {
		a.PrepareMediaPlan = counted(&golive, a.PrepareMediaPlan)
	})

	stop := startReviewer(t, store, rt, 0, func(stage domain.Stage, _ int) (domain.Decision, string) {
		if stage == domain.StageCreative {
			return domain.DecisionRejected, "off brand"
		}
		return domain.DecisionApproved, ""
	})
	_, err := p.Run(context.Background(), rt, testInput())
	stop()

	var failed *FailedError
	if !errors.As(err, &failed) {
		t.Fatalf("expected *FailedError, got %v", err)
	}
	if !errors.Is(err, ErrCampaignFailed) || !errors.Is(err, flow.ErrStageRejected) {
		t.Errorf("error chain = %v", err)
	}
	if failed.Stage != domain.StageCreative || failed.Kind != domain.FailureRejected {
		t.Errorf("failed = %+v", failed)
	}
	if golive.Load() != 0 {
		t.Errorf("golive activities called %d times after rejection", golive.Load())
	}
	if n := store.Count(rt.RunID(), domain.EventCampaignFailed); n != 1 {
		t.Errorf("campaign.failed = %d, want 1", n)
	}
}

func TestPipeline_FlakyStepRetried(t *testing.T) {
	store := repo.NewMemoryEventRepo()
	rt := loadRuntime(t, store, uuid.New())

	var calls atomic.Int32
	p := newPipeline(t, fastPipeline, func(a *Activities) {
		sms := a.GenerateSMS
		a.GenerateSMS = func(ctx context.Context, brief domain.CreativeBrief) (domain.CreativeAsset, error) {
			if calls.Add(1) < 3 {
				return domain.CreativeAsset{}, errors.New("sms gateway unavailable")
			}
			return sms(ctx, brief)
		}
	})

	stop := startReviewer(t, store, rt, 0, approveAll)
	res, err := p.Run(context.Background(), rt, testInput())
	stop()
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("sms called %d times, want 3", calls.Load())
	}
	if res.Creative.Assets[domain.CreativeSMS].Content == "" {
		t.Error("sms asset missing")
	}
}

func TestPipeline_ChangesRequestedRerunsStage(t *testing.T) {
	store := repo.NewMemoryEventRepo()
	rt := loadRuntime(t, store, uuid.New())

	var prepare atomic.Int32
	p := newPipeline(t, fastPipeline, func(a *Activities) {
		a.PrepareCreativeInputs = counted(&prepare, a.PrepareCreativeInputs)
	})

	creativeGates := 0
	stop := startReviewer(t, store, rt, 0, func(stage domain.Stage, _ int) (domain.Decision, string) {
		if stage == domain.StageCreative {
			creativeGates++
			if creativeGates == 1 {
				return domain.DecisionChangesRequested, "shorten copy"
			}
		}
		return domain.DecisionApproved, "ok"
	})
	res, err := p.Run(context.Background(), rt, testInput())
	stop()
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if prepare.Load() != 2 {
		t.Errorf("prepare_creative_inputs called %d times, want 2", prepare.Load())
	}
	if res.Creative.Attempts != 2 {
		t.Errorf("creative attempts = %d, want 2", res.Creative.Attempts)
	}
	if res.Creative.ApprovalFeedback != "ok" {
		t.Errorf("approval feedback = %q", res.Creative.ApprovalFeedback)
	}
	sms := res.Creative.Assets[domain.CreativeSMS].Content
	if !strings.Contains(sms, "[revised: shorten copy]") {
		t.Errorf("sms = %q, want revision feedback", sms)
	}
	if res.Research.Attempts != 1 {
		t.Errorf("research attempts = %d, want 1", res.Research.Attempts)
	}
}

func TestPipeline_ResumeAfterCrash(t *testing.T) {
	store := repo.NewMemoryEventRepo()
	runID := uuid.New()

	var compile, prepare atomic.Int32
	p := newPipeline(t, fastPipeline, func(a *Activities) {
		a.CompileResearchInput = counted(&compile, a.CompileResearchInput)
		a.PrepareCreativeInputs = counted(&prepare, a.PrepareCreativeInputs)
	})

	// Первый процесс: research одобрен, процесс останавливается на gate creative.
	ctx, cancel := context.WithCancel(context.Background())
	rt := loadRuntime(t, store, runID)
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, attempt, ok := waitGate(t, store, rt, 1, done)
		if !ok {
			return
		}
		if err := rt.Signal(domain.NewDecisionSignal(domain.StageResearch, attempt, domain.DecisionApproved, "")); err != nil {
			t.Errorf("Signal: %v", err)
		}
		if _, _, ok := waitGate(t, store, rt, 2, done); ok {
			cancel()
		}
	}()

	_, err := p.Run(ctx, rt, testInput())
	close(done)
	wg.Wait()
	cancel()
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if store.Count(runID, domain.EventCampaignFailed) != 0 {
		t.Fatal("shutdown must not fail the campaign")
	}

	// Второй процесс продолжает по истории.
	rt2 := loadRuntime(t, store, runID)
	stop := startReviewer(t, store, rt2, 1, approveAll)
	res, err := p.Run(context.Background(), rt2, testInput())
	stop()
	if err != nil {
		t.Fatalf("resumed Run: %v", err)
	}

	if compile.Load() != 1 {
		t.Errorf("compile_research_input called %d times, want 1", compile.Load())
	}
	if prepare.Load() != 1 {
		t.Errorf("prepare_creative_inputs called %d times, want 1", prepare.Load())
	}
	if n := store.Count(runID, domain.EventGateOpened); n != 4 {
		t.Errorf("gates opened = %d, want 4", n)
	}
	if res.Measurement.Retrieval == nil {
		t.Error("resumed run did not finish")
	}
}

func TestPipeline_PartialFailure(t *testing.T) {
	store := repo.NewMemoryEventRepo()
	rt := loadRuntime(t, store, uuid.New())

	var sms, video atomic.Int32
	p := newPipeline(t, fastPipeline, func(a *Activities) {
		a.GenerateSMS = counted(&sms, a.GenerateSMS)
		a.GenerateVideo = func(context.Context, domain.CreativeBrief) (domain.CreativeAsset, error) {
			video.Add(1)
			return domain.CreativeAsset{}, errors.New("render farm down")
		}
	})

	stop := startReviewer(t, store, rt, 0, approveAll)
	_, err := p.Run(context.Background(), rt, testInput())
	stop()

	var failed *FailedError
	if !errors.As(err, &failed) {
		t.Fatalf("expected *FailedError, got %v", err)
	}
	if failed.Stage != domain.StageCreative || failed.Kind != domain.FailurePartial {
		t.Errorf("failed = %+v", failed)
	}
	var partial *flow.PartialFailureError
	if !errors.As(err, &partial) {
		t.Fatalf("expected *PartialFailureError in chain, got %v", err)
	}
	if len(partial.Failed) != 1 || partial.Failed[0] != domain.CreativeVideo {
		t.Errorf("failed subtasks = %v", partial.Failed)
	}
	if video.Load() != 3 {
		t.Errorf("video called %d times, want 3", video.Load())
	}
	if sms.Load() != 1 {
		t.Errorf("sms called %d times, want 1", sms.Load())
	}
	if n := store.Count(rt.RunID(), domain.EventGateOpened); n != 1 {
		t.Errorf("gates opened = %d, want 1 (creative gate must not open)", n)
	}
}

func TestPipeline_ApprovalTimeout(t *testing.T) {
	store := repo.NewMemoryEventRepo()
	rt := loadRuntime(t, store, uuid.New())
	p := newPipeline(t, researchTimeoutPipeline, nil)

	_, err := p.Run(context.Background(), rt, testInput())

	var failed *FailedError
	if !errors.As(err, &failed) {
		t.Fatalf("expected *FailedError, got %v", err)
	}
	if failed.Stage != domain.StageResearch || failed.Kind != domain.FailureTimeout {
		t.Errorf("failed = %+v", failed)
	}
	if n := store.Count(rt.RunID(), domain.EventSignalTimedOut); n != 1 {
		t.Errorf("signal.timed_out = %d, want 1", n)
	}
}

// Расхождение истории с кодом завершает кампанию, а не оставляет её
// RUNNING для бесконечных перезапусков.
func TestPipeline_HistoryMismatchFailsCampaign(t *testing.T) {
	store := repo.NewMemoryEventRepo()
	runID := uuid.New()
	foreign := &domain.Event{
		RunID:     runID,
		Key:       "research/attempt-1/decision",
		Type:      domain.EventStepCompleted,
		Stage:     domain.StageResearch,
		Attempt:   1,
		Payload:   []byte(`{}`),
		CreatedAt: time.Now(),
	}
	if err := store.Append(context.Background(), foreign); err != nil {
		t.Fatalf("Append: %v", err)
	}

	rt := loadRuntime(t, store, runID)
	p := newPipeline(t, fastPipeline, nil)

	_, err := p.Run(context.Background(), rt, testInput())

	var failed *FailedError
	if !errors.As(err, &failed) {
		t.Fatalf("expected *FailedError, got %v", err)
	}
	if failed.Stage != domain.StageResearch || failed.Kind != domain.FailureHistoryMismatch {
		t.Errorf("failed = %+v", failed)
	}
	if !errors.Is(err, engine.ErrHistoryMismatch) {
		t.Errorf("error chain lost ErrHistoryMismatch: %v", err)
	}
	if n := store.Count(runID, domain.EventCampaignFailed); n != 1 {
		t.Errorf("campaign.failed = %d, want 1", n)
	}
}

func TestPipeline_InvalidInput(t *testing.T) {
	store := repo.NewMemoryEventRepo()
	rt := loadRuntime(t, store, uuid.New())
	p := newPipeline(t, fastPipeline, nil)

	in := testInput()
	in.Budget = 0
	_, err := p.Run(context.Background(), rt, in)

	var failed *FailedError
	if !errors.As(err, &failed) {
		t.Fatalf("expected *FailedError, got %v", err)
	}
	if failed.Stage != domain.StageResearch || failed.Kind != domain.FailureInvalidInput {
		t.Errorf("failed = %+v", failed)
	}
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("error chain lost ErrInvalidInput: %v", err)
	}
}
