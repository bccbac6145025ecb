package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/shaiso/campaign-orchestrator/internal/domain"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"DEBUG": slog.LevelDebug,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
		"":      slog.LevelInfo,
		"bogus": slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNewLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := WithStage(NewLogger(&buf, "info", "json"), domain.StageCreative)
	logger.Debug("hidden")
	logger.Info("visible", "attempt", 2)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d: %s", len(lines), buf.String())
	}

	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("not JSON: %v", err)
	}
	if rec["stage"] != "creative" || rec["msg"] != "visible" {
		t.Errorf("record = %v", rec)
	}
}

func TestFromContext(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	ctx := WithLogger(context.Background(), logger)
	if FromContext(ctx) != logger {
		t.Error("logger from context mismatch")
	}
	if FromContext(context.Background()) != slog.Default() {
		t.Error("expected default logger")
	}
}

func event(t *testing.T, typ domain.EventType, stage domain.Stage, payload any) domain.Event {
	t.Helper()
	ev := domain.Event{Type: typ, Stage: stage}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatal(err)
		}
		ev.Payload = raw
	}
	return ev
}

func TestMetrics_ObserveEvent(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	decision := domain.NewDecisionSignal(domain.StageCreative, 1, domain.DecisionChangesRequested, "shorter")

	m.ObserveEvent(event(t, domain.EventCampaignStarted, "", nil))
	m.ObserveEvent(event(t, domain.EventAttemptStarted, domain.StageCreative, nil))
	m.ObserveEvent(event(t, domain.EventAttemptStarted, domain.StageCreative, nil))
	m.ObserveEvent(event(t, domain.EventStepCompleted, domain.StageCreative, domain.StepRecord{Step: "sms_generation", Attempts: 3}))
	m.ObserveEvent(event(t, domain.EventStepFailed, domain.StageCreative, domain.StepRecord{Step: "video_generation", Attempts: 3}))
	m.ObserveEvent(event(t, domain.EventSignalReceived, domain.StageCreative, domain.SignalRecord{Name: decision.Name, Payload: decision.Payload}))
	m.ObserveEvent(event(t, domain.EventSignalTimedOut, domain.StageResearch, domain.SignalRecord{Name: "decision/research"}))
	m.ObserveEvent(event(t, domain.EventCampaignFailed, "", domain.CampaignFailedPayload{Stage: domain.StageCreative}))
	m.SetActiveRuns(4)

	if got := testutil.ToFloat64(m.runsStarted); got != 1 {
		t.Errorf("runs started = %v", got)
	}
	if got := testutil.ToFloat64(m.stageAttempts.WithLabelValues("creative")); got != 2 {
		t.Errorf("creative attempts = %v", got)
	}
	if got := testutil.ToFloat64(m.stepOutcomes.WithLabelValues("creative", "failed")); got != 1 {
		t.Errorf("failed steps = %v", got)
	}
	if got := testutil.ToFloat64(m.gateDecisions.WithLabelValues("creative", "CHANGES_REQUESTED")); got != 1 {
		t.Errorf("changes requested = %v", got)
	}
	if got := testutil.ToFloat64(m.gateDecisions.WithLabelValues("research", "TIMED_OUT")); got != 1 {
		t.Errorf("timed out = %v", got)
	}
	if got := testutil.ToFloat64(m.runsFinished.WithLabelValues("FAILED")); got != 1 {
		t.Errorf("failed runs = %v", got)
	}
	if got := testutil.ToFloat64(m.activeRuns); got != 4 {
		t.Errorf("active runs = %v", got)
	}
	if n := testutil.CollectAndCount(m.stepAttempts); n != 1 {
		t.Errorf("step attempts histogram series = %d", n)
	}
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.ObserveEvent(domain.Event{Type: domain.EventCampaignStarted})
	m.SetActiveRuns(1)
}
