package domain

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
)

// --- Status Tests ---

func TestCampaignStatus_IsTerminal(t *testing.T) {
	tests := []struct {
		status CampaignStatus
		want   bool
	}{
		{CampaignStatusPending, false},
		{CampaignStatusRunning, false},
		{CampaignStatusDone, true},
		{CampaignStatusFailed, true},
	}

	for _, tt := range tests {
		if got := tt.status.IsTerminal(); got != tt.want {
			t.Errorf("%s.IsTerminal() = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestParseDecision(t *testing.T) {
	tests := []struct {
		in   string
		want Decision
	}{
		{"approve", DecisionApproved},
		{"REJECT", DecisionRejected},
		{" request_changes ", DecisionChangesRequested},
		{"feedback", DecisionChangesRequested},
	}

	for _, tt := range tests {
		got, err := ParseDecision(tt.in)
		if err != nil {
			t.Fatalf("ParseDecision(%q) error: %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ParseDecision(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}

	if _, err := ParseDecision("maybe"); !errors.Is(err, ErrUnknownDecision) {
		t.Errorf("expected ErrUnknownDecision, got %v", err)
	}
	if _, err := ParseDecision("pending"); !errors.Is(err, ErrUnknownDecision) {
		t.Errorf("pending must not be accepted from outside, got %v", err)
	}
}

func TestParseStage_Aliases(t *testing.T) {
	for in, want := range map[string]Stage{
		"research":     StageResearch,
		"Creative":     StageCreative,
		"go_live":      StageGoLive,
		"measurements": StageMeasurement,
	} {
		got, ok := ParseStage(in)
		if !ok || got != want {
			t.Errorf("ParseStage(%q) = %q, %v; want %q", in, got, ok, want)
		}
	}

	if _, ok := ParseStage("launch"); ok {
		t.Error("expected unknown stage to be rejected")
	}
}

// --- Input Tests ---

func TestCampaignInput_Validate(t *testing.T) {
	valid := CampaignInput{Budget: 100000, Channels: []string{"email", "sms"}}
	if err := valid.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tests := []struct {
		name  string
		input CampaignInput
	}{
		{"zero budget", CampaignInput{Channels: []string{"email"}}},
		{"no channels", CampaignInput{Budget: 10}},
		{"unknown channel", CampaignInput{Budget: 10, Channels: []string{"fax"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.input.Validate(); !errors.Is(err, ErrInvalidInput) {
				t.Errorf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
}

func TestCampaignInput_Normalize(t *testing.T) {
	in := CampaignInput{Channels: []string{" Email", "sms", "email", ""}}
	in.Normalize()

	if diff := cmp.Diff([]string{"email", "sms"}, in.Channels); diff != "" {
		t.Errorf("channels mismatch (-want +got):\n%s", diff)
	}
}

// --- RetryPolicy Tests ---

func TestRetryPolicy_Merge(t *testing.T) {
	base := DefaultRetryPolicy()
	merged := base.Merge(RetryPolicy{AttemptTimeout: 10 * time.Minute, MaxAttempts: 5})

	want := base
	want.AttemptTimeout = 10 * time.Minute
	want.MaxAttempts = 5

	if diff := cmp.Diff(want, merged); diff != "" {
		t.Errorf("merge mismatch (-want +got):\n%s", diff)
	}
}

func TestRetryPolicy_Validate(t *testing.T) {
	if err := DefaultRetryPolicy().Validate(); err != nil {
		t.Fatalf("default policy invalid: %v", err)
	}
	if err := (RetryPolicy{}).Validate(); !errors.Is(err, ErrInvalidPolicy) {
		t.Errorf("expected ErrInvalidPolicy for zero attempts, got %v", err)
	}
	if err := (RetryPolicy{MaxAttempts: 1, BackoffMultiplier: 0.5}).Validate(); !errors.Is(err, ErrInvalidPolicy) {
		t.Errorf("expected ErrInvalidPolicy for multiplier < 1, got %v", err)
	}
}

// --- Projection Tests ---

func event(t *testing.T, typ EventType, stage Stage, attempt int, payload any) Event {
	t.Helper()
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		raw = b
	}
	return Event{Type: typ, Stage: stage, Attempt: attempt, Payload: raw, CreatedAt: time.Now()}
}

func TestCampaignRun_ProjectChangesRequested(t *testing.T) {
	run := NewCampaignRun(CampaignInput{Budget: 1, Channels: []string{"sms"}})

	sig := NewDecisionSignal(StageResearch, 1, DecisionChangesRequested, "shorten copy")
	run.Project([]Event{
		event(t, EventCampaignStarted, "", 0, nil),
		event(t, EventStageEntered, StageResearch, 0, nil),
		event(t, EventAttemptStarted, StageResearch, 1, AttemptStartedPayload{}),
		event(t, EventGateOpened, StageResearch, 1, GateOpenedPayload{}),
	})

	if !run.DecisionPending {
		t.Fatal("expected decision pending after gate.opened")
	}
	if stage, ok := run.WaitingOn(); !ok || stage != StageResearch {
		t.Fatalf("WaitingOn() = %q, %v", stage, ok)
	}

	run.Apply(event(t, EventSignalReceived, StageResearch, 1, SignalRecord{Name: sig.Name, Payload: sig.Payload}))

	st := run.Stages[StageResearch]
	if st.Decision != DecisionChangesRequested || st.Feedback != "shorten copy" {
		t.Fatalf("unexpected stage state: %+v", st)
	}
	if st.Phase != PhaseRerunning {
		t.Errorf("phase = %s, want RERUNNING", st.Phase)
	}

	// Новая попытка сбрасывает решение в PENDING.
	run.Apply(event(t, EventAttemptStarted, StageResearch, 2, AttemptStartedPayload{Feedback: "shorten copy"}))
	if st.Decision != DecisionPending {
		t.Errorf("decision = %s, want PENDING", st.Decision)
	}
	if run.Attempt != 2 || st.Attempt != 2 {
		t.Errorf("attempt = %d/%d, want 2", run.Attempt, st.Attempt)
	}
}

func TestCampaignRun_ProjectFailure(t *testing.T) {
	run := NewCampaignRun(CampaignInput{Budget: 1, Channels: []string{"sms"}})

	run.Project([]Event{
		event(t, EventCampaignStarted, "", 0, nil),
		event(t, EventStageEntered, StageCreative, 0, nil),
		event(t, EventAttemptStarted, StageCreative, 1, nil),
		event(t, EventSubTaskCompleted, StageCreative, 1, SubTaskResult{Name: "sms", Output: json.RawMessage(`{}`)}),
		event(t, EventSubTaskFailed, StageCreative, 1, SubTaskResult{Name: "video", Error: "boom"}),
		event(t, EventStageFailed, StageCreative, 1, StageFailedPayload{Kind: FailurePartial, Error: "partial"}),
		event(t, EventCampaignFailed, "", 0, CampaignFailedPayload{Stage: StageCreative, Attempt: 1, Kind: FailurePartial, Error: "partial"}),
	})

	if run.Status != CampaignStatusFailed || run.Stage != StageFailed {
		t.Fatalf("status/stage = %s/%s", run.Status, run.Stage)
	}
	if run.FailedStage != StageCreative || run.FailureKind != FailurePartial {
		t.Errorf("failed stage/kind = %s/%s", run.FailedStage, run.FailureKind)
	}
	if run.FinishedAt == nil {
		t.Error("expected FinishedAt")
	}

	subs := run.Stages[StageCreative].SubResults
	if len(subs) != 2 || !subs["video"].Failed() || subs["sms"].Failed() {
		t.Errorf("unexpected sub results: %+v", subs)
	}
}

func TestCampaignRun_ProjectTimeout(t *testing.T) {
	run := NewCampaignRun(CampaignInput{Budget: 1, Channels: []string{"sms"}})
	run.Project([]Event{
		event(t, EventStageEntered, StageResearch, 0, nil),
		event(t, EventAttemptStarted, StageResearch, 1, nil),
		event(t, EventGateOpened, StageResearch, 1, nil),
		event(t, EventSignalTimedOut, StageResearch, 1, SignalRecord{Name: DecisionSignalName(StageResearch)}),
	})

	st := run.Stages[StageResearch]
	if st.Gate != GateTimedOut || st.Decision != DecisionRejected || st.Feedback != TimeoutFeedback {
		t.Errorf("unexpected stage state after timeout: %+v", st)
	}
	if run.DecisionPending {
		t.Error("decision must not be pending after timeout")
	}
}

func TestNewCampaignRun_GeneratesCampaignID(t *testing.T) {
	run := NewCampaignRun(CampaignInput{})
	if run.CampaignID == "" || run.ID == uuid.Nil {
		t.Fatalf("expected generated ids, got %q / %s", run.CampaignID, run.ID)
	}
	if run.Input.CampaignID != run.CampaignID {
		t.Errorf("input campaign id %q != %q", run.Input.CampaignID, run.CampaignID)
	}
}
