package telemetry

import (
	"encoding/json"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/shaiso/campaign-orchestrator/internal/domain"
)

// Metrics — Prometheus метрики кампаний.
//
// Счётчики обновляются из событий истории (ObserveEvent), поэтому
// метрики совпадают с тем, что записано в журнал.
type Metrics struct {
	runsStarted   prometheus.Counter
	runsFinished  *prometheus.CounterVec
	stageAttempts *prometheus.CounterVec
	stepOutcomes  *prometheus.CounterVec
	stepAttempts  prometheus.Histogram
	gateDecisions *prometheus.CounterVec
	activeRuns    prometheus.Gauge
}

// NewMetrics регистрирует метрики в reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		runsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "campaign_runs_started_total",
			Help: "Total number of campaign runs started",
		}),
		runsFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "campaign_runs_finished_total",
			Help: "Total number of campaign runs finished",
		}, []string{"status"}),
		stageAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "campaign_stage_attempts_total",
			Help: "Total number of stage attempts (including reruns)",
		}, []string{"stage"}),
		stepOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "campaign_step_outcomes_total",
			Help: "Total number of step outcomes",
		}, []string{"stage", "outcome"}),
		stepAttempts: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "campaign_step_attempts",
			Help:    "Attempts spent per step",
			Buckets: []float64{1, 2, 3, 5, 8},
		}),
		gateDecisions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "campaign_gate_decisions_total",
			Help: "Total number of approval gate outcomes",
		}, []string{"stage", "decision"}),
		activeRuns: factory.NewGauge(prometheus.GaugeOpts{
			Name: "campaign_active_runs",
			Help: "Number of runs executing on this instance",
		}),
	}
}

// ObserveEvent обновляет метрики по записанному событию.
func (m *Metrics) ObserveEvent(ev domain.Event) {
	if m == nil {
		return
	}

	stage := string(ev.Stage)

	switch ev.Type {
	case domain.EventCampaignStarted:
		m.runsStarted.Inc()

	case domain.EventCampaignCompleted:
		m.runsFinished.WithLabelValues(string(domain.CampaignStatusDone)).Inc()

	case domain.EventCampaignFailed:
		m.runsFinished.WithLabelValues(string(domain.CampaignStatusFailed)).Inc()

	case domain.EventAttemptStarted:
		m.stageAttempts.WithLabelValues(stage).Inc()

	case domain.EventStepCompleted, domain.EventStepFailed:
		outcome := "completed"
		if ev.Type == domain.EventStepFailed {
			outcome = "failed"
		}
		m.stepOutcomes.WithLabelValues(stage, outcome).Inc()

		var rec domain.StepRecord
		if err := ev.Decode(&rec); err == nil && rec.Attempts > 0 {
			m.stepAttempts.Observe(float64(rec.Attempts))
		}

	case domain.EventSignalReceived:
		var rec domain.SignalRecord
		if err := ev.Decode(&rec); err != nil {
			return
		}
		var d domain.DecisionPayload
		if err := json.Unmarshal(rec.Payload, &d); err != nil {
			return
		}
		m.gateDecisions.WithLabelValues(stage, string(d.Decision)).Inc()

	case domain.EventSignalTimedOut:
		m.gateDecisions.WithLabelValues(stage, string(domain.GateTimedOut)).Inc()
	}
}

// SetActiveRuns выставляет число активных runs.
func (m *Metrics) SetActiveRuns(n int) {
	if m == nil {
		return
	}
	m.activeRuns.Set(float64(n))
}
