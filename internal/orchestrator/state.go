package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/campaign-orchestrator/internal/domain"
	"github.com/shaiso/campaign-orchestrator/internal/engine"
	"github.com/shaiso/campaign-orchestrator/internal/telemetry"
)

// CampaignStore — то, что оркестратору нужно от хранилища runs.
type CampaignStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.CampaignRun, error)
	ListActive(ctx context.Context, limit int) ([]domain.CampaignRun, error)
	Update(ctx context.Context, run *domain.CampaignRun) error
}

// Journal — история одного run, которая поддерживает его проекцию.
//
// Каждое записанное событие применяется к CampaignRun и сохраняется в
// CampaignStore, поэтому GetStatus видит состояние без replay.
type Journal struct {
	events  engine.HistoryStore
	runs    CampaignStore
	metrics *telemetry.Metrics

	mu  sync.Mutex
	run *domain.CampaignRun
}

// NewJournal создаёт Journal поверх проекции run.
func NewJournal(run *domain.CampaignRun, events engine.HistoryStore, runs CampaignStore, metrics *telemetry.Metrics) *Journal {
	return &Journal{events: events, runs: runs, metrics: metrics, run: run}
}

// Append записывает событие и обновляет проекцию.
func (j *Journal) Append(ctx context.Context, ev *domain.Event) error {
	if err := j.events.Append(ctx, ev); err != nil {
		return err
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	j.run.Apply(*ev)
	if err := j.runs.Update(ctx, j.run); err != nil {
		return fmt.Errorf("update projection of %s: %w", ev.RunID, err)
	}
	j.metrics.ObserveEvent(*ev)
	return nil
}

// Load возвращает историю run.
func (j *Journal) Load(ctx context.Context, runID uuid.UUID) ([]domain.Event, error) {
	return j.events.Load(ctx, runID)
}

// Snapshot возвращает копию текущей проекции.
func (j *Journal) Snapshot() domain.CampaignRun {
	j.mu.Lock()
	defer j.mu.Unlock()

	data, _ := json.Marshal(j.run)
	var out domain.CampaignRun
	_ = json.Unmarshal(data, &out)
	return out
}

// rebuild строит проекцию run из истории заново. Проекция в БД могла
// отстать от истории, если процесс упал между Append и Update.
func rebuild(stored *domain.CampaignRun, history []domain.Event) *domain.CampaignRun {
	run := &domain.CampaignRun{
		ID:         stored.ID,
		CampaignID: stored.CampaignID,
		Status:     domain.CampaignStatusPending,
		Stage:      domain.StageResearch,
		Input:      stored.Input,
		Outputs:    make(map[domain.Stage]json.RawMessage),
		Stages:     make(map[domain.Stage]*domain.StageState),
		CreatedAt:  stored.CreatedAt,
		UpdatedAt:  stored.UpdatedAt,
	}
	run.Project(history)
	return run
}

// activeRun — run, который выполняется этим экземпляром.
type activeRun struct {
	rt      *engine.Runtime
	journal *Journal
	cancel  context.CancelFunc
	done    chan struct{}
	started time.Time
}

// RunStats — сводка по активному run.
type RunStats struct {
	RunID      uuid.UUID     `json:"run_id"`
	CampaignID string        `json:"campaign_id"`
	Stage      domain.Stage  `json:"stage"`
	Attempt    int           `json:"attempt"`
	Waiting    []string      `json:"waiting,omitempty"`
	Uptime     time.Duration `json:"uptime"`
}

func (a *activeRun) stats() RunStats {
	run := a.journal.Snapshot()
	return RunStats{
		RunID:      run.ID,
		CampaignID: run.CampaignID,
		Stage:      run.Stage,
		Attempt:    run.Attempt,
		Waiting:    a.rt.Waiting(),
		Uptime:     time.Since(a.started),
	}
}
