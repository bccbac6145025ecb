package repo

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/campaign-orchestrator/internal/domain"
)

// In-memory реализации репозиториев. Используются в тестах и в локальном
// режиме без Postgres.

// MemoryCampaignRepo — CampaignRepo в памяти.
type MemoryCampaignRepo struct {
	mu   sync.RWMutex
	runs map[uuid.UUID]*domain.CampaignRun
}

// NewMemoryCampaignRepo создаёт пустой MemoryCampaignRepo.
func NewMemoryCampaignRepo() *MemoryCampaignRepo {
	return &MemoryCampaignRepo{runs: make(map[uuid.UUID]*domain.CampaignRun)}
}

// Create создаёт новый run.
func (r *MemoryCampaignRepo) Create(_ context.Context, run *domain.CampaignRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.runs[run.ID]; exists {
		return ErrAlreadyExists
	}
	r.runs[run.ID] = cloneRun(run)
	return nil
}

// GetByID возвращает копию run.
func (r *MemoryCampaignRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.CampaignRun, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	run, ok := r.runs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneRun(run), nil
}

// List возвращает runs по фильтру, новые первыми.
func (r *MemoryCampaignRepo) List(_ context.Context, filter CampaignFilter) ([]domain.CampaignRun, error) {
	filter = filter.normalized()

	r.mu.RLock()
	var runs []domain.CampaignRun
	for _, run := range r.runs {
		if filter.Match(run) {
			runs = append(runs, *cloneRun(run))
		}
	}
	r.mu.RUnlock()

	slices.SortFunc(runs, func(a, b domain.CampaignRun) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})

	if filter.Offset >= len(runs) {
		return nil, nil
	}
	runs = runs[filter.Offset:]
	if len(runs) > filter.Limit {
		runs = runs[:filter.Limit]
	}
	return runs, nil
}

// ListActive возвращает незавершённые runs, старые первыми.
func (r *MemoryCampaignRepo) ListActive(_ context.Context, limit int) ([]domain.CampaignRun, error) {
	r.mu.RLock()
	var runs []domain.CampaignRun
	for _, run := range r.runs {
		if !run.Status.IsTerminal() {
			runs = append(runs, *cloneRun(run))
		}
	}
	r.mu.RUnlock()

	slices.SortFunc(runs, func(a, b domain.CampaignRun) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

// Update сохраняет run. Завершённый run не меняется (ErrInvalidState).
func (r *MemoryCampaignRepo) Update(_ context.Context, run *domain.CampaignRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, exists := r.runs[run.ID]
	if !exists {
		return ErrNotFound
	}
	if stored.Status.IsTerminal() {
		return fmt.Errorf("%w: run %s is finished", ErrInvalidState, run.ID)
	}
	r.runs[run.ID] = cloneRun(run)
	return nil
}

// cloneRun копирует run через JSON, чтобы вызывающий не делил с репозиторием
// вложенные map.
func cloneRun(run *domain.CampaignRun) *domain.CampaignRun {
	data, err := json.Marshal(run)
	if err != nil {
		panic("clone campaign run: " + err.Error())
	}
	var out domain.CampaignRun
	if err := json.Unmarshal(data, &out); err != nil {
		panic("clone campaign run: " + err.Error())
	}
	return &out
}

// MemoryEventRepo — EventRepo в памяти.
type MemoryEventRepo struct {
	mu     sync.RWMutex
	seq    int64
	events map[uuid.UUID][]domain.Event
	keys   map[uuid.UUID]map[string]int64
}

// NewMemoryEventRepo создаёт пустой MemoryEventRepo.
func NewMemoryEventRepo() *MemoryEventRepo {
	return &MemoryEventRepo{
		events: make(map[uuid.UUID][]domain.Event),
		keys:   make(map[uuid.UUID]map[string]int64),
	}
}

// Append добавляет событие. Повтор ключа возвращает seq существующего события.
func (r *MemoryEventRepo) Append(_ context.Context, ev *domain.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	keys, ok := r.keys[ev.RunID]
	if !ok {
		keys = make(map[string]int64)
		r.keys[ev.RunID] = keys
	}
	if seq, exists := keys[ev.Key]; exists {
		ev.Seq = seq
		return nil
	}

	r.seq++
	ev.Seq = r.seq
	keys[ev.Key] = ev.Seq

	stored := *ev
	stored.Payload = slices.Clone(ev.Payload)
	r.events[ev.RunID] = append(r.events[ev.RunID], stored)
	return nil
}

// Load возвращает историю run.
func (r *MemoryEventRepo) Load(ctx context.Context, runID uuid.UUID) ([]domain.Event, error) {
	return r.ListSince(ctx, runID, 0)
}

// ListSince возвращает события run с seq > afterSeq.
func (r *MemoryEventRepo) ListSince(_ context.Context, runID uuid.UUID, afterSeq int64) ([]domain.Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var events []domain.Event
	for _, ev := range r.events[runID] {
		if ev.Seq > afterSeq {
			events = append(events, ev)
		}
	}
	slices.SortFunc(events, func(a, b domain.Event) int {
		return cmp.Compare(a.Seq, b.Seq)
	})
	return events, nil
}

// Count возвращает число событий заданного типа в истории run.
func (r *MemoryEventRepo) Count(runID uuid.UUID, typ domain.EventType) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, ev := range r.events[runID] {
		if ev.Type == typ {
			n++
		}
	}
	return n
}

// MemoryInboxRepo — InboxRepo в памяти.
type MemoryInboxRepo struct {
	mu      sync.RWMutex
	nextID  int64
	signals map[uuid.UUID][]domain.QueuedSignal
}

// NewMemoryInboxRepo создаёт пустой MemoryInboxRepo.
func NewMemoryInboxRepo() *MemoryInboxRepo {
	return &MemoryInboxRepo{signals: make(map[uuid.UUID][]domain.QueuedSignal)}
}

// Enqueue сохраняет сигнал для run.
func (r *MemoryInboxRepo) Enqueue(_ context.Context, runID uuid.UUID, sig domain.Signal) (domain.QueuedSignal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	q := domain.QueuedSignal{
		ID:        r.nextID,
		RunID:     runID,
		Signal:    domain.Signal{Name: sig.Name, Payload: slices.Clone(sig.Payload)},
		CreatedAt: time.Now().UTC(),
	}
	r.signals[runID] = append(r.signals[runID], q)
	return q, nil
}

// Pending возвращает сигналы run с именем name и id > afterID.
func (r *MemoryInboxRepo) Pending(_ context.Context, runID uuid.UUID, name string, afterID int64) ([]domain.QueuedSignal, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []domain.QueuedSignal
	for _, q := range r.signals[runID] {
		if q.Signal.Name == name && q.ID > afterID {
			out = append(out, q)
		}
	}
	return out, nil
}
