package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/shaiso/campaign-orchestrator/internal/campaign"
	"github.com/shaiso/campaign-orchestrator/internal/domain"
	"github.com/shaiso/campaign-orchestrator/internal/engine"
	"github.com/shaiso/campaign-orchestrator/internal/lease"
	"github.com/shaiso/campaign-orchestrator/internal/mq"
	"github.com/shaiso/campaign-orchestrator/internal/repo"
	"github.com/shaiso/campaign-orchestrator/internal/telemetry"
)

const (
	defaultResumeSchedule = "@every 10s"
	defaultBatchSize      = 100
	releaseTimeout        = 5 * time.Second
)

// Orchestrator выполняет кампании.
//
// Orchestrator:
//   - получает новые кампании из campaigns.pending
//   - по расписанию подбирает PENDING и RUNNING runs из БД (resume sweep)
//   - держит lease на каждый свой run
//   - доставляет решения ревьюеров в ожидающий gate
//
// Остановка не меняет статус runs: они остаются RUNNING и продолжаются
// по истории следующим запуском (этим или другим экземпляром).
type Orchestrator struct {
	runs     CampaignStore
	events   engine.HistoryStore
	pipeline *campaign.Pipeline
	leaser   lease.Leaser
	metrics  *telemetry.Metrics
	conn     *mq.Connection

	inbox     engine.Inbox
	inboxPoll time.Duration

	instanceID     string
	resumeSchedule string
	batchSize      int
	logger         *slog.Logger

	mu     sync.RWMutex
	active map[uuid.UUID]*activeRun

	ctx     context.Context
	cancel  context.CancelFunc
	cron    *cron.Cron
	wg      sync.WaitGroup
	stopped bool
}

// Config — конфигурация Orchestrator.
type Config struct {
	Runs     CampaignStore
	Events   engine.HistoryStore
	Pipeline *campaign.Pipeline

	// Leaser — владение runs. nil — один экземпляр (lease.Local).
	Leaser lease.Leaser

	// Conn — RabbitMQ. nil — только resume sweep, без доставки решений через MQ.
	Conn *mq.Connection

	Metrics *telemetry.Metrics

	// Inbox — durable очередь решений, которую gate читает сам.
	// nil — решения доходят только через Deliver.
	Inbox engine.Inbox

	// InboxPoll — период опроса Inbox ожидающим gate (default: 2s).
	InboxPoll time.Duration

	// InstanceID — имя экземпляра (очередь решений, owner lease).
	InstanceID string

	// ResumeSchedule — cron-расписание resume sweep (default: @every 10s).
	ResumeSchedule string

	// BatchSize — runs за один sweep (default: 100).
	BatchSize int

	Logger *slog.Logger
}

// New создаёт Orchestrator.
func New(cfg Config) *Orchestrator {
	leaser := cfg.Leaser
	if leaser == nil {
		leaser = lease.Local{}
	}
	schedule := cfg.ResumeSchedule
	if schedule == "" {
		schedule = defaultResumeSchedule
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	instanceID := cfg.InstanceID
	if instanceID == "" {
		instanceID = uuid.NewString()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Orchestrator{
		runs:           cfg.Runs,
		events:         cfg.Events,
		pipeline:       cfg.Pipeline,
		leaser:         leaser,
		metrics:        cfg.Metrics,
		conn:           cfg.Conn,
		inbox:          cfg.Inbox,
		inboxPoll:      cfg.InboxPoll,
		instanceID:     instanceID,
		resumeSchedule: schedule,
		batchSize:      batchSize,
		logger:         logger.With("component", "orchestrator", "instance", instanceID),
		active:         make(map[uuid.UUID]*activeRun),
	}
}

// Start запускает consumers и resume sweep. Первый sweep выполняется сразу.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.ctx != nil {
		o.mu.Unlock()
		return errors.New("orchestrator already started")
	}
	o.ctx, o.cancel = context.WithCancel(ctx)
	o.mu.Unlock()

	o.cron = cron.New()
	if _, err := o.cron.AddFunc(o.resumeSchedule, func() { o.sweep(o.ctx) }); err != nil {
		o.cancel()
		return fmt.Errorf("resume schedule %q: %w", o.resumeSchedule, err)
	}

	o.logger.Info("starting orchestrator",
		"resume_schedule", o.resumeSchedule,
		"batch_size", o.batchSize,
		"mq", o.conn != nil,
	)

	if o.conn != nil {
		o.startConsumer(mq.ConsumerConfig{
			Queue:    mq.QueueCampaignsPending,
			Handler:  o.handleCampaignPending,
			Prefetch: 10,
		})
		queue := mq.DecisionQueue(o.instanceID)
		o.startConsumer(mq.ConsumerConfig{
			Queue:    queue,
			Handler:  o.handleDecision,
			Prefetch: 50,
			Declare:  mq.DeclareDecisionQueue(queue),
		})
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.sweep(o.ctx)
	}()
	o.cron.Start()

	o.logger.Info("orchestrator started")
	return nil
}

func (o *Orchestrator) startConsumer(cfg mq.ConsumerConfig) {
	consumer := mq.NewConsumer(o.conn, o.logger, cfg)
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		if err := consumer.Run(o.ctx); err != nil && !errors.Is(err, context.Canceled) {
			o.logger.Error("consumer stopped", "queue", cfg.Queue, "error", err)
		}
	}()
}

// Stop останавливает приём работы и прерывает активные runs.
// Прерванные runs остаются RUNNING и продолжаются после рестарта.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if o.stopped || o.ctx == nil {
		o.stopped = true
		o.mu.Unlock()
		return
	}
	o.stopped = true
	active := len(o.active)
	o.mu.Unlock()

	o.logger.Info("stopping orchestrator", "active_runs", active)

	<-o.cron.Stop().Done()
	o.cancel()
	o.wg.Wait()

	o.logger.Info("orchestrator stopped")
}

// sweep подбирает runs, которые должны выполняться, но не выполняются здесь.
func (o *Orchestrator) sweep(ctx context.Context) {
	runs, err := o.runs.ListActive(ctx, o.batchSize)
	if err != nil {
		if ctx.Err() == nil {
			o.logger.Error("failed to list active runs", "error", err)
		}
		return
	}

	for i := range runs {
		if ctx.Err() != nil {
			return
		}
		if o.isActive(runs[i].ID) {
			continue
		}
		err := o.Launch(runs[i].ID)
		switch {
		case err == nil:
			o.logger.Info("run picked up by resume sweep", "run_id", runs[i].ID, "stage", runs[i].Stage)
		case errors.Is(err, ErrLeaseHeld), errors.Is(err, ErrRunAlreadyActive), errors.Is(err, ErrRunFinished):
		case errors.Is(err, ErrOrchestratorStopped):
			return
		default:
			o.logger.Error("failed to launch run", "run_id", runs[i].ID, "error", err)
		}
	}
}

// Launch начинает (или продолжает по истории) выполнение run.
func (o *Orchestrator) Launch(runID uuid.UUID) error {
	o.mu.RLock()
	base, stopped := o.ctx, o.stopped
	o.mu.RUnlock()
	if base == nil || stopped {
		return ErrOrchestratorStopped
	}
	if o.isActive(runID) {
		return ErrRunAlreadyActive
	}

	// 1. Загружаем run
	stored, err := o.runs.GetByID(base, runID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		return fmt.Errorf("get run: %w", err)
	}
	if stored.IsFinished() {
		return ErrRunFinished
	}

	// 2. Берём lease
	ok, err := o.leaser.Acquire(base, runID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrLeaseHeld
	}

	// 3. Восстанавливаем проекцию и runtime по истории
	history, err := o.events.Load(base, runID)
	if err != nil {
		o.release(runID)
		return fmt.Errorf("load history: %w", err)
	}
	run := rebuild(stored, history)
	journal := NewJournal(run, o.events, o.runs, o.metrics)

	logger := telemetry.WithCampaign(o.logger, run)
	opts := []engine.Option{engine.WithLogger(logger)}
	if o.inbox != nil {
		opts = append(opts, engine.WithInbox(o.inbox, o.inboxPoll))
	}
	rt, err := engine.Load(base, runID, journal, opts...)
	if err != nil {
		o.release(runID)
		return fmt.Errorf("load runtime: %w", err)
	}

	// 4. Регистрируем и запускаем
	runCtx, cancel := context.WithCancel(base)
	state := &activeRun{rt: rt, journal: journal, cancel: cancel, done: make(chan struct{}), started: time.Now()}
	if err := o.addActive(runID, state); err != nil {
		cancel()
		o.release(runID)
		return err
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.execute(runCtx, runID, run.Input, state, logger)
	}()
	return nil
}

// execute выполняет pipeline run и держит lease, пока он работает.
func (o *Orchestrator) execute(ctx context.Context, runID uuid.UUID, input domain.CampaignInput, state *activeRun, logger *slog.Logger) {
	keepDone := make(chan struct{})
	go func() {
		defer close(keepDone)
		if err := o.leaser.Keep(ctx, runID); errors.Is(err, lease.ErrLost) {
			logger.Warn("lease lost, stopping run", "error", err)
			state.cancel()
		}
	}()

	defer func() {
		state.cancel()
		<-keepDone
		o.release(runID)
		o.removeActive(runID)
		close(state.done)
	}()

	_, err := o.pipeline.Run(ctx, state.rt, input)

	var failed *campaign.FailedError
	switch {
	case err == nil:
		logger.Info("run finished", "status", domain.CampaignStatusDone, "duration", time.Since(state.started))
	case errors.As(err, &failed):
		logger.Info("run finished",
			"status", domain.CampaignStatusFailed,
			"failed_stage", failed.Stage,
			"failure_kind", failed.Kind,
		)
	case ctx.Err() != nil:
		logger.Info("run interrupted, will resume from history")
	default:
		logger.Error("run aborted", "error", err)
	}
}

func (o *Orchestrator) release(runID uuid.UUID) {
	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()
	if err := o.leaser.Release(ctx, runID); err != nil {
		o.logger.Warn("failed to release lease", "run_id", runID, "error", err)
	}
}

// Deliver будит gate активного run сигналом решения.
//
// Возвращает ErrRunNotActive, если run выполняется не здесь, и
// engine.ErrNoWaiter, если gate стадии сейчас не ждёт решения. С Inbox
// обе ошибки не теряют решение: gate заберёт его из inbox сам.
func (o *Orchestrator) Deliver(runID uuid.UUID, sig domain.Signal) error {
	o.mu.RLock()
	state, ok := o.active[runID]
	o.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrRunNotActive, runID)
	}
	return state.rt.Signal(sig)
}

// Wait ждёт завершения активного run (для тестов и graceful сценариев).
func (o *Orchestrator) Wait(ctx context.Context, runID uuid.UUID) error {
	o.mu.RLock()
	state, ok := o.active[runID]
	o.mu.RUnlock()
	if !ok {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-state.done:
		return nil
	}
}

// --- Active runs ---

func (o *Orchestrator) isActive(runID uuid.UUID) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	_, ok := o.active[runID]
	return ok
}

func (o *Orchestrator) addActive(runID uuid.UUID, state *activeRun) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.stopped {
		return ErrOrchestratorStopped
	}
	if _, ok := o.active[runID]; ok {
		return ErrRunAlreadyActive
	}
	o.active[runID] = state
	o.metrics.SetActiveRuns(len(o.active))
	return nil
}

func (o *Orchestrator) removeActive(runID uuid.UUID) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.active, runID)
	o.metrics.SetActiveRuns(len(o.active))
}

// ActiveRunsCount возвращает число активных runs.
func (o *Orchestrator) ActiveRunsCount() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.active)
}

// ActiveRunStats возвращает сводку по активному run.
func (o *Orchestrator) ActiveRunStats(runID uuid.UUID) (RunStats, bool) {
	o.mu.RLock()
	state, ok := o.active[runID]
	o.mu.RUnlock()
	if !ok {
		return RunStats{}, false
	}
	return state.stats(), true
}
