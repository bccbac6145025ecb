package engine

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/campaign-orchestrator/internal/domain"
)

const mailboxSize = 8

// Runtime — handle durable execution для одного run.
//
// Runtime передаётся явно во все компоненты, которым нужна история:
// шаги, fan-out, gate. Scope-методы (ForStage, ForAttempt, StartChild)
// возвращают новый Runtime с тем же состоянием и более длинным путём ключей.
//
// Runtime безопасен для конкурентного использования из веток fan-out.
type Runtime struct {
	core    *core
	path    []string
	stage   domain.Stage
	attempt int
}

// core — общее состояние всех scope одного run.
type core struct {
	runID  uuid.UUID
	store  HistoryStore
	clock  Clock
	logger *slog.Logger

	retryInitial time.Duration
	retryMax     time.Duration

	inbox     Inbox
	inboxPoll time.Duration

	mu      sync.Mutex
	index   map[string]domain.Event
	waiters map[string]chan domain.Signal
}

// Option — опция Runtime.
type Option func(*core)

// WithClock подменяет источник времени.
func WithClock(clock Clock) Option {
	return func(c *core) { c.clock = clock }
}

// WithLogger задаёт логгер.
func WithLogger(logger *slog.Logger) Option {
	return func(c *core) { c.logger = logger }
}

// WithStoreRetry задаёт задержки повторов при недоступности хранилища.
func WithStoreRetry(initial, maxDelay time.Duration) Option {
	return func(c *core) {
		c.retryInitial = initial
		c.retryMax = maxDelay
	}
}

// WithInbox подключает durable inbox сигналов. AwaitSignal читает его
// после регистрации mailbox и затем каждые poll.
func WithInbox(inbox Inbox, poll time.Duration) Option {
	return func(c *core) {
		c.inbox = inbox
		c.inboxPoll = poll
	}
}

// Load создаёт Runtime для run и загружает его историю.
func Load(ctx context.Context, runID uuid.UUID, store HistoryStore, opts ...Option) (*Runtime, error) {
	c := &core{
		runID:        runID,
		store:        store,
		clock:        SystemClock(),
		logger:       slog.Default(),
		retryInitial: defaultStoreRetryInitial,
		retryMax:     defaultStoreRetryMax,
		inboxPoll:    defaultInboxPoll,
		index:        make(map[string]domain.Event),
		waiters:      make(map[string]chan domain.Signal),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.inboxPoll <= 0 {
		c.inboxPoll = defaultInboxPoll
	}
	c.logger = c.logger.With("run_id", runID)

	var events []domain.Event
	err := c.withRetry(ctx, "load", func() error {
		var err error
		events, err = store.Load(ctx, runID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}

	for _, ev := range events {
		c.index[ev.Key] = ev
	}

	if len(events) > 0 {
		c.logger.Debug("history loaded", "events", len(events))
	}

	return &Runtime{core: c}, nil
}

// --- Scope ---

// RunID возвращает идентификатор run.
func (rt *Runtime) RunID() uuid.UUID {
	return rt.core.runID
}

// ID возвращает идентификатор scope: run id и путь через "-".
func (rt *Runtime) ID() string {
	if len(rt.path) == 0 {
		return rt.core.runID.String()
	}
	return rt.core.runID.String() + "-" + strings.Join(rt.path, "-")
}

// Path возвращает путь scope.
func (rt *Runtime) Path() string {
	return strings.Join(rt.path, "/")
}

// Stage возвращает стадию scope (пусто для корня).
func (rt *Runtime) Stage() domain.Stage {
	return rt.stage
}

// Attempt возвращает попытку scope (0 вне попытки).
func (rt *Runtime) Attempt() int {
	return rt.attempt
}

// Logger возвращает логгер с атрибутами run и scope.
func (rt *Runtime) Logger() *slog.Logger {
	if len(rt.path) == 0 {
		return rt.core.logger
	}
	return rt.core.logger.With("scope", rt.Path())
}

// ForStage возвращает scope стадии.
func (rt *Runtime) ForStage(stage domain.Stage) *Runtime {
	child := rt.child(string(stage))
	child.stage = stage
	child.attempt = 0
	return child
}

// ForAttempt возвращает scope попытки стадии.
func (rt *Runtime) ForAttempt(attempt int) *Runtime {
	child := rt.child(fmt.Sprintf("attempt-%d", attempt))
	child.attempt = attempt
	return child
}

// StartChild возвращает дочерний scope с собственным идентификатором.
// Стадия и попытка наследуются.
func (rt *Runtime) StartChild(name string) *Runtime {
	return rt.child(name)
}

func (rt *Runtime) child(name string) *Runtime {
	path := make([]string, 0, len(rt.path)+1)
	path = append(path, rt.path...)
	path = append(path, name)
	return &Runtime{
		core:    rt.core,
		path:    path,
		stage:   rt.stage,
		attempt: rt.attempt,
	}
}

func (rt *Runtime) key(name string) string {
	if len(rt.path) == 0 {
		return name
	}
	return rt.Path() + "/" + name
}

// --- History ---

// Lookup ищет записанное событие по имени внутри scope.
func (rt *Runtime) Lookup(name string) (domain.Event, bool) {
	return rt.core.lookup(rt.key(name))
}

// History возвращает известную историю run в порядке записи.
func (rt *Runtime) History() []domain.Event {
	rt.core.mu.Lock()
	events := make([]domain.Event, 0, len(rt.core.index))
	for _, ev := range rt.core.index {
		events = append(events, ev)
	}
	rt.core.mu.Unlock()

	slices.SortFunc(events, func(a, b domain.Event) int {
		return cmp.Compare(a.Seq, b.Seq)
	})
	return events
}

// Record записывает событие, если его ещё нет в истории.
// Возвращает true, если событие записано сейчас (а не найдено в истории).
func (rt *Runtime) Record(ctx context.Context, typ domain.EventType, name string, payload any) (bool, error) {
	key := rt.key(name)
	if _, ok := rt.core.lookup(key); ok {
		return false, nil
	}

	ev, err := rt.newEvent(typ, key, payload)
	if err != nil {
		return false, err
	}
	if err := rt.core.append(ctx, ev); err != nil {
		return false, err
	}
	return true, nil
}

// --- Steps ---

// StepFunc выполняет шаг и возвращает результат и число потраченных попыток.
type StepFunc func(ctx context.Context) (output any, attempts int, err error)

// Execute выполняет шаг durable: итог (успех или ошибка) записывается в
// историю, а при повторном проходе возвращается из неё без вызова fn.
//
// Результат декодируется в out (указатель) одинаково для живого
// выполнения и для replay. Отмена ctx не записывается: шаг будет выполнен
// заново после восстановления.
func (rt *Runtime) Execute(ctx context.Context, name string, fn StepFunc, out any) (int, error) {
	key := rt.key(name)

	if ev, ok := rt.core.lookup(key); ok {
		var rec domain.StepRecord
		if err := ev.Decode(&rec); err != nil {
			return 0, err
		}
		switch ev.Type {
		case domain.EventStepCompleted:
			if err := decodeOutput(rec.Output, out); err != nil {
				return rec.Attempts, err
			}
			return rec.Attempts, nil
		case domain.EventStepFailed:
			return rec.Attempts, &RecordedFailure{Step: name, Attempts: rec.Attempts, Message: rec.Error}
		default:
			return 0, fmt.Errorf("%w: %s holds %s", ErrHistoryMismatch, key, ev.Type)
		}
	}

	output, attempts, runErr := fn(ctx)
	if runErr != nil {
		if ctx.Err() != nil {
			return attempts, runErr
		}
		rec := domain.StepRecord{Step: name, Attempts: attempts, Error: runErr.Error()}
		ev, err := rt.newEvent(domain.EventStepFailed, key, rec)
		if err != nil {
			return attempts, err
		}
		if err := rt.core.append(ctx, ev); err != nil {
			return attempts, err
		}
		return attempts, runErr
	}

	raw, err := json.Marshal(output)
	if err != nil {
		return attempts, fmt.Errorf("marshal %s output: %w", name, err)
	}

	rec := domain.StepRecord{Step: name, Attempts: attempts, Output: raw}
	ev, err := rt.newEvent(domain.EventStepCompleted, key, rec)
	if err != nil {
		return attempts, err
	}
	if err := rt.core.append(ctx, ev); err != nil {
		return attempts, err
	}

	return attempts, decodeOutput(raw, out)
}

func decodeOutput(raw json.RawMessage, out any) error {
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode step output: %w", err)
	}
	return nil
}

// --- Time ---

// Now возвращает текущее время, зафиксированное в истории под именем name.
// При replay возвращается то же значение.
func (rt *Runtime) Now(ctx context.Context, name string) (time.Time, error) {
	key := rt.key(name)

	if ev, ok := rt.core.lookup(key); ok {
		var rec domain.TimeRecord
		if err := ev.Decode(&rec); err != nil {
			return time.Time{}, err
		}
		return rec.Time, nil
	}

	now := rt.core.clock.Now().UTC()
	ev, err := rt.newEvent(domain.EventTimeCaptured, key, domain.TimeRecord{Time: now})
	if err != nil {
		return time.Time{}, err
	}
	if err := rt.core.append(ctx, ev); err != nil {
		return time.Time{}, err
	}
	return now, nil
}

// Sleep ждёт d или отмены ctx.
func (rt *Runtime) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-rt.core.clock.After(d):
		return nil
	}
}

// --- Signals ---

// SignalWait — параметры ожидания сигнала.
type SignalWait struct {
	// Name — имя mailbox, в который доставляются сигналы.
	Name string

	// Key — имя записи в истории внутри scope.
	Key string

	// Deadline — момент, после которого ожидание завершается ErrSignalTimeout.
	// Нулевое значение — без дедлайна.
	Deadline time.Time

	// Accept проверяет сигнал. Отклонённый сигнал логируется и
	// отбрасывается, ожидание продолжается.
	Accept func(domain.Signal) error
}

// AwaitSignal ждёт первый принятый сигнал или дедлайн.
//
// Выигрывает то, что произошло первым; итог записывается в историю и при
// replay возвращается из неё. Сигналы приходят двумя путями: через Signal
// в mailbox и из inbox (WithInbox), который читается сразу после
// регистрации mailbox и затем периодически. После выхода mailbox закрыт
// и поздние сигналы отклоняются с ErrNoWaiter.
func (rt *Runtime) AwaitSignal(ctx context.Context, w SignalWait) (domain.Signal, error) {
	key := rt.key(w.Key)

	if ev, ok := rt.core.lookup(key); ok {
		var rec domain.SignalRecord
		if err := ev.Decode(&rec); err != nil {
			return domain.Signal{}, err
		}
		switch ev.Type {
		case domain.EventSignalReceived:
			return domain.Signal{Name: rec.Name, Payload: rec.Payload}, nil
		case domain.EventSignalTimedOut:
			return domain.Signal{}, ErrSignalTimeout
		default:
			return domain.Signal{}, fmt.Errorf("%w: %s holds %s", ErrHistoryMismatch, key, ev.Type)
		}
	}

	mailbox, err := rt.core.register(w.Name)
	if err != nil {
		return domain.Signal{}, err
	}
	defer rt.core.unregister(w.Name, mailbox)

	var timeout <-chan time.Time
	if !w.Deadline.IsZero() {
		timeout = rt.core.clock.After(max(w.Deadline.Sub(rt.core.clock.Now()), 0))
	}

	logger := rt.Logger()
	accept := func(sig domain.Signal) bool {
		if w.Accept == nil {
			return true
		}
		if err := w.Accept(sig); err != nil {
			logger.Warn("signal discarded", "signal", sig.Name, "error", err)
			return false
		}
		return true
	}

	var (
		inboxCursor int64
		poll        <-chan time.Time
	)
	drain := rt.core.inbox != nil

	for {
		if drain {
			for _, sig := range rt.core.pending(ctx, w.Name, &inboxCursor) {
				if accept(sig) {
					return rt.received(ctx, key, w.Name, mailbox, sig)
				}
			}
			poll = rt.core.clock.After(rt.core.inboxPoll)
			drain = false
		}

		select {
		case <-ctx.Done():
			return domain.Signal{}, ctx.Err()

		case sig := <-mailbox:
			if accept(sig) {
				return rt.received(ctx, key, w.Name, mailbox, sig)
			}

		case <-poll:
			drain = true

		case <-timeout:
			rt.core.unregister(w.Name, mailbox)

			ev, err := rt.newEvent(domain.EventSignalTimedOut, key, domain.SignalRecord{Name: w.Name})
			if err != nil {
				return domain.Signal{}, err
			}
			if err := rt.core.append(ctx, ev); err != nil {
				return domain.Signal{}, err
			}
			return domain.Signal{}, ErrSignalTimeout
		}
	}
}

// received закрывает mailbox и записывает принятый сигнал.
func (rt *Runtime) received(ctx context.Context, key, name string, mailbox chan domain.Signal, sig domain.Signal) (domain.Signal, error) {
	rt.core.unregister(name, mailbox)

	rec := domain.SignalRecord{Name: sig.Name, Payload: sig.Payload}
	ev, err := rt.newEvent(domain.EventSignalReceived, key, rec)
	if err != nil {
		return domain.Signal{}, err
	}
	if err := rt.core.append(ctx, ev); err != nil {
		return domain.Signal{}, err
	}
	return sig, nil
}

// Signal доставляет сигнал ожидающему. Сигнал только кладётся в mailbox:
// состояние меняет сам ожидающий.
func (rt *Runtime) Signal(sig domain.Signal) error {
	c := rt.core
	c.mu.Lock()
	defer c.mu.Unlock()

	mailbox, ok := c.waiters[sig.Name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoWaiter, sig.Name)
	}

	select {
	case mailbox <- sig:
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrMailboxFull, sig.Name)
	}
}

// Waiting возвращает имена сигналов, которые сейчас ожидаются.
func (rt *Runtime) Waiting() []string {
	c := rt.core
	c.mu.Lock()
	defer c.mu.Unlock()

	names := make([]string, 0, len(c.waiters))
	for name := range c.waiters {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func (c *core) register(name string) (chan domain.Signal, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.waiters[name]; exists {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyWaiting, name)
	}
	mailbox := make(chan domain.Signal, mailboxSize)
	c.waiters[name] = mailbox
	return mailbox, nil
}

// unregister закрывает mailbox для новых сигналов. Непрочитанные сигналы
// отбрасываются.
func (c *core) unregister(name string, mailbox chan domain.Signal) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if current, ok := c.waiters[name]; !ok || current != mailbox {
		return
	}
	delete(c.waiters, name)

	for {
		select {
		case sig := <-mailbox:
			c.logger.Info("late signal discarded", "signal", sig.Name)
		default:
			return
		}
	}
}
