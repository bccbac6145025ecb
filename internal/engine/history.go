package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/campaign-orchestrator/internal/domain"
)

// HistoryStore — append-only хранилище истории run.
//
// Append должен быть идемпотентным по (RunID, Key): повторная запись
// того же ключа не ошибка. Append выставляет Seq.
type HistoryStore interface {
	Append(ctx context.Context, ev *domain.Event) error
	Load(ctx context.Context, runID uuid.UUID) ([]domain.Event, error)
}

// Inbox — durable очередь сигналов run.
//
// Сигнал попадает в inbox при приёме (до доставки в mailbox), поэтому он
// не теряется, если run сейчас не выполняется или ещё не начал ждать.
// Pending возвращает сигналы с ID > afterID в порядке ID.
type Inbox interface {
	Pending(ctx context.Context, runID uuid.UUID, name string, afterID int64) ([]domain.QueuedSignal, error)
}

const (
	defaultStoreRetryInitial = 200 * time.Millisecond
	defaultStoreRetryMax     = 10 * time.Second
	defaultInboxPoll         = 2 * time.Second
)

// withRetry повторяет операцию с хранилищем, пока она не пройдёт или
// не отменится ctx. Недоступность хранилища для вызывающего кода
// выглядит только как задержка.
func (c *core) withRetry(ctx context.Context, op string, fn func() error) error {
	delay := c.retryInitial

	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		c.logger.Warn("history store unavailable, retrying",
			"op", op,
			"attempt", attempt,
			"delay", delay,
			"error", err,
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.clock.After(delay):
		}

		delay = min(delay*2, c.retryMax)
	}
}

// append записывает событие и добавляет его в индекс.
func (c *core) append(ctx context.Context, ev *domain.Event) error {
	err := c.withRetry(ctx, "append "+ev.Key, func() error {
		return c.store.Append(ctx, ev)
	})
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.index[ev.Key] = *ev
	c.mu.Unlock()
	return nil
}

// pending читает из inbox сигналы после *afterID и сдвигает курсор.
// Ошибка inbox не прерывает ожидание: сигнал будет прочитан при
// следующем опросе.
func (c *core) pending(ctx context.Context, name string, afterID *int64) []domain.Signal {
	queued, err := c.inbox.Pending(ctx, c.runID, name, *afterID)
	if err != nil {
		if ctx.Err() == nil {
			c.logger.Warn("signal inbox unavailable", "signal", name, "error", err)
		}
		return nil
	}

	sigs := make([]domain.Signal, 0, len(queued))
	for _, q := range queued {
		*afterID = max(*afterID, q.ID)
		sigs = append(sigs, q.Signal)
	}
	return sigs
}

// lookup ищет событие по ключу.
func (c *core) lookup(key string) (domain.Event, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ev, ok := c.index[key]
	return ev, ok
}

// newEvent собирает событие для текущего scope.
func (rt *Runtime) newEvent(typ domain.EventType, key string, payload any) (*domain.Event, error) {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", typ, err)
		}
		raw = b
	}

	return &domain.Event{
		RunID:     rt.core.runID,
		Key:       key,
		Type:      typ,
		Stage:     rt.stage,
		Attempt:   rt.attempt,
		Payload:   raw,
		CreatedAt: rt.core.clock.Now().UTC(),
	}, nil
}
