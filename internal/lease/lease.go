// Package lease — владение run между экземплярами orchestrator.
//
// Lease — ключ в Redis со значением owner и TTL. Пока экземпляр держит
// lease, только он выполняет run и принимает решения для него. Если
// экземпляр падает, lease истекает и run подбирает resume sweep другого.
package lease

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLost — lease перехвачен или истёк.
var ErrLost = errors.New("lease lost")

// Leaser — то, что нужно orchestrator от lease.
type Leaser interface {
	Acquire(ctx context.Context, runID uuid.UUID) (bool, error)
	Keep(ctx context.Context, runID uuid.UUID) error
	Release(ctx context.Context, runID uuid.UUID) error
}

// Продление и снятие только своего lease.
var (
	refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)
)

// Redis — Leaser поверх Redis.
type Redis struct {
	client redis.Cmdable
	owner  string
	ttl    time.Duration
	prefix string
	logger *slog.Logger
}

// Config — конфигурация Redis leaser.
type Config struct {
	Client redis.Cmdable
	Owner  string
	TTL    time.Duration
	Prefix string
	Logger *slog.Logger
}

// NewRedis создаёт Leaser. TTL по умолчанию 30s.
func NewRedis(cfg Config) *Redis {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "campaign:lease:"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Redis{
		client: cfg.Client,
		owner:  cfg.Owner,
		ttl:    ttl,
		prefix: prefix,
		logger: logger.With("component", "lease", "owner", cfg.Owner),
	}
}

// Key возвращает ключ lease run.
func (l *Redis) Key(runID uuid.UUID) string {
	return l.prefix + runID.String()
}

// Acquire берёт lease, если он свободен. Повторный Acquire своим owner
// продлевает lease.
func (l *Redis) Acquire(ctx context.Context, runID uuid.UUID) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.Key(runID), l.owner, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lease %s: %w", runID, err)
	}
	if ok {
		return true, nil
	}
	return l.refresh(ctx, runID)
}

func (l *Redis) refresh(ctx context.Context, runID uuid.UUID) (bool, error) {
	n, err := refreshScript.Run(ctx, l.client, []string{l.Key(runID)}, l.owner, l.ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("refresh lease %s: %w", runID, err)
	}
	return n == 1, nil
}

// Keep продлевает lease каждые TTL/3 до отмены ctx.
// Возвращает ErrLost, если lease перехвачен или не продлевался дольше TTL.
func (l *Redis) Keep(ctx context.Context, runID uuid.UUID) error {
	ticker := time.NewTicker(l.ttl / 3)
	defer ticker.Stop()

	lastOK := time.Now()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		ok, err := l.refresh(ctx, runID)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			l.logger.Warn("lease refresh failed", "run_id", runID, "error", err)
			if time.Since(lastOK) > l.ttl {
				return fmt.Errorf("%w: %s: %v", ErrLost, runID, err)
			}
		case !ok:
			return fmt.Errorf("%w: %s", ErrLost, runID)
		default:
			lastOK = time.Now()
		}
	}
}

// Release снимает lease, если он всё ещё наш.
func (l *Redis) Release(ctx context.Context, runID uuid.UUID) error {
	if err := releaseScript.Run(ctx, l.client, []string{l.Key(runID)}, l.owner).Err(); err != nil {
		return fmt.Errorf("release lease %s: %w", runID, err)
	}
	return nil
}

// Local — Leaser для одного экземпляра: lease всегда наш.
type Local struct{}

func (Local) Acquire(context.Context, uuid.UUID) (bool, error) { return true, nil }

func (Local) Keep(ctx context.Context, _ uuid.UUID) error {
	<-ctx.Done()
	return ctx.Err()
}

func (Local) Release(context.Context, uuid.UUID) error { return nil }
