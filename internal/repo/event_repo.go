package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shaiso/campaign-orchestrator/internal/domain"
)

// EventRepo — append-only история campaign runs.
type EventRepo struct {
	pool *pgxpool.Pool
}

// NewEventRepo создаёт новый EventRepo.
func NewEventRepo(pool *pgxpool.Pool) *EventRepo {
	return &EventRepo{pool: pool}
}

// Append добавляет событие в историю и выставляет ev.Seq.
// Повторная запись того же (run_id, key) не ошибка: возвращается
// seq уже существующего события.
func (r *EventRepo) Append(ctx context.Context, ev *domain.Event) error {
	query := `
		INSERT INTO campaign_events (run_id, key, type, stage, attempt, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (run_id, key) DO NOTHING
		RETURNING seq
	`
	var payload []byte
	if len(ev.Payload) > 0 {
		payload = ev.Payload
	}

	err := r.pool.QueryRow(ctx, query,
		ev.RunID,
		ev.Key,
		ev.Type,
		nullString(string(ev.Stage)),
		ev.Attempt,
		payload,
		ev.CreatedAt,
	).Scan(&ev.Seq)
	if errors.Is(err, pgx.ErrNoRows) {
		// Конфликт по ключу — событие уже записано.
		return r.pool.QueryRow(ctx,
			`SELECT seq FROM campaign_events WHERE run_id = $1 AND key = $2`,
			ev.RunID, ev.Key,
		).Scan(&ev.Seq)
	}
	if err != nil {
		return fmt.Errorf("insert campaign event: %w", err)
	}
	return nil
}

// Load возвращает всю историю run по порядку.
func (r *EventRepo) Load(ctx context.Context, runID uuid.UUID) ([]domain.Event, error) {
	return r.ListSince(ctx, runID, 0)
}

// ListSince возвращает события run с seq > afterSeq.
func (r *EventRepo) ListSince(ctx context.Context, runID uuid.UUID, afterSeq int64) ([]domain.Event, error) {
	query := `
		SELECT seq, run_id, key, type, stage, attempt, payload, created_at
		FROM campaign_events
		WHERE run_id = $1 AND seq > $2
		ORDER BY seq ASC
	`
	rows, err := r.pool.Query(ctx, query, runID, afterSeq)
	if err != nil {
		return nil, fmt.Errorf("list campaign events: %w", err)
	}
	defer rows.Close()

	var events []domain.Event
	for rows.Next() {
		var ev domain.Event
		var stage *string
		var payload []byte

		if err := rows.Scan(
			&ev.Seq,
			&ev.RunID,
			&ev.Key,
			&ev.Type,
			&stage,
			&ev.Attempt,
			&payload,
			&ev.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan campaign event: %w", err)
		}

		if stage != nil {
			ev.Stage = domain.Stage(*stage)
		}
		if len(payload) > 0 {
			ev.Payload = payload
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}
