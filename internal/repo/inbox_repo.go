package repo

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shaiso/campaign-orchestrator/internal/domain"
)

// InboxRepo — принятые, но ещё не прочитанные run сигналы.
//
// Записи не удаляются: какой сигнал принят, решает run, а итог попадает
// в историю (signal.received).
type InboxRepo struct {
	pool *pgxpool.Pool
}

// NewInboxRepo создаёт новый InboxRepo.
func NewInboxRepo(pool *pgxpool.Pool) *InboxRepo {
	return &InboxRepo{pool: pool}
}

// Enqueue сохраняет сигнал для run.
func (r *InboxRepo) Enqueue(ctx context.Context, runID uuid.UUID, sig domain.Signal) (domain.QueuedSignal, error) {
	q := domain.QueuedSignal{RunID: runID, Signal: sig}

	var payload []byte
	if len(sig.Payload) > 0 {
		payload = sig.Payload
	}

	err := r.pool.QueryRow(ctx, `
		INSERT INTO campaign_signals (run_id, name, payload)
		VALUES ($1, $2, $3)
		RETURNING id, created_at
	`, runID, sig.Name, payload).Scan(&q.ID, &q.CreatedAt)
	if err != nil {
		return q, fmt.Errorf("insert campaign signal: %w", err)
	}
	return q, nil
}

// Pending возвращает сигналы run с именем name и id > afterID.
func (r *InboxRepo) Pending(ctx context.Context, runID uuid.UUID, name string, afterID int64) ([]domain.QueuedSignal, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, run_id, name, payload, created_at
		FROM campaign_signals
		WHERE run_id = $1 AND name = $2 AND id > $3
		ORDER BY id ASC
	`, runID, name, afterID)
	if err != nil {
		return nil, fmt.Errorf("list campaign signals: %w", err)
	}
	defer rows.Close()

	var out []domain.QueuedSignal
	for rows.Next() {
		var q domain.QueuedSignal
		var payload []byte
		if err := rows.Scan(&q.ID, &q.RunID, &q.Signal.Name, &payload, &q.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan campaign signal: %w", err)
		}
		if len(payload) > 0 {
			q.Signal.Payload = payload
		}
		out = append(out, q)
	}
	return out, rows.Err()
}
