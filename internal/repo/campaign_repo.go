package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shaiso/campaign-orchestrator/internal/domain"
)

// CampaignRepo — репозиторий для работы с campaign runs.
type CampaignRepo struct {
	pool *pgxpool.Pool
}

// NewCampaignRepo создаёт новый CampaignRepo.
func NewCampaignRepo(pool *pgxpool.Pool) *CampaignRepo {
	return &CampaignRepo{pool: pool}
}

const campaignColumns = `
	id, campaign_id, status, current_stage, attempt, decision_pending,
	input, outputs, stages, failed_stage, failure_kind, last_error,
	started_at, finished_at, created_at, updated_at`

// Create создаёт новый run.
func (r *CampaignRepo) Create(ctx context.Context, run *domain.CampaignRun) error {
	inputJSON, outputsJSON, stagesJSON, err := marshalRun(run)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO campaign_runs (` + campaignColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`
	_, err = r.pool.Exec(ctx, query,
		run.ID,
		run.CampaignID,
		run.Status,
		run.Stage,
		run.Attempt,
		run.DecisionPending,
		inputJSON,
		outputsJSON,
		stagesJSON,
		nullString(string(run.FailedStage)),
		nullString(string(run.FailureKind)),
		nullString(run.LastError),
		run.StartedAt,
		run.FinishedAt,
		run.CreatedAt,
		run.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrAlreadyExists
		}
		return fmt.Errorf("insert campaign run: %w", err)
	}
	return nil
}

// GetByID возвращает run по ID.
func (r *CampaignRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.CampaignRun, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaign_runs WHERE id = $1`
	return scanCampaign(r.pool.QueryRow(ctx, query, id))
}

// List возвращает список runs с фильтрацией.
func (r *CampaignRepo) List(ctx context.Context, filter CampaignFilter) ([]domain.CampaignRun, error) {
	filter = filter.normalized()

	query := `
		SELECT ` + campaignColumns + `
		FROM campaign_runs
		WHERE ($1::text IS NULL OR current_stage = $1)
		  AND ($2::text IS NULL OR status = $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`
	rows, err := r.pool.Query(ctx, query,
		nullString(string(filter.Stage)),
		nullString(string(filter.Status)),
		filter.Limit,
		filter.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list campaign runs: %w", err)
	}
	return collectCampaigns(rows)
}

// ListActive возвращает незавершённые runs (PENDING и RUNNING), старые первыми.
func (r *CampaignRepo) ListActive(ctx context.Context, limit int) ([]domain.CampaignRun, error) {
	query := `
		SELECT ` + campaignColumns + `
		FROM campaign_runs
		WHERE status IN ('PENDING', 'RUNNING')
		ORDER BY created_at ASC
		LIMIT $1
	`
	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list active campaign runs: %w", err)
	}
	return collectCampaigns(rows)
}

// Update сохраняет проекцию run. Завершённый run (DONE, FAILED) больше не
// меняется: Update возвращает ErrInvalidState.
func (r *CampaignRepo) Update(ctx context.Context, run *domain.CampaignRun) error {
	_, outputsJSON, stagesJSON, err := marshalRun(run)
	if err != nil {
		return err
	}

	query := `
		UPDATE campaign_runs
		SET status = $2, current_stage = $3, attempt = $4, decision_pending = $5,
		    outputs = $6, stages = $7, failed_stage = $8, failure_kind = $9,
		    last_error = $10, started_at = $11, finished_at = $12, updated_at = $13
		WHERE id = $1 AND status NOT IN ('DONE', 'FAILED')
	`
	result, err := r.pool.Exec(ctx, query,
		run.ID,
		run.Status,
		run.Stage,
		run.Attempt,
		run.DecisionPending,
		outputsJSON,
		stagesJSON,
		nullString(string(run.FailedStage)),
		nullString(string(run.FailureKind)),
		nullString(run.LastError),
		run.StartedAt,
		run.FinishedAt,
		run.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update campaign run: %w", err)
	}
	if result.RowsAffected() == 0 {
		if _, err := r.GetByID(ctx, run.ID); err != nil {
			return err
		}
		return fmt.Errorf("%w: run %s is finished", ErrInvalidState, run.ID)
	}
	return nil
}

// --- Helpers ---

// CampaignFilter — параметры фильтрации runs.
type CampaignFilter struct {
	Stage  domain.Stage
	Status domain.CampaignStatus
	Limit  int
	Offset int
}

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

func (f CampaignFilter) normalized() CampaignFilter {
	if f.Limit <= 0 {
		f.Limit = defaultListLimit
	}
	if f.Limit > maxListLimit {
		f.Limit = maxListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

// Match проверяет, подходит ли run под фильтр.
func (f CampaignFilter) Match(run *domain.CampaignRun) bool {
	if f.Stage != "" && run.Stage != f.Stage {
		return false
	}
	if f.Status != "" && run.Status != f.Status {
		return false
	}
	return true
}

func marshalRun(run *domain.CampaignRun) (input, outputs, stages []byte, err error) {
	input, err = json.Marshal(run.Input)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("marshal input: %w", err)
	}

	outputsMap := run.Outputs
	if outputsMap == nil {
		outputsMap = map[domain.Stage]json.RawMessage{}
	}
	outputs, err = json.Marshal(outputsMap)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("marshal outputs: %w", err)
	}

	stagesMap := run.Stages
	if stagesMap == nil {
		stagesMap = map[domain.Stage]*domain.StageState{}
	}
	stages, err = json.Marshal(stagesMap)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("marshal stages: %w", err)
	}

	return input, outputs, stages, nil
}

// scanCampaign сканирует одну строку в CampaignRun.
func scanCampaign(row pgx.Row) (*domain.CampaignRun, error) {
	var run domain.CampaignRun
	var inputJSON, outputsJSON, stagesJSON []byte
	var failedStage, failureKind, lastError *string

	err := row.Scan(
		&run.ID,
		&run.CampaignID,
		&run.Status,
		&run.Stage,
		&run.Attempt,
		&run.DecisionPending,
		&inputJSON,
		&outputsJSON,
		&stagesJSON,
		&failedStage,
		&failureKind,
		&lastError,
		&run.StartedAt,
		&run.FinishedAt,
		&run.CreatedAt,
		&run.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan campaign run: %w", err)
	}

	if err := json.Unmarshal(inputJSON, &run.Input); err != nil {
		return nil, fmt.Errorf("unmarshal input: %w", err)
	}
	if len(outputsJSON) > 0 {
		if err := json.Unmarshal(outputsJSON, &run.Outputs); err != nil {
			return nil, fmt.Errorf("unmarshal outputs: %w", err)
		}
	}
	if len(stagesJSON) > 0 {
		if err := json.Unmarshal(stagesJSON, &run.Stages); err != nil {
			return nil, fmt.Errorf("unmarshal stages: %w", err)
		}
	}

	if failedStage != nil {
		run.FailedStage = domain.Stage(*failedStage)
	}
	if failureKind != nil {
		run.FailureKind = domain.FailureKind(*failureKind)
	}
	if lastError != nil {
		run.LastError = *lastError
	}

	return &run, nil
}

func collectCampaigns(rows pgx.Rows) ([]domain.CampaignRun, error) {
	defer rows.Close()

	var runs []domain.CampaignRun
	for rows.Next() {
		run, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// nullString возвращает nil для пустой строки (для NULL в БД).
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
