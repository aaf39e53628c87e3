package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shaiso/Veil/internal/domain"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// RunRepo — история завершённых runs.
type RunRepo struct {
	pool *pgxpool.Pool
}

// NewRunRepo создаёт новый RunRepo.
func NewRunRepo(pool *pgxpool.Pool) *RunRepo {
	return &RunRepo{pool: pool}
}

// SaveRun сохраняет итог run. Повторное сохранение того же run перезаписывает запись.
func (r *RunRepo) SaveRun(ctx context.Context, result *domain.PipelineResult) error {
	stepsJSON, err := json.Marshal(result.Steps)
	if err != nil {
		return fmt.Errorf("marshal steps: %w", err)
	}

	query := `
		INSERT INTO runs (id, success, error, failed_step, output, steps, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE
		SET success = EXCLUDED.success,
		    error = EXCLUDED.error,
		    failed_step = EXCLUDED.failed_step,
		    output = EXCLUDED.output,
		    steps = EXCLUDED.steps,
		    finished_at = EXCLUDED.finished_at
	`
	_, err = r.pool.Exec(ctx, query,
		result.RunID,
		result.Success,
		nullString(result.Error),
		nullString(string(result.FailedStep)),
		nullJSON(result.Output),
		stepsJSON,
		result.StartTime,
		result.EndTime,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// GetByID возвращает run по ID.
func (r *RunRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.PipelineResult, error) {
	query := `
		SELECT id, success, error, failed_step, output, steps, started_at, finished_at
		FROM runs
		WHERE id = $1
	`
	result, err := scanRun(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return result, err
}

// List возвращает runs, начиная с последних.
func (r *RunRepo) List(ctx context.Context, filter RunFilter) ([]domain.PipelineResult, error) {
	filter = filter.normalize()

	query := `
		SELECT id, success, error, failed_step, output, steps, started_at, finished_at
		FROM runs
		WHERE ($1::boolean IS NULL OR success = $1)
		ORDER BY finished_at DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := r.pool.Query(ctx, query, filter.Success, filter.Limit, filter.Offset)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []domain.PipelineResult
	for rows.Next() {
		result, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *result)
	}
	return runs, rows.Err()
}

// Prune удаляет runs, завершённые раньше before. Возвращает число удалённых.
func (r *RunRepo) Prune(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM runs WHERE finished_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("prune runs: %w", err)
	}
	return tag.RowsAffected(), nil
}

// --- Helpers ---

// RunFilter — параметры выборки runs.
type RunFilter struct {
	// Success — nil означает все runs.
	Success *bool
	Limit   int
	Offset  int
}

// normalize приводит limit/offset к допустимым значениям.
func (f RunFilter) normalize() RunFilter {
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

// scanRun сканирует одну строку в PipelineResult.
func scanRun(row pgx.Row) (*domain.PipelineResult, error) {
	var result domain.PipelineResult
	var runError, failedStep *string
	var output, stepsJSON []byte

	err := row.Scan(
		&result.RunID,
		&result.Success,
		&runError,
		&failedStep,
		&output,
		&stepsJSON,
		&result.StartTime,
		&result.EndTime,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan run: %w", err)
	}

	if runError != nil {
		result.Error = *runError
	}
	if failedStep != nil {
		result.FailedStep = domain.StepID(*failedStep)
	}
	if output != nil {
		result.Output = json.RawMessage(output)
	}
	if stepsJSON != nil {
		if err := json.Unmarshal(stepsJSON, &result.Steps); err != nil {
			return nil, fmt.Errorf("unmarshal steps: %w", err)
		}
	}

	return &result, nil
}

// nullString возвращает nil для пустой строки (для NULL в БД).
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// nullJSON возвращает nil для пустого JSON (для NULL в БД).
func nullJSON(raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return nil
	}
	return raw
}
