package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/codagent/flowkit/pkg/models"
	"github.com/codagent/flowkit/pkg/persistence"
)

// TimerRepository handles timer database operations.
type TimerRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewTimerRepository creates a new timer repository.
func NewTimerRepository(db *sql.DB, logger *slog.Logger) *TimerRepository {
	return &TimerRepository{db: db, logger: logger}
}

const timerColumns = `
	id
  , tenant_id
  , workflow_run_id
  , fire_at
  , purpose
  , status
  , fired_at
  , created_at
`

func (r *TimerRepository) Create(ctx context.Context, timer *models.Timer) error {
	query := `
		INSERT INTO timers (` + timerColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.db.ExecContext(ctx, query,
		timer.ID,
		timer.TenantID,
		timer.WorkflowRunID,
		timer.FireAt,
		timer.Purpose,
		timer.Status,
		timer.FiredAt,
		timer.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert timer: %w", err)
	}

	return nil
}

func (r *TimerRepository) GetByID(ctx context.Context, tenantID, id string) (*models.Timer, error) {
	query := `
		SELECT ` + timerColumns + `
		FROM timers
		WHERE tenant_id = $1 AND id = $2
	`

	timer, err := scanTimerRow(r.db.QueryRowContext(ctx, query, tenantID, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrTimerNotFound
		}

		return nil, err
	}

	return timer, nil
}

func (r *TimerRepository) ListByRun(ctx context.Context, tenantID, runID string) ([]*models.Timer, error) {
	query := `
		SELECT ` + timerColumns + `
		FROM timers
		WHERE tenant_id = $1 AND workflow_run_id = $2
		ORDER BY created_at ASC
	`

	return r.queryTimers(ctx, query, tenantID, runID)
}

// Due returns all scheduled timers at or past their fire time, across
// tenants. The sweep processes them in any order.
func (r *TimerRepository) Due(ctx context.Context, now time.Time) ([]*models.Timer, error) {
	query := `
		SELECT ` + timerColumns + `
		FROM timers
		WHERE status = $1 AND fire_at <= $2
		ORDER BY fire_at ASC
	`

	return r.queryTimers(ctx, query, models.TimerStatusScheduled, now)
}

// Claim conditionally flips the timer scheduled -> fired. The WHERE clause
// on status makes the flip atomic against concurrent sweeps: only the sweep
// whose UPDATE affects a row may apply side effects.
func (r *TimerRepository) Claim(ctx context.Context, tenantID, id string, firedAt time.Time) (bool, error) {
	query := `
		UPDATE timers
		SET status = $3, fired_at = $4
		WHERE tenant_id = $1 AND id = $2 AND status = $5
	`

	result, err := r.db.ExecContext(ctx, query,
		tenantID,
		id,
		models.TimerStatusFired,
		firedAt.UTC(),
		models.TimerStatusScheduled,
	)
	if err != nil {
		return false, fmt.Errorf("failed to claim timer: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}

	return affected > 0, nil
}

func (r *TimerRepository) queryTimers(ctx context.Context, query string, args ...any) ([]*models.Timer, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query timers: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	timers := make([]*models.Timer, 0)

	for rows.Next() {
		timer, err := scanTimerRow(rows)
		if err != nil {
			return nil, err
		}

		timers = append(timers, timer)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating timers: %w", err)
	}

	return timers, nil
}

func scanTimerRow(row rowScanner) (*models.Timer, error) {
	var timer models.Timer

	err := row.Scan(
		&timer.ID,
		&timer.TenantID,
		&timer.WorkflowRunID,
		&timer.FireAt,
		&timer.Purpose,
		&timer.Status,
		&timer.FiredAt,
		&timer.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sql.ErrNoRows
		}

		return nil, fmt.Errorf("failed to scan timer: %w", err)
	}

	return &timer, nil
}
