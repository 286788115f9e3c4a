package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/codagent/flowkit/pkg/models"
	"github.com/codagent/flowkit/pkg/persistence"
)

// RunRepository handles workflow run database operations.
type RunRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewRunRepository creates a new run repository.
func NewRunRepository(db *sql.DB, logger *slog.Logger) *RunRepository {
	return &RunRepository{db: db, logger: logger}
}

const runColumns = `
	id
  , tenant_id
  , workflow_version_id
  , order_id
  , conversation_id
  , current_state
  , status
  , context
  , started_at
  , completed_at
  , error_message
`

func (r *RunRepository) Create(ctx context.Context, run *models.WorkflowRun) error {
	contextJSON, err := json.Marshal(run.Context)
	if err != nil {
		return fmt.Errorf("failed to marshal run context: %w", err)
	}

	query := `
		INSERT INTO workflow_runs (` + runColumns + `)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), $6, $7, $8, $9, $10, $11)
	`

	_, err = r.db.ExecContext(ctx, query,
		run.ID,
		run.TenantID,
		run.WorkflowVersionID,
		run.OrderID,
		run.ConversationID,
		run.CurrentState,
		run.Status,
		contextJSON,
		run.StartedAt,
		run.CompletedAt,
		run.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("failed to insert workflow run: %w", err)
	}

	return nil
}

func (r *RunRepository) GetByID(ctx context.Context, tenantID, id string) (*models.WorkflowRun, error) {
	query := `
		SELECT ` + runColumns + `
		FROM workflow_runs
		WHERE tenant_id = $1 AND id = $2
	`

	run, err := scanRunRow(r.db.QueryRowContext(ctx, query, tenantID, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrRunNotFound
		}

		return nil, err
	}

	return run, nil
}

func (r *RunRepository) ListByOrder(ctx context.Context, tenantID, orderID string) ([]*models.WorkflowRun, error) {
	query := `
		SELECT ` + runColumns + `
		FROM workflow_runs
		WHERE tenant_id = $1 AND order_id = $2
		ORDER BY started_at ASC
	`

	rows, err := r.db.QueryContext(ctx, query, tenantID, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to query workflow runs: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	runs := make([]*models.WorkflowRun, 0)

	for rows.Next() {
		run, err := scanRunRow(rows)
		if err != nil {
			return nil, err
		}

		runs = append(runs, run)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating workflow runs: %w", err)
	}

	return runs, nil
}

// UpdateState is the durable step boundary: current_state, status, context
// and error are written together so the last committed row is always a
// valid resume point.
func (r *RunRepository) UpdateState(ctx context.Context, run *models.WorkflowRun) error {
	contextJSON, err := json.Marshal(run.Context)
	if err != nil {
		return fmt.Errorf("failed to marshal run context: %w", err)
	}

	query := `
		UPDATE workflow_runs
		SET current_state = $3
		  , status = $4
		  , context = $5
		  , completed_at = $6
		  , error_message = $7
		WHERE tenant_id = $1 AND id = $2
	`

	result, err := r.db.ExecContext(ctx, query,
		run.TenantID,
		run.ID,
		run.CurrentState,
		run.Status,
		contextJSON,
		run.CompletedAt,
		run.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("failed to update workflow run: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}

	if affected == 0 {
		return persistence.ErrRunNotFound
	}

	return nil
}

func scanRunRow(row rowScanner) (*models.WorkflowRun, error) {
	var (
		run            models.WorkflowRun
		orderID        sql.NullString
		conversationID sql.NullString
		contextJSON    []byte
	)

	err := row.Scan(
		&run.ID,
		&run.TenantID,
		&run.WorkflowVersionID,
		&orderID,
		&conversationID,
		&run.CurrentState,
		&run.Status,
		&contextJSON,
		&run.StartedAt,
		&run.CompletedAt,
		&run.ErrorMessage,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sql.ErrNoRows
		}

		return nil, fmt.Errorf("failed to scan workflow run: %w", err)
	}

	run.OrderID = orderID.String
	run.ConversationID = conversationID.String

	err = json.Unmarshal(contextJSON, &run.Context)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal run context: %w", err)
	}

	return &run, nil
}
