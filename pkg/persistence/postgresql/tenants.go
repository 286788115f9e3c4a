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

// TenantRepository handles tenant settings database operations.
type TenantRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewTenantRepository creates a new tenant repository.
func NewTenantRepository(db *sql.DB, logger *slog.Logger) *TenantRepository {
	return &TenantRepository{db: db, logger: logger}
}

func (r *TenantRepository) Get(ctx context.Context, tenantID string) (*models.TenantSettings, error) {
	query := `
		SELECT tenant_id, ai_api_key, oracle_mode, llm_endpoint, llm_model, updated_at
		FROM tenant_settings
		WHERE tenant_id = $1
	`

	var settings models.TenantSettings

	err := r.db.QueryRowContext(ctx, query, tenantID).Scan(
		&settings.TenantID,
		&settings.AIAPIKey,
		&settings.OracleMode,
		&settings.LLMEndpoint,
		&settings.LLMModel,
		&settings.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrTenantNotFound
		}

		return nil, fmt.Errorf("failed to scan tenant settings: %w", err)
	}

	return &settings, nil
}

func (r *TenantRepository) Save(ctx context.Context, settings *models.TenantSettings) error {
	query := `
		INSERT INTO tenant_settings (tenant_id, ai_api_key, oracle_mode, llm_endpoint, llm_model, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (tenant_id)
		DO UPDATE SET
			ai_api_key = EXCLUDED.ai_api_key,
			oracle_mode = EXCLUDED.oracle_mode,
			llm_endpoint = EXCLUDED.llm_endpoint,
			llm_model = EXCLUDED.llm_model,
			updated_at = EXCLUDED.updated_at
	`

	_, err := r.db.ExecContext(ctx, query,
		settings.TenantID,
		settings.AIAPIKey,
		settings.Mode(),
		settings.LLMEndpoint,
		settings.LLMModel,
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save tenant settings: %w", err)
	}

	return nil
}

// CounterRepository allocates order numbers with an atomic upsert.
type CounterRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewCounterRepository creates a new counter repository.
func NewCounterRepository(db *sql.DB, logger *slog.Logger) *CounterRepository {
	return &CounterRepository{db: db, logger: logger}
}

// NextOrderNumber increments and returns the tenant's order counter in one
// statement, so concurrent allocations never produce duplicates.
func (r *CounterRepository) NextOrderNumber(ctx context.Context, tenantID string) (int64, error) {
	query := `
		INSERT INTO order_counters (tenant_id, n)
		VALUES ($1, 1)
		ON CONFLICT (tenant_id)
		DO UPDATE SET n = order_counters.n + 1
		RETURNING n
	`

	var n int64

	err := r.db.QueryRowContext(ctx, query, tenantID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to allocate order number: %w", err)
	}

	return n, nil
}
