package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/codagent/flowkit/pkg/models"
	"github.com/codagent/flowkit/pkg/persistence"
)

// WorkflowRepository handles workflow definition and version database
// operations.
type WorkflowRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewWorkflowRepository creates a new workflow repository.
func NewWorkflowRepository(db *sql.DB, logger *slog.Logger) *WorkflowRepository {
	return &WorkflowRepository{db: db, logger: logger}
}

func (r *WorkflowRepository) CreateDefinition(ctx context.Context, def *models.WorkflowDefinition) error {
	query := `
		INSERT INTO workflow_definitions (id, tenant_id, name, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := r.db.ExecContext(ctx, query,
		def.ID,
		def.TenantID,
		def.Name,
		def.IsActive,
		def.CreatedAt,
		def.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert workflow definition: %w", err)
	}

	return nil
}

func (r *WorkflowRepository) GetDefinition(ctx context.Context, tenantID, id string) (*models.WorkflowDefinition, error) {
	query := `
		SELECT id, tenant_id, name, is_active, created_at, updated_at
		FROM workflow_definitions
		WHERE tenant_id = $1 AND id = $2
	`

	var def models.WorkflowDefinition

	err := r.db.QueryRowContext(ctx, query, tenantID, id).Scan(
		&def.ID,
		&def.TenantID,
		&def.Name,
		&def.IsActive,
		&def.CreatedAt,
		&def.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrWorkflowNotFound
		}

		return nil, fmt.Errorf("failed to scan workflow definition: %w", err)
	}

	return &def, nil
}

func (r *WorkflowRepository) ListDefinitions(ctx context.Context, tenantID string) ([]*models.WorkflowDefinition, error) {
	query := `
		SELECT id, tenant_id, name, is_active, created_at, updated_at
		FROM workflow_definitions
		WHERE tenant_id = $1
		ORDER BY created_at ASC
	`

	rows, err := r.db.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to query workflow definitions: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	defs := make([]*models.WorkflowDefinition, 0)

	for rows.Next() {
		var def models.WorkflowDefinition

		err := rows.Scan(&def.ID, &def.TenantID, &def.Name, &def.IsActive, &def.CreatedAt, &def.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow definition: %w", err)
		}

		defs = append(defs, &def)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating workflow definitions: %w", err)
	}

	return defs, nil
}

const versionColumns = `
	id
  , tenant_id
  , workflow_id
  , version
  , definition
  , is_published
  , created_at
  , published_at
`

func (r *WorkflowRepository) CreateVersion(ctx context.Context, version *models.WorkflowVersion) error {
	definitionJSON, err := json.Marshal(version.Definition)
	if err != nil {
		return fmt.Errorf("failed to marshal definition: %w", err)
	}

	query := `
		INSERT INTO workflow_versions (` + versionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err = r.db.ExecContext(ctx, query,
		version.ID,
		version.TenantID,
		version.WorkflowID,
		version.Version,
		definitionJSON,
		version.IsPublished,
		version.CreatedAt,
		version.PublishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert workflow version: %w", err)
	}

	return nil
}

func (r *WorkflowRepository) GetVersion(ctx context.Context, tenantID, id string) (*models.WorkflowVersion, error) {
	query := `
		SELECT ` + versionColumns + `
		FROM workflow_versions
		WHERE tenant_id = $1 AND id = $2
	`

	return r.scanVersion(r.db.QueryRowContext(ctx, query, tenantID, id), persistence.ErrVersionNotFound)
}

func (r *WorkflowRepository) ListVersions(ctx context.Context, tenantID, workflowID string) ([]*models.WorkflowVersion, error) {
	query := `
		SELECT ` + versionColumns + `
		FROM workflow_versions
		WHERE tenant_id = $1 AND workflow_id = $2
		ORDER BY version ASC
	`

	rows, err := r.db.QueryContext(ctx, query, tenantID, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to query workflow versions: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	versions := make([]*models.WorkflowVersion, 0)

	for rows.Next() {
		version, err := scanVersionRow(rows)
		if err != nil {
			return nil, err
		}

		versions = append(versions, version)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating workflow versions: %w", err)
	}

	return versions, nil
}

// PublishVersion flips the version to published and unpublishes every other
// version of the tenant inside one transaction, keeping the one-published
// invariant.
func (r *WorkflowRepository) PublishVersion(ctx context.Context, tenantID, versionID string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx,
		`UPDATE workflow_versions SET is_published = FALSE WHERE tenant_id = $1 AND is_published`,
		tenantID,
	)
	if err != nil {
		return fmt.Errorf("failed to unpublish current version: %w", err)
	}

	result, err := tx.ExecContext(ctx,
		`UPDATE workflow_versions SET is_published = TRUE, published_at = $3 WHERE tenant_id = $1 AND id = $2`,
		tenantID, versionID, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to publish version: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}

	if affected == 0 {
		err = persistence.ErrVersionNotFound

		return err
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("failed to commit publish: %w", err)
	}

	return nil
}

func (r *WorkflowRepository) CurrentPublished(ctx context.Context, tenantID string) (*models.WorkflowVersion, error) {
	query := `
		SELECT ` + versionColumns + `
		FROM workflow_versions
		WHERE tenant_id = $1 AND is_published
	`

	return r.scanVersion(r.db.QueryRowContext(ctx, query, tenantID), persistence.ErrNoPublishedVersion)
}

func (r *WorkflowRepository) scanVersion(row *sql.Row, missing error) (*models.WorkflowVersion, error) {
	version, err := scanVersionRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, missing
		}

		return nil, err
	}

	return version, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanVersionRow(row rowScanner) (*models.WorkflowVersion, error) {
	var (
		version        models.WorkflowVersion
		definitionJSON []byte
	)

	err := row.Scan(
		&version.ID,
		&version.TenantID,
		&version.WorkflowID,
		&version.Version,
		&definitionJSON,
		&version.IsPublished,
		&version.CreatedAt,
		&version.PublishedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sql.ErrNoRows
		}

		return nil, fmt.Errorf("failed to scan workflow version: %w", err)
	}

	err = json.Unmarshal(definitionJSON, &version.Definition)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal definition: %w", err)
	}

	return &version, nil
}
