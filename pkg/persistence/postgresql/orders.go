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

// OrderRepository handles order-related database operations.
type OrderRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewOrderRepository creates a new order repository.
func NewOrderRepository(db *sql.DB, logger *slog.Logger) *OrderRepository {
	return &OrderRepository{db: db, logger: logger}
}

const orderColumns = `
	id
  , tenant_id
  , system_order_id
  , status
  , data
  , needs_attention
  , notes
  , source
  , external_order_id
  , created_at
  , updated_at
`

func (r *OrderRepository) Create(ctx context.Context, order *models.Order) error {
	dataJSON, err := json.Marshal(order.Data)
	if err != nil {
		return fmt.Errorf("failed to marshal order data: %w", err)
	}

	notesJSON, err := json.Marshal(order.Notes)
	if err != nil {
		return fmt.Errorf("failed to marshal order notes: %w", err)
	}

	query := `
		INSERT INTO orders (` + orderColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err = r.db.ExecContext(ctx, query,
		order.ID,
		order.TenantID,
		order.SystemOrderID,
		order.Status,
		dataJSON,
		order.NeedsAttention,
		notesJSON,
		order.Source,
		order.ExternalOrderID,
		order.CreatedAt,
		order.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}

	return nil
}

func (r *OrderRepository) GetByID(ctx context.Context, tenantID, id string) (*models.Order, error) {
	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE tenant_id = $1 AND id = $2
	`

	return r.scanOrder(r.db.QueryRowContext(ctx, query, tenantID, id))
}

func (r *OrderRepository) LatestByPhone(ctx context.Context, tenantID, phone string) (*models.Order, error) {
	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE tenant_id = $1 AND data->>'customer_phone' = $2
		ORDER BY created_at DESC, system_order_id DESC
		LIMIT 1
	`

	return r.scanOrder(r.db.QueryRowContext(ctx, query, tenantID, phone))
}

// UpdateStatus writes only the status column so concurrent writers touching
// other fields are not clobbered.
func (r *OrderRepository) UpdateStatus(ctx context.Context, tenantID, id string, status models.OrderStatus) error {
	query := `
		UPDATE orders
		SET status = $3, updated_at = $4
		WHERE tenant_id = $1 AND id = $2
	`

	return r.execNarrowUpdate(ctx, query, tenantID, id, status, time.Now().UTC())
}

func (r *OrderRepository) MarkNeedsAttention(ctx context.Context, tenantID, id string, needsAttention bool) error {
	query := `
		UPDATE orders
		SET needs_attention = $3, updated_at = $4
		WHERE tenant_id = $1 AND id = $2
	`

	return r.execNarrowUpdate(ctx, query, tenantID, id, needsAttention, time.Now().UTC())
}

func (r *OrderRepository) AppendNote(ctx context.Context, tenantID, id string, note models.Note) error {
	noteJSON, err := json.Marshal(note)
	if err != nil {
		return fmt.Errorf("failed to marshal note: %w", err)
	}

	query := `
		UPDATE orders
		SET notes = notes || $3::jsonb, updated_at = $4
		WHERE tenant_id = $1 AND id = $2
	`

	return r.execNarrowUpdate(ctx, query, tenantID, id, noteJSON, time.Now().UTC())
}

func (r *OrderRepository) execNarrowUpdate(ctx context.Context, query string, args ...any) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update order: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}

	if affected == 0 {
		return persistence.ErrOrderNotFound
	}

	return nil
}

func (r *OrderRepository) scanOrder(row *sql.Row) (*models.Order, error) {
	var (
		order     models.Order
		dataJSON  []byte
		notesJSON []byte
	)

	err := row.Scan(
		&order.ID,
		&order.TenantID,
		&order.SystemOrderID,
		&order.Status,
		&dataJSON,
		&order.NeedsAttention,
		&notesJSON,
		&order.Source,
		&order.ExternalOrderID,
		&order.CreatedAt,
		&order.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrOrderNotFound
		}

		return nil, fmt.Errorf("failed to scan order: %w", err)
	}

	err = json.Unmarshal(dataJSON, &order.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal order data: %w", err)
	}

	err = json.Unmarshal(notesJSON, &order.Notes)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal order notes: %w", err)
	}

	return &order, nil
}
