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
	"github.com/google/uuid"
)

// ConversationRepository handles conversation and message database
// operations.
type ConversationRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewConversationRepository creates a new conversation repository.
func NewConversationRepository(db *sql.DB, logger *slog.Logger) *ConversationRepository {
	return &ConversationRepository{db: db, logger: logger}
}

// GetOrCreateByPhone returns the conversation for the phone number, creating
// it if needed. The unique (tenant_id, customer_phone) constraint makes the
// insert race-safe: ON CONFLICT falls through to the existing row.
func (r *ConversationRepository) GetOrCreateByPhone(ctx context.Context, tenantID, phone string) (*models.Conversation, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate conversation ID: %w", err)
	}

	now := time.Now().UTC()

	query := `
		INSERT INTO conversations (id, tenant_id, customer_phone, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
		ON CONFLICT (tenant_id, customer_phone) DO UPDATE SET updated_at = conversations.updated_at
		RETURNING id, tenant_id, customer_phone, created_at, updated_at
	`

	var conv models.Conversation

	err = r.db.QueryRowContext(ctx, query, id.String(), tenantID, phone, now).Scan(
		&conv.ID,
		&conv.TenantID,
		&conv.CustomerPhone,
		&conv.CreatedAt,
		&conv.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get or create conversation: %w", err)
	}

	return &conv, nil
}

func (r *ConversationRepository) GetByID(ctx context.Context, tenantID, id string) (*models.Conversation, error) {
	query := `
		SELECT id, tenant_id, customer_phone, created_at, updated_at
		FROM conversations
		WHERE tenant_id = $1 AND id = $2
	`

	var conv models.Conversation

	err := r.db.QueryRowContext(ctx, query, tenantID, id).Scan(
		&conv.ID,
		&conv.TenantID,
		&conv.CustomerPhone,
		&conv.CreatedAt,
		&conv.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrConversationNotFound
		}

		return nil, fmt.Errorf("failed to scan conversation: %w", err)
	}

	return &conv, nil
}

func (r *ConversationRepository) AppendMessage(ctx context.Context, msg *models.Message) error {
	query := `
		INSERT INTO messages (id, tenant_id, conversation_id, direction, text, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := r.db.ExecContext(ctx, query,
		msg.ID,
		msg.TenantID,
		msg.ConversationID,
		msg.Direction,
		msg.Text,
		msg.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}

	return nil
}

func (r *ConversationRepository) Messages(ctx context.Context, tenantID, conversationID string) ([]*models.Message, error) {
	query := `
		SELECT id, tenant_id, conversation_id, direction, text, created_at
		FROM messages
		WHERE tenant_id = $1 AND conversation_id = $2
		ORDER BY created_at ASC
	`

	rows, err := r.db.QueryContext(ctx, query, tenantID, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	messages := make([]*models.Message, 0)

	for rows.Next() {
		var msg models.Message

		err := rows.Scan(
			&msg.ID,
			&msg.TenantID,
			&msg.ConversationID,
			&msg.Direction,
			&msg.Text,
			&msg.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}

		messages = append(messages, &msg)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating messages: %w", err)
	}

	return messages, nil
}
