package memory

import (
	"context"
	"time"

	"github.com/codagent/flowkit/pkg/models"
	"github.com/codagent/flowkit/pkg/persistence"
	"github.com/google/uuid"
)

type conversationRepository struct {
	p *Persistence
}

func (r *conversationRepository) GetOrCreateByPhone(_ context.Context, tenantID, phone string) (*models.Conversation, error) {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	for _, conv := range r.p.conversations {
		if conv.TenantID == tenantID && conv.CustomerPhone == phone {
			clone := *conv

			return &clone, nil
		}
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	conv := &models.Conversation{
		ID:            id.String(),
		TenantID:      tenantID,
		CustomerPhone: phone,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	r.p.conversations[key(tenantID, conv.ID)] = conv

	clone := *conv

	return &clone, nil
}

func (r *conversationRepository) GetByID(_ context.Context, tenantID, id string) (*models.Conversation, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	conv, ok := r.p.conversations[key(tenantID, id)]
	if !ok {
		return nil, persistence.ErrConversationNotFound
	}

	clone := *conv

	return &clone, nil
}

func (r *conversationRepository) AppendMessage(_ context.Context, msg *models.Message) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	convKey := key(msg.TenantID, msg.ConversationID)
	if _, ok := r.p.conversations[convKey]; !ok {
		return persistence.ErrConversationNotFound
	}

	clone := *msg
	r.p.messages[convKey] = append(r.p.messages[convKey], &clone)
	r.p.conversations[convKey].UpdatedAt = time.Now().UTC()

	return nil
}

func (r *conversationRepository) Messages(_ context.Context, tenantID, conversationID string) ([]*models.Message, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	stored := r.p.messages[key(tenantID, conversationID)]
	messages := make([]*models.Message, 0, len(stored))

	for _, msg := range stored {
		clone := *msg
		messages = append(messages, &clone)
	}

	return messages, nil
}
