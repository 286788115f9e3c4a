package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/codagent/flowkit/pkg/gateway"
	"github.com/codagent/flowkit/pkg/models"
	"github.com/codagent/flowkit/pkg/persistence"
)

// Intent is the coarse classification of an inbound message.
type Intent string

const (
	IntentConfirm Intent = "confirm"
	IntentOther   Intent = "other"
)

// confirmTokens are the words recognized as a confirmation, matched
// case-insensitively against the whole message or any of its words.
var confirmTokens = map[string]struct{}{
	"yes":       {},
	"confirm":   {},
	"confirmed": {},
	"ok":        {},
	"okay":      {},
	"si":        {},
	"sí":        {},
	"1":         {},
}

// ClassifyIntent applies the keyword rule to an inbound message.
func ClassifyIntent(text string) Intent {
	normalized := strings.ToLower(strings.TrimSpace(text))
	if _, ok := confirmTokens[normalized]; ok {
		return IntentConfirm
	}

	for _, word := range strings.Fields(normalized) {
		if _, ok := confirmTokens[strings.Trim(word, ".,!?")]; ok {
			return IntentConfirm
		}
	}

	return IntentOther
}

// Messaging handles inbound customer messages.
type Messaging struct {
	persistence persistence.Persistence
	gateway     gateway.Gateway
	logger      *slog.Logger
}

// NewMessaging creates the inbound-message service.
func NewMessaging(p persistence.Persistence, g gateway.Gateway, logger *slog.Logger) *Messaging {
	return &Messaging{
		persistence: p,
		gateway:     g,
		logger:      logger.With("module", "messaging"),
	}
}

// InboundMessageRequest is the boundary input for message ingestion.
type InboundMessageRequest struct {
	CustomerPhone  string `json:"customer_phone" validate:"required"`
	MessageText    string `json:"message_text"   validate:"required"`
	ConversationID string `json:"conversation_id"`
}

// InboundMessageResponse reports how the message was handled.
type InboundMessageResponse struct {
	ConversationID string        `json:"conversation_id"`
	Intent         Intent        `json:"intent"`
	Order          *models.Order `json:"order,omitempty"`
}

// IngestInbound records an inbound message, classifies its intent and on a
// confirmation flips the customer's most recent order to confirmed. Every
// path answers the customer with an outbound message.
func (s *Messaging) IngestInbound(ctx context.Context, tenantID string, req InboundMessageRequest) (*InboundMessageResponse, error) {
	err := validate.Struct(&req)
	if err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}

	conversation, err := s.resolveConversation(ctx, tenantID, req)
	if err != nil {
		return nil, err
	}

	inbound := &models.Message{
		ID:             uuid.Must(uuid.NewV7()).String(),
		TenantID:       tenantID,
		ConversationID: conversation.ID,
		Direction:      models.MessageInbound,
		Text:           req.MessageText,
		CreatedAt:      time.Now().UTC(),
	}

	err = s.persistence.Conversations().AppendMessage(ctx, inbound)
	if err != nil {
		return nil, fmt.Errorf("failed to record inbound message: %w", err)
	}

	intent := ClassifyIntent(req.MessageText)
	response := &InboundMessageResponse{
		ConversationID: conversation.ID,
		Intent:         intent,
	}

	if intent == IntentConfirm {
		order, err := s.confirmLatestOrder(ctx, tenantID, req.CustomerPhone)
		if err != nil {
			return nil, err
		}

		response.Order = order

		reply := "Thanks! Your order is confirmed."
		if order != nil {
			reply = fmt.Sprintf("Thanks! Your order %s is confirmed.", order.SystemOrderID)
		}

		err = s.reply(ctx, tenantID, conversation.ID, order, reply)
		if err != nil {
			return nil, err
		}

		return response, nil
	}

	err = s.reply(ctx, tenantID, conversation.ID, nil, "Thanks for your message, a human will follow up shortly.")
	if err != nil {
		return nil, err
	}

	return response, nil
}

func (s *Messaging) resolveConversation(ctx context.Context, tenantID string, req InboundMessageRequest) (*models.Conversation, error) {
	if req.ConversationID != "" {
		conversation, err := s.persistence.Conversations().GetByID(ctx, tenantID, req.ConversationID)
		if err == nil {
			return conversation, nil
		}

		if !errors.Is(err, persistence.ErrConversationNotFound) {
			return nil, fmt.Errorf("failed to load conversation: %w", err)
		}
	}

	conversation, err := s.persistence.Conversations().GetOrCreateByPhone(ctx, tenantID, req.CustomerPhone)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve conversation: %w", err)
	}

	return conversation, nil
}

// confirmLatestOrder flips the phone's most recent order to confirmed. No
// order, or an order past the point where confirmation matters, is not an
// error: the confirmation reply still goes out.
func (s *Messaging) confirmLatestOrder(ctx context.Context, tenantID, phone string) (*models.Order, error) {
	order, err := s.persistence.Orders().LatestByPhone(ctx, tenantID, phone)
	if errors.Is(err, persistence.ErrOrderNotFound) {
		s.logger.InfoContext(ctx, "Confirmation without matching order",
			"tenant_id", tenantID, "phone", phone)

		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("failed to locate latest order: %w", err)
	}

	if order.Status.Terminal() || order.Status == models.OrderStatusConfirmed {
		return order, nil
	}

	err = s.persistence.Orders().UpdateStatus(ctx, tenantID, order.ID, models.OrderStatusConfirmed)
	if err != nil {
		return nil, fmt.Errorf("failed to confirm order: %w", err)
	}

	order.Status = models.OrderStatusConfirmed

	s.logger.InfoContext(ctx, "Order confirmed by customer",
		"tenant_id", tenantID, "order_id", order.ID)

	return order, nil
}

func (s *Messaging) reply(ctx context.Context, tenantID, conversationID string, order *models.Order, text string) error {
	orderID := ""
	if order != nil {
		orderID = order.ID
	}

	err := s.gateway.Enqueue(ctx, gateway.OutboundMessage{
		TenantID:       tenantID,
		ConversationID: conversationID,
		OrderID:        orderID,
		Text:           text,
	})
	if err != nil {
		return fmt.Errorf("failed to enqueue reply: %w", err)
	}

	outbound := &models.Message{
		ID:             uuid.Must(uuid.NewV7()).String(),
		TenantID:       tenantID,
		ConversationID: conversationID,
		Direction:      models.MessageOutbound,
		Text:           text,
		CreatedAt:      time.Now().UTC(),
	}

	err = s.persistence.Conversations().AppendMessage(ctx, outbound)
	if err != nil {
		return fmt.Errorf("failed to record reply: %w", err)
	}

	return nil
}

// History returns the message history of a conversation.
func (s *Messaging) History(ctx context.Context, tenantID, conversationID string) ([]*models.Message, error) {
	_, err := s.persistence.Conversations().GetByID(ctx, tenantID, conversationID)
	if err != nil {
		return nil, err
	}

	return s.persistence.Conversations().Messages(ctx, tenantID, conversationID)
}
