// Package gateway is the outbound messaging boundary. The engine and the
// ingestion service enqueue messages here; delivery to the actual channel
// (WhatsApp, SMS) is handled downstream by whatever consumes the topic.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

// OutboundTopic carries enqueued customer messages.
const OutboundTopic = "flowkit.messages.outbound"

// OutboundMessage is one message to deliver to a customer.
type OutboundMessage struct {
	TenantID       string    `json:"tenant_id"`
	ConversationID string    `json:"conversation_id"`
	OrderID        string    `json:"order_id,omitempty"`
	Text           string    `json:"text"`
	EnqueuedAt     time.Time `json:"enqueued_at"`
}

// Gateway enqueues outbound messages.
type Gateway interface {
	Enqueue(ctx context.Context, msg OutboundMessage) error
}

// WatermillGateway publishes outbound messages on a watermill publisher
// (gochannel for dev, Kafka in production).
type WatermillGateway struct {
	publisher message.Publisher
	logger    *slog.Logger
}

// NewWatermillGateway creates a gateway on top of the given publisher.
func NewWatermillGateway(publisher message.Publisher, logger *slog.Logger) *WatermillGateway {
	return &WatermillGateway{
		publisher: publisher,
		logger:    logger.With("component", "messaging_gateway"),
	}
}

func (g *WatermillGateway) Enqueue(ctx context.Context, msg OutboundMessage) error {
	if msg.EnqueuedAt.IsZero() {
		msg.EnqueuedAt = time.Now().UTC()
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode outbound message: %w", err)
	}

	wmsg := message.NewMessage(watermill.NewULID(), payload)
	wmsg.Metadata.Set("tenant_id", msg.TenantID)
	wmsg.Metadata.Set("conversation_id", msg.ConversationID)

	err = g.publisher.Publish(OutboundTopic, wmsg)
	if err != nil {
		return fmt.Errorf("failed to publish outbound message: %w", err)
	}

	g.logger.DebugContext(ctx, "Outbound message enqueued",
		"tenant_id", msg.TenantID, "conversation_id", msg.ConversationID)

	return nil
}
