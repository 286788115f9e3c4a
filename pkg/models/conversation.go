package models

import "time"

// MessageDirection distinguishes inbound customer messages from outbound
// sends.
type MessageDirection string

const (
	MessageInbound  MessageDirection = "inbound"
	MessageOutbound MessageDirection = "outbound"
)

// Conversation groups the message history with one customer phone number.
type Conversation struct {
	ID            string    `json:"id"`
	TenantID      string    `json:"tenant_id"      validate:"required"`
	CustomerPhone string    `json:"customer_phone" validate:"required"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Message is one recorded message in a conversation.
type Message struct {
	ID             string           `json:"id"`
	TenantID       string           `json:"tenant_id"       validate:"required"`
	ConversationID string           `json:"conversation_id" validate:"required"`
	Direction      MessageDirection `json:"direction"`
	Text           string           `json:"text"`
	CreatedAt      time.Time        `json:"created_at"`
}
