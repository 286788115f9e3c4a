// Package services implements the boundary operations: order creation,
// inbound message ingestion, workflow definition management and tenant
// settings. Handlers stay thin; everything stateful happens here.
package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/codagent/flowkit/pkg/engine"
	"github.com/codagent/flowkit/pkg/models"
	"github.com/codagent/flowkit/pkg/persistence"
)

// awaitConfirmationDelay is how long a new order waits for the customer
// before the dispatcher escalates it.
const awaitConfirmationDelay = time.Minute

var validate = validator.New(validator.WithRequiredStructEnabled())

// Orders handles order creation and run introspection.
type Orders struct {
	persistence persistence.Persistence
	engine      *engine.Engine
	logger      *slog.Logger
}

// NewOrders creates the order service.
func NewOrders(p persistence.Persistence, eng *engine.Engine, logger *slog.Logger) *Orders {
	return &Orders{
		persistence: p,
		engine:      eng,
		logger:      logger.With("module", "orders"),
	}
}

// CreateOrderRequest is the boundary input for order creation.
type CreateOrderRequest struct {
	Data            map[string]any `json:"data"   validate:"required"`
	Source          string         `json:"source"`
	ExternalOrderID string         `json:"external_order_id"`
}

// CreateOrderResponse returns the created order and, when a published
// workflow exists, its run.
type CreateOrderResponse struct {
	Order *models.Order       `json:"order"`
	Run   *models.WorkflowRun `json:"run,omitempty"`
}

// CreateOrder allocates the human-readable order id, inserts the order,
// and when the tenant has a published workflow version creates a run bound
// to it, schedules the confirmation-escalation timer and starts the
// interpreter. Counter allocation comes first and is a hard failure: no
// order may exist without its id.
func (s *Orders) CreateOrder(ctx context.Context, tenantID string, req CreateOrderRequest) (*CreateOrderResponse, error) {
	err := validate.Struct(&req)
	if err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}

	phone, _ := req.Data["customer_phone"].(string)
	if phone == "" {
		return nil, ErrMissingPhone
	}

	number, err := s.persistence.Counters().NextOrderNumber(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to allocate order number: %w", err)
	}

	now := time.Now().UTC()
	order := &models.Order{
		ID:              uuid.Must(uuid.NewV7()).String(),
		TenantID:        tenantID,
		SystemOrderID:   fmt.Sprintf("SIS-%d", number),
		Status:          models.OrderStatusPending,
		Data:            req.Data,
		Source:          req.Source,
		ExternalOrderID: req.ExternalOrderID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	err = s.persistence.Orders().Create(ctx, order)
	if err != nil {
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	version, err := s.persistence.Workflows().CurrentPublished(ctx, tenantID)
	if errors.Is(err, persistence.ErrNoPublishedVersion) {
		// Tenants without a published workflow still take orders.
		s.logger.InfoContext(ctx, "Order created without workflow run",
			"tenant_id", tenantID, "order_id", order.ID)

		return &CreateOrderResponse{Order: order}, nil
	}

	if err != nil {
		return nil, fmt.Errorf("failed to resolve published version: %w", err)
	}

	conversation, err := s.persistence.Conversations().GetOrCreateByPhone(ctx, tenantID, phone)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve conversation: %w", err)
	}

	run := &models.WorkflowRun{
		ID:                uuid.Must(uuid.NewV7()).String(),
		TenantID:          tenantID,
		WorkflowVersionID: version.ID,
		OrderID:           order.ID,
		ConversationID:    conversation.ID,
		CurrentState:      models.StateAwaitMessage,
		Status:            models.RunStatusRunning,
		Context:           models.RunContext{},
		StartedAt:         now,
	}

	err = s.persistence.Runs().Create(ctx, run)
	if err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}

	timer := &models.Timer{
		ID:            uuid.Must(uuid.NewV7()).String(),
		TenantID:      tenantID,
		WorkflowRunID: run.ID,
		FireAt:        now.Add(awaitConfirmationDelay),
		Purpose:       models.TimerPurposeAwaitConfirmation,
		Status:        models.TimerStatusScheduled,
		CreatedAt:     now,
	}

	err = s.persistence.Timers().Create(ctx, timer)
	if err != nil {
		return nil, fmt.Errorf("failed to schedule escalation timer: %w", err)
	}

	// Interpreter failures are recorded on the run, never on the order:
	// the order exists regardless of how its workflow fares.
	err = s.engine.Start(ctx, tenantID, run.ID)
	if err != nil {
		s.logger.ErrorContext(ctx, "Workflow start failed",
			"tenant_id", tenantID, "order_id", order.ID, "run_id", run.ID, "error", err)
	}

	current, err := s.persistence.Runs().GetByID(ctx, tenantID, run.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to reload run: %w", err)
	}

	s.logger.InfoContext(ctx, "Order created",
		"tenant_id", tenantID, "order_id", order.ID,
		"system_order_id", order.SystemOrderID, "run_id", run.ID)

	return &CreateOrderResponse{Order: order, Run: current}, nil
}

// GetOrder fetches one order.
func (s *Orders) GetOrder(ctx context.Context, tenantID, orderID string) (*models.Order, error) {
	return s.persistence.Orders().GetByID(ctx, tenantID, orderID)
}

// ListRuns lists the runs bound to an order, for operator introspection.
func (s *Orders) ListRuns(ctx context.Context, tenantID, orderID string) ([]*models.WorkflowRun, error) {
	_, err := s.persistence.Orders().GetByID(ctx, tenantID, orderID)
	if err != nil {
		return nil, err
	}

	return s.persistence.Runs().ListByOrder(ctx, tenantID, orderID)
}

// GetRun fetches one run with its accumulated context.
func (s *Orders) GetRun(ctx context.Context, tenantID, runID string) (*models.WorkflowRun, error) {
	return s.persistence.Runs().GetByID(ctx, tenantID, runID)
}

// AdvanceRun re-enters the interpreter at the given action and returns the
// run's state afterwards. Caller-supplied context entries are merged into
// the run context before execution.
func (s *Orders) AdvanceRun(ctx context.Context, tenantID, runID, actionID string, input models.RunContext) (*models.WorkflowRun, error) {
	err := s.engine.Advance(ctx, tenantID, runID, actionID, input)
	if err != nil {
		return nil, err
	}

	return s.persistence.Runs().GetByID(ctx, tenantID, runID)
}
