// Package dispatcher sweeps due timers and turns them into run transitions:
// engine re-entry for workflow waits, escalation for unanswered orders,
// follow-up marking. Each timer is claimed with a conditional update before
// any side effect, so concurrent sweeps consume it at most once.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/codagent/flowkit/pkg/models"
	"github.com/codagent/flowkit/pkg/otelhelper"
	"github.com/codagent/flowkit/pkg/persistence"
)

// Engine is the engine surface the dispatcher re-enters on
// workflow_continue timers.
type Engine interface {
	Resume(ctx context.Context, tenantID, runID string) error
}

// Result aggregates one sweep: Found counts due timers seen, Processed the
// ones whose side effect applied. Found > Processed means claims lost to a
// concurrent sweep or per-timer failures.
type Result struct {
	Found     int `json:"found"`
	Processed int `json:"processed"`
}

// Dispatcher processes due timers.
type Dispatcher struct {
	persistence persistence.Persistence
	engine      Engine
	logger      *slog.Logger
	tracer      trace.Tracer
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithTracer attaches a tracer; the default is a noop tracer.
func WithTracer(tracer trace.Tracer) Option {
	return func(d *Dispatcher) { d.tracer = tracer }
}

// NewDispatcher creates a Dispatcher over the given storage and engine.
func NewDispatcher(p persistence.Persistence, engine Engine, logger *slog.Logger, opts ...Option) *Dispatcher {
	dispatcher := &Dispatcher{
		persistence: p,
		engine:      engine,
		logger:      logger.With("module", "dispatcher"),
		tracer:      noop.NewTracerProvider().Tracer("dispatcher"),
	}

	for _, opt := range opts {
		opt(dispatcher)
	}

	return dispatcher
}

// Sweep processes every timer due at now. A failure on one timer is logged
// and never aborts the rest of the sweep.
func (d *Dispatcher) Sweep(ctx context.Context, now time.Time) (Result, error) {
	ctx, span := otelhelper.StartSpan(ctx, d.tracer, "dispatcher.sweep")
	defer span.End()

	due, err := d.persistence.Timers().Due(ctx, now)
	if err != nil {
		otelhelper.SetError(span, err)

		return Result{}, fmt.Errorf("failed to list due timers: %w", err)
	}

	result := Result{Found: len(due)}

	for _, timer := range due {
		claimed, err := d.persistence.Timers().Claim(ctx, timer.TenantID, timer.ID, now)
		if err != nil {
			d.logger.ErrorContext(ctx, "Failed to claim timer",
				"tenant_id", timer.TenantID, "timer_id", timer.ID, "error", err)

			continue
		}

		if !claimed {
			// Another sweep owns this timer.
			continue
		}

		err = d.fire(ctx, timer)
		if err != nil {
			d.logger.ErrorContext(ctx, "Failed to process timer",
				"tenant_id", timer.TenantID, "timer_id", timer.ID,
				"purpose", timer.Purpose, "error", err)

			continue
		}

		result.Processed++
	}

	d.logger.InfoContext(ctx, "Sweep finished",
		"found", result.Found, "processed", result.Processed)

	return result, nil
}

func (d *Dispatcher) fire(ctx context.Context, timer *models.Timer) error {
	ctx, span := otelhelper.StartSpan(ctx, d.tracer, "dispatcher.fire",
		attribute.String(otelhelper.TenantIDKey, timer.TenantID),
		attribute.String(otelhelper.TimerIDKey, timer.ID),
		attribute.String(otelhelper.PurposeKey, string(timer.Purpose)),
	)
	defer span.End()

	switch timer.Purpose {
	case models.TimerPurposeAwaitConfirmation:
		return d.escalate(ctx, timer)
	case models.TimerPurposeFollowUp:
		return d.markFollowUp(ctx, timer)
	case models.TimerPurposeWorkflowContinue:
		return d.resume(ctx, timer)
	default:
		// Unknown purposes fire as no-ops so old dispatchers tolerate
		// timers scheduled by newer definitions.
		d.logger.WarnContext(ctx, "Fired timer with unknown purpose",
			"tenant_id", timer.TenantID, "timer_id", timer.ID, "purpose", timer.Purpose)

		return nil
	}
}

// escalate handles the order-level await_confirmation timer: the customer
// never confirmed, so the order is flagged for manual follow-up and the run
// parks in customer_contact_required. An order the customer already acted
// on is left alone.
func (d *Dispatcher) escalate(ctx context.Context, timer *models.Timer) error {
	run, err := d.persistence.Runs().GetByID(ctx, timer.TenantID, timer.WorkflowRunID)
	if errors.Is(err, persistence.ErrRunNotFound) {
		d.logger.WarnContext(ctx, "Timer references missing run",
			"tenant_id", timer.TenantID, "timer_id", timer.ID, "run_id", timer.WorkflowRunID)

		return nil
	}

	if err != nil {
		return fmt.Errorf("failed to load run %s: %w", timer.WorkflowRunID, err)
	}

	if run.Terminal() {
		return nil
	}

	if run.OrderID != "" {
		order, err := d.persistence.Orders().GetByID(ctx, timer.TenantID, run.OrderID)
		if err != nil {
			return fmt.Errorf("failed to load order %s: %w", run.OrderID, err)
		}

		if order.Status == models.OrderStatusConfirmed || order.Status.Terminal() {
			// The customer responded before the deadline.
			return nil
		}

		err = d.persistence.Orders().UpdateStatus(ctx, timer.TenantID, run.OrderID, models.OrderStatusAwaitingCustomerContact)
		if err != nil {
			return fmt.Errorf("failed to update order status: %w", err)
		}

		err = d.persistence.Orders().MarkNeedsAttention(ctx, timer.TenantID, run.OrderID, true)
		if err != nil {
			return fmt.Errorf("failed to flag order: %w", err)
		}

		note := models.Note{
			Text:      "No customer confirmation received; escalated for manual follow-up",
			CreatedAt: time.Now().UTC(),
		}

		err = d.persistence.Orders().AppendNote(ctx, timer.TenantID, run.OrderID, note)
		if err != nil {
			return fmt.Errorf("failed to append escalation note: %w", err)
		}
	}

	run.Status = models.RunStatusPaused
	run.CurrentState = models.StateCustomerContactRequired

	err = d.persistence.Runs().UpdateState(ctx, run)
	if err != nil {
		return fmt.Errorf("failed to pause run: %w", err)
	}

	d.logger.InfoContext(ctx, "Order escalated",
		"tenant_id", timer.TenantID, "run_id", run.ID, "order_id", run.OrderID)

	return nil
}

func (d *Dispatcher) markFollowUp(ctx context.Context, timer *models.Timer) error {
	run, err := d.persistence.Runs().GetByID(ctx, timer.TenantID, timer.WorkflowRunID)
	if errors.Is(err, persistence.ErrRunNotFound) {
		d.logger.WarnContext(ctx, "Timer references missing run",
			"tenant_id", timer.TenantID, "timer_id", timer.ID, "run_id", timer.WorkflowRunID)

		return nil
	}

	if err != nil {
		return fmt.Errorf("failed to load run %s: %w", timer.WorkflowRunID, err)
	}

	if run.Terminal() {
		return nil
	}

	run.Status = models.RunStatusRunning
	run.CurrentState = models.StateFollowUpSent

	err = d.persistence.Runs().UpdateState(ctx, run)
	if err != nil {
		return fmt.Errorf("failed to mark follow-up: %w", err)
	}

	return nil
}

func (d *Dispatcher) resume(ctx context.Context, timer *models.Timer) error {
	err := d.engine.Resume(ctx, timer.TenantID, timer.WorkflowRunID)
	if errors.Is(err, persistence.ErrRunNotFound) {
		d.logger.WarnContext(ctx, "Timer references missing run",
			"tenant_id", timer.TenantID, "timer_id", timer.ID, "run_id", timer.WorkflowRunID)

		return nil
	}

	return err
}
