// Package engine interprets published workflow definitions over orders. It
// executes actions in sequence, suspends on waits and persists the run state
// after every step so a crash or restart resumes at the last durable
// position.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/codagent/flowkit/pkg/gateway"
	"github.com/codagent/flowkit/pkg/models"
	"github.com/codagent/flowkit/pkg/oracle"
	"github.com/codagent/flowkit/pkg/otelhelper"
	"github.com/codagent/flowkit/pkg/persistence"
	"github.com/codagent/flowkit/pkg/template"
)

// maxSteps bounds one engine entry. A definition that loops through labeled
// outputs more than this many times without suspending is considered
// runaway and the run fails.
const maxSteps = 100

// Engine executes workflow runs.
type Engine struct {
	persistence persistence.Persistence
	oracle      oracle.Oracle
	gateway     gateway.Gateway
	logger      *slog.Logger
	tracer      trace.Tracer
	now         func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithTracer attaches a tracer; the default is a noop tracer.
func WithTracer(tracer trace.Tracer) Option {
	return func(e *Engine) { e.tracer = tracer }
}

// WithClock overrides the engine clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates an Engine over the given storage, oracle and gateway.
func NewEngine(p persistence.Persistence, o oracle.Oracle, g gateway.Gateway, logger *slog.Logger, opts ...Option) *Engine {
	engine := &Engine{
		persistence: p,
		oracle:      o,
		gateway:     g,
		logger:      logger.With("module", "engine"),
		tracer:      noop.NewTracerProvider().Tracer("engine"),
		now:         time.Now,
	}

	for _, opt := range opts {
		opt(engine)
	}

	return engine
}

// Start enters the run at the first action of its version.
func (e *Engine) Start(ctx context.Context, tenantID, runID string) error {
	run, version, err := e.load(ctx, tenantID, runID)
	if err != nil {
		return err
	}

	first, ok := version.Definition.First()
	if !ok {
		return e.complete(ctx, run, "empty definition")
	}

	return e.run(ctx, run, version, first.ID)
}

// Advance enters the run at the named action and executes until the run
// suspends, completes or fails. Entries from input are merged into the run
// context before the first step, so the caller can hand state to the
// actions it re-enters.
func (e *Engine) Advance(ctx context.Context, tenantID, runID, actionID string, input models.RunContext) error {
	run, version, err := e.load(ctx, tenantID, runID)
	if err != nil {
		return err
	}

	if len(input) > 0 {
		if run.Context == nil {
			run.Context = models.RunContext{}
		}

		for k, v := range input {
			run.Context[k] = v
		}
	}

	return e.run(ctx, run, version, actionID)
}

// Resume continues a run suspended by a wait: execution restarts at the
// action after the one recorded in CurrentState. A run already past its
// last action completes.
//
// Resume timers can outlive the run they were scheduled for: the run may
// have completed, failed or been escalated since. Any run not in the
// running state is skipped, so a stale timer never pulls a run out of an
// operator-intervention or terminal state.
func (e *Engine) Resume(ctx context.Context, tenantID, runID string) error {
	run, err := e.persistence.Runs().GetByID(ctx, tenantID, runID)
	if err != nil {
		return fmt.Errorf("failed to load run %s: %w", runID, err)
	}

	if run.Status != models.RunStatusRunning {
		e.logger.InfoContext(ctx, "Skipping resume of non-running run",
			"tenant_id", tenantID, "run_id", runID, "status", run.Status)

		return nil
	}

	version, err := e.persistence.Workflows().GetVersion(ctx, tenantID, run.WorkflowVersionID)
	if err != nil {
		return fmt.Errorf("failed to load version %s: %w", run.WorkflowVersionID, err)
	}

	next, ok := version.Definition.NextAfter(run.CurrentState)
	if !ok {
		return e.complete(ctx, run, "")
	}

	return e.run(ctx, run, version, next.ID)
}

func (e *Engine) load(ctx context.Context, tenantID, runID string) (*models.WorkflowRun, *models.WorkflowVersion, error) {
	run, err := e.persistence.Runs().GetByID(ctx, tenantID, runID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load run %s: %w", runID, err)
	}

	if run.Terminal() {
		return nil, nil, fmt.Errorf("run %s is already %s", runID, run.Status)
	}

	version, err := e.persistence.Workflows().GetVersion(ctx, tenantID, run.WorkflowVersionID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load version %s: %w", run.WorkflowVersionID, err)
	}

	return run, version, nil
}

// run is the interpreter loop. Each iteration executes one action, persists
// the run state, and either follows an edge to the next action or stops.
func (e *Engine) run(ctx context.Context, run *models.WorkflowRun, version *models.WorkflowVersion, actionID string) error {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "engine.run",
		attribute.String(otelhelper.TenantIDKey, run.TenantID),
		attribute.String(otelhelper.RunIDKey, run.ID),
		attribute.String(otelhelper.VersionIDKey, version.ID),
	)
	defer span.End()

	logger := e.logger.With("tenant_id", run.TenantID, "run_id", run.ID)

	var order *models.Order

	if run.OrderID != "" {
		loaded, err := e.persistence.Orders().GetByID(ctx, run.TenantID, run.OrderID)
		if err != nil {
			return e.fail(ctx, run, fmt.Errorf("failed to load order %s: %w", run.OrderID, err))
		}

		order = loaded
	}

	if run.Context == nil {
		run.Context = models.RunContext{}
	}

	run.Status = models.RunStatusRunning

	for step := 0; ; step++ {
		if step >= maxSteps {
			return e.fail(ctx, run, fmt.Errorf("exceeded %d steps without suspending", maxSteps))
		}

		action, ok := version.Definition.ActionByID(actionID)
		if !ok {
			return e.fail(ctx, run, fmt.Errorf("action %s not found in version %s", actionID, version.ID))
		}

		logger.InfoContext(ctx, "Executing action",
			"action_id", action.ID, "action_type", action.Type, "step", step)

		result, err := e.execute(ctx, run, order, action)
		if err != nil {
			return e.fail(ctx, run, fmt.Errorf("action %s: %w", action.ID, err))
		}

		// The state write is the durable step boundary: it must land
		// before the next action's side effects happen.
		run.CurrentState = result.resumeState
		if err := e.persistence.Runs().UpdateState(ctx, run); err != nil {
			return fmt.Errorf("failed to persist run state: %w", err)
		}

		if result.suspend {
			logger.InfoContext(ctx, "Run suspended", "current_state", run.CurrentState)

			return nil
		}

		if result.terminal {
			return e.complete(ctx, run, result.endReason)
		}

		next, ok := e.next(version.Definition, action, result.outcome)
		if !ok {
			if result.outcome == oracle.OutcomeFalse {
				return e.complete(ctx, run, "condition not met")
			}

			return e.complete(ctx, run, "")
		}

		actionID = next
	}
}

// stepResult is the effect of one executed action on the control flow.
type stepResult struct {
	// outcome labels the edge to follow: "true"/"false" for conditions,
	// the chosen option for AI decisions, empty for plain sequencing.
	outcome string
	// resumeState is persisted as the run's CurrentState.
	resumeState string
	suspend     bool
	terminal    bool
	endReason   string
}

func (e *Engine) execute(ctx context.Context, run *models.WorkflowRun, order *models.Order, action models.Action) (stepResult, error) {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "engine.action",
		attribute.String(otelhelper.ActionIDKey, action.ID),
		attribute.String(otelhelper.ActionTypeKey, string(action.Type)),
	)
	defer span.End()

	cfg, err := action.ParseConfig()
	if err != nil {
		otelhelper.SetError(span, err)

		return stepResult{}, err
	}

	switch config := cfg.(type) {
	case *models.WaitConfig:
		return e.executeWait(ctx, run, action, config)
	case *models.SendMessageConfig:
		return e.executeSendMessage(ctx, run, order, action, config)
	case *models.UpdateOrderConfig:
		return e.executeUpdateOrder(ctx, run, order, action, config)
	case *models.CreateTimerConfig:
		return e.executeCreateTimer(ctx, run, action, config)
	case *models.CheckConditionConfig:
		return e.executeCheckCondition(ctx, run, order, action, config)
	case *models.AIDecisionConfig:
		return e.executeAIDecision(ctx, run, order, action, config)
	case *models.BranchConfig:
		return stepResult{resumeState: action.ID}, nil
	case *models.EndWorkflowConfig:
		run.Context[models.ContextKeyEndReason] = config.Reason

		return stepResult{resumeState: action.ID, terminal: true, endReason: config.Reason}, nil
	default:
		// Unknown action types fall through to the next action so old
		// engines skip steps newer definitions added.
		e.logger.WarnContext(ctx, "Skipping unknown action type",
			"action_id", action.ID, "action_type", action.Type)

		return stepResult{resumeState: action.ID}, nil
	}
}

// executeWait schedules the resume timer and suspends the run. CurrentState
// stays on the wait action; Resume picks up at its successor.
func (e *Engine) executeWait(ctx context.Context, run *models.WorkflowRun, action models.Action, config *models.WaitConfig) (stepResult, error) {
	timer := &models.Timer{
		ID:            uuid.Must(uuid.NewV7()).String(),
		TenantID:      run.TenantID,
		WorkflowRunID: run.ID,
		FireAt:        e.now().UTC().Add(time.Duration(config.DurationMinutes) * time.Minute),
		Purpose:       models.TimerPurposeWorkflowContinue,
		Status:        models.TimerStatusScheduled,
		CreatedAt:     e.now().UTC(),
	}

	err := e.persistence.Timers().Create(ctx, timer)
	if err != nil {
		return stepResult{}, fmt.Errorf("failed to schedule resume timer: %w", err)
	}

	return stepResult{resumeState: action.ID, suspend: true}, nil
}

func (e *Engine) executeSendMessage(ctx context.Context, run *models.WorkflowRun, order *models.Order, action models.Action, config *models.SendMessageConfig) (stepResult, error) {
	var data map[string]any
	if order != nil {
		data = order.TemplateData()
	}

	text := template.Render(config.Message, data)

	msg := gateway.OutboundMessage{
		TenantID:       run.TenantID,
		ConversationID: run.ConversationID,
		OrderID:        run.OrderID,
		Text:           text,
	}

	err := e.gateway.Enqueue(ctx, msg)
	if err != nil {
		return stepResult{}, fmt.Errorf("failed to enqueue message: %w", err)
	}

	if run.ConversationID != "" {
		record := &models.Message{
			ID:             uuid.Must(uuid.NewV7()).String(),
			TenantID:       run.TenantID,
			ConversationID: run.ConversationID,
			Direction:      models.MessageOutbound,
			Text:           text,
			CreatedAt:      e.now().UTC(),
		}

		err = e.persistence.Conversations().AppendMessage(ctx, record)
		if err != nil {
			return stepResult{}, fmt.Errorf("failed to record outbound message: %w", err)
		}
	}

	return stepResult{resumeState: action.ID}, nil
}

func (e *Engine) executeUpdateOrder(ctx context.Context, run *models.WorkflowRun, order *models.Order, action models.Action, config *models.UpdateOrderConfig) (stepResult, error) {
	if order == nil {
		return stepResult{}, errors.New("update_order requires an order-bound run")
	}

	status := models.OrderStatus(config.Status)

	err := e.persistence.Orders().UpdateStatus(ctx, run.TenantID, order.ID, status)
	if err != nil {
		return stepResult{}, fmt.Errorf("failed to update order status: %w", err)
	}

	order.Status = status

	return stepResult{resumeState: action.ID}, nil
}

func (e *Engine) executeCreateTimer(ctx context.Context, run *models.WorkflowRun, action models.Action, config *models.CreateTimerConfig) (stepResult, error) {
	// Unknown purposes are persisted as-is; the dispatcher fires them as
	// no-ops. This keeps old engines compatible with newer definitions.
	purpose := models.TimerPurpose(config.Purpose)
	if !purpose.Known() {
		e.logger.WarnContext(ctx, "Scheduling timer with unknown purpose",
			"run_id", run.ID, "purpose", config.Purpose)
	}

	timer := &models.Timer{
		ID:            uuid.Must(uuid.NewV7()).String(),
		TenantID:      run.TenantID,
		WorkflowRunID: run.ID,
		FireAt:        e.now().UTC().Add(time.Duration(config.DelayMinutes) * time.Minute),
		Purpose:       purpose,
		Status:        models.TimerStatusScheduled,
		CreatedAt:     e.now().UTC(),
	}

	err := e.persistence.Timers().Create(ctx, timer)
	if err != nil {
		return stepResult{}, fmt.Errorf("failed to create timer: %w", err)
	}

	return stepResult{resumeState: action.ID}, nil
}

func (e *Engine) executeCheckCondition(ctx context.Context, run *models.WorkflowRun, order *models.Order, action models.Action, config *models.CheckConditionConfig) (stepResult, error) {
	settings, err := e.tenantSettings(ctx, run.TenantID)
	if err != nil {
		return stepResult{}, err
	}

	outcome, err := e.oracle.Decide(ctx, settings, oracle.Request{
		Condition: config,
		Order:     order,
	})
	if err != nil {
		return stepResult{}, fmt.Errorf("condition evaluation failed: %w", err)
	}

	run.Context[models.ContextKeyConditionResult] = outcome == oracle.OutcomeTrue

	return stepResult{outcome: outcome, resumeState: action.ID}, nil
}

func (e *Engine) executeAIDecision(ctx context.Context, run *models.WorkflowRun, order *models.Order, action models.Action, config *models.AIDecisionConfig) (stepResult, error) {
	settings, err := e.tenantSettings(ctx, run.TenantID)
	if err != nil {
		return stepResult{}, err
	}

	var data map[string]any
	if order != nil {
		data = order.TemplateData()
	}

	label, err := e.oracle.Decide(ctx, settings, oracle.Request{
		Prompt:  template.Render(config.Prompt, data),
		Options: config.Options(),
		Order:   order,
	})
	if err != nil {
		return stepResult{}, fmt.Errorf("decision failed: %w", err)
	}

	run.Context[models.ContextKeyAIDecision] = label

	return stepResult{outcome: label, resumeState: action.ID}, nil
}

func (e *Engine) tenantSettings(ctx context.Context, tenantID string) (*models.TenantSettings, error) {
	settings, err := e.persistence.Tenants().Get(ctx, tenantID)
	if errors.Is(err, persistence.ErrTenantNotFound) {
		// A tenant without saved settings runs with defaults.
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("failed to load tenant settings: %w", err)
	}

	return settings, nil
}

// next resolves the edge to follow after an action. Labeled outputs win;
// conditions additionally accept yes/no aliases. Without a matching output
// the definition falls back to linear sequence order.
func (e *Engine) next(def models.Definition, action models.Action, outcome string) (string, bool) {
	if outcome != "" {
		if target, ok := action.Outputs[outcome]; ok {
			return target, true
		}

		alias := map[string]string{oracle.OutcomeTrue: "yes", oracle.OutcomeFalse: "no"}[outcome]
		if target, ok := action.Outputs[alias]; alias != "" && ok {
			return target, true
		}

		// A condition that failed with no false-edge terminates the run;
		// signalled to the caller by returning no next action.
		if outcome == oracle.OutcomeFalse {
			return "", false
		}
	}

	following, ok := def.NextAfter(action.ID)
	if !ok {
		return "", false
	}

	return following.ID, true
}

func (e *Engine) complete(ctx context.Context, run *models.WorkflowRun, reason string) error {
	now := e.now().UTC()
	run.Status = models.RunStatusCompleted
	run.CompletedAt = &now

	if reason != "" {
		if run.Context == nil {
			run.Context = models.RunContext{}
		}

		run.Context[models.ContextKeyEndReason] = reason
	}

	err := e.persistence.Runs().UpdateState(ctx, run)
	if err != nil {
		return fmt.Errorf("failed to persist completed run: %w", err)
	}

	e.logger.InfoContext(ctx, "Run completed",
		"tenant_id", run.TenantID, "run_id", run.ID, "reason", reason)

	return nil
}

func (e *Engine) fail(ctx context.Context, run *models.WorkflowRun, cause error) error {
	now := e.now().UTC()
	run.Status = models.RunStatusFailed
	run.CompletedAt = &now
	run.ErrorMessage = cause.Error()

	err := e.persistence.Runs().UpdateState(ctx, run)
	if err != nil {
		return errors.Join(cause, fmt.Errorf("failed to persist failed run: %w", err))
	}

	e.logger.ErrorContext(ctx, "Run failed",
		"tenant_id", run.TenantID, "run_id", run.ID, "error", cause)

	return cause
}
