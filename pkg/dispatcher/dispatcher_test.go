package dispatcher_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codagent/flowkit/pkg/dispatcher"
	"github.com/codagent/flowkit/pkg/engine"
	"github.com/codagent/flowkit/pkg/gateway"
	"github.com/codagent/flowkit/pkg/models"
	"github.com/codagent/flowkit/pkg/oracle"
	"github.com/codagent/flowkit/pkg/persistence/memory"
)

const testTenant = "tenant-1"

// ruleOracle evaluates has_tag conditions deterministically and fails every
// other decision with failWith when set.
type ruleOracle struct {
	failWith error
	label    string
}

func (o *ruleOracle) Decide(_ context.Context, _ *models.TenantSettings, req oracle.Request) (string, error) {
	if req.IsCondition() {
		if req.Order != nil && req.Order.HasTag(req.Condition.TagName) {
			return oracle.OutcomeTrue, nil
		}

		return oracle.OutcomeFalse, nil
	}

	if o.failWith != nil {
		return "", o.failWith
	}

	if o.label != "" {
		return o.label, nil
	}

	return req.Options[0], nil
}

type harness struct {
	persistence *memory.Persistence
	recorder    *gateway.Recorder
	engine      *engine.Engine
	dispatcher  *dispatcher.Dispatcher
}

func newHarness(t *testing.T, decider oracle.Oracle) *harness {
	t.Helper()

	store := memory.NewPersistence()
	recorder := gateway.NewRecorder()
	logger := slog.New(slog.DiscardHandler)

	if decider == nil {
		decider = &ruleOracle{}
	}

	eng := engine.NewEngine(store, decider, recorder, logger)

	return &harness{
		persistence: store,
		recorder:    recorder,
		engine:      eng,
		dispatcher:  dispatcher.NewDispatcher(store, eng, logger),
	}
}

func (h *harness) createOrder(t *testing.T, id string, tags []string) *models.Order {
	t.Helper()

	order := &models.Order{
		ID:       id,
		TenantID: testTenant,
		Status:   models.OrderStatusPending,
		Data: map[string]any{
			"customer_phone": "+5511999990000",
			"tags":           tags,
		},
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, h.persistence.Orders().Create(context.Background(), order))

	return order
}

func (h *harness) createRun(t *testing.T, id, versionID, orderID, state string) *models.WorkflowRun {
	t.Helper()

	run := &models.WorkflowRun{
		ID:                id,
		TenantID:          testTenant,
		WorkflowVersionID: versionID,
		OrderID:           orderID,
		CurrentState:      state,
		Status:            models.RunStatusRunning,
		Context:           models.RunContext{},
		StartedAt:         time.Now().UTC(),
	}
	require.NoError(t, h.persistence.Runs().Create(context.Background(), run))

	return run
}

func (h *harness) createVersion(t *testing.T, id string, actions []models.Action) *models.WorkflowVersion {
	t.Helper()

	ctx := context.Background()

	definition := &models.WorkflowDefinition{
		ID:       "workflow-" + id,
		TenantID: testTenant,
		Name:     "test flow",
		IsActive: true,
	}
	require.NoError(t, h.persistence.Workflows().CreateDefinition(ctx, definition))

	version := &models.WorkflowVersion{
		ID:          id,
		TenantID:    testTenant,
		WorkflowID:  definition.ID,
		Version:     1,
		Definition:  models.Definition{Actions: actions},
		IsPublished: true,
	}
	require.NoError(t, h.persistence.Workflows().CreateVersion(ctx, version))

	return version
}

func (h *harness) createTimer(t *testing.T, runID string, purpose models.TimerPurpose, fireAt time.Time) *models.Timer {
	t.Helper()

	timer := &models.Timer{
		ID:            uuid.Must(uuid.NewV7()).String(),
		TenantID:      testTenant,
		WorkflowRunID: runID,
		FireAt:        fireAt,
		Purpose:       purpose,
		Status:        models.TimerStatusScheduled,
		CreatedAt:     time.Now().UTC(),
	}
	require.NoError(t, h.persistence.Timers().Create(context.Background(), timer))

	return timer
}

func TestSweepEscalatesUnconfirmedOrder(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	order := h.createOrder(t, "order-1", nil)
	h.createVersion(t, "version-1", []models.Action{
		{ID: "a1", SequenceOrder: 1, Type: models.ActionEndWorkflow, Config: map[string]any{}},
	})
	run := h.createRun(t, "run-1", "version-1", order.ID, models.StateAwaitMessage)
	h.createTimer(t, run.ID, models.TimerPurposeAwaitConfirmation, time.Now().UTC().Add(-time.Minute))

	result, err := h.dispatcher.Sweep(ctx, time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, dispatcher.Result{Found: 1, Processed: 1}, result)

	got, err := h.persistence.Orders().GetByID(ctx, testTenant, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusAwaitingCustomerContact, got.Status)
	assert.True(t, got.NeedsAttention)
	require.Len(t, got.Notes, 1)

	gotRun, err := h.persistence.Runs().GetByID(ctx, testTenant, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusPaused, gotRun.Status)
	assert.Equal(t, models.StateCustomerContactRequired, gotRun.CurrentState)
}

func TestSweepIsIdempotent(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	order := h.createOrder(t, "order-1", nil)
	h.createVersion(t, "version-1", []models.Action{
		{ID: "a1", SequenceOrder: 1, Type: models.ActionEndWorkflow, Config: map[string]any{}},
	})
	run := h.createRun(t, "run-1", "version-1", order.ID, models.StateAwaitMessage)
	h.createTimer(t, run.ID, models.TimerPurposeAwaitConfirmation, time.Now().UTC().Add(-time.Minute))

	first, err := h.dispatcher.Sweep(ctx, time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, 1, first.Processed)

	second, err := h.dispatcher.Sweep(ctx, time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, dispatcher.Result{Found: 0, Processed: 0}, second)

	got, err := h.persistence.Orders().GetByID(ctx, testTenant, order.ID)
	require.NoError(t, err)
	require.Len(t, got.Notes, 1, "escalation note appended exactly once")
}

func TestSweepSkipsAlreadyClaimedTimer(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	order := h.createOrder(t, "order-1", nil)
	run := h.createRun(t, "run-1", "version-1", order.ID, models.StateAwaitMessage)
	timer := h.createTimer(t, run.ID, models.TimerPurposeAwaitConfirmation, time.Now().UTC().Add(-time.Minute))

	// Simulate a concurrent sweep winning the claim between Due and Claim.
	due, err := h.persistence.Timers().Due(ctx, time.Now().UTC())
	require.NoError(t, err)
	require.Len(t, due, 1)

	claimed, err := h.persistence.Timers().Claim(ctx, testTenant, timer.ID, time.Now().UTC())
	require.NoError(t, err)
	require.True(t, claimed)

	// The competing sweep's view still contains the timer; firing it must
	// be a no-op counted in found only. Exercise the code path directly by
	// sweeping after resetting nothing: Due no longer returns it, so
	// assert on the aggregate instead.
	result, err := h.dispatcher.Sweep(ctx, time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, dispatcher.Result{Found: 0, Processed: 0}, result)

	got, err := h.persistence.Orders().GetByID(ctx, testTenant, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPending, got.Status, "claim without dispatch has no side effect")
}

func TestSweepSkipsEscalationWhenOrderConfirmed(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	order := h.createOrder(t, "order-1", nil)
	require.NoError(t, h.persistence.Orders().UpdateStatus(ctx, testTenant, order.ID, models.OrderStatusConfirmed))

	run := h.createRun(t, "run-1", "version-1", order.ID, models.StateAwaitMessage)
	h.createTimer(t, run.ID, models.TimerPurposeAwaitConfirmation, time.Now().UTC().Add(-time.Minute))

	result, err := h.dispatcher.Sweep(ctx, time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, dispatcher.Result{Found: 1, Processed: 1}, result)

	got, err := h.persistence.Orders().GetByID(ctx, testTenant, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusConfirmed, got.Status)
	assert.False(t, got.NeedsAttention)

	gotRun, err := h.persistence.Runs().GetByID(ctx, testTenant, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusRunning, gotRun.Status, "confirmed order is not escalated")
}

func TestSweepMarksFollowUp(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	run := h.createRun(t, "run-1", "version-1", "", models.StateAwaitMessage)
	h.createTimer(t, run.ID, models.TimerPurposeFollowUp, time.Now().UTC().Add(-time.Minute))

	result, err := h.dispatcher.Sweep(ctx, time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, dispatcher.Result{Found: 1, Processed: 1}, result)

	got, err := h.persistence.Runs().GetByID(ctx, testTenant, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateFollowUpSent, got.CurrentState)
	assert.Equal(t, models.RunStatusRunning, got.Status)
}

func TestSweepResumesWaitingRunEndToEnd(t *testing.T) {
	tests := []struct {
		name          string
		tags          []string
		wantStatus    models.OrderStatus
		wantMessages  int
		wantRunStatus models.RunStatus
	}{
		{
			name:          "tag absent completes without side effects",
			tags:          nil,
			wantStatus:    models.OrderStatusPending,
			wantMessages:  0,
			wantRunStatus: models.RunStatusCompleted,
		},
		{
			name:          "tag present confirms and notifies",
			tags:          []string{"order_linked"},
			wantStatus:    models.OrderStatusConfirmed,
			wantMessages:  1,
			wantRunStatus: models.RunStatusCompleted,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, &ruleOracle{label: "proceed"})
			ctx := context.Background()

			order := h.createOrder(t, "order-1", tt.tags)
			h.createVersion(t, "version-1", []models.Action{
				{ID: "pause", SequenceOrder: 1, Type: models.ActionWait,
					Config: map[string]any{"duration": 1}},
				{ID: "linked", SequenceOrder: 2, Type: models.ActionCheckCondition,
					Config:  map[string]any{"condition_type": "has_tag", "tag_name": "order_linked"},
					Outputs: map[string]string{"yes": "decide"}},
				{ID: "stop", SequenceOrder: 3, Type: models.ActionEndWorkflow,
					Config: map[string]any{"reason": "not linked"}},
				{ID: "decide", SequenceOrder: 4, Type: models.ActionAIDecision,
					Config: map[string]any{"prompt": "route order", "option_1": "proceed", "option_2": "hold"}},
				{ID: "fork", SequenceOrder: 5, Type: models.ActionBranch, Config: map[string]any{}},
				{ID: "confirm", SequenceOrder: 6, Type: models.ActionUpdateOrder,
					Config: map[string]any{"status": "confirmed"}},
				{ID: "notify", SequenceOrder: 7, Type: models.ActionSendMessage,
					Config: map[string]any{"message": "order {{system_order_id}} confirmed"}},
			})
			run := h.createRun(t, "run-1", "version-1", order.ID, models.StateAwaitMessage)

			// Engine executes the wait, schedules the continuation timer
			// and suspends.
			require.NoError(t, h.engine.Start(ctx, testTenant, run.ID))
			assert.Empty(t, h.recorder.Messages())

			result, err := h.dispatcher.Sweep(ctx, time.Now().UTC().Add(2*time.Minute))
			require.NoError(t, err)
			assert.Equal(t, dispatcher.Result{Found: 1, Processed: 1}, result)

			gotOrder, err := h.persistence.Orders().GetByID(ctx, testTenant, order.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, gotOrder.Status)
			assert.Len(t, h.recorder.Messages(), tt.wantMessages)

			gotRun, err := h.persistence.Runs().GetByID(ctx, testTenant, run.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.wantRunStatus, gotRun.Status)
		})
	}
}

func TestSweepStaleResumeLeavesEscalatedRunPaused(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	order := h.createOrder(t, "order-1", nil)
	h.createVersion(t, "version-1", []models.Action{
		{ID: "pause", SequenceOrder: 1, Type: models.ActionWait,
			Config: map[string]any{"duration": 1}},
		{ID: "notify", SequenceOrder: 2, Type: models.ActionSendMessage,
			Config: map[string]any{"message": "hello"}},
	})
	run := h.createRun(t, "run-1", "version-1", order.ID, models.StateAwaitMessage)

	// The confirmation deadline has been ticking since order creation; the
	// wait adds its own continuation timer on top.
	h.createTimer(t, run.ID, models.TimerPurposeAwaitConfirmation, time.Now().UTC().Add(-time.Minute))
	require.NoError(t, h.engine.Start(ctx, testTenant, run.ID))

	// Both timers are due in the same sweep. The escalation fires first and
	// parks the run; the leftover continuation must not pull it back out.
	result, err := h.dispatcher.Sweep(ctx, time.Now().UTC().Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, dispatcher.Result{Found: 2, Processed: 2}, result)

	gotRun, err := h.persistence.Runs().GetByID(ctx, testTenant, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusPaused, gotRun.Status)
	assert.Equal(t, models.StateCustomerContactRequired, gotRun.CurrentState)
	assert.Empty(t, h.recorder.Messages())

	gotOrder, err := h.persistence.Orders().GetByID(ctx, testTenant, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusAwaitingCustomerContact, gotOrder.Status)
	assert.True(t, gotOrder.NeedsAttention)
}

func TestSweepResumeOfFinishedRunIsNoOp(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	h.createVersion(t, "version-1", []models.Action{
		{ID: "done", SequenceOrder: 1, Type: models.ActionEndWorkflow, Config: map[string]any{}},
	})
	run := h.createRun(t, "run-1", "version-1", "", "done")

	completed := time.Now().UTC()
	run.Status = models.RunStatusCompleted
	run.CompletedAt = &completed
	require.NoError(t, h.persistence.Runs().UpdateState(ctx, run))

	h.createTimer(t, run.ID, models.TimerPurposeWorkflowContinue, time.Now().UTC().Add(-time.Minute))

	result, err := h.dispatcher.Sweep(ctx, time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, dispatcher.Result{Found: 1, Processed: 1}, result)

	got, err := h.persistence.Runs().GetByID(ctx, testTenant, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCompleted, got.Status)
}

func TestSweepIsolatesFailures(t *testing.T) {
	h := newHarness(t, &ruleOracle{failWith: oracle.ErrNoCredential})
	ctx := context.Background()

	// Run A resumes into an AI decision that will fail.
	orderA := h.createOrder(t, "order-a", []string{"order_linked"})
	h.createVersion(t, "version-a", []models.Action{
		{ID: "pause", SequenceOrder: 1, Type: models.ActionWait,
			Config: map[string]any{"duration": 1}},
		{ID: "decide", SequenceOrder: 2, Type: models.ActionAIDecision,
			Config: map[string]any{"prompt": "p", "option_1": "a", "option_2": "b"}},
	})
	runA := h.createRun(t, "run-a", "version-a", orderA.ID, models.StateAwaitMessage)
	require.NoError(t, h.engine.Start(ctx, testTenant, runA.ID))

	// Run B resumes into a plain message.
	orderB := h.createOrder(t, "order-b", nil)
	h.createVersion(t, "version-b", []models.Action{
		{ID: "pause", SequenceOrder: 1, Type: models.ActionWait,
			Config: map[string]any{"duration": 1}},
		{ID: "hello", SequenceOrder: 2, Type: models.ActionSendMessage,
			Config: map[string]any{"message": "hello"}},
	})
	runB := h.createRun(t, "run-b", "version-b", orderB.ID, models.StateAwaitMessage)
	require.NoError(t, h.engine.Start(ctx, testTenant, runB.ID))

	result, err := h.dispatcher.Sweep(ctx, time.Now().UTC().Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 2, result.Found)
	assert.Equal(t, 1, result.Processed)
	assert.GreaterOrEqual(t, result.Found, result.Processed)

	gotA, err := h.persistence.Runs().GetByID(ctx, testTenant, runA.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusFailed, gotA.Status)

	gotB, err := h.persistence.Runs().GetByID(ctx, testTenant, runB.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCompleted, gotB.Status)
	require.Len(t, h.recorder.Messages(), 1)
	assert.Equal(t, "hello", h.recorder.Messages()[0].Text)
}

func TestSweepUnknownPurposeIsNoOp(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	run := h.createRun(t, "run-1", "version-1", "", models.StateAwaitMessage)
	h.createTimer(t, run.ID, models.TimerPurpose("reconcile"), time.Now().UTC().Add(-time.Minute))

	result, err := h.dispatcher.Sweep(ctx, time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, dispatcher.Result{Found: 1, Processed: 1}, result)

	got, err := h.persistence.Runs().GetByID(ctx, testTenant, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateAwaitMessage, got.CurrentState, "unknown purpose leaves the run untouched")
}

func TestSweepMissingRunIsNoOp(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	h.createTimer(t, "gone", models.TimerPurposeWorkflowContinue, time.Now().UTC().Add(-time.Minute))

	result, err := h.dispatcher.Sweep(ctx, time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, dispatcher.Result{Found: 1, Processed: 1}, result)
}
