package memory

import (
	"sync"
	"testing"
	"time"

	"github.com/codagent/flowkit/pkg/models"
	"github.com/codagent/flowkit/pkg/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tenant = "tenant-1"

func TestOrderRepository_CreateAndGet(t *testing.T) {
	p := NewPersistence()
	ctx := t.Context()

	order := &models.Order{
		ID:            "o1",
		TenantID:      tenant,
		SystemOrderID: "SIS-1",
		Status:        models.OrderStatusPending,
		Data:          map[string]any{"customer_phone": "+51999000111"},
	}
	require.NoError(t, p.Orders().Create(ctx, order))

	got, err := p.Orders().GetByID(ctx, tenant, "o1")
	require.NoError(t, err)
	assert.Equal(t, "SIS-1", got.SystemOrderID)

	// Mutating the returned copy must not affect the stored row.
	got.Data["customer_phone"] = "changed"
	again, err := p.Orders().GetByID(ctx, tenant, "o1")
	require.NoError(t, err)
	assert.Equal(t, "+51999000111", again.CustomerPhone())

	_, err = p.Orders().GetByID(ctx, "other-tenant", "o1")
	assert.ErrorIs(t, err, persistence.ErrOrderNotFound)
}

func TestOrderRepository_NarrowUpdates(t *testing.T) {
	p := NewPersistence()
	ctx := t.Context()

	require.NoError(t, p.Orders().Create(ctx, &models.Order{
		ID: "o1", TenantID: tenant, Status: models.OrderStatusPending,
	}))

	require.NoError(t, p.Orders().UpdateStatus(ctx, tenant, "o1", models.OrderStatusConfirmed))
	require.NoError(t, p.Orders().MarkNeedsAttention(ctx, tenant, "o1", true))
	require.NoError(t, p.Orders().AppendNote(ctx, tenant, "o1", models.Note{Text: "escalated"}))

	got, err := p.Orders().GetByID(ctx, tenant, "o1")
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusConfirmed, got.Status)
	assert.True(t, got.NeedsAttention)
	require.Len(t, got.Notes, 1)
	assert.Equal(t, "escalated", got.Notes[0].Text)
}

func TestOrderRepository_LatestByPhone(t *testing.T) {
	p := NewPersistence()
	ctx := t.Context()
	phone := "+51999000111"

	for _, id := range []string{"o1", "o2", "o3"} {
		require.NoError(t, p.Orders().Create(ctx, &models.Order{
			ID:       id,
			TenantID: tenant,
			Data:     map[string]any{"customer_phone": phone},
		}))
	}

	latest, err := p.Orders().LatestByPhone(ctx, tenant, phone)
	require.NoError(t, err)
	assert.Equal(t, "o3", latest.ID)

	_, err = p.Orders().LatestByPhone(ctx, tenant, "+00000000000")
	assert.ErrorIs(t, err, persistence.ErrOrderNotFound)
}

func TestCounterRepository_MonotonicUnderConcurrency(t *testing.T) {
	p := NewPersistence()
	ctx := t.Context()

	const workers = 20

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[int64]bool)
	)

	for range workers {
		wg.Add(1)

		go func() {
			defer wg.Done()

			n, err := p.Counters().NextOrderNumber(ctx, tenant)
			assert.NoError(t, err)

			mu.Lock()
			assert.False(t, seen[n], "duplicate order number %d", n)
			seen[n] = true
			mu.Unlock()
		}()
	}

	wg.Wait()
	assert.Len(t, seen, workers)

	next, err := p.Counters().NextOrderNumber(ctx, tenant)
	require.NoError(t, err)
	assert.Equal(t, int64(workers+1), next)

	// Counters are tenant-scoped.
	other, err := p.Counters().NextOrderNumber(ctx, "tenant-2")
	require.NoError(t, err)
	assert.Equal(t, int64(1), other)
}

func TestTimerRepository_DueAndClaim(t *testing.T) {
	p := NewPersistence()
	ctx := t.Context()
	now := time.Now().UTC()

	require.NoError(t, p.Timers().Create(ctx, &models.Timer{
		ID: "t1", TenantID: tenant, WorkflowRunID: "r1",
		FireAt: now.Add(-time.Minute), Purpose: models.TimerPurposeWorkflowContinue,
		Status: models.TimerStatusScheduled,
	}))
	require.NoError(t, p.Timers().Create(ctx, &models.Timer{
		ID: "t2", TenantID: tenant, WorkflowRunID: "r1",
		FireAt: now.Add(time.Hour), Purpose: models.TimerPurposeFollowUp,
		Status: models.TimerStatusScheduled,
	}))

	due, err := p.Timers().Due(ctx, now)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "t1", due[0].ID)

	claimed, err := p.Timers().Claim(ctx, tenant, "t1", now)
	require.NoError(t, err)
	assert.True(t, claimed)

	// Second claim is rejected: consumption is exactly-once.
	claimed, err = p.Timers().Claim(ctx, tenant, "t1", now)
	require.NoError(t, err)
	assert.False(t, claimed)

	got, err := p.Timers().GetByID(ctx, tenant, "t1")
	require.NoError(t, err)
	assert.Equal(t, models.TimerStatusFired, got.Status)
	require.NotNil(t, got.FiredAt)

	due, err = p.Timers().Due(ctx, now)
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestWorkflowRepository_PublishIsExclusive(t *testing.T) {
	p := NewPersistence()
	ctx := t.Context()

	def := &models.WorkflowDefinition{ID: "wf1", TenantID: tenant, Name: "Order flow"}
	require.NoError(t, p.Workflows().CreateDefinition(ctx, def))

	v1 := &models.WorkflowVersion{ID: "v1", TenantID: tenant, WorkflowID: "wf1", Version: 1}
	v2 := &models.WorkflowVersion{ID: "v2", TenantID: tenant, WorkflowID: "wf1", Version: 2}
	require.NoError(t, p.Workflows().CreateVersion(ctx, v1))
	require.NoError(t, p.Workflows().CreateVersion(ctx, v2))

	_, err := p.Workflows().CurrentPublished(ctx, tenant)
	assert.ErrorIs(t, err, persistence.ErrNoPublishedVersion)

	require.NoError(t, p.Workflows().PublishVersion(ctx, tenant, "v1"))

	current, err := p.Workflows().CurrentPublished(ctx, tenant)
	require.NoError(t, err)
	assert.Equal(t, "v1", current.ID)

	require.NoError(t, p.Workflows().PublishVersion(ctx, tenant, "v2"))

	current, err = p.Workflows().CurrentPublished(ctx, tenant)
	require.NoError(t, err)
	assert.Equal(t, "v2", current.ID)

	old, err := p.Workflows().GetVersion(ctx, tenant, "v1")
	require.NoError(t, err)
	assert.False(t, old.IsPublished)
}

func TestRunRepository_UpdateState(t *testing.T) {
	p := NewPersistence()
	ctx := t.Context()

	run := &models.WorkflowRun{
		ID: "r1", TenantID: tenant, WorkflowVersionID: "v1", OrderID: "o1",
		CurrentState: models.StateAwaitMessage,
		Status:       models.RunStatusRunning,
		Context:      models.RunContext{},
		StartedAt:    time.Now().UTC(),
	}
	require.NoError(t, p.Runs().Create(ctx, run))

	run.CurrentState = "a2"
	run.Context = models.RunContext{models.ContextKeyAIDecision: "likely"}
	require.NoError(t, p.Runs().UpdateState(ctx, run))

	got, err := p.Runs().GetByID(ctx, tenant, "r1")
	require.NoError(t, err)
	assert.Equal(t, "a2", got.CurrentState)
	assert.Equal(t, "likely", got.Context[models.ContextKeyAIDecision])

	runs, err := p.Runs().ListByOrder(ctx, tenant, "o1")
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestConversationRepository_GetOrCreateIsIdempotent(t *testing.T) {
	p := NewPersistence()
	ctx := t.Context()
	phone := "+51999000111"

	first, err := p.Conversations().GetOrCreateByPhone(ctx, tenant, phone)
	require.NoError(t, err)

	second, err := p.Conversations().GetOrCreateByPhone(ctx, tenant, phone)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	require.NoError(t, p.Conversations().AppendMessage(ctx, &models.Message{
		ID: "m1", TenantID: tenant, ConversationID: first.ID,
		Direction: models.MessageInbound, Text: "yes",
	}))

	messages, err := p.Conversations().Messages(ctx, tenant, first.ID)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, models.MessageInbound, messages[0].Direction)
}
