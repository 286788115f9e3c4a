package postgresql_test

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/codagent/flowkit/pkg/models"
	"github.com/codagent/flowkit/pkg/persistence"
	"github.com/codagent/flowkit/pkg/persistence/postgresql"
)

var postgresContainer *postgres.PostgresContainer

func dropDb(ctx context.Context, t *testing.T, databaseURL string) {
	t.Helper()

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	// Drop tables in reverse dependency order (children first, parents last)
	for _, table := range []string{
		"timers", "workflow_runs", "workflow_versions", "workflow_definitions",
		"messages", "conversations", "orders", "tenant_settings", "order_counters",
		"schema_migrations",
	} {
		_, err = db.ExecContext(ctx, "DROP TABLE IF EXISTS "+table+" CASCADE")
		require.NoError(t, err)
	}

	err = db.Close()
	require.NoError(t, err)
}

func setupTestDB(t *testing.T) (*postgresql.Persistence, context.Context, string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)

	if postgresContainer == nil || !postgresContainer.IsRunning() {
		var err error

		postgresContainer, err = postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("flowkit_test"),
			postgres.WithUsername("flowkit"),
			postgres.WithPassword("flowkit"),
			postgres.BasicWaitStrategies(),
		)
		require.NoError(t, err)
	}

	databaseURL, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	dropDb(ctx, t, databaseURL)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	p, err := postgresql.NewPersistence(ctx, logger, databaseURL)
	require.NoError(t, err)

	t.Cleanup(func() {
		dropDb(ctx, t, databaseURL)

		err = p.Close(ctx)
		require.NoError(t, err)

		cancel()
	})

	return p, ctx, databaseURL
}

// insertRunChain creates the definition -> version -> run rows the foreign
// keys require, returning the run.
func insertRunChain(ctx context.Context, t *testing.T, p *postgresql.Persistence, tenantID, orderID string) *models.WorkflowRun {
	t.Helper()

	now := time.Now().UTC()

	definition := &models.WorkflowDefinition{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		Name:      "Order confirmation",
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, p.Workflows().CreateDefinition(ctx, definition))

	version := &models.WorkflowVersion{
		ID:         uuid.New().String(),
		TenantID:   tenantID,
		WorkflowID: definition.ID,
		Version:    1,
		Definition: models.Definition{Actions: []models.Action{
			{ID: "pause", SequenceOrder: 1, Type: models.ActionWait,
				Config: map[string]any{"duration": 1}},
		}},
		CreatedAt: now,
	}
	require.NoError(t, p.Workflows().CreateVersion(ctx, version))

	run := &models.WorkflowRun{
		ID:                uuid.New().String(),
		TenantID:          tenantID,
		WorkflowVersionID: version.ID,
		OrderID:           orderID,
		CurrentState:      models.StateAwaitMessage,
		Status:            models.RunStatusRunning,
		Context:           models.RunContext{},
		StartedAt:         now,
	}
	require.NoError(t, p.Runs().Create(ctx, run))

	return run
}

func insertOrder(ctx context.Context, t *testing.T, p *postgresql.Persistence, tenantID, phone string) *models.Order {
	t.Helper()

	now := time.Now().UTC()
	order := &models.Order{
		ID:            uuid.New().String(),
		TenantID:      tenantID,
		SystemOrderID: "SIS-" + uuid.New().String()[:8],
		Status:        models.OrderStatusPending,
		Data: map[string]any{
			"customer_phone": phone,
			"customer_name":  "Ana",
			"tags":           []any{"vip"},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, p.Orders().Create(ctx, order))

	return order
}

func TestNewPersistence_Migrations(t *testing.T) {
	_, ctx, databaseURL := setupTestDB(t)

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	defer func() {
		err := db.Close()
		require.NoError(t, err)
	}()

	for _, table := range []string{"orders", "conversations", "messages",
		"workflow_definitions", "workflow_versions", "workflow_runs",
		"timers", "tenant_settings", "order_counters"} {
		var exists bool

		err = db.QueryRowContext(ctx, `SELECT EXISTS (SELECT FROM
information_schema.tables WHERE table_name = $1)`, table).Scan(&exists)
		require.NoError(t, err)
		assert.True(t, exists, table+" table should exist")
	}

	var version int

	err = db.QueryRowContext(ctx, "SELECT version FROM schema_migrations WHERE version = 1").Scan(&version)
	require.NoError(t, err)
	assert.Equal(t, 1, version)
}

func TestNewPersistence_HealthCheck(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	err := p.HealthCheck(ctx)
	assert.NoError(t, err)
}

func TestOrderRepository_Lifecycle(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	tenantID := uuid.New().String()
	order := insertOrder(ctx, t, p, tenantID, "+5511999990000")

	got, err := p.Orders().GetByID(ctx, tenantID, order.ID)
	require.NoError(t, err)
	assert.Equal(t, order.SystemOrderID, got.SystemOrderID)
	assert.Equal(t, models.OrderStatusPending, got.Status)
	assert.Equal(t, "Ana", got.Data["customer_name"])
	assert.True(t, got.HasTag("vip"))
	assert.Empty(t, got.Notes)

	require.NoError(t, p.Orders().UpdateStatus(ctx, tenantID, order.ID, models.OrderStatusConfirmed))
	require.NoError(t, p.Orders().MarkNeedsAttention(ctx, tenantID, order.ID, true))

	require.NoError(t, p.Orders().AppendNote(ctx, tenantID, order.ID,
		models.Note{Text: "first", CreatedAt: time.Now().UTC()}))
	require.NoError(t, p.Orders().AppendNote(ctx, tenantID, order.ID,
		models.Note{Text: "second", CreatedAt: time.Now().UTC()}))

	got, err = p.Orders().GetByID(ctx, tenantID, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusConfirmed, got.Status)
	assert.True(t, got.NeedsAttention)
	require.Len(t, got.Notes, 2)
	assert.Equal(t, "first", got.Notes[0].Text)
	assert.Equal(t, "second", got.Notes[1].Text)

	_, err = p.Orders().GetByID(ctx, tenantID, uuid.New().String())
	assert.ErrorIs(t, err, persistence.ErrOrderNotFound)

	err = p.Orders().UpdateStatus(ctx, tenantID, uuid.New().String(), models.OrderStatusShipped)
	assert.ErrorIs(t, err, persistence.ErrOrderNotFound)

	// Another tenant cannot see the order.
	_, err = p.Orders().GetByID(ctx, uuid.New().String(), order.ID)
	assert.ErrorIs(t, err, persistence.ErrOrderNotFound)
}

func TestOrderRepository_LatestByPhone(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	tenantID := uuid.New().String()
	phone := "+5511999990000"

	insertOrder(ctx, t, p, tenantID, phone)

	newest := &models.Order{
		ID:            uuid.New().String(),
		TenantID:      tenantID,
		SystemOrderID: "SIS-newest",
		Status:        models.OrderStatusPending,
		Data:          map[string]any{"customer_phone": phone},
		CreatedAt:     time.Now().UTC().Add(time.Hour),
		UpdatedAt:     time.Now().UTC().Add(time.Hour),
	}
	require.NoError(t, p.Orders().Create(ctx, newest))

	got, err := p.Orders().LatestByPhone(ctx, tenantID, phone)
	require.NoError(t, err)
	assert.Equal(t, newest.ID, got.ID)

	_, err = p.Orders().LatestByPhone(ctx, tenantID, "+5500000000000")
	assert.ErrorIs(t, err, persistence.ErrOrderNotFound)
}

func TestCounterRepository_NextOrderNumber(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	tenantID := uuid.New().String()

	for want := int64(1); want <= 3; want++ {
		n, err := p.Counters().NextOrderNumber(ctx, tenantID)
		require.NoError(t, err)
		assert.Equal(t, want, n)
	}

	// Counters are per tenant.
	n, err := p.Counters().NextOrderNumber(ctx, uuid.New().String())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestCounterRepository_ConcurrentAllocationsAreUnique(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	tenantID := uuid.New().String()

	const workers = 10

	var wg sync.WaitGroup

	numbers := make(chan int64, workers)

	for range workers {
		wg.Add(1)

		go func() {
			defer wg.Done()

			n, err := p.Counters().NextOrderNumber(ctx, tenantID)
			assert.NoError(t, err)
			numbers <- n
		}()
	}

	wg.Wait()
	close(numbers)

	seen := make(map[int64]bool, workers)
	for n := range numbers {
		assert.False(t, seen[n], "order number %d allocated twice", n)
		seen[n] = true
	}

	assert.Len(t, seen, workers)
}

func TestTimerRepository_DueAndClaim(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	tenantID := uuid.New().String()
	run := insertRunChain(ctx, t, p, tenantID, "")

	now := time.Now().UTC()
	timer := &models.Timer{
		ID:            uuid.New().String(),
		TenantID:      tenantID,
		WorkflowRunID: run.ID,
		FireAt:        now.Add(-time.Minute),
		Purpose:       models.TimerPurposeWorkflowContinue,
		Status:        models.TimerStatusScheduled,
		CreatedAt:     now,
	}
	require.NoError(t, p.Timers().Create(ctx, timer))

	future := &models.Timer{
		ID:            uuid.New().String(),
		TenantID:      tenantID,
		WorkflowRunID: run.ID,
		FireAt:        now.Add(time.Hour),
		Purpose:       models.TimerPurposeFollowUp,
		Status:        models.TimerStatusScheduled,
		CreatedAt:     now,
	}
	require.NoError(t, p.Timers().Create(ctx, future))

	due, err := p.Timers().Due(ctx, now)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, timer.ID, due[0].ID)

	claimed, err := p.Timers().Claim(ctx, tenantID, timer.ID, now)
	require.NoError(t, err)
	assert.True(t, claimed)

	// Second claim loses: the conditional update already consumed the row.
	claimed, err = p.Timers().Claim(ctx, tenantID, timer.ID, now)
	require.NoError(t, err)
	assert.False(t, claimed)

	got, err := p.Timers().GetByID(ctx, tenantID, timer.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TimerStatusFired, got.Status)
	require.NotNil(t, got.FiredAt)

	due, err = p.Timers().Due(ctx, now)
	require.NoError(t, err)
	assert.Empty(t, due)

	timers, err := p.Timers().ListByRun(ctx, tenantID, run.ID)
	require.NoError(t, err)
	assert.Len(t, timers, 2)
}

func TestWorkflowRepository_PublishIsExclusive(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	tenantID := uuid.New().String()
	now := time.Now().UTC()

	definition := &models.WorkflowDefinition{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		Name:      "Order flow",
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, p.Workflows().CreateDefinition(ctx, definition))

	actions := []models.Action{
		{ID: "notify", SequenceOrder: 1, Type: models.ActionSendMessage,
			Config: map[string]any{"message": "hi {{customer_name}}"}},
	}

	v1 := &models.WorkflowVersion{
		ID: uuid.New().String(), TenantID: tenantID, WorkflowID: definition.ID,
		Version: 1, Definition: models.Definition{Actions: actions}, CreatedAt: now,
	}
	v2 := &models.WorkflowVersion{
		ID: uuid.New().String(), TenantID: tenantID, WorkflowID: definition.ID,
		Version: 2, Definition: models.Definition{Actions: actions}, CreatedAt: now,
	}
	require.NoError(t, p.Workflows().CreateVersion(ctx, v1))
	require.NoError(t, p.Workflows().CreateVersion(ctx, v2))

	_, err := p.Workflows().CurrentPublished(ctx, tenantID)
	assert.ErrorIs(t, err, persistence.ErrNoPublishedVersion)

	require.NoError(t, p.Workflows().PublishVersion(ctx, tenantID, v1.ID))
	require.NoError(t, p.Workflows().PublishVersion(ctx, tenantID, v2.ID))

	current, err := p.Workflows().CurrentPublished(ctx, tenantID)
	require.NoError(t, err)
	assert.Equal(t, v2.ID, current.ID)
	require.Len(t, current.Definition.Actions, 1)
	assert.Equal(t, models.ActionSendMessage, current.Definition.Actions[0].Type)

	gotV1, err := p.Workflows().GetVersion(ctx, tenantID, v1.ID)
	require.NoError(t, err)
	assert.False(t, gotV1.IsPublished)

	versions, err := p.Workflows().ListVersions(ctx, tenantID, definition.ID)
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, 1, versions[0].Version)
	assert.Equal(t, 2, versions[1].Version)

	err = p.Workflows().PublishVersion(ctx, tenantID, uuid.New().String())
	assert.ErrorIs(t, err, persistence.ErrVersionNotFound)
}

func TestRunRepository_UpdateState(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	tenantID := uuid.New().String()
	order := insertOrder(ctx, t, p, tenantID, "+5511999990000")
	run := insertRunChain(ctx, t, p, tenantID, order.ID)

	completed := time.Now().UTC()
	run.CurrentState = "notify"
	run.Status = models.RunStatusCompleted
	run.Context = models.RunContext{"ai_decision": "proceed"}
	run.CompletedAt = &completed
	require.NoError(t, p.Runs().UpdateState(ctx, run))

	got, err := p.Runs().GetByID(ctx, tenantID, run.ID)
	require.NoError(t, err)
	assert.Equal(t, "notify", got.CurrentState)
	assert.Equal(t, models.RunStatusCompleted, got.Status)
	assert.Equal(t, "proceed", got.Context["ai_decision"])
	assert.Equal(t, order.ID, got.OrderID)
	require.NotNil(t, got.CompletedAt)
	assert.WithinDuration(t, completed, *got.CompletedAt, time.Second)

	runs, err := p.Runs().ListByOrder(ctx, tenantID, order.ID)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, run.ID, runs[0].ID)

	missing := &models.WorkflowRun{ID: uuid.New().String(), TenantID: tenantID}
	err = p.Runs().UpdateState(ctx, missing)
	assert.ErrorIs(t, err, persistence.ErrRunNotFound)
}

func TestConversationRepository_GetOrCreateIsIdempotent(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	tenantID := uuid.New().String()
	phone := "+5511999990000"

	conv, err := p.Conversations().GetOrCreateByPhone(ctx, tenantID, phone)
	require.NoError(t, err)

	again, err := p.Conversations().GetOrCreateByPhone(ctx, tenantID, phone)
	require.NoError(t, err)
	assert.Equal(t, conv.ID, again.ID)

	for i, text := range []string{"hello", "yes"} {
		msg := &models.Message{
			ID:             uuid.New().String(),
			TenantID:       tenantID,
			ConversationID: conv.ID,
			Direction:      models.MessageInbound,
			Text:           text,
			CreatedAt:      time.Now().UTC().Add(time.Duration(i) * time.Second),
		}
		require.NoError(t, p.Conversations().AppendMessage(ctx, msg))
	}

	messages, err := p.Conversations().Messages(ctx, tenantID, conv.ID)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, "hello", messages[0].Text)
	assert.Equal(t, "yes", messages[1].Text)

	_, err = p.Conversations().GetByID(ctx, tenantID, uuid.New().String())
	assert.ErrorIs(t, err, persistence.ErrConversationNotFound)
}

func TestTenantRepository_SaveAndGet(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	tenantID := uuid.New().String()

	_, err := p.Tenants().Get(ctx, tenantID)
	assert.ErrorIs(t, err, persistence.ErrTenantNotFound)

	require.NoError(t, p.Tenants().Save(ctx, &models.TenantSettings{
		TenantID:   tenantID,
		AIAPIKey:   "sk-first",
		OracleMode: models.OracleModeStrict,
	}))

	// Save is an upsert: the second write replaces the first.
	require.NoError(t, p.Tenants().Save(ctx, &models.TenantSettings{
		TenantID:   tenantID,
		AIAPIKey:   "sk-second",
		OracleMode: models.OracleModePermissive,
		LLMModel:   "gpt-4o-mini",
	}))

	got, err := p.Tenants().Get(ctx, tenantID)
	require.NoError(t, err)
	assert.Equal(t, "sk-second", got.AIAPIKey)
	assert.Equal(t, models.OracleModePermissive, got.OracleMode)
	assert.Equal(t, "gpt-4o-mini", got.LLMModel)
}
