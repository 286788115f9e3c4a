// Package postgresql provides the PostgreSQL persistence implementation for
// orders, conversations, workflow definitions, runs and timers.
package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/codagent/flowkit/pkg/persistence"
	"github.com/codagent/flowkit/pkg/persistence/sqlbase"

	_ "github.com/lib/pq"
)

// Persistence implements the persistence layer for PostgreSQL.
type Persistence struct {
	db     *sql.DB
	logger *slog.Logger

	orderRepo        *OrderRepository
	conversationRepo *ConversationRepository
	workflowRepo     *WorkflowRepository
	runRepo          *RunRepository
	timerRepo        *TimerRepository
	tenantRepo       *TenantRepository
	counterRepo      *CounterRepository
}

// NewPersistence creates a new PostgreSQL persistence layer and runs
// migrations.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*Persistence, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	err = database.PingContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	migrationManager := sqlbase.NewMigrationManager(logger, database, migrations())

	err = migrationManager.RunMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Persistence{
		db:               database,
		logger:           logger,
		orderRepo:        NewOrderRepository(database, logger),
		conversationRepo: NewConversationRepository(database, logger),
		workflowRepo:     NewWorkflowRepository(database, logger),
		runRepo:          NewRunRepository(database, logger),
		timerRepo:        NewTimerRepository(database, logger),
		tenantRepo:       NewTenantRepository(database, logger),
		counterRepo:      NewCounterRepository(database, logger),
	}, nil
}

func (p *Persistence) Orders() persistence.OrderRepository {
	return p.orderRepo
}

func (p *Persistence) Conversations() persistence.ConversationRepository {
	return p.conversationRepo
}

func (p *Persistence) Workflows() persistence.WorkflowRepository {
	return p.workflowRepo
}

func (p *Persistence) Runs() persistence.RunRepository {
	return p.runRepo
}

func (p *Persistence) Timers() persistence.TimerRepository {
	return p.timerRepo
}

func (p *Persistence) Tenants() persistence.TenantRepository {
	return p.tenantRepo
}

func (p *Persistence) Counters() persistence.CounterRepository {
	return p.counterRepo
}

// HealthCheck verifies the database connection is healthy.
func (p *Persistence) HealthCheck(ctx context.Context) error {
	err := p.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (p *Persistence) Close(_ context.Context) error {
	if p.db != nil {
		err := p.db.Close()
		if err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}
