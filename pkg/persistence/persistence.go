// Package persistence provides the data storage abstraction for orders,
// conversations, workflow definitions, runs and timers. All operations are
// tenant-scoped; implementations must never return rows across tenants.
package persistence

import (
	"context"
	"time"

	"github.com/codagent/flowkit/pkg/models"
)

// Persistence is the root storage interface wired into the services, the
// engine and the dispatcher.
type Persistence interface {
	Orders() OrderRepository
	Conversations() ConversationRepository
	Workflows() WorkflowRepository
	Runs() RunRepository
	Timers() TimerRepository
	Tenants() TenantRepository
	Counters() CounterRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// OrderRepository persists orders. Mutations are narrow field-level updates
// so concurrent engine and UI writes do not clobber each other.
type OrderRepository interface {
	Create(ctx context.Context, order *models.Order) error
	GetByID(ctx context.Context, tenantID, id string) (*models.Order, error)
	UpdateStatus(ctx context.Context, tenantID, id string, status models.OrderStatus) error
	MarkNeedsAttention(ctx context.Context, tenantID, id string, needsAttention bool) error
	AppendNote(ctx context.Context, tenantID, id string, note models.Note) error
	LatestByPhone(ctx context.Context, tenantID, phone string) (*models.Order, error)
}

// ConversationRepository persists conversations and their messages.
type ConversationRepository interface {
	GetOrCreateByPhone(ctx context.Context, tenantID, phone string) (*models.Conversation, error)
	GetByID(ctx context.Context, tenantID, id string) (*models.Conversation, error)
	AppendMessage(ctx context.Context, msg *models.Message) error
	Messages(ctx context.Context, tenantID, conversationID string) ([]*models.Message, error)
}

// WorkflowRepository persists workflow definitions and their immutable
// versions.
type WorkflowRepository interface {
	CreateDefinition(ctx context.Context, def *models.WorkflowDefinition) error
	GetDefinition(ctx context.Context, tenantID, id string) (*models.WorkflowDefinition, error)
	ListDefinitions(ctx context.Context, tenantID string) ([]*models.WorkflowDefinition, error)

	CreateVersion(ctx context.Context, version *models.WorkflowVersion) error
	GetVersion(ctx context.Context, tenantID, id string) (*models.WorkflowVersion, error)
	ListVersions(ctx context.Context, tenantID, workflowID string) ([]*models.WorkflowVersion, error)

	// PublishVersion marks the version published and unpublishes every other
	// version of the tenant so exactly one is current.
	PublishVersion(ctx context.Context, tenantID, versionID string) error

	// CurrentPublished returns the tenant's single published version, or
	// ErrNoPublishedVersion.
	CurrentPublished(ctx context.Context, tenantID string) (*models.WorkflowVersion, error)
}

// RunRepository persists workflow runs.
type RunRepository interface {
	Create(ctx context.Context, run *models.WorkflowRun) error
	GetByID(ctx context.Context, tenantID, id string) (*models.WorkflowRun, error)
	ListByOrder(ctx context.Context, tenantID, orderID string) ([]*models.WorkflowRun, error)

	// UpdateState persists the run's resume position, status, context and
	// error message. The write is the durable step boundary: it must commit
	// before the next action executes.
	UpdateState(ctx context.Context, run *models.WorkflowRun) error
}

// TimerRepository persists scheduled wake-ups.
type TimerRepository interface {
	Create(ctx context.Context, timer *models.Timer) error
	GetByID(ctx context.Context, tenantID, id string) (*models.Timer, error)
	ListByRun(ctx context.Context, tenantID, runID string) ([]*models.Timer, error)

	// Due returns all scheduled timers with fire_at <= now, across tenants.
	Due(ctx context.Context, now time.Time) ([]*models.Timer, error)

	// Claim atomically flips the timer scheduled -> fired. It returns false
	// when the timer was already claimed, which makes consumption
	// effectively exactly-once under concurrent sweeps.
	Claim(ctx context.Context, tenantID, id string, firedAt time.Time) (bool, error)
}

// TenantRepository persists per-tenant settings.
type TenantRepository interface {
	Get(ctx context.Context, tenantID string) (*models.TenantSettings, error)
	Save(ctx context.Context, settings *models.TenantSettings) error
}

// CounterRepository allocates tenant-scoped monotonically increasing order
// numbers. Allocation must be atomic; a failure aborts order creation.
type CounterRepository interface {
	NextOrderNumber(ctx context.Context, tenantID string) (int64, error)
}
