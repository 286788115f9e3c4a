// Package memory provides an in-memory persistence implementation used by
// unit tests and local development. All repositories share one mutex-guarded
// store; values are copied on the way in and out so callers never alias
// stored rows.
package memory

import (
	"context"
	"sync"

	"github.com/codagent/flowkit/pkg/models"
	"github.com/codagent/flowkit/pkg/persistence"
)

// Persistence implements persistence.Persistence with in-memory maps.
type Persistence struct {
	mu sync.RWMutex

	orders        map[string]*models.Order // keyed tenantID/id
	orderSeq      map[string]int64         // insertion order for latest-by-phone ties
	nextOrderSeq  int64
	conversations map[string]*models.Conversation
	messages      map[string][]*models.Message // keyed tenantID/conversationID
	definitions   map[string]*models.WorkflowDefinition
	versions      map[string]*models.WorkflowVersion
	runs          map[string]*models.WorkflowRun
	timers        map[string]*models.Timer
	tenants       map[string]*models.TenantSettings
	counters      map[string]int64
}

// NewPersistence creates an empty in-memory persistence layer.
func NewPersistence() *Persistence {
	return &Persistence{
		orders:        make(map[string]*models.Order),
		orderSeq:      make(map[string]int64),
		conversations: make(map[string]*models.Conversation),
		messages:      make(map[string][]*models.Message),
		definitions:   make(map[string]*models.WorkflowDefinition),
		versions:      make(map[string]*models.WorkflowVersion),
		runs:          make(map[string]*models.WorkflowRun),
		timers:        make(map[string]*models.Timer),
		tenants:       make(map[string]*models.TenantSettings),
		counters:      make(map[string]int64),
	}
}

func key(tenantID, id string) string {
	return tenantID + "/" + id
}

func (p *Persistence) Orders() persistence.OrderRepository {
	return &orderRepository{p}
}

func (p *Persistence) Conversations() persistence.ConversationRepository {
	return &conversationRepository{p}
}

func (p *Persistence) Workflows() persistence.WorkflowRepository {
	return &workflowRepository{p}
}

func (p *Persistence) Runs() persistence.RunRepository {
	return &runRepository{p}
}

func (p *Persistence) Timers() persistence.TimerRepository {
	return &timerRepository{p}
}

func (p *Persistence) Tenants() persistence.TenantRepository {
	return &tenantRepository{p}
}

func (p *Persistence) Counters() persistence.CounterRepository {
	return &counterRepository{p}
}

// HealthCheck always succeeds for the in-memory store.
func (p *Persistence) HealthCheck(_ context.Context) error {
	return nil
}

// Close is a no-op for the in-memory store.
func (p *Persistence) Close(_ context.Context) error {
	return nil
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}

	clone := make(map[string]any, len(m))
	for k, v := range m {
		clone[k] = v
	}

	return clone
}

func cloneOrder(o *models.Order) *models.Order {
	clone := *o
	clone.Data = cloneMap(o.Data)
	clone.Notes = append([]models.Note(nil), o.Notes...)

	return &clone
}

func cloneRun(r *models.WorkflowRun) *models.WorkflowRun {
	clone := *r
	clone.Context = models.RunContext(cloneMap(map[string]any(r.Context)))

	return &clone
}

func cloneTimer(t *models.Timer) *models.Timer {
	clone := *t

	return &clone
}
