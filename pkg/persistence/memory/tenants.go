package memory

import (
	"context"
	"time"

	"github.com/codagent/flowkit/pkg/models"
	"github.com/codagent/flowkit/pkg/persistence"
)

type tenantRepository struct {
	p *Persistence
}

func (r *tenantRepository) Get(_ context.Context, tenantID string) (*models.TenantSettings, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	settings, ok := r.p.tenants[tenantID]
	if !ok {
		return nil, persistence.ErrTenantNotFound
	}

	clone := *settings

	return &clone, nil
}

func (r *tenantRepository) Save(_ context.Context, settings *models.TenantSettings) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	clone := *settings
	clone.UpdatedAt = time.Now().UTC()
	r.p.tenants[settings.TenantID] = &clone

	return nil
}

type counterRepository struct {
	p *Persistence
}

func (r *counterRepository) NextOrderNumber(_ context.Context, tenantID string) (int64, error) {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	r.p.counters[tenantID]++

	return r.p.counters[tenantID], nil
}
