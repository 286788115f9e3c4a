package memory

import (
	"context"
	"sort"

	"github.com/codagent/flowkit/pkg/models"
	"github.com/codagent/flowkit/pkg/persistence"
)

type runRepository struct {
	p *Persistence
}

func (r *runRepository) Create(_ context.Context, run *models.WorkflowRun) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	r.p.runs[key(run.TenantID, run.ID)] = cloneRun(run)

	return nil
}

func (r *runRepository) GetByID(_ context.Context, tenantID, id string) (*models.WorkflowRun, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	run, ok := r.p.runs[key(tenantID, id)]
	if !ok {
		return nil, persistence.ErrRunNotFound
	}

	return cloneRun(run), nil
}

func (r *runRepository) ListByOrder(_ context.Context, tenantID, orderID string) ([]*models.WorkflowRun, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	runs := make([]*models.WorkflowRun, 0)

	for _, run := range r.p.runs {
		if run.TenantID == tenantID && run.OrderID == orderID {
			runs = append(runs, cloneRun(run))
		}
	}

	sort.Slice(runs, func(i, j int) bool { return runs[i].StartedAt.Before(runs[j].StartedAt) })

	return runs, nil
}

func (r *runRepository) UpdateState(_ context.Context, run *models.WorkflowRun) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	stored, ok := r.p.runs[key(run.TenantID, run.ID)]
	if !ok {
		return persistence.ErrRunNotFound
	}

	stored.CurrentState = run.CurrentState
	stored.Status = run.Status
	stored.Context = models.RunContext(cloneMap(map[string]any(run.Context)))
	stored.ErrorMessage = run.ErrorMessage
	stored.CompletedAt = run.CompletedAt

	return nil
}
