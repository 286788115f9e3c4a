package memory

import (
	"context"
	"sort"
	"time"

	"github.com/codagent/flowkit/pkg/models"
	"github.com/codagent/flowkit/pkg/persistence"
)

type timerRepository struct {
	p *Persistence
}

func (r *timerRepository) Create(_ context.Context, timer *models.Timer) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	r.p.timers[key(timer.TenantID, timer.ID)] = cloneTimer(timer)

	return nil
}

func (r *timerRepository) GetByID(_ context.Context, tenantID, id string) (*models.Timer, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	timer, ok := r.p.timers[key(tenantID, id)]
	if !ok {
		return nil, persistence.ErrTimerNotFound
	}

	return cloneTimer(timer), nil
}

func (r *timerRepository) ListByRun(_ context.Context, tenantID, runID string) ([]*models.Timer, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	timers := make([]*models.Timer, 0)

	for _, timer := range r.p.timers {
		if timer.TenantID == tenantID && timer.WorkflowRunID == runID {
			timers = append(timers, cloneTimer(timer))
		}
	}

	sort.Slice(timers, func(i, j int) bool { return timers[i].CreatedAt.Before(timers[j].CreatedAt) })

	return timers, nil
}

func (r *timerRepository) Due(_ context.Context, now time.Time) ([]*models.Timer, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	due := make([]*models.Timer, 0)

	for _, timer := range r.p.timers {
		if timer.Status == models.TimerStatusScheduled && !timer.FireAt.After(now) {
			due = append(due, cloneTimer(timer))
		}
	}

	sort.Slice(due, func(i, j int) bool { return due[i].FireAt.Before(due[j].FireAt) })

	return due, nil
}

func (r *timerRepository) Claim(_ context.Context, tenantID, id string, firedAt time.Time) (bool, error) {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	timer, ok := r.p.timers[key(tenantID, id)]
	if !ok {
		return false, persistence.ErrTimerNotFound
	}

	if timer.Status != models.TimerStatusScheduled {
		return false, nil
	}

	fired := firedAt.UTC()
	timer.Status = models.TimerStatusFired
	timer.FiredAt = &fired

	return true, nil
}
