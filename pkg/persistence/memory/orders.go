package memory

import (
	"context"
	"time"

	"github.com/codagent/flowkit/pkg/models"
	"github.com/codagent/flowkit/pkg/persistence"
)

type orderRepository struct {
	p *Persistence
}

func (r *orderRepository) Create(_ context.Context, order *models.Order) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	k := key(order.TenantID, order.ID)
	r.p.orders[k] = cloneOrder(order)
	r.p.nextOrderSeq++
	r.p.orderSeq[k] = r.p.nextOrderSeq

	return nil
}

func (r *orderRepository) GetByID(_ context.Context, tenantID, id string) (*models.Order, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	order, ok := r.p.orders[key(tenantID, id)]
	if !ok {
		return nil, persistence.ErrOrderNotFound
	}

	return cloneOrder(order), nil
}

func (r *orderRepository) UpdateStatus(_ context.Context, tenantID, id string, status models.OrderStatus) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	order, ok := r.p.orders[key(tenantID, id)]
	if !ok {
		return persistence.ErrOrderNotFound
	}

	order.Status = status
	order.UpdatedAt = time.Now().UTC()

	return nil
}

func (r *orderRepository) MarkNeedsAttention(_ context.Context, tenantID, id string, needsAttention bool) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	order, ok := r.p.orders[key(tenantID, id)]
	if !ok {
		return persistence.ErrOrderNotFound
	}

	order.NeedsAttention = needsAttention
	order.UpdatedAt = time.Now().UTC()

	return nil
}

func (r *orderRepository) AppendNote(_ context.Context, tenantID, id string, note models.Note) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	order, ok := r.p.orders[key(tenantID, id)]
	if !ok {
		return persistence.ErrOrderNotFound
	}

	order.Notes = append(order.Notes, note)
	order.UpdatedAt = time.Now().UTC()

	return nil
}

func (r *orderRepository) LatestByPhone(_ context.Context, tenantID, phone string) (*models.Order, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	var (
		latest    *models.Order
		latestSeq int64
	)

	for k, order := range r.p.orders {
		if order.TenantID != tenantID || order.CustomerPhone() != phone {
			continue
		}

		if latest == nil || r.p.orderSeq[k] > latestSeq {
			latest = order
			latestSeq = r.p.orderSeq[k]
		}
	}

	if latest == nil {
		return nil, persistence.ErrOrderNotFound
	}

	return cloneOrder(latest), nil
}
