package memory

import (
	"context"
	"sort"
	"time"

	"github.com/codagent/flowkit/pkg/models"
	"github.com/codagent/flowkit/pkg/persistence"
)

type workflowRepository struct {
	p *Persistence
}

func cloneVersion(v *models.WorkflowVersion) *models.WorkflowVersion {
	clone := *v
	clone.Definition.Actions = append([]models.Action(nil), v.Definition.Actions...)

	return &clone
}

func (r *workflowRepository) CreateDefinition(_ context.Context, def *models.WorkflowDefinition) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	clone := *def
	r.p.definitions[key(def.TenantID, def.ID)] = &clone

	return nil
}

func (r *workflowRepository) GetDefinition(_ context.Context, tenantID, id string) (*models.WorkflowDefinition, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	def, ok := r.p.definitions[key(tenantID, id)]
	if !ok {
		return nil, persistence.ErrWorkflowNotFound
	}

	clone := *def

	return &clone, nil
}

func (r *workflowRepository) ListDefinitions(_ context.Context, tenantID string) ([]*models.WorkflowDefinition, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	defs := make([]*models.WorkflowDefinition, 0)

	for _, def := range r.p.definitions {
		if def.TenantID == tenantID {
			clone := *def
			defs = append(defs, &clone)
		}
	}

	sort.Slice(defs, func(i, j int) bool { return defs[i].CreatedAt.Before(defs[j].CreatedAt) })

	return defs, nil
}

func (r *workflowRepository) CreateVersion(_ context.Context, version *models.WorkflowVersion) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	if _, ok := r.p.definitions[key(version.TenantID, version.WorkflowID)]; !ok {
		return persistence.ErrWorkflowNotFound
	}

	r.p.versions[key(version.TenantID, version.ID)] = cloneVersion(version)

	return nil
}

func (r *workflowRepository) GetVersion(_ context.Context, tenantID, id string) (*models.WorkflowVersion, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	version, ok := r.p.versions[key(tenantID, id)]
	if !ok {
		return nil, persistence.ErrVersionNotFound
	}

	return cloneVersion(version), nil
}

func (r *workflowRepository) ListVersions(_ context.Context, tenantID, workflowID string) ([]*models.WorkflowVersion, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	versions := make([]*models.WorkflowVersion, 0)

	for _, version := range r.p.versions {
		if version.TenantID == tenantID && version.WorkflowID == workflowID {
			versions = append(versions, cloneVersion(version))
		}
	}

	sort.Slice(versions, func(i, j int) bool { return versions[i].Version < versions[j].Version })

	return versions, nil
}

func (r *workflowRepository) PublishVersion(_ context.Context, tenantID, versionID string) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	target, ok := r.p.versions[key(tenantID, versionID)]
	if !ok {
		return persistence.ErrVersionNotFound
	}

	for _, version := range r.p.versions {
		if version.TenantID == tenantID {
			version.IsPublished = false
		}
	}

	now := time.Now().UTC()
	target.IsPublished = true
	target.PublishedAt = &now

	return nil
}

func (r *workflowRepository) CurrentPublished(_ context.Context, tenantID string) (*models.WorkflowVersion, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	for _, version := range r.p.versions {
		if version.TenantID == tenantID && version.IsPublished {
			return cloneVersion(version), nil
		}
	}

	return nil, persistence.ErrNoPublishedVersion
}
