package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/xeipuuv/gojsonschema"

	"github.com/codagent/flowkit/pkg/models"
	"github.com/codagent/flowkit/pkg/persistence"
)

// definitionSchema is the structural contract for a workflow definition,
// checked at publish time before the semantic validation runs. It catches
// shape errors (wrong types, missing fields) with better messages than a
// failed unmarshal.
const definitionSchema = `{
  "type": "object",
  "required": ["actions"],
  "properties": {
    "actions": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["id", "action_type"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "sequence_order": {"type": "integer"},
          "action_type": {
            "type": "string",
            "enum": ["wait", "send_message", "update_order", "create_timer",
                     "check_condition", "ai_agent_decision", "branch", "end_workflow"]
          },
          "config": {"type": "object"},
          "conditions": {"type": "object"},
          "outputs": {
            "type": "object",
            "additionalProperties": {"type": "string"}
          }
        }
      }
    }
  }
}`

var definitionSchemaLoader = gojsonschema.NewStringLoader(definitionSchema)

// Workflows manages workflow definitions and their versions.
type Workflows struct {
	persistence persistence.Persistence
	logger      *slog.Logger
}

// NewWorkflows creates the workflow management service.
func NewWorkflows(p persistence.Persistence, logger *slog.Logger) *Workflows {
	return &Workflows{
		persistence: p,
		logger:      logger.With("module", "workflows"),
	}
}

// CreateDefinitionRequest is the boundary input for creating a definition.
type CreateDefinitionRequest struct {
	Name string `json:"name" validate:"required,min=3"`
}

// CreateDefinition registers a new logical workflow.
func (s *Workflows) CreateDefinition(ctx context.Context, tenantID string, req CreateDefinitionRequest) (*models.WorkflowDefinition, error) {
	err := validate.Struct(&req)
	if err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}

	now := time.Now().UTC()
	definition := &models.WorkflowDefinition{
		ID:        uuid.Must(uuid.NewV7()).String(),
		TenantID:  tenantID,
		Name:      req.Name,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err = s.persistence.Workflows().CreateDefinition(ctx, definition)
	if err != nil {
		return nil, fmt.Errorf("failed to create workflow: %w", err)
	}

	return definition, nil
}

// GetDefinition fetches one definition.
func (s *Workflows) GetDefinition(ctx context.Context, tenantID, workflowID string) (*models.WorkflowDefinition, error) {
	return s.persistence.Workflows().GetDefinition(ctx, tenantID, workflowID)
}

// ListDefinitions lists the tenant's definitions.
func (s *Workflows) ListDefinitions(ctx context.Context, tenantID string) ([]*models.WorkflowDefinition, error) {
	return s.persistence.Workflows().ListDefinitions(ctx, tenantID)
}

// AddVersion appends a new immutable version to a workflow. Versions are
// numbered sequentially; editing a published version is impossible by
// construction, only adding a new one.
func (s *Workflows) AddVersion(ctx context.Context, tenantID, workflowID string, definition models.Definition) (*models.WorkflowVersion, error) {
	_, err := s.persistence.Workflows().GetDefinition(ctx, tenantID, workflowID)
	if err != nil {
		return nil, err
	}

	existing, err := s.persistence.Workflows().ListVersions(ctx, tenantID, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to list versions: %w", err)
	}

	version := &models.WorkflowVersion{
		ID:         uuid.Must(uuid.NewV7()).String(),
		TenantID:   tenantID,
		WorkflowID: workflowID,
		Version:    len(existing) + 1,
		Definition: definition,
		CreatedAt:  time.Now().UTC(),
	}

	err = s.persistence.Workflows().CreateVersion(ctx, version)
	if err != nil {
		return nil, fmt.Errorf("failed to create version: %w", err)
	}

	return version, nil
}

// ListVersions lists a workflow's versions.
func (s *Workflows) ListVersions(ctx context.Context, tenantID, workflowID string) ([]*models.WorkflowVersion, error) {
	_, err := s.persistence.Workflows().GetDefinition(ctx, tenantID, workflowID)
	if err != nil {
		return nil, err
	}

	return s.persistence.Workflows().ListVersions(ctx, tenantID, workflowID)
}

// Publish validates a version and makes it the tenant's current one,
// unpublishing whatever was published before. Malformed definitions never
// reach the interpreter: both the structural schema and the semantic
// validation must pass here.
func (s *Workflows) Publish(ctx context.Context, tenantID, versionID string) (*models.WorkflowVersion, error) {
	version, err := s.persistence.Workflows().GetVersion(ctx, tenantID, versionID)
	if err != nil {
		return nil, err
	}

	err = s.validateDefinition(version.Definition)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDefinition, err)
	}

	err = s.persistence.Workflows().PublishVersion(ctx, tenantID, versionID)
	if err != nil {
		return nil, fmt.Errorf("failed to publish version: %w", err)
	}

	s.logger.InfoContext(ctx, "Workflow version published",
		"tenant_id", tenantID, "workflow_id", version.WorkflowID,
		"version_id", versionID, "version", version.Version)

	return s.persistence.Workflows().GetVersion(ctx, tenantID, versionID)
}

// CurrentPublished returns the tenant's currently published version.
func (s *Workflows) CurrentPublished(ctx context.Context, tenantID string) (*models.WorkflowVersion, error) {
	return s.persistence.Workflows().CurrentPublished(ctx, tenantID)
}

func (s *Workflows) validateDefinition(definition models.Definition) error {
	raw, err := json.Marshal(definition)
	if err != nil {
		return fmt.Errorf("failed to encode definition: %w", err)
	}

	result, err := gojsonschema.Validate(definitionSchemaLoader, gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}

	if !result.Valid() {
		issues := result.Errors()
		if len(issues) > 0 {
			return fmt.Errorf("definition does not match schema: %s", issues[0].String())
		}

		return fmt.Errorf("definition does not match schema")
	}

	return definition.Validate()
}
