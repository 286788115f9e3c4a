package web

import (
	"github.com/codagent/flowkit/pkg/dispatcher"
	"github.com/codagent/flowkit/pkg/models"
)

// AdvanceRunRequest re-enters the interpreter at a specific action,
// optionally merging extra entries into the run context first.
type AdvanceRunRequest struct {
	ActionID string            `json:"action_id" validate:"required"`
	Context  models.RunContext `json:"context,omitempty"`
}

// AddVersionRequest carries the action list for a new workflow version.
type AddVersionRequest struct {
	Definition models.Definition `json:"definition"`
}

// CreateOrderResponse is the boundary shape of order creation.
type CreateOrderResponse struct {
	OK    bool                `json:"ok"`
	Order *models.Order       `json:"order"`
	Run   *models.WorkflowRun `json:"run,omitempty"`
}

// SweepResponse is the boundary shape of a dispatcher sweep.
type SweepResponse struct {
	OK bool `json:"ok"`
	dispatcher.Result
}

// WorkflowDetailResponse is a definition together with its versions.
type WorkflowDetailResponse struct {
	Workflow *models.WorkflowDefinition `json:"workflow"`
	Versions []*models.WorkflowVersion  `json:"versions"`
}

// HealthResponse reports one component check.
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}
