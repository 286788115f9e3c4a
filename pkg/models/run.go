package models

import "time"

// RunStatus represents the lifecycle state of a workflow run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusPaused    RunStatus = "paused"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// Symbolic run states. CurrentState normally points at the action id to
// resume from; these markers cover the positions outside the action list.
const (
	StateAwaitMessage            = "await_message"
	StateCustomerContactRequired = "customer_contact_required"
	StateFollowUpSent            = "follow_up_sent"
)

// RunContext accumulates side-channel values across suspensions: the last
// condition result, the last AI decision, and anything actions record.
type RunContext map[string]any

// Well-known run context keys.
const (
	ContextKeyAIDecision      = "ai_decision"
	ContextKeyConditionResult = "condition_result"
	ContextKeyEndReason       = "end_reason"
)

// Clone returns a shallow copy safe to mutate per interpreter step.
func (c RunContext) Clone() RunContext {
	clone := make(RunContext, len(c))
	for k, v := range c {
		clone[k] = v
	}

	return clone
}

// WorkflowRun is one execution instance of a published workflow version,
// bound to an order and conversation. Owned exclusively by the engine; the
// dispatcher only touches it through the documented escalation transitions.
type WorkflowRun struct {
	ID                string     `json:"id"`
	TenantID          string     `json:"tenant_id"           validate:"required"`
	WorkflowVersionID string     `json:"workflow_version_id" validate:"required"`
	OrderID           string     `json:"order_id,omitempty"`
	ConversationID    string     `json:"conversation_id,omitempty"`
	CurrentState      string     `json:"current_state"`
	Status            RunStatus  `json:"status"`
	Context           RunContext `json:"context"`
	StartedAt         time.Time  `json:"started_at"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
	ErrorMessage      string     `json:"error_message,omitempty"`
}

// Terminal reports whether the run can make no further progress.
func (r *WorkflowRun) Terminal() bool {
	return r.Status == RunStatusCompleted || r.Status == RunStatusFailed
}
