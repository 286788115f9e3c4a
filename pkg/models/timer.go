package models

import "time"

// TimerStatus represents the consumption state of a timer. A timer moves
// scheduled -> fired exactly once; the dispatcher claims it with a
// conditional update before applying any side effect.
type TimerStatus string

const (
	TimerStatusScheduled TimerStatus = "scheduled"
	TimerStatusFired     TimerStatus = "fired"
)

// TimerPurpose enumerates what a fired timer means. Dispatch is an
// exhaustive switch over these values; unknown purposes fire as no-ops.
type TimerPurpose string

const (
	// TimerPurposeAwaitConfirmation is the order-escalation timer created at
	// order-creation time. Firing pauses the run for human intervention.
	TimerPurposeAwaitConfirmation TimerPurpose = "await_confirmation"

	// TimerPurposeFollowUp marks the run as having sent its follow-up.
	TimerPurposeFollowUp TimerPurpose = "follow_up"

	// TimerPurposeWorkflowContinue resumes the engine at the action after
	// the wait that scheduled it.
	TimerPurposeWorkflowContinue TimerPurpose = "workflow_continue"
)

// Known reports whether the purpose has a dispatcher handler.
func (p TimerPurpose) Known() bool {
	switch p {
	case TimerPurposeAwaitConfirmation, TimerPurposeFollowUp, TimerPurposeWorkflowContinue:
		return true
	default:
		return false
	}
}

// Timer is a durable scheduled wake-up bound to a workflow run.
type Timer struct {
	ID            string       `json:"id"`
	TenantID      string       `json:"tenant_id"       validate:"required"`
	WorkflowRunID string       `json:"workflow_run_id" validate:"required"`
	FireAt        time.Time    `json:"fire_at"`
	Purpose       TimerPurpose `json:"purpose"`
	Status        TimerStatus  `json:"status"`
	FiredAt       *time.Time   `json:"fired_at,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
}
