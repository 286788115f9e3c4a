package models

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// ActionType tags the variant of a workflow action.
type ActionType string

const (
	ActionWait           ActionType = "wait"
	ActionSendMessage    ActionType = "send_message"
	ActionUpdateOrder    ActionType = "update_order"
	ActionCreateTimer    ActionType = "create_timer"
	ActionCheckCondition ActionType = "check_condition"
	ActionAIDecision     ActionType = "ai_agent_decision"
	ActionBranch         ActionType = "branch"
	ActionEndWorkflow    ActionType = "end_workflow"
)

// Known reports whether the action type is one the interpreter implements.
// Unknown types are passed through at execution time for forward
// compatibility, but publishing rejects them.
func (t ActionType) Known() bool {
	switch t {
	case ActionWait, ActionSendMessage, ActionUpdateOrder, ActionCreateTimer,
		ActionCheckCondition, ActionAIDecision, ActionBranch, ActionEndWorkflow:
		return true
	default:
		return false
	}
}

// Action is one step in a workflow definition. Actions are immutable once
// persisted in a published version. Outputs maps outcome labels to the
// action id to jump to; when absent the interpreter falls back to linear
// sequence order.
type Action struct {
	ID            string            `json:"id"             validate:"required"`
	SequenceOrder int               `json:"sequence_order"`
	Type          ActionType        `json:"action_type"    validate:"required"`
	Config        map[string]any    `json:"config,omitempty"`
	Conditions    map[string]any    `json:"conditions,omitempty"`
	Outputs       map[string]string `json:"outputs,omitempty"`
}

// WaitConfig suspends the run and schedules a resume timer.
type WaitConfig struct {
	DurationMinutes int `json:"duration" validate:"required,min=1"`
}

// SendMessageConfig enqueues an outbound message. The message text is a
// template with {{field}} placeholders substituted from the order payload.
type SendMessageConfig struct {
	Message string `json:"message" validate:"required"`
}

// UpdateOrderConfig writes a new status to the order.
type UpdateOrderConfig struct {
	Status string `json:"status" validate:"required"`
}

// CreateTimerConfig schedules a named timer bound to the run.
type CreateTimerConfig struct {
	Purpose      string `json:"purpose" validate:"required"`
	DelayMinutes int    `json:"delay"   validate:"required,min=1"`
}

// ConditionType selects the rule evaluated by a check_condition action.
type ConditionType string

const (
	ConditionHasTag      ConditionType = "has_tag"
	ConditionOrderStatus ConditionType = "order_status"
	ConditionTimeElapsed ConditionType = "time_elapsed"
	ConditionCustomField ConditionType = "custom_field"
)

// CheckConditionConfig is a boolean gate over the order's current state.
type CheckConditionConfig struct {
	ConditionType  ConditionType `json:"condition_type"            validate:"required,oneof=has_tag order_status time_elapsed custom_field"`
	TagName        string        `json:"tag_name,omitempty"`
	ExpectedStatus string        `json:"expected_status,omitempty"`
	ElapsedMinutes int           `json:"elapsed_minutes,omitempty"`
	Field          string        `json:"field,omitempty"`
	Expected       any           `json:"expected,omitempty"`
	Expression     string        `json:"expression,omitempty"`
}

// AIDecisionConfig asks the decision oracle to pick one of two labels.
type AIDecisionConfig struct {
	Prompt  string `json:"prompt"   validate:"required"`
	Option1 string `json:"option_1" validate:"required"`
	Option2 string `json:"option_2" validate:"required"`
}

// Options returns the closed label set the oracle must pick from.
func (c AIDecisionConfig) Options() []string {
	return []string{c.Option1, c.Option2}
}

// BranchConfig is a documentation-only marker with no runtime effect.
type BranchConfig struct {
	Description string `json:"description,omitempty"`
}

// EndWorkflowConfig terminates the run.
type EndWorkflowConfig struct {
	Reason string `json:"reason,omitempty"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func decodeConfig[T any](actionID string, config map[string]any) (*T, error) {
	raw, err := json.Marshal(config)
	if err != nil {
		return nil, fmt.Errorf("action %s: failed to encode config: %w", actionID, err)
	}

	var cfg T

	err = json.Unmarshal(raw, &cfg)
	if err != nil {
		return nil, fmt.Errorf("action %s: malformed config: %w", actionID, err)
	}

	err = validate.Struct(&cfg)
	if err != nil {
		return nil, fmt.Errorf("action %s: invalid config: %w", actionID, err)
	}

	return &cfg, nil
}

// ParseConfig decodes and validates the action's config into its typed form.
// It returns one of the *Config structs above, or an error for malformed or
// incomplete configuration. Unknown action types parse to nil.
func (a Action) ParseConfig() (any, error) {
	switch a.Type {
	case ActionWait:
		return decodeConfig[WaitConfig](a.ID, a.Config)
	case ActionSendMessage:
		return decodeConfig[SendMessageConfig](a.ID, a.Config)
	case ActionUpdateOrder:
		return decodeConfig[UpdateOrderConfig](a.ID, a.Config)
	case ActionCreateTimer:
		return decodeConfig[CreateTimerConfig](a.ID, a.Config)
	case ActionCheckCondition:
		return decodeConfig[CheckConditionConfig](a.ID, a.Config)
	case ActionAIDecision:
		return decodeConfig[AIDecisionConfig](a.ID, a.Config)
	case ActionBranch:
		return decodeConfig[BranchConfig](a.ID, a.Config)
	case ActionEndWorkflow:
		return decodeConfig[EndWorkflowConfig](a.ID, a.Config)
	default:
		return nil, nil
	}
}
