package models

import (
	"fmt"
	"sort"
	"time"
)

// WorkflowDefinition is the logical workflow: immutable identity, mutable
// activity flag. Versions hang off it.
type WorkflowDefinition struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id" validate:"required"`
	Name      string    `json:"name"      validate:"required,min=3"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// WorkflowVersion is one immutable snapshot of a workflow's action list.
// At most one version per tenant is published at a time; new runs always
// bind the currently published version.
type WorkflowVersion struct {
	ID          string     `json:"id"`
	TenantID    string     `json:"tenant_id"   validate:"required"`
	WorkflowID  string     `json:"workflow_id" validate:"required"`
	Version     int        `json:"version"`
	Definition  Definition `json:"definition"`
	IsPublished bool       `json:"is_published"`
	CreatedAt   time.Time  `json:"created_at"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
}

// Definition is the ordered action list interpreted by the engine.
type Definition struct {
	Actions []Action `json:"actions"`
}

// SortedActions returns the actions ordered by sequence_order.
func (d Definition) SortedActions() []Action {
	actions := make([]Action, len(d.Actions))
	copy(actions, d.Actions)
	sort.SliceStable(actions, func(i, j int) bool {
		return actions[i].SequenceOrder < actions[j].SequenceOrder
	})

	return actions
}

// ActionByID locates an action in the definition.
func (d Definition) ActionByID(id string) (Action, bool) {
	for _, a := range d.Actions {
		if a.ID == id {
			return a, true
		}
	}

	return Action{}, false
}

// First returns the first action in sequence order.
func (d Definition) First() (Action, bool) {
	if len(d.Actions) == 0 {
		return Action{}, false
	}

	return d.SortedActions()[0], true
}

// NextAfter returns the action following id in sequence order, if any.
func (d Definition) NextAfter(id string) (Action, bool) {
	sorted := d.SortedActions()
	for i, a := range sorted {
		if a.ID == id {
			if i+1 < len(sorted) {
				return sorted[i+1], true
			}

			return Action{}, false
		}
	}

	return Action{}, false
}

// Validate checks the definition is executable: at least one action, unique
// ids, known action types, well-formed typed configs, and output targets
// that resolve to actions in the same definition. Run at publish time so
// malformed workflows never reach the interpreter.
func (d Definition) Validate() error {
	if len(d.Actions) == 0 {
		return fmt.Errorf("definition has no actions")
	}

	seen := make(map[string]struct{}, len(d.Actions))

	for _, a := range d.Actions {
		if a.ID == "" {
			return fmt.Errorf("action with sequence_order %d has no id", a.SequenceOrder)
		}

		if _, dup := seen[a.ID]; dup {
			return fmt.Errorf("duplicate action id %s", a.ID)
		}

		seen[a.ID] = struct{}{}

		if !a.Type.Known() {
			return fmt.Errorf("action %s has unknown action_type %q", a.ID, a.Type)
		}

		if _, err := a.ParseConfig(); err != nil {
			return err
		}
	}

	for _, a := range d.Actions {
		for label, target := range a.Outputs {
			if _, ok := d.ActionByID(target); !ok {
				return fmt.Errorf("action %s output %q references unknown action %s", a.ID, label, target)
			}
		}
	}

	return nil
}
