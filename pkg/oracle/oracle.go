// Package oracle resolves workflow branches. A decision is either a
// deterministic rule evaluation over the order's fields or an LLM-backed
// classification constrained to a closed label set; the engine treats both
// uniformly as "resolve a branch".
package oracle

import (
	"context"
	"errors"

	"github.com/codagent/flowkit/pkg/models"
)

// Boolean condition outcomes.
const (
	OutcomeTrue  = "true"
	OutcomeFalse = "false"
)

var (
	// ErrNoCredential indicates the tenant has no AI credential configured.
	ErrNoCredential = errors.New("no AI credential configured")

	// ErrUnexpectedLabel indicates the classifier returned something outside
	// the valid option set.
	ErrUnexpectedLabel = errors.New("classifier returned unexpected label")

	// ErrMissingOrder indicates a rule decision was requested without order context.
	ErrMissingOrder = errors.New("decision requires order context")
)

// Request describes one decision. Either Condition is set (rule evaluation)
// or Prompt is (classification against Options). The prompt arrives already
// rendered; placeholder substitution happens in the engine.
type Request struct {
	Condition *models.CheckConditionConfig
	Prompt    string
	Options   []string
	Order     *models.Order
}

// IsCondition reports whether the request is a boolean rule check.
func (r Request) IsCondition() bool {
	return r.Condition != nil
}

// ValidOptions returns the closed label set for the request. Conditions are
// implicitly true/false.
func (r Request) ValidOptions() []string {
	if r.IsCondition() {
		return []string{OutcomeTrue, OutcomeFalse}
	}

	return r.Options
}

// Oracle resolves a decision request to exactly one of its valid options.
type Oracle interface {
	Decide(ctx context.Context, settings *models.TenantSettings, req Request) (string, error)
}

func contains(options []string, label string) bool {
	for _, opt := range options {
		if opt == label {
			return true
		}
	}

	return false
}
