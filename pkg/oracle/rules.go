package oracle

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/codagent/flowkit/pkg/models"
	"github.com/expr-lang/expr"
)

// Rules is the deterministic evaluator: field presence/equality checks plus
// compiled expressions for custom conditions. It never calls out; it is the
// permissive-mode fallback when no LLM is reachable.
type Rules struct {
	logger *slog.Logger
	now    func() time.Time
}

// NewRules creates a rule evaluator.
func NewRules(logger *slog.Logger) *Rules {
	return &Rules{
		logger: logger.With("component", "oracle_rules"),
		now:    time.Now,
	}
}

// Decide evaluates the request without external calls. Conditions resolve to
// true/false; prompts resolve to the first option, which is the documented
// deterministic fallback when no LLM is available.
func (r *Rules) Decide(_ context.Context, req Request) (string, error) {
	if !req.IsCondition() {
		if len(req.Options) == 0 {
			return "", ErrUnexpectedLabel
		}

		return req.Options[0], nil
	}

	if req.Order == nil {
		return "", ErrMissingOrder
	}

	result, err := r.evaluateCondition(req.Condition, req.Order)
	if err != nil {
		return "", err
	}

	if result {
		return OutcomeTrue, nil
	}

	return OutcomeFalse, nil
}

func (r *Rules) evaluateCondition(cond *models.CheckConditionConfig, order *models.Order) (bool, error) {
	switch cond.ConditionType {
	case models.ConditionHasTag:
		return order.HasTag(cond.TagName), nil

	case models.ConditionOrderStatus:
		return string(order.Status) == cond.ExpectedStatus, nil

	case models.ConditionTimeElapsed:
		elapsed := r.now().UTC().Sub(order.CreatedAt.UTC())

		return elapsed >= time.Duration(cond.ElapsedMinutes)*time.Minute, nil

	case models.ConditionCustomField:
		return r.evaluateCustomField(cond, order)

	default:
		return false, fmt.Errorf("unsupported condition type %q", cond.ConditionType)
	}
}

// evaluateCustomField checks a single order field. With an expression the
// check is compiled and run against the order's flattened fields; otherwise
// it is a plain equality check, where a nil expected value means "field is
// present".
func (r *Rules) evaluateCustomField(cond *models.CheckConditionConfig, order *models.Order) (bool, error) {
	data := order.TemplateData()

	if cond.Expression != "" {
		program, err := expr.Compile(cond.Expression, expr.Env(map[string]any{"order": data}), expr.AsBool())
		if err != nil {
			return false, fmt.Errorf("failed to compile condition expression: %w", err)
		}

		output, err := expr.Run(program, map[string]any{"order": data})
		if err != nil {
			return false, fmt.Errorf("failed to evaluate condition expression: %w", err)
		}

		result, ok := output.(bool)
		if !ok {
			return false, fmt.Errorf("condition expression did not return a boolean")
		}

		return result, nil
	}

	value, present := data[cond.Field]
	if cond.Expected == nil {
		return present, nil
	}

	return present && fmt.Sprint(value) == fmt.Sprint(cond.Expected), nil
}
