package oracle

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/codagent/flowkit/pkg/models"
)

// Classify abstracts the LLM classifier so tests can inject a fake.
type Classify interface {
	Classify(ctx context.Context, settings *models.TenantSettings, req Request) (string, error)
}

// Adapter selects between the rule evaluator and the LLM classifier per
// tenant mode. Conditions are always resolved by rules; prompts go to the
// LLM when a credential exists. In permissive mode an LLM failure falls
// back to the rule evaluator; in strict mode it fails the decision.
type Adapter struct {
	rules  *Rules
	llm    Classify
	logger *slog.Logger
}

// NewAdapter creates the default adapter with the HTTP-backed classifier.
func NewAdapter(logger *slog.Logger) *Adapter {
	return &Adapter{
		rules:  NewRules(logger),
		llm:    NewClassifier(logger),
		logger: logger.With("component", "oracle_adapter"),
	}
}

// NewAdapterWithClassifier creates an adapter with a custom classifier.
func NewAdapterWithClassifier(logger *slog.Logger, llm Classify) *Adapter {
	return &Adapter{
		rules:  NewRules(logger),
		llm:    llm,
		logger: logger.With("component", "oracle_adapter"),
	}
}

// Decide resolves the request to exactly one of its valid options.
func (a *Adapter) Decide(ctx context.Context, settings *models.TenantSettings, req Request) (string, error) {
	label, err := a.decide(ctx, settings, req)
	if err != nil {
		return "", err
	}

	if !contains(req.ValidOptions(), label) {
		return "", fmt.Errorf("%w: %q", ErrUnexpectedLabel, label)
	}

	return label, nil
}

func (a *Adapter) decide(ctx context.Context, settings *models.TenantSettings, req Request) (string, error) {
	if req.IsCondition() {
		return a.rules.Decide(ctx, req)
	}

	mode := settings.Mode()

	hasCredential := settings != nil && settings.AIAPIKey != ""
	if !hasCredential {
		if mode == models.OracleModeStrict {
			return "", ErrNoCredential
		}

		return a.rules.Decide(ctx, req)
	}

	label, err := a.llm.Classify(ctx, settings, req)
	if err == nil {
		return label, nil
	}

	if mode == models.OracleModeStrict {
		return "", fmt.Errorf("llm classification failed: %w", err)
	}

	a.logger.WarnContext(ctx, "LLM classification failed, falling back to rules", "error", err)

	return a.rules.Decide(ctx, req)
}
