package oracle

import (
	"testing"
	"time"

	"github.com/codagent/flowkit/pkg/log"
	"github.com/codagent/flowkit/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testOrder() *models.Order {
	return &models.Order{
		ID:       "o1",
		TenantID: "tenant-1",
		Status:   models.OrderStatusPending,
		Data: map[string]any{
			"customer_phone": "+51999000111",
			"customer_name":  "Maria",
			"tags":           []any{"order_linked"},
			"total":          float64(120),
		},
		CreatedAt: time.Now().UTC().Add(-30 * time.Minute),
	}
}

func TestRules_HasTag(t *testing.T) {
	rules := NewRules(log.WithModule("test"))

	label, err := rules.Decide(t.Context(), Request{
		Condition: &models.CheckConditionConfig{
			ConditionType: models.ConditionHasTag,
			TagName:       "order_linked",
		},
		Order: testOrder(),
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeTrue, label)

	label, err = rules.Decide(t.Context(), Request{
		Condition: &models.CheckConditionConfig{
			ConditionType: models.ConditionHasTag,
			TagName:       "vip",
		},
		Order: testOrder(),
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeFalse, label)
}

func TestRules_OrderStatus(t *testing.T) {
	rules := NewRules(log.WithModule("test"))

	label, err := rules.Decide(t.Context(), Request{
		Condition: &models.CheckConditionConfig{
			ConditionType:  models.ConditionOrderStatus,
			ExpectedStatus: "pending",
		},
		Order: testOrder(),
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeTrue, label)
}

func TestRules_TimeElapsed(t *testing.T) {
	rules := NewRules(log.WithModule("test"))

	label, err := rules.Decide(t.Context(), Request{
		Condition: &models.CheckConditionConfig{
			ConditionType:  models.ConditionTimeElapsed,
			ElapsedMinutes: 15,
		},
		Order: testOrder(),
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeTrue, label)

	label, err = rules.Decide(t.Context(), Request{
		Condition: &models.CheckConditionConfig{
			ConditionType:  models.ConditionTimeElapsed,
			ElapsedMinutes: 60,
		},
		Order: testOrder(),
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeFalse, label)
}

func TestRules_CustomFieldEquality(t *testing.T) {
	rules := NewRules(log.WithModule("test"))

	label, err := rules.Decide(t.Context(), Request{
		Condition: &models.CheckConditionConfig{
			ConditionType: models.ConditionCustomField,
			Field:         "customer_name",
			Expected:      "Maria",
		},
		Order: testOrder(),
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeTrue, label)

	// Presence check when no expected value is configured.
	label, err = rules.Decide(t.Context(), Request{
		Condition: &models.CheckConditionConfig{
			ConditionType: models.ConditionCustomField,
			Field:         "missing_field",
		},
		Order: testOrder(),
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeFalse, label)
}

func TestRules_CustomFieldExpression(t *testing.T) {
	rules := NewRules(log.WithModule("test"))

	label, err := rules.Decide(t.Context(), Request{
		Condition: &models.CheckConditionConfig{
			ConditionType: models.ConditionCustomField,
			Expression:    `order.total > 100`,
		},
		Order: testOrder(),
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeTrue, label)

	_, err = rules.Decide(t.Context(), Request{
		Condition: &models.CheckConditionConfig{
			ConditionType: models.ConditionCustomField,
			Expression:    `order.total +`,
		},
		Order: testOrder(),
	})
	require.Error(t, err)
}

func TestRules_PromptFallsBackToFirstOption(t *testing.T) {
	rules := NewRules(log.WithModule("test"))

	label, err := rules.Decide(t.Context(), Request{
		Prompt:  "Will this customer confirm?",
		Options: []string{"likely", "unlikely"},
		Order:   testOrder(),
	})
	require.NoError(t, err)
	assert.Equal(t, "likely", label)
}

func TestRules_ConditionWithoutOrderFails(t *testing.T) {
	rules := NewRules(log.WithModule("test"))

	_, err := rules.Decide(t.Context(), Request{
		Condition: &models.CheckConditionConfig{ConditionType: models.ConditionHasTag},
	})
	assert.ErrorIs(t, err, ErrMissingOrder)
}
