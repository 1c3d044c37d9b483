package workflow

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/workflow-notifier/internal/models"
)

func TestEvaluateCondition(t *testing.T) {
	payload := map[string]any{
		"status":      "CONCLUIDA",
		"daysOverdue": float64(7),
		"amount":      150.5,
		"count":       3,
		"notes":       "Cliente pediu URGENCIA no atendimento",
		"tags":        []any{"vip", "recorrente"},
		"numeric":     "42",
		"code":        "PED-12345",
		"client": map[string]any{
			"segment": "enterprise",
		},
	}

	tests := []struct {
		name string
		cond models.Condition
		want bool
	}{
		{"equals string", models.Condition{Field: "status", Operator: models.OpEquals, Value: "CONCLUIDA"}, true},
		{"equals is case sensitive", models.Condition{Field: "status", Operator: models.OpEquals, Value: "concluida"}, false},
		{"equals numbers across types", models.Condition{Field: "daysOverdue", Operator: models.OpEquals, Value: 7}, true},
		{"equals string forms when types differ", models.Condition{Field: "numeric", Operator: models.OpEquals, Value: 42}, true},
		{"not equals", models.Condition{Field: "status", Operator: models.OpNotEquals, Value: "ABERTA"}, true},
		{"greater than", models.Condition{Field: "amount", Operator: models.OpGreaterThan, Value: 100}, true},
		{"less than int field", models.Condition{Field: "count", Operator: models.OpLessThan, Value: 2.5}, false},
		{"numeric string is not coerced", models.Condition{Field: "numeric", Operator: models.OpGreaterThan, Value: 1}, false},
		{"numeric compare against string value", models.Condition{Field: "amount", Operator: models.OpGreaterThan, Value: "1"}, false},
		{"contains substring ignores case", models.Condition{Field: "notes", Operator: models.OpContains, Value: "urgencia"}, true},
		{"contains list membership", models.Condition{Field: "tags", Operator: models.OpContains, Value: "vip"}, true},
		{"contains number in string", models.Condition{Field: "code", Operator: models.OpContains, Value: 123}, true},
		{"contains nil in string", models.Condition{Field: "notes", Operator: models.OpContains, Value: nil}, false},
		{"contains on number", models.Condition{Field: "amount", Operator: models.OpContains, Value: "1"}, false},
		{"in list", models.Condition{Field: "daysOverdue", Operator: models.OpIn, Value: []any{3, 7, 15}}, true},
		{"in typed list", models.Condition{Field: "status", Operator: models.OpIn, Value: []string{"ABERTA", "CONCLUIDA"}}, true},
		{"in needs a list", models.Condition{Field: "status", Operator: models.OpIn, Value: "CONCLUIDA"}, false},
		{"not in", models.Condition{Field: "daysOverdue", Operator: models.OpNotIn, Value: []any{3, 15}}, true},
		{"nested path", models.Condition{Field: "client.segment", Operator: models.OpEquals, Value: "enterprise"}, true},
		{"missing field", models.Condition{Field: "missing", Operator: models.OpNotEquals, Value: "x"}, false},
		{"missing nested field", models.Condition{Field: "status.code", Operator: models.OpEquals, Value: "x"}, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := EvaluateCondition(tc.cond, payload)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestEvaluateConditionMalformed(t *testing.T) {
	payload := map[string]any{"status": "x"}

	_, err := EvaluateCondition(models.Condition{Field: "status", Operator: "matches", Value: "x"}, payload)
	var condErr *ConditionError
	require.ErrorAs(t, err, &condErr)
	assert.Equal(t, "unknown operator", condErr.Reason)

	_, err = EvaluateCondition(models.Condition{Field: " ", Operator: models.OpEquals}, payload)
	require.ErrorAs(t, err, &condErr)
}

func TestEvaluatorAndsConditions(t *testing.T) {
	e := NewEvaluator(zerolog.Nop())
	payload := map[string]any{"status": "PENDENTE", "prioridade": "URGENTE", "hoursWaiting": 3}

	assert.True(t, e.Evaluate(nil, payload))
	assert.True(t, e.Evaluate([]models.Condition{
		{Field: "status", Operator: models.OpEquals, Value: "PENDENTE"},
		{Field: "prioridade", Operator: models.OpEquals, Value: "URGENTE"},
		{Field: "hoursWaiting", Operator: models.OpGreaterThan, Value: 2},
	}, payload))
	assert.False(t, e.Evaluate([]models.Condition{
		{Field: "status", Operator: models.OpEquals, Value: "PENDENTE"},
		{Field: "hoursWaiting", Operator: models.OpGreaterThan, Value: 5},
	}, payload))
	assert.False(t, e.Evaluate([]models.Condition{
		{Field: "status", Operator: "bogus", Value: "PENDENTE"},
	}, payload))
}
