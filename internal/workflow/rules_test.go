package workflow

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/workflow-notifier/internal/models"
)

const rulesYAML = `
rules:
  - id: overdue-sms
    name: Overdue SMS
    trigger:
      type: payment_overdue
      conditions:
        - field: daysOverdue
          operator: greater_than
          value: 30
    actions:
      - kind: send_sms
        config:
          template: payment-overdue
          to: "+5511988887777"
    priority: 4
  - id: disabled
    name: Disabled rule
    isActive: false
    trigger:
      type: order_created
    actions:
      - kind: send_email
        config:
          template: order-created
`

const rulesJSON = `[
  {
    "id": "tech-chat",
    "name": "Technician chat",
    "trigger": {"type": "technician_assigned"},
    "actions": [{"kind": "send_chat_message", "config": {"template": "technician-assigned"}}]
  }
]`

func TestParseRulesYAML(t *testing.T) {
	rules, err := ParseRules([]byte(rulesYAML))
	require.NoError(t, err)
	require.Len(t, rules, 2)

	r := rules[0]
	assert.Equal(t, "overdue-sms", r.ID)
	assert.True(t, r.IsActive)
	assert.Equal(t, 4, r.Priority)
	assert.Equal(t, models.TriggerPaymentOverdue, r.Trigger.Type)
	require.Len(t, r.Trigger.Conditions, 1)
	assert.Equal(t, models.OpGreaterThan, r.Trigger.Conditions[0].Operator)
	assert.Equal(t, 30, r.Trigger.Conditions[0].Value)
	assert.Equal(t, "payment-overdue", r.Actions[0].TemplateID())
	assert.Equal(t, "+5511988887777", r.Actions[0].Config["to"])

	assert.False(t, rules[1].IsActive)
}

func TestParseRulesJSONList(t *testing.T) {
	rules, err := ParseRules([]byte(rulesJSON))
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, models.ActionSendChatMessage, rules[0].Actions[0].Kind)
	assert.True(t, rules[0].IsActive)
}

func TestParseRulesRejectsScalars(t *testing.T) {
	_, err := ParseRules([]byte("just a string"))
	assert.Error(t, err)

	rules, err := ParseRules([]byte("  \n"))
	require.NoError(t, err)
	assert.Empty(t, rules)
}

func TestLoadRulesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(rulesYAML), 0o600))

	rules, err := LoadRulesFile(path)
	require.NoError(t, err)
	assert.Len(t, rules, 2)

	_, err = LoadRulesFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidateRuleCollectsProblems(t *testing.T) {
	rule := models.WorkflowRule{
		ID:      "bad id!",
		Trigger: models.Trigger{Type: "order_deleted", Conditions: []models.Condition{{Operator: "like"}}},
		Actions: []models.Action{{Kind: "send_fax"}, {Kind: models.ActionSendEmail}},
	}
	err := ValidateRule(&rule)
	require.ErrorIs(t, err, ErrInvalidRule)
	msg := err.Error()
	assert.Contains(t, msg, "invalid identifier")
	assert.Contains(t, msg, "name is required")
	assert.Contains(t, msg, `unknown trigger type "order_deleted"`)
	assert.Contains(t, msg, "condition 0: field is required")
	assert.Contains(t, msg, `condition 0: unknown operator "like"`)
	assert.Contains(t, msg, `action 0: unknown kind "send_fax"`)
	assert.Contains(t, msg, "action 1: invalid template id")
}

func newTestRuleService(t *testing.T) *RuleService {
	t.Helper()
	svc, err := NewRuleService(newTestStore(t), zerolog.Nop())
	require.NoError(t, err)
	return svc
}

func TestRuleServiceLifecycle(t *testing.T) {
	ctx := context.Background()
	svc := newTestRuleService(t)
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return clock }

	rules, err := ParseRules([]byte(rulesJSON))
	require.NoError(t, err)
	rule := rules[0]
	rule.ID = ""

	created, err := svc.Create(ctx, rule)
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)
	assert.True(t, created.CreatedAt.Equal(clock))

	_, err = svc.Create(ctx, *created)
	assert.ErrorIs(t, err, ErrRuleExists)

	clock = clock.Add(time.Hour)
	created.Name = "Renamed"
	updated, err := svc.Update(ctx, *created)
	require.NoError(t, err)
	assert.True(t, updated.CreatedAt.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)))
	assert.True(t, updated.UpdatedAt.Equal(clock))

	got, err := svc.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.Name)

	require.NoError(t, svc.SetActive(ctx, created.ID, false))
	active := true
	listed, err := svc.List(ctx, models.RuleFilter{Active: &active})
	require.NoError(t, err)
	assert.Empty(t, listed)

	bogus := models.TriggerType("nope")
	_, err = svc.List(ctx, models.RuleFilter{TriggerType: &bogus})
	assert.ErrorIs(t, err, ErrUnknownTrigger)

	require.NoError(t, svc.Delete(ctx, created.ID))
	_, err = svc.Get(ctx, created.ID)
	assert.ErrorIs(t, err, ErrRuleNotFound)
	assert.ErrorIs(t, svc.Delete(ctx, created.ID), ErrRuleNotFound)
	assert.ErrorIs(t, svc.SetActive(ctx, created.ID, true), ErrRuleNotFound)
	_, err = svc.Update(ctx, *created)
	assert.ErrorIs(t, err, ErrRuleNotFound)
}

func TestSeed(t *testing.T) {
	ctx := context.Background()
	svc := newTestRuleService(t)

	res, err := svc.Seed(ctx, DefaultRules(), false)
	require.NoError(t, err)
	assert.Equal(t, SeedResult{Created: len(DefaultRules())}, res)

	res, err = svc.Seed(ctx, DefaultRules(), false)
	require.NoError(t, err)
	assert.Equal(t, SeedResult{Skipped: len(DefaultRules())}, res)

	changed := DefaultRules()[:1]
	changed[0].Priority = 9
	res, err = svc.Seed(ctx, changed, true)
	require.NoError(t, err)
	assert.Equal(t, SeedResult{Updated: 1}, res)
	got, err := svc.Get(ctx, changed[0].ID)
	require.NoError(t, err)
	assert.Equal(t, 9, got.Priority)

	dup := append(DefaultRules()[:1], DefaultRules()[:1]...)
	_, err = svc.Seed(ctx, dup, true)
	assert.ErrorIs(t, err, ErrInvalidRule)
}
