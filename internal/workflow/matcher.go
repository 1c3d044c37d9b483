package workflow

import (
	"context"
	"fmt"
	"sort"

	"github.com/example/workflow-notifier/internal/models"
)

// RuleSource lists stored rules.
type RuleSource interface {
	ListRules(ctx context.Context, filter models.RuleFilter) ([]models.WorkflowRule, error)
}

// Matcher selects the rules an event triggers.
type Matcher struct {
	rules RuleSource
}

// NewMatcher constructs a Matcher over rules.
func NewMatcher(rules RuleSource) *Matcher {
	return &Matcher{rules: rules}
}

// Match returns the active rules whose trigger type equals the event type,
// lowest priority first, ties broken by creation time then id.
func (m *Matcher) Match(ctx context.Context, event models.DomainEvent) ([]models.WorkflowRule, error) {
	trigger := event.Type
	active := true
	rules, err := m.rules.ListRules(ctx, models.RuleFilter{TriggerType: &trigger, Active: &active})
	if err != nil {
		return nil, fmt.Errorf("workflow: loading rules for %s: %w", trigger, err)
	}
	SortRules(rules)
	return rules, nil
}

// SortRules orders rules by priority, creation time and id.
func SortRules(rules []models.WorkflowRule) {
	sort.SliceStable(rules, func(i, j int) bool {
		a, b := rules[i], rules[j]
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}
