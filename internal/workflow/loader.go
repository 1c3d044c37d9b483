package workflow

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/example/workflow-notifier/internal/models"
)

type fileRule struct {
	ID          string          `yaml:"id"`
	Name        string          `yaml:"name"`
	Description string          `yaml:"description"`
	Trigger     models.Trigger  `yaml:"trigger"`
	Actions     []models.Action `yaml:"actions"`
	IsActive    *bool           `yaml:"isActive"`
	Priority    int             `yaml:"priority"`
}

type ruleFile struct {
	Rules []fileRule `yaml:"rules"`
}

// LoadRulesFile reads rules from a YAML or JSON file.
func LoadRulesFile(path string) ([]models.WorkflowRule, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("workflow: reading rules file: %w", err)
	}
	rules, err := ParseRules(raw)
	if err != nil {
		return nil, fmt.Errorf("workflow: parsing %s: %w", path, err)
	}
	return rules, nil
}

// ParseRules decodes a rule document. The document is either a list of rules
// or a mapping with a "rules" key. Rules are active unless isActive is false.
func ParseRules(raw []byte) ([]models.WorkflowRule, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}
	var doc yaml.Node
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return nil, errors.New("empty rules document")
	}

	var entries []fileRule
	switch root := doc.Content[0]; root.Kind {
	case yaml.SequenceNode:
		if err := root.Decode(&entries); err != nil {
			return nil, err
		}
	case yaml.MappingNode:
		var wrapped ruleFile
		if err := root.Decode(&wrapped); err != nil {
			return nil, err
		}
		entries = wrapped.Rules
	default:
		return nil, errors.New("rules document must be a list or a mapping with a rules key")
	}

	rules := make([]models.WorkflowRule, 0, len(entries))
	for _, e := range entries {
		active := true
		if e.IsActive != nil {
			active = *e.IsActive
		}
		rules = append(rules, models.WorkflowRule{
			ID:          e.ID,
			Name:        e.Name,
			Description: e.Description,
			Trigger:     e.Trigger,
			Actions:     e.Actions,
			IsActive:    active,
			Priority:    e.Priority,
		})
	}
	return rules, nil
}

// SeedResult counts the outcome of a seed pass.
type SeedResult struct {
	Created int
	Updated int
	Skipped int
}

// Seed stores rules. Rules that already exist are replaced when overwrite is
// set and left untouched otherwise. Every rule is validated before anything
// is written.
func (s *RuleService) Seed(ctx context.Context, rules []models.WorkflowRule, overwrite bool) (SeedResult, error) {
	var res SeedResult
	seen := make(map[string]struct{}, len(rules))
	for i := range rules {
		if err := ValidateRule(&rules[i]); err != nil {
			return res, fmt.Errorf("rule %d: %w", i, err)
		}
		if _, dup := seen[rules[i].ID]; dup {
			return res, fmt.Errorf("%w: duplicate id %q", ErrInvalidRule, rules[i].ID)
		}
		seen[rules[i].ID] = struct{}{}
	}

	for _, rule := range rules {
		_, err := s.Get(ctx, rule.ID)
		switch {
		case errors.Is(err, ErrRuleNotFound):
			if _, err := s.Create(ctx, rule); err != nil {
				return res, err
			}
			res.Created++
		case err != nil:
			return res, err
		case overwrite:
			if _, err := s.Update(ctx, rule); err != nil {
				return res, err
			}
			res.Updated++
		default:
			res.Skipped++
		}
	}
	s.logger.Info().
		Int("created", res.Created).
		Int("updated", res.Updated).
		Int("skipped", res.Skipped).
		Msg("rules seeded")
	return res, nil
}
