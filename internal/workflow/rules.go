package workflow

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/example/workflow-notifier/internal/models"
	"github.com/example/workflow-notifier/internal/store"
	"github.com/example/workflow-notifier/internal/util"
)

// RuleStore persists workflow rules.
type RuleStore interface {
	RuleSource
	CreateRule(ctx context.Context, rule models.WorkflowRule) error
	UpdateRule(ctx context.Context, rule models.WorkflowRule) error
	SetRuleActive(ctx context.Context, id string, active bool, at time.Time) error
	DeleteRule(ctx context.Context, id string) error
	GetRule(ctx context.Context, id string) (*models.WorkflowRule, error)
}

// RuleService validates and manages rule configuration.
type RuleService struct {
	store  RuleStore
	logger zerolog.Logger
	now    func() time.Time
	newID  func() string
}

// NewRuleService constructs a RuleService.
func NewRuleService(rules RuleStore, logger zerolog.Logger) (*RuleService, error) {
	if rules == nil {
		return nil, errors.New("workflow: rule store dependency is required")
	}
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}
	return &RuleService{
		store:  rules,
		logger: logger.With().Str("component", "rule_service").Logger(),
		now:    time.Now,
		newID:  uuid.NewString,
	}, nil
}

// Create validates and stores a new rule. An empty id is generated.
func (s *RuleService) Create(ctx context.Context, rule models.WorkflowRule) (*models.WorkflowRule, error) {
	if strings.TrimSpace(rule.ID) == "" {
		rule.ID = s.newID()
	}
	if err := ValidateRule(&rule); err != nil {
		return nil, err
	}
	now := s.now().UTC()
	rule.CreatedAt = now
	rule.UpdatedAt = now
	if err := s.store.CreateRule(ctx, rule); err != nil {
		return nil, mapStoreError(err)
	}
	s.logger.Info().Str("rule_id", rule.ID).Str("trigger", string(rule.Trigger.Type)).Msg("rule created")
	return &rule, nil
}

// Get returns a rule by id.
func (s *RuleService) Get(ctx context.Context, id string) (*models.WorkflowRule, error) {
	rule, err := s.store.GetRule(ctx, id)
	if err != nil {
		return nil, mapStoreError(err)
	}
	return rule, nil
}

// List returns the rules that pass filter, in evaluation order.
func (s *RuleService) List(ctx context.Context, filter models.RuleFilter) ([]models.WorkflowRule, error) {
	if filter.TriggerType != nil && !filter.TriggerType.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTrigger, *filter.TriggerType)
	}
	return s.store.ListRules(ctx, filter)
}

// Update replaces a rule. The creation time is preserved.
func (s *RuleService) Update(ctx context.Context, rule models.WorkflowRule) (*models.WorkflowRule, error) {
	existing, err := s.Get(ctx, rule.ID)
	if err != nil {
		return nil, err
	}
	if err := ValidateRule(&rule); err != nil {
		return nil, err
	}
	rule.CreatedAt = existing.CreatedAt
	rule.UpdatedAt = s.now().UTC()
	if err := s.store.UpdateRule(ctx, rule); err != nil {
		return nil, mapStoreError(err)
	}
	s.logger.Info().Str("rule_id", rule.ID).Msg("rule updated")
	return &rule, nil
}

// SetActive enables or disables a rule.
func (s *RuleService) SetActive(ctx context.Context, id string, active bool) error {
	if err := s.store.SetRuleActive(ctx, id, active, s.now().UTC()); err != nil {
		return mapStoreError(err)
	}
	s.logger.Info().Str("rule_id", id).Bool("active", active).Msg("rule active flag changed")
	return nil
}

// Delete removes a rule.
func (s *RuleService) Delete(ctx context.Context, id string) error {
	if err := s.store.DeleteRule(ctx, id); err != nil {
		return mapStoreError(err)
	}
	s.logger.Info().Str("rule_id", id).Msg("rule deleted")
	return nil
}

// ValidateRule normalises rule in place and reports every problem found,
// wrapped in ErrInvalidRule.
func ValidateRule(rule *models.WorkflowRule) error {
	var problems []string

	id, err := util.ValidateIdentifier(rule.ID)
	if err != nil {
		problems = append(problems, err.Error())
	}
	rule.ID = id
	rule.Name = strings.TrimSpace(rule.Name)
	if rule.Name == "" {
		problems = append(problems, "name is required")
	}
	if !rule.Trigger.Type.Valid() {
		problems = append(problems, fmt.Sprintf("unknown trigger type %q", rule.Trigger.Type))
	}
	for i, c := range rule.Trigger.Conditions {
		if strings.TrimSpace(c.Field) == "" {
			problems = append(problems, fmt.Sprintf("condition %d: field is required", i))
		}
		if !c.Operator.Valid() {
			problems = append(problems, fmt.Sprintf("condition %d: unknown operator %q", i, c.Operator))
		}
	}
	if len(rule.Actions) == 0 {
		problems = append(problems, "at least one action is required")
	}
	for i, a := range rule.Actions {
		if !a.Kind.Valid() {
			problems = append(problems, fmt.Sprintf("action %d: unknown kind %q", i, a.Kind))
			continue
		}
		if _, err := util.ValidateTemplateID(a.TemplateID()); err != nil {
			problems = append(problems, fmt.Sprintf("action %d: %v", i, err))
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidRule, strings.Join(problems, "; "))
	}
	return nil
}

func mapStoreError(err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return fmt.Errorf("%w: %v", ErrRuleNotFound, err)
	case errors.Is(err, store.ErrConflict):
		return fmt.Errorf("%w: %v", ErrRuleExists, err)
	}
	return err
}
