package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/example/workflow-notifier/internal/models"
)

type ruleRow struct {
	ID          string `db:"id"`
	Name        string `db:"name"`
	Description string `db:"description"`
	TriggerType string `db:"trigger_type"`
	Conditions  string `db:"conditions"`
	Actions     string `db:"actions"`
	IsActive    bool   `db:"is_active"`
	Priority    int    `db:"priority"`
	CreatedAt   int64  `db:"created_at"`
	UpdatedAt   int64  `db:"updated_at"`
}

func (r ruleRow) model() (models.WorkflowRule, error) {
	rule := models.WorkflowRule{
		ID:          r.ID,
		Name:        r.Name,
		Description: r.Description,
		Trigger:     models.Trigger{Type: models.TriggerType(r.TriggerType)},
		IsActive:    r.IsActive,
		Priority:    r.Priority,
		CreatedAt:   fromUnix(r.CreatedAt),
		UpdatedAt:   fromUnix(r.UpdatedAt),
	}
	if err := json.Unmarshal([]byte(r.Conditions), &rule.Trigger.Conditions); err != nil {
		return models.WorkflowRule{}, fmt.Errorf("unmarshaling conditions of rule %s: %w", r.ID, err)
	}
	if err := json.Unmarshal([]byte(r.Actions), &rule.Actions); err != nil {
		return models.WorkflowRule{}, fmt.Errorf("unmarshaling actions of rule %s: %w", r.ID, err)
	}
	return rule, nil
}

func newRuleRow(rule models.WorkflowRule) (ruleRow, error) {
	conditions, err := marshalJSON(rule.Trigger.Conditions, "[]")
	if err != nil {
		return ruleRow{}, fmt.Errorf("marshaling conditions of rule %s: %w", rule.ID, err)
	}
	actions, err := marshalJSON(rule.Actions, "[]")
	if err != nil {
		return ruleRow{}, fmt.Errorf("marshaling actions of rule %s: %w", rule.ID, err)
	}
	return ruleRow{
		ID:          rule.ID,
		Name:        rule.Name,
		Description: rule.Description,
		TriggerType: string(rule.Trigger.Type),
		Conditions:  conditions,
		Actions:     actions,
		IsActive:    rule.IsActive,
		Priority:    rule.Priority,
		CreatedAt:   toUnix(rule.CreatedAt),
		UpdatedAt:   toUnix(rule.UpdatedAt),
	}, nil
}

// CreateRule inserts a new rule. The caller assigns ID and timestamps.
func (s *SQLiteStore) CreateRule(ctx context.Context, rule models.WorkflowRule) error {
	row, err := newRuleRow(rule)
	if err != nil {
		return err
	}
	_, err = s.db.NamedExecContext(ctx, `
		INSERT INTO workflow_rules (
			id, name, description, trigger_type, conditions, actions,
			is_active, priority, created_at, updated_at
		) VALUES (
			:id, :name, :description, :trigger_type, :conditions, :actions,
			:is_active, :priority, :created_at, :updated_at
		)`, row)
	if isUniqueViolation(err) {
		return fmt.Errorf("rule %s: %w", rule.ID, ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("creating rule %s: %w", rule.ID, err)
	}
	return nil
}

// UpdateRule replaces every mutable field of an existing rule.
func (s *SQLiteStore) UpdateRule(ctx context.Context, rule models.WorkflowRule) error {
	row, err := newRuleRow(rule)
	if err != nil {
		return err
	}
	res, err := s.db.NamedExecContext(ctx, `
		UPDATE workflow_rules SET
			name = :name, description = :description, trigger_type = :trigger_type,
			conditions = :conditions, actions = :actions, is_active = :is_active,
			priority = :priority, updated_at = :updated_at
		WHERE id = :id`, row)
	if err != nil {
		return fmt.Errorf("updating rule %s: %w", rule.ID, err)
	}
	return expectOne(res, rule.ID)
}

// SetRuleActive flips the active flag of a rule.
func (s *SQLiteStore) SetRuleActive(ctx context.Context, id string, active bool, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE workflow_rules SET is_active = ?, updated_at = ? WHERE id = ?",
		boolToInt(active), toUnix(at), id,
	)
	if err != nil {
		return fmt.Errorf("setting active flag of rule %s: %w", id, err)
	}
	return expectOne(res, id)
}

// DeleteRule removes a rule by id.
func (s *SQLiteStore) DeleteRule(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM workflow_rules WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting rule %s: %w", id, err)
	}
	return expectOne(res, id)
}

// GetRule loads a single rule.
func (s *SQLiteStore) GetRule(ctx context.Context, id string) (*models.WorkflowRule, error) {
	var row ruleRow
	err := s.db.GetContext(ctx, &row, "SELECT * FROM workflow_rules WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("rule %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting rule %s: %w", id, err)
	}
	rule, err := row.model()
	if err != nil {
		return nil, err
	}
	return &rule, nil
}

// ListRules returns rules matching filter ordered by priority, creation time
// and id.
func (s *SQLiteStore) ListRules(ctx context.Context, filter models.RuleFilter) ([]models.WorkflowRule, error) {
	var (
		conditions []string
		args       []any
	)
	if filter.TriggerType != nil {
		conditions = append(conditions, "trigger_type = ?")
		args = append(args, string(*filter.TriggerType))
	}
	if filter.Active != nil {
		conditions = append(conditions, "is_active = ?")
		args = append(args, boolToInt(*filter.Active))
	}

	query := "SELECT * FROM workflow_rules"
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY priority ASC, created_at ASC, id ASC"

	var rows []ruleRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("listing rules: %w", err)
	}
	rules := make([]models.WorkflowRule, 0, len(rows))
	for _, row := range rows {
		rule, err := row.model()
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

func expectOne(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected for %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	return nil
}
