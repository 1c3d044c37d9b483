package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/example/workflow-notifier/internal/models"
)

type executionRow struct {
	ID            int64  `db:"id"`
	EventID       string `db:"event_id"`
	RuleID        string `db:"rule_id"`
	TriggerType   string `db:"trigger_type"`
	EntityID      string `db:"entity_id"`
	State         string `db:"state"`
	FailedActions string `db:"failed_actions"`
	JobIDs        string `db:"job_ids"`
	Error         string `db:"error"`
	ExecutedAt    int64  `db:"executed_at"`
}

// RecordExecution appends a rule execution to the audit log.
func (s *SQLiteStore) RecordExecution(ctx context.Context, exec models.RuleExecution) error {
	failed, err := marshalJSON(exec.FailedActions, "[]")
	if err != nil {
		return fmt.Errorf("marshaling failed actions: %w", err)
	}
	jobs, err := marshalJSON(exec.JobIDs, "[]")
	if err != nil {
		return fmt.Errorf("marshaling job ids: %w", err)
	}
	_, err = s.db.NamedExecContext(ctx, `
		INSERT INTO rule_executions (
			event_id, rule_id, trigger_type, entity_id, state,
			failed_actions, job_ids, error, executed_at
		) VALUES (
			:event_id, :rule_id, :trigger_type, :entity_id, :state,
			:failed_actions, :job_ids, :error, :executed_at
		)`, executionRow{
		EventID:       exec.EventID,
		RuleID:        exec.RuleID,
		TriggerType:   string(exec.TriggerType),
		EntityID:      exec.EntityID,
		State:         string(exec.State),
		FailedActions: failed,
		JobIDs:        jobs,
		Error:         exec.Error,
		ExecutedAt:    toUnix(exec.At),
	})
	if err != nil {
		return fmt.Errorf("recording execution of rule %s for event %s: %w", exec.RuleID, exec.EventID, err)
	}
	return nil
}

// ListExecutions returns the executions recorded for an event in insertion
// order.
func (s *SQLiteStore) ListExecutions(ctx context.Context, eventID string) ([]models.RuleExecution, error) {
	var rows []executionRow
	err := s.db.SelectContext(ctx, &rows,
		"SELECT * FROM rule_executions WHERE event_id = ? ORDER BY id ASC", eventID)
	if err != nil {
		return nil, fmt.Errorf("listing executions of event %s: %w", eventID, err)
	}
	out := make([]models.RuleExecution, 0, len(rows))
	for _, r := range rows {
		exec := models.RuleExecution{
			EventID:     r.EventID,
			RuleID:      r.RuleID,
			TriggerType: models.TriggerType(r.TriggerType),
			EntityID:    r.EntityID,
			State:       models.RuleState(r.State),
			Error:       r.Error,
			At:          fromUnix(r.ExecutedAt),
		}
		if err := json.Unmarshal([]byte(r.FailedActions), &exec.FailedActions); err != nil {
			return nil, fmt.Errorf("unmarshaling failed actions: %w", err)
		}
		if err := json.Unmarshal([]byte(r.JobIDs), &exec.JobIDs); err != nil {
			return nil, fmt.Errorf("unmarshaling job ids: %w", err)
		}
		out = append(out, exec)
	}
	return out, nil
}
