package models

import "time"

// DomainEvent is an ephemeral notification that something happened to a
// business entity. It is not persisted by the engine.
type DomainEvent struct {
	ID         string         `json:"id"`
	Type       TriggerType    `json:"type"`
	EntityID   string         `json:"entityId"`
	Payload    map[string]any `json:"payload"`
	OccurredAt time.Time      `json:"occurredAt"`
}

// RuleState is the state of one (event, rule) evaluation.
type RuleState string

// Rule evaluation states. Skipped, Completed and PartiallyFailed are terminal.
const (
	RuleStateMatched         RuleState = "matched"
	RuleStateEvaluating      RuleState = "evaluating"
	RuleStateSkipped         RuleState = "skipped"
	RuleStateExecuting       RuleState = "executing"
	RuleStateCompleted       RuleState = "completed"
	RuleStatePartiallyFailed RuleState = "partially_failed"
)

// Terminal reports whether s is a final state.
func (s RuleState) Terminal() bool {
	switch s {
	case RuleStateSkipped, RuleStateCompleted, RuleStatePartiallyFailed:
		return true
	}
	return false
}

// RuleExecution is the audit record of a single (event, rule) pass.
type RuleExecution struct {
	EventID       string      `json:"eventId" db:"event_id"`
	RuleID        string      `json:"ruleId" db:"rule_id"`
	TriggerType   TriggerType `json:"triggerType" db:"trigger_type"`
	EntityID      string      `json:"entityId" db:"entity_id"`
	State         RuleState   `json:"state" db:"state"`
	FailedActions []int       `json:"failedActions,omitempty" db:"-"`
	JobIDs        []string    `json:"jobIds,omitempty" db:"-"`
	Error         string      `json:"error,omitempty" db:"error"`
	At            time.Time   `json:"at" db:"executed_at"`
}
