// Package workflow matches domain events against stored rules, evaluates
// their conditions and turns their actions into queued notifications.
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
)

// ExecutionRecorder stores the terminal state of each (event, rule) pass.
type ExecutionRecorder interface {
	RecordExecution(ctx context.Context, exec models.RuleExecution) error
}

// Dependencies collects the collaborators of the Engine.
type Dependencies struct {
	Rules      RuleSource
	Notifier   Notifier
	Contacts   ContactDirectory
	Executions ExecutionRecorder
	Logger     zerolog.Logger
	Now        func() time.Time
}

// EmitResult summarises one emit call.
type EmitResult struct {
	EventID    string                 `json:"eventId"`
	Executions []models.RuleExecution `json:"executions"`
}

// Engine is the entry point for domain events.
type Engine struct {
	matcher    *Matcher
	evaluator  *Evaluator
	executor   *Executor
	executions ExecutionRecorder
	logger     zerolog.Logger
	now        func() time.Time
	newID      func() string
}

// NewEngine validates dependencies and constructs an Engine. Contacts and
// Executions are optional.
func NewEngine(deps Dependencies) (*Engine, error) {
	if deps.Rules == nil {
		return nil, errors.New("workflow: rule source dependency is required")
	}
	if deps.Notifier == nil {
		return nil, errors.New("workflow: notifier dependency is required")
	}
	logger := deps.Logger
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}
	logger = logger.With().Str("component", "workflow_engine").Logger()

	now := deps.Now
	if now == nil {
		now = time.Now
	}

	return &Engine{
		matcher:    NewMatcher(deps.Rules),
		evaluator:  NewEvaluator(logger),
		executor:   NewExecutor(deps.Notifier, deps.Contacts, logger),
		executions: deps.Executions,
		logger:     logger,
		now:        now,
		newID:      uuid.NewString,
	}, nil
}

// Emit builds a DomainEvent and runs it through every matching rule. Only
// malformed input fails synchronously; action failures are reported in the
// result.
func (e *Engine) Emit(ctx context.Context, triggerType models.TriggerType, entityID string, payload map[string]any) (*EmitResult, error) {
	return e.EmitEvent(ctx, models.DomainEvent{
		Type:     triggerType,
		EntityID: entityID,
		Payload:  payload,
	})
}

// EmitEvent runs an already built event. A missing id or timestamp is
// assigned.
func (e *Engine) EmitEvent(ctx context.Context, event models.DomainEvent) (*EmitResult, error) {
	if !event.Type.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTrigger, event.Type)
	}
	event.EntityID = strings.TrimSpace(event.EntityID)
	if event.EntityID == "" {
		return nil, fmt.Errorf("%w: entity id is required", ErrInvalidEvent)
	}
	if event.Payload == nil {
		event.Payload = map[string]any{}
	}
	if event.ID == "" {
		event.ID = e.newID()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = e.now().UTC()
	}

	rules, err := e.matcher.Match(ctx, event)
	if err != nil {
		return nil, err
	}

	logger := e.logger.With().
		Str("event_id", event.ID).
		Str("trigger", string(event.Type)).
		Str("entity_id", event.EntityID).
		Logger()
	logger.Debug().Int("rules", len(rules)).Msg("workflow: event matched")

	result := &EmitResult{EventID: event.ID, Executions: make([]models.RuleExecution, 0, len(rules))}
	for _, rule := range rules {
		exec := e.run(ctx, rule, event)
		e.record(ctx, exec)
		result.Executions = append(result.Executions, exec)
	}
	return result, nil
}

func (e *Engine) run(ctx context.Context, rule models.WorkflowRule, event models.DomainEvent) models.RuleExecution {
	exec := models.RuleExecution{
		EventID:     event.ID,
		RuleID:      rule.ID,
		TriggerType: event.Type,
		EntityID:    event.EntityID,
		State:       models.RuleStateMatched,
	}

	exec.State = models.RuleStateEvaluating
	if !e.evaluator.Evaluate(rule.Trigger.Conditions, event.Payload) {
		exec.State = models.RuleStateSkipped
		exec.At = e.now().UTC()
		return exec
	}

	exec.State = models.RuleStateExecuting
	correlationID := CorrelationID(rule.ID, event.ID)
	outcome := e.executor.Execute(ctx, rule, event, correlationID)
	exec.JobIDs = outcome.JobIDs
	exec.FailedActions = outcome.FailedActions
	if len(outcome.FailedActions) > 0 {
		exec.State = models.RuleStatePartiallyFailed
		exec.Error = errors.Join(outcome.Errors...).Error()
	} else {
		exec.State = models.RuleStateCompleted
	}
	exec.At = e.now().UTC()
	return exec
}

func (e *Engine) record(ctx context.Context, exec models.RuleExecution) {
	e.logger.Info().
		Str("event_id", exec.EventID).
		Str("rule_id", exec.RuleID).
		Str("state", string(exec.State)).
		Int("jobs", len(exec.JobIDs)).
		Msg("workflow: rule executed")
	if e.executions == nil {
		return
	}
	if err := e.executions.RecordExecution(ctx, exec); err != nil {
		e.logger.Error().
			Err(err).
			Str("event_id", exec.EventID).
			Str("rule_id", exec.RuleID).
			Msg("workflow: failed to record rule execution")
	}
}

// CorrelationID identifies the jobs produced by one rule for one event.
func CorrelationID(ruleID, eventID string) string {
	return ruleID + ":" + eventID
}
