package workflow

import (
	"errors"
	"fmt"

	"github.com/example/workflow-notifier/internal/models"
)

// Synchronous errors returned by the engine and the rule service.
var (
	ErrUnknownTrigger = errors.New("workflow: unknown trigger type")
	ErrInvalidEvent   = errors.New("workflow: invalid event")
	ErrInvalidRule    = errors.New("workflow: invalid rule")
	ErrRuleNotFound   = errors.New("workflow: rule not found")
	ErrRuleExists     = errors.New("workflow: rule already exists")
)

// ConditionError reports a malformed condition. It is logged as a
// configuration warning and the condition counts as not satisfied.
type ConditionError struct {
	Condition models.Condition
	Reason    string
}

func (e *ConditionError) Error() string {
	return fmt.Sprintf("workflow: condition on %q with operator %q: %s", e.Condition.Field, e.Condition.Operator, e.Reason)
}

// ActionError wraps the failure of a single action of a rule.
type ActionError struct {
	RuleID      string
	ActionIndex int
	Kind        models.ActionKind
	Err         error
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("workflow: rule %s action %d (%s): %v", e.RuleID, e.ActionIndex, e.Kind, e.Err)
}

func (e *ActionError) Unwrap() error { return e.Err }
