package models

import (
	"fmt"
	"strings"
	"time"
)

// TriggerType is the domain event type a WorkflowRule listens for.
type TriggerType string

// Trigger types accepted by the engine.
const (
	TriggerOrderCreated       TriggerType = "order_created"
	TriggerOrderStatusChanged TriggerType = "order_status_changed"
	TriggerPaymentOverdue     TriggerType = "payment_overdue"
	TriggerPaymentReceived    TriggerType = "payment_received"
	TriggerTechnicianAssigned TriggerType = "technician_assigned"
	TriggerClientKeyExpiring  TriggerType = "client_key_expiring"
	TriggerScheduled          TriggerType = "scheduled"
)

var triggerTypes = []TriggerType{
	TriggerOrderCreated,
	TriggerOrderStatusChanged,
	TriggerPaymentOverdue,
	TriggerPaymentReceived,
	TriggerTechnicianAssigned,
	TriggerClientKeyExpiring,
	TriggerScheduled,
}

// TriggerTypes returns the closed set of trigger types.
func TriggerTypes() []TriggerType {
	return append([]TriggerType(nil), triggerTypes...)
}

// OrderScoped reports whether events of this type are about a service order,
// in which case the entity id is the order number.
func (t TriggerType) OrderScoped() bool {
	switch t {
	case TriggerOrderCreated, TriggerOrderStatusChanged, TriggerTechnicianAssigned:
		return true
	}
	return false
}

// Valid reports whether t belongs to the closed trigger enumeration.
func (t TriggerType) Valid() bool {
	for _, known := range triggerTypes {
		if t == known {
			return true
		}
	}
	return false
}

// ParseTriggerType normalises and validates a trigger type name.
func ParseTriggerType(value string) (TriggerType, error) {
	t := TriggerType(strings.ToLower(strings.TrimSpace(value)))
	if !t.Valid() {
		return "", fmt.Errorf("unknown trigger type %q", value)
	}
	return t, nil
}

// Operator is a condition comparison operator.
type Operator string

// Condition operators.
const (
	OpEquals      Operator = "equals"
	OpNotEquals   Operator = "not_equals"
	OpGreaterThan Operator = "greater_than"
	OpLessThan    Operator = "less_than"
	OpContains    Operator = "contains"
	OpIn          Operator = "in"
	OpNotIn       Operator = "not_in"
)

// Valid reports whether o is a known operator.
func (o Operator) Valid() bool {
	switch o {
	case OpEquals, OpNotEquals, OpGreaterThan, OpLessThan, OpContains, OpIn, OpNotIn:
		return true
	}
	return false
}

// Condition is a single predicate over the event payload. Field is a dot
// separated path into the payload.
type Condition struct {
	Field    string   `json:"field" yaml:"field"`
	Operator Operator `json:"operator" yaml:"operator"`
	Value    any      `json:"value" yaml:"value"`
}

// ActionKind enumerates the side effects a rule can perform.
type ActionKind string

// Action kinds.
const (
	ActionSendEmail       ActionKind = "send_email"
	ActionSendSMS         ActionKind = "send_sms"
	ActionSendChatMessage ActionKind = "send_chat_message"
)

// Channel maps an action kind to the channel it sends through.
func (k ActionKind) Channel() (Channel, bool) {
	switch k {
	case ActionSendEmail:
		return ChannelEmail, true
	case ActionSendSMS:
		return ChannelSMS, true
	case ActionSendChatMessage:
		return ChannelChat, true
	}
	return "", false
}

// Valid reports whether k is a known action kind.
func (k ActionKind) Valid() bool {
	_, ok := k.Channel()
	return ok
}

// Well known action configuration keys. Any other key is merged into the
// template data as a static override.
const (
	ActionConfigTemplate       = "template"
	ActionConfigTo             = "to"
	ActionConfigRecipientField = "recipientField"
	ActionConfigSubject        = "subject"
)

// Action is one side effect of a rule.
type Action struct {
	Kind   ActionKind     `json:"kind" yaml:"kind"`
	Config map[string]any `json:"config" yaml:"config"`
}

// TemplateID returns the configured template identifier.
func (a Action) TemplateID() string {
	if a.Config == nil {
		return ""
	}
	v, _ := a.Config[ActionConfigTemplate].(string)
	return strings.TrimSpace(v)
}

// Trigger binds a rule to an event type with optional filter conditions.
type Trigger struct {
	Type       TriggerType `json:"type" yaml:"type"`
	Conditions []Condition `json:"conditions,omitempty" yaml:"conditions,omitempty"`
}

// WorkflowRule is a declarative trigger/conditions/actions record.
type WorkflowRule struct {
	ID          string    `json:"id" yaml:"id"`
	Name        string    `json:"name" yaml:"name"`
	Description string    `json:"description,omitempty" yaml:"description,omitempty"`
	Trigger     Trigger   `json:"trigger" yaml:"trigger"`
	Actions     []Action  `json:"actions" yaml:"actions"`
	IsActive    bool      `json:"isActive" yaml:"isActive"`
	Priority    int       `json:"priority" yaml:"priority"`
	CreatedAt   time.Time `json:"createdAt" yaml:"-"`
	UpdatedAt   time.Time `json:"updatedAt" yaml:"-"`
}

// RuleFilter narrows rule listings. Nil fields do not filter.
type RuleFilter struct {
	TriggerType *TriggerType
	Active      *bool
}

// Matches reports whether the rule passes the filter.
func (f RuleFilter) Matches(r WorkflowRule) bool {
	if f.TriggerType != nil && r.Trigger.Type != *f.TriggerType {
		return false
	}
	if f.Active != nil && r.IsActive != *f.Active {
		return false
	}
	return true
}
