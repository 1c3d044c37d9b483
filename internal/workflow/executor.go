package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/example/workflow-notifier/internal/models"
	"github.com/example/workflow-notifier/internal/notification"
)

// Notifier queues templated notifications.
type Notifier interface {
	Send(ctx context.Context, req notification.Request) (*models.DispatchJob, error)
}

// ContactDirectory finds who to notify about an event when the payload
// carries no address.
type ContactDirectory interface {
	GetContact(ctx context.Context, clientID string) (*models.ClientContact, error)
	ContactForEntity(ctx context.Context, entityID string) (*models.ClientContact, error)
}

// Payload fields the executor reads when addressing a notification.
const (
	FieldClientEmail = "clientEmail"
	FieldClientPhone = "clientPhone"
	FieldClientID    = "clientId"
	FieldClientName  = "clientName"
	FieldOrderNumber = "orderNumber"
)

// ActionOutcome is the result of running a rule's actions.
type ActionOutcome struct {
	JobIDs        []string
	FailedActions []int
	Errors        []error
}

// Executor runs rule actions in order. Each action is isolated: an error or
// panic is recorded and the next action still runs.
type Executor struct {
	notifier Notifier
	contacts ContactDirectory
	logger   zerolog.Logger
}

// NewExecutor constructs an Executor. contacts may be nil, in which case
// recipients must come from the action or the payload.
func NewExecutor(notifier Notifier, contacts ContactDirectory, logger zerolog.Logger) *Executor {
	return &Executor{notifier: notifier, contacts: contacts, logger: logger}
}

// Execute runs every action of rule for event. correlationID is attached to
// each queued job.
func (x *Executor) Execute(ctx context.Context, rule models.WorkflowRule, event models.DomainEvent, correlationID string) ActionOutcome {
	var out ActionOutcome
	for i, action := range rule.Actions {
		jobID, err := x.runAction(ctx, rule, i, action, event, correlationID)
		if err != nil {
			actionErr := &ActionError{RuleID: rule.ID, ActionIndex: i, Kind: action.Kind, Err: err}
			x.logger.Error().
				Str("rule_id", rule.ID).
				Str("event_id", event.ID).
				Str("correlation_id", correlationID).
				Int("action_index", i).
				Str("action", string(action.Kind)).
				Err(err).
				Msg("workflow: action failed")
			out.FailedActions = append(out.FailedActions, i)
			out.Errors = append(out.Errors, actionErr)
			continue
		}
		out.JobIDs = append(out.JobIDs, jobID)
	}
	return out
}

func (x *Executor) runAction(ctx context.Context, rule models.WorkflowRule, index int, action models.Action, event models.DomainEvent, correlationID string) (jobID string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	channel, ok := action.Kind.Channel()
	if !ok {
		return "", fmt.Errorf("unsupported action kind %q", action.Kind)
	}
	templateID := action.TemplateID()
	if templateID == "" {
		return "", errors.New("action has no template")
	}
	recipient, contact, err := x.resolveRecipient(ctx, channel, action, event)
	if err != nil {
		return "", err
	}
	data := actionData(action, event)
	if contact != nil && contact.Name != "" {
		if _, ok := data[FieldClientName]; !ok {
			data[FieldClientName] = contact.Name
		}
	}

	job, err := x.notifier.Send(ctx, notification.Request{
		Channel:       channel,
		Recipient:     recipient,
		TemplateID:    templateID,
		Data:          data,
		CorrelationID: correlationID,
		PartitionKey:  event.EntityID,
	})
	if err != nil {
		return "", err
	}
	x.logger.Debug().
		Str("rule_id", rule.ID).
		Str("event_id", event.ID).
		Int("action_index", index).
		Str("job_id", job.ID).
		Msg("workflow: action queued")
	return job.ID, nil
}

// resolveRecipient picks the static "to" address, then the payload field
// named by "recipientField" (or the channel default field), then the contact
// of the payload's clientId, then the contact linked to the event entity.
// The contact is returned when it was used.
func (x *Executor) resolveRecipient(ctx context.Context, channel models.Channel, action models.Action, event models.DomainEvent) (string, *models.ClientContact, error) {
	if to, ok := action.Config[models.ActionConfigTo].(string); ok && strings.TrimSpace(to) != "" {
		return strings.TrimSpace(to), nil, nil
	}

	field := FieldClientPhone
	if channel == models.ChannelEmail {
		field = FieldClientEmail
	}
	if f, ok := action.Config[models.ActionConfigRecipientField].(string); ok && strings.TrimSpace(f) != "" {
		field = strings.TrimSpace(f)
	}
	if v, ok := lookupField(event.Payload, field); ok {
		s, ok := v.(string)
		if !ok || strings.TrimSpace(s) == "" {
			return "", nil, fmt.Errorf("recipient field %q is not a non-empty string", field)
		}
		return s, nil, nil
	}

	if x.contacts == nil {
		return "", nil, fmt.Errorf("recipient field %q missing from payload", field)
	}
	contact, err := x.lookupContact(ctx, event)
	if err != nil {
		return "", nil, fmt.Errorf("recipient field %q missing from payload and no contact: %w", field, err)
	}
	address := contact.Phone
	if channel == models.ChannelEmail {
		address = contact.Email
	}
	if strings.TrimSpace(address) == "" {
		return "", nil, fmt.Errorf("contact %s has no %s address", contact.ClientID, channel)
	}
	return address, contact, nil
}

func (x *Executor) lookupContact(ctx context.Context, event models.DomainEvent) (*models.ClientContact, error) {
	if v, ok := lookupField(event.Payload, FieldClientID); ok {
		if id, ok := v.(string); ok && strings.TrimSpace(id) != "" {
			return x.contacts.GetContact(ctx, strings.TrimSpace(id))
		}
	}
	return x.contacts.ContactForEntity(ctx, event.EntityID)
}

// actionData merges static action config over the event payload.
func actionData(action models.Action, event models.DomainEvent) map[string]any {
	data := make(map[string]any, len(event.Payload)+len(action.Config)+2)
	for k, v := range event.Payload {
		data[k] = v
	}
	data["entityId"] = event.EntityID
	data["eventType"] = string(event.Type)
	if _, ok := data[FieldOrderNumber]; !ok && event.Type.OrderScoped() {
		data[FieldOrderNumber] = event.EntityID
	}
	for k, v := range action.Config {
		switch k {
		case models.ActionConfigTemplate, models.ActionConfigTo, models.ActionConfigRecipientField:
			continue
		}
		data[k] = v
	}
	return data
}
