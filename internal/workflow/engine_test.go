package workflow

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/workflow-notifier/internal/models"
	"github.com/example/workflow-notifier/internal/notification"
	"github.com/example/workflow-notifier/internal/render"
	"github.com/example/workflow-notifier/internal/store"
)

type notifierStub struct {
	mu       sync.Mutex
	requests []notification.Request
	fail     map[models.Channel]error
	panicOn  models.Channel
}

func (n *notifierStub) Send(_ context.Context, req notification.Request) (*models.DispatchJob, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if req.Channel == n.panicOn {
		panic("provider exploded")
	}
	if err := n.fail[req.Channel]; err != nil {
		return nil, err
	}
	n.requests = append(n.requests, req)
	return &models.DispatchJob{ID: fmt.Sprintf("job-%d", len(n.requests)), Channel: req.Channel}, nil
}

func (n *notifierStub) sent() []notification.Request {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notification.Request(nil), n.requests...)
}

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "workflow.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newTestEngine(t *testing.T, notifier Notifier) (*Engine, *store.SQLiteStore) {
	t.Helper()
	s := newTestStore(t)
	rules, err := NewRuleService(s, zerolog.Nop())
	require.NoError(t, err)
	_, err = rules.Seed(context.Background(), DefaultRules(), false)
	require.NoError(t, err)

	engine, err := NewEngine(Dependencies{
		Rules:      s,
		Notifier:   notifier,
		Contacts:   s,
		Executions: s,
		Logger:     zerolog.Nop(),
		Now:        func() time.Time { return time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC) },
	})
	require.NoError(t, err)
	return engine, s
}

func overduePayload(days float64) map[string]any {
	return map[string]any{
		"clientName":  "Ana",
		"clientEmail": "ana@example.com",
		"clientPhone": "+5511999998888",
		"amount":      350.0,
		"daysOverdue": days,
	}
}

func TestNewEngineValidatesDependencies(t *testing.T) {
	_, err := NewEngine(Dependencies{Notifier: &notifierStub{}})
	assert.EqualError(t, err, "workflow: rule source dependency is required")
	_, err = NewEngine(Dependencies{Rules: newTestStore(t)})
	assert.EqualError(t, err, "workflow: notifier dependency is required")
}

func TestEmitRejectsMalformedInput(t *testing.T) {
	engine, _ := newTestEngine(t, &notifierStub{})

	_, err := engine.Emit(context.Background(), "order_deleted", "o-1", nil)
	assert.ErrorIs(t, err, ErrUnknownTrigger)

	_, err = engine.Emit(context.Background(), models.TriggerOrderCreated, "  ", nil)
	assert.ErrorIs(t, err, ErrInvalidEvent)
}

func TestEmitRunsMatchingRule(t *testing.T) {
	notifier := &notifierStub{}
	engine, s := newTestEngine(t, notifier)
	ctx := context.Background()

	res, err := engine.Emit(ctx, models.TriggerPaymentOverdue, "inv-9", overduePayload(7))
	require.NoError(t, err)
	require.NotEmpty(t, res.EventID)
	require.Len(t, res.Executions, 1)

	exec := res.Executions[0]
	assert.Equal(t, "payment-overdue-reminder", exec.RuleID)
	assert.Equal(t, models.RuleStateCompleted, exec.State)
	assert.Equal(t, []string{"job-1", "job-2"}, exec.JobIDs)

	sent := notifier.sent()
	require.Len(t, sent, 2)
	assert.Equal(t, models.ChannelEmail, sent[0].Channel)
	assert.Equal(t, "ana@example.com", sent[0].Recipient)
	assert.Equal(t, models.ChannelSMS, sent[1].Channel)
	assert.Equal(t, "+5511999998888", sent[1].Recipient)
	for _, req := range sent {
		assert.Equal(t, "payment-overdue", req.TemplateID)
		assert.Equal(t, "payment-overdue-reminder:"+res.EventID, req.CorrelationID)
		assert.Equal(t, "inv-9", req.PartitionKey)
		assert.Equal(t, 350.0, req.Data["amount"])
		assert.NotContains(t, req.Data, "template")
	}
	assert.Equal(t, "high", sent[0].Data["priority"])

	recorded, err := s.ListExecutions(ctx, res.EventID)
	require.NoError(t, err)
	require.Len(t, recorded, 1)
	assert.Equal(t, models.RuleStateCompleted, recorded[0].State)
}

func TestEmitSkipsWhenConditionsFail(t *testing.T) {
	notifier := &notifierStub{}
	engine, s := newTestEngine(t, notifier)

	res, err := engine.Emit(context.Background(), models.TriggerPaymentOverdue, "inv-9", overduePayload(5))
	require.NoError(t, err)
	require.Len(t, res.Executions, 1)
	assert.Equal(t, models.RuleStateSkipped, res.Executions[0].State)
	assert.Empty(t, notifier.sent())

	recorded, err := s.ListExecutions(context.Background(), res.EventID)
	require.NoError(t, err)
	require.Len(t, recorded, 1)
	assert.Equal(t, models.RuleStateSkipped, recorded[0].State)
}

func TestEmitWithoutMatchingRules(t *testing.T) {
	engine, _ := newTestEngine(t, &notifierStub{})

	res, err := engine.Emit(context.Background(), models.TriggerScheduled, "job-1", nil)
	require.NoError(t, err)
	assert.Empty(t, res.Executions)
}

func TestEmitIsolatesActionFailures(t *testing.T) {
	notifier := &notifierStub{fail: map[models.Channel]error{models.ChannelEmail: errors.New("smtp down")}}
	engine, _ := newTestEngine(t, notifier)

	res, err := engine.Emit(context.Background(), models.TriggerPaymentOverdue, "inv-1", overduePayload(3))
	require.NoError(t, err)
	exec := res.Executions[0]
	assert.Equal(t, models.RuleStatePartiallyFailed, exec.State)
	assert.Equal(t, []int{0}, exec.FailedActions)
	assert.Len(t, exec.JobIDs, 1)
	assert.Contains(t, exec.Error, "smtp down")

	sent := notifier.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, models.ChannelSMS, sent[0].Channel)
}

func TestEmitRecoversActionPanic(t *testing.T) {
	notifier := &notifierStub{panicOn: models.ChannelSMS}
	engine, _ := newTestEngine(t, notifier)

	res, err := engine.Emit(context.Background(), models.TriggerPaymentOverdue, "inv-1", overduePayload(15))
	require.NoError(t, err)
	exec := res.Executions[0]
	assert.Equal(t, models.RuleStatePartiallyFailed, exec.State)
	assert.Equal(t, []int{1}, exec.FailedActions)
	assert.Contains(t, exec.Error, "provider exploded")
}

func TestEmitMissingRecipientFailsAction(t *testing.T) {
	notifier := &notifierStub{}
	engine, _ := newTestEngine(t, notifier)

	payload := overduePayload(7)
	delete(payload, "clientPhone")
	res, err := engine.Emit(context.Background(), models.TriggerPaymentOverdue, "inv-1", payload)
	require.NoError(t, err)
	assert.Equal(t, []int{1}, res.Executions[0].FailedActions)
	assert.Contains(t, res.Executions[0].Error, "clientPhone")
}

func TestOrderCompletionQueuesOneEmailForEntityOwner(t *testing.T) {
	notifier := &notifierStub{}
	engine, s := newTestEngine(t, notifier)
	ctx := context.Background()
	require.NoError(t, s.UpsertContact(ctx, models.ClientContact{ClientID: "client-1", Name: "Ana", Email: "ana@example.com", Phone: "+5511999998888"}))
	require.NoError(t, s.LinkEntity(ctx, "os-1", "client-1"))

	res, err := engine.Emit(ctx, models.TriggerOrderStatusChanged, "os-1", map[string]any{
		"previousStatus": "PENDENTE",
		"newStatus":      "CONCLUIDA",
	})
	require.NoError(t, err)
	require.Len(t, res.Executions, 1)
	assert.Equal(t, "order-completion-followup", res.Executions[0].RuleID)
	assert.Equal(t, models.RuleStateCompleted, res.Executions[0].State)
	assert.Empty(t, res.Executions[0].Error)

	sent := notifier.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, models.ChannelEmail, sent[0].Channel)
	assert.Equal(t, "order-completed", sent[0].TemplateID)
	assert.Equal(t, "ana@example.com", sent[0].Recipient)
	assert.Equal(t, "os-1", sent[0].Data["orderNumber"])
	assert.Equal(t, "Ana", sent[0].Data["clientName"])

	r, err := render.New("pt-BR", "BRL")
	require.NoError(t, err)
	msg, err := r.Render(sent[0].Channel, sent[0].TemplateID, sent[0].Data)
	require.NoError(t, err)
	assert.Contains(t, msg.Subject, "os-1")

	res, err = engine.Emit(ctx, models.TriggerOrderStatusChanged, "os-1", map[string]any{
		"previousStatus": "PENDENTE",
		"newStatus":      "EM_ANDAMENTO",
	})
	require.NoError(t, err)
	require.Len(t, res.Executions, 1)
	assert.Equal(t, models.RuleStateSkipped, res.Executions[0].State)
	assert.Len(t, notifier.sent(), 1)
}

func TestEmitResolvesRecipientFromClientID(t *testing.T) {
	notifier := &notifierStub{}
	engine, s := newTestEngine(t, notifier)
	ctx := context.Background()
	require.NoError(t, s.UpsertContact(ctx, models.ClientContact{ClientID: "client-2", Name: "Bia", Email: "bia@example.com"}))

	res, err := engine.Emit(ctx, models.TriggerPaymentReceived, "pay-7", map[string]any{
		"clientId": "client-2",
		"amount":   99.9,
	})
	require.NoError(t, err)
	require.Len(t, res.Executions, 1)
	assert.Equal(t, models.RuleStateCompleted, res.Executions[0].State)
	sent := notifier.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "bia@example.com", sent[0].Recipient)
	assert.NotContains(t, sent[0].Data, "orderNumber")
}

func TestEmitUnknownEntityOwnerFailsAction(t *testing.T) {
	notifier := &notifierStub{}
	engine, _ := newTestEngine(t, notifier)

	res, err := engine.Emit(context.Background(), models.TriggerOrderStatusChanged, "os-404", map[string]any{"newStatus": "CONCLUIDA"})
	require.NoError(t, err)
	require.Len(t, res.Executions, 1)
	assert.Equal(t, models.RuleStatePartiallyFailed, res.Executions[0].State)
	assert.Contains(t, res.Executions[0].Error, "not found")
	assert.Empty(t, notifier.sent())
}

func TestEmitOrdersRulesByPriority(t *testing.T) {
	notifier := &notifierStub{}
	engine, s := newTestEngine(t, notifier)
	rules, err := NewRuleService(s, zerolog.Nop())
	require.NoError(t, err)

	_, err = rules.Create(context.Background(), models.WorkflowRule{
		ID:      "every-order",
		Name:    "every order",
		Trigger: models.Trigger{Type: models.TriggerOrderCreated},
		Actions: []models.Action{{Kind: models.ActionSendEmail, Config: map[string]any{
			"template":       "order-created",
			"recipientField": "contact.email",
		}}},
		IsActive: true,
		Priority: 0,
	})
	require.NoError(t, err)

	res, err := engine.Emit(context.Background(), models.TriggerOrderCreated, "o-1", map[string]any{
		"orderNumber": "OS-1",
		"prioridade":  "URGENTE",
		"clientPhone": "+5511999998888",
		"contact":     map[string]any{"email": "ops@example.com"},
	})
	require.NoError(t, err)
	require.Len(t, res.Executions, 2)
	assert.Equal(t, "every-order", res.Executions[0].RuleID)
	assert.Equal(t, "urgent-order-created", res.Executions[1].RuleID)

	sent := notifier.sent()
	require.Len(t, sent, 2)
	assert.Equal(t, "ops@example.com", sent[0].Recipient)
	assert.Equal(t, "o-1", sent[0].Data["entityId"])
}

func TestReemitSendsAgain(t *testing.T) {
	notifier := &notifierStub{}
	engine, _ := newTestEngine(t, notifier)

	for i := 0; i < 2; i++ {
		_, err := engine.EmitEvent(context.Background(), models.DomainEvent{
			ID:       "evt-fixed",
			Type:     models.TriggerPaymentReceived,
			EntityID: "pay-1",
			Payload:  map[string]any{"clientEmail": "ana@example.com", "amount": 10.0},
		})
		require.NoError(t, err)
	}
	sent := notifier.sent()
	require.Len(t, sent, 2)
	assert.Equal(t, "payment-received-receipt:evt-fixed", sent[1].CorrelationID)
}

func TestInactiveRulesDoNotMatch(t *testing.T) {
	notifier := &notifierStub{}
	engine, s := newTestEngine(t, notifier)
	rules, err := NewRuleService(s, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, rules.SetActive(context.Background(), "payment-received-receipt", false))

	res, err := engine.Emit(context.Background(), models.TriggerPaymentReceived, "pay-1", map[string]any{"clientEmail": "a@example.com"})
	require.NoError(t, err)
	assert.Empty(t, res.Executions)
}
