package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/workflow-notifier/internal/models"
	"github.com/example/workflow-notifier/internal/notification"
	"github.com/example/workflow-notifier/internal/store"
	"github.com/example/workflow-notifier/internal/workflow"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type notifierStub struct {
	requests []notification.Request
}

func (n *notifierStub) Send(_ context.Context, req notification.Request) (*models.DispatchJob, error) {
	n.requests = append(n.requests, req)
	return &models.DispatchJob{ID: fmt.Sprintf("job-%d", len(n.requests))}, nil
}

type senderStub struct {
	err  error
	last *models.DispatchJob
}

func (s *senderStub) SendTemplated(_ context.Context, channel models.Channel, recipient, templateID string, data map[string]any, correlationID string) (*models.DispatchJob, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.last = &models.DispatchJob{
		ID: "job-adhoc", Channel: channel, Recipient: recipient, TemplateID: templateID,
		Data: data, CorrelationID: correlationID, Status: models.JobQueued,
	}
	return s.last, nil
}

type queueStub struct {
	limit int
}

func (q *queueStub) Stats(context.Context) (models.QueueStats, error) {
	return models.QueueStats{models.ChannelEmail: {Queued: 2, Sent: 5}}, nil
}

func (q *queueStub) DeadJobs(_ context.Context, limit int) ([]models.DeadJobRecord, error) {
	q.limit = limit
	return []models.DeadJobRecord{{JobID: "dead-1", Channel: models.ChannelSMS}}, nil
}

type fixture struct {
	handler  http.Handler
	notifier *notifierStub
	sender   *senderStub
	queue    *queueStub
}

func newFixture(t *testing.T, checks map[string]HealthCheck) *fixture {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	rules, err := workflow.NewRuleService(s, zerolog.Nop())
	require.NoError(t, err)
	_, err = rules.Seed(context.Background(), workflow.DefaultRules(), false)
	require.NoError(t, err)

	notifier := &notifierStub{}
	engine, err := workflow.NewEngine(workflow.Dependencies{Rules: s, Notifier: notifier, Contacts: s, Executions: s})
	require.NoError(t, err)

	f := &fixture{notifier: notifier, sender: &senderStub{}, queue: &queueStub{}}
	srv, err := NewServer(Dependencies{
		Events:        engine,
		Rules:         rules,
		Notifications: f.sender,
		Queue:         f.queue,
		Contacts:      s,
		HealthChecks:  checks,
		CORSOrigins:   []string{"http://localhost:3000"},
	})
	require.NoError(t, err)
	f.handler = srv.Handler()
	return f
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestNewServerValidatesDependencies(t *testing.T) {
	_, err := NewServer(Dependencies{})
	assert.EqualError(t, err, "api: events dependency is required")
}

func TestHealth(t *testing.T) {
	f := newFixture(t, map[string]HealthCheck{"store": func(context.Context) error { return nil }})
	rec := f.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","checks":{"store":"ok"}}`, rec.Body.String())

	f = newFixture(t, map[string]HealthCheck{"kafka": func(context.Context) error { return errors.New("not ready") }})
	rec = f.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "not ready")
}

func TestEmitEvent(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodPost, "/v1/events", map[string]any{
		"type":     "payment_overdue",
		"entityId": "inv-1",
		"payload": map[string]any{
			"clientEmail": "ana@example.com",
			"clientPhone": "+5511999998888",
			"daysOverdue": 3,
			"amount":      120.0,
		},
	})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	res := decode[workflow.EmitResult](t, rec)
	require.Len(t, res.Executions, 1)
	assert.Equal(t, models.RuleStateCompleted, res.Executions[0].State)
	assert.Len(t, f.notifier.requests, 2)

	rec = f.do(t, http.MethodPost, "/v1/events", map[string]any{"type": "order_deleted", "entityId": "x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/v1/events", map[string]any{"type": "order_created", "entityId": "  "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/v1/events", "{broken")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRuleEndpoints(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodGet, "/v1/rules?trigger=payment_overdue", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	listed := decode[struct{ Rules []models.WorkflowRule }](t, rec)
	require.Len(t, listed.Rules, 1)
	assert.Equal(t, "payment-overdue-reminder", listed.Rules[0].ID)

	rule := map[string]any{
		"id":   "vip-chat",
		"name": "VIP chat",
		"trigger": map[string]any{
			"type":       "order_created",
			"conditions": []map[string]any{{"field": "segment", "operator": "equals", "value": "vip"}},
		},
		"actions":  []map[string]any{{"kind": "send_chat_message", "config": map[string]any{"template": "order-created"}}},
		"isActive": true,
		"priority": 5,
	}
	rec = f.do(t, http.MethodPost, "/v1/rules", rule)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[models.WorkflowRule](t, rec)
	assert.False(t, created.CreatedAt.IsZero())

	rec = f.do(t, http.MethodPost, "/v1/rules", rule)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rule["name"] = "VIP chat v2"
	rec = f.do(t, http.MethodPut, "/v1/rules/vip-chat", rule)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodGet, "/v1/rules/vip-chat", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "VIP chat v2", decode[models.WorkflowRule](t, rec).Name)

	rec = f.do(t, http.MethodPut, "/v1/rules/vip-chat/active", map[string]any{"active": false})
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = f.do(t, http.MethodPut, "/v1/rules/vip-chat/active", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/v1/rules?active=false", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	listed = decode[struct{ Rules []models.WorkflowRule }](t, rec)
	require.Len(t, listed.Rules, 1)
	assert.Equal(t, "vip-chat", listed.Rules[0].ID)

	rec = f.do(t, http.MethodGet, "/v1/rules?active=maybe", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodDelete, "/v1/rules/vip-chat", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = f.do(t, http.MethodGet, "/v1/rules/vip-chat", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodPost, "/v1/rules", map[string]any{"name": "no actions", "trigger": map[string]any{"type": "order_created"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "at least one action is required")
}

func TestSendNotification(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodPost, "/v1/notifications", map[string]any{
		"channel":       "whatsapp",
		"recipient":     "+5511999998888",
		"templateId":    "test",
		"correlationId": "manual-1",
	})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	assert.Equal(t, models.ChannelChat, f.sender.last.Channel)
	assert.Equal(t, "manual-1", f.sender.last.CorrelationID)

	rec = f.do(t, http.MethodPost, "/v1/notifications", map[string]any{
		"channel": "fax", "recipient": "x", "templateId": "test",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	f.sender.err = fmt.Errorf("%w: bad phone", notification.ErrValidation)
	rec = f.do(t, http.MethodPost, "/v1/notifications", map[string]any{
		"channel": "sms", "recipient": "123", "templateId": "test",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	f.sender.err = errors.New("database is locked")
	rec = f.do(t, http.MethodPost, "/v1/notifications", map[string]any{
		"channel": "sms", "recipient": "+5511999998888", "templateId": "test",
	})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "locked")
}

func TestQueueEndpoints(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodGet, "/v1/queue/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode[models.QueueStats](t, rec)
	assert.Equal(t, 5, stats[models.ChannelEmail].Sent)

	rec = f.do(t, http.MethodGet, "/v1/queue/dead", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, defaultDeadJobLimit, f.queue.limit)
	assert.Contains(t, rec.Body.String(), "dead-1")

	rec = f.do(t, http.MethodGet, "/v1/queue/dead?limit=10000", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, maxDeadJobLimit, f.queue.limit)

	rec = f.do(t, http.MethodGet, "/v1/queue/dead?limit=-1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestContactsAddressEntityEvents(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodPut, "/v1/contacts/client-1", map[string]any{
		"name": "Ana", "email": "Ana@Example.com", "phone": "(11) 98765-4321",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	contact := decode[models.ClientContact](t, rec)
	assert.Equal(t, "ana@example.com", contact.Email)
	assert.Equal(t, "+5511987654321", contact.Phone)

	rec = f.do(t, http.MethodPut, "/v1/entities/os-1/client", map[string]any{"clientId": "client-1"})
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodPost, "/v1/events", map[string]any{
		"type":     "order_status_changed",
		"entityId": "os-1",
		"payload":  map[string]any{"previousStatus": "PENDENTE", "newStatus": "CONCLUIDA"},
	})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	require.Len(t, f.notifier.requests, 1)
	assert.Equal(t, models.ChannelEmail, f.notifier.requests[0].Channel)
	assert.Equal(t, "ana@example.com", f.notifier.requests[0].Recipient)
	assert.Equal(t, "order-completed", f.notifier.requests[0].TemplateID)
}

func TestContactValidation(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodPut, "/v1/contacts/client-1", map[string]any{"name": "Ana"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPut, "/v1/contacts/client-1", map[string]any{"phone": "12345"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPut, "/v1/entities/os-1/client", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
