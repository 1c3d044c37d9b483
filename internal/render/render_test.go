package render

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/workflow-notifier/internal/models"
)

func newTestRenderer(t *testing.T, opts ...Option) *Renderer {
	t.Helper()
	clock := func() time.Time { return time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC) }
	r, err := New("pt-BR", "BRL", append([]Option{WithClock(clock)}, opts...)...)
	require.NoError(t, err)
	return r
}

func TestFormatterPtBR(t *testing.T) {
	f, err := NewFormatter("pt-BR", "BRL")
	require.NoError(t, err)

	assert.Equal(t, "R$ 1.234,50", f.Value("amount", 1234.5))
	assert.Equal(t, "R$ 150,00", f.Value("total", 150))
	assert.Equal(t, "-R$ 10,00", f.Money(-10))
	assert.Equal(t, "7", f.Value("daysOverdue", float64(7)))
	assert.Equal(t, "42", f.Value("orderNumber", 42))
	assert.Equal(t, "02/01/2025 15:04", f.Value("createdAt", time.Date(2025, 1, 2, 15, 4, 0, 0, time.UTC)))
	assert.Equal(t, "02/01/2025 15:04", f.Value("createdAt", "2025-01-02T15:04:00Z"))
	assert.Equal(t, "", f.Value("missing", nil))
}

func TestNewFormatterRejectsBadInput(t *testing.T) {
	_, err := NewFormatter("not a locale!", "BRL")
	assert.Error(t, err)
	_, err = NewFormatter("pt-BR", "XXXX")
	assert.Error(t, err)
}

func TestRenderEmail(t *testing.T) {
	r := newTestRenderer(t)

	msg, err := r.Render(models.ChannelEmail, TemplateOrderCreated, map[string]any{
		"orderNumber": "OS-1001",
		"clientName":  "Maria <script>",
		"serviceName": "Manutenção",
		"status":      "PENDENTE",
	})
	require.NoError(t, err)

	assert.Equal(t, "Nova Ordem de Serviço #OS-1001 - InterAlpha", msg.Subject)
	assert.Contains(t, msg.HTML, "OS-1001")
	assert.Contains(t, msg.HTML, "Maria &lt;script&gt;")
	assert.Contains(t, msg.HTML, "2025")
	assert.NotContains(t, msg.HTML, "<no value>")
	assert.Contains(t, msg.Body, "OS-1001")
}

func TestRenderEmailSubjectOverride(t *testing.T) {
	r := newTestRenderer(t)

	msg, err := r.Render(models.ChannelEmail, TemplateOrderCompleted, map[string]any{
		"orderNumber": "OS-7",
		"subject":     "Sua ordem ficou pronta",
	})
	require.NoError(t, err)
	assert.Equal(t, "Sua ordem ficou pronta", msg.Subject)
}

func TestRenderFormatsCurrencyBeforeSubstitution(t *testing.T) {
	r := newTestRenderer(t)

	msg, err := r.Render(models.ChannelSMS, TemplatePaymentReceived, map[string]any{
		"amount":        1234.5,
		"paymentMethod": "PIX",
	})
	require.NoError(t, err)
	assert.Equal(t, "InterAlpha: Pagamento de R$ 1.234,50 confirmado via PIX. Obrigado!", msg.Body)
}

func TestRenderSMSTruncates(t *testing.T) {
	r := newTestRenderer(t)

	msg, err := r.Render(models.ChannelSMS, TemplateTechnicianAssigned, map[string]any{
		"orderNumber":     "OS-1",
		"technicianName":  "João",
		"technicianPhone": strings.Repeat("9", 200),
	})
	require.NoError(t, err)
	assert.Equal(t, DefaultSMSBudget, utf8.RuneCountInString(msg.Body))
	assert.True(t, strings.HasSuffix(msg.Body, "..."))
	assert.Contains(t, msg.Body, "OS-1")
}

func TestRenderSMSRejectsCutRequiredField(t *testing.T) {
	r := newTestRenderer(t)

	_, err := r.Render(models.ChannelSMS, TemplateOrderCreated, map[string]any{
		"orderNumber": strings.Repeat("1", 200),
		"status":      "PENDENTE",
	})
	assert.ErrorIs(t, err, ErrContentTooLong)
}

func TestRenderRequiresFields(t *testing.T) {
	r := newTestRenderer(t)

	_, err := r.Render(models.ChannelSMS, TemplateOrderCreated, map[string]any{"status": "PENDENTE"})
	assert.ErrorIs(t, err, ErrMissingField)
}

func TestRenderChatIsNotLengthLimited(t *testing.T) {
	r := newTestRenderer(t)
	long := strings.Repeat("x", 500)

	msg, err := r.Render(models.ChannelChat, TemplateOrderCreated, map[string]any{
		"orderNumber": "OS-9",
		"serviceName": long,
	})
	require.NoError(t, err)
	assert.Contains(t, msg.Body, long)
	assert.Equal(t, "OS-9", msg.Fields["orderNumber"])
	assert.Equal(t, long, msg.Fields["serviceName"])
}

func TestRenderUnknownTemplate(t *testing.T) {
	r := newTestRenderer(t)

	_, err := r.Render(models.ChannelSMS, "does-not-exist", nil)
	assert.ErrorIs(t, err, ErrUnknownTemplate)
	assert.False(t, r.Has(models.ChannelSMS, "does-not-exist"))
	assert.True(t, r.Has(models.ChannelChat, TemplateTest))
}

func TestLoadFileOverridesTemplates(t *testing.T) {
	r := newTestRenderer(t, WithGlobals(map[string]string{"companyName": "Acme"}))

	path := filepath.Join(t.TempDir(), "templates.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
templates:
  - id: test
    channel: sms
    body: "{{.companyName}} ping {{.who}}"
  - id: welcome
    channel: chat
    body: "Bem-vindo, {{.clientName}}"
    fields: [clientName]
`), 0o600))

	n, err := r.LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	msg, err := r.Render(models.ChannelSMS, TemplateTest, map[string]any{"who": "ops"})
	require.NoError(t, err)
	assert.Equal(t, "Acme ping ops", msg.Body)

	msg, err = r.Render(models.ChannelChat, "welcome", map[string]any{"clientName": "Ana"})
	require.NoError(t, err)
	assert.Equal(t, "Bem-vindo, Ana", msg.Body)
}

func TestRegisterValidates(t *testing.T) {
	r := newTestRenderer(t)

	assert.Error(t, r.Register(Template{ID: "ok-id", Channel: "fax", Body: "x"}))
	assert.Error(t, r.Register(Template{ID: "ok-id", Channel: models.ChannelSMS}))
	assert.Error(t, r.Register(Template{ID: "ok-id", Channel: models.ChannelSMS, Body: "{{"}))
}
