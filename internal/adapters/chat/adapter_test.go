package chat

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	common "github.com/example/workflow-notifier/internal/adapters/common"
	"github.com/example/workflow-notifier/internal/models"
	chatprovider "github.com/example/workflow-notifier/internal/providers/chat"
	"github.com/example/workflow-notifier/internal/providers/simulate"
	"github.com/example/workflow-notifier/internal/render"
)

func newMock(s simulate.Scenario) *chatprovider.MockProvider {
	return chatprovider.NewMockProvider(zerolog.Nop(), simulate.WithScenario(s), simulate.WithLatency(0, 0))
}

func message() *render.Message {
	return &render.Message{
		Channel:    models.ChannelChat,
		TemplateID: "payment-overdue",
		Body:       "Pagamento em atraso",
		Fields:     map[string]string{"amount": "R$ 10,00"},
		Meta:       map[string]string{common.MetaJobID: "job-7", common.MetaCorrelationID: "r1:e1"},
	}
}

func TestSendSuccess(t *testing.T) {
	provider := newMock(simulate.ScenarioSuccess)
	a, err := NewAdapter(provider, zerolog.Nop(), WithStatusCallback("https://example.com/cb"))
	require.NoError(t, err)

	resp, err := a.Send(context.Background(), "+5511999998888", message())
	require.NoError(t, err)
	assert.Equal(t, common.StatusOK, resp.Status)
	assert.NotEmpty(t, resp.ProviderMessageID)

	sent := provider.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "+5511999998888", sent[0].To)
	assert.Equal(t, "job-7", sent[0].MessageID)
	assert.Equal(t, "r1:e1", sent[0].Meta[common.MetaCorrelationID])
	assert.Equal(t, "https://example.com/cb", sent[0].Meta["status_callback"])
	assert.Equal(t, "R$ 10,00", sent[0].Fields["amount"])
}

func TestSendPermanentFailure(t *testing.T) {
	a, err := NewAdapter(newMock(simulate.ScenarioPermanent), zerolog.Nop())
	require.NoError(t, err)

	resp, err := a.Send(context.Background(), "+5511999998888", message())
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrPermanent)
	assert.Equal(t, common.StatusRejected, resp.Status)
	assert.Equal(t, "21614", resp.ErrorCode)
}

func TestSendTransientFailure(t *testing.T) {
	a, err := NewAdapter(newMock(simulate.ScenarioTransient), zerolog.Nop())
	require.NoError(t, err)

	resp, err := a.Send(context.Background(), "+5511999998888", message())
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrTransient)
	assert.Equal(t, common.StatusRetryable, resp.Status)
	assert.Equal(t, 429, *resp.Code)
}

func TestSendTimeoutIsTransient(t *testing.T) {
	a, err := NewAdapter(newMock(simulate.ScenarioTimeout), zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = a.Send(ctx, "+5511999998888", message())
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrTransient)
}
