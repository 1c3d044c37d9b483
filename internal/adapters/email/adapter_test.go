package email

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	common "github.com/example/workflow-notifier/internal/adapters/common"
	"github.com/example/workflow-notifier/internal/models"
	emailprovider "github.com/example/workflow-notifier/internal/providers/email"
	"github.com/example/workflow-notifier/internal/render"
)

type providerStub struct {
	resp    *emailprovider.RawResponse
	err     error
	payload *emailprovider.Payload
}

func (p *providerStub) Send(_ context.Context, payload *emailprovider.Payload) (*emailprovider.RawResponse, error) {
	p.payload = payload
	return p.resp, p.err
}

func testMessage() *render.Message {
	return &render.Message{
		Channel:    models.ChannelEmail,
		TemplateID: "order-created",
		Subject:    "Nova ordem",
		Body:       "texto",
		HTML:       "<p>html</p>",
		Meta: map[string]string{
			common.MetaJobID:         "job-1",
			common.MetaCorrelationID: "rule-1:evt-1",
		},
	}
}

func TestNewAdapterRequiresProvider(t *testing.T) {
	_, err := NewAdapter(nil, zerolog.Nop())
	assert.Error(t, err)
}

func TestSendSuccess(t *testing.T) {
	stub := &providerStub{resp: &emailprovider.RawResponse{ID: "job-1", Code: 250, Body: "accepted", Timestamp: time.Now()}}
	a, err := NewAdapter(stub, zerolog.Nop(), WithFrom("noreply@example.com"))
	require.NoError(t, err)

	resp, err := a.Send(context.Background(), "client@example.com", testMessage())
	require.NoError(t, err)

	assert.Equal(t, common.StatusOK, resp.Status)
	assert.Equal(t, "job-1", resp.ProviderMessageID)
	assert.Equal(t, 250, *resp.Code)
	assert.Equal(t, []string{"client@example.com"}, stub.payload.To)
	assert.Equal(t, "noreply@example.com", stub.payload.From)
	assert.Equal(t, "<p>html</p>", stub.payload.HTMLBody)
	assert.Equal(t, "rule-1:evt-1", stub.payload.Headers["X-Correlation-ID"])
}

func TestSendClassifiesFailures(t *testing.T) {
	cases := []struct {
		name     string
		resp     *emailprovider.RawResponse
		err      error
		sentinel error
		status   string
	}{
		{"mailbox unavailable", &emailprovider.RawResponse{Code: 550}, errors.New("smtp 550: no such user"), common.ErrPermanent, common.StatusRejected},
		{"greylisted", nil, errors.New("smtp 451: try later"), common.ErrTransient, common.StatusRetryable},
		{"timeout", nil, fmt.Errorf("dial: %w", context.DeadlineExceeded), common.ErrTransient, common.StatusRetryable},
		{"unknown", nil, errors.New("connection reset"), common.ErrTransient, common.StatusUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			a, err := NewAdapter(&providerStub{resp: tc.resp, err: tc.err}, zerolog.Nop())
			require.NoError(t, err)

			resp, err := a.Send(context.Background(), "client@example.com", testMessage())
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.sentinel)
			assert.Equal(t, tc.status, resp.Status)
		})
	}
}

func TestSendRejectsMissingInput(t *testing.T) {
	a, err := NewAdapter(&providerStub{}, zerolog.Nop())
	require.NoError(t, err)

	_, err = a.Send(context.Background(), "client@example.com", nil)
	assert.ErrorIs(t, err, common.ErrPermanent)
	_, err = a.Send(context.Background(), " ", testMessage())
	assert.ErrorIs(t, err, common.ErrPermanent)
}
