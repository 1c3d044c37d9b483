package sms

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/workflow-notifier/internal/config"
	"github.com/example/workflow-notifier/internal/providers/simulate"
	"github.com/example/workflow-notifier/internal/providers/twilio"
)

func TestMockProviderOutcomes(t *testing.T) {
	p := NewMockProvider(zerolog.Nop(), simulate.WithLatency(0, 0), simulate.WithScript(simulate.ScenarioTransient))

	resp, err := p.Send(context.Background(), &Payload{To: "+5511987654321", Body: "oi"})
	require.Error(t, err)
	assert.Equal(t, 30001, resp.ErrorCode)

	resp, err = p.Send(context.Background(), &Payload{To: "+5511987654321", Body: "oi", Meta: map[string]string{MetaScenario: "permanent"}})
	require.Error(t, err)
	assert.Equal(t, 21211, resp.ErrorCode)

	resp, err = p.Send(context.Background(), &Payload{To: "+5511987654321", Body: "oi"})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.ID)
	require.Len(t, p.Sent(), 1)
	assert.Equal(t, "oi", p.Sent()[0].Body)
}

func TestTwilioProviderSend(t *testing.T) {
	var form url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		form, _ = url.ParseQuery(string(body))
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"sid":"SM42","status":"queued"}`))
	}))
	defer srv.Close()

	p, err := NewTwilioProvider(config.TwilioConfig{AccountSID: "AC1", AuthToken: "t", PhoneNumber: "+15550000"},
		zerolog.Nop(), twilio.WithBaseURL(srv.URL))
	require.NoError(t, err)

	resp, err := p.Send(context.Background(), &Payload{To: "+5511987654321", Body: "InterAlpha: teste"})
	require.NoError(t, err)
	assert.Equal(t, "SM42", resp.ID)
	assert.Equal(t, http.StatusCreated, resp.Code)
	assert.Equal(t, "+15550000", form.Get("From"))
	assert.Equal(t, "+5511987654321", form.Get("To"))
}

func TestNewTwilioProviderRequiresNumber(t *testing.T) {
	_, err := NewTwilioProvider(config.TwilioConfig{AccountSID: "AC1", AuthToken: "t"}, zerolog.Nop())
	assert.Error(t, err)
}
