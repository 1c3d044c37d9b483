package email

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/example/workflow-notifier/internal/providers/simulate"
)

// HeaderScenario lets a caller force a mock outcome for a single message.
const HeaderScenario = "X-Mock-Provider-Scenario"

// MockProvider simulates an SMTP relay without network access. Accepted
// payloads are kept so tests and local runs can inspect them.
type MockProvider struct {
	logger zerolog.Logger
	sim    *simulate.Simulator

	mu   sync.Mutex
	sent []Payload
}

// NewMockProvider constructs a mock email provider.
func NewMockProvider(logger zerolog.Logger, opts ...simulate.Option) *MockProvider {
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}
	return &MockProvider{logger: logger, sim: simulate.New(opts...)}
}

// Send simulates delivering the payload.
func (p *MockProvider) Send(ctx context.Context, payload *Payload) (*RawResponse, error) {
	if payload == nil {
		return nil, errors.New("email: payload is required")
	}
	if len(payload.To) == 0 {
		return nil, errors.New("email: at least one recipient is required")
	}

	if err := simulate.Sleep(ctx, p.sim.Latency()); err != nil {
		return nil, err
	}

	scenario := p.sim.Next(header(payload.Headers, HeaderScenario))
	p.logger.Debug().
		Str("provider", "mock_smtp").
		Str("scenario", string(scenario)).
		Str("message_id", payload.MessageID).
		Msg("mock email provider invoked")

	switch scenario {
	case simulate.ScenarioPermanent:
		resp := p.response(payload, 550, "mock: mailbox unavailable")
		return resp, fmt.Errorf("smtp %d: %s", resp.Code, resp.Body)
	case simulate.ScenarioTransient:
		resp := p.response(payload, 451, "mock: requested action aborted, try again later")
		return resp, fmt.Errorf("smtp %d: %s", resp.Code, resp.Body)
	case simulate.ScenarioTimeout:
		return nil, p.sim.Stall(ctx)
	}

	p.mu.Lock()
	p.sent = append(p.sent, *payload)
	p.mu.Unlock()
	return p.response(payload, 250, "mock: message queued"), nil
}

// Sent returns a copy of every accepted payload in send order.
func (p *MockProvider) Sent() []Payload {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Payload(nil), p.sent...)
}

func (p *MockProvider) response(payload *Payload, code int, body string) *RawResponse {
	id := payload.MessageID
	if id == "" {
		id = p.sim.NewID("mock")
	}
	return &RawResponse{ID: id, Code: code, Body: body, Timestamp: p.sim.Now()}
}

func header(headers map[string]string, key string) string {
	for k, v := range headers {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return ""
}
