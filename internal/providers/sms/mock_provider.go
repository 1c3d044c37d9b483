package sms

import (
	"context"
	"errors"
	"reflect"
	"sync"

	"github.com/rs/zerolog"

	"github.com/example/workflow-notifier/internal/providers/simulate"
)

// MetaScenario forces a mock outcome for a single message.
const MetaScenario = "scenario"

// MockProvider simulates an SMS gateway. Failures carry Twilio style error
// codes so adapters classify them the same way as real responses.
type MockProvider struct {
	logger zerolog.Logger
	sim    *simulate.Simulator

	mu   sync.Mutex
	sent []Payload
}

// NewMockProvider constructs a mock SMS provider.
func NewMockProvider(logger zerolog.Logger, opts ...simulate.Option) *MockProvider {
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}
	return &MockProvider{logger: logger, sim: simulate.New(opts...)}
}

// Send simulates delivering the payload.
func (p *MockProvider) Send(ctx context.Context, payload *Payload) (*RawResponse, error) {
	if payload == nil || payload.To == "" {
		return nil, errors.New("sms: recipient is required")
	}
	if err := simulate.Sleep(ctx, p.sim.Latency()); err != nil {
		return nil, err
	}

	scenario := p.sim.Next(payload.Meta[MetaScenario])
	p.logger.Debug().
		Str("provider", "mock_sms").
		Str("scenario", string(scenario)).
		Str("message_id", payload.MessageID).
		Msg("mock sms provider invoked")

	resp := &RawResponse{ID: p.sim.NewID("SM"), Timestamp: p.sim.Now()}
	switch scenario {
	case simulate.ScenarioPermanent:
		resp.Code, resp.Status, resp.ErrorCode = 400, "failed", 21211
		resp.Body = `{"code":21211,"message":"mock: invalid 'To' phone number"}`
		return resp, errors.New("sms: mock permanent failure")
	case simulate.ScenarioTransient:
		resp.Code, resp.Status, resp.ErrorCode = 503, "failed", 30001
		resp.Body = `{"code":30001,"message":"mock: queue overflow"}`
		return resp, errors.New("sms: mock transient failure")
	case simulate.ScenarioTimeout:
		return nil, p.sim.Stall(ctx)
	}

	p.mu.Lock()
	p.sent = append(p.sent, *payload)
	p.mu.Unlock()

	resp.Code, resp.Status = 201, "queued"
	return resp, nil
}

// Sent returns a copy of every accepted payload in send order.
func (p *MockProvider) Sent() []Payload {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Payload(nil), p.sent...)
}
