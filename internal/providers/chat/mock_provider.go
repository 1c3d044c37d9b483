package chat

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

// MockProvider simulates a WhatsApp style chat gateway.
type MockProvider struct {
	logger zerolog.Logger
	sim    *simulate.Simulator

	mu   sync.Mutex
	sent []Payload
}

// NewMockProvider constructs a mock chat provider.
func NewMockProvider(logger zerolog.Logger, opts ...simulate.Option) *MockProvider {
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}
	return &MockProvider{logger: logger, sim: simulate.New(opts...)}
}

// Send simulates delivering the payload.
func (p *MockProvider) Send(ctx context.Context, payload *Payload) (*RawResponse, error) {
	if payload == nil || payload.To == "" {
		return nil, errors.New("chat: recipient is required")
	}
	if err := simulate.Sleep(ctx, p.sim.Latency()); err != nil {
		return nil, err
	}

	scenario := p.sim.Next(payload.Meta[MetaScenario])
	p.logger.Debug().
		Str("provider", "mock_chat").
		Str("scenario", string(scenario)).
		Str("message_id", payload.MessageID).
		Msg("mock chat provider invoked")

	resp := &RawResponse{ID: p.sim.NewID("WA"), Timestamp: p.sim.Now()}
	switch scenario {
	case simulate.ScenarioPermanent:
		resp.Code, resp.Status, resp.ErrorCode = 400, "failed", 21614
		resp.Body = `{"code":21614,"message":"mock: not a valid mobile number"}`
		return resp, errors.New("chat: mock permanent failure")
	case simulate.ScenarioTransient:
		resp.Code, resp.Status, resp.ErrorCode = 429, "failed", 63018
		resp.Body = `{"code":63018,"message":"mock: rate limit exceeded"}`
		return resp, errors.New("chat: mock transient failure")
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
