// Package simulate drives the behaviour of the mock channel providers:
// scenario selection, artificial latency and provider id generation.
package simulate

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"
)

// Scenario enumerates the supported mock behaviours.
type Scenario string

const (
	ScenarioSuccess   Scenario = "success"
	ScenarioTransient Scenario = "transient"
	ScenarioPermanent Scenario = "permanent"
	ScenarioTimeout   Scenario = "timeout"
)

// ParseScenario maps a free form value to a Scenario, defaulting to success.
func ParseScenario(value string) Scenario {
	switch Scenario(strings.ToLower(strings.TrimSpace(value))) {
	case ScenarioTransient:
		return ScenarioTransient
	case ScenarioPermanent:
		return ScenarioPermanent
	case ScenarioTimeout:
		return ScenarioTimeout
	default:
		return ScenarioSuccess
	}
}

// Option customises a Simulator.
type Option func(*Simulator)

// WithScenario sets the scenario used when no script entry or override applies.
func WithScenario(s Scenario) Option {
	return func(sim *Simulator) {
		sim.scenario = s
	}
}

// WithScript queues scenarios consumed one per call before falling back to
// the default scenario.
func WithScript(steps ...Scenario) Option {
	return func(sim *Simulator) {
		sim.script = append(sim.script, steps...)
	}
}

// WithLatency configures the latency range. Negative values are clamped to
// zero and max < min is coerced to min.
func WithLatency(min, max time.Duration) Option {
	return func(sim *Simulator) {
		if min < 0 {
			min = 0
		}
		if max < min {
			max = min
		}
		sim.minLatency = min
		sim.maxLatency = max
	}
}

// WithSeed makes generated ids and latencies deterministic.
func WithSeed(seed int64) Option {
	return func(sim *Simulator) {
		sim.rnd = rand.New(rand.NewSource(seed)) // #nosec G404 -- deterministic seed for tests.
	}
}

// WithClock overrides the clock used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(sim *Simulator) {
		if now != nil {
			sim.now = now
		}
	}
}

// Simulator is safe for concurrent use.
type Simulator struct {
	minLatency time.Duration
	maxLatency time.Duration
	scenario   Scenario
	now        func() time.Time

	mu     sync.Mutex
	rnd    *rand.Rand
	script []Scenario
}

// New constructs a Simulator that succeeds after 25-75ms by default.
func New(opts ...Option) *Simulator {
	sim := &Simulator{
		minLatency: 25 * time.Millisecond,
		maxLatency: 75 * time.Millisecond,
		scenario:   ScenarioSuccess,
		now:        time.Now,
		rnd:        rand.New(rand.NewSource(time.Now().UnixNano())), // #nosec G404
	}
	for _, opt := range opts {
		if opt != nil {
			opt(sim)
		}
	}
	return sim
}

// Next returns the scenario for the next call. A non-empty override wins over
// the script and the default.
func (s *Simulator) Next(override string) Scenario {
	if strings.TrimSpace(override) != "" {
		return ParseScenario(override)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.script) > 0 {
		next := s.script[0]
		s.script = s.script[1:]
		return next
	}
	return s.scenario
}

// Latency samples the configured latency range.
func (s *Simulator) Latency() time.Duration {
	if s.maxLatency <= s.minLatency {
		return s.minLatency
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.minLatency + time.Duration(s.rnd.Int63n(int64(s.maxLatency-s.minLatency)+1))
}

// Stall blocks past the maximum latency, then reports a deadline error the
// way a hung provider would.
func (s *Simulator) Stall(ctx context.Context) error {
	if err := Sleep(ctx, s.maxLatency+s.minLatency); err != nil {
		return err
	}
	return context.DeadlineExceeded
}

// NewID returns a random provider message id with the given prefix.
func (s *Simulator) NewID(prefix string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fmt.Sprintf("%s-%08x", prefix, s.rnd.Uint32())
}

// Now returns the simulator clock.
func (s *Simulator) Now() time.Time {
	return s.now()
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
