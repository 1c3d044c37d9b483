// Package ratelimit bounds how fast and how concurrently each channel talks to
// its provider.
package ratelimit

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/example/workflow-notifier/internal/config"
	"github.com/example/workflow-notifier/internal/models"
)

// Limits configures a single channel gate. A non-positive RatePerMinute
// disables the token bucket; a non-positive MaxInFlight disables the cap.
type Limits struct {
	RatePerMinute int
	Burst         int
	MaxInFlight   int
}

// FromChannelConfig extracts the gate limits from a channel config.
func FromChannelConfig(cfg config.ChannelConfig) Limits {
	return Limits{RatePerMinute: cfg.RatePerMinute, Burst: cfg.Burst, MaxInFlight: cfg.MaxInFlight}
}

// Gate combines a token bucket with an in-flight cap.
type Gate struct {
	limiter  *rate.Limiter
	inflight *semaphore.Weighted
	now      func() time.Time
}

// Option customises a Gate.
type Option func(*Gate)

// WithClock overrides the time source used by the token bucket.
func WithClock(now func() time.Time) Option {
	return func(g *Gate) {
		if now != nil {
			g.now = now
		}
	}
}

// NewGate builds a gate for the supplied limits.
func NewGate(l Limits, opts ...Option) *Gate {
	g := &Gate{now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	if l.RatePerMinute > 0 {
		burst := l.Burst
		if burst < 1 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(float64(l.RatePerMinute)/60), burst)
	}
	if l.MaxInFlight > 0 {
		g.inflight = semaphore.NewWeighted(int64(l.MaxInFlight))
	}
	return g
}

// TryAcquire takes one token and one in-flight slot without blocking. When it
// returns false nothing was consumed and the caller should try again later.
// The returned release func must be called once the provider call finishes.
func (g *Gate) TryAcquire() (func(), bool) {
	if g.inflight != nil && !g.inflight.TryAcquire(1) {
		return nil, false
	}
	if g.limiter != nil && !g.limiter.AllowN(g.now(), 1) {
		if g.inflight != nil {
			g.inflight.Release(1)
		}
		return nil, false
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			if g.inflight != nil {
				g.inflight.Release(1)
			}
		})
	}, true
}

// Registry holds one gate per channel.
type Registry struct {
	gates map[models.Channel]*Gate
}

// NewRegistry builds gates for every channel in cfg.
func NewRegistry(cfg config.ChannelsConfig, opts ...Option) *Registry {
	return &Registry{gates: map[models.Channel]*Gate{
		models.ChannelEmail: NewGate(FromChannelConfig(cfg.Email), opts...),
		models.ChannelSMS:   NewGate(FromChannelConfig(cfg.SMS), opts...),
		models.ChannelChat:  NewGate(FromChannelConfig(cfg.Chat), opts...),
	}}
}

// Gate returns the gate for channel.
func (r *Registry) Gate(channel models.Channel) (*Gate, error) {
	g, ok := r.gates[channel]
	if !ok {
		return nil, fmt.Errorf("ratelimit: no gate for channel %q", channel)
	}
	return g, nil
}
