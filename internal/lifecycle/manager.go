// Package lifecycle deactivates expired client access keys and warns clients
// before their keys expire.
package lifecycle

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/zeebo/blake3"

	"github.com/example/workflow-notifier/internal/models"
	"github.com/example/workflow-notifier/internal/workflow"
)

// KeyStore is the persistence used by the manager. The manager is the only
// writer of a key's warning ledger.
type KeyStore interface {
	ExpiredActiveKeys(ctx context.Context, now time.Time, limit int) ([]models.ClientAccessKey, error)
	ExpiringKeys(ctx context.Context, now time.Time, leadHours, limit int) ([]models.ClientAccessKey, error)
	DeactivateKey(ctx context.Context, id string, at time.Time) (bool, error)
	AppendWarning(ctx context.Context, keyID string, leadHours int, at time.Time) error
}

// ContactDirectory resolves the contact details of a client.
type ContactDirectory interface {
	GetContact(ctx context.Context, clientID string) (*models.ClientContact, error)
}

// Warner queues an expiration warning for a client.
type Warner interface {
	SendKeyExpirationWarning(ctx context.Context, contact models.ClientContact, expiresAt time.Time, hours int, correlationID string) (*models.DispatchJob, error)
}

// EventEmitter publishes domain events. After a warning is queued the
// manager emits client_key_expiring so rules can react to it.
type EventEmitter interface {
	EmitEvent(ctx context.Context, event models.DomainEvent) (*workflow.EmitResult, error)
}

// Config controls the scan.
type Config struct {
	Interval     time.Duration
	WarningHours []int
	BatchSize    int
}

// Dependencies collects the collaborators of the Manager.
type Dependencies struct {
	Keys     KeyStore
	Contacts ContactDirectory
	Warner   Warner
	Events   EventEmitter
	Logger   zerolog.Logger
	Now      func() time.Time
}

// Report summarises one pass.
type Report struct {
	Expired int
	Warned  int
	Errors  int
}

// Manager runs the periodic key scan.
type Manager struct {
	cfg      Config
	keys     KeyStore
	contacts ContactDirectory
	warner   Warner
	events   EventEmitter
	logger   zerolog.Logger
	now      func() time.Time

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// NewManager validates cfg and deps.
func NewManager(cfg Config, deps Dependencies) (*Manager, error) {
	if cfg.Interval <= 0 {
		return nil, errors.New("lifecycle: interval must be > 0")
	}
	if cfg.BatchSize < 1 {
		return nil, errors.New("lifecycle: batch size must be >= 1")
	}
	for _, h := range cfg.WarningHours {
		if h <= 0 {
			return nil, fmt.Errorf("lifecycle: warning lead %d must be > 0", h)
		}
	}
	if deps.Keys == nil {
		return nil, errors.New("lifecycle: key store dependency is required")
	}
	if deps.Contacts == nil {
		return nil, errors.New("lifecycle: contact directory dependency is required")
	}
	if deps.Warner == nil {
		return nil, errors.New("lifecycle: warner dependency is required")
	}

	logger := deps.Logger
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}

	hours := append([]int(nil), cfg.WarningHours...)
	sort.Sort(sort.Reverse(sort.IntSlice(hours)))
	cfg.WarningHours = hours

	return &Manager{
		cfg:      cfg,
		keys:     deps.Keys,
		contacts: deps.Contacts,
		warner:   deps.Warner,
		events:   deps.Events,
		logger:   logger.With().Str("component", "key_lifecycle").Logger(),
		now:      now,
	}, nil
}

// Start runs one pass immediately and then one per interval until Stop is
// called or ctx is cancelled.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return errors.New("lifecycle: manager already started")
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	m.running = true

	go m.loop(runCtx, m.done)
	m.logger.Info().
		Dur("interval", m.cfg.Interval).
		Ints("warning_hours", m.cfg.WarningHours).
		Msg("key lifecycle started")
	return nil
}

// Stop cancels the loop and waits for an in-progress pass to finish.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel, done := m.cancel, m.done
	m.running = false
	m.mu.Unlock()

	cancel()
	<-done
	m.logger.Info().Msg("key lifecycle stopped")
}

func (m *Manager) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		m.RunOnce(ctx, m.now())
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunOnce deactivates expired keys and sends the warnings that are due at
// now. Errors on one key are logged and counted; the pass continues.
func (m *Manager) RunOnce(ctx context.Context, now time.Time) Report {
	var rep Report
	now = now.UTC()

	m.expire(ctx, now, &rep)
	for _, hours := range m.cfg.WarningHours {
		if ctx.Err() != nil {
			break
		}
		m.warn(ctx, now, hours, &rep)
	}

	m.logger.Info().
		Int("expired", rep.Expired).
		Int("warned", rep.Warned).
		Int("errors", rep.Errors).
		Msg("key lifecycle pass completed")
	return rep
}

func (m *Manager) expire(ctx context.Context, now time.Time, rep *Report) {
	keys, err := m.keys.ExpiredActiveKeys(ctx, now, m.cfg.BatchSize)
	if err != nil {
		rep.Errors++
		m.logger.Error().Err(err).Msg("failed to list expired keys")
		return
	}
	for _, key := range keys {
		changed, err := m.keys.DeactivateKey(ctx, key.ID, now)
		if err != nil {
			rep.Errors++
			m.logger.Error().Err(err).Str("key_id", key.ID).Msg("failed to deactivate expired key")
			continue
		}
		if !changed {
			continue
		}
		rep.Expired++
		m.logger.Info().
			Str("event", "client_key_expired").
			Str("key_id", key.ID).
			Str("client_id", key.ClientID).
			Str("key_fingerprint", Fingerprint(key.KeyValue)).
			Time("expires_at", key.ExpiresAt).
			Time("deactivated_at", now).
			Msg("client access key expired")
	}
}

func (m *Manager) warn(ctx context.Context, now time.Time, hours int, rep *Report) {
	keys, err := m.keys.ExpiringKeys(ctx, now, hours, m.cfg.BatchSize)
	if err != nil {
		rep.Errors++
		m.logger.Error().Err(err).Int("lead_hours", hours).Msg("failed to list expiring keys")
		return
	}
	for _, key := range keys {
		if key.WarningLedger.Has(hours) {
			continue
		}
		if err := m.warnKey(ctx, key, hours, now); err != nil {
			rep.Errors++
			m.logger.Error().
				Err(err).
				Str("key_id", key.ID).
				Str("client_id", key.ClientID).
				Int("lead_hours", hours).
				Msg("expiration warning failed; will retry next pass")
			continue
		}
		rep.Warned++
	}
}

func (m *Manager) warnKey(ctx context.Context, key models.ClientAccessKey, hours int, now time.Time) error {
	contact, err := m.contacts.GetContact(ctx, key.ClientID)
	if err != nil {
		return fmt.Errorf("resolving contact: %w", err)
	}
	job, err := m.warner.SendKeyExpirationWarning(ctx, *contact, key.ExpiresAt, hours, WarningCorrelationID(key.ID, hours))
	if err != nil {
		return fmt.Errorf("sending warning: %w", err)
	}
	if err := m.keys.AppendWarning(ctx, key.ID, hours, now); err != nil {
		return fmt.Errorf("recording warning: %w", err)
	}
	m.logger.Info().
		Str("key_id", key.ID).
		Str("client_id", key.ClientID).
		Str("job_id", job.ID).
		Int("lead_hours", hours).
		Msg("expiration warning queued")
	m.emitExpiring(ctx, key, hours, job.ID, now)
	return nil
}

// emitExpiring reports a queued warning as a client_key_expiring event.
// Failures are logged only; the warning itself already succeeded.
func (m *Manager) emitExpiring(ctx context.Context, key models.ClientAccessKey, hours int, jobID string, now time.Time) {
	if m.events == nil {
		return
	}
	res, err := m.events.EmitEvent(ctx, models.DomainEvent{
		Type:     models.TriggerClientKeyExpiring,
		EntityID: key.ID,
		Payload: map[string]any{
			"keyId":          key.ID,
			"clientId":       key.ClientID,
			"hoursRemaining": hours,
			"expiresAt":      key.ExpiresAt,
			"warningJobId":   jobID,
		},
		OccurredAt: now,
	})
	if err != nil {
		m.logger.Warn().Str("key_id", key.ID).Err(err).Msg("client_key_expiring event not emitted")
		return
	}
	m.logger.Debug().Str("key_id", key.ID).Str("event_id", res.EventID).Int("rules", len(res.Executions)).Msg("client_key_expiring event emitted")
}

// WarningCorrelationID ties the warning jobs of a key and lead time together.
func WarningCorrelationID(keyID string, hours int) string {
	return fmt.Sprintf("key-expiration:%s:%dh", keyID, hours)
}

// Fingerprint returns a short, non-reversible identifier of a key value for
// audit logs.
func Fingerprint(keyValue string) string {
	sum := blake3.Sum256([]byte(keyValue))
	return hex.EncodeToString(sum[:8])
}
