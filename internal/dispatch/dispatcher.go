// Package dispatch runs the per channel delivery queues: partitioned workers
// that claim jobs, respect the channel gate, render, call the provider and
// retry with backoff until a job is sent or dead.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"math/rand"
	"reflect"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	common "github.com/example/workflow-notifier/internal/adapters/common"
	"github.com/example/workflow-notifier/internal/models"
	"github.com/example/workflow-notifier/internal/render"
)

// ErrUnknownChannel is returned when a job targets a channel the dispatcher
// has no pool for.
var ErrUnknownChannel = errors.New("dispatch: unknown channel")

// ChannelConfig sizes one channel pool.
type ChannelConfig struct {
	Workers   int
	QueueSize int
}

// Config contains the runtime settings shared by every channel pool.
type Config struct {
	MaxAttempts      int
	BaseBackoff      time.Duration
	MaxBackoff       time.Duration
	RateLimitBackoff time.Duration
	ProviderTimeout  time.Duration
	// RefillInterval is how often each pool rescans the store for queued
	// jobs that could not be handed to a worker. Zero means two seconds.
	RefillInterval time.Duration
	Channels       map[models.Channel]ChannelConfig
}

const defaultRefillInterval = 2 * time.Second

// Store persists jobs and dead job records. TransitionJob is the claim
// primitive: it must only succeed when the job is still in the from status.
type Store interface {
	InsertJob(ctx context.Context, job *models.DispatchJob) error
	SaveJob(ctx context.Context, job *models.DispatchJob) error
	TransitionJob(ctx context.Context, id string, from, to models.JobStatus, at time.Time) (bool, error)
	PendingJobs(ctx context.Context) ([]*models.DispatchJob, error)
	JobStats(ctx context.Context) (models.QueueStats, error)
	RecordDeadJob(ctx context.Context, rec models.DeadJobRecord) (bool, error)
	DeadJobs(ctx context.Context, limit int) ([]models.DeadJobRecord, error)
}

// Renderer turns a template and data into a channel message.
type Renderer interface {
	Render(channel models.Channel, templateID string, data map[string]any) (*render.Message, error)
}

// Gate bounds provider traffic for a channel. A false return means the job
// should wait and try again without counting an attempt.
type Gate interface {
	TryAcquire() (func(), bool)
}

// StatusPublisher publishes job lifecycle updates.
type StatusPublisher interface {
	PublishStatus(ctx context.Context, event models.StatusEvent) error
}

// DeadJobPublisher publishes jobs that will never be retried.
type DeadJobPublisher interface {
	PublishDeadJob(ctx context.Context, rec models.DeadJobRecord) error
}

// Dependencies collects the runtime collaborators required by the dispatcher.
// Nil publishers fall back to logging.
type Dependencies struct {
	Store            Store
	Renderer         Renderer
	Adapters         map[models.Channel]common.Adapter
	Gates            map[models.Channel]Gate
	StatusPublisher  StatusPublisher
	DeadJobPublisher DeadJobPublisher
	Logger           zerolog.Logger
	Now              func() time.Time
}

type pool struct {
	channel    models.Channel
	adapter    common.Adapter
	gate       Gate
	partitions []chan *models.DispatchJob

	// mu guards held and backlog. held tracks jobs sitting in a partition
	// buffer or being processed; backlog is set once a handoff found a full
	// buffer and stays set until the refill loop has caught up with the store.
	mu      sync.Mutex
	held    map[string]struct{}
	backlog bool
	wake    chan struct{}
}

func newPool(channel models.Channel, adapter common.Adapter, gate Gate, workers, queueSize int) *pool {
	p := &pool{
		channel: channel,
		adapter: adapter,
		gate:    gate,
		held:    make(map[string]struct{}),
		wake:    make(chan struct{}, 1),
	}
	for i := 0; i < workers; i++ {
		p.partitions = append(p.partitions, make(chan *models.DispatchJob, queueSize))
	}
	return p
}

// offer hands job to its partition without blocking. False means the job
// stays queued in the store and the refill loop delivers it later.
func (p *pool) offer(job *models.DispatchJob) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.backlog {
		p.signal()
		return false
	}
	return p.push(job)
}

// push must be called with mu held.
func (p *pool) push(job *models.DispatchJob) bool {
	if _, ok := p.held[job.ID]; ok {
		return true
	}
	partition := p.partitions[partitionIndex(job.RoutingKey(), len(p.partitions))]
	select {
	case partition <- job:
		p.held[job.ID] = struct{}{}
		return true
	default:
		p.backlog = true
		p.signal()
		return false
	}
}

func (p *pool) signal() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *pool) release(id string) {
	p.mu.Lock()
	delete(p.held, id)
	p.mu.Unlock()
}

// reset drops buffered jobs left over from a previous run and forces the
// next handoffs through the store.
func (p *pool) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, partition := range p.partitions {
	drain:
		for {
			select {
			case <-partition:
			default:
				break drain
			}
		}
	}
	p.held = make(map[string]struct{})
	p.backlog = true
	p.signal()
}

// Dispatcher owns the channel pools.
type Dispatcher struct {
	cfg       Config
	store     Store
	renderer  Renderer
	status    StatusPublisher
	deadJobs  DeadJobPublisher
	logger    zerolog.Logger
	pools     map[models.Channel]*pool
	now       func() time.Time
	newID     func() string
	lifecycle sync.RWMutex
	started   bool
	stopCtx   context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	randMu sync.Mutex
	rnd    *rand.Rand
}

// NewDispatcher validates the configuration and collaborators and builds one
// pool per configured channel. Workers start with Start.
func NewDispatcher(cfg Config, deps Dependencies) (*Dispatcher, error) {
	if cfg.MaxAttempts < 1 {
		return nil, errors.New("dispatch: max attempts must be >= 1")
	}
	if len(cfg.Channels) == 0 {
		return nil, errors.New("dispatch: at least one channel must be configured")
	}
	if deps.Store == nil {
		return nil, errors.New("dispatch: store dependency is required")
	}
	if deps.Renderer == nil {
		return nil, errors.New("dispatch: renderer dependency is required")
	}

	logger := deps.Logger
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}
	logger = logger.With().Str("component", "dispatcher").Logger()

	nowFunc := deps.Now
	if nowFunc == nil {
		nowFunc = time.Now
	}

	d := &Dispatcher{
		cfg:      cfg,
		store:    deps.Store,
		renderer: deps.Renderer,
		status:   deps.StatusPublisher,
		deadJobs: deps.DeadJobPublisher,
		logger:   logger,
		pools:    make(map[models.Channel]*pool, len(cfg.Channels)),
		now:      nowFunc,
		newID:    func() string { return uuid.NewString() },
		rnd:      rand.New(rand.NewSource(time.Now().UnixNano())), // #nosec G404
	}
	if d.cfg.RefillInterval <= 0 {
		d.cfg.RefillInterval = defaultRefillInterval
	}
	if d.status == nil || d.deadJobs == nil {
		lp := NewLogPublisher(logger)
		if d.status == nil {
			d.status = lp
		}
		if d.deadJobs == nil {
			d.deadJobs = lp
		}
	}

	for channel, cc := range cfg.Channels {
		if cc.Workers < 1 {
			return nil, fmt.Errorf("dispatch: %s workers must be >= 1", channel)
		}
		adapter := deps.Adapters[channel]
		if adapter == nil {
			return nil, fmt.Errorf("dispatch: %s adapter dependency is required", channel)
		}
		d.pools[channel] = newPool(channel, adapter, deps.Gates[channel], cc.Workers, cc.QueueSize)
	}
	return d, nil
}

// Start launches the workers and a refill loop per channel. Jobs left in
// flight by a previous process are put back to queued; every non-terminal
// job is then delivered by the refill loops in creation order, so Start
// does not wait on the workers.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.lifecycle.Lock()
	defer d.lifecycle.Unlock()
	if d.started {
		return errors.New("dispatch: already started")
	}

	pending, err := d.store.PendingJobs(ctx)
	if err != nil {
		return fmt.Errorf("dispatch: loading pending jobs: %w", err)
	}
	requeued := 0
	for _, job := range pending {
		if job.Status != models.JobInFlight {
			continue
		}
		if _, err := d.store.TransitionJob(ctx, job.ID, models.JobInFlight, models.JobQueued, d.now()); err != nil {
			return fmt.Errorf("dispatch: requeueing job %s: %w", job.ID, err)
		}
		requeued++
	}
	if len(pending) > 0 {
		d.logger.Info().Int("jobs", len(pending)).Int("requeued", requeued).Msg("dispatch: recovering pending jobs")
	}

	d.stopCtx, d.cancel = context.WithCancel(context.WithoutCancel(ctx))
	for _, p := range d.pools {
		p.reset()
		for i, partition := range p.partitions {
			d.wg.Add(1)
			go d.runPartition(d.stopCtx, p, i, partition)
		}
		d.wg.Add(1)
		go d.runRefill(d.stopCtx, p)
	}
	d.started = true
	return nil
}

// Stop cancels the workers and waits for them to return. Jobs interrupted
// mid attempt are left queued for the next Start.
func (d *Dispatcher) Stop() {
	d.lifecycle.RLock()
	started, cancel := d.started, d.cancel
	d.lifecycle.RUnlock()
	if !started {
		return
	}
	cancel()

	d.lifecycle.Lock()
	d.started = false
	d.lifecycle.Unlock()
	d.wg.Wait()
}

// Enqueue persists a new job and hands it to its partition. It never waits
// on the workers: when the partition buffer is full the job stays queued in
// the store and the pool's refill loop delivers it. A job enqueued before
// Start is delivered once the dispatcher starts.
func (d *Dispatcher) Enqueue(ctx context.Context, job *models.DispatchJob) error {
	if job == nil {
		return errors.New("dispatch: job is nil")
	}
	if _, ok := d.pools[job.Channel]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownChannel, job.Channel)
	}

	now := d.now()
	if job.ID == "" {
		job.ID = d.newID()
	}
	job.Status = models.JobQueued
	job.Attempts = 0
	job.CreatedAt, job.UpdatedAt = now, now

	d.lifecycle.RLock()
	defer d.lifecycle.RUnlock()

	if err := d.store.InsertJob(ctx, job); err != nil {
		return fmt.Errorf("dispatch: storing job: %w", err)
	}
	d.publishStatus(ctx, job, models.StatusEvent{EventType: models.StatusEventQueued})

	if !d.started {
		return nil
	}
	snapshot := *job
	if !d.pools[job.Channel].offer(&snapshot) {
		d.logger.Debug().Str("channel", string(job.Channel)).Str("job_id", job.ID).Msg("dispatch: partition busy; job left for refill")
	}
	return nil
}

// Stats returns per channel job counts by status.
func (d *Dispatcher) Stats(ctx context.Context) (models.QueueStats, error) {
	return d.store.JobStats(ctx)
}

// DeadJobs lists dead job records, most recent first.
func (d *Dispatcher) DeadJobs(ctx context.Context, limit int) ([]models.DeadJobRecord, error) {
	return d.store.DeadJobs(ctx, limit)
}

func (d *Dispatcher) runRefill(ctx context.Context, p *pool) {
	defer d.wg.Done()
	ticker := time.NewTicker(d.cfg.RefillInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.wake:
		case <-ticker.C:
		}
		d.refill(ctx, p)
	}
}

// refill hands queued and failed jobs of p that no worker holds to their
// partitions, oldest first. It stops at the first full buffer so jobs that
// share a routing key keep their order. The pool lock is held across the
// store scan so concurrent Enqueue calls either show up in the scan or
// arrive after it.
func (d *Dispatcher) refill(ctx context.Context, p *pool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	pending, err := d.store.PendingJobs(ctx)
	if err != nil {
		if ctx.Err() == nil {
			d.logger.Error().Str("channel", string(p.channel)).Err(err).Msg("dispatch: refill scan failed")
		}
		return
	}

	p.backlog = false
	fed := 0
	for _, job := range pending {
		if job.Channel != p.channel || job.Status == models.JobInFlight {
			continue
		}
		if _, ok := p.held[job.ID]; ok {
			continue
		}
		if !p.push(job) {
			break
		}
		fed++
	}
	if fed > 0 {
		d.logger.Debug().Str("channel", string(p.channel)).Int("jobs", fed).Bool("backlog", p.backlog).Msg("dispatch: refilled partitions")
	}
}

func partitionIndex(key string, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(n))
}

func (d *Dispatcher) runPartition(ctx context.Context, p *pool, index int, jobs <-chan *models.DispatchJob) {
	defer d.wg.Done()
	logger := d.logger.With().Str("channel", string(p.channel)).Int("partition", index).Logger()
	logger.Debug().Msg("dispatch: partition worker started")

	for {
		select {
		case <-ctx.Done():
			logger.Debug().Msg("dispatch: partition worker stopped")
			return
		case job := <-jobs:
			d.processJob(ctx, p, job)
			p.release(job.ID)
		}
	}
}

// processJob drives one job to a terminal state, or until ctx ends. Retries
// and rate limit waits happen in place so later jobs on the same partition
// stay behind it.
func (d *Dispatcher) processJob(ctx context.Context, p *pool, job *models.DispatchJob) {
	firstFailedAt := time.Time{}

	if job.Status == models.JobFailed && job.NextAttemptAt != nil {
		if !d.wait(ctx, job.NextAttemptAt.Sub(d.now())) {
			return
		}
	}

	for {
		if ctx.Err() != nil {
			return
		}

		claimed, err := d.store.TransitionJob(ctx, job.ID, job.Status, models.JobInFlight, d.now())
		if err != nil {
			d.logger.Error().Str("job_id", job.ID).Err(err).Msg("dispatch: claim failed")
			return
		}
		if !claimed {
			d.logger.Debug().Str("job_id", job.ID).Str("status", string(job.Status)).Msg("dispatch: job already claimed")
			return
		}
		job.Status = models.JobInFlight

		release := func() {}
		if p.gate != nil {
			r, ok := p.gate.TryAcquire()
			if !ok {
				d.requeueRateLimited(ctx, job)
				if !d.wait(ctx, d.cfg.RateLimitBackoff) {
					return
				}
				continue
			}
			release = r
		}

		attempt := job.Attempts + 1
		logEvent := d.logger.With().
			Str("channel", string(job.Channel)).
			Str("job_id", job.ID).
			Str("correlation_id", job.CorrelationID).
			Int("attempt", attempt).
			Logger()

		d.publishStatus(ctx, job, models.StatusEvent{EventType: models.StatusEventAttempt, Attempt: attempt})
		start := d.now()
		resp, err := d.attempt(ctx, p.adapter, job)
		duration := d.now().Sub(start)
		release()

		if err != nil && ctx.Err() != nil {
			logEvent.Warn().Err(err).Msg("dispatch: stopped during send; job left queued for recovery")
			job.Status = models.JobQueued
			d.save(context.WithoutCancel(ctx), job)
			return
		}

		job.Attempts = attempt
		now := d.now()
		if err == nil {
			job.Status = models.JobSent
			job.LastError = ""
			job.NextAttemptAt = nil
			if resp != nil {
				job.ProviderMessageID = resp.ProviderMessageID
			}
			logEvent.Info().Dur("duration", duration).Msg("dispatch: message sent")
			d.publishStatus(ctx, job, models.StatusEvent{EventType: models.StatusEventSent, Attempt: attempt, ProviderResponse: resp.Model()})
			d.save(ctx, job)
			return
		}

		if firstFailedAt.IsZero() {
			firstFailedAt = now
		}
		job.LastError = err.Error()
		logEvent.Warn().Dur("duration", duration).Err(err).Msg("dispatch: attempt failed")

		if !common.Retryable(err) || attempt >= d.cfg.MaxAttempts {
			failureType := common.FailureType(err)
			job.Status = models.JobDead
			job.NextAttemptAt = nil
			d.publishStatus(ctx, job, models.StatusEvent{EventType: models.StatusEventDead, Attempt: attempt, ProviderResponse: resp.Model(), Error: err.Error(), Timestamp: now})
			d.recordDead(ctx, job, failureType, firstFailedAt, now)
			d.save(ctx, job)
			return
		}

		backoff := d.computeBackoff(attempt)
		next := now.Add(backoff)
		job.Status = models.JobFailed
		job.NextAttemptAt = &next
		d.save(ctx, job)
		d.publishStatus(ctx, job, models.StatusEvent{EventType: models.StatusEventFailed, Attempt: attempt, ProviderResponse: resp.Model(), Error: err.Error(), Timestamp: now})
		if backoff > 0 {
			logEvent.Info().Dur("backoff", backoff).Msg("dispatch: scheduling retry after transient error")
		}
		if !d.wait(ctx, backoff) {
			return
		}
	}
}

// attempt renders and sends once under the provider timeout. Render errors
// are permanent; a panic is reported as a transient failure.
func (d *Dispatcher) attempt(ctx context.Context, adapter common.Adapter, job *models.DispatchJob) (resp *common.ProviderResponse, err error) {
	defer func() {
		if r := recover(); r != nil {
			resp = nil
			err = common.WrapTransient(fmt.Errorf("dispatch: panic during send: %v", r))
		}
	}()

	msg, err := d.renderer.Render(job.Channel, job.TemplateID, job.Data)
	if err != nil {
		return nil, common.WrapPermanent(err)
	}
	if msg.Meta == nil {
		msg.Meta = make(map[string]string, 2)
	}
	msg.Meta[common.MetaJobID] = job.ID
	if job.CorrelationID != "" {
		msg.Meta[common.MetaCorrelationID] = job.CorrelationID
	}

	sendCtx := ctx
	if d.cfg.ProviderTimeout > 0 {
		var cancel context.CancelFunc
		sendCtx, cancel = context.WithTimeout(ctx, d.cfg.ProviderTimeout)
		defer cancel()
	}
	return adapter.Send(sendCtx, job.Recipient, msg)
}

func (d *Dispatcher) requeueRateLimited(ctx context.Context, job *models.DispatchJob) {
	ok, err := d.store.TransitionJob(ctx, job.ID, models.JobInFlight, models.JobQueued, d.now())
	if err != nil || !ok {
		d.logger.Error().Str("job_id", job.ID).Err(err).Msg("dispatch: failed to requeue rate limited job")
	}
	job.Status = models.JobQueued
	d.publishStatus(ctx, job, models.StatusEvent{EventType: models.StatusEventRateLimited, Attempt: job.Attempts})
}

func (d *Dispatcher) recordDead(ctx context.Context, job *models.DispatchJob, failureType string, firstFailedAt, lastAttemptAt time.Time) {
	rec := models.DeadJobRecord{
		JobID:         job.ID,
		Channel:       job.Channel,
		Recipient:     job.Recipient,
		TemplateID:    job.TemplateID,
		CorrelationID: job.CorrelationID,
		Data:          job.Data,
		Attempts:      job.Attempts,
		FailureType:   failureType,
		LastError:     job.LastError,
		FirstFailedAt: firstFailedAt,
		LastAttemptAt: lastAttemptAt,
	}
	inserted, err := d.store.RecordDeadJob(ctx, rec)
	if err != nil {
		d.logger.Error().Str("job_id", job.ID).Err(err).Msg("dispatch: failed to record dead job")
	}
	if !inserted && err == nil {
		return
	}
	d.publishDeadJob(ctx, rec)
}

func (d *Dispatcher) save(ctx context.Context, job *models.DispatchJob) {
	job.UpdatedAt = d.now()
	if err := d.store.SaveJob(ctx, job); err != nil {
		d.logger.Error().
			Str("job_id", job.ID).
			Str("status", string(job.Status)).
			Err(err).
			Msg("dispatch: failed to persist job state")
	}
}

func (d *Dispatcher) computeBackoff(attempt int) time.Duration {
	if d.cfg.BaseBackoff <= 0 {
		return 0
	}

	multiplier := math.Pow(2, float64(attempt-1))
	raw := time.Duration(float64(d.cfg.BaseBackoff) * multiplier)
	if d.cfg.MaxBackoff > 0 && raw > d.cfg.MaxBackoff {
		raw = d.cfg.MaxBackoff
	}

	return d.fullJitter(raw)
}

func (d *Dispatcher) fullJitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}

	d.randMu.Lock()
	defer d.randMu.Unlock()

	return time.Duration(d.rnd.Int63n(int64(max) + 1))
}

func (d *Dispatcher) wait(ctx context.Context, dur time.Duration) bool {
	if dur <= 0 {
		return ctx.Err() == nil
	}

	timer := time.NewTimer(dur)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (d *Dispatcher) publishStatus(ctx context.Context, job *models.DispatchJob, event models.StatusEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = d.now()
	}
	event.JobID = job.ID
	event.Channel = job.Channel
	event.CorrelationID = job.CorrelationID
	event.TemplateID = job.TemplateID
	if err := d.status.PublishStatus(ctx, event); err != nil {
		d.logger.Error().
			Str("channel", string(job.Channel)).
			Str("job_id", job.ID).
			Str("event", event.EventType).
			Err(err).
			Msg("dispatch: failed to publish status event")
	}
}

func (d *Dispatcher) publishDeadJob(ctx context.Context, rec models.DeadJobRecord) {
	if err := d.deadJobs.PublishDeadJob(ctx, rec); err != nil {
		d.logger.Error().
			Str("channel", string(rec.Channel)).
			Str("job_id", rec.JobID).
			Err(err).
			Msg("dispatch: failed to publish dead job record")
	}
}
