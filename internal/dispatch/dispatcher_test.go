package dispatch

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	common "github.com/example/workflow-notifier/internal/adapters/common"
	"github.com/example/workflow-notifier/internal/models"
	"github.com/example/workflow-notifier/internal/render"
	"github.com/example/workflow-notifier/internal/store"
)

type sendFunc func(call int, recipient string, msg *render.Message) (*common.ProviderResponse, error)

type adapterStub struct {
	mu    sync.Mutex
	calls int
	order []string
	fn    sendFunc
}

func (a *adapterStub) Send(_ context.Context, recipient string, msg *render.Message) (*common.ProviderResponse, error) {
	a.mu.Lock()
	a.calls++
	call := a.calls
	a.order = append(a.order, msg.Meta[common.MetaJobID])
	a.mu.Unlock()
	if a.fn == nil {
		return &common.ProviderResponse{Status: common.StatusOK, ProviderMessageID: "pm-" + msg.Meta[common.MetaJobID]}, nil
	}
	return a.fn(call, recipient, msg)
}

func (a *adapterStub) Calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

func (a *adapterStub) Order() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.order...)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []models.StatusEvent
	dead   []models.DeadJobRecord
}

func (p *recordingPublisher) PublishStatus(_ context.Context, event models.StatusEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) PublishDeadJob(_ context.Context, rec models.DeadJobRecord) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dead = append(p.dead, rec)
	return nil
}

func (p *recordingPublisher) count(jobID, eventType string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if e.JobID == jobID && e.EventType == eventType {
			n++
		}
	}
	return n
}

func (p *recordingPublisher) deadCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.dead)
}

type denyingGate struct {
	mu     sync.Mutex
	denies int
}

func (g *denyingGate) TryAcquire() (func(), bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.denies > 0 {
		g.denies--
		return nil, false
	}
	return func() {}, true
}

type harness struct {
	store     *store.SQLiteStore
	adapter   *adapterStub
	publisher *recordingPublisher
	d         *Dispatcher
}

func newHarness(t *testing.T, cfg Config, adapter *adapterStub, gate Gate) *harness {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "dispatch.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	r, err := render.New("pt-BR", "BRL")
	require.NoError(t, err)

	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.Channels == nil {
		cfg.Channels = map[models.Channel]ChannelConfig{models.ChannelSMS: {Workers: 4, QueueSize: 16}}
	}
	pub := &recordingPublisher{}
	gates := map[models.Channel]Gate{}
	if gate != nil {
		gates[models.ChannelSMS] = gate
	}
	d, err := NewDispatcher(cfg, Dependencies{
		Store:            st,
		Renderer:         r,
		Adapters:         map[models.Channel]common.Adapter{models.ChannelSMS: adapter},
		Gates:            gates,
		StatusPublisher:  pub,
		DeadJobPublisher: pub,
		Logger:           zerolog.Nop(),
	})
	require.NoError(t, err)
	t.Cleanup(d.Stop)
	return &harness{store: st, adapter: adapter, publisher: pub, d: d}
}

func smsJob(correlation string) *models.DispatchJob {
	return &models.DispatchJob{
		Channel:       models.ChannelSMS,
		Recipient:     "+5511999998888",
		TemplateID:    render.TemplateTest,
		CorrelationID: correlation,
	}
}

func (h *harness) waitStatus(t *testing.T, id string, want models.JobStatus) *models.DispatchJob {
	t.Helper()
	var job *models.DispatchJob
	require.Eventually(t, func() bool {
		var err error
		job, err = h.store.GetJob(context.Background(), id)
		return err == nil && job.Status == want
	}, 3*time.Second, 5*time.Millisecond, "job %s never reached %s", id, want)
	return job
}

func TestNewDispatcherValidates(t *testing.T) {
	_, err := NewDispatcher(Config{}, Dependencies{})
	assert.Error(t, err)

	_, err = NewDispatcher(Config{
		MaxAttempts: 1,
		Channels:    map[models.Channel]ChannelConfig{models.ChannelEmail: {Workers: 1}},
	}, Dependencies{Store: &store.SQLiteStore{}, Renderer: &render.Renderer{}})
	assert.ErrorContains(t, err, "email adapter dependency is required")
}

func TestSendsAndRecordsProviderID(t *testing.T) {
	h := newHarness(t, Config{}, &adapterStub{}, nil)
	require.NoError(t, h.d.Start(context.Background()))

	job := smsJob("rule-1:evt-1")
	require.NoError(t, h.d.Enqueue(context.Background(), job))

	got := h.waitStatus(t, job.ID, models.JobSent)
	assert.Equal(t, 1, got.Attempts)
	assert.Equal(t, "pm-"+job.ID, got.ProviderMessageID)
	assert.Equal(t, 1, h.publisher.count(job.ID, models.StatusEventQueued))
	assert.Equal(t, 1, h.publisher.count(job.ID, models.StatusEventSent))
}

func TestPreservesOrderPerCorrelation(t *testing.T) {
	adapter := &adapterStub{fn: func(call int, _ string, msg *render.Message) (*common.ProviderResponse, error) {
		if call%3 == 0 {
			return nil, common.WrapTransient(errors.New("flaky"))
		}
		return &common.ProviderResponse{Status: common.StatusOK}, nil
	}}
	h := newHarness(t, Config{MaxAttempts: 5, BaseBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}, adapter, nil)
	require.NoError(t, h.d.Start(context.Background()))

	var ids []string
	for i := 0; i < 8; i++ {
		job := smsJob("same-entity")
		require.NoError(t, h.d.Enqueue(context.Background(), job))
		ids = append(ids, job.ID)
	}
	for _, id := range ids {
		h.waitStatus(t, id, models.JobSent)
	}

	var firstSeen []string
	seen := map[string]bool{}
	for _, id := range adapter.Order() {
		if !seen[id] {
			seen[id] = true
			firstSeen = append(firstSeen, id)
		}
	}
	assert.Equal(t, ids, firstSeen)
}

func TestTransientFailuresExhaustToDead(t *testing.T) {
	adapter := &adapterStub{fn: func(int, string, *render.Message) (*common.ProviderResponse, error) {
		return &common.ProviderResponse{Status: common.StatusRetryable}, common.WrapTransient(errors.New("gateway busy"))
	}}
	h := newHarness(t, Config{MaxAttempts: 3, BaseBackoff: time.Millisecond, MaxBackoff: 4 * time.Millisecond}, adapter, nil)
	require.NoError(t, h.d.Start(context.Background()))

	job := smsJob("r:e")
	require.NoError(t, h.d.Enqueue(context.Background(), job))

	got := h.waitStatus(t, job.ID, models.JobDead)
	assert.Equal(t, 3, got.Attempts)
	assert.Contains(t, got.LastError, "gateway busy")
	assert.Equal(t, 3, adapter.Calls())
	assert.Equal(t, 2, h.publisher.count(job.ID, models.StatusEventFailed))
	assert.Equal(t, 1, h.publisher.count(job.ID, models.StatusEventDead))

	dead, err := h.d.DeadJobs(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, models.FailureTypeTransient, dead[0].FailureType)
	assert.Equal(t, 1, h.publisher.deadCount())
}

func TestPermanentFailureSkipsRetries(t *testing.T) {
	adapter := &adapterStub{fn: func(int, string, *render.Message) (*common.ProviderResponse, error) {
		return &common.ProviderResponse{Status: common.StatusRejected}, common.WrapPermanent(errors.New("invalid number"))
	}}
	h := newHarness(t, Config{MaxAttempts: 5, BaseBackoff: time.Millisecond}, adapter, nil)
	require.NoError(t, h.d.Start(context.Background()))

	job := smsJob("r:e")
	require.NoError(t, h.d.Enqueue(context.Background(), job))

	got := h.waitStatus(t, job.ID, models.JobDead)
	assert.Equal(t, 1, got.Attempts)
	assert.Equal(t, 1, adapter.Calls())
	dead, err := h.d.DeadJobs(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, models.FailureTypePermanent, dead[0].FailureType)
}

func TestRenderErrorIsPermanent(t *testing.T) {
	adapter := &adapterStub{}
	h := newHarness(t, Config{MaxAttempts: 5}, adapter, nil)
	require.NoError(t, h.d.Start(context.Background()))

	job := smsJob("r:e")
	job.TemplateID = "does-not-exist"
	require.NoError(t, h.d.Enqueue(context.Background(), job))

	got := h.waitStatus(t, job.ID, models.JobDead)
	assert.Equal(t, 1, got.Attempts)
	assert.Contains(t, got.LastError, render.ErrUnknownTemplate.Error())
	assert.Zero(t, adapter.Calls())
}

func TestRateLimitDelaysWithoutCountingAttempts(t *testing.T) {
	gate := &denyingGate{denies: 3}
	adapter := &adapterStub{}
	h := newHarness(t, Config{RateLimitBackoff: time.Millisecond}, adapter, gate)
	require.NoError(t, h.d.Start(context.Background()))

	job := smsJob("r:e")
	require.NoError(t, h.d.Enqueue(context.Background(), job))

	got := h.waitStatus(t, job.ID, models.JobSent)
	assert.Equal(t, 1, got.Attempts)
	assert.Equal(t, 1, adapter.Calls())
	assert.Equal(t, 3, h.publisher.count(job.ID, models.StatusEventRateLimited))
}

func TestPanicCountsAsFailedAttempt(t *testing.T) {
	adapter := &adapterStub{fn: func(call int, _ string, _ *render.Message) (*common.ProviderResponse, error) {
		if call == 1 {
			panic("provider exploded")
		}
		return &common.ProviderResponse{Status: common.StatusOK}, nil
	}}
	h := newHarness(t, Config{BaseBackoff: time.Millisecond}, adapter, nil)
	require.NoError(t, h.d.Start(context.Background()))

	job := smsJob("r:e")
	require.NoError(t, h.d.Enqueue(context.Background(), job))

	got := h.waitStatus(t, job.ID, models.JobSent)
	assert.Equal(t, 2, got.Attempts)
	assert.Equal(t, 1, h.publisher.count(job.ID, models.StatusEventFailed))
}

func TestStartRecoversPendingJobs(t *testing.T) {
	adapter := &adapterStub{}
	h := newHarness(t, Config{}, adapter, nil)
	ctx := context.Background()

	created := time.Now().Add(-time.Minute)
	for i, status := range []models.JobStatus{models.JobInFlight, models.JobQueued, models.JobSent} {
		job := smsJob("recovered")
		job.ID = fmt.Sprintf("job-%d", i)
		job.Status = status
		job.CreatedAt = created.Add(time.Duration(i) * time.Second)
		job.UpdatedAt = job.CreatedAt
		require.NoError(t, h.store.InsertJob(ctx, job))
	}

	require.NoError(t, h.d.Start(ctx))
	h.waitStatus(t, "job-0", models.JobSent)
	h.waitStatus(t, "job-1", models.JobSent)
	assert.Equal(t, []string{"job-0", "job-1"}, adapter.Order())
}

func TestEnqueueBeforeStartIsDeliveredOnStart(t *testing.T) {
	h := newHarness(t, Config{}, &adapterStub{}, nil)
	job := smsJob("r:e")
	require.NoError(t, h.d.Enqueue(context.Background(), job))

	stats, err := h.d.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats[models.ChannelSMS].Queued)

	require.NoError(t, h.d.Start(context.Background()))
	h.waitStatus(t, job.ID, models.JobSent)

	stats, err = h.d.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.ChannelStats{Sent: 1}, stats[models.ChannelSMS])
}

func TestEnqueueDoesNotWaitOnBusyPartition(t *testing.T) {
	unblock := make(chan struct{})
	adapter := &adapterStub{fn: func(int, string, *render.Message) (*common.ProviderResponse, error) {
		<-unblock
		return &common.ProviderResponse{Status: common.StatusOK}, nil
	}}
	h := newHarness(t, Config{
		RefillInterval: 10 * time.Millisecond,
		Channels:       map[models.Channel]ChannelConfig{models.ChannelSMS: {Workers: 1, QueueSize: 1}},
	}, adapter, nil)
	require.NoError(t, h.d.Start(context.Background()))

	var ids []string
	for i := 0; i < 2; i++ {
		job := smsJob("busy")
		require.NoError(t, h.d.Enqueue(context.Background(), job))
		ids = append(ids, job.ID)
	}
	require.Eventually(t, func() bool { return adapter.Calls() == 1 }, time.Second, 5*time.Millisecond)

	done := make(chan []string)
	go func() {
		var more []string
		for i := 0; i < 3; i++ {
			job := smsJob("busy")
			if err := h.d.Enqueue(context.Background(), job); err != nil {
				break
			}
			more = append(more, job.ID)
		}
		done <- more
	}()

	var more []string
	select {
	case more = <-done:
	case <-time.After(time.Second):
		close(unblock)
		t.Fatal("Enqueue blocked while the provider was busy")
	}
	require.Len(t, more, 3)
	ids = append(ids, more...)

	stats, err := h.d.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, stats[models.ChannelSMS].Queued)

	close(unblock)
	for _, id := range ids {
		h.waitStatus(t, id, models.JobSent)
	}
	assert.Equal(t, ids, adapter.Order())
}

func TestEnqueueRejectsUnknownChannel(t *testing.T) {
	h := newHarness(t, Config{}, &adapterStub{}, nil)
	job := smsJob("r:e")
	job.Channel = models.ChannelEmail
	assert.ErrorIs(t, h.d.Enqueue(context.Background(), job), ErrUnknownChannel)
}

func TestComputeBackoffIsCapped(t *testing.T) {
	d := &Dispatcher{cfg: Config{BaseBackoff: time.Second, MaxBackoff: 5 * time.Second}}
	d.rnd = newTestRand()
	for attempt := 1; attempt <= 10; attempt++ {
		b := d.computeBackoff(attempt)
		assert.GreaterOrEqual(t, b, time.Duration(0))
		assert.LessOrEqual(t, b, 5*time.Second)
	}
}

func newTestRand() *rand.Rand { return rand.New(rand.NewSource(1)) }
