package kafka

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog"
)

const (
	defaultSessionTimeout   = 30 * time.Second
	defaultHeartbeat        = 3 * time.Second
	defaultRebalanceTimeout = 30 * time.Second
	consumeRetryBackoff     = time.Second
	handlerAttempts         = 3
	handlerRetryBackoff     = 500 * time.Millisecond
)

// Record is an inbound message.
type Record struct {
	Topic     string
	Partition int32
	Offset    int64
	Key       []byte
	Value     []byte
	Timestamp time.Time
	Headers   map[string][]byte
}

// RecordHandler processes one record. A nil error marks and commits the
// offset. A record that keeps failing stops its claim unmarked, so the next
// session redelivers it and nothing after it is committed first.
type RecordHandler func(ctx context.Context, rec Record) error

// ConsumerOption customises a Consumer.
type ConsumerOption func(*sarama.Config)

// WithConsumerConfig replaces the default Sarama config. The config is copied.
func WithConsumerConfig(cfg *sarama.Config) ConsumerOption {
	return func(c *sarama.Config) {
		if cfg != nil {
			*c = *cfg
		}
	}
}

// WithInitialOffset sets where a new group starts reading.
func WithInitialOffset(offset int64) ConsumerOption {
	return func(c *sarama.Config) {
		c.Consumer.Offsets.Initial = offset
	}
}

// Consumer reads topics as a member of a consumer group and commits offsets
// manually after the handler succeeds.
type Consumer struct {
	logger  zerolog.Logger
	group   sarama.ConsumerGroup
	groupID string
	ready   atomic.Bool

	errorsDone chan struct{}
	mu         sync.Mutex
	cancel     context.CancelFunc
	wg         sync.WaitGroup
}

// NewConsumer joins groupID on brokers.
func NewConsumer(brokers []string, groupID string, logger zerolog.Logger, opts ...ConsumerOption) (*Consumer, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka consumer: at least one broker is required")
	}
	if groupID == "" {
		return nil, errors.New("kafka consumer: group id is required")
	}
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}

	cfg := consumerConfig()
	for _, opt := range opts {
		if opt != nil {
			opt(cfg)
		}
	}
	cfg.Consumer.Offsets.AutoCommit.Enable = false

	group, err := sarama.NewConsumerGroup(brokers, groupID, cfg)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: create consumer group: %w", err)
	}

	c := &Consumer{
		logger:     logger.With().Str("component", "kafka_consumer").Str("group_id", groupID).Logger(),
		group:      group,
		groupID:    groupID,
		errorsDone: make(chan struct{}),
	}
	go c.logErrors()
	return c, nil
}

// Run consumes topics until ctx is cancelled or Close is called. Session
// errors are logged and the group is rejoined after a short pause.
func (c *Consumer) Run(ctx context.Context, topics []string, handler RecordHandler) error {
	if len(topics) == 0 {
		return errors.New("kafka consumer: at least one topic is required")
	}
	if handler == nil {
		return errors.New("kafka consumer: handler is required")
	}

	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()
	defer cancel()

	c.wg.Add(1)
	defer c.wg.Done()

	gh := &groupHandler{consumer: c, handler: handler, attempts: handlerAttempts, backoff: handlerRetryBackoff}
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		err := c.group.Consume(ctx, topics, gh)
		failed := gh.failed.Swap(false)
		switch {
		case errors.Is(err, sarama.ErrClosedConsumerGroup):
			return nil
		case err != nil || failed:
			if err != nil {
				c.logger.Error().Err(err).Msg("consume session failed")
			}
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(consumeRetryBackoff):
			}
		}
	}
}

// IsReady reports whether the consumer currently holds a group session.
func (c *Consumer) IsReady() bool {
	return c.ready.Load()
}

// Close leaves the group and waits for Run to return.
func (c *Consumer) Close() error {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	err := c.group.Close()
	c.wg.Wait()
	<-c.errorsDone
	return err
}

func (c *Consumer) logErrors() {
	defer close(c.errorsDone)
	for err := range c.group.Errors() {
		if err != nil {
			c.logger.Error().Err(err).Msg("consumer group error")
		}
	}
}

type groupHandler struct {
	consumer *Consumer
	handler  RecordHandler
	attempts int
	backoff  time.Duration
	failed   atomic.Bool
}

func (h *groupHandler) Setup(sarama.ConsumerGroupSession) error {
	h.consumer.ready.Store(true)
	h.consumer.logger.Info().Msg("consumer group session started")
	return nil
}

func (h *groupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	h.consumer.ready.Store(false)
	h.consumer.logger.Info().Msg("consumer group session ended")
	return nil
}

// ConsumeClaim handles records in offset order. A record is retried in
// place; when it still fails the claim returns without marking it, which
// ends the session and makes the group resume from that offset.
func (h *groupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		rec := Record{
			Topic:     msg.Topic,
			Partition: msg.Partition,
			Offset:    msg.Offset,
			Key:       cloneBytes(msg.Key),
			Value:     cloneBytes(msg.Value),
			Timestamp: msg.Timestamp,
			Headers:   fromHeaders(msg.Headers),
		}
		if err := h.handle(session.Context(), rec); err != nil {
			h.failed.Store(true)
			h.consumer.logger.Error().
				Err(err).
				Str("topic", msg.Topic).
				Int32("partition", msg.Partition).
				Int64("offset", msg.Offset).
				Msg("record handler failed; claim stopped at uncommitted offset")
			return fmt.Errorf("kafka consumer: %s/%d offset %d: %w", msg.Topic, msg.Partition, msg.Offset, err)
		}
		session.MarkMessage(msg, "")
		session.Commit()
	}
	return nil
}

func (h *groupHandler) handle(ctx context.Context, rec Record) error {
	attempts := h.attempts
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = h.handler(ctx, rec); err == nil {
			return nil
		}
		if attempt == attempts {
			break
		}
		h.consumer.logger.Warn().
			Err(err).
			Int64("offset", rec.Offset).
			Int("attempt", attempt).
			Msg("record handler failed; retrying")
		select {
		case <-ctx.Done():
			return errors.Join(err, ctx.Err())
		case <-time.After(h.backoff):
		}
	}
	return err
}

func consumerConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_5_0_0
	cfg.ClientID = defaultClientID
	cfg.Consumer.Group.Session.Timeout = defaultSessionTimeout
	cfg.Consumer.Group.Heartbeat.Interval = defaultHeartbeat
	cfg.Consumer.Group.Rebalance.Timeout = defaultRebalanceTimeout
	cfg.Consumer.Group.Rebalance.Strategy = sarama.BalanceStrategyRange
	cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	cfg.Consumer.Return.Errors = true
	return cfg
}

func fromHeaders(headers []*sarama.RecordHeader) map[string][]byte {
	if len(headers) == 0 {
		return nil
	}
	out := make(map[string][]byte, len(headers))
	for _, h := range headers {
		if h == nil || len(h.Key) == 0 {
			continue
		}
		out[string(h.Key)] = cloneBytes(h.Value)
	}
	return out
}
