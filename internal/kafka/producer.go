// Package kafka connects the engine to Kafka: a consumer group feeding domain
// events into the workflow engine and a producer publishing job status and
// dead job audit records.
package kafka

import (
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
	defaultClientID        = "workflow-notifier"
	defaultMetadataRefresh = 30 * time.Second
)

// ProducerOption customises a Producer.
type ProducerOption func(*producerOptions)

type producerOptions struct {
	config  *sarama.Config
	refresh time.Duration
}

// WithProducerConfig replaces the default Sarama config. The config is copied.
func WithProducerConfig(cfg *sarama.Config) ProducerOption {
	return func(o *producerOptions) {
		if cfg != nil {
			o.config = cfg
		}
	}
}

// WithMetadataRefresh sets how often cluster metadata is refreshed to keep
// readiness current.
func WithMetadataRefresh(interval time.Duration) ProducerOption {
	return func(o *producerOptions) {
		if interval > 0 {
			o.refresh = interval
		}
	}
}

// Message is an outbound record.
type Message struct {
	Topic   string
	Key     []byte
	Headers map[string][]byte
	Value   []byte
}

// Producer owns a Sarama client with a sync producer for records that must be
// acknowledged and an async producer for best effort records.
type Producer struct {
	logger  zerolog.Logger
	client  sarama.Client
	sync    sarama.SyncProducer
	async   sarama.AsyncProducer
	refresh time.Duration
	ready   atomic.Bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewProducer connects to brokers.
func NewProducer(brokers []string, logger zerolog.Logger, opts ...ProducerOption) (*Producer, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka producer: at least one broker is required")
	}
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}

	settings := &producerOptions{config: producerConfig(), refresh: defaultMetadataRefresh}
	for _, opt := range opts {
		if opt != nil {
			opt(settings)
		}
	}
	cfg := *settings.config
	cfg.Metadata.RefreshFrequency = settings.refresh

	client, err := sarama.NewClient(brokers, &cfg)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: create client: %w", err)
	}
	syncProd, err := sarama.NewSyncProducerFromClient(client)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("kafka producer: create sync producer: %w", err)
	}
	asyncProd, err := sarama.NewAsyncProducerFromClient(client)
	if err != nil {
		syncProd.Close()
		client.Close()
		return nil, fmt.Errorf("kafka producer: create async producer: %w", err)
	}

	p := &Producer{
		logger:  logger.With().Str("component", "kafka_producer").Logger(),
		client:  client,
		sync:    syncProd,
		async:   asyncProd,
		refresh: settings.refresh,
		stopCh:  make(chan struct{}),
	}
	p.ready.Store(client.RefreshMetadata() == nil)

	p.wg.Add(2)
	go p.watchMetadata()
	go p.drainAsyncErrors()
	return p, nil
}

// SendSync publishes msg and waits for the broker acknowledgement.
func (p *Producer) SendSync(msg Message) error {
	pm, err := toProducerMessage(msg)
	if err != nil {
		return err
	}
	if _, _, err := p.sync.SendMessage(pm); err != nil {
		p.ready.Store(false)
		return fmt.Errorf("kafka producer: send to %s: %w", msg.Topic, err)
	}
	p.ready.Store(true)
	return nil
}

// SendAsync queues msg without waiting. Delivery errors are logged. It fails
// fast when the input buffer is full.
func (p *Producer) SendAsync(msg Message) error {
	pm, err := toProducerMessage(msg)
	if err != nil {
		return err
	}
	select {
	case p.async.Input() <- pm:
		return nil
	default:
		return errors.New("kafka producer: async input buffer full")
	}
}

// IsReady reports whether the last metadata refresh or send succeeded.
func (p *Producer) IsReady() bool {
	return p.ready.Load()
}

// Close stops background goroutines and releases the producers.
func (p *Producer) Close() error {
	close(p.stopCh)
	p.wg.Wait()
	return errors.Join(p.async.Close(), p.sync.Close(), p.client.Close())
}

func (p *Producer) watchMetadata() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.refresh)
	defer ticker.Stop()
	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			err := p.client.RefreshMetadata()
			if err != nil {
				p.logger.Error().Err(err).Msg("metadata refresh failed")
			}
			p.ready.Store(err == nil)
		}
	}
}

func (p *Producer) drainAsyncErrors() {
	defer p.wg.Done()
	for {
		select {
		case <-p.stopCh:
			return
		case perr, ok := <-p.async.Errors():
			if !ok {
				return
			}
			if perr == nil {
				continue
			}
			p.ready.Store(false)
			p.logger.Error().Err(perr.Err).Str("topic", perr.Msg.Topic).Msg("async publish failed")
		case _, ok := <-p.async.Successes():
			if !ok {
				return
			}
		}
	}
}

func toProducerMessage(msg Message) (*sarama.ProducerMessage, error) {
	if msg.Topic == "" {
		return nil, errors.New("kafka producer: topic is required")
	}
	pm := &sarama.ProducerMessage{
		Topic: msg.Topic,
		Value: sarama.ByteEncoder(msg.Value),
	}
	if len(msg.Key) > 0 {
		pm.Key = sarama.ByteEncoder(cloneBytes(msg.Key))
	}
	for k, v := range msg.Headers {
		pm.Headers = append(pm.Headers, sarama.RecordHeader{Key: []byte(k), Value: cloneBytes(v)})
	}
	return pm, nil
}

func producerConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_5_0_0
	cfg.ClientID = defaultClientID
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 6
	cfg.Producer.Retry.Backoff = 250 * time.Millisecond
	cfg.Producer.Return.Errors = true
	cfg.Producer.Return.Successes = true
	cfg.Producer.Idempotent = true
	cfg.Net.MaxOpenRequests = 1
	cfg.Metadata.Full = true
	return cfg
}

func cloneBytes(src []byte) []byte {
	if len(src) == 0 {
		return nil
	}
	return append([]byte(nil), src...)
}
