package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"

	"github.com/rs/zerolog"

	"github.com/example/workflow-notifier/internal/models"
)

// ErrProducerNotInitialised is returned by a publisher without a producer.
var ErrProducerNotInitialised = errors.New("kafka publisher: producer not initialised")

// Sender is the subset of Producer used by the publishers.
type Sender interface {
	SendSync(msg Message) error
	SendAsync(msg Message) error
}

var jsonHeaders = map[string][]byte{"content-type": []byte("application/json")}

// AuditPublisher publishes job status events and dead job records. Status
// events are fire and forget; dead job records wait for acknowledgement.
type AuditPublisher struct {
	sender      Sender
	statusTopic string
	deadTopic   string
	logger      zerolog.Logger
}

// NewAuditPublisher constructs an AuditPublisher.
func NewAuditPublisher(sender Sender, statusTopic, deadTopic string, logger zerolog.Logger) *AuditPublisher {
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}
	return &AuditPublisher{
		sender:      sender,
		statusTopic: statusTopic,
		deadTopic:   deadTopic,
		logger:      logger.With().Str("component", "kafka_audit_publisher").Logger(),
	}
}

// PublishStatus writes a job status event keyed by job id, so the events of a
// job stay in order on one partition.
func (p *AuditPublisher) PublishStatus(_ context.Context, event models.StatusEvent) error {
	if p == nil || p.sender == nil {
		return ErrProducerNotInitialised
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("kafka publisher: marshal status event: %w", err)
	}
	if err := p.sender.SendAsync(Message{
		Topic:   p.statusTopic,
		Key:     []byte(event.JobID),
		Headers: jsonHeaders,
		Value:   payload,
	}); err != nil {
		return fmt.Errorf("kafka publisher: publish status event: %w", err)
	}
	return nil
}

// PublishDeadJob writes a dead job record synchronously.
func (p *AuditPublisher) PublishDeadJob(_ context.Context, rec models.DeadJobRecord) error {
	if p == nil || p.sender == nil {
		return ErrProducerNotInitialised
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("kafka publisher: marshal dead job record: %w", err)
	}
	if err := p.sender.SendSync(Message{
		Topic:   p.deadTopic,
		Key:     []byte(rec.JobID),
		Headers: jsonHeaders,
		Value:   payload,
	}); err != nil {
		return fmt.Errorf("kafka publisher: publish dead job record: %w", err)
	}
	p.logger.Debug().Str("job_id", rec.JobID).Msg("dead job published")
	return nil
}
