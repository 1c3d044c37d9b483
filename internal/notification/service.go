// Package notification validates send requests and turns them into queued
// dispatch jobs.
package notification

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/rs/zerolog"

	"github.com/example/workflow-notifier/internal/models"
	"github.com/example/workflow-notifier/internal/util"
)

// ErrValidation marks requests rejected before anything was queued.
var ErrValidation = errors.New("notification: validation failed")

// Enqueuer accepts jobs for asynchronous delivery.
type Enqueuer interface {
	Enqueue(ctx context.Context, job *models.DispatchJob) error
}

// Catalog reports which templates exist per channel.
type Catalog interface {
	Has(channel models.Channel, templateID string) bool
}

// Request is a single templated send. PartitionKey defaults to the
// correlation id and decides which jobs are delivered in order.
type Request struct {
	Channel       models.Channel
	Recipient     string
	TemplateID    string
	Data          map[string]any
	CorrelationID string
	PartitionKey  string
}

// Service is the entry point for every outbound notification.
type Service struct {
	queue   Enqueuer
	catalog Catalog
	logger  zerolog.Logger
}

// NewService constructs a Service.
func NewService(queue Enqueuer, catalog Catalog, logger zerolog.Logger) (*Service, error) {
	if queue == nil {
		return nil, errors.New("notification: queue dependency is required")
	}
	if catalog == nil {
		return nil, errors.New("notification: template catalog dependency is required")
	}
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}
	return &Service{
		queue:   queue,
		catalog: catalog,
		logger:  logger.With().Str("component", "notification_service").Logger(),
	}, nil
}

// SendTemplated validates and enqueues one message. It returns as soon as the
// job is queued; delivery outcomes are reported through the dispatcher.
func (s *Service) SendTemplated(ctx context.Context, channel models.Channel, recipient, templateID string, data map[string]any, correlationID string) (*models.DispatchJob, error) {
	return s.Send(ctx, Request{
		Channel:       channel,
		Recipient:     recipient,
		TemplateID:    templateID,
		Data:          data,
		CorrelationID: correlationID,
	})
}

// Send is SendTemplated with an explicit partition key.
func (s *Service) Send(ctx context.Context, req Request) (*models.DispatchJob, error) {
	job, err := s.validate(req)
	if err != nil {
		s.logger.Warn().
			Str("channel", string(req.Channel)).
			Str("template_id", req.TemplateID).
			Str("correlation_id", req.CorrelationID).
			Err(err).
			Msg("notification rejected")
		return nil, err
	}
	if err := s.queue.Enqueue(ctx, job); err != nil {
		return nil, fmt.Errorf("notification: enqueue: %w", err)
	}
	s.logger.Debug().
		Str("job_id", job.ID).
		Str("channel", string(job.Channel)).
		Str("template_id", job.TemplateID).
		Str("correlation_id", job.CorrelationID).
		Msg("notification queued")
	return job, nil
}

func (s *Service) validate(req Request) (*models.DispatchJob, error) {
	if !req.Channel.Valid() {
		return nil, fmt.Errorf("%w: unsupported channel %q", ErrValidation, req.Channel)
	}

	recipient, err := normalizeRecipient(req.Channel, req.Recipient)
	if err != nil {
		return nil, fmt.Errorf("%w: recipient: %v", ErrValidation, err)
	}

	templateID, err := util.ValidateTemplateID(req.TemplateID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if !s.catalog.Has(req.Channel, templateID) {
		return nil, fmt.Errorf("%w: template %q is not available for %s", ErrValidation, templateID, req.Channel)
	}

	data := make(map[string]any, len(req.Data))
	for k, v := range req.Data {
		data[k] = v
	}

	return &models.DispatchJob{
		Channel:       req.Channel,
		Recipient:     recipient,
		TemplateID:    templateID,
		Data:          data,
		CorrelationID: strings.TrimSpace(req.CorrelationID),
		PartitionKey:  strings.TrimSpace(req.PartitionKey),
	}, nil
}

func normalizeRecipient(channel models.Channel, recipient string) (string, error) {
	if strings.TrimSpace(recipient) == "" {
		return "", errors.New("recipient is required")
	}
	if channel == models.ChannelEmail {
		return util.NormalizeEmail(recipient)
	}
	return util.NormalizePhone(recipient)
}
