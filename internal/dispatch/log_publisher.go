package dispatch

import (
	"context"
	"reflect"

	"github.com/rs/zerolog"

	"github.com/example/workflow-notifier/internal/models"
)

// LogPublisher writes status events and dead job records to the log. It is
// used when no broker is configured.
type LogPublisher struct {
	logger zerolog.Logger
}

// NewLogPublisher constructs a LogPublisher.
func NewLogPublisher(logger zerolog.Logger) *LogPublisher {
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}
	return &LogPublisher{logger: logger.With().Str("component", "audit_log").Logger()}
}

// PublishStatus logs a job transition.
func (p *LogPublisher) PublishStatus(_ context.Context, event models.StatusEvent) error {
	evt := p.logger.Info()
	if event.EventType == models.StatusEventAttempt || event.EventType == models.StatusEventQueued {
		evt = p.logger.Debug()
	}
	evt = evt.
		Str("job_id", event.JobID).
		Str("channel", string(event.Channel)).
		Str("event", event.EventType).
		Int("attempt", event.Attempt).
		Str("correlation_id", event.CorrelationID)
	if event.ProviderResponse != nil {
		evt = evt.Str("provider_status", event.ProviderResponse.Status).
			Str("provider_message_id", event.ProviderResponse.ProviderMessageID)
	}
	if event.Error != "" {
		evt = evt.Str("error", event.Error)
	}
	evt.Msg("job status")
	return nil
}

// PublishDeadJob logs a job that will not be retried.
func (p *LogPublisher) PublishDeadJob(_ context.Context, rec models.DeadJobRecord) error {
	p.logger.Warn().
		Str("job_id", rec.JobID).
		Str("channel", string(rec.Channel)).
		Str("template_id", rec.TemplateID).
		Str("correlation_id", rec.CorrelationID).
		Str("failure_type", rec.FailureType).
		Int("attempts", rec.Attempts).
		Str("last_error", rec.LastError).
		Msg("dead job")
	return nil
}
