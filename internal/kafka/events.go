package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"

	"github.com/rs/zerolog"

	"github.com/example/workflow-notifier/internal/models"
	"github.com/example/workflow-notifier/internal/workflow"
)

// Emitter accepts domain events.
type Emitter interface {
	EmitEvent(ctx context.Context, event models.DomainEvent) (*workflow.EmitResult, error)
}

// EventHandler returns a RecordHandler that decodes JSON domain events and
// emits them. Records that can never succeed (bad JSON, unknown trigger,
// missing entity) are logged and acknowledged so they do not block the
// partition.
func EventHandler(emitter Emitter, logger zerolog.Logger) RecordHandler {
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}
	logger = logger.With().Str("component", "event_ingest").Logger()

	return func(ctx context.Context, rec Record) error {
		var event models.DomainEvent
		if err := json.Unmarshal(rec.Value, &event); err != nil {
			logger.Warn().
				Err(err).
				Str("topic", rec.Topic).
				Int32("partition", rec.Partition).
				Int64("offset", rec.Offset).
				Msg("dropping undecodable event")
			return nil
		}
		if event.EntityID == "" && len(rec.Key) > 0 {
			event.EntityID = string(rec.Key)
		}

		res, err := emitter.EmitEvent(ctx, event)
		switch {
		case errors.Is(err, workflow.ErrUnknownTrigger), errors.Is(err, workflow.ErrInvalidEvent):
			logger.Warn().
				Err(err).
				Str("trigger", string(event.Type)).
				Int64("offset", rec.Offset).
				Msg("dropping invalid event")
			return nil
		case err != nil:
			return err
		}

		logger.Debug().
			Str("event_id", res.EventID).
			Str("trigger", string(event.Type)).
			Int("rules", len(res.Executions)).
			Msg("event processed")
		return nil
	}
}
