package chat

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"time"

	"github.com/rs/zerolog"

	common "github.com/example/workflow-notifier/internal/adapters/common"
	"github.com/example/workflow-notifier/internal/models"
	chatprovider "github.com/example/workflow-notifier/internal/providers/chat"
	"github.com/example/workflow-notifier/internal/render"
)

// Twilio error numbers seen on the chat channel.
var classifier = common.Classifier{
	Permanent: common.NewCodeSet(21211, 21610, 21612, 21614, 63003),
	Transient: common.NewCodeSet(63018, 63016, 63015, 63002, 30001, 30003),
}

// Option modifies adapter behaviour.
type Option func(*Adapter)

// WithRawBodyLimit overrides how much of the provider body to keep in responses.
func WithRawBodyLimit(limit int) Option {
	return func(a *Adapter) {
		if limit > 0 {
			a.maxRawChars = limit
		}
	}
}

// WithStatusCallback asks the provider to report delivery receipts to url.
func WithStatusCallback(url string) Option {
	return func(a *Adapter) {
		a.statusCallback = strings.TrimSpace(url)
	}
}

// Adapter implements common.Adapter for the chat channel.
type Adapter struct {
	logger         zerolog.Logger
	provider       chatprovider.Provider
	maxRawChars    int
	statusCallback string
}

// NewAdapter constructs an SMS adapter using the supplied provider.
func NewAdapter(provider chatprovider.Provider, logger zerolog.Logger, opts ...Option) (*Adapter, error) {
	if provider == nil {
		return nil, errors.New("chat adapter: provider dependency is required")
	}
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}

	a := &Adapter{
		logger:      logger,
		provider:    provider,
		maxRawChars: common.DefaultRawBodyLimit,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a, nil
}

// Send converts the rendered message into a provider payload and delegates to the provider.
func (a *Adapter) Send(ctx context.Context, recipient string, msg *render.Message) (*common.ProviderResponse, error) {
	if msg == nil {
		return nil, common.WrapPermanent(errors.New("chat adapter: message is nil"))
	}
	if strings.TrimSpace(recipient) == "" {
		return nil, common.WrapPermanent(errors.New("chat adapter: recipient is empty"))
	}

	payload := a.buildPayload(recipient, msg)
	raw, err := a.provider.Send(ctx, payload)
	if err != nil {
		resp := a.buildResponse(raw)
		resp.Message = err.Error()
		failure := common.Failure{Err: err}
		if raw != nil {
			failure.HTTPStatus, failure.ErrorCode, failure.ProviderStatus = raw.Code, raw.ErrorCode, raw.Status
			resp.ErrorCode = common.ErrorCodeString(raw.ErrorCode)
		}
		resp.Status = classifier.Classify(failure)
		a.logger.Warn().
			Str("job_id", payload.MessageID).
			Str("channel", string(models.ChannelChat)).
			Str("provider_status", resp.Status).
			Str("error_code", resp.ErrorCode).
			Err(err).
			Msg("chat adapter send failed")
		return resp, common.WrapStatus(resp.Status, err)
	}

	resp := a.buildResponse(raw)
	resp.Status, resp.Message = common.StatusOK, "sent"
	a.logger.Debug().
		Str("job_id", payload.MessageID).
		Str("channel", string(models.ChannelChat)).
		Str("provider_message_id", resp.ProviderMessageID).
		Msg("chat adapter send succeeded")
	return resp, nil
}

func (a *Adapter) buildPayload(recipient string, msg *render.Message) *chatprovider.Payload {
	meta := make(map[string]string, len(msg.Meta)+1)
	for k, v := range msg.Meta {
		if strings.TrimSpace(v) != "" {
			meta[k] = v
		}
	}
	if a.statusCallback != "" {
		meta["status_callback"] = a.statusCallback
	}
	return &chatprovider.Payload{
		MessageID: msg.Meta[common.MetaJobID],
		To:        recipient,
		Body:      msg.Body,
		Fields:    msg.Fields,
		Meta:      meta,
	}
}

func (a *Adapter) buildResponse(raw *chatprovider.RawResponse) *common.ProviderResponse {
	resp := &common.ProviderResponse{}
	if raw == nil {
		return resp
	}
	resp.Code = common.OptionalInt(raw.Code)
	resp.ProviderMessageID = raw.ID
	resp.Raw = common.TruncateRaw(raw.Body, a.maxRawChars)
	meta := make(map[string]string, 2)
	if raw.Status != "" {
		meta["provider_status"] = raw.Status
	}
	if !raw.Timestamp.IsZero() {
		meta["provider_timestamp"] = raw.Timestamp.UTC().Format(time.RFC3339Nano)
	}
	if len(meta) > 0 {
		resp.Meta = meta
	}
	return resp
}
