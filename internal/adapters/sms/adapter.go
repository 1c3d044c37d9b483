package sms

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"time"

	"github.com/rs/zerolog"

	common "github.com/example/workflow-notifier/internal/adapters/common"
	"github.com/example/workflow-notifier/internal/models"
	smsprovider "github.com/example/workflow-notifier/internal/providers/sms"
	"github.com/example/workflow-notifier/internal/render"
)

// Twilio error numbers seen on the SMS channel.
var classifier = common.Classifier{
	Permanent: common.NewCodeSet(21211, 21610, 21612, 21614),
	Transient: common.NewCodeSet(30001, 30002, 30003, 30004, 30005),
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

// Adapter implements common.Adapter for the SMS channel.
type Adapter struct {
	logger         zerolog.Logger
	provider       smsprovider.Provider
	maxRawChars    int
	statusCallback string
}

// NewAdapter constructs an SMS adapter using the supplied provider.
func NewAdapter(provider smsprovider.Provider, logger zerolog.Logger, opts ...Option) (*Adapter, error) {
	if provider == nil {
		return nil, errors.New("sms adapter: provider dependency is required")
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
		return nil, common.WrapPermanent(errors.New("sms adapter: message is nil"))
	}
	if strings.TrimSpace(recipient) == "" {
		return nil, common.WrapPermanent(errors.New("sms adapter: recipient is empty"))
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
			Str("channel", string(models.ChannelSMS)).
			Str("provider_status", resp.Status).
			Str("error_code", resp.ErrorCode).
			Err(err).
			Msg("sms adapter send failed")
		return resp, common.WrapStatus(resp.Status, err)
	}

	resp := a.buildResponse(raw)
	resp.Status, resp.Message = common.StatusOK, "sent"
	a.logger.Debug().
		Str("job_id", payload.MessageID).
		Str("channel", string(models.ChannelSMS)).
		Str("provider_message_id", resp.ProviderMessageID).
		Msg("sms adapter send succeeded")
	return resp, nil
}

func (a *Adapter) buildPayload(recipient string, msg *render.Message) *smsprovider.Payload {
	meta := make(map[string]string, len(msg.Meta)+1)
	for k, v := range msg.Meta {
		if strings.TrimSpace(v) != "" {
			meta[k] = v
		}
	}
	if a.statusCallback != "" {
		meta["status_callback"] = a.statusCallback
	}
	return &smsprovider.Payload{
		MessageID: msg.Meta[common.MetaJobID],
		To:        recipient,
		Body:      msg.Body,
		Meta:      meta,
	}
}

func (a *Adapter) buildResponse(raw *smsprovider.RawResponse) *common.ProviderResponse {
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
