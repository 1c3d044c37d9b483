package sms

import (
	"context"
	"errors"
	"net/url"
	"reflect"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/workflow-notifier/internal/config"
	"github.com/example/workflow-notifier/internal/providers/twilio"
)

// TwilioProvider sends SMS through the Twilio Messages API.
type TwilioProvider struct {
	logger zerolog.Logger
	client *twilio.Client
	from   string
	now    func() time.Time
}

// NewTwilioProvider constructs a Twilio backed SMS provider.
func NewTwilioProvider(cfg config.TwilioConfig, logger zerolog.Logger, opts ...twilio.Option) (*TwilioProvider, error) {
	if strings.TrimSpace(cfg.PhoneNumber) == "" {
		return nil, errors.New("twilio sms provider: phone number is required")
	}
	client, err := twilio.NewClient(cfg, opts...)
	if err != nil {
		return nil, err
	}
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}
	return &TwilioProvider{
		logger: logger,
		client: client,
		from:   strings.TrimSpace(cfg.PhoneNumber),
		now:    time.Now,
	}, nil
}

// Send delivers the payload.
func (p *TwilioProvider) Send(ctx context.Context, payload *Payload) (*RawResponse, error) {
	if payload == nil || strings.TrimSpace(payload.To) == "" {
		return nil, errors.New("twilio sms provider: recipient is required")
	}
	from := strings.TrimSpace(payload.From)
	if from == "" {
		from = p.from
	}

	var extra url.Values
	if cb := payload.Meta["status_callback"]; cb != "" {
		extra = url.Values{"StatusCallback": {cb}}
	}

	res, err := p.client.SendMessage(ctx, from, payload.To, payload.Body, extra)
	if res == nil {
		return nil, err
	}
	return &RawResponse{
		ID:        res.SID,
		Code:      res.HTTPStatus,
		Status:    res.Status,
		ErrorCode: res.ErrorCode,
		Body:      res.Body,
		Timestamp: p.now(),
	}, err
}
