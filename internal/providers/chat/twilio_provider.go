package chat

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/workflow-notifier/internal/config"
	"github.com/example/workflow-notifier/internal/providers/twilio"
)

const whatsappPrefix = "whatsapp:"

// TwilioProvider sends WhatsApp messages through the Twilio Messages API.
type TwilioProvider struct {
	logger zerolog.Logger
	client *twilio.Client
	from   string
	now    func() time.Time
}

// NewTwilioProvider constructs a Twilio backed chat provider. The WhatsApp
// sender number falls back to the SMS number when unset.
func NewTwilioProvider(cfg config.TwilioConfig, logger zerolog.Logger, opts ...twilio.Option) (*TwilioProvider, error) {
	from := cfg.WhatsAppNumber
	if strings.TrimSpace(from) == "" {
		from = cfg.PhoneNumber
	}
	if strings.TrimSpace(from) == "" {
		return nil, errors.New("twilio chat provider: whatsapp number is required")
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
		from:   WhatsAppAddress(from),
		now:    time.Now,
	}, nil
}

// Send delivers the payload.
func (p *TwilioProvider) Send(ctx context.Context, payload *Payload) (*RawResponse, error) {
	if payload == nil || strings.TrimSpace(payload.To) == "" {
		return nil, errors.New("twilio chat provider: recipient is required")
	}
	from := p.from
	if payload.From != "" {
		from = WhatsAppAddress(payload.From)
	}

	res, err := p.client.SendMessage(ctx, from, WhatsAppAddress(payload.To), payload.Body, nil)
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

// WhatsAppAddress prefixes a number with the Twilio WhatsApp scheme.
func WhatsAppAddress(number string) string {
	trimmed := strings.TrimSpace(number)
	if trimmed == "" {
		return ""
	}
	if strings.HasPrefix(strings.ToLower(trimmed), whatsappPrefix) {
		return whatsappPrefix + strings.TrimSpace(trimmed[len(whatsappPrefix):])
	}
	return whatsappPrefix + trimmed
}
