package email

import (
	"context"
	"errors"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	common "github.com/example/workflow-notifier/internal/adapters/common"
	"github.com/example/workflow-notifier/internal/models"
	emailprovider "github.com/example/workflow-notifier/internal/providers/email"
	"github.com/example/workflow-notifier/internal/render"
)

var smtpErrPattern = regexp.MustCompile(`smtp\s+(\d{3})`)

// Option customises adapter behaviour.
type Option func(*Adapter)

// WithRawBodyLimit overrides the maximum number of characters retained from
// the provider raw response.
func WithRawBodyLimit(limit int) Option {
	return func(a *Adapter) {
		if limit > 0 {
			a.maxRawChars = limit
		}
	}
}

// WithFrom sets the sender address placed on every payload.
func WithFrom(from string) Option {
	return func(a *Adapter) {
		a.from = strings.TrimSpace(from)
	}
}

// Adapter implements common.Adapter for the email channel.
type Adapter struct {
	logger      zerolog.Logger
	provider    emailprovider.Provider
	from        string
	maxRawChars int
}

// NewAdapter constructs an email adapter using the provided provider.
func NewAdapter(provider emailprovider.Provider, logger zerolog.Logger, opts ...Option) (*Adapter, error) {
	if provider == nil {
		return nil, errors.New("email adapter: provider dependency is required")
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

// Send delivers a rendered email. SMTP 5xx mailbox/auth codes are permanent;
// everything else, including timeouts, is transient.
func (a *Adapter) Send(ctx context.Context, recipient string, msg *render.Message) (*common.ProviderResponse, error) {
	if msg == nil {
		return nil, common.WrapPermanent(errors.New("email adapter: message is nil"))
	}
	if strings.TrimSpace(recipient) == "" {
		return nil, common.WrapPermanent(errors.New("email adapter: recipient is empty"))
	}

	payload := a.buildPayload(recipient, msg)
	raw, err := a.provider.Send(ctx, payload)
	if err != nil {
		resp := a.errorResponse(raw, err)
		a.logger.Warn().
			Str("job_id", payload.MessageID).
			Str("channel", string(models.ChannelEmail)).
			Str("provider_status", resp.Status).
			Str("error_code", resp.ErrorCode).
			Err(err).
			Msg("email adapter send failed")
		return resp, common.WrapStatus(resp.Status, err)
	}

	resp := a.successResponse(raw)
	a.logger.Debug().
		Str("job_id", payload.MessageID).
		Str("channel", string(models.ChannelEmail)).
		Str("provider_message_id", resp.ProviderMessageID).
		Msg("email adapter send succeeded")
	return resp, nil
}

func (a *Adapter) buildPayload(recipient string, msg *render.Message) *emailprovider.Payload {
	headers := make(map[string]string, 2)
	if v := msg.Meta[common.MetaCorrelationID]; v != "" {
		headers["X-Correlation-ID"] = v
	}
	if msg.TemplateID != "" {
		headers["X-Template-ID"] = msg.TemplateID
	}
	return &emailprovider.Payload{
		MessageID: msg.Meta[common.MetaJobID],
		From:      a.from,
		To:        []string{recipient},
		Subject:   msg.Subject,
		TextBody:  msg.Body,
		HTMLBody:  msg.HTML,
		Headers:   headers,
	}
}

func (a *Adapter) successResponse(raw *emailprovider.RawResponse) *common.ProviderResponse {
	resp := &common.ProviderResponse{Status: common.StatusOK, Message: "sent"}
	if raw != nil {
		resp.Code = common.OptionalInt(raw.Code)
		resp.ProviderMessageID = raw.ID
		resp.Raw = common.TruncateRaw(raw.Body, a.maxRawChars)
		resp.Meta = timestampMeta(raw.Timestamp)
	}
	return resp
}

func (a *Adapter) errorResponse(raw *emailprovider.RawResponse, err error) *common.ProviderResponse {
	resp := &common.ProviderResponse{Message: err.Error()}
	code, ok := extractSMTPCode(err)
	if raw != nil {
		resp.ProviderMessageID = raw.ID
		resp.Raw = common.TruncateRaw(raw.Body, a.maxRawChars)
		resp.Meta = timestampMeta(raw.Timestamp)
		if raw.Code != 0 {
			code, ok = raw.Code, true
		}
	}
	if ok {
		resp.Code = common.OptionalInt(code)
		resp.ErrorCode = common.ErrorCodeString(code)
	}
	resp.Status = classify(err, code, ok)
	return resp
}

func classify(err error, code int, known bool) string {
	switch {
	case known && isPermanentCode(code):
		return common.StatusRejected
	case known && code >= 400:
		return common.StatusRetryable
	case common.IsTimeout(err):
		return common.StatusRetryable
	}
	return common.StatusUnknown
}

func timestampMeta(ts time.Time) map[string]string {
	if ts.IsZero() {
		return nil
	}
	return map[string]string{"provider_timestamp": ts.UTC().Format(time.RFC3339Nano)}
}

func extractSMTPCode(err error) (int, bool) {
	if err == nil {
		return 0, false
	}
	m := smtpErrPattern.FindStringSubmatch(err.Error())
	if len(m) != 2 {
		return 0, false
	}
	code, convErr := strconv.Atoi(m[1])
	return code, convErr == nil
}

func isPermanentCode(code int) bool {
	switch code {
	case 530, 535, 550, 551, 553, 554:
		return true
	}
	return false
}
