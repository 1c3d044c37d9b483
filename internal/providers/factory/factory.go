// Package factory builds the channel providers selected by configuration.
package factory

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/example/workflow-notifier/internal/config"
	chatprovider "github.com/example/workflow-notifier/internal/providers/chat"
	emailprovider "github.com/example/workflow-notifier/internal/providers/email"
	smsprovider "github.com/example/workflow-notifier/internal/providers/sms"
)

// Email constructs the configured email provider: "smtp" or "mock".
func Email(cfg config.ProviderConfig, logger zerolog.Logger) (emailprovider.Provider, error) {
	switch backend := normalize(cfg.EmailProvider); backend {
	case "smtp":
		p, err := emailprovider.NewSMTPProvider(cfg.SMTP, logger)
		if err != nil {
			return nil, fmt.Errorf("factory: smtp provider init: %w", err)
		}
		logInit(logger, "email", backend)
		return p, nil
	case "mock":
		logInit(logger, "email", backend)
		return emailprovider.NewMockProvider(logger), nil
	default:
		return nil, fmt.Errorf("factory: unsupported email provider backend %q", cfg.EmailProvider)
	}
}

// SMS constructs the configured SMS provider: "twilio" or "mock".
func SMS(cfg config.ProviderConfig, logger zerolog.Logger) (smsprovider.Provider, error) {
	switch backend := normalize(cfg.SMSProvider); backend {
	case "twilio":
		p, err := smsprovider.NewTwilioProvider(cfg.Twilio, logger)
		if err != nil {
			return nil, fmt.Errorf("factory: twilio sms provider init: %w", err)
		}
		logInit(logger, "sms", backend)
		return p, nil
	case "mock":
		logInit(logger, "sms", backend)
		return smsprovider.NewMockProvider(logger), nil
	default:
		return nil, fmt.Errorf("factory: unsupported sms provider backend %q", cfg.SMSProvider)
	}
}

// Chat constructs the configured chat provider: "twilio" or "mock".
func Chat(cfg config.ProviderConfig, logger zerolog.Logger) (chatprovider.Provider, error) {
	switch backend := normalize(cfg.ChatProvider); backend {
	case "twilio":
		p, err := chatprovider.NewTwilioProvider(cfg.Twilio, logger)
		if err != nil {
			return nil, fmt.Errorf("factory: twilio chat provider init: %w", err)
		}
		logInit(logger, "chat", backend)
		return p, nil
	case "mock":
		logInit(logger, "chat", backend)
		return chatprovider.NewMockProvider(logger), nil
	default:
		return nil, fmt.Errorf("factory: unsupported chat provider backend %q", cfg.ChatProvider)
	}
}

func logInit(logger zerolog.Logger, channel, backend string) {
	logger.Info().
		Str("channel", channel).
		Str("backend", backend).
		Msg("provider initialised")
}

func normalize(value string) string {
	value = strings.TrimSpace(strings.ToLower(value))
	if value == "" {
		return "mock"
	}
	return value
}
