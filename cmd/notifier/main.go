package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/workflow-notifier/internal/adapters/chat"
	common "github.com/example/workflow-notifier/internal/adapters/common"
	"github.com/example/workflow-notifier/internal/adapters/email"
	"github.com/example/workflow-notifier/internal/adapters/sms"
	"github.com/example/workflow-notifier/internal/api"
	"github.com/example/workflow-notifier/internal/config"
	"github.com/example/workflow-notifier/internal/dispatch"
	"github.com/example/workflow-notifier/internal/kafka"
	"github.com/example/workflow-notifier/internal/lifecycle"
	"github.com/example/workflow-notifier/internal/logger"
	"github.com/example/workflow-notifier/internal/models"
	"github.com/example/workflow-notifier/internal/notification"
	"github.com/example/workflow-notifier/internal/providers/factory"
	"github.com/example/workflow-notifier/internal/ratelimit"
	"github.com/example/workflow-notifier/internal/render"
	"github.com/example/workflow-notifier/internal/store"
	"github.com/example/workflow-notifier/internal/workflow"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		fail("config load", err)
	}

	baseLogger, err := logger.New(cfg.App.Env, cfg.App.LogLevel)
	if err != nil {
		fail("logger init", err)
	}
	log := *baseLogger

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal().Err(err).Msg("notifier terminated with error")
	}
}

func run(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {
	db, err := store.Open(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close store")
		}
	}()

	renderer, err := newRenderer(cfg.Render, log)
	if err != nil {
		return err
	}

	adapters, err := newAdapters(cfg.Providers, log)
	if err != nil {
		return err
	}

	var (
		statusPublisher  dispatch.StatusPublisher  = dispatch.NewLogPublisher(log)
		deadJobPublisher dispatch.DeadJobPublisher = dispatch.NewLogPublisher(log)
		producer         *kafka.Producer
	)
	if cfg.Kafka.Enabled() {
		producer, err = kafka.NewProducer(cfg.Kafka.Brokers, log)
		if err != nil {
			return fmt.Errorf("create kafka producer: %w", err)
		}
		defer func() {
			if err := producer.Close(); err != nil {
				log.Error().Err(err).Msg("failed to close kafka producer")
			}
		}()
		audit := kafka.NewAuditPublisher(producer, cfg.Topics.Status, cfg.Topics.DeadJob, log)
		statusPublisher, deadJobPublisher = audit, audit
	}

	gates := ratelimit.NewRegistry(cfg.Channels)
	dispatchGates := make(map[models.Channel]dispatch.Gate, len(adapters))
	for channel := range adapters {
		g, err := gates.Gate(channel)
		if err != nil {
			return err
		}
		dispatchGates[channel] = g
	}

	dispatcher, err := dispatch.NewDispatcher(dispatch.Config{
		MaxAttempts:      cfg.Retry.MaxAttempts,
		BaseBackoff:      cfg.Retry.BaseBackoff,
		MaxBackoff:       cfg.Retry.MaxBackoff,
		RateLimitBackoff: cfg.Retry.RateLimitBackoff,
		ProviderTimeout:  cfg.Retry.ProviderTimeout,
		RefillInterval:   cfg.Retry.RefillInterval,
		Channels: map[models.Channel]dispatch.ChannelConfig{
			models.ChannelEmail: {Workers: cfg.Channels.Email.Workers, QueueSize: cfg.Channels.Email.QueueSize},
			models.ChannelSMS:   {Workers: cfg.Channels.SMS.Workers, QueueSize: cfg.Channels.SMS.QueueSize},
			models.ChannelChat:  {Workers: cfg.Channels.Chat.Workers, QueueSize: cfg.Channels.Chat.QueueSize},
		},
	}, dispatch.Dependencies{
		Store:            db,
		Renderer:         renderer,
		Adapters:         adapters,
		Gates:            dispatchGates,
		StatusPublisher:  statusPublisher,
		DeadJobPublisher: deadJobPublisher,
		Logger:           log,
	})
	if err != nil {
		return fmt.Errorf("create dispatcher: %w", err)
	}

	notifications, err := notification.NewService(dispatcher, renderer, log)
	if err != nil {
		return err
	}

	rules, err := workflow.NewRuleService(db, log)
	if err != nil {
		return err
	}
	if err := seedRules(ctx, cfg.Rules, rules); err != nil {
		return err
	}

	engine, err := workflow.NewEngine(workflow.Dependencies{
		Rules:      db,
		Notifier:   notifications,
		Contacts:   db,
		Executions: db,
		Logger:     log,
	})
	if err != nil {
		return err
	}

	if err := dispatcher.Start(ctx); err != nil {
		return fmt.Errorf("start dispatcher: %w", err)
	}
	defer dispatcher.Stop()

	if cfg.Lifecycle.Enabled {
		keys, err := lifecycle.NewManager(lifecycle.Config{
			Interval:     cfg.Lifecycle.Interval,
			WarningHours: cfg.Lifecycle.WarningHours,
			BatchSize:    cfg.Lifecycle.BatchSize,
		}, lifecycle.Dependencies{
			Keys:     db,
			Contacts: db,
			Warner:   notifications,
			Events:   engine,
			Logger:   log,
		})
		if err != nil {
			return err
		}
		if err := keys.Start(ctx); err != nil {
			return err
		}
		defer keys.Stop()
	}

	checks := map[string]api.HealthCheck{"store": db.Ping}
	errCh := make(chan error, 2)

	if cfg.Kafka.Enabled() {
		consumer, err := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.ConsumerGroup, log)
		if err != nil {
			return fmt.Errorf("create kafka consumer: %w", err)
		}
		defer func() {
			if err := consumer.Close(); err != nil {
				log.Error().Err(err).Msg("failed to close kafka consumer")
			}
		}()
		checks["kafka_consumer"] = readiness("consumer", consumer.IsReady)
		checks["kafka_producer"] = readiness("producer", producer.IsReady)

		go func() {
			if err := consumer.Run(ctx, []string{cfg.Topics.Events}, kafka.EventHandler(engine, log)); err != nil {
				errCh <- fmt.Errorf("event consumer: %w", err)
			}
		}()
		log.Info().Str("topic", cfg.Topics.Events).Msg("event ingestion from kafka enabled")
	}

	server, err := api.NewServer(api.Dependencies{
		Events:        engine,
		Rules:         rules,
		Notifications: notifications,
		Queue:         dispatcher,
		Contacts:      db,
		HealthChecks:  checks,
		CORSOrigins:   cfg.HTTP.CORSOrigins,
		Logger:        log,
	})
	if err != nil {
		return err
	}
	httpServer := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()
	log.Info().Str("addr", cfg.HTTP.Addr).Msg("workflow notifier started")

	var runErr error
	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case runErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown failed")
	}
	return runErr
}

func newRenderer(cfg config.RenderConfig, log zerolog.Logger) (*render.Renderer, error) {
	renderer, err := render.New(cfg.Locale, cfg.Currency,
		render.WithSMSBudget(cfg.SMSMaxChars),
		render.WithGlobals(map[string]string{
			"companyName":  cfg.CompanyName,
			"supportEmail": cfg.SupportEmail,
			"portalURL":    cfg.PortalURL,
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("create renderer: %w", err)
	}
	if cfg.TemplatesFile != "" {
		n, err := renderer.LoadFile(cfg.TemplatesFile)
		if err != nil {
			return nil, fmt.Errorf("load templates: %w", err)
		}
		log.Info().Int("templates", n).Str("file", cfg.TemplatesFile).Msg("template overrides loaded")
	}
	return renderer, nil
}

func newAdapters(cfg config.ProviderConfig, log zerolog.Logger) (map[models.Channel]common.Adapter, error) {
	emailProvider, err := factory.Email(cfg, logger.Component(log, "email_provider"))
	if err != nil {
		return nil, err
	}
	smsProvider, err := factory.SMS(cfg, logger.Component(log, "sms_provider"))
	if err != nil {
		return nil, err
	}
	chatProvider, err := factory.Chat(cfg, logger.Component(log, "chat_provider"))
	if err != nil {
		return nil, err
	}

	emailAdapter, err := email.NewAdapter(emailProvider, logger.Component(log, "email_adapter"),
		email.WithFrom(cfg.SMTP.From))
	if err != nil {
		return nil, err
	}
	smsAdapter, err := sms.NewAdapter(smsProvider, logger.Component(log, "sms_adapter"),
		sms.WithStatusCallback(cfg.Twilio.StatusCallback))
	if err != nil {
		return nil, err
	}
	chatAdapter, err := chat.NewAdapter(chatProvider, logger.Component(log, "chat_adapter"),
		chat.WithStatusCallback(cfg.Twilio.StatusCallback))
	if err != nil {
		return nil, err
	}

	return map[models.Channel]common.Adapter{
		models.ChannelEmail: emailAdapter,
		models.ChannelSMS:   smsAdapter,
		models.ChannelChat:  chatAdapter,
	}, nil
}

func seedRules(ctx context.Context, cfg config.RulesConfig, rules *workflow.RuleService) error {
	if cfg.LoadDefaults {
		if _, err := rules.Seed(ctx, workflow.DefaultRules(), false); err != nil {
			return fmt.Errorf("seed default rules: %w", err)
		}
	}
	if cfg.File == "" {
		return nil
	}
	fromFile, err := workflow.LoadRulesFile(cfg.File)
	if err != nil {
		return err
	}
	if _, err := rules.Seed(ctx, fromFile, true); err != nil {
		return fmt.Errorf("seed rules from %s: %w", cfg.File, err)
	}
	return nil
}

func readiness(name string, ready func() bool) api.HealthCheck {
	return func(context.Context) error {
		if !ready() {
			return fmt.Errorf("%s not ready", name)
		}
		return nil
	}
}

func fail(stage string, err error) {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	logger.Fatal().Err(err).Str("stage", stage).Msg("workflow notifier init failed")
}
