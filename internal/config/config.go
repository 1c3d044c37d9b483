package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config captures all runtime configuration for the notifier process.
type Config struct {
	App       AppConfig
	Kafka     KafkaConfig
	Topics    TopicConfig
	Store     StoreConfig
	Retry     RetryConfig
	Channels  ChannelsConfig
	Render    RenderConfig
	Lifecycle LifecycleConfig
	Rules     RulesConfig
	Providers ProviderConfig
	HTTP      HTTPConfig
}

// AppConfig contains generic application level settings.
type AppConfig struct {
	Env      string
	LogLevel string
}

// KafkaConfig defines broker information. An empty broker list disables the
// Kafka ingestion consumer and audit publishers.
type KafkaConfig struct {
	Brokers       []string
	ConsumerGroup string
}

// Enabled reports whether any broker is configured.
func (k KafkaConfig) Enabled() bool { return len(k.Brokers) > 0 }

// TopicConfig names the topics the process reads from and writes to.
type TopicConfig struct {
	Events  string
	Status  string
	DeadJob string
}

// StoreConfig points at the SQLite database file.
type StoreConfig struct {
	Path string
}

// RetryConfig controls dispatch retry and backoff behaviour.
type RetryConfig struct {
	MaxAttempts      int
	BaseBackoff      time.Duration
	MaxBackoff       time.Duration
	RateLimitBackoff time.Duration
	ProviderTimeout  time.Duration
	RefillInterval   time.Duration
}

// ChannelConfig sizes the worker pool and limits of one channel.
type ChannelConfig struct {
	Workers       int
	RatePerMinute int
	Burst         int
	MaxInFlight   int
	QueueSize     int
}

// ChannelsConfig holds the per channel settings.
type ChannelsConfig struct {
	Email ChannelConfig
	SMS   ChannelConfig
	Chat  ChannelConfig
}

// RenderConfig controls template rendering.
type RenderConfig struct {
	Locale        string
	Currency      string
	SMSMaxChars   int
	TemplatesFile string
	CompanyName   string
	SupportEmail  string
	PortalURL     string
}

// LifecycleConfig controls the client key lifecycle job.
type LifecycleConfig struct {
	Enabled      bool
	Interval     time.Duration
	WarningHours []int
	BatchSize    int
}

// RulesConfig points at an optional rule seed file.
type RulesConfig struct {
	File         string
	LoadDefaults bool
}

// SMTPConfig stores SMTP credentials for email delivery.
type SMTPConfig struct {
	Host string
	Port int
	User string
	Pass string
	From string
}

// TwilioConfig stores Twilio credentials for SMS and chat delivery.
type TwilioConfig struct {
	AccountSID     string
	AuthToken      string
	PhoneNumber    string
	WhatsAppNumber string
	StatusCallback string
}

// ProviderConfig selects and configures the channel provider backends.
type ProviderConfig struct {
	EmailProvider string
	SMSProvider   string
	ChatProvider  string
	SMTP          SMTPConfig
	Twilio        TwilioConfig
}

// HTTPConfig controls the admin API listener.
type HTTPConfig struct {
	Addr            string
	ShutdownTimeout time.Duration
	CORSOrigins     []string
}

// Load reads environment variables (and a local .env file when present),
// applies defaults, validates the result and returns a populated Config.
func Load() (*Config, error) {
	_ = godotenv.Load()

	ldr := &envLoader{}

	cfg := &Config{}
	cfg.App.Env = ldr.getString("APP_ENV", "development", false)
	cfg.App.LogLevel = ldr.getString("LOG_LEVEL", "info", false)

	cfg.Kafka.Brokers = ldr.getStringSlice("KAFKA_BROKERS", false)
	cfg.Kafka.ConsumerGroup = ldr.getString("EVENTS_CONSUMER_GROUP", "workflow-notifier", false)
	cfg.Topics.Events = ldr.getString("KAFKA_EVENTS_TOPIC", "domain.events", false)
	cfg.Topics.Status = ldr.getString("KAFKA_STATUS_TOPIC", "notifications.status", false)
	cfg.Topics.DeadJob = ldr.getString("KAFKA_DEAD_JOB_TOPIC", "notifications.dead", false)

	cfg.Store.Path = ldr.getString("STORE_PATH", "notifier.db", false)

	cfg.Retry.MaxAttempts = ldr.getInt("MAX_ATTEMPTS", 5, false)
	cfg.Retry.BaseBackoff = ldr.getDuration("BASE_BACKOFF", 2*time.Second, false)
	cfg.Retry.MaxBackoff = ldr.getDuration("MAX_BACKOFF", time.Minute, false)
	cfg.Retry.RateLimitBackoff = ldr.getDuration("RATE_LIMIT_BACKOFF", 250*time.Millisecond, false)
	cfg.Retry.ProviderTimeout = ldr.getDuration("PROVIDER_TIMEOUT", 30*time.Second, false)
	cfg.Retry.RefillInterval = ldr.getDuration("QUEUE_REFILL_INTERVAL", 2*time.Second, false)

	cfg.Channels.Email = ldr.getChannel("EMAIL", ChannelConfig{Workers: 4, RatePerMinute: 120, Burst: 20, MaxInFlight: 5, QueueSize: 256})
	cfg.Channels.SMS = ldr.getChannel("SMS", ChannelConfig{Workers: 2, RatePerMinute: 60, Burst: 5, MaxInFlight: 2, QueueSize: 256})
	cfg.Channels.Chat = ldr.getChannel("CHAT", ChannelConfig{Workers: 2, RatePerMinute: 80, Burst: 10, MaxInFlight: 3, QueueSize: 256})

	cfg.Render.Locale = ldr.getString("RENDER_LOCALE", "pt-BR", false)
	cfg.Render.Currency = ldr.getString("RENDER_CURRENCY", "BRL", false)
	cfg.Render.SMSMaxChars = ldr.getInt("SMS_MAX_CHARS", 160, false)
	cfg.Render.TemplatesFile = ldr.getString("TEMPLATES_FILE", "", false)
	cfg.Render.CompanyName = ldr.getString("COMPANY_NAME", "InterAlpha", false)
	cfg.Render.SupportEmail = ldr.getString("SUPPORT_EMAIL", "suporte@interalpha.com", false)
	cfg.Render.PortalURL = ldr.getString("PORTAL_URL", "http://localhost:3000", false)

	cfg.Lifecycle.Enabled = ldr.getBool("KEY_LIFECYCLE_ENABLED", true, false)
	cfg.Lifecycle.Interval = ldr.getDuration("KEY_LIFECYCLE_INTERVAL", time.Hour, false)
	cfg.Lifecycle.WarningHours = ldr.getIntSlice("KEY_WARNING_HOURS", []int{4, 1})
	cfg.Lifecycle.BatchSize = ldr.getInt("KEY_LIFECYCLE_BATCH_SIZE", 100, false)

	cfg.Rules.File = ldr.getString("RULES_FILE", "", false)
	cfg.Rules.LoadDefaults = ldr.getBool("RULES_LOAD_DEFAULTS", true, false)

	cfg.Providers.EmailProvider = ldr.getString("EMAIL_PROVIDER", "mock", false)
	cfg.Providers.SMSProvider = ldr.getString("SMS_PROVIDER", "mock", false)
	cfg.Providers.ChatProvider = ldr.getString("CHAT_PROVIDER", "mock", false)

	smtpRequired := strings.EqualFold(cfg.Providers.EmailProvider, "smtp")
	cfg.Providers.SMTP.Host = ldr.getString("SMTP_HOST", "", smtpRequired)
	cfg.Providers.SMTP.Port = ldr.getInt("SMTP_PORT", 587, false)
	cfg.Providers.SMTP.User = ldr.getString("SMTP_USER", "", false)
	cfg.Providers.SMTP.Pass = ldr.getString("SMTP_PASS", "", false)
	cfg.Providers.SMTP.From = ldr.getString("SMTP_FROM", "", smtpRequired)

	twilioRequired := strings.EqualFold(cfg.Providers.SMSProvider, "twilio") || strings.EqualFold(cfg.Providers.ChatProvider, "twilio")
	cfg.Providers.Twilio.AccountSID = ldr.getString("TWILIO_ACCOUNT_SID", "", twilioRequired)
	cfg.Providers.Twilio.AuthToken = ldr.getString("TWILIO_AUTH_TOKEN", "", twilioRequired)
	cfg.Providers.Twilio.PhoneNumber = ldr.getString("TWILIO_PHONE_NUMBER", "", false)
	cfg.Providers.Twilio.WhatsAppNumber = ldr.getString("TWILIO_WHATSAPP_NUMBER", "", false)
	cfg.Providers.Twilio.StatusCallback = ldr.getString("TWILIO_STATUS_CALLBACK_URL", "", false)

	cfg.HTTP.Addr = ldr.getString("HTTP_ADDR", ":8080", false)
	cfg.HTTP.ShutdownTimeout = ldr.getDuration("HTTP_SHUTDOWN_TIMEOUT", 10*time.Second, false)
	cfg.HTTP.CORSOrigins = ldr.getStringSlice("HTTP_CORS_ORIGINS", false)

	ldr.check(cfg.Retry.MaxAttempts >= 1, "MAX_ATTEMPTS must be >= 1")
	ldr.check(cfg.Render.SMSMaxChars > 3, "SMS_MAX_CHARS must be > 3")
	ldr.check(cfg.Lifecycle.Interval > 0, "KEY_LIFECYCLE_INTERVAL must be positive")
	ldr.check(cfg.Lifecycle.BatchSize > 0, "KEY_LIFECYCLE_BATCH_SIZE must be positive")

	if err := ldr.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

type envLoader struct {
	errs []string
}

func (l *envLoader) validate() error {
	if len(l.errs) == 0 {
		return nil
	}
	return fmt.Errorf("config validation failed: %s", strings.Join(l.errs, "; "))
}

func (l *envLoader) check(ok bool, msg string) {
	if !ok {
		l.addError(msg)
	}
}

// lookup returns the trimmed value and whether a non-empty value is set,
// recording an error when a required key is missing.
func (l *envLoader) lookup(key string, required bool) (string, bool) {
	if val, ok := os.LookupEnv(key); ok {
		val = strings.TrimSpace(val)
		if val != "" {
			return val, true
		}
	}
	if required {
		l.addError(fmt.Sprintf("%s is required", key))
	}
	return "", false
}

func (l *envLoader) getString(key, def string, required bool) string {
	if val, ok := l.lookup(key, required); ok {
		return val
	}
	return def
}

func (l *envLoader) getInt(key string, def int, required bool) int {
	val, ok := l.lookup(key, required)
	if !ok {
		return def
	}
	i, err := strconv.Atoi(val)
	if err != nil {
		l.addError(fmt.Sprintf("%s must be a valid integer", key))
		return def
	}
	return i
}

func (l *envLoader) getBool(key string, def bool, required bool) bool {
	val, ok := l.lookup(key, required)
	if !ok {
		return def
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		l.addError(fmt.Sprintf("%s must be a valid boolean", key))
		return def
	}
	return parsed
}

// getDuration accepts Go duration strings ("90s", "1h") or a bare number of
// seconds.
func (l *envLoader) getDuration(key string, def time.Duration, required bool) time.Duration {
	val, ok := l.lookup(key, required)
	if !ok {
		return def
	}
	if secs, err := strconv.Atoi(val); err == nil {
		return time.Duration(secs) * time.Second
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		l.addError(fmt.Sprintf("%s must be a valid duration", key))
		return def
	}
	return d
}

func (l *envLoader) getStringSlice(key string, required bool) []string {
	raw := l.getString(key, "", required)
	if raw == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(raw, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if required && len(out) == 0 {
		l.addError(fmt.Sprintf("%s must contain at least one entry", key))
	}
	return out
}

func (l *envLoader) getIntSlice(key string, def []int) []int {
	parts := l.getStringSlice(key, false)
	if len(parts) == 0 {
		return def
	}
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n <= 0 {
			l.addError(fmt.Sprintf("%s must be a list of positive integers", key))
			return def
		}
		out = append(out, n)
	}
	return out
}

func (l *envLoader) getChannel(prefix string, def ChannelConfig) ChannelConfig {
	c := ChannelConfig{
		Workers:       l.getInt(prefix+"_WORKERS", def.Workers, false),
		RatePerMinute: l.getInt(prefix+"_RATE_PER_MINUTE", def.RatePerMinute, false),
		Burst:         l.getInt(prefix+"_BURST", def.Burst, false),
		MaxInFlight:   l.getInt(prefix+"_MAX_IN_FLIGHT", def.MaxInFlight, false),
		QueueSize:     l.getInt(prefix+"_QUEUE_SIZE", def.QueueSize, false),
	}
	l.check(c.Workers >= 1, prefix+"_WORKERS must be >= 1")
	l.check(c.MaxInFlight >= 1, prefix+"_MAX_IN_FLIGHT must be >= 1")
	l.check(c.RatePerMinute >= 1, prefix+"_RATE_PER_MINUTE must be >= 1")
	l.check(c.QueueSize >= 1, prefix+"_QUEUE_SIZE must be >= 1")
	return c
}

func (l *envLoader) addError(err string) {
	l.errs = append(l.errs, err)
}
