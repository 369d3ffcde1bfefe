package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/example/profile-provisioning/internal/util"
)

// Config captures all runtime configuration for the provisioning service.
// The struct is built once at startup and handed to constructors explicitly;
// nothing in the codebase reads the environment after Load returns.
type Config struct {
	App     AppConfig
	Queue   QueueConfig
	Retry   RetryConfig
	Webhook WebhookConfig
	Redis   RedisConfig
	SMTP    SMTPConfig
	Kafka   KafkaConfig
	Gateway GatewayConfig
}

// AppConfig contains generic application level settings.
type AppConfig struct {
	Env      string
	Port     int
	LogLevel string
	// PublicBaseURL is the externally reachable base URL of this service.
	// The queue delivers jobs back to {PublicBaseURL}/api/processors/{name}.
	PublicBaseURL string
}

// QueueConfig points at the durable queue service that performs HTTP
// delivery of published jobs.
type QueueConfig struct {
	BaseURL string
	Token   string
	// DedupWindowSeconds is the bucket size used when deriving deduplication
	// keys for re-published jobs.
	DedupWindowSeconds int
}

// RetryConfig controls the job processor retry and timeout behaviour.
type RetryConfig struct {
	MaxRetries    int
	JobTimeoutMS  int
	MaxConcurrent int
}

// WebhookConfig holds the payment webhook verification settings.
type WebhookConfig struct {
	Secret           string
	ToleranceSeconds int
	DedupTTLSeconds  int
}

// RedisConfig describes the best-effort cache backend.
type RedisConfig struct {
	Addr       string
	Password   string
	DB         int
	TTLSeconds int
}

// SMTPConfig stores SMTP credentials for notification email delivery.
type SMTPConfig struct {
	Host string
	Port int
	User string
	Pass string
	From string
}

// KafkaConfig configures the optional lifecycle-event audit stream. Leaving
// Brokers empty disables event publishing entirely.
type KafkaConfig struct {
	Brokers         []string
	EventsTopic     string
	DeadLetterTopic string
}

// GatewayConfig points at the payment gateway used to resolve webhook
// notifications into payment details.
type GatewayConfig struct {
	BaseURL string
	Token   string
}

// Load reads environment variables, applies defaults, validates required
// values and returns a populated Config instance.
func Load() (*Config, error) {
	_ = godotenv.Load()

	ldr := &envLoader{}

	cfg := &Config{}
	cfg.App.Env = ldr.getString("APP_ENV", "development", false)
	cfg.App.Port = ldr.getInt("APP_PORT", 8080, false)
	cfg.App.LogLevel = ldr.getString("LOG_LEVEL", "info", false)
	cfg.App.PublicBaseURL = ldr.getURL("PUBLIC_BASE_URL", true)

	cfg.Queue.BaseURL = ldr.getURL("QUEUE_BASE_URL", true)
	cfg.Queue.Token = ldr.getString("QUEUE_TOKEN", "", true)
	cfg.Queue.DedupWindowSeconds = ldr.getInt("QUEUE_DEDUP_WINDOW_SECONDS", 60, false)

	cfg.Retry.MaxRetries = ldr.getInt("JOB_MAX_RETRIES", 3, false)
	cfg.Retry.JobTimeoutMS = ldr.getInt("JOB_TIMEOUT_MS", 30000, false)
	cfg.Retry.MaxConcurrent = ldr.getInt("JOB_MAX_CONCURRENT", 10, false)

	cfg.Webhook.Secret = ldr.getString("WEBHOOK_SECRET", "", true)
	cfg.Webhook.ToleranceSeconds = ldr.getInt("WEBHOOK_TOLERANCE_SECONDS", 300, false)
	cfg.Webhook.DedupTTLSeconds = ldr.getInt("WEBHOOK_DEDUP_TTL_SECONDS", 3600, false)

	cfg.Redis.Addr = ldr.getString("REDIS_ADDR", "", false)
	cfg.Redis.Password = ldr.getString("REDIS_PASSWORD", "", false)
	cfg.Redis.DB = ldr.getInt("REDIS_DB", 0, false)
	cfg.Redis.TTLSeconds = ldr.getInt("CACHE_TTL_SECONDS", 3600, false)

	cfg.SMTP.Host = ldr.getString("SMTP_HOST", "", false)
	cfg.SMTP.Port = ldr.getInt("SMTP_PORT", 587, false)
	cfg.SMTP.User = ldr.getString("SMTP_USER", "", false)
	cfg.SMTP.Pass = ldr.getString("SMTP_PASS", "", false)
	cfg.SMTP.From = ldr.getString("SMTP_FROM", "", false)

	cfg.Kafka.Brokers = ldr.getStringSlice("KAFKA_BROKERS", false)
	cfg.Kafka.EventsTopic = ldr.getString("KAFKA_JOB_EVENTS_TOPIC", "provisioning.job-events", false)
	cfg.Kafka.DeadLetterTopic = ldr.getString("KAFKA_DEAD_LETTER_TOPIC", "provisioning.dead-letter", false)

	cfg.Gateway.BaseURL = ldr.getURL("PAYMENT_GATEWAY_BASE_URL", false)
	cfg.Gateway.Token = ldr.getString("PAYMENT_GATEWAY_TOKEN", "", false)

	if err := ldr.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// envLoader accumulates validation failures while reading the environment so
// a single error reports every misconfigured key at once.
type envLoader struct {
	errs []string
}

func (l *envLoader) validate() error {
	if len(l.errs) == 0 {
		return nil
	}
	return fmt.Errorf("config: %s", strings.Join(l.errs, "; "))
}

func (l *envLoader) getString(key, def string, required bool) string {
	if val, ok := os.LookupEnv(key); ok {
		val = strings.TrimSpace(val)
		if val == "" && required {
			l.addError(fmt.Sprintf("%s is required", key))
			return def
		}
		if val == "" {
			return def
		}
		return val
	}
	if required {
		l.addError(fmt.Sprintf("%s is required", key))
	}
	return def
}

func (l *envLoader) getInt(key string, def int, required bool) int {
	raw := l.getString(key, "", required)
	if raw == "" {
		return def
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		l.addError(fmt.Sprintf("%s must be a valid integer", key))
		return def
	}
	return parsed
}

func (l *envLoader) getURL(key string, required bool) string {
	raw := l.getString(key, "", required)
	if raw == "" {
		return ""
	}
	validated, err := util.ValidateHTTPURL(raw)
	if err != nil {
		l.addError(fmt.Sprintf("%s must be a valid http(s) url", key))
		return ""
	}
	return validated
}

func (l *envLoader) getStringSlice(key string, required bool) []string {
	raw := l.getString(key, "", required)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	var out []string
	for _, p := range parts {
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

func (l *envLoader) addError(err string) {
	l.errs = append(l.errs, err)
}
