package config

import (
	"strings"
	"testing"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("PUBLIC_BASE_URL", "https://profiles.example.com")
	t.Setenv("QUEUE_BASE_URL", "https://queue.example.com")
	t.Setenv("QUEUE_TOKEN", "qst_token")
	t.Setenv("WEBHOOK_SECRET", "whsec_secret")
}

func TestLoadDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}

	if cfg.App.Env != "development" || cfg.App.Port != 8080 || cfg.App.LogLevel != "info" {
		t.Fatalf("unexpected app defaults: %+v", cfg.App)
	}
	if cfg.Retry.MaxRetries != 3 || cfg.Retry.JobTimeoutMS != 30000 || cfg.Retry.MaxConcurrent != 10 {
		t.Fatalf("unexpected retry defaults: %+v", cfg.Retry)
	}
	if cfg.Webhook.ToleranceSeconds != 300 {
		t.Fatalf("unexpected webhook tolerance: %d", cfg.Webhook.ToleranceSeconds)
	}
	if cfg.Queue.DedupWindowSeconds != 60 {
		t.Fatalf("unexpected dedup window: %d", cfg.Queue.DedupWindowSeconds)
	}
	if cfg.Kafka.EventsTopic != "provisioning.job-events" || cfg.Kafka.DeadLetterTopic != "provisioning.dead-letter" {
		t.Fatalf("unexpected kafka defaults: %+v", cfg.Kafka)
	}
}

func TestLoadReportsEveryMissingKey(t *testing.T) {
	t.Setenv("PUBLIC_BASE_URL", "")
	t.Setenv("QUEUE_BASE_URL", "")
	t.Setenv("QUEUE_TOKEN", "")
	t.Setenv("WEBHOOK_SECRET", "")

	_, err := Load()
	if err == nil {
		t.Fatalf("expected error for missing required keys")
	}
	for _, key := range []string{"PUBLIC_BASE_URL", "QUEUE_BASE_URL", "QUEUE_TOKEN", "WEBHOOK_SECRET"} {
		if !strings.Contains(err.Error(), key) {
			t.Fatalf("expected %s in error, got %v", key, err)
		}
	}
}

func TestLoadParsesOverrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("APP_ENV", "production")
	t.Setenv("APP_PORT", "9090")
	t.Setenv("JOB_MAX_RETRIES", "5")
	t.Setenv("KAFKA_BROKERS", "broker-1:9092, broker-2:9092")
	t.Setenv("REDIS_ADDR", "localhost:6379")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}

	if cfg.App.Env != "production" || cfg.App.Port != 9090 {
		t.Fatalf("unexpected app overrides: %+v", cfg.App)
	}
	if cfg.Retry.MaxRetries != 5 {
		t.Fatalf("unexpected retry override: %d", cfg.Retry.MaxRetries)
	}
	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[1] != "broker-2:9092" {
		t.Fatalf("unexpected brokers: %v", cfg.Kafka.Brokers)
	}
	if cfg.Redis.Addr != "localhost:6379" {
		t.Fatalf("unexpected redis addr: %s", cfg.Redis.Addr)
	}
}

func TestLoadRejectsMalformedInt(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("APP_PORT", "not-a-port")

	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "APP_PORT") {
		t.Fatalf("expected APP_PORT error, got %v", err)
	}
}
