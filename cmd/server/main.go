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

	"github.com/example/profile-provisioning/internal/cache"
	"github.com/example/profile-provisioning/internal/config"
	"github.com/example/profile-provisioning/internal/email"
	"github.com/example/profile-provisioning/internal/events"
	"github.com/example/profile-provisioning/internal/handlers"
	"github.com/example/profile-provisioning/internal/jobs"
	"github.com/example/profile-provisioning/internal/logger"
	"github.com/example/profile-provisioning/internal/payments"
	"github.com/example/profile-provisioning/internal/processor"
	"github.com/example/profile-provisioning/internal/qrcode"
	"github.com/example/profile-provisioning/internal/queue"
	"github.com/example/profile-provisioning/internal/server"
	"github.com/example/profile-provisioning/internal/storage"
	"github.com/example/profile-provisioning/internal/webhook"
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
	log := baseLogger.With().Str("service", "provisioning-server").Logger()

	var profileCache cache.Cache = cache.Noop{}
	if cfg.Redis.Addr != "" {
		redisCache, err := cache.NewRedisCache(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, log.With().Str("component", "redis-cache").Logger())
		if err != nil {
			log.Warn().Err(err).Msg("redis unavailable, running without cache")
		} else {
			profileCache = redisCache
			defer redisCache.Close()
		}
	}

	var eventsPublisher *events.Publisher
	if len(cfg.Kafka.Brokers) > 0 {
		producer, err := events.NewKafkaProducer(cfg.Kafka.Brokers, log.With().Str("component", "kafka-producer").Logger())
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create kafka producer")
		}
		defer func() {
			if err := producer.Close(); err != nil {
				log.Error().Err(err).Msg("failed to close kafka producer")
			}
		}()
		eventsPublisher = events.NewPublisher(producer, cfg.Kafka.EventsTopic, cfg.Kafka.DeadLetterTopic, log)
	}

	var sender email.Sender
	if cfg.SMTP.Host != "" {
		sender, err = email.NewSMTPSender(cfg.SMTP, log.With().Str("component", "smtp-sender").Logger())
		if err != nil {
			log.Fatal().Err(err).Msg("failed to initialise smtp sender")
		}
	} else {
		log.Warn().Msg("smtp not configured, email delivery is mocked")
		sender = email.NewMockSender()
	}

	var gateway payments.Gateway
	if cfg.Gateway.BaseURL != "" {
		gateway, err = payments.NewHTTPGateway(cfg.Gateway.BaseURL, cfg.Gateway.Token, log.With().Str("component", "payment-gateway").Logger())
		if err != nil {
			log.Fatal().Err(err).Msg("failed to initialise payment gateway")
		}
	} else {
		log.Fatal().Msg("PAYMENT_GATEWAY_BASE_URL is required to resolve webhook notifications")
	}

	queueClient, err := queue.NewHTTPClient(cfg.Queue.BaseURL, cfg.Queue.Token, log.With().Str("component", "queue-client").Logger())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create queue client")
	}
	publisher, err := queue.NewPublisher(queueClient, cfg.App.PublicBaseURL, time.Duration(cfg.Queue.DedupWindowSeconds)*time.Second, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create job publisher")
	}

	registry, err := handlers.NewRegistry(handlers.Dependencies{
		Store:         storage.NewMemoryStore(),
		Cache:         profileCache,
		Email:         sender,
		QR:            qrcode.NewImageGenerator(0),
		Gateway:       gateway,
		Publisher:     publisher,
		Logger:        log,
		PublicBaseURL: cfg.App.PublicBaseURL,
		CacheTTL:      time.Duration(cfg.Redis.TTLSeconds) * time.Second,
		MaxRetries:    cfg.Retry.MaxRetries,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build job handlers")
	}

	backoff := processor.NewBackoffPolicy()
	processors := make(map[jobs.JobType]*processor.Processor, len(registry))
	for jobType, handler := range registry {
		proc, err := processor.New(processor.Config{
			Name:              string(jobType) + "-processor",
			DefaultTimeout:    time.Duration(cfg.Retry.JobTimeoutMS) * time.Millisecond,
			DefaultMaxRetries: cfg.Retry.MaxRetries,
		}, processor.Dependencies{
			Handler: handler,
			Backoff: backoff,
			Logger:  log,
		})
		if err != nil {
			log.Fatal().Err(err).Str("job_type", string(jobType)).Msg("failed to build processor")
		}
		processors[jobType] = proc
	}

	verifier := webhook.NewVerifier(cfg.Webhook.Secret, time.Duration(cfg.Webhook.ToleranceSeconds)*time.Second)
	webhookHandler := webhook.NewHandler(verifier, publisher, profileCache, log,
		time.Duration(cfg.Webhook.DedupTTLSeconds)*time.Second, cfg.Retry.MaxRetries)

	dispatcher := server.NewDispatcher(processors, publisher, eventsPublisher, log)
	router := server.NewRouter(dispatcher, webhookHandler, log, server.Options{
		Env:           cfg.App.Env,
		MaxConcurrent: int64(cfg.Retry.MaxConcurrent),
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.App.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	log.Info().Int("port", cfg.App.Port).Msg("provisioning server started")

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("http server terminated with error")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
}

func fail(stage string, err error) {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	logger.Fatal().Err(err).Str("stage", stage).Msg("provisioning server init failed")
}
