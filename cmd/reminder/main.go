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

	"go.uber.org/zap"

	"github.com/lalithlochan/nimbus-remind/internal/api"
	"github.com/lalithlochan/nimbus-remind/internal/circuitbreaker"
	"github.com/lalithlochan/nimbus-remind/internal/config"
	"github.com/lalithlochan/nimbus-remind/internal/db"
	"github.com/lalithlochan/nimbus-remind/internal/notify"
	"github.com/lalithlochan/nimbus-remind/internal/observ"
	"github.com/lalithlochan/nimbus-remind/internal/pump"
	"github.com/lalithlochan/nimbus-remind/internal/redis"
	"github.com/lalithlochan/nimbus-remind/internal/reminder"
	"github.com/lalithlochan/nimbus-remind/internal/sqs"
	"github.com/lalithlochan/nimbus-remind/internal/templates"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger, err := observ.NewLogger(observ.Options{
		Env:   cfg.Env,
		Level: cfg.LogLevel,
		File:  cfg.LogFile,
	})
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting nimbus reminder service",
		zap.String("env", cfg.Env),
		zap.Int("port", cfg.Port),
		zap.Strings("queues", cfg.QueueURLs),
		zap.String("mail_transport", cfg.MailTransport),
	)

	ctx := context.Background()

	registry, err := templates.New(templates.Options{
		DefaultLocale:    cfg.DefaultLocale,
		SupportedLocales: cfg.SupportedLocales,
	})
	if err != nil {
		return fmt.Errorf("failed to load templates: %w", err)
	}

	transport, err := newMailTransport(ctx, cfg, logger)
	if err != nil {
		return err
	}

	breakers := circuitbreaker.NewRegistry()
	breaker := circuitbreaker.New(circuitbreaker.Config{
		Name:                cfg.MailTransport,
		MaxFailures:         cfg.BreakerMaxFailures,
		RecoveryTimeout:     cfg.BreakerRecovery,
		HalfOpenMaxRequests: 1,
	}, logger)
	breakers.Add(breaker)
	notifier := circuitbreaker.NewProtectedNotifier(transport, breaker, logger)

	// Redis backs the per-message lease and the recipient throttle. Both
	// are optional, so an unreachable server only disables them.
	var redisClient *redis.Client
	if cfg.LeaseEnabled || cfg.ThrottleLimit > 0 {
		redisClient, err = redis.New(ctx, redis.Config{
			Host:      cfg.RedisHost,
			Port:      cfg.RedisPort,
			Password:  cfg.RedisPassword,
			DB:        cfg.RedisDB,
			KeyPrefix: cfg.RedisKeyPrefix,
		}, logger)
		if err != nil {
			logger.Warn("redis unavailable, lease and throttle disabled",
				zap.Error(err),
				zap.String("host", cfg.RedisHost),
			)
			redisClient = nil
		} else {
			defer redisClient.Close()
		}
	}

	opts := reminder.DispatcherOptions{
		DefaultLocale: cfg.DefaultLocale,
		MaxAge:        cfg.ReminderMaxAge,
	}
	if redisClient != nil && cfg.ThrottleLimit > 0 {
		opts.Throttle = redis.NewThrottle(redisClient, logger, redis.ThrottleConfig{
			Limit:  cfg.ThrottleLimit,
			Window: cfg.ThrottleWindow,
		})
	}

	if cfg.VerifyCheckEnabled {
		database, err := db.New(ctx, db.Config{
			Host:     cfg.DBHost,
			Port:     cfg.DBPort,
			User:     cfg.DBUser,
			Password: cfg.DBPassword,
			Database: cfg.DBName,
			SSLMode:  cfg.DBSSLMode,
		}, logger)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer database.Close()

		accounts := db.NewAccountsRepository(database.Pool(), logger)
		opts.Verified = reminder.VerificationFunc(accounts.IsVerified)

		logger.Info("verification check enabled",
			zap.String("host", cfg.DBHost),
			zap.String("database", cfg.DBName),
		)
	}

	links := reminder.LinkBuilder{
		VerificationURL: cfg.VerificationURL,
		SupportURL:      cfg.SupportURL,
		PrivacyURL:      cfg.PrivacyURL,
	}
	dispatcher := reminder.NewDispatcher(registry, notifier, links, opts, logger)

	queueClient, err := sqs.New(ctx, sqs.Config{
		Region:            cfg.QueueRegion,
		QueueURLs:         cfg.QueueURLs,
		Endpoint:          cfg.QueueEndpoint,
		VisibilityTimeout: int32(cfg.VisibilityTimeout),
		MaxMessages:       int32(cfg.MaxMessagesPerPoll),
		WaitTimeSeconds:   int32(cfg.PollWaitSeconds),
		RetryBackoff:      cfg.RetryBackoff,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to create queue client: %w", err)
	}

	policy := pump.KeepOnFailure
	if cfg.DeleteOnFailure {
		policy = pump.DeleteAlways
	}
	pumpCfg := pump.Config{
		QueueURLs:         cfg.QueueURLs,
		VisibilityTimeout: int32(cfg.VisibilityTimeout),
		MaxInFlight:       cfg.MaxInFlight,
		DeletePolicy:      policy,
		HandleTimeout:     cfg.HandleTimeout,
		MaxReceiveCount:   cfg.MaxReceiveCount,
	}
	if cfg.LeaseEnabled && redisClient != nil {
		pumpCfg.Lease = redis.NewLeaseService(redisClient, logger)
	}

	consumer := pump.New(queueClient, reminder.JSONDecoder, dispatcher, pumpCfg, logger)

	pumpCtx, pumpCancel := context.WithCancel(ctx)
	defer pumpCancel()

	if err := consumer.Start(pumpCtx); err != nil {
		return fmt.Errorf("failed to start queue consumers: %w", err)
	}

	logger.Info("queue consumers started",
		zap.Int("max_in_flight", cfg.MaxInFlight),
		zap.String("delete_policy", policy.String()),
		zap.Bool("lease_enabled", pumpCfg.Lease != nil),
		zap.Bool("throttle_enabled", opts.Throttle != nil),
	)

	handler := api.NewHandler(logger, consumer, breakers)
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      api.NewRouter(handler, logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("admin server listening", zap.String("addr", srv.Addr))
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		pumpCancel()
		return fmt.Errorf("server error: %w", err)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))
	}

	// Stop polling first and let in-flight reminders settle.
	pumpCancel()
	stopCtx, cancel := context.WithTimeout(context.Background(), cfg.HandleTimeout+5*time.Second)
	defer cancel()
	if err := consumer.Stop(stopCtx); err != nil {
		logger.Warn("queue consumers did not stop in time", zap.Error(err))
	}

	httpCtx, httpCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer httpCancel()
	if err := srv.Shutdown(httpCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		srv.Close()
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	logger.Info("reminder service stopped gracefully")
	return nil
}

func newMailTransport(ctx context.Context, cfg *config.Config, logger *zap.Logger) (notify.Notifier, error) {
	switch cfg.MailTransport {
	case "smtp":
		return notify.NewSMTPNotifier(notify.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			Secure:   cfg.SMTPSecure,
			StartTLS: cfg.SMTPStartTLS,
			From:     cfg.MailSender,
		}, logger), nil
	case "ses":
		n, err := notify.NewSESNotifier(ctx, notify.SESConfig{
			Region: cfg.SESRegion,
			From:   cfg.MailSender,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create SES notifier: %w", err)
		}
		return n, nil
	case "log":
		return notify.NewLogNotifier(cfg.MailSender, logger), nil
	default:
		return nil, fmt.Errorf("unknown mail transport %q", cfg.MailTransport)
	}
}
