package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"courtside/internal/adapter"
	"courtside/internal/api"
	"courtside/internal/booking"
	"courtside/internal/config"
	"courtside/internal/database"
	"courtside/internal/dispatcher"
	"courtside/internal/domain"
	"courtside/internal/events"
	"courtside/internal/export"
	"courtside/internal/logging"
	"courtside/internal/metrics"
	"courtside/internal/reaper"
	"courtside/internal/repository"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func(c io.Closer) { _ = c.Close() })(closer)
	}
	logger := logging.ForComponent(baseLogger, "main")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbLogger := logging.ForComponent(baseLogger, "database")
	db, err := database.NewDB(cfg.Database.Path, &dbLogger)
	if err != nil {
		return err
	}
	defer db.Close()

	metrics.Register()
	if cfg.Monitoring.PrometheusEnabled {
		go startMetricsServer(ctx, cfg.Monitoring.PrometheusPort, &logger)
	}

	limiter := initRateLimiter(ctx, cfg, baseLogger)

	eventBus := events.NewEventBus()
	subscribeLifecycleEvents(eventBus, baseLogger)

	courts := booking.NewRegistry(cfg.Courts)

	adapterLogger := logging.ForComponent(baseLogger, "adapter")
	siteAdapter := adapter.NewSiteAdapter(cfg.Site, &adapterLogger)

	dispatcherLogger := logging.ForComponent(baseLogger, "dispatcher")
	disp := dispatcher.New(db, courts, siteAdapter, eventBus, dispatcher.Params{
		Tick:           time.Duration(cfg.Dispatcher.TickSeconds) * time.Second,
		AttemptTimeout: time.Duration(cfg.Dispatcher.AttemptTimeoutSeconds) * time.Second,
		MaxInFlight:    cfg.Dispatcher.MaxConcurrentAttempts,
		BatchSize:      cfg.Dispatcher.BatchSize,
		Retry: dispatcher.RetryPolicy{
			BaseDelay:     time.Duration(cfg.Dispatcher.RetryBaseSeconds) * time.Second,
			MaxDelay:      time.Duration(cfg.Dispatcher.RetryCapSeconds) * time.Second,
			BackoffFactor: 2,
		},
	}, &dispatcherLogger)
	go disp.Start(ctx)

	reaperLogger := logging.ForComponent(baseLogger, "reaper")
	rp := reaper.New(db, eventBus, reaper.Params{
		ExpireSweep: time.Duration(cfg.Reaper.ExpireSweepMinutes) * time.Minute,
		PurgeSweep:  time.Duration(cfg.Reaper.PurgeSweepHours) * time.Hour,
		Retention:   time.Duration(cfg.Reaper.RetentionDays) * 24 * time.Hour,
	}, &reaperLogger)
	go rp.Start(ctx)

	bookingLogger := logging.ForComponent(baseLogger, "booking")
	bookingService := booking.NewService(db, courts, limiter, eventBus, disp, booking.BookingParams{
		DailyQuota:       cfg.Booking.DailyQuota,
		MaxAttempts:      cfg.Booking.MaxAttempts,
		ExpiryGrace:      time.Duration(cfg.Booking.ExpiryGraceHours) * time.Hour,
		SubmitRateLimit:  cfg.Booking.SubmitRateLimit,
		SubmitRateWindow: time.Duration(cfg.Booking.SubmitRateWindowSecs) * time.Second,
	}, &bookingLogger)

	exportLogger := logging.ForComponent(baseLogger, "export")
	exporter := export.NewExporter(db, courts, cfg.Exports.Path, &exportLogger)

	if cfg.API.Enabled {
		apiLogger := logging.ForComponent(baseLogger, "api")
		apiServer := api.NewHTTPServer(cfg.API, bookingService, exporter, &apiLogger)
		go func() {
			if err := apiServer.Start(); err != nil {
				logger.Error().Err(err).Msg("API server error")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = apiServer.Shutdown(shutdownCtx)
		}()
	}

	logger.Info().
		Str("environment", cfg.App.Environment).
		Int("courts", len(cfg.Courts)).
		Msg("courtside started")

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")
	return nil
}

// initRateLimiter wires Redis with an in-memory fallback. Without Redis the
// per-owner submit limit still works, just per-instance.
func initRateLimiter(ctx context.Context, cfg *config.Config, baseLogger *zerolog.Logger) domain.RateLimiter {
	logger := logging.ForComponent(baseLogger, "ratelimit")
	memory := repository.NewMemoryRateLimiter()

	if cfg.Redis.Address == "" {
		logger.Info().Msg("redis not configured, using in-memory rate limiter")
		return memory
	}

	client := repository.NewRedisClient(cfg.Redis)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := repository.Ping(pingCtx, client); err != nil {
		logger.Warn().Err(err).Msg("redis unreachable at startup, failover will retry")
	}

	return repository.NewFailoverRateLimiter(repository.NewRedisRateLimiter(client), memory, &logger)
}

// subscribeLifecycleEvents attaches the audit log to the event bus.
func subscribeLifecycleEvents(bus *events.EventBus, baseLogger *zerolog.Logger) {
	logger := logging.ForComponent(baseLogger, "lifecycle")
	for _, eventType := range []string{
		events.EventRequestSubmitted,
		events.EventRequestScheduled,
		events.EventRequestConfirmed,
		events.EventRequestRetried,
		events.EventRequestFailed,
		events.EventRequestCancelled,
		events.EventRequestExpired,
	} {
		bus.Subscribe(eventType, func(event *events.Event) error {
			logger.Info().
				Str("event", event.Type).
				RawJSON("payload", event.Payload).
				Msg("lifecycle event")
			return nil
		})
	}
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
