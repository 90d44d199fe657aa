package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"herald/internal/classify"
	"herald/internal/config"
	"herald/internal/constants"
	"herald/internal/database"
	"herald/internal/dispatch"
	"herald/internal/inbound"
	"herald/internal/models"
	"herald/internal/registry"
	"herald/internal/retry"
	"herald/internal/tracing"
	"herald/pkg/sender"
	"herald/pkg/sender/instagram"
	"herald/pkg/sender/whatsapp"

	"github.com/sirupsen/logrus"
)

var (
	// Version information (set at build time)
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"

	// CLI flags
	verbose    = flag.Bool("verbose", false, "Enable verbose logging (includes sensitive information)")
	configPath = flag.String("config", "config.json", "Path to configuration file")
	version    = flag.Bool("version", false, "Show version information")
)

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("Herald %s\nBuild Time: %s\nGit Commit: %s\n", Version, BuildTime, GitCommit)
		os.Exit(0)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		logrus.Fatalf("Application error: %v", err)
	}
}

func run(ctx context.Context) error {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	logger.WithFields(logrus.Fields{
		"version": Version,
		"build":   BuildTime,
		"commit":  GitCommit,
	}).Info("Starting Herald")

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	configureLogLevel(logger, cfg)

	// Initialize OpenTelemetry tracing
	tracingManager := tracing.NewTracingManager(tracing.TracingConfig{
		ServiceName:    cfg.Tracing.ServiceName,
		ServiceVersion: Version,
		Environment:    cfg.Tracing.Environment,
		OTLPEndpoint:   cfg.Tracing.OTLPEndpoint,
		SampleRate:     cfg.Tracing.SampleRate,
		Enabled:        cfg.Tracing.Enabled,
		UseStdout:      cfg.Tracing.UseStdout,
	}, logger)

	if err := tracingManager.Initialize(ctx); err != nil {
		logger.Warnf("Failed to initialize tracing: %v", err)
	}
	defer func() {
		if err := tracingManager.Shutdown(context.Background()); err != nil {
			logger.Warnf("Failed to shutdown tracing: %v", err)
		}
	}()

	// Initialize database with exponential backoff retry
	var db *database.Database
	backoff := retry.NewBackoff(retry.BackoffConfig{
		InitialDelay: constants.DefaultRetryBackoffMs * time.Millisecond,
		MaxDelay:     constants.DefaultMaxBackoffMs * time.Millisecond,
		Multiplier:   2.0,
		MaxAttempts:  constants.DefaultDatabaseRetryAttempts,
		Jitter:       true,
	})

	err = backoff.Retry(ctx, func() error {
		var initErr error
		db, initErr = database.New(cfg.Database.Path)
		if initErr != nil {
			logger.Warnf("Failed to initialize database: %v", initErr)
		}
		return initErr
	})
	if err != nil {
		return fmt.Errorf("failed to initialize database after retries: %w", err)
	}
	defer db.Close()

	// Requeue anything a previous process died holding.
	recovered, err := db.RecoverInFlightJobs(ctx)
	if err != nil {
		return fmt.Errorf("failed to recover in-flight jobs: %w", err)
	}
	if recovered > 0 {
		logger.WithField("count", recovered).Warn("Recovered in-flight jobs from previous run")
	}

	senders := map[models.Channel]sender.Sender{
		models.ChannelWhatsApp: whatsapp.NewClient(
			cfg.Senders.WhatsApp.BaseURL,
			cfg.Senders.WhatsApp.APIKey,
			time.Duration(cfg.Senders.WhatsApp.TimeoutSec)*time.Second,
		),
		models.ChannelInstagramDM: instagram.NewClient(
			cfg.Senders.Instagram.BaseURL,
			cfg.Senders.Instagram.APIKey,
			time.Duration(cfg.Senders.Instagram.TimeoutSec)*time.Second,
		),
	}

	var classifier classify.Classifier
	if cfg.Classify.ServiceURL != "" {
		classifier = classify.NewHTTPClassifier(cfg.Classify.ServiceURL,
			time.Duration(cfg.Classify.TimeoutSec)*time.Second)
		logger.WithField("url", cfg.Classify.ServiceURL).Info("Using HTTP intent classifier")
	} else {
		classifier = classify.NewKeywordClassifier()
		logger.Info("Using keyword intent classifier")
	}
	recorder := classify.NewRecorder(classifier, db, logger)

	cooldown := time.Duration(cfg.Dispatch.CooldownMinutes) * time.Minute
	sessionRegistry := registry.New(db, logger, cooldown)

	dispatcher := dispatch.New(db, sessionRegistry, senders, dispatch.Config{
		Workers:        cfg.Dispatch.Workers,
		PollInterval:   time.Duration(cfg.Dispatch.PollIntervalMs) * time.Millisecond,
		NoSessionDelay: time.Duration(cfg.Dispatch.NoSessionDelaySec) * time.Second,
		SendTimeout:    time.Duration(constants.DefaultSendTimeoutSec) * time.Second,
		SendsPerSecond: cfg.Dispatch.SendsPerSecond,
		Backoff: dispatch.BackoffPolicy{
			Base:     time.Duration(cfg.Dispatch.RetryBaseSec) * time.Second,
			MaxDelay: time.Duration(cfg.Dispatch.RetryMaxDelaySec) * time.Second,
			Jitter:   true,
		},
	}, logger)
	dispatcher.Start(ctx)
	defer dispatcher.Stop()

	housekeeper := dispatch.NewHousekeeper(db, logger, cfg.RetentionDays, cfg.Dispatch.ResetCronSpec)
	if err := housekeeper.Start(ctx); err != nil {
		return fmt.Errorf("failed to start housekeeper: %w", err)
	}
	defer housekeeper.Stop()

	if cfg.Inbound.Enabled {
		listener := inbound.NewListener(cfg.Inbound.WebsocketURL, recorder, logger)
		go listener.Run(ctx)
		logger.WithField("url", cfg.Inbound.WebsocketURL).Info("Inbound reply listener started")
	}

	// Watch the config file: poll interval and pacing apply immediately,
	// everything else on the next restart.
	watcher := config.NewConfigWatcher(*configPath, logger)
	watcher.OnConfigChange(func(next *models.Config) {
		dispatcher.UpdateTuning(
			time.Duration(next.Dispatch.PollIntervalMs)*time.Millisecond,
			next.Dispatch.SendsPerSecond,
		)
		logger.WithFields(logrus.Fields{
			"pollIntervalMs": next.Dispatch.PollIntervalMs,
			"sendsPerSecond": next.Dispatch.SendsPerSecond,
		}).Info("Configuration reloaded, dispatch tuning applied")
	})
	go func() {
		if err := watcher.Start(ctx); err != nil {
			logger.WithError(err).Warn("Configuration watcher failed to start")
		}
	}()

	server := NewServer(cfg, db, recorder, logger)
	serverErrCh := make(chan error, constants.ServerErrorChannelSize)
	go func() {
		if err := server.Start(); err != nil {
			serverErrCh <- fmt.Errorf("server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("Received shutdown signal")
	case err := <-serverErrCh:
		logger.Error(err)
		return err
	case err := <-dispatcher.Fatal():
		logger.Error(err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(constants.DefaultGracefulShutdownSec)*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown server gracefully: %w", err)
	}

	logger.Info("Server shutdown completed")
	return nil
}

func configureLogLevel(logger *logrus.Logger, cfg *models.Config) {
	if *verbose {
		logger.SetLevel(logrus.DebugLevel)
		logger.Info("Verbose logging enabled - sensitive information will be logged")
		return
	}
	if cfg.LogLevel == "" {
		logger.SetLevel(logrus.InfoLevel)
		return
	}
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		logger.Warnf("Invalid log level %q, defaulting to info", cfg.LogLevel)
		logger.SetLevel(logrus.InfoLevel)
		return
	}
	logger.SetLevel(level)
}
