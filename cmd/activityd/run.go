package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lumenlog/activityd/internal/agg"
	"github.com/lumenlog/activityd/internal/config"
	"github.com/lumenlog/activityd/internal/metrics"
	"github.com/lumenlog/activityd/internal/storage/redis"
	"github.com/lumenlog/activityd/internal/systemd"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the event consumer",
	Long:  `Consume activity events from the Redis stream, reconstruct sessions, and maintain daily totals until stopped.`,
	RunE:  runConsumer,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runConsumer(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Setup logger
	logger := setupLogger(cfg.Logging)
	log.Logger = logger

	logger.Info().
		Str("version", version).
		Str("config", configPath).
		Msg("Starting activityd")

	// Initialize storage
	store, err := redis.Open(cfg.Redis)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to storage")
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close storage")
		}
	}()

	logger.Info().
		Str("host", cfg.Redis.Host).
		Str("stream", cfg.Redis.Stream).
		Msg("Storage connected")

	// Build the engine
	reconstructor := agg.NewReconstructor(store.Sessions(), store.Checkpoints(), logger)
	recalculator := agg.NewRecalculator(store.Sessions(), store.Totals(), agg.RealClock{}, logger)

	consumer := agg.NewConsumer(store, reconstructor, recalculator, agg.Config{
		PollInterval:    parseDuration(cfg.Consumer.PollInterval, agg.DefaultPollInterval),
		IdleInterval:    parseDuration(cfg.Consumer.IdleInterval, agg.DefaultIdleInterval),
		RetryInterval:   parseDuration(cfg.Consumer.RetryInterval, agg.DefaultRetryInterval),
		BatchCount:      cfg.Consumer.BatchCount,
		ReplayCacheSize: cfg.Consumer.ReplayCacheSize,
	}, logger)

	// Initialize Metrics Server
	var metricsServer *metrics.Server
	if cfg.Metrics.Enabled {
		metricsAddr := fmt.Sprintf("%s:%d", cfg.Metrics.BindAddress, cfg.Metrics.Port)
		metricsServer = metrics.NewServer(metricsAddr, logger)

		// Prefer a systemd socket-activated listener when one was passed
		listeners, err := systemd.GetListeners()
		if err != nil {
			logger.Warn().Err(err).Msg("Failed to query systemd listeners")
		} else if listeners.Metrics != nil {
			metricsServer.SetListener(listeners.Metrics)
		}

		if err := metricsServer.Start(); err != nil {
			logger.Fatal().Err(err).Msg("Failed to start Metrics Server")
		}

		logger.Info().Str("addr", metricsAddr).Msg("Metrics Server started")
	}

	// Run the consumer until a shutdown signal arrives. Cancellation is
	// honored between events, so the in-flight event always lands with its
	// checkpoint before the loop exits.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- consumer.Run(ctx)
	}()

	if err := systemd.NotifyReady(); err != nil {
		logger.Warn().Err(err).Msg("sd_notify failed")
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info().Str("signal", sig.String()).Msg("Shutdown signal received, gracefully stopping...")
		_ = systemd.NotifyStopping()
		cancel()
		<-done
	case err := <-done:
		// The consumer only returns on cancellation; anything else is a bug.
		logger.Error().Err(err).Msg("Consumer exited unexpectedly")
	}

	if metricsServer != nil {
		if err := metricsServer.Stop(); err != nil {
			logger.Error().Err(err).Msg("Error stopping Metrics Server")
		}
	}

	logger.Info().Msg("activityd stopped")
	return nil
}

// setupLogger configures the logger based on configuration
func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	// Set log level
	level := zerolog.InfoLevel
	switch cfg.Level {
	case "debug":
		level = zerolog.DebugLevel
	case "info":
		level = zerolog.InfoLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}

	zerolog.SetGlobalLevel(level)

	// Set output format
	if cfg.Format == "text" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	// Default to JSON
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// parseDuration parses a duration string with a fallback
func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
