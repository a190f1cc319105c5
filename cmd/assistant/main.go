package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/p-blackswan/project-assistant/internal/api"
	"github.com/p-blackswan/project-assistant/internal/app"
	"github.com/p-blackswan/project-assistant/internal/assistant"
	"github.com/p-blackswan/project-assistant/internal/config"
)

func main() {
	// Setup structured logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	logger := zerolog.New(os.Stdout).With().Timestamp().Caller().Logger()

	if os.Getenv("ENVIRONMENT") == "development" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	log.Logger = logger

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err == nil {
		zerolog.SetGlobalLevel(level)
	}

	logger.Info().
		Str("environment", cfg.Environment).
		Str("listen_addr", cfg.HTTPListenAddr).
		Str("data_dir", cfg.DataDir).
		Str("template", cfg.Template).
		Bool("completion_enabled", cfg.CompletionEnabled()).
		Bool("slack_enabled", cfg.SlackEnabled()).
		Bool("signed_shares", cfg.ShareEnabled()).
		Msg("starting project assistant")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	core, err := app.Build(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to wire components")
	}
	core.Probe(ctx, logger)

	handler := core.NewHandler(logger)
	dispatcher := assistant.NewDispatcher(cfg.DispatchQueueSize, handler.ReportFailure, core.Metrics, logger)
	dispatcher.Start(ctx)

	server := api.NewServer(api.ServerConfig{
		ListenAddr: cfg.HTTPListenAddr,
		AuthConfig: api.AuthConfig{
			Mode:   cfg.APIAuthMode,
			APIKey: cfg.APIKey,
		},
		RateLimit: api.RateLimitConfig{
			RPS:   cfg.APIRateLimitRPS,
			Burst: cfg.APIRateLimitBurst,
		},
		CORSOrigins: cfg.APICORSOrigins,
	}, api.Deps{
		Host:        core.Host,
		Events:      core.Events,
		Handler:     handler,
		Queue:       dispatcher,
		Projects:    core.Manager,
		Checker:     core.Checker,
		Metrics:     core.Metrics,
		AssistantID: cfg.AssistantID,
	}, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("shutting down gracefully")
	case err := <-errCh:
		logger.Error().Err(err).Msg("API server error")
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("API server shutdown error")
	}

	done := make(chan struct{})
	go func() {
		dispatcher.Stop()
		close(done)
	}()

	select {
	case <-done:
		logger.Info().Msg("event dispatcher stopped")
	case <-time.After(15 * time.Second):
		logger.Warn().Msg("forced shutdown after timeout")
	}

	logger.Info().Msg("project assistant stopped")
}
