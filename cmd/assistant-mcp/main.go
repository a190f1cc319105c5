// Command assistant-mcp serves the project tools over MCP on stdio, acting
// on the same data directory as the assistant service.
//
// Usage:
//
//	assistant-mcp
package main

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/p-blackswan/project-assistant/internal/app"
	"github.com/p-blackswan/project-assistant/internal/config"
	"github.com/p-blackswan/project-assistant/internal/mcpserver"
)

func main() {
	// stdout carries the protocol; logs go to stderr only.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()
	if os.Getenv("ENVIRONMENT") == "development" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	log.Logger = logger

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err == nil {
		zerolog.SetGlobalLevel(level)
	}

	core, err := app.Build(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to wire components")
	}

	s, err := mcpserver.New(core.Tools, core.Registry, core.Template, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create MCP server")
	}
	if err := s.ServeStdio(); err != nil {
		logger.Error().Err(err).Msg("MCP server stopped")
		os.Exit(1)
	}
}
