// Package app wires the assistant's components from configuration. Both
// binaries share it so they operate on the same data directory layout.
package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/project-assistant/internal/assistant"
	"github.com/p-blackswan/project-assistant/internal/config"
	"github.com/p-blackswan/project-assistant/internal/conversation"
	"github.com/p-blackswan/project-assistant/internal/filesync"
	"github.com/p-blackswan/project-assistant/internal/health"
	"github.com/p-blackswan/project-assistant/internal/invite"
	"github.com/p-blackswan/project-assistant/internal/llm"
	"github.com/p-blackswan/project-assistant/internal/metrics"
	"github.com/p-blackswan/project-assistant/internal/notify"
	"github.com/p-blackswan/project-assistant/internal/project"
	"github.com/p-blackswan/project-assistant/internal/retry"
	"github.com/p-blackswan/project-assistant/internal/slackhost"
	"github.com/p-blackswan/project-assistant/internal/storage"
	"github.com/p-blackswan/project-assistant/internal/tools"
)

// Subdirectories of DATA_DIR.
const (
	ConversationsDir = "conversations"
	HostDir          = "host"
)

const eventFeedLimit = 200

// Core holds every wired component.
type Core struct {
	Config   *config.Config
	Template config.Template
	Metrics  *metrics.Metrics
	Checker  *health.Checker

	Store    *storage.Store
	Registry *conversation.Registry
	Events   *conversation.EventFeed
	Local    *conversation.LocalHost
	Host     conversation.Host // Local, optionally mirrored to Slack, behind the client cache
	Slack    *slackhost.Mirror

	Provider llm.Provider // nil when completion is not configured
	Manager  *project.Manager
	Files    *filesync.Syncer
	Redeemer *invite.Redeemer
	Tools    *tools.Registry
}

// Build wires the components described by cfg.
func Build(cfg *config.Config, logger zerolog.Logger) (*Core, error) {
	templates, err := config.LoadTemplates(cfg.TemplatesFile)
	if err != nil {
		return nil, err
	}
	tpl, ok := templates[cfg.Template]
	if !ok {
		return nil, fmt.Errorf("unknown template %q", cfg.Template)
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	c := &Core{
		Config:   cfg,
		Template: tpl,
		Metrics:  metrics.New(),
		Checker:  health.NewChecker(logger),
		Events:   conversation.NewEventFeed(eventFeedLimit),
	}
	c.Store = storage.New(cfg.DataDir, logger, storage.WithMetrics(c.Metrics))
	c.Registry = conversation.NewRegistry(filepath.Join(cfg.DataDir, ConversationsDir), c.Store, logger)
	c.Local = conversation.NewLocalHost(filepath.Join(cfg.DataDir, HostDir), c.Events, logger)

	var host conversation.Host = c.Local
	if cfg.SlackEnabled() {
		c.Slack = slackhost.New(c.Local, slackhost.NewAPI(cfg.SlackBotToken), logger)
		host = c.Slack
		c.Checker.Register("slack", health.Remote(c.Slack.Check))
	}
	c.Host = conversation.NewClientCache(host, cfg.RemoteClientCache, 0)

	deps := project.Deps{
		Store:    c.Store,
		Registry: c.Registry,
		Notifier: notify.New(c.Registry, c.Host, cfg.AssistantID, logger,
			notify.WithRetry(cfg.NotifyRetries, cfg.NotifyRetryDelay),
			notify.WithMetrics(c.Metrics)),
		Template: tpl,
		Metrics:  c.Metrics,
	}
	if cfg.CompletionEnabled() {
		anthropic := llm.NewAnthropicProvider(cfg.AnthropicAPIKey, logger,
			llm.WithModel(cfg.AnthropicModel),
			llm.WithMaxTokens(cfg.CompletionMaxTokens))
		c.Provider = llm.NewRetrying(anthropic, retry.Attempts(3, time.Second), logger)
		deps.Completer = llm.NewTextCompleter(c.Provider, cfg.CompletionMaxTokens)
	}

	var minter *invite.Minter
	if cfg.ShareEnabled() {
		minter = invite.NewMinter([]byte(cfg.ShareSigningKey), cfg.ShareBaseURL, cfg.ShareTTL)
	}
	deps.Shares = invite.NewProvisioner(c.Host, c.Registry, minter, cfg.ShareBaseURL, cfg.AssistantID, logger)

	c.Manager = project.NewManager(deps, logger)
	c.Files = filesync.New(c.Store, c.Registry, c.Host, cfg.AssistantID, logger,
		filesync.WithRetry(cfg.NotifyRetries, cfg.NotifyRetryDelay),
		filesync.WithMetrics(c.Metrics),
		filesync.WithLog(c.Manager))
	c.Redeemer = invite.NewRedeemer(c.Manager, minter, logger)
	c.Tools = tools.NewRegistry()
	tools.RegisterProjectTools(c.Tools, c.Manager, logger)

	c.Checker.Register("data_dir", health.DataDir(cfg.DataDir))
	c.Checker.Register("completion", health.Completion(cfg.CompletionEnabled()))
	return c, nil
}

// NewHandler builds the conversation event handler.
func (c *Core) NewHandler(logger zerolog.Logger) *assistant.Handler {
	return assistant.NewHandler(assistant.Deps{
		Host:     c.Host,
		Roles:    c.Registry,
		Projects: c.Manager,
		Files:    c.Files,
		Invites:  c.Redeemer,
		Provider: c.Provider,
		Tools:    c.Tools,
	}, assistant.Options{
		AssistantID:          c.Config.AssistantID,
		MaxToolIterations:    c.Config.MaxToolIterations,
		MaxTokens:            c.Config.CompletionMaxTokens,
		HistoryLimit:         c.Config.WhiteboardHistoryLimit,
		WhiteboardAutoUpdate: c.Config.WhiteboardAutoUpdate && c.Provider != nil,
	}, logger)
}

// Probe runs every health check once and logs the outcome.
func (c *Core) Probe(ctx context.Context, logger zerolog.Logger) {
	for name, st := range c.Checker.RunAll(ctx) {
		logger.Info().Str("check", name).Str("status", string(st)).Msg("startup check")
	}
}
