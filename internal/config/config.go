package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// General
	Environment    string `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`
	HTTPListenAddr string `envconfig:"HTTP_LISTEN_ADDR" default:":8080"`

	// DataDir is the root of both the project store (DATA_DIR/projects) and
	// the conversation namespaces (DATA_DIR/conversations).
	DataDir     string `envconfig:"DATA_DIR" default:"./data"`
	AssistantID string `envconfig:"ASSISTANT_ID" default:"project-assistant"`

	// HTTP API
	APIKey            string `envconfig:"API_KEY"`
	APIAuthMode       string `envconfig:"API_AUTH_MODE" default:"api-key"` // "api-key" or "none"
	APICORSOrigins    string `envconfig:"API_CORS_ORIGINS"`
	APIRateLimitRPS   int    `envconfig:"API_RATE_LIMIT_RPS" default:"20"` // 0 disables
	APIRateLimitBurst int    `envconfig:"API_RATE_LIMIT_BURST" default:"40"`

	// Completion service (optional; without it the assistant only answers commands)
	AnthropicAPIKey     string `envconfig:"ANTHROPIC_API_KEY"`
	AnthropicModel      string `envconfig:"ANTHROPIC_MODEL" default:"claude-sonnet-4-5"`
	CompletionMaxTokens int    `envconfig:"COMPLETION_MAX_TOKENS" default:"4096"`

	// Configuration templates
	TemplatesFile string `envconfig:"TEMPLATES_FILE"`
	Template      string `envconfig:"TEMPLATE" default:"project_tracking"`

	// Share links
	ShareSigningKey string        `envconfig:"SHARE_SIGNING_KEY"`
	ShareBaseURL    string        `envconfig:"SHARE_BASE_URL" default:"http://localhost:8080"`
	ShareTTL        time.Duration `envconfig:"SHARE_TTL" default:"720h"`

	// Cross-conversation fan-out
	NotifyRetries     int           `envconfig:"NOTIFY_RETRIES" default:"2"`
	NotifyRetryDelay  time.Duration `envconfig:"NOTIFY_RETRY_DELAY" default:"200ms"`
	RemoteClientCache int           `envconfig:"REMOTE_CLIENT_CACHE" default:"256"`

	// Whiteboard
	WhiteboardAutoUpdate   bool `envconfig:"WHITEBOARD_AUTO_UPDATE" default:"true"`
	WhiteboardHistoryLimit int  `envconfig:"WHITEBOARD_HISTORY_LIMIT" default:"30"`

	// Event dispatch
	DispatchQueueSize int `envconfig:"DISPATCH_QUEUE_SIZE" default:"64"`
	MaxToolIterations int `envconfig:"MAX_TOOL_ITERATIONS" default:"6"`

	// Slack mirror (optional)
	// Prefixed with AGENT_ so a co-located Slack app does not pick it up.
	SlackBotToken string `envconfig:"AGENT_SLACK_BOT_TOKEN"`
}

// CompletionEnabled returns true if a completion provider is configured.
func (c *Config) CompletionEnabled() bool {
	return c.AnthropicAPIKey != ""
}

// SlackEnabled returns true if the Slack mirror is configured.
func (c *Config) SlackEnabled() bool {
	return c.SlackBotToken != ""
}

// ShareEnabled returns true if signed share links can be minted.
func (c *Config) ShareEnabled() bool {
	return c.ShareSigningKey != ""
}

// CORSOrigins returns the parsed list of allowed CORS origins.
func (c *Config) CORSOrigins() []string {
	if c.APICORSOrigins == "" {
		return nil
	}
	parts := strings.Split(c.APICORSOrigins, ",")
	origins := make([]string, 0, len(parts))
	for _, o := range parts {
		o = strings.TrimSpace(o)
		if o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

// Validate checks combinations envconfig cannot express.
func (c *Config) Validate() error {
	switch c.APIAuthMode {
	case "api-key":
		if c.APIKey == "" {
			return fmt.Errorf("API_KEY is required when API_AUTH_MODE=api-key")
		}
	case "none":
	default:
		return fmt.Errorf("invalid API_AUTH_MODE %q (want api-key or none)", c.APIAuthMode)
	}
	if c.DataDir == "" {
		return fmt.Errorf("DATA_DIR must not be empty")
	}
	if c.DispatchQueueSize < 1 {
		return fmt.Errorf("DISPATCH_QUEUE_SIZE must be >= 1")
	}
	return nil
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return &cfg, nil
}

// LoadWithPrefix reads configuration with a prefix.
func LoadWithPrefix(prefix string) (*Config, error) {
	var cfg Config
	if err := envconfig.Process(prefix, &cfg); err != nil {
		return nil, fmt.Errorf("loading config with prefix %s: %w", prefix, err)
	}
	return &cfg, nil
}
