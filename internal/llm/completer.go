package llm

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	perrors "github.com/p-blackswan/project-assistant/internal/errors"
	"github.com/p-blackswan/project-assistant/internal/retry"
)

// Retrying wraps a Provider and retries transient failures.
type Retrying struct {
	Provider
	cfg    retry.Config
	logger zerolog.Logger
}

// NewRetrying returns p with backoff on rate limiting and overload.
func NewRetrying(p Provider, cfg retry.Config, logger zerolog.Logger) *Retrying {
	r := &Retrying{
		Provider: p,
		cfg:      cfg,
		logger:   logger.With().Str("component", "llm.retry").Logger(),
	}
	r.cfg.OnRetry = func(attempt int, err error) {
		r.logger.Warn().Err(err).Int("attempt", attempt).Msg("completion failed, retrying")
	}
	return r
}

func (r *Retrying) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	var resp *CompletionResponse
	err := retry.Do(ctx, r.cfg, func(ctx context.Context) error {
		var err error
		resp, err = r.Provider.Complete(ctx, req)
		return err
	})
	return resp, err
}

// TextCompleter turns a Provider into a single-shot text completion service
// for summarization tasks that need no tools.
type TextCompleter struct {
	provider  Provider
	maxTokens int
}

// NewTextCompleter creates a TextCompleter. maxTokens <= 0 uses the provider default.
func NewTextCompleter(p Provider, maxTokens int) *TextCompleter {
	return &TextCompleter{provider: p, maxTokens: maxTokens}
}

// CompleteText sends prompt as the only user turn and returns the text reply.
func (c *TextCompleter) CompleteText(ctx context.Context, system, prompt string) (string, error) {
	resp, err := c.provider.Complete(ctx, CompletionRequest{
		SystemPrompt: system,
		Messages:     []Message{{Role: RoleUser, Content: prompt}},
		MaxTokens:    c.maxTokens,
	})
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return "", perrors.New(perrors.ErrNoContent, "The model returned an empty reply.")
	}
	return text, nil
}
