package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	perrors "github.com/p-blackswan/project-assistant/internal/errors"
)

const (
	anthropicAPIBase    = "https://api.anthropic.com/v1"
	anthropicAPIVersion = "2023-06-01"
	defaultMaxTokens    = 4096
	defaultModel        = "claude-sonnet-4-5"
)

// AnthropicProvider implements Provider with the Anthropic Messages API.
type AnthropicProvider struct {
	apiKey    string
	baseURL   string
	model     string
	maxTokens int
	client    *http.Client
	logger    zerolog.Logger
}

// AnthropicOption configures the provider.
type AnthropicOption func(*AnthropicProvider)

func WithModel(model string) AnthropicOption {
	return func(p *AnthropicProvider) {
		if model != "" {
			p.model = model
		}
	}
}

func WithMaxTokens(n int) AnthropicOption {
	return func(p *AnthropicProvider) {
		if n > 0 {
			p.maxTokens = n
		}
	}
}

func WithHTTPClient(c *http.Client) AnthropicOption {
	return func(p *AnthropicProvider) { p.client = c }
}

// WithBaseURL points the provider at another API root, e.g. a proxy.
func WithBaseURL(u string) AnthropicOption {
	return func(p *AnthropicProvider) { p.baseURL = strings.TrimRight(u, "/") }
}

// NewAnthropicProvider constructs an Anthropic provider.
func NewAnthropicProvider(apiKey string, logger zerolog.Logger, opts ...AnthropicOption) *AnthropicProvider {
	p := &AnthropicProvider{
		apiKey:    apiKey,
		baseURL:   anthropicAPIBase,
		model:     defaultModel,
		maxTokens: defaultMaxTokens,
		client:    &http.Client{Timeout: 120 * time.Second},
		logger:    logger.With().Str("component", "llm.anthropic").Logger(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

func (p *AnthropicProvider) ModelID() string { return p.model }

// ---- Anthropic wire types ----

type anthropicContentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"` // string or []anthropicContentBlock
}

type anthropicTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
	Tools     []anthropicTool    `json:"tools,omitempty"`
}

type anthropicResponse struct {
	ID         string                  `json:"id"`
	Type       string                  `json:"type"`
	Role       string                  `json:"role"`
	Content    []anthropicContentBlock `json:"content"`
	StopReason string                  `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// buildMessages converts []Message to the wire format. Assistant tool calls
// and user tool results become content blocks so the API can pair them.
func buildMessages(msgs []Message) []anthropicMessage {
	out := make([]anthropicMessage, 0, len(msgs))
	for _, m := range msgs {
		switch {
		case len(m.ToolResults) > 0:
			blocks := make([]anthropicContentBlock, 0, len(m.ToolResults))
			for _, r := range m.ToolResults {
				blocks = append(blocks, anthropicContentBlock{
					Type:      "tool_result",
					ToolUseID: r.ToolUseID,
					Content:   r.Content,
					IsError:   r.IsError,
				})
			}
			out = append(out, anthropicMessage{Role: RoleUser, Content: blocks})
		case len(m.ToolUses) > 0:
			blocks := make([]anthropicContentBlock, 0, len(m.ToolUses)+1)
			if m.Content != "" {
				blocks = append(blocks, anthropicContentBlock{Type: "text", Text: m.Content})
			}
			for _, tu := range m.ToolUses {
				input := tu.Input
				if len(input) == 0 {
					input = json.RawMessage(`{}`)
				}
				blocks = append(blocks, anthropicContentBlock{Type: "tool_use", ID: tu.ID, Name: tu.Name, Input: input})
			}
			out = append(out, anthropicMessage{Role: RoleAssistant, Content: blocks})
		default:
			out = append(out, anthropicMessage{Role: m.Role, Content: m.Content})
		}
	}
	return out
}

func (p *AnthropicProvider) buildRequest(req CompletionRequest) anthropicRequest {
	model := p.model
	if req.Model != "" {
		model = req.Model
	}
	maxTok := p.maxTokens
	if req.MaxTokens > 0 {
		maxTok = req.MaxTokens
	}

	ar := anthropicRequest{
		Model:     model,
		MaxTokens: maxTok,
		System:    req.SystemPrompt,
		Messages:  buildMessages(req.Messages),
	}
	for _, t := range req.Tools {
		ar.Tools = append(ar.Tools, anthropicTool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.InputSchema,
		})
	}
	return ar
}

func (p *AnthropicProvider) doRequest(ctx context.Context, ar anthropicRequest) (*http.Response, error) {
	body, err := json.Marshal(ar)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", p.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicAPIVersion)

	return p.client.Do(httpReq)
}

// Complete sends a blocking completion request. Rate limiting and overload
// come back as retryable remote errors.
func (p *AnthropicProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	ar := p.buildRequest(req)
	resp, err := p.doRequest(ctx, ar)
	if err != nil {
		if ctx.Err() != nil {
			return nil, perrors.NewRemoteError("anthropic", "messages", 0, perrors.ErrTimeout)
		}
		return nil, perrors.NewRemoteError("anthropic", "messages", 0, fmt.Errorf("%w: %v", perrors.ErrUnavailable, err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	var parsed anthropicResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		if resp.StatusCode >= 300 {
			return nil, statusError(resp.StatusCode, strings.TrimSpace(string(raw)))
		}
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	if parsed.Error != nil || resp.StatusCode >= 300 {
		msg := http.StatusText(resp.StatusCode)
		if parsed.Error != nil {
			msg = parsed.Error.Type + ": " + parsed.Error.Message
		}
		return nil, statusError(resp.StatusCode, msg)
	}

	out := &CompletionResponse{
		StopReason:   parsed.StopReason,
		InputTokens:  parsed.Usage.InputTokens,
		OutputTokens: parsed.Usage.OutputTokens,
	}
	for _, block := range parsed.Content {
		switch block.Type {
		case "text":
			out.Text += block.Text
		case "tool_use":
			out.ToolUses = append(out.ToolUses, ToolUse{ID: block.ID, Name: block.Name, Input: block.Input})
		}
	}

	p.logger.Debug().
		Str("model", ar.Model).
		Str("stop_reason", out.StopReason).
		Int("in_tokens", out.InputTokens).
		Int("out_tokens", out.OutputTokens).
		Msg("anthropic complete")
	return out, nil
}

func statusError(status int, msg string) error {
	var kind error
	switch {
	case status == http.StatusTooManyRequests:
		kind = perrors.ErrRateLimit
	case status == 529 || status >= 500:
		kind = perrors.ErrUnavailable
	default:
		return perrors.NewRemoteError("anthropic", "messages", status, fmt.Errorf("api error: %s", msg))
	}
	return perrors.NewRemoteError("anthropic", "messages", status, fmt.Errorf("%w: %s", kind, msg))
}
