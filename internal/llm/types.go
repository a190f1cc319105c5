// Package llm defines the completion provider interface used by the
// assistant's responder and the whiteboard summarizer, plus an Anthropic
// Messages API client.
package llm

import (
	"context"
	"encoding/json"
)

// Role constants for Message.Role.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// StopReason describes why the model stopped generating.
const (
	StopReasonEndTurn   = "end_turn"
	StopReasonToolUse   = "tool_use"
	StopReasonMaxTokens = "max_tokens"
)

// ToolUse is a tool call requested by the model.
type ToolUse struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// ToolResult is the outcome of a tool call sent back to the model.
type ToolResult struct {
	ToolUseID string `json:"tool_use_id"`
	Content   string `json:"content"`
	IsError   bool   `json:"is_error,omitempty"`
}

// Message is a single turn. An assistant turn may carry tool calls next to
// its text; a user turn may carry the results of those calls instead of text.
type Message struct {
	Role        string       `json:"role"`
	Content     string       `json:"content,omitempty"`
	ToolUses    []ToolUse    `json:"tool_uses,omitempty"`
	ToolResults []ToolResult `json:"tool_results,omitempty"`
}

// ToolSchema describes a tool's interface for the model.
type ToolSchema struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// CompletionRequest is the input to Provider.Complete.
type CompletionRequest struct {
	Messages     []Message
	SystemPrompt string
	Tools        []ToolSchema
	MaxTokens    int
	Model        string // overrides the provider default when set
}

// CompletionResponse is returned by Provider.Complete.
type CompletionResponse struct {
	Text         string
	StopReason   string
	ToolUses     []ToolUse // populated when StopReason == StopReasonToolUse
	InputTokens  int
	OutputTokens int
}

// Provider is a language model backend.
type Provider interface {
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
	ModelID() string
}

// ToolResultMessage wraps tool results into the user turn that answers an
// assistant's tool calls.
func ToolResultMessage(results ...ToolResult) Message {
	return Message{Role: RoleUser, ToolResults: results}
}
