package assistant

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/p-blackswan/project-assistant/internal/conversation"
	perrors "github.com/p-blackswan/project-assistant/internal/errors"
	"github.com/p-blackswan/project-assistant/internal/llm"
	"github.com/p-blackswan/project-assistant/internal/project"
	"github.com/p-blackswan/project-assistant/internal/tools"
)

// respond runs the completion loop for the latest chat turn and returns the
// reply text. Tools are limited to the ones offered to the caller's role.
func (h *Handler) respond(ctx context.Context, caller project.Caller, role conversation.Role) (string, error) {
	msgs, err := h.history(ctx, caller.ConversationID)
	if err != nil {
		return "", err
	}
	if len(msgs) == 0 {
		return "", nil
	}

	tpl := h.projects.Template()
	system := tpl.SystemPromptTeam
	if role == conversation.RoleCoordinator {
		system = tpl.SystemPromptCoordinator
	}
	if summary, err := h.projects.Summary(ctx, caller); err == nil {
		system += "\n\n# Current project state\n\n" + summary
	}

	var schemas []llm.ToolSchema
	if h.tools != nil {
		schemas = h.tools.ForRole(role, tpl)
	}
	offered := make(map[string]bool, len(schemas))
	for _, s := range schemas {
		offered[s.Name] = true
	}
	toolCtx := tools.WithCaller(ctx, caller)

	for iter := 0; iter < h.opts.MaxToolIterations; iter++ {
		resp, err := h.provider.Complete(ctx, llm.CompletionRequest{
			Messages:     msgs,
			SystemPrompt: system,
			Tools:        schemas,
			MaxTokens:    h.opts.MaxTokens,
		})
		if err != nil {
			return "", fmt.Errorf("complete: %w", err)
		}

		h.logger.Debug().
			Str("conversation_id", caller.ConversationID).
			Str("stop_reason", resp.StopReason).
			Int("tool_uses", len(resp.ToolUses)).
			Int("iter", iter).
			Msg("completion response")

		if resp.StopReason != llm.StopReasonToolUse || len(resp.ToolUses) == 0 {
			return strings.TrimSpace(resp.Text), nil
		}

		msgs = append(msgs, llm.Message{Role: llm.RoleAssistant, Content: resp.Text, ToolUses: resp.ToolUses})
		results := make([]llm.ToolResult, 0, len(resp.ToolUses))
		for _, tu := range resp.ToolUses {
			results = append(results, h.executeToolUse(toolCtx, offered, tu))
		}
		msgs = append(msgs, llm.ToolResultMessage(results...))
	}
	return "", fmt.Errorf("exceeded max tool iterations (%d)", h.opts.MaxToolIterations)
}

func (h *Handler) executeToolUse(ctx context.Context, offered map[string]bool, tu llm.ToolUse) llm.ToolResult {
	if !offered[tu.Name] {
		return llm.ToolResult{ToolUseID: tu.ID, Content: fmt.Sprintf("Tool %s is not available in this conversation.", tu.Name), IsError: true}
	}
	h.logger.Info().Str("tool", tu.Name).Msg("executing tool")
	out, err := h.tools.Execute(ctx, tu.Name, tu.Input)
	if err != nil {
		if !perrors.IsUserError(err) {
			h.logger.Error().Err(err).Str("tool", tu.Name).Msg("tool execution error")
		}
		return llm.ToolResult{ToolUseID: tu.ID, Content: perrors.Message(err), IsError: true}
	}
	return llm.ToolResult{ToolUseID: tu.ID, Content: out}
}

// history converts the recent chat of a conversation into alternating
// model turns. User lines are prefixed with the sender's name; commands are
// left out.
func (h *Handler) history(ctx context.Context, conversationID string) ([]llm.Message, error) {
	chat, err := h.host.GetMessages(ctx, conversationID, conversation.MessageQuery{
		Types: []conversation.MessageType{conversation.MessageTypeChat},
		Limit: h.opts.HistoryLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}

	var out []llm.Message
	for _, m := range chat {
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		if _, isCmd := ParseCommand(m.Content); isCmd && !m.FromAssistant {
			continue
		}
		role, content := llm.RoleUser, m.Content
		if m.FromAssistant {
			role = llm.RoleAssistant
		} else if m.SenderName != "" {
			content = m.SenderName + ": " + content
		}
		if len(out) == 0 && role == llm.RoleAssistant {
			continue
		}
		if n := len(out); n > 0 && out[n-1].Role == role {
			out[n-1].Content += "\n\n" + content
			continue
		}
		out = append(out, llm.Message{Role: role, Content: content})
	}
	// The conversation must end on a user turn for the model to answer.
	if n := len(out); n > 0 && out[n-1].Role != llm.RoleUser {
		return nil, nil
	}
	return out, nil
}

// refreshWhiteboard regenerates the whiteboard from the coordinator's recent
// chat. Failures are logged and never reach the conversation.
func (h *Handler) refreshWhiteboard(ctx context.Context, caller project.Caller) {
	chat, err := h.host.GetMessages(ctx, caller.ConversationID, conversation.MessageQuery{
		Types: []conversation.MessageType{conversation.MessageTypeChat},
		Limit: h.opts.HistoryLimit,
	})
	if err != nil {
		h.logger.Warn().Err(err).Str("conversation_id", caller.ConversationID).Msg("whiteboard history unavailable")
		return
	}
	history := make([]project.HistoryMessage, 0, len(chat))
	for _, m := range chat {
		history = append(history, project.HistoryMessage{
			SenderName: m.SenderName,
			Content:    m.Content,
			IsUser:     !m.FromAssistant,
			Timestamp:  m.Timestamp,
		})
	}

	_, err = h.projects.AutoUpdateWhiteboard(ctx, caller, history)
	switch {
	case err == nil:
	case errors.Is(err, perrors.ErrNoContent), errors.Is(err, perrors.ErrUnsupported):
		h.logger.Debug().Err(err).Str("conversation_id", caller.ConversationID).Msg("whiteboard left unchanged")
	default:
		h.logger.Warn().Err(err).Str("conversation_id", caller.ConversationID).Msg("whiteboard auto-update failed")
	}
}
