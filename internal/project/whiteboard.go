package project

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/p-blackswan/project-assistant/internal/conversation"
	perrors "github.com/p-blackswan/project-assistant/internal/errors"
	"github.com/p-blackswan/project-assistant/internal/storage"
)

// whiteboardHistoryLimit bounds the chat history fed to the summarizer.
const whiteboardHistoryLimit = 30

var whiteboardTag = regexp.MustCompile(`(?s)<WHITEBOARD>(.*?)</WHITEBOARD>`)

// UpdateWhiteboard overwrites the whiteboard. Auto-generated updates only
// refresh UIs; manual edits are logged and may also send a notice.
func (m *Manager) UpdateWhiteboard(ctx context.Context, caller Caller, content string, isAuto, sendNotification bool) (wb *ProjectWhiteboard, err error) {
	defer m.record("update_whiteboard", &err)

	pid, _, err := m.require(caller, "edit the whiteboard", conversation.RoleCoordinator)
	if err != nil {
		return nil, err
	}
	return m.writeWhiteboard(ctx, pid, caller, content, isAuto, sendNotification)
}

func (m *Manager) writeWhiteboard(ctx context.Context, pid string, caller Caller, content string, isAuto, sendNotification bool) (*ProjectWhiteboard, error) {
	wb := &ProjectWhiteboard{}
	err := m.store.Update(pid, storage.KindWhiteboard, wb, func(found bool) error {
		now := m.now()
		if found {
			wb.touch(caller, now)
		} else {
			wb.init(caller, now)
		}
		wb.Content = content
		wb.IsAutoGenerated = isAuto
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !isAuto {
		m.logEvent(ctx, pid, caller, LogWhiteboardUpdated, "Whiteboard updated", pid, nil)
	}
	notice := ""
	if sendNotification {
		notice = fmt.Sprintf("%s updated the project whiteboard.", displayName(caller))
	}
	m.announce(ctx, pid, caller, notice)
	return wb, nil
}

// AutoUpdateWhiteboard summarizes recent coordinator chat history into the
// whiteboard through the completion service. When nothing can be extracted
// the previous whiteboard is left untouched and ErrNoContent is returned.
func (m *Manager) AutoUpdateWhiteboard(ctx context.Context, caller Caller, history []HistoryMessage) (wb *ProjectWhiteboard, err error) {
	defer m.record("auto_update_whiteboard", &err)

	pid, _, err := m.require(caller, "update the whiteboard", conversation.RoleCoordinator)
	if err != nil {
		return nil, err
	}
	if m.completer == nil {
		return nil, perrors.New(perrors.ErrUnsupported, "Whiteboard auto-update needs a completion service.")
	}
	if len(history) > whiteboardHistoryLimit {
		history = history[len(history)-whiteboardHistoryLimit:]
	}
	transcript := formatHistory(history)
	if transcript == "" {
		return nil, perrors.New(perrors.ErrNoContent, "There is no chat history to summarize yet.")
	}

	var prompt strings.Builder
	if cur, err := m.readWhiteboard(pid); err == nil && cur != nil && strings.TrimSpace(cur.Content) != "" {
		prompt.WriteString("<CURRENT_WHITEBOARD>\n")
		prompt.WriteString(cur.Content)
		prompt.WriteString("\n</CURRENT_WHITEBOARD>\n\n")
	}
	prompt.WriteString("<CHAT_HISTORY>\n")
	prompt.WriteString(transcript)
	prompt.WriteString("</CHAT_HISTORY>")

	out, err := m.completer.CompleteText(ctx, m.template.WhiteboardPrompt, prompt.String())
	if err != nil {
		return nil, fmt.Errorf("summarizing whiteboard: %w", err)
	}
	content := extractWhiteboard(out)
	if content == "" {
		m.logger.Debug().Str("project_id", pid).Msg("no whiteboard content extracted")
		return nil, perrors.New(perrors.ErrNoContent, "No whiteboard content could be extracted; the whiteboard was left unchanged.")
	}
	return m.writeWhiteboard(ctx, pid, caller, content, true, false)
}

func formatHistory(history []HistoryMessage) string {
	var b strings.Builder
	for _, msg := range history {
		content := strings.TrimSpace(msg.Content)
		if content == "" {
			continue
		}
		sender := msg.SenderName
		if sender == "" {
			sender = "assistant"
			if msg.IsUser {
				sender = "user"
			}
		}
		fmt.Fprintf(&b, "[%s]: %s\n", sender, content)
	}
	return b.String()
}

// extractWhiteboard returns the content of the last WHITEBOARD block in s,
// trimmed. An empty string means nothing usable was produced.
func extractWhiteboard(s string) string {
	matches := whiteboardTag.FindAllStringSubmatch(s, -1)
	if len(matches) == 0 {
		return ""
	}
	return strings.TrimSpace(matches[len(matches)-1][1])
}
