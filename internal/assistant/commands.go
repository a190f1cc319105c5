package assistant

import (
	"context"
	"fmt"
	"strings"

	"github.com/p-blackswan/project-assistant/internal/conversation"
	perrors "github.com/p-blackswan/project-assistant/internal/errors"
	"github.com/p-blackswan/project-assistant/internal/project"
)

// Command is a parsed chat command such as "/join <code>".
type Command struct {
	Name string
	Args string
}

// ParseCommand recognizes a message starting with "/". The name is
// lowercased; Args is the trimmed remainder.
func ParseCommand(text string) (Command, bool) {
	text = strings.TrimSpace(text)
	if len(text) < 2 || text[0] != '/' {
		return Command{}, false
	}
	name, args, _ := strings.Cut(text[1:], " ")
	if name == "" || strings.ContainsAny(name, "/\n\t") {
		return Command{}, false
	}
	return Command{Name: strings.ToLower(name), Args: strings.TrimSpace(args)}, true
}

const unconfiguredHelp = "This conversation is not part of a project yet. " +
	"Type `/start <project name>` to create a project and coordinate it from here, " +
	"or `/join <invitation code or link>` to join a project as a team member."

const helpText = "Available commands:\n" +
	"- `/start <name>` create a project coordinated from this conversation\n" +
	"- `/join <code>` join a project with an invitation code or link\n" +
	"- `/status` show the project status\n" +
	"- `/ready` mark the project ready for the team (Coordinator)\n" +
	"- `/whiteboard` show the project whiteboard\n" +
	"- `/requests` list information requests\n" +
	"- `/help` show this message"

func (h *Handler) runCommand(ctx context.Context, caller project.Caller, associated bool, cmd Command) error {
	h.logger.Debug().
		Str("conversation_id", caller.ConversationID).
		Str("command", cmd.Name).
		Msg("command received")

	reply, err := h.command(ctx, caller, associated, cmd)
	if err != nil {
		return h.replyError(ctx, caller.ConversationID, err)
	}
	return h.send(ctx, caller.ConversationID, conversation.MessageTypeCommandResponse, reply)
}

func (h *Handler) command(ctx context.Context, caller project.Caller, associated bool, cmd Command) (string, error) {
	switch cmd.Name {
	case "help":
		return helpText, nil

	case "start":
		info, err := h.projects.CreateProject(ctx, caller, cmd.Args)
		if err != nil {
			return "", err
		}
		if info.ShareURL != "" {
			return fmt.Sprintf("Project **%s** created. Share this link with your team: %s", info.Name, info.ShareURL), nil
		}
		return fmt.Sprintf("Project **%s** created. Team members can join with `/join %s`.", info.Name, info.ProjectID), nil

	case "join":
		if cmd.Args == "" {
			return "", perrors.New(perrors.ErrInvalidInput, "Usage: `/join <invitation code or link>`")
		}
		info, err := h.invites.Redeem(ctx, caller, cmd.Args)
		if err != nil {
			return "", err
		}
		report, err := h.files.SyncToTeam(ctx, info.ProjectID, caller.ConversationID)
		if err != nil {
			h.logger.Warn().Err(err).Str("project_id", info.ProjectID).Msg("team file sync failed")
		}
		reply := fmt.Sprintf("You joined **%s** as a team member.", info.Name)
		if report.Copied > 0 {
			reply += fmt.Sprintf(" %d shared file(s) were copied here.", report.Copied)
		}
		if tpl := h.projects.Template(); tpl.WelcomeTeam != "" {
			reply += "\n\n" + tpl.WelcomeTeam
		}
		return reply, nil
	}

	if !associated {
		if cmd.Name == "status" || cmd.Name == "ready" || cmd.Name == "whiteboard" || cmd.Name == "requests" {
			return "", perrors.New(perrors.ErrNoProject, unconfiguredHelp)
		}
		return "", perrors.New(perrors.ErrInvalidInput, "Unknown command `/%s`.\n\n%s", cmd.Name, helpText)
	}

	switch cmd.Name {
	case "status":
		return h.projects.Summary(ctx, caller)

	case "ready":
		if _, err := h.projects.MarkProjectReadyForWorking(ctx, caller); err != nil {
			return "", err
		}
		return "The project is ready for working. The team has been notified.", nil

	case "whiteboard":
		wb, err := h.projects.Whiteboard(ctx, caller)
		if err != nil {
			if perrors.IsUserError(err) {
				return "The whiteboard is empty.", nil
			}
			return "", err
		}
		if strings.TrimSpace(wb.Content) == "" {
			return "The whiteboard is empty.", nil
		}
		return wb.Content, nil

	case "requests":
		reqs, err := h.projects.Requests(ctx, caller)
		if err != nil {
			return "", err
		}
		return formatRequests(reqs), nil
	}
	return "", perrors.New(perrors.ErrInvalidInput, "Unknown command `/%s`.\n\n%s", cmd.Name, helpText)
}

func formatRequests(reqs []*project.InformationRequest) string {
	if len(reqs) == 0 {
		return "There are no information requests."
	}
	var b strings.Builder
	b.WriteString("Information requests:\n")
	for _, r := range reqs {
		id := r.RequestID
		if len(id) > 8 {
			id = id[:8]
		}
		fmt.Fprintf(&b, "- [%s] %s (%s) `%s`\n", r.Status, r.Title, r.Priority, id)
	}
	return strings.TrimRight(b.String(), "\n")
}
