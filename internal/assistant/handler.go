// Package assistant reacts to conversation host events: chat messages,
// file changes, participants and new conversations. It resolves the
// conversation's role, runs chat commands, answers with the completion
// loop and keeps the shared project state in sync.
package assistant

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/project-assistant/internal/config"
	"github.com/p-blackswan/project-assistant/internal/conversation"
	perrors "github.com/p-blackswan/project-assistant/internal/errors"
	"github.com/p-blackswan/project-assistant/internal/filesync"
	"github.com/p-blackswan/project-assistant/internal/llm"
	"github.com/p-blackswan/project-assistant/internal/project"
	"github.com/p-blackswan/project-assistant/internal/tools"
)

// Projects is the part of the project manager the handlers drive.
type Projects interface {
	CreateProject(ctx context.Context, caller project.Caller, name string) (*project.ProjectInfo, error)
	Summary(ctx context.Context, caller project.Caller) (string, error)
	MarkProjectReadyForWorking(ctx context.Context, caller project.Caller) (*project.ProjectInfo, error)
	Whiteboard(ctx context.Context, caller project.Caller) (*project.ProjectWhiteboard, error)
	Requests(ctx context.Context, caller project.Caller) ([]*project.InformationRequest, error)
	MirrorCoordinatorMessage(ctx context.Context, caller project.Caller, msg project.CoordinatorMessage) error
	RecordParticipant(ctx context.Context, caller project.Caller, joined bool) error
	AutoUpdateWhiteboard(ctx context.Context, caller project.Caller, history []project.HistoryMessage) (*project.ProjectWhiteboard, error)
	Template() config.Template
}

// Roles reads and writes conversation associations.
type Roles interface {
	Association(conversationID string) (conversation.Association, bool, error)
	SetRole(ctx context.Context, conversationID, projectID string, role conversation.Role) error
}

// FileSyncer mirrors coordinator files to team conversations.
type FileSyncer interface {
	HandleFileEvent(ctx context.Context, caller project.Caller, ev filesync.FileEvent) (*filesync.PushReport, error)
	SyncToTeam(ctx context.Context, projectID, teamCID string) (filesync.SyncReport, error)
}

// Redeemer joins a conversation to a project from an invitation.
type Redeemer interface {
	Redeem(ctx context.Context, caller project.Caller, code string) (*project.ProjectInfo, error)
}

// Deps holds the handler's collaborators. Provider and Tools are optional;
// without a provider the assistant only runs commands.
type Deps struct {
	Host     conversation.Host
	Roles    Roles
	Projects Projects
	Files    FileSyncer
	Invites  Redeemer
	Provider llm.Provider
	Tools    *tools.Registry
}

// Options tunes the handler.
type Options struct {
	AssistantID          string
	AssistantName        string
	MaxToolIterations    int
	MaxTokens            int
	HistoryLimit         int
	WhiteboardAutoUpdate bool
}

// Handler processes host events for every conversation of this assistant.
type Handler struct {
	host     conversation.Host
	roles    Roles
	projects Projects
	files    FileSyncer
	invites  Redeemer
	provider llm.Provider
	tools    *tools.Registry
	opts     Options
	logger   zerolog.Logger
}

// NewHandler creates a Handler.
func NewHandler(deps Deps, opts Options, logger zerolog.Logger) *Handler {
	if opts.MaxToolIterations <= 0 {
		opts.MaxToolIterations = 6
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = 30
	}
	if opts.AssistantID == "" {
		opts.AssistantID = "project-assistant"
	}
	if opts.AssistantName == "" {
		opts.AssistantName = "Project Assistant"
	}
	return &Handler{
		host:     deps.Host,
		roles:    deps.Roles,
		projects: deps.Projects,
		files:    deps.Files,
		invites:  deps.Invites,
		provider: deps.Provider,
		tools:    deps.Tools,
		opts:     opts,
		logger:   logger.With().Str("component", "assistant.handler").Logger(),
	}
}

func callerOf(msg conversation.Message) project.Caller {
	return project.Caller{ConversationID: msg.ConversationID, UserID: msg.SenderID, UserName: msg.SenderName}
}

// OnMessage handles a chat message posted in a conversation. Messages sent
// by the assistant itself and notices are ignored.
func (h *Handler) OnMessage(ctx context.Context, msg conversation.Message) error {
	if msg.FromAssistant || msg.SenderID == h.opts.AssistantID ||
		msg.Type == conversation.MessageTypeNotice || msg.Type == conversation.MessageTypeCommandResponse {
		return nil
	}
	caller := callerOf(msg)
	assoc, ok, err := h.ensureRole(ctx, caller)
	if err != nil {
		return err
	}

	if cmd, isCmd := ParseCommand(msg.Content); isCmd {
		return h.runCommand(ctx, caller, ok, cmd)
	}
	if !ok {
		return h.send(ctx, caller.ConversationID, conversation.MessageTypeNotice, unconfiguredHelp)
	}
	if assoc.Role == conversation.RoleShareableTemplate {
		return nil
	}

	if assoc.Role == conversation.RoleCoordinator {
		h.mirror(ctx, caller, project.CoordinatorMessage{
			MessageID:  msg.ID,
			Content:    msg.Content,
			SenderName: msg.SenderName,
			IsUser:     true,
			Timestamp:  msg.Timestamp,
		})
	}
	if h.provider == nil {
		return nil
	}

	reply, err := h.respond(ctx, caller, assoc.Role)
	if err != nil {
		return err
	}
	if reply != "" {
		if err := h.send(ctx, caller.ConversationID, conversation.MessageTypeChat, reply); err != nil {
			return err
		}
		if assoc.Role == conversation.RoleCoordinator {
			h.mirror(ctx, caller, project.CoordinatorMessage{Content: reply, SenderName: h.opts.AssistantName})
		}
	}
	if assoc.Role == conversation.RoleCoordinator && h.opts.WhiteboardAutoUpdate {
		h.refreshWhiteboard(ctx, caller)
	}
	return nil
}

// OnFileEvent handles a file created, updated or deleted in a conversation.
func (h *Handler) OnFileEvent(ctx context.Context, caller project.Caller, ev filesync.FileEvent) error {
	assoc, ok, err := h.ensureRole(ctx, caller)
	if err != nil || !ok || assoc.Role != conversation.RoleCoordinator {
		return err
	}
	report, err := h.files.HandleFileEvent(ctx, caller, ev)
	if err != nil {
		return h.replyError(ctx, caller.ConversationID, err)
	}
	if report != nil && report.Failed > 0 {
		h.logger.Warn().
			Str("project_id", report.ProjectID).
			Str("filename", report.Filename).
			Int("failed", report.Failed).
			Msg("file not delivered to every team conversation")
	}
	return nil
}

// OnParticipant handles a participant joining or leaving a conversation.
// A user joining a team conversation triggers a file re-sync.
func (h *Handler) OnParticipant(ctx context.Context, conversationID string, p conversation.Participant, joined bool) error {
	if p.Role == "assistant" || p.ID == h.opts.AssistantID {
		return nil
	}
	caller := project.Caller{ConversationID: conversationID, UserID: p.ID, UserName: p.Name}
	assoc, ok, err := h.ensureRole(ctx, caller)
	if err != nil || !ok {
		return err
	}
	if err := h.projects.RecordParticipant(ctx, caller, joined); err != nil {
		h.logger.Warn().Err(err).Str("conversation_id", conversationID).Msg("participant not recorded")
	}
	if joined && assoc.Role == conversation.RoleTeam {
		h.syncTeam(ctx, assoc.ProjectID, conversationID)
	}
	return nil
}

// OnConversationCreated applies the role a new conversation was created
// with and posts the matching welcome message.
func (h *Handler) OnConversationCreated(ctx context.Context, info conversation.Info) error {
	caller := project.Caller{ConversationID: info.ID}
	assoc, ok, err := h.ensureRole(ctx, caller)
	if err != nil {
		return err
	}
	tpl := h.projects.Template()
	switch {
	case !ok:
		return h.send(ctx, info.ID, conversation.MessageTypeNotice, unconfiguredHelp)
	case assoc.Role == conversation.RoleCoordinator && tpl.WelcomeCoordinator != "":
		return h.send(ctx, info.ID, conversation.MessageTypeNotice, tpl.WelcomeCoordinator)
	case assoc.Role == conversation.RoleTeam && tpl.WelcomeTeam != "":
		return h.send(ctx, info.ID, conversation.MessageTypeNotice, tpl.WelcomeTeam)
	}
	return nil
}

// ReportFailure tells a conversation that handling its event failed.
func (h *Handler) ReportFailure(ctx context.Context, conversationID string, err error) {
	if sendErr := h.send(ctx, conversationID, conversation.MessageTypeNotice, perrors.Message(err)); sendErr != nil {
		h.logger.Error().Err(sendErr).Str("conversation_id", conversationID).Msg("failure notice not delivered")
	}
}

// ensureRole returns the conversation's association. An unconfigured
// conversation gets the role its metadata markers describe, if any.
func (h *Handler) ensureRole(ctx context.Context, caller project.Caller) (conversation.Association, bool, error) {
	assoc, ok, err := h.roles.Association(caller.ConversationID)
	if err != nil {
		return conversation.Association{}, false, err
	}
	if ok {
		return assoc, true, nil
	}

	info, err := h.client(caller.ConversationID).GetConversation(ctx)
	if err != nil {
		if errors.Is(err, perrors.ErrNotFound) {
			return conversation.Association{}, false, nil
		}
		return conversation.Association{}, false, err
	}
	detected, ok := conversation.DetectRole(info)
	if !ok {
		return conversation.Association{}, false, nil
	}

	logger := h.logger.With().
		Str("conversation_id", caller.ConversationID).
		Str("project_id", detected.ProjectID).
		Str("role", string(detected.Role)).
		Logger()
	if detected.Role == conversation.RoleTeam {
		if _, err := h.invites.Redeem(ctx, caller, detected.ProjectID); err != nil {
			if perrors.IsUserError(err) {
				logger.Warn().Err(err).Msg("detected invitation could not be redeemed")
				return conversation.Association{}, false, nil
			}
			return conversation.Association{}, false, err
		}
		h.syncTeam(ctx, detected.ProjectID, caller.ConversationID)
	} else if err := h.roles.SetRole(ctx, caller.ConversationID, detected.ProjectID, detected.Role); err != nil {
		return conversation.Association{}, false, err
	}
	logger.Info().Msg("conversation role detected")

	assoc, ok, err = h.roles.Association(caller.ConversationID)
	return assoc, ok, err
}

func (h *Handler) syncTeam(ctx context.Context, projectID, conversationID string) {
	report, err := h.files.SyncToTeam(ctx, projectID, conversationID)
	logger := h.logger.With().Str("project_id", projectID).Str("conversation_id", conversationID).Logger()
	if err != nil {
		logger.Warn().Err(err).Msg("team file sync failed")
		return
	}
	logger.Debug().Int("copied", report.Copied).Int("present", report.AlreadyPresent).Int("failed", report.Failed).Msg("team files synced")
}

func (h *Handler) mirror(ctx context.Context, caller project.Caller, msg project.CoordinatorMessage) {
	if err := h.projects.MirrorCoordinatorMessage(ctx, caller, msg); err != nil {
		h.logger.Warn().Err(err).Str("conversation_id", caller.ConversationID).Msg("coordinator message not mirrored")
	}
}

func (h *Handler) client(conversationID string) conversation.RemoteConversation {
	return h.host.Client(h.opts.AssistantID, conversationID)
}

func (h *Handler) send(ctx context.Context, conversationID string, typ conversation.MessageType, content string) error {
	return h.client(conversationID).SendMessages(ctx, conversation.Message{
		SenderName: h.opts.AssistantName,
		Type:       typ,
		Content:    content,
	})
}

// replyError shows a business failure to the conversation. Anything else is
// returned for the dispatcher to report.
func (h *Handler) replyError(ctx context.Context, conversationID string, err error) error {
	if !perrors.IsUserError(err) {
		return err
	}
	return h.send(ctx, conversationID, conversation.MessageTypeNotice, perrors.Message(err))
}
