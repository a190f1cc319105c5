package project

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/p-blackswan/project-assistant/internal/conversation"
	perrors "github.com/p-blackswan/project-assistant/internal/errors"
	"github.com/p-blackswan/project-assistant/internal/storage"
)

// ProjectInfo returns the caller's project record.
func (m *Manager) ProjectInfo(ctx context.Context, caller Caller) (*ProjectInfo, error) {
	pid, _, err := m.resolve(caller)
	if err != nil {
		return nil, err
	}
	return m.readInfo(pid)
}

// Brief returns the caller's project brief, or ErrNotFound before one exists.
func (m *Manager) Brief(ctx context.Context, caller Caller) (*ProjectBrief, error) {
	pid, _, err := m.resolve(caller)
	if err != nil {
		return nil, err
	}
	return m.LoadBrief(pid)
}

// Whiteboard returns the caller's project whiteboard, or ErrNotFound.
func (m *Manager) Whiteboard(ctx context.Context, caller Caller) (*ProjectWhiteboard, error) {
	pid, _, err := m.resolve(caller)
	if err != nil {
		return nil, err
	}
	return m.LoadWhiteboard(pid)
}

// Log returns the caller's project log. A project without entries yields an
// empty log.
func (m *Manager) Log(ctx context.Context, caller Caller) (*ProjectLog, error) {
	pid, _, err := m.resolve(caller)
	if err != nil {
		return nil, err
	}
	return m.LoadLog(pid)
}

// CoordinatorConversation returns the mirrored coordinator chat.
func (m *Manager) CoordinatorConversation(ctx context.Context, caller Caller) (*CoordinatorConversation, error) {
	pid, _, err := m.resolve(caller)
	if err != nil {
		return nil, err
	}
	var conv CoordinatorConversation
	if _, err := m.store.Read(pid, storage.KindCoordinatorConversation, &conv); err != nil {
		return nil, err
	}
	if conv.Messages == nil {
		conv.Messages = []CoordinatorMessage{}
	}
	return &conv, nil
}

// Files returns the shared file metadata of the caller's project.
func (m *Manager) Files(ctx context.Context, caller Caller) ([]ProjectFile, error) {
	pid, _, err := m.resolve(caller)
	if err != nil {
		return nil, err
	}
	return m.LoadFiles(pid)
}

// --- reads by project ID, used by the HTTP API ---

// LoadInfo returns the project record of projectID.
func (m *Manager) LoadInfo(projectID string) (*ProjectInfo, error) {
	if !storage.ValidName(projectID) {
		return nil, perrors.New(perrors.ErrNotFound, "Project %q could not be found.", projectID)
	}
	return m.readInfo(projectID)
}

// LoadBrief returns the brief of projectID.
func (m *Manager) LoadBrief(projectID string) (*ProjectBrief, error) {
	if !storage.ValidName(projectID) {
		return nil, perrors.New(perrors.ErrNotFound, "Project %q could not be found.", projectID)
	}
	brief, err := m.readBrief(projectID)
	if err != nil {
		return nil, err
	}
	if brief == nil {
		return nil, perrors.New(perrors.ErrNotFound, "No project brief has been created yet.")
	}
	return brief, nil
}

// LoadWhiteboard returns the whiteboard of projectID.
func (m *Manager) LoadWhiteboard(projectID string) (*ProjectWhiteboard, error) {
	if !storage.ValidName(projectID) {
		return nil, perrors.New(perrors.ErrNotFound, "Project %q could not be found.", projectID)
	}
	wb, err := m.readWhiteboard(projectID)
	if err != nil {
		return nil, err
	}
	if wb == nil {
		return nil, perrors.New(perrors.ErrNotFound, "The whiteboard is empty.")
	}
	return wb, nil
}

// LoadLog returns the log of projectID.
func (m *Manager) LoadLog(projectID string) (*ProjectLog, error) {
	if !storage.ValidName(projectID) {
		return nil, perrors.New(perrors.ErrNotFound, "Project %q could not be found.", projectID)
	}
	var log ProjectLog
	if _, err := m.store.Read(projectID, storage.KindLog, &log); err != nil {
		return nil, err
	}
	if log.Entries == nil {
		log.Entries = []LogEntry{}
	}
	return &log, nil
}

// LoadRequests returns the information requests of projectID, oldest first.
func (m *Manager) LoadRequests(projectID string) ([]*InformationRequest, error) {
	if !storage.ValidName(projectID) {
		return nil, perrors.New(perrors.ErrNotFound, "Project %q could not be found.", projectID)
	}
	return m.listRequests(projectID)
}

// LoadFiles returns the shared file metadata of projectID sorted by name.
func (m *Manager) LoadFiles(projectID string) ([]ProjectFile, error) {
	if !storage.ValidName(projectID) {
		return nil, perrors.New(perrors.ErrNotFound, "Project %q could not be found.", projectID)
	}
	var coll ProjectFileCollection
	if _, err := m.store.Read(projectID, storage.KindFileMetadata, &coll); err != nil {
		return nil, err
	}
	files := make([]ProjectFile, 0, len(coll.Files))
	for _, f := range coll.Files {
		files = append(files, f)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Filename < files[j].Filename })
	return files, nil
}

// --- supplemented operations ---

// MirrorCoordinatorMessage appends a coordinator chat message to the shared
// mirror, keeping the most recent CoordinatorMessageLimit messages. Calls
// from other roles are ignored.
func (m *Manager) MirrorCoordinatorMessage(ctx context.Context, caller Caller, msg CoordinatorMessage) error {
	pid, role, err := m.resolve(caller)
	if err != nil {
		return err
	}
	if role != conversation.RoleCoordinator || strings.TrimSpace(msg.Content) == "" {
		return nil
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = m.now()
	}
	var conv CoordinatorConversation
	return m.store.Update(pid, storage.KindCoordinatorConversation, &conv, func(found bool) error {
		if found {
			conv.touch(caller, m.now())
		} else {
			conv.init(caller, m.now())
		}
		conv.Messages = append(conv.Messages, msg)
		if n := len(conv.Messages); n > CoordinatorMessageLimit {
			conv.Messages = append([]CoordinatorMessage(nil), conv.Messages[n-CoordinatorMessageLimit:]...)
		}
		return nil
	})
}

// RecordParticipant logs a participant joining or leaving one of the
// project's conversations.
func (m *Manager) RecordParticipant(ctx context.Context, caller Caller, joined bool) error {
	pid, role, err := m.resolve(caller)
	if err != nil {
		return err
	}
	if role == conversation.RoleShareableTemplate {
		return nil
	}
	typ, verb := LogParticipantJoined, "joined"
	if !joined {
		typ, verb = LogParticipantLeft, "left"
	}
	m.logEvent(ctx, pid, caller, typ, fmt.Sprintf("%s %s the %s conversation", displayName(caller), verb, role.Label()),
		caller.ConversationID, map[string]string{"role": string(role)})
	return nil
}

// LogCustom appends a free-form entry to the project log.
func (m *Manager) LogCustom(ctx context.Context, caller Caller, message string, meta map[string]string) (err error) {
	defer m.record("log_custom", &err)

	pid, _, err := m.require(caller, "add log entries", conversation.RoleCoordinator, conversation.RoleTeam)
	if err != nil {
		return err
	}
	message = strings.TrimSpace(message)
	if message == "" {
		return perrors.New(perrors.ErrInvalidInput, "A log entry needs a message.")
	}
	return m.AppendLog(ctx, pid, LogEntry{
		EntryType:      LogCustom,
		Message:        message,
		UserID:         caller.UserID,
		UserName:       caller.UserName,
		ConversationID: caller.ConversationID,
		Metadata:       meta,
	})
}

// Summary renders a markdown digest of the caller's project: status,
// progress, goals, open requests and whiteboard.
func (m *Manager) Summary(ctx context.Context, caller Caller) (string, error) {
	pid, role, err := m.resolve(caller)
	if err != nil {
		return "", err
	}
	info, err := m.readInfo(pid)
	if err != nil {
		return "", err
	}
	brief, err := m.readBrief(pid)
	if err != nil {
		return "", err
	}
	wb, err := m.readWhiteboard(pid)
	if err != nil {
		return "", err
	}
	reqs, err := m.listRequests(pid)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	name := info.Name
	if brief != nil && brief.ProjectName != "" {
		name = brief.ProjectName
	}
	fmt.Fprintf(&b, "## %s\n\n", name)
	fmt.Fprintf(&b, "**Role:** %s\n", role.Label())
	fmt.Fprintf(&b, "**Status:** %s", stateLabel(info.State))
	if info.StatusMessage != "" {
		fmt.Fprintf(&b, " (%s)", info.StatusMessage)
	}
	b.WriteString("\n")
	if m.policy.tracksProgress() {
		fmt.Fprintf(&b, "**Progress:** %d%% (%d/%d criteria)\n", info.ProgressPercentage, info.CompletedCriteria, info.TotalCriteria)
	}
	if role == conversation.RoleCoordinator && info.ShareURL != "" {
		fmt.Fprintf(&b, "**Invitation:** %s (code `%s`)\n", info.ShareURL, info.ProjectID)
	}

	if brief != nil {
		if brief.ProjectDescription != "" {
			fmt.Fprintf(&b, "\n%s\n", brief.ProjectDescription)
		}
		if len(brief.Goals) > 0 {
			b.WriteString("\n### Goals\n")
			for gi, g := range brief.Goals {
				fmt.Fprintf(&b, "%d. **%s**", gi+1, g.Name)
				if g.Description != "" {
					fmt.Fprintf(&b, ": %s", g.Description)
				}
				b.WriteString("\n")
				for _, c := range g.SuccessCriteria {
					mark := " "
					if c.Completed {
						mark = "x"
					}
					fmt.Fprintf(&b, "   - [%s] %s\n", mark, c.Description)
				}
			}
		}
	} else {
		b.WriteString("\n_No brief yet._\n")
	}

	open := 0
	var lines strings.Builder
	for _, r := range reqs {
		if r.Status == RequestResolved {
			continue
		}
		open++
		fmt.Fprintf(&lines, "- %s [%s, %s] `%s`\n", r.Title, r.Priority, stateLabel(ProjectState(r.Status)), r.RequestID)
	}
	if open > 0 {
		fmt.Fprintf(&b, "\n### Open information requests (%d)\n%s", open, lines.String())
	}
	if len(info.NextActions) > 0 {
		b.WriteString("\n### Next actions\n")
		for _, a := range info.NextActions {
			fmt.Fprintf(&b, "- %s\n", a)
		}
	}
	if wb != nil && strings.TrimSpace(wb.Content) != "" {
		fmt.Fprintf(&b, "\n### Whiteboard\n%s\n", strings.TrimSpace(wb.Content))
	}
	return b.String(), nil
}
