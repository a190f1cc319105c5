package project

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/p-blackswan/project-assistant/internal/conversation"
	perrors "github.com/p-blackswan/project-assistant/internal/errors"
	"github.com/p-blackswan/project-assistant/internal/storage"
)

// CreateProject creates a project with the caller's conversation as its
// Coordinator. A conversation already associated with a project is refused.
func (m *Manager) CreateProject(ctx context.Context, caller Caller, name string) (info *ProjectInfo, err error) {
	defer m.record("create_project", &err)

	_, found, err := m.registry.Association(caller.ConversationID)
	if err != nil {
		return nil, fmt.Errorf("resolving association: %w", err)
	}
	if found {
		return nil, perrors.New(perrors.ErrAlreadyAssociated,
			"This conversation is already associated with a project. Start a new conversation to create another project.")
	}

	name = strings.TrimSpace(name)
	if name == "" {
		name = "Untitled project"
	}
	projectID := uuid.New().String()
	now := m.now()

	info = &ProjectInfo{
		ProjectID:                 projectID,
		Name:                      name,
		Template:                  m.template.Name,
		CoordinatorConversationID: caller.ConversationID,
		State:                     StatePlanning,
		ActiveRequests:            []string{},
		ActiveBlockers:            []string{},
		NextActions:               []string{},
		Lifecycle:                 map[string]string{"created_at": now.Format(time.RFC3339)},
	}
	info.init(caller, now)

	if m.shares != nil {
		share, err := m.shares.Provision(ctx, projectID, name, caller)
		if err != nil {
			m.logger.Warn().Err(err).Str("project_id", projectID).Msg("share provisioning failed, continuing without share link")
		} else {
			info.TeamConversationID = share.TemplateConversationID
			info.ShareURL = share.ShareURL
		}
	}

	if err := m.store.Write(projectID, storage.KindProject, info); err != nil {
		return nil, err
	}
	if err := m.registry.SetRole(ctx, caller.ConversationID, projectID, conversation.RoleCoordinator); err != nil {
		return nil, err
	}

	m.logEvent(ctx, projectID, caller, LogProjectStarted, fmt.Sprintf("Project %q created by %s", name, displayName(caller)), projectID, nil)
	m.announce(ctx, projectID, caller, "")

	m.logger.Info().
		Str("project_id", projectID).
		Str("conversation_id", caller.ConversationID).
		Msg("project created")
	return info, nil
}

// JoinProject links the caller's conversation to projectID as a Team
// conversation.
func (m *Manager) JoinProject(ctx context.Context, caller Caller, projectID string) (info *ProjectInfo, err error) {
	defer m.record("join_project", &err)

	a, found, err := m.registry.Association(caller.ConversationID)
	if err != nil {
		return nil, fmt.Errorf("resolving association: %w", err)
	}
	if found {
		if a.ProjectID == projectID && a.Role == conversation.RoleTeam {
			return m.readInfo(projectID)
		}
		return nil, perrors.New(perrors.ErrAlreadyAssociated,
			"This conversation is already associated with a project. Open a new conversation to join another one.")
	}

	projectID = strings.TrimSpace(projectID)
	if !storage.ValidName(projectID) || !m.store.Exists(projectID) {
		return nil, perrors.New(perrors.ErrNotFound, "No project found for invitation code %q.", projectID)
	}
	info, err = m.readInfo(projectID)
	if err != nil {
		return nil, err
	}
	if caller.ConversationID == info.TeamConversationID {
		return nil, perrors.New(perrors.ErrDenied, "The shareable template conversation cannot join its own project.")
	}

	if err := m.registry.SetRole(ctx, caller.ConversationID, projectID, conversation.RoleTeam); err != nil {
		return nil, err
	}

	m.logEvent(ctx, projectID, caller, LogParticipantJoined, fmt.Sprintf("%s joined the project", displayName(caller)), caller.ConversationID, nil)
	m.announce(ctx, projectID, caller, fmt.Sprintf("%s joined the project as a team member.", displayName(caller)))

	m.logger.Info().
		Str("project_id", projectID).
		Str("conversation_id", caller.ConversationID).
		Msg("team conversation joined")
	return info, nil
}

// MarkProjectReadyForWorking moves a planning project to ready_for_working.
// Preconditions are checked in order: brief, goal, criterion, whiteboard.
func (m *Manager) MarkProjectReadyForWorking(ctx context.Context, caller Caller) (info *ProjectInfo, err error) {
	defer m.record("mark_project_ready_for_working", &err)

	pid, _, err := m.require(caller, "mark the project ready for working", conversation.RoleCoordinator)
	if err != nil {
		return nil, err
	}
	if err := m.checkReady(pid); err != nil {
		return nil, err
	}

	info, err = m.updateInfo(pid, caller, func(info *ProjectInfo) error {
		if info.State == StateReadyForWorking {
			return perrors.New(perrors.ErrInvalidState, "The project is already ready for working.")
		}
		if !CanTransitionState(info.State, StateReadyForWorking) {
			return perrors.New(perrors.ErrInvalidState, "A %s project cannot be marked ready for working.", stateLabel(info.State))
		}
		m.setState(info, StateReadyForWorking)
		info.StatusMessage = "Ready for working"
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.logEvent(ctx, pid, caller, LogMilestonePassed, "Project marked ready for working", pid, map[string]string{"state": string(StateReadyForWorking)})
	m.announce(ctx, pid, caller, "The project is ready for working! Check the brief and whiteboard to get started.")
	return info, nil
}

func (m *Manager) checkReady(projectID string) error {
	brief, err := m.readBrief(projectID)
	if err != nil {
		return err
	}
	wb, err := m.readWhiteboard(projectID)
	if err != nil {
		return err
	}
	return m.policy.readyChecks(brief, wb)
}

// UpdateProjectState applies a dashboard update. State changes follow the
// lifecycle: ready_for_working goes through the readiness checks, in_progress
// is set by the team, completed follows CompleteProject rules. A team update
// while ready_for_working starts the project, and a started project whose
// criteria are all done completes. Manual progress applies only to templates
// that do not track criteria.
func (m *Manager) UpdateProjectState(ctx context.Context, caller Caller, u StatusUpdate) (info *ProjectInfo, err error) {
	defer m.record("update_project_state", &err)

	pid, role, err := m.require(caller, "update the project status", conversation.RoleCoordinator, conversation.RoleTeam)
	if err != nil {
		return nil, err
	}
	if u.State == nil && u.StatusMessage == nil && u.ProgressPercentage == nil && u.NextActions == nil {
		return nil, perrors.New(perrors.ErrInvalidInput, "Nothing to update: provide a state, status message, progress or next actions.")
	}
	if u.State != nil && *u.State == StateReadyForWorking {
		if role != conversation.RoleCoordinator {
			return nil, perrors.New(perrors.ErrDenied, "Only the Coordinator can mark the project ready for working.")
		}
		if err := m.checkReady(pid); err != nil {
			return nil, err
		}
	}
	if u.State != nil && *u.State == StateCompleted {
		msg := ""
		if u.StatusMessage != nil {
			msg = *u.StatusMessage
		}
		return m.completeProject(ctx, caller, pid, role, msg)
	}

	var from ProjectState
	info, err = m.updateInfo(pid, caller, func(info *ProjectInfo) error {
		from = info.State
		if IsTerminal(info.State) {
			return perrors.New(perrors.ErrInvalidState, "The project is %s; its status can no longer change.", stateLabel(info.State))
		}
		if u.State != nil && *u.State != info.State {
			to := *u.State
			if !ValidState(to) {
				return perrors.New(perrors.ErrInvalidInput, "Unknown project state %q.", to)
			}
			if !CanTransitionState(info.State, to) {
				return perrors.New(perrors.ErrInvalidState, "Cannot move the project from %s to %s.", stateLabel(info.State), stateLabel(to))
			}
			if to == StateInProgress && role != conversation.RoleTeam {
				return perrors.New(perrors.ErrDenied, "Only the Team can start work on the project.")
			}
			m.setState(info, to)
		} else if role == conversation.RoleTeam && info.State == StateReadyForWorking {
			m.setState(info, StateInProgress)
		}
		if u.StatusMessage != nil {
			info.StatusMessage = *u.StatusMessage
		}
		// Tracked projects derive progress from their success criteria.
		if u.ProgressPercentage != nil && !m.policy.tracksProgress() {
			info.ProgressPercentage = clamp(*u.ProgressPercentage, 0, 100)
		}
		if u.NextActions != nil {
			info.NextActions = u.NextActions
		}
		m.inferCompletion(info)
		return nil
	})
	if err != nil {
		return nil, err
	}

	notice := ""
	if info.State != from {
		m.logEvent(ctx, pid, caller, LogStatusChanged,
			fmt.Sprintf("Project state changed from %s to %s", stateLabel(from), stateLabel(info.State)), pid,
			map[string]string{"from": string(from), "to": string(info.State)})
		notice = fmt.Sprintf("Project status changed to %s.", stateLabel(info.State))
		switch info.State {
		case StateAborted:
			m.logEvent(ctx, pid, caller, LogProjectAborted, "Project aborted", pid, nil)
		case StateCompleted:
			m.logEvent(ctx, pid, caller, LogProjectCompleted, "All success criteria completed", pid, nil)
		}
	} else if u.StatusMessage != nil {
		m.logEvent(ctx, pid, caller, LogStatusChanged, "Status: "+*u.StatusMessage, pid, nil)
	}
	if notice != "" && info.StatusMessage != "" {
		notice += " " + info.StatusMessage
	}
	m.announce(ctx, pid, caller, notice)
	return info, nil
}

// CompleteProject marks the project completed. The Coordinator may force
// completion with a summary; the Team may complete once every success
// criterion is done.
func (m *Manager) CompleteProject(ctx context.Context, caller Caller, summary string) (info *ProjectInfo, err error) {
	defer m.record("complete_project", &err)

	pid, role, err := m.require(caller, "complete the project", conversation.RoleCoordinator, conversation.RoleTeam)
	if err != nil {
		return nil, err
	}
	return m.completeProject(ctx, caller, pid, role, summary)
}

func (m *Manager) completeProject(ctx context.Context, caller Caller, pid string, role conversation.Role, summary string) (*ProjectInfo, error) {
	summary = strings.TrimSpace(summary)
	if role == conversation.RoleCoordinator && summary == "" {
		return nil, perrors.New(perrors.ErrInvalidInput, "Provide a completion summary to complete the project.")
	}

	info, err := m.updateInfo(pid, caller, func(info *ProjectInfo) error {
		if IsTerminal(info.State) {
			return perrors.New(perrors.ErrInvalidState, "The project is already %s.", stateLabel(info.State))
		}
		if role == conversation.RoleTeam {
			if err := m.policy.teamCompletion(info); err != nil {
				return err
			}
		}
		m.setState(info, StateCompleted)
		info.ProgressPercentage = 100
		if summary != "" {
			info.StatusMessage = summary
		} else {
			info.StatusMessage = "All success criteria completed"
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.logEvent(ctx, pid, caller, LogProjectCompleted, "Project completed: "+info.StatusMessage, pid, nil)
	m.announce(ctx, pid, caller, fmt.Sprintf("🎉 The project has been completed by %s. %s", displayName(caller), info.StatusMessage))
	return info, nil
}

// AbortProject moves a non-terminal project to aborted.
func (m *Manager) AbortProject(ctx context.Context, caller Caller, reason string) (info *ProjectInfo, err error) {
	defer m.record("abort_project", &err)

	pid, _, err := m.require(caller, "abort the project", conversation.RoleCoordinator, conversation.RoleTeam)
	if err != nil {
		return nil, err
	}
	reason = strings.TrimSpace(reason)

	info, err = m.updateInfo(pid, caller, func(info *ProjectInfo) error {
		if IsTerminal(info.State) {
			return perrors.New(perrors.ErrInvalidState, "The project is already %s.", stateLabel(info.State))
		}
		m.setState(info, StateAborted)
		info.StatusMessage = reason
		return nil
	})
	if err != nil {
		return nil, err
	}

	msg := "Project aborted"
	if reason != "" {
		msg += ": " + reason
	}
	m.logEvent(ctx, pid, caller, LogProjectAborted, msg, pid, nil)
	m.announce(ctx, pid, caller, fmt.Sprintf("%s by %s.", msg, displayName(caller)))
	return info, nil
}

func stateLabel(s ProjectState) string {
	return strings.ReplaceAll(string(s), "_", " ")
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
