package project

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/p-blackswan/project-assistant/internal/conversation"
	perrors "github.com/p-blackswan/project-assistant/internal/errors"
	"github.com/p-blackswan/project-assistant/internal/storage"
)

// CreateInformationRequest raises a request from a Team conversation to the
// Coordinator.
func (m *Manager) CreateInformationRequest(ctx context.Context, caller Caller, title, description, priority string) (req *InformationRequest, err error) {
	defer m.record("create_information_request", &err)

	pid, _, err := m.require(caller, "create information requests", conversation.RoleTeam)
	if err != nil {
		return nil, err
	}
	return m.createRequest(ctx, caller, pid, title, description, priority, SourceUser)
}

// CreateAgentRequest raises a request on the assistant's own initiative. Any
// role may use it; the request is tagged with source "agent".
func (m *Manager) CreateAgentRequest(ctx context.Context, caller Caller, title, description, priority string) (req *InformationRequest, err error) {
	defer m.record("create_agent_request", &err)

	pid, _, err := m.require(caller, "create information requests",
		conversation.RoleCoordinator, conversation.RoleTeam)
	if err != nil {
		return nil, err
	}
	return m.createRequest(ctx, caller, pid, title, description, priority, SourceAgent)
}

func (m *Manager) createRequest(ctx context.Context, caller Caller, pid, title, description, priority string, source RequestSource) (*InformationRequest, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, perrors.New(perrors.ErrInvalidInput, "An information request needs a title.")
	}
	prio, ok := ParsePriority(strings.ToLower(strings.TrimSpace(priority)))
	if !ok {
		return nil, perrors.New(perrors.ErrInvalidInput, "Unknown priority %q (use low, medium, high or critical).", priority)
	}

	now := m.now()
	req := &InformationRequest{
		RequestID:   uuid.New().String(),
		Title:       title,
		Description: strings.TrimSpace(description),
		Priority:    prio,
		Status:      RequestNew,
		Source:      source,
		Updates:     []RequestUpdate{},
	}
	req.init(caller, now)

	if err := m.store.WriteItem(pid, storage.CollectionRequests, req.RequestID, req); err != nil {
		return nil, err
	}
	if _, err := m.updateInfo(pid, caller, func(info *ProjectInfo) error {
		info.ActiveRequests = appendUnique(info.ActiveRequests, req.RequestID)
		if prio.Blocking() {
			info.ActiveBlockers = appendUnique(info.ActiveBlockers, req.RequestID)
		}
		return nil
	}); err != nil {
		m.logger.Warn().Err(err).Str("project_id", pid).Str("request_id", req.RequestID).Msg("failed to track active request")
	}

	m.logEvent(ctx, pid, caller, LogRequestCreated,
		fmt.Sprintf("Information request created: %s (%s)", title, prio), req.RequestID,
		map[string]string{"priority": string(prio), "source": string(source)})
	m.announce(ctx, pid, caller, fmt.Sprintf("New information request from %s: %s (priority: %s, id: %s)",
		displayName(caller), title, prio, req.RequestID))
	return req, nil
}

// UpdateInformationRequest appends an update to a request. The Coordinator
// may also move the status along the request lifecycle; the Team may only
// add comments.
func (m *Manager) UpdateInformationRequest(ctx context.Context, caller Caller, requestID, status, message string) (req *InformationRequest, err error) {
	defer m.record("update_information_request", &err)

	pid, role, err := m.require(caller, "update information requests", conversation.RoleCoordinator, conversation.RoleTeam)
	if err != nil {
		return nil, err
	}
	message = strings.TrimSpace(message)
	to := RequestStatus(strings.ToLower(strings.TrimSpace(status)))
	if to != "" && !ValidRequestStatus(to) {
		return nil, perrors.New(perrors.ErrInvalidInput, "Unknown request status %q.", status)
	}
	if to == RequestResolved {
		return nil, perrors.New(perrors.ErrInvalidInput, "Use resolve_information_request to resolve a request with a resolution.")
	}
	if to == "" && message == "" {
		return nil, perrors.New(perrors.ErrInvalidInput, "Provide a status or a message for the update.")
	}

	found, err := m.findRequest(pid, requestID, "")
	if err != nil {
		return nil, err
	}
	if to != "" && to != found.Status && role != conversation.RoleCoordinator {
		return nil, perrors.New(perrors.ErrDenied, "Only the Coordinator can change the status of an information request.")
	}

	req = &InformationRequest{}
	var from RequestStatus
	err = m.store.UpdateItem(pid, storage.CollectionRequests, found.RequestID, req, func(exists bool) error {
		if !exists {
			return perrors.New(perrors.ErrNotFound, "Information request %q not found.", requestID)
		}
		from = req.Status
		if req.Status == RequestResolved {
			return perrors.New(perrors.ErrInvalidState, "Request %q is already resolved.", req.Title)
		}
		if to != "" && to != req.Status {
			if !CanTransitionRequest(req.Status, to) {
				return perrors.New(perrors.ErrInvalidState, "Cannot move request %q from %s to %s.", req.Title, req.Status, to)
			}
			req.Status = to
		}
		now := m.now()
		req.Updates = append(req.Updates, RequestUpdate{
			Timestamp: now,
			UserID:    caller.UserID,
			UserName:  caller.UserName,
			Message:   message,
			Status:    to,
		})
		req.touch(caller, now)
		return nil
	})
	if err != nil {
		return nil, err
	}

	meta := map[string]string{"from": string(from), "to": string(req.Status)}
	m.logEvent(ctx, pid, caller, LogRequestUpdated, fmt.Sprintf("Information request updated: %s", req.Title), req.RequestID, meta)

	notice := fmt.Sprintf("Information request %q was updated by %s", req.Title, displayName(caller))
	if req.Status != from {
		notice += fmt.Sprintf(" (status: %s)", req.Status)
	}
	if message != "" {
		notice += ": " + message
	}
	m.announce(ctx, pid, caller, notice)
	return req, nil
}

// ResolveInformationRequest resolves a request found by lenient ID matching.
// Resolving an already resolved request succeeds without changing it.
func (m *Manager) ResolveInformationRequest(ctx context.Context, caller Caller, requestID, resolution string) (req *InformationRequest, err error) {
	defer m.record("resolve_information_request", &err)

	pid, _, err := m.require(caller, "resolve information requests", conversation.RoleCoordinator)
	if err != nil {
		return nil, err
	}
	resolution = strings.TrimSpace(resolution)
	if resolution == "" {
		return nil, perrors.New(perrors.ErrInvalidInput, "A resolution is required to resolve an information request.")
	}

	found, err := m.findRequest(pid, requestID, "")
	if err != nil {
		return nil, err
	}
	if found.Status == RequestResolved {
		return found, nil
	}

	req = &InformationRequest{}
	already := false
	err = m.store.UpdateItem(pid, storage.CollectionRequests, found.RequestID, req, func(exists bool) error {
		if !exists {
			return perrors.New(perrors.ErrNotFound, "Information request %q not found.", requestID)
		}
		if req.Status == RequestResolved {
			already = true
			return errNoWrite
		}
		now := m.now()
		req.Status = RequestResolved
		req.Resolution = resolution
		req.ResolvedAt = &now
		req.ResolvedBy = caller.UserID
		req.Updates = append(req.Updates, RequestUpdate{
			Timestamp: now,
			UserID:    caller.UserID,
			UserName:  caller.UserName,
			Message:   resolution,
			Status:    RequestResolved,
		})
		req.touch(caller, now)
		return nil
	})
	if already {
		return req, nil
	}
	if err != nil {
		return nil, err
	}

	if _, err := m.updateInfo(pid, caller, func(info *ProjectInfo) error {
		info.ActiveRequests = removeID(info.ActiveRequests, req.RequestID)
		info.ActiveBlockers = removeID(info.ActiveBlockers, req.RequestID)
		return nil
	}); err != nil {
		m.logger.Warn().Err(err).Str("project_id", pid).Str("request_id", req.RequestID).Msg("failed to untrack resolved request")
	}

	m.logEvent(ctx, pid, caller, LogRequestResolved, fmt.Sprintf("Information request resolved: %s", req.Title), req.RequestID, nil)
	m.announce(ctx, pid, caller, fmt.Sprintf("Information request %q has been resolved: %s", req.Title, resolution))
	return req, nil
}

// DeleteInformationRequest removes a request. Only the conversation that
// created it may delete it, and only before it is resolved. The Coordinator
// can only withdraw requests the assistant raised on its behalf.
func (m *Manager) DeleteInformationRequest(ctx context.Context, caller Caller, requestID string) (req *InformationRequest, err error) {
	defer m.record("delete_information_request", &err)

	pid, role, err := m.require(caller, "delete information requests", conversation.RoleTeam, conversation.RoleCoordinator)
	if err != nil {
		return nil, err
	}

	// An exact hit owned by someone else is denied outright; fuzzy matching
	// only considers this conversation's own requests.
	var exact InformationRequest
	if storage.ValidName(requestID) {
		ok, err := m.store.ReadItem(pid, storage.CollectionRequests, requestID, &exact)
		if err != nil {
			return nil, err
		}
		if ok && exact.ConversationID != caller.ConversationID {
			return nil, perrors.New(perrors.ErrDenied, "Only the conversation that created an information request can delete it.")
		}
	}
	req, err = m.findRequest(pid, requestID, caller.ConversationID)
	if err != nil {
		return nil, err
	}
	if role == conversation.RoleCoordinator && req.Source != SourceAgent {
		return nil, perrors.New(perrors.ErrDenied, "Only the Team can delete information requests it raised.")
	}
	if req.Status == RequestResolved {
		return nil, perrors.New(perrors.ErrInvalidState, "Resolved information requests cannot be deleted.")
	}

	if err := m.store.DeleteItem(pid, storage.CollectionRequests, req.RequestID); err != nil {
		return nil, err
	}
	if _, err := m.updateInfo(pid, caller, func(info *ProjectInfo) error {
		info.ActiveRequests = removeID(info.ActiveRequests, req.RequestID)
		info.ActiveBlockers = removeID(info.ActiveBlockers, req.RequestID)
		return nil
	}); err != nil {
		m.logger.Warn().Err(err).Str("project_id", pid).Str("request_id", req.RequestID).Msg("failed to untrack deleted request")
	}

	m.logEvent(ctx, pid, caller, LogRequestDeleted, fmt.Sprintf("Information request deleted: %s", req.Title), req.RequestID, nil)
	m.announce(ctx, pid, caller, fmt.Sprintf("Information request %q was withdrawn by %s.", req.Title, displayName(caller)))
	return req, nil
}

// Requests lists the project's information requests, oldest first.
func (m *Manager) Requests(ctx context.Context, caller Caller) ([]*InformationRequest, error) {
	pid, _, err := m.resolve(caller)
	if err != nil {
		return nil, err
	}
	return m.listRequests(pid)
}

// Request returns one information request by lenient ID matching.
func (m *Manager) Request(ctx context.Context, caller Caller, requestID string) (*InformationRequest, error) {
	pid, _, err := m.resolve(caller)
	if err != nil {
		return nil, err
	}
	return m.findRequest(pid, requestID, "")
}

func (m *Manager) listRequests(projectID string) ([]*InformationRequest, error) {
	ids, err := m.store.ListItems(projectID, storage.CollectionRequests)
	if err != nil {
		return nil, err
	}
	reqs := make([]*InformationRequest, 0, len(ids))
	for _, id := range ids {
		var r InformationRequest
		found, err := m.store.ReadItem(projectID, storage.CollectionRequests, id, &r)
		if err != nil {
			return nil, err
		}
		if !found {
			continue
		}
		if r.RequestID != id {
			m.logger.Warn().Str("project_id", projectID).Str("file_id", id).Str("request_id", r.RequestID).
				Msg("request id does not match its filename, using filename")
			r.RequestID = id
		}
		reqs = append(reqs, &r)
	}
	sort.SliceStable(reqs, func(i, j int) bool { return reqs[i].CreatedAt.Before(reqs[j].CreatedAt) })
	return reqs, nil
}

// findRequest locates a request by lenient ID. A non-empty ownerCID limits
// candidates to requests authored by that conversation.
func (m *Manager) findRequest(projectID, query, ownerCID string) (*InformationRequest, error) {
	reqs, err := m.listRequests(projectID)
	if err != nil {
		return nil, err
	}
	if ownerCID != "" {
		own := reqs[:0:0]
		for _, r := range reqs {
			if r.ConversationID == ownerCID {
				own = append(own, r)
			}
		}
		reqs = own
	}
	req, stage, err := matchRequest(query, reqs)
	if err != nil {
		return nil, err
	}
	if stage != "exact" {
		m.logger.Info().Str("project_id", projectID).Str("query", query).
			Str("request_id", req.RequestID).Str("stage", stage).Msg("request matched leniently")
	}
	return req, nil
}
