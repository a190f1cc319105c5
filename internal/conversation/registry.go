package conversation

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/project-assistant/internal/storage"
)

// AssociationFile is the per-conversation side file holding the project
// association. It lives in the conversation's own namespace, not under the
// project tree.
const AssociationFile = "project_association.json"

// Registry maps conversations to projects and roles.
//
// The association is the source of truth for a conversation's role; the
// project's linked_conversations index is maintained alongside it so that
// fan-out can enumerate a project's conversations without scanning every
// conversation namespace.
type Registry struct {
	root   string // conversation namespace root
	store  *storage.Store
	locks  *storage.Locker
	now    func() time.Time
	logger zerolog.Logger
}

// NewRegistry creates a registry with side files under convRoot.
func NewRegistry(convRoot string, store *storage.Store, logger zerolog.Logger) *Registry {
	return &Registry{
		root:   convRoot,
		store:  store,
		locks:  storage.NewLocker(),
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger.With().Str("component", "conversation.registry").Logger(),
	}
}

func (r *Registry) sideFile(conversationID string) (string, error) {
	if !storage.ValidName(conversationID) {
		return "", fmt.Errorf("%w: conversation id %q", storage.ErrInvalidName, conversationID)
	}
	return filepath.Join(r.root, conversationID, AssociationFile), nil
}

// Associate links a conversation to a project without a role. An existing
// role for the same project is kept.
func (r *Registry) Associate(ctx context.Context, conversationID, projectID string) error {
	path, err := r.sideFile(conversationID)
	if err != nil {
		return err
	}
	unlock := r.locks.Lock(conversationID)
	defer unlock()

	var a Association
	if _, err := storage.ReadJSONFile(path, &a); err != nil && !errors.Is(err, storage.ErrCorrupt) {
		return err
	}
	if a.ProjectID != projectID {
		a = Association{ProjectID: projectID, AssociatedAt: r.now()}
	}
	return storage.WriteJSONFile(path, a)
}

// SetRole associates a conversation with a project under role and records
// it in the project's link index.
func (r *Registry) SetRole(ctx context.Context, conversationID, projectID string, role Role) error {
	if !role.Valid() {
		return fmt.Errorf("set role: unknown role %q", role)
	}
	path, err := r.sideFile(conversationID)
	if err != nil {
		return err
	}
	unlock := r.locks.Lock(conversationID)
	defer unlock()

	var a Association
	if _, err := storage.ReadJSONFile(path, &a); err != nil && !errors.Is(err, storage.ErrCorrupt) {
		return err
	}
	now := r.now()
	if a.ProjectID != projectID || a.AssociatedAt.IsZero() {
		a.AssociatedAt = now
	}
	a.ProjectID = projectID
	a.Role = role
	if err := storage.WriteJSONFile(path, a); err != nil {
		return err
	}

	link := Link{ConversationID: conversationID, Role: role, LinkedAt: now}
	if err := r.store.WriteItem(projectID, storage.CollectionLinks, conversationID, link); err != nil {
		return fmt.Errorf("writing link index: %w", err)
	}

	r.logger.Debug().
		Str("conversation_id", conversationID).
		Str("project_id", projectID).
		Str("role", string(role)).
		Msg("role assigned")
	return nil
}

// Association returns a conversation's association. A missing or unreadable
// side file reports found=false; the conversation is unconfigured.
func (r *Registry) Association(conversationID string) (Association, bool, error) {
	path, err := r.sideFile(conversationID)
	if err != nil {
		return Association{}, false, err
	}
	var a Association
	found, err := storage.ReadJSONFile(path, &a)
	if errors.Is(err, storage.ErrCorrupt) {
		r.logger.Warn().Err(err).Str("conversation_id", conversationID).Msg("unreadable association")
		return Association{}, false, nil
	}
	if err != nil || !found || a.ProjectID == "" {
		return Association{}, false, err
	}
	return a, true, nil
}

// Role returns the conversation's role, if any.
func (r *Registry) Role(conversationID string) (Role, bool) {
	a, found, err := r.Association(conversationID)
	if err != nil {
		r.logger.Warn().Err(err).Str("conversation_id", conversationID).Msg("role lookup failed")
		return "", false
	}
	if !found || a.Role == "" {
		return "", false
	}
	return a.Role, true
}

// ProjectID returns the conversation's project, if any.
func (r *Registry) ProjectID(conversationID string) (string, bool) {
	a, found, err := r.Association(conversationID)
	if err != nil {
		r.logger.Warn().Err(err).Str("conversation_id", conversationID).Msg("project lookup failed")
		return "", false
	}
	return a.ProjectID, found
}

// Disassociate removes a conversation's association and its link entry.
func (r *Registry) Disassociate(ctx context.Context, conversationID string) error {
	path, err := r.sideFile(conversationID)
	if err != nil {
		return err
	}
	unlock := r.locks.Lock(conversationID)
	defer unlock()

	var a Association
	found, err := storage.ReadJSONFile(path, &a)
	if err != nil && !errors.Is(err, storage.ErrCorrupt) {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing association: %w", err)
	}
	if found && a.ProjectID != "" {
		if err := r.store.DeleteItem(a.ProjectID, storage.CollectionLinks, conversationID); err != nil {
			return err
		}
	}
	return nil
}

// Links returns every conversation linked to a project, ordered by link
// time then ID.
func (r *Registry) Links(projectID string) ([]Link, error) {
	ids, err := r.store.ListItems(projectID, storage.CollectionLinks)
	if err != nil {
		return nil, err
	}
	links := make([]Link, 0, len(ids))
	for _, id := range ids {
		var l Link
		found, err := r.store.ReadItem(projectID, storage.CollectionLinks, id, &l)
		if err != nil {
			return nil, err
		}
		if !found {
			continue
		}
		if l.ConversationID == "" {
			l.ConversationID = id
		}
		links = append(links, l)
	}
	sort.SliceStable(links, func(i, j int) bool {
		if !links[i].LinkedAt.Equal(links[j].LinkedAt) {
			return links[i].LinkedAt.Before(links[j].LinkedAt)
		}
		return links[i].ConversationID < links[j].ConversationID
	})
	return links, nil
}

// LinkedConversations returns the other conversations linked to the same
// project as conversationID. Unconfigured conversations have none.
func (r *Registry) LinkedConversations(ctx context.Context, conversationID string) ([]string, error) {
	a, found, err := r.Association(conversationID)
	if err != nil || !found {
		return nil, err
	}
	links, err := r.Links(a.ProjectID)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(links))
	for _, l := range links {
		if l.ConversationID != conversationID {
			out = append(out, l.ConversationID)
		}
	}
	return out, nil
}

// ConversationsWithRole returns the IDs linked to a project under role.
func (r *Registry) ConversationsWithRole(projectID string, role Role) ([]string, error) {
	links, err := r.Links(projectID)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, l := range links {
		if l.Role == role {
			out = append(out, l.ConversationID)
		}
	}
	return out, nil
}
