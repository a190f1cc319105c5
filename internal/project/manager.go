package project

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/p-blackswan/project-assistant/internal/config"
	"github.com/p-blackswan/project-assistant/internal/conversation"
	perrors "github.com/p-blackswan/project-assistant/internal/errors"
	"github.com/p-blackswan/project-assistant/internal/metrics"
	"github.com/p-blackswan/project-assistant/internal/notify"
	"github.com/p-blackswan/project-assistant/internal/storage"
)

// Registry is the slice of the conversation-role registry the manager uses.
type Registry interface {
	Association(conversationID string) (conversation.Association, bool, error)
	SetRole(ctx context.Context, conversationID, projectID string, role conversation.Role) error
}

// Notifier propagates notices and UI refreshes to linked conversations.
type Notifier interface {
	SendNotice(ctx context.Context, projectID, senderCID, message string) notify.Report
	RefreshAllUIs(ctx context.Context, projectID, currentCID string) notify.Report
}

// Completer produces text from a system prompt and a user prompt.
type Completer interface {
	CompleteText(ctx context.Context, system, prompt string) (string, error)
}

// Share is the result of provisioning a project's share link.
type Share struct {
	TemplateConversationID string
	ShareURL               string
}

// ShareProvisioner creates the shareable template conversation and share
// URL of a new project.
type ShareProvisioner interface {
	Provision(ctx context.Context, projectID, projectName string, caller Caller) (Share, error)
}

// Deps holds the manager's collaborators. Notifier, Completer, Shares and
// Metrics are optional.
type Deps struct {
	Store     *storage.Store
	Registry  Registry
	Notifier  Notifier
	Completer Completer
	Shares    ShareProvisioner
	Template  config.Template
	Clock     func() time.Time
	Metrics   *metrics.Metrics
}

// Manager is the role-gated facade over the shared project state. Business
// failures come back as *perrors.UserError and leave the store untouched.
type Manager struct {
	store     *storage.Store
	registry  Registry
	notifier  Notifier
	completer Completer
	shares    ShareProvisioner
	template  config.Template
	policy    progressPolicy
	now       func() time.Time
	metrics   *metrics.Metrics
	logger    zerolog.Logger
}

// NewManager creates a project manager.
func NewManager(deps Deps, logger zerolog.Logger) *Manager {
	now := deps.Clock
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	tpl := deps.Template
	if tpl.Name == "" {
		tpl = config.DefaultTemplates()[config.TemplateProjectTracking]
	}
	return &Manager{
		store:     deps.Store,
		registry:  deps.Registry,
		notifier:  deps.Notifier,
		completer: deps.Completer,
		shares:    deps.Shares,
		template:  tpl,
		policy:    policyFor(tpl),
		now:       now,
		metrics:   deps.Metrics,
		logger:    logger.With().Str("component", "project.manager").Logger(),
	}
}

// Template returns the configuration template in effect.
func (m *Manager) Template() config.Template { return m.template }

// --- progress policy ---

// progressPolicy captures what differs between templates that track
// progress and templates that only transfer context.
type progressPolicy interface {
	tracksProgress() bool
	// readyChecks returns the first unmet precondition for ready_for_working.
	readyChecks(brief *ProjectBrief, wb *ProjectWhiteboard) error
	// teamCompletion reports whether a team member may complete the project.
	teamCompletion(info *ProjectInfo) error
}

type trackingPolicy struct{}

func (trackingPolicy) tracksProgress() bool { return true }

func (trackingPolicy) readyChecks(brief *ProjectBrief, wb *ProjectWhiteboard) error {
	if brief == nil {
		return perrors.New(perrors.ErrPrecondition, "Create a project brief before marking the project ready for working.")
	}
	if len(brief.Goals) == 0 {
		return perrors.New(perrors.ErrPrecondition, "Add at least one goal to the brief before marking the project ready for working.")
	}
	if _, total := brief.CriteriaCounts(); total == 0 {
		return perrors.New(perrors.ErrPrecondition, "Add at least one success criterion to a goal before marking the project ready for working.")
	}
	if wb == nil || strings.TrimSpace(wb.Content) == "" {
		return perrors.New(perrors.ErrPrecondition, "The whiteboard is empty. Add project context to the whiteboard before marking the project ready for working.")
	}
	return nil
}

func (trackingPolicy) teamCompletion(info *ProjectInfo) error {
	if info.TotalCriteria == 0 || info.CompletedCriteria < info.TotalCriteria {
		return perrors.New(perrors.ErrPrecondition,
			"All success criteria must be completed before the team can complete the project (%d/%d done).",
			info.CompletedCriteria, info.TotalCriteria)
	}
	return nil
}

type transferPolicy struct{}

func (transferPolicy) tracksProgress() bool { return false }

func (transferPolicy) readyChecks(brief *ProjectBrief, wb *ProjectWhiteboard) error {
	if brief == nil {
		return perrors.New(perrors.ErrPrecondition, "Create a brief before marking the knowledge ready to share.")
	}
	if wb == nil || strings.TrimSpace(wb.Content) == "" {
		return perrors.New(perrors.ErrPrecondition, "The whiteboard is empty. Add context to the whiteboard before marking it ready to share.")
	}
	return nil
}

func (transferPolicy) teamCompletion(*ProjectInfo) error {
	return perrors.New(perrors.ErrDenied, "Only the Coordinator can complete this project.")
}

func policyFor(t config.Template) progressPolicy {
	if t.TrackProgress {
		return trackingPolicy{}
	}
	return transferPolicy{}
}

// --- helpers ---

func errNoProject() error {
	return perrors.New(perrors.ErrNoProject,
		"This conversation is not associated with a project. Use /start to create one or /join <code> to join one.")
}

// resolve returns the caller's project and role.
func (m *Manager) resolve(caller Caller) (string, conversation.Role, error) {
	a, found, err := m.registry.Association(caller.ConversationID)
	if err != nil {
		return "", "", fmt.Errorf("resolving association: %w", err)
	}
	if !found {
		return "", "", errNoProject()
	}
	return a.ProjectID, a.Role, nil
}

// require resolves the caller and checks its role against allowed.
func (m *Manager) require(caller Caller, action string, allowed ...conversation.Role) (string, conversation.Role, error) {
	pid, role, err := m.resolve(caller)
	if err != nil {
		return "", "", err
	}
	for _, r := range allowed {
		if r == role {
			return pid, role, nil
		}
	}
	labels := make([]string, len(allowed))
	for i, r := range allowed {
		labels[i] = r.Label()
	}
	return "", "", perrors.New(perrors.ErrDenied, "Only the %s can %s.", strings.Join(labels, " or "), action)
}

// record counts an operation outcome. Deferred with a pointer to the named
// error result.
func (m *Manager) record(op string, errp *error) {
	err := *errp
	switch {
	case err == nil:
		m.metrics.RecordOperation(op, "ok")
	case perrors.IsUserError(err):
		m.metrics.RecordOperation(op, "rejected")
		m.logger.Debug().Str("op", op).Str("reason", err.Error()).Msg("operation rejected")
	default:
		m.metrics.RecordOperation(op, "error")
		m.logger.Error().Err(err).Str("op", op).Msg("operation failed")
	}
}

func (m *Manager) readInfo(projectID string) (*ProjectInfo, error) {
	var info ProjectInfo
	found, err := m.store.Read(projectID, storage.KindProject, &info)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, perrors.New(perrors.ErrNotFound, "Project %s could not be found.", projectID)
	}
	return &info, nil
}

func (m *Manager) readBrief(projectID string) (*ProjectBrief, error) {
	var brief ProjectBrief
	found, err := m.store.Read(projectID, storage.KindBrief, &brief)
	if err != nil || !found {
		return nil, err
	}
	return &brief, nil
}

func (m *Manager) readWhiteboard(projectID string) (*ProjectWhiteboard, error) {
	var wb ProjectWhiteboard
	found, err := m.store.Read(projectID, storage.KindWhiteboard, &wb)
	if err != nil || !found {
		return nil, err
	}
	return &wb, nil
}

// updateInfo applies fn to the project record under the store lock and
// bumps its version. fn returning an error aborts the write.
func (m *Manager) updateInfo(projectID string, caller Caller, fn func(info *ProjectInfo) error) (*ProjectInfo, error) {
	var info ProjectInfo
	err := m.store.Update(projectID, storage.KindProject, &info, func(found bool) error {
		if !found {
			return perrors.New(perrors.ErrNotFound, "Project %s could not be found.", projectID)
		}
		if err := fn(&info); err != nil {
			return err
		}
		info.touch(caller, m.now())
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &info, nil
}

// setState moves info to state and stamps the lifecycle milestone.
func (m *Manager) setState(info *ProjectInfo, state ProjectState) {
	info.State = state
	if info.Lifecycle == nil {
		info.Lifecycle = make(map[string]string)
	}
	info.Lifecycle[string(state)+"_at"] = m.now().Format(time.RFC3339)
}

// AppendLog appends entry to the project log, filling ID and timestamp.
func (m *Manager) AppendLog(ctx context.Context, projectID string, entry LogEntry) error {
	now := m.now()
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = now
	}
	author := Caller{ConversationID: entry.ConversationID, UserID: entry.UserID, UserName: entry.UserName}

	var log ProjectLog
	return m.store.Update(projectID, storage.KindLog, &log, func(found bool) error {
		if !found {
			log = ProjectLog{}
			log.init(author, now)
		} else {
			log.touch(author, now)
		}
		log.Entries = append(log.Entries, entry)
		return nil
	})
}

// logEvent appends a log entry on behalf of caller. The primary mutation has
// already happened, so a failure is logged and swallowed.
func (m *Manager) logEvent(ctx context.Context, projectID string, caller Caller, typ LogEntryType, message, related string, meta map[string]string) {
	entry := LogEntry{
		EntryType:       typ,
		Message:         message,
		UserID:          caller.UserID,
		UserName:        caller.UserName,
		ConversationID:  caller.ConversationID,
		RelatedEntityID: related,
		Metadata:        meta,
	}
	if err := m.AppendLog(ctx, projectID, entry); err != nil {
		m.logger.Warn().Err(err).
			Str("project_id", projectID).
			Str("entry_type", string(typ)).
			Msg("failed to append project log")
	}
}

// announce sends notice (when non-empty) to the other linked conversations
// and refreshes every linked UI.
func (m *Manager) announce(ctx context.Context, projectID string, caller Caller, notice string) {
	if m.notifier == nil {
		return
	}
	if notice != "" {
		m.notifier.SendNotice(ctx, projectID, caller.ConversationID, notice)
	}
	m.notifier.RefreshAllUIs(ctx, projectID, caller.ConversationID)
}

func displayName(c Caller) string {
	if c.UserName != "" {
		return c.UserName
	}
	if c.UserID != "" {
		return c.UserID
	}
	return "Someone"
}

func removeID(ids []string, id string) []string {
	out := ids[:0]
	for _, x := range ids {
		if x != id {
			out = append(out, x)
		}
	}
	return out
}

func appendUnique(ids []string, id string) []string {
	for _, x := range ids {
		if x == id {
			return ids
		}
	}
	return append(ids, id)
}
