// Package filesync mirrors files uploaded in a project's Coordinator
// conversation into the shared project store and pushes copies into every
// Team conversation.
package filesync

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/project-assistant/internal/conversation"
	perrors "github.com/p-blackswan/project-assistant/internal/errors"
	"github.com/p-blackswan/project-assistant/internal/metrics"
	"github.com/p-blackswan/project-assistant/internal/project"
	"github.com/p-blackswan/project-assistant/internal/retry"
	"github.com/p-blackswan/project-assistant/internal/storage"
)

// Op is the kind of a conversation file event.
type Op string

const (
	OpCreated Op = "created"
	OpUpdated Op = "updated"
	OpDeleted Op = "deleted"
)

// FileEvent is a file change reported by the conversation host.
type FileEvent struct {
	Op          Op     `json:"op"`
	Filename    string `json:"filename"`
	ContentType string `json:"content_type,omitempty"`
}

// Roles is the part of the role registry the syncer needs.
type Roles interface {
	Association(conversationID string) (conversation.Association, bool, error)
	ConversationsWithRole(projectID string, role conversation.Role) ([]string, error)
}

// LogAppender records file events in the project log.
type LogAppender interface {
	AppendLog(ctx context.Context, projectID string, entry project.LogEntry) error
}

// PushReport summarizes one coordinator file propagated to team
// conversations.
type PushReport struct {
	ProjectID string   `json:"project_id"`
	Filename  string   `json:"filename"`
	Targets   []string `json:"targets"`
	Pushed    int      `json:"pushed"`
	Failed    int      `json:"failed"`
}

// SyncReport summarizes a re-sync of one team conversation.
type SyncReport struct {
	Copied         int `json:"copied"`
	AlreadyPresent int `json:"already_present"`
	Failed         int `json:"failed"`
}

// Syncer implements coordinator-to-team file synchronization.
type Syncer struct {
	store       *storage.Store
	roles       Roles
	clients     conversation.ClientFactory
	assistantID string
	log         LogAppender
	retry       retry.Config
	metrics     *metrics.Metrics
	now         func() time.Time
	logger      zerolog.Logger
}

// Option configures a Syncer.
type Option func(*Syncer)

// WithRetry retries transient per-conversation failures up to n times.
func WithRetry(n int, delay time.Duration) Option {
	return func(s *Syncer) { s.retry = retry.Attempts(n, delay) }
}

// WithMetrics records sync outcomes on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Syncer) { s.metrics = m }
}

// WithLog records shared files in the project log.
func WithLog(l LogAppender) Option {
	return func(s *Syncer) { s.log = l }
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Syncer) { s.now = now }
}

// New creates a Syncer.
func New(store *storage.Store, roles Roles, clients conversation.ClientFactory, assistantID string, logger zerolog.Logger, opts ...Option) *Syncer {
	s := &Syncer{
		store:       store,
		roles:       roles,
		clients:     clients,
		assistantID: assistantID,
		retry:       retry.Attempts(0, 0),
		now:         func() time.Time { return time.Now().UTC() },
		logger:      logger.With().Str("component", "filesync.syncer").Logger(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// HandleFileEvent routes a file event of caller's conversation. Only
// coordinator files are synchronized; events from any other conversation
// return a nil report.
func (s *Syncer) HandleFileEvent(ctx context.Context, caller project.Caller, ev FileEvent) (*PushReport, error) {
	a, found, err := s.roles.Association(caller.ConversationID)
	if err != nil {
		return nil, fmt.Errorf("resolving association: %w", err)
	}
	if !found || a.Role != conversation.RoleCoordinator {
		s.logger.Debug().
			Str("conversation_id", caller.ConversationID).
			Str("filename", ev.Filename).
			Msg("ignoring file event outside a coordinator conversation")
		return nil, nil
	}

	switch ev.Op {
	case OpCreated, OpUpdated:
		return s.mirror(ctx, a.ProjectID, caller, ev.Filename, ev.ContentType)
	case OpDeleted:
		return s.remove(ctx, a.ProjectID, caller, ev.Filename)
	default:
		return nil, perrors.New(perrors.ErrInvalidInput, "Unknown file event %q.", ev.Op)
	}
}

// MirrorCoordinatorFile copies filename from the coordinator conversation
// into the shared store and pushes it to every team conversation.
func (s *Syncer) MirrorCoordinatorFile(ctx context.Context, caller project.Caller, filename, contentType string) (*PushReport, error) {
	pid, err := s.coordinatorProject(caller)
	if err != nil {
		return nil, err
	}
	return s.mirror(ctx, pid, caller, filename, contentType)
}

// DeleteCoordinatorFile removes filename from the shared store and from team
// conversations that hold a copy. Deleting a missing file succeeds.
func (s *Syncer) DeleteCoordinatorFile(ctx context.Context, caller project.Caller, filename string) (*PushReport, error) {
	pid, err := s.coordinatorProject(caller)
	if err != nil {
		return nil, err
	}
	return s.remove(ctx, pid, caller, filename)
}

func (s *Syncer) coordinatorProject(caller project.Caller) (string, error) {
	a, found, err := s.roles.Association(caller.ConversationID)
	if err != nil {
		return "", fmt.Errorf("resolving association: %w", err)
	}
	if !found {
		return "", perrors.New(perrors.ErrNoProject, "This conversation is not associated with a project.")
	}
	if a.Role != conversation.RoleCoordinator {
		return "", perrors.New(perrors.ErrDenied, "Only the Coordinator can share files with the team.")
	}
	return a.ProjectID, nil
}

func (s *Syncer) mirror(ctx context.Context, pid string, caller project.Caller, filename, contentType string) (*PushReport, error) {
	if !storage.ValidName(filename) || filename == storage.FileMetadataName {
		return nil, perrors.New(perrors.ErrInvalidInput, "Invalid filename %q.", filename)
	}
	data, err := s.clients.Client(s.assistantID, caller.ConversationID).ReadFile(ctx, filename)
	if err != nil {
		s.metrics.RecordFileSync("mirror", "failed")
		return nil, fmt.Errorf("reading %s from coordinator conversation: %w", filename, err)
	}
	if err := s.store.WriteFile(pid, filename, data); err != nil {
		s.metrics.RecordFileSync("mirror", "failed")
		return nil, err
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if err := s.upsertMetadata(pid, caller, filename, contentType, int64(len(data))); err != nil {
		return nil, err
	}
	s.metrics.RecordFileSync("mirror", "ok")

	report := &PushReport{ProjectID: pid, Filename: filename}
	teams, err := s.roles.ConversationsWithRole(pid, conversation.RoleTeam)
	if err != nil {
		s.logger.Error().Err(err).Str("project_id", pid).Msg("failed to list team conversations")
	}
	report.Targets = teams
	for _, cid := range teams {
		err := s.call(ctx, "push", pid, cid, func(ctx context.Context, c conversation.RemoteConversation) error {
			return c.WriteFile(ctx, filename, contentType, data)
		})
		if err != nil {
			report.Failed++
			continue
		}
		report.Pushed++
	}

	s.appendLog(ctx, pid, caller, fmt.Sprintf("File shared: %s", filename), filename, map[string]string{
		"content_type": contentType,
		"size":         fmt.Sprint(len(data)),
	})
	s.logger.Info().
		Str("project_id", pid).
		Str("filename", filename).
		Int("pushed", report.Pushed).
		Int("failed", report.Failed).
		Msg("coordinator file mirrored")
	return report, nil
}

func (s *Syncer) remove(ctx context.Context, pid string, caller project.Caller, filename string) (*PushReport, error) {
	if !storage.ValidName(filename) || filename == storage.FileMetadataName {
		return nil, perrors.New(perrors.ErrInvalidInput, "Invalid filename %q.", filename)
	}
	if err := s.store.DeleteFile(pid, filename); err != nil {
		return nil, err
	}
	var coll project.ProjectFileCollection
	err := s.store.Update(pid, storage.KindFileMetadata, &coll, func(found bool) error {
		if !found {
			return errUnchanged
		}
		if _, ok := coll.Files[filename]; !ok {
			return errUnchanged
		}
		delete(coll.Files, filename)
		coll.Stamp(caller, s.now())
		return nil
	})
	if err != nil && !errors.Is(err, errUnchanged) {
		return nil, err
	}
	s.metrics.RecordFileSync("delete", "ok")

	report := &PushReport{ProjectID: pid, Filename: filename}
	teams, err := s.roles.ConversationsWithRole(pid, conversation.RoleTeam)
	if err != nil {
		s.logger.Error().Err(err).Str("project_id", pid).Msg("failed to list team conversations")
	}
	report.Targets = teams
	for _, cid := range teams {
		err := s.call(ctx, "delete", pid, cid, func(ctx context.Context, c conversation.RemoteConversation) error {
			ok, err := c.FileExists(ctx, filename)
			if err != nil || !ok {
				return err
			}
			return c.DeleteFile(ctx, filename)
		})
		if err != nil {
			report.Failed++
			continue
		}
		report.Pushed++
	}
	s.logger.Info().Str("project_id", pid).Str("filename", filename).Msg("coordinator file deleted")
	return report, nil
}

// SyncToTeam copies every coordinator file of the project that the team
// conversation does not hold yet, matched by filename.
func (s *Syncer) SyncToTeam(ctx context.Context, projectID, teamCID string) (SyncReport, error) {
	var report SyncReport
	var coll project.ProjectFileCollection
	if _, err := s.store.Read(projectID, storage.KindFileMetadata, &coll); err != nil {
		return report, err
	}
	names := make([]string, 0, len(coll.Files))
	for name, f := range coll.Files {
		if f.IsCoordinatorFile {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	if len(names) == 0 {
		return report, nil
	}

	client := s.clients.Client(s.assistantID, teamCID)
	for _, name := range names {
		exists, err := client.FileExists(ctx, name)
		if err != nil {
			s.logger.Warn().Err(err).Str("project_id", projectID).Str("target", teamCID).Str("filename", name).
				Msg("failed to check team file")
			report.Failed++
			continue
		}
		if exists {
			report.AlreadyPresent++
			continue
		}
		data, found, err := s.store.ReadFile(projectID, name)
		if err != nil || !found {
			s.logger.Warn().Err(err).Str("project_id", projectID).Str("filename", name).
				Msg("shared file content missing from store")
			s.metrics.RecordFileSync("sync", "failed")
			report.Failed++
			continue
		}
		meta := coll.Files[name]
		err = s.call(ctx, "sync", projectID, teamCID, func(ctx context.Context, c conversation.RemoteConversation) error {
			return c.WriteFile(ctx, name, meta.ContentType, data)
		})
		if err != nil {
			report.Failed++
			continue
		}
		report.Copied++
	}

	s.logger.Info().
		Str("project_id", projectID).
		Str("target", teamCID).
		Int("copied", report.Copied).
		Int("already_present", report.AlreadyPresent).
		Int("failed", report.Failed).
		Msg("team files synchronized")
	return report, nil
}

// errUnchanged aborts a metadata update that has nothing to write.
var errUnchanged = errors.New("unchanged")

func (s *Syncer) upsertMetadata(pid string, caller project.Caller, filename, contentType string, size int64) error {
	var coll project.ProjectFileCollection
	return s.store.Update(pid, storage.KindFileMetadata, &coll, func(found bool) error {
		now := s.now()
		coll.Stamp(caller, now)
		if coll.Files == nil {
			coll.Files = make(map[string]project.ProjectFile)
		}
		f, ok := coll.Files[filename]
		if !ok {
			f = project.ProjectFile{Filename: filename, CreatedBy: caller.UserID, CreatedAt: now}
		}
		f.ContentType = contentType
		f.Size = size
		f.UpdatedAt = now
		f.IsCoordinatorFile = true
		coll.Files[filename] = f
		return nil
	})
}

// call runs fn against conversation cid with retries and records the outcome.
func (s *Syncer) call(ctx context.Context, op, pid, cid string, fn func(context.Context, conversation.RemoteConversation) error) error {
	client := s.clients.Client(s.assistantID, cid)
	cfg := s.retry
	cfg.OnRetry = func(attempt int, err error) {
		s.logger.Warn().Err(err).Str("project_id", pid).Str("target", cid).Int("attempt", attempt).
			Msgf("file %s failed, retrying", op)
	}
	err := retry.Do(ctx, cfg, func(ctx context.Context) error { return fn(ctx, client) })
	if err != nil {
		s.metrics.RecordFileSync(op, "failed")
		s.logger.Warn().Err(err).Str("project_id", pid).Str("target", cid).Msgf("file %s failed", op)
		return err
	}
	s.metrics.RecordFileSync(op, "ok")
	return nil
}

func (s *Syncer) appendLog(ctx context.Context, pid string, caller project.Caller, message, related string, meta map[string]string) {
	if s.log == nil {
		return
	}
	err := s.log.AppendLog(ctx, pid, project.LogEntry{
		EntryType:       project.LogFileShared,
		Message:         message,
		UserID:          caller.UserID,
		UserName:        caller.UserName,
		ConversationID:  caller.ConversationID,
		RelatedEntityID: related,
		Metadata:        meta,
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("project_id", pid).Msg("failed to append project log")
	}
}
