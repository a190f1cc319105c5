package filesync

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p-blackswan/project-assistant/internal/conversation"
	perrors "github.com/p-blackswan/project-assistant/internal/errors"
	"github.com/p-blackswan/project-assistant/internal/project"
	"github.com/p-blackswan/project-assistant/internal/storage"
)

const (
	pid       = "proj-1"
	coordCID  = "conv-coord"
	teamCID   = "conv-team"
	team2CID  = "conv-team-2"
	tplCID    = "conv-template"
	assistant = "project-assistant"
)

var coordinator = project.Caller{ConversationID: coordCID, UserID: "u-alice", UserName: "Alice"}

type recordingLog struct{ entries []project.LogEntry }

func (r *recordingLog) AppendLog(_ context.Context, _ string, e project.LogEntry) error {
	r.entries = append(r.entries, e)
	return nil
}

// brokenClients fails every call against one conversation.
type brokenClients struct {
	conversation.ClientFactory
	broken string
}

func (b brokenClients) Client(aid, cid string) conversation.RemoteConversation {
	if cid == b.broken {
		return brokenRemote{RemoteConversation: b.ClientFactory.Client(aid, cid)}
	}
	return b.ClientFactory.Client(aid, cid)
}

type brokenRemote struct{ conversation.RemoteConversation }

func (brokenRemote) WriteFile(context.Context, string, string, []byte) error {
	return perrors.NewRemoteError("host", "write_file", 500, perrors.ErrUnavailable)
}

type testEnv struct {
	syncer *Syncer
	store  *storage.Store
	host   *conversation.LocalHost
	reg    *conversation.Registry
	log    *recordingLog
}

func setupTestSyncer(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()
	root := t.TempDir()
	store := storage.New(root, zerolog.Nop())
	reg := conversation.NewRegistry(filepath.Join(root, "conversations"), store, zerolog.Nop())
	host := conversation.NewLocalHost(filepath.Join(root, "host"), nil, zerolog.Nop())

	for cid, role := range map[string]conversation.Role{
		coordCID: conversation.RoleCoordinator,
		teamCID:  conversation.RoleTeam,
		team2CID: conversation.RoleTeam,
		tplCID:   conversation.RoleShareableTemplate,
	} {
		_, err := host.CreateConversation(ctx, conversation.Info{ID: cid})
		require.NoError(t, err)
		require.NoError(t, reg.SetRole(ctx, cid, pid, role))
	}

	log := &recordingLog{}
	return &testEnv{
		syncer: New(store, reg, host, assistant, zerolog.Nop(), WithLog(log)),
		store:  store,
		host:   host,
		reg:    reg,
		log:    log,
	}
}

func (e *testEnv) upload(t *testing.T, cid, name, content string) {
	t.Helper()
	require.NoError(t, e.host.Client(assistant, cid).WriteFile(context.Background(), name, "text/plain", []byte(content)))
}

func (e *testEnv) teamFile(t *testing.T, cid, name string) (string, bool) {
	t.Helper()
	c := e.host.Client(assistant, cid)
	ok, err := c.FileExists(context.Background(), name)
	require.NoError(t, err)
	if !ok {
		return "", false
	}
	data, err := c.ReadFile(context.Background(), name)
	require.NoError(t, err)
	return string(data), true
}

func TestHandleFileEvent_MirrorsCoordinatorFile(t *testing.T) {
	env := setupTestSyncer(t)
	ctx := context.Background()
	env.upload(t, coordCID, "notes.md", "# v1")

	report, err := env.syncer.HandleFileEvent(ctx, coordinator, FileEvent{Op: OpCreated, Filename: "notes.md", ContentType: "text/markdown"})
	require.NoError(t, err)
	require.NotNil(t, report)
	assert.ElementsMatch(t, []string{teamCID, team2CID}, report.Targets, "template conversation never receives files")
	assert.Equal(t, 2, report.Pushed)
	assert.Zero(t, report.Failed)

	data, found, err := env.store.ReadFile(pid, "notes.md")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "# v1", string(data))

	for _, cid := range []string{teamCID, team2CID} {
		got, ok := env.teamFile(t, cid, "notes.md")
		assert.True(t, ok)
		assert.Equal(t, "# v1", got)
	}
	_, ok := env.teamFile(t, tplCID, "notes.md")
	assert.False(t, ok)

	var coll project.ProjectFileCollection
	_, err = env.store.Read(pid, storage.KindFileMetadata, &coll)
	require.NoError(t, err)
	meta := coll.Files["notes.md"]
	assert.True(t, meta.IsCoordinatorFile)
	assert.Equal(t, "text/markdown", meta.ContentType)
	assert.Equal(t, int64(4), meta.Size)
	assert.Equal(t, "u-alice", meta.CreatedBy)

	require.Len(t, env.log.entries, 1)
	assert.Equal(t, project.LogFileShared, env.log.entries[0].EntryType)
}

func TestHandleFileEvent_UpdateOverwritesCopies(t *testing.T) {
	env := setupTestSyncer(t)
	ctx := context.Background()
	env.upload(t, coordCID, "notes.txt", "one")
	_, err := env.syncer.HandleFileEvent(ctx, coordinator, FileEvent{Op: OpCreated, Filename: "notes.txt"})
	require.NoError(t, err)

	env.upload(t, coordCID, "notes.txt", "two")
	_, err = env.syncer.HandleFileEvent(ctx, coordinator, FileEvent{Op: OpUpdated, Filename: "notes.txt"})
	require.NoError(t, err)

	got, _ := env.teamFile(t, teamCID, "notes.txt")
	assert.Equal(t, "two", got)

	var coll project.ProjectFileCollection
	_, err = env.store.Read(pid, storage.KindFileMetadata, &coll)
	require.NoError(t, err)
	assert.Equal(t, 2, coll.Version)
	assert.Equal(t, "application/octet-stream", coll.Files["notes.txt"].ContentType)
}

func TestHandleFileEvent_IgnoresTeamAndUnassociated(t *testing.T) {
	env := setupTestSyncer(t)
	ctx := context.Background()
	env.upload(t, teamCID, "mine.txt", "team only")

	report, err := env.syncer.HandleFileEvent(ctx, project.Caller{ConversationID: teamCID}, FileEvent{Op: OpCreated, Filename: "mine.txt"})
	require.NoError(t, err)
	assert.Nil(t, report)

	report, err = env.syncer.HandleFileEvent(ctx, project.Caller{ConversationID: "stranger"}, FileEvent{Op: OpCreated, Filename: "x"})
	require.NoError(t, err)
	assert.Nil(t, report)

	found, err := env.store.FileExists(pid, "mine.txt")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestDeleteCoordinatorFile(t *testing.T) {
	env := setupTestSyncer(t)
	ctx := context.Background()
	env.upload(t, coordCID, "plan.txt", "plan")
	_, err := env.syncer.MirrorCoordinatorFile(ctx, coordinator, "plan.txt", "text/plain")
	require.NoError(t, err)

	// team2 already removed its copy; deletion must not fail on it.
	require.NoError(t, env.host.Client(assistant, team2CID).DeleteFile(ctx, "plan.txt"))

	report, err := env.syncer.HandleFileEvent(ctx, coordinator, FileEvent{Op: OpDeleted, Filename: "plan.txt"})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Pushed)
	assert.Zero(t, report.Failed)

	_, ok := env.teamFile(t, teamCID, "plan.txt")
	assert.False(t, ok)
	found, err := env.store.FileExists(pid, "plan.txt")
	require.NoError(t, err)
	assert.False(t, found)

	// Deleting again is a no-op.
	_, err = env.syncer.DeleteCoordinatorFile(ctx, coordinator, "plan.txt")
	require.NoError(t, err)
}

func TestMirrorCoordinatorFile_Gating(t *testing.T) {
	env := setupTestSyncer(t)
	ctx := context.Background()

	_, err := env.syncer.MirrorCoordinatorFile(ctx, project.Caller{ConversationID: teamCID}, "x.txt", "")
	require.ErrorIs(t, err, perrors.ErrDenied)
	_, err = env.syncer.MirrorCoordinatorFile(ctx, project.Caller{ConversationID: "stranger"}, "x.txt", "")
	require.ErrorIs(t, err, perrors.ErrNoProject)
	_, err = env.syncer.MirrorCoordinatorFile(ctx, coordinator, "../x.txt", "")
	require.ErrorIs(t, err, perrors.ErrInvalidInput)
	_, err = env.syncer.MirrorCoordinatorFile(ctx, coordinator, storage.FileMetadataName, "")
	require.ErrorIs(t, err, perrors.ErrInvalidInput)

	_, err = env.syncer.MirrorCoordinatorFile(ctx, coordinator, "missing.txt", "")
	require.Error(t, err)
}

func TestMirror_FailingTargetDoesNotStopOthers(t *testing.T) {
	env := setupTestSyncer(t)
	ctx := context.Background()
	env.syncer.clients = brokenClients{ClientFactory: env.host, broken: teamCID}
	env.upload(t, coordCID, "a.txt", "a")

	report, err := env.syncer.MirrorCoordinatorFile(ctx, coordinator, "a.txt", "text/plain")
	require.NoError(t, err)
	assert.Equal(t, 1, report.Pushed)
	assert.Equal(t, 1, report.Failed)

	got, ok := env.teamFile(t, team2CID, "a.txt")
	assert.True(t, ok)
	assert.Equal(t, "a", got)
}

func TestSyncToTeam(t *testing.T) {
	env := setupTestSyncer(t)
	ctx := context.Background()

	report, err := env.syncer.SyncToTeam(ctx, pid, teamCID)
	require.NoError(t, err, "zero files is not an error")
	assert.Equal(t, SyncReport{}, report)

	env.upload(t, coordCID, "a.txt", "a")
	env.upload(t, coordCID, "b.txt", "b")
	_, err = env.syncer.MirrorCoordinatorFile(ctx, coordinator, "a.txt", "text/plain")
	require.NoError(t, err)
	_, err = env.syncer.MirrorCoordinatorFile(ctx, coordinator, "b.txt", "text/plain")
	require.NoError(t, err)

	// A late joiner holds none of the files.
	late := "conv-late"
	_, err = env.host.CreateConversation(ctx, conversation.Info{ID: late})
	require.NoError(t, err)
	require.NoError(t, env.reg.SetRole(ctx, late, pid, conversation.RoleTeam))
	env.upload(t, late, "a.txt", "local edit")

	report, err = env.syncer.SyncToTeam(ctx, pid, late)
	require.NoError(t, err)
	assert.Equal(t, SyncReport{Copied: 1, AlreadyPresent: 1}, report)

	got, _ := env.teamFile(t, late, "a.txt")
	assert.Equal(t, "local edit", got, "existing files are matched by name and kept")
	got, _ = env.teamFile(t, late, "b.txt")
	assert.Equal(t, "b", got)

	report, err = env.syncer.SyncToTeam(ctx, pid, late)
	require.NoError(t, err)
	assert.Equal(t, SyncReport{AlreadyPresent: 2}, report)
}
