package conversation

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	perrors "github.com/p-blackswan/project-assistant/internal/errors"
)

func setupTestHost(t *testing.T) *LocalHost {
	t.Helper()
	return NewLocalHost(t.TempDir(), NewEventFeed(10), zerolog.Nop())
}

func TestLocalHost_CreateAndGet(t *testing.T) {
	h := setupTestHost(t)
	ctx := context.Background()

	info, err := h.CreateConversation(ctx, Info{Title: "Planning"})
	require.NoError(t, err)
	assert.NotEmpty(t, info.ID)

	got, err := h.GetConversation(ctx, info.ID)
	require.NoError(t, err)
	assert.Equal(t, "Planning", got.Title)

	_, err = h.CreateConversation(ctx, Info{ID: info.ID})
	assert.ErrorIs(t, err, perrors.ErrInvalidInput)

	_, err = h.GetConversation(ctx, "missing")
	assert.ErrorIs(t, err, perrors.ErrNotFound)
}

func TestLocalHost_Messages(t *testing.T) {
	h := setupTestHost(t)
	ctx := context.Background()
	_, err := h.CreateConversation(ctx, Info{ID: "c1"})
	require.NoError(t, err)

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, text := range []string{"one", "two", "three"} {
		_, err := h.AppendMessage(ctx, "c1", Message{Content: text, Timestamp: base.Add(time.Duration(i) * time.Minute)})
		require.NoError(t, err)
	}
	_, err = h.AppendMessage(ctx, "c1", Message{Content: "fyi", Type: MessageTypeNotice, Timestamp: base.Add(5 * time.Minute)})
	require.NoError(t, err)

	all, err := h.GetMessages(ctx, "c1", MessageQuery{})
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, MessageTypeChat, all[0].Type)
	assert.NotEmpty(t, all[0].ID)

	chats, err := h.GetMessages(ctx, "c1", MessageQuery{Types: []MessageType{MessageTypeChat}, Limit: 2})
	require.NoError(t, err)
	require.Len(t, chats, 2)
	assert.Equal(t, "two", chats[0].Content)
	assert.Equal(t, "three", chats[1].Content)

	after, err := h.GetMessages(ctx, "c1", MessageQuery{After: base.Add(time.Minute)})
	require.NoError(t, err)
	assert.Len(t, after, 2)
}

func TestLocalHost_Participants(t *testing.T) {
	h := setupTestHost(t)
	ctx := context.Background()
	_, err := h.CreateConversation(ctx, Info{ID: "c1"})
	require.NoError(t, err)

	require.NoError(t, h.SetParticipant(ctx, "c1", Participant{ID: "u1", Name: "Ada", Role: "user", Active: true}))
	require.NoError(t, h.SetParticipant(ctx, "c1", Participant{ID: "u1", Name: "Ada", Role: "user", Active: false}))

	ps, err := h.GetParticipants(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, ps, 1)
	assert.False(t, ps[0].Active)
	assert.False(t, ps[0].JoinedAt.IsZero())
}

func TestLocalClient_FilesAndEvents(t *testing.T) {
	h := setupTestHost(t)
	ctx := context.Background()
	_, err := h.CreateConversation(ctx, Info{ID: "c1"})
	require.NoError(t, err)

	c := h.Client("assistant", "c1")
	assert.Equal(t, "c1", c.ConversationID())

	require.NoError(t, c.WriteFile(ctx, "notes.md", "text/markdown", []byte("hello")))
	exists, err := c.FileExists(ctx, "notes.md")
	require.NoError(t, err)
	assert.True(t, exists)

	data, err := c.ReadFile(ctx, "notes.md")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	files, err := c.ListFiles(ctx)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, int64(5), files[0].Size)

	require.NoError(t, c.DeleteFile(ctx, "notes.md"))
	_, err = c.ReadFile(ctx, "notes.md")
	assert.ErrorIs(t, err, perrors.ErrNotFound)

	require.NoError(t, c.SendMessages(ctx, Message{Type: MessageTypeNotice, Content: "heads up"}))
	msgs, err := h.GetMessages(ctx, "c1", MessageQuery{})
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.True(t, msgs[0].FromAssistant)
	assert.Equal(t, "assistant", msgs[0].SenderID)

	require.NoError(t, c.SendStateEvent(ctx, StateEvent{Name: "project_state_changed"}))
	events := h.Events().Since("c1", 0)
	require.Len(t, events, 1)
	assert.Equal(t, "c1", events[0].ConversationID)
}

func TestLocalClient_MissingConversation(t *testing.T) {
	h := setupTestHost(t)
	c := h.Client("assistant", "ghost")
	err := c.SendMessages(context.Background(), Message{Content: "x"})
	assert.ErrorIs(t, err, perrors.ErrNotFound)
	err = c.SendStateEvent(context.Background(), StateEvent{Name: "x"})
	assert.ErrorIs(t, err, perrors.ErrNotFound)
}

func TestEventFeed_BoundedAndSequenced(t *testing.T) {
	f := NewEventFeed(2)
	for i := 0; i < 3; i++ {
		f.Publish(StateEvent{ConversationID: "c1", Name: "e"})
	}
	f.Publish(StateEvent{ConversationID: "c2", Name: "e"})

	events := f.Since("c1", 0)
	require.Len(t, events, 2)
	assert.Equal(t, int64(2), events[0].Seq)
	assert.Equal(t, int64(3), events[1].Seq)

	assert.Len(t, f.Since("c1", 2), 1)
	assert.Len(t, f.Since("c2", 0), 1)
}

func TestClientCache_ReusesClients(t *testing.T) {
	h := setupTestHost(t)
	cache := NewClientCache(h, 2, 0)

	a := cache.Client("assistant", "c1")
	b := cache.Client("assistant", "c1")
	assert.Same(t, a, b)
	assert.Equal(t, 1, cache.Len())

	cache.Client("assistant", "c2")
	cache.Client("assistant", "c3")
	assert.Equal(t, 2, cache.Len())

	cache.Forget("assistant", "c3")
	assert.Equal(t, 1, cache.Len())
}

func TestDetectRole(t *testing.T) {
	_, ok := DetectRole(Info{})
	assert.False(t, ok)

	a, ok := DetectRole(Info{Metadata: map[string]any{
		MarkerShareRedemption: map[string]any{"project_id": "p1"},
		MarkerProjectTemplate: map[string]any{"project_id": "p1"},
	}})
	require.True(t, ok)
	assert.Equal(t, RoleTeam, a.Role)
	assert.Equal(t, "p1", a.ProjectID)

	a, ok = DetectRole(Info{Metadata: map[string]any{
		MarkerProjectTemplate: map[string]any{"project_id": "p2"},
	}})
	require.True(t, ok)
	assert.Equal(t, RoleShareableTemplate, a.Role)

	a, ok = DetectRole(Info{Metadata: map[string]any{
		MarkerProjectCoordinator: map[string]string{"project_id": "p3"},
	}})
	require.True(t, ok)
	assert.Equal(t, RoleCoordinator, a.Role)

	_, ok = DetectRole(Info{Metadata: map[string]any{MarkerShareRedemption: "p1"}})
	assert.False(t, ok)
}
