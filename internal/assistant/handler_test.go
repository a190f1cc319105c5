package assistant

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p-blackswan/project-assistant/internal/config"
	"github.com/p-blackswan/project-assistant/internal/conversation"
	"github.com/p-blackswan/project-assistant/internal/filesync"
	"github.com/p-blackswan/project-assistant/internal/invite"
	"github.com/p-blackswan/project-assistant/internal/llm"
	"github.com/p-blackswan/project-assistant/internal/notify"
	"github.com/p-blackswan/project-assistant/internal/project"
	"github.com/p-blackswan/project-assistant/internal/storage"
	"github.com/p-blackswan/project-assistant/internal/tools"
)

const assistantID = "project-assistant"

// scriptedProvider replays canned responses and records every request.
type scriptedProvider struct {
	mu        sync.Mutex
	responses []*llm.CompletionResponse
	requests  []llm.CompletionRequest
}

func (s *scriptedProvider) Complete(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	if len(s.responses) == 0 {
		return &llm.CompletionResponse{Text: "ok", StopReason: llm.StopReasonEndTurn}, nil
	}
	r := s.responses[0]
	s.responses = s.responses[1:]
	return r, nil
}

func (s *scriptedProvider) ModelID() string { return "scripted" }

type testEnv struct {
	handler  *Handler
	host     *conversation.LocalHost
	registry *conversation.Registry
	mgr      *project.Manager
	provider *scriptedProvider
}

func setupTestHandler(t *testing.T, withProvider bool) *testEnv {
	t.Helper()
	root := t.TempDir()
	logger := zerolog.Nop()
	store := storage.New(root, logger)
	reg := conversation.NewRegistry(filepath.Join(root, "conversations"), store, logger)
	host := conversation.NewLocalHost(filepath.Join(root, "host"), nil, logger)

	mgr := project.NewManager(project.Deps{
		Store:    store,
		Registry: reg,
		Notifier: notify.New(reg, host, assistantID, logger),
		Shares:   invite.NewProvisioner(host, reg, nil, "http://assistant.test", assistantID, logger),
		Template: config.DefaultTemplates()[config.TemplateProjectTracking],
	}, logger)
	syncer := filesync.New(store, reg, host, assistantID, logger, filesync.WithLog(mgr))
	registry := tools.NewRegistry()
	tools.RegisterProjectTools(registry, mgr, logger)

	env := &testEnv{host: host, registry: reg, mgr: mgr}
	deps := Deps{
		Host:     host,
		Roles:    reg,
		Projects: mgr,
		Files:    syncer,
		Invites:  invite.NewRedeemer(mgr, nil, logger),
		Tools:    registry,
	}
	if withProvider {
		env.provider = &scriptedProvider{}
		deps.Provider = env.provider
	}
	env.handler = NewHandler(deps, Options{AssistantID: assistantID, WhiteboardAutoUpdate: true}, logger)
	return env
}

func (e *testEnv) newConversation(t *testing.T, id string, meta map[string]any) {
	t.Helper()
	_, err := e.host.CreateConversation(context.Background(), conversation.Info{ID: id, Metadata: meta})
	require.NoError(t, err)
}

// say appends a user message and runs the handler on it.
func (e *testEnv) say(t *testing.T, cid, user, text string) {
	t.Helper()
	ctx := context.Background()
	msg, err := e.host.AppendMessage(ctx, cid, conversation.Message{SenderID: "u-" + strings.ToLower(user), SenderName: user, Content: text})
	require.NoError(t, err)
	require.NoError(t, e.handler.OnMessage(ctx, msg))
}

func (e *testEnv) lastMessage(t *testing.T, cid string) conversation.Message {
	t.Helper()
	msgs, err := e.host.GetMessages(context.Background(), cid, conversation.MessageQuery{})
	require.NoError(t, err)
	require.NotEmpty(t, msgs)
	return msgs[len(msgs)-1]
}

// startProject creates a project from conv-coord and joins conv-team.
func (e *testEnv) startProject(t *testing.T) *project.ProjectInfo {
	t.Helper()
	e.newConversation(t, "conv-coord", nil)
	e.newConversation(t, "conv-team", nil)
	e.say(t, "conv-coord", "Alice", "/start Alpha")
	info, err := e.mgr.ProjectInfo(context.Background(), project.Caller{ConversationID: "conv-coord"})
	require.NoError(t, err)
	e.say(t, "conv-team", "Bob", "/join "+info.ShareURL)
	return info
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		in   string
		want Command
		ok   bool
	}{
		{"/start Alpha launch", Command{Name: "start", Args: "Alpha launch"}, true},
		{"  /STATUS  ", Command{Name: "status"}, true},
		{"/join   http://x/join/abc ", Command{Name: "join", Args: "http://x/join/abc"}, true},
		{"hello", Command{}, false},
		{"/", Command{}, false},
		{"/ start", Command{}, false},
		{"/usr/bin/env", Command{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseCommand(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestOnMessage_UnconfiguredConversation(t *testing.T) {
	env := setupTestHandler(t, true)
	env.newConversation(t, "conv-new", nil)

	env.say(t, "conv-new", "Alice", "hi there")
	last := env.lastMessage(t, "conv-new")
	assert.True(t, last.FromAssistant)
	assert.Equal(t, conversation.MessageTypeNotice, last.Type)
	assert.Contains(t, last.Content, "/start")
	assert.Empty(t, env.provider.requests, "no completion before a project exists")

	env.say(t, "conv-new", "Alice", "/status")
	assert.Contains(t, env.lastMessage(t, "conv-new").Content, "not part of a project")
}

func TestCommands_StartJoinStatus(t *testing.T) {
	env := setupTestHandler(t, false)
	info := env.startProject(t)

	created, err := env.host.GetMessages(context.Background(), "conv-coord", conversation.MessageQuery{Types: []conversation.MessageType{conversation.MessageTypeCommandResponse}})
	require.NoError(t, err)
	require.NotEmpty(t, created)
	assert.Contains(t, created[0].Content, "Project **Alpha** created")
	assert.Contains(t, created[0].Content, "http://assistant.test/join/"+info.ProjectID)

	joined := env.lastMessage(t, "conv-team")
	assert.Equal(t, conversation.MessageTypeCommandResponse, joined.Type)
	assert.Contains(t, joined.Content, "You joined **Alpha**")

	role, ok := env.registry.Role("conv-team")
	require.True(t, ok)
	assert.Equal(t, conversation.RoleTeam, role)

	env.say(t, "conv-team", "Bob", "/status")
	assert.Contains(t, env.lastMessage(t, "conv-team").Content, "## Alpha")

	env.say(t, "conv-team", "Bob", "/requests")
	assert.Equal(t, "There are no information requests.", env.lastMessage(t, "conv-team").Content)

	env.say(t, "conv-team", "Bob", "/whiteboard")
	assert.Equal(t, "The whiteboard is empty.", env.lastMessage(t, "conv-team").Content)

	env.say(t, "conv-team", "Bob", "/frobnicate")
	assert.Contains(t, env.lastMessage(t, "conv-team").Content, "Unknown command `/frobnicate`")
}

func TestCommands_UserErrorsAreShown(t *testing.T) {
	env := setupTestHandler(t, false)
	env.startProject(t)

	env.say(t, "conv-coord", "Alice", "/ready")
	last := env.lastMessage(t, "conv-coord")
	assert.Equal(t, conversation.MessageTypeNotice, last.Type)
	assert.Contains(t, strings.ToLower(last.Content), "brief")

	env.say(t, "conv-team", "Bob", "/ready")
	assert.Contains(t, env.lastMessage(t, "conv-team").Content, "Only the Coordinator")

	env.say(t, "conv-coord", "Alice", "/start Beta")
	assert.Contains(t, env.lastMessage(t, "conv-coord").Content, "already associated")

	env.say(t, "conv-team", "Bob", "/join")
	assert.Contains(t, env.lastMessage(t, "conv-team").Content, "Usage")
}

func TestOnMessage_ResponderRunsTools(t *testing.T) {
	env := setupTestHandler(t, true)
	env.startProject(t)

	env.provider.responses = []*llm.CompletionResponse{
		{
			StopReason: llm.StopReasonToolUse,
			Text:       "Writing it down.",
			ToolUses: []llm.ToolUse{
				{ID: "tu_1", Name: "update_whiteboard", Input: json.RawMessage(`{"content":"# Plan\n- ship"}`)},
				{ID: "tu_2", Name: "create_information_request", Input: json.RawMessage(`{"title":"x","description":"y"}`)},
			},
		},
		{StopReason: llm.StopReasonEndTurn, Text: "Whiteboard updated."},
	}

	env.say(t, "conv-coord", "Alice", "Please note the plan")

	reply := env.lastMessage(t, "conv-coord")
	assert.Equal(t, "Whiteboard updated.", reply.Content)
	assert.Equal(t, conversation.MessageTypeChat, reply.Type)

	wb, err := env.mgr.Whiteboard(context.Background(), project.Caller{ConversationID: "conv-coord"})
	require.NoError(t, err)
	assert.Equal(t, "# Plan\n- ship", wb.Content)

	require.Len(t, env.provider.requests, 2)
	first := env.provider.requests[0]
	assert.Contains(t, first.SystemPrompt, "project coordinator")
	assert.Contains(t, first.SystemPrompt, "## Alpha")
	require.NotEmpty(t, first.Messages)
	assert.Equal(t, "Alice: Please note the plan", first.Messages[len(first.Messages)-1].Content)
	for _, s := range first.Tools {
		assert.NotEqual(t, "create_information_request", s.Name)
	}

	second := env.provider.requests[1].Messages
	results := second[len(second)-1].ToolResults
	require.Len(t, results, 2)
	assert.False(t, results[0].IsError)
	assert.True(t, results[1].IsError, "tools outside the role's set are refused")
	assert.Contains(t, results[1].Content, "not available")

	mirror, err := env.mgr.CoordinatorConversation(context.Background(), project.Caller{ConversationID: "conv-team"})
	require.NoError(t, err)
	require.Len(t, mirror.Messages, 2, "commands are not mirrored")
	assert.True(t, mirror.Messages[0].IsUser)
	assert.Equal(t, "Whiteboard updated.", mirror.Messages[1].Content)
	assert.False(t, mirror.Messages[1].IsUser)
}

func TestOnMessage_ToolUserErrorReachesModel(t *testing.T) {
	env := setupTestHandler(t, true)
	env.startProject(t)

	env.provider.responses = []*llm.CompletionResponse{
		{StopReason: llm.StopReasonToolUse, ToolUses: []llm.ToolUse{
			{ID: "tu_1", Name: "mark_criterion_completed", Input: json.RawMessage(`{"goal_index":3,"criterion_index":0}`)},
		}},
		{StopReason: llm.StopReasonEndTurn, Text: "There is no such goal yet."},
	}
	env.say(t, "conv-team", "Bob", "I finished goal 4")

	assert.Equal(t, "There is no such goal yet.", env.lastMessage(t, "conv-team").Content)
	msgs := env.provider.requests[1].Messages
	result := msgs[len(msgs)-1].ToolResults[0]
	assert.True(t, result.IsError)
	assert.NotEmpty(t, result.Content)
}

func TestOnMessage_ToolLoopIsBounded(t *testing.T) {
	env := setupTestHandler(t, true)
	env.startProject(t)
	env.handler.opts.MaxToolIterations = 2

	loop := &llm.CompletionResponse{StopReason: llm.StopReasonToolUse, ToolUses: []llm.ToolUse{{ID: "t", Name: "get_project_info"}}}
	env.provider.responses = []*llm.CompletionResponse{loop, loop, loop}

	ctx := context.Background()
	msg, err := env.host.AppendMessage(ctx, "conv-team", conversation.Message{SenderID: "u-bob", SenderName: "Bob", Content: "status?"})
	require.NoError(t, err)
	err = env.handler.OnMessage(ctx, msg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max tool iterations")
	assert.Len(t, env.provider.requests, 2)
}

func TestOnMessage_IgnoresOwnMessages(t *testing.T) {
	env := setupTestHandler(t, true)
	env.newConversation(t, "conv-x", nil)

	require.NoError(t, env.handler.OnMessage(context.Background(), conversation.Message{
		ConversationID: "conv-x", FromAssistant: true, Content: "hello",
	}))
	require.NoError(t, env.handler.OnMessage(context.Background(), conversation.Message{
		ConversationID: "conv-x", Type: conversation.MessageTypeNotice, Content: "notice",
	}))
	msgs, err := env.host.GetMessages(context.Background(), "conv-x", conversation.MessageQuery{})
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestOnConversationCreated_DetectsRole(t *testing.T) {
	env := setupTestHandler(t, false)
	info := env.startProject(t)
	ctx := context.Background()

	meta := map[string]any{conversation.MarkerShareRedemption: map[string]any{"project_id": info.ProjectID}}
	env.newConversation(t, "conv-redeemed", meta)
	created, err := env.host.GetConversation(ctx, "conv-redeemed")
	require.NoError(t, err)

	require.NoError(t, env.handler.OnConversationCreated(ctx, created))

	role, ok := env.registry.Role("conv-redeemed")
	require.True(t, ok)
	assert.Equal(t, conversation.RoleTeam, role)
	welcome := env.lastMessage(t, "conv-redeemed")
	assert.Equal(t, config.DefaultTemplates()[config.TemplateProjectTracking].WelcomeTeam, welcome.Content)

	env.newConversation(t, "conv-plain", nil)
	plain, err := env.host.GetConversation(ctx, "conv-plain")
	require.NoError(t, err)
	require.NoError(t, env.handler.OnConversationCreated(ctx, plain))
	assert.Contains(t, env.lastMessage(t, "conv-plain").Content, "/start")
}

func TestOnConversationCreated_UnknownProjectStaysUnconfigured(t *testing.T) {
	env := setupTestHandler(t, false)
	ctx := context.Background()
	meta := map[string]any{conversation.MarkerShareRedemption: map[string]any{"project_id": "6f1d7c2e-0000-4000-8000-000000000000"}}
	env.newConversation(t, "conv-lost", meta)
	info, err := env.host.GetConversation(ctx, "conv-lost")
	require.NoError(t, err)

	require.NoError(t, env.handler.OnConversationCreated(ctx, info))
	_, ok := env.registry.Role("conv-lost")
	assert.False(t, ok)
}

func TestFilesFollowTheCoordinator(t *testing.T) {
	env := setupTestHandler(t, false)
	ctx := context.Background()
	env.newConversation(t, "conv-coord", nil)
	env.say(t, "conv-coord", "Alice", "/start Alpha")
	info, err := env.mgr.ProjectInfo(ctx, project.Caller{ConversationID: "conv-coord"})
	require.NoError(t, err)

	coord := project.Caller{ConversationID: "conv-coord", UserID: "u-alice"}
	require.NoError(t, env.host.Client(assistantID, "conv-coord").WriteFile(ctx, "notes.md", "text/markdown", []byte("# notes")))
	require.NoError(t, env.handler.OnFileEvent(ctx, coord, filesync.FileEvent{Op: filesync.OpCreated, Filename: "notes.md"}))

	// A late joiner receives files shared before it joined.
	env.newConversation(t, "conv-team", nil)
	env.say(t, "conv-team", "Bob", "/join "+info.ProjectID)
	assert.Contains(t, env.lastMessage(t, "conv-team").Content, "1 shared file(s)")

	data, err := env.host.Client(assistantID, "conv-team").ReadFile(ctx, "notes.md")
	require.NoError(t, err)
	assert.Equal(t, "# notes", string(data))

	// Team files stay local.
	team := project.Caller{ConversationID: "conv-team", UserID: "u-bob"}
	require.NoError(t, env.host.Client(assistantID, "conv-team").WriteFile(ctx, "notes.md", "text/markdown", []byte("mine")))
	require.NoError(t, env.handler.OnFileEvent(ctx, team, filesync.FileEvent{Op: filesync.OpCreated, Filename: "notes.md"}))
	ok, err := env.host.Client(assistantID, "conv-coord").FileExists(ctx, "notes.md")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestOnParticipant_RecordsAndIgnoresAssistant(t *testing.T) {
	env := setupTestHandler(t, false)
	env.startProject(t)
	ctx := context.Background()

	require.NoError(t, env.handler.OnParticipant(ctx, "conv-team", conversation.Participant{ID: "u-carol", Name: "Carol", Role: "user"}, true))
	require.NoError(t, env.handler.OnParticipant(ctx, "conv-team", conversation.Participant{ID: assistantID, Role: "assistant"}, true))
	require.NoError(t, env.handler.OnParticipant(ctx, "conv-team", conversation.Participant{ID: "u-carol", Name: "Carol", Role: "user"}, false))

	log, err := env.mgr.Log(ctx, project.Caller{ConversationID: "conv-coord"})
	require.NoError(t, err)
	var joined, left int
	for _, e := range log.Entries {
		switch e.EntryType {
		case project.LogParticipantJoined:
			joined++
		case project.LogParticipantLeft:
			left++
		}
	}
	assert.Equal(t, 2, joined, "Bob joining the project and Carol joining the conversation")
	assert.Equal(t, 1, left)
}
