package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p-blackswan/project-assistant/internal/config"
	"github.com/p-blackswan/project-assistant/internal/conversation"
	"github.com/p-blackswan/project-assistant/internal/health"
	"github.com/p-blackswan/project-assistant/internal/project"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		DataDir:                filepath.Join(t.TempDir(), "data"),
		AssistantID:            "project-assistant",
		Template:               config.TemplateProjectTracking,
		ShareBaseURL:           "http://assistant.test",
		RemoteClientCache:      16,
		WhiteboardHistoryLimit: 30,
		MaxToolIterations:      6,
	}
}

func TestBuild_Defaults(t *testing.T) {
	cfg := testConfig(t)
	core, err := Build(cfg, zerolog.Nop())
	require.NoError(t, err)

	assert.Nil(t, core.Provider, "no completion without an API key")
	assert.Nil(t, core.Slack)
	assert.True(t, core.Template.TrackProgress)
	assert.NotEmpty(t, core.Tools.Schemas())

	results := core.Checker.RunAll(context.Background())
	assert.Equal(t, health.StatusOK, results["data_dir"])
	assert.Equal(t, health.StatusDegraded, results["completion"])
	assert.NotContains(t, results, "slack")

	_, err = os.Stat(cfg.DataDir)
	require.NoError(t, err)
}

func TestBuild_EndToEndCommand(t *testing.T) {
	core, err := Build(testConfig(t), zerolog.Nop())
	require.NoError(t, err)
	ctx := context.Background()

	_, err = core.Local.CreateConversation(ctx, conversation.Info{ID: "conv-coord"})
	require.NoError(t, err)
	msg, err := core.Local.AppendMessage(ctx, "conv-coord", conversation.Message{SenderID: "u-alice", SenderName: "Alice", Content: "/start Alpha"})
	require.NoError(t, err)
	require.NoError(t, core.NewHandler(zerolog.Nop()).OnMessage(ctx, msg))

	info, err := core.Manager.ProjectInfo(ctx, project.Caller{ConversationID: "conv-coord"})
	require.NoError(t, err)
	assert.Equal(t, "Alpha", info.Name)
	assert.Contains(t, info.ShareURL, "http://assistant.test/join/")
}

func TestBuild_Errors(t *testing.T) {
	cfg := testConfig(t)
	cfg.Template = "no_such_template"
	_, err := Build(cfg, zerolog.Nop())
	assert.Error(t, err)

	cfg = testConfig(t)
	cfg.TemplatesFile = filepath.Join(t.TempDir(), "missing.yaml")
	_, err = Build(cfg, zerolog.Nop())
	assert.Error(t, err)
}
