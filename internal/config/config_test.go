// Package config tests.
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	os.Clearenv()
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, ":8080", cfg.HTTPListenAddr)
	assert.Equal(t, "./data", cfg.DataDir)
	assert.Equal(t, "project-assistant", cfg.AssistantID)
	assert.Equal(t, "project_tracking", cfg.Template)
	assert.Equal(t, 720*time.Hour, cfg.ShareTTL)
	assert.Equal(t, 2, cfg.NotifyRetries)
	assert.Equal(t, 200*time.Millisecond, cfg.NotifyRetryDelay)
	assert.Equal(t, 256, cfg.RemoteClientCache)
	assert.True(t, cfg.WhiteboardAutoUpdate)
	assert.Equal(t, 30, cfg.WhiteboardHistoryLimit)
	assert.Equal(t, 64, cfg.DispatchQueueSize)
	assert.Equal(t, 6, cfg.MaxToolIterations)
	assert.Equal(t, 20, cfg.APIRateLimitRPS)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("HTTP_LISTEN_ADDR", ":9090")
	t.Setenv("DATA_DIR", "/var/lib/assistant")
	t.Setenv("WHITEBOARD_AUTO_UPDATE", "false")
	t.Setenv("NOTIFY_RETRY_DELAY", "1s")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.HTTPListenAddr)
	assert.Equal(t, "/var/lib/assistant", cfg.DataDir)
	assert.False(t, cfg.WhiteboardAutoUpdate)
	assert.Equal(t, time.Second, cfg.NotifyRetryDelay)
}

func TestLoadWithPrefix(t *testing.T) {
	t.Setenv("PA_ASSISTANT_ID", "other")
	cfg, err := LoadWithPrefix("PA")
	require.NoError(t, err)
	assert.Equal(t, "other", cfg.AssistantID)
}

func TestLoad_InvalidDuration(t *testing.T) {
	t.Setenv("SHARE_TTL", "forever")
	_, err := Load()
	assert.Error(t, err)
}

func TestConfig_EnabledFlags(t *testing.T) {
	cfg := &Config{}
	assert.False(t, cfg.CompletionEnabled())
	assert.False(t, cfg.SlackEnabled())
	assert.False(t, cfg.ShareEnabled())

	cfg.AnthropicAPIKey = "sk-test"
	cfg.SlackBotToken = "xoxb-test"
	cfg.ShareSigningKey = "secret"
	assert.True(t, cfg.CompletionEnabled())
	assert.True(t, cfg.SlackEnabled())
	assert.True(t, cfg.ShareEnabled())
}

func TestConfig_CORSOrigins(t *testing.T) {
	cfg := &Config{APICORSOrigins: " https://a.example , ,https://b.example"}
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins())
	assert.Nil(t, (&Config{}).CORSOrigins())
}

func TestConfig_Validate(t *testing.T) {
	valid := Config{APIAuthMode: "api-key", APIKey: "k", DataDir: "d", DispatchQueueSize: 1}
	assert.NoError(t, valid.Validate())

	noKey := valid
	noKey.APIKey = ""
	assert.Error(t, noKey.Validate())

	open := noKey
	open.APIAuthMode = "none"
	assert.NoError(t, open.Validate())

	bad := valid
	bad.APIAuthMode = "basic"
	assert.Error(t, bad.Validate())

	noQueue := valid
	noQueue.DispatchQueueSize = 0
	assert.Error(t, noQueue.Validate())
}

func TestLoadTemplates_EmptyPathReturnsBuiltins(t *testing.T) {
	tpls, err := LoadTemplates("")
	require.NoError(t, err)

	pt, err := tpls.Get(TemplateProjectTracking)
	require.NoError(t, err)
	assert.True(t, pt.TrackProgress)

	ct, err := tpls.Get(TemplateContextTransfer)
	require.NoError(t, err)
	assert.False(t, ct.TrackProgress)

	_, err = tpls.Get("missing")
	assert.Error(t, err)
}

func TestLoadTemplates_FileMergesAndExpands(t *testing.T) {
	t.Setenv("TEAM_NAME", "Platform")
	path := filepath.Join(t.TempDir(), "templates.yaml")
	yml := `
templates:
  - name: project_tracking
    track_progress: true
    welcome_team: "Welcome to ${TEAM_NAME}!"
  - name: handover
    track_progress: false
    system_prompt_team: "Answer questions about the handover."
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o644))

	tpls, err := LoadTemplates(path)
	require.NoError(t, err)

	pt := tpls[TemplateProjectTracking]
	assert.Equal(t, "Welcome to Platform!", pt.WelcomeTeam)
	assert.NotEmpty(t, pt.WelcomeCoordinator, "unset fields keep the built-in text")

	h, err := tpls.Get("handover")
	require.NoError(t, err)
	assert.False(t, h.TrackProgress)
	assert.NotEmpty(t, h.WhiteboardPrompt)
}

func TestLoadTemplates_Errors(t *testing.T) {
	_, err := LoadTemplates(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)

	_, err = LoadTemplatesBytes([]byte("templates:\n  - track_progress: true\n"))
	assert.Error(t, err)

	_, err = LoadTemplatesBytes([]byte("templates: [unclosed"))
	assert.Error(t, err)
}
