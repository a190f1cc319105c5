package conversation

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p-blackswan/project-assistant/internal/storage"
)

func setupTestRegistry(t *testing.T) (*Registry, string) {
	t.Helper()
	root := t.TempDir()
	store := storage.New(root, zerolog.Nop())
	return NewRegistry(filepath.Join(root, "conversations"), store, zerolog.Nop()), root
}

func TestRegistry_Unconfigured(t *testing.T) {
	r, _ := setupTestRegistry(t)

	_, found, err := r.Association("c1")
	require.NoError(t, err)
	assert.False(t, found)

	_, ok := r.Role("c1")
	assert.False(t, ok)
	_, ok = r.ProjectID("c1")
	assert.False(t, ok)

	linked, err := r.LinkedConversations(context.Background(), "c1")
	require.NoError(t, err)
	assert.Empty(t, linked)
}

func TestRegistry_AssociateThenSetRole(t *testing.T) {
	r, root := setupTestRegistry(t)
	ctx := context.Background()

	require.NoError(t, r.Associate(ctx, "c1", "p1"))
	pid, ok := r.ProjectID("c1")
	assert.True(t, ok)
	assert.Equal(t, "p1", pid)
	_, ok = r.Role("c1")
	assert.False(t, ok, "no role until SetRole")

	require.NoError(t, r.SetRole(ctx, "c1", "p1", RoleCoordinator))
	role, ok := r.Role("c1")
	assert.True(t, ok)
	assert.Equal(t, RoleCoordinator, role)

	_, err := os.Stat(filepath.Join(root, "conversations", "c1", AssociationFile))
	assert.NoError(t, err, "side file lives in the conversation namespace")
	_, err = os.Stat(filepath.Join(root, "projects", "p1", "linked_conversations", "c1.json"))
	assert.NoError(t, err, "link index lives under the project")
}

func TestRegistry_SetRoleRejectsUnknownRole(t *testing.T) {
	r, _ := setupTestRegistry(t)
	err := r.SetRole(context.Background(), "c1", "p1", Role("owner"))
	assert.Error(t, err)
}

func TestRegistry_LinkedConversations(t *testing.T) {
	r, _ := setupTestRegistry(t)
	ctx := context.Background()

	require.NoError(t, r.SetRole(ctx, "coord", "p1", RoleCoordinator))
	require.NoError(t, r.SetRole(ctx, "tmpl", "p1", RoleShareableTemplate))
	require.NoError(t, r.SetRole(ctx, "team1", "p1", RoleTeam))
	require.NoError(t, r.SetRole(ctx, "other", "p2", RoleCoordinator))

	linked, err := r.LinkedConversations(ctx, "coord")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"tmpl", "team1"}, linked)

	links, err := r.Links("p1")
	require.NoError(t, err)
	assert.Len(t, links, 3)

	teams, err := r.ConversationsWithRole("p1", RoleTeam)
	require.NoError(t, err)
	assert.Equal(t, []string{"team1"}, teams)
}

func TestRegistry_Disassociate(t *testing.T) {
	r, _ := setupTestRegistry(t)
	ctx := context.Background()

	require.NoError(t, r.SetRole(ctx, "team1", "p1", RoleTeam))
	require.NoError(t, r.Disassociate(ctx, "team1"))

	_, ok := r.ProjectID("team1")
	assert.False(t, ok)
	links, err := r.Links("p1")
	require.NoError(t, err)
	assert.Empty(t, links)

	require.NoError(t, r.Disassociate(ctx, "never-associated"))
}

func TestRegistry_CorruptSideFileIsUnconfigured(t *testing.T) {
	r, root := setupTestRegistry(t)
	path := filepath.Join(root, "conversations", "c1", AssociationFile)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("garbage"), 0o644))

	_, found, err := r.Association("c1")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestParseRole(t *testing.T) {
	r, err := ParseRole("team")
	require.NoError(t, err)
	assert.Equal(t, RoleTeam, r)
	assert.Equal(t, "Team", r.Label())

	_, err = ParseRole("Team")
	assert.Error(t, err)
}
