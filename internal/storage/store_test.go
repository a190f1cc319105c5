package storage

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type record struct {
	Version int    `json:"version"`
	Name    string `json:"name"`
}

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	return New(t.TempDir(), zerolog.Nop())
}

func TestStore_ReadMissing(t *testing.T) {
	s := setupTestStore(t)
	var r record
	found, err := s.Read("p1", KindBrief, &r)
	require.NoError(t, err)
	assert.False(t, found)
	assert.False(t, s.Exists("p1"))
}

func TestStore_WriteRead(t *testing.T) {
	s := setupTestStore(t)
	require.NoError(t, s.Write("p1", KindProject, record{Version: 1, Name: "alpha"}))

	var r record
	found, err := s.Read("p1", KindProject, &r)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "alpha", r.Name)
	assert.True(t, s.Exists("p1"))

	_, err = os.Stat(filepath.Join(s.Root(), "projects", "p1", "project.json"))
	assert.NoError(t, err)
}

func TestStore_FileMetadataPath(t *testing.T) {
	s := setupTestStore(t)
	require.NoError(t, s.Write("p1", KindFileMetadata, record{Name: "meta"}))
	_, err := os.Stat(filepath.Join(s.Root(), "projects", "p1", "files", "file_metadata.json"))
	assert.NoError(t, err)

	names, err := s.ListFiles("p1")
	require.NoError(t, err)
	assert.Empty(t, names, "metadata file is not a shared file")
}

func TestStore_CorruptRecordReadsAsMissing(t *testing.T) {
	s := setupTestStore(t)
	path := filepath.Join(s.Root(), "projects", "p1", "whiteboard.json")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	var r record
	found, err := s.Read("p1", KindWhiteboard, &r)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestStore_UpdateAbortLeavesRecord(t *testing.T) {
	s := setupTestStore(t)
	require.NoError(t, s.Write("p1", KindBrief, record{Version: 1, Name: "before"}))

	sentinel := errors.New("rejected")
	var r record
	err := s.Update("p1", KindBrief, &r, func(found bool) error {
		r.Name = "after"
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)

	var got record
	_, _ = s.Read("p1", KindBrief, &got)
	assert.Equal(t, "before", got.Name)
}

func TestStore_UpdateConcurrentNoLostUpdates(t *testing.T) {
	s := setupTestStore(t)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var r record
			err := s.Update("p1", KindLog, &r, func(found bool) error {
				r.Version++
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	var r record
	_, _ = s.Read("p1", KindLog, &r)
	assert.Equal(t, 20, r.Version)
}

func TestStore_Collections(t *testing.T) {
	s := setupTestStore(t)
	require.NoError(t, s.WriteItem("p1", CollectionRequests, "b", record{Name: "second"}))
	require.NoError(t, s.WriteItem("p1", CollectionRequests, "a", record{Name: "first"}))

	ids, err := s.ListItems("p1", CollectionRequests)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids)

	var r record
	found, err := s.ReadItem("p1", CollectionRequests, "a", &r)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "first", r.Name)

	require.NoError(t, s.UpdateItem("p1", CollectionRequests, "a", &r, func(found bool) error {
		r.Name = "updated"
		return nil
	}))
	_, _ = s.ReadItem("p1", CollectionRequests, "a", &r)
	assert.Equal(t, "updated", r.Name)

	require.NoError(t, s.DeleteItem("p1", CollectionRequests, "a"))
	require.NoError(t, s.DeleteItem("p1", CollectionRequests, "a"), "missing item delete is not an error")

	ids, _ = s.ListItems("p1", CollectionRequests)
	assert.Equal(t, []string{"b"}, ids)

	empty, err := s.ListItems("p1", CollectionLinks)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestStore_Blobs(t *testing.T) {
	s := setupTestStore(t)

	data, found, err := s.ReadFile("p1", "notes.md")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, data)

	require.NoError(t, s.WriteFile("p1", "notes.md", []byte("# notes")))
	exists, err := s.FileExists("p1", "notes.md")
	require.NoError(t, err)
	assert.True(t, exists)

	data, found, err = s.ReadFile("p1", "notes.md")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "# notes", string(data))

	names, err := s.ListFiles("p1")
	require.NoError(t, err)
	assert.Equal(t, []string{"notes.md"}, names)

	require.NoError(t, s.DeleteFile("p1", "notes.md"))
	require.NoError(t, s.DeleteFile("p1", "notes.md"))
	require.NoError(t, s.DeleteFile("p1", "never-existed.txt"))
}

func TestStore_RejectsUnsafeNames(t *testing.T) {
	s := setupTestStore(t)
	var r record

	_, err := s.Read("../escape", KindProject, &r)
	assert.ErrorIs(t, err, ErrInvalidName)

	err = s.WriteItem("p1", CollectionRequests, "a/b", r)
	assert.ErrorIs(t, err, ErrInvalidName)

	err = s.WriteFile("p1", "file_metadata.json", []byte("x"))
	assert.ErrorIs(t, err, ErrInvalidName)

	err = s.WriteFile("p1", "..", []byte("x"))
	assert.ErrorIs(t, err, ErrInvalidName)
}

func TestLocker_ReleasesEntries(t *testing.T) {
	l := NewLocker()
	unlock := l.Lock("k")
	unlock()
	assert.Empty(t, l.locks)
}
