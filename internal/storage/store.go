// Package storage is the durable project store: a filesystem tree of JSON
// records keyed by project ID and entity kind.
//
//	projects/{project_id}/project.json
//	projects/{project_id}/brief.json
//	projects/{project_id}/whiteboard.json
//	projects/{project_id}/log.json
//	projects/{project_id}/coordinator_conversation.json
//	projects/{project_id}/requests/{request_id}.json
//	projects/{project_id}/linked_conversations/{conversation_id}.json
//	projects/{project_id}/files/file_metadata.json
//	projects/{project_id}/files/{filename}
//
// Every write replaces the whole file atomically. Update serializes
// read-modify-write cycles on the same file within this process; writers in
// other processes still race (last writer wins).
package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/project-assistant/internal/metrics"
)

// ProjectsDir is the subdirectory of the store root holding all projects.
const ProjectsDir = "projects"

// Kind names a singleton record of a project.
type Kind string

const (
	KindProject                 Kind = "project"
	KindBrief                   Kind = "brief"
	KindWhiteboard              Kind = "whiteboard"
	KindLog                     Kind = "log"
	KindCoordinatorConversation Kind = "coordinator_conversation"
	KindFileMetadata            Kind = "file_metadata"
)

// Collection names a multi-instance record kind stored one file per item.
type Collection string

const (
	CollectionRequests Collection = "requests"
	CollectionLinks    Collection = "linked_conversations"
)

const (
	filesDir         = "files"
	FileMetadataName = "file_metadata.json"
)

// ErrInvalidName is returned for IDs or filenames that are not a single
// safe path element.
var ErrInvalidName = errors.New("storage: invalid name")

// Store is the filesystem-backed project store.
type Store struct {
	root    string
	logger  zerolog.Logger
	metrics *metrics.Metrics
	locks   *Locker
}

// Option configures a Store.
type Option func(*Store)

// WithMetrics records writes on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// New creates a store rooted at root. Directories are created lazily.
func New(root string, logger zerolog.Logger, opts ...Option) *Store {
	s := &Store{
		root:   root,
		logger: logger.With().Str("component", "storage.store").Logger(),
		locks:  NewLocker(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Root returns the store root directory.
func (s *Store) Root() string { return s.root }

// ProjectPath returns the directory of a project.
func (s *Store) ProjectPath(projectID string) string {
	return filepath.Join(s.root, ProjectsDir, projectID)
}

func (s *Store) kindPath(projectID string, kind Kind) (string, error) {
	if !ValidName(projectID) {
		return "", fmt.Errorf("%w: project id %q", ErrInvalidName, projectID)
	}
	if kind == KindFileMetadata {
		return filepath.Join(s.ProjectPath(projectID), filesDir, FileMetadataName), nil
	}
	return filepath.Join(s.ProjectPath(projectID), string(kind)+".json"), nil
}

func (s *Store) collectionDir(projectID string, c Collection) (string, error) {
	if !ValidName(projectID) {
		return "", fmt.Errorf("%w: project id %q", ErrInvalidName, projectID)
	}
	return filepath.Join(s.ProjectPath(projectID), string(c)), nil
}

func (s *Store) itemPath(projectID string, c Collection, id string) (string, error) {
	dir, err := s.collectionDir(projectID, c)
	if err != nil {
		return "", err
	}
	if !ValidName(id) {
		return "", fmt.Errorf("%w: %s id %q", ErrInvalidName, c, id)
	}
	return filepath.Join(dir, id+".json"), nil
}

func (s *Store) blobPath(projectID, filename string) (string, error) {
	if !ValidName(projectID) {
		return "", fmt.Errorf("%w: project id %q", ErrInvalidName, projectID)
	}
	if !ValidName(filename) || filename == FileMetadataName {
		return "", fmt.Errorf("%w: filename %q", ErrInvalidName, filename)
	}
	return filepath.Join(s.ProjectPath(projectID), filesDir, filename), nil
}

// Exists reports whether the project record exists.
func (s *Store) Exists(projectID string) bool {
	path, err := s.kindPath(projectID, KindProject)
	if err != nil {
		return false
	}
	_, err = os.Stat(path)
	return err == nil
}

// --- singletons ---

// Read decodes the record of kind into v. Missing and unreadable records
// both return false with no error; the latter is logged.
func (s *Store) Read(projectID string, kind Kind, v any) (bool, error) {
	path, err := s.kindPath(projectID, kind)
	if err != nil {
		return false, err
	}
	return s.read(path, v)
}

// Write replaces the record of kind with v.
func (s *Store) Write(projectID string, kind Kind, v any) error {
	path, err := s.kindPath(projectID, kind)
	if err != nil {
		return err
	}
	unlock := s.locks.Lock(path)
	defer unlock()
	return s.write(path, string(kind), v)
}

// Update reads the record of kind into v, calls fn, and writes v back if fn
// returns nil. found tells fn whether v was loaded. The cycle holds a lock
// keyed by the record path.
func (s *Store) Update(projectID string, kind Kind, v any, fn func(found bool) error) error {
	path, err := s.kindPath(projectID, kind)
	if err != nil {
		return err
	}
	return s.update(path, string(kind), v, fn)
}

// --- collections ---

// ReadItem decodes one collection item into v.
func (s *Store) ReadItem(projectID string, c Collection, id string, v any) (bool, error) {
	path, err := s.itemPath(projectID, c, id)
	if err != nil {
		return false, err
	}
	return s.read(path, v)
}

// WriteItem replaces one collection item.
func (s *Store) WriteItem(projectID string, c Collection, id string, v any) error {
	path, err := s.itemPath(projectID, c, id)
	if err != nil {
		return err
	}
	unlock := s.locks.Lock(path)
	defer unlock()
	return s.write(path, string(c), v)
}

// UpdateItem is Update for a collection item.
func (s *Store) UpdateItem(projectID string, c Collection, id string, v any, fn func(found bool) error) error {
	path, err := s.itemPath(projectID, c, id)
	if err != nil {
		return err
	}
	return s.update(path, string(c), v, fn)
}

// DeleteItem removes one collection item. A missing item is not an error.
func (s *Store) DeleteItem(projectID string, c Collection, id string) error {
	path, err := s.itemPath(projectID, c, id)
	if err != nil {
		return err
	}
	unlock := s.locks.Lock(path)
	defer unlock()
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("deleting %s/%s: %w", c, id, err)
	}
	return nil
}

// ListItems returns the sorted IDs of a collection.
func (s *Store) ListItems(projectID string, c Collection) ([]string, error) {
	dir, err := s.collectionDir(projectID, c)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing %s: %w", c, err)
	}

	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") || strings.HasPrefix(name, ".tmp-") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}
	sort.Strings(ids)
	return ids, nil
}

// --- blobs ---

// WriteFile stores a shared file's bytes.
func (s *Store) WriteFile(projectID, filename string, data []byte) error {
	path, err := s.blobPath(projectID, filename)
	if err != nil {
		return err
	}
	unlock := s.locks.Lock(path)
	defer unlock()
	if err := WriteFileAtomic(path, data); err != nil {
		return err
	}
	s.metrics.RecordStoreWrite("file")
	return nil
}

// ReadFile returns a shared file's bytes. A missing file returns
// nil, false, nil.
func (s *Store) ReadFile(projectID, filename string) ([]byte, bool, error) {
	path, err := s.blobPath(projectID, filename)
	if err != nil {
		return nil, false, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("reading file %s: %w", filename, err)
	}
	return data, true, nil
}

// DeleteFile removes a shared file. Deleting a missing file succeeds.
func (s *Store) DeleteFile(projectID, filename string) error {
	path, err := s.blobPath(projectID, filename)
	if err != nil {
		return err
	}
	unlock := s.locks.Lock(path)
	defer unlock()
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("deleting file %s: %w", filename, err)
	}
	return nil
}

// FileExists reports whether a shared file exists.
func (s *Store) FileExists(projectID, filename string) (bool, error) {
	path, err := s.blobPath(projectID, filename)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// ListFiles returns the sorted names of shared files.
func (s *Store) ListFiles(projectID string) ([]string, error) {
	if !ValidName(projectID) {
		return nil, fmt.Errorf("%w: project id %q", ErrInvalidName, projectID)
	}
	entries, err := os.ReadDir(filepath.Join(s.ProjectPath(projectID), filesDir))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing files: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || name == FileMetadataName || strings.HasPrefix(name, ".tmp-") {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// --- internals ---

func (s *Store) read(path string, v any) (bool, error) {
	found, err := ReadJSONFile(path, v)
	if errors.Is(err, ErrCorrupt) {
		s.logger.Warn().Err(err).Str("path", path).Msg("unreadable record treated as missing")
		return false, nil
	}
	return found, err
}

func (s *Store) write(path, kind string, v any) error {
	if err := WriteJSONFile(path, v); err != nil {
		return err
	}
	s.metrics.RecordStoreWrite(kind)
	return nil
}

func (s *Store) update(path, kind string, v any, fn func(found bool) error) error {
	unlock := s.locks.Lock(path)
	defer unlock()

	found, err := s.read(path, v)
	if err != nil {
		return err
	}
	if err := fn(found); err != nil {
		return err
	}
	return s.write(path, kind, v)
}
