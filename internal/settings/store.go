package settings

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

// FileName is the settings file inside the settings directory.
const FileName = "settings.json"

var (
	// ErrNotFound is returned by Load when no settings file exists.
	ErrNotFound = errors.New("settings file not found")

	// ErrLocked is returned when another process holds the settings lock.
	ErrLocked = errors.New("settings file is locked by another process")
)

// Store persists a Document as settings.json. Writes are atomic (temp file
// and rename) and serialized across processes with a lock file.
type Store struct {
	dir         string
	path        string
	lock        *flock.Flock
	lockTimeout time.Duration
}

// NewStore returns a store rooted at dir. Nothing is touched on disk until
// Prepare or Save.
func NewStore(dir string) *Store {
	path := filepath.Join(dir, FileName)
	return &Store{
		dir:         dir,
		path:        path,
		lock:        flock.New(path + ".lock"),
		lockTimeout: 2 * time.Second,
	}
}

// Dir returns the settings directory.
func (s *Store) Dir() string { return s.dir }

// Path returns the settings file path.
func (s *Store) Path() string { return s.path }

// Prepare creates the settings directory.
func (s *Store) Prepare() error {
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("create settings directory: %w", err)
	}
	return nil
}

// Exists reports whether the settings file is present.
func (s *Store) Exists() bool {
	_, err := os.Stat(s.path)
	return err == nil
}

// Load reads and validates the persisted document.
func (s *Store) Load() (Document, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Document{}, ErrNotFound
		}
		return Document{}, fmt.Errorf("read settings: %w", err)
	}

	doc, err := Parse(data)
	if err != nil {
		return Document{}, fmt.Errorf("%s: %w", s.path, err)
	}
	return doc, nil
}

// Save writes doc atomically while holding the cross-process lock.
func (s *Store) Save(doc Document) error {
	data, err := doc.Indented()
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	data = append(data, '\n')

	if err := s.Prepare(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.lockTimeout)
	defer cancel()

	locked, err := s.lock.TryLockContext(ctx, 10*time.Millisecond)
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("lock settings: %w", err)
	}
	if !locked {
		return ErrLocked
	}
	defer s.lock.Unlock()

	return writeAtomic(s.path, data)
}

// writeAtomic writes data to a temp file in the same directory and renames
// it over path, so readers never observe a partial file.
func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+"-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	cleanup := func() {
		tmp.Close()
		os.Remove(tmpPath)
	}

	if _, err := tmp.Write(data); err != nil {
		cleanup()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		cleanup()
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename settings: %w", err)
	}
	return nil
}
