package anglestate

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"

	"braccio/joints"
)

// FileStore persists the vector as a single line of separator-delimited integers.
type FileStore struct {
	path   string
	logger logging.Logger

	mu sync.Mutex
}

// NewFileStore returns a store backed by path. The file is created lazily on the
// first Load or Save.
func NewFileStore(path string, logger logging.Logger) *FileStore {
	return &FileStore{path: path, logger: logger}
}

// Path returns the backing file path.
func (s *FileStore) Path() string {
	return s.path
}

// Load reads the stored vector. A missing file is initialised with joints.Home; a
// corrupt record is logged and joints.Home returned without touching the file.
func (s *FileStore) Load() (joints.Vector, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return joints.Home, fmt.Errorf("%w: reading %s: %v", ErrStorageUnavailable, s.path, err)
		}
		if werr := s.write(joints.Home); werr != nil {
			return joints.Home, werr
		}
		s.logger.Debugf("created angle state file %s with home position", s.path)
		return joints.Home, nil
	}

	v, err := ParseRecord(string(data))
	if err != nil {
		s.logger.Warnf("ignoring angle state in %s: %v", s.path, err)
		return joints.Home, nil
	}
	return v, nil
}

// Save atomically overwrites the stored vector.
func (s *FileStore) Save(v joints.Vector) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(v)
}

// write replaces the file through a temp file and rename so readers never observe a
// short record.
func (s *FileStore) write(v joints.Vector) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: creating %s: %v", ErrStorageUnavailable, dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.WriteString(FormatRecord(v)); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("%w: writing %s: %v", ErrStorageUnavailable, tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: closing %s: %v", ErrStorageUnavailable, tmpName, err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: replacing %s: %v", ErrStorageUnavailable, s.path, err)
	}
	return nil
}
