// Package anglestate persists the most recently commanded joint vector so that the
// backlash correction survives process restarts.
package anglestate

import (
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"braccio/joints"
)

var (
	// ErrStorageUnavailable means the durable medium could not be created, read or
	// written. Callers fall back to joints.Home and keep going.
	ErrStorageUnavailable = errors.New("angle state storage unavailable")

	// ErrStorageCorrupt classifies a malformed record. It is logged by the stores and
	// never returned from Load.
	ErrStorageCorrupt = errors.New("angle state record corrupt")
)

// Separator delimits angles in the persisted record.
const Separator = ";"

// Store loads and saves the last commanded joint vector.
//
// Load always returns a usable vector: joints.Home when nothing valid is stored.
// A non-nil error from Load is informational (ErrStorageUnavailable) and the
// returned vector must still be used.
type Store interface {
	Load() (joints.Vector, error)
	Save(v joints.Vector) error
}

// FormatRecord renders v as "a;b;c;d;e;f;".
func FormatRecord(v joints.Vector) string {
	var sb strings.Builder
	for _, a := range v {
		sb.WriteString(strconv.Itoa(a))
		sb.WriteString(Separator)
	}
	return sb.String()
}

// ParseRecord parses a persisted record. Empty fields (including the trailing
// separator) are skipped, extra values beyond six are ignored, and anything else
// that is not an integer makes the whole record corrupt.
func ParseRecord(record string) (joints.Vector, error) {
	var v joints.Vector
	n := 0
	for _, field := range strings.Split(strings.TrimSpace(record), Separator) {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		angle, err := strconv.Atoi(field)
		if err != nil {
			return joints.Home, errors.Wrapf(ErrStorageCorrupt, "field %q", field)
		}
		if n < joints.NumAxes {
			v[n] = angle
		}
		n++
	}
	if n < joints.NumAxes {
		return joints.Home, errors.Wrapf(ErrStorageCorrupt, "expected %d angles, got %d", joints.NumAxes, n)
	}
	return v, nil
}

// MemoryStore keeps the vector in process memory only.
type MemoryStore struct {
	mu sync.Mutex
	v  joints.Vector
}

// NewMemoryStore returns a store holding joints.Home.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{v: joints.Home}
}

// Load returns the last saved vector.
func (m *MemoryStore) Load() (joints.Vector, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.v, nil
}

// Save replaces the stored vector.
func (m *MemoryStore) Save(v joints.Vector) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.v = v
	return nil
}
