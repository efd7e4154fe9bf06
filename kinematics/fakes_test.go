package kinematics

import (
	"context"
	"sync"

	"braccio/anglestate"
	"braccio/joints"
)

// brokenStore behaves like an unreachable medium: Load falls back to home and Save
// always fails.
type brokenStore struct {
	saves int
}

func (s *brokenStore) Load() (joints.Vector, error) {
	return joints.Home, anglestate.ErrStorageUnavailable
}

func (s *brokenStore) Save(joints.Vector) error {
	s.saves++
	return anglestate.ErrStorageUnavailable
}

// recordingSink captures every command and can be told to fail.
type recordingSink struct {
	mu   sync.Mutex
	sent []joints.Command
	err  error
}

func (s *recordingSink) Send(ctx context.Context, cmd joints.Command) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, cmd)
	return s.err
}

func (s *recordingSink) commands() []joints.Command {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]joints.Command(nil), s.sent...)
}

func storeWithBase(base int) *anglestate.MemoryStore {
	store := anglestate.NewMemoryStore()
	store.Save(joints.Home.With(joints.Base, base))
	return store
}
