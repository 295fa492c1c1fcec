package session

import (
	"context"
	"sync"
)

type (
	// serialized wraps a Store so that writes for the same user id never run
	// concurrently. Loads are not serialized: stores guarantee atomic
	// snapshots.
	serialized struct {
		store Store

		mu    sync.Mutex
		locks map[string]*keyLock
	}

	keyLock struct {
		mu   sync.Mutex
		refs int
	}
)

// Serialize returns a Store that serializes Checkpoint calls per user id while
// letting different sessions write in parallel.
func Serialize(store Store) Store {
	if s, ok := store.(*serialized); ok {
		return s
	}
	return &serialized{store: store, locks: make(map[string]*keyLock)}
}

func (s *serialized) Load(ctx context.Context, userID string) (Context, error) {
	return s.store.Load(ctx, userID)
}

func (s *serialized) Checkpoint(ctx context.Context, c Context) error {
	unlock := s.lock(c.UserID)
	defer unlock()
	return s.store.Checkpoint(ctx, c)
}

func (s *serialized) lock(key string) func() {
	s.mu.Lock()
	l, ok := s.locks[key]
	if !ok {
		l = &keyLock{}
		s.locks[key] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, key)
		}
		s.mu.Unlock()
	}
}
