// Package inmem provides an in-memory implementation of session.Store.
//
// It is intended for tests and local development. Durable deployments should
// use features/session/file, features/session/mongo or features/session/redis.
package inmem

import (
	"context"
	"sync"
	"time"

	"goa.design/relay/runtime/relay/session"
)

type (
	// Store is an in-memory implementation of session.Store.
	// It is safe for concurrent use.
	Store struct {
		mu       sync.RWMutex
		sessions map[string]session.Context
		now      func() time.Time
	}

	// Option configures a Store.
	Option func(*Store)
)

// WithClock overrides the clock used to stamp UpdatedAt.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New returns an empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		sessions: make(map[string]session.Context),
		now:      time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Load implements session.Store.
func (s *Store) Load(_ context.Context, userID string) (session.Context, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	existing, ok := s.sessions[userID]
	if !ok {
		return session.Context{}, session.ErrNotFound
	}
	return existing.Clone(), nil
}

// Checkpoint implements session.Store.
func (s *Store) Checkpoint(_ context.Context, c session.Context) error {
	if err := c.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var prev *session.Context
	if existing, ok := s.sessions[c.UserID]; ok {
		prev = &existing
	}
	if next, ok := session.Advance(prev, c, s.now()); ok {
		s.sessions[c.UserID] = next
	}
	return nil
}

// Delete removes the snapshot for userID. Missing sessions are ignored.
func (s *Store) Delete(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, userID)
	return nil
}
