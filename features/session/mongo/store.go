package mongo

import (
	"context"
	"errors"
	"time"

	clientsmongo "goa.design/relay/features/session/mongo/clients/mongo"
	"goa.design/relay/runtime/relay/session"
)

// Store implements session.Store by delegating to the Mongo client.
type Store struct {
	client clientsmongo.Client
	now    func() time.Time
}

// NewStore builds a Store using the provided client.
func NewStore(client clientsmongo.Client) (*Store, error) {
	if client == nil {
		return nil, errors.New("client is required")
	}
	return &Store{client: client, now: time.Now}, nil
}

// Name implements health.Pinger.
func (s *Store) Name() string { return s.client.Name() }

// Ping implements health.Pinger.
func (s *Store) Ping(ctx context.Context) error { return s.client.Ping(ctx) }

// Load implements session.Store.
func (s *Store) Load(ctx context.Context, userID string) (session.Context, error) {
	return s.client.LoadContext(ctx, userID)
}

// Checkpoint implements session.Store. Concurrent writers that lost the race
// receive clientsmongo.ErrConflict.
func (s *Store) Checkpoint(ctx context.Context, c session.Context) error {
	if err := c.Validate(); err != nil {
		return err
	}
	var prev *session.Context
	existing, err := s.client.LoadContext(ctx, c.UserID)
	switch {
	case err == nil:
		prev = &existing
	case !errors.Is(err, session.ErrNotFound):
		return err
	}
	// Mongo stores millisecond precision.
	next, ok := session.Advance(prev, c, s.now().Truncate(time.Millisecond))
	if !ok {
		return nil
	}
	var prevRev uint64
	if prev != nil {
		prevRev = prev.Revision
	}
	return s.client.ReplaceContext(ctx, next, prevRev)
}
