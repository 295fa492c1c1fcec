package mongo

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	clientsmongo "goa.design/relay/features/session/mongo/clients/mongo"
	"goa.design/relay/runtime/relay/session"
	"goa.design/relay/runtime/relay/session/sessiontest"
)

// memClient is a clientsmongo.Client keeping snapshots in memory with the same
// revision check as the Mongo filter.
type memClient struct {
	mu   sync.Mutex
	docs map[string]session.Context
	err  error
}

func newMemClient() *memClient { return &memClient{docs: make(map[string]session.Context)} }

func (m *memClient) Name() string               { return "mem" }
func (m *memClient) Ping(context.Context) error { return m.err }

func (m *memClient) LoadContext(_ context.Context, userID string) (session.Context, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return session.Context{}, m.err
	}
	c, ok := m.docs[userID]
	if !ok {
		return session.Context{}, session.ErrNotFound
	}
	return c.Clone(), nil
}

func (m *memClient) ReplaceContext(_ context.Context, c session.Context, prev uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.docs[c.UserID]; ok && cur.Revision != prev {
		return clientsmongo.ErrConflict
	}
	m.docs[c.UserID] = c.Clone()
	return nil
}

func TestNewStoreRequiresClient(t *testing.T) {
	_, err := NewStore(nil)
	require.EqualError(t, err, "client is required")
}

func TestStoreConformance(t *testing.T) {
	sessiontest.Run(t, func(t *testing.T) session.Store {
		s, err := NewStore(newMemClient())
		require.NoError(t, err)
		return s
	})
}

func TestCheckpointPropagatesLoadErrors(t *testing.T) {
	cl := newMemClient()
	cl.err = errors.New("unreachable")
	s, err := NewStore(cl)
	require.NoError(t, err)
	require.EqualError(t, s.Checkpoint(context.Background(), session.New("u1", "n")), "unreachable")
	require.EqualError(t, s.Ping(context.Background()), "unreachable")
	require.Equal(t, "mem", s.Name())
}
