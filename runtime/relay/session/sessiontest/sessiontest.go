// Package sessiontest provides a conformance suite shared by session.Store
// implementations.
package sessiontest

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goa.design/relay/runtime/relay/session"
)

// Run exercises the session.Store contract against the store returned by
// newStore. newStore is called once per subtest and must return an empty store.
func Run(t *testing.T, newStore func(t *testing.T) session.Store) {
	t.Helper()

	t.Run("load missing", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Load(context.Background(), "nobody")
		require.ErrorIs(t, err, session.ErrNotFound)
	})

	t.Run("checkpoint then load", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		c := session.New("u1", "Ada")
		c.BeginTurn("What is Go?")
		c.MarkStep("Triage_Agent")
		require.NoError(t, s.Checkpoint(ctx, c))

		got, err := s.Load(ctx, "u1")
		require.NoError(t, err)
		require.True(t, session.SameContent(c, got))
		require.Equal(t, uint64(1), got.Revision)
		require.False(t, got.UpdatedAt.IsZero())
	})

	t.Run("identical checkpoint is a no-op", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		c := session.New("u1", "Ada")
		require.NoError(t, s.Checkpoint(ctx, c))
		first, err := s.Load(ctx, "u1")
		require.NoError(t, err)

		require.NoError(t, s.Checkpoint(ctx, first))
		second, err := s.Load(ctx, "u1")
		require.NoError(t, err)
		require.Equal(t, first.Revision, second.Revision)
		require.True(t, first.UpdatedAt.Equal(second.UpdatedAt))
	})

	t.Run("changed checkpoint bumps revision", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		c := session.New("u1", "Ada")
		require.NoError(t, s.Checkpoint(ctx, c))
		c.BeginTurn("hello there")
		require.NoError(t, s.Checkpoint(ctx, c))

		got, err := s.Load(ctx, "u1")
		require.NoError(t, err)
		require.Equal(t, uint64(2), got.Revision)
		require.Equal(t, "hello there", got.Query)
		require.Len(t, got.History, 1)
	})

	t.Run("missing user id", func(t *testing.T) {
		s := newStore(t)
		require.ErrorIs(t, s.Checkpoint(context.Background(), session.Context{}), session.ErrInvalid)
	})

	t.Run("create refuses existing", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, session.Create(ctx, s, session.New("u1", "Ada")))
		require.ErrorIs(t, session.Create(ctx, s, session.New("u1", "Bob")), session.ErrExists)
	})

	t.Run("concurrent sessions", func(t *testing.T) {
		s := session.Serialize(newStore(t))
		ctx := context.Background()
		var wg sync.WaitGroup
		for i := range 8 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				c := session.New(fmt.Sprintf("u%d", i), "n")
				c.BeginTurn("q")
				assert.NoError(t, s.Checkpoint(ctx, c))
			}()
		}
		wg.Wait()
		for i := range 8 {
			got, err := s.Load(ctx, fmt.Sprintf("u%d", i))
			require.NoError(t, err)
			require.Equal(t, "q", got.Query)
		}
	})
}
