// Package redis stores session snapshots in Redis as JSON strings under
// relay:session:<user_id>.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"goa.design/relay/runtime/relay/session"
)

type (
	// Store is a Redis-backed session.Store. Checkpoints run inside a WATCH
	// transaction so concurrent writers from other processes cannot interleave.
	Store struct {
		rdb    redis.UniversalClient
		prefix string
		ttl    time.Duration
		now    func() time.Time
	}

	// Option configures a Store.
	Option func(*Store)
)

// DefaultPrefix namespaces session keys.
const DefaultPrefix = "relay:session:"

// maxTxAttempts bounds optimistic transaction retries on contention.
const maxTxAttempts = 3

// WithPrefix overrides the key prefix.
func WithPrefix(p string) Option {
	return func(s *Store) { s.prefix = p }
}

// WithTTL expires idle sessions after ttl. Zero keeps them forever.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) { s.ttl = ttl }
}

// WithClock overrides the clock used to stamp UpdatedAt.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New returns a store using rdb.
func New(rdb redis.UniversalClient, opts ...Option) (*Store, error) {
	if rdb == nil {
		return nil, errors.New("redis client is required")
	}
	s := &Store{rdb: rdb, prefix: DefaultPrefix, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Key returns the Redis key holding the snapshot of userID.
func (s *Store) Key(userID string) string {
	return s.prefix + userID
}

// Name implements health.Pinger.
func (s *Store) Name() string { return "session-redis" }

// Ping implements health.Pinger.
func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// Load implements session.Store.
func (s *Store) Load(ctx context.Context, userID string) (session.Context, error) {
	return load(ctx, s.rdb, s.Key(userID))
}

// Checkpoint implements session.Store.
func (s *Store) Checkpoint(ctx context.Context, c session.Context) error {
	if err := c.Validate(); err != nil {
		return err
	}
	key := s.Key(c.UserID)
	txf := func(tx *redis.Tx) error {
		var prev *session.Context
		existing, err := load(ctx, tx, key)
		switch {
		case err == nil:
			prev = &existing
		case !errors.Is(err, session.ErrNotFound):
			return err
		}
		next, ok := session.Advance(prev, c, s.now())
		if !ok {
			return nil
		}
		data, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("encode session %q: %w", c.UserID, err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, s.ttl)
			return nil
		})
		return err
	}
	var err error
	for range maxTxAttempts {
		err = s.rdb.Watch(ctx, txf, key)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return fmt.Errorf("checkpoint session %q: %w", c.UserID, err)
}

// Delete removes the snapshot of userID.
func (s *Store) Delete(ctx context.Context, userID string) error {
	return s.rdb.Del(ctx, s.Key(userID)).Err()
}

func load(ctx context.Context, rdb redis.Cmdable, key string) (session.Context, error) {
	data, err := rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return session.Context{}, session.ErrNotFound
	}
	if err != nil {
		return session.Context{}, fmt.Errorf("load %s: %w", key, err)
	}
	var c session.Context
	if err := json.Unmarshal(data, &c); err != nil {
		return session.Context{}, fmt.Errorf("decode %s: %w", key, err)
	}
	return c.Clone(), nil
}
