// Package file persists session snapshots as JSON documents on the local
// filesystem, one file per user named context_<user_id>.json.
//
// Writes go to a temporary file in the same directory which is synced and then
// renamed over the snapshot, so readers observe either the previous or the new
// snapshot in full.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"goa.design/relay/runtime/relay/session"
)

type (
	// Store is a filesystem-backed session.Store.
	Store struct {
		dir string
		now func() time.Time
		// mu serializes read-compare-write cycles within the process.
		mu sync.Mutex
	}

	// Option configures a Store.
	Option func(*Store)
)

var validID = regexp.MustCompile(`^[A-Za-z0-9._@-]+$`)

// WithClock overrides the clock used to stamp UpdatedAt.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New returns a store rooted at dir, creating the directory when missing.
func New(dir string, opts ...Option) (*Store, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}
	s := &Store{dir: dir, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Path returns the snapshot path of userID.
func (s *Store) Path(userID string) string {
	return filepath.Join(s.dir, "context_"+userID+".json")
}

// Load implements session.Store.
func (s *Store) Load(_ context.Context, userID string) (session.Context, error) {
	if !validID.MatchString(userID) {
		return session.Context{}, session.ErrNotFound
	}
	return s.read(userID)
}

// Checkpoint implements session.Store.
func (s *Store) Checkpoint(ctx context.Context, c session.Context) error {
	if err := c.Validate(); err != nil {
		return err
	}
	if !validID.MatchString(c.UserID) {
		return fmt.Errorf("%w: user id %q is not a valid file name", session.ErrInvalid, c.UserID)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var prev *session.Context
	existing, err := s.read(c.UserID)
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
	data, err := json.MarshalIndent(next, "", "  ")
	if err != nil {
		return fmt.Errorf("encode session %q: %w", c.UserID, err)
	}
	return s.write(s.Path(c.UserID), data)
}

// Delete removes the snapshot of userID. Missing snapshots are ignored.
func (s *Store) Delete(_ context.Context, userID string) error {
	if !validID.MatchString(userID) {
		return nil
	}
	err := os.Remove(s.Path(userID))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

func (s *Store) read(userID string) (session.Context, error) {
	data, err := os.ReadFile(s.Path(userID))
	if errors.Is(err, fs.ErrNotExist) {
		return session.Context{}, session.ErrNotFound
	}
	if err != nil {
		return session.Context{}, fmt.Errorf("read session %q: %w", userID, err)
	}
	var c session.Context
	if err := json.Unmarshal(data, &c); err != nil {
		return session.Context{}, fmt.Errorf("decode session %q: %w", userID, err)
	}
	return c.Clone(), nil
}

func (s *Store) write(path string, data []byte) (err error) {
	tmp, err := os.CreateTemp(s.dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()
	if _, err = tmp.Write(data); err != nil {
		return fmt.Errorf("write temp snapshot: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp snapshot: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close temp snapshot: %w", err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}
